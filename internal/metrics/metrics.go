// Package metrics exposes the executor's prometheus collectors.
package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const namespace = "futures_bot"

// Metrics is the set of executor collectors.
type Metrics struct {
	CyclesTotal      *prometheus.CounterVec
	SignalsTotal     *prometheus.CounterVec
	OrdersTotal      *prometheus.CounterVec
	AdvisoryDuration *prometheus.HistogramVec
	ThrottleWait     prometheus.Histogram
	OpenPositions    *prometheus.GaugeVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CyclesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Pipeline cycles by venue and outcome",
		}, []string{"venue", "outcome"}),
		SignalsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signals_total",
			Help:      "Signals seen by venue and the stage that decided them",
		}, []string{"venue", "stage"}),
		OrdersTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_total",
			Help:      "Bracket submissions by venue, side and result",
		}, []string{"venue", "side", "result"}),
		AdvisoryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "advisory_duration_seconds",
			Help:      "Advisory review latency",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 40, 60},
		}, []string{"venue", "result"}),
		ThrottleWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "exchange_throttle_wait_seconds",
			Help:      "Time exchange calls spent waiting on the shared rate limiter",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2},
		}),
		OpenPositions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "open_positions",
			Help:      "Open positions recorded per venue",
		}, []string{"venue"}),
	}
	reg.MustRegister(m.CyclesTotal, m.SignalsTotal, m.OrdersTotal, m.AdvisoryDuration, m.ThrottleWait, m.OpenPositions)
	return m
}

// ObserveThrottle records one limiter wait. It matches ratelimit.SlidingWindow.OnThrottle.
func (m *Metrics) ObserveThrottle(d time.Duration) {
	m.ThrottleWait.Observe(d.Seconds())
}

// Serve exposes /metrics for g on addr in the background.
func Serve(addr string, g prometheus.Gatherer, logger *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server failed", zap.Error(err))
		}
	}()
	logger.Info("Serving metrics", zap.String("address", addr))
	return srv
}
