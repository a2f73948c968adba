// Package pipeline runs the per-venue signal-to-bracket loop.
package pipeline

import (
	"context"
	"errors"
	"time"

	"futures-signal-bot-go/internal/advisory"
	"futures-signal-bot-go/internal/bracket"
	"futures-signal-bot-go/internal/dedup"
	"futures-signal-bot-go/internal/exchange"
	"futures-signal-bot-go/internal/gate"
	"futures-signal-bot-go/internal/metrics"
	"futures-signal-bot-go/internal/models"
	"futures-signal-bot-go/internal/notify"
	"futures-signal-bot-go/internal/signal"
	"futures-signal-bot-go/internal/sizing"
	"futures-signal-bot-go/internal/trade"
	"go.uber.org/zap"
)

// Outcome is how a cycle ended.
type Outcome string

const (
	OutcomePaused         Outcome = "paused"
	OutcomeNoSignal       Outcome = "no_signal"
	OutcomeExpired        Outcome = "expired"
	OutcomeDuplicate      Outcome = "duplicate"
	OutcomeGated          Outcome = "gated"
	OutcomeVetoed         Outcome = "vetoed"
	OutcomeLowBalance     Outcome = "low_balance"
	OutcomeSizingRejected Outcome = "sizing_rejected"
	OutcomeOrderRejected  Outcome = "order_rejected"
	OutcomeExecuted       Outcome = "executed"
	OutcomeError          Outcome = "error"
)

// Evaluator applies the quality filters.
type Evaluator interface {
	Evaluate(ctx context.Context, sig signal.RawSignal) (gate.GatedSignal, error)
}

// Advisor reviews a gated signal and returns the proposal to trade.
type Advisor interface {
	Review(ctx context.Context, gs gate.GatedSignal) (trade.Proposal, error)
}

// Placer submits a sized bracket.
type Placer interface {
	Place(ctx context.Context, order sizing.SizedOrder) (bracket.Placement, error)
}

// PositionStore persists positions and holds the run/pause flag.
type PositionStore interface {
	gate.PositionCounter
	RecordPosition(ctx context.Context, p *models.Position) error
	IsRunning(ctx context.Context) (bool, error)
}

// Settings are the per-venue loop knobs.
type Settings struct {
	PollInterval time.Duration
	CycleTimeout time.Duration
	MinBalance   float64
}

// Deps are the stages one engine drives.
type Deps struct {
	Source   signal.Source
	Dedup    dedup.Gate
	Gate     Evaluator
	Advisor  Advisor
	Adapter  exchange.Adapter
	Sizer    *sizing.RiskSizer
	Placer   Placer
	Store    PositionStore
	Notifier notify.Notifier
	Metrics  *metrics.Metrics
}

// Engine is one venue's polling loop.
type Engine struct {
	venue    trade.Venue
	settings Settings
	deps     Deps
	logger   *zap.Logger
	now      func() time.Time
}

// NewEngine creates an engine for the adapter's venue.
func NewEngine(settings Settings, deps Deps, logger *zap.Logger) *Engine {
	if deps.Notifier == nil {
		deps.Notifier = notify.Nop{}
	}
	venue := deps.Adapter.Venue()
	return &Engine{
		venue:    venue,
		settings: settings,
		deps:     deps,
		logger:   logger.Named("engine").With(zap.String("venue", string(venue))),
		now:      time.Now,
	}
}

// Run executes a cycle immediately and then once per poll interval until ctx is done.
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(e.settings.PollInterval)
	defer ticker.Stop()

	e.logger.Info("Starting pipeline loop", zap.Duration("interval", e.settings.PollInterval))
	e.RunCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("Stopping pipeline loop")
			return
		case <-ticker.C:
			e.RunCycle(ctx)
		}
	}
}

// RunCycle processes at most one signal. Every failure is logged and counted;
// none escapes. A cycle already under way is not cut short by ctx being
// cancelled, only by the cycle timeout.
func (e *Engine) RunCycle(ctx context.Context) Outcome {
	cycleCtx := context.WithoutCancel(ctx)
	if e.settings.CycleTimeout > 0 {
		var cancel context.CancelFunc
		cycleCtx, cancel = context.WithTimeout(cycleCtx, e.settings.CycleTimeout)
		defer cancel()
	}

	outcome := e.cycle(cycleCtx)
	if e.deps.Metrics != nil {
		e.deps.Metrics.CyclesTotal.WithLabelValues(string(e.venue), string(outcome)).Inc()
	}
	e.logger.Debug("Cycle complete", zap.String("outcome", string(outcome)))
	return outcome
}

func (e *Engine) cycle(ctx context.Context) Outcome {
	running, err := e.deps.Store.IsRunning(ctx)
	if err != nil {
		e.logger.Error("Could not read run flag, skipping cycle", zap.Error(err))
		return OutcomeError
	}
	if !running {
		e.logger.Debug("Bot paused")
		return OutcomePaused
	}

	sig, err := e.deps.Source.FetchActive(ctx, e.venue)
	if err != nil {
		e.logger.Warn("Signal fetch failed", zap.Error(err))
		return OutcomeError
	}
	if sig == nil {
		return OutcomeNoSignal
	}

	l := e.logger.With(zap.String("signal_id", sig.ID), zap.String("asset", sig.Asset))
	l.Info("Signal received",
		zap.String("side", string(sig.Side())),
		zap.Float64("confidence", sig.ConfidencePct()),
		zap.String("interval", sig.Bar()),
	)

	if sig.Expired(e.now()) {
		l.Info("Signal expired", zap.Time("expires_at", sig.ExpiresAt.Time))
		e.countSignal("expired")
		return OutcomeExpired
	}
	if e.deps.Dedup.IsDuplicate(ctx, sig.ID) {
		l.Info("Duplicate signal, skipping")
		e.countSignal("duplicate")
		return OutcomeDuplicate
	}

	gated, err := e.deps.Gate.Evaluate(ctx, *sig)
	if err != nil {
		stage := "error"
		if s := gate.StageOf(err); s != "" {
			stage = string(s)
		}
		l.Info("Signal rejected by quality gate", zap.String("stage", stage), zap.Error(err))
		e.countSignal(stage)
		return OutcomeGated
	}

	proposal, outcome := e.review(ctx, gated, l)
	if outcome != "" {
		return outcome
	}
	e.countSignal("approved")

	balance, err := e.deps.Adapter.GetBalance(ctx)
	if err != nil {
		l.Error("Balance lookup failed", zap.Error(err))
		return OutcomeError
	}
	if balance < e.settings.MinBalance {
		l.Warn("Balance below minimum, skipping",
			zap.Float64("balance", balance),
			zap.Float64("min_balance", e.settings.MinBalance),
		)
		return OutcomeLowBalance
	}

	info, err := e.deps.Adapter.GetSymbolInfo(ctx, proposal.Symbol)
	if err != nil {
		l.Error("Symbol info lookup failed", zap.Error(err))
		return OutcomeError
	}

	result, err := e.deps.Sizer.Size(proposal, balance, proposal.Leverage, info)
	if err != nil {
		l.Info("Sizing rejected order", zap.String("reason", result.Reason), zap.Float64("balance", balance))
		return OutcomeSizingRejected
	}
	order := sizing.SizedOrder{Proposal: proposal, Symbol: info, Leverage: proposal.Leverage, Result: result}
	l.Info("Order sized",
		zap.Float64("quantity", result.Quantity),
		zap.Float64("notional", result.Notional),
		zap.Float64("max_notional", result.MaxNotional),
		zap.Int("leverage", proposal.Leverage),
	)

	return e.execute(ctx, sig.ID, order, l)
}

func (e *Engine) review(ctx context.Context, gated gate.GatedSignal, l *zap.Logger) (trade.Proposal, Outcome) {
	start := e.now()
	proposal, err := e.deps.Advisor.Review(ctx, gated)

	result := "approved"
	outcome := Outcome("")
	switch {
	case err == nil:
	case errors.Is(err, advisory.ErrVetoed), errors.Is(err, advisory.ErrMalformedVerdict), errors.Is(err, trade.ErrInvalidProposal):
		result, outcome = "vetoed", OutcomeVetoed
		l.Info("Advisory rejected signal", zap.Error(err))
		e.countSignal("advisory")
	default:
		result, outcome = "error", OutcomeError
		l.Warn("Advisory review failed, treating as veto", zap.Error(err))
		e.countSignal("advisory")
	}
	if e.deps.Metrics != nil {
		e.deps.Metrics.AdvisoryDuration.WithLabelValues(string(e.venue), result).Observe(e.now().Sub(start).Seconds())
	}
	return proposal, outcome
}

func (e *Engine) execute(ctx context.Context, signalID string, order sizing.SizedOrder, l *zap.Logger) Outcome {
	placement, err := e.deps.Placer.Place(ctx, order)
	if err != nil {
		l.Error("Bracket rejected", zap.Error(err), zap.Int("attempts", placement.Attempts))
		e.countOrder(order.Proposal.Side, "rejected")
		if placement.Order.EntryOrderID != "" {
			l.Error("Entry filled without full protection, recording position",
				zap.String("entry_id", placement.Order.EntryOrderID),
				zap.String("tp_id", placement.Order.TakeProfitID),
				zap.String("sl_id", placement.Order.StopLossID),
			)
			e.record(ctx, signalID, order, placement, models.StatusUnprotected, l)
		}
		e.notify(ctx, notify.OrderRejected(e.venue, order, err), l)
		return OutcomeOrderRejected
	}

	e.countOrder(order.Proposal.Side, "accepted")
	e.record(ctx, signalID, order, placement, models.StatusOpen, l)
	e.notify(ctx, notify.OrderOpened(e.venue, order, placement.Order, placement.DryRun), l)
	return OutcomeExecuted
}

func (e *Engine) record(ctx context.Context, signalID string, order sizing.SizedOrder, placement bracket.Placement, status string, l *zap.Logger) {
	placed := placement.Order
	qty := placed.Quantity
	if qty == 0 {
		qty = order.Quantity
	}
	tp, sl := placed.TakeProfit, placed.StopLoss
	if tp == 0 {
		tp = order.Proposal.TakeProfit
	}
	if sl == 0 {
		sl = order.Proposal.StopLoss
	}

	pos := &models.Position{
		SignalID:          signalID,
		Venue:             string(e.venue),
		Symbol:            order.Proposal.Symbol,
		Side:              string(order.Proposal.Side),
		EntryPrice:        order.Proposal.Entry,
		LivePrice:         placed.LivePrice,
		StopLoss:          sl,
		TakeProfit:        tp,
		Quantity:          qty,
		Notional:          order.Notional,
		Leverage:          order.Leverage,
		EntryOrderID:      placed.EntryOrderID,
		TakeProfitOrderID: placed.TakeProfitID,
		StopLossOrderID:   placed.StopLossID,
		Status:            status,
		IsSimulation:      placement.DryRun,
	}
	if err := e.deps.Store.RecordPosition(ctx, pos); err != nil {
		l.Error("Failed to save position", zap.Error(err))
		return
	}
	l.Info("Position saved", zap.String("position_id", pos.PositionID), zap.String("status", status))

	if e.deps.Metrics != nil {
		if n, err := e.deps.Store.CountOpenPositions(ctx, e.venue); err == nil {
			e.deps.Metrics.OpenPositions.WithLabelValues(string(e.venue)).Set(float64(n))
		}
	}
}

func (e *Engine) notify(ctx context.Context, text string, l *zap.Logger) {
	if err := e.deps.Notifier.Notify(ctx, text); err != nil {
		l.Warn("Notification failed", zap.Error(err))
	}
}

func (e *Engine) countSignal(stage string) {
	if e.deps.Metrics != nil {
		e.deps.Metrics.SignalsTotal.WithLabelValues(string(e.venue), stage).Inc()
	}
}

func (e *Engine) countOrder(side trade.Side, result string) {
	if e.deps.Metrics != nil {
		e.deps.Metrics.OrdersTotal.WithLabelValues(string(e.venue), string(side), result).Inc()
	}
}
