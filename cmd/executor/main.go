package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"futures-signal-bot-go/internal/advisory"
	"futures-signal-bot-go/internal/bracket"
	"futures-signal-bot-go/internal/config"
	"futures-signal-bot-go/internal/database"
	"futures-signal-bot-go/internal/dedup"
	"futures-signal-bot-go/internal/exchange"
	"futures-signal-bot-go/internal/exchange/binance"
	"futures-signal-bot-go/internal/exchange/orderly"
	"futures-signal-bot-go/internal/gate"
	"futures-signal-bot-go/internal/logger"
	"futures-signal-bot-go/internal/metrics"
	"futures-signal-bot-go/internal/notify"
	"futures-signal-bot-go/internal/pipeline"
	"futures-signal-bot-go/internal/ratelimit"
	sig "futures-signal-bot-go/internal/signal"
	"futures-signal-bot-go/internal/sizing"
	"futures-signal-bot-go/internal/trade"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	configDir := flag.String("config", "./configs", "directory containing config.yml")
	flag.Parse()

	// Load application configuration
	cfg, err := config.LoadConfig(*configDir)
	if err != nil {
		// We can't use the logger here because it's not initialized yet.
		panic(fmt.Sprintf("could not load config: %v", err))
	}

	// Initialize logger
	log, err := logger.NewLogger(cfg.Logger)
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	if err := cfg.Validate(); err != nil {
		log.Fatal("Invalid configuration", zap.Error(err))
	}
	log.Info("Configuration loaded", zap.Bool("dry_run", cfg.Trading.DryRun))

	// Initialize database
	db, err := database.NewDatabase(cfg.Database.DSN)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	store := database.NewStore(db)
	log.Info("Database connection successful and schema migrated.")

	var rdb redis.UniversalClient
	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			log.Fatal("Invalid redis url", zap.Error(err))
		}
		client := redis.NewClient(opts)
		defer func() { _ = client.Close() }()
		rdb = client
	} else {
		log.Warn("No redis configured, signal dedup disabled and symbol info cached in memory only")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	limiter := ratelimit.NewSlidingWindow(cfg.RateLimit.MaxCalls, cfg.RateLimit.Window)
	limiter.OnThrottle(m.ObserveThrottle)

	// Binance public market data feeds consensus and advisory context for every venue.
	cex := binance.NewRestClient(&cfg.Binance, binance.Options{
		Timeout:   cfg.Trading.HTTPTimeout,
		Limiter:   limiter,
		Redis:     rdb,
		KeyPrefix: cfg.Redis.KeyPrefix,
		SymbolTTL: cfg.Redis.SymbolCacheTTL,
	}, log)

	notifier := notify.New(cfg.Telegram, cfg.Trading.HTTPTimeout, log)
	source := sig.NewHTTPSource(cfg.SignalFeed.URL, cfg.SignalFeed.Timeout, log)
	dedupGate := dedup.NewRedisGate(rdb, cfg.Redis.KeyPrefix, cfg.Redis.DedupTTL, log)
	consensus := gate.NewTickerConsensus(cex, cfg.Consensus.MinQuoteVolume, log)
	reasoner := advisory.NewChatClient(cfg.Advisory.BaseURL, cfg.Advisory.APIKey, cfg.Advisory.Model, cfg.Advisory.MaxTokens, cfg.Advisory.Timeout, log)
	analysis, err := advisory.LoadAnalysis(cfg.Advisory.PromptPath)
	if err != nil {
		log.Fatal("Failed to load advisory prompt", zap.Error(err))
	}
	leverage := trade.LeverageTable{
		trade.TierVeryStrong: cfg.Risk.LeverageVeryStrong,
		trade.TierStrong:     cfg.Risk.LeverageStrong,
		trade.TierModerate:   cfg.Risk.LeverageModerate,
	}

	type venueLoop struct {
		adapter     exchange.Adapter
		derivatives exchange.DerivativesData
		limits      config.Venue
	}
	var loops []venueLoop
	if cfg.Binance.Enabled {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Trading.HTTPTimeout)
		if _, err := cex.GetServerTime(ctx); err != nil {
			cancel()
			log.Fatal("Failed to connect to Binance API", zap.Error(err))
		}
		cancel()
		log.Info("Successfully connected to Binance API.")
		loops = append(loops, venueLoop{adapter: cex, limits: cfg.Binance.Venue})
	}
	if cfg.Orderly.Enabled {
		dex, err := orderly.NewClient(&cfg.Orderly, orderly.Options{
			Timeout:   cfg.Trading.HTTPTimeout,
			Limiter:   limiter,
			Redis:     rdb,
			KeyPrefix: cfg.Redis.KeyPrefix,
			SymbolTTL: cfg.Redis.SymbolCacheTTL,
		}, log)
		if err != nil {
			log.Fatal("Failed to initialize Orderly client", zap.Error(err))
		}
		loops = append(loops, venueLoop{adapter: dex, derivatives: dex, limits: cfg.Orderly.Venue})
	}

	// Setup context for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Metrics.Addr != "" {
		srv := metrics.Serve(cfg.Metrics.Addr, reg, log)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, vl := range loops {
		venue := vl.adapter.Venue()
		vlog := log.With(zap.String("venue", string(venue)))

		qualityGate := gate.NewQualityGate(venue, gate.Thresholds{
			MinBacktestTrades: cfg.Risk.MinBacktestTrades,
			MinExpectancy:     cfg.Risk.MinExpectancy,
			MaxOpenPositions:  vl.limits.MaxOpenPositions,
			Leverage:          leverage,
		}, store, consensus, vlog)

		builder := advisory.NewContextBuilder(cex, vl.derivatives,
			cfg.Advisory.CandleLimit, cfg.Advisory.OrderBookDepth, cfg.Advisory.FundingPoints, vlog)

		engine := pipeline.NewEngine(pipeline.Settings{
			PollInterval: cfg.Trading.PollInterval,
			CycleTimeout: cfg.Trading.CycleTimeout,
			MinBalance:   vl.limits.MinBalance,
		}, pipeline.Deps{
			Source:  source,
			Dedup:   dedupGate,
			Gate:    qualityGate,
			Advisor: advisory.NewGate(builder, reasoner, analysis, cfg.Advisory.RefusalMarker, vlog),
			Adapter: vl.adapter,
			Sizer: sizing.NewRiskSizer(sizing.Params{
				RiskPerTradePct:      cfg.Risk.RiskPerTradePct,
				MarginUtilizationCap: cfg.Risk.MarginUtilizationCap,
				BumpToMinNotional:    vl.limits.BumpToMinNotional,
			}),
			Placer:   bracket.NewBuilder(vl.adapter, cfg.Trading.DryRun, vlog),
			Store:    store,
			Notifier: notifier,
			Metrics:  m,
		}, log)

		g.Go(func() error {
			engine.Run(gctx)
			return nil
		})
	}

	log.Info("Executor running", zap.Int("venues", len(loops)))
	_ = g.Wait()
	log.Info("Executor has been shut down.")
}
