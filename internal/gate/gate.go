// Package gate holds the ordered quality filters a signal must pass before any advisory or exchange call.
package gate

import (
	"context"
	"errors"
	"fmt"

	"futures-signal-bot-go/internal/signal"
	"futures-signal-bot-go/internal/trade"
	"go.uber.org/zap"
)

// Stage names a filter.
type Stage string

const (
	StageConfidence  Stage = "confidence"
	StageExpectancy  Stage = "expectancy"
	StagePositionCap Stage = "position_cap"
	StageConsensus   Stage = "consensus"
)

// ErrRejected matches every Rejection.
var ErrRejected = errors.New("signal rejected")

// Rejection reports the first filter a signal failed.
type Rejection struct {
	Stage  Stage
	Reason string
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("rejected at %s: %s", r.Stage, r.Reason)
}

func (r *Rejection) Is(target error) bool { return target == ErrRejected }

func reject(stage Stage, format string, args ...any) error {
	return &Rejection{Stage: stage, Reason: fmt.Sprintf(format, args...)}
}

// StageOf returns the stage of a rejection, or "" for any other error.
func StageOf(err error) Stage {
	var r *Rejection
	if errors.As(err, &r) {
		return r.Stage
	}
	return ""
}

// PositionCounter reports how many positions are open on a venue.
type PositionCounter interface {
	CountOpenPositions(ctx context.Context, venue trade.Venue) (int64, error)
}

// Thresholds configures the filters.
type Thresholds struct {
	MinBacktestTrades int
	MinExpectancy     float64
	// MaxOpenPositions caps concurrent positions on the venue; zero disables the cap.
	MaxOpenPositions int
	Leverage         trade.LeverageTable
}

// GatedSignal is a signal that passed every filter, with the tier and leverage it earned.
type GatedSignal struct {
	Signal   signal.RawSignal
	Tier     trade.ConfidenceTier
	Leverage int
}

// QualityGate runs confidence, expectancy, position cap and consensus in that
// order and stops at the first failure.
type QualityGate struct {
	venue      trade.Venue
	thresholds Thresholds
	positions  PositionCounter
	consensus  ConsensusChecker
	logger     *zap.Logger
}

// NewQualityGate wires the gate for one venue. positions may be nil when no cap applies.
func NewQualityGate(venue trade.Venue, thresholds Thresholds, positions PositionCounter, consensus ConsensusChecker, logger *zap.Logger) *QualityGate {
	return &QualityGate{
		venue:      venue,
		thresholds: thresholds,
		positions:  positions,
		consensus:  consensus,
		logger:     logger.Named("quality-gate"),
	}
}

// Evaluate returns the gated signal or a *Rejection naming the failed stage.
func (g *QualityGate) Evaluate(ctx context.Context, sig signal.RawSignal) (GatedSignal, error) {
	pct := sig.ConfidencePct()
	tier := trade.TierFor(pct)
	if tier == trade.TierWeak {
		return GatedSignal{}, reject(StageConfidence, "confidence %.1f%% is weak", pct)
	}
	leverage := g.thresholds.Leverage.For(tier)
	if leverage <= 0 {
		return GatedSignal{}, reject(StageConfidence, "no leverage configured for tier %s", tier)
	}

	bt := sig.Backtest
	if bt.Trades < g.thresholds.MinBacktestTrades {
		return GatedSignal{}, reject(StageExpectancy, "backtest has %d trades, need %d", bt.Trades, g.thresholds.MinBacktestTrades)
	}
	if !(bt.Expectancy > g.thresholds.MinExpectancy) {
		return GatedSignal{}, reject(StageExpectancy, "expectancy %v not above %v", bt.Expectancy, g.thresholds.MinExpectancy)
	}

	if g.thresholds.MaxOpenPositions > 0 && g.positions != nil {
		open, err := g.positions.CountOpenPositions(ctx, g.venue)
		if err != nil {
			return GatedSignal{}, reject(StagePositionCap, "count open positions: %v", err)
		}
		if open >= int64(g.thresholds.MaxOpenPositions) {
			return GatedSignal{}, reject(StagePositionCap, "%d open positions, max %d", open, g.thresholds.MaxOpenPositions)
		}
	}

	result, err := g.consensus.Check(ctx, sig)
	if err != nil {
		return GatedSignal{}, reject(StageConsensus, "consensus check failed: %v", err)
	}
	if result != ConsensusOK {
		return GatedSignal{}, reject(StageConsensus, "consensus %s", result)
	}

	g.logger.Debug("Signal passed quality gate",
		zap.String("signal_id", sig.ID),
		zap.String("tier", tier.String()),
		zap.Int("leverage", leverage),
	)
	return GatedSignal{Signal: sig, Tier: tier, Leverage: leverage}, nil
}
