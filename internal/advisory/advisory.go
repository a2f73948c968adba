// Package advisory asks an external reasoning service to veto or shape a gated signal.
package advisory

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"futures-signal-bot-go/internal/gate"
	"futures-signal-bot-go/internal/trade"
	"go.uber.org/zap"
)

const defaultAnalysis = `Decide whether the signal is worth taking now.
Require the trend on the attached candles to agree with the signal direction,
a stop beyond the nearest swing level, and a reward at least 1.5 times the risk.
Treat a heavy opposing wall in the order book as a reason to refuse.
If any condition fails, answer with DO NOT EXECUTE and a one line reason.`

// Gate runs one advisory review per gated signal. It fails closed: any error means no trade.
type Gate struct {
	builder  *ContextBuilder
	reasoner Reasoner
	analysis string
	marker   string
	logger   *zap.Logger
}

// LoadAnalysis reads the analysis instructions from path, or returns the built-in text when path is empty.
func LoadAnalysis(path string) (string, error) {
	if path == "" {
		return defaultAnalysis, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read prompt template: %w", err)
	}
	return string(b), nil
}

// NewGate wires the builder and reasoner. marker is the refusal phrase.
func NewGate(builder *ContextBuilder, reasoner Reasoner, analysis, marker string, logger *zap.Logger) *Gate {
	if analysis == "" {
		analysis = defaultAnalysis
	}
	return &Gate{
		builder:  builder,
		reasoner: reasoner,
		analysis: analysis,
		marker:   marker,
		logger:   logger.Named("advisory"),
	}
}

// Review returns the approved proposal. ErrVetoed, ErrMalformedVerdict,
// trade.ErrInvalidProposal and transport errors all mean reject.
func (g *Gate) Review(ctx context.Context, gs gate.GatedSignal) (trade.Proposal, error) {
	sig := gs.Signal
	l := g.logger.With(zap.String("signal_id", sig.ID), zap.String("symbol", sig.Asset))

	bundle, err := g.builder.Build(ctx, sig.Asset, sig.Bar())
	if err != nil {
		return trade.Proposal{}, fmt.Errorf("build context: %w", err)
	}

	reply, err := g.reasoner.Complete(ctx, g.messages(gs, bundle))
	if err != nil {
		return trade.Proposal{}, fmt.Errorf("reasoning: %w", err)
	}

	p, err := ParseVerdict(reply, g.marker)
	if err != nil {
		if errors.Is(err, ErrVetoed) {
			l.Info("Advisory veto", zap.String("reply", truncate(reply, 200)))
		} else {
			l.Warn("Unusable advisory reply", zap.Error(err), zap.String("reply", truncate(reply, 200)))
		}
		return trade.Proposal{}, err
	}

	if err := p.Validate(); err != nil {
		return trade.Proposal{}, err
	}
	if !sameAsset(p.Symbol, sig.Asset) {
		return trade.Proposal{}, fmt.Errorf("%w: symbol %s does not match signal %s", trade.ErrInvalidProposal, p.Symbol, sig.Asset)
	}
	if p.Side != sig.Side() {
		return trade.Proposal{}, fmt.Errorf("%w: side %s does not match signal %s", trade.ErrInvalidProposal, p.Side, sig.Side())
	}
	p.Symbol = sig.Asset
	p.Leverage = ReconcileLeverage(p.Leverage, gs.Leverage)

	l.Info("Advisory approved",
		zap.String("side", string(p.Side)),
		zap.Float64("entry", p.Entry),
		zap.Float64("stop_loss", p.StopLoss),
		zap.Float64("take_profit", p.TakeProfit),
		zap.Int("leverage", p.Leverage),
	)
	return p, nil
}

// ReconcileLeverage keeps a proposed leverage only when it is positive and not above the tier's.
func ReconcileLeverage(proposed, tier int) int {
	if proposed > 0 && proposed <= tier {
		return proposed
	}
	return tier
}

func sameAsset(a, b string) bool {
	return gate.CEXPair(a) == gate.CEXPair(b)
}

func (g *Gate) messages(gs gate.GatedSignal, b Bundle) []Message {
	sig := gs.Signal
	var intro strings.Builder
	fmt.Fprintf(&intro, "Analyze the attached %d-candle CSV and order book for the signal below.\n", strings.Count(b.Candles, "\n")-1)
	fmt.Fprintf(&intro, "Default answer: %s, unless every condition below holds.\n\n", g.marker)
	fmt.Fprintf(&intro, "Asset: %s\nSignal: %s\nConfidence: %.1f%% (%s)\nTimeframe: %s\n",
		sig.Asset, sig.Side(), sig.ConfidencePct(), gs.Tier, sig.Bar())
	fmt.Fprintf(&intro, "Current price: %s\nLiquidity score: %s\nVolume 1h: %s\nVolatility 1h: %s%%\n",
		formatFloat(b.LastClose), formatFloat(sig.LiquidityScore), formatFloat(sig.Volume1h), formatFloat(sig.Volatility1h))
	fmt.Fprintf(&intro, "Backtest: trades=%d winrate=%s expectancy=%s max_dd=%s\n\n",
		sig.Backtest.Trades, formatFloat(sig.Backtest.WinRate), formatFloat(sig.Backtest.Expectancy), formatFloat(sig.Backtest.MaxDrawdown))
	intro.WriteString(g.analysis)
	fmt.Fprintf(&intro, "\n\nRETURN ONLY JSON with keys: symbol, side, entry, take_profit, stop_loss, confidence: %.1f, leverage: %d\n",
		sig.ConfidencePct(), gs.Leverage)

	msgs := []Message{
		{Role: "user", Content: intro.String()},
		{Role: "user", Content: "Candles (CSV format):\n" + b.Candles},
		{Role: "user", Content: "Orderbook:\n" + b.OrderBook},
	}
	if b.Funding != "" {
		msgs = append(msgs, Message{Role: "user", Content: "Funding rate history (time, rate):\n" + b.Funding})
	}
	if b.Liquidations != "" {
		msgs = append(msgs, Message{Role: "user", Content: "Liquidation clusters near price:\n" + b.Liquidations})
	}
	return msgs
}
