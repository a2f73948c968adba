package gate

import (
	"context"
	"errors"
	"strings"

	"futures-signal-bot-go/internal/exchange"
	"futures-signal-bot-go/internal/signal"
	"go.uber.org/zap"
)

// Consensus is the cross-venue liquidity verdict.
type Consensus string

const (
	ConsensusOK        Consensus = "OK"
	ConsensusLow       Consensus = "LOW"
	ConsensusNoCEXPair Consensus = "NO_CEX_PAIR"
)

// ConsensusChecker decides whether the asset trades with enough liquidity elsewhere.
// Only ConsensusOK lets a signal through.
type ConsensusChecker interface {
	Check(ctx context.Context, sig signal.RawSignal) (Consensus, error)
}

// ConsensusFunc adapts a function to ConsensusChecker.
type ConsensusFunc func(ctx context.Context, sig signal.RawSignal) (Consensus, error)

func (f ConsensusFunc) Check(ctx context.Context, sig signal.RawSignal) (Consensus, error) {
	return f(ctx, sig)
}

// TickerConsensus checks the asset's USDT pair on the centralized venue by 24h quote volume.
type TickerConsensus struct {
	market         exchange.MarketData
	minQuoteVolume float64
	logger         *zap.Logger
}

// NewTickerConsensus returns the default consensus policy.
func NewTickerConsensus(market exchange.MarketData, minQuoteVolume float64, logger *zap.Logger) *TickerConsensus {
	return &TickerConsensus{market: market, minQuoteVolume: minQuoteVolume, logger: logger.Named("consensus")}
}

// Check implements ConsensusChecker.
func (c *TickerConsensus) Check(ctx context.Context, sig signal.RawSignal) (Consensus, error) {
	pair := CEXPair(sig.Asset)
	ticker, err := c.market.Ticker24h(ctx, pair)
	if errors.Is(err, exchange.ErrSymbolNotFound) {
		return ConsensusNoCEXPair, nil
	}
	if err != nil {
		return "", err
	}
	if ticker.QuoteVolume < c.minQuoteVolume {
		c.logger.Debug("Thin centralized market",
			zap.String("pair", pair),
			zap.Float64("quote_volume", ticker.QuoteVolume),
			zap.Float64("min", c.minQuoteVolume),
		)
		return ConsensusLow, nil
	}
	return ConsensusOK, nil
}

// CEXPair maps BTC, BTCUSDT, BTCUSDC or PERP_BTC_USDC to BTCUSDT.
func CEXPair(asset string) string {
	a := strings.ToUpper(strings.TrimSpace(asset))
	if parts := strings.Split(a, "_"); len(parts) == 3 && parts[0] == "PERP" {
		a = parts[1]
	}
	for _, quote := range []string{"USDT", "USDC"} {
		if base, ok := strings.CutSuffix(a, quote); ok && base != "" {
			a = base
			break
		}
	}
	return a + "USDT"
}
