package advisory

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"futures-signal-bot-go/internal/exchange"
	"go.uber.org/zap"
)

// Bundle is the market context sent alongside a signal.
type Bundle struct {
	LastClose    float64
	Candles      string
	OrderBook    string
	Funding      string
	Liquidations string
}

// ContextBuilder gathers candles and book depth for every venue, and funding
// and liquidation context where the venue exposes them.
type ContextBuilder struct {
	market        exchange.MarketData
	derivatives   exchange.DerivativesData
	candleLimit   int
	bookDepth     int
	fundingPoints int
	logger        *zap.Logger
}

// NewContextBuilder returns a builder. derivatives may be nil.
func NewContextBuilder(market exchange.MarketData, derivatives exchange.DerivativesData, candleLimit, bookDepth, fundingPoints int, logger *zap.Logger) *ContextBuilder {
	return &ContextBuilder{
		market:        market,
		derivatives:   derivatives,
		candleLimit:   candleLimit,
		bookDepth:     bookDepth,
		fundingPoints: fundingPoints,
		logger:        logger.Named("context"),
	}
}

// Build fetches the bundle for symbol on interval. Candles and book are
// required; the derivatives blocks are left empty when unavailable.
func (b *ContextBuilder) Build(ctx context.Context, symbol, interval string) (Bundle, error) {
	candles, err := b.market.Klines(ctx, symbol, interval, b.candleLimit)
	if err != nil {
		return Bundle{}, fmt.Errorf("candles: %w", err)
	}
	if len(candles) == 0 {
		return Bundle{}, fmt.Errorf("candles: none for %s %s", symbol, interval)
	}
	book, err := b.market.OrderBook(ctx, symbol, b.bookDepth)
	if err != nil {
		return Bundle{}, fmt.Errorf("order book: %w", err)
	}

	out := Bundle{
		LastClose: candles[len(candles)-1].Close,
		OrderBook: OrderBookText(book, b.bookDepth),
	}
	if out.Candles, err = CandlesCSV(candles); err != nil {
		return Bundle{}, fmt.Errorf("candles: %w", err)
	}

	if b.derivatives == nil {
		return out, nil
	}
	if rates, err := b.derivatives.FundingRates(ctx, symbol, b.fundingPoints); err != nil {
		b.logger.Warn("Funding history unavailable", zap.String("symbol", symbol), zap.Error(err))
	} else if len(rates) > 0 {
		out.Funding = FundingText(rates)
	}
	if liqs, err := b.derivatives.Liquidations(ctx, symbol); err != nil {
		b.logger.Warn("Liquidations unavailable", zap.String("symbol", symbol), zap.Error(err))
	} else {
		out.Liquidations = LiquidationText(liqs, out.LastClose)
	}
	return out, nil
}

// CandlesCSV renders candles with a header row, oldest first.
func CandlesCSV(candles []exchange.Candle) (string, error) {
	var buf bytes.Buffer
	if err := writeCandles(&buf, candles); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func writeCandles(dst io.Writer, candles []exchange.Candle) error {
	w := csv.NewWriter(dst)
	if err := w.Write([]string{"open_time", "open", "high", "low", "close", "volume"}); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, c := range candles {
		if err := w.Write([]string{
			c.OpenTime.UTC().Format(time.RFC3339),
			formatFloat(c.Open),
			formatFloat(c.High),
			formatFloat(c.Low),
			formatFloat(c.Close),
			formatFloat(c.Volume),
		}); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}

// OrderBookText renders the top depth levels of each side as "price,quantity" lines.
func OrderBookText(book exchange.OrderBook, depth int) string {
	var sb strings.Builder
	side := func(title string, levels []exchange.BookLevel) {
		sb.WriteString(title)
		sb.WriteString(" (price, quantity):\n")
		for i, l := range levels {
			if depth > 0 && i >= depth {
				break
			}
			sb.WriteString(formatFloat(l.Price))
			sb.WriteByte(',')
			sb.WriteString(formatFloat(l.Quantity))
			sb.WriteByte('\n')
		}
	}
	side("Top Bids", book.Bids)
	sb.WriteByte('\n')
	side("Top Asks", book.Asks)
	return sb.String()
}

// FundingText lists funding rates oldest first with their mean and direction of travel.
func FundingText(rates []exchange.FundingRate) string {
	ordered := make([]exchange.FundingRate, len(rates))
	copy(ordered, rates)
	if len(ordered) > 1 && ordered[0].Time.After(ordered[len(ordered)-1].Time) {
		for i, j := 0, len(ordered)-1; i < j; i, j = i+1, j-1 {
			ordered[i], ordered[j] = ordered[j], ordered[i]
		}
	}

	var sb strings.Builder
	var sum float64
	for _, r := range ordered {
		sum += r.Rate
		fmt.Fprintf(&sb, "%s,%s\n", r.Time.UTC().Format(time.RFC3339), formatFloat(r.Rate))
	}
	trend := "flat"
	if delta := ordered[len(ordered)-1].Rate - ordered[0].Rate; delta > 0 {
		trend = "rising"
	} else if delta < 0 {
		trend = "falling"
	}
	fmt.Fprintf(&sb, "mean=%s trend=%s\n", formatFloat(sum/float64(len(ordered))), trend)
	return sb.String()
}

// liquidationBands are the distances from the last close that clusters are counted within.
var liquidationBands = []float64{0.01, 0.02, 0.05}

// LiquidationText counts liquidations below and above last within each band.
func LiquidationText(liqs []exchange.Liquidation, last float64) string {
	if last <= 0 {
		return ""
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "liquidations=%d last=%s\n", len(liqs), formatFloat(last))
	for _, band := range liquidationBands {
		var below, above int
		for _, l := range liqs {
			dist := (l.Price - last) / last
			if math.Abs(dist) > band {
				continue
			}
			if dist < 0 {
				below++
			} else {
				above++
			}
		}
		fmt.Fprintf(&sb, "within %.0f%%: below=%d above=%d\n", band*100, below, above)
	}
	return sb.String()
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
