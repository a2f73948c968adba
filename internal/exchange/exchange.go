// Package exchange defines the capability surface the pipeline needs from a derivatives venue.
package exchange

import (
	"context"
	"errors"
	"fmt"
	"time"

	"futures-signal-bot-go/internal/trade"
)

var (
	// ErrTriggerPriceMoved means the venue rejected a trigger because the market moved past it.
	ErrTriggerPriceMoved = errors.New("trigger price no longer valid")
	// ErrPositionExists means the venue already holds a position in the symbol.
	ErrPositionExists = errors.New("position already exists")
	// ErrSymbolNotFound means the venue does not list the symbol.
	ErrSymbolNotFound = errors.New("symbol not found")
)

// SymbolInfo holds the per-symbol order constraints a venue enforces.
type SymbolInfo struct {
	Symbol      string  `json:"symbol"`
	TickSize    float64 `json:"tick_size"`
	StepSize    float64 `json:"step_size"`
	MinQty      float64 `json:"min_qty"`
	MaxQty      float64 `json:"max_qty"`
	MinNotional float64 `json:"min_notional"`
	BaseIMR     float64 `json:"base_imr,omitempty"`
	BaseMMR     float64 `json:"base_mmr,omitempty"`
}

// BracketRequest is a sized entry with its two reduce-only exits.
// Placed carries legs a previous attempt already got accepted, so they are not sent again.
type BracketRequest struct {
	Symbol     string
	Side       trade.Side
	Quantity   float64
	TakeProfit float64
	StopLoss   float64
	Leverage   int
	Placed     BracketOrder
}

// BracketOrder is what the venue accepted.
type BracketOrder struct {
	Venue        trade.Venue
	Symbol       string
	EntryOrderID string
	TakeProfitID string
	StopLossID   string
	Quantity     float64
	TakeProfit   float64
	StopLoss     float64
	LivePrice    float64
}

// Complete reports whether all three legs were accepted.
func (b BracketOrder) Complete() bool {
	return b.EntryOrderID != "" && b.TakeProfitID != "" && b.StopLossID != ""
}

// SubmitError wraps a failed bracket submission together with any legs that were accepted before it.
type SubmitError struct {
	Placed BracketOrder
	Err    error
}

func (e *SubmitError) Error() string {
	return fmt.Sprintf("bracket submission failed (entry=%q tp=%q sl=%q): %v",
		e.Placed.EntryOrderID, e.Placed.TakeProfitID, e.Placed.StopLossID, e.Err)
}

func (e *SubmitError) Unwrap() error { return e.Err }

// Adapter is one venue.
type Adapter interface {
	Venue() trade.Venue
	GetSymbolInfo(ctx context.Context, symbol string) (SymbolInfo, error)
	GetBalance(ctx context.Context) (float64, error)
	GetLivePrice(ctx context.Context, symbol string) (float64, error)
	SubmitBracketOrder(ctx context.Context, req BracketRequest) (BracketOrder, error)
}

// Candle is one OHLCV bar.
type Candle struct {
	OpenTime time.Time
	Open     float64
	High     float64
	Low      float64
	Close    float64
	Volume   float64
}

// BookLevel is one price level of an order book side.
type BookLevel struct {
	Price    float64
	Quantity float64
}

// OrderBook is a depth snapshot, best levels first.
type OrderBook struct {
	Bids []BookLevel
	Asks []BookLevel
}

// Ticker24h is the rolling 24 hour statistics of a symbol.
type Ticker24h struct {
	Symbol      string
	LastPrice   float64
	Volume      float64
	QuoteVolume float64
}

// MarketData is the public market feed the advisory context and the consensus policy read.
type MarketData interface {
	Klines(ctx context.Context, symbol, interval string, limit int) ([]Candle, error)
	OrderBook(ctx context.Context, symbol string, depth int) (OrderBook, error)
	Ticker24h(ctx context.Context, symbol string) (Ticker24h, error)
}

// FundingRate is one settled funding interval.
type FundingRate struct {
	Time time.Time
	Rate float64
}

// Liquidation is one forced close reported by a venue.
type Liquidation struct {
	Time     time.Time
	Price    float64
	Quantity float64
}

// DerivativesData is the perpetuals-only context some venues expose.
type DerivativesData interface {
	FundingRates(ctx context.Context, symbol string, limit int) ([]FundingRate, error)
	Liquidations(ctx context.Context, symbol string) ([]Liquidation, error)
}
