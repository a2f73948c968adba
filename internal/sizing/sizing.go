// Package sizing turns a validated proposal into an exchange-legal quantity.
package sizing

import (
	"errors"
	"fmt"
	"math"

	"futures-signal-bot-go/internal/exchange"
	"futures-signal-bot-go/internal/trade"
)

// ErrInfeasible means no quantity satisfies the venue constraints. It is an expected outcome on small balances.
var ErrInfeasible = errors.New("sizing infeasible")

const minRiskPerUnit = 1e-10

// Params holds the account-level inputs.
type Params struct {
	RiskPerTradePct      float64
	MarginUtilizationCap float64
	// BumpToMinNotional raises a below-minimum quantity to the venue minimum instead of rejecting.
	BumpToMinNotional bool
}

// Result is the outcome of one sizing attempt. Quantity is zero when Reason is set.
type Result struct {
	Quantity    float64
	Notional    float64
	MaxNotional float64
	Reason      string
}

// Rejected reports whether no order may be sent.
func (r Result) Rejected() bool { return r.Quantity <= 0 }

// SizedOrder is a proposal with a quantity the venue will accept.
type SizedOrder struct {
	Proposal trade.Proposal
	Symbol   exchange.SymbolInfo
	Leverage int
	Result
}

// RiskSizer sizes by stop distance and caps by margin use.
type RiskSizer struct {
	params Params
}

// NewRiskSizer returns a sizer for params.
func NewRiskSizer(params Params) *RiskSizer {
	return &RiskSizer{params: params}
}

// Size returns the quantity to trade, or a Result with Reason set and ErrInfeasible.
func (s *RiskSizer) Size(p trade.Proposal, balance float64, leverage int, info exchange.SymbolInfo) (Result, error) {
	reject := func(format string, args ...any) (Result, error) {
		reason := fmt.Sprintf(format, args...)
		return Result{Reason: reason}, fmt.Errorf("%w: %s", ErrInfeasible, reason)
	}

	if p.Entry <= 0 {
		return reject("entry %v is not positive", p.Entry)
	}
	if balance <= 0 {
		return reject("balance %v is not positive", balance)
	}
	if leverage <= 0 {
		return reject("leverage %d is not positive", leverage)
	}
	perUnit := math.Abs(p.Entry - p.StopLoss)
	if perUnit < minRiskPerUnit {
		return reject("stop distance is zero")
	}

	riskAmount := balance * s.params.RiskPerTradePct / 100
	byRisk := riskAmount / perUnit
	maxNotional := balance * float64(leverage) * s.params.MarginUtilizationCap
	byMargin := maxNotional / p.Entry

	qty := trade.FloorToStep(math.Min(byRisk, byMargin), info.StepSize)
	if info.MaxQty > 0 && qty > info.MaxQty {
		qty = trade.FloorToStep(info.MaxQty, info.StepSize)
	}

	if s.params.BumpToMinNotional && (qty < info.MinQty || trade.Mul(qty, p.Entry) < info.MinNotional) {
		bumped, ok := bump(p.Entry, info)
		if !ok {
			return reject("no step multiple reaches min notional %v at %v", info.MinNotional, p.Entry)
		}
		if trade.Mul(bumped, p.Entry) > maxNotional {
			return reject("min notional %v exceeds margin cap %v", info.MinNotional, maxNotional)
		}
		qty = bumped
	}

	if qty <= 0 {
		return reject("quantity rounds to zero (risk %v, margin %v, step %v)", byRisk, byMargin, info.StepSize)
	}
	if qty < info.MinQty {
		return reject("quantity %v below min %v", qty, info.MinQty)
	}
	notional := trade.Mul(qty, p.Entry)
	if notional < info.MinNotional {
		return reject("notional %v below min %v", notional, info.MinNotional)
	}

	return Result{Quantity: qty, Notional: notional, MaxNotional: maxNotional}, nil
}

// bump re-derives the quantity from the venue minimums, trying round-down before round-up.
func bump(entry float64, info exchange.SymbolInfo) (float64, bool) {
	need := math.Max(info.MinNotional/entry, info.MinQty)
	for _, qty := range []float64{trade.FloorToStep(need, info.StepSize), trade.CeilToStep(need, info.StepSize)} {
		if qty <= 0 || qty < info.MinQty {
			continue
		}
		if info.MaxQty > 0 && qty > info.MaxQty {
			continue
		}
		if trade.Mul(qty, entry) >= info.MinNotional {
			return qty, true
		}
	}
	return 0, false
}
