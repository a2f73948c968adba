// Package trade holds the venue-agnostic vocabulary shared by the gating,
// sizing and execution stages.
package trade

import (
	"errors"
	"fmt"
	"strings"
)

// Side is the direction of an entry order.
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// ParseSide accepts BUY/SELL, LONG/SHORT and "1"/"-1".
func ParseSide(s string) (Side, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "BUY", "LONG", "1", "+1":
		return Buy, nil
	case "SELL", "SHORT", "-1":
		return Sell, nil
	}
	return "", fmt.Errorf("unknown side %q", s)
}

// Opposite returns the side that closes a position opened with s.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// IsLong reports whether s opens a long position.
func (s Side) IsLong() bool { return s == Buy }

// ConfidenceTier buckets a percentage confidence. Tiers are ordered weakest first.
type ConfidenceTier int

const (
	TierWeak ConfidenceTier = iota
	TierModerate
	TierStrong
	TierVeryStrong
)

// TierFor maps a 0-100 confidence to its tier.
func TierFor(confidencePct float64) ConfidenceTier {
	switch {
	case confidencePct >= 80:
		return TierVeryStrong
	case confidencePct >= 70:
		return TierStrong
	case confidencePct >= 60:
		return TierModerate
	default:
		return TierWeak
	}
}

func (t ConfidenceTier) String() string {
	switch t {
	case TierVeryStrong:
		return "very_strong"
	case TierStrong:
		return "strong"
	case TierModerate:
		return "moderate"
	default:
		return "weak"
	}
}

// LeverageTable maps each tradable tier to a leverage multiplier.
type LeverageTable map[ConfidenceTier]int

// For returns the leverage for tier, zero when the tier is not tradable.
func (lt LeverageTable) For(tier ConfidenceTier) int {
	return lt[tier]
}

// ErrInvalidProposal marks a proposal that must not reach the exchange.
var ErrInvalidProposal = errors.New("invalid trade proposal")

// Proposal is the trade the advisory step agreed to.
type Proposal struct {
	Symbol     string
	Side       Side
	Entry      float64
	StopLoss   float64
	TakeProfit float64
	Confidence float64
	Leverage   int
}

// Validate checks prices are positive and the exits sit on the correct side of entry.
func (p Proposal) Validate() error {
	if p.Symbol == "" {
		return fmt.Errorf("%w: empty symbol", ErrInvalidProposal)
	}
	if p.Side != Buy && p.Side != Sell {
		return fmt.Errorf("%w: side %q", ErrInvalidProposal, p.Side)
	}
	if p.Entry <= 0 || p.StopLoss <= 0 || p.TakeProfit <= 0 {
		return fmt.Errorf("%w: non-positive price entry=%v sl=%v tp=%v", ErrInvalidProposal, p.Entry, p.StopLoss, p.TakeProfit)
	}
	if p.Side.IsLong() {
		if p.TakeProfit <= p.Entry || p.StopLoss >= p.Entry {
			return fmt.Errorf("%w: long needs sl < entry < tp, got sl=%v entry=%v tp=%v", ErrInvalidProposal, p.StopLoss, p.Entry, p.TakeProfit)
		}
	} else {
		if p.TakeProfit >= p.Entry || p.StopLoss <= p.Entry {
			return fmt.Errorf("%w: short needs tp < entry < sl, got tp=%v entry=%v sl=%v", ErrInvalidProposal, p.TakeProfit, p.Entry, p.StopLoss)
		}
	}
	return nil
}

// Venue identifies which class of exchange a signal or order belongs to.
type Venue string

const (
	VenueCEX Venue = "CEX"
	VenueDEX Venue = "DEX"
)
