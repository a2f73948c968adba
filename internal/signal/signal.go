// Package signal fetches and validates the algorithmic signals the pipeline acts on.
package signal

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"futures-signal-bot-go/internal/trade"
)

// ErrInvalidSignal marks a signal payload that cannot be acted on.
var ErrInvalidSignal = errors.New("invalid signal")

// Direction decodes either a numeric (1/-1) or textual (LONG/SHORT) direction.
type Direction struct {
	Side trade.Side
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Direction) UnmarshalJSON(b []byte) error {
	var raw string
	if len(b) > 0 && b[0] == '"' {
		if err := json.Unmarshal(b, &raw); err != nil {
			return err
		}
	} else {
		var n float64
		if err := json.Unmarshal(b, &n); err != nil {
			return fmt.Errorf("direction: %w", err)
		}
		switch {
		case n > 0:
			raw = "1"
		case n < 0:
			raw = "-1"
		default:
			return fmt.Errorf("direction: zero is not a direction")
		}
	}
	side, err := trade.ParseSide(raw)
	if err != nil {
		return fmt.Errorf("direction: %w", err)
	}
	d.Side = side
	return nil
}

// MarshalJSON implements json.Marshaler.
func (d Direction) MarshalJSON() ([]byte, error) {
	if d.Side.IsLong() {
		return []byte(`"LONG"`), nil
	}
	return []byte(`"SHORT"`), nil
}

// Backtest summarises the micro-backtest shipped with a signal.
type Backtest struct {
	Trades      int     `json:"trades"`
	WinRate     float64 `json:"winrate"`
	AvgReturn   float64 `json:"avg_ret"`
	Expectancy  float64 `json:"exp"`
	MaxDrawdown float64 `json:"max_dd"`
}

// Epoch decodes a unix timestamp given as a number or numeric string, with fractional seconds.
type Epoch struct {
	time.Time
}

// UnmarshalJSON implements json.Unmarshaler.
func (e *Epoch) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		return nil
	}
	secs, err := strconv.ParseFloat(s, 64)
	if err != nil {
		t, perr := time.Parse(time.RFC3339Nano, s)
		if perr != nil {
			return fmt.Errorf("epoch: %w", err)
		}
		e.Time = t
		return nil
	}
	whole, frac := math.Modf(secs)
	e.Time = time.Unix(int64(whole), int64(frac*1e9)).UTC()
	return nil
}

// RawSignal is one signal as served by the feed. It is immutable once decoded.
type RawSignal struct {
	ID                string    `json:"signal_id"`
	Asset             string    `json:"asset"`
	Direction         Direction `json:"signal"`
	Confidence        float64   `json:"confidence"`
	ConfidencePercent float64   `json:"confidence_percent"`
	Interval          string    `json:"interval"`
	Timeframe         string    `json:"timeframe"`
	Venue             string    `json:"venue"`
	Score             float64   `json:"score"`
	Regime            string    `json:"regime"`
	LiquidityTier     string    `json:"liquidity_tier"`
	LiquidityScore    float64   `json:"liquidity_score"`
	Volume1h          float64   `json:"volume_1h"`
	Volatility1h      float64   `json:"volatility_1h"`
	Backtest          Backtest  `json:"backtest"`
	Timestamp         string    `json:"timestamp"`
	ExpiresAt         Epoch     `json:"expires_at"`
}

// Bar returns the candle interval the signal was produced on.
func (s RawSignal) Bar() string {
	if s.Interval != "" {
		return s.Interval
	}
	return s.Timeframe
}

// ConfidencePct returns confidence on a 0-100 scale. The feed's percentage
// field wins; a raw score in (0, 1] is scaled up.
func (s RawSignal) ConfidencePct() float64 {
	if s.ConfidencePercent > 0 {
		return s.ConfidencePercent
	}
	if s.Confidence > 0 && s.Confidence <= 1 {
		return s.Confidence * 100
	}
	return s.Confidence
}

// Side returns the entry side the signal asks for.
func (s RawSignal) Side() trade.Side { return s.Direction.Side }

// Expired reports whether the signal carries an expiry that has passed.
func (s RawSignal) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt.Time)
}

// Validate checks the fields every later stage relies on.
func (s RawSignal) Validate() error {
	switch {
	case s.ID == "":
		return fmt.Errorf("%w: missing signal_id", ErrInvalidSignal)
	case s.Asset == "":
		return fmt.Errorf("%w: missing asset", ErrInvalidSignal)
	case s.Direction.Side == "":
		return fmt.Errorf("%w: missing direction", ErrInvalidSignal)
	case s.ConfidencePercent < 0 || s.ConfidencePercent > 100:
		return fmt.Errorf("%w: confidence_percent %v out of range", ErrInvalidSignal, s.ConfidencePercent)
	case s.Bar() == "":
		return fmt.Errorf("%w: missing interval", ErrInvalidSignal)
	}
	return nil
}
