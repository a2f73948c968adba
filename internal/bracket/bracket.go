// Package bracket submits a sized order as entry plus reduce-only take-profit and stop-loss.
package bracket

import (
	"context"
	"errors"
	"fmt"

	"futures-signal-bot-go/internal/exchange"
	"futures-signal-bot-go/internal/sizing"
	"futures-signal-bot-go/internal/trade"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrIllegalTrigger means no positive trigger exists on the executable side of the live price.
var ErrIllegalTrigger = errors.New("no legal trigger price")

// State is a step of one placement.
type State string

const (
	StateSized           State = "SIZED"
	StateSubmitted       State = "SUBMITTED"
	StatePriceDriftRetry State = "PRICE_DRIFT_RETRY"
	StateAccepted        State = "ACCEPTED"
	StateRejected        State = "REJECTED"
)

const maxSubmissionAttempts = 2

// Placement is the record of one placement.
type Placement struct {
	Order    exchange.BracketOrder
	Attempts int
	States   []State
	DryRun   bool
}

func (p *Placement) enter(s State) { p.States = append(p.States, s) }

// Builder places brackets on one venue.
type Builder struct {
	adapter exchange.Adapter
	dryRun  bool
	logger  *zap.Logger
}

// NewBuilder returns a Builder. With dryRun set nothing is sent to the venue.
func NewBuilder(adapter exchange.Adapter, dryRun bool, logger *zap.Logger) *Builder {
	return &Builder{
		adapter: adapter,
		dryRun:  dryRun,
		logger:  logger.Named("bracket"),
	}
}

// LegalTriggers rounds tp and sl to the tick grid and moves any trigger that
// is not strictly beyond live, on its executable side, to one tick past live.
// A non-positive tick leaves no legal trigger.
func LegalTriggers(side trade.Side, tp, sl, live, tick float64) (float64, float64, error) {
	if tick <= 0 {
		return 0, 0, fmt.Errorf("%w: tick size %v", ErrIllegalTrigger, tick)
	}
	tp = trade.RoundToStep(tp, tick)
	sl = trade.RoundToStep(sl, tick)

	up := func() float64 { return trade.CeilToStep(trade.Add(live, tick), tick) }
	down := func() float64 { return trade.FloorToStep(trade.Sub(live, tick), tick) }

	if side.IsLong() {
		if tp <= live {
			tp = up()
		}
		if sl >= live {
			sl = down()
		}
	} else {
		if tp >= live {
			tp = down()
		}
		if sl <= live {
			sl = up()
		}
	}

	if tp <= 0 || sl <= 0 {
		return 0, 0, fmt.Errorf("%w: tp=%v sl=%v live=%v tick=%v", ErrIllegalTrigger, tp, sl, live, tick)
	}
	return tp, sl, nil
}

// Place submits order. A trigger rejected because the price moved is
// recomputed from a fresh live price and resubmitted once; legs the venue
// already accepted are carried into the retry and not sent again.
func (b *Builder) Place(ctx context.Context, order sizing.SizedOrder) (Placement, error) {
	p := order.Proposal
	pl := Placement{DryRun: b.dryRun}
	pl.enter(StateSized)

	l := b.logger.With(
		zap.String("venue", string(b.adapter.Venue())),
		zap.String("symbol", p.Symbol),
		zap.String("side", string(p.Side)),
		zap.Float64("quantity", order.Quantity),
	)

	var placed exchange.BracketOrder
	for pl.Attempts < maxSubmissionAttempts {
		live, err := b.adapter.GetLivePrice(ctx, p.Symbol)
		if err != nil {
			pl.Order = placed
			pl.enter(StateRejected)
			return pl, fmt.Errorf("live price: %w", err)
		}
		tp, sl, err := LegalTriggers(p.Side, p.TakeProfit, p.StopLoss, live, order.Symbol.TickSize)
		if err != nil {
			pl.Order = placed
			pl.enter(StateRejected)
			return pl, err
		}
		if tp != trade.RoundToStep(p.TakeProfit, order.Symbol.TickSize) || sl != trade.RoundToStep(p.StopLoss, order.Symbol.TickSize) {
			l.Info("Nudged triggers past live price",
				zap.Float64("live", live),
				zap.Float64("tp_from", p.TakeProfit), zap.Float64("tp", tp),
				zap.Float64("sl_from", p.StopLoss), zap.Float64("sl", sl),
			)
		}

		req := exchange.BracketRequest{
			Symbol:     p.Symbol,
			Side:       p.Side,
			Quantity:   order.Quantity,
			TakeProfit: tp,
			StopLoss:   sl,
			Leverage:   order.Leverage,
			Placed:     placed,
		}

		pl.Attempts++
		pl.enter(StateSubmitted)

		if b.dryRun {
			pl.Order = dryRunOrder(b.adapter.Venue(), req, live)
			pl.enter(StateAccepted)
			l.Info("Dry run, bracket not sent", zap.Float64("tp", tp), zap.Float64("sl", sl))
			return pl, nil
		}

		result, err := b.adapter.SubmitBracketOrder(ctx, req)
		if err == nil {
			result.LivePrice = live
			pl.Order = result
			pl.enter(StateAccepted)
			l.Info("Bracket accepted",
				zap.Int("attempts", pl.Attempts),
				zap.String("entry_id", result.EntryOrderID),
				zap.String("tp_id", result.TakeProfitID),
				zap.String("sl_id", result.StopLossID),
			)
			return pl, nil
		}

		var submitErr *exchange.SubmitError
		if errors.As(err, &submitErr) {
			placed = submitErr.Placed
		}
		if !errors.Is(err, exchange.ErrTriggerPriceMoved) || pl.Attempts >= maxSubmissionAttempts {
			pl.Order = placed
			pl.enter(StateRejected)
			return pl, err
		}

		l.Warn("Trigger price moved, refreshing live price", zap.Error(err))
		pl.enter(StatePriceDriftRetry)
	}

	pl.Order = placed
	pl.enter(StateRejected)
	return pl, fmt.Errorf("bracket not accepted after %d attempts", pl.Attempts)
}

func dryRunOrder(venue trade.Venue, req exchange.BracketRequest, live float64) exchange.BracketOrder {
	id := func() string { return "dry-run-" + uuid.NewString() }
	return exchange.BracketOrder{
		Venue:        venue,
		Symbol:       req.Symbol,
		EntryOrderID: id(),
		TakeProfitID: id(),
		StopLossID:   id(),
		Quantity:     req.Quantity,
		TakeProfit:   req.TakeProfit,
		StopLoss:     req.StopLoss,
		LivePrice:    live,
	}
}
