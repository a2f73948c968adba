// Package ratelimit throttles outbound exchange calls shared by every venue loop.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter blocks until a call may proceed.
type Limiter interface {
	Wait(ctx context.Context) error
}

// SlidingWindow admits at most limit calls inside any rolling window.
//
// Callers queue on turn, so a caller that has to sleep keeps its place and
// later callers wait behind it.
type SlidingWindow struct {
	limit  int
	window time.Duration

	turn chan struct{}

	mu       sync.Mutex
	admitted []time.Time

	onThrottle func(time.Duration)
}

var _ Limiter = (*SlidingWindow)(nil)

// NewSlidingWindow creates a limiter admitting limit calls per window.
func NewSlidingWindow(limit int, window time.Duration) *SlidingWindow {
	if limit < 1 {
		limit = 1
	}
	return &SlidingWindow{
		limit:    limit,
		window:   window,
		turn:     make(chan struct{}, 1),
		admitted: make([]time.Time, 0, limit),
	}
}

// OnThrottle registers a hook invoked with the sleep duration whenever a caller has to wait.
func (sw *SlidingWindow) OnThrottle(fn func(time.Duration)) {
	sw.mu.Lock()
	sw.onThrottle = fn
	sw.mu.Unlock()
}

// Wait blocks until a slot is free or ctx is done.
func (sw *SlidingWindow) Wait(ctx context.Context) error {
	select {
	case sw.turn <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-sw.turn }()

	for {
		sleep, hook := sw.tryAdmit(time.Now())
		if sleep <= 0 {
			return nil
		}
		if hook != nil {
			hook(sleep)
		}

		timer := time.NewTimer(sleep)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

// tryAdmit records now and returns zero when there is room, otherwise the
// time until the oldest admission leaves the window along with the throttle hook.
func (sw *SlidingWindow) tryAdmit(now time.Time) (time.Duration, func(time.Duration)) {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	sw.prune(now)
	if len(sw.admitted) < sw.limit {
		sw.admitted = append(sw.admitted, now)
		return 0, nil
	}
	return sw.admitted[0].Add(sw.window).Sub(now), sw.onThrottle
}

func (sw *SlidingWindow) prune(now time.Time) {
	cutoff := now.Add(-sw.window)
	keep := 0
	for keep < len(sw.admitted) && !sw.admitted[keep].After(cutoff) {
		keep++
	}
	sw.admitted = append(sw.admitted[:0], sw.admitted[keep:]...)
}

// Remaining reports how many calls could be admitted right now.
func (sw *SlidingWindow) Remaining() int {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	sw.prune(time.Now())
	return sw.limit - len(sw.admitted)
}
