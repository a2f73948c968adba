// Package dedup suppresses re-execution of a signal already handled within its validity window.
package dedup

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Gate reports whether a signal id has already been seen, recording it on first sight.
type Gate interface {
	IsDuplicate(ctx context.Context, signalID string) bool
}

// RedisGate keeps one key per signal id with a fixed expiry.
// Any backend failure lets the signal through.
type RedisGate struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	logger *zap.Logger
	now    func() time.Time
}

var _ Gate = (*RedisGate)(nil)

// NewRedisGate creates a gate. A nil client yields a gate that allows everything.
func NewRedisGate(client redis.UniversalClient, prefix string, ttl time.Duration, logger *zap.Logger) *RedisGate {
	return &RedisGate{
		client: client,
		prefix: prefix + "signal:seen:",
		ttl:    ttl,
		logger: logger.Named("dedup"),
		now:    time.Now,
	}
}

// IsDuplicate implements Gate.
func (g *RedisGate) IsDuplicate(ctx context.Context, signalID string) bool {
	if g.client == nil {
		g.logger.Warn("Dedup backend not configured, allowing signal", zap.String("signal_id", signalID))
		return false
	}

	firstSeen := strconv.FormatInt(g.now().Unix(), 10)
	created, err := g.client.SetNX(ctx, g.prefix+signalID, firstSeen, g.ttl).Result()
	if err != nil {
		g.logger.Warn("Dedup backend unavailable, allowing signal",
			zap.String("signal_id", signalID),
			zap.Error(err),
		)
		return false
	}
	return !created
}

// FirstSeen returns when signalID was first recorded, if it is still inside its window.
func (g *RedisGate) FirstSeen(ctx context.Context, signalID string) (time.Time, bool) {
	if g.client == nil {
		return time.Time{}, false
	}
	v, err := g.client.Get(ctx, g.prefix+signalID).Result()
	if err != nil {
		return time.Time{}, false
	}
	secs, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.Unix(secs, 0), true
}
