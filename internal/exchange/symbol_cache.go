package exchange

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// SymbolFetcher loads SymbolInfo from the venue.
type SymbolFetcher func(ctx context.Context, symbol string) (SymbolInfo, error)

type cachedSymbol struct {
	info    SymbolInfo
	expires time.Time
}

// SymbolCache keeps SymbolInfo per symbol for at most ttl, in process and optionally in redis.
// Entries are replaced whole, never patched.
type SymbolCache struct {
	mu      sync.RWMutex
	entries map[string]cachedSymbol

	redis  redis.UniversalClient
	prefix string
	ttl    time.Duration
	fetch  SymbolFetcher
	logger *zap.Logger
	now    func() time.Time
}

// NewSymbolCache wraps fetch. The ttl is capped at one hour; rdb may be nil.
func NewSymbolCache(fetch SymbolFetcher, ttl time.Duration, rdb redis.UniversalClient, prefix string, logger *zap.Logger) *SymbolCache {
	if ttl <= 0 || ttl > time.Hour {
		ttl = time.Hour
	}
	return &SymbolCache{
		entries: make(map[string]cachedSymbol),
		redis:   rdb,
		prefix:  prefix + "symbol:",
		ttl:     ttl,
		fetch:   fetch,
		logger:  logger.Named("symbol-cache"),
		now:     time.Now,
	}
}

// Get returns cached info or fetches and stores it.
func (c *SymbolCache) Get(ctx context.Context, symbol string) (SymbolInfo, error) {
	now := c.now()

	c.mu.RLock()
	entry, ok := c.entries[symbol]
	c.mu.RUnlock()
	if ok && now.Before(entry.expires) {
		return entry.info, nil
	}

	if info, remaining, ok := c.fromRedis(ctx, symbol); ok {
		c.store(symbol, info, now.Add(remaining))
		return info, nil
	}

	info, err := c.fetch(ctx, symbol)
	if err != nil {
		return SymbolInfo{}, err
	}
	c.store(symbol, info, now.Add(c.ttl))
	c.toRedis(ctx, symbol, info)
	return info, nil
}

// Invalidate drops symbol from both tiers.
func (c *SymbolCache) Invalidate(ctx context.Context, symbol string) {
	c.mu.Lock()
	delete(c.entries, symbol)
	c.mu.Unlock()
	if c.redis != nil {
		_ = c.redis.Del(ctx, c.prefix+symbol).Err()
	}
}

func (c *SymbolCache) store(symbol string, info SymbolInfo, expires time.Time) {
	c.mu.Lock()
	c.entries[symbol] = cachedSymbol{info: info, expires: expires}
	c.mu.Unlock()
}

// fromRedis returns the shared entry and how long it has left, so a
// process-local copy never outlives the shared one.
func (c *SymbolCache) fromRedis(ctx context.Context, symbol string) (SymbolInfo, time.Duration, bool) {
	if c.redis == nil {
		return SymbolInfo{}, 0, false
	}
	key := c.prefix + symbol
	data, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Debug("Symbol cache read failed", zap.String("symbol", symbol), zap.Error(err))
		}
		return SymbolInfo{}, 0, false
	}
	var info SymbolInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return SymbolInfo{}, 0, false
	}
	remaining, err := c.redis.PTTL(ctx, key).Result()
	if err != nil || remaining <= 0 || remaining > c.ttl {
		remaining = c.ttl
	}
	return info, remaining, true
}

func (c *SymbolCache) toRedis(ctx context.Context, symbol string, info SymbolInfo) {
	if c.redis == nil {
		return
	}
	data, err := json.Marshal(info)
	if err != nil {
		return
	}
	if err := c.redis.Set(ctx, c.prefix+symbol, data, c.ttl).Err(); err != nil {
		c.logger.Debug("Symbol cache write failed", zap.String("symbol", symbol), zap.Error(err))
	}
}
