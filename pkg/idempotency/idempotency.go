// Package idempotency provides a best-effort duplicate filter on top of
// redis. It is an optimization, not a correctness mechanism: callers must
// stay safe against duplicates even when the filter is unavailable.
package idempotency

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Guard remembers keys it has seen for a bounded period using SetNX.
type Guard struct {
	rdb *redis.Client
	ttl time.Duration
	lg  *zap.Logger
}

// NewGuard wires the guard to a redis client. ttl bounds how long a key is
// remembered; it should exceed the provider's retry window.
func NewGuard(rdb *redis.Client, ttl time.Duration, lg *zap.Logger) *Guard {
	return &Guard{rdb: rdb, ttl: ttl, lg: lg}
}

// FirstSighting claims key atomically and reports whether this caller is
// the first to see it. Redis failures fail open: the caller proceeds and
// relies on its own idempotence.
func (g *Guard) FirstSighting(ctx context.Context, key string) bool {
	ok, err := g.rdb.SetNX(ctx, "idem:"+key, "1", g.ttl).Result()
	if err != nil {
		g.lg.Warn("idempotency guard unavailable", zap.String("key", key), zap.Error(err))
		return true
	}
	return ok
}

// Release forgets key so a later delivery can claim it again. Callers use it
// when the work behind a claimed key failed and a retry should get through.
// A failed delete only shortens nothing: the key still expires with its TTL.
func (g *Guard) Release(ctx context.Context, key string) {
	if err := g.rdb.Del(ctx, "idem:"+key).Err(); err != nil {
		g.lg.Warn("idempotency release failed", zap.String("key", key), zap.Error(err))
	}
}
