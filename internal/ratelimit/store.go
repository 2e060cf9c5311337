// Package ratelimit implements the gateway's tiered fixed-window limiter.
//
// Counting is delegated to a Store. Two stores are provided:
//
//   - MemoryStore: process-local map guarded by a mutex. Counts are lost on
//     restart and are not shared between gateway replicas.
//   - RedisStore: shared counters in Redis, updated atomically by a Lua
//     script (INCR + PEXPIRE + PTTL in one round trip).
//
// Clients are identified by IP only, so callers behind one NAT or proxy
// share a bucket. That is an accepted tradeoff, not something this package
// tries to detect.
package ratelimit

import (
	"context"
	"time"
)

// Counter is the state of one bucket right after an increment.
type Counter struct {
	Count   int64
	ResetAt time.Time
}

// Store atomically increments the counter for key within a fixed window.
//
// If the key has no live window, a new one starting now with Count=1 is
// created. Implementations must make the check and the increment a single
// atomic step so concurrent requests cannot both observe the same count.
type Store interface {
	Increment(ctx context.Context, key string, window time.Duration) (Counter, error)
	Ping(ctx context.Context) error
}
