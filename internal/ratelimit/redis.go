package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// keyPrefix namespaces limiter keys in a shared Redis.
const keyPrefix = "ratelimit:"

// incrScript increments KEYS[1], starts its window (ARGV[1] ms) on the first
// hit and returns {count, remaining ms}. A key that somehow lost its TTL is
// given a fresh one so it cannot block a client forever.
var incrScript = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
if n == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
  ttl = tonumber(ARGV[1])
end
return {n, ttl}
`)

// redisClient is the subset of *redis.Client used by RedisStore.
type redisClient interface {
	redis.Scripter
	Ping(ctx context.Context) *redis.StatusCmd
}

// RedisStore keeps counters in Redis so every gateway replica shares them.
type RedisStore struct {
	rdb redisClient
	now func() time.Time
}

// RedisOptions configures NewRedisClient.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisClient builds a go-redis client with short timeouts suited to a
// per-request hot path.
func NewRedisClient(o RedisOptions) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         o.Addr,
		Password:     o.Password,
		DB:           o.DB,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  500 * time.Millisecond,
		WriteTimeout: 500 * time.Millisecond,
		PoolTimeout:  time.Second,
	})
}

// NewRedisStore wraps an existing client (e.g. *redis.Client).
func NewRedisStore(rdb redisClient) *RedisStore {
	return &RedisStore{rdb: rdb, now: time.Now}
}

// Increment implements Store.
func (s *RedisStore) Increment(ctx context.Context, key string, window time.Duration) (Counter, error) {
	ms := window.Milliseconds()
	if ms < 1 {
		ms = 1
	}
	vals, err := incrScript.Run(ctx, s.rdb, []string{keyPrefix + key}, ms).Int64Slice()
	if err != nil {
		return Counter{}, fmt.Errorf("redis increment %q: %w", key, err)
	}
	if len(vals) != 2 {
		return Counter{}, fmt.Errorf("redis increment %q: unexpected reply %v", key, vals)
	}
	return Counter{
		Count:   vals[0],
		ResetAt: s.now().Add(time.Duration(vals[1]) * time.Millisecond),
	}, nil
}

// Ping checks connectivity to Redis.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}
