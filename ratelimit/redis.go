package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// slidingWindowScript runs evict-check-record atomically on the Redis side.
//
//	KEYS[1]  sorted set of admitted attempts, scored by unix millis
//	ARGV[1]  now (ms)   ARGV[2] window (ms)   ARGV[3] limit   ARGV[4] member
var slidingWindowScript = redis.NewScript(`
local key    = KEYS[1]
local now    = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit  = tonumber(ARGV[3])

redis.call('ZREMRANGEBYSCORE', key, '-inf', '(' .. (now - window))
if redis.call('ZCARD', key) < limit then
	redis.call('ZADD', key, now, ARGV[4])
	redis.call('PEXPIRE', key, window)
	return 1
end
return 0
`)

// RedisWindow is a sliding window limiter whose state lives in Redis, so
// several server instances share one budget per key. Keys expire on their
// own once idle for a full window.
type RedisWindow struct {
	client redis.UniversalClient
	prefix string
	limit  int
	window time.Duration
	now    func() time.Time
}

type RedisOption func(*RedisWindow)

// WithRedisClock overrides time.Now for the scores written to Redis.
func WithRedisClock(now func() time.Time) RedisOption {
	return func(r *RedisWindow) { r.now = now }
}

func NewRedisWindow(client redis.UniversalClient, prefix string, cfg Config, opts ...RedisOption) (*RedisWindow, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if prefix == "" {
		prefix = "ratelimit:"
	}
	r := &RedisWindow{
		client: client,
		prefix: prefix,
		limit:  cfg.Limit,
		window: cfg.Window,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

func (r *RedisWindow) Allow(ctx context.Context, key string) (bool, error) {
	res, err := slidingWindowScript.Run(ctx, r.client,
		[]string{r.prefix + key},
		r.now().UnixMilli(),
		r.window.Milliseconds(),
		r.limit,
		uuid.NewString(),
	).Int()
	if err != nil {
		return false, fmt.Errorf("redis sliding window: %w", err)
	}
	return res == 1, nil
}
