package ratelimiter

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultGateKey = "formsync:ratelimit:provider"

// RedisGate is a token bucket held in Redis so several replicas share one
// provider budget. The bucket is updated atomically by a Lua script.
type RedisGate struct {
	client   redis.Scripter
	key      string
	capacity int
	refill   float64 // tokens per second
	ttl      time.Duration
	backoff  time.Duration
	now      func() time.Time
}

// NewRedisGate builds a gate refilling ratePerSec tokens per second up to burst.
func NewRedisGate(client redis.Scripter, ratePerSec float64, burst int) *RedisGate {
	if burst < 1 {
		burst = 1
	}
	backoff := time.Duration(float64(time.Second) / ratePerSec)
	if backoff < 5*time.Millisecond {
		backoff = 5 * time.Millisecond
	}
	return &RedisGate{
		client:   client,
		key:      defaultGateKey,
		capacity: burst,
		refill:   ratePerSec,
		ttl:      time.Minute,
		backoff:  backoff,
		now:      time.Now,
	}
}

// WithKey scopes the bucket; replicas sharing a key share a budget.
func (g *RedisGate) WithKey(key string) *RedisGate {
	g.key = key
	return g
}

// Allow consumes one token if available.
func (g *RedisGate) Allow(ctx context.Context) (bool, error) {
	res, err := bucketScript.Run(ctx, g.client, []string{g.key},
		g.capacity, g.refill, g.now().UnixMilli(), g.ttl.Milliseconds()).Result()
	if err != nil {
		return false, fmt.Errorf("token bucket: %w", err)
	}
	arr, ok := res.([]interface{})
	if !ok || len(arr) < 1 {
		return false, fmt.Errorf("token bucket: unexpected reply %v", res)
	}
	allowed, _ := arr[0].(int64)
	return allowed == 1, nil
}

// Wait polls the bucket until a token is granted or ctx is done. A Redis
// error is returned as is; the caller decides whether to retry.
func (g *RedisGate) Wait(ctx context.Context) error {
	for {
		allowed, err := g.Allow(ctx)
		if err != nil {
			return err
		}
		if allowed {
			return nil
		}
		t := time.NewTimer(g.backoff)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

var bucketScript = redis.NewScript(`
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local refill = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

local data = redis.call('HMGET', key, 'tokens', 'last_ms')
local tokens = tonumber(data[1])
local last = tonumber(data[2])
if tokens == nil then tokens = capacity end
if last == nil then last = now end

local delta = math.max(0, now - last)
tokens = math.min(capacity, tokens + delta / 1000 * refill)

local allowed = 0
if tokens >= 1 then
  allowed = 1
  tokens = tokens - 1
end

redis.call('HMSET', key, 'tokens', tokens, 'last_ms', now)
if ttl > 0 then redis.call('PEXPIRE', key, ttl) end
return {allowed, tokens}
`)

var _ Gate = (*RedisGate)(nil)
