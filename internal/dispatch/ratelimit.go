package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RateLimiter enforces an hourly send cap with an atomic Redis Lua script.
// The check-and-increment happens in one round trip; a GET → check → INCR
// sequence would race under concurrent ticks.
type RateLimiter struct {
	redis  *redis.Client
	script *redis.Script
	limit  int
}

// Lua script: increment only if under the limit, stamping the hourly TTL
// on first use of the window key.
const hourlyLimitScript = `
local key = KEYS[1]
local limit = tonumber(ARGV[1])
local ttl = tonumber(ARGV[2])

local current = tonumber(redis.call("GET", key) or "0")
if current + 1 > limit then
    return 0
end

local updated = redis.call("INCR", key)
if updated == 1 then
    redis.call("EXPIRE", key, ttl)
end
return 1
`

// NewRateLimiter creates an hourly rate limiter. limit <= 0 means
// unlimited and Allow always passes.
func NewRateLimiter(client *redis.Client, limit int) *RateLimiter {
	return &RateLimiter{
		redis:  client,
		script: redis.NewScript(hourlyLimitScript),
		limit:  limit,
	}
}

// Allow reports whether one more send fits in the current hourly window.
func (r *RateLimiter) Allow(ctx context.Context) (bool, error) {
	if r.limit <= 0 || r.redis == nil {
		return true, nil
	}

	key := fmt.Sprintf("send_rate:hourly:%s", time.Now().UTC().Format("2006010215"))
	res, err := r.script.Run(ctx, r.redis, []string{key}, r.limit, 3600).Int()
	if err != nil {
		return false, fmt.Errorf("rate limit script: %w", err)
	}
	return res == 1, nil
}
