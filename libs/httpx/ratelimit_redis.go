package httpx

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLimiter is a fixed-window limiter shared by every instance that points at the
// same Redis.
type RedisLimiter struct {
	rdb    redis.Scripter
	limit  int
	window time.Duration
	prefix string
}

// Returns {count, pttl}. The expiry is set by the first hit of each window.
var redisWindowScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return {current, redis.call("PTTL", KEYS[1])}
`)

func NewRedisLimiter(rdb redis.Scripter, limit int, window time.Duration, prefix string) *RedisLimiter {
	if limit <= 0 {
		limit = 60
	}
	if window <= 0 {
		window = time.Minute
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "rl"
	}
	return &RedisLimiter{rdb: rdb, limit: limit, window: window, prefix: prefix}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	res, err := redisWindowScript.Run(ctx, l.rdb, []string{l.prefix + ":" + key}, l.window.Milliseconds()).Int64Slice()
	if err != nil {
		return false, 0, err
	}
	if len(res) != 2 {
		return false, 0, fmt.Errorf("rate limit script: unexpected reply %v", res)
	}
	count, pttl := res[0], res[1]
	if count <= int64(l.limit) {
		return true, 0, nil
	}
	if pttl < 0 {
		pttl = l.window.Milliseconds()
	}
	return false, time.Duration(pttl) * time.Millisecond, nil
}
