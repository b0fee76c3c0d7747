package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// EmailThrottle caps how many automation emails one recipient receives per
// window, using a sorted-set sliding window updated by a Lua script.
type EmailThrottle struct {
	redisClient *redis.Client
	logger      *slog.Logger
	limit       int
	window      time.Duration
	now         func() time.Time
	seq         atomic.Int64
}

// Drop entries older than the window, then admit the member if the set is
// still under the limit.
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local member = ARGV[4]

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)

if redis.call('ZCARD', key) < limit then
    redis.call('ZADD', key, now, member)
    redis.call('PEXPIRE', key, window + 1000)
    return 1
end
return 0
`)

// NewEmailThrottle returns a throttle admitting limit emails per window. A
// limit of zero or less disables throttling.
func NewEmailThrottle(redisClient *redis.Client, limit int, window time.Duration, logger *slog.Logger) *EmailThrottle {
	return &EmailThrottle{
		redisClient: redisClient,
		logger:      logger.With("component", "email_throttle"),
		limit:       limit,
		window:      window,
		now:         time.Now,
	}
}

func throttleKey(recipient string) string {
	return fmt.Sprintf("rl:email:%s", strings.ToLower(recipient))
}

// Allow reports whether another email may go to recipient now. Redis errors
// fail open.
func (t *EmailThrottle) Allow(ctx context.Context, recipient string) bool {
	if t.limit <= 0 {
		return true
	}

	now := t.now()
	member := fmt.Sprintf("%d-%d", now.UnixNano(), t.seq.Add(1))

	res, err := slidingWindowScript.Run(ctx, t.redisClient, []string{throttleKey(recipient)},
		now.UnixMilli(), t.window.Milliseconds(), t.limit, member,
	).Int64()
	if err != nil {
		t.logger.Error("throttle script failed", "recipient", recipient, "error", err)
		return true
	}

	if res == 0 {
		t.logger.Debug("email throttled", "recipient", recipient, "limit", t.limit, "window", t.window)
		return false
	}
	return true
}
