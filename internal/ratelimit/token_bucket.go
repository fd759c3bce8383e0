// Package ratelimit meters API callers with a token bucket per subject kept in
// Redis. A Lua script does the read-refill-take cycle so API replicas share
// one budget.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	DefaultKeyPrefix = "mediaflow:ratelimit"
	anonymous        = "anonymous"

	// Buckets are stored in thousandths of a token so refill stays integral.
	milli = 1000
)

var ErrCostExceedsCapacity = errors.New("cost exceeds bucket capacity")

// Config sizes every subject's bucket: Capacity tokens, refilled evenly over
// Window.
type Config struct {
	Capacity  int
	Window    time.Duration
	KeyPrefix string
}

// Decision is the outcome of one Allow call. RetryAfter is zero when allowed.
type Decision struct {
	Allowed    bool
	Remaining  int64
	RetryAfter time.Duration
}

// KEYS[1] bucket hash; ARGV capacity (milli), window ms, now ms, cost (milli).
// Replies {allowed, whole tokens left, ms until cost is available}.
var takeTokens = redis.NewScript(`
local capacity = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local cost = tonumber(ARGV[4])

local level = capacity
local state = redis.call("HMGET", KEYS[1], "level", "at")
if state[1] and state[2] then
  level = tonumber(state[1])
  local elapsed = now - tonumber(state[2])
  if elapsed > 0 then
    level = math.min(capacity, level + math.floor(elapsed * capacity / window))
  end
end

local allowed = 0
local wait = 0
if level >= cost then
  level = level - cost
  allowed = 1
else
  wait = math.ceil((cost - level) * window / capacity)
end

redis.call("HSET", KEYS[1], "level", level, "at", now)
redis.call("PEXPIRE", KEYS[1], window)
return {allowed, math.floor(level / 1000), wait}
`)

type Limiter struct {
	rdb      redis.Scripter
	capacity int
	windowMS int64
	prefix   string
	now      func() time.Time
}

func New(rdb redis.Scripter, cfg Config) (*Limiter, error) {
	switch {
	case rdb == nil:
		return nil, errors.New("ratelimit: redis client is required")
	case cfg.Capacity <= 0:
		return nil, fmt.Errorf("ratelimit: capacity must be positive, got %d", cfg.Capacity)
	case cfg.Window <= 0:
		return nil, fmt.Errorf("ratelimit: window must be positive, got %s", cfg.Window)
	}

	prefix := strings.TrimSuffix(strings.TrimSpace(cfg.KeyPrefix), ":")
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &Limiter{
		rdb:      rdb,
		capacity: cfg.Capacity,
		windowMS: max(cfg.Window.Milliseconds(), 1),
		prefix:   prefix,
		now:      time.Now,
	}, nil
}

// Allow takes cost tokens from subject's bucket. Costs below one count as one.
func (l *Limiter) Allow(ctx context.Context, subject string, cost int) (Decision, error) {
	cost = max(cost, 1)
	if cost > l.capacity {
		return Decision{}, fmt.Errorf("%w: cost %d, capacity %d", ErrCostExceedsCapacity, cost, l.capacity)
	}

	reply, err := takeTokens.Run(ctx, l.rdb, []string{l.key(subject)},
		l.capacity*milli, l.windowMS, l.now().UnixMilli(), cost*milli,
	).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("ratelimit: take tokens: %w", err)
	}
	return decisionFromReply(reply)
}

func (l *Limiter) key(subject string) string {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		subject = anonymous
	}
	return l.prefix + ":" + subject
}

func decisionFromReply(reply []int64) (Decision, error) {
	if len(reply) != 3 {
		return Decision{}, fmt.Errorf("ratelimit: unexpected script reply %v", reply)
	}
	d := Decision{Allowed: reply[0] == 1, Remaining: reply[1]}
	if !d.Allowed {
		d.RetryAfter = time.Duration(reply[2]) * time.Millisecond
	}
	return d, nil
}
