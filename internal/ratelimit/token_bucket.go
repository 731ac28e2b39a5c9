package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

type Decision struct {
	Allowed    bool
	Remaining  int64
	RetryAfter time.Duration
}

// RedisTokenBucket throttles uploads per subject. The bucket lives in redis
// so several loopback servers sharing a profile share one budget.
type RedisTokenBucket struct {
	client      redis.UniversalClient
	capacity    int64
	refillPerMS float64
	ttl         time.Duration
	keyPrefix   string
	now         func() time.Time
}

// uploadBudgetScript applies a signed cost to the bucket stored at KEYS[1].
// A positive cost is a take and fails without changing the balance when the
// bucket is short; a negative cost returns tokens, capped at capacity.
// Reply: {allowed, floor(balance), wait_ms}.
var uploadBudgetScript = redis.NewScript(`
local cap = tonumber(ARGV[1])
local rate = tonumber(ARGV[2])
local at = tonumber(ARGV[3])
local cost = tonumber(ARGV[4])

local state = redis.call("HMGET", KEYS[1], "tokens", "timestamp")
local balance = tonumber(state[1]) or cap
local last = tonumber(state[2]) or at
if at > last then
  balance = math.min(cap, balance + (at - last) * rate)
end

local ok = 1
local wait = 0
if cost > balance then
  ok = 0
  wait = math.ceil((cost - balance) / rate)
else
  balance = math.min(cap, balance - cost)
end

redis.call("HSET", KEYS[1], "tokens", balance, "timestamp", at)
redis.call("PEXPIRE", KEYS[1], ARGV[5])
return {ok, math.floor(balance), wait}
`)

// NewRedisTokenBucket allows capacity uploads per window for each subject.
func NewRedisTokenBucket(client redis.UniversalClient, capacity int, window time.Duration, keyPrefix string) (*RedisTokenBucket, error) {
	switch {
	case client == nil:
		return nil, errors.New("redis client is required")
	case capacity <= 0:
		return nil, errors.New("capacity must be positive")
	case window <= 0:
		return nil, errors.New("window must be positive")
	}

	if strings.TrimSpace(keyPrefix) == "" {
		keyPrefix = "avatarcrop:uploads"
	}

	return &RedisTokenBucket{
		client:      client,
		capacity:    int64(capacity),
		refillPerMS: float64(capacity) / float64(max(window.Milliseconds(), 1)),
		ttl:         2 * window,
		keyPrefix:   keyPrefix,
		now:         time.Now,
	}, nil
}

// Allow takes one upload from subject's budget.
func (l *RedisTokenBucket) Allow(ctx context.Context, subject string) (Decision, error) {
	return l.apply(ctx, subject, 1)
}

// Refund gives back an upload that never reached its destination.
func (l *RedisTokenBucket) Refund(ctx context.Context, subject string) error {
	_, err := l.apply(ctx, subject, -1)
	return err
}

func (l *RedisTokenBucket) apply(ctx context.Context, subject string, cost int) (Decision, error) {
	if subject = strings.TrimSpace(subject); subject == "" {
		subject = "anonymous"
	}

	raw, err := uploadBudgetScript.Run(ctx, l.client,
		[]string{l.keyPrefix + ":" + subject},
		l.capacity, l.refillPerMS, l.now().UTC().UnixMilli(), cost, l.ttl.Milliseconds(),
	).Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("run upload budget script: %w", err)
	}
	if len(raw) != 3 {
		return Decision{}, fmt.Errorf("unexpected upload budget reply %v", raw)
	}

	var reply [3]int64
	for i, v := range raw {
		if reply[i], err = toInt64(v); err != nil {
			return Decision{}, fmt.Errorf("parse upload budget reply %d: %w", i, err)
		}
	}

	return Decision{
		Allowed:    reply[0] == 1,
		Remaining:  reply[1],
		RetryAfter: time.Duration(reply[2]) * time.Millisecond,
	}, nil
}

func toInt64(in any) (int64, error) {
	switch v := in.(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case float64:
		return int64(v), nil
	case string:
		return strconv.ParseInt(v, 10, 64)
	default:
		return 0, fmt.Errorf("unsupported type %T", in)
	}
}
