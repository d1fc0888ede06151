package guard

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// One round trip: increment, arm the expiry on the first hit in the
// window, and read the remaining TTL. EVALSHA with the EVAL fallback in
// go-redis re-primes the script cache if the store restarted and forgot
// the script.
var fixedWindowScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
return {current, ttl}
`)

// RateLimitedError reports an identity over its window limit, with how
// long the caller has to wait.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limit exceeded, retry in %s", e.RetryAfter)
}

// RateLimiter is a fixed-window limiter backed by an atomic Redis
// script, keyed by an identity such as a login email. It runs on the
// blocking pool: limit checks sit on synchronous request paths.
type RateLimiter struct {
	client redis.Scripter
	limit  int64
	window time.Duration
	prefix string
}

func NewRateLimiter(client redis.Scripter, limit int, window time.Duration, prefix string) *RateLimiter {
	if limit <= 0 {
		limit = 5
	}
	if window <= 0 {
		window = time.Minute
	}
	if prefix == "" {
		prefix = "rl"
	}
	return &RateLimiter{client: client, limit: int64(limit), window: window, prefix: prefix}
}

type Count struct {
	Current   int64
	Remaining time.Duration // window TTL left
}

// Allow records one hit for the identity and returns the running count.
// Over the limit it returns a RateLimitedError carrying the remaining
// wait.
func (rl *RateLimiter) Allow(ctx context.Context, identity string) (Count, error) {
	res, err := fixedWindowScript.Run(ctx, rl.client, []string{rl.prefix + ":" + identity}, rl.window.Milliseconds()).Result()
	if err != nil {
		return Count{}, err
	}
	count, err := parseWindowReply(res)
	if err != nil {
		return Count{}, err
	}
	if count.Current > rl.limit {
		return count, &RateLimitedError{RetryAfter: count.Remaining}
	}
	return count, nil
}

func parseWindowReply(res any) (Count, error) {
	vals, ok := res.([]any)
	if !ok || len(vals) != 2 {
		return Count{}, fmt.Errorf("unexpected rate limit script reply %T", res)
	}
	current, err := toInt64(vals[0])
	if err != nil {
		return Count{}, err
	}
	ttlMillis, err := toInt64(vals[1])
	if err != nil {
		return Count{}, err
	}
	if ttlMillis < 0 {
		ttlMillis = 0
	}
	return Count{Current: current, Remaining: time.Duration(ttlMillis) * time.Millisecond}, nil
}

func toInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case string:
		// Lua replies can surface as strings depending on conversions.
		return strconv.ParseInt(n, 10, 64)
	default:
		return 0, fmt.Errorf("unexpected redis reply element %T", v)
	}
}
