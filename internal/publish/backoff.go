package publish

import (
	"math/rand"
	"time"
)

const (
	backoffBase = 500 * time.Millisecond
	backoffMax  = 10 * time.Second
)

// Delay computes a decorrelated-jitter backoff for the given attempt
// (0-based): uniform in [base, min(base*2^attempt, max)]. Spreading
// retries across the range keeps a fleet of publishers from hammering the
// store in lockstep after a shared outage.
func Delay(attempt int, base, max time.Duration) time.Duration {
	if base <= 0 {
		base = backoffBase
	}
	if max <= 0 {
		max = backoffMax
	}
	ceil := base << uint(attempt)
	if ceil > max || ceil <= 0 {
		ceil = max
	}
	if ceil <= base {
		return base
	}
	return base + time.Duration(rand.Int63n(int64(ceil-base)+1))
}
