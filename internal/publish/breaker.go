package publish

import (
	"errors"
	"sync"
	"time"

	"github.com/tablewave/tablewave/internal/metrics"
)

// ErrBreakerOpen is a fast-fail: no network attempt was made and it does
// not count against any retry budget.
var ErrBreakerOpen = errors.New("circuit breaker open")

type breakerState int

const (
	stateClosed breakerState = iota
	stateOpen
	stateHalfOpen
)

type BreakerConfig struct {
	FailureThreshold int           // consecutive failures before opening
	RecoveryTimeout  time.Duration // how long to stay open
	HalfOpenTrials   int           // calls allowed while half-open
}

// Breaker gates a publishing path. Transitions: closed -> open after
// FailureThreshold consecutive failures; open -> half-open once the
// recovery timeout elapses; half-open -> closed on a single success,
// half-open -> open on any trial failure. Calls arrive from concurrent
// publish paths, so every transition happens under one mutex.
type Breaker struct {
	mu          sync.Mutex
	cfg         BreakerConfig
	state       breakerState
	failures    int
	lastFailure time.Time
	trials      int

	now func() time.Time
}

func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = 30 * time.Second
	}
	if cfg.HalfOpenTrials <= 0 {
		cfg.HalfOpenTrials = 3
	}
	return &Breaker{cfg: cfg, now: time.Now}
}

// Allow reports whether a call may proceed. While open it rejects
// everything until the recovery timer elapses; while half-open it admits
// at most HalfOpenTrials in-flight trials.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case stateClosed:
		return nil
	case stateOpen:
		if b.now().Sub(b.lastFailure) < b.cfg.RecoveryTimeout {
			return ErrBreakerOpen
		}
		b.state = stateHalfOpen
		b.trials = 0
		metrics.BreakerState.Set(2)
		fallthrough
	default: // half-open
		if b.trials >= b.cfg.HalfOpenTrials {
			return ErrBreakerOpen
		}
		b.trials++
		return nil
	}
}

// Success resets the breaker to closed.
func (b *Breaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = stateClosed
	b.failures = 0
	b.trials = 0
	metrics.BreakerState.Set(0)
}

// Failure records a failed attempt. In closed state it opens the breaker
// once the consecutive-failure threshold is hit; in half-open state any
// failure reopens immediately and restarts the recovery timer.
func (b *Breaker) Failure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastFailure = b.now()
	switch b.state {
	case stateHalfOpen:
		b.state = stateOpen
		metrics.BreakerState.Set(1)
	case stateClosed:
		b.failures++
		if b.failures >= b.cfg.FailureThreshold {
			b.state = stateOpen
			metrics.BreakerState.Set(1)
		}
	}
}
