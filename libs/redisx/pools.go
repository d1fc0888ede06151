package redisx

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// Pools owns the two Redis clients the process shares: an async client
// sized for the cooperative event-handling paths, and a smaller blocking
// client reserved for call sites that must execute synchronously
// (rate-limit checks, blacklist lookups, webhook handlers). The two
// clients never share a lock; holding one while calling through the
// other is not allowed.
type Pools struct {
	cfg Config

	async      atomic.Pointer[redis.Client]
	asyncMu    sync.Mutex
	blocking   atomic.Pointer[redis.Client]
	blockingMu sync.Mutex
}

type Config struct {
	Addr          string
	Password      string
	DB            int
	AsyncPoolSize int
	BlockPoolSize int
	SocketTimeout time.Duration
}

func New(cfg Config) *Pools {
	if cfg.AsyncPoolSize <= 0 {
		cfg.AsyncPoolSize = 50
	}
	if cfg.BlockPoolSize <= 0 {
		cfg.BlockPoolSize = 20
	}
	if cfg.SocketTimeout <= 0 {
		cfg.SocketTimeout = 5 * time.Second
	}
	return &Pools{cfg: cfg}
}

// Async returns the shared non-blocking client, creating it on first use.
// The unlocked pointer read keeps the steady-state path lock-free; the
// mutex plus re-check prevents duplicate clients under initial
// concurrent load.
func (p *Pools) Async() *redis.Client {
	if c := p.async.Load(); c != nil {
		return c
	}
	p.asyncMu.Lock()
	defer p.asyncMu.Unlock()
	if c := p.async.Load(); c != nil {
		return c
	}
	c := redis.NewClient(&redis.Options{
		Addr:            p.cfg.Addr,
		Password:        p.cfg.Password,
		DB:              p.cfg.DB,
		PoolSize:        p.cfg.AsyncPoolSize,
		DialTimeout:     p.cfg.SocketTimeout,
		ReadTimeout:     p.cfg.SocketTimeout,
		WriteTimeout:    p.cfg.SocketTimeout,
		ConnMaxIdleTime: 30 * time.Second,
	})
	p.async.Store(c)
	return c
}

// Blocking returns the shared blocking-call client, creating it on first
// use. Same double-checked construction as Async, behind its own mutex.
func (p *Pools) Blocking() *redis.Client {
	if c := p.blocking.Load(); c != nil {
		return c
	}
	p.blockingMu.Lock()
	defer p.blockingMu.Unlock()
	if c := p.blocking.Load(); c != nil {
		return c
	}
	c := redis.NewClient(&redis.Options{
		Addr:            p.cfg.Addr,
		Password:        p.cfg.Password,
		DB:              p.cfg.DB,
		PoolSize:        p.cfg.BlockPoolSize,
		DialTimeout:     p.cfg.SocketTimeout,
		ReadTimeout:     p.cfg.SocketTimeout,
		WriteTimeout:    p.cfg.SocketTimeout,
		ConnMaxIdleTime: 30 * time.Second,
	})
	p.blocking.Store(c)
	return c
}

// Shutdown closes whichever clients were built and resets both slots so a
// later acquire would rebuild. Safe to call more than once; in-flight
// operations fail with a closed-client error rather than hanging.
func (p *Pools) Shutdown() error {
	var errs []error

	p.asyncMu.Lock()
	if c := p.async.Swap(nil); c != nil {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	p.asyncMu.Unlock()

	p.blockingMu.Lock()
	if c := p.blocking.Swap(nil); c != nil {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	p.blockingMu.Unlock()

	return errors.Join(errs...)
}

func (p *Pools) ReadyCheck() func(context.Context) error {
	return func(ctx context.Context) error {
		return p.Async().Ping(ctx).Err()
	}
}
