package publish

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/tablewave/tablewave/internal/event"
	"github.com/tablewave/tablewave/internal/metrics"
	"github.com/tablewave/tablewave/internal/routing"
)

// Sender is the write half of the pub/sub store. The production
// implementation is a go-redis client from the async pool.
type Sender interface {
	Publish(ctx context.Context, channel string, payload []byte) (int64, error)
}

type RedisSender struct {
	Client *redis.Client
}

func (s RedisSender) Publish(ctx context.Context, channel string, payload []byte) (int64, error) {
	return s.Client.Publish(ctx, channel, payload).Result()
}

// RetryExhaustedError surfaces a publish that failed every attempt.
type RetryExhaustedError struct {
	Attempts int
	Last     error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("publish failed after %d attempts: %v", e.Attempts, e.Last)
}

func (e *RetryExhaustedError) Unwrap() error { return e.Last }

type Config struct {
	Retries  int           // extra attempts after the first
	Base     time.Duration // backoff base
	MaxDelay time.Duration // backoff ceiling
}

type Publisher struct {
	sender  Sender
	breaker *Breaker
	logger  *slog.Logger
	cfg     Config
}

func NewPublisher(sender Sender, breaker *Breaker, logger *slog.Logger, cfg Config) *Publisher {
	if cfg.Retries <= 0 {
		cfg.Retries = 3
	}
	if cfg.Base <= 0 {
		cfg.Base = backoffBase
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = backoffMax
	}
	return &Publisher{sender: sender, breaker: breaker, logger: logger, cfg: cfg}
}

// Publish validates, serializes and fans the event out to every channel
// the router resolves. Returns the total subscriber count across
// channels. Oversized or malformed events are rejected before any
// network call; an open breaker rejects without an attempt; transient
// failures are retried with decorrelated jitter.
func (p *Publisher) Publish(ctx context.Context, evt *event.Event) (int64, error) {
	raw, err := evt.Marshal()
	if err != nil {
		if errors.Is(err, event.ErrTooLarge) {
			p.logger.Warn("event rejected: payload over size ceiling",
				"type", evt.Type, "tenant_id", evt.TenantID)
			metrics.PublishFailures.WithLabelValues("size").Inc()
		}
		return 0, err
	}

	if err := p.breaker.Allow(); err != nil {
		metrics.PublishFailures.WithLabelValues("breaker_open").Inc()
		return 0, err
	}

	remaining := routing.Resolve(evt)
	var receivers int64
	var lastErr error

	for attempt := 0; attempt <= p.cfg.Retries; attempt++ {
		if attempt > 0 {
			if err := sleep(ctx, Delay(attempt-1, p.cfg.Base, p.cfg.MaxDelay)); err != nil {
				return receivers, err
			}
		}

		var failed []string
		for _, ch := range remaining {
			n, err := p.sender.Publish(ctx, ch, raw)
			if err != nil {
				lastErr = err
				failed = append(failed, ch)
				continue
			}
			receivers += n
			metrics.Published.WithLabelValues(channelKind(ch)).Inc()
		}
		if len(failed) == 0 {
			p.breaker.Success()
			return receivers, nil
		}
		remaining = failed
		p.breaker.Failure()
	}

	metrics.PublishFailures.WithLabelValues("exhausted").Inc()
	return receivers, &RetryExhaustedError{Attempts: p.cfg.Retries + 1, Last: lastErr}
}

// Go publishes in the background with the outcome observed: failures land
// in the log and the failure counter instead of vanishing with a
// detached goroutine.
func (p *Publisher) Go(ctx context.Context, evt *event.Event) {
	go func() {
		if _, err := p.Publish(ctx, evt); err != nil {
			p.logger.Error("background publish failed", "type", evt.Type, "err", err)
		}
	}()
}

func channelKind(channel string) string {
	if i := strings.IndexByte(channel, ':'); i > 0 {
		return channel[:i]
	}
	return "other"
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
