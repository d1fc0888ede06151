package outbox

import (
	"context"
	"log/slog"
	"time"

	"github.com/tablewave/tablewave/internal/event"
	"github.com/tablewave/tablewave/internal/metrics"
	otelx "github.com/tablewave/tablewave/libs/otel"
)

// Store is what the processor needs from the outbox table.
type Store interface {
	FetchPending(ctx context.Context, limit int) ([]Record, error)
	Claim(ctx context.Context, id int64) (bool, error)
	MarkPublished(ctx context.Context, id int64) error
	RecordFailure(ctx context.Context, id int64, retryCount, maxRetries int, cause string) error
}

// Broker is the publish side; satisfied by publish.Publisher.
type Broker interface {
	Publish(ctx context.Context, evt *event.Event) (int64, error)
}

type ProcessorConfig struct {
	Interval   time.Duration // poll cadence, default 1s
	BatchSize  int
	MaxRetries int // attempts before a row goes FAILED
}

// Processor polls PENDING rows and publishes them. The business commit
// already made the event durable; everything here is at-least-once
// delivery on top of that fact.
type Processor struct {
	store  Store
	broker Broker
	logger *slog.Logger
	cfg    ProcessorConfig
}

func NewProcessor(store Store, broker Broker, logger *slog.Logger, cfg ProcessorConfig) *Processor {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}
	return &Processor{store: store, broker: broker, logger: logger, cfg: cfg}
}

// Run polls until ctx is cancelled. Shutdown is checked between cycles,
// never mid-row.
func (p *Processor) Run(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.Cycle(ctx); err != nil {
				p.logger.Error("outbox cycle failed", "err", err)
			}
		}
	}
}

// Cycle processes one batch of PENDING rows. Rows another instance
// claimed in the meantime are skipped; a claim here is exclusive.
func (p *Processor) Cycle(ctx context.Context) error {
	records, err := p.store.FetchPending(ctx, p.cfg.BatchSize)
	if err != nil {
		return err
	}

	for _, rec := range records {
		claimed, err := p.store.Claim(ctx, rec.ID)
		if err != nil {
			return err
		}
		if !claimed {
			continue
		}
		p.process(ctx, rec)
	}
	return nil
}

func (p *Processor) process(ctx context.Context, rec Record) {
	ctx = otelx.ContextWithTraceContext(ctx, rec.Traceparent, rec.Tracestate)

	evt, err := event.Unmarshal(rec.Payload)
	if err == nil {
		_, err = p.broker.Publish(ctx, evt)
	}
	if err != nil {
		retries := rec.RetryCount + 1
		if markErr := p.store.RecordFailure(ctx, rec.ID, retries, p.cfg.MaxRetries, err.Error()); markErr != nil {
			p.logger.Error("outbox failure not recorded", "id", rec.ID, "err", markErr)
			return
		}
		if retries >= p.cfg.MaxRetries {
			metrics.OutboxProcessed.WithLabelValues("failed").Inc()
			p.logger.Error("outbox row exhausted retries", "id", rec.ID, "event_type", rec.EventType, "err", err)
		} else {
			metrics.OutboxProcessed.WithLabelValues("retried").Inc()
			p.logger.Warn("outbox publish failed, will retry", "id", rec.ID, "retry", retries, "err", err)
		}
		return
	}

	if err := p.store.MarkPublished(ctx, rec.ID); err != nil {
		p.logger.Error("outbox row published but not marked", "id", rec.ID, "err", err)
		return
	}
	metrics.OutboxProcessed.WithLabelValues("published").Inc()
}
