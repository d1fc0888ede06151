package stream

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tablewave/tablewave/internal/event"
)

// Handler processes one guaranteed-delivery event. A nil return
// acknowledges the entry; an error leaves it pending for reclaim.
type Handler func(ctx context.Context, evt *event.Event) error

type Config struct {
	Stream     string
	Group      string
	Consumer   string        // defaults to a uuid-suffixed name
	Block      time.Duration // XREADGROUP block timeout
	ClaimEvery int           // cycles between pending-entry scans
	MinIdle    time.Duration // pending age before an entry is reclaimed
	MaxRetries int64         // delivery count before dead-lettering
}

// Consumer reads the durable stream used for the small set of event
// types where delivery matters more than latency: payment confirmations
// and kitchen submissions. Entries are acknowledged only after the
// handler succeeds; stuck entries are periodically reclaimed from the
// pending-entries list and, past the retry ceiling, dead-lettered.
type Consumer struct {
	store   Streams
	dlq     *DeadLetter
	handler Handler
	logger  *slog.Logger
	cfg     Config
}

func NewConsumer(store Streams, dlq *DeadLetter, handler Handler, logger *slog.Logger, cfg Config) *Consumer {
	if cfg.Stream == "" {
		cfg.Stream = "events:critical"
	}
	if cfg.Group == "" {
		cfg.Group = "realtime"
	}
	if cfg.Consumer == "" {
		cfg.Consumer = "consumer-" + uuid.NewString()[:8]
	}
	if cfg.Block <= 0 {
		cfg.Block = 5 * time.Second
	}
	if cfg.ClaimEvery <= 0 {
		cfg.ClaimEvery = 30
	}
	if cfg.MinIdle <= 0 {
		cfg.MinIdle = 30 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	return &Consumer{store: store, dlq: dlq, handler: handler, logger: logger, cfg: cfg}
}

// Run blocks until ctx is cancelled. The shutdown flag is only checked
// between cycles; an in-flight read is bounded by the block timeout.
func (c *Consumer) Run(ctx context.Context) {
	if err := c.ensureGroup(ctx); err != nil && ctx.Err() == nil {
		c.logger.Error("consumer group create failed", "err", err)
	}

	cycle := 0
	for ctx.Err() == nil {
		cycle++
		if cycle%c.cfg.ClaimEvery == 0 {
			c.reclaimPending(ctx)
		}
		c.readNew(ctx)
	}
}

func (c *Consumer) ensureGroup(ctx context.Context) error {
	err := c.store.GroupCreate(ctx, c.cfg.Stream, c.cfg.Group, "0")
	if err != nil && strings.Contains(err.Error(), "BUSYGROUP") {
		return nil
	}
	return err
}

// groupMissing is the store telling us the group vanished, typically a
// restart without persistence. Recreate and carry on.
func groupMissing(err error) bool {
	return err != nil && strings.Contains(err.Error(), "NOGROUP")
}

func (c *Consumer) recoverGroup(ctx context.Context) {
	c.logger.Warn("consumer group missing, recreating",
		"stream", c.cfg.Stream, "group", c.cfg.Group)
	if err := c.ensureGroup(ctx); err != nil {
		c.logger.Error("consumer group recreate failed", "err", err)
	}
}

func (c *Consumer) readNew(ctx context.Context) {
	res, err := c.store.ReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.cfg.Group,
		Consumer: c.cfg.Consumer,
		Streams:  []string{c.cfg.Stream, ">"},
		Count:    10,
		Block:    c.cfg.Block,
	})
	if err != nil {
		if errors.Is(err, redis.Nil) || ctx.Err() != nil {
			return
		}
		if groupMissing(err) {
			c.recoverGroup(ctx)
			return
		}
		c.logger.Error("stream read failed", "err", err)
		time.Sleep(time.Second)
		return
	}

	for _, str := range res {
		for _, msg := range str.Messages {
			c.handle(ctx, msg)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, msg redis.XMessage) {
	ctx, span := otel.Tracer("stream").Start(ctx, "stream.consume",
		trace.WithAttributes(
			attribute.String("messaging.system", "redis-streams"),
			attribute.String("messaging.destination", c.cfg.Stream),
		),
	)
	defer span.End()

	payload, _ := msg.Values["payload"].(string)
	evt, err := event.Unmarshal([]byte(payload))
	if err != nil {
		// Malformed entries can never succeed; dead-letter immediately.
		c.logger.Error("stream entry malformed", "id", msg.ID, "err", err)
		_ = c.dlq.Add(ctx, c.cfg.Stream, msg.ID, payload, 0, c.cfg.Consumer)
		c.ack(ctx, msg.ID)
		return
	}

	if err := c.handler(ctx, evt); err != nil {
		span.RecordError(err)
		c.logger.Warn("stream entry handler failed, left pending", "id", msg.ID, "err", err)
		return
	}
	c.ack(ctx, msg.ID)
}

func (c *Consumer) ack(ctx context.Context, id string) {
	if err := c.store.Ack(ctx, c.cfg.Stream, c.cfg.Group, id); err != nil {
		if groupMissing(err) {
			c.recoverGroup(ctx)
			return
		}
		c.logger.Error("stream ack failed", "id", id, "err", err)
	}
}

// reclaimPending scans the pending-entries list for entries stuck longer
// than MinIdle. Entries past the retry ceiling are dead-lettered with
// provenance and acknowledged so they are never reclaimed again; the
// rest are claimed by this consumer and reprocessed.
func (c *Consumer) reclaimPending(ctx context.Context) {
	pending, err := c.store.Pending(ctx, &redis.XPendingExtArgs{
		Stream: c.cfg.Stream,
		Group:  c.cfg.Group,
		Idle:   c.cfg.MinIdle,
		Start:  "-",
		End:    "+",
		Count:  100,
	})
	if err != nil {
		if groupMissing(err) {
			c.recoverGroup(ctx)
		}
		return
	}

	for _, p := range pending {
		if ReclaimDecision(p.RetryCount, c.cfg.MaxRetries) == DecisionDeadLetter {
			claimed, err := c.claim(ctx, p.ID)
			if err != nil || len(claimed) == 0 {
				continue
			}
			payload, _ := claimed[0].Values["payload"].(string)
			if err := c.dlq.Add(ctx, c.cfg.Stream, p.ID, payload, p.RetryCount, c.cfg.Consumer); err != nil {
				c.logger.Error("dead-letter write failed", "id", p.ID, "err", err)
				continue
			}
			c.ack(ctx, p.ID)
			c.logger.Warn("stream entry dead-lettered", "id", p.ID, "retries", p.RetryCount)
			continue
		}

		claimed, err := c.claim(ctx, p.ID)
		if err != nil || len(claimed) == 0 {
			continue
		}
		c.handle(ctx, claimed[0])
	}
}

func (c *Consumer) claim(ctx context.Context, id string) ([]redis.XMessage, error) {
	msgs, err := c.store.Claim(ctx, &redis.XClaimArgs{
		Stream:   c.cfg.Stream,
		Group:    c.cfg.Group,
		Consumer: c.cfg.Consumer,
		MinIdle:  c.cfg.MinIdle,
		Messages: []string{id},
	})
	if err != nil && groupMissing(err) {
		c.recoverGroup(ctx)
	}
	return msgs, err
}

type Decision int

const (
	DecisionRetry Decision = iota
	DecisionDeadLetter
)

// ReclaimDecision decides what happens to a reclaimed pending entry:
// past the retry ceiling it is dead-lettered, otherwise reprocessed.
func ReclaimDecision(retryCount, maxRetries int64) Decision {
	if retryCount > maxRetries {
		return DecisionDeadLetter
	}
	return DecisionRetry
}
