package stream

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/tablewave/tablewave/internal/metrics"
)

// DeadLetter parks entries that exhausted their retry budget, with enough
// provenance to replay them by hand.
type DeadLetter struct {
	store  Streams
	stream string
}

func NewDeadLetter(store Streams, stream string) *DeadLetter {
	if stream == "" {
		stream = "events:dlq"
	}
	return &DeadLetter{store: store, stream: stream}
}

func (d *DeadLetter) Add(ctx context.Context, source, originalID, payload string, retries int64, consumer string) error {
	_, err := d.store.Add(ctx, &redis.XAddArgs{
		Stream: d.stream,
		Values: map[string]any{
			"original_id":   originalID,
			"source_stream": source,
			"payload":       payload,
			"retry_count":   retries,
			"failed_at":     time.Now().UTC().Format(time.RFC3339),
			"consumer":      consumer,
		},
	})
	if err == nil {
		metrics.DeadLettered.Inc()
	}
	return err
}
