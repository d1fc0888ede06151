package stream

import (
	"context"

	"github.com/redis/go-redis/v9"
	"github.com/tablewave/tablewave/internal/event"
)

// Producer appends critical events to the durable stream. Callers that
// need the guarantee use this (usually via the outbox) instead of the
// fire-path publisher.
type Producer struct {
	store  Streams
	stream string
}

func NewProducer(store Streams, stream string) *Producer {
	if stream == "" {
		stream = "events:critical"
	}
	return &Producer{store: store, stream: stream}
}

func (p *Producer) Append(ctx context.Context, evt *event.Event) (string, error) {
	raw, err := evt.Marshal()
	if err != nil {
		return "", err
	}
	return p.store.Add(ctx, &redis.XAddArgs{
		Stream: p.stream,
		Values: map[string]any{
			"payload":    string(raw),
			"event_type": evt.Type,
		},
	})
}
