package stream

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// Streams is the slice of the store the guaranteed path touches. The
// production implementation is a go-redis client from the async pool;
// tests substitute an in-memory fake.
type Streams interface {
	GroupCreate(ctx context.Context, stream, group, start string) error
	ReadGroup(ctx context.Context, args *redis.XReadGroupArgs) ([]redis.XStream, error)
	Pending(ctx context.Context, args *redis.XPendingExtArgs) ([]redis.XPendingExt, error)
	Claim(ctx context.Context, args *redis.XClaimArgs) ([]redis.XMessage, error)
	Ack(ctx context.Context, stream, group string, ids ...string) error
	Add(ctx context.Context, args *redis.XAddArgs) (string, error)
}

type RedisStreams struct {
	Client *redis.Client
}

func (s RedisStreams) GroupCreate(ctx context.Context, stream, group, start string) error {
	return s.Client.XGroupCreateMkStream(ctx, stream, group, start).Err()
}

func (s RedisStreams) ReadGroup(ctx context.Context, args *redis.XReadGroupArgs) ([]redis.XStream, error) {
	return s.Client.XReadGroup(ctx, args).Result()
}

func (s RedisStreams) Pending(ctx context.Context, args *redis.XPendingExtArgs) ([]redis.XPendingExt, error) {
	return s.Client.XPendingExt(ctx, args).Result()
}

func (s RedisStreams) Claim(ctx context.Context, args *redis.XClaimArgs) ([]redis.XMessage, error) {
	return s.Client.XClaim(ctx, args).Result()
}

func (s RedisStreams) Ack(ctx context.Context, stream, group string, ids ...string) error {
	return s.Client.XAck(ctx, stream, group, ids...).Err()
}

func (s RedisStreams) Add(ctx context.Context, args *redis.XAddArgs) (string, error) {
	return s.Client.XAdd(ctx, args).Result()
}
