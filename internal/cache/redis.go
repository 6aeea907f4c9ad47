package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const redisWriteTimeout = 200 * time.Millisecond

var _ Replica = (*RedisReplica)(nil)

// RedisReplica mirrors cache writes into Redis or Valkey. A single address
// uses a plain client, several addresses a cluster client.
type RedisReplica struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisReplica creates a replica writing keys as prefix+key. A zero ttl
// keeps entries until they are overwritten.
func NewRedisReplica(addrs []string, prefix string, ttl time.Duration) *RedisReplica {
	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:       addrs,
		DialTimeout: 2 * time.Second,
	})
	return &RedisReplica{client: client, prefix: prefix, ttl: ttl}
}

func (r *RedisReplica) Name() string {
	return "redis"
}

func (r *RedisReplica) Replicate(ctx context.Context, key string, value []byte) error {
	ctx, span := otel.Tracer("kafkameta-cache").Start(ctx, "redis.Replicate")
	defer span.End()

	span.SetAttributes(
		attribute.String("cache.driver", "redis"),
		attribute.String("cache.key", r.prefix+key),
		attribute.Int64("cache.ttl", int64(r.ttl.Seconds())),
	)

	ctx, cancel := context.WithTimeout(ctx, redisWriteTimeout)
	defer cancel()

	if err := r.client.Set(ctx, r.prefix+key, value, r.ttl).Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("redis set: %w", err)
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

func (r *RedisReplica) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisReplica) Close() {
	r.client.Close()
}
