package healthstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore persists the health record in Redis so that every proxy
// instance in a fleet routes from the same signal.
type RedisStore struct {
	client *redis.Client
	key    string
}

// RedisOptions is the subset of connection settings the proxy exposes.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	// KeyPrefix is prepended to RecordKey, e.g. "oneapi:".
	KeyPrefix string
}

// NewRedisStore connects to Redis and verifies the connection with a ping.
func NewRedisStore(ctx context.Context, opts RedisOptions) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis %s: %w", opts.Addr, err)
	}
	return &RedisStore{client: client, key: opts.KeyPrefix + RecordKey}, nil
}

func (r *RedisStore) Status(ctx context.Context) (Status, error) {
	v, err := r.client.Get(ctx, r.key).Result()
	if errors.Is(err, redis.Nil) {
		// Absent is a meaningful state: the record expired or was never
		// written, and routing defaults to healthy.
		return StatusUnknown, nil
	}
	if err != nil {
		return StatusUnknown, fmt.Errorf("get %s: %w", r.key, err)
	}
	return ParseStatus(v), nil
}

func (r *RedisStore) SetStatus(ctx context.Context, s Status, ttl time.Duration) error {
	if err := r.client.Set(ctx, r.key, s.String(), ttl).Err(); err != nil {
		return fmt.Errorf("set %s: %w", r.key, err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (r *RedisStore) Close() error {
	return r.client.Close()
}
