package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

// ErrInvalidRedisConfig indicates the provided redis configuration is invalid.
var ErrInvalidRedisConfig = errors.New("invalid redis config")

// RedisConfig configures the Redis-backed store.
type RedisConfig struct {
	// Address is the host:port of a standalone Redis node.
	Address string
	// Username and Password are optional credentials.
	Username string
	Password string
	// DB selects the logical database.
	DB int
	// KeyPrefix namespaces all keys, so multiple engines can share one node.
	KeyPrefix string
}

// Redis is a Store backed by a Redis node. Apply uses a TxPipeline so the
// whole batch commits in a single MULTI/EXEC round trip.
type Redis struct {
	client *redis.Client
	prefix string
}

// Compile-time assertion: *Redis implements Store.
var _ Store = (*Redis)(nil)

// NewRedis connects to Redis and verifies the connection with a ping.
func NewRedis(ctx context.Context, cfg RedisConfig) (*Redis, error) {
	if strings.TrimSpace(cfg.Address) == "" {
		return nil, fmt.Errorf("%w: address is required", ErrInvalidRedisConfig)
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()

		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &Redis{client: client, prefix: cfg.KeyPrefix}, nil
}

// NewRedisFromClient wraps an existing client, e.g. one shared with other
// components or created by a test container.
func NewRedisFromClient(client *redis.Client, keyPrefix string) *Redis {
	return &Redis{client: client, prefix: keyPrefix}
}

func (r *Redis) key(key string) string {
	return r.prefix + key
}

// Get returns the value for key, or ErrKeyNotFound.
func (r *Redis) Get(ctx context.Context, key string) ([]byte, error) {
	value, err := r.client.Get(ctx, r.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrKeyNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("redis get %q: %w", key, err)
	}

	return value, nil
}

// Has reports whether key exists.
func (r *Redis) Has(ctx context.Context, key string) (bool, error) {
	count, err := r.client.Exists(ctx, r.key(key)).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists %q: %w", key, err)
	}

	return count > 0, nil
}

// Apply writes all entries atomically via a transactional pipeline.
func (r *Redis) Apply(ctx context.Context, entries ...Entry) error {
	if len(entries) == 0 {
		return nil
	}

	pipe := r.client.TxPipeline()
	for _, entry := range entries {
		pipe.Set(ctx, r.key(entry.Key), entry.Value, 0)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis apply: %w", err)
	}

	return nil
}

// Close releases the underlying client.
func (r *Redis) Close() error {
	return r.client.Close()
}
