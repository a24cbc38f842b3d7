package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisKeyPrefix is prepended to every key written by RedisBackend.
const DefaultRedisKeyPrefix = "hairscope:"

const scanBatchSize = 256

// RedisBackend implements Backend on top of Redis. Change notices travel
// over Redis Pub/Sub, so sibling windows served by different instances
// still observe each other.
type RedisBackend struct {
	rdb    *redis.Client
	prefix string
	logger *slog.Logger
}

// NewRedisBackend creates a backend from a URL such as "redis://localhost:6379/0".
func NewRedisBackend(redisURL string, logger *slog.Logger) (*RedisBackend, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	return NewRedisBackendFromClient(redis.NewClient(opts), logger), nil
}

// NewRedisBackendFromClient wraps an existing client.
func NewRedisBackendFromClient(rdb *redis.Client, logger *slog.Logger) *RedisBackend {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisBackend{
		rdb:    rdb,
		prefix: DefaultRedisKeyPrefix,
		logger: logger,
	}
}

// Name returns the backend name.
func (r *RedisBackend) Name() string {
	return "redis"
}

// Client returns the raw go-redis client for components sharing the connection.
func (r *RedisBackend) Client() *redis.Client {
	return r.rdb
}

func (r *RedisBackend) key(k string) string {
	return r.prefix + k
}

// Get retrieves a value from Redis
func (r *RedisBackend) Get(ctx context.Context, key string) (string, error) {
	val, err := r.rdb.Get(ctx, r.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("%w: get %s: %w", ErrUnavailable, key, err)
	}
	return val, nil
}

// Set stores a value in Redis with an optional TTL
func (r *RedisBackend) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := r.rdb.Set(ctx, r.key(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("%w: set %s: %w", ErrUnavailable, key, err)
	}
	return nil
}

// SetNX stores a value with SET NX. Redis drops expired keys itself.
func (r *RedisBackend) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	ok, err := r.rdb.SetNX(ctx, r.key(key), value, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("%w: setnx %s: %w", ErrUnavailable, key, err)
	}
	return ok, nil
}

// Delete removes keys from Redis
func (r *RedisBackend) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}

	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = r.key(k)
	}
	if err := r.rdb.Del(ctx, full...).Err(); err != nil {
		return fmt.Errorf("%w: delete: %w", ErrUnavailable, err)
	}
	return nil
}

// DeletePrefix scans for keys starting with prefix and deletes them in batches.
func (r *RedisBackend) DeletePrefix(ctx context.Context, prefix string) error {
	var cursor uint64
	match := r.key(escapeGlob(prefix)) + "*"

	for {
		keys, next, err := r.rdb.Scan(ctx, cursor, match, scanBatchSize).Result()
		if err != nil {
			return fmt.Errorf("%w: scan %s: %w", ErrUnavailable, prefix, err)
		}
		if len(keys) > 0 {
			if err := r.rdb.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("%w: delete prefix %s: %w", ErrUnavailable, prefix, err)
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

// Publish sends a JSON-encoded change notice on channel.
func (r *RedisBackend) Publish(ctx context.Context, channel string, change Change) error {
	data, err := json.Marshal(change)
	if err != nil {
		return fmt.Errorf("failed to marshal change: %w", err)
	}
	if err := r.rdb.Publish(ctx, r.key(channel), data).Err(); err != nil {
		return fmt.Errorf("%w: publish %s: %w", ErrUnavailable, channel, err)
	}
	return nil
}

// Subscribe subscribes to change notices on channel.
func (r *RedisBackend) Subscribe(ctx context.Context, channel string) (*Subscription, error) {
	sub := r.rdb.Subscribe(ctx, r.key(channel))

	// Wait for the subscription confirmation so that notices published right
	// after Subscribe returns are not lost.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("%w: subscribe %s: %w", ErrUnavailable, channel, err)
	}

	subCtx, cancel := context.WithCancel(ctx)
	ch := make(chan Change, subscriberBuffer)

	go func() {
		defer close(ch)
		msgCh := sub.Channel()
		for {
			select {
			case msg, ok := <-msgCh:
				if !ok {
					return
				}
				var change Change
				if err := json.Unmarshal([]byte(msg.Payload), &change); err != nil {
					r.logger.Warn("Failed to unmarshal change notice", "channel", channel, "error", err)
					continue
				}
				select {
				case ch <- change:
				default:
					// Drop if receiver is slow
				}
			case <-subCtx.Done():
				return
			}
		}
	}()

	return newSubscription(ch, func() error {
		cancel()
		return sub.Close()
	}), nil
}

// Ping verifies the Redis connection.
func (r *RedisBackend) Ping(ctx context.Context) error {
	if err := r.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return nil
}

// Close closes the Redis connection.
func (r *RedisBackend) Close() error {
	return r.rdb.Close()
}

// escapeGlob escapes the characters SCAN MATCH treats as pattern syntax.
func escapeGlob(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '*', '?', '[', ']', '\\':
			out = append(out, '\\')
		}
		out = append(out, s[i])
	}
	return string(out)
}
