package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
)

// Backend kinds accepted by Open.
const (
	KindMemory = "memory"
	KindRedis  = "redis"
	KindSQLite = "sqlite"
)

// Options selects and configures the backends.
type Options struct {
	Kind       string
	RedisURL   string
	SQLitePath string
	Logger     *slog.Logger

	// Clock drives TTLs and the expired key sweep. Defaults to the real clock.
	Clock clockwork.Clock
	// SweepInterval defaults to DefaultSweepInterval.
	SweepInterval time.Duration
}

// Stores holds the durable backend (profile scope) and the ephemeral
// backend (window scope).
type Stores struct {
	Durable   Backend
	Ephemeral Backend

	redis   *RedisBackend
	janitor *Janitor
}

// Open creates the backends for opts.Kind. With redis both scopes share one
// connection; otherwise window records live in memory.
func Open(ctx context.Context, opts Options) (*Stores, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	newMemory := func() *MemoryBackend {
		return NewMemoryBackend(WithMemoryLogger(logger), WithMemoryClock(clock))
	}
	sweep := func(stores *Stores, sweepers ...Sweeper) *Stores {
		stores.janitor = StartJanitor(ctx, opts.SweepInterval, clock, logger, sweepers...)
		return stores
	}

	switch opts.Kind {
	case KindMemory, "":
		durable, ephemeral := newMemory(), newMemory()
		return sweep(&Stores{
			Durable:   Instrument(durable),
			Ephemeral: Instrument(ephemeral),
		}, durable, ephemeral), nil

	case KindRedis:
		rb, err := NewRedisBackend(opts.RedisURL, logger)
		if err != nil {
			return nil, err
		}
		if err := rb.Ping(ctx); err != nil {
			_ = rb.Close()
			return nil, fmt.Errorf("redis backend: %w", err)
		}
		backend := Instrument(rb)
		return &Stores{Durable: backend, Ephemeral: backend, redis: rb}, nil

	case KindSQLite:
		sb, err := newSQLiteBackend(ctx, opts.SQLitePath, logger, clock)
		if err != nil {
			return nil, err
		}
		ephemeral := newMemory()
		return sweep(&Stores{
			Durable:   Instrument(sb),
			Ephemeral: Instrument(ephemeral),
		}, sb, ephemeral), nil

	default:
		return nil, fmt.Errorf("unknown storage backend %q", opts.Kind)
	}
}

// RedisClient returns the shared redis connection, or nil for the other kinds.
func (s *Stores) RedisClient() *redis.Client {
	if s.redis == nil {
		return nil
	}
	return s.redis.Client()
}

// Ping checks both backends.
func (s *Stores) Ping(ctx context.Context) error {
	if err := s.Durable.Ping(ctx); err != nil {
		return err
	}
	if s.Ephemeral != s.Durable {
		return s.Ephemeral.Ping(ctx)
	}
	return nil
}

// Sweep purges expired keys now. It returns 0 for redis.
func (s *Stores) Sweep(ctx context.Context) int64 {
	if s.janitor == nil {
		return 0
	}
	return s.janitor.Sweep(ctx)
}

// Close stops the sweep and closes both backends.
func (s *Stores) Close() error {
	if s.janitor != nil {
		s.janitor.Stop()
	}

	var errs []error
	if err := s.Durable.Close(); err != nil {
		errs = append(errs, err)
	}
	if s.Ephemeral != s.Durable {
		if err := s.Ephemeral.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
