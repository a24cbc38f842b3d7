package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pocketbase/dbx"

	// Registers the "sqlite" driver.
	_ "modernc.org/sqlite"
)

const sqliteTable = "kv_entries"

const sqliteSchema = `CREATE TABLE IF NOT EXISTS kv_entries (
	id         TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	expires_at INTEGER NOT NULL DEFAULT 0
)`

// SQLiteBackend implements Backend on a single SQLite file. It survives
// restarts, which makes it the durable choice for single-instance deployments.
// Change notices are delivered in-process only.
type SQLiteBackend struct {
	db    *dbx.DB
	hub   *hub
	clock clockwork.Clock
}

// NewSQLiteBackend opens (or creates) the database at path and ensures the schema.
func NewSQLiteBackend(ctx context.Context, path string, logger *slog.Logger) (*SQLiteBackend, error) {
	return newSQLiteBackend(ctx, path, logger, clockwork.NewRealClock())
}

func newSQLiteBackend(ctx context.Context, path string, logger *slog.Logger, clock clockwork.Clock) (*SQLiteBackend, error) {
	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := dbx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// SQLite serialises writers; one connection avoids SQLITE_BUSY churn.
	db.DB().SetMaxOpenConns(1)

	if _, err := db.NewQuery(sqliteSchema).WithContext(ctx).Execute(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create kv schema: %w", err)
	}

	return &SQLiteBackend{
		db:    db,
		hub:   newHub("sqlite", logger),
		clock: clock,
	}, nil
}

// Name returns the backend name.
func (s *SQLiteBackend) Name() string {
	return "sqlite"
}

// Get retrieves a value, treating expired rows as absent.
func (s *SQLiteBackend) Get(ctx context.Context, key string) (string, error) {
	var (
		value     string
		expiresAt int64
	)

	err := s.db.NewQuery("SELECT value, expires_at FROM kv_entries WHERE id = {:id}").
		Bind(dbx.Params{"id": key}).
		WithContext(ctx).
		Row(&value, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("%w: get %s: %w", ErrUnavailable, key, err)
	}

	if expiresAt > 0 && s.clock.Now().UnixMilli() >= expiresAt {
		_ = s.Delete(ctx, key)
		return "", ErrNotFound
	}
	return value, nil
}

// Set upserts a value with an optional TTL.
func (s *SQLiteBackend) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	var expiresAt int64
	if ttl > 0 {
		expiresAt = s.clock.Now().Add(ttl).UnixMilli()
	}

	_, err := s.db.NewQuery(`INSERT INTO kv_entries (id, value, expires_at)
		VALUES ({:id}, {:value}, {:expires_at})
		ON CONFLICT(id) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at`).
		Bind(dbx.Params{
			"id":         key,
			"value":      value,
			"expires_at": expiresAt,
		}).
		WithContext(ctx).
		Execute()
	if err != nil {
		return fmt.Errorf("%w: set %s: %w", ErrUnavailable, key, err)
	}
	return nil
}

// SetNX inserts a value unless a live row already holds the key. An expired
// row is overwritten in the same statement.
func (s *SQLiteBackend) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	now := s.clock.Now()
	var expiresAt int64
	if ttl > 0 {
		expiresAt = now.Add(ttl).UnixMilli()
	}

	res, err := s.db.NewQuery(`INSERT INTO kv_entries (id, value, expires_at)
		VALUES ({:id}, {:value}, {:expires_at})
		ON CONFLICT(id) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at
		WHERE kv_entries.expires_at > 0 AND kv_entries.expires_at <= {:now}`).
		Bind(dbx.Params{
			"id":         key,
			"value":      value,
			"expires_at": expiresAt,
			"now":        now.UnixMilli(),
		}).
		WithContext(ctx).
		Execute()
	if err != nil {
		return false, fmt.Errorf("%w: setnx %s: %w", ErrUnavailable, key, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%w: setnx %s: %w", ErrUnavailable, key, err)
	}
	return n == 1, nil
}

// Delete removes keys.
func (s *SQLiteBackend) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}

	ids := make([]interface{}, len(keys))
	for i, k := range keys {
		ids[i] = k
	}
	if _, err := s.db.Delete(sqliteTable, dbx.HashExp{"id": ids}).WithContext(ctx).Execute(); err != nil {
		return fmt.Errorf("%w: delete: %w", ErrUnavailable, err)
	}
	return nil
}

// DeletePrefix removes every key starting with prefix.
func (s *SQLiteBackend) DeletePrefix(ctx context.Context, prefix string) error {
	var where dbx.Expression
	if prefix != "" {
		// LIKE would need an ESCAPE clause for keys holding '_' or '%'.
		where = dbx.NewExp("substr(id, 1, length({:prefix})) = {:prefix}", dbx.Params{"prefix": prefix})
	}
	if _, err := s.db.Delete(sqliteTable, where).WithContext(ctx).Execute(); err != nil {
		return fmt.Errorf("%w: delete prefix %s: %w", ErrUnavailable, prefix, err)
	}
	return nil
}

// SweepExpired deletes rows whose TTL has elapsed and returns the count.
func (s *SQLiteBackend) SweepExpired(ctx context.Context) (int64, error) {
	res, err := s.db.Delete(sqliteTable, dbx.NewExp(
		"expires_at > 0 AND expires_at <= {:now}",
		dbx.Params{"now": s.clock.Now().UnixMilli()},
	)).WithContext(ctx).Execute()
	if err != nil {
		return 0, fmt.Errorf("%w: sweep: %w", ErrUnavailable, err)
	}
	return res.RowsAffected()
}

// Publish fans the change out to in-process subscribers.
func (s *SQLiteBackend) Publish(_ context.Context, channel string, change Change) error {
	s.hub.publish(channel, change)
	return nil
}

// Subscribe registers an in-process subscriber on channel.
func (s *SQLiteBackend) Subscribe(ctx context.Context, channel string) (*Subscription, error) {
	return s.hub.subscribe(ctx, channel), nil
}

// Ping verifies the database connection.
func (s *SQLiteBackend) Ping(ctx context.Context) error {
	if err := s.db.DB().PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return nil
}

// Close ends subscriptions and closes the database.
func (s *SQLiteBackend) Close() error {
	s.hub.closeAll()
	return s.db.Close()
}
