package storage

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/hairscope-lab/internal/logging"
)

func fillExpiring(t *testing.T, backend Backend, n int, ttl time.Duration) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < n; i++ {
		require.NoError(t, backend.Set(ctx, fmt.Sprintf("entry-pass:%d", i), "1", ttl))
	}
	require.NoError(t, backend.Set(ctx, "profile:p1:hs_deadline_ts", "1", 0))
}

func TestOpen_SweepsExpiredKeys(t *testing.T) {
	t.Run("Memory", func(t *testing.T) {
		clock := clockwork.NewFakeClock()
		stores, err := Open(context.Background(), Options{
			Kind:          KindMemory,
			Clock:         clock,
			SweepInterval: time.Minute,
			Logger:        logging.Discard(),
		})
		require.NoError(t, err)
		defer stores.Close()

		durable := stores.Durable.(*Instrumented).Backend.(*MemoryBackend)
		fillExpiring(t, stores.Durable, 1000, time.Minute)
		require.Equal(t, 1001, durable.Len())

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		require.NoError(t, clock.BlockUntilContext(ctx, 1))

		assert.Eventually(t, func() bool {
			clock.Advance(time.Hour)
			return durable.Len() == 1
		}, 2*time.Second, 10*time.Millisecond, "expired keys are purged without being read")
	})

	t.Run("SQLite", func(t *testing.T) {
		clock := clockwork.NewFakeClock()
		stores, err := Open(context.Background(), Options{
			Kind:          KindSQLite,
			SQLitePath:    t.TempDir() + "/lab.db",
			Clock:         clock,
			SweepInterval: time.Hour,
			Logger:        logging.Discard(),
		})
		require.NoError(t, err)
		defer stores.Close()

		fillExpiring(t, stores.Durable, 50, time.Minute)
		clock.Advance(2 * time.Minute)

		assert.Equal(t, int64(50), stores.Sweep(context.Background()))

		sb := stores.Durable.(*Instrumented).Backend.(*SQLiteBackend)
		var rows int
		require.NoError(t, sb.db.Select("COUNT(*)").From(sqliteTable).Row(&rows))
		assert.Equal(t, 1, rows)
	})
}

type failingSweeper struct{}

func (failingSweeper) Name() string { return "broken" }

func (failingSweeper) SweepExpired(context.Context) (int64, error) {
	return 0, errors.New("disk I/O error")
}

func TestJanitor_ContinuesPastFailures(t *testing.T) {
	clock := clockwork.NewFakeClock()
	memory := NewMemoryBackend(WithMemoryClock(clock))
	require.NoError(t, memory.Set(context.Background(), "k", "v", time.Second))

	j := StartJanitor(context.Background(), time.Minute, clock, logging.Discard(), failingSweeper{}, memory)
	clock.Advance(time.Minute)
	assert.Equal(t, int64(1), j.Sweep(context.Background()))

	j.Stop()
	select {
	case <-j.done:
	default:
		t.Fatal("janitor still running after Stop")
	}
}

func TestJanitor_OutlivesOpenContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	clock := clockwork.NewFakeClock()
	j := StartJanitor(ctx, time.Minute, clock, logging.Discard())
	cancel()

	select {
	case <-j.done:
		t.Fatal("janitor stopped with the caller's context")
	case <-time.After(50 * time.Millisecond):
	}
	j.Stop()
}
