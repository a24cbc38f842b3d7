package storage

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryBackend(t *testing.T) {
	ctx := context.Background()

	t.Run("SetAndGet", func(t *testing.T) {
		m := NewMemoryBackend()
		require.NoError(t, m.Set(ctx, "a", "1", 0))

		v, err := m.Get(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, "1", v)
	})

	t.Run("MissingKey", func(t *testing.T) {
		m := NewMemoryBackend()
		_, err := m.Get(ctx, "nope")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("TTLExpiry", func(t *testing.T) {
		clock := clockwork.NewFakeClockAt(time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC))
		m := NewMemoryBackend(WithMemoryClock(clock))
		require.NoError(t, m.Set(ctx, "a", "1", time.Minute))

		clock.Advance(59 * time.Second)
		_, err := m.Get(ctx, "a")
		require.NoError(t, err)

		clock.Advance(time.Second)
		_, err = m.Get(ctx, "a")
		assert.ErrorIs(t, err, ErrNotFound)
		assert.Equal(t, 0, m.Len())
	})

	t.Run("Sweep", func(t *testing.T) {
		clock := clockwork.NewFakeClock()
		m := NewMemoryBackend(WithMemoryClock(clock))
		require.NoError(t, m.Set(ctx, "short", "1", time.Second))
		require.NoError(t, m.Set(ctx, "forever", "1", 0))

		clock.Advance(time.Hour)
		n, err := m.SweepExpired(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
		assert.Equal(t, 1, m.Len())
	})

	t.Run("DeleteAndDeletePrefix", func(t *testing.T) {
		m := NewMemoryBackend()
		require.NoError(t, m.Set(ctx, "p:1", "x", 0))
		require.NoError(t, m.Set(ctx, "p:2", "x", 0))
		require.NoError(t, m.Set(ctx, "q:1", "x", 0))

		require.NoError(t, m.Delete(ctx, "p:1", "missing"))
		_, err := m.Get(ctx, "p:1")
		assert.ErrorIs(t, err, ErrNotFound)

		require.NoError(t, m.DeletePrefix(ctx, "p:"))
		_, err = m.Get(ctx, "p:2")
		assert.ErrorIs(t, err, ErrNotFound)

		v, err := m.Get(ctx, "q:1")
		require.NoError(t, err)
		assert.Equal(t, "x", v)
	})

	t.Run("ClosedBackend", func(t *testing.T) {
		m := NewMemoryBackend()
		require.NoError(t, m.Close())
		require.NoError(t, m.Close())

		_, err := m.Get(ctx, "a")
		assert.ErrorIs(t, err, ErrClosed)
		assert.ErrorIs(t, m.Set(ctx, "a", "1", 0), ErrClosed)
		assert.ErrorIs(t, m.Ping(ctx), ErrClosed)
	})
}

func TestMemoryBackend_PubSub(t *testing.T) {
	ctx := context.Background()

	t.Run("DeliversToAllSubscribers", func(t *testing.T) {
		m := NewMemoryBackend()
		s1, err := m.Subscribe(ctx, "ch")
		require.NoError(t, err)
		defer s1.Close()
		s2, err := m.Subscribe(ctx, "ch")
		require.NoError(t, err)
		defer s2.Close()

		require.NoError(t, m.Publish(ctx, "ch", Change{Kind: ChangeReset}))

		for _, s := range []*Subscription{s1, s2} {
			select {
			case c := <-s.C:
				assert.Equal(t, ChangeReset, c.Kind)
			case <-time.After(time.Second):
				t.Fatal("timed out waiting for change")
			}
		}
	})

	t.Run("OtherChannelsNotDelivered", func(t *testing.T) {
		m := NewMemoryBackend()
		s, err := m.Subscribe(ctx, "a")
		require.NoError(t, err)
		defer s.Close()

		require.NoError(t, m.Publish(ctx, "b", Change{Kind: ChangeStarted}))

		select {
		case c := <-s.C:
			t.Fatalf("unexpected change %v", c)
		default:
		}
	})

	t.Run("CloseEndsSubscription", func(t *testing.T) {
		m := NewMemoryBackend()
		m.hub.live = prometheus.NewGauge(prometheus.GaugeOpts{Name: "test_subscribers"})
		s, err := m.Subscribe(ctx, "ch")
		require.NoError(t, err)
		assert.Equal(t, float64(1), promtestutil.ToFloat64(m.hub.live))

		require.NoError(t, s.Close())
		require.NoError(t, s.Close())

		_, ok := <-s.C
		assert.False(t, ok)
		assert.Equal(t, float64(0), promtestutil.ToFloat64(m.hub.live), "double close counts once")
	})

	t.Run("ContextCancelEndsSubscription", func(t *testing.T) {
		m := NewMemoryBackend()
		subCtx, cancel := context.WithCancel(ctx)
		s, err := m.Subscribe(subCtx, "ch")
		require.NoError(t, err)

		cancel()
		select {
		case _, ok := <-s.C:
			assert.False(t, ok)
		case <-time.After(time.Second):
			t.Fatal("subscription not closed after cancel")
		}
	})

	t.Run("SlowSubscriberDoesNotBlockPublisher", func(t *testing.T) {
		m := NewMemoryBackend()
		s, err := m.Subscribe(ctx, "ch")
		require.NoError(t, err)
		defer s.Close()

		for i := 0; i < subscriberBuffer*2; i++ {
			require.NoError(t, m.Publish(ctx, "ch", Change{Kind: ChangeStarted}))
		}
		assert.Len(t, s.C, subscriberBuffer)
	})

	t.Run("BackendCloseEndsSubscriptions", func(t *testing.T) {
		m := NewMemoryBackend()
		s, err := m.Subscribe(ctx, "ch")
		require.NoError(t, err)

		require.NoError(t, m.Close())
		_, ok := <-s.C
		assert.False(t, ok)
		assert.NoError(t, s.Close())
	})
}
