package sessiontimer

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/hairscope-lab/internal/logging"
	"github.com/ericfisherdev/hairscope-lab/internal/storage"
)

var t0 = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

type timerFixture struct {
	clock     *clockwork.FakeClock
	durable   *storage.MemoryBackend
	ephemeral *storage.MemoryBackend
	provider  *Provider
}

func newFixture(t *testing.T, allocation time.Duration) *timerFixture {
	t.Helper()
	clock := clockwork.NewFakeClockAt(t0)
	durable := storage.NewMemoryBackend(storage.WithMemoryClock(clock))
	ephemeral := storage.NewMemoryBackend(storage.WithMemoryClock(clock))
	t.Cleanup(func() {
		_ = durable.Close()
		_ = ephemeral.Close()
	})

	return &timerFixture{
		clock:     clock,
		durable:   durable,
		ephemeral: ephemeral,
		provider: NewProvider(durable, ephemeral,
			WithAllocation(allocation),
			WithClock(clock),
			WithLogger(logging.Discard()),
		),
	}
}

func (f *timerFixture) rawDeadline(t *testing.T, profileID string) string {
	t.Helper()
	v, err := f.durable.Get(context.Background(), ProfilePrefix(profileID)+KeyDeadline)
	require.NoError(t, err)
	return v
}

func TestStartOrResume_RemainingIsFullAllocation(t *testing.T) {
	ctx := context.Background()

	for _, allocation := range []time.Duration{time.Millisecond, time.Second, 10 * time.Minute, 3 * time.Hour} {
		t.Run(allocation.String(), func(t *testing.T) {
			f := newFixture(t, allocation)
			timer := f.provider.For("p1", "w1")

			require.NoError(t, timer.StartOrResume(ctx))

			remaining := timer.Remaining(ctx)
			assert.LessOrEqual(t, remaining, allocation)
			assert.GreaterOrEqual(t, remaining, allocation-time.Millisecond)
			assert.False(t, timer.IsExhausted(ctx))
		})
	}
}

func TestStartOrResume_KeepsExistingDeadline(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 10*time.Minute)
	timer := f.provider.For("p1", "w1")

	require.NoError(t, timer.StartOrResume(ctx))
	first := f.rawDeadline(t, "p1")

	f.clock.Advance(3 * time.Minute)
	require.NoError(t, f.provider.For("p1", "w2").StartOrResume(ctx))

	assert.Equal(t, first, f.rawDeadline(t, "p1"))
	assert.Equal(t, 7*time.Minute, timer.Remaining(ctx))
}

func TestStartOrResume_ClearsExhaustedFlagOnNewDeadline(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 10*time.Minute)
	timer := f.provider.For("p1", "w1")

	require.NoError(t, timer.MarkExhausted(ctx))
	require.True(t, timer.IsExhausted(ctx))

	require.NoError(t, timer.StartOrResume(ctx))
	assert.False(t, timer.IsExhausted(ctx))
	assert.Equal(t, 10*time.Minute, timer.Remaining(ctx))
}

func TestStartOrResume_WritesWindowRecord(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 10*time.Minute)
	timer := f.provider.For("p1", "w1")

	require.NoError(t, timer.StartOrResume(ctx))

	record, ok := timer.Record(ctx)
	require.True(t, ok)
	assert.True(t, record.StartedAt.Equal(t0))
	assert.True(t, record.ExpiresAt.Equal(t0.Add(10*time.Minute)))

	raw, err := f.ephemeral.Get(ctx, "profile:p1:window:w1:session-record")
	require.NoError(t, err)
	assert.JSONEq(t, `{"startedAt":`+strconv.FormatInt(t0.UnixMilli(), 10)+`,"expiresAt":`+
		strconv.FormatInt(t0.Add(10*time.Minute).UnixMilli(), 10)+`}`, raw)
}

func TestRemaining_NoDeadlineIsFullAllocation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 10*time.Minute)
	timer := f.provider.For("p1", "w1")

	assert.Equal(t, 10*time.Minute, timer.Remaining(ctx))
	assert.Equal(t, int64(600000), timer.RemainingMs(ctx))
	assert.False(t, timer.IsExhausted(ctx))

	status := timer.Status(ctx)
	assert.True(t, status.IsValid)
	assert.False(t, status.IsStarted())
}

func TestResetAll_ThenIsExhausted(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 10*time.Minute)
	timer := f.provider.For("p1", "w1")

	require.NoError(t, timer.StartOrResume(ctx))
	require.NoError(t, f.provider.For("p1", "w2").StartOrResume(ctx))

	require.NoError(t, timer.ResetAll(ctx))

	assert.True(t, timer.IsExhausted(ctx))
	assert.Equal(t, time.Duration(0), timer.Remaining(ctx))

	session, err := timer.Session(ctx)
	require.NoError(t, err)
	assert.False(t, session.IsStarted())
	assert.True(t, session.Exhausted)

	_, ok := f.provider.For("p1", "w2").Record(ctx)
	assert.False(t, ok, "sibling window records are cleared")
}

func TestResetAll_AllowsFreshStart(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 10*time.Minute)
	timer := f.provider.For("p1", "w1")

	require.NoError(t, timer.StartOrResume(ctx))
	f.clock.Advance(4 * time.Minute)
	require.NoError(t, timer.ResetAll(ctx))

	require.NoError(t, timer.StartOrResume(ctx))
	assert.False(t, timer.IsExhausted(ctx))
	assert.Equal(t, 10*time.Minute, timer.Remaining(ctx))
}

func TestResetAll_PublishesReset(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 10*time.Minute)
	sibling := f.provider.For("p1", "w2")

	sub, err := sibling.Subscribe(ctx)
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, f.provider.For("p1", "w1").ResetAll(ctx))

	var kinds []storage.ChangeKind
	timeout := time.After(time.Second)
	for len(kinds) < 2 {
		select {
		case c := <-sub.C:
			kinds = append(kinds, c.Kind)
			assert.Equal(t, "w1", c.Origin)
		case <-timeout:
			t.Fatalf("timed out, got %v", kinds)
		}
	}
	assert.Equal(t, []storage.ChangeKind{storage.ChangeReset, storage.ChangeExhausted}, kinds)
}

func TestResetAll_OtherProfilesUntouched(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 10*time.Minute)

	require.NoError(t, f.provider.For("p1", "w1").StartOrResume(ctx))
	require.NoError(t, f.provider.For("p2", "w1").StartOrResume(ctx))

	require.NoError(t, f.provider.For("p1", "w1").ResetAll(ctx))

	other := f.provider.For("p2", "w1")
	assert.False(t, other.IsExhausted(ctx))
	_, ok := other.Record(ctx)
	assert.True(t, ok)
}

func TestClear_LiftsLockout(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 10*time.Minute)
	timer := f.provider.For("p1", "w1")

	require.NoError(t, timer.StartOrResume(ctx))
	require.NoError(t, timer.ResetAll(ctx))
	require.True(t, timer.IsExhausted(ctx))

	require.NoError(t, f.provider.For("p1", "").Clear(ctx))

	assert.False(t, timer.IsExhausted(ctx))
	status := timer.Status(ctx)
	assert.False(t, status.IsStarted())
	assert.Equal(t, int64(10*time.Minute/time.Millisecond), status.RemainingMs)
}

func TestMarkExhausted_Idempotent(t *testing.T) {
	ctx := context.Background()

	once := newFixture(t, 10*time.Minute)
	twice := newFixture(t, 10*time.Minute)

	a := once.provider.For("p1", "w1")
	b := twice.provider.For("p1", "w1")
	require.NoError(t, a.StartOrResume(ctx))
	require.NoError(t, b.StartOrResume(ctx))

	require.NoError(t, a.MarkExhausted(ctx))
	require.NoError(t, b.MarkExhausted(ctx))
	require.NoError(t, b.MarkExhausted(ctx))

	sa, err := a.Session(ctx)
	require.NoError(t, err)
	sb, err := b.Session(ctx)
	require.NoError(t, err)
	assert.Equal(t, sa, sb)
	assert.Equal(t, a.Status(ctx), b.Status(ctx))
	assert.Equal(t, once.durable.Len(), twice.durable.Len())
}

func TestLazyExpiry_IsOneWayLatch(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 10*time.Minute)
	timer := f.provider.For("p1", "w1")

	require.NoError(t, timer.StartOrResume(ctx))
	f.clock.Advance(10 * time.Minute)

	assert.Equal(t, time.Duration(0), timer.Remaining(ctx))
	assert.True(t, timer.IsExhausted(ctx))

	// Push the stored deadline into the future behind the timer's back.
	future := strconv.FormatInt(f.clock.Now().Add(time.Hour).UnixMilli(), 10)
	require.NoError(t, f.durable.Set(ctx, ProfilePrefix("p1")+KeyDeadline, future, 0))

	assert.True(t, timer.IsExhausted(ctx))
	assert.Equal(t, time.Duration(0), timer.Remaining(ctx))
	assert.False(t, timer.Status(ctx).IsValid)

	// Resume does not re-arm an existing deadline.
	require.NoError(t, timer.StartOrResume(ctx))
	assert.True(t, timer.IsExhausted(ctx))

	require.NoError(t, timer.ResetAll(ctx))
	require.NoError(t, timer.StartOrResume(ctx))
	assert.False(t, timer.IsExhausted(ctx))
}

func TestRemaining_LatchesWithoutIsExhausted(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, time.Minute)
	timer := f.provider.For("p1", "w1")

	require.NoError(t, timer.StartOrResume(ctx))
	f.clock.Advance(2 * time.Minute)
	assert.Equal(t, time.Duration(0), timer.Remaining(ctx))

	session, err := timer.Session(ctx)
	require.NoError(t, err)
	assert.True(t, session.Exhausted)
}

func TestStatus_ValidityBoundary(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 10*time.Minute)
	timer := f.provider.For("p1", "w1")

	require.NoError(t, timer.StartOrResume(ctx))

	f.clock.Advance(9*time.Minute + 59*time.Second)
	status := timer.Status(ctx)
	assert.True(t, status.IsValid)
	assert.False(t, status.IsExhausted)
	assert.Equal(t, int64(1000), status.RemainingMs)
	require.NotNil(t, status.ExpiresAt)
	assert.True(t, status.ExpiresAt.Equal(t0.Add(10*time.Minute)))
	require.NotNil(t, status.StartedAt)
	assert.True(t, status.StartedAt.Equal(t0))

	f.clock.Advance(time.Second)
	status = timer.Status(ctx)
	assert.False(t, status.IsValid)
	assert.True(t, status.IsExhausted)
	assert.Equal(t, int64(0), status.RemainingMs)
}

func TestStatus_SubMillisecondClock(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClockAt(t0.Add(700 * time.Microsecond))
	store := storage.NewMemoryBackend(storage.WithMemoryClock(clock))
	t.Cleanup(func() { _ = store.Close() })

	provider := NewProvider(store, store,
		WithAllocation(10*time.Minute),
		WithClock(clock),
		WithLogger(logging.Discard()),
	)
	timer := provider.For("p1", "w1")
	require.NoError(t, timer.StartOrResume(ctx))

	clock.Advance(10*time.Minute - time.Millisecond)
	status := timer.Status(ctx)
	assert.True(t, status.IsValid)
	assert.Equal(t, int64(1), status.RemainingMs)

	clock.Advance(299 * time.Microsecond)
	status = timer.Status(ctx)
	assert.Equal(t, status.IsValid, status.RemainingMs > 0, "validity follows the reported milliseconds")
	assert.Equal(t, int64(1), status.RemainingMs)

	clock.Advance(time.Microsecond)
	status = timer.Status(ctx)
	assert.False(t, status.IsValid)
	assert.True(t, status.IsExhausted)
	assert.Equal(t, int64(0), status.RemainingMs)
}

func TestMalformedState_IsDiscarded(t *testing.T) {
	ctx := context.Background()

	t.Run("Deadline", func(t *testing.T) {
		f := newFixture(t, 10*time.Minute)
		require.NoError(t, f.durable.Set(ctx, ProfilePrefix("p1")+KeyDeadline, "not-a-number", 0))

		timer := f.provider.For("p1", "w1")
		assert.False(t, timer.IsExhausted(ctx))
		assert.Equal(t, 10*time.Minute, timer.Remaining(ctx))
		assert.False(t, timer.Status(ctx).IsStarted())

		_, err := f.durable.Get(ctx, ProfilePrefix("p1")+KeyDeadline)
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("ExhaustedFlag", func(t *testing.T) {
		f := newFixture(t, 10*time.Minute)
		require.NoError(t, f.durable.Set(ctx, ProfilePrefix("p1")+KeyExhausted, "yes please", 0))

		timer := f.provider.For("p1", "w1")
		assert.False(t, timer.IsExhausted(ctx))
	})

	t.Run("Record", func(t *testing.T) {
		f := newFixture(t, 10*time.Minute)
		timer := f.provider.For("p1", "w1")
		require.NoError(t, timer.StartOrResume(ctx))
		require.NoError(t, f.ephemeral.Set(ctx, WindowsPrefix("p1")+"w1:"+KeyRecord, `{"startedAt":5}`, 0))

		_, ok := timer.Record(ctx)
		assert.False(t, ok)

		status := timer.Status(ctx)
		require.NotNil(t, status.StartedAt)
		assert.True(t, status.StartedAt.Equal(t0))
	})
}

type failingStore struct{}

func (failingStore) Get(context.Context, string) (string, error) { return "", storage.ErrUnavailable }
func (failingStore) Set(context.Context, string, string) error  { return storage.ErrUnavailable }
func (failingStore) Delete(context.Context, ...string) error     { return storage.ErrUnavailable }
func (failingStore) Clear(context.Context) error                 { return storage.ErrUnavailable }
func (failingStore) Publish(context.Context, storage.Change) error {
	return storage.ErrUnavailable
}
func (failingStore) Subscribe(context.Context) (*storage.Subscription, error) {
	return nil, storage.ErrUnavailable
}

func TestFailClosed(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClockAt(t0)

	t.Run("NoStorage", func(t *testing.T) {
		timer := NewProvider(nil, nil, WithClock(clock)).For("p1", "w1")

		assert.True(t, timer.IsExhausted(ctx))
		assert.Equal(t, time.Duration(0), timer.Remaining(ctx))
		assert.False(t, timer.Status(ctx).IsValid)
		assert.ErrorIs(t, timer.StartOrResume(ctx), ErrNoStorage)
		assert.ErrorIs(t, timer.MarkExhausted(ctx), ErrNoStorage)
		assert.ErrorIs(t, timer.ResetAll(ctx), ErrNoStorage)
	})

	t.Run("StorageUnavailable", func(t *testing.T) {
		timer := NewTimer(failingStore{}, failingStore{}, failingStore{}, 10*time.Minute, clock, logging.Discard())

		assert.True(t, timer.IsExhausted(ctx))
		assert.Equal(t, time.Duration(0), timer.Remaining(ctx))
		status := timer.Status(ctx)
		assert.False(t, status.IsValid)
		assert.True(t, status.IsExhausted)
		assert.ErrorIs(t, timer.StartOrResume(ctx), storage.ErrUnavailable)
		assert.ErrorIs(t, timer.ResetAll(ctx), storage.ErrUnavailable)
	})
}
