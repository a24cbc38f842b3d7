package guard

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/hairscope-lab/internal/auth"
	"github.com/ericfisherdev/hairscope-lab/internal/logging"
	"github.com/ericfisherdev/hairscope-lab/internal/sessiontimer"
	"github.com/ericfisherdev/hairscope-lab/internal/storage"
)

func newProvider(t *testing.T, clock clockwork.Clock) *sessiontimer.Provider {
	t.Helper()
	backend := storage.NewMemoryBackend(storage.WithMemoryClock(clock))
	t.Cleanup(func() { _ = backend.Close() })
	return sessiontimer.NewProvider(backend, nil,
		sessiontimer.WithClock(clock),
		sessiontimer.WithLogger(logging.Discard()),
	)
}

func TestEvaluate_LabWithoutSessionRedirectsToLogin(t *testing.T) {
	ctx := context.Background()
	g := New(logging.Discard())
	timer := newProvider(t, clockwork.NewFakeClock()).For("p1", "w1")

	d := g.Evaluate(ctx, timer, Navigation{Path: PathLab})

	assert.False(t, d.Allow)
	assert.Equal(t, PathLogin, d.RedirectTo)
	assert.Equal(t, StateUnauthenticated, d.State)
	assert.False(t, timer.IsExhausted(ctx), "a lab visit without a deadline does not mark exhausted")
}

func TestEvaluate_StartedSession(t *testing.T) {
	ctx := context.Background()
	g := New(logging.Discard())
	clock := clockwork.NewFakeClock()
	timer := newProvider(t, clock).For("p1", "w1")
	require.NoError(t, timer.StartOrResume(ctx))

	t.Run("LabAllowed", func(t *testing.T) {
		d := g.Evaluate(ctx, timer, Navigation{Path: PathLab})
		assert.True(t, d.Allow)
		assert.Empty(t, d.RedirectTo)
		assert.Equal(t, StateAuthenticated, d.State)
		assert.True(t, d.Status.IsValid)
	})

	t.Run("LoginRedirectsToLab", func(t *testing.T) {
		d := g.Evaluate(ctx, timer, Navigation{Path: PathLogin})
		assert.False(t, d.Allow)
		assert.Equal(t, PathLab, d.RedirectTo)
	})

	t.Run("UnknownRouteRedirectsToLogin", func(t *testing.T) {
		d := g.Evaluate(ctx, timer, Navigation{Path: "/settings"})
		assert.False(t, d.Allow)
		assert.Equal(t, PathLogin, d.RedirectTo)
		assert.Equal(t, StateAuthenticated, d.State)
	})
}

func TestEvaluate_ExhaustedSession(t *testing.T) {
	ctx := context.Background()
	g := New(logging.Discard())
	clock := clockwork.NewFakeClock()
	timer := newProvider(t, clock).For("p1", "w1")
	require.NoError(t, timer.StartOrResume(ctx))

	clock.Advance(sessiontimer.DefaultPollInterval + 10*time.Minute)

	d := g.Evaluate(ctx, timer, Navigation{Path: PathLab})
	assert.False(t, d.Allow)
	assert.Equal(t, PathLogin, d.RedirectTo)
	assert.True(t, d.Status.IsExhausted)

	d = g.Evaluate(ctx, timer, Navigation{Path: PathLogin})
	assert.True(t, d.Allow)
	assert.Equal(t, StateUnauthenticated, d.State)
}

func TestEvaluate_ForcedExitResets(t *testing.T) {
	ctx := context.Background()
	g := New(logging.Discard())
	timer := newProvider(t, clockwork.NewFakeClock()).For("p1", "w1")
	require.NoError(t, timer.StartOrResume(ctx))

	d := g.Evaluate(ctx, timer, Navigation{Path: PathLogin, ForcedExit: true})

	assert.True(t, d.Allow)
	assert.True(t, d.ResetSession)
	assert.Equal(t, StateUnauthenticated, d.State)
	assert.True(t, timer.IsExhausted(ctx))
	assert.False(t, timer.Status(ctx).IsStarted())

	d = g.Evaluate(ctx, timer, Navigation{Path: PathLab, ForcedExit: true})
	assert.False(t, d.Allow)
	assert.Equal(t, PathLogin, d.RedirectTo)
}

func TestEvaluate_LoginAfterCredentialsAndStart(t *testing.T) {
	ctx := context.Background()
	g := New(logging.Discard())
	timer := newProvider(t, clockwork.NewFakeClock()).For("p1", "w1")
	checker := auth.NewChecker("", "")

	assert.False(t, checker.Check(ctx, auth.DefaultUsername, "wrong"))
	assert.False(t, timer.Status(ctx).IsStarted(), "failed check creates no session")
	assert.Equal(t, StateUnauthenticated, g.Evaluate(ctx, timer, Navigation{Path: PathLab}).State)

	require.True(t, checker.Check(ctx, auth.DefaultUsername, auth.DefaultPassword))
	require.NoError(t, timer.StartOrResume(ctx))
	assert.Equal(t, StateAuthenticated, g.Evaluate(ctx, timer, Navigation{Path: PathLab}).State)
}

func TestEvaluate_NoStorageFailsClosed(t *testing.T) {
	ctx := context.Background()
	g := New(logging.Discard())
	timer := sessiontimer.NewProvider(nil, nil).For("p1", "w1")

	d := g.Evaluate(ctx, timer, Navigation{Path: PathLab})
	assert.False(t, d.Allow)
	assert.Equal(t, PathLogin, d.RedirectTo)

	d = g.Evaluate(ctx, timer, Navigation{Path: PathLogin, ForcedExit: true})
	assert.True(t, d.Allow)
	assert.True(t, d.ResetSession)
}
