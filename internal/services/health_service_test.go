package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/hairscope-lab/internal/storage"
)

type staticChecker struct {
	name   string
	status HealthStatus
}

func (s staticChecker) Name() string { return s.name }

func (s staticChecker) Check(context.Context) HealthCheck {
	return HealthCheck{Status: s.status}
}

type blockingChecker struct{}

func (blockingChecker) Name() string { return "blocking" }

func (blockingChecker) Check(ctx context.Context) HealthCheck {
	<-ctx.Done()
	return HealthCheck{Status: HealthStatusHealthy}
}

// readOnlyBackend accepts pings but rejects writes.
type readOnlyBackend struct {
	storage.Backend
}

func (readOnlyBackend) Set(context.Context, string, string, time.Duration) error {
	return errors.New("attempt to write a readonly database")
}

func TestHealthService_Check(t *testing.T) {
	ctx := context.Background()

	t.Run("AllHealthy", func(t *testing.T) {
		backend := storage.NewMemoryBackend()
		svc := NewHealthService("test", "development")
		svc.RegisterChecker(NewStorageHealthChecker("storage", backend, 0))

		resp := svc.Check(ctx)
		assert.Equal(t, HealthStatusHealthy, resp.Status)
		require.Len(t, resp.Checks, 1)
		assert.Equal(t, "memory", resp.Checks[0].Details["backend"])
		require.NotNil(t, resp.System)
		assert.NotEmpty(t, resp.System.GoVersion)

		_, err := backend.Get(ctx, "health:canary:storage")
		assert.ErrorIs(t, err, storage.ErrNotFound, "canary key is cleaned up")
	})

	t.Run("DegradedDoesNotMaskUnhealthy", func(t *testing.T) {
		svc := NewHealthService("test", "development")
		svc.RegisterChecker(staticChecker{"cache", HealthStatusDegraded})
		svc.RegisterChecker(staticChecker{"other", HealthStatusUnhealthy})

		resp := svc.Check(ctx)
		assert.Equal(t, HealthStatusUnhealthy, resp.Status)
		require.Len(t, resp.Checks, 2)
		assert.Equal(t, "cache", resp.Checks[0].Name, "registration order and names are kept")
		assert.Equal(t, "other", resp.Checks[1].Name)
	})

	t.Run("Degraded", func(t *testing.T) {
		svc := NewHealthService("test", "development")
		svc.RegisterChecker(staticChecker{"cache", HealthStatusDegraded})

		assert.Equal(t, HealthStatusDegraded, svc.Check(ctx).Status)
	})

	t.Run("TimeoutDegrades", func(t *testing.T) {
		svc := NewHealthService("test", "development", WithCheckTimeout(10*time.Millisecond))
		svc.RegisterChecker(blockingChecker{})

		resp := svc.Check(ctx)
		assert.Equal(t, HealthStatusDegraded, resp.Status)
		assert.Equal(t, "check exceeded its timeout", resp.Checks[0].Message)
	})

	t.Run("RejectedWrites", func(t *testing.T) {
		svc := NewHealthService("test", "development")
		svc.RegisterChecker(NewStorageHealthChecker("storage", readOnlyBackend{storage.NewMemoryBackend()}, 0))

		resp := svc.Check(ctx)
		assert.Equal(t, HealthStatusUnhealthy, resp.Status)
		assert.Contains(t, resp.Checks[0].Error, "canary round trip failed")
	})
}

func TestHealthService_Readiness(t *testing.T) {
	ctx := context.Background()
	backend := storage.NewMemoryBackend()

	svc := NewHealthService("test", "production")
	svc.RegisterChecker(NewStorageHealthChecker("storage", backend, 0))
	svc.RegisterChecker(staticChecker{"cosmetic", HealthStatusUnhealthy})

	resp := svc.Readiness(ctx)
	assert.Equal(t, HealthStatusHealthy, resp.Status, "non-critical checkers are ignored")
	assert.Len(t, resp.Checks, 1)
	assert.Nil(t, resp.System)

	require.NoError(t, backend.Close())
	resp = svc.Readiness(ctx)
	assert.Equal(t, HealthStatusUnhealthy, resp.Status)
	assert.Contains(t, resp.Checks[0].Error, "ping failed")
}

func TestHealthService_Liveness(t *testing.T) {
	clock := clockwork.NewFakeClock()
	svc := NewHealthService("1.2.3", "staging", WithClock(clock))
	clock.Advance(90 * time.Second)

	resp := svc.Liveness()
	assert.Equal(t, HealthStatusHealthy, resp.Status)
	assert.Equal(t, "1.2.3", resp.Version)
	assert.Equal(t, "staging", resp.Environment)
	assert.Equal(t, 90*time.Second, resp.Uptime)
	assert.Empty(t, resp.Checks)
}
