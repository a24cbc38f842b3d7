package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/hairscope-lab/internal/api"
	"github.com/ericfisherdev/hairscope-lab/internal/services"
	"github.com/ericfisherdev/hairscope-lab/internal/storage"
	"github.com/ericfisherdev/hairscope-lab/internal/testutil"
)

type failingBackend struct {
	storage.Backend
}

func (failingBackend) Name() string { return "failing" }

func (failingBackend) Ping(context.Context) error { return errors.New("connection refused") }

func TestHealthHandler(t *testing.T) {
	healthy := services.NewHealthService("1.0.0", "test")
	healthy.RegisterChecker(services.NewStorageHealthChecker("storage", storage.NewMemoryBackend(), 0))

	broken := services.NewHealthService("1.0.0", "test")
	broken.RegisterChecker(services.NewStorageHealthChecker("storage", failingBackend{}, 0))

	tests := []struct {
		name       string
		service    *services.HealthService
		path       string
		wantStatus int
		wantBody   map[string]interface{}
	}{
		{"health ok", healthy, "/health", http.StatusOK, map[string]interface{}{"status": "healthy"}},
		{"ready ok", healthy, "/health/ready", http.StatusOK, map[string]interface{}{"status": "healthy"}},
		{"live", broken, "/health/live", http.StatusOK, map[string]interface{}{"status": "alive"}},
		{"ready with storage down", broken, "/health/ready", http.StatusServiceUnavailable, map[string]interface{}{"status": "unhealthy"}},
		{"detailed with storage down", broken, "/health/detailed", http.StatusServiceUnavailable, map[string]interface{}{"status": "unhealthy"}},
		{"version", healthy, "/health/version", http.StatusOK, map[string]interface{}{"version": "1.2.3", "commit_hash": "abc123"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := testutil.NewTestRouter()
			api.NewHealthHandler(tt.service, api.BuildInfo{Version: "1.2.3", CommitHash: "abc123"}).RegisterRoutes(router)

			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, tt.path, nil))
			assert.Equal(t, tt.wantStatus, w.Code)

			var body map[string]interface{}
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			for key, want := range tt.wantBody {
				assert.Equal(t, want, body[key], key)
			}
		})
	}
}

func TestHealthHandler_SystemOnlyOnDetailed(t *testing.T) {
	svc := services.NewHealthService("1.0.0", "test")
	svc.RegisterChecker(services.NewStorageHealthChecker("storage", storage.NewMemoryBackend(), 0))

	router := testutil.NewTestRouter()
	api.NewHealthHandler(svc, api.BuildInfo{}).RegisterRoutes(router)

	get := func(path string) api.HealthBody {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		require.Equal(t, http.StatusOK, w.Code, path)

		var body api.HealthBody
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		return body
	}

	detailed := get("/health/detailed")
	require.NotNil(t, detailed.System)
	assert.NotEmpty(t, detailed.System.GoVersion)
	assert.Len(t, detailed.Checks, 1)

	assert.Nil(t, get("/health").System)

	live := get("/health/live")
	assert.Equal(t, "alive", live.Status)
	assert.Empty(t, live.Checks)
	assert.Equal(t, "1.0.0", live.Version)
}
