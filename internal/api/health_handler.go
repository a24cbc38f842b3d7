package api

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ericfisherdev/hairscope-lab/internal/services"
)

// Check timeouts.
const (
	readinessTimeout = 5 * time.Second
	checkTimeout     = 10 * time.Second
)

// BuildInfo is stamped at link time and reported by /health/version.
type BuildInfo struct {
	Version    string `json:"version"`
	BuildTime  string `json:"build_time,omitempty"`
	CommitHash string `json:"commit_hash,omitempty"`
}

// HealthBody is the JSON body of the health endpoints. System is only
// filled by /health/detailed.
type HealthBody struct {
	Status      string                 `json:"status"`
	Timestamp   time.Time              `json:"timestamp"`
	Version     string                 `json:"version"`
	Environment string                 `json:"environment"`
	Uptime      string                 `json:"uptime"`
	Checks      []services.HealthCheck `json:"checks,omitempty"`
	System      *services.SystemInfo   `json:"system,omitempty"`
}

// VersionBody is the JSON body of /health/version.
type VersionBody struct {
	BuildInfo
	GoVersion string `json:"go_version"`
}

// HealthHandler serves the health endpoints.
type HealthHandler struct {
	healthService *services.HealthService
	build         BuildInfo
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(healthService *services.HealthService, build BuildInfo) *HealthHandler {
	if build.Version == "" {
		build.Version = "unknown"
	}
	return &HealthHandler{
		healthService: healthService,
		build:         build,
	}
}

// RegisterRoutes registers the health endpoints under /health.
func (h *HealthHandler) RegisterRoutes(router gin.IRouter) {
	health := router.Group("/health")
	{
		health.GET("", h.HealthCheck)
		health.GET("/live", h.Liveness)
		health.GET("/ready", h.Readiness)
		health.GET("/detailed", h.DetailedHealth)
		health.GET("/version", h.Version)
	}
}

// HealthCheck runs every registered checker.
func (h *HealthHandler) HealthCheck(c *gin.Context) {
	h.respond(c, checkTimeout, h.healthService.Check, false)
}

// Liveness reports that the process is serving requests. It never touches
// storage, so a storage outage does not restart the process.
func (h *HealthHandler) Liveness(c *gin.Context) {
	body := newHealthBody(h.healthService.Liveness(), false)
	body.Status = "alive"
	c.JSON(http.StatusOK, body)
}

// Readiness checks the storage backends the gate cannot work without.
func (h *HealthHandler) Readiness(c *gin.Context) {
	h.respond(c, readinessTimeout, h.healthService.Readiness, false)
}

// DetailedHealth adds runtime information to the full check.
func (h *HealthHandler) DetailedHealth(c *gin.Context) {
	h.respond(c, checkTimeout, h.healthService.Check, true)
}

// Version returns build information.
func (h *HealthHandler) Version(c *gin.Context) {
	c.JSON(http.StatusOK, VersionBody{
		BuildInfo: h.build,
		GoVersion: runtime.Version(),
	})
}

func (h *HealthHandler) respond(c *gin.Context, timeout time.Duration, run func(context.Context) services.HealthResponse, withSystem bool) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)
	defer cancel()

	response := run(ctx)
	c.JSON(mapHealthStatusToHTTP(response.Status), newHealthBody(response, withSystem))
}

func newHealthBody(response services.HealthResponse, withSystem bool) HealthBody {
	body := HealthBody{
		Status:      string(response.Status),
		Timestamp:   response.Timestamp,
		Version:     response.Version,
		Environment: response.Environment,
		Uptime:      response.Uptime.Round(time.Second).String(),
		Checks:      response.Checks,
	}
	if withSystem {
		body.System = response.System
	}
	return body
}

// mapHealthStatusToHTTP answers 503 only when the gate cannot serve.
func mapHealthStatusToHTTP(status services.HealthStatus) int {
	switch status {
	case services.HealthStatusHealthy, services.HealthStatusDegraded:
		return http.StatusOK
	case services.HealthStatusUnhealthy:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
