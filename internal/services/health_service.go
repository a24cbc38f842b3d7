// Package services provides health monitoring for the lab gate.
package services

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/ericfisherdev/hairscope-lab/internal/storage"
)

// HealthStatus represents the health status of a component.
type HealthStatus string

const (
	// HealthStatusHealthy indicates the component is fully operational.
	HealthStatusHealthy HealthStatus = "healthy"
	// HealthStatusUnhealthy indicates the component is not operational.
	HealthStatusUnhealthy HealthStatus = "unhealthy"
	// HealthStatusDegraded indicates the component has issues but is still functional.
	HealthStatusDegraded HealthStatus = "degraded"
)

// DefaultCheckTimeout bounds a single checker run.
const DefaultCheckTimeout = 3 * time.Second

// HealthCheck is the result of one checker.
type HealthCheck struct {
	LastChecked time.Time              `json:"last_checked"`
	Details     map[string]interface{} `json:"details,omitempty"`
	Name        string                 `json:"name"`
	Message     string                 `json:"message,omitempty"`
	Error       string                 `json:"error,omitempty"`
	Status      HealthStatus           `json:"status"`
	Duration    time.Duration          `json:"duration"`
}

// SystemInfo describes the running process.
type SystemInfo struct {
	GoVersion  string `json:"go_version"`
	OS         string `json:"go_os"`
	Arch       string `json:"go_arch"`
	CPUs       int    `json:"cpu_count"`
	Goroutines int    `json:"goroutines"`
	HeapAlloc  uint64 `json:"heap_alloc_bytes"`
	GCCycles   uint32 `json:"gc_cycles"`
}

// HealthResponse is the aggregated report.
type HealthResponse struct {
	Timestamp   time.Time     `json:"timestamp"`
	System      *SystemInfo   `json:"system,omitempty"`
	Version     string        `json:"version"`
	Environment string        `json:"environment"`
	Status      HealthStatus  `json:"status"`
	Checks      []HealthCheck `json:"checks"`
	Uptime      time.Duration `json:"uptime"`
}

// HealthChecker checks one dependency.
type HealthChecker interface {
	Check(ctx context.Context) HealthCheck
	Name() string
}

// CriticalChecker marks checkers whose failure makes the gate unready.
type CriticalChecker interface {
	HealthChecker
	Critical() bool
}

// Option configures a HealthService.
type Option func(*HealthService)

// WithClock sets the clock used for timestamps and uptime.
func WithClock(clock clockwork.Clock) Option {
	return func(h *HealthService) { h.clock = clock }
}

// WithCheckTimeout sets the per-checker timeout.
func WithCheckTimeout(timeout time.Duration) Option {
	return func(h *HealthService) {
		if timeout > 0 {
			h.timeout = timeout
		}
	}
}

// HealthService runs the registered checkers.
type HealthService struct {
	clock     clockwork.Clock
	startTime time.Time
	version   string
	env       string
	timeout   time.Duration

	mu       sync.RWMutex
	checkers []HealthChecker
}

// NewHealthService creates a health service reporting version and env.
func NewHealthService(version, env string, opts ...Option) *HealthService {
	h := &HealthService{
		clock:   clockwork.NewRealClock(),
		version: version,
		env:     env,
		timeout: DefaultCheckTimeout,
	}
	for _, opt := range opts {
		opt(h)
	}
	h.startTime = h.clock.Now()
	return h
}

// RegisterChecker adds a checker.
func (h *HealthService) RegisterChecker(checker HealthChecker) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checkers = append(h.checkers, checker)
}

// Check runs every checker. Degraded checks degrade the report; any
// unhealthy check makes it unhealthy.
func (h *HealthService) Check(ctx context.Context) HealthResponse {
	checks := h.run(ctx, func(HealthChecker) bool { return true })
	response := h.response(aggregate(checks), checks)
	response.System = systemInfo()
	return response
}

// Liveness reports that the process is up without touching dependencies.
func (h *HealthService) Liveness() HealthResponse {
	return h.response(HealthStatusHealthy, nil)
}

// Readiness runs the critical checkers only.
func (h *HealthService) Readiness(ctx context.Context) HealthResponse {
	checks := h.run(ctx, isCritical)
	return h.response(aggregate(checks), checks)
}

func (h *HealthService) response(status HealthStatus, checks []HealthCheck) HealthResponse {
	now := h.clock.Now()
	return HealthResponse{
		Status:      status,
		Timestamp:   now,
		Version:     h.version,
		Environment: h.env,
		Uptime:      now.Sub(h.startTime),
		Checks:      checks,
	}
}

// run executes the selected checkers concurrently. Results keep
// registration order.
func (h *HealthService) run(ctx context.Context, include func(HealthChecker) bool) []HealthCheck {
	h.mu.RLock()
	selected := make([]HealthChecker, 0, len(h.checkers))
	for _, checker := range h.checkers {
		if include(checker) {
			selected = append(selected, checker)
		}
	}
	h.mu.RUnlock()

	checks := make([]HealthCheck, len(selected))
	var wg sync.WaitGroup
	for i, checker := range selected {
		wg.Add(1)
		go func(i int, checker HealthChecker) {
			defer wg.Done()
			checks[i] = h.runOne(ctx, checker)
		}(i, checker)
	}
	wg.Wait()
	return checks
}

func (h *HealthService) runOne(ctx context.Context, checker HealthChecker) HealthCheck {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	start := h.clock.Now()
	check := checker.Check(ctx)
	if check.Name == "" {
		check.Name = checker.Name()
	}
	if ctx.Err() != nil && check.Status == HealthStatusHealthy {
		check.Status = HealthStatusDegraded
		check.Message = "check exceeded its timeout"
	}
	check.LastChecked = h.clock.Now()
	check.Duration = check.LastChecked.Sub(start)
	return check
}

func aggregate(checks []HealthCheck) HealthStatus {
	overall := HealthStatusHealthy
	for _, check := range checks {
		switch check.Status {
		case HealthStatusUnhealthy:
			return HealthStatusUnhealthy
		case HealthStatusDegraded:
			overall = HealthStatusDegraded
		}
	}
	return overall
}

func isCritical(checker HealthChecker) bool {
	critical, ok := checker.(CriticalChecker)
	return ok && critical.Critical()
}

func systemInfo() *SystemInfo {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	return &SystemInfo{
		GoVersion:  runtime.Version(),
		OS:         runtime.GOOS,
		Arch:       runtime.GOARCH,
		CPUs:       runtime.NumCPU(),
		Goroutines: runtime.NumGoroutine(),
		HeapAlloc:  mem.HeapAlloc,
		GCCycles:   mem.NumGC,
	}
}

// StorageHealthChecker pings a storage backend and round-trips a canary key
// through it. Session timers cannot start on a backend that rejects writes.
type StorageHealthChecker struct {
	backend      storage.Backend
	name         string
	slowResponse time.Duration
}

// NewStorageHealthChecker creates a checker named name for backend.
// Checks slower than slowResponse report degraded.
func NewStorageHealthChecker(name string, backend storage.Backend, slowResponse time.Duration) *StorageHealthChecker {
	if slowResponse <= 0 {
		slowResponse = 250 * time.Millisecond
	}
	return &StorageHealthChecker{
		backend:      backend,
		name:         name,
		slowResponse: slowResponse,
	}
}

// Name returns the checker name.
func (s *StorageHealthChecker) Name() string {
	return s.name
}

// Critical reports true: the gate fails closed without storage.
func (s *StorageHealthChecker) Critical() bool {
	return true
}

// Check pings the backend, then writes, reads and deletes a canary key.
func (s *StorageHealthChecker) Check(ctx context.Context) HealthCheck {
	details := map[string]interface{}{
		"backend": s.backend.Name(),
	}
	unhealthy := func(format string, err error) HealthCheck {
		return HealthCheck{
			Name:    s.name,
			Status:  HealthStatusUnhealthy,
			Error:   fmt.Sprintf(format, err),
			Details: details,
		}
	}

	start := time.Now()
	if err := s.backend.Ping(ctx); err != nil {
		return unhealthy("ping failed: %v", err)
	}
	if err := s.roundTrip(ctx); err != nil {
		return unhealthy("canary round trip failed: %v", err)
	}
	elapsed := time.Since(start)
	details["round_trip_ms"] = elapsed.Milliseconds()

	if elapsed > s.slowResponse {
		return HealthCheck{
			Name:    s.name,
			Status:  HealthStatusDegraded,
			Message: fmt.Sprintf("slow storage: %s", elapsed),
			Details: details,
		}
	}
	return HealthCheck{
		Name:    s.name,
		Status:  HealthStatusHealthy,
		Message: "reachable",
		Details: details,
	}
}

func (s *StorageHealthChecker) roundTrip(ctx context.Context) error {
	key := "health:canary:" + s.name
	want := time.Now().UTC().Format(time.RFC3339Nano)

	if err := s.backend.Set(ctx, key, want, time.Minute); err != nil {
		return err
	}
	got, err := s.backend.Get(ctx, key)
	if err != nil {
		return err
	}
	if got != want {
		return errors.New("canary value mismatch")
	}
	return s.backend.Delete(ctx, key)
}
