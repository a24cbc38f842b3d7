package sessiontimer

import (
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/ericfisherdev/hairscope-lab/internal/domain"
	"github.com/ericfisherdev/hairscope-lab/internal/storage"
)

// DefaultWindowTTL bounds how long an abandoned window record is kept.
const DefaultWindowTTL = 12 * time.Hour

// Provider builds timers over shared backends. The durable backend holds
// the profile keys; the ephemeral backend holds window records.
type Provider struct {
	durable    storage.Backend
	ephemeral  storage.Backend
	allocation time.Duration
	windowTTL  time.Duration
	clock      clockwork.Clock
	logger     *slog.Logger
}

// Option configures a Provider.
type Option func(*Provider)

// WithAllocation sets the session length. Non-positive values are ignored.
func WithAllocation(d time.Duration) Option {
	return func(p *Provider) {
		if d > 0 {
			p.allocation = d
		}
	}
}

// WithWindowTTL sets the TTL of window records.
func WithWindowTTL(d time.Duration) Option {
	return func(p *Provider) {
		p.windowTTL = d
	}
}

// WithClock sets the clock.
func WithClock(clock clockwork.Clock) Option {
	return func(p *Provider) {
		p.clock = clock
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Provider) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewProvider creates a provider. A nil durable backend yields timers that
// fail closed. A nil ephemeral backend falls back to the durable one.
func NewProvider(durable, ephemeral storage.Backend, opts ...Option) *Provider {
	if ephemeral == nil {
		ephemeral = durable
	}

	p := &Provider{
		durable:    durable,
		ephemeral:  ephemeral,
		allocation: domain.DefaultAllocation,
		windowTTL:  DefaultWindowTTL,
		clock:      clockwork.NewRealClock(),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Allocation returns the configured session length.
func (p *Provider) Allocation() time.Duration {
	return p.allocation
}

// Clock returns the provider clock.
func (p *Provider) Clock() clockwork.Clock {
	return p.clock
}

// For returns the timer of profileID as seen from windowID. An empty
// windowID gives a timer that does not keep a window record.
func (p *Provider) For(profileID, windowID string) *Timer {
	t := &Timer{
		profileID:  profileID,
		windowID:   windowID,
		allocation: p.allocation,
		clock:      p.clock,
		logger:     p.logger,
	}
	if p.durable == nil || profileID == "" {
		return t
	}

	t.profile = storage.NewNamespace(p.durable, ProfilePrefix(profileID), 0)
	windows := storage.NewNamespace(p.ephemeral, WindowsPrefix(profileID), p.windowTTL)
	t.windows = windows
	if windowID != "" {
		t.window = windows.Sub(windowID)
	}
	return t
}

// NewTimer builds a timer directly over stores. Any store may be nil.
func NewTimer(profile, windows, window Store, allocation time.Duration, clock clockwork.Clock, logger *slog.Logger) *Timer {
	if allocation <= 0 {
		allocation = domain.DefaultAllocation
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Timer{
		profile:    profile,
		windows:    windows,
		window:     window,
		allocation: allocation,
		clock:      clock,
		logger:     logger,
	}
}
