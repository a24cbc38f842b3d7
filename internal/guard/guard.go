// Package guard decides, for each navigation, whether the lab may be shown.
//
// The guard has two states. A profile is authenticated while its session is
// valid and started, and unauthenticated otherwise. Missing or unreadable
// session state always reads as unauthenticated.
package guard

import (
	"context"
	"log/slog"

	"github.com/ericfisherdev/hairscope-lab/internal/domain"
	"github.com/ericfisherdev/hairscope-lab/internal/metrics"
)

// Routes known to the guard.
const (
	PathLogin = "/"
	PathLab   = "/lab"
)

// State is the application state derived from the session.
type State string

const (
	// StateUnauthenticated means no valid, started session exists.
	StateUnauthenticated State = "unauthenticated"
	// StateAuthenticated means the lab may be shown.
	StateAuthenticated State = "authenticated"
)

// SessionReader is the part of the session timer the guard depends on.
type SessionReader interface {
	Status(ctx context.Context) domain.SessionStatus
	ResetAll(ctx context.Context) error
}

// Navigation is a request to view a route.
type Navigation struct {
	Path string
	// ForcedExit is set by the lab exit flow. It resets the session even
	// when writes from an earlier teardown are not yet visible.
	ForcedExit bool
}

// Decision is the guard's answer to a Navigation.
type Decision struct {
	Allow        bool
	RedirectTo   string
	ResetSession bool
	State        State
	Status       domain.SessionStatus
}

// Guard evaluates navigations against the session timer.
type Guard struct {
	logger *slog.Logger
}

// New creates a guard.
func New(logger *slog.Logger) *Guard {
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{logger: logger}
}

// StateOf maps a session status to a guard state.
func StateOf(status domain.SessionStatus) State {
	if status.IsValid && status.IsStarted() {
		return StateAuthenticated
	}
	return StateUnauthenticated
}

// Evaluate decides what happens when the session behind sessions navigates
// to nav.Path.
//
//   - A forced exit resets the session and lands on the login route.
//   - The lab is shown only in StateAuthenticated; otherwise it redirects
//     to login. A started session is required, so a lab visit without a
//     recorded deadline redirects without marking the session exhausted.
//   - The login route redirects to the lab in StateAuthenticated.
//   - Every other route redirects to login.
func (g *Guard) Evaluate(ctx context.Context, sessions SessionReader, nav Navigation) Decision {
	if nav.ForcedExit {
		if err := sessions.ResetAll(ctx); err != nil {
			g.logger.Warn("Forced exit could not reset session", "error", err)
		}
		status := sessions.Status(ctx)
		d := Decision{
			Allow:        nav.Path == PathLogin,
			ResetSession: true,
			State:        StateUnauthenticated,
			Status:       status,
		}
		if !d.Allow {
			d.RedirectTo = PathLogin
		}
		return g.record(nav, d)
	}

	status := sessions.Status(ctx)
	state := StateOf(status)
	d := Decision{State: state, Status: status}

	switch nav.Path {
	case PathLab:
		if state == StateAuthenticated {
			d.Allow = true
		} else {
			d.RedirectTo = PathLogin
		}
	case PathLogin:
		if state == StateAuthenticated {
			d.RedirectTo = PathLab
		} else {
			d.Allow = true
		}
	default:
		d.RedirectTo = PathLogin
	}
	return g.record(nav, d)
}

func (g *Guard) record(nav Navigation, d Decision) Decision {
	outcome := "allow"
	switch {
	case d.ResetSession:
		outcome = "reset"
	case !d.Allow:
		outcome = "redirect"
	}

	path := nav.Path
	if path != PathLogin && path != PathLab {
		path = "other"
	}
	metrics.GuardDecisions.WithLabelValues(path, outcome).Inc()

	g.logger.Debug("Guard decision",
		"path", nav.Path,
		"forced_exit", nav.ForcedExit,
		"state", d.State,
		"allow", d.Allow,
		"redirect_to", d.RedirectTo,
	)
	return d
}
