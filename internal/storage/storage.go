// Package storage provides the key-value stores backing the session timer.
//
// A Backend is a flat string-to-string map with optional TTLs and a
// publish/subscribe channel for change notices. Namespace scopes a backend
// to a key prefix, which is how a browser profile or a window gets its own
// view of the store.
package storage

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	// ErrNotFound is returned by Get when the key is absent or expired.
	ErrNotFound = errors.New("storage: key not found")
	// ErrUnavailable is returned when the backend cannot be reached.
	ErrUnavailable = errors.New("storage: backend unavailable")
	// ErrClosed is returned by operations on a closed backend.
	ErrClosed = errors.New("storage: backend closed")
)

// ChangeKind classifies a change notice.
type ChangeKind string

const (
	// ChangeStarted is published when a session deadline is recorded.
	ChangeStarted ChangeKind = "started"
	// ChangeExhausted is published when the exhausted flag is set.
	ChangeExhausted ChangeKind = "exhausted"
	// ChangeReset is published when all session state is cleared.
	ChangeReset ChangeKind = "reset"
)

// Change is a notice published on a namespace channel so that sibling
// windows re-evaluate their state.
type Change struct {
	At     time.Time  `json:"at"`
	Kind   ChangeKind `json:"kind"`
	Key    string     `json:"key,omitempty"`
	Origin string     `json:"origin,omitempty"`
}

// Backend is a key-value store with change notification.
type Backend interface {
	// Name identifies the backend in logs and metrics.
	Name() string

	// Get returns the value stored under key, or ErrNotFound.
	Get(ctx context.Context, key string) (string, error)

	// Set stores value under key. A zero ttl keeps the key until deleted.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// SetNX stores value under key only if key is absent or expired, and
	// reports whether it did. The check and the write are one atomic step.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)

	// Delete removes the given keys. Missing keys are ignored.
	Delete(ctx context.Context, keys ...string) error

	// DeletePrefix removes every key starting with prefix.
	DeletePrefix(ctx context.Context, prefix string) error

	// Publish sends a change notice to every subscriber of channel.
	Publish(ctx context.Context, channel string, change Change) error

	// Subscribe returns a subscription receiving notices published on channel.
	// The subscription ends when ctx is cancelled or Close is called.
	Subscribe(ctx context.Context, channel string) (*Subscription, error)

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases the backend's resources.
	Close() error
}

// Subscription delivers change notices until closed.
type Subscription struct {
	C <-chan Change

	closeFn func() error
	once    sync.Once
	err     error
}

func newSubscription(ch <-chan Change, closeFn func() error) *Subscription {
	return &Subscription{C: ch, closeFn: closeFn}
}

// Close ends the subscription. It is safe to call more than once.
func (s *Subscription) Close() error {
	s.once.Do(func() {
		if s.closeFn != nil {
			s.err = s.closeFn()
		}
	})
	return s.err
}
