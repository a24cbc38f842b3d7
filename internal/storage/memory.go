package storage

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// MemoryBackend implements Backend using in-memory storage.
// It backs development runs, the window-scoped store and tests.
type MemoryBackend struct {
	mu     sync.RWMutex
	data   map[string]memoryItem
	hub    *hub
	clock  clockwork.Clock
	closed bool
}

type memoryItem struct {
	value     string
	expiresAt time.Time
}

func (i memoryItem) expired(now time.Time) bool {
	return !i.expiresAt.IsZero() && !now.Before(i.expiresAt)
}

// MemoryOption configures a MemoryBackend.
type MemoryOption func(*MemoryBackend)

// WithMemoryClock sets the clock used for TTL expiry.
func WithMemoryClock(clock clockwork.Clock) MemoryOption {
	return func(m *MemoryBackend) {
		m.clock = clock
	}
}

// WithMemoryLogger sets the logger used by the notification hub.
func WithMemoryLogger(logger *slog.Logger) MemoryOption {
	return func(m *MemoryBackend) {
		m.hub = newHub("memory", logger)
	}
}

// NewMemoryBackend creates a new in-memory backend.
func NewMemoryBackend(opts ...MemoryOption) *MemoryBackend {
	m := &MemoryBackend{
		data:  make(map[string]memoryItem),
		hub:   newHub("memory", nil),
		clock: clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Name returns the backend name.
func (m *MemoryBackend) Name() string {
	return "memory"
}

// Get retrieves a value from memory
func (m *MemoryBackend) Get(_ context.Context, key string) (string, error) {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return "", ErrClosed
	}
	item, exists := m.data[key]
	m.mu.RUnlock()

	if !exists {
		return "", ErrNotFound
	}

	if item.expired(m.clock.Now()) {
		m.mu.Lock()
		if current, ok := m.data[key]; ok && current.expired(m.clock.Now()) {
			delete(m.data, key)
		}
		m.mu.Unlock()
		return "", ErrNotFound
	}

	return item.value, nil
}

// Set stores a value in memory with an optional TTL
func (m *MemoryBackend) Set(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}

	item := memoryItem{value: value}
	if ttl > 0 {
		item.expiresAt = m.clock.Now().Add(ttl)
	}
	m.data[key] = item
	return nil
}

// SetNX stores a value only if the key is absent or expired.
func (m *MemoryBackend) SetNX(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return false, ErrClosed
	}

	now := m.clock.Now()
	if current, ok := m.data[key]; ok && !current.expired(now) {
		return false, nil
	}

	item := memoryItem{value: value}
	if ttl > 0 {
		item.expiresAt = now.Add(ttl)
	}
	m.data[key] = item
	return true, nil
}

// Delete removes keys from memory
func (m *MemoryBackend) Delete(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}

	for _, key := range keys {
		delete(m.data, key)
	}
	return nil
}

// DeletePrefix deletes keys starting with prefix
func (m *MemoryBackend) DeletePrefix(_ context.Context, prefix string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}

	for key := range m.data {
		if strings.HasPrefix(key, prefix) {
			delete(m.data, key)
		}
	}
	return nil
}

// Publish fans the change out to in-process subscribers.
func (m *MemoryBackend) Publish(_ context.Context, channel string, change Change) error {
	m.mu.RLock()
	closed := m.closed
	m.mu.RUnlock()
	if closed {
		return ErrClosed
	}

	m.hub.publish(channel, change)
	return nil
}

// Subscribe registers an in-process subscriber on channel.
func (m *MemoryBackend) Subscribe(ctx context.Context, channel string) (*Subscription, error) {
	m.mu.RLock()
	closed := m.closed
	m.mu.RUnlock()
	if closed {
		return nil, ErrClosed
	}

	return m.hub.subscribe(ctx, channel), nil
}

// Ping reports whether the backend is open.
func (m *MemoryBackend) Ping(_ context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}
	return nil
}

// Close drops all data and ends every subscription.
func (m *MemoryBackend) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.data = make(map[string]memoryItem)
	m.mu.Unlock()

	m.hub.closeAll()
	return nil
}

// SweepExpired removes expired keys and returns how many were dropped.
func (m *MemoryBackend) SweepExpired(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, ErrClosed
	}
	now := m.clock.Now()
	var removed int64
	for key, item := range m.data {
		if item.expired(now) {
			delete(m.data, key)
			removed++
		}
	}
	return removed, nil
}

// Len returns the number of stored keys, expired ones included.
func (m *MemoryBackend) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}
