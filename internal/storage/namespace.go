package storage

import (
	"context"
	"time"
)

const changesChannel = "changes"

// Namespace scopes a Backend to a key prefix. Keys passed to its methods
// are relative to the prefix.
type Namespace struct {
	backend Backend
	prefix  string
	ttl     time.Duration
}

// NewNamespace creates a namespace over backend. Every Set applies ttl;
// a zero ttl keeps keys until deleted.
func NewNamespace(backend Backend, prefix string, ttl time.Duration) *Namespace {
	return &Namespace{
		backend: backend,
		prefix:  prefix,
		ttl:     ttl,
	}
}

// Sub returns a child namespace nested under segment.
func (n *Namespace) Sub(segment string) *Namespace {
	return &Namespace{
		backend: n.backend,
		prefix:  n.prefix + segment + ":",
		ttl:     n.ttl,
	}
}

// Prefix returns the absolute key prefix.
func (n *Namespace) Prefix() string {
	return n.prefix
}

// Backend returns the underlying backend.
func (n *Namespace) Backend() Backend {
	return n.backend
}

// Get returns the value stored under key, or ErrNotFound.
func (n *Namespace) Get(ctx context.Context, key string) (string, error) {
	return n.backend.Get(ctx, n.prefix+key)
}

// Set stores value under key using the namespace TTL.
func (n *Namespace) Set(ctx context.Context, key, value string) error {
	return n.backend.Set(ctx, n.prefix+key, value, n.ttl)
}

// Delete removes keys from the namespace.
func (n *Namespace) Delete(ctx context.Context, keys ...string) error {
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = n.prefix + k
	}
	return n.backend.Delete(ctx, full...)
}

// Clear removes every key in the namespace, nested namespaces included.
func (n *Namespace) Clear(ctx context.Context) error {
	return n.backend.DeletePrefix(ctx, n.prefix)
}

// Publish sends a change notice on the namespace channel.
func (n *Namespace) Publish(ctx context.Context, change Change) error {
	return n.backend.Publish(ctx, n.prefix+changesChannel, change)
}

// Subscribe receives change notices published on the namespace channel.
func (n *Namespace) Subscribe(ctx context.Context) (*Subscription, error) {
	return n.backend.Subscribe(ctx, n.prefix+changesChannel)
}
