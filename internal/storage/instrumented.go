package storage

import (
	"context"
	"errors"
	"time"

	"github.com/ericfisherdev/hairscope-lab/internal/metrics"
)

// Instrumented wraps a Backend and records operation counts and latency.
type Instrumented struct {
	Backend
}

// Instrument wraps backend with Prometheus instrumentation.
func Instrument(backend Backend) *Instrumented {
	return &Instrumented{Backend: backend}
}

func (i *Instrumented) observe(operation string, start time.Time, err error) {
	status := "success"
	switch {
	case errors.Is(err, ErrNotFound):
		status = "miss"
	case err != nil:
		status = "error"
	}

	name := i.Backend.Name()
	metrics.StorageOpsTotal.WithLabelValues(name, operation, status).Inc()
	metrics.StorageOpDuration.WithLabelValues(name, operation).Observe(time.Since(start).Seconds())
}

// Get implements Backend.
func (i *Instrumented) Get(ctx context.Context, key string) (string, error) {
	start := time.Now()
	v, err := i.Backend.Get(ctx, key)
	i.observe("get", start, err)
	return v, err
}

// Set implements Backend.
func (i *Instrumented) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	start := time.Now()
	err := i.Backend.Set(ctx, key, value, ttl)
	i.observe("set", start, err)
	return err
}

// SetNX implements Backend.
func (i *Instrumented) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	start := time.Now()
	ok, err := i.Backend.SetNX(ctx, key, value, ttl)
	i.observe("setnx", start, err)
	return ok, err
}

// Delete implements Backend.
func (i *Instrumented) Delete(ctx context.Context, keys ...string) error {
	start := time.Now()
	err := i.Backend.Delete(ctx, keys...)
	i.observe("delete", start, err)
	return err
}

// DeletePrefix implements Backend.
func (i *Instrumented) DeletePrefix(ctx context.Context, prefix string) error {
	start := time.Now()
	err := i.Backend.DeletePrefix(ctx, prefix)
	i.observe("delete_prefix", start, err)
	return err
}

// Publish implements Backend.
func (i *Instrumented) Publish(ctx context.Context, channel string, change Change) error {
	start := time.Now()
	err := i.Backend.Publish(ctx, channel, change)
	i.observe("publish", start, err)
	return err
}
