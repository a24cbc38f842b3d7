// Package container wires the gate's components together.
package container

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Container represents a dependency injection container
type Container interface {
	Register(name string, factory Factory) error
	RegisterSingleton(name string, factory Factory) error
	Resolve(name string) (interface{}, error)
	ResolveWithContext(ctx context.Context, name string) (interface{}, error)
	Has(name string) bool
	OnClose(fn func() error)
}

// Factory is a function that creates an instance of a dependency
type Factory func(ctx context.Context, c Container) (interface{}, error)

// ServiceRegistration represents a registered service
type ServiceRegistration struct {
	Factory   Factory
	Singleton bool
	Instance  interface{}
	err       error
	once      sync.Once
}

// DIContainer is the default implementation of Container
type DIContainer struct {
	mu       sync.RWMutex
	services map[string]*ServiceRegistration
	closers  []func() error
}

// NewContainer creates a new dependency injection container
func NewContainer() *DIContainer {
	return &DIContainer{
		services: make(map[string]*ServiceRegistration),
	}
}

// Register registers a factory for a named service
func (c *DIContainer) Register(name string, factory Factory) error {
	return c.register(name, factory, false)
}

// RegisterSingleton registers a singleton factory for a named service
func (c *DIContainer) RegisterSingleton(name string, factory Factory) error {
	return c.register(name, factory, true)
}

func (c *DIContainer) register(name string, factory Factory, singleton bool) error {
	if factory == nil {
		return NewDependencyError("INVALID_FACTORY", "nil factory for service: "+name)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.services[name]; exists {
		return NewDependencyError("SERVICE_EXISTS", "service already registered: "+name)
	}
	c.services[name] = &ServiceRegistration{
		Factory:   factory,
		Singleton: singleton,
	}
	return nil
}

// Resolve resolves a dependency by name
func (c *DIContainer) Resolve(name string) (interface{}, error) {
	return c.ResolveWithContext(context.Background(), name)
}

// ResolveWithContext resolves a dependency by name with context.
// A singleton whose factory failed keeps returning that error.
func (c *DIContainer) ResolveWithContext(ctx context.Context, name string) (interface{}, error) {
	c.mu.RLock()
	registration, exists := c.services[name]
	c.mu.RUnlock()

	if !exists {
		return nil, NewDependencyError("SERVICE_NOT_FOUND", "service not registered: "+name)
	}

	if registration.Singleton {
		registration.once.Do(func() {
			registration.Instance, registration.err = registration.Factory(ctx, c)
		})
		if registration.err != nil {
			return nil, fmt.Errorf("resolve %s: %w", name, registration.err)
		}
		return registration.Instance, nil
	}

	instance, err := registration.Factory(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", name, err)
	}
	return instance, nil
}

// Has checks if a service is registered
func (c *DIContainer) Has(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, exists := c.services[name]
	return exists
}

// OnClose registers fn to run when the container is closed. Closers run
// in reverse registration order.
func (c *DIContainer) OnClose(fn func() error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closers = append(c.closers, fn)
}

// Close releases everything registered with OnClose.
func (c *DIContainer) Close() error {
	c.mu.Lock()
	closers := c.closers
	c.closers = nil
	c.mu.Unlock()

	var errs []error
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ResolveAs resolves name and asserts its type.
func ResolveAs[T any](ctx context.Context, c Container, name string) (T, error) {
	var zero T

	instance, err := c.ResolveWithContext(ctx, name)
	if err != nil {
		return zero, err
	}
	typed, ok := instance.(T)
	if !ok {
		return zero, NewDependencyError("TYPE_MISMATCH",
			fmt.Sprintf("service %s is %T, not %T", name, instance, zero))
	}
	return typed, nil
}

// DependencyError represents a dependency injection error
type DependencyError struct {
	Code    string
	Message string
}

// Error implements the error interface
func (e *DependencyError) Error() string {
	return e.Code + ": " + e.Message
}

// NewDependencyError creates a new dependency error
func NewDependencyError(code, message string) *DependencyError {
	return &DependencyError{
		Code:    code,
		Message: message,
	}
}
