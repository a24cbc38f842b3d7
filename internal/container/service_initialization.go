package container

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/gorilla/sessions"

	"github.com/ericfisherdev/hairscope-lab/internal/api"
	"github.com/ericfisherdev/hairscope-lab/internal/config"
	"github.com/ericfisherdev/hairscope-lab/internal/services"
	"github.com/ericfisherdev/hairscope-lab/internal/storage"
)

// InitializeServices initializes the service container with all dependencies
func InitializeServices(cfg *config.AppConfig, logger *slog.Logger, build api.BuildInfo) (*DIContainer, error) {
	container := NewContainer()

	// Register all services
	if err := RegisterServices(container, cfg, logger, build); err != nil {
		return nil, fmt.Errorf("failed to register services: %w", err)
	}

	return container, nil
}

// Server is what the HTTP server needs from the container.
type Server struct {
	Stores      *storage.Stores
	Lab         *api.LabHandler
	Health      *services.HealthService
	CookieStore sessions.Store
}

// ResolveServer resolves the server's dependencies, opening storage.
func ResolveServer(ctx context.Context, c Container) (*Server, error) {
	stores, err := ResolveAs[*storage.Stores](ctx, c, StorageService)
	if err != nil {
		return nil, err
	}
	lab, err := ResolveAs[*api.LabHandler](ctx, c, LabHandlerService)
	if err != nil {
		return nil, err
	}
	health, err := ResolveAs[*services.HealthService](ctx, c, HealthService)
	if err != nil {
		return nil, err
	}
	cookies, err := ResolveAs[sessions.Store](ctx, c, CookieStoreService)
	if err != nil {
		return nil, err
	}

	return &Server{
		Stores:      stores,
		Lab:         lab,
		Health:      health,
		CookieStore: cookies,
	}, nil
}
