// Package server runs the lab gate over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ericfisherdev/hairscope-lab/internal/api"
	"github.com/ericfisherdev/hairscope-lab/internal/config"
	"github.com/ericfisherdev/hairscope-lab/internal/container"
)

const shutdownTimeout = 30 * time.Second

// Run serves until ctx is canceled or the listener fails, then shuts down
// gracefully.
func Run(ctx context.Context, cfg *config.AppConfig, logger *slog.Logger, build api.BuildInfo) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	c, err := container.InitializeServices(cfg, logger, build)
	if err != nil {
		return fmt.Errorf("failed to setup service container: %w", err)
	}
	defer func() {
		if closeErr := c.Close(); closeErr != nil {
			logger.Warn("Failed to release resources", "error", closeErr)
		}
	}()

	deps, err := container.ResolveServer(ctx, c)
	if err != nil {
		return fmt.Errorf("failed to resolve services: %w", err)
	}

	router, rateLimitManager, err := api.SetupRouter(ctx, api.RouterConfig{
		Lab:                        deps.Lab,
		Health:                     deps.Health,
		Build:                      build,
		CookieStore:                deps.CookieStore,
		Logger:                     logger,
		DevelopmentCORS:            !cfg.IsProduction(),
		ServerPort:                 cfg.GetServerPort(),
		RateLimitEnabled:           cfg.IsRateLimitEnabled(),
		RateLimitRequestsPerMinute: cfg.GetRateLimitRequestsPerMinute(),
		RedisClient:                deps.Stores.RedisClient(),
	})
	if err != nil {
		return err
	}
	if rateLimitManager != nil {
		defer rateLimitManager.Shutdown()
	}

	srv := &http.Server{
		Addr:              ":" + cfg.GetServerPort(),
		Handler:           router,
		ReadTimeout:       cfg.GetReadTimeout(),
		ReadHeaderTimeout: cfg.GetReadTimeout(),
		WriteTimeout:      cfg.GetWriteTimeout(),
		IdleTimeout:       cfg.GetIdleTimeout(),
	}
	srv.RegisterOnShutdown(deps.Lab.CloseFeeds)

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("Starting server",
			"addr", srv.Addr,
			"environment", cfg.GetEnvironment(),
			"storage", cfg.GetStorageBackend(),
			"allocation", cfg.GetAllocation().String(),
			"version", build.Version,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}

	logger.Info("Server stopped")
	return nil
}
