package api

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/sessions"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/ericfisherdev/hairscope-lab/internal/api/middleware"
	"github.com/ericfisherdev/hairscope-lab/internal/domain"
	"github.com/ericfisherdev/hairscope-lab/internal/services"
	"github.com/ericfisherdev/hairscope-lab/web"
)

// RouterConfig carries everything SetupRouter wires together.
type RouterConfig struct {
	Lab         *LabHandler
	Health      *services.HealthService
	Build       BuildInfo
	CookieStore sessions.Store
	Logger      *slog.Logger

	// DevelopmentCORS allows the local origins on port ServerPort to call the JSON endpoints.
	DevelopmentCORS bool
	ServerPort      string

	RateLimitEnabled           bool
	RateLimitRequestsPerMinute int
	// RedisClient makes the rate limit shared across instances when set.
	RedisClient *redis.Client
}

// SetupRouter builds the gin engine. The returned manager is nil unless rate
// limiting is enabled, and must be shut down with the server otherwise.
func SetupRouter(ctx context.Context, cfg RouterConfig) (*gin.Engine, *middleware.RateLimitManager, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	templates, err := web.Templates()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse templates: %w", err)
	}

	router := gin.New()
	router.SetHTMLTemplate(templates)

	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.DefaultLoggingMiddleware(logger))
	router.Use(middleware.DefaultRecoveryMiddleware(logger))
	router.Use(middleware.ErrorHandlerMiddleware(domain.NewDefaultErrorHandler(logger)))

	var rateLimitManager *middleware.RateLimitManager
	if cfg.RateLimitEnabled {
		limit, manager := middleware.RateLimitMiddleware(ctx, middleware.RateLimitConfig{
			RequestsPerMinute: cfg.RateLimitRequestsPerMinute,
			RedisClient:       cfg.RedisClient,
			Logger:            logger,
			SkipPaths:         []string{"/health", "/metrics", "/lab/ws"},
		})
		router.Use(limit)
		rateLimitManager = manager
	}

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	NewHealthHandler(cfg.Health, cfg.Build).RegisterRoutes(router)

	var apiMiddleware []gin.HandlerFunc
	if cfg.DevelopmentCORS {
		apiMiddleware = append(apiMiddleware, middleware.DefaultCORSMiddleware(cfg.ServerPort))
	}
	cfg.Lab.RegisterRoutes(router, middleware.ProfileMiddleware(cfg.CookieStore, logger), apiMiddleware...)

	return router, rateLimitManager, nil
}
