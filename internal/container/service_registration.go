package container

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ericfisherdev/hairscope-lab/internal/api"
	"github.com/ericfisherdev/hairscope-lab/internal/api/middleware"
	"github.com/ericfisherdev/hairscope-lab/internal/auth"
	"github.com/ericfisherdev/hairscope-lab/internal/config"
	"github.com/ericfisherdev/hairscope-lab/internal/guard"
	"github.com/ericfisherdev/hairscope-lab/internal/services"
	"github.com/ericfisherdev/hairscope-lab/internal/sessiontimer"
	"github.com/ericfisherdev/hairscope-lab/internal/storage"
)

// ServiceNames contains constants for service names used in DI container
const (
	ConfigService        = "config"
	LoggerService        = "logger"
	StorageService       = "storage"
	TimerProviderService = "timer_provider"
	CheckerService       = "credential_checker"
	EntryPassService     = "entry_pass"
	GuardService         = "guard"
	HealthService        = "health_service"
	CookieStoreService   = "cookie_store"
	LabHandlerService    = "lab_handler"
)

// RegisterServices registers all application services with the DI container
func RegisterServices(container Container, cfg *config.AppConfig, logger *slog.Logger, build api.BuildInfo) error {
	if logger == nil {
		logger = slog.Default()
	}

	registrations := []struct {
		name    string
		factory Factory
	}{
		{ConfigService, func(context.Context, Container) (interface{}, error) { return cfg, nil }},
		{LoggerService, func(context.Context, Container) (interface{}, error) { return logger, nil }},
		{StorageService, storageFactory(cfg, logger)},
		{TimerProviderService, providerFactory(cfg, logger)},
		{CheckerService, func(context.Context, Container) (interface{}, error) {
			return auth.NewChecker(cfg.GetLabUsername(), cfg.GetLabPassword()), nil
		}},
		{EntryPassService, entryPassFactory(cfg)},
		{GuardService, func(context.Context, Container) (interface{}, error) { return guard.New(logger), nil }},
		{HealthService, healthFactory(cfg, build)},
		{CookieStoreService, func(context.Context, Container) (interface{}, error) {
			return middleware.NewCookieStore(cfg.GetCookieSecret(), cfg.IsProduction()), nil
		}},
		{LabHandlerService, labHandlerFactory(cfg, logger)},
	}

	for _, r := range registrations {
		if err := container.RegisterSingleton(r.name, r.factory); err != nil {
			return fmt.Errorf("failed to register %s: %w", r.name, err)
		}
	}
	return nil
}

func storageFactory(cfg *config.AppConfig, logger *slog.Logger) Factory {
	return func(ctx context.Context, c Container) (interface{}, error) {
		stores, err := storage.Open(ctx, storage.Options{
			Kind:       cfg.GetStorageBackend(),
			RedisURL:   cfg.GetRedisURL(),
			SQLitePath: cfg.GetSQLitePath(),
			Logger:     logger,
		})
		if err != nil {
			return nil, err
		}
		c.OnClose(stores.Close)
		logger.Info("Storage opened", "backend", cfg.GetStorageBackend())
		return stores, nil
	}
}

func providerFactory(cfg *config.AppConfig, logger *slog.Logger) Factory {
	return func(ctx context.Context, c Container) (interface{}, error) {
		stores, err := ResolveAs[*storage.Stores](ctx, c, StorageService)
		if err != nil {
			return nil, err
		}
		return sessiontimer.NewProvider(stores.Durable, stores.Ephemeral,
			sessiontimer.WithAllocation(cfg.GetAllocation()),
			sessiontimer.WithWindowTTL(cfg.GetWindowTTL()),
			sessiontimer.WithLogger(logger),
		), nil
	}
}

func entryPassFactory(cfg *config.AppConfig) Factory {
	return func(ctx context.Context, c Container) (interface{}, error) {
		stores, err := ResolveAs[*storage.Stores](ctx, c, StorageService)
		if err != nil {
			return nil, err
		}
		provider, err := ResolveAs[*sessiontimer.Provider](ctx, c, TimerProviderService)
		if err != nil {
			return nil, err
		}
		return auth.NewEntryPass(cfg.GetEntryPassSecret(), cfg.GetEntryPassTTL(), provider.Clock(), stores.Durable), nil
	}
}

func healthFactory(cfg *config.AppConfig, build api.BuildInfo) Factory {
	return func(ctx context.Context, c Container) (interface{}, error) {
		stores, err := ResolveAs[*storage.Stores](ctx, c, StorageService)
		if err != nil {
			return nil, err
		}
		provider, err := ResolveAs[*sessiontimer.Provider](ctx, c, TimerProviderService)
		if err != nil {
			return nil, err
		}
		health := services.NewHealthService(build.Version, cfg.GetEnvironment(), services.WithClock(provider.Clock()))
		health.RegisterChecker(services.NewStorageHealthChecker("storage", stores.Durable, 0))
		if stores.Ephemeral != stores.Durable {
			health.RegisterChecker(services.NewStorageHealthChecker("window-storage", stores.Ephemeral, 0))
		}
		return health, nil
	}
}

func labHandlerFactory(cfg *config.AppConfig, logger *slog.Logger) Factory {
	return func(ctx context.Context, c Container) (interface{}, error) {
		provider, err := ResolveAs[*sessiontimer.Provider](ctx, c, TimerProviderService)
		if err != nil {
			return nil, err
		}
		checker, err := ResolveAs[*auth.Checker](ctx, c, CheckerService)
		if err != nil {
			return nil, err
		}
		passes, err := ResolveAs[*auth.EntryPass](ctx, c, EntryPassService)
		if err != nil {
			return nil, err
		}
		g, err := ResolveAs[*guard.Guard](ctx, c, GuardService)
		if err != nil {
			return nil, err
		}
		return api.NewLabHandler(provider, checker, passes, g, api.LabConfig{
			PollInterval:        cfg.GetPollInterval(),
			LockoutOnExhaustion: cfg.IsLockoutOnExhaustion(),
		}, logger), nil
	}
}
