package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"spesebook/internal/backend"
	"spesebook/internal/cache"
	"spesebook/internal/cli"
	apphttp "spesebook/internal/http"
	"spesebook/internal/log"
	"spesebook/internal/metrics"
	"spesebook/internal/offline"
	"spesebook/web"
)

func main() {
	cfg, logger := cli.Bootstrap()
	ctx := context.Background()

	m := metrics.New()
	factory := backend.NewFactory(logger, m)

	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid backend configuration", log.FieldError, err)
		os.Exit(1)
	}

	result, err := factory.CreateBackend(ctx, backendCfg)
	if err != nil {
		logger.Error("Failed to initialize backend", log.FieldError, err, "backend", cfg.DataBackend)
		os.Exit(1)
	}

	offlineStore, err := factory.CreateOfflineStorage(ctx, backendCfg)
	if err != nil {
		logger.Error("Failed to initialize offline cache storage", log.FieldError, err, "backend", cfg.OfflineCacheBackend)
		result.Cleanup()
		os.Exit(1)
	}

	fetcher, err := offline.NewNetworkFetcher(offline.FetcherConfig{
		Origin: cfg.OfflineOriginURL,
		Local:  web.Static(),
	})
	if err != nil {
		logger.Error("Failed to initialize offline fetcher", log.FieldError, err)
		offlineStore.Cleanup()
		result.Cleanup()
		os.Exit(1)
	}

	controller := offline.NewController(fetcher, m, logger)
	worker := offline.NewWorker(offline.WorkerConfig{
		Version:  cfg.OfflineCacheVersion,
		Manifest: offline.Manifest(cfg.OfflineFontURL),
		Storage:  offlineStore.Storage,
		Fetcher:  fetcher,
		Logger:   logger,
	})
	registerCtx, cancelRegister := context.WithTimeout(ctx, 30*time.Second)
	if err := controller.Register(registerCtx, worker); err != nil {
		// The shell is still served from the network; the next start retries.
		logger.Warn("Offline cache not installed", log.FieldError, err, log.FieldCacheName, worker.CacheName())
	}
	cancelRegister()

	cacheManager := cache.NewManager(logger.Logger)
	if c := result.Ledger.CategoryCache(); c != nil {
		cacheManager.Register(c)
	}
	cacheManager.StartCleanup(time.Minute)

	addr := ":" + cfg.Port
	srv := apphttp.NewServer(apphttp.ServerConfig{
		Addr:               addr,
		Ledger:             result.Ledger,
		Offline:            controller,
		Metrics:            m,
		Logger:             logger,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
	})

	shutdownCtx, done := cli.GracefulShutdown(logger, 30*time.Second, func(ctx context.Context) {
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Server shutdown error", log.FieldError, err)
		}
		cacheManager.Stop()
		if err := offlineStore.Cleanup(); err != nil {
			logger.Error("Failed to close offline cache storage", log.FieldError, err)
		}
		if err := result.Cleanup(); err != nil {
			logger.Error("Failed to close backend", log.FieldError, err)
		}
	})

	logger.Info("Starting spese server",
		"addr", addr,
		"backend", cfg.DataBackend,
		"offline_backend", cfg.OfflineCacheBackend,
		log.FieldCacheName, worker.CacheName())
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server error", log.FieldError, err, "addr", addr)
		os.Exit(1)
	}

	cli.WaitForShutdown(shutdownCtx, done)
	logger.Info("Server stopped gracefully")
}
