package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/weather-dashboard/internal/cache"
	"github.com/kjstillabower/weather-dashboard/internal/client"
	"github.com/kjstillabower/weather-dashboard/internal/config"
	httphandler "github.com/kjstillabower/weather-dashboard/internal/http"
	"github.com/kjstillabower/weather-dashboard/internal/lifecycle"
	"github.com/kjstillabower/weather-dashboard/internal/models"
	"github.com/kjstillabower/weather-dashboard/internal/observability"
	"github.com/kjstillabower/weather-dashboard/internal/prefs"
	"github.com/kjstillabower/weather-dashboard/internal/reconnect"
	"github.com/kjstillabower/weather-dashboard/internal/service"
	"github.com/kjstillabower/weather-dashboard/internal/traffic"
	"github.com/kjstillabower/weather-dashboard/internal/worker"
)

func main() {
	logger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}

	startCtx, startCancel := context.WithTimeout(context.Background(), 30*time.Second)
	store, err := openStore(startCtx, cfg, logger)
	if err != nil {
		startCancel()
		logger.Fatal("cache store", zap.Error(err))
	}
	logger.Info("cache backend", zap.String("backend", cfg.CacheBackend))

	state := lifecycle.New()
	tracker := traffic.NewTracker()
	fetcher := worker.New(store, nil, worker.Config{
		StaticPartition:         cfg.StaticPartition(),
		RuntimePartition:        cfg.RuntimePartition(),
		ShellOrigin:             cfg.ShellOrigin,
		ShellAssets:             cfg.ShellAssets,
		Classifier:              worker.Classifier{APIHostSuffixes: cfg.APIHostSuffixes},
		NetworkTimeout:          cfg.ProviderTimeout,
		WriteTimeout:            cfg.CacheWriteTimeout,
		BreakerFailureThreshold: cfg.BreakerFailureThreshold,
		BreakerTimeout:          cfg.BreakerTimeout,
	}, state, tracker, logger)
	// Without an installed or stored shell the fetcher stays uncontrolled and forwards
	// everything until a later reinstall succeeds.
	if err := fetcher.Start(startCtx); err != nil {
		logger.Warn("fetcher not activated; serving without offline cache", zap.Error(err))
	}
	startCancel()

	weatherClient := client.NewOpenMeteoClient(client.Config{
		ForecastURL:    cfg.ForecastURL,
		GeocodingURL:   cfg.GeocodingURL,
		ReverseURL:     cfg.ReverseURL,
		Language:       cfg.ProviderLanguage,
		SearchCount:    cfg.SearchResultLimit,
		Timeout:        cfg.ProviderTimeout,
		RetryAttempts:  cfg.RetryAttempts,
		RetryBaseDelay: cfg.RetryBaseDelay,
		RetryMaxDelay:  cfg.RetryMaxDelay,
		Transport:      fetcher,
	})

	prefStorage, closePrefs, err := openPreferences(cfg)
	if err != nil {
		logger.Fatal("preferences", zap.Error(err))
	}
	preferences := prefs.Load(prefStorage, prefs.EnvSystemTheme, logger)

	synchronizer := service.NewSynchronizer(weatherClient, preferences.Units(), service.Config{
		Debounce:       cfg.SearchDebounce,
		MinQueryLength: cfg.SearchMinLength,
	}, logger)

	bgCtx, bgStop := context.WithCancel(context.Background())
	defer bgStop()
	go func() { _ = fetcher.KeepInstalled(bgCtx, cfg.ReconnectCheckInterval) }()
	// Warming through an uncontrolled fetcher only touches the network; entries are
	// stored once it activates.
	if cfg.WarmFavorites {
		warmer := cache.NewWarmer(weatherClient, preferences.Units, logger)
		go func() {
			if err := warmer.WarmPeriodic(bgCtx, preferences.Favorites, cfg.WarmInterval); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("favorite warming stopped", zap.Error(err))
			}
		}()
	}

	// Probes bypass the fetcher so a cached answer cannot mask an outage.
	probeClient := client.NewOpenMeteoClient(client.Config{
		ForecastURL:   cfg.ForecastURL,
		GeocodingURL:  cfg.GeocodingURL,
		ReverseURL:    cfg.ReverseURL,
		Timeout:       cfg.ProviderTimeout,
		RetryAttempts: 1,
	})
	watcher := reconnect.New(tracker,
		func(ctx context.Context) error {
			_, err := probeClient.Current(ctx, models.DefaultLocation, models.DefaultUnits())
			return err
		},
		func() {
			if fetcher.NeedsInstall() {
				ctx, cancel := context.WithTimeout(bgCtx, cfg.RequestTimeout)
				if err := fetcher.Reinstall(ctx); err != nil {
					logger.Warn("reinstall after reconnect failed", zap.Error(err))
				}
				cancel()
			}
			if _, started := synchronizer.RetryFailed(); started {
				logger.Info("retrying failed forecast after reconnect")
			}
		},
		reconnect.Config{
			Window:            cfg.ConnectivityWindow,
			OfflineFailurePct: cfg.OfflineFailurePct,
			CheckInterval:     cfg.ReconnectCheckInterval,
			InitialDelay:      cfg.ReconnectInitialDelay,
			MaxDelay:          cfg.ReconnectMaxDelay,
			ProbeTimeout:      cfg.ProviderTimeout,
		}, logger)
	go func() { _ = watcher.Run(bgCtx) }()

	observability.RegisterConnectivityGauges(tracker, cfg.ConnectivityWindow)

	var limiter *rate.Limiter
	if cfg.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
	}
	handler := httphandler.NewHandler(httphandler.Deps{
		Sync:    synchronizer,
		Prefs:   preferences,
		State:   state,
		Tracker: tracker,
		Health: httphandler.HealthConfig{
			Window:            cfg.ConnectivityWindow,
			OfflineFailurePct: cfg.OfflineFailurePct,
			CachePing:         store.Ping,
			Reconnecting:      watcher.Offline,
			ShellPending:      fetcher.NeedsInstall,
		},
		ShareBase: cfg.ShellOrigin + "/",
		Logger:    logger,
	})
	shell, err := httphandler.NewShellProxy(cfg.ShellOrigin, fetcher, logger)
	if err != nil {
		logger.Fatal("shell proxy", zap.Error(err))
	}
	inFlight := httphandler.NewInFlightTracker()
	router := httphandler.NewRouter(httphandler.RouterConfig{
		Handler:        handler,
		Shell:          shell,
		Limiter:        limiter,
		InFlight:       inFlight,
		RequestTimeout: cfg.RequestTimeout,
		Logger:         logger,
	})

	srv := &http.Server{
		Addr:        ":" + cfg.ServerPort,
		Handler:     router,
		ReadTimeout: 10 * time.Second,
		// No WriteTimeout: the event stream is long-lived. /api handlers are bounded
		// by the request timeout.
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("server starting", zap.String("addr", ":"+cfg.ServerPort), zap.String("shell_origin", cfg.ShellOrigin))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	<-ctx.Done()
	stop()

	logger.Info("graceful shutdown triggered")
	state.SetShuttingDown(true)
	bgStop()
	// Ends event streams so Shutdown does not wait on hijacked connections.
	synchronizer.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}

	logger.Info("waiting for in-flight requests", zap.Int64("count", inFlight.Count()))
	waitCtx, waitCancel := context.WithTimeout(context.Background(), cfg.ShutdownInFlightTimeout)
	defer waitCancel()
	if err := inFlight.WaitForZero(waitCtx, cfg.ShutdownInFlightCheckInterval); err != nil {
		logger.Warn("in-flight requests not completed", zap.Error(err), zap.Int64("remaining", inFlight.Count()))
	}
	if err := fetcher.Wait(waitCtx); err != nil {
		logger.Warn("pending cache writes not completed", zap.Error(err))
	}

	if err := observability.FlushTelemetry(context.Background(), logger); err != nil {
		logger.Error("telemetry flush", zap.Error(err))
	}
	if err := store.Close(); err != nil {
		logger.Error("cache store close", zap.Error(err))
	}
	if err := closePrefs(); err != nil {
		logger.Error("preferences close", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

// openStore returns the partition store for cfg.CacheBackend.
func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (cache.Store, error) {
	switch cfg.CacheBackend {
	case "redis":
		return cache.NewRedisStore(ctx, cache.RedisConfig{
			Addr:         cfg.RedisAddr,
			Password:     cfg.RedisPassword,
			DB:           cfg.RedisDB,
			DialTimeout:  cfg.CacheWriteTimeout,
			ReadTimeout:  cfg.CacheWriteTimeout,
			WriteTimeout: cfg.CacheWriteTimeout,
		})
	case "memcached":
		return cache.NewMemcachedStore(cfg.MemcachedAddrs, cfg.MemcachedTimeout, cfg.MemcachedMaxIdleConns, logger)
	default:
		return cache.NewInMemoryStore(), nil
	}
}

// openPreferences returns the preference storage and its closer.
func openPreferences(cfg *config.Config) (prefs.Storage, func() error, error) {
	if cfg.PreferencesBackend == "memory" {
		return prefs.NewMemoryStorage(), func() error { return nil }, nil
	}
	s, err := prefs.NewSQLiteStorage(cfg.PreferencesPath)
	if err != nil {
		return nil, nil, err
	}
	return s, s.Close, nil
}
