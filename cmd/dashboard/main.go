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

	"github.com/kjstillabower/pathogen-map-dashboard/internal/cache"
	"github.com/kjstillabower/pathogen-map-dashboard/internal/circuitbreaker"
	"github.com/kjstillabower/pathogen-map-dashboard/internal/config"
	"github.com/kjstillabower/pathogen-map-dashboard/internal/dashboard"
	"github.com/kjstillabower/pathogen-map-dashboard/internal/dataset"
	"github.com/kjstillabower/pathogen-map-dashboard/internal/degraded"
	"github.com/kjstillabower/pathogen-map-dashboard/internal/grist"
	httphandler "github.com/kjstillabower/pathogen-map-dashboard/internal/http"
	"github.com/kjstillabower/pathogen-map-dashboard/internal/lifecycle"
	"github.com/kjstillabower/pathogen-map-dashboard/internal/observability"
	"github.com/kjstillabower/pathogen-map-dashboard/internal/reqctx"
)

const breakerComponent = "grist_api"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger, err := observability.NewLogger(cfg.Debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	gristClient, err := newGristClient(cfg, logger)
	if err != nil {
		logger.Fatal("grist client", zap.Error(err))
	}

	cacheSvc, memcacheCloser, err := newCache(cfg, logger)
	if err != nil {
		logger.Fatal("cache", zap.Error(err))
	}

	datasetSvc := dataset.NewService(gristClient, cacheSvc, dataset.Config{
		Key:          cfg.CacheKey(),
		CacheEnabled: cfg.CacheEnabled,
		TTL:          cfg.CacheTTL,
		StaleTTL:     cfg.StaleCacheTTL,
	})
	dash := dashboard.New(datasetSvc, nil)

	bgCtx, bgCancel := context.WithCancel(reqctx.WithLogger(context.Background(), logger))
	defer bgCancel()

	refresher := cache.NewRefresher(datasetSvc, logger, nil)
	if cfg.CacheEnabled {
		go func() {
			if err := refresher.Run(bgCtx, cfg.RefreshInterval); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("dataset refresher stopped", zap.Error(err))
			}
		}()
	} else {
		go func() { _ = refresher.RefreshOnce(bgCtx) }()
	}

	degraded.StartRecoveryListener(bgCtx, degraded.RecoveryConfig{
		Probe:   gristClient.Ping,
		Initial: cfg.DegradedRetryInitial,
		Max:     cfg.DegradedRetryMax,
		Logger:  logger,
		OnRecovered: func(ctx context.Context) {
			if err := datasetSvc.Refresh(ctx); err != nil {
				logger.Warn("refresh after recovery failed", zap.Error(err))
			}
		},
		OnExhausted: func() {
			logger.Error("grist recovery exhausted; serving cached data only",
				zap.Duration("retry_max", cfg.DegradedRetryMax))
		},
	})

	healthConfig := &httphandler.HealthConfig{
		OverloadWindow:       cfg.OverloadWindow,
		OverloadThresholdPct: cfg.OverloadThresholdPct,
		RateLimitRPS:         cfg.RateLimitRPS,
		DegradedWindow:       cfg.DegradedWindow,
		DegradedErrorPct:     cfg.DegradedErrorPct,
	}
	if memcacheCloser != nil {
		healthConfig.CachePing = memcacheCloser.Ping
	}

	var limiter *rate.Limiter
	if cfg.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
	}
	observability.RegisterRateLimitGauges(cfg.OverloadWindow)

	handler := httphandler.NewHandler(
		dash,
		datasetSvc,
		gristClient,
		healthConfig,
		httphandler.PageConfig{Title: cfg.DashboardTitle, RefreshInterval: cfg.RefreshInterval},
		httphandler.Limits{MaxSelection: cfg.MaxSelection, MaxPathogenName: cfg.MaxPathogenName},
		logger,
	)
	inFlight := httphandler.NewInFlightTracker(nil)
	router := httphandler.NewRouter(handler, httphandler.RouterConfig{
		Logger:         logger,
		Limiter:        limiter,
		RequestTimeout: cfg.RequestTimeout,
		InFlight:       inFlight,
	})

	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
	}

	go func() {
		logger.Info("server starting", zap.String("addr", cfg.Addr()), zap.Bool("debug", cfg.Debug))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	<-ctx.Done()
	stop()

	logger.Info("graceful shutdown triggered")
	lifecycle.SetShuttingDown(true)
	bgCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}

	logger.Info("waiting for in-flight requests", zap.Int64("count", inFlight.Count()))
	waitCtx, waitCancel := context.WithTimeout(context.Background(), cfg.InFlightTimeout)
	defer waitCancel()
	if err := inFlight.WaitForZero(waitCtx, cfg.InFlightCheckInterval); err != nil {
		logger.Warn("in-flight requests not completed", zap.Error(err), zap.Int64("remaining", inFlight.Count()))
	}

	if err := observability.FlushTelemetry(context.Background(), logger); err != nil {
		logger.Error("telemetry flush", zap.Error(err))
	}

	if memcacheCloser != nil {
		if err := memcacheCloser.Close(); err != nil {
			logger.Error("memcached close", zap.Error(err))
		}
	}
	logger.Info("shutdown complete")
}

// newGristClient builds the records client with retry, the coordinate policy and,
// when enabled, a circuit breaker reporting to metrics.
func newGristClient(cfg *config.Config, logger *zap.Logger) (*grist.Client, error) {
	client, err := grist.NewClientWithRetry(
		cfg.GristAPIKey,
		cfg.GristURL,
		cfg.GristDocID,
		cfg.GristTableID,
		cfg.GristTimeout,
		cfg.RetryAttempts,
		cfg.RetryBaseDelay,
		cfg.RetryMaxDelay,
	)
	if err != nil {
		return nil, err
	}
	client.SetCoordinatePolicy(cfg.GristCoordinatePolicy)

	if cfg.CircuitBreakerEnabled {
		cb := circuitbreaker.New(circuitbreaker.Config{
			FailureThreshold: cfg.CircuitBreakerFailureThreshold,
			SuccessThreshold: cfg.CircuitBreakerSuccessThreshold,
			Timeout:          cfg.CircuitBreakerTimeout,
			OnStateChange: func(from, to circuitbreaker.State) {
				observability.RecordCircuitBreakerTransition(breakerComponent, from.String(), to.String(), int(to))
				logger.Warn("circuit breaker state change", zap.String("from", from.String()), zap.String("to", to.String()))
			},
		})
		client.SetCircuitBreaker(cb)
		observability.CircuitBreakerState.WithLabelValues(breakerComponent).Set(0)
		logger.Info("circuit breaker enabled",
			zap.Int("failure_threshold", cfg.CircuitBreakerFailureThreshold),
			zap.Duration("timeout", cfg.CircuitBreakerTimeout))
	}
	return client, nil
}

// newCache returns the configured dataset cache. The memcached handle is returned
// separately for health pings and shutdown; it is nil for the in-memory backend.
func newCache(cfg *config.Config, logger *zap.Logger) (cache.Cache, *cache.MemcachedCache, error) {
	if !cfg.CacheEnabled {
		logger.Info("dataset cache disabled; fetching on every event")
		return nil, nil, nil
	}
	switch cfg.CacheBackend {
	case "memcached":
		mc, err := cache.NewMemcachedCache(cfg.MemcachedAddrs, cfg.MemcachedTimeout, cfg.MemcachedMaxIdleConns, cfg.StaleCacheTTL)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("cache backend: memcached", zap.String("addrs", cfg.MemcachedAddrs))
		return mc, mc, nil
	default:
		logger.Info("cache backend: in_memory")
		return cache.NewInMemoryCache(), nil, nil
	}
}
