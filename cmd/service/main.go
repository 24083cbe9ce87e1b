package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/metweather/internal/cache"
	"github.com/kjstillabower/metweather/internal/circuitbreaker"
	"github.com/kjstillabower/metweather/internal/client"
	"github.com/kjstillabower/metweather/internal/config"
	httphandler "github.com/kjstillabower/metweather/internal/http"
	"github.com/kjstillabower/metweather/internal/lifecycle"
	"github.com/kjstillabower/metweather/internal/observability"
	"github.com/kjstillabower/metweather/internal/service"
)

const feedComponent = "ndfd"

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

	feedClient, breaker, err := newFeedClient(cfg, logger)
	if err != nil {
		logger.Fatal("feed client", zap.Error(err))
	}

	store, closeStore, err := newStore(cfg, logger)
	if err != nil {
		logger.Fatal("cache store", zap.Error(err))
	}

	weatherService := service.NewWeatherService(feedClient, store, service.Config{
		BaseURL:         cfg.FeedBaseURL,
		TTL:             cfg.CacheTTL,
		StaleTTL:        cfg.StaleCacheTTL,
		CoalesceTimeout: cfg.CoalesceTimeout,
		Default:         cfg.Location,
		Timezone:        cfg.Timezone,
	}, logger)

	healthConfig := &httphandler.HealthConfig{
		OverloadWindow:       cfg.OverloadWindow,
		OverloadThresholdPct: cfg.OverloadThresholdPct,
		RateLimitRPS:         cfg.RateLimitRPS,
		DegradedWindow:       cfg.DegradedWindow,
		DegradedErrorPct:     cfg.DegradedErrorPct,
	}
	if breaker != nil {
		healthConfig.BreakerState = breaker.State
	}

	var limiter *rate.Limiter
	if cfg.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
	}
	handler := httphandler.NewHandler(weatherService, healthConfig, logger)
	router := httphandler.NewRouter(handler, httphandler.RouterConfig{
		RequestTimeout: cfg.RequestTimeout,
		Limiter:        limiter,
	}, logger)

	observability.RegisterRateLimitGauges(cfg.OverloadWindow)
	observability.SetTrackedLocations(cfg.TrackedLocations)

	var warmer *cache.CacheWarmer
	if cfg.WarmEnabled {
		warmer = cache.NewCacheWarmer(weatherService, logger, cache.WarmerConfig{
			RetryAttempts: uint(cfg.WarmRetryAttempts),
			RetryDelay:    cfg.WarmRetryDelay,
			RunTimeout:    cfg.RequestTimeout * 2,
		})
		if err := warmer.Start(cfg.WarmLocations, cfg.WarmInterval); err != nil {
			logger.Warn("cache warming disabled", zap.Error(err))
			warmer = nil
		}
	}

	srv := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
	}

	go func() {
		logger.Info("server starting",
			zap.String("addr", srv.Addr),
			zap.String("feed", cfg.FeedBaseURL),
			zap.String("default_location", cfg.Location.Label),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	sig := <-sigCh
	signal.Stop(sigCh)

	lifecycle.BeginShutdown(sig.String())
	logger.Info("graceful shutdown triggered", zap.String("signal", sig.String()), zap.Duration("uptime", lifecycle.Uptime()))
	if warmer != nil {
		warmer.Stop()
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}

	logger.Info("waiting for in-flight requests", zap.Int64("count", httphandler.InFlightCount()))
	waitCtx, waitCancel := context.WithTimeout(context.Background(), cfg.InFlightTimeout)
	defer waitCancel()
	if err := httphandler.WaitForInFlight(waitCtx, cfg.InFlightCheckInterval); err != nil {
		logger.Warn("in-flight requests not completed", zap.Error(err), zap.Int64("remaining", httphandler.InFlightCount()))
	}

	if err := observability.FlushTelemetry(context.Background(), logger); err != nil {
		logger.Error("telemetry flush", zap.Error(err))
	}
	if err := closeStore(); err != nil {
		logger.Error("cache close", zap.Error(err))
	}
	logger.Info("shutdown complete", zap.Duration("drain", lifecycle.DrainingFor()))
}

// newFeedClient builds the NDFD client and, when enabled, its circuit breaker.
// The breaker is nil when disabled.
func newFeedClient(cfg *config.Config, logger *zap.Logger) (*client.NDFDClient, *circuitbreaker.CircuitBreaker, error) {
	feedClient, err := client.NewNDFDClient(cfg.FeedBaseURL, cfg.FeedUserAgent, cfg.FeedTimeout, cfg.FeedInsecureSkipVerify)
	if err != nil {
		return nil, nil, err
	}
	if cfg.FeedInsecureSkipVerify {
		logger.Warn("feed TLS certificate verification disabled", zap.String("base_url", cfg.FeedBaseURL))
	}
	if !cfg.CircuitBreakerEnabled {
		return feedClient, nil, nil
	}

	cb := circuitbreaker.New(circuitbreaker.Config{
		FailureThreshold: cfg.CircuitBreakerFailureThreshold,
		SuccessThreshold: cfg.CircuitBreakerSuccessThreshold,
		Timeout:          cfg.CircuitBreakerTimeout,
		Component:        feedComponent,
		OnStateChange: func(from, to circuitbreaker.State) {
			observability.RecordCircuitBreakerTransition(feedComponent, from.String(), to.String(), int(to))
			logger.Warn("circuit breaker state change",
				zap.String("component", feedComponent),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
	feedClient.SetCircuitBreaker(cb)
	observability.CircuitBreakerState.WithLabelValues(feedComponent).Set(float64(circuitbreaker.StateClosed))
	logger.Info("circuit breaker enabled",
		zap.Int("failure_threshold", cfg.CircuitBreakerFailureThreshold),
		zap.Duration("timeout", cfg.CircuitBreakerTimeout),
	)
	return feedClient, cb, nil
}

// newStore selects the cache backend. The returned close function releases
// backend connections and is never nil.
func newStore(cfg *config.Config, logger *zap.Logger) (cache.Store, func() error, error) {
	switch cfg.CacheBackend {
	case config.BackendMemcached:
		mc := cache.NewMemcachedCache(cfg.MemcachedAddrs, cfg.MemcachedTimeout, cfg.MemcachedMaxIdleConns)
		logger.Info("cache backend: memcached", zap.String("addrs", cfg.MemcachedAddrs))
		return mc, mc.Close, nil
	case config.BackendRedis:
		rc, err := cache.NewRedisCache(cfg.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("cache backend: redis")
		return rc, rc.Close, nil
	default:
		logger.Info("cache backend: in_memory")
		return cache.NewInMemoryCache(), func() error { return nil }, nil
	}
}
