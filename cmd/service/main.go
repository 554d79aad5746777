package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/aviation-weather-service/internal/cache"
	"github.com/kjstillabower/aviation-weather-service/internal/circuitbreaker"
	"github.com/kjstillabower/aviation-weather-service/internal/client"
	"github.com/kjstillabower/aviation-weather-service/internal/config"
	"github.com/kjstillabower/aviation-weather-service/internal/events"
	httphandler "github.com/kjstillabower/aviation-weather-service/internal/http"
	"github.com/kjstillabower/aviation-weather-service/internal/lifecycle"
	"github.com/kjstillabower/aviation-weather-service/internal/observability"
	"github.com/kjstillabower/aviation-weather-service/internal/service"
	"github.com/kjstillabower/aviation-weather-service/internal/traffic"
)

var version = "dev"

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

	reportClient, err := client.NewAviationWeatherClient(client.Options{
		BaseURL:        cfg.WeatherAPIURL,
		UserAgent:      cfg.UserAgent,
		Timeout:        cfg.WeatherAPITimeout,
		RetryAttempts:  cfg.RetryAttempts,
		RetryBaseDelay: cfg.RetryBaseDelay,
		RetryMaxDelay:  cfg.RetryMaxDelay,
	})
	if err != nil {
		logger.Fatal("report client", zap.Error(err))
	}

	var breaker *circuitbreaker.CircuitBreaker
	if cfg.CircuitBreakerEnabled {
		const component = "aviation_weather_api"
		breaker = circuitbreaker.New(circuitbreaker.Config{
			FailureThreshold: cfg.CircuitBreakerFailureThreshold,
			SuccessThreshold: cfg.CircuitBreakerSuccessThreshold,
			Timeout:          cfg.CircuitBreakerTimeout,
			Component:        component,
			IsFailure:        client.IsBreakerFailure,
			OnStateChange: func(from, to circuitbreaker.State) {
				observability.RecordCircuitBreakerTransition(component, from.String(), to.String())
				observability.SetCircuitBreakerState(component, int(to))
				logger.Warn("circuit breaker state change",
					zap.String("component", component),
					zap.String("from", from.String()),
					zap.String("to", to.String()))
			},
		})
		reportClient.SetCircuitBreaker(breaker)
		observability.SetCircuitBreakerState(component, int(circuitbreaker.StateClosed))
		logger.Info("circuit breaker enabled",
			zap.Int("failure_threshold", cfg.CircuitBreakerFailureThreshold),
			zap.Duration("timeout", cfg.CircuitBreakerTimeout))
	}

	var closers []io.Closer
	var store cache.Store
	switch cfg.CacheBackend {
	case config.BackendMemcached:
		mc := cache.NewMemcachedStore(cfg.MemcachedAddrs, cfg.MemcachedTimeout, cfg.MemcachedMaxIdleConns, cfg.CacheRetention)
		closers = append(closers, mc)
		store = mc
		logger.Info("cache backend: memcached", zap.String("addrs", cfg.MemcachedAddrs))
	case config.BackendRedis:
		rs, err := cache.NewRedisStore(cfg.RedisURL, cfg.CacheRetention)
		if err != nil {
			logger.Fatal("redis cache", zap.Error(err))
		}
		closers = append(closers, rs)
		store = rs
		logger.Info("cache backend: redis")
	default:
		store = cache.NewInMemoryStore()
		logger.Info("cache backend: in_memory")
	}
	instrumented := cache.Instrument(store)

	var publisher events.Publisher = events.NopPublisher{}
	if cfg.EventsEnabled() {
		kp, err := events.NewKafkaPublisher(events.KafkaConfig{
			Brokers:      cfg.KafkaBrokers,
			Topic:        cfg.KafkaTopic,
			WriteTimeout: cfg.PublishTimeout,
		})
		if err != nil {
			logger.Fatal("kafka publisher", zap.Error(err))
		}
		publisher = kp
		closers = append(closers, kp)
		logger.Info("report events enabled", zap.Strings("brokers", cfg.KafkaBrokers), zap.String("topic", cfg.KafkaTopic))
	}

	reportService := service.NewReportService(reportClient, instrumented, cfg.CacheTTL, cfg.FetchTimeout,
		service.WithLogger(logger),
		service.WithPublisher(publisher, cfg.PublishTimeout),
		service.WithCoalescing(cfg.CoalesceEnabled),
	)

	state := lifecycle.NewState(nil)
	tracker := traffic.NewTracker(nil, maxDuration(cfg.OverloadWindow, cfg.IdleWindow, cfg.DegradedWindow))
	observability.RegisterTrafficGauges(tracker, cfg.OverloadWindow)
	if len(cfg.TrackedStations) > 0 {
		observability.SetTrackedStations(cfg.TrackedStations)
	}

	healthConfig := &httphandler.HealthConfig{
		OverloadWindow:         cfg.OverloadWindow,
		OverloadThresholdPct:   cfg.OverloadThresholdPct,
		RateLimitRPS:           cfg.RateLimitRPS,
		RateLimitBurst:         cfg.RateLimitBurst,
		DegradedWindow:         cfg.DegradedWindow,
		DegradedErrorPct:       cfg.DegradedErrorPct,
		IdleWindow:             cfg.IdleWindow,
		IdleThresholdReqPerMin: cfg.IdleThresholdReqPerMin,
		MinimumLifespan:        cfg.MinimumLifespan,
	}
	if breaker != nil {
		healthConfig.Breaker = breaker
	}
	if cfg.CacheBackend != config.BackendInMemory {
		healthConfig.CachePing = instrumented.Ping
	}

	var limiter *rate.Limiter
	if cfg.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
	}
	handler := httphandler.NewHandler(reportService, tracker, state, healthConfig, logger, limiter, httphandler.Options{
		StationMinLen:         cfg.StationMinLen,
		StationMaxLen:         cfg.StationMaxLen,
		BriefingSlowThreshold: cfg.BriefingSlowThreshold,
		Version:               version,
	})
	router := httphandler.NewRouter(handler, httphandler.RouterConfig{
		RequestTimeout: cfg.RequestTimeout,
		TestingMode:    cfg.TestingMode,
	})

	warmCtx, stopWarming := context.WithCancel(context.Background())
	defer stopWarming()
	if len(cfg.WarmStations) > 0 {
		warmer := cache.NewCacheWarmer(reportService, logger, cfg.WarmKinds...)
		initCtx, initCancel := context.WithTimeout(warmCtx, 30*time.Second)
		if err := warmer.Warm(initCtx, cfg.WarmStations); err != nil {
			logger.Warn("cache warming incomplete", zap.Error(err))
		}
		initCancel()
		if cfg.WarmInterval > 0 {
			go func() {
				err := warmer.WarmPeriodic(warmCtx, cfg.WarmStations, cfg.WarmInterval)
				if err != nil && !errors.Is(err, context.Canceled) {
					logger.Error("periodic cache warming stopped", zap.Error(err))
				}
			}()
		}
	}

	srv := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 2*time.Second,
	}

	go func() {
		logger.Info("server starting", zap.String("addr", srv.Addr), zap.String("version", version))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	<-ctx.Done()
	stop()

	logger.Info("graceful shutdown triggered")
	state.SetShuttingDown(true)
	stopWarming()
	// Health reports shutting-down for ReadyDelay so load balancers drain first.
	time.Sleep(cfg.ReadyDelay)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}

	inFlight := httphandler.InFlightCount()
	observability.RecordShutdownInFlight(inFlight)
	if inFlight > 0 {
		logger.Info("waiting for in-flight requests", zap.Int64("count", inFlight))
		if err := httphandler.WaitForInFlight(shutdownCtx, 100*time.Millisecond); err != nil {
			logger.Warn("in-flight requests not completed", zap.Error(err), zap.Int64("remaining", httphandler.InFlightCount()))
		}
	}

	if err := reportService.Close(shutdownCtx); err != nil {
		logger.Warn("pending report events not published", zap.Error(err))
	}
	flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer flushCancel()
	if err := observability.FlushTelemetry(flushCtx, logger, closers...); err != nil {
		logger.Error("telemetry flush", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

func maxDuration(ds ...time.Duration) time.Duration {
	var m time.Duration
	for _, d := range ds {
		if d > m {
			m = d
		}
	}
	return m
}
