//go:build integration
// +build integration

package testhelpers

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/kjstillabower/aviation-weather-service/internal/cache"
	"github.com/kjstillabower/aviation-weather-service/internal/client"
	"github.com/kjstillabower/aviation-weather-service/internal/observability"
	"github.com/kjstillabower/aviation-weather-service/internal/service"
)

// IntegrationTestConfig holds configuration for integration tests.
type IntegrationTestConfig struct {
	APIURL        string
	CacheBackend  string // "in_memory", "memcached" or "redis"
	MemcachedAddr string
	RedisURL      string
}

// GetIntegrationConfig loads integration test configuration from environment.
// Skips the test unless AVIATION_WEATHER_LIVE is set, since it calls the public API.
func GetIntegrationConfig(t *testing.T) IntegrationTestConfig {
	if os.Getenv("AVIATION_WEATHER_LIVE") == "" {
		t.Skip("AVIATION_WEATHER_LIVE not set, skipping live integration test")
	}

	cfg := IntegrationTestConfig{
		APIURL:        os.Getenv("WEATHER_API_URL"),
		CacheBackend:  os.Getenv("INTEGRATION_CACHE_BACKEND"),
		MemcachedAddr: os.Getenv("MEMCACHED_ADDRS"),
		RedisURL:      os.Getenv("REDIS_URL"),
	}
	if cfg.MemcachedAddr == "" {
		cfg.MemcachedAddr = "localhost:11211"
	}
	if cfg.RedisURL == "" {
		cfg.RedisURL = "redis://localhost:6379/0"
	}
	return cfg
}

// SetupIntegrationClient creates a live upstream client for integration tests.
func SetupIntegrationClient(t *testing.T, cfg IntegrationTestConfig) *client.AviationWeatherClient {
	c, err := client.NewAviationWeatherClient(client.Options{
		BaseURL:       cfg.APIURL,
		Timeout:       4 * time.Second,
		RetryAttempts: 2,
	})
	if err != nil {
		t.Fatalf("NewAviationWeatherClient() error = %v", err)
	}
	return c
}

// SetupIntegrationStore returns the configured backend, falling back to in-memory when the
// shared backend is unreachable. The store is cleared before use.
func SetupIntegrationStore(t *testing.T, cfg IntegrationTestConfig) (cache.Store, func()) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	switch cfg.CacheBackend {
	case "memcached":
		mc := cache.NewMemcachedStore(cfg.MemcachedAddr, 500*time.Millisecond, 2, cache.DefaultRetention)
		if err := mc.Ping(ctx); err == nil {
			_ = mc.Clear(ctx)
			t.Logf("using memcached store at %s", cfg.MemcachedAddr)
			return mc, func() { _ = mc.Close() }
		} else {
			t.Logf("memcached not available (%v), using in-memory store", err)
		}
	case "redis":
		rs, err := cache.NewRedisStore(cfg.RedisURL, cache.DefaultRetention)
		if err == nil {
			err = rs.Ping(ctx)
		}
		if err == nil {
			_ = rs.Clear(ctx)
			t.Logf("using redis store at %s", cfg.RedisURL)
			return rs, func() { _ = rs.Close() }
		}
		t.Logf("redis not available (%v), using in-memory store", err)
	}
	return cache.NewInMemoryStore(), func() {}
}

// SetupIntegrationService creates a fetcher over the live client and the configured store.
// Returns the service, its store (for test setup) and a cleanup function.
func SetupIntegrationService(t *testing.T, cfg IntegrationTestConfig) (*service.ReportService, cache.Store, func()) {
	logger, err := observability.NewLogger()
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}
	store, cleanup := SetupIntegrationStore(t, cfg)
	svc := service.NewReportService(
		SetupIntegrationClient(t, cfg),
		cache.Instrument(store),
		service.DefaultTTL,
		service.DefaultTimeout,
		service.WithLogger(logger),
	)
	return svc, store, func() {
		_ = svc.Close(context.Background())
		cleanup()
	}
}
