package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/kjstillabower/aviation-weather-service/internal/events"
	"github.com/kjstillabower/aviation-weather-service/internal/models"
)

// Cache backends accepted by cache.backend / CACHE_BACKEND.
const (
	BackendInMemory  = "in_memory"
	BackendMemcached = "memcached"
	BackendRedis     = "redis"
)

// Config holds service configuration loaded from YAML, .env and environment.
type Config struct {
	TestingMode bool

	ServerPort string

	WeatherAPIURL     string
	WeatherAPITimeout time.Duration // per upstream attempt
	UserAgent         string

	FetchTimeout   time.Duration // bound on one report fetch, retries included
	RequestTimeout time.Duration // bound on one HTTP request
	CacheTTL       time.Duration
	CacheBackend   string
	CacheRetention time.Duration // shared backends only

	CoalesceEnabled bool

	MemcachedAddrs        string
	MemcachedTimeout      time.Duration
	MemcachedMaxIdleConns int

	RedisURL string

	RetryAttempts  int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	RateLimitRPS   int
	RateLimitBurst int

	CircuitBreakerEnabled          bool
	CircuitBreakerFailureThreshold int
	CircuitBreakerSuccessThreshold int
	CircuitBreakerTimeout          time.Duration

	ShutdownTimeout time.Duration

	ReadyDelay             time.Duration
	OverloadWindow         time.Duration
	OverloadThresholdPct   int
	IdleThresholdReqPerMin int
	IdleWindow             time.Duration
	MinimumLifespan        time.Duration
	DegradedWindow         time.Duration
	DegradedErrorPct       int

	StationMinLen int
	StationMaxLen int

	BriefingSlowThreshold time.Duration

	WarmStations []string
	WarmKinds    []models.ReportKind
	WarmInterval time.Duration

	KafkaBrokers   []string
	KafkaTopic     string
	PublishTimeout time.Duration

	TrackedStations []string
}

type fileConfig struct {
	TestingMode *bool `yaml:"testing_mode"`

	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`

	WeatherAPI struct {
		URL       string `yaml:"url"`
		Timeout   string `yaml:"timeout"`
		UserAgent string `yaml:"user_agent"`
	} `yaml:"weather_api"`

	Request struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"request"`

	Fetch struct {
		Timeout  string `yaml:"timeout"`
		Coalesce *bool  `yaml:"coalesce"`
	} `yaml:"fetch"`

	Cache struct {
		Backend   string `yaml:"backend"`
		TTL       string `yaml:"ttl"`
		Retention string `yaml:"retention"`
		Memcached struct {
			Addrs        string `yaml:"addrs"`
			Timeout      string `yaml:"timeout"`
			MaxIdleConns int    `yaml:"max_idle_conns"`
		} `yaml:"memcached"`
		Redis struct {
			URL string `yaml:"url"`
		} `yaml:"redis"`
		Warming struct {
			Stations []string `yaml:"stations"`
			Kinds    []string `yaml:"kinds"`
			Interval string   `yaml:"interval"`
		} `yaml:"warming"`
	} `yaml:"cache"`

	Reliability struct {
		RetryMaxAttempts int    `yaml:"retry_max_attempts"`
		RetryBaseDelay   string `yaml:"retry_base_delay"`
		RetryMaxDelay    string `yaml:"retry_max_delay"`
		RateLimitRPS     int    `yaml:"rate_limit_rps"`
		RateLimitBurst   int    `yaml:"rate_limit_burst"`
		CircuitBreaker   struct {
			Enabled          *bool  `yaml:"enabled"`
			FailureThreshold int    `yaml:"failure_threshold"`
			SuccessThreshold int    `yaml:"success_threshold"`
			Timeout          string `yaml:"timeout"`
		} `yaml:"circuit_breaker"`
	} `yaml:"reliability"`

	Shutdown struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"shutdown"`

	Lifecycle struct {
		ReadyDelay             string `yaml:"ready_delay"`
		OverloadWindow         string `yaml:"overload_window"`
		OverloadThresholdPct   int    `yaml:"overload_threshold_pct"`
		IdleThresholdReqPerMin int    `yaml:"idle_threshold_req_per_min"`
		IdleWindow             string `yaml:"idle_window"`
		MinimumLifespan        string `yaml:"minimum_lifespan"`
		DegradedWindow         string `yaml:"degraded_window"`
		DegradedErrorPct       int    `yaml:"degraded_error_pct"`
	} `yaml:"lifecycle"`

	Validation struct {
		StationMinLen int `yaml:"station_min_len"`
		StationMaxLen int `yaml:"station_max_len"`
	} `yaml:"validation"`

	Briefing struct {
		SlowThreshold string `yaml:"slow_threshold"`
	} `yaml:"briefing"`

	Events struct {
		Brokers        []string `yaml:"brokers"`
		Topic          string   `yaml:"topic"`
		PublishTimeout string   `yaml:"publish_timeout"`
	} `yaml:"events"`

	Metrics struct {
		TrackedStations []string `yaml:"tracked_stations"`
	} `yaml:"metrics"`
}

// Load reads configuration from config/{ENV_NAME}.yaml (default dev). A .env file in the
// working directory, if present, is loaded first; it never overrides variables already set.
// Call from project root.
func Load() (*Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("config: get working directory: %w", err)
	}
	if err := loadDotEnv(filepath.Join(cwd, ".env")); err != nil {
		return nil, err
	}

	env := os.Getenv("ENV_NAME")
	if env == "" {
		env = "dev"
	}
	configPath := filepath.Join(cwd, "config", env+".yaml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", configPath)
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	cfg := fromFile(&fc)
	applyEnv(cfg)
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("stat .env: %w", err)
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

func fromFile(fc *fileConfig) *Config {
	cfg := &Config{}
	if fc.TestingMode != nil {
		cfg.TestingMode = *fc.TestingMode
	}

	cfg.ServerPort = fc.Server.Port
	if cfg.ServerPort == "" {
		cfg.ServerPort = "8080"
	}

	cfg.WeatherAPIURL = strings.TrimSpace(fc.WeatherAPI.URL)
	if cfg.WeatherAPIURL == "" {
		cfg.WeatherAPIURL = "https://aviationweather.gov/api/data"
	}
	cfg.WeatherAPITimeout = parseDurationOrZero(fc.WeatherAPI.Timeout, 4*time.Second)
	cfg.UserAgent = strings.TrimSpace(fc.WeatherAPI.UserAgent)

	cfg.FetchTimeout = parseDuration(fc.Fetch.Timeout, 5*time.Second)
	cfg.CoalesceEnabled = true
	if fc.Fetch.Coalesce != nil {
		cfg.CoalesceEnabled = *fc.Fetch.Coalesce
	}
	cfg.RequestTimeout = parseDuration(fc.Request.Timeout, 8*time.Second)

	cfg.CacheTTL = parseDuration(fc.Cache.TTL, 30*time.Minute)
	cfg.CacheRetention = parseDuration(fc.Cache.Retention, 24*time.Hour)
	cfg.CacheBackend = strings.TrimSpace(strings.ToLower(fc.Cache.Backend))
	if cfg.CacheBackend == "" {
		cfg.CacheBackend = BackendInMemory
	}
	cfg.MemcachedAddrs = strings.TrimSpace(fc.Cache.Memcached.Addrs)
	if cfg.MemcachedAddrs == "" {
		cfg.MemcachedAddrs = "localhost:11211"
	}
	cfg.MemcachedTimeout = parseDuration(fc.Cache.Memcached.Timeout, 500*time.Millisecond)
	cfg.MemcachedMaxIdleConns = fc.Cache.Memcached.MaxIdleConns
	if cfg.MemcachedMaxIdleConns <= 0 {
		cfg.MemcachedMaxIdleConns = 2
	}
	cfg.RedisURL = strings.TrimSpace(fc.Cache.Redis.URL)
	if cfg.RedisURL == "" {
		cfg.RedisURL = "redis://localhost:6379/0"
	}
	cfg.WarmStations = normalizeStations(fc.Cache.Warming.Stations)
	cfg.WarmKinds = parseKinds(fc.Cache.Warming.Kinds)
	cfg.WarmInterval = parseDuration(fc.Cache.Warming.Interval, 25*time.Minute)

	cfg.RetryAttempts = fc.Reliability.RetryMaxAttempts
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 2
	}
	cfg.RetryBaseDelay = parseDuration(fc.Reliability.RetryBaseDelay, 100*time.Millisecond)
	cfg.RetryMaxDelay = parseDuration(fc.Reliability.RetryMaxDelay, time.Second)
	cfg.RateLimitRPS = fc.Reliability.RateLimitRPS
	if cfg.RateLimitRPS <= 0 {
		cfg.RateLimitRPS = 100
	}
	cfg.RateLimitBurst = fc.Reliability.RateLimitBurst
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 250
	}
	cb := fc.Reliability.CircuitBreaker
	cfg.CircuitBreakerEnabled = true
	if cb.Enabled != nil {
		cfg.CircuitBreakerEnabled = *cb.Enabled
	}
	cfg.CircuitBreakerFailureThreshold = cb.FailureThreshold
	if cfg.CircuitBreakerFailureThreshold <= 0 {
		cfg.CircuitBreakerFailureThreshold = 5
	}
	cfg.CircuitBreakerSuccessThreshold = cb.SuccessThreshold
	if cfg.CircuitBreakerSuccessThreshold <= 0 {
		cfg.CircuitBreakerSuccessThreshold = 2
	}
	cfg.CircuitBreakerTimeout = parseDuration(cb.Timeout, 30*time.Second)

	cfg.ShutdownTimeout = parseDuration(fc.Shutdown.Timeout, 30*time.Second)

	cfg.ReadyDelay = parseDuration(fc.Lifecycle.ReadyDelay, 3*time.Second)
	cfg.OverloadWindow = parseDuration(fc.Lifecycle.OverloadWindow, 60*time.Second)
	cfg.OverloadThresholdPct = fc.Lifecycle.OverloadThresholdPct
	if cfg.OverloadThresholdPct <= 0 {
		cfg.OverloadThresholdPct = 80
	}
	cfg.IdleThresholdReqPerMin = fc.Lifecycle.IdleThresholdReqPerMin
	if cfg.IdleThresholdReqPerMin <= 0 {
		cfg.IdleThresholdReqPerMin = 5
	}
	cfg.IdleWindow = parseDuration(fc.Lifecycle.IdleWindow, 5*time.Minute)
	cfg.MinimumLifespan = parseDuration(fc.Lifecycle.MinimumLifespan, 5*time.Minute)
	cfg.DegradedWindow = parseDuration(fc.Lifecycle.DegradedWindow, 60*time.Second)
	cfg.DegradedErrorPct = fc.Lifecycle.DegradedErrorPct
	if cfg.DegradedErrorPct <= 0 {
		cfg.DegradedErrorPct = 5
	}

	cfg.StationMinLen = fc.Validation.StationMinLen
	if cfg.StationMinLen <= 0 {
		cfg.StationMinLen = 3
	}
	cfg.StationMaxLen = fc.Validation.StationMaxLen
	if cfg.StationMaxLen <= 0 {
		cfg.StationMaxLen = 4
	}

	cfg.BriefingSlowThreshold = parseDuration(fc.Briefing.SlowThreshold, 3*time.Second)

	cfg.KafkaBrokers = trimAll(fc.Events.Brokers)
	cfg.KafkaTopic = strings.TrimSpace(fc.Events.Topic)
	if cfg.KafkaTopic == "" {
		cfg.KafkaTopic = "aviation-weather.reports"
	}
	cfg.PublishTimeout = parseDuration(fc.Events.PublishTimeout, 5*time.Second)

	cfg.TrackedStations = normalizeStations(fc.Metrics.TrackedStations)
	return cfg
}

// applyEnv applies environment overrides for deployment-specific settings.
func applyEnv(cfg *Config) {
	if v := strings.TrimSpace(strings.ToLower(os.Getenv("CACHE_BACKEND"))); v != "" {
		cfg.CacheBackend = v
	}
	if v := strings.TrimSpace(os.Getenv("MEMCACHED_ADDRS")); v != "" {
		cfg.MemcachedAddrs = v
	}
	if v := strings.TrimSpace(os.Getenv("REDIS_URL")); v != "" {
		cfg.RedisURL = v
	}
	if v := strings.TrimSpace(os.Getenv("KAFKA_BROKERS")); v != "" {
		cfg.KafkaBrokers = events.ParseBrokers(v)
	}
	if v := strings.TrimSpace(os.Getenv("WEATHER_API_URL")); v != "" {
		cfg.WeatherAPIURL = v
	}
}

// EventsEnabled reports whether report events should be published.
func (c *Config) EventsEnabled() bool {
	return len(c.KafkaBrokers) > 0
}

// parseDuration parses a duration string and returns defaultVal if parsing fails or result is <= 0.
func parseDuration(s string, defaultVal time.Duration) time.Duration {
	d := parseDurationOrZero(s, defaultVal)
	if d <= 0 {
		return defaultVal
	}
	return d
}

// parseDurationOrZero parses a duration string, returning defaultVal on empty string or parse error.
// Returns zero or negative durations as-is (caller should handle fallback).
func parseDurationOrZero(s string, defaultVal time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultVal
	}
	return d
}

func trimAll(in []string) []string {
	var out []string
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func normalizeStations(in []string) []string {
	out := trimAll(in)
	for i := range out {
		out[i] = strings.ToUpper(out[i])
	}
	return out
}

// parseKinds keeps the report kinds it recognizes. Defaults to METAR only.
func parseKinds(in []string) []models.ReportKind {
	var out []models.ReportKind
	for _, s := range in {
		if k, err := models.ParseReportKind(s); err == nil {
			out = append(out, k)
		}
	}
	if len(out) == 0 {
		out = []models.ReportKind{models.KindMETAR}
	}
	return out
}

// validate performs post-load validation of configuration values.
// Ensures WeatherAPITimeout is positive, RequestTimeout exceeds FetchTimeout,
// and CacheBackend is a valid value. Auto-adjusts RequestTimeout if needed.
func validate(cfg *Config) error {
	if cfg.WeatherAPITimeout <= 0 {
		return fmt.Errorf("weather_api.timeout must be positive")
	}
	if cfg.RequestTimeout <= cfg.FetchTimeout {
		cfg.RequestTimeout = cfg.FetchTimeout + time.Second
	}
	if cfg.StationMinLen > cfg.StationMaxLen {
		return fmt.Errorf("validation.station_min_len (%d) exceeds station_max_len (%d)", cfg.StationMinLen, cfg.StationMaxLen)
	}
	switch cfg.CacheBackend {
	case BackendInMemory, BackendMemcached, BackendRedis:
	default:
		return fmt.Errorf("cache.backend must be in_memory, memcached or redis, got %q", cfg.CacheBackend)
	}
	return nil
}
