package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/kjstillabower/pathogen-map-dashboard/internal/grist"
)

// Config holds service configuration loaded from .env, YAML and environment.
type Config struct {
	Debug bool

	ServerHost string
	ServerPort string

	GristAPIKey           string
	GristURL              string
	GristDocID            string
	GristTableID          string
	GristTimeout          time.Duration
	GristCoordinatePolicy grist.CoordinatePolicy

	DashboardTitle  string
	RefreshInterval time.Duration

	RequestTimeout time.Duration

	CacheEnabled  bool
	CacheBackend  string // "in_memory" or "memcached"
	CacheTTL      time.Duration
	StaleCacheTTL time.Duration // 0 disables stale fallback

	MemcachedAddrs        string
	MemcachedTimeout      time.Duration
	MemcachedMaxIdleConns int

	RetryAttempts  int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	RateLimitRPS   int
	RateLimitBurst int

	CircuitBreakerEnabled          bool
	CircuitBreakerFailureThreshold int
	CircuitBreakerSuccessThreshold int
	CircuitBreakerTimeout          time.Duration

	ShutdownTimeout       time.Duration
	InFlightTimeout       time.Duration
	InFlightCheckInterval time.Duration

	OverloadWindow       time.Duration
	OverloadThresholdPct int
	DegradedWindow       time.Duration
	DegradedErrorPct     int
	DegradedRetryInitial time.Duration
	DegradedRetryMax     time.Duration

	MaxSelection    int
	MaxPathogenName int
}

type fileConfig struct {
	Debug *bool `yaml:"debug"`

	Server struct {
		Host string `yaml:"host"`
		Port string `yaml:"port"`
	} `yaml:"server"`

	Grist struct {
		URL              string `yaml:"url"`
		DocID            string `yaml:"doc_id"`
		TableID          string `yaml:"table_id"`
		Timeout          string `yaml:"timeout"`
		CoordinatePolicy string `yaml:"coordinate_policy"`
	} `yaml:"grist"`

	Dashboard struct {
		Title           string `yaml:"title"`
		RefreshInterval string `yaml:"refresh_interval"`
		MaxSelection    int    `yaml:"max_selection"`
		MaxPathogenName int    `yaml:"max_pathogen_name"`
	} `yaml:"dashboard"`

	Request struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"request"`

	Cache struct {
		Enabled   *bool  `yaml:"enabled"`
		Backend   string `yaml:"backend"`
		TTL       string `yaml:"ttl"`
		StaleTTL  string `yaml:"stale_ttl"`
		Memcached struct {
			Addrs        string `yaml:"addrs"`
			Timeout      string `yaml:"timeout"`
			MaxIdleConns int    `yaml:"max_idle_conns"`
		} `yaml:"memcached"`
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
		Timeout               string `yaml:"timeout"`
		InFlightTimeout       string `yaml:"inflight_timeout"`
		InFlightCheckInterval string `yaml:"inflight_check_interval"`
	} `yaml:"shutdown"`

	Lifecycle struct {
		OverloadWindow       string `yaml:"overload_window"`
		OverloadThresholdPct int    `yaml:"overload_threshold_pct"`
		DegradedWindow       string `yaml:"degraded_window"`
		DegradedErrorPct     int    `yaml:"degraded_error_pct"`
		DegradedRetryInitial string `yaml:"degraded_retry_initial"`
		DegradedRetryMax     string `yaml:"degraded_retry_max"`
	} `yaml:"lifecycle"`
}

type secretsFile struct {
	GristAPIKey string `yaml:"grist_api_key"`
}

// Load reads .env (if present), then config/{ENV_NAME}.yaml (default dev) and
// config/secrets.yaml. Environment variables override file values; the API key
// comes from GRIST_API_KEY or secrets.yaml grist_api_key. Call from project root.
func Load() (*Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("config: get working directory: %w", err)
	}
	// godotenv.Load never overrides variables already set in the environment.
	if err := godotenv.Load(filepath.Join(cwd, ".env")); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
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

	cfg := &Config{}
	if fc.Debug != nil {
		cfg.Debug = *fc.Debug
	}
	if v, ok := envBool("DEBUG"); ok {
		cfg.Debug = v
	}

	cfg.ServerHost = firstNonEmpty(os.Getenv("HOST"), fc.Server.Host, "0.0.0.0")
	cfg.ServerPort = firstNonEmpty(os.Getenv("PORT"), fc.Server.Port, "8050")

	cfg.GristAPIKey, err = loadAPIKey(cwd)
	if err != nil {
		return nil, err
	}
	if cfg.GristAPIKey == "" {
		return nil, fmt.Errorf("GRIST_API_KEY required (set env, .env or config/secrets.yaml grist_api_key)")
	}
	cfg.GristURL = firstNonEmpty(os.Getenv("GRIST_URL"), fc.Grist.URL, grist.DefaultBaseURL)
	cfg.GristDocID = firstNonEmpty(os.Getenv("GRIST_DOC_ID"), fc.Grist.DocID)
	cfg.GristTableID = firstNonEmpty(os.Getenv("GRIST_TABLE_ID"), fc.Grist.TableID)
	cfg.GristTimeout = parseDurationOrZero(fc.Grist.Timeout, 10*time.Second)
	cfg.GristCoordinatePolicy, err = grist.ParseCoordinatePolicy(fc.Grist.CoordinatePolicy)
	if err != nil {
		return nil, fmt.Errorf("grist.coordinate_policy: %w", err)
	}

	cfg.DashboardTitle = firstNonEmpty(fc.Dashboard.Title, "Pathogen Distribution Map")
	cfg.RefreshInterval = parseDuration(fc.Dashboard.RefreshInterval, 5*time.Minute)
	cfg.MaxSelection = positiveOr(fc.Dashboard.MaxSelection, 50)
	cfg.MaxPathogenName = positiveOr(fc.Dashboard.MaxPathogenName, 200)

	cfg.RequestTimeout = parseDuration(fc.Request.Timeout, 30*time.Second)

	cfg.CacheEnabled = true
	if fc.Cache.Enabled != nil {
		cfg.CacheEnabled = *fc.Cache.Enabled
	}
	cfg.CacheBackend = strings.TrimSpace(strings.ToLower(firstNonEmpty(os.Getenv("CACHE_BACKEND"), fc.Cache.Backend, "in_memory")))
	// TTL defaults to the refresh interval.
	cfg.CacheTTL = parseDuration(fc.Cache.TTL, cfg.RefreshInterval)
	cfg.StaleCacheTTL = parseDurationOrZero(fc.Cache.StaleTTL, time.Hour)
	cfg.MemcachedAddrs = strings.TrimSpace(firstNonEmpty(os.Getenv("MEMCACHED_ADDRS"), fc.Cache.Memcached.Addrs, "localhost:11211"))
	cfg.MemcachedTimeout = parseDuration(fc.Cache.Memcached.Timeout, 500*time.Millisecond)
	cfg.MemcachedMaxIdleConns = positiveOr(fc.Cache.Memcached.MaxIdleConns, 2)

	cfg.RetryAttempts = positiveOr(fc.Reliability.RetryMaxAttempts, 3)
	cfg.RetryBaseDelay = parseDuration(fc.Reliability.RetryBaseDelay, 200*time.Millisecond)
	cfg.RetryMaxDelay = parseDuration(fc.Reliability.RetryMaxDelay, 2*time.Second)
	cfg.RateLimitRPS = positiveOr(fc.Reliability.RateLimitRPS, 20)
	cfg.RateLimitBurst = positiveOr(fc.Reliability.RateLimitBurst, 40)

	cb := fc.Reliability.CircuitBreaker
	cfg.CircuitBreakerEnabled = true
	if cb.Enabled != nil {
		cfg.CircuitBreakerEnabled = *cb.Enabled
	}
	cfg.CircuitBreakerFailureThreshold = positiveOr(cb.FailureThreshold, 5)
	cfg.CircuitBreakerSuccessThreshold = positiveOr(cb.SuccessThreshold, 2)
	cfg.CircuitBreakerTimeout = parseDuration(cb.Timeout, 30*time.Second)

	cfg.ShutdownTimeout = parseDuration(fc.Shutdown.Timeout, 30*time.Second)
	cfg.InFlightTimeout = parseDuration(fc.Shutdown.InFlightTimeout, 15*time.Second)
	cfg.InFlightCheckInterval = parseDuration(fc.Shutdown.InFlightCheckInterval, 100*time.Millisecond)

	cfg.OverloadWindow = parseDuration(fc.Lifecycle.OverloadWindow, 60*time.Second)
	cfg.OverloadThresholdPct = positiveOr(fc.Lifecycle.OverloadThresholdPct, 80)
	cfg.DegradedWindow = parseDuration(fc.Lifecycle.DegradedWindow, 10*time.Minute)
	cfg.DegradedErrorPct = positiveOr(fc.Lifecycle.DegradedErrorPct, 50)
	cfg.DegradedRetryInitial = parseDuration(fc.Lifecycle.DegradedRetryInitial, 1*time.Minute)
	cfg.DegradedRetryMax = parseDuration(fc.Lifecycle.DegradedRetryMax, 20*time.Minute)

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Addr is the listen address host:port.
func (c *Config) Addr() string {
	return c.ServerHost + ":" + c.ServerPort
}

// CacheKey identifies the configured table in the dataset cache.
func (c *Config) CacheKey() string {
	return c.GristDocID + "/" + c.GristTableID
}

func loadAPIKey(cwd string) (string, error) {
	if key := strings.TrimSpace(os.Getenv("GRIST_API_KEY")); key != "" {
		return key, nil
	}
	secretsData, err := os.ReadFile(filepath.Join(cwd, "config", "secrets.yaml"))
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("read secrets file: %w", err)
	}
	var sec secretsFile
	if err := yaml.Unmarshal(secretsData, &sec); err != nil {
		return "", fmt.Errorf("parse secrets file: %w", err)
	}
	return strings.TrimSpace(sec.GristAPIKey), nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func positiveOr(v, defaultVal int) int {
	if v <= 0 {
		return defaultVal
	}
	return v
}

func envBool(name string) (bool, bool) {
	s := strings.TrimSpace(os.Getenv(name))
	if s == "" {
		return false, false
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		return false, false
	}
	return v, true
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
// Zero and negative durations are returned as-is.
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

// validate performs post-load validation. RequestTimeout is raised above
// GristTimeout when needed.
func validate(cfg *Config) error {
	if cfg.GristDocID == "" {
		return fmt.Errorf("GRIST_DOC_ID required (set env or grist.doc_id)")
	}
	if cfg.GristTableID == "" {
		return fmt.Errorf("GRIST_TABLE_ID required (set env or grist.table_id)")
	}
	if cfg.GristTimeout <= 0 {
		return fmt.Errorf("grist.timeout must be positive")
	}
	if cfg.RequestTimeout <= cfg.GristTimeout {
		cfg.RequestTimeout = cfg.GristTimeout + time.Second
	}
	if cfg.StaleCacheTTL < 0 {
		cfg.StaleCacheTTL = 0
	}
	switch cfg.CacheBackend {
	case "in_memory", "memcached":
	default:
		return fmt.Errorf("cache.backend must be in_memory or memcached, got %q", cfg.CacheBackend)
	}
	return nil
}
