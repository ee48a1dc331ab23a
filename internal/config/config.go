package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds dashboard configuration loaded from YAML, .env and the environment.
type Config struct {
	ServerPort string

	ForecastURL       string
	GeocodingURL      string
	ReverseURL        string
	ProviderLanguage  string
	ProviderTimeout   time.Duration
	SearchResultLimit int
	SearchDebounce    time.Duration
	SearchMinLength   int

	RequestTimeout time.Duration

	RetryAttempts  int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	RateLimitRPS   int
	RateLimitBurst int

	BreakerFailureThreshold int
	BreakerTimeout          time.Duration

	CacheBackend      string // "in_memory", "redis" or "memcached"
	CacheVersion      string
	CacheWriteTimeout time.Duration
	APIHostSuffixes   []string

	MemcachedAddrs        string
	MemcachedTimeout      time.Duration
	MemcachedMaxIdleConns int

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	ShellOrigin string
	ShellAssets []string

	PreferencesBackend string // "memory" or "sqlite"
	PreferencesPath    string

	WarmFavorites bool
	WarmInterval  time.Duration

	ConnectivityWindow time.Duration
	OfflineFailurePct  int

	ReconnectCheckInterval time.Duration
	ReconnectInitialDelay  time.Duration
	ReconnectMaxDelay      time.Duration

	ShutdownTimeout               time.Duration
	ShutdownInFlightTimeout       time.Duration
	ShutdownInFlightCheckInterval time.Duration
}

type fileConfig struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`

	Provider struct {
		ForecastURL  string `yaml:"forecast_url"`
		GeocodingURL string `yaml:"geocoding_url"`
		ReverseURL   string `yaml:"reverse_url"`
		Language     string `yaml:"language"`
		Timeout      string `yaml:"timeout"`
	} `yaml:"provider"`

	Search struct {
		ResultLimit int    `yaml:"result_limit"`
		Debounce    string `yaml:"debounce"`
		MinLength   int    `yaml:"min_length"`
	} `yaml:"search"`

	Request struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"request"`

	Reliability struct {
		RetryMaxAttempts        int    `yaml:"retry_max_attempts"`
		RetryBaseDelay          string `yaml:"retry_base_delay"`
		RetryMaxDelay           string `yaml:"retry_max_delay"`
		RateLimitRPS            int    `yaml:"rate_limit_rps"`
		RateLimitBurst          int    `yaml:"rate_limit_burst"`
		BreakerFailureThreshold int    `yaml:"breaker_failure_threshold"`
		BreakerTimeout          string `yaml:"breaker_timeout"`
	} `yaml:"reliability"`

	Cache struct {
		Backend         string   `yaml:"backend"`
		Version         string   `yaml:"version"`
		WriteTimeout    string   `yaml:"write_timeout"`
		APIHostSuffixes []string `yaml:"api_host_suffixes"`
		Memcached       struct {
			Addrs        string `yaml:"addrs"`
			Timeout      string `yaml:"timeout"`
			MaxIdleConns int    `yaml:"max_idle_conns"`
		} `yaml:"memcached"`
		Redis struct {
			Addr     string `yaml:"addr"`
			Password string `yaml:"password"`
			DB       int    `yaml:"db"`
		} `yaml:"redis"`
		WarmFavorites *bool  `yaml:"warm_favorites"`
		WarmInterval  string `yaml:"warm_interval"`
	} `yaml:"cache"`

	Shell struct {
		Origin string   `yaml:"origin"`
		Assets []string `yaml:"assets"`
	} `yaml:"shell"`

	Preferences struct {
		Backend string `yaml:"backend"`
		Path    string `yaml:"path"`
	} `yaml:"preferences"`

	Health struct {
		Window            string `yaml:"window"`
		OfflineFailurePct int    `yaml:"offline_failure_pct"`
	} `yaml:"health"`

	Reconnect struct {
		CheckInterval string `yaml:"check_interval"`
		InitialDelay  string `yaml:"initial_delay"`
		MaxDelay      string `yaml:"max_delay"`
	} `yaml:"reconnect"`

	Shutdown struct {
		Timeout               string `yaml:"timeout"`
		InFlightTimeout       string `yaml:"in_flight_timeout"`
		InFlightCheckInterval string `yaml:"in_flight_check_interval"`
	} `yaml:"shutdown"`
}

// DefaultShellAssets is the application shell seeded into the static partition on install.
var DefaultShellAssets = []string{"/", "/index.html", "/manifest.webmanifest", "/vite.svg"}

// Load reads configuration from config/{ENV_NAME}.yaml (default dev) after loading an
// optional .env file. Environment variables override cache, preference and shell
// settings. Call from project root.
func Load() (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	env := os.Getenv("ENV_NAME")
	if env == "" {
		env = "dev"
	}

	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("config: get working directory: %w", err)
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

	cfg.ServerPort = fc.Server.Port
	if cfg.ServerPort == "" {
		cfg.ServerPort = "8080"
	}

	cfg.ForecastURL = stringOr(fc.Provider.ForecastURL, "https://api.open-meteo.com/v1/forecast")
	cfg.GeocodingURL = stringOr(fc.Provider.GeocodingURL, "https://geocoding-api.open-meteo.com/v1/search")
	cfg.ReverseURL = stringOr(fc.Provider.ReverseURL, "https://geocoding-api.open-meteo.com/v1/reverse")
	cfg.ProviderLanguage = stringOr(fc.Provider.Language, "pt")
	cfg.ProviderTimeout = parseDurationOrZero(fc.Provider.Timeout, 5*time.Second)

	cfg.SearchResultLimit = fc.Search.ResultLimit
	if cfg.SearchResultLimit <= 0 {
		cfg.SearchResultLimit = 5
	}
	cfg.SearchDebounce = parseDuration(fc.Search.Debounce, 350*time.Millisecond)
	cfg.SearchMinLength = fc.Search.MinLength
	if cfg.SearchMinLength <= 0 {
		cfg.SearchMinLength = 2
	}

	cfg.RequestTimeout = parseDuration(fc.Request.Timeout, 15*time.Second)

	cfg.RetryAttempts = fc.Reliability.RetryMaxAttempts
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 3
	}
	cfg.RetryBaseDelay = parseDuration(fc.Reliability.RetryBaseDelay, 100*time.Millisecond)
	cfg.RetryMaxDelay = parseDuration(fc.Reliability.RetryMaxDelay, 2*time.Second)
	cfg.RateLimitRPS = fc.Reliability.RateLimitRPS
	if cfg.RateLimitRPS <= 0 {
		cfg.RateLimitRPS = 20
	}
	cfg.RateLimitBurst = fc.Reliability.RateLimitBurst
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 40
	}
	cfg.BreakerFailureThreshold = fc.Reliability.BreakerFailureThreshold
	if cfg.BreakerFailureThreshold <= 0 {
		cfg.BreakerFailureThreshold = 5
	}
	cfg.BreakerTimeout = parseDuration(fc.Reliability.BreakerTimeout, 30*time.Second)

	cfg.CacheBackend = strings.TrimSpace(strings.ToLower(os.Getenv("CACHE_BACKEND")))
	if cfg.CacheBackend == "" {
		cfg.CacheBackend = strings.TrimSpace(strings.ToLower(fc.Cache.Backend))
	}
	if cfg.CacheBackend == "" {
		cfg.CacheBackend = "in_memory"
	}
	cfg.CacheVersion = stringOr(strings.TrimSpace(fc.Cache.Version), "v1")
	cfg.CacheWriteTimeout = parseDuration(fc.Cache.WriteTimeout, 2*time.Second)
	cfg.APIHostSuffixes = fc.Cache.APIHostSuffixes
	if len(cfg.APIHostSuffixes) == 0 {
		cfg.APIHostSuffixes = []string{"open-meteo.com"}
	}

	cfg.MemcachedAddrs = strings.TrimSpace(os.Getenv("MEMCACHED_ADDRS"))
	if cfg.MemcachedAddrs == "" {
		cfg.MemcachedAddrs = strings.TrimSpace(fc.Cache.Memcached.Addrs)
	}
	if cfg.MemcachedAddrs == "" {
		cfg.MemcachedAddrs = "localhost:11211"
	}
	cfg.MemcachedTimeout = parseDuration(fc.Cache.Memcached.Timeout, 500*time.Millisecond)
	cfg.MemcachedMaxIdleConns = fc.Cache.Memcached.MaxIdleConns
	if cfg.MemcachedMaxIdleConns <= 0 {
		cfg.MemcachedMaxIdleConns = 2
	}

	cfg.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	if cfg.RedisAddr == "" {
		cfg.RedisAddr = strings.TrimSpace(fc.Cache.Redis.Addr)
	}
	if cfg.RedisAddr == "" {
		cfg.RedisAddr = "localhost:6379"
	}
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	if cfg.RedisPassword == "" {
		cfg.RedisPassword = fc.Cache.Redis.Password
	}
	cfg.RedisDB = fc.Cache.Redis.DB
	if v := strings.TrimSpace(os.Getenv("REDIS_DB")); v != "" {
		db, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("REDIS_DB must be an integer, got %q", v)
		}
		cfg.RedisDB = db
	}

	cfg.WarmFavorites = true
	if fc.Cache.WarmFavorites != nil {
		cfg.WarmFavorites = *fc.Cache.WarmFavorites
	}
	cfg.WarmInterval = parseDurationOrZero(fc.Cache.WarmInterval, 15*time.Minute)

	cfg.ShellOrigin = strings.TrimSpace(os.Getenv("SHELL_ORIGIN"))
	if cfg.ShellOrigin == "" {
		cfg.ShellOrigin = strings.TrimSpace(fc.Shell.Origin)
	}
	if cfg.ShellOrigin == "" {
		cfg.ShellOrigin = "http://localhost:5173"
	}
	cfg.ShellOrigin = strings.TrimRight(cfg.ShellOrigin, "/")
	cfg.ShellAssets = fc.Shell.Assets
	if len(cfg.ShellAssets) == 0 {
		cfg.ShellAssets = append([]string(nil), DefaultShellAssets...)
	}

	cfg.PreferencesBackend = strings.TrimSpace(strings.ToLower(fc.Preferences.Backend))
	if cfg.PreferencesBackend == "" {
		cfg.PreferencesBackend = "sqlite"
	}
	cfg.PreferencesPath = strings.TrimSpace(os.Getenv("PREFERENCES_PATH"))
	if cfg.PreferencesPath == "" {
		cfg.PreferencesPath = strings.TrimSpace(fc.Preferences.Path)
	}
	if cfg.PreferencesPath == "" {
		cfg.PreferencesPath = filepath.Join("data", "preferences.db")
	}

	cfg.ConnectivityWindow = parseDuration(fc.Health.Window, 60*time.Second)
	cfg.OfflineFailurePct = fc.Health.OfflineFailurePct
	if cfg.OfflineFailurePct <= 0 {
		cfg.OfflineFailurePct = 50
	}

	cfg.ReconnectCheckInterval = parseDuration(fc.Reconnect.CheckInterval, 10*time.Second)
	cfg.ReconnectInitialDelay = parseDuration(fc.Reconnect.InitialDelay, 5*time.Second)
	cfg.ReconnectMaxDelay = parseDuration(fc.Reconnect.MaxDelay, 5*time.Minute)

	cfg.ShutdownTimeout = parseDuration(fc.Shutdown.Timeout, 30*time.Second)
	cfg.ShutdownInFlightTimeout = parseDuration(fc.Shutdown.InFlightTimeout, 10*time.Second)
	cfg.ShutdownInFlightCheckInterval = parseDuration(fc.Shutdown.InFlightCheckInterval, 100*time.Millisecond)

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// StaticPartition is the partition name for the application shell at this cache version.
func (c *Config) StaticPartition() string {
	return "weather-static-" + c.CacheVersion
}

// RuntimePartition is the partition name for API responses and the last navigation page.
func (c *Config) RuntimePartition() string {
	return "weather-runtime-" + c.CacheVersion
}

func stringOr(s, defaultVal string) string {
	if s == "" {
		return defaultVal
	}
	return s
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

// validate performs post-load validation of configuration values.
// Ensures ProviderTimeout is positive, RequestTimeout exceeds it, and backends are known.
func validate(cfg *Config) error {
	if cfg.ProviderTimeout <= 0 {
		return fmt.Errorf("provider.timeout must be positive")
	}
	if cfg.RequestTimeout <= cfg.ProviderTimeout {
		cfg.RequestTimeout = cfg.ProviderTimeout + time.Second
	}
	switch cfg.CacheBackend {
	case "in_memory", "redis", "memcached":
		// valid
	default:
		return fmt.Errorf("cache.backend must be in_memory, redis or memcached, got %q", cfg.CacheBackend)
	}
	switch cfg.PreferencesBackend {
	case "memory", "sqlite":
		// valid
	default:
		return fmt.Errorf("preferences.backend must be memory or sqlite, got %q", cfg.PreferencesBackend)
	}
	if !strings.HasPrefix(cfg.ShellOrigin, "http://") && !strings.HasPrefix(cfg.ShellOrigin, "https://") {
		return fmt.Errorf("shell.origin must start with http:// or https://, got %q", cfg.ShellOrigin)
	}
	if cfg.ReconnectMaxDelay < cfg.ReconnectInitialDelay {
		return fmt.Errorf("reconnect.max_delay must be >= reconnect.initial_delay")
	}
	if cfg.OfflineFailurePct > 100 {
		return fmt.Errorf("health.offline_failure_pct must be <= 100, got %d", cfg.OfflineFailurePct)
	}
	return nil
}
