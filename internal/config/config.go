// Package config loads the service configuration from defaults and an
// optional YAML file. Durations are written as Go duration strings ("15s").
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/Sternrassler/leerbedrijf-search/pkg/cache"
	"github.com/Sternrassler/leerbedrijf-search/pkg/logging"
	"github.com/Sternrassler/leerbedrijf-search/pkg/ratelimit"
	"github.com/Sternrassler/leerbedrijf-search/pkg/search"
	"github.com/Sternrassler/leerbedrijf-search/pkg/source/httpsource"
	"gopkg.in/yaml.v3"
)

// Cache backends.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Config is the complete service configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
	Cache     CacheConfig     `yaml:"cache"`
	Redis     RedisConfig     `yaml:"redis"`
	Source    SourceConfig    `yaml:"source"`
	Search    SearchConfig    `yaml:"search"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr              string        `yaml:"addr"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`

	// TrustForwardedFor takes the client identity from X-Forwarded-For.
	// Only enable behind a proxy that sets it.
	TrustForwardedFor bool `yaml:"trust_forwarded_for"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// CacheConfig configures the result cache.
type CacheConfig struct {
	Backend        string        `yaml:"backend"`
	MaxEntries     int           `yaml:"max_entries"`
	TTL            time.Duration `yaml:"ttl"`
	StaleRetention time.Duration `yaml:"stale_retention"`
	KeyPrefix      string        `yaml:"key_prefix"`
}

// RedisConfig configures the Redis connection used by the redis cache
// backend and rate limit statistics.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// SourceConfig configures the external company source.
type SourceConfig struct {
	BaseURL   string        `yaml:"base_url"`
	UserAgent string        `yaml:"user_agent"`
	Timeout   time.Duration `yaml:"timeout"`
	RPS       float64       `yaml:"rps"`
	Burst     int           `yaml:"burst"`
}

// SearchConfig configures orchestration.
type SearchConfig struct {
	RequestTimeout time.Duration `yaml:"request_timeout"`
	MaxAttempts    int           `yaml:"max_attempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
}

// RateLimitConfig configures the admission checks.
type RateLimitConfig struct {
	Window            time.Duration `yaml:"window"`
	IdentityLimit     int           `yaml:"identity_limit"`
	SessionLimit      int           `yaml:"session_limit"`
	GlobalLimit       int           `yaml:"global_limit"`
	SessionRetryAfter time.Duration `yaml:"session_retry_after"`
	JanitorInterval   time.Duration `yaml:"janitor_interval"`

	// Stats records admission decisions in Redis.
	Stats bool `yaml:"stats"`
}

// Default returns the built-in configuration.
func Default() Config {
	sc := search.DefaultConfig()
	rl := ratelimit.DefaultConfig()

	return Config{
		Server: ServerConfig{
			Addr:              ":8080",
			ReadHeaderTimeout: 5 * time.Second,
			ShutdownTimeout:   10 * time.Second,
		},
		Log: LogConfig{
			Level: string(logging.LevelInfo),
		},
		Cache: CacheConfig{
			Backend:        BackendMemory,
			MaxEntries:     cache.DefaultMaxEntries,
			TTL:            cache.DefaultTTL,
			StaleRetention: cache.DefaultStaleRetention,
			KeyPrefix:      "leerbedrijf",
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		Source: SourceConfig{
			UserAgent: "leerbedrijf-search/0.1.0",
			Timeout:   sc.FetchTimeout,
			RPS:       sc.SourceRPS,
			Burst:     sc.SourceBurst,
		},
		Search: SearchConfig{
			RequestTimeout: sc.RequestTimeout,
			MaxAttempts:    sc.Retry.MaxAttempts,
			InitialBackoff: sc.Retry.InitialBackoff,
			MaxBackoff:     sc.Retry.MaxBackoff,
		},
		RateLimit: RateLimitConfig{
			Window:            rl.Window,
			IdentityLimit:     rl.IdentityLimit,
			SessionLimit:      rl.SessionLimit,
			GlobalLimit:       rl.GlobalLimit,
			SessionRetryAfter: rl.SessionRetryAfter,
			JanitorInterval:   time.Minute,
		},
	}
}

// Load returns the defaults overlaid with the YAML file at path. An empty
// path returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the configuration as a whole, collecting every problem.
func (c Config) Validate() error {
	var errs []error

	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}

	switch c.Cache.Backend {
	case BackendMemory:
		if c.Cache.MaxEntries <= 0 {
			errs = append(errs, fmt.Errorf("cache.max_entries must be positive (got %d)", c.Cache.MaxEntries))
		}
	case BackendRedis:
		if c.Redis.Addr == "" {
			errs = append(errs, errors.New("redis.addr is required for the redis cache backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("cache.backend must be %q or %q (got %q)", BackendMemory, BackendRedis, c.Cache.Backend))
	}
	if c.RateLimit.Stats && c.Redis.Addr == "" {
		errs = append(errs, errors.New("redis.addr is required for rate_limit.stats"))
	}

	if c.Source.BaseURL == "" {
		errs = append(errs, errors.New("source.base_url is required"))
	}
	if err := c.SearchConfig().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("search: %w", err))
	}
	if err := c.RateLimitConfig().Validate(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// SearchConfig returns the orchestrator configuration.
func (c Config) SearchConfig() search.Config {
	sc := search.DefaultConfig()
	sc.Retry.MaxAttempts = c.Search.MaxAttempts
	sc.Retry.InitialBackoff = c.Search.InitialBackoff
	sc.Retry.MaxBackoff = c.Search.MaxBackoff
	sc.FetchTimeout = c.Source.Timeout
	sc.RequestTimeout = c.Search.RequestTimeout
	sc.CacheTTL = c.Cache.TTL
	sc.SourceRPS = c.Source.RPS
	sc.SourceBurst = c.Source.Burst
	return sc
}

// RateLimitConfig returns the limiter configuration.
func (c Config) RateLimitConfig() ratelimit.Config {
	return ratelimit.Config{
		Window:            c.RateLimit.Window,
		IdentityLimit:     c.RateLimit.IdentityLimit,
		SessionLimit:      c.RateLimit.SessionLimit,
		GlobalLimit:       c.RateLimit.GlobalLimit,
		SessionRetryAfter: c.RateLimit.SessionRetryAfter,
	}
}

// SourceConfig returns the HTTP source configuration. The HTTP client
// timeout is a backstop above the per-attempt timeout.
func (c Config) SourceConfig() httpsource.Config {
	return httpsource.Config{
		BaseURL:   c.Source.BaseURL,
		UserAgent: c.Source.UserAgent,
		Timeout:   c.Source.Timeout + 5*time.Second,
	}
}

// LoggingConfig returns the logger configuration.
func (c Config) LoggingConfig() logging.Config {
	cfg := logging.DefaultConfig()
	cfg.Level, _ = logging.ParseLevel(c.Log.Level)
	cfg.Pretty = c.Log.Pretty
	return cfg
}
