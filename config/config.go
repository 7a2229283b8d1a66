// Package config assembles the engine's configuration from defaults, an
// optional YAML file, and SITEFLOW_-prefixed environment overrides.
package config

import (
	"fmt"
	"time"

	"github.com/BaSui01/siteflow/browser"
	"github.com/BaSui01/siteflow/element"
	"github.com/BaSui01/siteflow/ratelimit"
	"github.com/BaSui01/siteflow/security"
	"github.com/BaSui01/siteflow/session"
)

// PatternBackend selects the pattern store implementation.
type PatternBackend string

const (
	PatternMemory PatternBackend = "memory"
	PatternFile   PatternBackend = "file"
	PatternRedis  PatternBackend = "redis"
	PatternSQLite PatternBackend = "sqlite"
)

// PatternConfig configures pattern persistence.
type PatternConfig struct {
	Backend PatternBackend `json:"backend" yaml:"backend"`
	// Dir is the base directory for the file backend.
	Dir string `json:"dir,omitempty" yaml:"dir"`
	// Path is the database file for the sqlite backend.
	Path string `json:"path,omitempty" yaml:"path"`
}

// RedisConfig configures the shared redis connection used by the redis
// pattern store and rate limiter.
type RedisConfig struct {
	Addr     string `json:"addr" yaml:"addr"`
	Password string `json:"password,omitempty" yaml:"password"`
	DB       int    `json:"db" yaml:"db"`
}

// ServerConfig configures the HTTP API and metrics listeners.
type ServerConfig struct {
	Addr        string `json:"addr" yaml:"addr"`
	MetricsAddr string `json:"metrics_addr" yaml:"metrics_addr"`

	ReadTimeout     time.Duration `json:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `json:"write_timeout" yaml:"write_timeout"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout" yaml:"shutdown_timeout"`

	// APIKeys, when non-empty, require X-API-Key on every API route.
	APIKeys []string `json:"api_keys,omitempty" yaml:"api_keys"`
	// CORSAllowedOrigins lists origins allowed to call the API from a
	// browser. Empty rejects cross-origin requests.
	CORSAllowedOrigins []string `json:"cors_allowed_origins,omitempty" yaml:"cors_allowed_origins"`

	// RateLimitRPS caps requests per second per client IP, before the
	// engine's own per-user limit. Zero disables the transport limiter.
	RateLimitRPS   float64 `json:"rate_limit_rps" yaml:"rate_limit_rps"`
	RateLimitBurst int     `json:"rate_limit_burst" yaml:"rate_limit_burst"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	// Level is debug, info, warn, or error.
	Level string `json:"level" yaml:"level"`
	// Format is json or console.
	Format string `json:"format" yaml:"format"`
}

// Config is the engine's full configuration.
type Config struct {
	Browser   browser.Config           `json:"browser" yaml:"browser"`
	Session   session.Config           `json:"session" yaml:"session"`
	Element   element.Config           `json:"element" yaml:"element"`
	RateLimit ratelimit.Config         `json:"rate_limit" yaml:"rate_limit"`
	URLGuard  security.URLGuardConfig  `json:"url_guard" yaml:"url_guard"`
	Pattern   PatternConfig            `json:"pattern" yaml:"pattern"`
	Redis     RedisConfig              `json:"redis" yaml:"redis"`
	Server    ServerConfig             `json:"server" yaml:"server"`
	Log       LogConfig                `json:"log" yaml:"log"`
}

// Default returns the configuration used when no file or overrides are
// present.
func Default() *Config {
	return &Config{
		Browser:   browser.DefaultConfig(),
		Session:   session.DefaultConfig(),
		Element:   element.Config{MaxElements: element.DefaultMaxElements},
		RateLimit: ratelimit.DefaultConfig(),
		URLGuard:  security.DefaultURLGuardConfig(),
		Pattern:   PatternConfig{Backend: PatternMemory},
		Redis:     RedisConfig{Addr: "localhost:6379"},
		Server: ServerConfig{
			Addr:            ":8080",
			MetricsAddr:     ":9091",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			RateLimitRPS:    50,
			RateLimitBurst:  100,
		},
		Log: LogConfig{Level: "info", Format: "json"},
	}
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	if c.Session.MaxSessions <= 0 {
		return fmt.Errorf("session.max_sessions must be positive")
	}
	if c.Session.IdleTimeout < time.Second {
		return fmt.Errorf("session.idle_timeout must be at least 1s")
	}
	if c.RateLimit.MaxActions <= 0 || c.RateLimit.Window <= 0 {
		return fmt.Errorf("rate_limit quota and window must be positive")
	}
	switch c.Pattern.Backend {
	case PatternMemory:
	case PatternFile:
		if c.Pattern.Dir == "" {
			return fmt.Errorf("pattern.dir is required for the file backend")
		}
	case PatternRedis:
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis.addr is required for the redis pattern backend")
		}
	case PatternSQLite:
		if c.Pattern.Path == "" {
			return fmt.Errorf("pattern.path is required for the sqlite backend")
		}
	default:
		return fmt.Errorf("unknown pattern backend: %s", c.Pattern.Backend)
	}
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level: %s", c.Log.Level)
	}
	return nil
}
