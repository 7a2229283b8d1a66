package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// envPrefix is prepended to every environment override key.
const envPrefix = "SITEFLOW_"

// Load builds the configuration: defaults, then the YAML file when path is
// non-empty, then environment overrides, then validation.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}
	applyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// applyEnv overlays SITEFLOW_-prefixed environment variables onto cfg.
func applyEnv(cfg *Config) {
	setString := func(key string, dst *string) {
		if v, ok := os.LookupEnv(envPrefix + key); ok {
			*dst = v
		}
	}
	setInt := func(key string, dst *int) {
		if v, ok := os.LookupEnv(envPrefix + key); ok {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	setBool := func(key string, dst *bool) {
		if v, ok := os.LookupEnv(envPrefix + key); ok {
			if b, err := strconv.ParseBool(v); err == nil {
				*dst = b
			}
		}
	}
	setDuration := func(key string, dst *time.Duration) {
		if v, ok := os.LookupEnv(envPrefix + key); ok {
			if d, err := time.ParseDuration(v); err == nil {
				*dst = d
			}
		}
	}

	setBool("BROWSER_HEADLESS", &cfg.Browser.Headless)
	setDuration("BROWSER_TIMEOUT", &cfg.Browser.Timeout)
	setString("BROWSER_PROXY_URL", &cfg.Browser.ProxyURL)
	setInt("SESSION_MAX_SESSIONS", &cfg.Session.MaxSessions)
	setDuration("SESSION_IDLE_TIMEOUT", &cfg.Session.IdleTimeout)
	setInt("ELEMENT_MAX_ELEMENTS", &cfg.Element.MaxElements)
	setInt("RATE_LIMIT_MAX_ACTIONS", &cfg.RateLimit.MaxActions)
	setDuration("RATE_LIMIT_WINDOW", &cfg.RateLimit.Window)
	if v, ok := os.LookupEnv(envPrefix + "PATTERN_BACKEND"); ok {
		cfg.Pattern.Backend = PatternBackend(v)
	}
	setString("PATTERN_DIR", &cfg.Pattern.Dir)
	setString("PATTERN_PATH", &cfg.Pattern.Path)
	setString("SERVER_ADDR", &cfg.Server.Addr)
	setString("SERVER_METRICS_ADDR", &cfg.Server.MetricsAddr)
	setDuration("SERVER_READ_TIMEOUT", &cfg.Server.ReadTimeout)
	setDuration("SERVER_WRITE_TIMEOUT", &cfg.Server.WriteTimeout)
	setDuration("SERVER_SHUTDOWN_TIMEOUT", &cfg.Server.ShutdownTimeout)
	setString("REDIS_ADDR", &cfg.Redis.Addr)
	setString("REDIS_PASSWORD", &cfg.Redis.Password)
	setInt("REDIS_DB", &cfg.Redis.DB)
	setString("LOG_LEVEL", &cfg.Log.Level)
	setString("LOG_FORMAT", &cfg.Log.Format)
}

// BuildLogger constructs a zap logger from the log section.
func BuildLogger(cfg LogConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("parse log level: %w", err)
	}
	zc := zap.NewProductionConfig()
	if cfg.Format == "console" {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}
