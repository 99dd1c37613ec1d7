// Package config loads and validates all runtime configuration for the gateway.
//
// Configuration is read from environment variables (preferred for containers)
// or from a config.yaml file in the working directory. Environment variables
// take precedence over the YAML file.
//
// The gateway needs no configuration at all to be useful: with an empty
// environment it listens on 8080 and answers every chat completion itself in
// echo mode. Setting BACKEND_URL switches it into proxy mode against an
// OpenAI-compatible upstream.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
)

// Config is the immutable top-level configuration container. It is built once
// by Load and passed by reference; nothing re-reads the environment after
// startup.
type Config struct {
	// Port is the TCP port the HTTP server listens on. Default: 8080.
	Port int

	// LogLevel controls the minimum log level. One of: debug, info, warn, error.
	// Default: info.
	LogLevel string

	// BackendURL is the base URL of an OpenAI-compatible upstream, e.g.
	// "http://localhost:11434". Empty (the default) selects echo mode; any
	// non-empty value selects proxy mode. Trailing slashes are ignored.
	BackendURL string

	// BackendTimeout bounds each chat-completion call to the upstream,
	// buffered or streaming. For streams it covers connecting and waiting for
	// response headers, not the lifetime of the stream. Default: 60s.
	BackendTimeout time.Duration

	// ModelsTimeout bounds the /v1/models passthrough call. Default: 10s.
	ModelsTimeout time.Duration

	// CORSOrigins is the list of allowed CORS origins.
	// Use ["*"] to allow any origin (default). Set to specific origins in prod.
	CORSOrigins []string
}

// ProxyMode reports whether a backend is configured.
func (c *Config) ProxyMode() bool { return c.BackendURL != "" }

// Load reads configuration from environment variables and (optionally) from
// config.yaml in the current working directory. A .env file is applied first
// when present.
func Load() (*Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	_ = v.ReadInConfig()

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// ── Defaults ──────────────────────────────────────────────────────────────
	v.SetDefault("PORT", 8080)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("BACKEND_TIMEOUT", "60s")
	v.SetDefault("MODELS_TIMEOUT", "10s")
	v.SetDefault("CORS_ORIGINS", []string{"*"})

	// ── Build config ──────────────────────────────────────────────────────────
	cfg := &Config{
		Port:     v.GetInt("PORT"),
		LogLevel: strings.ToLower(v.GetString("LOG_LEVEL")),

		BackendURL:     strings.TrimSpace(v.GetString("BACKEND_URL")),
		BackendTimeout: v.GetDuration("BACKEND_TIMEOUT"),
		ModelsTimeout:  v.GetDuration("MODELS_TIMEOUT"),

		CORSOrigins: v.GetStringSlice("CORS_ORIGINS"),
	}

	// ── Validation ────────────────────────────────────────────────────────────
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validate checks all semantic constraints that cannot be expressed as defaults.
func (c *Config) validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("config: PORT must be in 1..65535, got %d", c.Port)
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf(
			"config: invalid LOG_LEVEL %q; must be one of: debug, info, warn, error",
			c.LogLevel,
		)
	}

	// BACKEND_URL must be an absolute http(s) URL when set. Reachability is
	// not checked here; an unreachable upstream surfaces per request as
	// backend_unavailable.
	if c.BackendURL != "" {
		u, err := url.Parse(c.BackendURL)
		if err != nil {
			return fmt.Errorf("config: invalid BACKEND_URL %q: %w", c.BackendURL, err)
		}
		if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf(
				"config: BACKEND_URL %q must be an absolute http or https URL",
				c.BackendURL,
			)
		}
	}

	if c.BackendTimeout <= 0 {
		return fmt.Errorf("config: BACKEND_TIMEOUT must be a positive duration")
	}
	if c.ModelsTimeout <= 0 {
		return fmt.Errorf("config: MODELS_TIMEOUT must be a positive duration")
	}

	return nil
}

// loadDotEnv populates process env vars from a .env file when present.
func loadDotEnv(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: failed to stat %s: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("config: %s is a directory, expected a file", path)
	}
	if err := gotenv.Load(path); err != nil {
		return fmt.Errorf("config: failed to load %s: %w", path, err)
	}
	return nil
}
