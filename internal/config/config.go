// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for parley.
//
// Configuration comes from a TOML file with sensible defaults and
// environment variable overrides (PARLEY_* takes precedence over the
// file).
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/jeranaias/parley/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete parley configuration.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Upstream UpstreamConfig `toml:"upstream"`
	Defaults DefaultsConfig `toml:"defaults"`
	Log      LogConfig      `toml:"log"`
	Storage  StorageConfig  `toml:"storage"`
}

// ServerConfig contains the HTTP server settings.
type ServerConfig struct {
	// Host is the listen address.
	Host string `toml:"host"`
	// Port is the listen port.
	Port int `toml:"port"`
	// WebDir is the directory of static client assets.
	WebDir string `toml:"web_dir"`
	// Production enables long-lived caching headers for static assets.
	Production bool `toml:"production"`
	// RateLimitPerSec caps requests per second per client IP (0 disables).
	RateLimitPerSec float64 `toml:"rate_limit_per_sec"`
	// RateLimitBurst is the per-IP burst allowance.
	RateLimitBurst int `toml:"rate_limit_burst"`
}

// UpstreamConfig contains generation backend settings.
type UpstreamConfig struct {
	// URL is the backend base URL.
	URL string `toml:"url"`
	// AllowOverride permits per-request backend override via the
	// X-Ollama-Server header on proxied requests.
	AllowOverride bool `toml:"allow_override"`
	// TimeoutSecs bounds non-streaming backend requests.
	TimeoutSecs int `toml:"timeout_secs"`
}

// DefaultsConfig seeds new conversations.
type DefaultsConfig struct {
	Model         string  `toml:"model"`
	Temperature   float64 `toml:"temperature"`
	TopK          int     `toml:"top_k"`
	TopP          float64 `toml:"top_p"`
	RepeatPenalty float64 `toml:"repeat_penalty"`
	Mirostat      int     `toml:"mirostat"`
	ShowThinking  bool    `toml:"show_thinking"`
}

// LogConfig controls logging output.
type LogConfig struct {
	// Level is one of "debug", "info", "warn", "error".
	Level string `toml:"level"`
	// Format is "text" or "json".
	Format string `toml:"format"`
}

// StorageConfig controls state persistence.
type StorageConfig struct {
	// SnapshotPath is where conversation state is written.
	SnapshotPath string `toml:"snapshot_path"`
}

// =============================================================================
// DEFAULTS
// =============================================================================

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "127.0.0.1",
			Port:            8080,
			WebDir:          "web",
			RateLimitPerSec: 20,
			RateLimitBurst:  40,
		},
		Upstream: UpstreamConfig{
			URL:           "http://127.0.0.1:11434",
			AllowOverride: true,
			TimeoutSecs:   30,
		},
		Defaults: DefaultsConfig{
			Temperature:   0.7,
			TopK:          40,
			TopP:          0.9,
			RepeatPenalty: 1.1,
			Mirostat:      0,
			ShowThinking:  true,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Storage: StorageConfig{
			SnapshotPath: "parley-state.json",
		},
	}
}

// =============================================================================
// LOADING
// =============================================================================

// LoadFromPath loads configuration from a TOML file, applies
// environment overrides, and validates the result. An empty path (or a
// missing file at the default path) yields the defaults plus
// environment overrides.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if _, err := toml.DecodeFile(path, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides applies PARLEY_* environment variables on top of
// the loaded configuration.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PARLEY_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("PARLEY_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = p
		}
	}
	if v := os.Getenv("PARLEY_WEB_DIR"); v != "" {
		cfg.Server.WebDir = v
	}
	if v := os.Getenv("PARLEY_PRODUCTION"); v != "" {
		cfg.Server.Production = v == "1" || strings.EqualFold(v, "true")
	}
	if v := os.Getenv("PARLEY_UPSTREAM_URL"); v != "" {
		cfg.Upstream.URL = v
	}
	if v := os.Getenv("PARLEY_DEFAULT_MODEL"); v != "" {
		cfg.Defaults.Model = v
	}
	if v := os.Getenv("PARLEY_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("PARLEY_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("PARLEY_SNAPSHOT_PATH"); v != "" {
		cfg.Storage.SnapshotPath = v
	}
}

// =============================================================================
// VALIDATION
// =============================================================================

// Validate checks the configuration for usable values. The upstream
// URL is normalized (trailing slashes stripped) as a side effect.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	c.Upstream.URL = util.SanitizeServerURL(c.Upstream.URL)
	if c.Upstream.URL == "" {
		return fmt.Errorf("upstream URL must not be empty")
	}
	u, err := url.Parse(c.Upstream.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid upstream URL: %q", c.Upstream.URL)
	}

	switch c.Log.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("invalid log format: %q", c.Log.Format)
	}

	if c.Server.RateLimitPerSec < 0 {
		return fmt.Errorf("rate limit must not be negative")
	}
	if c.Upstream.TimeoutSecs <= 0 {
		c.Upstream.TimeoutSecs = 30
	}

	return nil
}

// Addr returns the host:port listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
