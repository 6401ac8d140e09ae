// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaults(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults do not validate: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("default port = %d", cfg.Server.Port)
	}
	if cfg.Upstream.URL != "http://127.0.0.1:11434" {
		t.Errorf("default upstream = %q", cfg.Upstream.URL)
	}
	if !cfg.Defaults.ShowThinking {
		t.Error("show_thinking should default on")
	}
}

func TestLoadFromPath(t *testing.T) {
	path := writeConfig(t, `
[server]
host = "0.0.0.0"
port = 9090

[upstream]
url = "http://ollama.local:11434/"

[defaults]
model = "llama3.2:3b"
temperature = 0.5

[log]
level = "debug"
format = "json"
`)

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath: %v", err)
	}
	if cfg.Server.Host != "0.0.0.0" || cfg.Server.Port != 9090 {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.Upstream.URL != "http://ollama.local:11434" {
		t.Errorf("upstream URL not sanitized: %q", cfg.Upstream.URL)
	}
	if cfg.Defaults.Model != "llama3.2:3b" {
		t.Errorf("model = %q", cfg.Defaults.Model)
	}
	if cfg.Defaults.TopK != 40 {
		t.Errorf("unset fields must keep defaults, top_k = %d", cfg.Defaults.TopK)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "json" {
		t.Errorf("log = %+v", cfg.Log)
	}
	if cfg.Addr() != "0.0.0.0:9090" {
		t.Errorf("Addr() = %q", cfg.Addr())
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadFromPath(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("missing file should fall back to defaults: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("port = %d", cfg.Server.Port)
	}
}

func TestLoadInvalidTOML(t *testing.T) {
	path := writeConfig(t, "[server\nport=")
	if _, err := LoadFromPath(path); err == nil {
		t.Error("want parse error")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("PARLEY_PORT", "7000")
	t.Setenv("PARLEY_UPSTREAM_URL", "http://elsewhere:11434")
	t.Setenv("PARLEY_LOG_LEVEL", "warn")

	path := writeConfig(t, `
[server]
port = 9090
`)
	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Port != 7000 {
		t.Errorf("env should beat file: port = %d", cfg.Server.Port)
	}
	if cfg.Upstream.URL != "http://elsewhere:11434" {
		t.Errorf("upstream = %q", cfg.Upstream.URL)
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("level = %q", cfg.Log.Level)
	}
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero port", func(c *Config) { c.Server.Port = 0 }},
		{"huge port", func(c *Config) { c.Server.Port = 70000 }},
		{"empty upstream", func(c *Config) { c.Upstream.URL = "" }},
		{"bad scheme", func(c *Config) { c.Upstream.URL = "ftp://host" }},
		{"no host", func(c *Config) { c.Upstream.URL = "http://" }},
		{"bad level", func(c *Config) { c.Log.Level = "loud" }},
		{"bad format", func(c *Config) { c.Log.Format = "xml" }},
		{"negative rate limit", func(c *Config) { c.Server.RateLimitPerSec = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("want validation error")
			}
		})
	}
}
