// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	hjson "github.com/hjson/hjson-go/v4"
)

// Loader loads and validates configuration files.
type Loader struct{}

// NewLoader creates a new config loader.
func NewLoader() *Loader {
	return &Loader{}
}

// Load reads and parses a config file from the given path.
func (l *Loader) Load(ctx context.Context, path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var raw map[string]interface{}
	if err := hjson.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse hjson: %w", err)
	}

	// Re-marshal through JSON so the loosely-typed HJSON map lands in a
	// strongly-typed Config, the same two-hop trick used elsewhere in this
	// codebase for HJSON configs.
	jsonData, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("remarshal config: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(jsonData, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}

// LoadWithDefaults loads a config file and applies defaults for unset fields.
// path may be empty, in which case defaults alone are returned.
func (l *Loader) LoadWithDefaults(ctx context.Context, path string) (*Config, error) {
	var cfg *Config
	if path != "" {
		loaded, err := l.Load(ctx, path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else {
		cfg = &Config{}
	}

	applyDefaults(cfg)
	applyEnvOverrides(cfg)
	return cfg, nil
}

// FindConfig looks for bridge.hjson then bridge.json in the current directory.
// Returns an empty path (not an error) if neither exists.
func (l *Loader) FindConfig() (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("get working directory: %w", err)
	}

	for _, name := range []string{"bridge.hjson", "bridge.json"} {
		candidate := filepath.Join(cwd, name)
		if _, err := os.Stat(candidate); err == nil {
			abs, err := filepath.Abs(candidate)
			if err != nil {
				return "", fmt.Errorf("resolve absolute path: %w", err)
			}
			return abs, nil
		}
	}
	return "", nil
}

// applyDefaults fills in zero-valued fields with the bridge's built-in defaults.
func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 3001
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "127.0.0.1"
	}
	if cfg.GraceMS == 0 {
		cfg.GraceMS = 300_000
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}

// applyEnvOverrides layers the documented environment variables on top of
// whatever the config file (or defaults) already set. Env vars take
// precedence over the file; CLI flags (applied by the caller, after this)
// take precedence over both.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("BRIDGE_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = p
		}
	}
	if v := os.Getenv("GRACE_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			cfg.GraceMS = ms
		}
	}
	if v := os.Getenv("SCAN_ROOT"); v != "" {
		cfg.ScanRoot = v
	}
	if v := os.Getenv("TAILSCALE_HOSTNAME"); v != "" {
		cfg.Tailscale.Hostname = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("LOG_FILE"); v != "" {
		cfg.Logging.File = v
	}
}
