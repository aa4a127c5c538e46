// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package config handles HJSON configuration loading for the bridge, layered
// under environment variables and CLI flags.
package config

import "time"

// Config is the root configuration structure.
type Config struct {
	Server     ServerConfig     `json:"server"`
	GraceMS    int              `json:"grace_ms"`
	ScanRoot   string           `json:"scan_root"`
	Tailscale  TailscaleConfig  `json:"tailscale"`
	Logging    LoggingConfig    `json:"logging"`
	Experimental ExperimentalConfig `json:"experimental"`
}

// ServerConfig configures the HTTP/SSE listener.
type ServerConfig struct {
	Port           int      `json:"port"`
	Host           string   `json:"host"`
	TLSCert        string   `json:"tls_cert"`
	TLSKey         string   `json:"tls_key"`
	AllowedOrigins []string `json:"allowed_origins"`
}

// TailscaleConfig configures Tailscale-provisioned TLS and CORS extension.
type TailscaleConfig struct {
	Hostname string `json:"hostname"`
}

// CORSOrigins returns the configured CORS allow-list, extended by the
// Tailscale MagicDNS hostname (as an https origin) when one is set.
func (c *Config) CORSOrigins() []string {
	origins := append([]string(nil), c.Server.AllowedOrigins...)
	if c.Tailscale.Hostname != "" {
		origins = append(origins, "https://"+c.Tailscale.Hostname)
	}
	return origins
}

// LoggingConfig configures application logging.
type LoggingConfig struct {
	Level string `json:"level"` // "debug", "info", "warn", "error"
	File  string `json:"file"`
}

// ExperimentalConfig gates behaviors explicitly called out as experimental.
type ExperimentalConfig struct {
	OutriderNudge bool   `json:"outrider_nudge"`
	MCPConfigPath string `json:"mcp_config_path"`
}

// GraceDuration returns GraceMS as a time.Duration.
func (c *Config) GraceDuration() time.Duration {
	return time.Duration(c.GraceMS) * time.Millisecond
}

// ParseDuration parses a duration string, returning a default if empty or invalid.
func ParseDuration(s string, defaultVal time.Duration) time.Duration {
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultVal
	}
	return d
}
