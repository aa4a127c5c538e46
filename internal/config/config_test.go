// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConfig_CORSOrigins_ExtendedByTailscaleHostname(t *testing.T) {
	cfg := &Config{
		Server:    ServerConfig{AllowedOrigins: []string{"https://app.example.com"}},
		Tailscale: TailscaleConfig{Hostname: "bridge.tailnet123.ts.net"},
	}

	origins := cfg.CORSOrigins()

	assert.Equal(t, []string{"https://app.example.com", "https://bridge.tailnet123.ts.net"}, origins)
}

func TestConfig_CORSOrigins_NoTailscaleHostname(t *testing.T) {
	cfg := &Config{Server: ServerConfig{AllowedOrigins: []string{"https://app.example.com"}}}

	assert.Equal(t, []string{"https://app.example.com"}, cfg.CORSOrigins())
}
