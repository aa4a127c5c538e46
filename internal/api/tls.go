// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"crypto/tls"
	"fmt"
	"os"

	"github.com/tailscale/tscert"
)

// BuildTLSConfig returns a *tls.Config for the listener, or nil if no TLS
// source is configured: a Tailscale hostname takes precedence over an
// explicit cert/key pair (mirroring the reference proxy listener's
// tscert-vs-static-cert choice), returning an error if both cert and key
// weren't supplied together.
func BuildTLSConfig(certPath, keyPath, tailscaleHostname string) (*tls.Config, error) {
	if tailscaleHostname != "" {
		return &tls.Config{GetCertificate: tscert.GetCertificate}, nil
	}

	if certPath == "" && keyPath == "" {
		return nil, nil
	}
	if certPath == "" || keyPath == "" {
		return nil, fmt.Errorf("both tls_cert and tls_key must be specified (got cert=%q, key=%q)", certPath, keyPath)
	}

	certPath = expandPath(certPath)
	keyPath = expandPath(keyPath)
	if !fileExists(certPath) {
		return nil, fmt.Errorf("tls_cert file not found: %s", certPath)
	}
	if !fileExists(keyPath) {
		return nil, fmt.Errorf("tls_key file not found: %s", keyPath)
	}

	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, fmt.Errorf("load TLS cert/key: %w", err)
	}
	return &tls.Config{Certificates: []tls.Certificate{cert}}, nil
}

func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		if home, err := os.UserHomeDir(); err == nil {
			return home + path[1:]
		}
	}
	return path
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
