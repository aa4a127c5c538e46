// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package middleware

import (
	"net/http"
	"net/url"
	"strings"
	"sync"
)

// AllowedOrigins is a settable, concurrency-safe origin allow-list gating
// the CORS middleware. Built from the configured allow-list plus, when
// TAILSCALE_HOSTNAME is set, that Tailscale MagicDNS hostname — unlike the
// reference WebSocket upgrader's always-true CheckOrigin, a request whose
// Origin header doesn't match is rejected outright rather than merely
// logged.
type AllowedOrigins struct {
	mu     sync.RWMutex
	origin map[string]bool
	host   map[string]bool
}

// NewAllowedOrigins builds an allow-list from a set of origin strings
// (scheme://host[:port], e.g. "https://example.ts.net").
func NewAllowedOrigins(origins []string) *AllowedOrigins {
	a := &AllowedOrigins{origin: make(map[string]bool), host: make(map[string]bool)}
	a.Set(origins)
	return a
}

// Set replaces the allow-list's contents.
func (a *AllowedOrigins) Set(origins []string) {
	origin := make(map[string]bool, len(origins))
	host := make(map[string]bool, len(origins))
	for _, o := range origins {
		trimmed := strings.TrimSpace(o)
		if trimmed == "" {
			continue
		}
		origin[trimmed] = true
		if parsed, err := url.Parse(trimmed); err == nil && parsed.Host != "" {
			host[parsed.Host] = true
		}
	}
	a.mu.Lock()
	a.origin, a.host = origin, host
	a.mu.Unlock()
}

// Allowed reports whether origin (the raw Origin header value) is permitted.
// An empty allow-list permits nothing but same-origin (no Origin header)
// requests — a request carrying a cross-origin Origin header with an empty
// configured allow-list is rejected, not waved through.
func (a *AllowedOrigins) Allowed(origin string) bool {
	if origin == "" {
		return true
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.origin[origin] {
		return true
	}
	if parsed, err := url.Parse(origin); err == nil && parsed.Host != "" {
		return a.host[parsed.Host]
	}
	return false
}

// NewCORS returns middleware that gates requests against allowed, rejecting
// any request (preflight or not) whose Origin is not allowed with 403 and
// echoing back the matched origin (never "*") on permitted requests.
func NewCORS(allowed *AllowedOrigins) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" && !allowed.Allowed(origin) {
				w.WriteHeader(http.StatusForbidden)
				return
			}
			if origin != "" {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Vary", "Origin")
			}
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Last-Event-ID, X-Push-Token")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
