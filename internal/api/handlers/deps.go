// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package handlers implements the bridge's HTTP/SSE endpoint handlers: the
// thin translation layer between gorilla/mux routes and the session
// registry, SSE hub, and reaper packages that do the actual work.
package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/spm1001/gueridon/internal/logging"
	"github.com/spm1001/gueridon/internal/session"
	"github.com/spm1001/gueridon/internal/sse"
)

// jsonBodyLimit caps JSON request bodies; upload endpoints (out of core)
// would use a larger limit.
const jsonBodyLimit = 1 << 20

// Deps bundles everything the handlers need, constructed once in
// internal/app and threaded through the router.
type Deps struct {
	Registry        *session.Registry
	Hub             *sse.Hub
	Log             *logging.Logger
	ProtocolVersion string
	StartedAt       time.Time
	ClientErrors    *ClientErrorLimiter
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]string{"code": code, "message": message},
	})
}

// decodeJSON reads a size-capped JSON body into v. An empty body is treated
// as a zero-valued v rather than an error, since several endpoints (e.g.
// POST /session/:folder) accept an empty request.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, jsonBodyLimit)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		if err.Error() == "EOF" {
			return nil
		}
		return err
	}
	return nil
}
