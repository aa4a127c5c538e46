// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/spm1001/gueridon/internal/api/handlers"
	"github.com/spm1001/gueridon/internal/api/middleware"
)

// ServerConfig holds configuration for the API server's listener.
type ServerConfig struct {
	Host              string
	Port              int
	TLSCert           string
	TLSKey            string
	TailscaleHostname string
}

// NewRouter builds the bridge's HTTP routing table: the long-lived SSE
// stream, folder/status diagnostics, and the per-folder session lifecycle
// endpoints, each serialized through the folder's own Session mailbox.
// Upload and push-subscription endpoints are deposit-layer/out-of-core
// concerns and have no routes here.
func NewRouter(deps *handlers.Deps, allowed *middleware.AllowedOrigins) *mux.Router {
	r := mux.NewRouter()

	r.Use(middleware.NewLogging(deps.Log))
	r.Use(middleware.NewRecovery(deps.Log))
	r.Use(middleware.NewCORS(allowed))

	r.HandleFunc("/events", deps.Events).Methods("GET")
	r.HandleFunc("/folders", deps.Folders).Methods("GET")
	r.HandleFunc("/status", deps.Status).Methods("GET")
	r.HandleFunc("/session/{folder}", deps.Session).Methods("POST")
	r.HandleFunc("/prompt/{folder}", deps.Prompt).Methods("POST")
	r.HandleFunc("/abort/{folder}", deps.Abort).Methods("POST")
	r.HandleFunc("/exit/{folder}", deps.Exit).Methods("POST")
	r.HandleFunc("/client-error", deps.ClientError).Methods("POST")

	return r
}

// Server wraps the router with listener lifecycle management.
type Server struct {
	router *mux.Router
	cfg    ServerConfig
	server *http.Server
}

// NewServer creates a new API server bound to cfg, serving deps' handlers
// behind allowed's CORS gate.
func NewServer(cfg ServerConfig, deps *handlers.Deps, allowed *middleware.AllowedOrigins) *Server {
	return &Server{
		router: NewRouter(deps, allowed),
		cfg:    cfg,
	}
}

// Router returns the underlying router, chiefly for tests.
func (s *Server) Router() *mux.Router {
	return s.router
}

// ListenAndServe starts the server. A Tailscale hostname takes precedence
// over an explicit cert/key pair; with neither configured it serves plain
// HTTP.
func (s *Server) ListenAndServe() error {
	addr := s.cfg.Host + ":" + strconv.Itoa(s.cfg.Port)
	tlsConfig, err := BuildTLSConfig(s.cfg.TLSCert, s.cfg.TLSKey, s.cfg.TailscaleHostname)
	if err != nil {
		return fmt.Errorf("TLS configuration error: %w", err)
	}

	s.server = &http.Server{
		Addr:      addr,
		Handler:   s.router,
		TLSConfig: tlsConfig,
	}

	if tlsConfig != nil {
		return s.server.ListenAndServeTLS("", "")
	}
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP listener.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	shutdownCtx := ctx
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		shutdownCtx, cancel = context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
	}
	return s.server.Shutdown(shutdownCtx)
}
