// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package app wires together configuration, the session registry, the SSE
// hub, and the HTTP server into the bridge's top-level lifecycle: New,
// Initialize, Start, Run, Shutdown.
package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/spm1001/gueridon/internal/api"
	"github.com/spm1001/gueridon/internal/api/handlers"
	"github.com/spm1001/gueridon/internal/api/middleware"
	"github.com/spm1001/gueridon/internal/config"
	"github.com/spm1001/gueridon/internal/logging"
	"github.com/spm1001/gueridon/internal/pure"
	"github.com/spm1001/gueridon/internal/reaper"
	"github.com/spm1001/gueridon/internal/session"
	"github.com/spm1001/gueridon/internal/sse"
)

// protocolVersion is sent in the SSE hello frame so clients can detect a
// mismatch against the bridge they were built for.
const protocolVersion = "1"

// clientErrorLimit and clientErrorWindow bound POST /client-error.
const clientErrorLimit = 10

var clientErrorWindow = time.Minute

// persistInterval bounds how often the active-Worker record file is
// refreshed in the background, so a bridge that is SIGKILLed between
// graceful operations still leaves a reasonably fresh list for the next
// startup's orphan sweep.
const persistInterval = 10 * time.Second

// App is the bridge's top-level container.
type App struct {
	mu sync.RWMutex

	configPath string
	version    string

	cfg      *config.Config
	log      *logging.Logger
	hub      *sse.Hub
	registry *session.Registry
	store    *reaper.Store
	allowed  *middleware.AllowedOrigins
	server   *api.Server

	persistStop chan struct{}
	done        chan struct{}
	stopOnce    sync.Once
}

// Options configures a new App.
type Options struct {
	ConfigPath string
	Host       string
	Port       int
	Version    string
}

// New loads configuration and constructs an App, applying CLI overrides
// (Host, Port) on top of whatever the config file and environment set.
func New(opts Options) (*App, error) {
	loader := config.NewLoader()
	cfg, err := loader.LoadWithDefaults(context.Background(), opts.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if opts.Host != "" {
		cfg.Server.Host = opts.Host
	}
	if opts.Port > 0 {
		cfg.Server.Port = opts.Port
	}
	if cfg.ScanRoot == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("determine scan root: %w", err)
		}
		cfg.ScanRoot = cwd
	}

	log, err := logging.New(logging.ParseLevel(cfg.Logging.Level), os.Stderr, cfg.Logging.File)
	if err != nil {
		return nil, fmt.Errorf("init logging: %w", err)
	}

	return &App{
		configPath:  opts.ConfigPath,
		version:     opts.Version,
		cfg:         cfg,
		log:         log,
		persistStop: make(chan struct{}),
		done:        make(chan struct{}),
	}, nil
}

func (a *App) stateDir() string {
	dir := filepath.Dir(a.configPath)
	if dir == "" || dir == "." {
		dir = a.cfg.ScanRoot
	}
	return filepath.Join(dir, ".gueridon")
}

// Initialize reaps orphaned Worker processes left by a previous crashed
// instance, loads the one-shot shutdown context, and builds the registry,
// hub, CORS allow-list, and HTTP server — everything Start then brings up.
func (a *App) Initialize(ctx context.Context) error {
	stateDir := a.stateDir()
	recordsPath := filepath.Join(stateDir, "sse-sessions.json")
	shutdownPath := filepath.Join(stateDir, "shutdown.json")

	summary := reaper.Sweep(recordsPath, a.log)
	if summary.Considered > 0 {
		a.log.Infof("orphan reap: considered=%d reaped=%d skipped=%d", summary.Considered, summary.Reaped, summary.Skipped)
	}

	shutdownCtx, err := reaper.LoadAndConsumeShutdownContext(shutdownPath)
	if err != nil {
		a.log.Warnf("app: failed to load shutdown context: %v", err)
	}

	a.hub = sse.NewHub()
	a.store = reaper.NewStore(recordsPath)
	a.registry = session.NewRegistry(session.RegistryOptions{
		ScanRoot:        a.cfg.ScanRoot,
		StateDir:        stateDir,
		Hub:             a.hub,
		Log:             a.log,
		GraceDuration:   a.cfg.GraceDuration(),
		OutriderNudge:   a.cfg.Experimental.OutriderNudge,
		MCPConfigPath:   a.cfg.Experimental.MCPConfigPath,
		ShutdownContext: shutdownCtx,
	})

	origins := a.cfg.CORSOrigins()
	a.allowed = middleware.NewAllowedOrigins(origins)

	deps := &handlers.Deps{
		Registry:        a.registry,
		Hub:             a.hub,
		Log:             a.log,
		ProtocolVersion: protocolVersion,
		StartedAt:       time.Now(),
		ClientErrors:    handlers.NewClientErrorLimiter(clientErrorLimit, clientErrorWindow),
	}

	a.server = api.NewServer(api.ServerConfig{
		Host:              a.cfg.Server.Host,
		Port:              a.cfg.Server.Port,
		TLSCert:           a.cfg.Server.TLSCert,
		TLSKey:            a.cfg.Server.TLSKey,
		TailscaleHostname: a.cfg.Tailscale.Hostname,
	}, deps, a.allowed)

	return nil
}

// Start brings up the background record-persistence loop and the HTTP
// listener; it does not block.
func (a *App) Start(ctx context.Context) error {
	go a.persistLoop()

	go func() {
		a.log.Infof("bridge listening on %s:%d", a.cfg.Server.Host, a.cfg.Server.Port)
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.log.Errorf("server error: %v", err)
		}
	}()

	return nil
}

// persistLoop periodically flushes the active-Worker record list so an
// ungraceful exit (SIGKILL, OOM) still leaves a usably fresh file for the
// next startup's orphan sweep.
func (a *App) persistLoop() {
	ticker := time.NewTicker(persistInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			a.store.Save(a.registry.Records())
		case <-a.persistStop:
			return
		}
	}
}

// Run initializes, starts, and blocks until a shutdown signal, context
// cancellation, or explicit Stop call, then shuts down gracefully.
func (a *App) Run(ctx context.Context) error {
	if err := a.Initialize(ctx); err != nil {
		return err
	}
	if err := a.Start(ctx); err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	var sig os.Signal
	select {
	case sig = <-sigCh:
		a.log.Infof("received signal %v, shutting down", sig)
	case <-ctx.Done():
		a.log.Infof("context cancelled, shutting down")
	case <-a.done:
		a.log.Infof("shutdown requested")
	}

	return a.Shutdown(context.Background(), sig)
}

// Shutdown writes the one-shot shutdown context (so the next startup can
// classify each folder's restart as self-caused vs. external), tears down
// every Session, stops the HTTP listener and SSE hub, and flushes the final
// active-Worker record list.
func (a *App) Shutdown(ctx context.Context, sig os.Signal) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	close(a.persistStop)

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	signalName := "graceful"
	if sig != nil {
		signalName = sig.String()
	}
	sc := pure.ShutdownContext{
		Signal:            signalName,
		Timestamp:         time.Now(),
		ActiveTurnFolders: a.registry.ActiveTurnFolders(),
	}
	if err := reaper.WriteShutdownContext(filepath.Join(a.stateDir(), "shutdown.json"), sc); err != nil {
		a.log.Warnf("app: failed to write shutdown context: %v", err)
	}

	a.registry.TeardownAll("shutdown")

	if err := a.server.Shutdown(shutdownCtx); err != nil {
		a.log.Warnf("app: error shutting down server: %v", err)
	}
	a.hub.Stop()
	a.store.Stop()
	if err := a.store.Flush(nil); err != nil {
		a.log.Warnf("app: failed to flush empty worker records: %v", err)
	}

	a.log.Infof("shutdown complete")
	return nil
}

// Stop signals Run to shut down. Safe to call multiple times.
func (a *App) Stop() {
	a.stopOnce.Do(func() {
		close(a.done)
	})
}
