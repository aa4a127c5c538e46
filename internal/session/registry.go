// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/spm1001/gueridon/internal/logging"
	"github.com/spm1001/gueridon/internal/pure"
	"github.com/spm1001/gueridon/internal/reaper"
	"github.com/spm1001/gueridon/internal/sse"
)

// Registry owns the one cross-Session piece of shared mutable state: the
// folder-to-Session map. Every mutation (connect, exit, grace expiry, orphan
// reap) goes through its single mutex; everything inside a Session is
// instead serialized through that Session's own mailbox.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session

	scanRoot      string
	stateDir      string
	hub           *sse.Hub
	log           *logging.Logger
	graceDuration time.Duration
	outriderNudge bool
	mcpConfigPath string
	shutdownCtx   *pure.ShutdownContext
}

// RegistryOptions configures a Registry.
type RegistryOptions struct {
	ScanRoot      string
	StateDir      string
	Hub           *sse.Hub
	Log           *logging.Logger
	GraceDuration time.Duration
	OutriderNudge bool
	MCPConfigPath string

	// ShutdownContext is whatever LoadAndConsumeShutdownContext found on
	// disk at startup (nil if none), used to classify each folder's
	// restart kind lazily as it resumes rather than up front.
	ShutdownContext *pure.ShutdownContext
}

// NewRegistry constructs an empty Registry.
func NewRegistry(opts RegistryOptions) *Registry {
	return &Registry{
		sessions:      make(map[string]*Session),
		scanRoot:      opts.ScanRoot,
		stateDir:      opts.StateDir,
		hub:           opts.Hub,
		log:           opts.Log,
		graceDuration: opts.GraceDuration,
		outriderNudge: opts.OutriderNudge,
		mcpConfigPath: opts.MCPConfigPath,
		shutdownCtx:   opts.ShutdownContext,
	}
}

// ResolveFolderPath turns a :folder route value (a bare basename or an
// absolute path) into an absolute path validated as a strict descendant of
// the scan root.
func (r *Registry) ResolveFolderPath(raw string) (string, error) {
	candidate := raw
	if !filepath.IsAbs(candidate) {
		candidate = filepath.Join(r.scanRoot, candidate)
	}
	candidate = filepath.Clean(candidate)
	if !pure.ValidateFolderPath(candidate, r.scanRoot) {
		return "", fmt.Errorf("folder %q is not under scan root", raw)
	}
	return candidate, nil
}

// ConnectFolder implements POST /session/:folder's three request shapes:
// requested == "" resolves the latest session for folder (the full PureLogic
// decision tree); requested == "new" forces a fresh session, tearing down
// any existing one; any other value resumes that specific id, tearing down
// an existing Session whose id differs.
//
// Teardown of a superseded Session always happens with r.mu released: a
// Session's own OnGone callback (Registry.Remove) re-acquires r.mu, so
// calling Teardown synchronously while still holding the lock here would
// deadlock against that callback.
func (r *Registry) ConnectFolder(folder, requested string) (*Session, pure.Resolution, error) {
	r.mu.Lock()
	existing := r.sessions[folder]

	var res pure.Resolution
	var superseded *Session

	switch requested {
	case "new":
		superseded = existing
		res = pure.Resolution{SessionID: uuid.NewString(), Resumable: false}

	case "":
		if existing != nil {
			res = pure.Resolution{SessionID: existing.ID(), Resumable: true, IsReconnect: true}
			r.mu.Unlock()
			return existing, res, nil
		}
		r.mu.Unlock()

		record, err := journalLatestRecord(folder)
		if err != nil {
			r.log.Debugf("registry: latest journal record for %s: %v", folder, err)
		}
		handoff, err := readHandoff(folder)
		if err != nil {
			r.log.Debugf("registry: read handoff for %s: %v", folder, err)
		}
		exitSet := record != nil && hasExitMarkerFor(r.stateDir, folder, record.ID)
		res = pure.ResolveSessionForFolder(nil, record, handoff, exitSet, uuid.NewString)

		r.mu.Lock()
		if raced := r.sessions[folder]; raced != nil {
			// Another request resolved and spawned this folder's Session
			// while the journal/handoff files were being read unlocked.
			r.mu.Unlock()
			return raced, pure.Resolution{SessionID: raced.ID(), Resumable: true, IsReconnect: true}, nil
		}

	default:
		if existing != nil && existing.ID() == requested {
			res = pure.Resolution{SessionID: existing.ID(), Resumable: true, IsReconnect: true}
			r.mu.Unlock()
			return existing, res, nil
		}
		superseded = existing
		res = pure.Resolution{SessionID: requested, Resumable: true}
	}

	sess := r.spawnLocked(folder, res)
	r.mu.Unlock()

	if superseded != nil {
		superseded.Teardown("superseded")
	}
	return sess, res, nil
}

// RestartKind classifies why folder's Session is being resumed, for callers
// that bind a subscriber to it and need to trigger its one-shot auto-resume
// announcement with the right message.
func (r *Registry) RestartKind(folder string) pure.RestartKind {
	return pure.ClassifyRestart(r.shutdownCtx, folder, time.Now())
}

// Lookup returns the in-process Session for folder, if any.
func (r *Registry) Lookup(folder string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[folder]
	return sess, ok
}

// Remove drops folder's Session from the registry without tearing it down
// (used as the Session's own onGone callback, after it has already torn
// itself down).
func (r *Registry) Remove(folder string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, folder)
}

// ExitFolder writes the exit marker and tears down folder's Session, if one
// exists. Returns false if there was no Session to exit.
func (r *Registry) ExitFolder(folder string) bool {
	r.mu.Lock()
	sess := r.sessions[folder]
	r.mu.Unlock()
	if sess == nil {
		return false
	}
	sess.Exit()
	return true
}

// AbortFolder kills folder's Worker, if a Session exists. Returns false if
// there was no Session to abort.
func (r *Registry) AbortFolder(folder string) bool {
	r.mu.Lock()
	sess := r.sessions[folder]
	r.mu.Unlock()
	if sess == nil {
		return false
	}
	sess.Abort()
	return true
}

// spawnLocked constructs a new Session for folder and records it. Caller
// must hold r.mu.
func (r *Registry) spawnLocked(folder string, res pure.Resolution) *Session {
	sess := New(Options{
		ID:            res.SessionID,
		Folder:        folder,
		Resumable:     res.Resumable,
		StateDir:      r.stateDir,
		Hub:           r.hub,
		Log:           r.log,
		GraceDuration: r.graceDuration,
		OutriderNudge: r.outriderNudge,
		MCPConfigPath: r.mcpConfigPath,
		OnGone:        r.Remove,
	})
	r.sessions[folder] = sess
	return sess
}

// FolderInfo describes one folder the registry currently knows about, for
// the /folders endpoint and the SSE folders frame. Folder discovery/naming
// (walking the scan root for candidate project directories) is an external
// collaborator's job; the registry only reports folders that already have
// an in-process Session.
type FolderInfo struct {
	Path      string `json:"path"`
	Active    bool   `json:"active"`
	Resumable bool   `json:"resumable"`
}

// Folders returns FolderInfo for every folder with an in-process Session.
func (r *Registry) Folders() []FolderInfo {
	r.mu.Lock()
	type entry struct {
		folder string
		sess   *Session
	}
	entries := make([]entry, 0, len(r.sessions))
	for folder, sess := range r.sessions {
		entries = append(entries, entry{folder: folder, sess: sess})
	}
	r.mu.Unlock()

	// WorkerInfo round-trips through the Session's mailbox, which a
	// concurrently tearing-down Session uses to call back into
	// Registry.Remove (r.mu.Lock). Holding r.mu across that call would
	// deadlock against it, so the lock is released before these calls, as
	// Records and ActiveTurnFolders already do.
	out := make([]FolderInfo, 0, len(entries))
	for _, e := range entries {
		_, _, live := e.sess.WorkerInfo()
		out = append(out, FolderInfo{Path: e.folder, Active: live, Resumable: e.sess.resumable})
	}
	return out
}

// Records returns the active-Worker record list for orphan-reaper
// persistence: one entry per Session whose Worker process is currently
// alive.
func (r *Registry) Records() []reaper.WorkerRecord {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		sessions = append(sessions, sess)
	}
	r.mu.Unlock()

	records := make([]reaper.WorkerRecord, 0, len(sessions))
	for _, sess := range sessions {
		pid, spawnedAt, ok := sess.WorkerInfo()
		if !ok {
			continue
		}
		records = append(records, reaper.WorkerRecord{
			SessionID: sess.ID(),
			Folder:    sess.Folder(),
			PID:       pid,
			SpawnedAt: spawnedAt,
		})
	}
	return records
}

// ActiveTurnFolders returns the folders of every Session currently mid-turn,
// for the graceful-shutdown ShutdownContext.
func (r *Registry) ActiveTurnFolders() []string {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		sessions = append(sessions, sess)
	}
	r.mu.Unlock()

	var folders []string
	for _, sess := range sessions {
		if sess.TurnInProgress() {
			folders = append(folders, sess.Folder())
		}
	}
	return folders
}

// TeardownAll tears down every Session, for graceful shutdown.
func (r *Registry) TeardownAll(reason string) {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		sessions = append(sessions, sess)
	}
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	for _, sess := range sessions {
		sess.Teardown(reason)
	}
}
