// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spm1001/gueridon/internal/pure"
)

// handoffFile is the Worker's own record of a clean, deliberate close,
// written alongside its journal for the project.
type handoffFile struct {
	SessionID string    `json:"sessionId"`
	Timestamp time.Time `json:"timestamp"`
}

// readHandoff reads the Worker-written handoff record for a folder, if any.
func readHandoff(folder string) (*pure.Handoff, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolve home directory: %w", err)
	}
	encoded := strings.NewReplacer("/", "-", ".", "-").Replace(folder)
	path := filepath.Join(home, ".claude", "projects", encoded, "handoff.json")

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read handoff: %w", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat handoff: %w", err)
	}

	var f handoffFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse handoff: %w", err)
	}
	return &pure.Handoff{ID: f.SessionID, Mtime: info.ModTime()}, nil
}

// exitMarkerPath returns where this bridge records that a folder's
// conversation was deliberately ended via /exit, under its own state
// directory (separate from the Worker-owned journal tree).
func exitMarkerPath(stateDir, folder string) string {
	encoded := strings.NewReplacer("/", "-", ".", "-").Replace(folder)
	return filepath.Join(stateDir, "exit-markers", encoded+".json")
}

type exitMarkerFile struct {
	SessionID string    `json:"sessionId"`
	Timestamp time.Time `json:"timestamp"`
}

// writeExitMarker atomically records that folder's conversation was ended
// deliberately while running as sessionID.
func writeExitMarker(stateDir, folder, sessionID string) error {
	path := exitMarkerPath(stateDir, folder)
	data, err := json.Marshal(exitMarkerFile{SessionID: sessionID, Timestamp: time.Now()})
	if err != nil {
		return fmt.Errorf("marshal exit marker: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create exit marker dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write temp exit marker: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename exit marker: %w", err)
	}
	return nil
}

// hasExitMarkerFor reports whether an exit marker was recorded for folder
// matching sessionID specifically (the decision tree only treats an exit
// marker as relevant when it names the journal's latest session id).
func hasExitMarkerFor(stateDir, folder, sessionID string) bool {
	data, err := os.ReadFile(exitMarkerPath(stateDir, folder))
	if err != nil {
		return false
	}
	var f exitMarkerFile
	if json.Unmarshal(data, &f) != nil {
		return false
	}
	return f.SessionID == sessionID
}
