// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package reaper persists the set of active Worker processes across bridge
// restarts, reaps any that survived a previous instance's shutdown, and
// records/consumes the one-shot shutdown context used to classify the next
// startup as a crash, a self-caused restart, or an external one.
package reaper

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spm1001/gueridon/internal/watcher"
)

// WorkerRecord is one persisted active-Worker entry.
type WorkerRecord struct {
	SessionID string    `json:"sessionId"`
	Folder    string    `json:"folderPath"`
	PID       int       `json:"pid"`
	SpawnedAt time.Time `json:"spawnedAt"`
}

const recordsDebounce = 500 * time.Millisecond
const debounceKey = "sse-sessions"

// Store debounces writes of the active-Worker record list to a well-known
// file, and performs the atomic temp-file-then-rename write the rest of
// this codebase uses for durable state.
type Store struct {
	path      string
	debouncer *watcher.Debouncer
}

// NewStore builds a Store writing to path (typically sse-sessions.json
// under the bridge's configuration directory).
func NewStore(path string) *Store {
	return &Store{path: path, debouncer: watcher.NewDebouncer(recordsDebounce)}
}

// Save schedules a debounced, coalesced write of records. Multiple calls
// within the debounce window collapse into a single write of the latest
// records passed.
func (s *Store) Save(records []WorkerRecord) {
	s.debouncer.Debounce(debounceKey, func() {
		if err := writeRecords(s.path, records); err != nil {
			// Best effort: a failed write here only degrades orphan
			// reaping on the next startup, it does not affect the
			// currently-running Session.
			_ = err
		}
	})
}

// Flush cancels any pending debounced write and writes records immediately.
func (s *Store) Flush(records []WorkerRecord) error {
	s.debouncer.Cancel(debounceKey)
	return writeRecords(s.path, records)
}

// Stop cancels any pending debounced write without flushing.
func (s *Store) Stop() { s.debouncer.Stop() }

// Load reads the persisted record list, returning (nil, nil) if the file
// does not exist.
func Load(path string) ([]WorkerRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read worker records: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}
	var records []WorkerRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("parse worker records: %w", err)
	}
	return records, nil
}

// Delete removes the persisted record file; a missing file is not an error.
func Delete(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove worker records: %w", err)
	}
	return nil
}

func writeRecords(path string, records []WorkerRecord) error {
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal worker records: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write temp worker records: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename worker records: %w", err)
	}
	return nil
}
