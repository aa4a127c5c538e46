// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package reaper

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spm1001/gueridon/internal/pure"
)

type shutdownContextFile struct {
	Signal            string    `json:"signal"`
	Timestamp         time.Time `json:"timestamp"`
	ActiveTurnFolders []string  `json:"activeTurnFolders"`
}

// WriteShutdownContext records the one-shot shutdown context at graceful
// shutdown, atomically.
func WriteShutdownContext(path string, ctx pure.ShutdownContext) error {
	data, err := json.MarshalIndent(shutdownContextFile{
		Signal:            ctx.Signal,
		Timestamp:         ctx.Timestamp,
		ActiveTurnFolders: ctx.ActiveTurnFolders,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal shutdown context: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write temp shutdown context: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename shutdown context: %w", err)
	}
	return nil
}

// LoadAndConsumeShutdownContext loads the shutdown context written by the
// previous instance (if any) and deletes it: the one-shot contract means a
// second startup in a row with no intervening graceful shutdown sees no
// context, and is therefore classified as a crash.
func LoadAndConsumeShutdownContext(path string) (*pure.ShutdownContext, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read shutdown context: %w", err)
	}

	defer os.Remove(path)

	var f shutdownContextFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse shutdown context: %w", err)
	}
	return &pure.ShutdownContext{
		Signal:            f.Signal,
		Timestamp:         f.Timestamp,
		ActiveTurnFolders: f.ActiveTurnFolders,
	}, nil
}
