// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spm1001/gueridon/internal/pure"
)

// journalTailBytes bounds how much of the journal's tail is re-read to
// recover a local-command-output record after a turn that produced no
// stream blocks (slash commands the Worker handles itself write only a
// journal entry, never a content_block_start).
const journalTailBytes = 8 * 1024

// journalPath returns the path to the Worker's own JSONL journal file for a
// given folder and Worker session id. The Worker encodes a project's
// absolute path as a directory name by replacing "/" and "." with "-" under
// its own projects directory.
func journalPath(folder, sessionID string) (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	encoded := strings.NewReplacer("/", "-", ".", "-").Replace(folder)
	return filepath.Join(home, ".claude", "projects", encoded, sessionID+".jsonl"), nil
}

// readJournalTail reads up to journalTailBytes from the end of a folder's
// current journal file and parses it into replayable events, for recovering
// the local-command-output record a slash-command-only turn leaves behind.
func readJournalTail(folder, sessionID string) ([]pure.ReplayEvent, error) {
	path, err := journalPath(folder, sessionID)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat journal: %w", err)
	}
	start := int64(0)
	if info.Size() > journalTailBytes {
		start = info.Size() - journalTailBytes
	}
	if _, err := f.Seek(start, io.SeekStart); err != nil {
		return nil, fmt.Errorf("seek journal: %w", err)
	}

	var lines [][]byte
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 1024*1024), 1024*1024)
	first := true
	for scanner.Scan() {
		line := scanner.Bytes()
		if start > 0 && first {
			// The seek likely landed mid-line; the partial first line is
			// unparsable and is discarded rather than risking a malformed
			// record being replayed.
			first = false
			continue
		}
		first = false
		lines = append(lines, bytes.Clone(line))
	}
	events, _ := pure.ParseJournal(lines)
	return events, nil
}

// readFullJournal reads an entire journal file for replay at Session
// creation time when resuming a prior conversation.
func readFullJournal(folder, sessionID string) ([]pure.ReplayEvent, error) {
	path, err := journalPath(folder, sessionID)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read journal: %w", err)
	}
	lines := bytes.Split(data, []byte("\n"))
	events, _ := pure.ParseJournal(lines)
	return events, nil
}

// journalLatestRecord extracts the id and mtime of a folder's newest
// journal file, for PureLogic's session-resolution decision tree. A folder
// may have journals for more than one prior Worker session id; the newest
// file's mtime also stands in for "when the journal was last written to",
// which is what the stale-handoff guard compares against.
func journalLatestRecord(folder string) (*pure.JournalRecord, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolve home directory: %w", err)
	}
	encoded := strings.NewReplacer("/", "-", ".", "-").Replace(folder)
	dir := filepath.Join(home, ".claude", "projects", encoded)

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list journal dir: %w", err)
	}

	var best *pure.JournalRecord
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".jsonl") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		id := strings.TrimSuffix(e.Name(), ".jsonl")
		if best == nil || info.ModTime().After(best.Mtime) {
			best = &pure.JournalRecord{ID: id, Mtime: info.ModTime()}
		}
	}
	return best, nil
}
