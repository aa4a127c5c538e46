// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package pure

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestResolveSessionForFolder_Idempotent(t *testing.T) {
	journal := &JournalRecord{ID: "abc", Mtime: time.Now()}
	newID := func() string { return "new" }

	r1 := ResolveSessionForFolder(nil, journal, nil, false, newID)
	r2 := ResolveSessionForFolder(nil, journal, nil, false, newID)
	assert.Equal(t, r1, r2)
}

func TestResolveSessionForFolder_Reconnect(t *testing.T) {
	inProcess := &Resolution{SessionID: "live", Resumable: true}
	r := ResolveSessionForFolder(inProcess, &JournalRecord{ID: "other"}, nil, false, func() string { return "unused" })
	assert.Equal(t, "live", r.SessionID)
	assert.True(t, r.Resumable)
	assert.True(t, r.IsReconnect)
}

func TestResolveSessionForFolder_NoJournal_Fresh(t *testing.T) {
	r := ResolveSessionForFolder(nil, nil, nil, false, func() string { return "new" })
	assert.Equal(t, "new", r.SessionID)
	assert.False(t, r.Resumable)
}

func TestResolveSessionForFolder_ExitMarker_Fresh(t *testing.T) {
	r := ResolveSessionForFolder(nil, &JournalRecord{ID: "abc"}, nil, true, func() string { return "new" })
	assert.Equal(t, "new", r.SessionID)
	assert.False(t, r.Resumable)
}

func TestResolveSessionForFolder_HandoffMatch_Fresh(t *testing.T) {
	now := time.Now()
	journal := &JournalRecord{ID: "abc", Mtime: now}
	handoff := &Handoff{ID: "abc", Mtime: now}
	r := ResolveSessionForFolder(nil, journal, handoff, false, func() string { return "new" })
	assert.Equal(t, "new", r.SessionID)
	assert.False(t, r.Resumable)
	assert.False(t, r.IsReconnect)
}

func TestResolveSessionForFolder_HandoffMismatch_Resume(t *testing.T) {
	now := time.Now()
	journal := &JournalRecord{ID: "N1", Mtime: now}
	handoff := &Handoff{ID: "N0", Mtime: now}
	r := ResolveSessionForFolder(nil, journal, handoff, false, func() string { return "new" })
	assert.Equal(t, "N1", r.SessionID)
	assert.True(t, r.Resumable)
}

func TestResolveSessionForFolder_StaleHandoffIgnored(t *testing.T) {
	handoffTime := time.Now().Add(-10 * time.Minute)
	journal := &JournalRecord{ID: "abc", Mtime: time.Now()}
	handoff := &Handoff{ID: "abc", Mtime: handoffTime}

	// Handoff matches the journal's id but is stale (journal's mtime is far
	// later), so it must be ignored, leaving resume as the outcome.
	r := ResolveSessionForFolder(nil, journal, handoff, false, func() string { return "new" })
	assert.Equal(t, "abc", r.SessionID)
	assert.True(t, r.Resumable)
}
