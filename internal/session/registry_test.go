// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spm1001/gueridon/internal/logging"
	"github.com/spm1001/gueridon/internal/sse"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	log, err := logging.New(logging.LevelError, io.Discard, "")
	require.NoError(t, err)
	hub := sse.NewHub()
	t.Cleanup(hub.Stop)
	return NewRegistry(RegistryOptions{
		ScanRoot: t.TempDir(),
		StateDir: t.TempDir(),
		Hub:      hub,
		Log:      log,
	})
}

func TestRegistry_ConnectFolder_NoJournal_FreshNotResumable(t *testing.T) {
	r := newTestRegistry(t)
	folder := r.scanRoot + "/proj"

	sess, res, err := r.ConnectFolder(folder, "")
	require.NoError(t, err)
	assert.NotEmpty(t, res.SessionID)
	assert.False(t, res.Resumable)
	assert.False(t, res.IsReconnect)
	assert.Equal(t, sess.ID(), res.SessionID)

	got, ok := r.Lookup(folder)
	assert.True(t, ok)
	assert.Same(t, sess, got)
}

func TestRegistry_ConnectFolder_ReconnectsExistingSession(t *testing.T) {
	r := newTestRegistry(t)
	folder := r.scanRoot + "/proj"

	first, _, err := r.ConnectFolder(folder, "")
	require.NoError(t, err)

	second, res, err := r.ConnectFolder(folder, "")
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.True(t, res.IsReconnect)
	assert.Equal(t, first.ID(), res.SessionID)
}

func TestRegistry_ConnectFolder_NewForcesFreshSessionAndTearsDownExisting(t *testing.T) {
	r := newTestRegistry(t)
	folder := r.scanRoot + "/proj"

	first, _, err := r.ConnectFolder(folder, "")
	require.NoError(t, err)

	second, res, err := r.ConnectFolder(folder, "new")
	require.NoError(t, err)
	assert.NotEqual(t, first.ID(), second.ID())
	assert.False(t, res.Resumable)

	got, ok := r.Lookup(folder)
	require.True(t, ok)
	assert.Same(t, second, got)
}

func TestRegistry_ConnectFolder_ResumeSpecificID_TearsDownDifferentExisting(t *testing.T) {
	r := newTestRegistry(t)
	folder := r.scanRoot + "/proj"

	first, _, err := r.ConnectFolder(folder, "")
	require.NoError(t, err)

	second, res, err := r.ConnectFolder(folder, "some-other-session-id")
	require.NoError(t, err)
	assert.NotSame(t, first, second)
	assert.Equal(t, "some-other-session-id", second.ID())
	assert.True(t, res.Resumable)
}

func TestRegistry_ConnectFolder_ResumeSameID_Reconnects(t *testing.T) {
	r := newTestRegistry(t)
	folder := r.scanRoot + "/proj"

	first, res1, err := r.ConnectFolder(folder, "")
	require.NoError(t, err)

	second, res2, err := r.ConnectFolder(folder, res1.SessionID)
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.True(t, res2.IsReconnect)
}

func TestRegistry_ResolveFolderPath_RejectsOutsideScanRoot(t *testing.T) {
	r := newTestRegistry(t)
	_, err := r.ResolveFolderPath(r.scanRoot + "-evil/proj")
	assert.Error(t, err)

	resolved, err := r.ResolveFolderPath("proj")
	require.NoError(t, err)
	assert.Equal(t, r.scanRoot+"/proj", resolved)
}

func TestRegistry_ExitAbort_ReportMissingSession(t *testing.T) {
	r := newTestRegistry(t)
	assert.False(t, r.ExitFolder("/no/such/folder"))
	assert.False(t, r.AbortFolder("/no/such/folder"))
}

func TestRegistry_Records_OmitsSessionsWithoutLiveWorker(t *testing.T) {
	r := newTestRegistry(t)
	folder := r.scanRoot + "/proj"
	_, _, err := r.ConnectFolder(folder, "")
	require.NoError(t, err)

	// No Worker has been spawned yet (Session spawn is lazy), so the record
	// list must be empty rather than reporting a zero-value pid.
	assert.Empty(t, r.Records())
}

func TestRegistry_Folders_DoesNotDeadlockAgainstConcurrentTeardown(t *testing.T) {
	r := newTestRegistry(t)
	folder := r.scanRoot + "/proj"
	_, _, err := r.ConnectFolder(folder, "")
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			r.Folders()
		}
		close(done)
	}()

	r.ExitFolder(folder)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Folders() deadlocked against a concurrent teardown")
	}
}

func TestRegistry_ActiveTurnFolders_EmptyWhenIdle(t *testing.T) {
	r := newTestRegistry(t)
	folder := r.scanRoot + "/proj"
	_, _, err := r.ConnectFolder(folder, "")
	require.NoError(t, err)

	assert.Empty(t, r.ActiveTurnFolders())
}
