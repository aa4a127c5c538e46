// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package reaper

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSweep_NoRecordsFile_ReturnsEmptySummary(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sse-sessions.json")
	summary := Sweep(path, nil)
	assert.Equal(t, Summary{}, summary)
}

func TestSweep_StaleRecordIsSkippedNotReaped(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sse-sessions.json")
	store := NewStore(path)
	defer store.Stop()
	require.NoError(t, store.Flush([]WorkerRecord{
		{SessionID: "old", PID: 999999, SpawnedAt: time.Now().Add(-48 * time.Hour)},
	}))

	summary := Sweep(path, nil)
	assert.Equal(t, 1, summary.Considered)
	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, 0, summary.Reaped)
}

func TestSweep_DeadPidIsNeitherReapedNorCountsAsSkipped(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sse-sessions.json")
	store := NewStore(path)
	defer store.Stop()
	require.NoError(t, store.Flush([]WorkerRecord{
		{SessionID: "dead", PID: 999999, SpawnedAt: time.Now()},
	}))

	summary := Sweep(path, nil)
	assert.Equal(t, 1, summary.Considered)
	assert.Equal(t, 0, summary.Skipped)
	assert.Equal(t, 0, summary.Reaped)
}

func TestSweep_DeletesRecordsFileAfterRunning(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sse-sessions.json")
	store := NewStore(path)
	defer store.Stop()
	require.NoError(t, store.Flush([]WorkerRecord{
		{SessionID: "s1", PID: 999999, SpawnedAt: time.Now()},
	}))

	Sweep(path, nil)

	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestPidAlive_RejectsNonPositivePid(t *testing.T) {
	assert.False(t, pidAlive(0))
	assert.False(t, pidAlive(-1))
}

func TestPidAlive_CurrentProcessIsAlive(t *testing.T) {
	assert.True(t, pidAlive(os.Getpid()))
}
