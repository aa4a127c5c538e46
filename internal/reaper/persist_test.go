// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package reaper

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_FlushThenLoad_RoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sse-sessions.json")
	store := NewStore(path)
	defer store.Stop()

	records := []WorkerRecord{
		{SessionID: "s1", Folder: "/tmp/a", PID: 123, SpawnedAt: time.Now()},
	}
	require.NoError(t, store.Flush(records))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, "s1", loaded[0].SessionID)
	assert.Equal(t, 123, loaded[0].PID)
}

func TestLoad_MissingFile_ReturnsNilNoError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "does-not-exist.json")
	records, err := Load(path)
	require.NoError(t, err)
	assert.Nil(t, records)
}

func TestDelete_MissingFile_IsNotAnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "does-not-exist.json")
	assert.NoError(t, Delete(path))
}

func TestDelete_RemovesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sse-sessions.json")
	store := NewStore(path)
	defer store.Stop()
	require.NoError(t, store.Flush([]WorkerRecord{{SessionID: "s1", PID: 1, SpawnedAt: time.Now()}}))

	require.NoError(t, Delete(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Nil(t, loaded)
}
