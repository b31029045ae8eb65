// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package storage

import (
	"context"
	"errors"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/roboeval/pkg/retry"
	"github.com/AleutianAI/roboeval/services/eval_logger/datatypes"
)

// fakeMirror records uploads and can be told to fail the first N
// attempts per remote path.
type fakeMirror struct {
	mu        sync.Mutex
	uploads   []string // remote paths, in completion order
	failures  map[string]int
	failWith  error
	closed    bool
	callCount map[string]int
}

func newFakeMirror() *fakeMirror {
	return &fakeMirror{
		failures:  make(map[string]int),
		callCount: make(map[string]int),
		failWith:  syscall.ECONNRESET,
	}
}

func (f *fakeMirror) Upload(ctx context.Context, localPath, remotePath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.callCount[remotePath]++
	if f.failures[remotePath] > 0 {
		f.failures[remotePath]--
		return f.failWith
	}
	f.uploads = append(f.uploads, remotePath)
	return nil
}

func (f *fakeMirror) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeMirror) uploaded() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.uploads...)
}

func (f *fakeMirror) calls(remotePath string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.callCount[remotePath]
}

func fastRetry() retry.Config {
	return retry.Config{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		BackoffFactor:  2.0,
	}
}

func newMirrored(t *testing.T, mirror Mirror) *MirroredStorage {
	t.Helper()
	local, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	m, err := NewMirroredStorage(local, mirror, MirrorConfig{
		Retry:        fastRetry(),
		DrainTimeout: 5 * time.Second,
	})
	require.NoError(t, err)
	return m
}

func TestMirroredStorage_UploadsMirrorLocalLayout(t *testing.T) {
	fake := newFakeMirror()
	m := newMirrored(t, fake)

	_, err := m.SaveMetadata("lab", "franka-02", datatypes.RobotTypeFranka, "paul", "")
	require.NoError(t, err)
	_, err = m.SaveEpisode(datatypes.TrajData{EpisodeIndex: 0, LanguageCommand: "task", Success: true})
	require.NoError(t, err)

	require.NoError(t, m.Close())

	id := m.EvalID().String()
	uploads := fake.uploaded()
	assert.ElementsMatch(t, []string{
		"eval_data/" + id + "/metadata.json",
		"eval_data/" + id + "/traj_0.gob",
	}, uploads)
	assert.True(t, fake.closed)
}

func TestMirroredStorage_RetriesTransientFailures(t *testing.T) {
	fake := newFakeMirror()
	m := newMirrored(t, fake)

	_, err := m.SaveMetadata("lab", "franka-02", datatypes.RobotTypeFranka, "paul", "")
	require.NoError(t, err)

	remote := "eval_data/" + m.EvalID().String() + "/traj_0.gob"
	fake.mu.Lock()
	fake.failures[remote] = 2 // 3rd attempt succeeds
	fake.mu.Unlock()

	_, err = m.SaveEpisode(datatypes.TrajData{EpisodeIndex: 0, LanguageCommand: "task"})
	require.NoError(t, err)

	require.NoError(t, m.Close())
	assert.Contains(t, fake.uploaded(), remote)
	assert.Equal(t, 3, fake.calls(remote))
}

func TestMirroredStorage_ExhaustionNeverFailsForeground(t *testing.T) {
	fake := newFakeMirror()
	m := newMirrored(t, fake)

	_, err := m.SaveMetadata("lab", "franka-02", datatypes.RobotTypeFranka, "paul", "")
	require.NoError(t, err)

	remote := "eval_data/" + m.EvalID().String() + "/traj_0.gob"
	fake.mu.Lock()
	fake.failures[remote] = 100 // more than MaxAttempts
	fake.mu.Unlock()

	path, err := m.SaveEpisode(datatypes.TrajData{EpisodeIndex: 0, LanguageCommand: "task"})
	require.NoError(t, err)

	require.NoError(t, m.Close())

	// Exactly MaxAttempts tries, no success recorded, local file intact.
	assert.Equal(t, 3, fake.calls(remote))
	assert.NotContains(t, fake.uploaded(), remote)
	loaded, err := datatypes.LoadTrajData(path)
	require.NoError(t, err)
	assert.Equal(t, "task", loaded.LanguageCommand)
}

func TestMirroredStorage_PermanentErrorNotRetried(t *testing.T) {
	fake := newFakeMirror()
	fake.failWith = errors.New("bucket not found")
	m := newMirrored(t, fake)

	_, err := m.SaveMetadata("lab", "franka-02", datatypes.RobotTypeFranka, "paul", "")
	require.NoError(t, err)

	remote := "eval_data/" + m.EvalID().String() + "/traj_0.gob"
	fake.mu.Lock()
	fake.failures[remote] = 100
	fake.mu.Unlock()

	_, err = m.SaveEpisode(datatypes.TrajData{EpisodeIndex: 0, LanguageCommand: "task"})
	require.NoError(t, err)
	require.NoError(t, m.Close())

	assert.Equal(t, 1, fake.calls(remote))
}

func TestMirroredStorage_LocalFailureSkipsUpload(t *testing.T) {
	fake := newFakeMirror()
	m := newMirrored(t, fake)

	// No metadata yet: the local write fails and nothing is scheduled.
	_, err := m.SaveEpisode(datatypes.TrajData{EpisodeIndex: 0, LanguageCommand: "task"})
	require.ErrorIs(t, err, ErrNoMetadata)

	require.NoError(t, m.Close())
	assert.Empty(t, fake.uploaded())
}

func TestMirroredStorage_ManyConcurrentUploads(t *testing.T) {
	fake := newFakeMirror()
	m := newMirrored(t, fake)

	_, err := m.SaveMetadata("lab", "franka-02", datatypes.RobotTypeFranka, "paul", "")
	require.NoError(t, err)

	const n = 25
	for i := 0; i < n; i++ {
		_, err := m.SaveEpisode(datatypes.TrajData{EpisodeIndex: i, LanguageCommand: "task"})
		require.NoError(t, err)
	}
	require.NoError(t, m.Close())

	// metadata + n episodes, all drained by Close.
	assert.Len(t, fake.uploaded(), n+1)
}
