// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package storage persists evaluation runs.
//
// A run is laid out as one directory per eval id under a storage root:
//
//	storage_dir/
//	  <eval_id>/
//	    metadata.json
//	    traj_0.gob
//	    traj_1.gob
//	    ...
//
// LocalStorage writes that layout to disk; MirroredStorage wraps it and
// asynchronously replicates every written file to a remote Mirror such
// as GCS. The local copy is the source of truth: a run survives any
// remote outage.
package storage

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/AleutianAI/roboeval/services/eval_logger/datatypes"
	"github.com/AleutianAI/roboeval/services/eval_logger/telemetry"
)

// MetadataFileName is the run metadata file inside the run directory.
const MetadataFileName = "metadata.json"

// ErrNoMetadata is returned when an episode is saved before the run
// metadata. Episodes belong to a run directory, and the run directory
// only exists once metadata is written.
var ErrNoMetadata = errors.New("no run metadata saved: call SaveMetadata before saving episodes")

// Saver persists run metadata and episode records.
//
// SaveMetadata must be called exactly once per run, before any
// SaveEpisode. Both return the local path of the written file.
type Saver interface {
	SaveMetadata(location, robotName string, robotType datatypes.RobotType, evaluatorName, evalName string) (string, error)
	SaveEpisode(traj datatypes.TrajData) (string, error)
	Close() error
}

// LocalStorage is the disk-backed Saver.
type LocalStorage struct {
	root string

	mu       sync.Mutex
	metadata datatypes.Metadata
	runDir   string // empty until metadata is saved
}

var _ Saver = (*LocalStorage)(nil)

// NewLocalStorage creates the storage root if needed.
func NewLocalStorage(root string) (*LocalStorage, error) {
	if root == "" {
		return nil, fmt.Errorf("storage root is required")
	}
	if err := os.MkdirAll(root, 0750); err != nil {
		return nil, fmt.Errorf("creating storage root %s: %w", root, err)
	}
	slog.Info("Eval data saving locally", "storage_dir", root)
	return &LocalStorage{root: root}, nil
}

// Root returns the storage root directory.
func (l *LocalStorage) Root() string { return l.root }

// EvalID returns the run identifier, empty before SaveMetadata.
func (l *LocalStorage) EvalID() datatypes.EvalID {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.metadata.EvalID
}

// RunDir returns the run directory, empty before SaveMetadata.
func (l *LocalStorage) RunDir() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.runDir
}

// SaveMetadata derives the run id, creates the run directory, and
// writes metadata.json.
//
// The write is exclusive both within the process (a second call fails)
// and on disk (an existing metadata.json fails with ErrMetadataExists,
// leaving the first write intact).
func (l *LocalStorage) SaveMetadata(location, robotName string, robotType datatypes.RobotType, evaluatorName, evalName string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.runDir != "" {
		return "", fmt.Errorf("%w: run %s", datatypes.ErrMetadataExists, l.metadata.EvalID)
	}

	metadata := datatypes.NewMetadata(location, robotName, robotType, evaluatorName, evalName)
	if err := metadata.Validate(); err != nil {
		return "", err
	}

	runDir := filepath.Join(l.root, metadata.EvalID.String())
	if err := os.MkdirAll(runDir, 0750); err != nil {
		return "", fmt.Errorf("creating run dir %s: %w", runDir, err)
	}

	path := filepath.Join(runDir, MetadataFileName)
	if err := metadata.Save(path); err != nil {
		return "", err
	}

	l.metadata = metadata
	l.runDir = runDir
	slog.Info("Saved run metadata", "eval_id", metadata.EvalID, "run_dir", runDir)
	return path, nil
}

// SaveEpisode writes one trajectory record as traj_<index>.gob inside
// the run directory. Re-saving an index overwrites the previous file:
// operators redo botched episodes, and the last write wins.
func (l *LocalStorage) SaveEpisode(traj datatypes.TrajData) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.runDir == "" {
		return "", ErrNoMetadata
	}
	if err := traj.Validate(); err != nil {
		return "", err
	}

	path := filepath.Join(l.runDir, fmt.Sprintf("traj_%d.gob", traj.EpisodeIndex))
	if err := traj.Save(path); err != nil {
		return "", err
	}

	telemetry.RecordEpisode(string(l.metadata.RobotType), traj.Success)
	return path, nil
}

// Close is a no-op for local storage; every write is already durable.
func (l *LocalStorage) Close() error { return nil }
