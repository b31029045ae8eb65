// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package storage

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/AleutianAI/roboeval/pkg/retry"
	"github.com/AleutianAI/roboeval/services/eval_logger/datatypes"
	"github.com/AleutianAI/roboeval/services/eval_logger/telemetry"
)

// Mirror replicates already-durable local files to a remote store.
type Mirror interface {
	Upload(ctx context.Context, localPath, remotePath string) error
	Close() error
}

// MirrorConfig tunes the asynchronous replication.
type MirrorConfig struct {
	// RemotePrefix is the top-level directory in the remote store.
	// Defaults to "eval_data".
	RemotePrefix string
	// MaxConcurrentUploads bounds in-flight uploads. Defaults to 4.
	MaxConcurrentUploads int64
	// Retry is the per-upload retry policy. Zero value means
	// retry.DefaultConfig().
	Retry retry.Config
	// DrainTimeout bounds how long Close waits for in-flight uploads.
	// Defaults to 30s.
	DrainTimeout time.Duration
}

// MirroredStorage is a Saver that composes LocalStorage with a Mirror.
//
// Every successful local write schedules an asynchronous upload of the
// same file to the mirror, keyed under RemotePrefix with the
// run-relative path preserved. Uploads retry transient failures with
// exponential backoff; exhaustion logs a warning and gives up. A mirror
// failure is never surfaced to the caller and never touches the local
// file.
type MirroredStorage struct {
	local  *LocalStorage
	mirror Mirror
	cfg    MirrorConfig

	sem *semaphore.Weighted
	wg  sync.WaitGroup

	// ctx cancels in-flight uploads once the drain deadline passes.
	ctx    context.Context
	cancel context.CancelFunc
}

var _ Saver = (*MirroredStorage)(nil)

// NewMirroredStorage applies config defaults and wires the composition.
func NewMirroredStorage(local *LocalStorage, mirror Mirror, cfg MirrorConfig) (*MirroredStorage, error) {
	if local == nil {
		return nil, fmt.Errorf("local storage is required")
	}
	if mirror == nil {
		return nil, fmt.Errorf("mirror is required")
	}
	if cfg.RemotePrefix == "" {
		cfg.RemotePrefix = "eval_data"
	}
	if cfg.MaxConcurrentUploads <= 0 {
		cfg.MaxConcurrentUploads = 4
	}
	if cfg.Retry == (retry.Config{}) {
		cfg.Retry = retry.DefaultConfig()
	}
	if err := cfg.Retry.Validate(); err != nil {
		return nil, err
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = 30 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &MirroredStorage{
		local:  local,
		mirror: mirror,
		cfg:    cfg,
		sem:    semaphore.NewWeighted(cfg.MaxConcurrentUploads),
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// EvalID returns the run identifier, empty before SaveMetadata.
func (m *MirroredStorage) EvalID() datatypes.EvalID { return m.local.EvalID() }

// RunDir returns the local run directory, empty before SaveMetadata.
func (m *MirroredStorage) RunDir() string { return m.local.RunDir() }

// SaveMetadata writes metadata locally, then schedules its upload.
func (m *MirroredStorage) SaveMetadata(location, robotName string, robotType datatypes.RobotType, evaluatorName, evalName string) (string, error) {
	localPath, err := m.local.SaveMetadata(location, robotName, robotType, evaluatorName, evalName)
	if err != nil {
		return "", err
	}
	m.scheduleUpload(localPath)
	return localPath, nil
}

// SaveEpisode writes the trajectory locally, then schedules its upload.
func (m *MirroredStorage) SaveEpisode(traj datatypes.TrajData) (string, error) {
	localPath, err := m.local.SaveEpisode(traj)
	if err != nil {
		return "", err
	}
	m.scheduleUpload(localPath)
	return localPath, nil
}

// scheduleUpload launches a background upload of one local file. The
// remote object key mirrors the path relative to the storage root, so
// the bucket layout matches the disk layout.
func (m *MirroredStorage) scheduleUpload(localPath string) {
	rel, err := filepath.Rel(m.local.Root(), localPath)
	if err != nil {
		slog.Warn("Cannot derive remote path, skipping mirror upload",
			"local_path", localPath, "error", err)
		return
	}
	remotePath := path.Join(m.cfg.RemotePrefix, filepath.ToSlash(rel))
	session := uuid.New().String()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		if err := m.sem.Acquire(m.ctx, 1); err != nil {
			telemetry.RecordUpload("cancelled", 0)
			return
		}
		defer m.sem.Release(1)

		start := time.Now()
		result, err := retry.Do(m.ctx, m.cfg.Retry, func(ctx context.Context, attempt int) error {
			return m.mirror.Upload(ctx, localPath, remotePath)
		})
		for i := 1; i < result.Attempts; i++ {
			telemetry.RecordUploadRetry()
		}

		if err != nil {
			telemetry.RecordUpload("failure", time.Since(start).Seconds())
			slog.Warn("Mirror upload failed, data remains available locally",
				"session", session,
				"local_path", localPath,
				"remote_path", remotePath,
				"attempts", result.Attempts,
				"error", err)
			return
		}
		telemetry.RecordUpload("success", time.Since(start).Seconds())
		slog.Debug("Mirror upload complete",
			"session", session,
			"remote_path", remotePath,
			"attempts", result.Attempts)
	}()
}

// Close drains in-flight uploads, bounded by DrainTimeout, then closes
// the mirror. Uploads still running at the deadline are cancelled; the
// local copies stay intact.
func (m *MirroredStorage) Close() error {
	drained := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(drained)
	}()

	select {
	case <-drained:
	case <-time.After(m.cfg.DrainTimeout):
		slog.Warn("Timed out draining mirror uploads, cancelling stragglers")
		m.cancel()
		<-drained
	}
	m.cancel()

	if err := m.mirror.Close(); err != nil {
		return fmt.Errorf("closing mirror: %w", err)
	}
	return m.local.Close()
}
