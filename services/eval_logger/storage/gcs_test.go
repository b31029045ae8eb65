// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// ============================================================================
// NewGCSMirror Tests
// ============================================================================

func TestNewGCSMirror_EmptyBucket(t *testing.T) {
	ctx := context.Background()

	_, err := NewGCSMirror(ctx, "", "")
	if err == nil {
		t.Fatal("NewGCSMirror with empty bucket should return error")
	}
}

func TestNewGCSMirror_NonExistentSAKeyPath(t *testing.T) {
	ctx := context.Background()

	_, err := NewGCSMirror(ctx, "test-bucket", "/nonexistent/path/to/key.json")
	if err == nil {
		t.Fatal("NewGCSMirror with non-existent SA key should return error")
	}
	if !strings.Contains(err.Error(), "service account key not found") {
		t.Errorf("Error should mention SA key not found, got: %v", err)
	}
	if !strings.Contains(err.Error(), "/nonexistent/path/to/key.json") {
		t.Errorf("Error should contain the path, got: %v", err)
	}
}

func TestNewGCSMirror_InvalidCredentialsFile(t *testing.T) {
	ctx := context.Background()

	tmpDir := t.TempDir()
	invalidKeyPath := filepath.Join(tmpDir, "invalid_key.json")
	if err := os.WriteFile(invalidKeyPath, []byte("not valid json"), 0644); err != nil {
		t.Fatalf("Failed to create temp file: %v", err)
	}

	_, err := NewGCSMirror(ctx, "test-bucket", invalidKeyPath)
	if err == nil {
		t.Fatal("NewGCSMirror with invalid credentials file should return error")
	}
	if !strings.Contains(err.Error(), "failed to create GCS storage client") {
		t.Errorf("Error should mention failed to create client, got: %v", err)
	}
}

// ============================================================================
// Upload Tests (error paths that don't require a GCS connection)
// ============================================================================

func TestGCSMirror_Upload_NonExistentLocalFile(t *testing.T) {
	// The local file open fails before any GCS operation.
	mirror := &GCSMirror{client: nil, BucketName: "test-bucket"}

	ctx := context.Background()
	err := mirror.Upload(ctx, "/nonexistent/file/path.gob", "eval_data/run/traj_0.gob")
	if err == nil {
		t.Fatal("Upload with non-existent local file should return error")
	}
	if !strings.Contains(err.Error(), "failed to open the local file") {
		t.Errorf("Error should mention failed to open file, got: %v", err)
	}
}

// ============================================================================
// Integration Tests (require real GCS credentials)
// ============================================================================

func TestGCSMirror_Upload_Integration(t *testing.T) {
	keyPath := os.Getenv("GCS_TEST_SA_KEY_PATH")
	bucketName := os.Getenv("GCS_TEST_BUCKET_NAME")

	if keyPath == "" || bucketName == "" {
		t.Skip("Skipping integration test: GCS_TEST_SA_KEY_PATH and GCS_TEST_BUCKET_NAME not set")
	}

	ctx := context.Background()
	mirror, err := NewGCSMirror(ctx, bucketName, keyPath)
	if err != nil {
		t.Fatalf("NewGCSMirror failed: %v", err)
	}
	defer mirror.Close()

	tmpDir := t.TempDir()
	testFile := filepath.Join(tmpDir, "test_upload.json")
	if err := os.WriteFile(testFile, []byte(`{"eval_id":"test"}`), 0644); err != nil {
		t.Fatalf("Failed to create test file: %v", err)
	}

	if err := mirror.Upload(ctx, testFile, "test/integration_test_upload.json"); err != nil {
		t.Errorf("Upload failed: %v", err)
	}
}
