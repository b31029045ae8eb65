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
	"io"
	"os"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// GCSMirror replicates run files into a Google Cloud Storage bucket.
type GCSMirror struct {
	client     *storage.Client
	BucketName string
}

var _ Mirror = (*GCSMirror)(nil)

// NewGCSMirror connects to GCS. With an empty saKeyPath the client uses
// application default credentials; otherwise the service account key
// file must exist.
func NewGCSMirror(ctx context.Context, bucketName, saKeyPath string) (*GCSMirror, error) {
	if bucketName == "" {
		return nil, fmt.Errorf("GCS bucket name is required")
	}

	var opts []option.ClientOption
	if saKeyPath != "" {
		if _, err := os.Stat(saKeyPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("service account key not found at path: %s. Please ensure you have the correct key and it is accessible", saKeyPath)
		}
		opts = append(opts, option.WithCredentialsFile(saKeyPath))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS storage client: %w", err)
	}

	return &GCSMirror{client: client, BucketName: bucketName}, nil
}

// Upload copies a local file to the bucket object at remotePath.
func (g *GCSMirror) Upload(ctx context.Context, localPath, remotePath string) error {
	localFile, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("failed to open the local file: %s: %w", localPath, err)
	}
	defer localFile.Close()

	obj := g.client.Bucket(g.BucketName).Object(remotePath)
	writer := obj.NewWriter(ctx)
	writer.ContentType = "application/octet-stream"
	writer.CacheControl = "no-cache, no-store, must-revalidate"

	if _, err := io.Copy(writer, localFile); err != nil {
		writer.Close()
		return fmt.Errorf("failed to copy local file %s to GCS object %s: %w", localPath, remotePath, err)
	}

	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to close GCS writer for %s: %w", remotePath, err)
	}
	return nil
}

// Close releases the underlying client.
func (g *GCSMirror) Close() error {
	return g.client.Close()
}
