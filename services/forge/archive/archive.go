// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package archive copies committed snapshots to durable object storage.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/AleutianAI/AleutianForge/services/forge/datatypes"
)

// Archiver stores an off-box copy of a snapshot.
type Archiver interface {
	Archive(ctx context.Context, snap *datatypes.Snapshot) error
	Close() error
}

// Nop archives nothing.
type Nop struct{}

func (Nop) Archive(context.Context, *datatypes.Snapshot) error { return nil }
func (Nop) Close() error                                       { return nil }

// GCSConfig configures the Cloud Storage archiver.
type GCSConfig struct {
	Bucket string
	// Prefix is prepended to every object name. Optional.
	Prefix string
	// CredentialsFile is a service account key. Empty uses application
	// default credentials.
	CredentialsFile string
}

// GCSArchiver writes snapshots as JSON objects named
// <prefix>/<projectID>/<snapshotID>.json.
type GCSArchiver struct {
	client *storage.Client
	bucket string
	prefix string

	// newWriter opens the destination object. Replaced in tests.
	newWriter func(ctx context.Context, object string) io.WriteCloser
}

// NewGCSArchiver creates a Cloud Storage client for cfg.Bucket.
func NewGCSArchiver(ctx context.Context, cfg GCSConfig) (*GCSArchiver, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("archive bucket is required")
	}
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		if _, err := os.Stat(cfg.CredentialsFile); err != nil {
			return nil, fmt.Errorf("service account key not found at path %s: %w", cfg.CredentialsFile, err)
		}
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS storage client: %w", err)
	}

	a := &GCSArchiver{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}
	a.newWriter = func(ctx context.Context, object string) io.WriteCloser {
		w := a.client.Bucket(a.bucket).Object(object).NewWriter(ctx)
		w.ContentType = "application/json"
		w.CacheControl = "no-cache, no-store, must-revalidate"
		return w
	}
	return a, nil
}

// ObjectName returns the object name a snapshot is archived under.
func (a *GCSArchiver) ObjectName(snap *datatypes.Snapshot) string {
	return path.Join(a.prefix, snap.ProjectID, snap.ID+".json")
}

// Archive uploads the snapshot.
func (a *GCSArchiver) Archive(ctx context.Context, snap *datatypes.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot %s: %w", snap.ID, err)
	}

	object := a.ObjectName(snap)
	w := a.newWriter(ctx, object)
	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		_ = w.Close()
		return fmt.Errorf("failed to copy snapshot %s to GCS object %s: %w", snap.ID, object, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close GCS writer for %s: %w", object, err)
	}
	return nil
}

// Close releases the storage client.
func (a *GCSArchiver) Close() error {
	if a.client == nil {
		return nil
	}
	return a.client.Close()
}

var (
	_ Archiver = Nop{}
	_ Archiver = (*GCSArchiver)(nil)
)
