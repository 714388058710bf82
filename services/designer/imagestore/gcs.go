// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package imagestore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/AleutianAI/DesignAgent/services/designer/datatypes"
)

// GCSConfig configures the Cloud Storage backend.
type GCSConfig struct {
	Bucket string `yaml:"bucket"`

	// Prefix is prepended to every object name, e.g. "designagent/".
	Prefix string `yaml:"prefix"`

	// CredentialsFile is a service account key. Empty uses application
	// default credentials.
	CredentialsFile string `yaml:"credentials_file"`

	// PublicBaseURL is how clients reach objects. Defaults to
	// https://storage.googleapis.com/<bucket>.
	PublicBaseURL string `yaml:"public_base_url"`

	// Endpoint overrides the JSON API base, e.g.
	// "http://localhost:4443/storage/v1/" for a local emulator. Requests to
	// it are unauthenticated.
	Endpoint string `yaml:"endpoint"`
}

// GCSStore keeps images in a Cloud Storage bucket.
type GCSStore struct {
	client  *storage.Client
	bucket  string
	prefix  string
	baseURL string
}

// NewGCSStore connects to Cloud Storage.
func NewGCSStore(ctx context.Context, cfg GCSConfig) (*GCSStore, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("gcs bucket is required")
	}
	var opts []option.ClientOption
	switch {
	case cfg.Endpoint != "":
		opts = append(opts, option.WithEndpoint(cfg.Endpoint), option.WithoutAuthentication())
	case cfg.CredentialsFile != "":
		if _, err := os.Stat(cfg.CredentialsFile); err != nil {
			return nil, fmt.Errorf("service account key not found at path: %s: %w", cfg.CredentialsFile, err)
		}
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS storage client: %w", err)
	}
	base := strings.TrimRight(cfg.PublicBaseURL, "/")
	if base == "" {
		base = "https://storage.googleapis.com/" + cfg.Bucket
	}
	return &GCSStore{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix, baseURL: base}, nil
}

func (g *GCSStore) object(name string) *storage.ObjectHandle {
	return g.client.Bucket(g.bucket).Object(g.prefix + name)
}

// Save implements Store.
func (g *GCSStore) Save(ctx context.Context, name, contentType string, r io.Reader) (datatypes.ImageRef, error) {
	name = SanitizeFilename(name)
	w := g.object(name).NewWriter(ctx)
	w.ContentType = contentType
	w.CacheControl = "no-cache, no-store, must-revalidate"

	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return datatypes.ImageRef{}, fmt.Errorf("failed to copy image to GCS object %s: %w", name, err)
	}
	if err := w.Close(); err != nil {
		return datatypes.ImageRef{}, fmt.Errorf("failed to close GCS writer for %s: %w", name, err)
	}
	return datatypes.ImageRef{
		Path:        name,
		Filename:    name,
		ContentType: contentType,
		URL:         g.baseURL + "/" + g.prefix + name,
	}, nil
}

// Open implements Store.
func (g *GCSStore) Open(ctx context.Context, ref datatypes.ImageRef) (io.ReadCloser, error) {
	rc, err := g.object(ref.Path).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrImageNotFound, ref.Path)
	}
	if err != nil {
		return nil, fmt.Errorf("read GCS object %s: %w", ref.Path, err)
	}
	return rc, nil
}

// DeletePrefix implements Store.
func (g *GCSStore) DeletePrefix(ctx context.Context, prefix string) error {
	if prefix == "" {
		return errors.New("refusing to delete with an empty prefix")
	}
	it := g.client.Bucket(g.bucket).Objects(ctx, &storage.Query{Prefix: g.prefix + prefix})
	var errs []error
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return fmt.Errorf("list GCS objects with prefix %s: %w", prefix, err)
		}
		if err := g.client.Bucket(g.bucket).Object(attrs.Name).Delete(ctx); err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close releases the client.
func (g *GCSStore) Close() error {
	return g.client.Close()
}

var _ Store = (*GCSStore)(nil)
