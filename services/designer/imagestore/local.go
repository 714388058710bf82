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
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/AleutianAI/DesignAgent/services/designer/datatypes"
)

// LocalStore keeps images in a directory.
type LocalStore struct {
	dir       string
	urlPrefix string
}

// NewLocalStore creates dir if needed. urlPrefix is where the directory is
// served over HTTP, e.g. "/uploads".
func NewLocalStore(dir, urlPrefix string) (*LocalStore, error) {
	if dir == "" {
		return nil, errors.New("upload directory is required")
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("create upload directory %s: %w", dir, err)
	}
	return &LocalStore{dir: dir, urlPrefix: strings.TrimRight(urlPrefix, "/")}, nil
}

// Dir returns the backing directory.
func (l *LocalStore) Dir() string { return l.dir }

// Save implements Store. The file is written to a temp name and renamed so
// readers never see a partial image.
func (l *LocalStore) Save(_ context.Context, name, contentType string, r io.Reader) (datatypes.ImageRef, error) {
	name = SanitizeFilename(name)
	tmp, err := os.CreateTemp(l.dir, ".upload-*")
	if err != nil {
		return datatypes.ImageRef{}, fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return datatypes.ImageRef{}, fmt.Errorf("write image %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return datatypes.ImageRef{}, fmt.Errorf("close image %s: %w", name, err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(l.dir, name)); err != nil {
		return datatypes.ImageRef{}, fmt.Errorf("store image %s: %w", name, err)
	}
	return datatypes.ImageRef{
		Path:        name,
		Filename:    name,
		ContentType: contentType,
		URL:         l.urlPrefix + "/" + name,
	}, nil
}

// Open implements Store.
func (l *LocalStore) Open(_ context.Context, ref datatypes.ImageRef) (io.ReadCloser, error) {
	f, err := os.Open(filepath.Join(l.dir, filepath.Base(ref.Path)))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrImageNotFound, ref.Path)
	}
	if err != nil {
		return nil, fmt.Errorf("open image %s: %w", ref.Path, err)
	}
	return f, nil
}

// DeletePrefix implements Store.
func (l *LocalStore) DeletePrefix(_ context.Context, prefix string) error {
	if prefix == "" {
		return errors.New("refusing to delete with an empty prefix")
	}
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return fmt.Errorf("list upload directory: %w", err)
	}
	var errs []error
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), prefix) {
			continue
		}
		if err := os.Remove(filepath.Join(l.dir, e.Name())); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var _ Store = (*LocalStore)(nil)
