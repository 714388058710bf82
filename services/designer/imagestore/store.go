// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package imagestore stores uploaded room photos and rendered designs.
//
// Sessions only hold an ImageRef. The store owns the bytes: LocalStore keeps
// them on disk and serves them under /uploads, GCSStore keeps them in a
// Cloud Storage bucket.
package imagestore

import (
	"context"
	"errors"
	"io"
	"path"
	"strings"

	"github.com/AleutianAI/DesignAgent/services/designer/datatypes"
)

// ErrImageNotFound is returned by Open for missing objects.
var ErrImageNotFound = errors.New("image not found")

// Store is an image backend.
type Store interface {
	// Save writes r under name and returns a reference to it.
	Save(ctx context.Context, name, contentType string, r io.Reader) (datatypes.ImageRef, error)

	// Open streams a stored image.
	Open(ctx context.Context, ref datatypes.ImageRef) (io.ReadCloser, error)

	// DeletePrefix removes every image whose name starts with prefix.
	DeletePrefix(ctx context.Context, prefix string) error
}

// UploadName is the stored name of a client upload: "<session>_<file>".
func UploadName(sessionID, filename string) string {
	return sessionID + "_" + SanitizeFilename(filename)
}

// SessionPrefixes are the name prefixes of every image belonging to a
// session: its upload and its rendered designs.
func SessionPrefixes(sessionID string) []string {
	return []string{sessionID + "_", "designed_" + sessionID + "_"}
}

// SanitizeFilename strips directories and characters that are awkward in
// URLs and object names.
func SanitizeFilename(name string) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		case r == ' ':
			b.WriteRune('_')
		}
	}
	out := strings.TrimLeft(b.String(), ".")
	if out == "" {
		return "image"
	}
	return out
}
