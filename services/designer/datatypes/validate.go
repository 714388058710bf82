// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// DefaultMaxUploadBytes caps the size of an uploaded room photo.
const DefaultMaxUploadBytes = 20 * 1024 * 1024 // 20MB

// ErrInvalidUpload is wrapped by every upload validation failure.
var ErrInvalidUpload = errors.New("invalid upload")

// ErrInvalidSessionID is returned for ids that are not canonical UUIDs.
var ErrInvalidSessionID = errors.New("invalid session id")

// designValidate is the validator instance for design agent datatypes.
// Initialized in init() with custom validators.
var designValidate *validator.Validate

func init() {
	designValidate = validator.New()
	_ = designValidate.RegisterValidation("session_id", validateSessionIDTag)
	_ = designValidate.RegisterValidation("image_type", validateImageType)
}

// validateSessionIDTag accepts canonical (hyphenated, lowercase) UUIDs only.
func validateSessionIDTag(fl validator.FieldLevel) bool {
	s := fl.Field().String()
	id, err := uuid.Parse(s)
	return err == nil && id.String() == s
}

// validateImageType accepts any image/* media type.
func validateImageType(fl validator.FieldLevel) bool {
	ct := strings.ToLower(strings.TrimSpace(fl.Field().String()))
	return strings.HasPrefix(ct, "image/") && len(ct) > len("image/")
}

type sessionIDInput struct {
	ID string `validate:"required,session_id"`
}

// UploadInput describes a multipart file before it is stored.
type UploadInput struct {
	Filename    string `validate:"required,max=255"`
	ContentType string `validate:"required,image_type"`
	Size        int64  `validate:"gt=0"`
}

// ValidateSessionID checks that id looks like a session id minted by the store.
func ValidateSessionID(id string) error {
	if err := designValidate.Struct(sessionIDInput{ID: id}); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidSessionID, id)
	}
	return nil
}

// ValidateUpload checks an uploaded file.
//
// # Description
//
// The file must have a name, an image/* content type and a size in
// (0, maxBytes]. A maxBytes <= 0 means DefaultMaxUploadBytes.
//
// # Outputs
//
//   - error: nil if valid, otherwise wraps ErrInvalidUpload with a reason
//     suitable for the client.
func ValidateUpload(in UploadInput, maxBytes int64) error {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxUploadBytes
	}
	if err := designValidate.Struct(in); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			switch verrs[0].Field() {
			case "ContentType":
				return fmt.Errorf("%w: file must be an image", ErrInvalidUpload)
			case "Size":
				return fmt.Errorf("%w: file is empty", ErrInvalidUpload)
			case "Filename":
				return fmt.Errorf("%w: missing or invalid filename", ErrInvalidUpload)
			}
		}
		return fmt.Errorf("%w: %v", ErrInvalidUpload, err)
	}
	if in.Size > maxBytes {
		return fmt.Errorf("%w: file exceeds %d bytes", ErrInvalidUpload, maxBytes)
	}
	return nil
}
