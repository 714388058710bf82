// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/DesignAgent/services/designer/agent"
	"github.com/AleutianAI/DesignAgent/services/designer/datatypes"
	"github.com/AleutianAI/DesignAgent/services/designer/imagestore"
	"github.com/AleutianAI/DesignAgent/services/designer/observability"
	"github.com/AleutianAI/DesignAgent/services/designer/session"
)

// multipartOverhead is the slack allowed on top of the file size for the
// multipart envelope.
const multipartOverhead = 1 << 20

// UploadImage handles POST /api/upload.
//
// # Description
//
// Reads the multipart field "file", validates it is a non-empty image of
// at most maxBytes, stores it as "<session>_<file>" and registers an idle
// session for it. The session id is minted here and returned to the
// client, who uses it for every later call.
//
// # Inputs
//
//   - orch: registers the session.
//   - images: stores the upload.
//   - metrics: counts outcomes. May be nil.
//   - maxBytes: upload size limit. Zero means datatypes.DefaultMaxUploadBytes.
func UploadImage(orch *agent.Orchestrator, images imagestore.Store, metrics *observability.Metrics,
	maxBytes int64) gin.HandlerFunc {

	if maxBytes <= 0 {
		maxBytes = datatypes.DefaultMaxUploadBytes
	}
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes+multipartOverhead)

		fh, err := c.FormFile("file")
		if err != nil {
			var tooLarge *http.MaxBytesError
			detail := "No file uploaded"
			if errors.As(err, &tooLarge) {
				detail = fmt.Sprintf("File exceeds %d bytes", maxBytes)
			}
			metrics.Upload("rejected")
			c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Detail: detail})
			return
		}

		in := datatypes.UploadInput{
			Filename:    fh.Filename,
			ContentType: fh.Header.Get("Content-Type"),
			Size:        fh.Size,
		}
		if err := datatypes.ValidateUpload(in, maxBytes); err != nil {
			slog.Info("Upload rejected", "filename", fh.Filename, "reason", err.Error())
			metrics.Upload("rejected")
			c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{
				Detail: strings.TrimPrefix(err.Error(), datatypes.ErrInvalidUpload.Error()+": "),
			})
			return
		}

		f, err := fh.Open()
		if err != nil {
			metrics.Upload("error")
			respondError(c, "", fmt.Errorf("open upload: %w", err))
			return
		}
		defer f.Close()

		ctx := c.Request.Context()
		sessionID := session.NewID()
		ref, err := images.Save(ctx, imagestore.UploadName(sessionID, fh.Filename), in.ContentType, f)
		if err != nil {
			metrics.Upload("error")
			respondError(c, sessionID, fmt.Errorf("store upload: %w", err))
			return
		}
		ref.Filename = fh.Filename

		if _, err := orch.Create(ctx, sessionID, ref); err != nil {
			if rmErr := images.DeletePrefix(context.WithoutCancel(ctx), sessionID+"_"); rmErr != nil {
				slog.Warn("Could not remove unregistered upload",
					"session_id", sessionID,
					"error", rmErr.Error())
			}
			metrics.Upload("error")
			respondError(c, sessionID, err)
			return
		}

		metrics.Upload("accepted")
		slog.Info("Image uploaded",
			"session_id", sessionID,
			"filename", fh.Filename,
			"size", fh.Size)
		c.JSON(http.StatusOK, datatypes.UploadResponse{
			Success:   true,
			SessionID: sessionID,
			FilePath:  strings.TrimPrefix(ref.URL, "/"),
			Filename:  fh.Filename,
		})
	}
}
