// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers implements the HTTP API of the design agent.
package handlers

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/DesignAgent/services/designer/agent"
	"github.com/AleutianAI/DesignAgent/services/designer/datatypes"
	"github.com/AleutianAI/DesignAgent/services/designer/session"
)

// notFoundDetail is the detail of every 404. Clients look for "not found"
// to treat a session as expired.
func notFoundDetail(sessionID string) string {
	return fmt.Sprintf("Session %s not found", sessionID)
}

// sessionIDParam reads :session_id. A malformed id answers 404 like an
// unknown one and returns ok=false.
func sessionIDParam(c *gin.Context) (string, bool) {
	id := c.Param("session_id")
	if err := datatypes.ValidateSessionID(id); err != nil {
		c.JSON(http.StatusNotFound, datatypes.ErrorResponse{Detail: notFoundDetail(id)})
		return id, false
	}
	return id, true
}

// respondError maps an orchestrator or store error to a status code.
//
// # Description
//
//   - session.ErrSessionNotFound: 404 {detail}
//   - agent.ErrAlreadyStarted: 409 {error: "already started", detail}
//   - agent.ErrNotReady: 409 {error: "not ready", detail, status}
//   - datatypes.ErrInvalidUpload: 400 {detail}
//   - agent.ErrClosed: 503
//   - anything else: 500
func respondError(c *gin.Context, sessionID string, err error) {
	var notReady *agent.NotReadyError
	switch {
	case errors.Is(err, session.ErrSessionNotFound), errors.Is(err, datatypes.ErrInvalidSessionID):
		c.JSON(http.StatusNotFound, datatypes.ErrorResponse{Detail: notFoundDetail(sessionID)})
	case errors.As(err, &notReady):
		c.JSON(http.StatusConflict, datatypes.ErrorResponse{
			Error:  "not ready",
			Detail: fmt.Sprintf("Design not completed yet (status: %s)", notReady.Status),
			Status: notReady.Status,
		})
	case errors.Is(err, agent.ErrAlreadyStarted):
		c.JSON(http.StatusConflict, datatypes.ErrorResponse{
			Error:  "already started",
			Detail: "Agent already started for this session",
		})
	case errors.Is(err, datatypes.ErrInvalidUpload):
		c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Detail: err.Error()})
	case errors.Is(err, agent.ErrClosed):
		c.JSON(http.StatusServiceUnavailable, datatypes.ErrorResponse{Detail: "Service is shutting down"})
	default:
		slog.Error("Request failed",
			slog.String("path", c.FullPath()),
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, datatypes.ErrorResponse{
			Error:  "internal error",
			Detail: "Internal server error",
		})
	}
}
