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
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/DesignAgent/services/designer/agent"
	"github.com/AleutianAI/DesignAgent/services/designer/datatypes"
)

// StartAgent handles POST /api/agent/start/:session_id. It returns as soon
// as the pipeline is launched.
func StartAgent(orch *agent.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := sessionIDParam(c)
		if !ok {
			return
		}
		if err := orch.Start(c.Request.Context(), id); err != nil {
			respondError(c, id, err)
			return
		}
		slog.Info("Design agent started", "session_id", id)
		c.JSON(http.StatusOK, datatypes.StartResponse{
			Success:   true,
			Message:   "Design agent started",
			SessionID: id,
		})
	}
}

// GetStatus handles GET /api/agent/status/:session_id.
func GetStatus(orch *agent.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := sessionIDParam(c)
		if !ok {
			return
		}
		status, err := orch.Status(c.Request.Context(), id)
		if err != nil {
			respondError(c, id, err)
			return
		}
		c.JSON(http.StatusOK, status)
	}
}

// GetPlan handles GET /api/agent/plan/:session_id. The plan is whatever
// markdown has accumulated so far.
func GetPlan(orch *agent.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := sessionIDParam(c)
		if !ok {
			return
		}
		plan, err := orch.Plan(c.Request.Context(), id)
		if err != nil {
			respondError(c, id, err)
			return
		}
		c.JSON(http.StatusOK, plan)
	}
}

// GetResults handles GET /api/agent/results/:session_id.
func GetResults(orch *agent.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := sessionIDParam(c)
		if !ok {
			return
		}
		results, err := orch.Results(c.Request.Context(), id)
		if err != nil {
			respondError(c, id, err)
			return
		}
		c.JSON(http.StatusOK, results)
	}
}

// DeleteSession handles DELETE /api/agent/:session_id.
func DeleteSession(orch *agent.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := sessionIDParam(c)
		if !ok {
			return
		}
		if err := orch.Delete(c.Request.Context(), id); err != nil {
			respondError(c, id, err)
			return
		}
		c.JSON(http.StatusOK, datatypes.DeleteResponse{
			Success: true,
			Message: "Session deleted",
		})
	}
}
