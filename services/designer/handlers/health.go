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
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/DesignAgent/services/designer/agent"
	"github.com/AleutianAI/DesignAgent/services/designer/datatypes"
)

// ServiceName is reported by the health and banner endpoints.
const ServiceName = "Interior Design Agent"

// HealthCheck handles GET /api/health.
func HealthCheck(orch *agent.Orchestrator, version string, startedAt time.Time) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, datatypes.HealthResponse{
			Status:        "healthy",
			Service:       ServiceName,
			Version:       version,
			ActiveTasks:   orch.Active(),
			UptimeSeconds: int64(time.Since(startedAt).Seconds()),
		})
	}
}

// Banner handles GET /.
func Banner(version string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"message": ServiceName + " API",
			"version": version,
			"docs":    "/api/health",
		})
	}
}
