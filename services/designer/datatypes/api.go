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

// DefaultMessageLimit is how many recent messages a status response carries.
const DefaultMessageLimit = 50

// =============================================================================
// Response Types
// =============================================================================

// UploadResponse is returned by POST /api/upload.
type UploadResponse struct {
	Success   bool   `json:"success"`
	SessionID string `json:"session_id"`
	FilePath  string `json:"file_path"`
	Filename  string `json:"filename"`
}

// StartResponse is returned by POST /api/agent/start/:session_id.
type StartResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	SessionID string `json:"session_id"`
}

// StatusResponse is returned by GET /api/agent/status/:session_id and is
// also the frame format of the events websocket.
type StatusResponse struct {
	SessionID          string      `json:"session_id"`
	Status             Status      `json:"status"`
	CurrentStep        string      `json:"current_step"`
	StepsCompleted     []StageName `json:"steps_completed"`
	ProgressPercentage float64     `json:"progress_percentage"`
	Messages           []Message   `json:"messages"`
	Errors             []string    `json:"errors"`
}

// PlanResponse is returned by GET /api/agent/plan/:session_id.
type PlanResponse struct {
	Plan   string `json:"plan"`
	Status Status `json:"status"`
}

// ResultsResponse is returned by GET /api/agent/results/:session_id.
type ResultsResponse = FinalResults

// DeleteResponse is returned by DELETE /api/agent/:session_id.
type DeleteResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// HealthResponse is returned by GET /api/health.
type HealthResponse struct {
	Status        string `json:"status"`
	Service       string `json:"service"`
	Version       string `json:"version"`
	ActiveTasks   int    `json:"active_tasks"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// ErrorResponse is the body of every non-2xx reply. Detail is the human
// readable text; for unknown sessions it always contains "not found".
type ErrorResponse struct {
	Error  string `json:"error,omitempty"`
	Detail string `json:"detail"`
	Status Status `json:"status,omitempty"`
}

// =============================================================================
// Builders
// =============================================================================

// NewStatusResponse builds the status view of a snapshot, keeping only the
// newest limit messages.
func NewStatusResponse(s Session, limit int) StatusResponse {
	steps := s.StepsCompleted
	if steps == nil {
		steps = []StageName{}
	}
	errs := s.Errors
	if errs == nil {
		errs = []string{}
	}
	return StatusResponse{
		SessionID:          s.ID,
		Status:             s.Status,
		CurrentStep:        s.CurrentStep,
		StepsCompleted:     steps,
		ProgressPercentage: s.ProgressPercentage,
		Messages:           s.RecentMessages(limit),
		Errors:             errs,
	}
}

// NewPlanResponse builds the plan view of a snapshot.
func NewPlanResponse(s Session) PlanResponse {
	return PlanResponse{Plan: s.DesignPlanMarkdown(), Status: s.Status}
}
