// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes holds the session model, the pipeline enums and the
// JSON shapes exchanged over the design agent HTTP API.
package datatypes

import "fmt"

// =============================================================================
// Session Status
// =============================================================================

// Status is the lifecycle state of a design session.
//
// # Description
//
// Status is a closed set. The zero value is not a valid status; sessions are
// created in StatusIdle. Transitions are checked against CanTransition.
type Status string

const (
	// StatusIdle means the session exists but the pipeline was never started.
	StatusIdle Status = "idle"

	// StatusAnalyzing means the Analyze stage is running.
	StatusAnalyzing Status = "analyzing"

	// StatusPlanning means the Plan stage is running.
	StatusPlanning Status = "planning"

	// StatusShopping means the Shop stage is running.
	StatusShopping Status = "shopping"

	// StatusDesigning means the Design stage is running.
	StatusDesigning Status = "designing"

	// StatusCompleted is terminal: all four stages finished.
	StatusCompleted Status = "completed"

	// StatusError is terminal: a stage failed and the pipeline stopped.
	StatusError Status = "error"
)

// String returns the string representation of the status.
func (s Status) String() string {
	return string(s)
}

// IsTerminal returns true if no further transitions are possible.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusError
}

// IsActive returns true while a pipeline stage is running.
func (s Status) IsActive() bool {
	switch s {
	case StatusAnalyzing, StatusPlanning, StatusShopping, StatusDesigning:
		return true
	default:
		return false
	}
}

// Valid reports whether s is one of the declared statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusIdle, StatusAnalyzing, StatusPlanning, StatusShopping,
		StatusDesigning, StatusCompleted, StatusError:
		return true
	default:
		return false
	}
}

// AllStatuses returns every status in lifecycle order.
func AllStatuses() []Status {
	return []Status{
		StatusIdle,
		StatusAnalyzing,
		StatusPlanning,
		StatusShopping,
		StatusDesigning,
		StatusCompleted,
		StatusError,
	}
}

// =============================================================================
// Pipeline Stages
// =============================================================================

// StageName identifies one pipeline stage. The string form is what clients
// see in steps_completed.
type StageName string

const (
	StageAnalyze StageName = "analyze"
	StagePlan    StageName = "plan"
	StageShop    StageName = "shop"
	StageDesign  StageName = "design"
)

// Stages returns the pipeline stages in execution order.
func Stages() []StageName {
	return []StageName{StageAnalyze, StagePlan, StageShop, StageDesign}
}

// String returns the string representation of the stage.
func (n StageName) String() string {
	return string(n)
}

// Status returns the session status while this stage runs.
func (n StageName) Status() Status {
	switch n {
	case StageAnalyze:
		return StatusAnalyzing
	case StagePlan:
		return StatusPlanning
	case StageShop:
		return StatusShopping
	case StageDesign:
		return StatusDesigning
	default:
		panic(fmt.Sprintf("datatypes: unknown stage %q", string(n)))
	}
}

// Weight returns the progress percentage reached when the stage completes.
func (n StageName) Weight() float64 {
	switch n {
	case StageAnalyze:
		return 25
	case StagePlan:
		return 50
	case StageShop:
		return 75
	case StageDesign:
		return 100
	default:
		panic(fmt.Sprintf("datatypes: unknown stage %q", string(n)))
	}
}

// Label returns the human readable current_step text for the stage.
func (n StageName) Label() string {
	switch n {
	case StageAnalyze:
		return "Analyzing room characteristics"
	case StagePlan:
		return "Creating design plan"
	case StageShop:
		return "Searching for furniture"
	case StageDesign:
		return "Generating final design"
	default:
		panic(fmt.Sprintf("datatypes: unknown stage %q", string(n)))
	}
}

// Next returns the status the session moves to after the stage completes.
func (n StageName) Next() Status {
	switch n {
	case StageAnalyze:
		return StatusPlanning
	case StagePlan:
		return StatusShopping
	case StageShop:
		return StatusDesigning
	case StageDesign:
		return StatusCompleted
	default:
		panic(fmt.Sprintf("datatypes: unknown stage %q", string(n)))
	}
}
