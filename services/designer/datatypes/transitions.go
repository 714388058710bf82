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

import "errors"

// ErrInvalidTransition is returned when a status change is not in the table.
var ErrInvalidTransition = errors.New("invalid status transition")

// transitions lists the allowed successors of every status.
var transitions = map[Status][]Status{
	StatusIdle:      {StatusAnalyzing},
	StatusAnalyzing: {StatusPlanning, StatusError},
	StatusPlanning:  {StatusShopping, StatusError},
	StatusShopping:  {StatusDesigning, StatusError},
	StatusDesigning: {StatusCompleted, StatusError},
	StatusCompleted: {},
	StatusError:     {},
}

// CanTransition reports whether a session may move from one status to another.
//
// # Description
//
// The pipeline moves strictly forward one stage at a time. Any running
// stage may fail into StatusError. Terminal statuses have no exits, so a
// session can never be restarted.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
