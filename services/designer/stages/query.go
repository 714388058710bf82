// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package stages

import "strings"

// genericNames maps verbose planner output to search friendly terms. Order
// matters: the first match wins.
var genericNames = []struct{ specific, generic string }{
	{"platform bed with light oak frame", "bed"},
	{"minimalist bedside tables", "nightstand"},
	{"simple dresser with warm white finish", "dresser"},
	{"scandinavian style desk", "desk"},
	{"ergonomic chair", "office chair"},
	{"bedside table", "nightstand"},
	{"bed frame", "bed"},
}

// furnitureKeywords are tried in order when a query is longer than two words.
var furnitureKeywords = []string{"bed", "mattress", "nightstand", "dresser", "desk", "chair", "sofa", "table"}

// SimplifyQuery reduces a planner item name to a short shopping query.
func SimplifyQuery(item string) string {
	q := strings.ToLower(strings.TrimSpace(item))
	for _, g := range genericNames {
		if strings.Contains(q, g.specific) {
			q = g.generic
			break
		}
	}
	if len(strings.Fields(q)) > 2 {
		for _, kw := range furnitureKeywords {
			if strings.Contains(q, kw) {
				return kw
			}
		}
	}
	return q
}
