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

import (
	"strconv"
	"strings"
	"unicode"

	"github.com/AleutianAI/DesignAgent/services/designer/datatypes"
)

// ParsePrice turns a display price like "$1,299.00" into 1299. Anything it
// cannot parse counts as 0. Ranges ("$100 - $200") use the lower bound.
func ParsePrice(s string) float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	if i := strings.IndexAny(s, "-–"); i > 0 {
		s = s[:i]
	}
	var b strings.Builder
scan:
	for _, r := range s {
		switch {
		case unicode.IsDigit(r) || r == '.':
			b.WriteRune(r)
		case r == ',' || unicode.IsSpace(r) || unicode.Is(unicode.Sc, r):
			// thousands separators and currency symbols
		default:
			if b.Len() > 0 {
				break scan
			}
		}
	}
	v, err := strconv.ParseFloat(b.String(), 64)
	if err != nil || v < 0 {
		return 0
	}
	return v
}

// TotalCost sums the parsed prices of items.
func TotalCost(items []datatypes.FurnitureItem) float64 {
	total := 0.0
	for _, it := range items {
		if it.Price != nil {
			total += ParsePrice(*it.Price)
		}
	}
	return total
}
