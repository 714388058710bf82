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
	"fmt"
	"strings"

	"github.com/AleutianAI/DesignAgent/services/designer/datatypes"
)

// maxTitleLen truncates product titles in the shopping section.
const maxTitleLen = 60

func renderAnalysisMarkdown(a *datatypes.RoomAnalysis) string {
	var b strings.Builder
	b.WriteString("# Interior Design Plan\n\n## Room Analysis\n")
	fmt.Fprintf(&b, "- **Room Type**: %s\n", a.RoomType)
	if a.Dimensions != nil {
		fmt.Fprintf(&b, "- **Estimated Dimensions**: %gm x %gm\n", a.Dimensions.Width, a.Dimensions.Length)
	}
	if a.LightingConditions != "" {
		fmt.Fprintf(&b, "- **Lighting**: %s\n", a.LightingConditions)
	}
	if len(a.ExistingFeatures) > 0 {
		fmt.Fprintf(&b, "- **Existing Features**: %s\n", strings.Join(a.ExistingFeatures, ", "))
	}
	if len(a.StyleSuggestions) > 0 {
		fmt.Fprintf(&b, "- **Suggested Styles**: %s\n", strings.Join(a.StyleSuggestions, ", "))
	}
	if len(a.ColorPalette) > 0 {
		fmt.Fprintf(&b, "- **Color Palette**: %s\n", strings.Join(a.ColorPalette, ", "))
	}
	b.WriteString("\n")
	return b.String()
}

func renderPlanMarkdown(p *datatypes.DesignPlan) string {
	var b strings.Builder
	b.WriteString("## Design Plan\n")
	fmt.Fprintf(&b, "- **Style**: %s\n", p.DesignStyle)
	if p.BudgetEstimate != nil {
		fmt.Fprintf(&b, "- **Budget Estimate**: %s\n", formatMoney(*p.BudgetEstimate))
	}
	if len(p.ColorScheme) > 0 {
		fmt.Fprintf(&b, "- **Color Scheme**: %s\n", strings.Join(p.ColorScheme, ", "))
	}
	if p.LayoutDescription != "" {
		fmt.Fprintf(&b, "\n### Layout Description\n%s\n", p.LayoutDescription)
	}
	b.WriteString("\n### Furniture List\n")
	for _, n := range p.FurnitureNeeded {
		fmt.Fprintf(&b, "- **%s** (%s) - Priority: %s - Qty: %d\n", n.Item, n.Category, n.Priority, n.Quantity)
	}
	b.WriteString("\n")
	return b.String()
}

// renderShopSection renders the products picked for one need.
func renderShopSection(need datatypes.FurnitureNeed, products []Product) string {
	var b strings.Builder
	heading := need.Category
	if heading == "" {
		heading = need.Item
	}
	fmt.Fprintf(&b, "\n### %s\n", heading)
	for i, p := range products {
		title := p.Title
		if title == "" {
			title = need.Item
		}
		if len(title) > maxTitleLen {
			title = title[:maxTitleLen-3] + "..."
		}
		price := p.Price
		if price == "" {
			price = "Price not available"
		}
		fmt.Fprintf(&b, "%d. **%s** - %s\n", i+1, title, price)
		if p.Source != "" {
			fmt.Fprintf(&b, "   - Source: %s\n", p.Source)
		}
		if p.ProductRating != nil {
			reviews := 0
			if p.ProductReviews != nil {
				reviews = *p.ProductReviews
			}
			fmt.Fprintf(&b, "   - Rating: %.1f (%d reviews)\n", *p.ProductRating, reviews)
		}
		if p.Delivery != "" {
			fmt.Fprintf(&b, "   - Delivery: %s\n", p.Delivery)
		}
	}
	return b.String()
}

func renderSummaryMarkdown(cost float64, items int, style string, elapsed float64, description string) string {
	return fmt.Sprintf(`
## Final Design Summary
- **Total Estimated Cost**: %s
- **Items Selected**: %d
- **Design Style**: %s
- **Completion Time**: %.2f seconds

### Design Description
%s
`, formatMoney(cost), items, style, elapsed, description)
}

// formatMoney renders 1299.5 as "$1,299.50".
func formatMoney(v float64) string {
	s := fmt.Sprintf("%.2f", v)
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")
	whole, frac, _ := strings.Cut(s, ".")
	var b strings.Builder
	for i, r := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	out := "$" + b.String() + "." + frac
	if neg {
		out = "-" + out
	}
	return out
}
