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
	"context"
	"fmt"
	"strings"

	"github.com/AleutianAI/DesignAgent/services/designer/datatypes"
)

// Plan turns the room analysis into a design plan with a shopping list.
type Plan struct {
	planner Planner
	deps    Deps
}

// NewPlan creates the Plan stage.
func NewPlan(planner Planner, deps Deps) *Plan {
	return &Plan{planner: planner, deps: deps}
}

// Stage implements Executor.
func (p *Plan) Stage() datatypes.StageName { return datatypes.StagePlan }

// Execute implements Executor.
//
// # Description
//
// Feeds the planner the analysis plus design tips for the room type. Needs
// are normalized (quantity >= 1, default priority and category). A plan
// without any furniture is unusable and fails validation. The markdown is
// the room analysis section followed by the plan section, unless the
// planner wrote its own.
func (p *Plan) Execute(ctx context.Context, in Input) (Output, error) {
	if in.Analysis == nil {
		return Output{}, asStageError(datatypes.StagePlan, 0, Validationf("room analysis missing"))
	}
	tips := DesignTips(in.Analysis.RoomType)

	var plan datatypes.DesignPlan
	res, err := Retry(ctx, p.deps.Policy, func(ctx context.Context, _ int) error {
		var callErr error
		plan, callErr = p.planner.PlanDesign(ctx, *in.Analysis, tips)
		return callErr
	})
	if err != nil {
		return Output{Attempts: res.Attempts}, asStageError(datatypes.StagePlan, res.Attempts, err)
	}

	needs := plan.FurnitureNeeded[:0]
	for _, n := range plan.FurnitureNeeded {
		n.Item = strings.TrimSpace(n.Item)
		if n.Item == "" {
			continue
		}
		if n.Quantity < 1 {
			n.Quantity = 1
		}
		if n.Priority == "" {
			n.Priority = "medium"
		}
		if n.Category == "" {
			n.Category = "Furniture"
		}
		needs = append(needs, n)
	}
	plan.FurnitureNeeded = needs
	if len(plan.FurnitureNeeded) == 0 {
		return Output{Attempts: res.Attempts},
			asStageError(datatypes.StagePlan, res.Attempts, Validationf("design plan lists no furniture"))
	}
	if plan.DesignStyle == "" && len(in.Analysis.StyleSuggestions) > 0 {
		plan.DesignStyle = in.Analysis.StyleSuggestions[0]
	}
	if len(plan.ColorScheme) == 0 {
		plan.ColorScheme = append([]string(nil), in.Analysis.ColorPalette...)
	}
	if strings.TrimSpace(plan.Markdown) == "" {
		plan.Markdown = renderAnalysisMarkdown(in.Analysis) + renderPlanMarkdown(&plan)
	}

	return Output{
		Plan:     &plan,
		Notes:    []string{fmt.Sprintf("Design style selected: %s", plan.DesignStyle)},
		Attempts: res.Attempts,
	}, nil
}
