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
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/AleutianAI/DesignAgent/services/designer/datatypes"
)

// DefaultDesignDescription is used when the renderer says nothing.
const DefaultDesignDescription = "Your room has been beautifully redesigned with the selected furniture."

// Design renders the furnished room and assembles the final results.
type Design struct {
	renderer Renderer
	deps     Deps
}

// NewDesign creates the Design stage.
func NewDesign(renderer Renderer, deps Deps) *Design {
	return &Design{renderer: renderer, deps: deps}
}

// Stage implements Executor.
func (d *Design) Stage() datatypes.StageName { return datatypes.StageDesign }

// Execute implements Executor.
//
// # Description
//
// Renders the design, stores the rendered image as
// designed_<session>_<rand>.png and builds FinalResults. When the renderer
// returns no image the original photo is reported as the designed image.
// The cost estimate is the sum of the parsed item prices and the
// completion time is measured from the pipeline start.
func (d *Design) Execute(ctx context.Context, in Input) (Output, error) {
	if in.Plan == nil {
		return Output{}, asStageError(datatypes.StageDesign, 0, Validationf("design plan missing"))
	}
	image, err := d.deps.readImage(ctx, in.Image)
	if err != nil {
		return Output{}, asStageError(datatypes.StageDesign, 0, err)
	}

	req := RenderRequest{
		Image:       image,
		ContentType: in.Image.ContentType,
		Analysis:    in.Analysis,
		Plan:        in.Plan,
		Items:       in.Items,
	}
	var rendering Rendering
	res, err := Retry(ctx, d.deps.Policy, func(ctx context.Context, _ int) error {
		var callErr error
		rendering, callErr = d.renderer.RenderDesign(ctx, req)
		return callErr
	})
	if err != nil {
		return Output{Attempts: res.Attempts}, asStageError(datatypes.StageDesign, res.Attempts, err)
	}

	var notes []string
	designed := in.Image.URL
	if len(rendering.Image) > 0 {
		name := fmt.Sprintf("designed_%s_%s.png", in.SessionID, strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
		ct := rendering.ContentType
		if ct == "" {
			ct = "image/png"
		}
		ref, err := d.deps.Images.Save(ctx, name, ct, bytes.NewReader(rendering.Image))
		if err != nil {
			return Output{Attempts: res.Attempts},
				asStageError(datatypes.StageDesign, res.Attempts, External(fmt.Errorf("save designed image: %w", err)))
		}
		designed = ref.URL
		notes = append(notes, "New room visualization created")
	} else {
		notes = append(notes, "No rendering produced, using the original photo")
	}

	description := strings.TrimSpace(rendering.Description)
	if description == "" {
		description = DefaultDesignDescription
	}

	now := d.deps.now()
	elapsed := 0.0
	if !in.StartedAt.IsZero() {
		elapsed = now.Sub(in.StartedAt).Seconds()
	}
	cost := TotalCost(in.Items)

	plan := in.Plan.Clone()
	plan.Markdown += renderSummaryMarkdown(cost, len(in.Items), plan.DesignStyle, elapsed, description)

	items := make([]datatypes.FurnitureItem, len(in.Items))
	for i, it := range in.Items {
		items[i] = it.Clone()
	}

	results := &datatypes.FinalResults{
		SessionID:         in.SessionID,
		OriginalImage:     in.Image.URL,
		DesignedImage:     designed,
		DesignPlan:        plan.Markdown,
		TotalCostEstimate: cost,
		FurnitureItems:    items,
		CompletionTime:    elapsed,
		DesignDescription: description,
	}
	notes = append(notes, "Final design generated successfully")

	return Output{
		Plan:     plan,
		Results:  results,
		Notes:    notes,
		Attempts: res.Attempts,
	}, nil
}
