// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package providers

import (
	"context"
	"strings"

	"github.com/AleutianAI/DesignAgent/services/designer/datatypes"
	"github.com/AleutianAI/DesignAgent/services/designer/stages"
)

// StaticVision is the offline stand-in for the vision model. It reports a
// generic living room, returns stock plans and renders nothing, so the
// design stage reuses the original photo.
type StaticVision struct{}

// NewStaticVision returns the offline provider.
func NewStaticVision() *StaticVision { return &StaticVision{} }

// AnalyzeRoom implements stages.RoomAnalyzer.
func (StaticVision) AnalyzeRoom(ctx context.Context, image []byte, _ string) (datatypes.RoomAnalysis, error) {
	if err := ctx.Err(); err != nil {
		return datatypes.RoomAnalysis{}, err
	}
	if len(image) == 0 {
		return datatypes.RoomAnalysis{}, stages.Validationf("empty image")
	}
	return datatypes.RoomAnalysis{
		RoomType:           "living room",
		Dimensions:         &datatypes.Dimensions{Width: 4.5, Length: 5.5},
		ExistingFeatures:   []string{"window", "door"},
		LightingConditions: "natural light",
		StyleSuggestions:   []string{"modern", "minimalist", "scandinavian"},
		ColorPalette:       []string{"white", "light gray", "wood tones"},
	}, nil
}

// PlanDesign implements stages.Planner.
func (StaticVision) PlanDesign(ctx context.Context, a datatypes.RoomAnalysis, _ []string) (datatypes.DesignPlan, error) {
	if err := ctx.Err(); err != nil {
		return datatypes.DesignPlan{}, err
	}
	plan := datatypes.DesignPlan{
		DesignStyle: "Modern Scandinavian",
		ColorScheme: []string{"White", "Light Oak", "Soft Gray"},
	}
	switch {
	case strings.Contains(strings.ToLower(a.RoomType), "bedroom"):
		plan.LayoutDescription = "Bed centered on the longest wall with nightstands on both sides and the dresser opposite."
		plan.FurnitureNeeded = []datatypes.FurnitureNeed{
			{Item: "bed", Category: "Bedroom", Priority: "high", Quantity: 1, Position: &datatypes.Position{X: 0.5, Y: 0.6}},
			{Item: "nightstand", Category: "Bedroom", Priority: "medium", Quantity: 2, Position: &datatypes.Position{X: 0.25, Y: 0.6}},
			{Item: "dresser", Category: "Storage", Priority: "medium", Quantity: 1, Position: &datatypes.Position{X: 0.8, Y: 0.4}},
		}
	default:
		plan.LayoutDescription = "Sofa facing the window with a coffee table in front to form a conversation area."
		plan.FurnitureNeeded = []datatypes.FurnitureNeed{
			{Item: "sofa", Category: "Seating", Priority: "high", Quantity: 1, Position: &datatypes.Position{X: 0.5, Y: 0.7}},
			{Item: "coffee table", Category: "Tables", Priority: "medium", Quantity: 1, Position: &datatypes.Position{X: 0.5, Y: 0.5}},
		}
	}
	return plan, nil
}

// RenderDesign implements stages.Renderer.
func (StaticVision) RenderDesign(ctx context.Context, req stages.RenderRequest) (stages.Rendering, error) {
	if err := ctx.Err(); err != nil {
		return stages.Rendering{}, err
	}
	return stages.Rendering{Description: describeDesign(req)}, nil
}

var (
	_ stages.RoomAnalyzer = StaticVision{}
	_ stages.Planner      = StaticVision{}
	_ stages.Renderer     = StaticVision{}
)
