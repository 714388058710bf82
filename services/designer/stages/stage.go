// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package stages implements the four pipeline stages of the design agent.
//
// # Description
//
// Every stage implements Executor. A stage receives the accumulated outputs
// of the stages before it, calls its external collaborator through Retry,
// and returns its own contribution. Stages never touch the session store;
// the orchestrator merges Output into the session.
//
// The external collaborators (vision model, planner, product search,
// renderer) are the interfaces declared in this file. The providers
// package has the real implementations.
package stages

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/AleutianAI/DesignAgent/services/designer/datatypes"
)

// =============================================================================
// Executor Contract
// =============================================================================

// Executor is one pipeline stage.
type Executor interface {
	// Stage names the stage.
	Stage() datatypes.StageName

	// Execute runs the stage. ctx carries the stage deadline. Errors are
	// *StageError values with Stage and Attempts filled in.
	Execute(ctx context.Context, in Input) (Output, error)
}

// Input is the accumulated context handed to a stage.
type Input struct {
	SessionID string
	Image     datatypes.ImageRef
	StartedAt time.Time
	Analysis  *datatypes.RoomAnalysis
	Plan      *datatypes.DesignPlan
	Items     []datatypes.FurnitureItem
}

// Output is a stage's contribution. Nil fields are left untouched on the
// session.
type Output struct {
	Analysis *datatypes.RoomAnalysis
	Plan     *datatypes.DesignPlan
	Items    []datatypes.FurnitureItem
	Results  *datatypes.FinalResults

	// Notes are progress messages to append, in order.
	Notes []string

	// ItemErrors are per-item failures that did not fail the stage.
	ItemErrors []*PartialItemError

	// Attempts is the number of upstream calls made.
	Attempts int
}

// =============================================================================
// External Collaborators
// =============================================================================

// RoomAnalyzer inspects a room photo.
type RoomAnalyzer interface {
	AnalyzeRoom(ctx context.Context, image []byte, contentType string) (datatypes.RoomAnalysis, error)
}

// Planner turns a room analysis into a design plan.
type Planner interface {
	PlanDesign(ctx context.Context, analysis datatypes.RoomAnalysis, tips []string) (datatypes.DesignPlan, error)
}

// Product is one search hit from a shopping backend.
type Product struct {
	Title          string   `json:"title"`
	Price          string   `json:"price,omitempty"`
	GoogleLink     string   `json:"google_link,omitempty"`
	DirectLink     string   `json:"direct_link,omitempty"`
	Source         string   `json:"source,omitempty"`
	Delivery       string   `json:"delivery,omitempty"`
	ProductRating  *float64 `json:"product_rating,omitempty"`
	ProductReviews *int     `json:"product_reviews,omitempty"`
	StoreRating    *float64 `json:"store_rating,omitempty"`
	StoreReviews   *int     `json:"store_reviews,omitempty"`
	ImageURL       string   `json:"image_url,omitempty"`
}

// ProductSearcher finds products for a query.
type ProductSearcher interface {
	SearchProducts(ctx context.Context, query, category string) ([]Product, error)
}

// RenderRequest is everything the renderer sees.
type RenderRequest struct {
	Image       []byte
	ContentType string
	Analysis    *datatypes.RoomAnalysis
	Plan        *datatypes.DesignPlan
	Items       []datatypes.FurnitureItem
}

// Rendering is the renderer's answer. Image may be empty, in which case the
// original photo stands in for the designed one.
type Rendering struct {
	Image       []byte
	ContentType string
	Description string
}

// Renderer produces the furnished-room visualization.
type Renderer interface {
	RenderDesign(ctx context.Context, req RenderRequest) (Rendering, error)
}

// ImageStore reads the uploaded photo and stores rendered designs.
type ImageStore interface {
	Open(ctx context.Context, ref datatypes.ImageRef) (io.ReadCloser, error)
	Save(ctx context.Context, name, contentType string, r io.Reader) (datatypes.ImageRef, error)
}

// =============================================================================
// Shared Dependencies
// =============================================================================

// maxImageBytes bounds how much of a stored image a stage will read.
const maxImageBytes = 32 << 20

// Deps are the dependencies shared by every executor.
type Deps struct {
	// Images is where room photos are read and designs are written.
	Images ImageStore

	// Policy governs retries of upstream calls.
	Policy RetryPolicy

	// Now is the clock. Nil means time.Now.
	Now func() time.Time

	// Logger receives per-stage debug logs. Nil means slog.Default().
	Logger *slog.Logger
}

func (d Deps) now() time.Time {
	if d.Now == nil {
		return time.Now()
	}
	return d.Now()
}

func (d Deps) logger() *slog.Logger {
	if d.Logger == nil {
		return slog.Default()
	}
	return d.Logger
}

// readImage loads the session photo. Anything unreadable is a validation
// failure: retrying cannot fix a missing or empty upload.
func (d Deps) readImage(ctx context.Context, ref datatypes.ImageRef) ([]byte, error) {
	if d.Images == nil {
		return nil, Validationf("no image store configured")
	}
	if ref.Path == "" {
		return nil, Validationf("session has no image")
	}
	rc, err := d.Images.Open(ctx, ref)
	if err != nil {
		return nil, Validation(fmt.Errorf("open image %s: %w", ref.Path, err))
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, maxImageBytes+1))
	if err != nil {
		return nil, Validation(fmt.Errorf("read image %s: %w", ref.Path, err))
	}
	if len(data) == 0 {
		return nil, Validationf("image %s is empty", ref.Path)
	}
	if len(data) > maxImageBytes {
		return nil, Validationf("image %s exceeds %d bytes", ref.Path, maxImageBytes)
	}
	return data, nil
}

// =============================================================================
// Helpers
// =============================================================================

// optStr returns nil for "" so empty product fields serialize as null.
func optStr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
