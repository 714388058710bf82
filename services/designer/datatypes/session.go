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

import (
	"fmt"
	"time"
)

// =============================================================================
// Stage Outputs
// =============================================================================

// Dimensions is an estimated floor size in meters.
type Dimensions struct {
	Width  float64 `json:"width"`
	Length float64 `json:"length"`
}

// RoomAnalysis is the output of the Analyze stage.
type RoomAnalysis struct {
	RoomType           string      `json:"room_type"`
	Dimensions         *Dimensions `json:"dimensions_estimate,omitempty"`
	ExistingFeatures   []string    `json:"existing_features"`
	LightingConditions string      `json:"lighting_conditions"`
	StyleSuggestions   []string    `json:"style_suggestions"`
	ColorPalette       []string    `json:"color_palette"`
}

// Position is a normalized placement inside the room image (0..1 on both axes).
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// FurnitureNeed is one entry of the plan's structured shopping list.
type FurnitureNeed struct {
	Item       string    `json:"item"`
	Category   string    `json:"category"`
	Priority   string    `json:"priority,omitempty"`
	Quantity   int       `json:"quantity,omitempty"`
	Attributes []string  `json:"attributes,omitempty"`
	Position   *Position `json:"position,omitempty"`
}

// DesignPlan is the output of the Plan stage. Markdown grows as later stages
// append their sections.
type DesignPlan struct {
	DesignStyle       string          `json:"design_style"`
	BudgetEstimate    *float64        `json:"budget_estimate,omitempty"`
	FurnitureNeeded   []FurnitureNeed `json:"furniture_needed"`
	ColorScheme       []string        `json:"color_scheme"`
	LayoutDescription string          `json:"layout_description"`
	Markdown          string          `json:"markdown"`
}

// FurnitureItem is a resolved, shoppable product. Every field except Title
// may be null on the wire.
type FurnitureItem struct {
	Title          string    `json:"title"`
	Price          *string   `json:"price"`
	GoogleLink     *string   `json:"google_link"`
	DirectLink     *string   `json:"direct_link"`
	Source         *string   `json:"source"`
	Delivery       *string   `json:"delivery"`
	ProductRating  *float64  `json:"product_rating"`
	ProductReviews *int      `json:"product_reviews"`
	StoreRating    *float64  `json:"store_rating"`
	StoreReviews   *int      `json:"store_reviews"`
	Category       *string   `json:"category"`
	Position       *Position `json:"position"`
	ImageURL       *string   `json:"image_url"`
	LocalImagePath *string   `json:"local_image_path"`
}

// FinalResults is the bundle served by the results endpoint.
type FinalResults struct {
	SessionID         string          `json:"session_id"`
	OriginalImage     string          `json:"original_image"`
	DesignedImage     string          `json:"designed_image"`
	DesignPlan        string          `json:"design_plan"`
	TotalCostEstimate float64         `json:"total_cost_estimate"`
	FurnitureItems    []FurnitureItem `json:"furniture_items"`
	CompletionTime    float64         `json:"completion_time"`
	DesignDescription string          `json:"design_description"`
}

// ImageRef points at an image owned by the image store.
type ImageRef struct {
	// Path is the store-relative object name.
	Path string `json:"path"`

	// Filename is the client supplied file name.
	Filename string `json:"filename"`

	ContentType string `json:"content_type"`

	// URL is where clients can fetch the image.
	URL string `json:"url"`
}

// Message is one timestamped progress line.
type Message struct {
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
}

// =============================================================================
// Session
// =============================================================================

// Session is one end-to-end design request and its accumulated state.
//
// # Description
//
// A Session is mutated only by the orchestration task that owns it, always
// through SessionStore.Update. Everyone else works on snapshots obtained from
// Clone (the stores never hand out live pointers).
//
// # Invariants
//
//   - Results != nil iff Status == StatusCompleted
//   - len(StepsCompleted) equals the number of stages finished without error
//   - ProgressPercentage never decreases; it freezes once Status == StatusError
//   - Messages, Errors and StepsCompleted are append-only
type Session struct {
	ID                 string          `json:"id"`
	Status             Status          `json:"status"`
	CurrentStep        string          `json:"current_step"`
	StepsCompleted     []StageName     `json:"steps_completed"`
	ProgressPercentage float64         `json:"progress_percentage"`
	Messages           []Message       `json:"messages"`
	Errors             []string        `json:"errors"`
	RoomAnalysis       *RoomAnalysis   `json:"room_analysis,omitempty"`
	Plan               *DesignPlan     `json:"plan,omitempty"`
	FurnitureItems     []FurnitureItem `json:"furniture_items,omitempty"`
	Results            *FinalResults   `json:"results,omitempty"`
	Image              ImageRef        `json:"image"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
	StartedAt          *time.Time      `json:"started_at,omitempty"`
	FinishedAt         *time.Time      `json:"finished_at,omitempty"`
}

// NewSession returns an idle session for an uploaded image.
func NewSession(id string, image ImageRef, now time.Time) Session {
	return Session{
		ID:             id,
		Status:         StatusIdle,
		StepsCompleted: []StageName{},
		Messages:       []Message{},
		Errors:         []string{},
		Image:          image,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// DesignPlanMarkdown returns the plan markdown, or "" before planning.
func (s *Session) DesignPlanMarkdown() string {
	if s.Plan == nil {
		return ""
	}
	return s.Plan.Markdown
}

// RecentMessages returns at most n of the newest messages. n <= 0 returns all.
func (s *Session) RecentMessages(n int) []Message {
	if n <= 0 || len(s.Messages) <= n {
		return append([]Message(nil), s.Messages...)
	}
	return append([]Message(nil), s.Messages[len(s.Messages)-n:]...)
}

// =============================================================================
// Status Reporting
// =============================================================================
//
// The methods below are the status reporter. They are only ever called from
// inside a SessionStore.Update callback by the task that owns the session.

// AppendMessage appends a timestamped progress message.
func (s *Session) AppendMessage(now time.Time, text string) {
	s.Messages = append(s.Messages, Message{Timestamp: now, Message: text})
	s.UpdatedAt = now
}

// AppendError appends an error description.
func (s *Session) AppendError(text string) {
	s.Errors = append(s.Errors, text)
}

// SetProgress raises the progress percentage to p, clamped to [0,100].
// Lower values and writes after a failure are ignored.
func (s *Session) SetProgress(p float64) {
	if s.Status == StatusError {
		return
	}
	if p < 0 {
		p = 0
	}
	if p > 100 {
		p = 100
	}
	if p > s.ProgressPercentage {
		s.ProgressPercentage = p
	}
}

// Transition moves the session to the given status if the transition table
// allows it.
func (s *Session) Transition(to Status, now time.Time) error {
	if !CanTransition(s.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.Status, to)
	}
	s.Status = to
	s.UpdatedAt = now
	if to.IsTerminal() {
		finished := now
		s.FinishedAt = &finished
	}
	return nil
}

// BeginStage records the start of a stage.
func (s *Session) BeginStage(stage StageName, now time.Time) error {
	if s.Status != stage.Status() {
		return fmt.Errorf("%w: cannot begin %s while %s", ErrInvalidTransition, stage, s.Status)
	}
	s.CurrentStep = stage.Label()
	s.AppendMessage(now, fmt.Sprintf("Starting %s", stage))
	return nil
}

// CompleteStage records a successful stage and advances the status.
func (s *Session) CompleteStage(stage StageName, now time.Time, message string) error {
	next := stage.Next()
	if next == StatusCompleted && s.Results == nil {
		return fmt.Errorf("%w: completed without results", ErrInvalidTransition)
	}
	if err := s.Transition(next, now); err != nil {
		return err
	}
	s.StepsCompleted = append(s.StepsCompleted, stage)
	s.SetProgress(stage.Weight())
	if message == "" {
		message = fmt.Sprintf("Finished %s", stage)
	}
	s.AppendMessage(now, message)
	return nil
}

// Fail moves the session to StatusError and records why.
func (s *Session) Fail(now time.Time, reason string) error {
	if err := s.Transition(StatusError, now); err != nil {
		return err
	}
	s.Results = nil
	s.AppendError(reason)
	s.AppendMessage(now, "Error: "+reason)
	return nil
}

// =============================================================================
// Snapshots
// =============================================================================

// Clone returns a deep copy of the session.
func (s *Session) Clone() Session {
	c := *s
	c.StepsCompleted = append([]StageName{}, s.StepsCompleted...)
	c.Messages = append([]Message{}, s.Messages...)
	c.Errors = append([]string{}, s.Errors...)
	c.RoomAnalysis = s.RoomAnalysis.Clone()
	c.Plan = s.Plan.Clone()
	c.FurnitureItems = cloneItems(s.FurnitureItems)
	c.Results = s.Results.Clone()
	c.StartedAt = clonePtr(s.StartedAt)
	c.FinishedAt = clonePtr(s.FinishedAt)
	return c
}

// Clone returns a deep copy; nil stays nil.
func (a *RoomAnalysis) Clone() *RoomAnalysis {
	if a == nil {
		return nil
	}
	c := *a
	c.Dimensions = clonePtr(a.Dimensions)
	c.ExistingFeatures = append([]string(nil), a.ExistingFeatures...)
	c.StyleSuggestions = append([]string(nil), a.StyleSuggestions...)
	c.ColorPalette = append([]string(nil), a.ColorPalette...)
	return &c
}

// Clone returns a deep copy; nil stays nil.
func (p *DesignPlan) Clone() *DesignPlan {
	if p == nil {
		return nil
	}
	c := *p
	c.BudgetEstimate = clonePtr(p.BudgetEstimate)
	c.ColorScheme = append([]string(nil), p.ColorScheme...)
	if p.FurnitureNeeded != nil {
		c.FurnitureNeeded = make([]FurnitureNeed, len(p.FurnitureNeeded))
		for i, n := range p.FurnitureNeeded {
			n.Attributes = append([]string(nil), n.Attributes...)
			n.Position = clonePtr(n.Position)
			c.FurnitureNeeded[i] = n
		}
	}
	return &c
}

// Clone returns a deep copy; nil stays nil.
func (r *FinalResults) Clone() *FinalResults {
	if r == nil {
		return nil
	}
	c := *r
	c.FurnitureItems = cloneItems(r.FurnitureItems)
	return &c
}

// Clone returns a deep copy of the item.
func (it FurnitureItem) Clone() FurnitureItem {
	it.Price = clonePtr(it.Price)
	it.GoogleLink = clonePtr(it.GoogleLink)
	it.DirectLink = clonePtr(it.DirectLink)
	it.Source = clonePtr(it.Source)
	it.Delivery = clonePtr(it.Delivery)
	it.ProductRating = clonePtr(it.ProductRating)
	it.ProductReviews = clonePtr(it.ProductReviews)
	it.StoreRating = clonePtr(it.StoreRating)
	it.StoreReviews = clonePtr(it.StoreReviews)
	it.Category = clonePtr(it.Category)
	it.Position = clonePtr(it.Position)
	it.ImageURL = clonePtr(it.ImageURL)
	it.LocalImagePath = clonePtr(it.LocalImagePath)
	return it
}

func cloneItems(items []FurnitureItem) []FurnitureItem {
	if items == nil {
		return nil
	}
	out := make([]FurnitureItem, len(items))
	for i, it := range items {
		out[i] = it.Clone()
	}
	return out
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// Ptr returns a pointer to v. Handy for the nullable FurnitureItem fields.
func Ptr[T any](v T) *T {
	return &v
}
