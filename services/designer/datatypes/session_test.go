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
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestSession() Session {
	return NewSession("3f0e1f9e-8a43-4c1e-9a59-1b8f2d6c0a11", ImageRef{Path: "x.jpg"}, t0)
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusIdle, StatusAnalyzing, true},
		{StatusIdle, StatusPlanning, false},
		{StatusIdle, StatusError, false},
		{StatusAnalyzing, StatusPlanning, true},
		{StatusAnalyzing, StatusShopping, false},
		{StatusPlanning, StatusShopping, true},
		{StatusShopping, StatusDesigning, true},
		{StatusDesigning, StatusCompleted, true},
		{StatusShopping, StatusError, true},
		{StatusCompleted, StatusAnalyzing, false},
		{StatusCompleted, StatusError, false},
		{StatusError, StatusAnalyzing, false},
		{StatusError, StatusIdle, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestStatus_Classification(t *testing.T) {
	for _, s := range AllStatuses() {
		assert.True(t, s.Valid(), s)
		assert.False(t, s.IsTerminal() && s.IsActive(), s)
	}
	assert.True(t, StatusCompleted.IsTerminal())
	assert.True(t, StatusError.IsTerminal())
	assert.True(t, StatusShopping.IsActive())
	assert.False(t, StatusIdle.IsActive())
	assert.False(t, Status("paused").Valid())
}

func TestStageName_Table(t *testing.T) {
	prev := 0.0
	for _, st := range Stages() {
		assert.Greater(t, st.Weight(), prev)
		prev = st.Weight()
		assert.True(t, st.Status().IsActive())
		assert.NotEmpty(t, st.Label())
	}
	assert.Equal(t, 100.0, prev)
	assert.Equal(t, StatusCompleted, StageDesign.Next())
	assert.Panics(t, func() { StageName("paint").Weight() })
}

func TestSession_FullLifecycle(t *testing.T) {
	s := newTestSession()
	require.NoError(t, s.Transition(StatusAnalyzing, t0))

	for _, st := range Stages() {
		require.NoError(t, s.BeginStage(st, t0))
		if st == StageDesign {
			s.Results = &FinalResults{SessionID: s.ID}
		}
		require.NoError(t, s.CompleteStage(st, t0.Add(time.Second), ""))
	}

	assert.Equal(t, StatusCompleted, s.Status)
	assert.Equal(t, Stages(), s.StepsCompleted)
	assert.Equal(t, 100.0, s.ProgressPercentage)
	require.NotNil(t, s.FinishedAt)
	assert.Len(t, s.Messages, 8)
}

func TestSession_CompleteDesignWithoutResults(t *testing.T) {
	s := newTestSession()
	s.Status = StatusDesigning

	err := s.CompleteStage(StageDesign, t0, "")
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, StatusDesigning, s.Status)
	assert.Empty(t, s.StepsCompleted)
}

func TestSession_FailFreezesProgress(t *testing.T) {
	s := newTestSession()
	require.NoError(t, s.Transition(StatusAnalyzing, t0))
	require.NoError(t, s.CompleteStage(StageAnalyze, t0, ""))
	require.NoError(t, s.Fail(t0, "planner unavailable"))

	s.SetProgress(90)
	assert.Equal(t, 25.0, s.ProgressPercentage)
	assert.Equal(t, []string{"planner unavailable"}, s.Errors)
	assert.Equal(t, "Error: planner unavailable", s.Messages[len(s.Messages)-1].Message)

	err := s.CompleteStage(StagePlan, t0, "")
	assert.True(t, errors.Is(err, ErrInvalidTransition))
	assert.Len(t, s.StepsCompleted, 1)

	assert.ErrorIs(t, s.Fail(t0, "again"), ErrInvalidTransition)
}

func TestSession_SetProgressMonotoneAndClamped(t *testing.T) {
	s := newTestSession()
	s.SetProgress(40)
	s.SetProgress(10)
	assert.Equal(t, 40.0, s.ProgressPercentage)
	s.SetProgress(250)
	assert.Equal(t, 100.0, s.ProgressPercentage)
	s.SetProgress(-5)
	assert.Equal(t, 100.0, s.ProgressPercentage)
}

func TestSession_BeginStageWrongStatus(t *testing.T) {
	s := newTestSession()
	assert.ErrorIs(t, s.BeginStage(StagePlan, t0), ErrInvalidTransition)
}

func TestSession_RecentMessages(t *testing.T) {
	s := newTestSession()
	for i := 0; i < 5; i++ {
		s.AppendMessage(t0.Add(time.Duration(i)*time.Second), string(rune('a'+i)))
	}

	recent := s.RecentMessages(2)
	require.Len(t, recent, 2)
	assert.Equal(t, "d", recent[0].Message)
	assert.Equal(t, "e", recent[1].Message)
	assert.Len(t, s.RecentMessages(0), 5)
	assert.Len(t, s.Messages, 5)

	recent[0].Message = "mutated"
	assert.Equal(t, "d", s.Messages[3].Message)
}

func TestSession_CloneIsDeep(t *testing.T) {
	s := newTestSession()
	s.Plan = &DesignPlan{
		Markdown:        "# plan",
		FurnitureNeeded: []FurnitureNeed{{Item: "sofa", Position: &Position{X: 0.5, Y: 0.5}}},
	}
	s.FurnitureItems = []FurnitureItem{{Title: "Sofa", Price: Ptr("$10")}}
	s.AppendMessage(t0, "hello")

	c := s.Clone()
	c.Plan.Markdown = "changed"
	c.Plan.FurnitureNeeded[0].Position.X = 0.1
	*c.FurnitureItems[0].Price = "$99"
	c.Messages[0].Message = "changed"
	c.StepsCompleted = append(c.StepsCompleted, StageAnalyze)

	assert.Equal(t, "# plan", s.Plan.Markdown)
	assert.Equal(t, 0.5, s.Plan.FurnitureNeeded[0].Position.X)
	assert.Equal(t, "$10", *s.FurnitureItems[0].Price)
	assert.Equal(t, "hello", s.Messages[0].Message)
	assert.Empty(t, s.StepsCompleted)
}

func TestFurnitureItem_NullableJSON(t *testing.T) {
	raw, err := json.Marshal(FurnitureItem{Title: "Lamp"})
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(raw, &m))
	assert.Equal(t, "Lamp", m["title"])
	for _, key := range []string{"price", "google_link", "direct_link", "source", "delivery",
		"product_rating", "product_reviews", "store_rating", "store_reviews", "category",
		"position", "image_url", "local_image_path"} {
		v, ok := m[key]
		assert.True(t, ok, key)
		assert.Nil(t, v, key)
	}
}

func TestNewStatusResponse(t *testing.T) {
	s := newTestSession()
	for i := 0; i < 60; i++ {
		s.AppendMessage(t0, "m")
	}
	resp := NewStatusResponse(s, DefaultMessageLimit)
	assert.Len(t, resp.Messages, DefaultMessageLimit)
	assert.Equal(t, StatusIdle, resp.Status)
	assert.NotNil(t, resp.StepsCompleted)
	assert.NotNil(t, resp.Errors)

	plan := NewPlanResponse(s)
	assert.Equal(t, "", plan.Plan)
}
