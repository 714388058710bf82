// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package agent

import (
	"context"
	"log/slog"
	"time"

	"github.com/AleutianAI/DesignAgent/services/designer/datatypes"
	"github.com/AleutianAI/DesignAgent/services/designer/events"
	"github.com/AleutianAI/DesignAgent/services/designer/session"
	"github.com/AleutianAI/DesignAgent/services/designer/stages"
)

// completionMessages is appended when a stage finishes.
var completionMessages = map[datatypes.StageName]string{
	datatypes.StageAnalyze: "Room analysis complete",
	datatypes.StagePlan:    "Design plan created",
	datatypes.StageShop:    "Furniture search complete",
	datatypes.StageDesign:  "Design completed successfully!",
}

// reporter performs a task's status writes. Each write is one store
// update under writeTimeout, detached from the task context; the new
// snapshot is published to the hub.
type reporter struct {
	store  session.Store
	hub    *events.Hub
	clock  func() time.Time
	id     string
	logger *slog.Logger
}

func (r *reporter) update(fn session.UpdateFunc) error {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	snap, err := r.store.Update(ctx, r.id, fn)
	if err != nil {
		return err
	}
	if r.hub != nil {
		r.hub.Publish(snap)
	}
	return nil
}

func (r *reporter) beginStage(stage datatypes.StageName) error {
	now := r.clock()
	return r.update(func(s *datatypes.Session) error {
		return s.BeginStage(stage, now)
	})
}

// completeStage merges the stage output and advances the session.
func (r *reporter) completeStage(stage datatypes.StageName, out stages.Output) error {
	now := r.clock()
	return r.update(func(s *datatypes.Session) error {
		if out.Analysis != nil {
			s.RoomAnalysis = out.Analysis.Clone()
		}
		if out.Plan != nil {
			s.Plan = out.Plan.Clone()
		}
		if out.Items != nil {
			s.FurnitureItems = append([]datatypes.FurnitureItem{}, out.Items...)
		}
		if out.Results != nil {
			s.Results = out.Results.Clone()
		}
		for _, note := range out.Notes {
			s.AppendMessage(now, note)
		}
		for _, ie := range out.ItemErrors {
			s.AppendError(ie.Error())
		}
		if err := s.CompleteStage(stage, now, completionMessages[stage]); err != nil {
			return err
		}
		if s.Status == datatypes.StatusCompleted {
			s.CurrentStep = "Completed"
		}
		return nil
	})
}

// failStage records what the failed stage managed to report, then fails
// the session with err.
func (r *reporter) failStage(out stages.Output, err error) error {
	now := r.clock()
	return r.update(func(s *datatypes.Session) error {
		for _, note := range out.Notes {
			s.AppendMessage(now, note)
		}
		for _, ie := range out.ItemErrors {
			s.AppendError(ie.Error())
		}
		return s.Fail(now, err.Error())
	})
}

func (r *reporter) fail(reason string) error {
	now := r.clock()
	return r.update(func(s *datatypes.Session) error {
		if s.Status.IsTerminal() {
			return nil
		}
		return s.Fail(now, reason)
	})
}
