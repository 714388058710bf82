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
	"log/slog"
	"strings"

	"github.com/AleutianAI/DesignAgent/services/designer/datatypes"
)

// Analyze inspects the uploaded photo.
type Analyze struct {
	analyzer RoomAnalyzer
	deps     Deps
}

// NewAnalyze creates the Analyze stage.
func NewAnalyze(analyzer RoomAnalyzer, deps Deps) *Analyze {
	return &Analyze{analyzer: analyzer, deps: deps}
}

// Stage implements Executor.
func (a *Analyze) Stage() datatypes.StageName { return datatypes.StageAnalyze }

// Execute implements Executor.
func (a *Analyze) Execute(ctx context.Context, in Input) (Output, error) {
	image, err := a.deps.readImage(ctx, in.Image)
	if err != nil {
		return Output{}, asStageError(datatypes.StageAnalyze, 0, err)
	}

	var analysis datatypes.RoomAnalysis
	res, err := Retry(ctx, a.deps.Policy, func(ctx context.Context, attempt int) error {
		var callErr error
		analysis, callErr = a.analyzer.AnalyzeRoom(ctx, image, in.Image.ContentType)
		if callErr != nil {
			a.deps.logger().Debug("room analysis attempt failed",
				slog.String("session_id", in.SessionID),
				slog.Int("attempt", attempt),
				slog.String("error", callErr.Error()))
		}
		return callErr
	})
	if err != nil {
		return Output{Attempts: res.Attempts}, asStageError(datatypes.StageAnalyze, res.Attempts, err)
	}

	analysis.RoomType = strings.TrimSpace(analysis.RoomType)
	if analysis.RoomType == "" {
		analysis.RoomType = "room"
	}

	return Output{
		Analysis: &analysis,
		Notes:    []string{fmt.Sprintf("Room identified as: %s", analysis.RoomType)},
		Attempts: res.Attempts,
	}, nil
}
