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
	"errors"
	"fmt"

	"github.com/AleutianAI/DesignAgent/services/designer/datatypes"
)

// =============================================================================
// Error Kinds
// =============================================================================

// Kind classifies a stage failure.
type Kind string

const (
	// KindValidation is bad or unusable input. Permanent.
	KindValidation Kind = "validation"

	// KindExternal is an upstream failure. Retried.
	KindExternal Kind = "external_service"

	// KindTimeout is an upstream call or stage deadline. Retried per call.
	KindTimeout Kind = "timeout"

	// KindCancelled means the session was deleted or the service is stopping.
	KindCancelled Kind = "cancelled"
)

// Sentinel errors matched with errors.Is. A *StageError matches the
// sentinel of its Kind.
var (
	ErrValidation      = errors.New("validation error")
	ErrExternalService = errors.New("external service error")
	ErrTimeout         = errors.New("timeout")
	ErrCancelled       = errors.New("cancelled")

	// ErrNoItems means the shop stage resolved nothing while the plan
	// asked for at least one item.
	ErrNoItems = errors.New("no furniture items could be resolved")
)

func (k Kind) sentinel() error {
	switch k {
	case KindValidation:
		return ErrValidation
	case KindTimeout:
		return ErrTimeout
	case KindCancelled:
		return ErrCancelled
	default:
		return ErrExternalService
	}
}

// =============================================================================
// StageError
// =============================================================================

// StageError is the failure of a single stage or upstream call.
//
// # Description
//
// Providers return StageErrors without Stage set. The executor fills in
// Stage and Attempts before handing the error to the orchestrator.
type StageError struct {
	Stage    datatypes.StageName
	Kind     Kind
	Attempts int
	Err      error
}

// Error implements error.
func (e *StageError) Error() string {
	msg := string(e.Kind)
	if e.Err != nil {
		msg = e.Err.Error()
	}
	switch {
	case e.Stage != "" && e.Attempts > 1:
		return fmt.Sprintf("%s stage failed after %d attempts (%s): %s", e.Stage, e.Attempts, e.Kind, msg)
	case e.Stage != "":
		return fmt.Sprintf("%s stage failed (%s): %s", e.Stage, e.Kind, msg)
	default:
		return fmt.Sprintf("%s: %s", e.Kind, msg)
	}
}

// Unwrap returns the underlying error.
func (e *StageError) Unwrap() error {
	return e.Err
}

// Is matches the sentinel for the error's kind.
func (e *StageError) Is(target error) bool {
	return target == e.Kind.sentinel()
}

// Validation wraps err as a permanent validation failure.
func Validation(err error) *StageError {
	return &StageError{Kind: KindValidation, Err: err}
}

// Validationf builds a validation failure from a format string.
func Validationf(format string, args ...any) *StageError {
	return Validation(fmt.Errorf(format, args...))
}

// External wraps err as a retryable upstream failure.
func External(err error) *StageError {
	return &StageError{Kind: KindExternal, Err: err}
}

// Timeout wraps err as a deadline failure.
func Timeout(err error) *StageError {
	return &StageError{Kind: KindTimeout, Err: err}
}

// KindOf classifies any error. Unclassified errors count as external
// service failures.
func KindOf(err error) Kind {
	var se *StageError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &se):
		return se.Kind
	case errors.Is(err, context.Canceled), errors.Is(err, ErrCancelled):
		return KindCancelled
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, ErrTimeout):
		return KindTimeout
	case errors.Is(err, ErrValidation):
		return KindValidation
	default:
		return KindExternal
	}
}

// IsRetryable reports whether another attempt could succeed.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindExternal, KindTimeout:
		return true
	default:
		return false
	}
}

// asStageError returns err as a *StageError tagged with the stage and the
// number of attempts made.
func asStageError(stage datatypes.StageName, attempts int, err error) *StageError {
	var se *StageError
	if errors.As(err, &se) {
		out := *se
		out.Stage = stage
		if attempts > out.Attempts {
			out.Attempts = attempts
		}
		return &out
	}
	return &StageError{Stage: stage, Kind: KindOf(err), Attempts: attempts, Err: err}
}

// =============================================================================
// PartialItemError
// =============================================================================

// PartialItemError is a per-item shop failure. It is recorded on the
// session but never fails the stage on its own.
type PartialItemError struct {
	Item string
	Err  error
}

// Error implements error.
func (e *PartialItemError) Error() string {
	return fmt.Sprintf("could not find %q: %v", e.Item, e.Err)
}

// Unwrap returns the underlying error.
func (e *PartialItemError) Unwrap() error {
	return e.Err
}
