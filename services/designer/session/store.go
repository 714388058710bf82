// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package session provides the session registry used by the design agent.
//
// Two backends implement Store: MemoryStore for single-process deployments
// and tests, and BadgerStore for sessions that must survive a restart.
// Both hand out snapshots only. The single mutation path is Update, which
// applies a callback atomically so a reader never sees a half-written
// session.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/DesignAgent/services/designer/datatypes"
)

// =============================================================================
// Errors
// =============================================================================

var (
	// ErrSessionNotFound is returned for unknown or deleted session ids.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionExists is returned when Create is called with an id in use.
	ErrSessionExists = errors.New("session already exists")

	// ErrStoreClosed is returned after Close.
	ErrStoreClosed = errors.New("session store closed")
)

// notFound wraps ErrSessionNotFound with the id, producing the
// "Session <id> not found" text clients match on.
func notFound(id string) error {
	return fmt.Errorf("%w: Session %s not found", ErrSessionNotFound, id)
}

// =============================================================================
// Interface
// =============================================================================

// UpdateFunc mutates a session in place. Returning an error discards the
// mutation.
type UpdateFunc func(s *datatypes.Session) error

// Store is the concurrency-safe session registry.
//
// # Description
//
// Every method is safe for concurrent use. Get and List return deep copies.
// Update serialises writers per session and persists the result only when
// the callback succeeds.
//
// # Limitations
//
//   - Store does not know about running tasks. Cancelling a task before
//     Delete is the orchestrator's job.
type Store interface {
	// Create registers a new idle session under id.
	Create(ctx context.Context, id string, image datatypes.ImageRef) (datatypes.Session, error)

	// Get returns a snapshot of the session.
	Get(ctx context.Context, id string) (datatypes.Session, error)

	// Update applies fn atomically and returns the new snapshot.
	Update(ctx context.Context, id string, fn UpdateFunc) (datatypes.Session, error)

	// Delete removes the session.
	Delete(ctx context.Context, id string) error

	// List returns snapshots of all sessions in no particular order.
	List(ctx context.Context) ([]datatypes.Session, error)

	// Count returns the number of live sessions.
	Count(ctx context.Context) (int, error)

	// Close releases backend resources.
	Close() error
}

// NewID mints a session id.
func NewID() string {
	return uuid.NewString()
}

// =============================================================================
// Options
// =============================================================================

// Option configures a store.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock overrides the time source used for CreatedAt and UpdatedAt.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
