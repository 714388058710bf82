// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/AleutianAI/DesignAgent/services/designer/datatypes"
)

// MemoryStore keeps sessions in a map guarded by a RWMutex.
//
// Update holds the write lock while the callback runs, so callbacks must
// not block or call back into the store.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*datatypes.Session
	closed   bool
	opts     options
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(opts ...Option) *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*datatypes.Session),
		opts:     buildOptions(opts),
	}
}

// Create implements Store.
func (m *MemoryStore) Create(_ context.Context, id string, image datatypes.ImageRef) (datatypes.Session, error) {
	if err := datatypes.ValidateSessionID(id); err != nil {
		return datatypes.Session{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return datatypes.Session{}, ErrStoreClosed
	}
	if _, ok := m.sessions[id]; ok {
		return datatypes.Session{}, fmt.Errorf("%w: %s", ErrSessionExists, id)
	}
	s := datatypes.NewSession(id, image, m.opts.now())
	m.sessions[id] = &s
	return s.Clone(), nil
}

// Get implements Store.
func (m *MemoryStore) Get(_ context.Context, id string) (datatypes.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return datatypes.Session{}, ErrStoreClosed
	}
	s, ok := m.sessions[id]
	if !ok {
		return datatypes.Session{}, notFound(id)
	}
	return s.Clone(), nil
}

// Update implements Store. fn runs on a copy which replaces the stored
// session only if fn succeeds.
func (m *MemoryStore) Update(_ context.Context, id string, fn UpdateFunc) (datatypes.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return datatypes.Session{}, ErrStoreClosed
	}
	cur, ok := m.sessions[id]
	if !ok {
		return datatypes.Session{}, notFound(id)
	}

	next := cur.Clone()
	if err := fn(&next); err != nil {
		return datatypes.Session{}, err
	}
	next.ID = id
	next.UpdatedAt = m.opts.now()
	m.sessions[id] = &next
	return next.Clone(), nil
}

// Delete implements Store.
func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}
	if _, ok := m.sessions[id]; !ok {
		return notFound(id)
	}
	delete(m.sessions, id)
	return nil
}

// List implements Store.
func (m *MemoryStore) List(_ context.Context) ([]datatypes.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}
	out := make([]datatypes.Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s.Clone())
	}
	return out, nil
}

// Count implements Store.
func (m *MemoryStore) Count(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return 0, ErrStoreClosed
	}
	return len(m.sessions), nil
}

// Close implements Store. Sessions are dropped.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.sessions = nil
	return nil
}

var _ Store = (*MemoryStore)(nil)
