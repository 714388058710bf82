// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ttl

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/DesignAgent/services/designer/datatypes"
	"github.com/AleutianAI/DesignAgent/services/designer/observability"
)

type fakeSource struct {
	mu       sync.Mutex
	sessions map[string]datatypes.Session
	failOn   map[string]error
	listErr  error
	deleted  []string
}

func newFakeSource(sessions ...datatypes.Session) *fakeSource {
	f := &fakeSource{sessions: map[string]datatypes.Session{}, failOn: map[string]error{}}
	for _, s := range sessions {
		f.sessions[s.ID] = s
	}
	return f
}

func (f *fakeSource) List(context.Context) ([]datatypes.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]datatypes.Session, 0, len(f.sessions))
	for _, s := range f.sessions {
		out = append(out, s)
	}
	return out, nil
}

func (f *fakeSource) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failOn[id]; err != nil {
		return err
	}
	delete(f.sessions, id)
	f.deleted = append(f.deleted, id)
	return nil
}

var base = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func sess(id string, status datatypes.Status, age time.Duration) datatypes.Session {
	return datatypes.Session{ID: id, Status: status, CreatedAt: base.Add(-age), UpdatedAt: base.Add(-age)}
}

func TestConfig_Expired(t *testing.T) {
	cfg := DefaultConfig()
	tests := []struct {
		name string
		s    datatypes.Session
		want bool
	}{
		{"fresh idle", sess("a", datatypes.StatusIdle, time.Minute), false},
		{"old idle", sess("b", datatypes.StatusIdle, 3*time.Hour), true},
		{"old completed", sess("c", datatypes.StatusCompleted, 2*time.Hour), true},
		{"old error", sess("d", datatypes.StatusError, 5*time.Hour), true},
		{"running within active ttl", sess("e", datatypes.StatusShopping, 3*time.Hour), false},
		{"stuck running", sess("f", datatypes.StatusAnalyzing, 7*time.Hour), true},
		{"zero updated uses created", datatypes.Session{ID: "g", Status: datatypes.StatusIdle, CreatedAt: base.Add(-3 * time.Hour)}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, cfg.Expired(tt.s, base))
		})
	}
}

func TestScheduler_RunNow(t *testing.T) {
	src := newFakeSource(
		sess("keep", datatypes.StatusCompleted, time.Minute),
		sess("old", datatypes.StatusCompleted, 3*time.Hour),
		sess("stuck", datatypes.StatusDesigning, 8*time.Hour),
		sess("broken", datatypes.StatusError, 3*time.Hour),
	)
	src.failOn["broken"] = errors.New("disk on fire")

	reg := prometheus.NewRegistry()
	s := NewScheduler(src, Config{}, observability.NewMetrics(reg), nil).WithClock(func() time.Time { return base })

	res, err := s.RunNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, res.Scanned)
	assert.Equal(t, 3, res.Expired)
	assert.Equal(t, 2, res.Deleted)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "broken", res.Errors[0].SessionID)
	assert.ElementsMatch(t, []string{"old", "stuck"}, src.deleted)
}

func TestScheduler_ListError(t *testing.T) {
	src := newFakeSource()
	src.listErr = errors.New("store closed")
	_, err := NewScheduler(src, Config{}, nil, nil).RunNow(context.Background())
	assert.ErrorContains(t, err, "list sessions")
}

func TestScheduler_StartStop(t *testing.T) {
	src := newFakeSource(sess("old", datatypes.StatusIdle, 3*time.Hour))
	s := NewScheduler(src, Config{Interval: time.Hour}, nil, nil).WithClock(func() time.Time { return base })

	require.NoError(t, s.Start(context.Background()))
	assert.ErrorIs(t, s.Start(context.Background()), ErrAlreadyRunning)

	require.Eventually(t, func() bool {
		src.mu.Lock()
		defer src.mu.Unlock()
		return len(src.deleted) == 1
	}, 2*time.Second, 5*time.Millisecond, "first sweep runs immediately")

	require.NoError(t, s.Stop())
	require.NoError(t, s.Stop())

	require.NoError(t, s.Start(context.Background()), "restart after stop")
	require.NoError(t, s.Stop())
}
