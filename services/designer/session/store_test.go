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
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/DesignAgent/services/designer/datatypes"
)

var fixedNow = time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC)

// storeFactories lets every contract test run against both backends.
func storeFactories(t *testing.T) map[string]func() Store {
	return map[string]func() Store{
		"memory": func() Store {
			return NewMemoryStore(WithClock(func() time.Time { return fixedNow }))
		},
		"badger": func() Store {
			s, err := OpenBadger(InMemoryBadgerConfig(), WithClock(func() time.Time { return fixedNow }))
			require.NoError(t, err)
			return s
		},
	}
}

func forEachStore(t *testing.T, fn func(t *testing.T, s Store)) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := factory()
			t.Cleanup(func() { _ = s.Close() })
			fn(t, s)
		})
	}
}

func TestStore_CreateGet(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		id := NewID()
		created, err := s.Create(ctx, id, datatypes.ImageRef{Path: id + "_room.jpg", Filename: "room.jpg"})
		require.NoError(t, err)
		assert.Equal(t, datatypes.StatusIdle, created.Status)
		assert.Equal(t, fixedNow, created.CreatedAt)

		got, err := s.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, id, got.ID)
		assert.Equal(t, "room.jpg", got.Image.Filename)
		assert.Empty(t, got.StepsCompleted)

		_, err = s.Create(ctx, id, datatypes.ImageRef{})
		assert.ErrorIs(t, err, ErrSessionExists)

		_, err = s.Create(ctx, "not-a-uuid", datatypes.ImageRef{})
		assert.ErrorIs(t, err, datatypes.ErrInvalidSessionID)
	})
}

func TestStore_NotFound(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		id := NewID()

		_, err := s.Get(ctx, id)
		require.ErrorIs(t, err, ErrSessionNotFound)
		assert.Contains(t, err.Error(), "not found")
		assert.Contains(t, err.Error(), id)

		_, err = s.Update(ctx, id, func(*datatypes.Session) error { return nil })
		assert.ErrorIs(t, err, ErrSessionNotFound)
		assert.ErrorIs(t, s.Delete(ctx, id), ErrSessionNotFound)
	})
}

func TestStore_UpdateAtomic(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		id := NewID()
		_, err := s.Create(ctx, id, datatypes.ImageRef{})
		require.NoError(t, err)

		updated, err := s.Update(ctx, id, func(sess *datatypes.Session) error {
			sess.AppendMessage(fixedNow, "hello")
			return sess.Transition(datatypes.StatusAnalyzing, fixedNow)
		})
		require.NoError(t, err)
		assert.Equal(t, datatypes.StatusAnalyzing, updated.Status)

		boom := errors.New("boom")
		_, err = s.Update(ctx, id, func(sess *datatypes.Session) error {
			sess.AppendMessage(fixedNow, "discarded")
			sess.Status = datatypes.StatusError
			return boom
		})
		assert.ErrorIs(t, err, boom)

		got, err := s.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, datatypes.StatusAnalyzing, got.Status)
		require.Len(t, got.Messages, 1)
		assert.Equal(t, "hello", got.Messages[0].Message)
	})
}

func TestStore_SnapshotsAreIsolated(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		id := NewID()
		_, err := s.Create(ctx, id, datatypes.ImageRef{})
		require.NoError(t, err)

		snap, err := s.Get(ctx, id)
		require.NoError(t, err)
		snap.Status = datatypes.StatusCompleted
		snap.Messages = append(snap.Messages, datatypes.Message{Message: "local"})

		got, err := s.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, datatypes.StatusIdle, got.Status)
		assert.Empty(t, got.Messages)
	})
}

func TestStore_DeleteListCount(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		ids := []string{NewID(), NewID(), NewID()}
		for _, id := range ids {
			_, err := s.Create(ctx, id, datatypes.ImageRef{})
			require.NoError(t, err)
		}

		n, err := s.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, 3, n)

		require.NoError(t, s.Delete(ctx, ids[1]))
		list, err := s.List(ctx)
		require.NoError(t, err)
		var got []string
		for _, sess := range list {
			got = append(got, sess.ID)
		}
		assert.ElementsMatch(t, []string{ids[0], ids[2]}, got)

		_, err = s.Get(ctx, ids[1])
		assert.ErrorIs(t, err, ErrSessionNotFound)
	})
}

func TestStore_ConcurrentUpdates(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		id := NewID()
		_, err := s.Create(ctx, id, datatypes.ImageRef{})
		require.NoError(t, err)

		const writers = 20
		var wg sync.WaitGroup
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := s.Update(ctx, id, func(sess *datatypes.Session) error {
					sess.AppendMessage(fixedNow, "tick")
					return nil
				})
				assert.NoError(t, err)
			}()
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := s.Get(ctx, id)
				assert.NoError(t, err)
			}()
		}
		wg.Wait()

		got, err := s.Get(ctx, id)
		require.NoError(t, err)
		assert.Len(t, got.Messages, writers)
	})
}

func TestStore_Closed(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		require.NoError(t, s.Close())
		_, err := s.Get(context.Background(), NewID())
		assert.ErrorIs(t, err, ErrStoreClosed)
		assert.NoError(t, s.Close())
	})
}

func TestOpenBadger_RequiresPath(t *testing.T) {
	_, err := OpenBadger(BadgerConfig{})
	assert.Error(t, err)
}

func TestOpenBadger_PersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultBadgerConfig()
	cfg.Path = dir
	cfg.SyncWrites = false
	cfg.GCInterval = 0

	s, err := OpenBadger(cfg)
	require.NoError(t, err)
	id := NewID()
	_, err = s.Create(context.Background(), id, datatypes.ImageRef{Filename: "a.png"})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = OpenBadger(cfg)
	require.NoError(t, err)
	defer s.Close()
	got, err := s.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "a.png", got.Image.Filename)
}
