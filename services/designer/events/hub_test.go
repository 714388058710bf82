// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package events

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/DesignAgent/services/designer/datatypes"
)

func snap(id string, progress float64) datatypes.Session {
	return datatypes.Session{ID: id, Status: datatypes.StatusAnalyzing, ProgressPercentage: progress}
}

func TestHub_LatestWins(t *testing.T) {
	h := NewHub()
	ch, cancel := h.Subscribe("a")
	defer cancel()

	h.Publish(snap("a", 25))
	h.Publish(snap("a", 50))
	h.Publish(snap("a", 75))

	got := <-ch
	assert.Equal(t, 75.0, got.ProgressPercentage)
	select {
	case extra := <-ch:
		t.Fatalf("unexpected extra snapshot %v", extra.ProgressPercentage)
	default:
	}
}

func TestHub_OnlyMatchingSession(t *testing.T) {
	h := NewHub()
	a, cancelA := h.Subscribe("a")
	defer cancelA()
	b, cancelB := h.Subscribe("b")
	defer cancelB()

	h.Publish(snap("b", 10))

	assert.Len(t, a, 0)
	require.Len(t, b, 1)
	assert.Equal(t, "b", (<-b).ID)
}

func TestHub_CancelAndCloseSession(t *testing.T) {
	h := NewHub()
	ch1, cancel1 := h.Subscribe("a")
	ch2, cancel2 := h.Subscribe("a")
	assert.Equal(t, 2, h.Subscribers("a"))

	cancel1()
	cancel1()
	_, ok := <-ch1
	assert.False(t, ok)
	assert.Equal(t, 1, h.Subscribers("a"))

	h.CloseSession("a")
	_, ok = <-ch2
	assert.False(t, ok)
	assert.Equal(t, 0, h.Subscribers("a"))

	// cancel after CloseSession must not double close.
	cancel2()
	h.Publish(snap("a", 1))
}

func TestHub_Close(t *testing.T) {
	h := NewHub()
	ch, _ := h.Subscribe("a")
	h.Close()
	_, ok := <-ch
	assert.False(t, ok)

	late, cancel := h.Subscribe("a")
	defer cancel()
	_, ok = <-late
	assert.False(t, ok)
}

func TestHub_ConcurrentPublish(t *testing.T) {
	h := NewHub()
	ch, cancel := h.Subscribe("a")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				h.Publish(snap("a", float64(j)))
			}
		}(i)
	}
	wg.Wait()
	cancel()

	n := 0
	for range ch {
		n++
	}
	assert.LessOrEqual(t, n, 1)
}
