// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package events fans session snapshots out to push subscribers.
package events

import (
	"sync"

	"github.com/AleutianAI/DesignAgent/services/designer/datatypes"
)

// Hub delivers session snapshots to subscribers of that session.
//
// # Description
//
// Each subscriber gets a channel with room for one snapshot. Publish never
// blocks: when a subscriber has not read the previous snapshot it is
// replaced by the new one, so a slow reader always sees the latest state
// and may skip intermediate ones.
//
// # Thread Safety
//
// All methods are safe for concurrent use.
type Hub struct {
	mu     sync.Mutex
	subs   map[string]map[*subscriber]struct{}
	closed bool
}

type subscriber struct {
	ch chan datatypes.Session
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[*subscriber]struct{})}
}

// Subscribe registers for snapshots of sessionID. The channel is closed by
// cancel, CloseSession or Close. cancel is idempotent.
func (h *Hub) Subscribe(sessionID string) (<-chan datatypes.Session, func()) {
	sub := &subscriber{ch: make(chan datatypes.Session, 1)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(sub.ch)
		return sub.ch, func() {}
	}
	set, ok := h.subs[sessionID]
	if !ok {
		set = make(map[*subscriber]struct{})
		h.subs[sessionID] = set
	}
	set[sub] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if set, ok := h.subs[sessionID]; ok {
				if _, ok := set[sub]; ok {
					delete(set, sub)
					close(sub.ch)
					if len(set) == 0 {
						delete(h.subs, sessionID)
					}
				}
			}
		})
	}
	return sub.ch, cancel
}

// Publish hands snap to every subscriber of snap.ID.
func (h *Hub) Publish(snap datatypes.Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs[snap.ID] {
		select {
		case sub.ch <- snap:
		default:
			select {
			case <-sub.ch:
			default:
			}
			sub.ch <- snap
		}
	}
}

// CloseSession closes every subscription for sessionID.
func (h *Hub) CloseSession(sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs[sessionID] {
		close(sub.ch)
	}
	delete(h.subs, sessionID)
}

// Subscribers returns the number of open subscriptions for sessionID.
func (h *Hub) Subscribers(sessionID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[sessionID])
}

// Close closes every subscription and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, set := range h.subs {
		for sub := range set {
			close(sub.ch)
		}
		delete(h.subs, id)
	}
	h.closed = true
}
