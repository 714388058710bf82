// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/AleutianAI/DesignAgent/services/designer/agent"
	"github.com/AleutianAI/DesignAgent/services/designer/datatypes"
	"github.com/AleutianAI/DesignAgent/services/designer/events"
)

const (
	eventsWriteWait  = 10 * time.Second
	eventsPongWait   = 60 * time.Second
	eventsPingPeriod = (eventsPongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 16 * 1024,
}

// StreamEvents handles GET /api/agent/events/:session_id.
//
// # Description
//
// Upgrades to a websocket and writes one StatusResponse frame per status
// change, starting with the current one. Intermediate snapshots may be
// skipped when the client is slow; the latest always arrives. The server
// closes the connection after a terminal status or when the session is
// deleted.
//
// # Limitations
//
//   - Messages sent by the client are read and discarded.
func StreamEvents(orch *agent.Orchestrator, hub *events.Hub, messageLimit int) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := sessionIDParam(c)
		if !ok {
			return
		}

		// Subscribe before the first read so no change slips in between.
		updates, cancel := hub.Subscribe(id)
		defer cancel()

		current, err := orch.Snapshot(c.Request.Context(), id)
		if err != nil {
			respondError(c, id, err)
			return
		}

		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			slog.Error("failed to upgrade the websocket", "session_id", id, "error", err)
			return
		}
		defer ws.Close()
		slog.Info("Event stream connected", "session_id", id)

		clientGone := make(chan struct{})
		go readPump(ws, clientGone)

		send := func(s datatypes.Session) bool {
			_ = ws.SetWriteDeadline(time.Now().Add(eventsWriteWait))
			if err := ws.WriteJSON(datatypes.NewStatusResponse(s, messageLimit)); err != nil {
				slog.Warn("Failed to write event frame", "session_id", id, "error", err)
				return false
			}
			return true
		}
		closeWith := func(reason string) {
			_ = ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason),
				time.Now().Add(eventsWriteWait))
		}

		if !send(current) {
			return
		}
		last := current.UpdatedAt
		if current.Status.IsTerminal() {
			closeWith(string(current.Status))
			return
		}

		ticker := time.NewTicker(eventsPingPeriod)
		defer ticker.Stop()
		for {
			select {
			case s, open := <-updates:
				if !open {
					closeWith("session deleted")
					return
				}
				if s.UpdatedAt.Before(last) {
					continue
				}
				last = s.UpdatedAt
				if !send(s) {
					return
				}
				if s.Status.IsTerminal() {
					closeWith(string(s.Status))
					return
				}
			case <-ticker.C:
				if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(eventsWriteWait)); err != nil {
					return
				}
			case <-clientGone:
				slog.Info("Event stream client disconnected", "session_id", id)
				return
			case <-c.Request.Context().Done():
				return
			}
		}
	}
}

// readPump drains client frames so control frames are processed, and
// closes done when the connection ends.
func readPump(ws *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	_ = ws.SetReadDeadline(time.Now().Add(eventsPongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(eventsPongWait))
	})
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			return
		}
	}
}
