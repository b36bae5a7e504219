// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/AleutianAI/AleutianQuery/pkg/validation"
	"github.com/AleutianAI/AleutianQuery/services/orchestrator/datasource"
	"github.com/AleutianAI/AleutianQuery/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianQuery/services/orchestrator/workflow"
)

// WSRequest is one question sent over the query websocket.
type WSRequest struct {
	SessionID    string `json:"session_id,omitempty"`
	Query        string `json:"query"`
	DataSourceID string `json:"data_source_id"`
}

// WSMessage is one server message on the query websocket.
//
// Type is "event" for progress (Event set), "result" for the answer
// (Result set) or "error" (Error set, Partial for 422-class failures).
type WSMessage struct {
	Type   string          `json:"type"`
	Event  *workflow.Event `json:"event,omitempty"`
	Result *QueryResponse  `json:"result,omitempty"`
	Error  *ErrorResponse  `json:"error,omitempty"`
	Status int             `json:"status,omitempty"`
}

const wsWriteTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  64 * 1024,
	WriteBufferSize: 64 * 1024,
}

// wsWriter serializes writes. Events arrive from path goroutines and
// gorilla connections allow one concurrent writer.
type wsWriter struct {
	mu sync.Mutex
	ws *websocket.Conn
}

func (w *wsWriter) send(v WSMessage) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.ws.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	err := w.ws.WriteJSON(v)
	if err != nil {
		slog.Warn("Failed to write WebSocket JSON", "error", err)
	}
	return err
}

func (w *wsWriter) sendError(status int, body ErrorResponse) error {
	return w.send(WSMessage{Type: "error", Status: status, Error: &body})
}

// HandleQueryWebSocket streams workflow progress for each question.
//
// # Description
//
// The client sends WSRequest messages; the server answers each one with a
// stream of "event" messages (stage, path and crew_stage events) followed
// by one "result" or "error" message. Questions on one connection run one
// at a time. The connection closes when the client goes away.
func HandleQueryWebSocket(runner QueryRunner, sources *datasource.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			slog.Error("failed to upgrade the websocket", "error", err)
			return
		}
		defer ws.Close()

		ctx, cancel := context.WithCancel(c.Request.Context())
		defer cancel()
		out := &wsWriter{ws: ws}

		for {
			var req WSRequest
			if err := ws.ReadJSON(&req); err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					slog.Info("WebSocket closed", "error", err)
				}
				return
			}
			if err := serveWSQuery(ctx, out, runner, sources, req); err != nil {
				return
			}
		}
	}
}

// serveWSQuery answers one request. It returns an error only when the
// connection can no longer be written to.
func serveWSQuery(ctx context.Context, out *wsWriter, runner QueryRunner, sources *datasource.Registry, req WSRequest) error {
	text := strings.TrimSpace(req.Query)
	if text == "" || len(text) > MaxQueryLength || req.DataSourceID == "" {
		return out.sendError(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid request",
			Details: "query (at most 4000 bytes) and data_source_id are required",
		})
	}
	if req.SessionID != "" {
		if err := validation.ValidateSessionID(req.SessionID); err != nil {
			return out.sendError(http.StatusBadRequest, ErrorResponse{Error: "invalid request", Details: err.Error()})
		}
	}
	ref, err := sources.Ref(req.DataSourceID)
	if err != nil {
		return out.sendError(http.StatusNotFound, ErrorResponse{Error: "data source not found", Details: req.DataSourceID})
	}

	var writeErr error
	var writeMu sync.Mutex
	sink := func(_ context.Context, ev workflow.Event) {
		if ev.Type == workflow.EventDone {
			return
		}
		e := ev
		if err := out.send(WSMessage{Type: "event", Event: &e}); err != nil {
			writeMu.Lock()
			writeErr = errors.Join(writeErr, err)
			writeMu.Unlock()
		}
	}

	q := datatypes.NewQuery(req.SessionID, text, ref)
	snap := runner.Run(workflow.WithEventSink(ctx, sink), q)

	writeMu.Lock()
	failed := writeErr
	writeMu.Unlock()
	if failed != nil {
		return failed
	}

	if snap.Err != nil {
		status, body := queryErrorStatus(q.ID, snap.Err)
		return out.sendError(status, body)
	}
	resp := newQueryResponse(snap)
	return out.send(WSMessage{Type: "result", Result: &resp})
}
