// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianQuery/pkg/extensions"
	"github.com/AleutianAI/AleutianQuery/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianQuery/services/orchestrator/history"
)

// HistoryResponse is the body of GET /v1/sessions/:id/history.
type HistoryResponse struct {
	SessionID string                `json:"session_id"`
	Messages  []datatypes.Message   `json:"messages"`
	Queries   []history.QueryRecord `json:"queries"`
}

// HandleGetHistory returns the messages (oldest first) and query records
// (newest first) of a session. The "limit" query parameter caps the
// records; messages are returned in full.
func HandleGetHistory(store SessionHistory) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID := c.Param("id")
		limit := 0
		if raw := c.Query("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit", "details": raw})
				return
			}
			limit = n
		}

		ctx := c.Request.Context()
		msgs, err := store.Messages(ctx, sessionID)
		if err != nil {
			slog.Error("Failed to read messages", "session_id", sessionID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not read history", "details": err.Error()})
			return
		}
		records, err := store.Queries(ctx, sessionID, limit)
		if err != nil {
			slog.Error("Failed to read query records", "session_id", sessionID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not read history", "details": err.Error()})
			return
		}
		if msgs == nil {
			msgs = []datatypes.Message{}
		}
		if records == nil {
			records = []history.QueryRecord{}
		}
		c.JSON(http.StatusOK, HistoryResponse{SessionID: sessionID, Messages: msgs, Queries: records})
	}
}

// HandleDeleteHistory removes every message and query record of a session.
// Deleting an unknown session succeeds with deleted = 0.
func HandleDeleteHistory(store SessionHistory, audit extensions.AuditLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID := c.Param("id")
		ctx := c.Request.Context()
		n, err := store.Clear(ctx, sessionID)
		if err != nil {
			slog.Error("Failed to clear history", "session_id", sessionID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not clear history", "details": err.Error()})
			return
		}

		if audit != nil {
			ev := extensions.AuditEvent{
				EventType:    extensions.EventHistoryCleared,
				UserID:       extensions.UserIDFromContext(ctx),
				Action:       "delete",
				ResourceType: "session",
				ResourceID:   sessionID,
				Outcome:      "success",
				Metadata:     map[string]any{"deleted": n},
			}
			if err := audit.Log(context.WithoutCancel(ctx), ev); err != nil {
				slog.Warn("Audit log failed", "event_type", ev.EventType, "error", err)
			}
		}
		slog.Info("Session history cleared", "session_id", sessionID, "deleted", n)
		c.JSON(http.StatusOK, gin.H{"session_id": sessionID, "deleted": n})
	}
}
