// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package extensions

import (
	"context"
	"time"
)

// Audit event types emitted by the query service.
const (
	EventQueryFinal      = "query.final"
	EventQueryError      = "query.error"
	EventSourceConnected = "datasource.connected"
	EventSourceUploaded  = "datasource.uploaded"
	EventHistoryCleared  = "history.cleared"
)

// AuditEvent is one entry of the audit trail.
//
// Example:
//
//	event := AuditEvent{
//	    EventType:    EventQueryFinal,
//	    UserID:       UserIDFromContext(ctx),
//	    Action:       "submit",
//	    ResourceType: "query",
//	    ResourceID:   queryID,
//	    Outcome:      "success",
//	    Metadata: map[string]any{
//	        "session_id": sessionID,
//	        "approach":   "both",
//	    },
//	}
type AuditEvent struct {
	// EventType categorizes the event, "category.action".
	EventType string `json:"event_type"`

	// Timestamp is when the event occurred (UTC). Implementations set it
	// when zero.
	Timestamp time.Time `json:"timestamp"`

	// UserID identifies the caller. "anonymous" if unknown.
	UserID string `json:"user_id"`

	Action       string `json:"action"`
	ResourceType string `json:"resource_type"`
	ResourceID   string `json:"resource_id,omitempty"`

	// Outcome is "success", "failure" or "error".
	Outcome string `json:"outcome"`

	// Metadata holds event-specific details such as "session_id",
	// "approach", "confidence" or "error".
	Metadata map[string]any `json:"metadata,omitempty"`
}

// AuditFilter selects audit events. Zero fields do not filter; set fields
// are combined with AND.
type AuditFilter struct {
	EventTypes []string
	UserID     string
	ResourceID string
	Outcome    string

	// StartTime is inclusive, EndTime exclusive.
	StartTime time.Time
	EndTime   time.Time

	// Limit caps the result. Zero means the implementation default.
	Limit int
}

// Matches reports whether e passes the filter.
func (f AuditFilter) Matches(e AuditEvent) bool {
	if len(f.EventTypes) > 0 {
		found := false
		for _, t := range f.EventTypes {
			if t == e.EventType {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.UserID != "" && f.UserID != e.UserID {
		return false
	}
	if f.ResourceID != "" && f.ResourceID != e.ResourceID {
		return false
	}
	if f.Outcome != "" && f.Outcome != e.Outcome {
		return false
	}
	if !f.StartTime.IsZero() && e.Timestamp.Before(f.StartTime) {
		return false
	}
	if !f.EndTime.IsZero() && !e.Timestamp.Before(f.EndTime) {
		return false
	}
	return true
}

// AuditLogger records audit events.
//
// Log should return quickly; the query service calls it after the answer
// is ready and never lets its error change the answer.
type AuditLogger interface {
	// Log records an event. Implementations set Timestamp if zero.
	Log(ctx context.Context, event AuditEvent) error

	// Query returns matching events, newest first.
	Query(ctx context.Context, filter AuditFilter) ([]AuditEvent, error)

	// Flush persists buffered events. Call before shutdown.
	Flush(ctx context.Context) error
}

// NopAuditLogger discards all events.
type NopAuditLogger struct{}

// Log discards the event.
func (l *NopAuditLogger) Log(context.Context, AuditEvent) error { return nil }

// Query returns an empty slice.
func (l *NopAuditLogger) Query(context.Context, AuditFilter) ([]AuditEvent, error) {
	return []AuditEvent{}, nil
}

// Flush is a no-op.
func (l *NopAuditLogger) Flush(context.Context) error { return nil }

var _ AuditLogger = (*NopAuditLogger)(nil)
