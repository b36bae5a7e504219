// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes provides the data model shared by the query
// orchestration engine and its collaborators.
//
// Values in this package are treated as immutable once produced: the
// workflow engine owns the only mutable aggregate (workflow.State) and
// every other component receives copies.
package datatypes

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Data Sources
// =============================================================================

// DataSourceKind distinguishes uploaded files from connected databases.
type DataSourceKind string

const (
	// SourceFile is an uploaded dataset (CSV imported into a local table).
	SourceFile DataSourceKind = "file"

	// SourceDatabase is an externally connected relational database.
	SourceDatabase DataSourceKind = "database"
)

// Valid reports whether k is a known data source kind.
func (k DataSourceKind) Valid() bool {
	return k == SourceFile || k == SourceDatabase
}

// DataSourceRef identifies the dataset a query runs against.
type DataSourceRef struct {
	ID   string         `json:"id"`
	Kind DataSourceKind `json:"kind"`
}

// =============================================================================
// Query
// =============================================================================

// Query is the immutable input of one orchestration request.
//
// A Query is created once per request by NewQuery and passed by value.
type Query struct {
	ID          string        `json:"id"`
	SessionID   string        `json:"session_id"`
	Text        string        `json:"text"`
	Source      DataSourceRef `json:"source"`
	SubmittedAt time.Time     `json:"submitted_at"`
}

// NewQuery builds a Query with a fresh identifier.
//
// # Inputs
//
//   - sessionID: Conversation identifier. A new one is generated when empty.
//   - text: Natural-language question. Surrounding whitespace is trimmed.
//   - source: Data source the question is about.
//
// # Outputs
//
//   - Query: Ready-to-run query stamped with the current UTC time.
func NewQuery(sessionID, text string, source DataSourceRef) Query {
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	return Query{
		ID:          uuid.NewString(),
		SessionID:   sessionID,
		Text:        strings.TrimSpace(text),
		Source:      source,
		SubmittedAt: time.Now().UTC(),
	}
}

// =============================================================================
// Conversation History
// =============================================================================

// Role is the author of a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is one persisted conversation turn.
type Message struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	RequestID string    `json:"request_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// HistoryWindow is how many recent messages are given to the classifier
// and the SQL generator, and HistoryMessageChars bounds each one.
const (
	HistoryWindow       = 5
	HistoryMessageChars = 100
)

// FormatHistory renders the most recent messages as prompt context.
//
// Only the last HistoryWindow messages are used and each one is truncated
// to HistoryMessageChars characters. Returns "" for an empty history.
func FormatHistory(history []Message) string {
	if len(history) == 0 {
		return ""
	}
	if len(history) > HistoryWindow {
		history = history[len(history)-HistoryWindow:]
	}
	var sb strings.Builder
	for _, m := range history {
		content := m.Content
		if r := []rune(content); len(r) > HistoryMessageChars {
			content = string(r[:HistoryMessageChars])
		}
		sb.WriteString(string(m.Role))
		sb.WriteString(": ")
		sb.WriteString(content)
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

// =============================================================================
// Query Memory
// =============================================================================

// SimilarQuery is an earlier answered question recalled from query memory.
type SimilarQuery struct {
	Question  string  `json:"question"`
	Summary   string  `json:"summary"`
	SQL       string  `json:"sql,omitempty"`
	Approach  string  `json:"approach,omitempty"`
	SessionID string  `json:"session_id,omitempty"`
	Certainty float64 `json:"certainty"`
}

// SimilarSummaryChars bounds each recalled summary in prompt context.
const SimilarSummaryChars = 200

// FormatSimilar renders recalled questions as prompt context, one block
// per question. Returns "" for an empty slice.
func FormatSimilar(similar []SimilarQuery) string {
	if len(similar) == 0 {
		return ""
	}
	var sb strings.Builder
	for i, s := range similar {
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString("Q: ")
		sb.WriteString(s.Question)
		if s.SQL != "" {
			sb.WriteString("\nSQL: ")
			sb.WriteString(s.SQL)
		}
		if s.Summary != "" {
			summary := s.Summary
			if r := []rune(summary); len(r) > SimilarSummaryChars {
				summary = string(r[:SimilarSummaryChars])
			}
			sb.WriteString("\nA: ")
			sb.WriteString(summary)
		}
	}
	return sb.String()
}

// =============================================================================
// Path Input
// =============================================================================

// PathInput is the read-only input given to each analysis path. Paths must
// not modify it; slices are shared between concurrently running paths.
type PathInput struct {
	Query   Query
	Intent  IntentRecord
	Schema  Schema
	Profile *Profile
	History []Message

	// Similar holds earlier answered questions about the same source, most
	// similar first. Empty when query memory is disabled.
	Similar []SimilarQuery
}
