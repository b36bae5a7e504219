// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers implements the HTTP and websocket endpoints of the query
// service.
//
// Every handler is built by a constructor that takes its collaborators and
// returns a gin.HandlerFunc. Errors are answered as
//
//	{"error": "<short message>", "details": "<cause>"}
//
// with the status chosen by writeQueryError for workflow failures.
package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianQuery/services/orchestrator/datasource"
	"github.com/AleutianAI/AleutianQuery/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianQuery/services/orchestrator/history"
	"github.com/AleutianAI/AleutianQuery/services/orchestrator/workflow"
)

// QueryRunner drives one query to a terminal stage.
//
// *workflow.Engine implements it.
type QueryRunner interface {
	Run(ctx context.Context, q datatypes.Query) workflow.Snapshot
}

// SessionHistory is the read and clear side of the history store.
//
// *history.Store implements it.
type SessionHistory interface {
	Messages(ctx context.Context, sessionID string) ([]datatypes.Message, error)
	Queries(ctx context.Context, sessionID string, limit int) ([]history.QueryRecord, error)
	Clear(ctx context.Context, sessionID string) (int, error)
}

var (
	_ QueryRunner    = (*workflow.Engine)(nil)
	_ SessionHistory = (*history.Store)(nil)
)

// QueryResponse is the body of a successful query.
type QueryResponse struct {
	QueryID    string                     `json:"query_id"`
	SessionID  string                     `json:"session_id"`
	Stage      workflow.Stage             `json:"stage"`
	Approach   datatypes.Approach         `json:"approach,omitempty"`
	Intent     *datatypes.IntentRecord    `json:"intent,omitempty"`
	Result     *datatypes.SynthesisResult `json:"result"`
	DurationMS int64                      `json:"duration_ms"`
}

// ErrorResponse is the body of a failed query. Partial is set for 422.
type ErrorResponse struct {
	Error   string                 `json:"error"`
	Details string                 `json:"details,omitempty"`
	QueryID string                 `json:"query_id,omitempty"`
	Partial []datatypes.PathResult `json:"partial,omitempty"`
}

// newQueryResponse builds the success body from a final snapshot.
func newQueryResponse(snap workflow.Snapshot) QueryResponse {
	resp := QueryResponse{
		QueryID:    snap.Query.ID,
		SessionID:  snap.Query.SessionID,
		Stage:      snap.Stage,
		Intent:     snap.Intent,
		Result:     snap.Synthesis,
		DurationMS: snap.Duration.Milliseconds(),
	}
	if snap.Plan != nil {
		resp.Approach = snap.Plan.Approach
	}
	return resp
}

// queryErrorStatus maps a workflow error to its HTTP status and body.
//
//   - *SynthesisError: 422 with the partial results.
//   - datasource.ErrUnknownSource: 404.
//   - anything else: 500.
func queryErrorStatus(queryID string, err error) (int, ErrorResponse) {
	var synthErr *datatypes.SynthesisError
	switch {
	case errors.As(err, &synthErr):
		return http.StatusUnprocessableEntity, ErrorResponse{
			Error:   synthErr.Message,
			QueryID: queryID,
			Partial: synthErr.Partial,
		}
	case errors.Is(err, datasource.ErrUnknownSource):
		return http.StatusNotFound, ErrorResponse{
			Error:   "data source not found",
			Details: err.Error(),
			QueryID: queryID,
		}
	default:
		return http.StatusInternalServerError, ErrorResponse{
			Error:   "query failed",
			Details: err.Error(),
			QueryID: queryID,
		}
	}
}

func writeQueryError(c *gin.Context, queryID string, err error) {
	status, body := queryErrorStatus(queryID, err)
	c.JSON(status, body)
}

// lookupSource resolves a data source id, answering 404 when it is unknown.
func lookupSource(c *gin.Context, sources *datasource.Registry, id string) (datatypes.DataSourceRef, bool) {
	ref, err := sources.Ref(id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "data source not found", "details": id})
		return datatypes.DataSourceRef{}, false
	}
	return ref, true
}
