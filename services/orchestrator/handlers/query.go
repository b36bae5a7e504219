// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianQuery/pkg/validation"
	"github.com/AleutianAI/AleutianQuery/services/orchestrator/datasource"
	"github.com/AleutianAI/AleutianQuery/services/orchestrator/datatypes"
)

// MaxQueryLength bounds the question text in bytes.
const MaxQueryLength = 4000

// QueryRequest is the body of POST /v1/query.
type QueryRequest struct {
	// SessionID continues a conversation. A new session is started when
	// empty and its id is returned.
	SessionID    string `json:"session_id" binding:"omitempty,max=128"`
	Query        string `json:"query" binding:"required,max=4000"`
	DataSourceID string `json:"data_source_id" binding:"required"`
}

// HandleQuery answers a natural-language question about a data source.
//
// # Description
//
// Resolves the data source, runs the query through the workflow engine and
// returns the synthesized answer. The request context bounds the whole
// workflow, so a client disconnect cancels in-flight paths.
//
// # Outputs
//
//   - 200 QueryResponse
//   - 400 when the body is invalid
//   - 404 when the data source is unknown
//   - 422 ErrorResponse with partial results when every path failed
//   - 500 for any other failure
func HandleQuery(runner QueryRunner, sources *datasource.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req QueryRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
			return
		}
		if req.SessionID != "" {
			if err := validation.ValidateSessionID(req.SessionID); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
				return
			}
		}

		ref, ok := lookupSource(c, sources, req.DataSourceID)
		if !ok {
			return
		}

		q := datatypes.NewQuery(req.SessionID, req.Query, ref)
		if q.Text == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": "query is blank"})
			return
		}

		snap := runner.Run(c.Request.Context(), q)
		if snap.Err != nil {
			writeQueryError(c, q.ID, snap.Err)
			return
		}
		slog.Info("Query answered",
			"query_id", q.ID,
			"session_id", q.SessionID,
			"confidence", snap.Synthesis.Confidence,
		)
		c.JSON(http.StatusOK, newQueryResponse(snap))
	}
}
