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

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianQuery/services/orchestrator/datasource"
	"github.com/AleutianAI/AleutianQuery/services/orchestrator/datatypes"
)

// SimilarSearcher searches answered questions. memory.Store implements it.
type SimilarSearcher interface {
	Search(ctx context.Context, text, sourceID string, limit int) ([]datatypes.SimilarQuery, error)
}

// SimilarQueriesRequest is the body of POST /v1/queries/similar. An empty
// DataSourceID searches every source.
type SimilarQueriesRequest struct {
	Query        string `json:"query" binding:"required,max=4000"`
	DataSourceID string `json:"data_source_id"`
	Limit        int    `json:"limit" binding:"omitempty,gte=1,lte=20"`
}

// SimilarQueriesResponse lists matches, most similar first.
type SimilarQueriesResponse struct {
	Similar []datatypes.SimilarQuery `json:"similar"`
}

// HandleSimilarQueries runs a semantic search over earlier answered
// questions.
func HandleSimilarQueries(searcher SimilarSearcher, sources *datasource.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req SimilarQueriesRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
			return
		}
		if req.DataSourceID != "" {
			if _, ok := lookupSource(c, sources, req.DataSourceID); !ok {
				return
			}
		}

		similar, err := searcher.Search(c.Request.Context(), req.Query, req.DataSourceID, req.Limit)
		if err != nil {
			slog.Warn("Similar question search failed", "data_source_id", req.DataSourceID, "error", err)
			c.JSON(http.StatusBadGateway, gin.H{"error": "query memory unavailable", "details": err.Error()})
			return
		}
		if similar == nil {
			similar = []datatypes.SimilarQuery{}
		}
		c.JSON(http.StatusOK, SimilarQueriesResponse{Similar: similar})
	}
}
