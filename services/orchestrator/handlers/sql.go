// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianQuery/services/orchestrator/datasource"
	"github.com/AleutianAI/AleutianQuery/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianQuery/services/orchestrator/sqlpath"
)

// ValidateSQLRequest is the body of POST /v1/sql/validate.
type ValidateSQLRequest struct {
	DataSourceID string `json:"data_source_id" binding:"required"`
	SQL          string `json:"sql" binding:"required,max=20000"`
}

// ValidateSQLResponse reports the outcome of a static check. Check and
// Message are set when Valid is false.
type ValidateSQLResponse struct {
	Valid   bool   `json:"valid"`
	Check   string `json:"check,omitempty"`
	Message string `json:"message,omitempty"`
}

// HandleValidateSQL checks a SQL string against a source schema without
// running it. An invalid query is still a 200; the verdict is in the body.
func HandleValidateSQL(sources *datasource.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ValidateSQLRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
			return
		}
		ref, ok := lookupSource(c, sources, req.DataSourceID)
		if !ok {
			return
		}
		schema, err := sources.Describe(c.Request.Context(), ref)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not describe data source", "details": err.Error()})
			return
		}

		resp := ValidateSQLResponse{Valid: true}
		if err := sqlpath.Validate(req.SQL, schema); err != nil {
			resp.Valid = false
			resp.Message = err.Error()
			var verr *datatypes.SQLValidationError
			if errors.As(err, &verr) {
				resp.Check = verr.Check
				resp.Message = verr.Message
			}
		}
		c.JSON(http.StatusOK, resp)
	}
}
