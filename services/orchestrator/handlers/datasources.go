// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianQuery/pkg/extensions"
	"github.com/AleutianAI/AleutianQuery/pkg/validation"
	"github.com/AleutianAI/AleutianQuery/services/orchestrator/datasource"
	"github.com/AleutianAI/AleutianQuery/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianQuery/services/policy_engine"
)

// DatabaseConnector opens a database source for a DSN and schema.
type DatabaseConnector func(ctx context.Context, dsn, schema string) (datasource.Source, error)

// PostgresConnector connects with datasource.ConnectPostgres.
func PostgresConnector(ctx context.Context, dsn, schema string) (datasource.Source, error) {
	return datasource.ConnectPostgres(ctx, dsn, schema)
}

// SourceResponse is the body returned after registering a source.
type SourceResponse struct {
	Source datasource.Info `json:"source"`
	Tables []string        `json:"tables,omitempty"`
}

// UploadPolicy classifies upload content before it is imported.
//
// *policy_engine.Guard implements it.
type UploadPolicy interface {
	Inspect(content []byte) (policy_engine.Verdict, error)
}

var _ UploadPolicy = (*policy_engine.Guard)(nil)

// HandleUpload imports a multipart CSV or JSON upload as a file data source.
//
// # Description
//
// The form field "file" carries the data; its extension picks the format
// (see datasource.FormatOf). The optional field "name" labels the source
// (default: the file name). When policy is set the content is classified
// first and the label is stored on the source. The upload is imported into
// the shared SQLite store under a new source id and registered.
//
// # Outputs
//
//   - 201 SourceResponse
//   - 400 when the file is missing, empty, or not parseable
//   - 413 when the file exceeds maxBytes
//   - 415 when the extension is not a supported format
//   - 422 when the data policy rejects the content
func HandleUpload(sources *datasource.Registry, store *datasource.SQLiteStore, policy UploadPolicy, audit extensions.AuditLogger, maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		header, err := c.FormFile("file")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "file is required", "details": err.Error()})
			return
		}
		if maxBytes > 0 && header.Size > maxBytes {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large"})
			return
		}
		if datasource.FormatOf(header.Filename) == "" {
			c.JSON(http.StatusUnsupportedMediaType, gin.H{
				"error":   "unsupported file format",
				"details": "accepted extensions: .csv, .txt, .json, .jsonl, .ndjson",
			})
			return
		}

		f, err := header.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "could not read upload", "details": err.Error()})
			return
		}
		defer f.Close()
		content, err := io.ReadAll(f)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "could not read upload", "details": err.Error()})
			return
		}

		ctx := c.Request.Context()
		classification := ""
		if policy != nil {
			verdict, err := policy.Inspect(content)
			var blocked *policy_engine.BlockedError
			if errors.As(err, &blocked) {
				logPolicyRejection(ctx, audit, header.Filename, verdict)
				c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "upload rejected by data policy", "details": err.Error()})
				return
			}
			if err != nil {
				slog.Error("Data policy check failed", "file", header.Filename, "error", err)
				c.JSON(http.StatusInternalServerError, gin.H{"error": "data policy check failed", "details": err.Error()})
				return
			}
			classification = verdict.Classification
		}

		id := uuid.NewString()
		table, err := store.Import(ctx, id, header.Filename, bytes.NewReader(content))
		if err != nil {
			if isInvalidUpload(err) {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + string(datasource.FormatOf(header.Filename)), "details": err.Error()})
				return
			}
			slog.Error("Upload import failed", "file", header.Filename, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "import failed", "details": err.Error()})
			return
		}

		name := strings.TrimSpace(c.PostForm("name"))
		if name == "" {
			name = header.Filename
		}
		sources.Register(datasource.Info{ID: id, Kind: datatypes.SourceFile, Name: name, Classification: classification}, store)
		info, _ := sources.Lookup(id)

		logSourceEvent(ctx, audit, extensions.EventSourceUploaded, info)
		slog.Info("Data source uploaded", "source_id", id, "table", table, "bytes", header.Size, "classification", classification)
		c.JSON(http.StatusCreated, SourceResponse{Source: info, Tables: []string{table}})
	}
}

func isInvalidUpload(err error) bool {
	var parseErr *csv.ParseError
	switch {
	case errors.As(err, &parseErr),
		errors.Is(err, datasource.ErrEmptyCSV),
		errors.Is(err, datasource.ErrEmptyJSON),
		errors.Is(err, datasource.ErrInvalidJSON),
		errors.Is(err, datasource.ErrTooManyRows):
		return true
	}
	return false
}

// LoadSampleRequest is the body of POST /v1/datasources/sample.
type LoadSampleRequest struct {
	Dataset string `json:"dataset" binding:"required,max=100"`
	Name    string `json:"name" binding:"omitempty,max=200"`
}

// SampleResponse is the body returned after loading a sample dataset.
type SampleResponse struct {
	SourceResponse
	Dataset datasource.SampleDataset `json:"dataset"`
}

// HandleListSamples returns the sample datasets that can be loaded.
func HandleListSamples() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"samples": datasource.Samples()})
	}
}

// HandleLoadSample generates a sample dataset and registers it as a file
// data source, so the query surface can be tried without an upload.
// Dataset is a sample name or title; an unknown one is 400.
func HandleLoadSample(sources *datasource.Registry, store *datasource.SQLiteStore, audit extensions.AuditLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req LoadSampleRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
			return
		}

		ctx := c.Request.Context()
		id := uuid.NewString()
		table, ds, err := store.LoadSample(ctx, id, req.Dataset)
		if errors.Is(err, datasource.ErrUnknownSample) {
			names := make([]string, 0, 4)
			for _, s := range datasource.Samples() {
				names = append(names, s.Name)
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown sample dataset", "details": "available: " + strings.Join(names, ", ")})
			return
		}
		if err != nil {
			slog.Error("Sample load failed", "dataset", req.Dataset, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not load sample dataset", "details": err.Error()})
			return
		}

		name := strings.TrimSpace(req.Name)
		if name == "" {
			name = ds.Title
		}
		sources.Register(datasource.Info{ID: id, Kind: datatypes.SourceFile, Name: name}, store)
		info, _ := sources.Lookup(id)

		logSourceEvent(ctx, audit, extensions.EventSourceUploaded, info)
		slog.Info("Sample dataset loaded", "source_id", id, "dataset", ds.Name, "table", table, "rows", ds.Rows)
		c.JSON(http.StatusCreated, SampleResponse{
			SourceResponse: SourceResponse{Source: info, Tables: []string{table}},
			Dataset:        ds,
		})
	}
}

// ConnectDatabaseRequest is the body of POST /v1/datasources/database.
type ConnectDatabaseRequest struct {
	Name   string `json:"name" binding:"omitempty,max=200"`
	DSN    string `json:"dsn" binding:"required"`
	Schema string `json:"schema" binding:"omitempty,max=63"`
}

// HandleConnectDatabase registers an external database as a data source.
//
// The connection is verified before registration; a failure is 400 with
// the driver's message. The DSN is never echoed back or logged.
func HandleConnectDatabase(sources *datasource.Registry, connect DatabaseConnector, audit extensions.AuditLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ConnectDatabaseRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
			return
		}
		if req.Schema != "" {
			if err := validation.ValidateSchemaName(req.Schema); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
				return
			}
		}

		ctx := c.Request.Context()
		src, err := connect(ctx, req.DSN, req.Schema)
		if err != nil {
			slog.Warn("Database connection failed", "error", err)
			c.JSON(http.StatusBadRequest, gin.H{"error": "could not connect to database", "details": err.Error()})
			return
		}

		id := uuid.NewString()
		name := req.Name
		if name == "" {
			name = "database-" + id[:8]
		}
		sources.Register(datasource.Info{ID: id, Kind: datatypes.SourceDatabase, Name: name}, src)
		info, _ := sources.Lookup(id)

		logSourceEvent(ctx, audit, extensions.EventSourceConnected, info)
		slog.Info("Database connected", "source_id", id, "dialect", info.Dialect)
		c.JSON(http.StatusCreated, SourceResponse{Source: info})
	}
}

// HandleListSources returns every registered data source, oldest first.
func HandleListSources(sources *datasource.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"sources": sources.List()})
	}
}

// HandleDescribeSource returns the schema of one data source.
func HandleDescribeSource(sources *datasource.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		ref, ok := lookupSource(c, sources, c.Param("id"))
		if !ok {
			return
		}
		schema, err := sources.Describe(c.Request.Context(), ref)
		if err != nil {
			slog.Error("Describe failed", "source_id", ref.ID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not describe data source", "details": err.Error()})
			return
		}
		c.JSON(http.StatusOK, schema)
	}
}

func logSourceEvent(ctx context.Context, audit extensions.AuditLogger, eventType string, info datasource.Info) {
	if audit == nil {
		return
	}
	ev := extensions.AuditEvent{
		EventType:    eventType,
		UserID:       extensions.UserIDFromContext(ctx),
		Action:       "register",
		ResourceType: "data_source",
		ResourceID:   info.ID,
		Outcome:      "success",
		Metadata:     map[string]any{"kind": string(info.Kind), "name": info.Name},
	}
	if info.Classification != "" {
		ev.Metadata["classification"] = info.Classification
	}
	if err := audit.Log(context.WithoutCancel(ctx), ev); err != nil {
		slog.Warn("Audit log failed", "event_type", eventType, "error", err)
	}
}

func logPolicyRejection(ctx context.Context, audit extensions.AuditLogger, fileName string, verdict policy_engine.Verdict) {
	slog.Warn("Upload rejected by data policy", "file", fileName, "classification", verdict.Classification, "findings", len(verdict.Findings))
	if audit == nil {
		return
	}
	patterns := make([]string, 0, len(verdict.Findings))
	for _, f := range verdict.Findings {
		patterns = append(patterns, f.PatternId)
	}
	ev := extensions.AuditEvent{
		EventType:    extensions.EventSourceUploaded,
		UserID:       extensions.UserIDFromContext(ctx),
		Action:       "register",
		ResourceType: "data_source",
		ResourceID:   fileName,
		Outcome:      "failure",
		Metadata:     map[string]any{"classification": verdict.Classification, "patterns": patterns},
	}
	if err := audit.Log(context.WithoutCancel(ctx), ev); err != nil {
		slog.Warn("Audit log failed", "event_type", ev.EventType, "error", err)
	}
}
