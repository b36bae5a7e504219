// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/AleutianAI/AleutianQuery/services/orchestrator/datasource"
	"github.com/AleutianAI/AleutianQuery/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianQuery/services/orchestrator/handlers"
	"github.com/AleutianAI/AleutianQuery/services/orchestrator/workflow"
)

// =============================================================================
// Errors
// =============================================================================

// APIError is a non-2xx response from the server.
type APIError struct {
	Status  int
	Message string
	Details string
	Partial []datatypes.PathResult
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
	if e.Details != "" {
		msg += " (" + e.Details + ")"
	}
	return msg
}

// =============================================================================
// Client
// =============================================================================

// Client calls the query service HTTP API.
//
// # Description
//
// Client wraps every /v1 endpoint the CLI needs. Every call takes a context
// and attaches the API key as a bearer token when one is set.
//
// # Thread Safety
//
// Safe for concurrent use.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a client for the server at baseURL.
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Health checks GET /health.
func (c *Client) Health(ctx context.Context) error {
	var out map[string]string
	return c.do(ctx, http.MethodGet, "/health", nil, "", &out)
}

// Ask posts a question and waits for the answer.
func (c *Client) Ask(ctx context.Context, req handlers.QueryRequest) (handlers.QueryResponse, error) {
	var out handlers.QueryResponse
	err := c.doJSON(ctx, http.MethodPost, "/v1/query", req, &out)
	return out, err
}

// AskStream sends a question over the query websocket. onEvent is called
// for every progress event before the result arrives.
//
// # Outputs
//
//   - handlers.QueryResponse: The final answer.
//   - error: An *APIError for an error message, or a transport failure.
func (c *Client) AskStream(ctx context.Context, req handlers.QueryRequest, onEvent func(workflow.Event)) (handlers.QueryResponse, error) {
	wsURL, err := c.websocketURL("/v1/ws/query")
	if err != nil {
		return handlers.QueryResponse{}, err
	}
	header := http.Header{}
	if c.apiKey != "" {
		header.Set("Authorization", "Bearer "+c.apiKey)
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL, header)
	if err != nil {
		if resp != nil {
			return handlers.QueryResponse{}, &APIError{Status: resp.StatusCode, Message: "websocket upgrade failed"}
		}
		return handlers.QueryResponse{}, fmt.Errorf("dial %s: %w", wsURL, err)
	}
	defer conn.Close()

	// Unblock ReadJSON when ctx ends.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	if err := conn.WriteJSON(handlers.WSRequest{
		SessionID: req.SessionID, Query: req.Query, DataSourceID: req.DataSourceID,
	}); err != nil {
		return handlers.QueryResponse{}, fmt.Errorf("send question: %w", err)
	}

	for {
		var msg handlers.WSMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil {
				return handlers.QueryResponse{}, ctx.Err()
			}
			return handlers.QueryResponse{}, fmt.Errorf("read stream: %w", err)
		}
		switch msg.Type {
		case "event":
			if msg.Event != nil && onEvent != nil {
				onEvent(*msg.Event)
			}
		case "result":
			if msg.Result == nil {
				return handlers.QueryResponse{}, errors.New("result message without a result")
			}
			return *msg.Result, nil
		case "error":
			apiErr := &APIError{Status: msg.Status}
			if msg.Error != nil {
				apiErr.Message, apiErr.Details, apiErr.Partial = msg.Error.Error, msg.Error.Details, msg.Error.Partial
			}
			return handlers.QueryResponse{}, apiErr
		}
	}
}

// Sources lists the registered data sources.
func (c *Client) Sources(ctx context.Context) ([]datasource.Info, error) {
	var out struct {
		Sources []datasource.Info `json:"sources"`
	}
	err := c.doJSON(ctx, http.MethodGet, "/v1/datasources", nil, &out)
	return out.Sources, err
}

// Describe returns the schema of a data source.
func (c *Client) Describe(ctx context.Context, id string) (datatypes.Schema, error) {
	var out datatypes.Schema
	err := c.doJSON(ctx, http.MethodGet, "/v1/datasources/"+url.PathEscape(id)+"/schema", nil, &out)
	return out, err
}

// Upload sends a CSV or JSON file and registers it as a data source.
func (c *Client) Upload(ctx context.Context, path, name string) (handlers.SourceResponse, error) {
	f, err := os.Open(path)
	if err != nil {
		return handlers.SourceResponse{}, err
	}
	defer f.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return handlers.SourceResponse{}, err
	}
	if _, err := io.Copy(fw, f); err != nil {
		return handlers.SourceResponse{}, fmt.Errorf("read %s: %w", path, err)
	}
	if name != "" {
		if err := mw.WriteField("name", name); err != nil {
			return handlers.SourceResponse{}, err
		}
	}
	if err := mw.Close(); err != nil {
		return handlers.SourceResponse{}, err
	}

	var out handlers.SourceResponse
	err = c.do(ctx, http.MethodPost, "/v1/datasources/upload", &body, mw.FormDataContentType(), &out)
	return out, err
}

// Samples lists the sample datasets the server can generate.
func (c *Client) Samples(ctx context.Context) ([]datasource.SampleDataset, error) {
	var out struct {
		Samples []datasource.SampleDataset `json:"samples"`
	}
	err := c.doJSON(ctx, http.MethodGet, "/v1/datasources/samples", nil, &out)
	return out.Samples, err
}

// LoadSample generates a sample dataset on the server.
func (c *Client) LoadSample(ctx context.Context, req handlers.LoadSampleRequest) (handlers.SampleResponse, error) {
	var out handlers.SampleResponse
	err := c.doJSON(ctx, http.MethodPost, "/v1/datasources/sample", req, &out)
	return out, err
}

// Similar searches earlier answered questions. An empty sourceID searches
// every source.
func (c *Client) Similar(ctx context.Context, req handlers.SimilarQueriesRequest) (handlers.SimilarQueriesResponse, error) {
	var out handlers.SimilarQueriesResponse
	err := c.doJSON(ctx, http.MethodPost, "/v1/queries/similar", req, &out)
	return out, err
}

// Connect registers an external database.
func (c *Client) Connect(ctx context.Context, req handlers.ConnectDatabaseRequest) (handlers.SourceResponse, error) {
	var out handlers.SourceResponse
	err := c.doJSON(ctx, http.MethodPost, "/v1/datasources/database", req, &out)
	return out, err
}

// ValidateSQL checks a statement against a data source without running it.
func (c *Client) ValidateSQL(ctx context.Context, sourceID, sql string) (handlers.ValidateSQLResponse, error) {
	var out handlers.ValidateSQLResponse
	err := c.doJSON(ctx, http.MethodPost, "/v1/sql/validate",
		handlers.ValidateSQLRequest{DataSourceID: sourceID, SQL: sql}, &out)
	return out, err
}

// History returns a session's messages and query records.
func (c *Client) History(ctx context.Context, sessionID string, limit int) (handlers.HistoryResponse, error) {
	path := "/v1/sessions/" + url.PathEscape(sessionID) + "/history"
	if limit > 0 {
		path += fmt.Sprintf("?limit=%d", limit)
	}
	var out handlers.HistoryResponse
	err := c.doJSON(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

// ClearHistory deletes a session's history and returns the entry count.
func (c *Client) ClearHistory(ctx context.Context, sessionID string) (int, error) {
	var out struct {
		Deleted int `json:"deleted"`
	}
	err := c.doJSON(ctx, http.MethodDelete, "/v1/sessions/"+url.PathEscape(sessionID)+"/history", nil, &out)
	return out.Deleted, err
}

// =============================================================================
// Transport
// =============================================================================

func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	contentType := ""
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body, contentType = bytes.NewReader(b), "application/json"
	}
	return c.do(ctx, method, path, body, contentType, out)
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, contentType string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		var e handlers.ErrorResponse
		if json.Unmarshal(raw, &e) != nil || e.Error == "" {
			e.Error = strings.TrimSpace(string(raw))
		}
		return &APIError{Status: resp.StatusCode, Message: e.Error, Details: e.Details, Partial: e.Partial}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) websocketURL(path string) (string, error) {
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	return u.String(), nil
}
