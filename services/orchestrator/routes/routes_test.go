// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routes

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianQuery/pkg/extensions"
	"github.com/AleutianAI/AleutianQuery/services/orchestrator/datasource"
	"github.com/AleutianAI/AleutianQuery/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianQuery/services/orchestrator/handlers"
	"github.com/AleutianAI/AleutianQuery/services/orchestrator/history"
	"github.com/AleutianAI/AleutianQuery/services/orchestrator/mcptools"
	"github.com/AleutianAI/AleutianQuery/services/orchestrator/workflow"
)

// ============================================================================
// Test Setup
// ============================================================================

func init() {
	// Set Gin to test mode to reduce noise in test output
	gin.SetMode(gin.TestMode)
}

// mockRunner answers every query with a fixed synthesis.
type mockRunner struct{}

func (mockRunner) Run(_ context.Context, q datatypes.Query) workflow.Snapshot {
	return workflow.Snapshot{
		Query:     q,
		Stage:     workflow.StageFinal,
		Synthesis: &datatypes.SynthesisResult{AnswerText: "mock answer"},
	}
}

var _ handlers.QueryRunner = mockRunner{}

type route struct {
	method string
	path   string
}

func newDeps(t *testing.T) Deps {
	t.Helper()
	store, err := datasource.OpenSQLite("")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return Deps{Runner: mockRunner{}, Sources: datasource.NewRegistry(), Uploads: store}
}

func registered(router *gin.Engine) map[route]bool {
	out := make(map[route]bool)
	for _, r := range router.Routes() {
		out[route{r.Method, r.Path}] = true
	}
	return out
}

// ============================================================================
// SetupRoutes Tests
// ============================================================================

func TestSetupRoutes_CoreRoutes(t *testing.T) {
	router := gin.New()
	SetupRoutes(router, newDeps(t), extensions.DefaultOptions())

	got := registered(router)
	for _, expected := range []route{
		{"GET", "/health"},
		{"GET", "/metrics"},
		{"POST", "/v1/query"},
		{"GET", "/v1/ws/query"},
		{"POST", "/v1/sql/validate"},
		{"GET", "/v1/datasources"},
		{"GET", "/v1/datasources/:id/schema"},
		{"POST", "/v1/datasources/upload"},
		{"GET", "/v1/datasources/samples"},
		{"POST", "/v1/datasources/sample"},
	} {
		if !got[expected] {
			t.Errorf("Expected route %s %s not found", expected.method, expected.path)
		}
	}
}

func TestSetupRoutes_OptionalRoutesNeedTheirDeps(t *testing.T) {
	router := gin.New()
	SetupRoutes(router, newDeps(t), extensions.DefaultOptions())

	got := registered(router)
	for _, notExpected := range []route{
		{"POST", "/v1/datasources/database"},
		{"GET", "/v1/sessions/:id/history"},
		{"DELETE", "/v1/sessions/:id/history"},
		{"POST", "/v1/queries/similar"},
		{"GET", "/mcp/sse"},
		{"POST", "/mcp/message"},
	} {
		if got[notExpected] {
			t.Errorf("Route %s %s should not be registered", notExpected.method, notExpected.path)
		}
	}
}

func TestSetupRoutes_AllDeps(t *testing.T) {
	deps := newDeps(t)
	hist, err := history.Open(history.InMemoryConfig())
	if err != nil {
		t.Fatalf("open history: %v", err)
	}
	defer hist.Close()
	deps.History = hist
	deps.Connector = handlers.PostgresConnector
	deps.MCP = mcptools.NewServer(deps.Runner, deps.Sources, "test")
	deps.Recall = noRecall{}

	router := gin.New()
	SetupRoutes(router, deps, extensions.DefaultOptions())

	got := registered(router)
	for _, expected := range []route{
		{"POST", "/v1/datasources/database"},
		{"GET", "/v1/sessions/:id/history"},
		{"DELETE", "/v1/sessions/:id/history"},
		{"POST", "/v1/queries/similar"},
		{"GET", "/mcp/sse"},
		{"POST", "/mcp/message"},
	} {
		if !got[expected] {
			t.Errorf("Expected route %s %s not found", expected.method, expected.path)
		}
	}
}

// ============================================================================
// Route Handler Tests
// ============================================================================

func TestSetupRoutes_HealthAndMetricsSkipAuth(t *testing.T) {
	router := gin.New()
	SetupRoutes(router, newDeps(t), extensions.DefaultOptions().WithAuth(rejectAll{}))

	for _, path := range []string{"/health", "/metrics"} {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", path, nil)
		router.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Errorf("%s returned %d, want %d", path, w.Code, http.StatusOK)
		}
	}
}

func TestSetupRoutes_V1RequiresAuth(t *testing.T) {
	router := gin.New()
	SetupRoutes(router, newDeps(t), extensions.DefaultOptions().WithAuth(rejectAll{}))

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/v1/datasources", nil)
	router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("/v1/datasources returned %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestSetupRoutes_MetricsEndpoint(t *testing.T) {
	router := gin.New()
	SetupRoutes(router, newDeps(t), extensions.DefaultOptions())

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/metrics", nil)
	router.ServeHTTP(w, req)

	if !strings.Contains(w.Body.String(), "go_goroutines") {
		t.Error("Metrics endpoint does not expose the default collectors")
	}
}

type noRecall struct{}

func (noRecall) Search(context.Context, string, string, int) ([]datatypes.SimilarQuery, error) {
	return nil, nil
}

type rejectAll struct{}

func (rejectAll) Validate(context.Context, string) (*extensions.AuthInfo, error) {
	return nil, extensions.ErrUnauthorized
}
