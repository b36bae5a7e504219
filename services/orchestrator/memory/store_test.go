// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package memory

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weaviate/weaviate/entities/models"

	"github.com/AleutianAI/AleutianQuery/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianQuery/services/orchestrator/workflow"
)

func finalSnapshot() workflow.Snapshot {
	q := datatypes.NewQuery("s1", "  total sales by region  ", datatypes.DataSourceRef{ID: "db1", Kind: datatypes.SourceDatabase})
	return workflow.Snapshot{
		Query: q,
		Stage: workflow.StageFinal,
		Plan:  &datatypes.ExecutionPlan{Approach: datatypes.ApproachSQLOnly},
		Results: []datatypes.PathResult{{
			Path:   datatypes.PathSQL,
			Status: datatypes.StatusOK,
			SQL:    &datatypes.SQLPayload{Query: "SELECT region, SUM(amount) FROM sales GROUP BY region;"},
		}},
		Synthesis: &datatypes.SynthesisResult{
			AnswerText: strings.Repeat("x", SummaryChars+50),
			Confidence: 0.82,
			Sources:    []datatypes.PathName{datatypes.PathSQL},
		},
	}
}

// =============================================================================
// Properties
// =============================================================================

func TestProperties_FinalAnswer(t *testing.T) {
	props, ok := properties(finalSnapshot())
	require.True(t, ok)
	assert.Equal(t, "total sales by region", props["question"])
	assert.Equal(t, "SELECT region, SUM(amount) FROM sales GROUP BY region;", props["sqlQuery"])
	assert.Equal(t, "sql_only", props["approach"])
	assert.Equal(t, "s1", props["sessionId"])
	assert.Equal(t, "db1", props["sourceId"])
	assert.Equal(t, 0.82, props["confidence"])
	assert.Len(t, props["summary"], SummaryChars)
	_, err := time.Parse(time.RFC3339, props["createdAt"].(string))
	assert.NoError(t, err)
}

func TestProperties_SkipsUnusableSnapshots(t *testing.T) {
	errored := finalSnapshot()
	errored.Stage = workflow.StageError

	noSynthesis := finalSnapshot()
	noSynthesis.Synthesis = nil

	noSources := finalSnapshot()
	noSources.Synthesis.Sources = nil

	for name, snap := range map[string]workflow.Snapshot{
		"error stage":  errored,
		"no synthesis": noSynthesis,
		"no sources":   noSources,
	} {
		_, ok := properties(snap)
		assert.False(t, ok, name)
	}
}

func TestProperties_FailedSQLIsNotStored(t *testing.T) {
	snap := finalSnapshot()
	snap.Results[0].Status = datatypes.StatusFailed
	props, ok := properties(snap)
	require.True(t, ok)
	assert.Equal(t, "", props["sqlQuery"])
}

// =============================================================================
// Parsing
// =============================================================================

func TestParseSimilar(t *testing.T) {
	result := &models.GraphQLResponse{Data: map[string]models.JSONObject{
		"Get": map[string]interface{}{
			DefaultClassName: []interface{}{
				map[string]interface{}{
					"question": "sales by region", "summary": "East leads", "sqlQuery": "SELECT 1;",
					"approach": "sql_only", "sessionId": "s0",
					"_additional": map[string]interface{}{"certainty": 0.95, "distance": 0.1},
				},
				map[string]interface{}{
					"question":    "weak match",
					"_additional": map[string]interface{}{"certainty": 0.5},
				},
				"not an object",
				map[string]interface{}{"_additional": map[string]interface{}{"certainty": 0.99}},
			},
		},
	}}

	got := parseSimilar(result, DefaultClassName, 0.8)
	require.Len(t, got, 1)
	assert.Equal(t, datatypes.SimilarQuery{
		Question: "sales by region", Summary: "East leads", SQL: "SELECT 1;",
		Approach: "sql_only", SessionID: "s0", Certainty: 0.95,
	}, got[0])

	assert.Empty(t, parseSimilar(nil, DefaultClassName, 0.8))
	assert.Empty(t, parseSimilar(&models.GraphQLResponse{}, DefaultClassName, 0.8))
}

func TestClassSchema_OnlyQuestionIsVectorized(t *testing.T) {
	class := ClassSchema("Q", "text2vec-transformers")
	assert.Equal(t, "Q", class.Class)
	assert.Equal(t, "text2vec-transformers", class.Vectorizer)
	for _, p := range class.Properties {
		if p.Name == "question" {
			assert.Nil(t, p.ModuleConfig)
			continue
		}
		assert.NotNil(t, p.ModuleConfig, p.Name)
	}
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{Enabled: true}.withDefaults()
	assert.Equal(t, DefaultClassName, cfg.ClassName)
	assert.Equal(t, "text2vec-transformers", cfg.Vectorizer)
	assert.Equal(t, 3, cfg.Limit)
	assert.Equal(t, 3*time.Second, cfg.Timeout)
	assert.False(t, DefaultConfig().Enabled)
}

func TestOpen_Rejections(t *testing.T) {
	_, err := Open(context.Background(), Config{})
	assert.ErrorIs(t, err, ErrDisabled)

	_, err = Open(context.Background(), Config{Enabled: true, URL: "not a url"})
	assert.Error(t, err)
}

// =============================================================================
// Against a fake Weaviate
// =============================================================================

// fakeWeaviate serves the REST and GraphQL endpoints the client uses.
type fakeWeaviate struct {
	mu       sync.Mutex
	classes  map[string]bool
	objects  []map[string]interface{}
	queries  []string
	response string
}

func (f *fakeWeaviate) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	body, _ := io.ReadAll(r.Body)
	w.Header().Set("Content-Type", "application/json")
	switch {
	case r.URL.Path == "/v1/meta":
		_, _ = io.WriteString(w, `{"version":"1.35.2"}`)
	case strings.HasPrefix(r.URL.Path, "/v1/.well-known/"):
		w.WriteHeader(http.StatusOK)
	case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/v1/schema/"):
		name := strings.TrimPrefix(r.URL.Path, "/v1/schema/")
		if !f.classes[name] {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = io.WriteString(w, `{"class":"`+name+`"}`)
	case r.Method == http.MethodPost && r.URL.Path == "/v1/schema":
		var class models.Class
		_ = json.Unmarshal(body, &class)
		f.classes[class.Class] = true
		_, _ = w.Write(body)
	case r.Method == http.MethodPost && r.URL.Path == "/v1/objects":
		var obj struct {
			Class      string                 `json:"class"`
			Properties map[string]interface{} `json:"properties"`
		}
		_ = json.Unmarshal(body, &obj)
		f.objects = append(f.objects, obj.Properties)
		_, _ = io.WriteString(w, `{"id":"8d9e4c35-3b8e-4a5c-9a55-1f1b4a7b6a01","class":"`+obj.Class+`","properties":{}}`)
	case r.Method == http.MethodPost && r.URL.Path == "/v1/graphql":
		f.queries = append(f.queries, string(body))
		_, _ = io.WriteString(w, f.response)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func TestStore_RecordAndRecall(t *testing.T) {
	fake := &fakeWeaviate{
		classes: map[string]bool{},
		response: `{"data":{"Get":{"QueryMemory":[
			{"question":"total sales by region","summary":"East leads","sqlQuery":"SELECT 1;","approach":"sql_only","sessionId":"s0","_additional":{"certainty":0.93,"distance":0.14}},
			{"question":"weak","_additional":{"certainty":0.4,"distance":1.2}}
		]}}}`,
	}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	ctx := context.Background()
	store, err := Open(ctx, Config{Enabled: true, URL: srv.URL})
	require.NoError(t, err)
	assert.True(t, fake.classes[DefaultClassName], "class created on first open")

	require.NoError(t, store.RecordCompletion(ctx, finalSnapshot()))
	require.Len(t, fake.objects, 1)
	assert.Equal(t, "total sales by region", fake.objects[0]["question"])
	assert.Equal(t, "db1", fake.objects[0]["sourceId"])

	skipped := finalSnapshot()
	skipped.Stage = workflow.StageError
	require.NoError(t, store.RecordCompletion(ctx, skipped))
	assert.Len(t, fake.objects, 1, "errored requests are not remembered")

	similar, err := store.Similar(ctx, datatypes.NewQuery("s2", "sales per region", datatypes.DataSourceRef{ID: "db1", Kind: datatypes.SourceDatabase}))
	require.NoError(t, err)
	require.Len(t, similar, 1)
	assert.Equal(t, "SELECT 1;", similar[0].SQL)
	assert.InDelta(t, 0.93, similar[0].Certainty, 1e-9)

	require.Len(t, fake.queries, 1)
	assert.Contains(t, fake.queries[0], "nearText")
	assert.Contains(t, fake.queries[0], "sales per region")
	assert.Contains(t, fake.queries[0], "sourceId")
	assert.Contains(t, fake.queries[0], "db1")
}

func TestStore_SearchErrors(t *testing.T) {
	fake := &fakeWeaviate{
		classes:  map[string]bool{DefaultClassName: true},
		response: `{"errors":[{"message":"no module with name text2vec-transformers present"}]}`,
	}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	store, err := Open(context.Background(), Config{Enabled: true, URL: srv.URL})
	require.NoError(t, err)

	_, err = store.Search(context.Background(), "   ", "", 0)
	assert.Error(t, err)

	_, err = store.Search(context.Background(), "sales", "", 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "text2vec-transformers")
}
