// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package memory keeps answered questions in Weaviate and recalls the ones
// most similar to a new question.
//
// Every final answer is recorded with its summary and SQL. Before a new
// question is classified, the closest earlier questions about the same
// data source are looked up and handed to the intent classifier and the
// SQL generator as extra prompt context.
package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/AleutianQuery/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianQuery/services/orchestrator/workflow"
)

var tracer = otel.Tracer("aleutian.query.memory")

// Compile-time interface checks.
var (
	_ workflow.CompletionRecorder = (*Store)(nil)
	_ workflow.QueryRecall        = (*Store)(nil)
)

// SummaryChars bounds the stored answer summary.
const SummaryChars = 500

// ErrDisabled is returned by Open when the configuration disables memory.
var ErrDisabled = errors.New("query memory is disabled")

// Config configures query memory.
type Config struct {
	// Enabled turns the store on. Default: false
	Enabled bool `mapstructure:"enabled"`

	// URL of the Weaviate server, e.g. http://weaviate:8080.
	URL string `mapstructure:"url" validate:"omitempty,url"`

	// ClassName is the Weaviate class. Default: QueryMemory
	ClassName string `mapstructure:"class_name"`

	// Vectorizer is the Weaviate module embedding questions.
	// Default: text2vec-transformers
	Vectorizer string `mapstructure:"vectorizer"`

	// Limit is how many similar questions are recalled. Default: 3
	Limit int `mapstructure:"limit" validate:"gte=0,lte=20"`

	// MinCertainty drops weaker matches. Default: 0.8
	MinCertainty float64 `mapstructure:"min_certainty" validate:"gte=0,lte=1"`

	// Timeout bounds each Weaviate call. Default: 3s
	Timeout time.Duration `mapstructure:"timeout"`
}

// DefaultConfig returns the memory defaults. Memory is off by default.
func DefaultConfig() Config {
	return Config{
		URL:          "http://localhost:8080",
		ClassName:    DefaultClassName,
		Vectorizer:   "text2vec-transformers",
		Limit:        3,
		MinCertainty: 0.8,
		Timeout:      3 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.ClassName == "" {
		c.ClassName = def.ClassName
	}
	if c.Vectorizer == "" {
		c.Vectorizer = def.Vectorizer
	}
	if c.Limit == 0 {
		c.Limit = def.Limit
	}
	if c.Timeout <= 0 {
		c.Timeout = def.Timeout
	}
	return c
}

// Store records answers in Weaviate and recalls similar questions.
//
// Thread Safety: Safe for concurrent use.
type Store struct {
	client *weaviate.Client
	config Config
}

// Open connects to Weaviate and ensures the memory class exists.
//
// # Inputs
//
//   - ctx: Bounds the schema check.
//   - cfg: Memory configuration. Zero fields take their defaults.
//
// # Outputs
//
//   - *Store: Ready store.
//   - error: ErrDisabled, an invalid URL, or a schema failure.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}
	parsed, err := url.Parse(cfg.URL)
	if err != nil || parsed.Host == "" {
		return nil, fmt.Errorf("invalid weaviate url %q", cfg.URL)
	}
	scheme := parsed.Scheme
	if scheme == "" {
		scheme = "http"
	}
	client, err := weaviate.NewClient(weaviate.Config{Host: parsed.Host, Scheme: scheme})
	if err != nil {
		return nil, fmt.Errorf("create weaviate client: %w", err)
	}

	s := New(client, cfg)
	sctx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()
	if err := s.EnsureSchema(sctx); err != nil {
		return nil, err
	}
	slog.Info("Query memory connected", "url", cfg.URL, "class", s.config.ClassName)
	return s, nil
}

// New wraps an existing client.
func New(client *weaviate.Client, cfg Config) *Store {
	return &Store{client: client, config: cfg.withDefaults()}
}

// =============================================================================
// Recording
// =============================================================================

// RecordCompletion stores a final answer. Snapshots that ended in error or
// with no contributing path are skipped.
func (s *Store) RecordCompletion(ctx context.Context, snap workflow.Snapshot) error {
	props, ok := properties(snap)
	if !ok {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	ctx, span := tracer.Start(ctx, "memory.Store.RecordCompletion",
		trace.WithAttributes(attribute.String("query_id", snap.Query.ID)))
	defer span.End()

	_, err := s.client.Data().Creator().
		WithClassName(s.config.ClassName).
		WithProperties(props).
		Do(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "store failed")
		return fmt.Errorf("store answered question: %w", err)
	}
	slog.Debug("Recorded answered question", "query_id", snap.Query.ID, "source_id", snap.Query.Source.ID)
	return nil
}

// properties maps a final snapshot to the stored object. It reports false
// when the snapshot is not worth remembering.
func properties(snap workflow.Snapshot) (map[string]interface{}, bool) {
	if snap.Stage != workflow.StageFinal || snap.Synthesis == nil || len(snap.Synthesis.Sources) == 0 {
		return nil, false
	}
	question := strings.TrimSpace(snap.Query.Text)
	if question == "" {
		return nil, false
	}

	summary := snap.Synthesis.AnswerText
	if r := []rune(summary); len(r) > SummaryChars {
		summary = string(r[:SummaryChars])
	}
	var sqlQuery string
	for _, r := range snap.Results {
		if r.Path == datatypes.PathSQL && r.Status != datatypes.StatusFailed && r.SQL != nil {
			sqlQuery = r.SQL.Query
		}
	}
	var approach string
	if snap.Plan != nil {
		approach = string(snap.Plan.Approach)
	}
	createdAt := snap.Query.SubmittedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	return map[string]interface{}{
		"question":   question,
		"summary":    summary,
		"sqlQuery":   sqlQuery,
		"approach":   approach,
		"sessionId":  snap.Query.SessionID,
		"sourceId":   snap.Query.Source.ID,
		"confidence": snap.Synthesis.Confidence,
		"createdAt":  createdAt.Format(time.RFC3339),
	}, true
}

// =============================================================================
// Recall
// =============================================================================

// Similar returns earlier answered questions about q's data source, most
// similar first, with certainty of at least MinCertainty.
func (s *Store) Similar(ctx context.Context, q datatypes.Query) ([]datatypes.SimilarQuery, error) {
	return s.Search(ctx, q.Text, q.Source.ID, s.config.Limit)
}

// Search runs a semantic search over answered questions. An empty sourceID
// searches every source. A non-positive limit uses the configured one.
func (s *Store) Search(ctx context.Context, text, sourceID string, limit int) ([]datatypes.SimilarQuery, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, errors.New("search text cannot be empty")
	}
	if limit <= 0 {
		limit = s.config.Limit
	}
	ctx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	ctx, span := tracer.Start(ctx, "memory.Store.Search",
		trace.WithAttributes(
			attribute.String("source_id", sourceID),
			attribute.Int("limit", limit),
		),
	)
	defer span.End()

	nearText := s.client.GraphQL().NearTextArgBuilder().
		WithConcepts([]string{text}).
		WithCertainty(float32(s.config.MinCertainty))

	get := s.client.GraphQL().Get().
		WithClassName(s.config.ClassName).
		WithFields(
			graphql.Field{Name: "question"},
			graphql.Field{Name: "summary"},
			graphql.Field{Name: "sqlQuery"},
			graphql.Field{Name: "approach"},
			graphql.Field{Name: "sessionId"},
			graphql.Field{Name: "_additional { certainty distance }"},
		).
		WithNearText(nearText).
		WithLimit(limit)
	if sourceID != "" {
		get = get.WithWhere(filters.Where().
			WithPath([]string{"sourceId"}).
			WithOperator(filters.Equal).
			WithValueString(sourceID))
	}

	result, err := get.Do(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "search failed")
		return nil, fmt.Errorf("semantic search: %w", err)
	}
	if len(result.Errors) > 0 {
		span.SetStatus(codes.Error, "search error")
		return nil, fmt.Errorf("search error: %s", result.Errors[0].Message)
	}

	found := parseSimilar(result, s.config.ClassName, s.config.MinCertainty)
	span.SetAttributes(attribute.Int("found", len(found)))
	return found, nil
}

// parseSimilar reads the Get block of a GraphQL response. Objects below
// minCertainty and malformed objects are skipped.
func parseSimilar(result *models.GraphQLResponse, className string, minCertainty float64) []datatypes.SimilarQuery {
	if result == nil {
		return nil
	}
	data, ok := result.Data["Get"].(map[string]interface{})
	if !ok {
		return nil
	}
	objects, ok := data[className].([]interface{})
	if !ok {
		return nil
	}

	out := make([]datatypes.SimilarQuery, 0, len(objects))
	for _, obj := range objects {
		m, ok := obj.(map[string]interface{})
		if !ok {
			continue
		}
		sq := datatypes.SimilarQuery{
			Question:  getString(m, "question"),
			Summary:   getString(m, "summary"),
			SQL:       getString(m, "sqlQuery"),
			Approach:  getString(m, "approach"),
			SessionID: getString(m, "sessionId"),
		}
		if add, ok := m["_additional"].(map[string]interface{}); ok {
			sq.Certainty = getFloat64(add, "certainty")
		}
		if sq.Question == "" || sq.Certainty < minCertainty {
			continue
		}
		out = append(out, sq)
	}
	return out
}

func getString(m map[string]interface{}, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

func getFloat64(m map[string]interface{}, key string) float64 {
	switch v := m[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	}
	return 0
}
