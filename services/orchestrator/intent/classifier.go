// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package intent classifies natural-language queries into intent records.
//
// Classification combines a deterministic keyword prior with a model call.
// The prior is always computed; the model supplies the final record. When
// the model fails or answers with something unusable the documented
// fallback record is returned instead, so Classify never fails.
package intent

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/AleutianAI/AleutianQuery/services/llm"
	"github.com/AleutianAI/AleutianQuery/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianQuery/services/orchestrator/observability"
	"github.com/AleutianAI/AleutianQuery/services/orchestrator/prompts"
)

var tracer = otel.Tracer("aleutian.query.intent")

// Config tunes the classifier.
type Config struct {
	Timeout       time.Duration `mapstructure:"timeout"`
	MaxRetries    int           `mapstructure:"max_retries" validate:"gte=0,lte=5"`
	RetryBackoff  time.Duration `mapstructure:"retry_backoff"`
	MaxConcurrent int64         `mapstructure:"max_concurrent" validate:"gte=0"`
	CacheTTL      time.Duration `mapstructure:"cache_ttl"`
	CacheSize     int           `mapstructure:"cache_size" validate:"gte=0"`
	Temperature   float32       `mapstructure:"temperature"`
	MaxTokens     int           `mapstructure:"max_tokens"`

	// KeywordsFile replaces the embedded keyword table when set.
	KeywordsFile string `mapstructure:"keywords_file"`
}

// DefaultConfig returns the classifier defaults.
func DefaultConfig() Config {
	return Config{
		Timeout:       20 * time.Second,
		MaxRetries:    1,
		RetryBackoff:  200 * time.Millisecond,
		MaxConcurrent: 8,
		CacheTTL:      300 * time.Second,
		CacheSize:     1000,
		Temperature:   0.1,
		MaxTokens:     300,
	}
}

// Classifier produces IntentRecords.
//
// Thread Safety: Safe for concurrent use.
type Classifier struct {
	client   llm.LLMClient
	prompts  prompts.Provider
	keywords *KeywordTable
	config   Config
	cache    *Cache
	inflight singleflight.Group
	sem      *semaphore.Weighted
}

// NewClassifier creates a classifier. A nil keywords table uses the
// embedded default. A nil client makes every classification fall back.
func NewClassifier(client llm.LLMClient, provider prompts.Provider, keywords *KeywordTable, cfg Config) *Classifier {
	if keywords == nil {
		keywords = DefaultKeywords()
	}
	c := &Classifier{
		client:   client,
		prompts:  provider,
		keywords: keywords,
		config:   cfg,
		cache:    NewCache(cfg.CacheTTL, cfg.CacheSize),
	}
	if cfg.MaxConcurrent > 0 {
		c.sem = semaphore.NewWeighted(cfg.MaxConcurrent)
	}
	return c
}

// Keywords returns the keyword table in use.
func (c *Classifier) Keywords() *KeywordTable { return c.keywords }

// Classify returns the intent record for q.
//
// # Description
//
// Computes the keyword prior, consults the cache, then asks the model
// (coalescing identical concurrent requests). A failed or unparsable model
// answer is retried with exponential backoff up to MaxRetries times before
// the fallback record is used.
//
// # Inputs
//
//   - ctx: Context for the model call.
//   - q: The query.
//   - schema: Descriptor of the target data source (table names are sent
//     to the model).
//   - history: Recent conversation, oldest first.
//
// # Outputs
//
//   - datatypes.IntentRecord: Always valid. Confidence is in [0,1] and the
//     approach is one of the three known values.
func (c *Classifier) Classify(ctx context.Context, q datatypes.Query, schema datatypes.Schema, history []datatypes.Message) datatypes.IntentRecord {
	return c.ClassifyWithRecall(ctx, q, schema, history, nil)
}

// ClassifyWithRecall is Classify with earlier answered questions added to
// the prompt. Records are cached per set of recalled questions.
func (c *Classifier) ClassifyWithRecall(ctx context.Context, q datatypes.Query, schema datatypes.Schema,
	history []datatypes.Message, similar []datatypes.SimilarQuery) datatypes.IntentRecord {

	start := time.Now()
	ctx, span := tracer.Start(ctx, "intent.Classifier.Classify",
		trace.WithAttributes(
			attribute.Int("query_length", len(q.Text)),
			attribute.String("source_kind", string(q.Source.Kind)),
		),
	)
	defer span.End()

	prior := c.keywords.Prior(q.Text, q.Source.Kind)
	span.SetAttributes(
		attribute.StringSlice("prior.sql_terms", prior.SQLTerms),
		attribute.StringSlice("prior.analysis_terms", prior.AnalysisTerms),
		attribute.String("prior.suggested", string(prior.Suggested)),
	)

	key := recallKey(historyKey(q.Text, history), similar)
	if cached, ok := c.cache.Get(key, q.Source); ok {
		span.SetAttributes(attribute.Bool("cached", true))
		observability.RecordIntent(string(cached.AnalysisType), "cache", time.Since(start))
		return cached
	}

	v, err, shared := c.inflight.Do(cacheKey(key, q.Source), func() (interface{}, error) {
		return c.classifyWithRetry(ctx, q, schema, history, similar, prior)
	})
	span.SetAttributes(attribute.Bool("shared", shared))

	if err != nil {
		reason := "llm_error"
		var iae *datatypes.IntentAnalysisError
		if errors.As(err, &iae) {
			reason = iae.Reason
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "intent fallback")
		slog.Warn("Intent classification failed, using fallback record",
			"query_id", q.ID, "reason", reason, "error", err)
		observability.RecordIntentFallback(reason)

		rec := FallbackRecord(prior, q.Source.Kind)
		observability.RecordIntent(string(rec.AnalysisType), "fallback", time.Since(start))
		return rec
	}

	rec := v.(datatypes.IntentRecord)
	c.cache.Set(key, q.Source, rec)
	span.SetAttributes(
		attribute.String("analysis_type", string(rec.AnalysisType)),
		attribute.String("intent", string(rec.Intent)),
		attribute.Float64("confidence", rec.Confidence),
	)
	observability.RecordIntent(string(rec.AnalysisType), "llm", time.Since(start))
	return copyRecord(rec)
}

func (c *Classifier) classifyWithRetry(ctx context.Context, q datatypes.Query, schema datatypes.Schema,
	history []datatypes.Message, similar []datatypes.SimilarQuery, prior Prior) (datatypes.IntentRecord, error) {

	var lastErr error
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := c.config.RetryBackoff * time.Duration(1<<(attempt-1))
			select {
			case <-ctx.Done():
				return datatypes.IntentRecord{}, &datatypes.IntentAnalysisError{Reason: "llm_error", Err: ctx.Err()}
			case <-time.After(backoff):
			}
		}

		rec, err := c.classifyOnce(ctx, q, schema, history, similar, prior)
		if err == nil {
			return rec, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		slog.Debug("Intent classification attempt failed",
			"attempt", attempt+1, "max_retries", c.config.MaxRetries, "error", err)
	}
	return datatypes.IntentRecord{}, lastErr
}

func (c *Classifier) classifyOnce(ctx context.Context, q datatypes.Query, schema datatypes.Schema,
	history []datatypes.Message, similar []datatypes.SimilarQuery, prior Prior) (datatypes.IntentRecord, error) {

	if c.sem != nil {
		if err := c.sem.Acquire(ctx, 1); err != nil {
			return datatypes.IntentRecord{}, &datatypes.IntentAnalysisError{Reason: "llm_error", Err: err}
		}
		defer c.sem.Release(1)
	}

	vars := map[string]any{
		"query":          q.Text,
		"source_kind":    string(q.Source.Kind),
		"tables":         strings.Join(schema.TableNames(), ", "),
		"history":        datatypes.FormatHistory(history),
		"sql_terms":      strings.Join(prior.SQLTerms, ", "),
		"analysis_terms": strings.Join(prior.AnalysisTerms, ", "),
		"suggested":      string(prior.Suggested),
		"similar":        datatypes.FormatSimilar(similar),
	}
	params := llm.GenerationParams{
		System:      prompts.Resolve(ctx, c.prompts, prompts.IntentSystem),
		Temperature: llm.Float32(c.config.Temperature),
	}
	if c.config.MaxTokens > 0 {
		params.MaxTokens = llm.Int(c.config.MaxTokens)
	}

	out, err := llm.Complete(ctx, c.client, prompts.Resolve(ctx, c.prompts, prompts.IntentUser), vars, params, c.config.Timeout)
	if err != nil {
		return datatypes.IntentRecord{}, &datatypes.IntentAnalysisError{Reason: "llm_error", Err: err}
	}
	rec, err := ParseResponse(out, prior, q.Source.Kind)
	if err != nil {
		return datatypes.IntentRecord{}, &datatypes.IntentAnalysisError{Reason: "parse_error", Err: err}
	}
	return rec, nil
}
