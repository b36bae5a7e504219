// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package synthesis merges path results into one answer with a confidence
// score.
//
// # Description
//
// Only ok and degraded results contribute. Numbers computed by the SQL path
// take precedence over numbers the crew reported for the same metric; the
// crew's narrative insights are kept alongside. Confidence is a weighted sum
// of five factors, each in [0,1]:
//
//	data_quality              0.25
//	analysis_depth            0.25
//	consistency               0.20
//	statistical_significance  0.15
//	business_relevance        0.15
//
// The answer text is composed deterministically and may be rewritten by
// the model. A failed rewrite keeps the deterministic text.
package synthesis

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/AleutianQuery/services/llm"
	"github.com/AleutianAI/AleutianQuery/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianQuery/services/orchestrator/observability"
	"github.com/AleutianAI/AleutianQuery/services/orchestrator/prompts"
)

var tracer = otel.Tracer("aleutian.query.synthesis")

// Config tunes the synthesizer.
type Config struct {
	Weights Weights `mapstructure:"weights"`

	// ConflictTolerance is the relative difference above which a crew
	// metric conflicts with the SQL value.
	ConflictTolerance float64 `mapstructure:"conflict_tolerance" validate:"gte=0,lte=1"`

	// MaxItems caps insights and recommendations.
	MaxItems int `mapstructure:"max_items" validate:"gte=1"`

	// Polish rewrites the deterministic answer with the model.
	Polish        bool          `mapstructure:"polish"`
	PolishTimeout time.Duration `mapstructure:"polish_timeout"`
	Temperature   float32       `mapstructure:"temperature"`
	MaxTokens     int           `mapstructure:"max_tokens"`
}

// DefaultConfig returns the synthesis defaults.
func DefaultConfig() Config {
	return Config{
		Weights:           DefaultWeights(),
		ConflictTolerance: 0.01,
		MaxItems:          5,
		Polish:            true,
		PolishTimeout:     30 * time.Second,
		Temperature:       0.2,
		MaxTokens:         800,
	}
}

// Synthesizer merges path results.
//
// Thread Safety: Safe for concurrent use.
type Synthesizer struct {
	client  llm.LLMClient
	prompts prompts.Provider
	config  Config
}

// New creates a Synthesizer. client may be nil, which disables polishing.
func New(client llm.LLMClient, provider prompts.Provider, cfg Config) *Synthesizer {
	if cfg.MaxItems <= 0 {
		cfg.MaxItems = 5
	}
	if cfg.Weights == (Weights{}) {
		cfg.Weights = DefaultWeights()
	}
	return &Synthesizer{client: client, prompts: provider, config: cfg}
}

// Synthesize merges results into a SynthesisResult.
//
// # Description
//
// Failed results are listed in Excluded and otherwise ignored. When no
// result contributes a *datatypes.SynthesisError is returned; its Partial
// field keeps the failed results that carry a payload.
//
// # Inputs
//
//   - ctx: Context for the optional model call.
//   - results: Terminal path results, in any order.
//   - query: The original query.
//
// # Outputs
//
//   - datatypes.SynthesisResult: The merged answer.
//   - error: *datatypes.SynthesisError when nothing contributed.
func (s *Synthesizer) Synthesize(ctx context.Context, results []datatypes.PathResult, query datatypes.Query) (datatypes.SynthesisResult, error) {
	ctx, span := tracer.Start(ctx, "synthesis.Synthesize",
		trace.WithAttributes(
			attribute.String("query_id", query.ID),
			attribute.Int("results", len(results)),
		),
	)
	defer span.End()

	sorted := append([]datatypes.PathResult(nil), results...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Path < sorted[j].Path })

	var (
		out  datatypes.SynthesisResult
		ev   evidence
		crew datatypes.PathResult
	)
	for _, r := range sorted {
		if !r.Status.Contributes() {
			out.Excluded = append(out.Excluded, r.Path)
			continue
		}
		out.Sources = append(out.Sources, r.Path)
		ev.contributing++
		if r.SQL != nil && ev.sql == nil {
			ev.sql = r.SQL
		}
		if r.Crew != nil && ev.crew == nil {
			ev.crew = r.Crew
			ev.crewStatus = r.Status
			crew = r
		}
	}

	if ev.contributing == 0 {
		err := &datatypes.SynthesisError{Message: noResultMessage(sorted), Partial: partialResults(sorted)}
		span.RecordError(err)
		span.SetStatus(codes.Error, "nothing to synthesize")
		return datatypes.SynthesisResult{}, err
	}

	var compared int
	out.Metrics, out.Conflicts, compared = Reconcile(SQLMetrics(ev.sql), CrewMetrics(ev.crew), s.config.ConflictTolerance)
	ev.conflicts = len(out.Conflicts)
	ev.compared = compared

	out.Insights = s.insights(ev)
	out.Recommendations = s.recommendations(ev.crew)
	if viz, ok := ev.crew.Stage("viz_expert"); ok && !viz.Placeholder {
		out.Visualizations = viz.Charts
	}

	out.Factors = ev.Factors()
	out.Confidence = s.config.Weights.Score(out.Factors)
	out.AnswerText = s.polish(ctx, query, compose(ev, out))

	if crew.Status == datatypes.StatusDegraded {
		slog.Info("Synthesized with a degraded crew result",
			"query_id", query.ID, "real_stages", ev.crew.RealStages())
	}
	span.SetAttributes(
		attribute.Float64("confidence", out.Confidence),
		attribute.Int("conflicts", len(out.Conflicts)),
	)
	observability.RecordSynthesis(out.Confidence, len(out.Conflicts))
	return out, nil
}

// partialResults returns the failed results that still carry a payload:
// the rejected or failing SQL statement, or the crew stages that ran
// before the data analyst failed.
func partialResults(results []datatypes.PathResult) []datatypes.PathResult {
	var out []datatypes.PathResult
	for _, r := range results {
		if r.SQL != nil || r.Crew != nil {
			out = append(out, r)
		}
	}
	return out
}

func noResultMessage(results []datatypes.PathResult) string {
	if len(results) == 0 {
		return "No analysis was performed for this question."
	}
	var reasons []string
	for _, r := range results {
		if r.Error != "" {
			reasons = append(reasons, fmt.Sprintf("%s: %s", r.Path, r.Error))
		}
	}
	msg := "The question could not be answered: every analysis path failed."
	if len(reasons) > 0 {
		msg += " (" + strings.Join(reasons, "; ") + ")"
	}
	return msg
}

// =============================================================================
// Insights and Recommendations
// =============================================================================

func (s *Synthesizer) insights(ev evidence) []string {
	var items []string
	if ev.sql != nil {
		items = append(items, sqlInsight(ev.sql))
	}
	if ev.crew != nil {
		for _, st := range ev.crew.Stages {
			if !st.Placeholder {
				items = append(items, st.Insights...)
			}
		}
	}
	return capUnique(items, s.config.MaxItems)
}

func (s *Synthesizer) recommendations(crew *datatypes.CrewPayload) []string {
	if crew == nil {
		return nil
	}
	var items []string
	// The BI specialist's recommendations lead.
	if bi, ok := crew.Stage("bi_specialist"); ok && !bi.Placeholder {
		items = append(items, bi.Recommendations...)
	}
	for _, st := range crew.Stages {
		if st.Stage != "bi_specialist" && !st.Placeholder {
			items = append(items, st.Recommendations...)
		}
	}
	return capUnique(items, s.config.MaxItems)
}

func sqlInsight(p *datatypes.SQLPayload) string {
	rows := "rows"
	if p.RowCount == 1 {
		rows = "row"
	}
	if len(p.ColumnNames) == 0 {
		return fmt.Sprintf("The query returned %d %s.", p.RowCount, rows)
	}
	return fmt.Sprintf("The query returned %d %s with columns %s.", p.RowCount, rows, strings.Join(p.ColumnNames, ", "))
}

func capUnique(items []string, limit int) []string {
	seen := make(map[string]bool, len(items))
	var out []string
	for _, it := range items {
		key := strings.ToLower(strings.TrimSpace(it))
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, it)
		if len(out) == limit {
			break
		}
	}
	return out
}

// =============================================================================
// Answer Text
// =============================================================================

// maxAnswerRows bounds the SQL rows rendered into the answer.
const maxAnswerRows = 5

// compose builds the deterministic answer.
func compose(ev evidence, res datatypes.SynthesisResult) string {
	var sb strings.Builder
	if ev.sql != nil {
		sb.WriteString(sqlInsight(ev.sql))
		for i, row := range ev.sql.SampleRows {
			if i == maxAnswerRows {
				fmt.Fprintf(&sb, "\n  ... %d more", ev.sql.RowCount-maxAnswerRows)
				break
			}
			sb.WriteString("\n  ")
			sb.WriteString(formatRow(ev.sql.ColumnNames, row))
		}
	}
	if ev.crew != nil {
		for _, st := range ev.crew.Stages {
			if st.Placeholder || st.Summary == "" {
				continue
			}
			if sb.Len() > 0 {
				sb.WriteString("\n\n")
			}
			sb.WriteString(st.Summary)
		}
	}
	if len(res.Conflicts) > 0 {
		sb.WriteString("\n\nWhere the figures differ, the query results are used:")
		for _, c := range res.Conflicts {
			fmt.Fprintf(&sb, "\n  %s: %s (estimated %s)", c.Metric, formatNumber(c.SQLValue), formatNumber(c.CrewValue))
		}
	}
	return sb.String()
}

func formatRow(cols []string, row []any) string {
	parts := make([]string, 0, len(row))
	for i, cell := range row {
		name := fmt.Sprintf("col%d", i+1)
		if i < len(cols) {
			name = cols[i]
		}
		val := "NULL"
		if cell != nil {
			if f, ok := toFloat(cell); ok {
				val = formatNumber(f)
			} else {
				val = fmt.Sprint(cell)
			}
		}
		parts = append(parts, name+"="+val)
	}
	return strings.Join(parts, ", ")
}

func formatNumber(f float64) string {
	if f == float64(int64(f)) {
		return fmt.Sprintf("%d", int64(f))
	}
	return fmt.Sprintf("%.4g", f)
}

// polish asks the model to rewrite draft. Any failure returns draft.
func (s *Synthesizer) polish(ctx context.Context, query datatypes.Query, draft string) string {
	if s.client == nil || !s.config.Polish || draft == "" {
		return draft
	}
	params := llm.GenerationParams{
		System:      prompts.Resolve(ctx, s.prompts, prompts.SynthesisSystem),
		Temperature: llm.Float32(s.config.Temperature),
	}
	if s.config.MaxTokens > 0 {
		params.MaxTokens = llm.Int(s.config.MaxTokens)
	}
	vars := map[string]any{"query": query.Text, "draft": draft}
	text, err := llm.Complete(ctx, s.client, prompts.Resolve(ctx, s.prompts, prompts.SynthesisUser), vars, params, s.config.PolishTimeout)
	if err != nil {
		slog.Warn("Answer polishing failed, keeping composed text", "query_id", query.ID, "error", err)
		return draft
	}
	if text = strings.TrimSpace(text); text == "" {
		return draft
	}
	return text
}
