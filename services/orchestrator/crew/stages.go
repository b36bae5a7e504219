// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package crew

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/AleutianQuery/services/llm"
	"github.com/AleutianAI/AleutianQuery/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianQuery/services/orchestrator/intent"
	"github.com/AleutianAI/AleutianQuery/services/orchestrator/prompts"
)

// Stage names in pipeline order.
const (
	StageDataAnalyst  = "data_analyst"
	StageBISpecialist = "bi_specialist"
	StageStatistician = "statistician"
	StageVizExpert    = "viz_expert"
)

// Order is the fixed stage sequence.
var Order = []string{StageDataAnalyst, StageBISpecialist, StageStatistician, StageVizExpert}

// placeholders replace the output of a failed stage.
var placeholders = map[string]string{
	StageDataAnalyst:  "Exploratory analysis could not be completed for this dataset.",
	StageBISpecialist: "Business recommendations are unavailable for this request.",
	StageStatistician: "Statistical validation was not performed; treat the findings as preliminary.",
	StageVizExpert:    "No visualization suggestions are available.",
}

// Placeholder returns the documented substitute text for a failed stage.
func Placeholder(stage string) string { return placeholders[stage] }

// =============================================================================
// Snapshot
// =============================================================================

// Snapshot is the immutable accumulator of stage outputs. With returns a new
// Snapshot and never modifies the receiver, so a stage cannot affect what an
// earlier stage saw.
type Snapshot struct {
	outputs []datatypes.StageOutput
}

// With returns a snapshot extended by out.
func (s Snapshot) With(out datatypes.StageOutput) Snapshot {
	next := make([]datatypes.StageOutput, len(s.outputs), len(s.outputs)+1)
	copy(next, s.outputs)
	return Snapshot{outputs: append(next, out)}
}

// Len returns the number of recorded stages.
func (s Snapshot) Len() int { return len(s.outputs) }

// Outputs returns a copy of the recorded outputs in order.
func (s Snapshot) Outputs() []datatypes.StageOutput {
	return append([]datatypes.StageOutput(nil), s.outputs...)
}

// Context renders prior outputs as prompt text for the next stage.
// Returns "" for an empty snapshot.
func (s Snapshot) Context() string {
	var sb strings.Builder
	for _, o := range s.outputs {
		fmt.Fprintf(&sb, "[%s] %s\n", o.Role, o.Summary)
		for _, in := range o.Insights {
			fmt.Fprintf(&sb, "- %s\n", in)
		}
		for _, r := range o.Recommendations {
			fmt.Fprintf(&sb, "- Recommendation: %s\n", r)
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

// =============================================================================
// Stage
// =============================================================================

// StageInput is what every stage receives besides the snapshot.
type StageInput struct {
	Query       string
	DataSummary string
	Template    Template
}

// Stage is one specialist of the pipeline.
type Stage struct {
	Name string

	client  llm.LLMClient
	prompts prompts.Provider
	config  Config
}

// Agent holds a stage's role, goal and backstory.
type Agent struct {
	Role      string
	Goal      string
	Backstory string
}

// Agent resolves the stage's agent configuration through the prompt chain.
func (st *Stage) Agent(ctx context.Context) Agent {
	return Agent{
		Role:      prompts.Resolve(ctx, st.prompts, prompts.CrewAgentKey(st.Name, "role")),
		Goal:      prompts.Resolve(ctx, st.prompts, prompts.CrewAgentKey(st.Name, "goal")),
		Backstory: prompts.Resolve(ctx, st.prompts, prompts.CrewAgentKey(st.Name, "backstory")),
	}
}

// Run executes the stage. On error the returned output is unset and the
// error is a *datatypes.CrewStageError.
func (st *Stage) Run(ctx context.Context, in StageInput, prior Snapshot) (datatypes.StageOutput, error) {
	ctx, span := tracer.Start(ctx, "crew.Stage.Run",
		trace.WithAttributes(
			attribute.String("stage", st.Name),
			attribute.String("template", in.Template.Name),
			attribute.Int("prior_stages", prior.Len()),
		),
	)
	defer span.End()

	agent := st.Agent(ctx)
	description := prompts.Resolve(ctx, st.prompts, prompts.CrewStageTaskKey(st.Name, in.Template.Name))
	if description == prompts.GenericPrompt {
		description = in.Template.Description(st.Name)
	}

	vars := map[string]any{
		"role":         agent.Role,
		"goal":         agent.Goal,
		"backstory":    agent.Backstory,
		"description":  description,
		"query":        in.Query,
		"data_summary": in.DataSummary,
		"focus":        in.Template.FocusList(st.Name),
		"prior":        prior.Context(),
	}
	params := llm.GenerationParams{
		System:      prompts.Resolve(ctx, st.prompts, prompts.CrewSystem),
		Temperature: llm.Float32(st.config.Temperature),
	}
	if st.config.MaxTokens > 0 {
		params.MaxTokens = llm.Int(st.config.MaxTokens)
	}

	start := time.Now()
	out, err := llm.Complete(ctx, st.client, prompts.Resolve(ctx, st.prompts, prompts.CrewTask), vars, params, st.config.StageTimeout)
	span.SetAttributes(attribute.Int64("latency_ms", time.Since(start).Milliseconds()))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "stage failed")
		return datatypes.StageOutput{}, &datatypes.CrewStageError{Stage: st.Name, Err: err}
	}
	return ParseStageOutput(st.Name, agent.Role, out), nil
}

// =============================================================================
// Output Parsing
// =============================================================================

type rawStageOutput struct {
	Summary         string          `json:"summary"`
	Insights        []any           `json:"insights"`
	Recommendations []any           `json:"recommendations"`
	Metrics         map[string]any  `json:"metrics"`
	Charts          json.RawMessage `json:"charts"`
}

// ParseStageOutput parses a stage answer. A JSON object is decoded into
// its fields; any other text becomes the summary. Non-numeric metrics and
// non-string list items are dropped.
func ParseStageOutput(stage, role, text string) datatypes.StageOutput {
	out := datatypes.StageOutput{Stage: stage, Role: role}

	obj, err := intent.ExtractJSONObject(text)
	var raw rawStageOutput
	if err != nil || json.Unmarshal([]byte(obj), &raw) != nil {
		out.Summary = strings.TrimSpace(text)
		return out
	}

	out.Summary = strings.TrimSpace(raw.Summary)
	out.Insights = stringItems(raw.Insights)
	out.Recommendations = stringItems(raw.Recommendations)
	for k, v := range raw.Metrics {
		if f, ok := v.(float64); ok {
			if out.Metrics == nil {
				out.Metrics = make(map[string]float64)
			}
			out.Metrics[strings.ToLower(strings.TrimSpace(k))] = f
		}
	}
	if len(raw.Charts) > 0 {
		var charts []datatypes.ChartSpec
		if json.Unmarshal(raw.Charts, &charts) == nil {
			for _, c := range charts {
				if c.Type != "" || c.Title != "" {
					out.Charts = append(out.Charts, c)
				}
			}
		}
	}
	if out.Summary == "" && len(out.Insights) > 0 {
		out.Summary = out.Insights[0]
	}
	return out
}

func stringItems(items []any) []string {
	var out []string
	for _, it := range items {
		if s, ok := it.(string); ok {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}
