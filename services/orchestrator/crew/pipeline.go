// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package crew implements the multi-agent analysis path.
//
// Four specialists run in a fixed order, each seeing the outputs of the
// ones before it:
//
//	data_analyst -> bi_specialist -> statistician -> viz_expert
//
// The task template (comparison, trend, correlation or general) is chosen
// once from the intent's analysis type. A failed stage is replaced with a
// placeholder and the pipeline continues; only a failure of the first
// stage fails the whole path.
package crew

import (
	"context"
	"log/slog"
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

var tracer = otel.Tracer("aleutian.query.crew")

// Config tunes the crew path.
type Config struct {
	StageTimeout time.Duration `mapstructure:"stage_timeout"`
	Temperature  float32       `mapstructure:"temperature"`
	MaxTokens    int           `mapstructure:"max_tokens"`
}

// DefaultConfig returns the crew defaults.
func DefaultConfig() Config {
	return Config{
		StageTimeout: 60 * time.Second,
		Temperature:  0.3,
		MaxTokens:    1200,
	}
}

// StageObserver is notified after each stage completes, in order.
type StageObserver func(ctx context.Context, out datatypes.StageOutput)

// Path is the crew analysis path.
//
// Thread Safety: Safe for concurrent use. Each Run has its own snapshot.
type Path struct {
	stages   []*Stage
	observer StageObserver
}

// New creates the crew path with the four stages in Order.
func New(client llm.LLMClient, provider prompts.Provider, cfg Config) *Path {
	p := &Path{}
	for _, name := range Order {
		p.stages = append(p.stages, &Stage{Name: name, client: client, prompts: provider, config: cfg})
	}
	return p
}

// WithObserver sets a per-stage observer and returns p.
func (p *Path) WithObserver(obs StageObserver) *Path {
	p.observer = obs
	return p
}

// Name returns datatypes.PathCrew.
func (p *Path) Name() datatypes.PathName { return datatypes.PathCrew }

// Run executes the pipeline.
//
// # Description
//
// Builds the data summary from in.Schema and in.Profile and runs every
// stage sequentially with the growing snapshot. A failed stage gets its
// placeholder and the pipeline continues. A data_analyst failure fails the
// path with its *datatypes.CrewStageError; a later failure marks the
// result degraded.
//
// # Outputs
//
//   - datatypes.PathResult: StatusOK or StatusDegraded with a CrewPayload,
//     or StatusFailed.
func (p *Path) Run(ctx context.Context, in datatypes.PathInput) datatypes.PathResult {
	start := time.Now()
	tmpl := TemplateFor(in.Intent.AnalysisType)

	ctx, span := tracer.Start(ctx, "crew.Path.Run",
		trace.WithAttributes(
			attribute.String("query_id", in.Query.ID),
			attribute.String("template", tmpl.Name),
		),
	)
	defer span.End()

	result := p.run(ctx, in, tmpl)
	result.Path = datatypes.PathCrew
	result.Duration = time.Since(start)

	span.SetAttributes(attribute.String("status", string(result.Status)))
	if result.Err != nil {
		span.RecordError(result.Err)
		span.SetStatus(codes.Error, "crew path failed")
	}
	observability.RecordPathResult(string(datatypes.PathCrew), string(result.Status), result.Duration)
	return result
}

func (p *Path) run(ctx context.Context, in datatypes.PathInput, tmpl Template) datatypes.PathResult {
	stageIn := StageInput{
		Query:       in.Query.Text,
		DataSummary: BuildSummary(in.Schema, in.Profile),
		Template:    tmpl,
	}

	var (
		snap     Snapshot
		firstErr error
		degraded bool
	)
	for _, st := range p.stages {
		out, err := st.Run(ctx, stageIn, snap)
		if err != nil {
			observability.RecordCrewStage(st.Name, "placeholder")
			slog.Warn("Crew stage failed, substituting placeholder",
				"query_id", in.Query.ID, "stage", st.Name, "error", err)
			out = datatypes.StageOutput{
				Stage:       st.Name,
				Role:        st.Agent(ctx).Role,
				Summary:     Placeholder(st.Name),
				Placeholder: true,
				Error:       err.Error(),
			}
			if st.Name == StageDataAnalyst {
				firstErr = err
			} else {
				degraded = true
			}
		} else {
			observability.RecordCrewStage(st.Name, "ok")
		}

		snap = snap.With(out)
		if p.observer != nil {
			p.observer(ctx, out)
		}
	}

	payload := &datatypes.CrewPayload{
		AnalysisType: in.Intent.AnalysisType,
		Template:     tmpl.Name,
		Stages:       snap.Outputs(),
	}
	if firstErr != nil {
		// The payload is kept for diagnostics; synthesis ignores failed paths.
		res := datatypes.FailedResult(datatypes.PathCrew, firstErr)
		res.Crew = payload
		return res
	}
	status := datatypes.StatusOK
	if degraded {
		status = datatypes.StatusDegraded
	}
	return datatypes.PathResult{Status: status, Crew: payload}
}
