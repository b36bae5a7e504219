// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package sqlpath implements the SQL analysis path.
//
// A question is turned into SQL by a model, statically validated against
// the data source schema and only then executed:
//
//	generate -> validate -> (regenerate once with feedback) -> execute
//
// A query that fails validation is never sent to the executor. Execution
// errors are terminal for the path and are not retried.
package sqlpath

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/AleutianQuery/services/llm"
	"github.com/AleutianAI/AleutianQuery/services/orchestrator/datasource"
	"github.com/AleutianAI/AleutianQuery/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianQuery/services/orchestrator/observability"
	"github.com/AleutianAI/AleutianQuery/services/orchestrator/prompts"
)

var tracer = otel.Tracer("aleutian.query.sqlpath")

// MaxAttempts is the number of generate calls per request: the first and one
// regeneration carrying the validation error.
const MaxAttempts = 2

// Config tunes the SQL path.
type Config struct {
	ExecTimeout     time.Duration `mapstructure:"exec_timeout"`
	GenerateTimeout time.Duration `mapstructure:"generate_timeout"`
	SampleRows      int           `mapstructure:"sample_rows" validate:"gte=1,lte=1000"`
	Temperature     float32       `mapstructure:"temperature"`
	MaxTokens       int           `mapstructure:"max_tokens"`
}

// DefaultConfig returns the SQL path defaults.
func DefaultConfig() Config {
	return Config{
		ExecTimeout:     30 * time.Second,
		GenerateTimeout: 30 * time.Second,
		SampleRows:      10,
		Temperature:     0.0,
		MaxTokens:       500,
	}
}

// DialectResolver reports the SQL dialect of a data source.
// datasource.Registry implements it.
type DialectResolver interface {
	Dialect(ref datatypes.DataSourceRef) string
}

// Path is the SQL analysis path.
//
// Thread Safety: Safe for concurrent use.
type Path struct {
	generator *Generator
	executor  datasource.QueryExecutor
	dialects  DialectResolver
	config    Config
}

// New creates a SQL path. dialects may be nil, in which case SQLite is
// assumed.
func New(client llm.LLMClient, provider prompts.Provider, executor datasource.QueryExecutor,
	dialects DialectResolver, cfg Config) *Path {

	if cfg.SampleRows <= 0 {
		cfg.SampleRows = DefaultConfig().SampleRows
	}
	return &Path{
		generator: NewGenerator(client, provider, cfg),
		executor:  executor,
		dialects:  dialects,
		config:    cfg,
	}
}

// Name returns datatypes.PathSQL.
func (p *Path) Name() datatypes.PathName { return datatypes.PathSQL }

// Run answers in with a single validated query.
//
// # Description
//
// Generates SQL, validates it against in.Schema and regenerates once with
// the validation error as feedback. A second validation failure fails the
// path with *datatypes.SQLValidationError without touching the executor.
// A valid query is executed with ExecTimeout; failures are reported as
// *datatypes.SQLExecutionError.
//
// # Inputs
//
//   - ctx: Cancelling ctx stops generation and execution.
//   - in: Query, intent, schema and history. Not modified.
//
// # Outputs
//
//   - datatypes.PathResult: StatusOK with an SQLPayload, or StatusFailed.
func (p *Path) Run(ctx context.Context, in datatypes.PathInput) datatypes.PathResult {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "sqlpath.Path.Run",
		trace.WithAttributes(
			attribute.String("query_id", in.Query.ID),
			attribute.String("source_id", in.Query.Source.ID),
			attribute.Int("schema.tables", len(in.Schema.Tables)),
		),
	)
	defer span.End()

	result := p.run(ctx, in)
	result.Path = datatypes.PathSQL
	result.Duration = time.Since(start)

	span.SetAttributes(attribute.String("status", string(result.Status)))
	if result.Err != nil {
		span.RecordError(result.Err)
		span.SetStatus(codes.Error, "sql path failed")
	}
	observability.RecordPathResult(string(datatypes.PathSQL), string(result.Status), result.Duration)
	return result
}

func (p *Path) run(ctx context.Context, in datatypes.PathInput) datatypes.PathResult {
	dialect := datasource.DialectSQLite
	if p.dialects != nil {
		dialect = p.dialects.Dialect(in.Query.Source)
	}
	req := GenerateRequest{
		Question: in.Query.Text,
		Schema:   in.Schema,
		History:  in.History,
		Similar:  in.Similar,
		Dialect:  dialect,
	}

	var (
		query    string
		attempts int
	)
	for attempts < MaxAttempts {
		attempts++
		generated, err := p.generator.Generate(ctx, req)
		if err != nil {
			slog.Warn("SQL generation failed", "query_id", in.Query.ID, "attempt", attempts, "error", err)
			return datatypes.FailedResult(datatypes.PathSQL, fmt.Errorf("generate sql: %w", err))
		}

		verr := Validate(generated, in.Schema)
		if verr == nil {
			query = generated
			break
		}
		slog.Info("Generated SQL rejected",
			"query_id", in.Query.ID, "attempt", attempts, "error", verr)
		if attempts >= MaxAttempts {
			res := datatypes.FailedResult(datatypes.PathSQL, verr)
			res.SQL = &datatypes.SQLPayload{Query: generated, Attempts: attempts}
			return res
		}
		observability.RecordSQLRegeneration()
		req.Feedback = verr.Error()
	}

	if p.executor == nil {
		return datatypes.FailedResult(datatypes.PathSQL,
			&datatypes.SQLExecutionError{Query: query, Err: errors.New("no query executor configured")})
	}
	res, err := p.executor.Run(ctx, query, in.Query.Source, p.config.ExecTimeout)
	if err != nil {
		slog.Warn("SQL execution failed", "query_id", in.Query.ID, "error", err)
		failed := datatypes.FailedResult(datatypes.PathSQL, &datatypes.SQLExecutionError{Query: query, Err: err})
		failed.SQL = &datatypes.SQLPayload{Query: query, Attempts: attempts}
		return failed
	}
	observability.RecordSQLRows(res.RowCount)

	sample := res.Rows
	if len(sample) > p.config.SampleRows {
		sample = sample[:p.config.SampleRows]
	}
	return datatypes.PathResult{
		Status: datatypes.StatusOK,
		SQL: &datatypes.SQLPayload{
			Query:       query,
			RowCount:    res.RowCount,
			SampleRows:  sample,
			ColumnNames: res.Columns,
			Attempts:    attempts,
		},
	}
}
