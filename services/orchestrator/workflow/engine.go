// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package workflow runs one query through the orchestration state machine.
//
// # Description
//
// A request moves through
//
//	initial -> intent_analyzed -> routed -> executing -> synthesizing -> final
//
// or ends in error. The engine classifies the question, routes it, runs the
// planned analysis paths (concurrently when there are two, each under its
// own timeout), and synthesizes the results. Each request owns its State;
// nothing is shared between requests.
//
// After the request ends, the terminal Snapshot is handed to the configured
// CompletionRecorders and audit logger. Their failures are logged and never
// change the answer.
package workflow

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
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/AleutianQuery/pkg/extensions"
	"github.com/AleutianAI/AleutianQuery/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianQuery/services/orchestrator/observability"
)

var tracer = otel.Tracer("aleutian.query.workflow")

// =============================================================================
// Collaborators
// =============================================================================

// IntentClassifier produces the intent record. It never fails.
type IntentClassifier interface {
	Classify(ctx context.Context, q datatypes.Query, schema datatypes.Schema, history []datatypes.Message) datatypes.IntentRecord
}

// RecallClassifier is implemented by classifiers that also take earlier
// answered questions as context. The engine uses it when recall is wired.
type RecallClassifier interface {
	ClassifyWithRecall(ctx context.Context, q datatypes.Query, schema datatypes.Schema,
		history []datatypes.Message, similar []datatypes.SimilarQuery) datatypes.IntentRecord
}

// QueryRecall finds earlier answered questions similar to q. Optional.
type QueryRecall interface {
	Similar(ctx context.Context, q datatypes.Query) ([]datatypes.SimilarQuery, error)
}

// Planner maps an intent record to an execution plan.
type Planner interface {
	Route(rec datatypes.IntentRecord) datatypes.ExecutionPlan
}

// Analyzer is an analysis path. Run always returns a terminal result.
type Analyzer interface {
	Name() datatypes.PathName
	Run(ctx context.Context, in datatypes.PathInput) datatypes.PathResult
}

// Synthesizer merges terminal path results.
type Synthesizer interface {
	Synthesize(ctx context.Context, results []datatypes.PathResult, q datatypes.Query) (datatypes.SynthesisResult, error)
}

// SchemaProvider describes the data source of a query.
type SchemaProvider interface {
	Describe(ctx context.Context, ref datatypes.DataSourceRef) (datatypes.Schema, error)
}

// Profiler computes row counts and missing-value ratios. Optional.
type Profiler interface {
	Profile(ctx context.Context, ref datatypes.DataSourceRef) (datatypes.Profile, error)
}

// HistoryReader returns the most recent messages of a session, oldest
// first. Optional.
type HistoryReader interface {
	Recent(ctx context.Context, sessionID string, n int) ([]datatypes.Message, error)
}

// CompletionRecorder persists a finished request.
type CompletionRecorder interface {
	RecordCompletion(ctx context.Context, snap Snapshot) error
}

// =============================================================================
// Engine
// =============================================================================

// Config tunes the engine.
type Config struct {
	// PathTimeout bounds each analysis path.
	PathTimeout time.Duration `mapstructure:"path_timeout" validate:"gt=0"`

	// ProfileTimeout bounds data profiling for the crew path.
	ProfileTimeout time.Duration `mapstructure:"profile_timeout"`

	// RecordTimeout bounds the post-completion recorders.
	RecordTimeout time.Duration `mapstructure:"record_timeout"`
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		PathTimeout:    120 * time.Second,
		ProfileTimeout: 30 * time.Second,
		RecordTimeout:  5 * time.Second,
	}
}

// Deps are the engine collaborators. Classifier, Planner, Synthesizer,
// Schemas and at least one Analyzer are required.
type Deps struct {
	Classifier  IntentClassifier
	Planner     Planner
	Analyzers   []Analyzer
	Synthesizer Synthesizer
	Schemas     SchemaProvider
	Profiler    Profiler
	History     HistoryReader
	Recall      QueryRecall
	Recorders   []CompletionRecorder
	Audit       extensions.AuditLogger
}

// Engine runs queries.
//
// Thread Safety: Safe for concurrent use. Every Run has its own State.
type Engine struct {
	deps      Deps
	analyzers map[datatypes.PathName]Analyzer
	config    Config
}

// NewEngine validates deps and creates an Engine.
func NewEngine(deps Deps, cfg Config) (*Engine, error) {
	var errs []error
	if deps.Classifier == nil {
		errs = append(errs, errors.New("classifier is required"))
	}
	if deps.Planner == nil {
		errs = append(errs, errors.New("planner is required"))
	}
	if deps.Synthesizer == nil {
		errs = append(errs, errors.New("synthesizer is required"))
	}
	if deps.Schemas == nil {
		errs = append(errs, errors.New("schema provider is required"))
	}
	if len(deps.Analyzers) == 0 {
		errs = append(errs, errors.New("at least one analyzer is required"))
	}
	analyzers := make(map[datatypes.PathName]Analyzer, len(deps.Analyzers))
	for _, a := range deps.Analyzers {
		if _, dup := analyzers[a.Name()]; dup {
			errs = append(errs, fmt.Errorf("duplicate analyzer %s", a.Name()))
		}
		analyzers[a.Name()] = a
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("invalid workflow dependencies: %w", err)
	}

	if cfg.PathTimeout <= 0 {
		cfg.PathTimeout = DefaultConfig().PathTimeout
	}
	if cfg.RecordTimeout <= 0 {
		cfg.RecordTimeout = DefaultConfig().RecordTimeout
	}
	if deps.Audit == nil {
		deps.Audit = &extensions.NopAuditLogger{}
	}
	return &Engine{deps: deps, analyzers: analyzers, config: cfg}, nil
}

// Submit answers a question.
//
// # Description
//
// Creates the Query (a new session id when sessionID is empty), runs it
// and returns the synthesis. Synchronous for the caller.
//
// # Outputs
//
//   - datatypes.SynthesisResult: The answer.
//   - error: The cause of the error stage. A *SynthesisError when every
//     path failed.
func (e *Engine) Submit(ctx context.Context, sessionID, text string, ref datatypes.DataSourceRef) (datatypes.SynthesisResult, error) {
	snap := e.Run(ctx, datatypes.NewQuery(sessionID, text, ref))
	if snap.Err != nil {
		return datatypes.SynthesisResult{}, snap.Err
	}
	return *snap.Synthesis, nil
}

// Run drives q to a terminal stage and returns the final snapshot.
//
// Events reach the sink attached with WithEventSink, if any. The returned
// snapshot is either final with a synthesis or error with Err set.
func (e *Engine) Run(ctx context.Context, q datatypes.Query) Snapshot {
	ctx, span := tracer.Start(ctx, "workflow.Engine.Run",
		trace.WithAttributes(
			attribute.String("query_id", q.ID),
			attribute.String("session_id", q.SessionID),
			attribute.String("source_kind", string(q.Source.Kind)),
		),
	)
	defer span.End()
	ctx = withQueryID(ctx, q.ID)

	st := NewState(q)
	if err := e.run(ctx, st); err != nil {
		if ferr := st.Fail(err); ferr != nil {
			slog.Error("Could not enter error stage", "query_id", q.ID, "error", ferr)
		}
		e.emitStage(ctx, StageError)
		span.RecordError(err)
		span.SetStatus(codes.Error, "workflow failed")
		slog.Warn("Query failed", "query_id", q.ID, "error", err)
	}

	snap := st.Snapshot()
	approach := ""
	if snap.Plan != nil {
		approach = string(snap.Plan.Approach)
	}
	span.SetAttributes(attribute.String("stage", string(snap.Stage)), attribute.String("approach", approach))
	observability.RecordWorkflow(approach, string(snap.Stage), snap.Duration)

	e.complete(ctx, snap)
	Emit(ctx, Event{Type: EventDone, Snapshot: &snap})
	return snap
}

func (e *Engine) run(ctx context.Context, st *State) error {
	q := st.Snapshot().Query

	schema, err := e.deps.Schemas.Describe(ctx, q.Source)
	if err != nil {
		return fmt.Errorf("describe data source: %w", err)
	}

	var history []datatypes.Message
	if e.deps.History != nil {
		if history, err = e.deps.History.Recent(ctx, q.SessionID, datatypes.HistoryWindow); err != nil {
			slog.Warn("Could not load session history", "query_id", q.ID, "session_id", q.SessionID, "error", err)
			history = nil
		}
	}

	similar := e.recall(ctx, q)
	var rec datatypes.IntentRecord
	if rc, ok := e.deps.Classifier.(RecallClassifier); ok && len(similar) > 0 {
		rec = rc.ClassifyWithRecall(ctx, q, schema, history, similar)
	} else {
		rec = e.deps.Classifier.Classify(ctx, q, schema, history)
	}
	if err := st.SetIntent(rec); err != nil {
		return engineFault(err)
	}
	if err := e.advance(ctx, st, StageIntentAnalyzed); err != nil {
		return err
	}

	plan := e.deps.Planner.Route(rec)
	if err := st.SetPlan(plan); err != nil {
		return engineFault(err)
	}
	if err := e.advance(ctx, st, StageRouted); err != nil {
		return err
	}

	in := datatypes.PathInput{Query: q, Intent: rec, Schema: schema, History: history, Similar: similar}
	if plan.Includes(datatypes.PathCrew) {
		in.Profile = e.profile(ctx, q)
	}

	if err := e.advance(ctx, st, StageExecuting); err != nil {
		return err
	}
	if err := e.execute(ctx, st, plan, in); err != nil {
		return engineFault(err)
	}
	if err := e.advance(ctx, st, StageSynthesizing); err != nil {
		return err
	}

	res, err := e.deps.Synthesizer.Synthesize(ctx, st.Results(), q)
	if err != nil {
		var serr *SynthesisError
		if errors.As(err, &serr) {
			return err
		}
		return fmt.Errorf("synthesize: %w", err)
	}
	if err := st.SetSynthesis(res); err != nil {
		return engineFault(err)
	}
	return e.advance(ctx, st, StageFinal)
}

func (e *Engine) advance(ctx context.Context, st *State, to Stage) error {
	if err := st.Advance(to); err != nil {
		return engineFault(err)
	}
	observability.RecordTransition(string(to))
	e.emitStage(ctx, to)
	return nil
}

func (e *Engine) emitStage(ctx context.Context, stage Stage) {
	Emit(ctx, Event{Type: EventStage, Stage: stage})
}

func (e *Engine) profile(ctx context.Context, q datatypes.Query) *datatypes.Profile {
	if e.deps.Profiler == nil {
		return nil
	}
	pctx := ctx
	if e.config.ProfileTimeout > 0 {
		var cancel context.CancelFunc
		pctx, cancel = context.WithTimeout(ctx, e.config.ProfileTimeout)
		defer cancel()
	}
	p, err := e.deps.Profiler.Profile(pctx, q.Source)
	if err != nil {
		slog.Warn("Data profiling failed, continuing without profile", "query_id", q.ID, "error", err)
		return nil
	}
	return &p
}

// execute runs the planned paths concurrently and stores their results.
func (e *Engine) execute(ctx context.Context, st *State, plan datatypes.ExecutionPlan, in datatypes.PathInput) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, name := range plan.Paths {
		g.Go(func() error {
			res := e.runPath(gctx, name, in)
			if err := st.SetResult(res); err != nil {
				return err
			}
			Emit(ctx, Event{Type: EventPath, Path: res.Path, Status: res.Status})
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if !st.AllTerminal() {
		return errors.New("planned paths missing results after execution")
	}
	return nil
}

// runPath runs one analyzer under the path timeout. A path that does not
// return in time is abandoned and reported as a *TimeoutError.
func (e *Engine) runPath(ctx context.Context, name datatypes.PathName, in datatypes.PathInput) datatypes.PathResult {
	an, ok := e.analyzers[name]
	if !ok {
		return datatypes.FailedResult(name, fmt.Errorf("no analyzer registered for path %s", name))
	}

	timeout := e.config.PathTimeout
	pctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan datatypes.PathResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("Analysis path panicked", "query_id", in.Query.ID, "path", name, "panic", r)
				done <- datatypes.FailedResult(name, fmt.Errorf("%s path panicked: %v", name, r))
			}
		}()
		done <- an.Run(pctx, in)
	}()

	select {
	case res := <-done:
		res.Path = name
		if res.Status == datatypes.StatusFailed && errors.Is(pctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return e.timedOut(in.Query.ID, name, timeout)
		}
		return res
	case <-pctx.Done():
		if ctx.Err() != nil {
			return datatypes.FailedResult(name, ctx.Err())
		}
		return e.timedOut(in.Query.ID, name, timeout)
	}
}

func (e *Engine) timedOut(queryID string, name datatypes.PathName, timeout time.Duration) datatypes.PathResult {
	observability.RecordPathTimeout(string(name))
	slog.Warn("Analysis path timed out", "query_id", queryID, "path", name, "timeout", timeout)
	return datatypes.FailedResult(name, &TimeoutError{Path: name, Timeout: timeout})
}

// recall asks query memory for similar earlier questions. Failures are
// logged and yield none.
func (e *Engine) recall(ctx context.Context, q datatypes.Query) []datatypes.SimilarQuery {
	if e.deps.Recall == nil {
		return nil
	}
	similar, err := e.deps.Recall.Similar(ctx, q)
	if err != nil {
		slog.Warn("Query memory lookup failed", "query_id", q.ID, "error", err)
		return nil
	}
	return similar
}

// =============================================================================
// Completion
// =============================================================================

// complete hands the terminal snapshot to recorders and the audit logger.
func (e *Engine) complete(ctx context.Context, snap Snapshot) {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.config.RecordTimeout)
	defer cancel()

	for _, r := range e.deps.Recorders {
		if err := r.RecordCompletion(rctx, snap); err != nil {
			slog.Warn("Completion recorder failed", "query_id", snap.Query.ID, "error", err)
		}
	}
	if err := e.deps.Audit.Log(rctx, auditEvent(ctx, snap)); err != nil {
		slog.Warn("Audit logging failed", "query_id", snap.Query.ID, "error", err)
	}
}

func auditEvent(ctx context.Context, snap Snapshot) extensions.AuditEvent {
	ev := extensions.AuditEvent{
		EventType:    extensions.EventQueryFinal,
		Timestamp:    time.Now().UTC(),
		UserID:       extensions.UserIDFromContext(ctx),
		Action:       "submit",
		ResourceType: "query",
		ResourceID:   snap.Query.ID,
		Outcome:      "success",
		Metadata: map[string]any{
			"session_id":  snap.Query.SessionID,
			"source_id":   snap.Query.Source.ID,
			"duration_ms": snap.Duration.Milliseconds(),
		},
	}
	if snap.Plan != nil {
		ev.Metadata["approach"] = string(snap.Plan.Approach)
	}
	if snap.Synthesis != nil {
		ev.Metadata["confidence"] = snap.Synthesis.Confidence
	}
	if snap.Stage == StageError {
		ev.EventType = extensions.EventQueryError
		ev.Outcome = "error"
		ev.Metadata["error"] = snap.Error
	}
	return ev
}
