// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package workflow

import (
	"fmt"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianQuery/services/orchestrator/datatypes"
)

// Stage is a lifecycle stage of one request.
type Stage string

const (
	StageInitial        Stage = "initial"
	StageIntentAnalyzed Stage = "intent_analyzed"
	StageRouted         Stage = "routed"
	StageExecuting      Stage = "executing"
	StageSynthesizing   Stage = "synthesizing"
	StageFinal          Stage = "final"
	StageError          Stage = "error"
)

// stageOrder gives the position of each forward stage.
var stageOrder = map[Stage]int{
	StageInitial:        0,
	StageIntentAnalyzed: 1,
	StageRouted:         2,
	StageExecuting:      3,
	StageSynthesizing:   4,
	StageFinal:          5,
}

// Terminal reports whether no transition leaves s.
func (s Stage) Terminal() bool { return s == StageFinal || s == StageError }

// Transition records when a stage was entered.
type Transition struct {
	Stage Stage     `json:"stage"`
	At    time.Time `json:"at"`
}

// State is the aggregate root of one request.
//
// # Description
//
// The engine is the only writer. Stages only move forward one step at a
// time, and each step checks that the fields it depends on are set. Error
// is reachable from every non-terminal stage. Intent, plan and synthesis
// are written once; each planned path writes its result once.
//
// Thread Safety: Safe for concurrent use. Path goroutines call SetResult
// concurrently; every method takes the state mutex.
type State struct {
	mu sync.Mutex

	query       datatypes.Query
	stage       Stage
	intent      *datatypes.IntentRecord
	plan        *datatypes.ExecutionPlan
	results     map[datatypes.PathName]datatypes.PathResult
	synthesis   *datatypes.SynthesisResult
	err         error
	transitions []Transition
}

// NewState creates the state for q in StageInitial.
func NewState(q datatypes.Query) *State {
	return &State{
		query:       q,
		stage:       StageInitial,
		results:     make(map[datatypes.PathName]datatypes.PathResult),
		transitions: []Transition{{Stage: StageInitial, At: time.Now().UTC()}},
	}
}

// Stage returns the current stage.
func (s *State) Stage() Stage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stage
}

// SetIntent stores the intent record. It may be set once, before routing.
func (s *State) SetIntent(rec datatypes.IntentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.intent != nil {
		return &TransitionError{From: s.stage, To: StageIntentAnalyzed, Reason: "intent already set"}
	}
	if s.stage != StageInitial {
		return &TransitionError{From: s.stage, To: StageIntentAnalyzed, Reason: "intent set after initial stage"}
	}
	s.intent = &rec
	return nil
}

// SetPlan stores the execution plan. It may be set once, after the intent.
func (s *State) SetPlan(plan datatypes.ExecutionPlan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.plan != nil {
		return &TransitionError{From: s.stage, To: StageRouted, Reason: "plan already set"}
	}
	if s.stage != StageIntentAnalyzed {
		return &TransitionError{From: s.stage, To: StageRouted, Reason: "plan set outside intent_analyzed"}
	}
	if len(plan.Paths) == 0 {
		return &TransitionError{From: s.stage, To: StageRouted, Reason: "plan has no paths"}
	}
	p := plan
	p.Paths = append([]datatypes.PathName(nil), plan.Paths...)
	s.plan = &p
	return nil
}

// SetResult stores the terminal result of a planned path.
//
// Each path may write once and only while executing. Writing an unplanned
// path, a duplicate or a result without a status is an error.
func (s *State) SetResult(r datatypes.PathResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stage != StageExecuting {
		return fmt.Errorf("result for %s written in stage %s", r.Path, s.stage)
	}
	if !s.plan.Includes(r.Path) {
		return fmt.Errorf("result for unplanned path %s", r.Path)
	}
	if _, dup := s.results[r.Path]; dup {
		return fmt.Errorf("duplicate result for path %s", r.Path)
	}
	switch r.Status {
	case datatypes.StatusOK, datatypes.StatusDegraded, datatypes.StatusFailed:
	default:
		return fmt.Errorf("result for path %s has non-terminal status %q", r.Path, r.Status)
	}
	s.results[r.Path] = r
	return nil
}

// AllTerminal reports whether every planned path has a result.
func (s *State) AllTerminal() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.allTerminalLocked()
}

func (s *State) allTerminalLocked() bool {
	if s.plan == nil {
		return false
	}
	for _, p := range s.plan.Paths {
		if _, ok := s.results[p]; !ok {
			return false
		}
	}
	return true
}

// Results returns the path results in plan order.
func (s *State) Results() []datatypes.PathResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resultsLocked()
}

func (s *State) resultsLocked() []datatypes.PathResult {
	if s.plan == nil {
		return nil
	}
	out := make([]datatypes.PathResult, 0, len(s.results))
	for _, p := range s.plan.Paths {
		if r, ok := s.results[p]; ok {
			out = append(out, r)
		}
	}
	return out
}

// SetSynthesis stores the synthesis result. It may be set once, while
// synthesizing.
func (s *State) SetSynthesis(res datatypes.SynthesisResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.synthesis != nil {
		return &TransitionError{From: s.stage, To: StageFinal, Reason: "synthesis already set"}
	}
	if s.stage != StageSynthesizing {
		return &TransitionError{From: s.stage, To: StageFinal, Reason: "synthesis set outside synthesizing"}
	}
	s.synthesis = &res
	return nil
}

// Advance moves to the next stage.
//
// # Description
//
// to must be the stage directly after the current one. The required
// fields are checked before moving:
//
//   - intent_analyzed: intent set
//   - routed: plan set
//   - synthesizing: every planned path terminal
//   - final: synthesis set
//
// Use Fail to enter StageError.
//
// # Outputs
//
//   - error: *TransitionError when the move is not allowed. The stage is
//     unchanged.
func (s *State) Advance(to Stage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	from := s.stage
	if from.Terminal() {
		return &TransitionError{From: from, To: to, Reason: "stage is terminal"}
	}
	if to == StageError {
		return &TransitionError{From: from, To: to, Reason: "use Fail to enter the error stage"}
	}
	next, known := stageOrder[to]
	if !known || next != stageOrder[from]+1 {
		return &TransitionError{From: from, To: to, Reason: "transitions move forward one stage at a time"}
	}

	switch to {
	case StageIntentAnalyzed:
		if s.intent == nil {
			return &TransitionError{From: from, To: to, Reason: "intent not set"}
		}
	case StageRouted:
		if s.plan == nil {
			return &TransitionError{From: from, To: to, Reason: "plan not set"}
		}
	case StageSynthesizing:
		if !s.allTerminalLocked() {
			return &TransitionError{From: from, To: to, Reason: "planned paths still pending"}
		}
	case StageFinal:
		if s.synthesis == nil {
			return &TransitionError{From: from, To: to, Reason: "synthesis not set"}
		}
	}

	s.enterLocked(to)
	return nil
}

// Fail moves to StageError with cause. It fails with a *TransitionError
// when the stage is already terminal.
func (s *State) Fail(cause error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stage.Terminal() {
		return &TransitionError{From: s.stage, To: StageError, Reason: "stage is terminal"}
	}
	s.err = cause
	s.enterLocked(StageError)
	return nil
}

func (s *State) enterLocked(to Stage) {
	s.stage = to
	s.transitions = append(s.transitions, Transition{Stage: to, At: time.Now().UTC()})
}

// =============================================================================
// Snapshot
// =============================================================================

// Snapshot is a read-only copy of a State.
type Snapshot struct {
	Query       datatypes.Query            `json:"query"`
	Stage       Stage                      `json:"stage"`
	Intent      *datatypes.IntentRecord    `json:"intent,omitempty"`
	Plan        *datatypes.ExecutionPlan   `json:"plan,omitempty"`
	Results     []datatypes.PathResult     `json:"results,omitempty"`
	Synthesis   *datatypes.SynthesisResult `json:"synthesis,omitempty"`
	Err         error                      `json:"-"`
	Error       string                     `json:"error,omitempty"`
	Transitions []Transition               `json:"transitions"`
	Duration    time.Duration              `json:"duration_ns"`
}

// Snapshot copies the current state.
func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		Query:       s.query,
		Stage:       s.stage,
		Results:     s.resultsLocked(),
		Err:         s.err,
		Transitions: append([]Transition(nil), s.transitions...),
	}
	if s.intent != nil {
		rec := *s.intent
		snap.Intent = &rec
	}
	if s.plan != nil {
		p := *s.plan
		p.Paths = append([]datatypes.PathName(nil), s.plan.Paths...)
		snap.Plan = &p
	}
	if s.synthesis != nil {
		res := *s.synthesis
		snap.Synthesis = &res
	}
	if s.err != nil {
		snap.Error = s.err.Error()
	}
	if n := len(s.transitions); n > 0 {
		snap.Duration = s.transitions[n-1].At.Sub(s.transitions[0].At)
	}
	return snap
}

// Visited reports whether the snapshot passed through stage.
func (s Snapshot) Visited(stage Stage) bool {
	for _, t := range s.Transitions {
		if t.Stage == stage {
			return true
		}
	}
	return false
}
