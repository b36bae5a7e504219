// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package workflow

import (
	"context"
	"time"

	"github.com/AleutianAI/AleutianQuery/services/orchestrator/datatypes"
)

// EventType labels a progress event.
type EventType string

const (
	EventStage     EventType = "stage"
	EventPath      EventType = "path"
	EventCrewStage EventType = "crew_stage"
	EventDone      EventType = "done"
)

// Event is a progress notification for one request.
type Event struct {
	Type    EventType `json:"type"`
	QueryID string    `json:"query_id"`
	At      time.Time `json:"at"`

	// Stage is set for EventStage.
	Stage Stage `json:"stage,omitempty"`

	// Path and Status are set for EventPath.
	Path   datatypes.PathName   `json:"path,omitempty"`
	Status datatypes.PathStatus `json:"status,omitempty"`

	// CrewStage is set for EventCrewStage.
	CrewStage *datatypes.StageOutput `json:"crew_stage,omitempty"`

	// Snapshot is set for EventDone.
	Snapshot *Snapshot `json:"snapshot,omitempty"`
}

// EventSink receives events. It is called from path goroutines and must
// not block for long.
type EventSink func(ctx context.Context, ev Event)

type sinkKey struct{}
type queryIDKey struct{}

// WithEventSink attaches sink to ctx. Events emitted with Emit under the
// returned context reach it.
func WithEventSink(ctx context.Context, sink EventSink) context.Context {
	if sink == nil {
		return ctx
	}
	return context.WithValue(ctx, sinkKey{}, sink)
}

func withQueryID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, queryIDKey{}, id)
}

// Emit sends ev to the sink attached to ctx, if any. QueryID and At are
// filled in when empty.
func Emit(ctx context.Context, ev Event) {
	sink, ok := ctx.Value(sinkKey{}).(EventSink)
	if !ok {
		return
	}
	if ev.QueryID == "" {
		ev.QueryID, _ = ctx.Value(queryIDKey{}).(string)
	}
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	sink(ctx, ev)
}

// CrewStageObserver returns a function suitable for crew.Path.WithObserver
// that forwards each stage output as an EventCrewStage.
func CrewStageObserver() func(ctx context.Context, out datatypes.StageOutput) {
	return func(ctx context.Context, out datatypes.StageOutput) {
		o := out
		Emit(ctx, Event{Type: EventCrewStage, CrewStage: &o})
	}
}
