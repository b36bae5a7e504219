// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datasource provides the data-source collaborators of the
// orchestration core: schema description, query execution and profiling.
//
// Two implementations exist. SQLiteStore holds uploaded CSV files as
// tables in an embedded SQLite database; PostgresSource connects to an
// external PostgreSQL server. The Registry routes each call by data
// source id and is what the core is wired against.
//
// Executors run whatever they are given. Only read-only access is ever
// requested because generated SQL is validated before execution.
package datasource

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianQuery/services/orchestrator/datatypes"
)

// Dialects reported by Source.Dialect.
const (
	DialectSQLite   = "sqlite"
	DialectPostgres = "postgres"
)

// ErrUnknownSource is returned for an unregistered data source id.
var ErrUnknownSource = errors.New("unknown data source")

// QueryResult is the outcome of an executed query.
type QueryResult struct {
	Columns  []string `json:"columns"`
	Rows     [][]any  `json:"rows"`
	RowCount int      `json:"row_count"`
}

// SchemaProvider describes a data source. It has no side effects.
type SchemaProvider interface {
	Describe(ctx context.Context, ref datatypes.DataSourceRef) (datatypes.Schema, error)
}

// QueryExecutor runs a query with a bounded timeout.
type QueryExecutor interface {
	Run(ctx context.Context, query string, ref datatypes.DataSourceRef, timeout time.Duration) (QueryResult, error)
}

// Profiler computes row counts and missing-value ratios.
type Profiler interface {
	Profile(ctx context.Context, ref datatypes.DataSourceRef) (datatypes.Profile, error)
}

// Source is a concrete data source backend.
type Source interface {
	SchemaProvider
	QueryExecutor
	Profiler
	Dialect() string
	Close() error
}

// Info describes a registered data source.
type Info struct {
	ID        string                   `json:"id"`
	Kind      datatypes.DataSourceKind `json:"kind"`
	Name      string                   `json:"name"`
	Dialect   string                   `json:"dialect"`
	CreatedAt time.Time                `json:"created_at"`

	// Classification is the data policy label of an uploaded file.
	Classification string `json:"classification,omitempty"`
}

type registration struct {
	info   Info
	source Source
}

// Registry maps data source ids to backends.
//
// Thread Safety: Safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	sources map[string]registration
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{sources: make(map[string]registration)}
}

// Register adds or replaces a source.
func (r *Registry) Register(info Info, src Source) {
	if info.CreatedAt.IsZero() {
		info.CreatedAt = time.Now().UTC()
	}
	info.Dialect = src.Dialect()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources[info.ID] = registration{info: info, source: src}
}

// Lookup returns the info for id.
func (r *Registry) Lookup(id string) (Info, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.sources[id]
	return reg.info, ok
}

// Ref returns the DataSourceRef for id.
func (r *Registry) Ref(id string) (datatypes.DataSourceRef, error) {
	info, ok := r.Lookup(id)
	if !ok {
		return datatypes.DataSourceRef{}, fmt.Errorf("%w: %s", ErrUnknownSource, id)
	}
	return datatypes.DataSourceRef{ID: info.ID, Kind: info.Kind}, nil
}

// List returns all sources ordered by creation time.
func (r *Registry) List() []Info {
	r.mu.RLock()
	out := make([]Info, 0, len(r.sources))
	for _, reg := range r.sources {
		out = append(out, reg.info)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Remove unregisters id. The backend is not closed because sources may be
// shared (one SQLiteStore holds every uploaded file).
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sources[id]; !ok {
		return false
	}
	delete(r.sources, id)
	return true
}

// Dialect returns the SQL dialect for ref, defaulting to sqlite.
func (r *Registry) Dialect(ref datatypes.DataSourceRef) string {
	if src, err := r.source(ref); err == nil {
		return src.Dialect()
	}
	return DialectSQLite
}

// Describe implements SchemaProvider.
func (r *Registry) Describe(ctx context.Context, ref datatypes.DataSourceRef) (datatypes.Schema, error) {
	src, err := r.source(ref)
	if err != nil {
		return datatypes.Schema{}, err
	}
	return src.Describe(ctx, ref)
}

// Run implements QueryExecutor.
func (r *Registry) Run(ctx context.Context, query string, ref datatypes.DataSourceRef, timeout time.Duration) (QueryResult, error) {
	src, err := r.source(ref)
	if err != nil {
		return QueryResult{}, err
	}
	return src.Run(ctx, query, ref, timeout)
}

// Profile implements Profiler.
func (r *Registry) Profile(ctx context.Context, ref datatypes.DataSourceRef) (datatypes.Profile, error) {
	src, err := r.source(ref)
	if err != nil {
		return datatypes.Profile{}, err
	}
	return src.Profile(ctx, ref)
}

// Close closes every distinct backend.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := make(map[Source]bool)
	var errs []error
	for _, reg := range r.sources {
		if seen[reg.source] {
			continue
		}
		seen[reg.source] = true
		if err := reg.source.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	r.sources = make(map[string]registration)
	return errors.Join(errs...)
}

func (r *Registry) source(ref datatypes.DataSourceRef) (Source, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.sources[ref.ID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSource, ref.ID)
	}
	return reg.source, nil
}

var (
	_ SchemaProvider = (*Registry)(nil)
	_ QueryExecutor  = (*Registry)(nil)
	_ Profiler       = (*Registry)(nil)
)

// boundedContext applies timeout to ctx when positive.
func boundedContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout > 0 {
		return context.WithTimeout(ctx, timeout)
	}
	return context.WithCancel(ctx)
}
