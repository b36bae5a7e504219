// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datasource

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/AleutianAI/AleutianQuery/services/orchestrator/datatypes"
)

const describeColumnsSQL = `
SELECT c.table_name, c.column_name, c.data_type
FROM information_schema.columns c
JOIN information_schema.tables t
  ON t.table_schema = c.table_schema AND t.table_name = c.table_name
WHERE c.table_schema = $1 AND t.table_type = 'BASE TABLE'
ORDER BY c.table_name, c.ordinal_position`

const describeForeignKeysSQL = `
SELECT kcu.table_name, kcu.column_name, ccu.table_name, ccu.column_name
FROM information_schema.table_constraints tc
JOIN information_schema.key_column_usage kcu
  ON tc.constraint_name = kcu.constraint_name AND tc.table_schema = kcu.table_schema
JOIN information_schema.constraint_column_usage ccu
  ON ccu.constraint_name = tc.constraint_name AND ccu.table_schema = tc.table_schema
WHERE tc.constraint_type = 'FOREIGN KEY' AND tc.table_schema = $1
ORDER BY kcu.table_name, kcu.column_name`

// PostgresSource is a connected PostgreSQL database.
//
// Queries run inside read-only transactions.
type PostgresSource struct {
	pool   *pgxpool.Pool
	schema string
}

// ConnectPostgres opens a pool for dsn and verifies it with a ping.
// schemaName defaults to "public".
func ConnectPostgres(ctx context.Context, dsn, schemaName string) (*PostgresSource, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return NewPostgresSource(pool, schemaName), nil
}

// NewPostgresSource wraps an existing pool.
func NewPostgresSource(pool *pgxpool.Pool, schemaName string) *PostgresSource {
	if schemaName == "" {
		schemaName = "public"
	}
	return &PostgresSource{pool: pool, schema: schemaName}
}

// Dialect implements Source.
func (p *PostgresSource) Dialect() string { return DialectPostgres }

// Close implements Source.
func (p *PostgresSource) Close() error {
	p.pool.Close()
	return nil
}

// Describe implements SchemaProvider. Tables come from information_schema
// and relationships from declared foreign keys.
func (p *PostgresSource) Describe(ctx context.Context, _ datatypes.DataSourceRef) (datatypes.Schema, error) {
	rows, err := p.pool.Query(ctx, describeColumnsSQL, p.schema)
	if err != nil {
		return datatypes.Schema{}, fmt.Errorf("describe columns: %w", err)
	}
	var schema datatypes.Schema
	index := map[string]int{}
	for rows.Next() {
		var table string
		var col datatypes.Column
		if err := rows.Scan(&table, &col.Name, &col.Type); err != nil {
			rows.Close()
			return datatypes.Schema{}, err
		}
		i, ok := index[table]
		if !ok {
			i = len(schema.Tables)
			index[table] = i
			schema.Tables = append(schema.Tables, datatypes.Table{Name: table})
		}
		schema.Tables[i].Columns = append(schema.Tables[i].Columns, col)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return datatypes.Schema{}, err
	}

	fks, err := p.pool.Query(ctx, describeForeignKeysSQL, p.schema)
	if err != nil {
		return datatypes.Schema{}, fmt.Errorf("describe foreign keys: %w", err)
	}
	defer fks.Close()
	for fks.Next() {
		var r datatypes.Relationship
		if err := fks.Scan(&r.FromTable, &r.FromColumn, &r.ToTable, &r.ToColumn); err != nil {
			return datatypes.Schema{}, err
		}
		schema.Relationships = append(schema.Relationships, r)
	}
	return schema, fks.Err()
}

// Run implements QueryExecutor.
func (p *PostgresSource) Run(ctx context.Context, query string, _ datatypes.DataSourceRef, timeout time.Duration) (QueryResult, error) {
	ctx, cancel := boundedContext(ctx, timeout)
	defer cancel()

	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		return QueryResult{}, fmt.Errorf("begin read-only transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, query)
	if err != nil {
		return QueryResult{}, err
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	res := QueryResult{Columns: make([]string, len(fields)), Rows: [][]any{}}
	for i, f := range fields {
		res.Columns[i] = f.Name
	}
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return QueryResult{}, err
		}
		for i, v := range vals {
			vals[i] = normalizeValue(v)
		}
		res.Rows = append(res.Rows, vals)
	}
	if err := rows.Err(); err != nil {
		return QueryResult{}, err
	}
	res.RowCount = len(res.Rows)
	return res, nil
}

// Profile implements Profiler.
func (p *PostgresSource) Profile(ctx context.Context, ref datatypes.DataSourceRef) (datatypes.Profile, error) {
	schema, err := p.Describe(ctx, ref)
	if err != nil {
		return datatypes.Profile{}, err
	}
	// Unqualified table names resolve through the connection's search_path.
	quote := func(name string) string { return pgx.Identifier{name}.Sanitize() }
	return profileTables(ctx, schema, func(ctx context.Context, q string, n int) ([]int64, error) {
		return scanCounts(p.pool.QueryRow(ctx, q).Scan, n)
	}, quote)
}

var _ Source = (*PostgresSource)(nil)

// normalizeValue converts driver types into JSON-friendly values.
func normalizeValue(v any) any {
	switch t := v.(type) {
	case pgtype.Numeric:
		f, err := t.Float64Value()
		if err != nil || !f.Valid {
			return nil
		}
		return f.Float64
	case [16]byte:
		return uuid.UUID(t).String()
	case []byte:
		return string(t)
	default:
		return v
	}
}
