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
	"database/sql"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite" // pure Go SQLite driver

	"github.com/AleutianAI/AleutianQuery/services/orchestrator/datatypes"
)

// =============================================================================
// Errors
// =============================================================================

var (
	// ErrEmptyCSV is returned for an upload with no header row.
	ErrEmptyCSV = errors.New("csv file is empty")

	// ErrTooManyRows is returned when an upload exceeds MaxImportRows.
	ErrTooManyRows = errors.New("file has too many rows")

	// ErrEmptyJSON is returned for a JSON upload with no records.
	ErrEmptyJSON = errors.New("json file has no records")

	// ErrInvalidJSON is returned when a JSON upload is not an array of
	// objects or a stream of objects.
	ErrInvalidJSON = errors.New("json file must hold an array of objects or one object per line")

	// ErrUnsupportedFormat is returned by Import for an unknown extension.
	ErrUnsupportedFormat = errors.New("unsupported file format")
)

// MaxImportRows bounds the number of data rows imported from one file.
const MaxImportRows = 500_000

// =============================================================================
// SQLite Store
// =============================================================================

// SQLiteStore keeps uploaded datasets as tables in one SQLite database.
//
// Each uploaded file becomes one table and one data source id. The store is
// registered in the Registry once per uploaded file.
//
// Thread Safety: Safe for concurrent use.
type SQLiteStore struct {
	db *sql.DB

	mu     sync.RWMutex
	tables map[string][]string // source id -> table names

	closeOnce sync.Once
	closeErr  error
}

// OpenSQLite opens (or creates) the store at path. An empty path or
// ":memory:" keeps everything in memory.
func OpenSQLite(path string) (*SQLiteStore, error) {
	dsn := path
	if dsn == "" {
		dsn = ":memory:"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dsn, err)
	}
	// An in-memory database exists per connection.
	db.SetMaxOpenConns(1)

	if dsn != ":memory:" {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable WAL: %w", err)
		}
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	return &SQLiteStore{db: db, tables: make(map[string][]string)}, nil
}

// Dialect implements Source.
func (s *SQLiteStore) Dialect() string { return DialectSQLite }

// Close implements Source. The store is shared by every upload, so Close
// may be called once per registration; only the first call closes.
func (s *SQLiteStore) Close() error {
	s.closeOnce.Do(func() { s.closeErr = s.db.Close() })
	return s.closeErr
}

// Tables returns the table names backing a source id.
func (s *SQLiteStore) Tables(id string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.tables[id]...)
}

// ImportCSV creates a table from CSV data and binds it to source id.
//
// # Description
//
// The first record is the header. Column names are sanitized into SQL
// identifiers and column types are inferred from every value: INTEGER when
// all non-empty cells parse as integers, REAL when they parse as numbers,
// TEXT otherwise. Empty cells are stored as NULL. The table is named after
// fileName and suffixed when the name is taken.
//
// # Inputs
//
//   - ctx: Bounds the import.
//   - id: Data source id that will own the table.
//   - fileName: Original file name, used for the table name.
//   - r: CSV content.
//
// # Outputs
//
//   - string: Name of the created table.
//   - error: ErrEmptyCSV, ErrTooManyRows, or a parse/database error.
func (s *SQLiteStore) ImportCSV(ctx context.Context, id, fileName string, r io.Reader) (string, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return "", ErrEmptyCSV
	}
	if err != nil {
		return "", fmt.Errorf("read csv header: %w", err)
	}

	var rows [][]string
	for {
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("read csv row %d: %w", len(rows)+2, err)
		}
		if len(rows) >= MaxImportRows {
			return "", fmt.Errorf("%w: limit is %d", ErrTooManyRows, MaxImportRows)
		}
		rows = append(rows, rec)
	}
	return s.importRows(ctx, id, fileName, header, rows)
}

// Import dispatches on the file extension: .csv and .txt go to ImportCSV,
// .json, .jsonl and .ndjson to ImportJSON. Anything else is
// ErrUnsupportedFormat.
func (s *SQLiteStore) Import(ctx context.Context, id, fileName string, r io.Reader) (string, error) {
	switch FormatOf(fileName) {
	case FormatCSV:
		return s.ImportCSV(ctx, id, fileName, r)
	case FormatJSON:
		return s.ImportJSON(ctx, id, fileName, r)
	}
	return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(fileName))
}

// importRows creates the table for header and rows inside one transaction.
func (s *SQLiteStore) importRows(ctx context.Context, id, fileName string, header []string, rows [][]string) (string, error) {
	columns := sanitizeColumns(header)
	types := inferTypes(len(columns), rows)

	s.mu.Lock()
	defer s.mu.Unlock()

	table, err := s.uniqueTableName(ctx, tableNameFor(fileName))
	if err != nil {
		return "", err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin import: %w", err)
	}
	defer tx.Rollback()

	defs := make([]string, len(columns))
	placeholders := make([]string, len(columns))
	for i, c := range columns {
		defs[i] = quoteIdent(c) + " " + types[i]
		placeholders[i] = "?"
	}
	ddl := fmt.Sprintf("CREATE TABLE %s (%s)", quoteIdent(table), strings.Join(defs, ", "))
	if _, err := tx.ExecContext(ctx, ddl); err != nil {
		return "", fmt.Errorf("create table %s: %w", table, err)
	}

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf("INSERT INTO %s VALUES (%s)",
		quoteIdent(table), strings.Join(placeholders, ", ")))
	if err != nil {
		return "", fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	args := make([]any, len(columns))
	for n, rec := range rows {
		for i := range columns {
			args[i] = convertCell(cell(rec, i), types[i])
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return "", fmt.Errorf("insert row %d: %w", n+2, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit import: %w", err)
	}

	s.tables[id] = append(s.tables[id], table)
	slog.Info("Imported dataset",
		"source_id", id, "table", table, "columns", len(columns), "rows", len(rows))
	return table, nil
}

// Drop removes every table bound to id.
func (s *SQLiteStore) Drop(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tables[id] {
		if _, err := s.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+quoteIdent(t)); err != nil {
			return fmt.Errorf("drop table %s: %w", t, err)
		}
	}
	delete(s.tables, id)
	return nil
}

// Describe implements SchemaProvider.
func (s *SQLiteStore) Describe(ctx context.Context, ref datatypes.DataSourceRef) (datatypes.Schema, error) {
	tables := s.Tables(ref.ID)
	if len(tables) == 0 {
		return datatypes.Schema{}, fmt.Errorf("%w: %s", ErrUnknownSource, ref.ID)
	}
	schema := datatypes.Schema{}
	for _, name := range tables {
		tbl := datatypes.Table{Name: name}
		rows, err := s.db.QueryContext(ctx, "SELECT name, type FROM pragma_table_info(?)", name)
		if err != nil {
			return datatypes.Schema{}, fmt.Errorf("describe %s: %w", name, err)
		}
		for rows.Next() {
			var col datatypes.Column
			if err := rows.Scan(&col.Name, &col.Type); err != nil {
				rows.Close()
				return datatypes.Schema{}, fmt.Errorf("scan column of %s: %w", name, err)
			}
			tbl.Columns = append(tbl.Columns, col)
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return datatypes.Schema{}, err
		}
		schema.Tables = append(schema.Tables, tbl)
	}
	return schema, nil
}

// Run implements QueryExecutor.
func (s *SQLiteStore) Run(ctx context.Context, query string, _ datatypes.DataSourceRef, timeout time.Duration) (QueryResult, error) {
	ctx, cancel := boundedContext(ctx, timeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return QueryResult{}, err
	}
	defer rows.Close()
	return scanRows(rows)
}

// Profile implements Profiler.
func (s *SQLiteStore) Profile(ctx context.Context, ref datatypes.DataSourceRef) (datatypes.Profile, error) {
	schema, err := s.Describe(ctx, ref)
	if err != nil {
		return datatypes.Profile{}, err
	}
	return profileTables(ctx, schema, func(ctx context.Context, q string, n int) ([]int64, error) {
		return scanCounts(s.db.QueryRowContext(ctx, q).Scan, n)
	}, quoteIdent)
}

func (s *SQLiteStore) uniqueTableName(ctx context.Context, base string) (string, error) {
	name := base
	for n := 2; ; n++ {
		var count int
		err := s.db.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND lower(name) = lower(?)", name).Scan(&count)
		if err != nil {
			return "", fmt.Errorf("check table name: %w", err)
		}
		if count == 0 {
			return name, nil
		}
		name = fmt.Sprintf("%s_%d", base, n)
	}
}

var _ Source = (*SQLiteStore)(nil)

// =============================================================================
// Helpers
// =============================================================================

func scanRows(rows *sql.Rows) (QueryResult, error) {
	cols, err := rows.Columns()
	if err != nil {
		return QueryResult{}, err
	}
	res := QueryResult{Columns: cols, Rows: [][]any{}}
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return QueryResult{}, err
		}
		for i, v := range vals {
			if b, ok := v.([]byte); ok {
				vals[i] = string(b)
			}
		}
		res.Rows = append(res.Rows, vals)
	}
	if err := rows.Err(); err != nil {
		return QueryResult{}, err
	}
	res.RowCount = len(res.Rows)
	return res, nil
}

// profileTables runs one counting query per table: COUNT(*) followed by
// COUNT(col) for every column.
func profileTables(ctx context.Context, schema datatypes.Schema,
	counts func(ctx context.Context, query string, n int) ([]int64, error), quote func(string) string) (datatypes.Profile, error) {

	var profile datatypes.Profile
	for _, tbl := range schema.Tables {
		exprs := []string{"COUNT(*)"}
		for _, c := range tbl.Columns {
			exprs = append(exprs, "COUNT("+quote(c.Name)+")")
		}
		q := fmt.Sprintf("SELECT %s FROM %s", strings.Join(exprs, ", "), quote(tbl.Name))
		vals, err := counts(ctx, q, len(exprs))
		if err != nil {
			return datatypes.Profile{}, fmt.Errorf("profile %s: %w", tbl.Name, err)
		}
		tp := datatypes.TableProfile{Name: tbl.Name, RowCount: vals[0]}
		for i, c := range tbl.Columns {
			ratio := 0.0
			if vals[0] > 0 {
				ratio = float64(vals[0]-vals[i+1]) / float64(vals[0])
			}
			tp.Columns = append(tp.Columns, datatypes.ColumnProfile{Name: c.Name, Type: c.Type, NullRatio: ratio})
		}
		profile.Tables = append(profile.Tables, tp)
	}
	return profile, nil
}

func scanCounts(scan func(dest ...any) error, n int) ([]int64, error) {
	vals := make([]int64, n)
	ptrs := make([]any, n)
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	if err := scan(ptrs...); err != nil {
		return nil, err
	}
	return vals, nil
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// identifier turns arbitrary text into a lower-case SQL identifier.
func identifier(raw, fallback string) string {
	var sb strings.Builder
	lastUnderscore := false
	for _, r := range strings.ToLower(strings.TrimSpace(raw)) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			sb.WriteRune(r)
			lastUnderscore = false
			continue
		}
		if !lastUnderscore && sb.Len() > 0 {
			sb.WriteByte('_')
			lastUnderscore = true
		}
	}
	id := strings.TrimRight(sb.String(), "_")
	if id == "" {
		return fallback
	}
	if id[0] >= '0' && id[0] <= '9' {
		id = "t_" + id
	}
	return id
}

func tableNameFor(fileName string) string {
	base := strings.TrimSuffix(filepath.Base(fileName), filepath.Ext(fileName))
	return identifier(base, "dataset")
}

func sanitizeColumns(header []string) []string {
	seen := make(map[string]int, len(header))
	out := make([]string, len(header))
	for i, h := range header {
		name := identifier(h, fmt.Sprintf("column_%d", i+1))
		if n := seen[name]; n > 0 {
			seen[name] = n + 1
			name = fmt.Sprintf("%s_%d", name, n+1)
		} else {
			seen[name] = 1
		}
		out[i] = name
	}
	return out
}

func cell(rec []string, i int) string {
	if i < len(rec) {
		return strings.TrimSpace(rec[i])
	}
	return ""
}

func inferTypes(n int, rows [][]string) []string {
	types := make([]string, n)
	for i := 0; i < n; i++ {
		isInt, isReal, seen := true, true, false
		for _, rec := range rows {
			v := cell(rec, i)
			if v == "" {
				continue
			}
			seen = true
			if _, err := strconv.ParseInt(v, 10, 64); err != nil {
				isInt = false
			}
			if _, err := strconv.ParseFloat(v, 64); err != nil {
				isReal = false
				break
			}
		}
		switch {
		case !seen:
			types[i] = "TEXT"
		case isInt:
			types[i] = "INTEGER"
		case isReal:
			types[i] = "REAL"
		default:
			types[i] = "TEXT"
		}
	}
	return types
}

func convertCell(v, typ string) any {
	if v == "" {
		return nil
	}
	switch typ {
	case "INTEGER":
		n, _ := strconv.ParseInt(v, 10, 64)
		return n
	case "REAL":
		f, _ := strconv.ParseFloat(v, 64)
		return f
	}
	return v
}
