// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datasource

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianQuery/services/orchestrator/datatypes"
)

const salesCSV = `Region,Amount,Units,Note
East,100.5,3,first
West,200,4,
East,50,1,third
North,,2,fourth
`

func openStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := OpenSQLite("")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func fileRef(id string) datatypes.DataSourceRef {
	return datatypes.DataSourceRef{ID: id, Kind: datatypes.SourceFile}
}

func TestSQLiteStore_ImportAndDescribe(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	table, err := store.ImportCSV(ctx, "f1", "Q3 Sales.csv", strings.NewReader(salesCSV))
	require.NoError(t, err)
	assert.Equal(t, "q3_sales", table)

	schema, err := store.Describe(ctx, fileRef("f1"))
	require.NoError(t, err)
	require.Len(t, schema.Tables, 1)
	tbl := schema.Tables[0]
	assert.Equal(t, "q3_sales", tbl.Name)
	assert.Equal(t, []datatypes.Column{
		{Name: "region", Type: "TEXT"},
		{Name: "amount", Type: "REAL"},
		{Name: "units", Type: "INTEGER"},
		{Name: "note", Type: "TEXT"},
	}, tbl.Columns)
}

func TestSQLiteStore_TableNamesAreUnique(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	first, err := store.ImportCSV(ctx, "f1", "sales.csv", strings.NewReader(salesCSV))
	require.NoError(t, err)
	second, err := store.ImportCSV(ctx, "f2", "sales.csv", strings.NewReader(salesCSV))
	require.NoError(t, err)

	assert.Equal(t, "sales", first)
	assert.Equal(t, "sales_2", second)
	assert.Equal(t, []string{"sales_2"}, store.Tables("f2"))
}

func TestSQLiteStore_Run(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	_, err := store.ImportCSV(ctx, "f1", "sales.csv", strings.NewReader(salesCSV))
	require.NoError(t, err)

	res, err := store.Run(ctx, "SELECT region, SUM(units) AS units FROM sales GROUP BY region ORDER BY region;", fileRef("f1"), time.Second)
	require.NoError(t, err)
	assert.Equal(t, []string{"region", "units"}, res.Columns)
	assert.Equal(t, 3, res.RowCount)
	assert.Equal(t, []any{"East", int64(4)}, res.Rows[0])

	_, err = store.Run(ctx, "SELECT nope FROM sales", fileRef("f1"), time.Second)
	assert.Error(t, err)
}

func TestSQLiteStore_Profile(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	_, err := store.ImportCSV(ctx, "f1", "sales.csv", strings.NewReader(salesCSV))
	require.NoError(t, err)

	profile, err := store.Profile(ctx, fileRef("f1"))
	require.NoError(t, err)
	require.Len(t, profile.Tables, 1)
	tp := profile.Tables[0]
	assert.Equal(t, int64(4), tp.RowCount)
	require.Len(t, tp.Columns, 4)
	assert.Equal(t, 0.0, tp.Columns[0].NullRatio)
	assert.InDelta(t, 0.25, tp.Columns[1].NullRatio, 1e-9)
	assert.InDelta(t, 0.25, tp.Columns[3].NullRatio, 1e-9)
}

func TestSQLiteStore_ImportErrors(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	_, err := store.ImportCSV(ctx, "f1", "empty.csv", strings.NewReader(""))
	assert.ErrorIs(t, err, ErrEmptyCSV)

	_, err = store.ImportCSV(ctx, "f2", "bad.csv", strings.NewReader("a,b\n\"unterminated,1\n"))
	assert.Error(t, err)
	assert.Empty(t, store.Tables("f2"))
}

func TestSQLiteStore_ImportJSON(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"array", `[{"region":"East","amount":100.5,"tags":["a"]},{"region":"West","amount":200,"extra":null}]`},
		{"lines", "{\"region\":\"East\",\"amount\":100.5,\"tags\":[\"a\"]}\n{\"region\":\"West\",\"amount\":200,\"extra\":null}\n"},
		{"wrapped", `{"meta":{"v":1},"orders":[{"region":"East","amount":100.5,"tags":["a"]},{"region":"West","amount":200,"extra":null}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := openStore(t)
			ctx := context.Background()

			table, err := store.Import(ctx, "j1", "orders.json", strings.NewReader(tt.content))
			require.NoError(t, err)
			assert.Equal(t, "orders", table)

			schema, err := store.Describe(ctx, fileRef("j1"))
			require.NoError(t, err)
			assert.Equal(t, []datatypes.Column{
				{Name: "region", Type: "TEXT"},
				{Name: "amount", Type: "REAL"},
				{Name: "tags", Type: "TEXT"},
				{Name: "extra", Type: "TEXT"},
			}, schema.Tables[0].Columns)

			res, err := store.Run(ctx, "SELECT region, tags FROM orders ORDER BY region", fileRef("j1"), time.Second)
			require.NoError(t, err)
			assert.Equal(t, []any{"East", `["a"]`}, res.Rows[0])
			assert.Equal(t, []any{"West", nil}, res.Rows[1])
		})
	}
}

func TestSQLiteStore_ImportJSONErrors(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	for content, want := range map[string]error{
		"":             ErrEmptyJSON,
		"[]":           ErrEmptyJSON,
		"[{}, {}]":     ErrEmptyJSON,
		"42":           ErrInvalidJSON,
		`[1, 2]`:       ErrInvalidJSON,
		`[{"a":1}`:     ErrInvalidJSON,
		`{"a":1} oops`: ErrInvalidJSON,
	} {
		_, err := store.ImportJSON(ctx, "bad", "bad.json", strings.NewReader(content))
		assert.ErrorIs(t, err, want, "content %q", content)
	}
	assert.Empty(t, store.Tables("bad"))

	_, err := store.Import(ctx, "x", "sheet.xlsx", strings.NewReader("PK"))
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestFormatOf(t *testing.T) {
	assert.Equal(t, FormatCSV, FormatOf("a.CSV"))
	assert.Equal(t, FormatCSV, FormatOf("noext"))
	assert.Equal(t, FormatJSON, FormatOf("events.ndjson"))
	assert.Equal(t, Format(""), FormatOf("sheet.xlsx"))
}

func TestSQLiteStore_LoadSample(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	for _, ds := range Samples() {
		t.Run(ds.Name, func(t *testing.T) {
			table, got, err := store.LoadSample(ctx, "s-"+ds.Name, ds.Title)
			require.NoError(t, err)
			assert.Equal(t, ds.Name, got.Name)

			res, err := store.Run(ctx, "SELECT COUNT(*) FROM "+table, fileRef("s-"+ds.Name), time.Second)
			require.NoError(t, err)
			assert.Equal(t, []any{int64(ds.Rows)}, res.Rows[0])
		})
	}

	_, _, err := store.LoadSample(ctx, "nope", "weather")
	assert.ErrorIs(t, err, ErrUnknownSample)
}

func TestSQLiteStore_LoadSampleIsDeterministic(t *testing.T) {
	ctx := context.Background()
	total := func() any {
		store := openStore(t)
		table, _, err := store.LoadSample(ctx, "s", "financial")
		require.NoError(t, err)
		res, err := store.Run(ctx, "SELECT SUM(profit), MAX(year) FROM "+table, fileRef("s"), time.Second)
		require.NoError(t, err)
		return res.Rows[0]
	}
	first := total()
	assert.Equal(t, first, total())
}

func TestSQLiteStore_Drop(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	_, err := store.ImportCSV(ctx, "f1", "sales.csv", strings.NewReader(salesCSV))
	require.NoError(t, err)

	require.NoError(t, store.Drop(ctx, "f1"))
	_, err = store.Describe(ctx, fileRef("f1"))
	assert.ErrorIs(t, err, ErrUnknownSource)
}

func TestSanitizeColumns(t *testing.T) {
	got := sanitizeColumns([]string{"Total Sales ($)", "total sales", "", "2024"})
	assert.Equal(t, []string{"total_sales", "total_sales_2", "column_3", "t_2024"}, got)
}

func TestRegistry(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	_, err := store.ImportCSV(ctx, "f1", "sales.csv", strings.NewReader(salesCSV))
	require.NoError(t, err)

	reg := NewRegistry()
	reg.Register(Info{ID: "f1", Kind: datatypes.SourceFile, Name: "sales.csv"}, store)

	info, ok := reg.Lookup("f1")
	require.True(t, ok)
	assert.Equal(t, DialectSQLite, info.Dialect)
	assert.False(t, info.CreatedAt.IsZero())

	ref, err := reg.Ref("f1")
	require.NoError(t, err)
	assert.Equal(t, fileRef("f1"), ref)

	schema, err := reg.Describe(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, []string{"sales"}, schema.TableNames())

	res, err := reg.Run(ctx, "SELECT COUNT(*) FROM sales", ref, time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(4), res.Rows[0][0])

	_, err = reg.Run(ctx, "SELECT 1", fileRef("missing"), time.Second)
	assert.True(t, errors.Is(err, ErrUnknownSource))
	assert.Equal(t, DialectSQLite, reg.Dialect(fileRef("missing")))

	assert.Len(t, reg.List(), 1)
	assert.True(t, reg.Remove("f1"))
	assert.False(t, reg.Remove("f1"))
	assert.Empty(t, reg.List())
}

func TestRegistry_ListOrderedByCreation(t *testing.T) {
	store := openStore(t)
	reg := NewRegistry()
	now := time.Now()
	reg.Register(Info{ID: "b", CreatedAt: now.Add(time.Second)}, store)
	reg.Register(Info{ID: "a", CreatedAt: now}, store)

	list := reg.List()
	require.Len(t, list, 2)
	assert.Equal(t, "a", list[0].ID)
	assert.Equal(t, "b", list[1].ID)
}

func TestRegistry_CloseSharedBackendOnce(t *testing.T) {
	store, err := OpenSQLite("")
	require.NoError(t, err)
	reg := NewRegistry()
	reg.Register(Info{ID: "a"}, store)
	reg.Register(Info{ID: "b"}, store)

	assert.NoError(t, reg.Close())
	assert.Empty(t, reg.List())
}
