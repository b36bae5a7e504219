// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"fmt"
	"sort"
	"strings"
)

// Column describes one column of a table.
type Column struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// Table describes one table and its columns, in declaration order.
type Table struct {
	Name    string   `json:"name"`
	Columns []Column `json:"columns"`
}

// Relationship is a declared key pair between two tables.
type Relationship struct {
	FromTable  string `json:"from_table"`
	FromColumn string `json:"from_column"`
	ToTable    string `json:"to_table"`
	ToColumn   string `json:"to_column"`
}

// Schema is the read-only description of a data source.
type Schema struct {
	Tables        []Table        `json:"tables"`
	Relationships []Relationship `json:"relationships,omitempty"`
}

// Table returns the table with the given name, compared case-insensitively.
func (s Schema) Table(name string) (Table, bool) {
	for _, t := range s.Tables {
		if strings.EqualFold(t.Name, name) {
			return t, true
		}
	}
	return Table{}, false
}

// TableNames returns the table names in declaration order.
func (s Schema) TableNames() []string {
	names := make([]string, 0, len(s.Tables))
	for _, t := range s.Tables {
		names = append(names, t.Name)
	}
	return names
}

// HasColumn reports whether the table declares the column (case-insensitive).
func (t Table) HasColumn(name string) bool {
	_, ok := t.Column(name)
	return ok
}

// Column returns the named column (case-insensitive).
func (t Table) Column(name string) (Column, bool) {
	for _, c := range t.Columns {
		if strings.EqualFold(c.Name, name) {
			return c, true
		}
	}
	return Column{}, false
}

// Related reports whether (tableA.colA, tableB.colB) matches a declared
// relationship in either direction.
func (s Schema) Related(tableA, colA, tableB, colB string) bool {
	match := func(r Relationship, ft, fc, tt, tc string) bool {
		return strings.EqualFold(r.FromTable, ft) && strings.EqualFold(r.FromColumn, fc) &&
			strings.EqualFold(r.ToTable, tt) && strings.EqualFold(r.ToColumn, tc)
	}
	for _, r := range s.Relationships {
		if match(r, tableA, colA, tableB, colB) || match(r, tableB, colB, tableA, colA) {
			return true
		}
	}
	return false
}

// Describe renders the schema as prompt text, one table per line.
//
// Example output:
//
//	sales(region TEXT, amount REAL)
//	-- sales.region_id -> regions.id
func (s Schema) Describe() string {
	var sb strings.Builder
	for _, t := range s.Tables {
		cols := make([]string, 0, len(t.Columns))
		for _, c := range t.Columns {
			cols = append(cols, strings.TrimSpace(c.Name+" "+c.Type))
		}
		fmt.Fprintf(&sb, "%s(%s)\n", t.Name, strings.Join(cols, ", "))
	}
	for _, r := range s.Relationships {
		fmt.Fprintf(&sb, "-- %s.%s -> %s.%s\n", r.FromTable, r.FromColumn, r.ToTable, r.ToColumn)
	}
	return strings.TrimRight(sb.String(), "\n")
}

// Fingerprint returns a stable string identifying the schema shape.
// Used as part of cache keys.
func (s Schema) Fingerprint() string {
	parts := make([]string, 0, len(s.Tables))
	for _, t := range s.Tables {
		cols := make([]string, 0, len(t.Columns))
		for _, c := range t.Columns {
			cols = append(cols, strings.ToLower(c.Name))
		}
		sort.Strings(cols)
		parts = append(parts, strings.ToLower(t.Name)+":"+strings.Join(cols, ","))
	}
	sort.Strings(parts)
	return strings.Join(parts, ";")
}

// IsNumericType reports whether a declared SQL type holds numbers.
// Covers the sqlite affinities and the common postgres types.
func IsNumericType(sqlType string) bool {
	t := strings.ToUpper(sqlType)
	for _, n := range []string{"INT", "REAL", "FLOA", "DOUB", "NUMERIC", "DECIMAL", "SERIAL", "MONEY"} {
		if strings.Contains(t, n) {
			return true
		}
	}
	return false
}

// =============================================================================
// Profiles
// =============================================================================

// ColumnProfile carries per-column statistics used in data summaries.
type ColumnProfile struct {
	Name      string  `json:"name"`
	Type      string  `json:"type"`
	NullRatio float64 `json:"null_ratio"`
}

// TableProfile carries the shape of one table.
type TableProfile struct {
	Name     string          `json:"name"`
	RowCount int64           `json:"row_count"`
	Columns  []ColumnProfile `json:"columns"`
}

// Profile is an optional statistical summary of a data source.
type Profile struct {
	Tables []TableProfile `json:"tables"`
}
