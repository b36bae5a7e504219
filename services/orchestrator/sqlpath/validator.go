// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package sqlpath

import (
	"fmt"
	"strings"

	"github.com/AleutianAI/AleutianQuery/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianQuery/services/orchestrator/observability"
)

// Check names reported on datatypes.SQLValidationError.Check.
const (
	CheckEmpty     = "empty"
	CheckSize      = "size"
	CheckSyntax    = "syntax"
	CheckParens    = "parentheses"
	CheckMultiple  = "multiple_statements"
	CheckReadOnly  = "read_only"
	CheckDangerous = "dangerous"
	CheckTable     = "unknown_table"
	CheckColumn    = "unknown_column"
	CheckGroupBy   = "group_by"
	CheckJoinKeys  = "join_keys"
)

// MaxQueryBytes bounds the size of a generated query.
const MaxQueryBytes = 64 * 1024

// dangerousKeywords may not appear anywhere in a generated query.
var dangerousKeywords = toSet(
	"DROP", "DELETE", "INSERT", "UPDATE", "ALTER", "TRUNCATE", "CREATE", "ATTACH", "DETACH",
	"PRAGMA", "GRANT", "REVOKE", "VACUUM", "MERGE", "COPY", "EXEC", "EXECUTE", "INTO", "SET",
	"VALUES", "RETURNING", "REINDEX", "ANALYZE",
)

var aggregateFuncs = toSet("COUNT", "SUM", "AVG", "MIN", "MAX")

// clauseKeywords end a FROM list or a JOIN condition.
var clauseKeywords = toSet(
	"WHERE", "GROUP", "ORDER", "HAVING", "LIMIT", "OFFSET", "UNION", "INTERSECT", "EXCEPT",
	"WINDOW", "FETCH", "ON", "USING",
)

var joinKeywords = toSet("JOIN", "INNER", "LEFT", "RIGHT", "FULL", "CROSS", "NATURAL")

type tokenRole int

const (
	roleNone tokenRole = iota
	roleTable
	roleTableAlias
	roleColumnAlias
	roleFunction
	roleQualifier
	roleQualifiedColumn
	roleColumn
	roleType
	roleCTE
)

// source is a FROM-clause entry. Table is the schema table, or empty for
// CTEs and derived tables whose columns are not known statically.
type source struct {
	table   datatypes.Table
	virtual bool
}

type parenKind int

const (
	parenGroup parenKind = iota
	parenFunc
	parenSubquery
	parenDerived
)

// analysis holds per-token roles and the name scopes of one statement.
// Scopes are statement-wide rather than per subquery, which accepts a few
// queries a database would reject but never rejects a valid column of a
// referenced table.
type analysis struct {
	toks    []token
	depth   []int
	role    []tokenRole
	sources map[string]source
	tables  []datatypes.Table
	aliases map[string]bool
	ctes    map[string]bool
	missing []string
}

// Validate statically checks a generated query against schema. It returns
// nil or a *datatypes.SQLValidationError naming the first failed check:
//
//   - the statement is non-empty, single, and starts with SELECT or WITH;
//   - no data- or schema-modifying keyword or UNION SELECT appears;
//   - parentheses outside string literals balance;
//   - every table and column reference exists in schema;
//   - aggregates mixed with bare columns have a GROUP BY;
//   - JOIN conditions compare key columns.
func Validate(query string, schema datatypes.Schema) error {
	err := validate(query, schema)
	if err != nil {
		observability.RecordSQLValidationFailure(err.Check)
		return err
	}
	return nil
}

func validate(query string, schema datatypes.Schema) *datatypes.SQLValidationError {
	fail := func(check, format string, args ...any) *datatypes.SQLValidationError {
		return &datatypes.SQLValidationError{Check: check, Message: fmt.Sprintf(format, args...), Query: query}
	}

	if strings.TrimSpace(query) == "" {
		return fail(CheckEmpty, "query is empty")
	}
	if len(query) > MaxQueryBytes {
		return fail(CheckSize, "query exceeds %d bytes", MaxQueryBytes)
	}
	toks, err := tokenize(query)
	if err != nil {
		return fail(CheckSyntax, "%v", err)
	}

	stmts := splitStatements(toks)
	switch {
	case len(stmts) == 0:
		return fail(CheckEmpty, "query has no statement")
	case len(stmts) > 1:
		return fail(CheckMultiple, "found %d statements, only one is allowed", len(stmts))
	}
	stmt := stmts[0]

	if msg := checkParens(stmt); msg != "" {
		return fail(CheckParens, "%s", msg)
	}
	if !stmt[0].isKeyword("SELECT") && !stmt[0].isKeyword("WITH") {
		return fail(CheckReadOnly, "query must start with SELECT or WITH, got %s", stmt[0].text)
	}
	for i, t := range stmt {
		if t.kind == tokKeyword && dangerousKeywords[t.upper] {
			return fail(CheckDangerous, "keyword %s is not allowed", t.upper)
		}
		if t.isKeyword("UNION") {
			j := i + 1
			if j < len(stmt) && (stmt[j].isKeyword("ALL") || stmt[j].isKeyword("DISTINCT")) {
				j++
			}
			if j < len(stmt) && stmt[j].isKeyword("SELECT") {
				return fail(CheckDangerous, "UNION SELECT is not allowed")
			}
		}
	}

	a := analyze(stmt, schema)
	if len(a.missing) > 0 {
		return fail(CheckTable, "table %q does not exist (available: %s)",
			a.missing[0], strings.Join(schema.TableNames(), ", "))
	}
	if msg := a.checkColumns(); msg != "" {
		return fail(CheckColumn, "%s", msg)
	}
	if msg := a.checkGroupBy(); msg != "" {
		return fail(CheckGroupBy, "%s", msg)
	}
	if msg := a.checkJoins(schema); msg != "" {
		return fail(CheckJoinKeys, "%s", msg)
	}
	return nil
}

// splitStatements splits on semicolons and drops empty statements.
func splitStatements(toks []token) [][]token {
	var out [][]token
	start := 0
	for i, t := range toks {
		if t.isPunct(";") {
			if i > start {
				out = append(out, toks[start:i])
			}
			start = i + 1
		}
	}
	if start < len(toks) {
		out = append(out, toks[start:])
	}
	return out
}

func checkParens(toks []token) string {
	depth := 0
	for _, t := range toks {
		switch {
		case t.isPunct("("):
			depth++
		case t.isPunct(")"):
			depth--
			if depth < 0 {
				return fmt.Sprintf("unexpected ')' at offset %d", t.pos)
			}
		}
	}
	if depth != 0 {
		return fmt.Sprintf("%d unclosed '('", depth)
	}
	return ""
}

// =============================================================================
// Analysis
// =============================================================================

func analyze(toks []token, schema datatypes.Schema) *analysis {
	a := &analysis{
		toks:    toks,
		depth:   make([]int, len(toks)),
		role:    make([]tokenRole, len(toks)),
		sources: make(map[string]source),
		aliases: make(map[string]bool),
		ctes:    make(map[string]bool),
	}
	a.scanCTEs()

	var (
		stack        []parenKind
		inFrom       = map[int]bool{}
		expectTable  bool
		derivedAlias bool
	)
	depth := 0
	for i := 0; i < len(toks); i++ {
		t := toks[i]
		a.depth[i] = depth

		switch {
		case t.isPunct("("):
			kind := parenGroup
			switch {
			case expectTable:
				kind = parenDerived
				expectTable = false
			case i+1 < len(toks) && toks[i+1].isKeyword("SELECT"):
				kind = parenSubquery
			case i > 0 && a.role[i-1] == roleFunction:
				kind = parenFunc
			}
			stack = append(stack, kind)
			depth++
			continue
		case t.isPunct(")"):
			inFrom[depth] = false
			depth--
			a.depth[i] = depth
			derivedAlias = false
			if len(stack) > 0 {
				derivedAlias = stack[len(stack)-1] == parenDerived
				stack = stack[:len(stack)-1]
			}
			continue
		case t.isPunct(","):
			if inFrom[depth] {
				expectTable = true
			}
			derivedAlias = false
			continue
		}

		if a.role[i] != roleNone {
			continue
		}

		if t.kind == tokKeyword {
			inFunc := len(stack) > 0 && stack[len(stack)-1] == parenFunc
			if t.upper != "AS" {
				derivedAlias = false
			}
			switch {
			case t.upper == "FROM" && !inFunc:
				inFrom[depth] = true
				expectTable = true
			case t.upper == "JOIN":
				inFrom[depth] = true
				expectTable = true
			case clauseKeywords[t.upper]:
				inFrom[depth] = false
				expectTable = false
			case t.upper == "AS":
				if i+1 < len(toks) && toks[i+1].isIdent() {
					i++
					a.depth[i] = depth
					if derivedAlias {
						a.addVirtualAlias(i)
						derivedAlias = false
					} else {
						a.role[i] = roleColumnAlias
						a.aliases[strings.ToLower(toks[i].name())] = true
					}
				}
			}
			continue
		}

		if !t.isIdent() {
			derivedAlias = false
			if t.isOp("::") && i+1 < len(toks) && toks[i+1].isIdent() {
				i++
				a.depth[i] = depth
				a.role[i] = roleType
			}
			continue
		}

		switch {
		case expectTable:
			last := a.addTable(i, schema)
			for k := i; k <= last; k++ {
				a.depth[k] = depth
			}
			i = last
			expectTable = false
		case derivedAlias:
			a.addVirtualAlias(i)
			derivedAlias = false
		case i+1 < len(toks) && toks[i+1].isPunct("."):
			a.role[i] = roleQualifier
			if i+2 < len(toks) && (toks[i+2].isIdent() || toks[i+2].isPunct("*")) {
				a.depth[i+1] = depth
				a.depth[i+2] = depth
				a.role[i+2] = roleQualifiedColumn
				i += 2
			}
		case i+1 < len(toks) && toks[i+1].isPunct("("):
			a.role[i] = roleFunction
		case i > 0 && endsValue(toks[i-1], a.role[i-1]):
			a.role[i] = roleColumnAlias
			a.aliases[strings.ToLower(t.name())] = true
		default:
			a.role[i] = roleColumn
		}
	}
	return a
}

// scanCTEs marks the names and column lists of a leading WITH clause.
func (a *analysis) scanCTEs() {
	toks := a.toks
	if len(toks) == 0 || !toks[0].isKeyword("WITH") {
		return
	}
	i := 1
	if i < len(toks) && toks[i].isKeyword("RECURSIVE") {
		i++
	}
	for i < len(toks) && toks[i].isIdent() {
		a.role[i] = roleCTE
		name := strings.ToLower(toks[i].name())
		a.ctes[name] = true
		i++
		if i < len(toks) && toks[i].isPunct("(") {
			for i++; i < len(toks) && !toks[i].isPunct(")"); i++ {
				if toks[i].isIdent() {
					a.role[i] = roleColumnAlias
					a.aliases[strings.ToLower(toks[i].name())] = true
				}
			}
			i++
		}
		if i >= len(toks) || !toks[i].isKeyword("AS") {
			return
		}
		i++
		if i >= len(toks) || !toks[i].isPunct("(") {
			return
		}
		end := matchParen(toks, i)
		if end < 0 || end+1 >= len(toks) || !toks[end+1].isPunct(",") {
			return
		}
		i = end + 2
	}
}

// addTable records the table reference starting at i and its optional
// alias. It returns the index of the last consumed token.
func (a *analysis) addTable(i int, schema datatypes.Schema) int {
	toks := a.toks
	// schema.table: keep the last part.
	for i+2 < len(toks) && toks[i+1].isPunct(".") && toks[i+2].isIdent() {
		i += 2
	}
	name := toks[i].name()
	key := strings.ToLower(name)

	src := source{virtual: true}
	if !a.ctes[key] {
		if tbl, ok := schema.Table(name); ok {
			src = source{table: tbl}
			a.tables = append(a.tables, tbl)
		} else {
			a.missing = append(a.missing, name)
		}
	}
	a.role[i] = roleTable
	a.sources[key] = src

	j := i + 1
	if j < len(toks) && toks[j].isKeyword("AS") {
		j++
	}
	if j < len(toks) && toks[j].isIdent() && !(j+1 < len(toks) && toks[j+1].isPunct(".")) {
		a.role[j] = roleTableAlias
		a.sources[strings.ToLower(toks[j].name())] = src
		return j
	}
	return i
}

func (a *analysis) addVirtualAlias(i int) {
	a.role[i] = roleTableAlias
	a.sources[strings.ToLower(a.toks[i].name())] = source{virtual: true}
}

// endsValue reports whether a token can end an expression, which makes a
// directly following identifier an implicit alias.
func endsValue(t token, r tokenRole) bool {
	switch {
	case t.isPunct(")"), t.kind == tokNumber, t.kind == tokString:
		return true
	case t.isKeyword("END"):
		return true
	case r == roleColumn, r == roleQualifiedColumn:
		return true
	}
	return false
}

func matchParen(toks []token, open int) int {
	depth := 0
	for i := open; i < len(toks); i++ {
		switch {
		case toks[i].isPunct("("):
			depth++
		case toks[i].isPunct(")"):
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// =============================================================================
// Checks
// =============================================================================

func (a *analysis) checkColumns() string {
	for i, t := range a.toks {
		switch a.role[i] {
		case roleQualifiedColumn:
			qual := a.toks[i-2].name()
			src, ok := a.sources[strings.ToLower(qual)]
			if !ok {
				return fmt.Sprintf("unknown table or alias %q in %s.%s", qual, qual, t.text)
			}
			if src.virtual || t.isPunct("*") {
				continue
			}
			if !src.table.HasColumn(t.name()) {
				return fmt.Sprintf("column %q does not exist in table %s", t.name(), src.table.Name)
			}
		case roleColumn:
			if !a.resolvable(t.name()) {
				return fmt.Sprintf("column %q does not exist in %s", t.name(), a.tableList())
			}
		}
	}
	return ""
}

func (a *analysis) resolvable(col string) bool {
	if a.aliases[strings.ToLower(col)] {
		return true
	}
	for _, tbl := range a.tables {
		if tbl.HasColumn(col) {
			return true
		}
	}
	return false
}

func (a *analysis) tableList() string {
	if len(a.tables) == 0 {
		return "any referenced table"
	}
	names := make([]string, len(a.tables))
	for i, t := range a.tables {
		names[i] = t.Name
	}
	return "tables " + strings.Join(names, ", ")
}

// checkGroupBy requires GROUP BY in every SELECT whose select list mixes
// aggregate calls with bare column references.
func (a *analysis) checkGroupBy() string {
	for s, t := range a.toks {
		if !t.isKeyword("SELECT") {
			continue
		}
		d := a.depth[s]
		end := a.segmentEnd(s, d)
		listEnd := end
		for k := s + 1; k < end; k++ {
			if a.depth[k] == d && a.toks[k].isKeyword("FROM") {
				listEnd = k
				break
			}
		}

		hasAgg, bare := a.scanSelectList(s+1, listEnd)
		if !hasAgg || bare == "" {
			continue
		}
		grouped := false
		for k := listEnd; k+1 < end; k++ {
			if a.depth[k] == d && a.toks[k].isKeyword("GROUP") && a.toks[k+1].isKeyword("BY") {
				grouped = true
				break
			}
		}
		if !grouped {
			return fmt.Sprintf("column %q is selected alongside an aggregate without GROUP BY", bare)
		}
	}
	return ""
}

// segmentEnd returns the index just past the SELECT starting at s.
func (a *analysis) segmentEnd(s, d int) int {
	for k := s + 1; k < len(a.toks); k++ {
		if a.depth[k] < d {
			return k
		}
		if a.depth[k] == d {
			switch a.toks[k].upper {
			case "UNION", "INTERSECT", "EXCEPT":
				if a.toks[k].kind == tokKeyword {
					return k
				}
			}
		}
	}
	return len(a.toks)
}

// scanSelectList reports whether [from,to) contains an aggregate call and
// returns the first column referenced outside one.
func (a *analysis) scanSelectList(from, to int) (bool, string) {
	hasAgg := false
	bare := ""
	for k := from; k < to; k++ {
		t := a.toks[k]
		if t.isPunct("(") && k+1 < to && a.toks[k+1].isKeyword("SELECT") {
			if m := matchParen(a.toks, k); m > 0 {
				k = m
			}
			continue
		}
		if a.role[k] == roleFunction && aggregateFuncs[t.upper] {
			m := matchParen(a.toks, k+1)
			if m < 0 {
				continue
			}
			if m+1 < len(a.toks) && a.toks[m+1].isKeyword("OVER") {
				continue
			}
			hasAgg = true
			k = m
			// FILTER (WHERE ...) and WITHIN GROUP (ORDER BY ...) belong to the aggregate.
			for k+1 < to && (a.toks[k+1].isKeyword("FILTER") || a.toks[k+1].isKeyword("WITHIN")) {
				open := k + 2
				if a.toks[k+1].isKeyword("WITHIN") {
					open++
				}
				if open >= to || !a.toks[open].isPunct("(") {
					break
				}
				if k = matchParen(a.toks, open); k < 0 {
					return hasAgg, bare
				}
			}
			continue
		}
		if bare == "" && (a.role[k] == roleColumn || a.role[k] == roleQualifiedColumn) && !t.isPunct("*") {
			bare = t.name()
		}
	}
	return hasAgg, bare
}

// checkJoins validates each JOIN ... ON condition. Conditions must compare
// columns; qualified pairs between schema tables must match a declared
// relationship or share a column name when relationships are declared.
func (a *analysis) checkJoins(schema datatypes.Schema) string {
	for o, t := range a.toks {
		if !t.isKeyword("ON") {
			continue
		}
		end := a.conditionEnd(o)

		compared := false
		for k := o + 1; k < end; k++ {
			if !a.toks[k].isOp("=") {
				continue
			}
			left, lok := a.columnBefore(k)
			right, rok := a.columnAfter(k)
			if !lok || !rok {
				continue
			}
			compared = true
			if left.table == nil || right.table == nil || len(schema.Relationships) == 0 {
				continue
			}
			if strings.EqualFold(left.column, right.column) {
				continue
			}
			if !schema.Related(left.table.Name, left.column, right.table.Name, right.column) {
				return fmt.Sprintf("%s.%s = %s.%s is not a declared relationship",
					left.table.Name, left.column, right.table.Name, right.column)
			}
		}
		if !compared {
			return "JOIN condition must compare key columns"
		}
	}
	return ""
}

// conditionEnd returns the index just past the ON condition at o.
func (a *analysis) conditionEnd(o int) int {
	d := a.depth[o]
	for k := o + 1; k < len(a.toks); k++ {
		if a.depth[k] < d {
			return k
		}
		if a.depth[k] > d {
			continue
		}
		tk := a.toks[k]
		if tk.isPunct(",") {
			return k
		}
		if tk.kind == tokKeyword && (joinKeywords[tk.upper] || clauseKeywords[tk.upper]) {
			return k
		}
	}
	return len(a.toks)
}

type columnRef struct {
	table  *datatypes.Table
	column string
}

func (a *analysis) columnBefore(k int) (columnRef, bool) {
	if k < 1 {
		return columnRef{}, false
	}
	return a.columnAt(k - 1)
}

func (a *analysis) columnAfter(k int) (columnRef, bool) {
	j := k + 1
	if j+2 < len(a.toks) && a.role[j] == roleQualifier {
		j += 2
	}
	if j >= len(a.toks) {
		return columnRef{}, false
	}
	return a.columnAt(j)
}

// columnAt resolves the column reference ending at i.
func (a *analysis) columnAt(i int) (columnRef, bool) {
	switch a.role[i] {
	case roleColumn:
		return columnRef{column: a.toks[i].name()}, true
	case roleQualifiedColumn:
		ref := columnRef{column: a.toks[i].name()}
		if src, ok := a.sources[strings.ToLower(a.toks[i-2].name())]; ok && !src.virtual {
			tbl := src.table
			ref.table = &tbl
		}
		return ref, true
	}
	return columnRef{}, false
}
