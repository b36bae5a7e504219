// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package sqlpath

import (
	"fmt"
	"strings"
)

type tokenKind int

const (
	tokIdent tokenKind = iota
	tokQuotedIdent
	tokKeyword
	tokNumber
	tokString
	tokPunct
	tokOp
)

type token struct {
	kind  tokenKind
	text  string
	upper string
	pos   int
}

func (t token) isKeyword(kw string) bool { return t.kind == tokKeyword && t.upper == kw }
func (t token) isPunct(p string) bool    { return t.kind == tokPunct && t.text == p }
func (t token) isOp(op string) bool      { return t.kind == tokOp && t.text == op }
func (t token) isIdent() bool            { return t.kind == tokIdent || t.kind == tokQuotedIdent }

// name returns the identifier text without quoting.
func (t token) name() string { return t.text }

// keywords are reserved words that never name a column or table when
// unquoted.
var keywords = toSet(
	"SELECT", "FROM", "WHERE", "GROUP", "BY", "ORDER", "HAVING", "LIMIT", "OFFSET",
	"JOIN", "INNER", "LEFT", "RIGHT", "FULL", "OUTER", "CROSS", "NATURAL", "ON", "USING",
	"AS", "AND", "OR", "NOT", "IN", "IS", "NULL", "LIKE", "ILIKE", "GLOB", "REGEXP", "SIMILAR",
	"ESCAPE", "BETWEEN", "CASE", "WHEN", "THEN", "ELSE", "END", "DISTINCT", "ALL", "ANY", "SOME",
	"ASC", "DESC", "NULLS", "WITH", "RECURSIVE", "UNION", "INTERSECT", "EXCEPT",
	"EXISTS", "TRUE", "FALSE", "CAST", "COLLATE", "OVER", "WINDOW",
	"INTERVAL", "FETCH", "ONLY", "LATERAL", "TO", "FOR",
	"CURRENT_DATE", "CURRENT_TIME", "CURRENT_TIMESTAMP", "LOCALTIME", "LOCALTIMESTAMP",
	// Statements and clauses that must not appear in a read-only query.
	"DROP", "DELETE", "INSERT", "UPDATE", "ALTER", "TRUNCATE", "CREATE", "ATTACH", "DETACH",
	"PRAGMA", "GRANT", "REVOKE", "VACUUM", "MERGE", "COPY", "EXEC", "EXECUTE", "INTO", "SET",
	"VALUES", "RETURNING", "REINDEX", "ANALYZE",
)

// datePartWords are keywords only inside EXTRACT(<part> FROM ...) or after
// an INTERVAL literal; elsewhere they name columns such as "year".
var datePartWords = toSet(
	"YEAR", "MONTH", "DAY", "HOUR", "MINUTE", "SECOND", "EPOCH", "DOW", "DOY", "WEEK", "QUARTER",
	"YEARS", "MONTHS", "DAYS", "HOURS", "MINUTES", "SECONDS", "WEEKS",
)

// frameWords are keywords inside an OVER (...) window specification.
var frameWords = toSet(
	"PARTITION", "ROWS", "RANGE", "GROUPS", "PRECEDING", "FOLLOWING", "UNBOUNDED", "CURRENT", "ROW",
	"EXCLUDE", "TIES", "OTHERS", "NO",
)

// typedLiterals are treated as keywords only when followed by a string
// literal (DATE '2024-01-01'); otherwise they are ordinary identifiers.
var typedLiterals = toSet("DATE", "TIME", "TIMESTAMP")

func toSet(words ...string) map[string]bool {
	m := make(map[string]bool, len(words))
	for _, w := range words {
		m[w] = true
	}
	return m
}

// tokenize splits a SQL string into tokens. Comments are dropped.
func tokenize(sql string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(sql) {
		c := sql[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == '-' && i+1 < len(sql) && sql[i+1] == '-':
			for i < len(sql) && sql[i] != '\n' {
				i++
			}
		case c == '/' && i+1 < len(sql) && sql[i+1] == '*':
			end := strings.Index(sql[i+2:], "*/")
			if end < 0 {
				return nil, fmt.Errorf("unterminated comment at offset %d", i)
			}
			i += end + 4
		case c == '\'':
			start := i
			i++
			for {
				if i >= len(sql) {
					return nil, fmt.Errorf("unterminated string literal at offset %d", start)
				}
				if sql[i] == '\'' {
					if i+1 < len(sql) && sql[i+1] == '\'' {
						i += 2
						continue
					}
					i++
					break
				}
				i++
			}
			toks = append(toks, token{kind: tokString, text: sql[start:i], pos: start})
		case c == '"' || c == '`' || c == '[':
			closer := byte('"')
			switch c {
			case '`':
				closer = '`'
			case '[':
				closer = ']'
			}
			end := strings.IndexByte(sql[i+1:], closer)
			if end < 0 {
				return nil, fmt.Errorf("unterminated quoted identifier at offset %d", i)
			}
			name := sql[i+1 : i+1+end]
			toks = append(toks, token{kind: tokQuotedIdent, text: name, upper: strings.ToUpper(name), pos: i})
			i += end + 2
		case isIdentStart(c):
			start := i
			for i < len(sql) && isIdentPart(sql[i]) {
				i++
			}
			word := sql[start:i]
			up := strings.ToUpper(word)
			kind := tokIdent
			if keywords[up] {
				kind = tokKeyword
			}
			toks = append(toks, token{kind: kind, text: word, upper: up, pos: start})
		case c >= '0' && c <= '9':
			start := i
			for i < len(sql) && (sql[i] >= '0' && sql[i] <= '9' || sql[i] == '.' || sql[i] == 'e' || sql[i] == 'E') {
				i++
			}
			toks = append(toks, token{kind: tokNumber, text: sql[start:i], pos: start})
		case strings.IndexByte("(),.;*", c) >= 0:
			toks = append(toks, token{kind: tokPunct, text: string(c), pos: i})
			i++
		default:
			op := string(c)
			if i+1 < len(sql) {
				switch two := sql[i : i+2]; two {
				case "<=", ">=", "<>", "!=", "||", "::", "==":
					op = two
				}
			}
			toks = append(toks, token{kind: tokOp, text: op, pos: i})
			i += len(op)
		}
	}

	// Resolve typed literals now that the next token is known.
	for j := range toks {
		if toks[j].kind == tokIdent && typedLiterals[toks[j].upper] && j+1 < len(toks) && toks[j+1].kind == tokString {
			toks[j].kind = tokKeyword
		}
	}
	resolveContextKeywords(toks)
	return toks, nil
}

// resolveContextKeywords promotes unquoted words that are reserved only in
// some positions. Everywhere else they stay identifiers and are checked
// against the schema like any other column or table name.
func resolveContextKeywords(toks []token) {
	prevIs := func(j int, kw string) bool {
		return j > 0 && toks[j-1].kind == tokKeyword && toks[j-1].upper == kw
	}
	nextIsKeyword := func(j int, kw string) bool {
		return j+1 < len(toks) && toks[j+1].kind == tokIdent && toks[j+1].upper == kw ||
			j+1 < len(toks) && toks[j+1].isKeyword(kw)
	}

	// inWindow[d] is true while the paren opened at depth d follows OVER.
	var inWindow []bool
	for j := range toks {
		t := &toks[j]
		switch {
		case t.isPunct("("):
			inWindow = append(inWindow, prevIs(j, "OVER"))
			continue
		case t.isPunct(")"):
			if len(inWindow) > 0 {
				inWindow = inWindow[:len(inWindow)-1]
			}
			continue
		}
		if t.kind != tokIdent {
			continue
		}
		windowed := len(inWindow) > 0 && inWindow[len(inWindow)-1]
		up := t.upper

		switch {
		case datePartWords[up]:
			// EXTRACT(YEAR FROM d)
			afterParen := j > 0 && toks[j-1].isPunct("(")
			if afterParen && j+1 < len(toks) && toks[j+1].isKeyword("FROM") {
				t.kind = tokKeyword
			}
			// INTERVAL '1' DAY, INTERVAL 3 MONTH
			if j >= 2 && toks[j-2].isKeyword("INTERVAL") &&
				(toks[j-1].kind == tokString || toks[j-1].kind == tokNumber) {
				t.kind = tokKeyword
			}
		case up == "FIRST" || up == "LAST":
			// NULLS FIRST, FETCH FIRST
			if prevIs(j, "NULLS") || prevIs(j, "FETCH") {
				t.kind = tokKeyword
			}
		case up == "NEXT":
			if prevIs(j, "FETCH") {
				t.kind = tokKeyword
			}
		case up == "ROW" || up == "ROWS":
			// FETCH FIRST 5 ROWS ONLY, OFFSET 10 ROWS
			if windowed || nextIsKeyword(j, "ONLY") || (j > 0 && toks[j-1].kind == tokNumber) {
				t.kind = tokKeyword
			}
		case frameWords[up]:
			if windowed {
				t.kind = tokKeyword
			}
		case up == "FILTER":
			// COUNT(*) FILTER (WHERE ...)
			if j+2 < len(toks) && toks[j+1].isPunct("(") && toks[j+2].isKeyword("WHERE") {
				t.kind = tokKeyword
			}
		case up == "WITHIN":
			if nextIsKeyword(j, "GROUP") {
				t.kind = tokKeyword
			}
		case up == "BOTH" || up == "LEADING" || up == "TRAILING":
			// TRIM(LEADING 'x' FROM col)
			if j > 0 && toks[j-1].isPunct("(") {
				t.kind = tokKeyword
			}
		case up == "UNKNOWN":
			if prevIs(j, "IS") || (prevIs(j, "NOT") && j >= 2 && toks[j-2].isKeyword("IS")) {
				t.kind = tokKeyword
			}
		}
	}
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9') || c == '$'
}
