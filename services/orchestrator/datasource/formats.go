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
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
)

// Format is an upload file format accepted by Import.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
)

// FormatOf maps a file name to its import format. A name without an
// extension is read as CSV. Unknown extensions return "".
func FormatOf(fileName string) Format {
	switch strings.ToLower(filepath.Ext(fileName)) {
	case "", ".csv", ".txt":
		return FormatCSV
	case ".json", ".jsonl", ".ndjson":
		return FormatJSON
	}
	return ""
}

// ImportJSON creates a table from JSON records and binds it to source id.
//
// # Description
//
// Three layouts are accepted:
//
//   - an array of objects;
//   - one object per line (JSON Lines);
//   - a single object whose first array-of-objects field holds the records,
//     e.g. {"orders": [{...}, {...}]}.
//
// Columns are the union of object keys in order of first appearance.
// Scalars become cells, null becomes NULL, and nested objects or arrays
// are stored as their compact JSON text. Types are then inferred as for
// ImportCSV.
//
// # Outputs
//
//   - string: Name of the created table.
//   - error: ErrEmptyJSON, ErrInvalidJSON, ErrTooManyRows, or a database
//     error.
func (s *SQLiteStore) ImportJSON(ctx context.Context, id, fileName string, r io.Reader) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("read json: %w", err)
	}
	header, rows, err := parseJSONRecords(data)
	if err != nil {
		return "", err
	}
	return s.importRows(ctx, id, fileName, header, rows)
}

type jsonField struct {
	key string
	raw json.RawMessage
}

// jsonRecord keeps object keys in document order.
type jsonRecord []jsonField

func parseJSONRecords(data []byte) ([]string, [][]string, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, nil, ErrEmptyJSON
	}

	var (
		recs []jsonRecord
		err  error
	)
	switch trimmed[0] {
	case '[':
		recs, err = decodeRecordArray(trimmed)
	case '{':
		recs, err = decodeRecordStream(trimmed)
		if err == nil && len(recs) == 1 {
			if nested, ok := nestedRecords(recs[0]); ok {
				recs, err = decodeRecordArray(nested)
			}
		}
	default:
		return nil, nil, ErrInvalidJSON
	}
	if err != nil {
		return nil, nil, err
	}
	if len(recs) > MaxImportRows {
		return nil, nil, fmt.Errorf("%w: limit is %d", ErrTooManyRows, MaxImportRows)
	}

	index := make(map[string]int)
	var header []string
	for _, rec := range recs {
		for _, f := range rec {
			if _, ok := index[f.key]; !ok {
				index[f.key] = len(header)
				header = append(header, f.key)
			}
		}
	}
	if len(header) == 0 {
		return nil, nil, ErrEmptyJSON
	}

	rows := make([][]string, len(recs))
	for n, rec := range recs {
		row := make([]string, len(header))
		for _, f := range rec {
			row[index[f.key]] = jsonCell(f.raw)
		}
		rows[n] = row
	}
	return header, rows, nil
}

func decodeRecordArray(data []byte) ([]jsonRecord, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	if tok, err := dec.Token(); err != nil || tok != json.Delim('[') {
		return nil, invalidJSON(err)
	}
	var recs []jsonRecord
	for dec.More() {
		rec, err := decodeRecord(dec)
		if err != nil {
			return nil, invalidJSON(err)
		}
		recs = append(recs, rec)
		if len(recs) > MaxImportRows {
			return recs, nil
		}
	}
	if _, err := dec.Token(); err != nil {
		return nil, invalidJSON(err)
	}
	if len(recs) == 0 {
		return nil, ErrEmptyJSON
	}
	return recs, nil
}

func decodeRecordStream(data []byte) ([]jsonRecord, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	var recs []jsonRecord
	for {
		rec, err := decodeRecord(dec)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, invalidJSON(err)
		}
		recs = append(recs, rec)
		if len(recs) > MaxImportRows {
			break
		}
	}
	if len(recs) == 0 {
		return nil, ErrEmptyJSON
	}
	return recs, nil
}

// decodeRecord reads one object from dec. It returns io.EOF only when dec
// is exhausted before the object starts.
func decodeRecord(dec *json.Decoder) (jsonRecord, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if tok != json.Delim('{') {
		return nil, fmt.Errorf("expected an object, got %v", tok)
	}
	unexpected := func(err error) error {
		if errors.Is(err, io.EOF) {
			return io.ErrUnexpectedEOF
		}
		return err
	}
	var rec jsonRecord
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, unexpected(err)
		}
		key, _ := keyTok.(string)
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, unexpected(err)
		}
		rec = append(rec, jsonField{key: key, raw: raw})
	}
	if _, err := dec.Token(); err != nil {
		return nil, unexpected(err)
	}
	return rec, nil
}

// nestedRecords returns the first field of rec holding an array of objects.
func nestedRecords(rec jsonRecord) ([]byte, bool) {
	for _, f := range rec {
		v := bytes.TrimSpace(f.raw)
		if len(v) < 2 || v[0] != '[' {
			continue
		}
		if first := bytes.TrimSpace(v[1:]); len(first) > 0 && first[0] == '{' {
			return v, true
		}
	}
	return nil, false
}

func jsonCell(raw json.RawMessage) string {
	v := bytes.TrimSpace(raw)
	switch {
	case len(v) == 0, bytes.Equal(v, []byte("null")):
		return ""
	case v[0] == '"':
		var s string
		if err := json.Unmarshal(v, &s); err == nil {
			return s
		}
	case v[0] == '{' || v[0] == '[':
		var buf bytes.Buffer
		if err := json.Compact(&buf, v); err == nil {
			return buf.String()
		}
	}
	return string(v)
}

func invalidJSON(err error) error {
	if err == nil || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return ErrInvalidJSON
	}
	return fmt.Errorf("%w: %v", ErrInvalidJSON, err)
}
