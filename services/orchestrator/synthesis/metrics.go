// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package synthesis

import (
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/AleutianAI/AleutianQuery/services/orchestrator/datatypes"
)

// SQLMetrics extracts named numbers from the sample rows of a SQL result.
//
// A single-row result contributes one metric per numeric cell, keyed by the
// column name. In a multi-row result each row is labelled by its first text
// cell and keys become "<label>.<column>"; rows without a text cell are
// skipped. Keys are lowercased.
func SQLMetrics(p *datatypes.SQLPayload) map[string]float64 {
	if p == nil || len(p.SampleRows) == 0 {
		return nil
	}
	out := make(map[string]float64)
	single := len(p.SampleRows) == 1
	for _, row := range p.SampleRows {
		label := ""
		if !single {
			label = rowLabel(row)
			if label == "" {
				continue
			}
		}
		for i, cell := range row {
			if i >= len(p.ColumnNames) {
				break
			}
			f, ok := toFloat(cell)
			if !ok {
				continue
			}
			key := p.ColumnNames[i]
			if label != "" {
				key = label + "." + key
			}
			out[normalizeKey(key)] = f
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// CrewMetrics merges the metrics of every non-placeholder stage. The first
// stage to report a key wins.
func CrewMetrics(p *datatypes.CrewPayload) map[string]float64 {
	if p == nil {
		return nil
	}
	var out map[string]float64
	for _, s := range p.Stages {
		if s.Placeholder {
			continue
		}
		for k, v := range s.Metrics {
			if out == nil {
				out = make(map[string]float64)
			}
			k = normalizeKey(k)
			if _, seen := out[k]; !seen {
				out[k] = v
			}
		}
	}
	return out
}

// Reconcile merges crew and SQL metrics. The SQL value is kept for every
// shared key; a shared key whose values differ by more than tolerance
// (relative) is reported as a conflict. compared counts the shared keys.
func Reconcile(sqlM, crewM map[string]float64, tolerance float64) (merged map[string]float64, conflicts []datatypes.Conflict, compared int) {
	if len(sqlM) == 0 && len(crewM) == 0 {
		return nil, nil, 0
	}
	merged = make(map[string]float64, len(sqlM)+len(crewM))
	for k, v := range crewM {
		merged[k] = v
	}
	for k, v := range sqlM {
		merged[k] = v
		c, ok := crewM[k]
		if !ok {
			continue
		}
		compared++
		if relativeDiff(v, c) > tolerance {
			conflicts = append(conflicts, datatypes.Conflict{Metric: k, SQLValue: v, CrewValue: c})
		}
	}
	sort.Slice(conflicts, func(i, j int) bool { return conflicts[i].Metric < conflicts[j].Metric })
	return merged, conflicts, compared
}

func relativeDiff(a, b float64) float64 {
	scale := math.Max(math.Abs(a), math.Abs(b))
	if scale == 0 {
		return 0
	}
	return math.Abs(a-b) / scale
}

func rowLabel(row []any) string {
	for _, cell := range row {
		if s, ok := cell.(string); ok {
			if s = strings.TrimSpace(s); s != "" {
				if _, err := strconv.ParseFloat(s, 64); err != nil {
					return s
				}
			}
		}
	}
	return ""
}

func normalizeKey(k string) string {
	return strings.ToLower(strings.TrimSpace(k))
}

// toFloat converts the numeric cell types drivers return.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, !math.IsNaN(n) && !math.IsInf(n, 0)
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}
