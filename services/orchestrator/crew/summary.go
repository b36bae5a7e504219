// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package crew

import (
	"fmt"
	"strings"

	"github.com/AleutianAI/AleutianQuery/services/orchestrator/datatypes"
)

const (
	summaryColumns   = 10
	missingThreshold = 0.10
)

// BuildSummary renders the dataset summary given to every stage.
//
// Each table gets its shape, its first ten columns split into numeric and
// categorical, and the columns with more than 10% missing values. Row
// counts and missing ratios come from profile and are omitted when it is
// nil.
func BuildSummary(schema datatypes.Schema, profile *datatypes.Profile) string {
	if len(schema.Tables) == 0 {
		return "No schema information is available."
	}
	var sb strings.Builder
	for i, tbl := range schema.Tables {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		tp := tableProfile(profile, tbl.Name)
		if tp != nil {
			fmt.Fprintf(&sb, "Table %s: %d rows, %d columns", tbl.Name, tp.RowCount, len(tbl.Columns))
		} else {
			fmt.Fprintf(&sb, "Table %s: %d columns", tbl.Name, len(tbl.Columns))
		}

		cols := tbl.Columns
		more := ""
		if len(cols) > summaryColumns {
			cols = cols[:summaryColumns]
			more = "..."
		}
		var names, numeric, categorical []string
		for _, c := range cols {
			names = append(names, c.Name)
			if datatypes.IsNumericType(c.Type) {
				numeric = append(numeric, c.Name)
			} else {
				categorical = append(categorical, c.Name)
			}
		}
		fmt.Fprintf(&sb, "\nColumns: %s%s", strings.Join(names, ", "), more)
		if len(numeric) > 0 {
			fmt.Fprintf(&sb, "\nNumeric columns: %s", strings.Join(numeric, ", "))
		}
		if len(categorical) > 0 {
			fmt.Fprintf(&sb, "\nCategorical columns: %s", strings.Join(categorical, ", "))
		}

		if tp != nil {
			var missing []string
			for _, c := range tp.Columns {
				if c.NullRatio > missingThreshold {
					missing = append(missing, fmt.Sprintf("%s %.1f%%", c.Name, c.NullRatio*100))
				}
			}
			if len(missing) > 0 {
				fmt.Fprintf(&sb, "\nHigh missing values: %s", strings.Join(missing, ", "))
			}
		}
	}
	return sb.String()
}

func tableProfile(p *datatypes.Profile, name string) *datatypes.TableProfile {
	if p == nil {
		return nil
	}
	for i := range p.Tables {
		if strings.EqualFold(p.Tables[i].Name, name) {
			return &p.Tables[i]
		}
	}
	return nil
}
