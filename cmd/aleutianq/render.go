// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/AleutianAI/AleutianQuery/pkg/ux"
	"github.com/AleutianAI/AleutianQuery/services/orchestrator/datasource"
	"github.com/AleutianAI/AleutianQuery/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianQuery/services/orchestrator/handlers"
	"github.com/AleutianAI/AleutianQuery/services/orchestrator/workflow"
)

func renderAnswer(p *ux.Printer, resp handlers.QueryResponse) {
	res := resp.Result
	if res == nil {
		p.Warning("the server returned no answer")
		return
	}
	p.Box("Answer", res.AnswerText)
	p.Info("Confidence " + p.ConfidenceBar(res.Confidence, 20))

	p.List("Insights", res.Insights)
	p.List("Recommendations", res.Recommendations)

	for _, c := range res.Conflicts {
		p.Warning(fmt.Sprintf("%s: crew reported %g, SQL %g (SQL kept)", c.Metric, c.CrewValue, c.SQLValue))
	}

	meta := []string{"approach " + string(resp.Approach), "sources " + joinPaths(res.Sources)}
	if len(res.Excluded) > 0 {
		meta = append(meta, "excluded "+joinPaths(res.Excluded))
	}
	meta = append(meta, fmt.Sprintf("%dms", resp.DurationMS))
	p.Muted(strings.Join(meta, " · "))
	p.Muted("session " + resp.SessionID)
}

func renderAPIError(p *ux.Printer, err *APIError) {
	p.Error(err.Error())
	for _, r := range err.Partial {
		line := fmt.Sprintf("%s path %s", r.Path, r.Status)
		if r.Error != "" {
			line += ": " + r.Error
		}
		p.Muted(line)
	}
}

// progressText describes a workflow event for the spinner.
func progressText(ev workflow.Event) string {
	switch ev.Type {
	case workflow.EventStage:
		return strings.ReplaceAll(string(ev.Stage), "_", " ")
	case workflow.EventPath:
		return fmt.Sprintf("%s path %s", ev.Path, ev.Status)
	case workflow.EventCrewStage:
		if ev.CrewStage != nil {
			return "crew: " + ev.CrewStage.Role + " done"
		}
	}
	return ""
}

func renderSources(p *ux.Printer, sources []datasource.Info) {
	if len(sources) == 0 {
		p.Muted("no data sources registered; upload a file with `aleutianq upload` or load one with `aleutianq sample`")
		return
	}
	rows := make([][]string, 0, len(sources))
	for _, s := range sources {
		rows = append(rows, []string{s.ID, s.Name, string(s.Kind), s.Dialect, s.CreatedAt.Format("2006-01-02 15:04")})
	}
	p.Table([]string{"ID", "NAME", "KIND", "DIALECT", "CREATED"}, rows)
}

func renderSamples(p *ux.Printer, samples []datasource.SampleDataset) {
	rows := make([][]string, 0, len(samples))
	for _, s := range samples {
		rows = append(rows, []string{s.Name, s.Title, strconv.Itoa(s.Rows), s.Description})
	}
	p.Table([]string{"NAME", "TITLE", "ROWS", "DESCRIPTION"}, rows)
}

func renderSimilar(p *ux.Printer, similar []datatypes.SimilarQuery) {
	if len(similar) == 0 {
		p.Muted("no similar questions answered yet")
		return
	}
	rows := make([][]string, 0, len(similar))
	for _, s := range similar {
		rows = append(rows, []string{strconv.FormatFloat(s.Certainty, 'f', 2, 64), s.Question, s.SQL})
	}
	p.Table([]string{"CERTAINTY", "QUESTION", "SQL"}, rows)
}

func renderSchema(p *ux.Printer, schema datatypes.Schema) {
	for _, t := range schema.Tables {
		p.Title(t.Name)
		rows := make([][]string, 0, len(t.Columns))
		for _, c := range t.Columns {
			rows = append(rows, []string{c.Name, c.Type})
		}
		p.Table([]string{"COLUMN", "TYPE"}, rows)
	}
	for _, r := range schema.Relationships {
		p.Muted(fmt.Sprintf("%s.%s %s %s.%s", r.FromTable, r.FromColumn, ux.IconArrow, r.ToTable, r.ToColumn))
	}
}

func renderHistory(p *ux.Printer, h handlers.HistoryResponse) {
	if len(h.Messages) == 0 {
		p.Muted("no history for session " + h.SessionID)
		return
	}
	for _, m := range h.Messages {
		p.Info(fmt.Sprintf("[%s] %s: %s", m.Timestamp.Format("15:04:05"), m.Role, m.Content))
	}
	if len(h.Queries) == 0 {
		return
	}
	rows := make([][]string, 0, len(h.Queries))
	for _, q := range h.Queries {
		rows = append(rows, []string{q.QueryID, q.Stage, q.Approach, fmt.Sprintf("%.2f", q.Confidence), fmt.Sprintf("%dms", q.DurationMS)})
	}
	p.Table([]string{"QUERY", "STAGE", "APPROACH", "CONFIDENCE", "DURATION"}, rows)
}

func joinPaths(paths []datatypes.PathName) string {
	if len(paths) == 0 {
		return "none"
	}
	s := make([]string, len(paths))
	for i, p := range paths {
		s[i] = string(p)
	}
	return strings.Join(s, ",")
}
