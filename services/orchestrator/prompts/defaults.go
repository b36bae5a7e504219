// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package prompts

import "context"

// =============================================================================
// Well-known keys
// =============================================================================

var (
	IntentSystem = Key{Agent: AgentIntent, Prompt: "classification", Sub: "system"}
	IntentUser   = Key{Agent: AgentIntent, Prompt: "classification", Sub: "user"}

	SQLSystem = Key{Agent: AgentSQL, Prompt: "sql_generation", Sub: "system_prompt"}
	SQLHuman  = Key{Agent: AgentSQL, Prompt: "sql_generation", Sub: "human_template"}

	CrewSystem = Key{Agent: AgentCrew, Prompt: "agent_system"}
	CrewTask   = Key{Agent: AgentCrew, Prompt: "task"}

	SynthesisSystem = Key{Agent: AgentSynthesizer, Prompt: "synthesis", Sub: "system"}
	SynthesisUser   = Key{Agent: AgentSynthesizer, Prompt: "synthesis", Sub: "user"}
)

// CrewAgentKey returns the key for a crew agent attribute (role, goal or
// backstory).
func CrewAgentKey(stage, attr string) Key {
	return Key{Agent: AgentCrew, Prompt: "agents", Sub: stage + "." + attr}
}

// CrewStageTaskKey returns the key of a stage's task description override
// for a task template. No default text exists for it; callers fall back to
// the template's own description when it resolves to GenericPrompt.
func CrewStageTaskKey(stage, template string) Key {
	return Key{Agent: AgentCrew, Prompt: stage, Sub: template}
}

// Resolve is shorthand for resolving a well-known Key through p.
func Resolve(ctx context.Context, p Provider, k Key) string {
	if p == nil {
		return Hardcoded().text(k)
	}
	return p.Resolve(ctx, k.Agent, k.Prompt, k.Sub)
}

// =============================================================================
// Hardcoded tier
// =============================================================================

// HardcodedTier is the last tier of the chain. It never depends on I/O.
type HardcodedTier struct {
	entries map[string]string
}

var hardcoded = &HardcodedTier{entries: map[string]string{
	IntentSystem.String(): `You are an expert data analyst. Classify the user's question about a dataset.

Return ONLY a JSON object with these fields:
- "analysis_type": one of descriptive, comparative, predictive, correlation, trend
- "intent": one of summary, exploration, comparison, prediction, insight
- "complexity": one of simple, moderate, complex
- "approach": one of sql_only, crew_only, both
- "confidence": a number between 0 and 1
- "cross_reference": true if answering needs both a database and an uploaded file

Choose sql_only when the question is answered by a direct aggregate or lookup,
crew_only when it needs interpretation, and both when it needs exact figures
and interpretation together.`,

	IntentUser.String(): `Query: {{.query}}
Data source type: {{.source_kind}}
Tables: {{.tables}}
Recent conversation:
{{.history}}
Keyword hints: sql terms [{{.sql_terms}}], analysis terms [{{.analysis_terms}}], suggested approach {{.suggested}}{{if .similar}}
Similar questions answered before:
{{.similar}}{{end}}`,

	SQLSystem.String(): `You are an expert SQL query generator. Given a natural language question and database schema information, generate a precise {{.dialect}} SQL query.

Rules:
1. Generate only valid SQL syntax
2. Use only the tables and columns listed in the schema
3. Use GROUP BY whenever aggregates are combined with other columns
4. Join only on the listed relationships
5. Generate a single read-only SELECT statement
6. Return only the SQL query, no explanations

Database Schema Information:
{{.schema}}

Previous conversation context:
{{.history}}{{if .similar}}

Similar questions answered before on this data source:
{{.similar}}{{end}}`,

	SQLHuman.String(): `Generate SQL query for: {{.question}}{{if .feedback}}

The previous attempt was rejected: {{.feedback}}
Fix the problem and return a corrected query.{{end}}`,

	CrewSystem.String(): `You are a {{.role}}. Your goal: {{.goal}}
{{.backstory}}`,

	CrewTask.String(): `{{.description}} based on this query: "{{.query}}"

Data Summary:
{{.data_summary}}

Focus on:
{{.focus}}
{{if .prior}}
Findings from earlier specialists:
{{.prior}}
{{end}}
Respond with a JSON object: {"summary": string, "insights": [string], "recommendations": [string], "metrics": {name: number}, "charts": [{"type": string, "title": string, "x": string, "y": string, "description": string}]}`,

	SynthesisSystem.String(): `You are an expert data analyst synthesizing multiple analysis results into one clear answer. Keep every number exactly as given.`,

	SynthesisUser.String(): `You are synthesizing analysis results to answer this query: "{{.query}}"

Draft answer:
{{.draft}}

Rewrite the draft as a concise answer that combines the findings, keeps the figures unchanged and highlights the most important points.`,

	CrewAgentKey("data_analyst", "role").String():      "Senior Data Analyst",
	CrewAgentKey("data_analyst", "goal").String():      "Analyze data to extract meaningful insights and patterns",
	CrewAgentKey("data_analyst", "backstory").String(): "You are a senior data analyst with extensive experience in statistical analysis, data mining, and business intelligence. You excel at identifying trends, anomalies, and actionable insights from complex datasets.",

	CrewAgentKey("bi_specialist", "role").String():      "Business Intelligence Specialist",
	CrewAgentKey("bi_specialist", "goal").String():      "Translate data insights into business recommendations",
	CrewAgentKey("bi_specialist", "backstory").String(): "You are a business intelligence specialist who bridges the gap between technical analysis and business strategy. You excel at creating actionable recommendations based on data insights.",

	CrewAgentKey("statistician", "role").String():      "Statistical Analyst",
	CrewAgentKey("statistician", "goal").String():      "Perform advanced statistical analysis and modeling",
	CrewAgentKey("statistician", "backstory").String(): "You are a statistical analyst with deep expertise in statistical methods, hypothesis testing, and predictive modeling. You provide rigorous statistical validation of data insights.",

	CrewAgentKey("viz_expert", "role").String():      "Data Visualization Expert",
	CrewAgentKey("viz_expert", "goal").String():      "Create compelling and informative data visualizations",
	CrewAgentKey("viz_expert", "backstory").String(): "You are a data visualization expert who specializes in creating clear, compelling, and informative charts and graphs that effectively communicate data insights to various audiences.",
}}

// Hardcoded returns the process-wide hardcoded tier.
func Hardcoded() *HardcodedTier { return hardcoded }

// Name implements Tier.
func (h *HardcodedTier) Name() string { return "hardcoded" }

// Lookup implements Tier.
func (h *HardcodedTier) Lookup(_ context.Context, key Key) (string, error) {
	if text, ok := h.entries[key.String()]; ok {
		return text, nil
	}
	return "", ErrNotFound
}

func (h *HardcodedTier) text(k Key) string {
	if text, ok := h.entries[k.String()]; ok {
		return text
	}
	return GenericPrompt
}

var _ Tier = (*HardcodedTier)(nil)
