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

// Template names.
const (
	TemplateComparison  = "comparison"
	TemplateTrend       = "trend"
	TemplateCorrelation = "correlation"
	TemplateGeneral     = "general"
)

// Template is a task template: a description and focus list per stage.
type Template struct {
	Name         string
	Descriptions map[string]string
	Focus        map[string][]string
}

// Description returns the task description for stage.
func (t Template) Description(stage string) string {
	return t.Descriptions[stage]
}

// FocusList renders the stage focus items as a numbered list.
func (t Template) FocusList(stage string) string {
	var sb strings.Builder
	for i, item := range t.Focus[stage] {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, item)
	}
	return strings.TrimRight(sb.String(), "\n")
}

// TemplateFor maps an analysis type to its template. The mapping is fixed:
// comparative, trend and correlation have their own templates and every
// other type uses the general one.
func TemplateFor(at datatypes.AnalysisType) Template {
	switch at {
	case datatypes.AnalysisComparative:
		return templates[TemplateComparison]
	case datatypes.AnalysisTrend:
		return templates[TemplateTrend]
	case datatypes.AnalysisCorrelation:
		return templates[TemplateCorrelation]
	default:
		return templates[TemplateGeneral]
	}
}

var templates = map[string]Template{
	TemplateComparison: {
		Name: TemplateComparison,
		Descriptions: map[string]string{
			StageDataAnalyst:  "Analyze the data for comparative insights",
			StageBISpecialist: "Create business recommendations from the comparative analysis",
			StageStatistician: "Perform statistical validation of the comparative analysis",
			StageVizExpert:    "Recommend charts that make the comparison clear",
		},
		Focus: map[string][]string{
			StageDataAnalyst: {
				"Identifying key metrics for comparison",
				"Finding significant differences between groups or categories",
				"Statistical significance of differences",
				"Ranking and prioritization of findings",
			},
			StageBISpecialist: {
				"Translate findings into business implications",
				"Prioritize actionable insights",
				"Suggest next steps and further analysis",
				"Identify potential risks and opportunities",
			},
			StageStatistician: {
				"Validate statistical significance of identified differences",
				"Calculate confidence intervals where appropriate",
				"Identify potential confounding factors",
				"Assess reliability of conclusions",
			},
			StageVizExpert: {
				"Choose chart types for side-by-side comparison",
				"Highlight the largest differences",
				"Keep scales consistent across groups",
			},
		},
	},
	TemplateTrend: {
		Name: TemplateTrend,
		Descriptions: map[string]string{
			StageDataAnalyst:  "Analyze temporal patterns and trends",
			StageBISpecialist: "Explain what the trends mean for the business",
			StageStatistician: "Perform statistical analysis of trends and patterns",
			StageVizExpert:    "Recommend visualization strategies for trend data",
		},
		Focus: map[string][]string{
			StageDataAnalyst: {
				"Identifying time-based patterns and trends",
				"Seasonality and cyclical patterns",
				"Rate of change and acceleration",
				"Anomalies and outliers in time series",
			},
			StageBISpecialist: {
				"Business impact of the observed trends",
				"Periods that need attention",
				"Actions to reinforce or reverse each trend",
			},
			StageStatistician: {
				"Test for trend significance",
				"Decompose time series components",
				"Identify change points",
				"Forecast future trends where appropriate",
			},
			StageVizExpert: {
				"Suggest appropriate chart types for temporal data",
				"Identify key time periods to highlight",
				"Recommend interactive features for exploration",
				"Design layout for maximum insight communication",
			},
		},
	},
	TemplateCorrelation: {
		Name: TemplateCorrelation,
		Descriptions: map[string]string{
			StageDataAnalyst:  "Analyze relationships and correlations",
			StageBISpecialist: "Turn the relationships found into business recommendations",
			StageStatistician: "Validate and interpret correlation findings",
			StageVizExpert:    "Recommend charts that show the relationships",
		},
		Focus: map[string][]string{
			StageDataAnalyst: {
				"Identifying strong correlations between variables",
				"Distinguishing correlation from causation",
				"Finding unexpected relationships",
				"Analyzing correlation stability across subgroups",
			},
			StageBISpecialist: {
				"Which relationships can be acted on",
				"Levers suggested by the strongest correlations",
				"Risks of acting on spurious relationships",
			},
			StageStatistician: {
				"Test correlation significance",
				"Identify potential spurious correlations",
				"Analyze partial correlations",
				"Assess multicollinearity issues",
			},
			StageVizExpert: {
				"Scatter plots or heatmaps for pairs of variables",
				"Annotate the strongest relationships",
			},
		},
	},
	TemplateGeneral: {
		Name: TemplateGeneral,
		Descriptions: map[string]string{
			StageDataAnalyst:  "Perform comprehensive data analysis",
			StageBISpecialist: "Create business insights and recommendations",
			StageStatistician: "Check the statistical reliability of the findings",
			StageVizExpert:    "Recommend charts that summarize the findings",
		},
		Focus: map[string][]string{
			StageDataAnalyst: {
				"Data quality assessment",
				"Descriptive statistics and distributions",
				"Key insights and patterns",
				"Anomalies and outliers",
			},
			StageBISpecialist: {
				"Translate findings into business language",
				"Prioritize actionable insights",
				"Identify opportunities and risks",
				"Suggest follow-up analyses",
			},
			StageStatistician: {
				"Sample size and its effect on the conclusions",
				"Significance of the main findings",
				"Caveats and assumptions",
			},
			StageVizExpert: {
				"Chart types for the main distributions",
				"One overview chart for the key metric",
			},
		},
	},
}
