// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package synthesis

import (
	"fmt"
	"math"

	"github.com/AleutianAI/AleutianQuery/services/orchestrator/datatypes"
)

// Weights are the confidence factor weights. They should sum to 1.
type Weights struct {
	DataQuality             float64 `mapstructure:"data_quality" validate:"gte=0,lte=1"`
	AnalysisDepth           float64 `mapstructure:"analysis_depth" validate:"gte=0,lte=1"`
	Consistency             float64 `mapstructure:"consistency" validate:"gte=0,lte=1"`
	StatisticalSignificance float64 `mapstructure:"statistical_significance" validate:"gte=0,lte=1"`
	BusinessRelevance       float64 `mapstructure:"business_relevance" validate:"gte=0,lte=1"`
}

// DefaultWeights returns 0.25/0.25/0.20/0.15/0.15.
func DefaultWeights() Weights {
	return Weights{
		DataQuality:             0.25,
		AnalysisDepth:           0.25,
		Consistency:             0.20,
		StatisticalSignificance: 0.15,
		BusinessRelevance:       0.15,
	}
}

// Sum returns the total weight.
func (w Weights) Sum() float64 {
	return w.DataQuality + w.AnalysisDepth + w.Consistency + w.StatisticalSignificance + w.BusinessRelevance
}

// Validate reports weights that do not sum to 1 (within 0.001).
func (w Weights) Validate() error {
	if math.Abs(w.Sum()-1) > 0.001 {
		return fmt.Errorf("synthesis weights sum to %.3f, want 1", w.Sum())
	}
	return nil
}

// Score combines the factors with the weights, clamped to [0,1].
func (w Weights) Score(f datatypes.ConfidenceFactors) float64 {
	s := w.DataQuality*f.DataQuality +
		w.AnalysisDepth*f.AnalysisDepth +
		w.Consistency*f.Consistency +
		w.StatisticalSignificance*f.StatisticalSignificance +
		w.BusinessRelevance*f.BusinessRelevance
	return clamp(s)
}

// minSignificantRows is the row count from which a SQL result alone lends
// statistical weight.
const minSignificantRows = 30

// evidence is what the factors are scored from.
type evidence struct {
	sql          *datatypes.SQLPayload
	crew         *datatypes.CrewPayload
	crewStatus   datatypes.PathStatus
	contributing int
	conflicts    int
	compared     int
}

// Factors scores the five confidence factors. Each factor takes the
// strongest available signal, so adding a contributing path never lowers
// it.
func (e evidence) Factors() datatypes.ConfidenceFactors {
	var f datatypes.ConfidenceFactors
	sqlOK := e.sql != nil

	analyst, hasAnalyst := e.crew.Stage("data_analyst")
	stat, hasStat := e.crew.Stage("statistician")
	bi, hasBI := e.crew.Stage("bi_specialist")

	// data_quality
	if sqlOK {
		if e.sql.RowCount > 0 {
			f.DataQuality = 1.0
		} else {
			f.DataQuality = 0.4
		}
	}
	if hasAnalyst && !analyst.Placeholder {
		f.DataQuality = math.Max(f.DataQuality, 0.6)
	}

	// analysis_depth
	f.AnalysisDepth = 0.75 * float64(e.crew.RealStages()) / 4
	if sqlOK {
		f.AnalysisDepth += 0.25
	}

	// consistency
	switch {
	case e.contributing >= 2:
		agreement := 1.0
		if e.compared > 0 {
			agreement = 1 - float64(e.conflicts)/float64(e.compared)
		}
		f.Consistency = 0.7 + 0.3*agreement
	case e.contributing == 1:
		f.Consistency = 0.7
	}

	// statistical_significance
	if hasStat {
		if stat.Placeholder {
			f.StatisticalSignificance = 0.3
		} else {
			f.StatisticalSignificance = 1.0
		}
	}
	if sqlOK && e.sql.RowCount >= minSignificantRows {
		f.StatisticalSignificance = math.Max(f.StatisticalSignificance, 0.6)
	}

	// business_relevance
	if hasBI && !bi.Placeholder {
		f.BusinessRelevance = 1.0
	}
	if sqlOK {
		f.BusinessRelevance = math.Max(f.BusinessRelevance, 0.8)
	}
	if e.crewStatus == datatypes.StatusDegraded && !(hasBI && !bi.Placeholder) {
		f.BusinessRelevance = math.Max(f.BusinessRelevance, 0.5)
	}

	f.DataQuality = clamp(f.DataQuality)
	f.AnalysisDepth = clamp(f.AnalysisDepth)
	f.Consistency = clamp(f.Consistency)
	return f
}

func clamp(v float64) float64 {
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
