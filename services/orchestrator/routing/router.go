// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package routing maps intent records to execution plans.
//
// Rules are evaluated in priority order and the first match wins:
//
//  1. sql_only when the source is a database, or the query has SQL terms,
//     and confidence >= SQLConfidence.
//  2. crew_only when the intent is exploration, comparison or insight and
//     confidence >= CrewConfidence.
//  3. both when the query is complex or needs a database and a file
//     together, and confidence >= BothConfidence.
//  4. crew_only otherwise.
//
// SQL routing is checked first: a wrong SQL-only plan shows up as an empty
// or failing result, while skipping a needed query yields a plausible but
// wrong narrative answer.
package routing

import (
	"fmt"
	"strconv"

	"github.com/AleutianAI/AleutianQuery/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianQuery/services/orchestrator/observability"
)

// Rule numbers reported on ExecutionPlan.Rule.
const (
	RuleSQL     = 1
	RuleCrew    = 2
	RuleBoth    = 3
	RuleDefault = 4
)

// Config holds the confidence thresholds of the decision table.
type Config struct {
	SQLConfidence  float64 `mapstructure:"sql_confidence" validate:"gte=0,lte=1"`
	CrewConfidence float64 `mapstructure:"crew_confidence" validate:"gte=0,lte=1"`
	BothConfidence float64 `mapstructure:"both_confidence" validate:"gte=0,lte=1"`
}

// DefaultConfig returns the standard thresholds (0.7 / 0.6 / 0.8).
func DefaultConfig() Config {
	return Config{SQLConfidence: 0.7, CrewConfidence: 0.6, BothConfidence: 0.8}
}

// Validate checks that thresholds are within [0,1].
func (c Config) Validate() error {
	for name, v := range map[string]float64{
		"sql_confidence":  c.SQLConfidence,
		"crew_confidence": c.CrewConfidence,
		"both_confidence": c.BothConfidence,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("routing.%s must be in [0,1], got %v", name, v)
		}
	}
	return nil
}

// Router applies the decision table. The zero value is not usable; create
// one with New.
type Router struct {
	config Config
}

// New creates a Router with cfg.
func New(cfg Config) *Router {
	return &Router{config: cfg}
}

// Route returns the plan for rec. It depends only on rec and the router's
// fixed thresholds.
func (r *Router) Route(rec datatypes.IntentRecord) datatypes.ExecutionPlan {
	plan := Decide(r.config, rec)
	observability.RecordRoutingDecision(string(plan.Approach), strconv.Itoa(plan.Rule))
	return plan
}

// Decide is the decision table as a pure function.
func Decide(cfg Config, rec datatypes.IntentRecord) datatypes.ExecutionPlan {
	conf := datatypes.ClampConfidence(rec.Confidence)

	if (rec.SourceKind == datatypes.SourceDatabase || rec.HasSQLTerms()) && conf >= cfg.SQLConfidence {
		return datatypes.PlanFor(datatypes.ApproachSQLOnly, RuleSQL)
	}
	switch rec.Intent {
	case datatypes.IntentExploration, datatypes.IntentComparison, datatypes.IntentInsight:
		if conf >= cfg.CrewConfidence {
			return datatypes.PlanFor(datatypes.ApproachCrewOnly, RuleCrew)
		}
	}
	if (rec.Complexity == datatypes.ComplexityComplex || rec.CrossReference) && conf >= cfg.BothConfidence {
		return datatypes.PlanFor(datatypes.ApproachBoth, RuleBoth)
	}
	return datatypes.PlanFor(datatypes.ApproachCrewOnly, RuleDefault)
}
