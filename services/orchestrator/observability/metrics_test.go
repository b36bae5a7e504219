// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordPathResult_IncrementsByLabel(t *testing.T) {
	before := testutil.ToFloat64(pathOutcomes.WithLabelValues("sql", "ok"))
	RecordPathResult("sql", "ok", 150*time.Millisecond)
	RecordPathResult("sql", "ok", 250*time.Millisecond)

	assert.Equal(t, before+2, testutil.ToFloat64(pathOutcomes.WithLabelValues("sql", "ok")))
}

func TestRecordWorkflow_EmptyApproachUsesNone(t *testing.T) {
	RecordWorkflow("", "error", time.Second)

	_, err := workflowDuration.GetMetricWithLabelValues("none", "error")
	assert.NoError(t, err)
	assert.GreaterOrEqual(t, testutil.CollectAndCount(workflowDuration), 1)
}

func TestRecordIntentFallback(t *testing.T) {
	before := testutil.ToFloat64(intentFallbacks.WithLabelValues("parse_error"))
	RecordIntentFallback("parse_error")
	assert.Equal(t, before+1, testutil.ToFloat64(intentFallbacks.WithLabelValues("parse_error")))
}

func TestRecordSynthesis_CountsConflicts(t *testing.T) {
	before := testutil.ToFloat64(synthesisConflicts)
	RecordSynthesis(0.82, 3)
	assert.Equal(t, before+3, testutil.ToFloat64(synthesisConflicts))
}

func TestRecordPromptResolution(t *testing.T) {
	before := testutil.ToFloat64(promptResolutions.WithLabelValues("static"))
	RecordPromptResolution("static")
	assert.Equal(t, before+1, testutil.ToFloat64(promptResolutions.WithLabelValues("static")))
}

func TestRecordRoutingDecision(t *testing.T) {
	before := testutil.ToFloat64(routingDecisions.WithLabelValues("sql_only", "1"))
	RecordRoutingDecision("sql_only", "1")
	assert.Equal(t, before+1, testutil.ToFloat64(routingDecisions.WithLabelValues("sql_only", "1")))
}
