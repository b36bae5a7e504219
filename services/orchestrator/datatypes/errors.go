// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"fmt"
	"time"
)

// =============================================================================
// Error Taxonomy
// =============================================================================
//
// Each failure is absorbed at the lowest boundary that can still produce a
// useful result:
//
//	IntentAnalysisError -> fallback intent record
//	SQLValidationError  -> one regeneration, then path failure
//	SQLExecutionError   -> path failure, never retried
//	TimeoutError        -> path failure, never retried
//	CrewStageError      -> stage placeholder, pipeline continues
//	SynthesisError      -> workflow error state

// IntentAnalysisError is a model or parse failure during classification.
type IntentAnalysisError struct {
	// Reason is "llm_error" or "parse_error".
	Reason string
	Err    error
}

func (e *IntentAnalysisError) Error() string {
	return fmt.Sprintf("intent analysis (%s): %v", e.Reason, e.Err)
}

func (e *IntentAnalysisError) Unwrap() error { return e.Err }

// SQLValidationError is a static check failure on generated SQL.
type SQLValidationError struct {
	// Check names the failed check, e.g. "unknown_table" or "group_by".
	Check   string
	Message string
	Query   string
}

func (e *SQLValidationError) Error() string {
	return fmt.Sprintf("sql validation failed (%s): %s", e.Check, e.Message)
}

// SQLExecutionError is a failure while running a validated query.
type SQLExecutionError struct {
	Query string
	Err   error
}

func (e *SQLExecutionError) Error() string {
	return fmt.Sprintf("sql execution failed: %v", e.Err)
}

func (e *SQLExecutionError) Unwrap() error { return e.Err }

// TimeoutError marks a path that exceeded its time budget.
type TimeoutError struct {
	Path    PathName
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s path timed out after %s", e.Path, e.Timeout)
}

// CrewStageError is a failed specialist stage.
type CrewStageError struct {
	Stage string
	Err   error
}

func (e *CrewStageError) Error() string {
	return fmt.Sprintf("crew stage %s failed: %v", e.Stage, e.Err)
}

func (e *CrewStageError) Unwrap() error { return e.Err }

// SynthesisError means no path produced a usable result.
//
// Partial holds the failed path results that still carry a payload, such
// as a rejected SQL statement or the crew stages completed before the data
// analyst failed. It is empty when no path got that far.
type SynthesisError struct {
	Message string
	Partial []PathResult
}

func (e *SynthesisError) Error() string {
	return e.Message
}
