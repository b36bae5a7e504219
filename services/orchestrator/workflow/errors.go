// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package workflow

import (
	"errors"
	"fmt"

	"github.com/AleutianAI/AleutianQuery/services/orchestrator/datatypes"
)

// The error taxonomy lives in datatypes so every component can return it
// without importing this package.
type (
	IntentAnalysisError = datatypes.IntentAnalysisError
	SQLValidationError  = datatypes.SQLValidationError
	SQLExecutionError   = datatypes.SQLExecutionError
	TimeoutError        = datatypes.TimeoutError
	CrewStageError      = datatypes.CrewStageError
	SynthesisError      = datatypes.SynthesisError
)

// TransitionError is an illegal state machine move. It indicates a bug in
// the engine, not a recoverable condition.
type TransitionError struct {
	From   Stage
	To     Stage
	Reason string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("illegal transition %s -> %s: %s", e.From, e.To, e.Reason)
}

// ErrEngineFault wraps every error that is caused by the engine itself
// rather than by a collaborator.
var ErrEngineFault = errors.New("workflow engine fault")

func engineFault(err error) error {
	return fmt.Errorf("%w: %w", ErrEngineFault, err)
}
