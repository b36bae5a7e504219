// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation provides input validation utilities for security-critical operations.
//
// This package contains validators for user-provided identifiers that are
// used as storage keys or interpolated into SQL. Using these validators
// prevents key-prefix collisions and identifier injection.
package validation

import (
	"fmt"
	"regexp"
)

// sessionIDPattern matches session ids: letters, digits, dot, underscore,
// colon and hyphen, 1-128 characters. Slashes are excluded because the
// history store uses them as key separators.
var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._:\-]{0,127}$`)

// schemaPattern matches an unquoted PostgreSQL identifier of at most 63
// bytes.
var schemaPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_$]{0,62}$`)

// ValidateSessionID validates a caller-supplied session id.
//
// Example:
//
//	if err := validation.ValidateSessionID(req.SessionID); err != nil {
//	    return err
//	}
func ValidateSessionID(id string) error {
	if !sessionIDPattern.MatchString(id) {
		return fmt.Errorf("invalid session id %q: must be 1-128 characters of A-Z a-z 0-9 . _ : -", id)
	}
	return nil
}

// ValidateSchemaName validates a PostgreSQL schema name before it is used
// to scope catalog queries.
func ValidateSchemaName(name string) error {
	if !schemaPattern.MatchString(name) {
		return fmt.Errorf("invalid schema name %q: must be an unquoted SQL identifier", name)
	}
	return nil
}
