// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command aleutianq is the command-line client of the query service.
//
// # Usage
//
//	aleutianq upload sales.csv
//	aleutianq sample ecommerce
//	aleutianq ask -s <source-id> "which region had the highest revenue?"
//	aleutianq ask -s <source-id> --stream "what trends do you see?"
//	aleutianq similar -s <source-id> "revenue by month"
//	aleutianq history <session-id>
//
// # Environment Variables
//
//   - ALEUTIAN_SERVER_URL: server base URL (default: http://localhost:12210)
//   - ALEUTIAN_API_KEY: bearer token for apikey auth
//   - ALEUTIAN_SOURCE: default data source id for ask, validate-sql and similar
//   - ALEUTIAN_OUTPUT: rich, plain, machine or json
package main

import (
	"errors"
	"os"
)

// Exit codes for CLI commands.
const (
	exitSuccess = 0
	exitError   = 2 // Operation failed
)

func main() {
	app := newApp(os.Stdout, os.Stderr)
	if err := app.root().Execute(); err != nil {
		var apiErr *APIError
		switch {
		case errors.Is(err, errInvalidSQL):
		case errors.As(err, &apiErr):
			renderAPIError(app.printer, apiErr)
		default:
			app.printer.Error(err.Error())
		}
		os.Exit(exitError)
	}
	os.Exit(exitSuccess)
}
