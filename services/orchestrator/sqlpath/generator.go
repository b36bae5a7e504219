// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package sqlpath

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianQuery/services/llm"
	"github.com/AleutianAI/AleutianQuery/services/orchestrator/datasource"
	"github.com/AleutianAI/AleutianQuery/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianQuery/services/orchestrator/prompts"
)

// GenerateRequest is the input of one generation call.
type GenerateRequest struct {
	Question string
	Schema   datatypes.Schema
	History  []datatypes.Message
	Similar  []datatypes.SimilarQuery
	Dialect  string

	// Feedback is the validation error of the previous attempt, if any.
	Feedback string
}

// Generator turns a question into a single SQL statement.
type Generator struct {
	client      llm.LLMClient
	prompts     prompts.Provider
	temperature float32
	maxTokens   int
	timeout     time.Duration
}

// NewGenerator creates a Generator.
func NewGenerator(client llm.LLMClient, provider prompts.Provider, cfg Config) *Generator {
	return &Generator{
		client:      client,
		prompts:     provider,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		timeout:     cfg.GenerateTimeout,
	}
}

// Generate asks the model for a query and returns it cleaned by CleanSQL.
func (g *Generator) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	history := datatypes.FormatHistory(req.History)
	if history == "" {
		history = "No previous conversation."
	}
	vars := map[string]any{
		"dialect":  dialectName(req.Dialect),
		"schema":   req.Schema.Describe(),
		"history":  history,
		"question": req.Question,
		"feedback": req.Feedback,
		"similar":  datatypes.FormatSimilar(req.Similar),
	}
	params := llm.GenerationParams{
		System:      prompts.Resolve(ctx, g.prompts, prompts.SQLSystem),
		Temperature: llm.Float32(g.temperature),
	}
	if g.maxTokens > 0 {
		params.MaxTokens = llm.Int(g.maxTokens)
	}

	out, err := llm.Complete(ctx, g.client, prompts.Resolve(ctx, g.prompts, prompts.SQLHuman), vars, params, g.timeout)
	if err != nil {
		return "", err
	}
	return CleanSQL(out), nil
}

func dialectName(d string) string {
	switch d {
	case datasource.DialectPostgres:
		return "PostgreSQL"
	default:
		return "SQLite"
	}
}

var (
	fenceRe      = regexp.MustCompile("(?s)```(?:[a-zA-Z]+)?\\s*(.*?)```")
	statementRe  = regexp.MustCompile(`(?im)^\s*(select|with)\b`)
	whitespaceRe = regexp.MustCompile(`\s+`)
)

// CleanSQL normalizes model output into a single statement.
//
// It takes the first fenced code block when present, drops any prose
// before the first line starting with SELECT or WITH, strips comments,
// collapses whitespace outside string literals and ensures exactly one
// trailing semicolon. An answer with no SQL content returns "".
func CleanSQL(raw string) string {
	s := raw
	if m := fenceRe.FindStringSubmatch(s); m != nil {
		s = m[1]
	}
	if loc := statementRe.FindStringIndex(s); loc != nil {
		s = s[loc[0]:]
	}
	s = stripComments(s)
	s = strings.TrimSpace(s)
	s = strings.TrimRight(s, "; \t\r\n")
	if s == "" {
		return ""
	}
	return s + ";"
}

// stripComments removes -- and /* */ comments and collapses whitespace,
// leaving string literals untouched.
func stripComments(s string) string {
	var sb strings.Builder
	var plain strings.Builder
	flush := func() {
		sb.WriteString(whitespaceRe.ReplaceAllString(plain.String(), " "))
		plain.Reset()
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '-' && i+1 < len(s) && s[i+1] == '-':
			for i < len(s) && s[i] != '\n' {
				i++
			}
			plain.WriteByte(' ')
		case c == '/' && i+1 < len(s) && s[i+1] == '*':
			end := strings.Index(s[i+2:], "*/")
			if end < 0 {
				i = len(s)
			} else {
				i += end + 3
			}
			plain.WriteByte(' ')
		case c == '\'':
			flush()
			j := i + 1
			for j < len(s) {
				if s[j] == '\'' {
					if j+1 < len(s) && s[j+1] == '\'' {
						j += 2
						continue
					}
					break
				}
				j++
			}
			if j >= len(s) {
				j = len(s) - 1
			}
			sb.WriteString(s[i : j+1])
			i = j
		default:
			plain.WriteByte(c)
		}
	}
	flush()
	return sb.String()
}
