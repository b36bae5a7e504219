// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package prompts resolves prompt templates by logical key.
//
// Resolution walks an ordered chain of tiers: a dynamic HTTP prompt
// service, static YAML templates and hardcoded defaults. The first tier
// that answers wins. Resolution never fails; when no tier knows a key the
// chain returns a generic instruction so callers can always proceed.
//
// Thread Safety:
//
//	All exported types are safe for concurrent use.
package prompts

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/AleutianAI/AleutianQuery/services/orchestrator/observability"
)

// Agent names used as the first component of a prompt key.
const (
	AgentIntent      = "intent"
	AgentSQL         = "sql"
	AgentCrew        = "crew"
	AgentSynthesizer = "synthesizer"
)

// GenericPrompt is returned when no tier knows a key.
const GenericPrompt = "You are a careful data analyst. Answer the request using only the information provided."

// ErrNotFound is returned by a Tier that has no entry for a key.
var ErrNotFound = errors.New("prompt not found")

// Key identifies a prompt. Sub may be empty or a dotted path ("a.b").
type Key struct {
	Agent  string
	Prompt string
	Sub    string
}

// String returns "agent:prompt" or "agent:prompt:sub".
func (k Key) String() string {
	if k.Sub == "" {
		return k.Agent + ":" + k.Prompt
	}
	return k.Agent + ":" + k.Prompt + ":" + k.Sub
}

// Tier is one level of the resolution chain.
type Tier interface {
	// Name labels the tier in logs and metrics.
	Name() string

	// Lookup returns the prompt text for key, ErrNotFound when the tier
	// does not know it, or another error when the tier is unavailable.
	Lookup(ctx context.Context, key Key) (string, error)
}

// Provider resolves a prompt by agent type, prompt key and optional sub-key.
type Provider interface {
	Resolve(ctx context.Context, agentType, promptKey, subKey string) string
}

// Chain is a Provider that consults tiers in order.
type Chain struct {
	tiers []Tier
}

// NewChain builds a chain over the given tiers. Nil tiers are skipped.
func NewChain(tiers ...Tier) *Chain {
	c := &Chain{}
	for _, t := range tiers {
		if t != nil {
			c.tiers = append(c.tiers, t)
		}
	}
	return c
}

// Resolve implements Provider.
func (c *Chain) Resolve(ctx context.Context, agentType, promptKey, subKey string) string {
	key := Key{Agent: agentType, Prompt: promptKey, Sub: subKey}
	for _, t := range c.tiers {
		text, err := t.Lookup(ctx, key)
		if err == nil && strings.TrimSpace(text) != "" {
			observability.RecordPromptResolution(t.Name())
			return text
		}
		if err != nil && !errors.Is(err, ErrNotFound) {
			slog.Warn("Prompt tier unavailable", "tier", t.Name(), "key", key.String(), "error", err)
		}
	}
	slog.Warn("Prompt not found in any tier, using generic prompt", "key", key.String())
	observability.RecordPromptResolution("generic")
	return GenericPrompt
}

var _ Provider = (*Chain)(nil)
