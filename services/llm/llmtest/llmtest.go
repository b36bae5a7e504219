// Package llmtest provides scripted LLM clients for tests.
package llmtest

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianQuery/services/llm"
)

// Rule answers prompts that contain Match (checked against the system
// prompt followed by the user prompt).
type Rule struct {
	Match    string
	Response string
	Err      error
	Delay    time.Duration
}

// Call is one recorded Generate invocation.
type Call struct {
	Prompt string
	System string
}

// ScriptedClient answers with the first matching rule, or Default.
type ScriptedClient struct {
	Rules   []Rule
	Default Rule

	mu    sync.Mutex
	calls []Call
}

// Generate implements llm.LLMClient.
func (s *ScriptedClient) Generate(ctx context.Context, prompt string, params llm.GenerationParams) (string, error) {
	s.mu.Lock()
	s.calls = append(s.calls, Call{Prompt: prompt, System: params.System})
	s.mu.Unlock()

	rule := s.Default
	haystack := params.System + "\n" + prompt
	for _, r := range s.Rules {
		if strings.Contains(haystack, r.Match) {
			rule = r
			break
		}
	}
	if rule.Delay > 0 {
		select {
		case <-time.After(rule.Delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return rule.Response, rule.Err
}

// Calls returns a copy of the recorded calls.
func (s *ScriptedClient) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

// CallsMatching counts calls whose system or user prompt contains sub.
func (s *ScriptedClient) CallsMatching(sub string) int {
	n := 0
	for _, c := range s.Calls() {
		if strings.Contains(c.System+"\n"+c.Prompt, sub) {
			n++
		}
	}
	return n
}

var _ llm.LLMClient = (*ScriptedClient)(nil)
