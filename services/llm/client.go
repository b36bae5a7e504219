package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tmc/langchaingo/prompts"
)

// GenerationParams tunes a single generation. Nil pointers leave the
// backend default in place.
type GenerationParams struct {
	Temperature *float32 `json:"temperature"`
	TopK        *int     `json:"top_k"`
	TopP        *float32 `json:"top_p"`
	MaxTokens   *int     `json:"max_tokens"`
	Stop        []string `json:"stop"`

	// System is sent as the system role message when the backend supports one.
	System string `json:"system,omitempty"`
}

// LLMClient defines the standard interface for any LLM backend.
type LLMClient interface {
	Generate(ctx context.Context, prompt string, params GenerationParams) (string, error)
}

// ProviderError wraps a failure reported by an LLM backend.
type ProviderError struct {
	Provider string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("llm provider %s: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// ErrEmptyCompletion is returned when a backend answers with no content.
var ErrEmptyCompletion = errors.New("llm returned an empty completion")

// Render substitutes vars into a Go-template prompt ({{.name}}).
//
// Rendering goes through langchaingo prompt templates so the same
// template text works with langchaingo chains elsewhere.
func Render(template string, vars map[string]any) (string, error) {
	if len(vars) == 0 {
		return template, nil
	}
	inputVars := make([]string, 0, len(vars))
	for k := range vars {
		inputVars = append(inputVars, k)
	}
	tmpl := prompts.PromptTemplate{
		Template:       template,
		InputVariables: inputVars,
		TemplateFormat: prompts.TemplateFormatGoTemplate,
	}
	out, err := tmpl.Format(vars)
	if err != nil {
		return "", fmt.Errorf("render prompt: %w", err)
	}
	return out, nil
}

// Complete renders prompt with vars and runs it with a bounded timeout.
//
// # Description
//
// This is the single entry point the orchestration core uses to call a
// model. Every failure, including timeouts and render errors, is returned
// as a *ProviderError so callers can absorb it uniformly.
//
// # Inputs
//
//   - ctx: Parent context.
//   - client: Backend to call. Must not be nil.
//   - prompt: Go-template prompt text.
//   - vars: Template variables. May be nil.
//   - params: Generation parameters.
//   - timeout: Upper bound for the call. Zero means no extra bound.
//
// # Outputs
//
//   - string: Model output. Never empty on success.
//   - error: *ProviderError on failure.
func Complete(ctx context.Context, client LLMClient, prompt string, vars map[string]any,
	params GenerationParams, timeout time.Duration) (string, error) {

	if client == nil {
		return "", &ProviderError{Provider: "none", Err: errors.New("no llm client configured")}
	}
	provider := fmt.Sprintf("%T", client)

	rendered, err := Render(prompt, vars)
	if err != nil {
		return "", &ProviderError{Provider: provider, Err: err}
	}
	if params.System != "" {
		if params.System, err = Render(params.System, vars); err != nil {
			return "", &ProviderError{Provider: provider, Err: err}
		}
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	out, err := client.Generate(ctx, rendered, params)
	if err != nil {
		return "", &ProviderError{Provider: provider, Err: err}
	}
	if out == "" {
		return "", &ProviderError{Provider: provider, Err: ErrEmptyCompletion}
	}
	return out, nil
}

// Float32 and Int return pointers for GenerationParams literals.
func Float32(v float32) *float32 { return &v }
func Int(v int) *int             { return &v }
