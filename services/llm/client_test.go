package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockLLMClient records the last prompt and returns a canned response.
type MockLLMClient struct {
	Response   string
	Err        error
	Delay      time.Duration
	LastPrompt string
	LastParams GenerationParams
	Calls      atomic.Int32
}

func (m *MockLLMClient) Generate(ctx context.Context, prompt string, params GenerationParams) (string, error) {
	m.Calls.Add(1)
	m.LastPrompt = prompt
	m.LastParams = params
	if m.Delay > 0 {
		select {
		case <-time.After(m.Delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return m.Response, m.Err
}

var _ LLMClient = (*MockLLMClient)(nil)

// =============================================================================
// Render / Complete
// =============================================================================

func TestRender_SubstitutesVariables(t *testing.T) {
	out, err := Render("Schema:\n{{.schema}}\nQuestion: {{.question}}", map[string]any{
		"schema":   "sales(region TEXT, amount REAL)",
		"question": "total sales by region",
	})
	require.NoError(t, err)
	assert.Equal(t, "Schema:\nsales(region TEXT, amount REAL)\nQuestion: total sales by region", out)
}

func TestRender_NoVarsReturnsTemplate(t *testing.T) {
	out, err := Render("Return JSON: {\"a\": 1}", nil)
	require.NoError(t, err)
	assert.Equal(t, "Return JSON: {\"a\": 1}", out)
}

func TestComplete_RendersPromptAndSystem(t *testing.T) {
	mock := &MockLLMClient{Response: "ok"}
	out, err := Complete(context.Background(), mock, "Q: {{.q}}", map[string]any{"q": "why"},
		GenerationParams{System: "You analyse {{.q}}"}, time.Second)

	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, "Q: why", mock.LastPrompt)
	assert.Equal(t, "You analyse why", mock.LastParams.System)
}

func TestComplete_WrapsProviderErrors(t *testing.T) {
	cause := errors.New("boom")
	_, err := Complete(context.Background(), &MockLLMClient{Err: cause}, "p", nil, GenerationParams{}, time.Second)

	var perr *ProviderError
	require.ErrorAs(t, err, &perr)
	assert.ErrorIs(t, err, cause)
}

func TestComplete_EmptyOutputIsError(t *testing.T) {
	_, err := Complete(context.Background(), &MockLLMClient{Response: ""}, "p", nil, GenerationParams{}, time.Second)
	assert.ErrorIs(t, err, ErrEmptyCompletion)
}

func TestComplete_Timeout(t *testing.T) {
	mock := &MockLLMClient{Response: "late", Delay: time.Second}
	start := time.Now()
	_, err := Complete(context.Background(), mock, "p", nil, GenerationParams{}, 20*time.Millisecond)

	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestComplete_NilClient(t *testing.T) {
	_, err := Complete(context.Background(), nil, "p", nil, GenerationParams{}, 0)
	var perr *ProviderError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "none", perr.Provider)
}

// =============================================================================
// Rate limiting
// =============================================================================

func TestRateLimitedClient_HonoursContext(t *testing.T) {
	mock := &MockLLMClient{Response: "ok"}
	client := NewRateLimitedClient(mock, 1, 1)

	_, err := client.Generate(context.Background(), "first", GenerationParams{})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = client.Generate(ctx, "second", GenerationParams{})
	assert.Error(t, err)
	assert.Equal(t, int32(1), mock.Calls.Load())
}

func TestRateLimitedClient_Unlimited(t *testing.T) {
	mock := &MockLLMClient{Response: "ok"}
	client := NewRateLimitedClient(mock, 0, 0)
	for i := 0; i < 10; i++ {
		_, err := client.Generate(context.Background(), "p", GenerationParams{})
		require.NoError(t, err)
	}
	assert.Equal(t, int32(10), mock.Calls.Load())
}

// =============================================================================
// Backends over httptest
// =============================================================================

func TestOllamaClient_Generate(t *testing.T) {
	var got ollamaGenerateRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/generate", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(ollamaGenerateResponse{Response: "SELECT 1;", Done: true})
	}))
	defer srv.Close()

	client, err := NewOllamaClient(Config{BaseURL: srv.URL + "/", Model: "llama3.1"})
	require.NoError(t, err)

	out, err := client.Generate(context.Background(), "prompt", GenerationParams{System: "sys", MaxTokens: Int(64)})
	require.NoError(t, err)
	assert.Equal(t, "SELECT 1;", out)
	assert.Equal(t, "llama3.1", got.Model)
	assert.Equal(t, "sys", got.System)
	assert.False(t, got.Stream)
	assert.EqualValues(t, 64, got.Options["num_predict"])
}

func TestOllamaClient_ModelNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"model 'x' not found"}`))
	}))
	defer srv.Close()

	client, err := NewOllamaClient(Config{BaseURL: srv.URL, Model: "x"})
	require.NoError(t, err)
	_, err = client.Generate(context.Background(), "prompt", GenerationParams{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ollama pull x")
}

func TestOpenAIClient_Generate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/chat/completions"))
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		msgs := req["messages"].([]any)
		assert.Len(t, msgs, 2)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"c1","object":"chat.completion","model":"gpt-4o-mini",
			"choices":[{"index":0,"message":{"role":"assistant","content":"hello"},"finish_reason":"stop"}]}`))
	}))
	defer srv.Close()

	client, err := NewOpenAIClient(Config{APIKey: "test-key", BaseURL: srv.URL + "/v1"})
	require.NoError(t, err)

	out, err := client.Generate(context.Background(), "hi", GenerationParams{System: "be brief"})
	require.NoError(t, err)
	assert.Equal(t, "hello", out)
}

func TestAnthropicClient_Generate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "k", r.Header.Get("x-api-key"))
		assert.Equal(t, anthropicAPIVersion, r.Header.Get("anthropic-version"))
		_, _ = w.Write([]byte(`{"id":"m1","content":[{"type":"text","text":"part one "},{"type":"text","text":"part two"}]}`))
	}))
	defer srv.Close()

	client, err := NewAnthropicClient(Config{APIKey: "k", BaseURL: srv.URL})
	require.NoError(t, err)
	out, err := client.Generate(context.Background(), "hi", GenerationParams{})
	require.NoError(t, err)
	assert.Equal(t, "part one part two", out)
}

func TestLocalLlamaCppClient_Generate(t *testing.T) {
	var got llamaCppRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/completion", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"content":"local answer"}`))
	}))
	defer srv.Close()

	client, err := NewLocalLlamaCppClient(Config{BaseURL: srv.URL})
	require.NoError(t, err)
	out, err := client.Generate(context.Background(), "question", GenerationParams{System: "sys", MaxTokens: Int(32)})
	require.NoError(t, err)
	assert.Equal(t, "local answer", out)
	assert.Equal(t, "sys\n\nquestion", got.Prompt)
	assert.Equal(t, 32, got.NPredict)
}

func TestLocalLlamaCppClient_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "loading model", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client, err := NewLocalLlamaCppClient(Config{BaseURL: srv.URL})
	require.NoError(t, err)
	_, err = client.Generate(context.Background(), "q", GenerationParams{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func TestNewClient_UnknownBackend(t *testing.T) {
	_, err := NewClient(Config{Backend: "llamafile"})
	assert.Error(t, err)
}
