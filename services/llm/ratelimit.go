package llm

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// RateLimitedClient throttles calls to an underlying LLMClient.
//
// Callers block in Generate until a token is available or ctx is done.
type RateLimitedClient struct {
	inner   LLMClient
	limiter *rate.Limiter
}

// NewRateLimitedClient allows requestsPerMinute calls with a burst of
// burst. A non-positive requestsPerMinute disables limiting.
func NewRateLimitedClient(inner LLMClient, requestsPerMinute, burst int) *RateLimitedClient {
	limit := rate.Inf
	if requestsPerMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(requestsPerMinute))
	}
	if burst <= 0 {
		burst = 1
	}
	return &RateLimitedClient{inner: inner, limiter: rate.NewLimiter(limit, burst)}
}

// Generate implements the LLMClient interface.
func (c *RateLimitedClient) Generate(ctx context.Context, prompt string, params GenerationParams) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("llm rate limit wait: %w", err)
	}
	return c.inner.Generate(ctx, prompt, params)
}

var _ LLMClient = (*RateLimitedClient)(nil)
