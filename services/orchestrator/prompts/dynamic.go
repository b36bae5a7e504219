// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package prompts

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// DefaultDynamicTTL is how long a fetched prompt is served from cache.
const DefaultDynamicTTL = time.Hour

var tracer = otel.Tracer("aleutian.query.prompts")

type dynamicEntry struct {
	text    string
	expires time.Time
}

type dynamicResponse struct {
	Prompt string `json:"prompt"`
}

// HTTPTier fetches prompts from a hosted prompt service.
//
// Requests are GET {base}/prompts/{agent}/{prompt}?sub_key={sub}; the
// service answers {"prompt": "..."} or 404. Successful lookups are cached
// under "agent:prompt:sub" for the configured TTL.
type HTTPTier struct {
	baseURL string
	client  *http.Client
	ttl     time.Duration
	now     func() time.Time

	mu    sync.Mutex
	cache map[string]dynamicEntry
}

// NewHTTPTier creates a tier for baseURL. A non-positive ttl uses
// DefaultDynamicTTL; a non-positive timeout uses 5s.
func NewHTTPTier(baseURL string, ttl, timeout time.Duration) *HTTPTier {
	if ttl <= 0 {
		ttl = DefaultDynamicTTL
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPTier{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		ttl:     ttl,
		now:     time.Now,
		cache:   make(map[string]dynamicEntry),
	}
}

// Name implements Tier.
func (h *HTTPTier) Name() string { return "dynamic" }

// Lookup implements Tier.
func (h *HTTPTier) Lookup(ctx context.Context, key Key) (string, error) {
	cacheKey := key.String()
	h.mu.Lock()
	if e, ok := h.cache[cacheKey]; ok && h.now().Before(e.expires) {
		h.mu.Unlock()
		return e.text, nil
	}
	h.mu.Unlock()

	ctx, span := tracer.Start(ctx, "HTTPTier.Lookup")
	defer span.End()
	span.SetAttributes(attribute.String("prompt.key", cacheKey))

	endpoint := fmt.Sprintf("%s/prompts/%s/%s", h.baseURL, url.PathEscape(key.Agent), url.PathEscape(key.Prompt))
	if key.Sub != "" {
		endpoint += "?sub_key=" + url.QueryEscape(key.Sub)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("build prompt request: %w", err)
	}
	resp, err := h.client.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "prompt service unreachable")
		return "", fmt.Errorf("prompt service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return "", ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		span.SetStatus(codes.Error, resp.Status)
		return "", fmt.Errorf("prompt service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out dynamicResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, MaxTemplateFileSize)).Decode(&out); err != nil {
		return "", fmt.Errorf("decode prompt response: %w", err)
	}
	if strings.TrimSpace(out.Prompt) == "" {
		return "", ErrNotFound
	}

	h.mu.Lock()
	h.cache[cacheKey] = dynamicEntry{text: out.Prompt, expires: h.now().Add(h.ttl)}
	h.mu.Unlock()
	return out.Prompt, nil
}

var _ Tier = (*HTTPTier)(nil)
