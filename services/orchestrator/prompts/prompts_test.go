// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package prompts

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockTier struct {
	name string
	text string
	err  error
}

func (m *mockTier) Name() string { return m.name }
func (m *mockTier) Lookup(context.Context, Key) (string, error) {
	return m.text, m.err
}

var _ Tier = (*mockTier)(nil)

// =============================================================================
// Chain
// =============================================================================

func TestChain_FirstAnsweringTierWins(t *testing.T) {
	c := NewChain(
		&mockTier{name: "dynamic", err: ErrNotFound},
		&mockTier{name: "static", text: "from static"},
		&mockTier{name: "hardcoded", text: "from hardcoded"},
	)
	assert.Equal(t, "from static", c.Resolve(context.Background(), "sql", "sql_generation", "system_prompt"))
}

func TestChain_UnavailableTierIsNonFatal(t *testing.T) {
	c := NewChain(
		&mockTier{name: "dynamic", err: errors.New("connection refused")},
		Hardcoded(),
	)
	got := c.Resolve(context.Background(), CrewAgentKey("statistician", "role").Agent, "agents", "statistician.role")
	assert.Equal(t, "Statistical Analyst", got)
}

func TestChain_UnknownKeyReturnsGeneric(t *testing.T) {
	c := NewChain(nil, Hardcoded())
	assert.Equal(t, GenericPrompt, c.Resolve(context.Background(), "nope", "missing", ""))
}

func TestChain_BlankTextFallsThrough(t *testing.T) {
	c := NewChain(&mockTier{name: "dynamic", text: "   "}, &mockTier{name: "static", text: "real"})
	assert.Equal(t, "real", c.Resolve(context.Background(), "a", "b", ""))
}

func TestResolve_NilProviderUsesHardcoded(t *testing.T) {
	assert.Contains(t, Resolve(context.Background(), nil, SQLSystem), "SQL query generator")
}

// =============================================================================
// Static tier
// =============================================================================

func TestStaticTier_EmbeddedTemplates(t *testing.T) {
	st, err := NewStaticTier("")
	require.NoError(t, err)

	role, err := st.Lookup(context.Background(), CrewAgentKey("viz_expert", "role"))
	require.NoError(t, err)
	assert.Equal(t, "Data Visualization Expert", role)

	sys, err := st.Lookup(context.Background(), SQLSystem)
	require.NoError(t, err)
	assert.Contains(t, sys, "{{.schema}}")
	assert.ElementsMatch(t, []string{"crew", "intent", "sql", "synthesizer"}, st.Agents())
}

func TestStaticTier_EmbeddedCoversEveryWellKnownKey(t *testing.T) {
	st, err := NewStaticTier("")
	require.NoError(t, err)
	for _, k := range []Key{IntentSystem, IntentUser, SQLSystem, SQLHuman, CrewSystem, CrewTask, SynthesisSystem, SynthesisUser} {
		_, err := st.Lookup(context.Background(), k)
		assert.NoError(t, err, k.String())
		_, err = Hardcoded().Lookup(context.Background(), k)
		assert.NoError(t, err, k.String())
	}
}

func TestStaticTier_NonScalarIsNotFound(t *testing.T) {
	st, err := NewStaticTier("")
	require.NoError(t, err)
	_, err = st.Lookup(context.Background(), Key{Agent: AgentCrew, Prompt: "agents", Sub: "data_analyst"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStaticTier_OverrideDirectory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sql_prompts.yaml"),
		[]byte("sql_generation:\n  system_prompt: custom system\n"), 0o644))

	st, err := NewStaticTier(dir)
	require.NoError(t, err)

	got, err := st.Lookup(context.Background(), SQLSystem)
	require.NoError(t, err)
	assert.Equal(t, "custom system", got)

	// The override replaces the whole sql document.
	_, err = st.Lookup(context.Background(), SQLHuman)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStaticTier_InvalidOverrideFails(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "crew_prompts.yaml"), []byte("agents: [unclosed"), 0o644))
	_, err := NewStaticTier(dir)
	assert.Error(t, err)
}

func TestStaticTier_WatchReloads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "intent_prompts.yaml")
	require.NoError(t, os.WriteFile(path, []byte("classification:\n  system: v1\n"), 0o644))

	st, err := NewStaticTier(dir)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		_ = st.Watch(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		_ = os.WriteFile(path, []byte("classification:\n  system: v2\n"), 0o644)
		got, err := st.Lookup(context.Background(), IntentSystem)
		return err == nil && got == "v2"
	}, 3*time.Second, 50*time.Millisecond)

	cancel()
	<-done
}

// =============================================================================
// HTTP tier
// =============================================================================

func TestHTTPTier_LookupAndCache(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, "/prompts/crew/agents", r.URL.Path)
		assert.Equal(t, "data_analyst.goal", r.URL.Query().Get("sub_key"))
		_ = json.NewEncoder(w).Encode(dynamicResponse{Prompt: "remote goal"})
	}))
	defer srv.Close()

	tier := NewHTTPTier(srv.URL+"/", time.Hour, time.Second)
	now := time.Now()
	tier.now = func() time.Time { return now }

	key := CrewAgentKey("data_analyst", "goal")
	for i := 0; i < 3; i++ {
		got, err := tier.Lookup(context.Background(), key)
		require.NoError(t, err)
		assert.Equal(t, "remote goal", got)
	}
	assert.Equal(t, int32(1), hits.Load())

	now = now.Add(2 * time.Hour)
	_, err := tier.Lookup(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, int32(2), hits.Load())
}

func TestHTTPTier_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	_, err := NewHTTPTier(srv.URL, 0, 0).Lookup(context.Background(), SQLSystem)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestHTTPTier_ServerErrorFallsBackInChain(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	tier := NewHTTPTier(srv.URL, 0, 0)
	_, err := tier.Lookup(context.Background(), SQLSystem)
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrNotFound))

	got := NewChain(tier, Hardcoded()).Resolve(context.Background(), SQLSystem.Agent, SQLSystem.Prompt, SQLSystem.Sub)
	assert.True(t, strings.HasPrefix(got, "You are an expert SQL query generator"))
}
