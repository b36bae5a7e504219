// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package extensions

import (
	"context"
	"errors"
	"testing"
	"time"
)

// ============================================================================
// ServiceOptions Tests
// ============================================================================

func TestDefaultOptions(t *testing.T) {
	opts := DefaultOptions()

	if _, ok := opts.AuthProvider.(*NopAuthProvider); !ok {
		t.Error("DefaultOptions().AuthProvider should be *NopAuthProvider")
	}
	if _, ok := opts.AuditLogger.(*NopAuditLogger); !ok {
		t.Error("DefaultOptions().AuditLogger should be *NopAuditLogger")
	}
}

func TestServiceOptions_Normalize(t *testing.T) {
	custom := &NopAuditLogger{}
	opts := ServiceOptions{AuditLogger: custom}.Normalize()

	if opts.AuthProvider == nil {
		t.Fatal("Normalize should fill AuthProvider")
	}
	if opts.AuditLogger != custom {
		t.Error("Normalize should keep a configured AuditLogger")
	}
}

func TestServiceOptions_FluentChaining(t *testing.T) {
	auth := &NopAuthProvider{}
	audit := &NopAuditLogger{}
	original := ServiceOptions{}

	opts := original.WithAuth(auth).WithAudit(audit)

	if opts.AuthProvider != auth || opts.AuditLogger != audit {
		t.Error("chained options should carry both providers")
	}
	if original.AuthProvider != nil {
		t.Error("WithAuth must not modify the receiver")
	}
}

// ============================================================================
// Audit Tests
// ============================================================================

func TestNopAuditLogger(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	logger := &NopAuditLogger{}
	if err := logger.Log(ctx, AuditEvent{EventType: EventQueryFinal}); err != nil {
		t.Errorf("Log() error = %v", err)
	}
	events, err := logger.Query(ctx, AuditFilter{})
	if err != nil || events == nil || len(events) != 0 {
		t.Errorf("Query() = %v, %v; want empty non-nil slice", events, err)
	}
	if err := logger.Flush(ctx); err != nil {
		t.Errorf("Flush() error = %v", err)
	}
}

func TestAuditFilter_Matches(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	event := AuditEvent{
		EventType:  EventQueryError,
		Timestamp:  now,
		UserID:     "ana",
		ResourceID: "q-1",
		Outcome:    "error",
	}

	tests := []struct {
		name   string
		filter AuditFilter
		want   bool
	}{
		{"empty filter", AuditFilter{}, true},
		{"matching type", AuditFilter{EventTypes: []string{EventQueryFinal, EventQueryError}}, true},
		{"other type", AuditFilter{EventTypes: []string{EventQueryFinal}}, false},
		{"other user", AuditFilter{UserID: "bo"}, false},
		{"resource", AuditFilter{ResourceID: "q-1"}, true},
		{"outcome", AuditFilter{Outcome: "success"}, false},
		{"start inclusive", AuditFilter{StartTime: now}, true},
		{"end exclusive", AuditFilter{EndTime: now}, false},
		{"window", AuditFilter{StartTime: now.Add(-time.Hour), EndTime: now.Add(time.Hour)}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.filter.Matches(event); got != tt.want {
				t.Errorf("Matches() = %v, want %v", got, tt.want)
			}
		})
	}
}

// ============================================================================
// Auth Tests
// ============================================================================

func TestNopAuthProvider(t *testing.T) {
	info, err := (&NopAuthProvider{}).Validate(context.Background(), "")
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if info.UserID != "local-user" || !info.HasRole("admin") {
		t.Errorf("Validate() = %+v", info)
	}
}

func TestAPIKeyAuthProvider(t *testing.T) {
	p, err := NewAPIKeyAuthProvider([]string{"ana:secret-1", " bo:secret-2 "})
	if err != nil {
		t.Fatalf("NewAPIKeyAuthProvider() error = %v", err)
	}

	info, err := p.Validate(context.Background(), "secret-2")
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if info.UserID != "bo" {
		t.Errorf("UserID = %q, want bo", info.UserID)
	}

	for _, token := range []string{"", "secret", "secret-10"} {
		if _, err := p.Validate(context.Background(), token); !errors.Is(err, ErrUnauthorized) {
			t.Errorf("Validate(%q) error = %v, want ErrUnauthorized", token, err)
		}
	}
}

func TestNewAPIKeyAuthProvider_Malformed(t *testing.T) {
	for _, entries := range [][]string{nil, {"nokey"}, {":key"}, {"user:"}} {
		if _, err := NewAPIKeyAuthProvider(entries); err == nil {
			t.Errorf("NewAPIKeyAuthProvider(%q) should fail", entries)
		}
	}
}

func TestUserIDFromContext(t *testing.T) {
	if got := UserIDFromContext(context.Background()); got != AnonymousUser {
		t.Errorf("UserIDFromContext() = %q, want %q", got, AnonymousUser)
	}
	ctx := ContextWithAuth(context.Background(), &AuthInfo{UserID: "ana"})
	if got := UserIDFromContext(ctx); got != "ana" {
		t.Errorf("UserIDFromContext() = %q, want ana", got)
	}
	if _, ok := AuthFromContext(ContextWithAuth(context.Background(), nil)); ok {
		t.Error("a nil AuthInfo should not be reported")
	}
}
