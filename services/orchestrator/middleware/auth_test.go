// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianQuery/pkg/extensions"
)

// =============================================================================
// Test Setup
// =============================================================================

func init() {
	gin.SetMode(gin.TestMode)
}

// mockAuthProvider records the token it was given.
type mockAuthProvider struct {
	authInfo *extensions.AuthInfo
	err      error
	token    string
}

func (m *mockAuthProvider) Validate(_ context.Context, token string) (*extensions.AuthInfo, error) {
	m.token = token
	if m.err != nil {
		return nil, m.err
	}
	return m.authInfo, nil
}

var _ extensions.AuthProvider = (*mockAuthProvider)(nil)

func serve(router *gin.Engine, target, authHeader string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	router.ServeHTTP(w, req)
	return w
}

// =============================================================================
// extractBearerToken Tests
// =============================================================================

func TestExtractBearerToken(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   string
	}{
		{"valid", "Bearer abc123", "abc123"},
		{"lowercase scheme", "bearer abc123", "abc123"},
		{"mixed case scheme", "BeArEr abc123", "abc123"},
		{"missing", "", ""},
		{"no scheme", "abc123", ""},
		{"basic auth", "Basic abc123", ""},
		{"empty bearer", "Bearer ", ""},
		{"only bearer", "Bearer", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := gin.CreateTestContext(httptest.NewRecorder())
			c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				c.Request.Header.Set("Authorization", tt.header)
			}
			assert.Equal(t, tt.want, extractBearerToken(c))
		})
	}
}

// =============================================================================
// AuthMiddleware Tests
// =============================================================================

func TestAuthMiddleware_Success(t *testing.T) {
	provider := &mockAuthProvider{authInfo: &extensions.AuthInfo{UserID: "user-123", Roles: []string{"analyst"}}}

	router := gin.New()
	router.Use(AuthMiddleware(provider))
	router.GET("/test", func(c *gin.Context) {
		info := GetAuthInfo(c)
		require.NotNil(t, info)
		assert.Equal(t, "user-123", extensions.UserIDFromContext(c.Request.Context()), "request context carries the user")
		c.JSON(http.StatusOK, gin.H{"user_id": info.UserID})
	})

	w := serve(router, "/test", "Bearer valid-token")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "valid-token", provider.token)
}

func TestAuthMiddleware_QueryParameterToken(t *testing.T) {
	provider := &mockAuthProvider{authInfo: &extensions.AuthInfo{UserID: "ws-user"}}
	router := gin.New()
	router.Use(AuthMiddleware(provider))
	router.GET("/ws", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := serve(router, "/ws?access_token=from-query", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "from-query", provider.token)

	serve(router, "/ws?access_token=from-query", "Bearer from-header")
	assert.Equal(t, "from-header", provider.token, "header wins")
}

func TestAuthMiddleware_Rejections(t *testing.T) {
	for name, err := range map[string]error{
		"unauthorized":   extensions.ErrUnauthorized,
		"provider error": errors.New("network error"),
	} {
		t.Run(name, func(t *testing.T) {
			router := gin.New()
			router.Use(AuthMiddleware(&mockAuthProvider{err: err}))
			router.GET("/test", func(c *gin.Context) { c.Status(http.StatusOK) })

			w := serve(router, "/test", "Bearer some-token")
			assert.Equal(t, http.StatusUnauthorized, w.Code)
			assert.JSONEq(t, `{"error":"unauthorized"}`, w.Body.String())
		})
	}
}

func TestAuthMiddleware_NopProvider(t *testing.T) {
	router := gin.New()
	router.Use(AuthMiddleware(&extensions.NopAuthProvider{}))
	router.GET("/test", func(c *gin.Context) {
		info := GetAuthInfo(c)
		require.NotNil(t, info)
		assert.Equal(t, "local-user", info.UserID)
		assert.Contains(t, info.Roles, "admin")
		c.Status(http.StatusOK)
	})

	assert.Equal(t, http.StatusOK, serve(router, "/test", "").Code)
}

func TestAuthMiddleware_APIKeyProvider(t *testing.T) {
	provider, err := extensions.NewAPIKeyAuthProvider([]string{"alice:s3cret"})
	require.NoError(t, err)

	router := gin.New()
	router.Use(AuthMiddleware(provider))
	router.GET("/test", func(c *gin.Context) { c.String(http.StatusOK, GetAuthInfo(c).UserID) })

	ok := serve(router, "/test", "Bearer s3cret")
	assert.Equal(t, http.StatusOK, ok.Code)
	assert.Equal(t, "alice", ok.Body.String())

	assert.Equal(t, http.StatusUnauthorized, serve(router, "/test", "Bearer wrong").Code)
	assert.Equal(t, http.StatusUnauthorized, serve(router, "/test", "").Code)
}

func TestRequireRole(t *testing.T) {
	router := gin.New()
	router.Use(AuthMiddleware(&mockAuthProvider{authInfo: &extensions.AuthInfo{UserID: "u", Roles: []string{"analyst"}}}))
	router.GET("/analyst", RequireRole("analyst"), func(c *gin.Context) { c.Status(http.StatusOK) })
	router.GET("/admin", RequireRole("admin"), func(c *gin.Context) { c.Status(http.StatusOK) })

	assert.Equal(t, http.StatusOK, serve(router, "/analyst", "").Code)
	assert.Equal(t, http.StatusForbidden, serve(router, "/admin", "").Code)
}

// =============================================================================
// Context Helper Tests
// =============================================================================

func TestSetAndGetAuthInfo(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	expected := &extensions.AuthInfo{UserID: "test-user", Roles: []string{"viewer"}}

	SetAuthInfo(c, expected)
	actual := GetAuthInfo(c)

	require.NotNil(t, actual)
	assert.Equal(t, expected.UserID, actual.UserID)
	assert.Equal(t, expected.Roles, actual.Roles)
}

func TestGetAuthInfo_NotSetOrWrongType(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	assert.Nil(t, GetAuthInfo(c))

	c.Set(authInfoKey, "not an AuthInfo")
	assert.Nil(t, GetAuthInfo(c))
}

// =============================================================================
// RequestLogger Tests
// =============================================================================

func TestRequestLogger_AssignsAndEchoesRequestID(t *testing.T) {
	router := gin.New()
	router.Use(RequestLogger())
	var seen string
	router.GET("/test", func(c *gin.Context) {
		seen = RequestID(c)
		c.Status(http.StatusNoContent)
	})

	w := serve(router, "/test", "")
	assert.NotEmpty(t, seen)
	assert.Equal(t, seen, w.Header().Get(RequestIDHeader))

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set(RequestIDHeader, "given-id")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, "given-id", w.Header().Get(RequestIDHeader))
	assert.Equal(t, "given-id", seen)
}
