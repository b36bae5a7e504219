// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package extensions

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"

	"github.com/awnumar/memguard"
)

// ErrUnauthorized is returned when a token is missing or invalid.
var ErrUnauthorized = errors.New("unauthorized")

// AnonymousUser is reported when no identity is attached to a context.
const AnonymousUser = "anonymous"

// AuthInfo is the identity of an authenticated caller.
type AuthInfo struct {
	// UserID is never empty.
	UserID string
	Roles  []string
}

// HasRole reports whether the caller has role.
func (a *AuthInfo) HasRole(role string) bool {
	for _, r := range a.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// AuthProvider validates a bearer token and returns the caller identity.
type AuthProvider interface {
	// Validate returns ErrUnauthorized (possibly wrapped) for a bad token.
	Validate(ctx context.Context, token string) (*AuthInfo, error)
}

// NopAuthProvider accepts every token as the local user.
type NopAuthProvider struct{}

// Validate always succeeds with UserID "local-user".
func (p *NopAuthProvider) Validate(context.Context, string) (*AuthInfo, error) {
	return &AuthInfo{UserID: "local-user", Roles: []string{"admin"}}, nil
}

// =============================================================================
// API keys
// =============================================================================

type apiKey struct {
	user   string
	secret *memguard.Enclave
}

// APIKeyAuthProvider validates static API keys.
//
// Keys are held in memguard enclaves and only decrypted for the constant
// time comparison.
//
// Thread Safety: Safe for concurrent use. The key set is fixed at
// construction.
type APIKeyAuthProvider struct {
	keys []apiKey
}

// NewAPIKeyAuthProvider builds a provider from "user:key" entries.
//
// # Inputs
//
//   - entries: One "user:key" pair per element. Both parts must be
//     non-empty.
//
// # Outputs
//
//   - *APIKeyAuthProvider: The provider.
//   - error: Non-nil if an entry is malformed or no entries are given.
func NewAPIKeyAuthProvider(entries []string) (*APIKeyAuthProvider, error) {
	if len(entries) == 0 {
		return nil, errors.New("no api keys configured")
	}
	p := &APIKeyAuthProvider{}
	for i, e := range entries {
		user, key, ok := strings.Cut(strings.TrimSpace(e), ":")
		if !ok || user == "" || key == "" {
			return nil, fmt.Errorf("api key entry %d: want user:key", i)
		}
		p.keys = append(p.keys, apiKey{user: user, secret: memguard.NewEnclave([]byte(key))})
	}
	return p, nil
}

// Validate implements AuthProvider.
func (p *APIKeyAuthProvider) Validate(_ context.Context, token string) (*AuthInfo, error) {
	if token == "" {
		return nil, fmt.Errorf("missing api key: %w", ErrUnauthorized)
	}
	for _, k := range p.keys {
		buf, err := k.secret.Open()
		if err != nil {
			return nil, fmt.Errorf("open key enclave: %w", err)
		}
		match := subtle.ConstantTimeCompare(buf.Bytes(), []byte(token)) == 1
		buf.Destroy()
		if match {
			return &AuthInfo{UserID: k.user, Roles: []string{"analyst"}}, nil
		}
	}
	return nil, ErrUnauthorized
}

// =============================================================================
// Context
// =============================================================================

type authKey struct{}

// ContextWithAuth attaches info to ctx.
func ContextWithAuth(ctx context.Context, info *AuthInfo) context.Context {
	return context.WithValue(ctx, authKey{}, info)
}

// AuthFromContext returns the identity attached by ContextWithAuth.
func AuthFromContext(ctx context.Context) (*AuthInfo, bool) {
	info, ok := ctx.Value(authKey{}).(*AuthInfo)
	return info, ok && info != nil
}

// UserIDFromContext returns the caller's UserID or AnonymousUser.
func UserIDFromContext(ctx context.Context) string {
	if info, ok := AuthFromContext(ctx); ok && info.UserID != "" {
		return info.UserID
	}
	return AnonymousUser
}

var (
	_ AuthProvider = (*NopAuthProvider)(nil)
	_ AuthProvider = (*APIKeyAuthProvider)(nil)
)
