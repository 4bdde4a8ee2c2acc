// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package extensions holds the identity seam of the forge API.
//
// The open source build authenticates every caller as "local-user" through
// NopAuthProvider. Shared deployments configure StaticTokenProvider with a
// token per user, and hosted builds supply their own AuthProvider.
package extensions

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"sort"
)

// ErrUnauthorized is returned when authentication fails. Implementations
// wrap it with context.
var ErrUnauthorized = errors.New("unauthorized")

// AuthInfo is the identity of an authenticated caller.
//
// UserID is the owner id stamped on every project the caller creates. It
// must never be empty.
type AuthInfo struct {
	UserID string
	Email  string
	Roles  []string
}

// HasRole reports whether the caller holds role.
func (a *AuthInfo) HasRole(role string) bool {
	for _, r := range a.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// AuthProvider validates bearer tokens.
//
// # Description
//
// Validate receives the token with the "Bearer " prefix removed. An empty
// token means the header was missing or used another scheme.
//
// # Outputs
//
//   - *AuthInfo: The caller's identity on success.
//   - error: ErrUnauthorized (or wrapped) for bad tokens. Any other error
//     is a provider failure.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type AuthProvider interface {
	Validate(ctx context.Context, token string) (*AuthInfo, error)
}

// NopAuthProvider accepts every request as a single local administrator.
type NopAuthProvider struct{}

// Validate ignores the token and returns "local-user".
func (p *NopAuthProvider) Validate(_ context.Context, _ string) (*AuthInfo, error) {
	return &AuthInfo{
		UserID: "local-user",
		Roles:  []string{"admin"},
	}, nil
}

// StaticTokenProvider maps fixed API tokens to user ids.
//
// Tokens are compared in constant time against every configured entry so
// the response time does not depend on which token matched.
type StaticTokenProvider struct {
	tokens []staticToken
}

type staticToken struct {
	token  []byte
	userID string
}

// NewStaticTokenProvider builds a provider from a token to user id map.
//
// # Outputs
//
//   - error: Returned when the map is empty or holds an empty token or
//     user id.
func NewStaticTokenProvider(tokens map[string]string) (*StaticTokenProvider, error) {
	if len(tokens) == 0 {
		return nil, errors.New("static token provider needs at least one token")
	}
	keys := make([]string, 0, len(tokens))
	for token := range tokens {
		keys = append(keys, token)
	}
	sort.Strings(keys)

	p := &StaticTokenProvider{}
	for _, token := range keys {
		user := tokens[token]
		if token == "" || user == "" {
			return nil, fmt.Errorf("static token provider: empty token or user id for %q", user)
		}
		p.tokens = append(p.tokens, staticToken{token: []byte(token), userID: user})
	}
	return p, nil
}

// Validate returns the user bound to token.
func (p *StaticTokenProvider) Validate(_ context.Context, token string) (*AuthInfo, error) {
	if token == "" {
		return nil, fmt.Errorf("missing token: %w", ErrUnauthorized)
	}
	var user string
	for _, entry := range p.tokens {
		if subtle.ConstantTimeCompare(entry.token, []byte(token)) == 1 {
			user = entry.userID
		}
	}
	if user == "" {
		return nil, fmt.Errorf("unknown token: %w", ErrUnauthorized)
	}
	return &AuthInfo{UserID: user}, nil
}

var (
	_ AuthProvider = (*NopAuthProvider)(nil)
	_ AuthProvider = (*StaticTokenProvider)(nil)
)
