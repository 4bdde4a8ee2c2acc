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

	"github.com/AleutianAI/AleutianForge/pkg/extensions"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubAuth struct {
	info *extensions.AuthInfo
	err  error
	seen string
}

func (s *stubAuth) Validate(_ context.Context, token string) (*extensions.AuthInfo, error) {
	s.seen = token
	return s.info, s.err
}

func serve(r *gin.Engine, path string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuthMiddleware(t *testing.T) {
	tests := []struct {
		name      string
		provider  *stubAuth
		header    string
		wantCode  int
		wantOwner string
		wantToken string
		wantMsg   string
	}{
		{
			name:      "valid bearer token",
			provider:  &stubAuth{info: &extensions.AuthInfo{UserID: "alice"}},
			header:    "Bearer  tok-1 ",
			wantCode:  http.StatusOK,
			wantOwner: "alice",
			wantToken: "tok-1",
		},
		{
			name:      "rejected token",
			provider:  &stubAuth{err: extensions.ErrUnauthorized},
			header:    "Bearer bad",
			wantCode:  http.StatusUnauthorized,
			wantToken: "bad",
			wantMsg:   "missing or invalid bearer token",
		},
		{
			name:      "provider failure",
			provider:  &stubAuth{err: errors.New("idp unreachable")},
			header:    "Bearer tok",
			wantCode:  http.StatusUnauthorized,
			wantToken: "tok",
			wantMsg:   "authentication failed",
		},
		{
			name:     "identity without user id",
			provider: &stubAuth{info: &extensions.AuthInfo{}},
			wantCode: http.StatusUnauthorized,
			wantMsg:  "missing or invalid bearer token",
		},
		{
			name:      "basic scheme passes an empty token",
			provider:  &stubAuth{info: &extensions.AuthInfo{UserID: "local-user"}},
			header:    "Basic dXNlcjpwYXNz",
			wantCode:  http.StatusOK,
			wantOwner: "local-user",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := gin.New()
			r.Use(AuthMiddleware(tt.provider))
			r.GET("/who", func(c *gin.Context) { c.String(http.StatusOK, OwnerID(c)) })

			w := serve(r, "/who", map[string]string{"Authorization": tt.header})
			assert.Equal(t, tt.wantCode, w.Code)
			assert.Equal(t, tt.wantToken, tt.provider.seen)
			if tt.wantCode == http.StatusOK {
				assert.Equal(t, tt.wantOwner, w.Body.String())
			} else {
				assert.JSONEq(t, `{"error":"unauthorized","message":"`+tt.wantMsg+`"}`, w.Body.String())
			}
		})
	}
}

func TestAuthMiddleware_NopProvider(t *testing.T) {
	r := gin.New()
	r.Use(AuthMiddleware(&extensions.NopAuthProvider{}))
	r.GET("/who", func(c *gin.Context) { c.String(http.StatusOK, OwnerID(c)) })

	w := serve(r, "/who", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "local-user", w.Body.String())
}

func TestOwnerID_WithoutAuth(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	assert.Empty(t, OwnerID(c))
	assert.Nil(t, GetAuthInfo(c))
}

func TestRequestID(t *testing.T) {
	r := gin.New()
	r.Use(RequestID())
	r.GET("/id", func(c *gin.Context) { c.String(http.StatusOK, c.GetString(requestIDKey)) })

	t.Run("echoes the caller's id", func(t *testing.T) {
		w := serve(r, "/id", map[string]string{RequestIDHeader: "req-42"})
		assert.Equal(t, "req-42", w.Header().Get(RequestIDHeader))
		assert.Equal(t, "req-42", w.Body.String())
	})

	t.Run("assigns one when absent", func(t *testing.T) {
		w := serve(r, "/id", nil)
		assert.Len(t, w.Header().Get(RequestIDHeader), 36)
	})
}

func TestRequireUUIDParams(t *testing.T) {
	r := gin.New()
	r.GET("/p/:id", RequireUUIDParams("id"), func(c *gin.Context) { c.Status(http.StatusNoContent) })

	tests := []struct {
		id   string
		want int
	}{
		{"6f1c2a44-9d1e-4b0e-8c55-0a6a3c1f2b77", http.StatusNoContent},
		{"6F1C2A44-9D1E-4B0E-8C55-0A6A3C1F2B77", http.StatusNoContent},
		{"6f1c2a44", http.StatusBadRequest},
		{"not-a-uuid", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			assert.Equal(t, tt.want, serve(r, "/p/"+tt.id, nil).Code)
		})
	}
}
