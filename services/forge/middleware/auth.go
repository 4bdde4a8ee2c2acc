// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package middleware holds the gin middleware of the forge API.
package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/AleutianAI/AleutianForge/pkg/extensions"
	"github.com/gin-gonic/gin"
	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
)

const (
	authInfoKey  = "aleutian_auth_info"
	requestIDKey = "aleutian_request_id"

	// RequestIDHeader carries the request correlation id.
	RequestIDHeader = "X-Request-ID"
)

// SetAuthInfo stores the authenticated identity on the gin context.
func SetAuthInfo(c *gin.Context, info *extensions.AuthInfo) {
	c.Set(authInfoKey, info)
}

// GetAuthInfo returns the identity stored by AuthMiddleware, or nil.
func GetAuthInfo(c *gin.Context) *extensions.AuthInfo {
	if info, exists := c.Get(authInfoKey); exists {
		if authInfo, ok := info.(*extensions.AuthInfo); ok {
			return authInfo
		}
	}
	return nil
}

// OwnerID returns the user id of the authenticated caller. Every project,
// routine and rate-limit bucket is keyed by it.
func OwnerID(c *gin.Context) string {
	if info := GetAuthInfo(c); info != nil {
		return info.UserID
	}
	return ""
}

// AuthMiddleware validates the bearer token with provider and stores the
// resulting identity for handlers.
//
// # Description
//
// Requests whose token is rejected are aborted with 401. A provider that
// returns an identity without a user id is treated as a rejection, since
// ownership checks depend on it.
//
// # Inputs
//
//   - provider: Token validator. extensions.NopAuthProvider accepts every
//     request as "local-user".
//
// # Outputs
//
//   - gin.HandlerFunc: Middleware for the protected route group.
func AuthMiddleware(provider extensions.AuthProvider) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractBearerToken(c)

		authInfo, err := provider.Validate(c.Request.Context(), token)
		if err == nil && (authInfo == nil || authInfo.UserID == "") {
			err = extensions.ErrUnauthorized
		}
		if err != nil {
			message := "authentication failed"
			if errors.Is(err, extensions.ErrUnauthorized) {
				message = "missing or invalid bearer token"
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": message,
			})
			return
		}

		SetAuthInfo(c, authInfo)
		c.Next()
	}
}

// extractBearerToken returns the token of an "Authorization: Bearer"
// header, or "" when absent or malformed.
func extractBearerToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return ""
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// RequestID reuses the caller's X-Request-ID or assigns a new one and
// echoes it on the response.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}

// Logger returns a request-scoped logger carrying the request id.
func Logger(c *gin.Context, handler string) *slog.Logger {
	return slog.With("request_id", c.GetString(requestIDKey), "handler", handler)
}

// RequireUUIDParams rejects requests whose named path parameters are not
// UUIDs with 400 before any handler touches the store.
func RequireUUIDParams(names ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		for _, name := range names {
			value := c.Param(name)
			if value == "" {
				continue
			}
			if !strfmt.IsUUID(value) {
				c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
					"error":   "invalid_id",
					"message": name + " must be a UUID",
				})
				return
			}
		}
		c.Next()
	}
}
