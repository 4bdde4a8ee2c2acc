// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package forge

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/AleutianAI/AleutianForge/services/forge/ratelimit"
	"github.com/AleutianAI/AleutianForge/services/forge/telemetry"
	"github.com/AleutianAI/AleutianForge/services/llm"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietTelemetry() telemetry.Config {
	cfg := telemetry.DefaultConfig()
	cfg.ServiceName = "forge-test"
	cfg.MetricExporter = telemetry.ExporterNone
	return cfg
}

func newTestService(t *testing.T, cfg Config) *Service {
	t.Helper()
	cfg.GinMode = gin.TestMode
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry = quietTelemetry()
	}
	svc, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close(context.Background()) })
	return svc
}

func get(t *testing.T, h http.Handler, path, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		in      string
		want    Mode
		wantErr bool
	}{
		{"", ModeFull, false},
		{"full", ModeFull, false},
		{" Degraded ", ModeDegraded, false},
		{"offline", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseMode(tt.in)
			assert.Equal(t, tt.wantErr, err != nil)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestApplyConfigDefaults(t *testing.T) {
	t.Run("zero value", func(t *testing.T) {
		cfg := applyConfigDefaults(Config{})
		assert.Equal(t, DefaultPort, cfg.Port)
		assert.Equal(t, ModeFull, cfg.Mode)
		assert.Equal(t, DefaultDataDir, cfg.DataDir)
		assert.Equal(t, llm.BackendNone, cfg.LLM.Backend)
		assert.Equal(t, DefaultGenerateLimit, cfg.GenerateLimit)
		assert.Equal(t, DefaultImportLimit, cfg.ImportLimit)
		assert.Equal(t, DefaultHistoryTokenBudget, cfg.HistoryTokenBudget)
		assert.Equal(t, telemetry.DefaultConfig(), cfg.Telemetry)
		assert.Equal(t, DefaultShutdownTimeout, cfg.ShutdownTimeout)
	})

	t.Run("custom values survive", func(t *testing.T) {
		limit := ratelimit.Config{Limit: 5, Window: time.Minute}
		cfg := applyConfigDefaults(Config{
			Port:                 8080,
			LLM:                  llm.Config{Backend: llm.BackendOpenAI, Model: "gpt-4o"},
			GenerateLimit:        limit,
			AutoDeployOnRollback: true,
		})
		assert.Equal(t, 8080, cfg.Port)
		assert.Equal(t, llm.BackendOpenAI, cfg.LLM.Backend)
		assert.Equal(t, limit, cfg.GenerateLimit)
		assert.True(t, cfg.AutoDeployOnRollback)
	})

	t.Run("degraded forces the offline stack", func(t *testing.T) {
		cfg := applyConfigDefaults(Config{
			Mode:                 ModeDegraded,
			LLM:                  llm.Config{Backend: llm.BackendAnthropic},
			AutoDeployOnRollback: true,
		})
		assert.Equal(t, llm.BackendNone, cfg.LLM.Backend)
		assert.False(t, cfg.AutoDeployOnRollback)
	})
}

func TestNew_Degraded(t *testing.T) {
	svc := newTestService(t, Config{Mode: ModeDegraded})
	assert.Equal(t, ModeDegraded, svc.Mode())

	w := get(t, svc.Router(), "/health", "")
	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "degraded", body["mode"])

	w = get(t, svc.Router(), "/v1/projects", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"projects":[]}`, w.Body.String())
}

func TestNew_FullPersistsUnderDataDir(t *testing.T) {
	dir := t.TempDir()
	svc := newTestService(t, Config{DataDir: dir})
	assert.Equal(t, ModeFull, svc.Mode())

	w := get(t, svc.Router(), "/health", "")
	assert.Contains(t, w.Body.String(), `"mode":"full"`)

	_, err := os.Stat(filepath.Join(dir, "badger"))
	assert.NoError(t, err)

	require.NoError(t, svc.Close(context.Background()))
	assert.NoError(t, svc.Close(context.Background()), "close is idempotent")
}

func TestNew_FailureReleasesStore(t *testing.T) {
	dir := t.TempDir()
	_, err := New(context.Background(), Config{
		DataDir:   dir,
		GinMode:   gin.TestMode,
		LLM:       llm.Config{Backend: "telepathy"},
		Telemetry: quietTelemetry(),
	}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "telepathy")

	// The badger directory lock must be free again.
	newTestService(t, Config{DataDir: dir})
}

func TestNew_APITokens(t *testing.T) {
	svc := newTestService(t, Config{
		Mode:      ModeDegraded,
		APITokens: map[string]string{"tok-a": "alice"},
	})

	assert.Equal(t, http.StatusUnauthorized, get(t, svc.Router(), "/v1/projects", "").Code)
	assert.Equal(t, http.StatusUnauthorized, get(t, svc.Router(), "/v1/projects", "tok-b").Code)
	assert.Equal(t, http.StatusOK, get(t, svc.Router(), "/v1/projects", "tok-a").Code)
	assert.Equal(t, http.StatusOK, get(t, svc.Router(), "/health", "").Code)
}

func TestNew_MetricsUseServiceRegistry(t *testing.T) {
	svc := newTestService(t, Config{Mode: ModeDegraded})

	w := get(t, svc.Router(), "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
	assert.Contains(t, w.Body.String(), "aleutian_forge_")
}

func TestService_UpdateLimits(t *testing.T) {
	svc := newTestService(t, Config{Mode: ModeDegraded})
	tight := ratelimit.Config{Limit: 1, Window: time.Hour}
	svc.UpdateLimits(tight, tight)

	body := `{"prompt":"a landing page for a bakery"}`
	post := func() int {
		req := httptest.NewRequest(http.MethodPost, "/v1/projects/init", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		svc.Router().ServeHTTP(w, req)
		return w.Code
	}
	// Init is not rate limited; generation is.
	assert.Equal(t, http.StatusCreated, post())

	gen := func() int {
		req := httptest.NewRequest(http.MethodPost, "/v1/generate", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		svc.Router().ServeHTTP(w, req)
		return w.Code
	}
	assert.Equal(t, http.StatusOK, gen())
	assert.Equal(t, http.StatusTooManyRequests, gen())
}

func TestService_ServeStopsOnCancel(t *testing.T) {
	svc := newTestService(t, Config{Mode: ModeDegraded})
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx, ln) }()

	url := fmt.Sprintf("http://%s/health", ln.Addr().String())
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, resp.Body)
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}

	_, err = http.Get(url)
	assert.Error(t, err)
}
