// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/AleutianAI/AleutianForge/cmd/forge/config"
	"github.com/AleutianAI/AleutianForge/pkg/ux"
	"github.com/AleutianAI/AleutianForge/services/forge/datatypes"
	"github.com/AleutianAI/AleutianForge/services/forge/deploy"
	"github.com/AleutianAI/AleutianForge/services/forge/diff"
	"github.com/AleutianAI/AleutianForge/services/forge/handlers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAPIClient_Do(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/projects":
			assert.Equal(t, "Bearer tok-a", r.Header.Get("Authorization"))
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"projects":[{"id":"p1","name":"Bakery","status":"LIVE"}]}`))
		case "/v1/projects/import-bundle":
			var body map[string]any
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid_bundle","message":"bundle rejected","problems":["runtime","files[0].mime"]}`))
		default:
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte("upstream down"))
		}
	}))
	defer srv.Close()

	client, err := newAPIClient(srv.URL+"/", "tok-a", 5*time.Second)
	require.NoError(t, err)
	ctx := context.Background()

	t.Run("decodes success", func(t *testing.T) {
		var list projectList
		var raw []byte
		require.NoError(t, client.do(ctx, http.MethodGet, "/v1/projects", nil, &list, &raw))
		require.Len(t, list.Projects, 1)
		assert.Equal(t, "Bakery", list.Projects[0].Name)
		assert.Contains(t, string(raw), `"id":"p1"`)
	})

	t.Run("decodes error bodies", func(t *testing.T) {
		err := client.do(ctx, http.MethodPost, "/v1/projects/import-bundle", map[string]any{"bundle": nil}, nil, nil)
		require.Error(t, err)
		assert.True(t, isStatus(err, http.StatusBadRequest))
		assert.Equal(t, "400 invalid_bundle: bundle rejected (runtime; files[0].mime)", err.Error())
	})

	t.Run("non-JSON errors use the status text", func(t *testing.T) {
		err := client.do(ctx, http.MethodGet, "/elsewhere", nil, nil, nil)
		assert.EqualError(t, err, "502 Bad Gateway")
		assert.False(t, isStatus(err, http.StatusNotFound))
	})
}

func TestNewAPIClient_InvalidURL(t *testing.T) {
	for _, u := range []string{"", "localhost:12310", "::"} {
		_, err := newAPIClient(u, "", time.Second)
		assert.Error(t, err, u)
	}
}

func TestProjectPath(t *testing.T) {
	assert.Equal(t, "/v1/projects/p1/snapshots/s%2F1/diff", projectPath("p1", "snapshots", "s/1", "diff"))
}

func TestRenderDiff(t *testing.T) {
	var buf bytes.Buffer
	base := "11111111-aaaa-bbbb-cccc-000000000000"
	renderDiff(ux.NewPlainPrinter(&buf), handlers.DiffResponse{
		BaseSnapshotID:   &base,
		TargetSnapshotID: "22222222-aaaa-bbbb-cccc-000000000000",
		Diff: diff.Diff{
			Created: []string{"app/about/page.tsx"},
			Updated: []diff.UpdatedFile{{Path: "app/page.tsx"}},
			Deleted: []string{"old.css"},
		},
		Unified: "--- a/app/page.tsx\n+++ b/app/page.tsx\n@@ -1 +1 @@\n-a\n+b\n",
	})
	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "Snapshot 11111111 → 22222222\n"))
	assert.Contains(t, out, "  + app/about/page.tsx\n")
	assert.Contains(t, out, "  ~ app/page.tsx\n")
	assert.Contains(t, out, "  - old.css\n")
	assert.Contains(t, out, "1 created, 1 updated, 1 deleted\n")
	assert.Contains(t, out, "@@ -1 +1 @@\n-a\n+b\n")

	t.Run("first snapshot without changes", func(t *testing.T) {
		buf.Reset()
		renderDiff(ux.NewPlainPrinter(&buf), handlers.DiffResponse{TargetSnapshotID: "s1"})
		assert.Equal(t, "Snapshot (none) → s1\nNo changes.\n", buf.String())
	})
}

func TestRenderHistory(t *testing.T) {
	var buf bytes.Buffer
	renderHistory(ux.NewPlainPrinter(&buf), snapshotList{
		LatestSnapshotID: "s2",
		Snapshots: []datatypes.SnapshotInfo{
			{ID: "s2", FileCount: 4, PreviewStrategy: datatypes.PreviewStrategy("model-block"), CreatedAt: time.Now()},
			{ID: "s1", FileCount: 1, CreatedAt: time.Now().Add(-3 * time.Hour), Summary: "first draft"},
		},
	})
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "Snapshots (2)", lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "* s2  just now"))
	assert.True(t, strings.HasPrefix(lines[2], "  s1  3h ago"))
	assert.True(t, strings.HasSuffix(lines[2], "first draft"))

	buf.Reset()
	renderHistory(ux.NewPlainPrinter(&buf), snapshotList{})
	assert.Equal(t, "No snapshots yet.\n", buf.String())
}

func TestRenderOutcome(t *testing.T) {
	var buf bytes.Buffer
	renderOutcome(ux.NewPlainPrinter(&buf), deploy.Outcome{
		FinalState: datatypes.ProjectStatusError,
		Attempts:   2,
		LogExcerpt: "Module not found: ./Hero",
	})
	assert.Contains(t, buf.String(), "✗ Deployment failed (ERROR)")
	assert.Contains(t, buf.String(), "attempts:")
	assert.Contains(t, buf.String(), "Build log\n  Module not found: ./Hero\n")

	buf.Reset()
	renderOutcome(ux.NewPlainPrinter(&buf), deploy.Outcome{Skipped: true, Reason: "deployment in progress"})
	assert.Equal(t, "⚠ Deployment skipped: deployment in progress\n", buf.String())
}

func TestRenderConfig_RedactsTokens(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Auth.Tokens = map[string]string{"tok-alice-secret": "alice"}

	var buf bytes.Buffer
	require.NoError(t, renderConfig(&buf, "/tmp/forge.yaml", &cfg, configStatus{MlockOK: true, MlockLimitKB: -1}))
	out := buf.String()
	assert.NotContains(t, out, "tok-alice-secret")
	assert.Contains(t, out, "tok-****")
	assert.Contains(t, out, "alice")
	assert.Contains(t, out, "unlimited")
	assert.Contains(t, out, "hosting token: not set")
	assert.Equal(t, "tok-alice-secret", cfg.Auth.Tokens["tok-alice-secret"], "caller's config is untouched")
}

func TestProjectsCommand(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"projects":[{"id":"p1","name":"Bakery","status":"LIVE","deploymentUrl":"https://bakery.example"}]}`))
	}))
	defer srv.Close()

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"projects", "--server", srv.URL})
	t.Cleanup(func() { rootCmd.SetArgs(nil); rootCmd.SetOut(nil) })

	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, out.String(), "Projects (1)")
	assert.Contains(t, out.String(), "✓ p1  Bakery  LIVE  https://bakery.example")
}
