// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package deploy

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianForge/pkg/secrets"
	"github.com/AleutianAI/AleutianForge/services/forge/datatypes"
)

func newTestVercel(t *testing.T, srv *httptest.Server, maxPolls int) *VercelHosting {
	t.Helper()
	v, err := NewVercelHosting(VercelConfig{
		Token:        secrets.FromString("vercel", "tok_123"),
		TeamID:       "team_9",
		BaseURL:      srv.URL,
		PollInterval: time.Millisecond,
		MaxPolls:     maxPolls,
	})
	require.NoError(t, err)
	return v
}

func TestVercel_EnsureAndDeploy(t *testing.T) {
	var polls atomic.Int32
	var uploaded []vercelFile
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok_123", r.Header.Get("Authorization"))
		assert.Equal(t, "team_9", r.URL.Query().Get("teamId"))
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/v10/projects":
			var body map[string]string
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "nextjs", body["framework"])
			_ = json.NewEncoder(w).Encode(map[string]string{"id": "prj_1", "name": body["name"]})
		case r.Method == http.MethodPost && r.URL.Path == "/v13/deployments":
			var body struct {
				Project string       `json:"project"`
				Files   []vercelFile `json:"files"`
			}
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "prj_1", body.Project)
			uploaded = body.Files
			_ = json.NewEncoder(w).Encode(map[string]string{"id": "dpl_1", "readyState": "QUEUED"})
		case r.Method == http.MethodGet && r.URL.Path == "/v13/deployments/dpl_1":
			state := "BUILDING"
			if polls.Add(1) >= 2 {
				state = "READY"
			}
			_ = json.NewEncoder(w).Encode(map[string]string{"id": "dpl_1", "readyState": state, "url": "forge-abc.vercel.app"})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	v := newTestVercel(t, srv, 5)
	ctx := context.Background()
	h, err := v.EnsureProject(ctx, "0123456789abcdef", "Cafe")
	require.NoError(t, err)
	assert.Equal(t, Handle{AppProjectID: "0123456789abcdef", ProjectID: "prj_1", Slug: "forge-01234567"}, h)

	res, err := v.CreateDeployment(ctx, h, []datatypes.FileRecord{
		{Path: datatypes.PagePath, Content: "page"},
		{Path: datatypes.PreviewPath, Content: "<html>preview</html>"},
	})
	require.NoError(t, err)
	assert.Equal(t, datatypes.DeploymentReady, res.State)
	assert.Equal(t, "https://forge-abc.vercel.app", res.URL)
	assert.Equal(t, "Build succeeded", res.Log)
	assert.Equal(t, int32(2), polls.Load())

	require.Len(t, uploaded, 3)
	assert.Equal(t, "index.html", uploaded[2].File)
	assert.Equal(t, "base64", uploaded[2].Encoding)
	decoded, err := base64.StdEncoding.DecodeString(uploaded[2].Data)
	require.NoError(t, err)
	assert.Equal(t, "<html>preview</html>", string(decoded))
}

func TestVercel_KeepsExistingIndex(t *testing.T) {
	var uploaded []vercelFile
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Files []vercelFile `json:"files"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		uploaded = body.Files
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "dpl_2", "readyState": "READY"})
	}))
	defer srv.Close()

	v := newTestVercel(t, srv, 1)
	_, err := v.CreateDeployment(context.Background(), Handle{ProjectID: "prj_1"}, []datatypes.FileRecord{
		{Path: "index.html", Content: "<html>index</html>"},
		{Path: datatypes.PreviewPath, Content: "<html>preview</html>"},
	})
	require.NoError(t, err)
	assert.Len(t, uploaded, 2)
}

func TestVercel_NeverSettles(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "dpl_3", "readyState": "BUILDING"})
	}))
	defer srv.Close()

	res, err := newTestVercel(t, srv, 2).CreateDeployment(context.Background(), Handle{ProjectID: "prj_1"}, nil)
	require.NoError(t, err)
	assert.Equal(t, datatypes.DeploymentError, res.State)
	assert.Equal(t, "Deployment state: BUILDING", res.Log)
}

func TestVercel_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":{"code":"forbidden"}}`))
	}))
	defer srv.Close()

	_, err := newTestVercel(t, srv, 1).EnsureProject(context.Background(), "p1", "Cafe")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "/v10/projects 403")
	assert.Contains(t, err.Error(), "forbidden")
}

func TestNewVercelHosting_RequiresToken(t *testing.T) {
	_, err := NewVercelHosting(VercelConfig{})
	assert.Error(t, err)
}
