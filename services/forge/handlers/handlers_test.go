// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianForge/pkg/extensions"
	"github.com/AleutianAI/AleutianForge/services/forge/datatypes"
	"github.com/AleutianAI/AleutianForge/services/forge/deploy"
	"github.com/AleutianAI/AleutianForge/services/forge/generation"
	"github.com/AleutianAI/AleutianForge/services/forge/handlers"
	"github.com/AleutianAI/AleutianForge/services/forge/history"
	"github.com/AleutianAI/AleutianForge/services/forge/observability"
	"github.com/AleutianAI/AleutianForge/services/forge/realtime"
	"github.com/AleutianAI/AleutianForge/services/forge/routes"
	"github.com/AleutianAI/AleutianForge/services/forge/routines"
	"github.com/AleutianAI/AleutianForge/services/forge/store"
	"github.com/AleutianAI/AleutianForge/services/llm"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// tokenAuth maps bearer tokens to user ids.
type tokenAuth map[string]string

func (a tokenAuth) Validate(_ context.Context, token string) (*extensions.AuthInfo, error) {
	user, ok := a[token]
	if !ok {
		return nil, fmt.Errorf("token %q: %w", token, extensions.ErrUnauthorized)
	}
	return &extensions.AuthInfo{UserID: user}, nil
}

// recordingDeployer counts background deployments.
type recordingDeployer struct {
	mu    sync.Mutex
	autos []string
}

func (d *recordingDeployer) Run(context.Context, deploy.Request) (*deploy.Outcome, error) {
	return &deploy.Outcome{Skipped: true, Reason: "test"}, nil
}

func (d *recordingDeployer) AutoDeploy(_ context.Context, projectID, ownerID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.autos = append(d.autos, projectID+"/"+ownerID)
}

func (d *recordingDeployer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.autos)
}

type fixture struct {
	router *gin.Engine
	store  store.Store
	orch   *generation.Orchestrator
	hub    *realtime.Hub
}

type fixtureOptions struct {
	deployer             handlers.Deployer
	autoDeployOnRollback bool
	withHub              bool
}

func newFixture(t *testing.T, opts fixtureOptions) *fixture {
	t.Helper()
	st, err := store.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	var hub *realtime.Hub
	var broadcaster realtime.Broadcaster = realtime.Nop{}
	if opts.withHub {
		hub = realtime.NewHub(realtime.HubConfig{})
		t.Cleanup(hub.Close)
		broadcaster = hub
	}

	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(reg)
	hist := history.NewRecorder(st, broadcaster, nil, nil)
	recorder := routines.NewRecorder(st, nil)
	locks := generation.NewProjectLocks()
	deployer := opts.deployer
	if deployer == nil {
		deployer = deploy.NewController(deploy.Config{}, deploy.Deps{
			Store:    st,
			History:  hist,
			Routines: recorder,
			Hosting:  deploy.NewSimulatedHosting(false),
			Locks:    locks,
			Metrics:  metrics,
		})
	}

	orch := generation.New(generation.Config{
		Queue: generation.QueueConfig{Workers: 1, TaskTimeout: 10 * time.Second},
	}, generation.Deps{
		Store:    st,
		History:  hist,
		Routines: recorder,
		Client:   llm.None{},
		Deployer: deployer,
		Metrics:  metrics,
		Locks:    locks,
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = orch.Stop(ctx)
	})

	h := handlers.NewHandlers(handlers.Deps{
		Store:                st,
		History:              hist,
		Orchestrator:         orch,
		Deployer:             deployer,
		Hub:                  hub,
		AutoDeployOnRollback: opts.autoDeployOnRollback,
	})
	router := gin.New()
	routes.SetupRoutes(router, h, routes.Options{
		Auth:     tokenAuth{"alice-token": "alice", "bob-token": "bob"},
		Gatherer: reg,
	})
	return &fixture{router: router, store: st, orch: orch, hub: hub}
}

func (f *fixture) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func bundle(marker string) *datatypes.AppBundle {
	return &datatypes.AppBundle{
		Runtime: "web-standalone",
		Entry:   "index.html",
		Title:   "Tide Tables",
		Files: []datatypes.AppFile{
			{Path: "index.html", Mime: "text/html", Content: "<!DOCTYPE html><html><body>" + marker + "</body></html>"},
			{Path: "app.js", Mime: "text/javascript", Content: "console.log('tides')"},
		},
	}
}

// importBundle imports into projectID (or a new project) and returns the
// project and snapshot ids.
func (f *fixture) importBundle(t *testing.T, token, projectID, marker string) (string, string) {
	t.Helper()
	w := f.do(t, http.MethodPost, "/v1/projects/import-bundle", token, datatypes.ImportBundleRequest{
		Bundle:    bundle(marker),
		ProjectID: projectID,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	res := decode[generation.ImportResult](t, w)
	return res.Project.ID, res.SnapshotID
}

// waitForCode blocks until the project's code phase routine closes.
func (f *fixture) waitForCode(t *testing.T, projectID string) {
	t.Helper()
	require.Eventually(t, func() bool {
		list, err := f.store.ListRoutines(context.Background(), store.RoutineFilter{ProjectID: projectID}, 20)
		if err != nil {
			return false
		}
		for _, r := range list {
			if r.Kind == datatypes.RoutineBackgroundCode && r.Terminal() {
				return true
			}
		}
		return false
	}, 5*time.Second, 10*time.Millisecond)
}

// =============================================================================
// Health and Auth
// =============================================================================

func TestHandlers_Health(t *testing.T) {
	f := newFixture(t, fixtureOptions{})

	w := f.do(t, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode[map[string]any](t, w)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "full", body["mode"])
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestHandlers_Metrics(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	f.importBundle(t, "alice-token", "", "m")

	w := f.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "aleutian_forge_")
}

func TestHandlers_RequiresAuth(t *testing.T) {
	f := newFixture(t, fixtureOptions{})

	tests := []struct {
		name  string
		token string
	}{
		{"missing token", ""},
		{"unknown token", "mallory-token"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(t, http.MethodGet, "/v1/projects", tt.token, nil)
			assert.Equal(t, http.StatusUnauthorized, w.Code)
			assert.Equal(t, "unauthorized", decode[handlers.ErrorResponse](t, w).Error)
		})
	}
}

func TestHandlers_RejectsMalformedIDs(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	pid, _ := f.importBundle(t, "alice-token", "", "a")

	for _, path := range []string{
		"/v1/projects/not-a-uuid",
		"/v1/projects/not-a-uuid/files",
		"/v1/projects/" + pid + "/snapshots/nope/diff",
	} {
		t.Run(path, func(t *testing.T) {
			w := f.do(t, http.MethodGet, path, "alice-token", nil)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, "invalid_id", decode[handlers.ErrorResponse](t, w).Error)
		})
	}
}

// =============================================================================
// Generation
// =============================================================================

func TestHandlers_Generate(t *testing.T) {
	f := newFixture(t, fixtureOptions{})

	w := f.do(t, http.MethodPost, "/v1/generate", "alice-token", datatypes.GenerateRequest{
		Prompt: "A landing page for a harbor cafe",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	res := decode[generation.PlanResult](t, w)
	assert.Equal(t, "alice", res.Project.OwnerID)
	assert.NotEmpty(t, res.SnapshotID)
	assert.Equal(t, generation.CodePhaseScheduled, res.CodePhase)
	f.waitForCode(t, res.Project.ID)

	t.Run("plan report renders the plan snapshot", func(t *testing.T) {
		w := f.do(t, http.MethodGet, "/v1/projects/"+res.Project.ID+"/snapshots/"+res.SnapshotID+"/plan.html", "alice-token", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Header().Get("Content-Type"), "text/html")
		assert.Contains(t, w.Body.String(), "PLAN DRAFT")
	})

	t.Run("routines list holds both phases", func(t *testing.T) {
		w := f.do(t, http.MethodGet, "/v1/routines?projectId="+res.Project.ID, "alice-token", nil)
		require.Equal(t, http.StatusOK, w.Code)
		body := decode[struct {
			Routines []datatypes.Routine `json:"routines"`
		}](t, w)
		kinds := map[datatypes.RoutineKind]bool{}
		for _, r := range body.Routines {
			kinds[r.Kind] = true
		}
		assert.True(t, kinds[datatypes.RoutineGeneration])
		assert.True(t, kinds[datatypes.RoutineBackgroundCode])
	})

	t.Run("other users see no routines", func(t *testing.T) {
		w := f.do(t, http.MethodGet, "/v1/routines?projectId="+res.Project.ID, "bob-token", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"routines":[]}`, w.Body.String())
	})

	t.Run("foreign project is forbidden", func(t *testing.T) {
		w := f.do(t, http.MethodPost, "/v1/generate", "bob-token", datatypes.GenerateRequest{
			Prompt:    "Make it blue",
			ProjectID: res.Project.ID,
		})
		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.Equal(t, "forbidden", decode[handlers.ErrorResponse](t, w).Error)
	})
}

func TestHandlers_GenerateRejectsBadInput(t *testing.T) {
	f := newFixture(t, fixtureOptions{})

	tests := []struct {
		name   string
		body   any
		status int
		code   string
	}{
		{"blank prompt", datatypes.GenerateRequest{Prompt: "   "}, http.StatusBadRequest, "invalid_request"},
		{"malformed project id", datatypes.GenerateRequest{Prompt: "Add pricing", ProjectID: "p1"}, http.StatusBadRequest, "invalid_request"},
		{"unknown project", datatypes.GenerateRequest{Prompt: "Add pricing", ProjectID: "6f1c2a44-9d1e-4b0e-8c55-0a6a3c1f2b77"}, http.StatusNotFound, "not_found"},
		{"not json", "prompt=hi", http.StatusBadRequest, "invalid_request"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(t, http.MethodPost, "/v1/generate", "alice-token", tt.body)
			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, tt.code, decode[handlers.ErrorResponse](t, w).Error)
		})
	}
}

func TestHandlers_InitAndListProjects(t *testing.T) {
	f := newFixture(t, fixtureOptions{})

	w := f.do(t, http.MethodPost, "/v1/projects/init", "alice-token", datatypes.InitProjectRequest{
		Prompt: "A booking tool for a yoga studio",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := decode[struct {
		Project datatypes.Project `json:"project"`
	}](t, w).Project
	assert.Equal(t, datatypes.ProjectStatusNew, created.Status)

	list := decode[struct {
		Projects []datatypes.Project `json:"projects"`
	}](t, f.do(t, http.MethodGet, "/v1/projects", "alice-token", nil)).Projects
	require.Len(t, list, 1)
	assert.Equal(t, created.ID, list[0].ID)

	assert.JSONEq(t, `{"projects":[]}`, f.do(t, http.MethodGet, "/v1/projects", "bob-token", nil).Body.String())

	w = f.do(t, http.MethodGet, "/v1/projects/"+created.ID, "bob-token", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = f.do(t, http.MethodGet, "/v1/projects/"+created.ID, "alice-token", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

// =============================================================================
// Bundles, Snapshots and Files
// =============================================================================

func TestHandlers_ImportBundleRejections(t *testing.T) {
	f := newFixture(t, fixtureOptions{})

	t.Run("schema problems are listed", func(t *testing.T) {
		b := bundle("x")
		b.Runtime = "flash"
		b.Files[1].Mime = "application/x-shockwave-flash"
		w := f.do(t, http.MethodPost, "/v1/projects/import-bundle", "alice-token", datatypes.ImportBundleRequest{Bundle: b})
		require.Equal(t, http.StatusBadRequest, w.Code)
		resp := decode[handlers.ErrorResponse](t, w)
		assert.Equal(t, "invalid_bundle", resp.Error)
		assert.Len(t, resp.Problems, 2)
	})

	t.Run("too many files", func(t *testing.T) {
		b := bundle("x")
		for i := 0; i <= datatypes.MaxBundleFiles; i++ {
			b.Files = append(b.Files, datatypes.AppFile{Path: fmt.Sprintf("f%d.js", i), Mime: "text/javascript", Content: "1"})
		}
		w := f.do(t, http.MethodPost, "/v1/projects/import-bundle", "alice-token", datatypes.ImportBundleRequest{Bundle: b})
		require.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "bundle_too_large", decode[handlers.ErrorResponse](t, w).Error)
	})

	t.Run("missing bundle", func(t *testing.T) {
		w := f.do(t, http.MethodPost, "/v1/projects/import-bundle", "alice-token", map[string]string{"name": "x"})
		require.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "invalid_request", decode[handlers.ErrorResponse](t, w).Error)
	})

	projects, err := f.store.ListProjects(context.Background(), "alice")
	require.NoError(t, err)
	assert.Empty(t, projects)
}

func TestHandlers_SnapshotDiff(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	pid, first := f.importBundle(t, "alice-token", "", "low tide")
	_, second := f.importBundle(t, "alice-token", pid, "high tide")

	t.Run("first snapshot has no base", func(t *testing.T) {
		w := f.do(t, http.MethodGet, "/v1/projects/"+pid+"/snapshots/"+first+"/diff", "alice-token", nil)
		require.Equal(t, http.StatusOK, w.Code)
		body := decode[map[string]any](t, w)
		assert.Nil(t, body["baseSnapshotId"])
		assert.Equal(t, first, body["targetSnapshotId"])
		assert.ElementsMatch(t, []any{"index.html", "app.js"}, body["created"])
	})

	t.Run("second snapshot diffs against the first", func(t *testing.T) {
		w := f.do(t, http.MethodGet, "/v1/projects/"+pid+"/snapshots/"+second+"/diff?format=unified", "alice-token", nil)
		require.Equal(t, http.StatusOK, w.Code)
		resp := decode[handlers.DiffResponse](t, w)
		require.NotNil(t, resp.BaseSnapshotID)
		assert.Equal(t, first, *resp.BaseSnapshotID)
		assert.Empty(t, resp.Created)
		require.Len(t, resp.Updated, 1)
		assert.Equal(t, "index.html", resp.Updated[0].Path)
		assert.Contains(t, resp.Unified, "+<!DOCTYPE html><html><body>high tide</body></html>")
	})

	t.Run("snapshot of another project is not found", func(t *testing.T) {
		other, _ := f.importBundle(t, "alice-token", "", "other")
		w := f.do(t, http.MethodGet, "/v1/projects/"+other+"/snapshots/"+first+"/diff", "alice-token", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("imported snapshots have no plan report", func(t *testing.T) {
		w := f.do(t, http.MethodGet, "/v1/projects/"+pid+"/snapshots/"+first+"/plan.html", "alice-token", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("list is newest first", func(t *testing.T) {
		w := f.do(t, http.MethodGet, "/v1/projects/"+pid+"/snapshots", "alice-token", nil)
		require.Equal(t, http.StatusOK, w.Code)
		body := decode[struct {
			Snapshots []datatypes.SnapshotInfo `json:"snapshots"`
			Latest    string                   `json:"latestSnapshotId"`
		}](t, w)
		require.Len(t, body.Snapshots, 2)
		assert.Equal(t, second, body.Snapshots[0].ID)
		assert.Equal(t, second, body.Latest)
	})
}

func TestHandlers_Rollback(t *testing.T) {
	deployer := &recordingDeployer{}
	f := newFixture(t, fixtureOptions{deployer: deployer, autoDeployOnRollback: true})
	pid, first := f.importBundle(t, "alice-token", "", "v1")
	f.importBundle(t, "alice-token", pid, "v2")

	w := f.do(t, http.MethodPost, "/v1/projects/"+pid+"/snapshots/"+first+"/rollback", "alice-token", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode[map[string]any](t, w)
	assert.Equal(t, first, body["snapshotId"])
	assert.Equal(t, true, body["autoDeploy"])

	project, err := f.store.GetProject(context.Background(), pid)
	require.NoError(t, err)
	assert.Equal(t, first, project.LatestSnapshotID)
	assert.Equal(t, datatypes.ProjectStatusLive, project.Status)

	routine, err := f.store.GetRoutine(context.Background(), body["routineId"].(string))
	require.NoError(t, err)
	assert.Equal(t, datatypes.RoutineRollback, routine.Kind)
	assert.Equal(t, datatypes.RoutineSuccess, routine.Status)
	require.Len(t, routine.Steps, 1)
	assert.Equal(t, "rollback_applied", routine.Steps[0].Type)

	require.Eventually(t, func() bool { return deployer.count() == 1 }, time.Second, 5*time.Millisecond)

	t.Run("unknown snapshot", func(t *testing.T) {
		w := f.do(t, http.MethodPost, "/v1/projects/"+pid+"/snapshots/6f1c2a44-9d1e-4b0e-8c55-0a6a3c1f2b77/rollback", "alice-token", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("foreign project", func(t *testing.T) {
		w := f.do(t, http.MethodPost, "/v1/projects/"+pid+"/snapshots/"+first+"/rollback", "bob-token", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestHandlers_RollbackWithoutAutoDeploy(t *testing.T) {
	deployer := &recordingDeployer{}
	f := newFixture(t, fixtureOptions{deployer: deployer})
	pid, first := f.importBundle(t, "alice-token", "", "v1")

	w := f.do(t, http.MethodPost, "/v1/projects/"+pid+"/snapshots/"+first+"/rollback", "alice-token", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, decode[map[string]any](t, w)["autoDeploy"])
	assert.Zero(t, deployer.count())
}

func TestHandlers_ListFiles(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	pid, snap := f.importBundle(t, "alice-token", "", "files")

	tests := []struct {
		name  string
		query string
		want  []handlers.FileEntry
	}{
		{"all", "", []handlers.FileEntry{{Path: "app.js", Status: "unchanged"}, {Path: "index.html", Status: "unchanged"}}},
		{"search", "?search=INDEX", []handlers.FileEntry{{Path: "index.html", Status: "unchanged"}}},
		{"status filter", "?status=created", []handlers.FileEntry{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(t, http.MethodGet, "/v1/projects/"+pid+"/files"+tt.query, "alice-token", nil)
			require.Equal(t, http.StatusOK, w.Code)
			body := decode[struct {
				SnapshotID string               `json:"snapshotId"`
				Files      []handlers.FileEntry `json:"files"`
			}](t, w)
			assert.Equal(t, snap, body.SnapshotID)
			assert.Equal(t, tt.want, body.Files)
		})
	}

	t.Run("sizes", func(t *testing.T) {
		w := f.do(t, http.MethodGet, "/v1/projects/"+pid+"/files?sizes=1&search=app", "alice-token", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"bytes":20`)
	})
}

func TestListFiles_TagsAndSorts(t *testing.T) {
	files := []datatypes.FileRecord{
		{Path: "app/page.tsx", Content: "page"},
		{Path: "components/Hero.tsx", Content: "hero"},
		{Path: "app/layout.tsx", Content: "layout"},
		{Path: "README.md", Content: "readme"},
		{Path: "components/Footer.tsx", Content: "footer"},
	}
	routine := &datatypes.Routine{
		CreatedFiles: []string{"components/Hero.tsx", "components/Footer.tsx"},
		UpdatedFiles: []string{"app/page.tsx"},
	}

	t.Run("order", func(t *testing.T) {
		got := handlers.ListFiles(files, routine, handlers.FileQuery{})
		paths := make([]string, 0, len(got))
		for _, e := range got {
			paths = append(paths, e.Status+":"+e.Path)
		}
		assert.Equal(t, []string{
			"created:components/Footer.tsx",
			"created:components/Hero.tsx",
			"updated:app/page.tsx",
			"unchanged:README.md",
			"unchanged:app/layout.tsx",
		}, paths)
	})

	t.Run("status set", func(t *testing.T) {
		got := handlers.ListFiles(files, routine, handlers.FileQuery{Statuses: "updated, unchanged"})
		require.Len(t, got, 3)
		assert.Equal(t, "app/page.tsx", got[0].Path)
	})

	t.Run("without routine everything is unchanged", func(t *testing.T) {
		for _, e := range handlers.ListFiles(files, nil, handlers.FileQuery{}) {
			assert.Equal(t, handlers.FileUnchanged, e.Status)
		}
	})
}

// =============================================================================
// Deployment and Events
// =============================================================================

func TestHandlers_Deploy(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	pid, _ := f.importBundle(t, "alice-token", "", "deploy")

	w := f.do(t, http.MethodGet, "/v1/projects/"+pid+"/deploy", "alice-token", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Nil(t, decode[map[string]any](t, w)["deployment"])

	w = f.do(t, http.MethodPost, "/v1/projects/"+pid+"/deploy", "alice-token", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	out := decode[deploy.Outcome](t, w)
	assert.Equal(t, datatypes.ProjectStatusLive, out.FinalState)
	assert.Equal(t, 1, out.Attempts)
	assert.True(t, strings.HasPrefix(out.URL, "https://preview.forge.local/p/"))

	w = f.do(t, http.MethodGet, "/v1/projects/"+pid+"/deploy", "alice-token", nil)
	require.Equal(t, http.StatusOK, w.Code)
	status := decode[struct {
		Deployment    *datatypes.Deployment   `json:"deployment"`
		ProjectStatus datatypes.ProjectStatus `json:"projectStatus"`
	}](t, w)
	require.NotNil(t, status.Deployment)
	assert.Equal(t, datatypes.DeploymentReady, status.Deployment.State)
	assert.Equal(t, datatypes.ProjectStatusLive, status.ProjectStatus)

	t.Run("foreign project", func(t *testing.T) {
		w := f.do(t, http.MethodPost, "/v1/projects/"+pid+"/deploy", "bob-token", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestHandlers_EventsDisabled(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	pid, _ := f.importBundle(t, "alice-token", "", "e")

	w := f.do(t, http.MethodGet, "/v1/projects/"+pid+"/events", "alice-token", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "realtime_unavailable", decode[handlers.ErrorResponse](t, w).Error)
}

func TestHandlers_EventsStreamFilesUpdated(t *testing.T) {
	f := newFixture(t, fixtureOptions{withHub: true})
	pid, _ := f.importBundle(t, "alice-token", "", "before")

	srv := httptest.NewServer(f.router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/projects/" + pid + "/events"
	conn, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Authorization": {"Bearer alice-token"}})
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)

	require.Eventually(t, func() bool {
		return f.hub.Subscribers(realtime.ProjectChannel(pid)) == 1
	}, time.Second, 5*time.Millisecond)

	_, snap := f.importBundle(t, "alice-token", pid, "after")

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var event struct {
		Channel string                `json:"channel"`
		Event   string                `json:"event"`
		Data    realtime.FilesUpdated `json:"data"`
	}
	require.NoError(t, conn.ReadJSON(&event))
	assert.Equal(t, realtime.EventFilesUpdated, event.Event)
	assert.Equal(t, realtime.ProjectChannel(pid), event.Channel)
	assert.Equal(t, snap, event.Data.SnapshotID)

	t.Run("foreign subscriber is refused before upgrade", func(t *testing.T) {
		_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Authorization": {"Bearer bob-token"}})
		require.Error(t, err)
		require.NotNil(t, resp)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}
