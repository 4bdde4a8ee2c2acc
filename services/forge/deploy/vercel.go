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
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/AleutianForge/pkg/secrets"
	"github.com/AleutianAI/AleutianForge/services/forge/datatypes"
)

const (
	vercelBaseURL      = "https://api.vercel.com"
	vercelPollInterval = 2 * time.Second
	vercelMaxPolls     = 15
)

// VercelConfig configures VercelHosting.
type VercelConfig struct {
	// Token authenticates every request. Required.
	Token *secrets.Secret

	// TeamID scopes requests to a team when set.
	TeamID string

	// BaseURL overrides the API endpoint. Tests point it at httptest.
	BaseURL string

	// PollInterval and MaxPolls bound the wait for a settled build.
	PollInterval time.Duration
	MaxPolls     int

	HTTPClient *http.Client
	Logger     *slog.Logger
}

// VercelHosting deploys snapshots through the Vercel REST API.
//
// # Thread Safety
//
// Safe for concurrent use.
type VercelHosting struct {
	token    *secrets.Secret
	teamID   string
	baseURL  string
	interval time.Duration
	maxPolls int
	http     *http.Client
	logger   *slog.Logger
}

// NewVercelHosting validates cfg and creates a VercelHosting.
func NewVercelHosting(cfg VercelConfig) (*VercelHosting, error) {
	if cfg.Token.Empty() {
		return nil, errors.New("vercel token is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = vercelBaseURL
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = vercelPollInterval
	}
	if cfg.MaxPolls <= 0 {
		cfg.MaxPolls = vercelMaxPolls
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &VercelHosting{
		token:    cfg.Token,
		teamID:   cfg.TeamID,
		baseURL:  cfg.BaseURL,
		interval: cfg.PollInterval,
		maxPolls: cfg.MaxPolls,
		http:     cfg.HTTPClient,
		logger:   cfg.Logger,
	}, nil
}

type vercelProject struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type vercelFile struct {
	File     string `json:"file"`
	Data     string `json:"data"`
	Encoding string `json:"encoding"`
}

type vercelDeployment struct {
	ID         string `json:"id"`
	URL        string `json:"url"`
	ReadyState string `json:"readyState"`
	State      string `json:"state"`
}

func (d *vercelDeployment) status() string {
	if d.ReadyState != "" {
		return d.ReadyState
	}
	return d.State
}

// EnsureProject implements Hosting. It always creates a project; callers
// cache the handle.
func (v *VercelHosting) EnsureProject(ctx context.Context, projectID, _ string) (Handle, error) {
	ctx, span := tracer.Start(ctx, "VercelHosting.EnsureProject")
	defer span.End()

	body := map[string]string{"name": "forge-" + shortID(projectID), "framework": "nextjs"}
	var created vercelProject
	if err := v.do(ctx, http.MethodPost, "/v10/projects", body, &created); err != nil {
		span.RecordError(err)
		return Handle{}, err
	}
	v.logger.Info("vercel project created",
		slog.String("project_id", projectID),
		slog.String("vercel_project", created.ID))
	return Handle{AppProjectID: projectID, ProjectID: created.ID, Slug: created.Name}, nil
}

// CreateDeployment implements Hosting.
//
// # Description
//
// Files are sent base64 encoded. When the snapshot has a preview.html and
// no index.html, the preview is also served as index.html. The build is
// polled while QUEUED or BUILDING. A build that never settles is reported
// as ERROR with its last state in the log.
func (v *VercelHosting) CreateDeployment(ctx context.Context, h Handle, files []datatypes.FileRecord) (Result, error) {
	ctx, span := tracer.Start(ctx, "VercelHosting.CreateDeployment")
	defer span.End()
	span.SetAttributes(attribute.String("forge.project_id", h.AppProjectID))

	payload := make([]vercelFile, 0, len(files)+1)
	var previewHTML string
	hasIndex := false
	for _, f := range files {
		switch f.Path {
		case datatypes.PreviewPath:
			previewHTML = f.Content
		case "index.html":
			hasIndex = true
		}
		payload = append(payload, encodeFile(f.Path, f.Content))
	}
	if previewHTML != "" && !hasIndex {
		payload = append(payload, encodeFile("index.html", previewHTML))
	}

	var dep vercelDeployment
	body := map[string]any{"name": h.Slug, "project": h.ProjectID, "files": payload}
	if err := v.do(ctx, http.MethodPost, "/v13/deployments", body, &dep); err != nil {
		span.RecordError(err)
		return Result{}, err
	}

	state := dep.status()
	if state == "" {
		state = "BUILDING"
	}
	final := dep
	for polls := 0; (state == "QUEUED" || state == "BUILDING") && polls < v.maxPolls; polls++ {
		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		case <-time.After(v.interval):
		}
		var next vercelDeployment
		if err := v.do(ctx, http.MethodGet, "/v13/deployments/"+url.PathEscape(dep.ID), nil, &next); err != nil {
			v.logger.Warn("vercel poll failed", slog.String("deployment_id", dep.ID), slog.String("error", err.Error()))
			break
		}
		final = next
		state = next.status()
	}

	res := Result{DeploymentID: dep.ID}
	if final.URL != "" {
		res.URL = "https://" + final.URL
	}
	if state == "READY" {
		res.State = datatypes.DeploymentReady
		res.Log = "Build succeeded"
	} else {
		res.State = datatypes.DeploymentError
		res.Log = "Deployment state: " + state
	}
	span.SetAttributes(attribute.String("forge.deploy_state", state))
	return res, nil
}

func encodeFile(path, content string) vercelFile {
	return vercelFile{File: path, Data: base64.StdEncoding.EncodeToString([]byte(content)), Encoding: "base64"}
}

func (v *VercelHosting) do(ctx context.Context, method, path string, in, out any) error {
	endpoint := v.baseURL + path
	if v.teamID != "" {
		endpoint += "?teamId=" + url.QueryEscape(v.teamID)
	}
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if err := v.token.Use(func(token []byte) error {
		req.Header.Set("Authorization", "Bearer "+string(token))
		return nil
	}); err != nil {
		return fmt.Errorf("open vercel token: %w", err)
	}

	resp, err := v.http.Do(req)
	if err != nil {
		return fmt.Errorf("vercel %s: %w", path, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read vercel response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("vercel %s %d: %s", path, resp.StatusCode, datatypes.Excerpt(string(raw), 300))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode vercel response: %w", err)
	}
	return nil
}
