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
	"fmt"
	"sync"

	"github.com/AleutianAI/AleutianForge/services/forge/datatypes"
)

// MockBuildLog is the log returned by a simulated failed build.
const MockBuildLog = "Step 3/10: Building application...\nError: Module not found: Cannot resolve \"next/config\" in /app/src"

// Handle identifies a project on the hosting side.
type Handle struct {
	// AppProjectID is the forge project the handle belongs to.
	AppProjectID string `json:"appProjectId"`

	// ProjectID and Slug are assigned by the hosting provider.
	ProjectID string `json:"projectId"`
	Slug      string `json:"slug"`
}

// Result is the settled outcome of one hosting build.
type Result struct {
	DeploymentID string
	URL          string
	State        datatypes.DeploymentState
	Log          string
}

// Hosting builds and serves project snapshots.
//
// # Description
//
// EnsureProject creates the hosting project on first use. The controller
// caches the returned handle on the Project so it is called once per
// project. CreateDeployment uploads the files and blocks until the build
// settles or the provider's polling budget is spent.
type Hosting interface {
	EnsureProject(ctx context.Context, projectID, name string) (Handle, error)
	CreateDeployment(ctx context.Context, h Handle, files []datatypes.FileRecord) (Result, error)
}

// SimulatedHosting is the hosting backend of Degraded mode and tests.
// Every build succeeds unless FailFirst is set, in which case the first
// build of each project fails with MockBuildLog.
//
// # Thread Safety
//
// Safe for concurrent use.
type SimulatedHosting struct {
	FailFirst bool

	mu     sync.Mutex
	builds map[string]int
}

// NewSimulatedHosting creates a SimulatedHosting.
func NewSimulatedHosting(failFirst bool) *SimulatedHosting {
	return &SimulatedHosting{FailFirst: failFirst, builds: make(map[string]int)}
}

// EnsureProject implements Hosting.
func (s *SimulatedHosting) EnsureProject(_ context.Context, projectID, _ string) (Handle, error) {
	short := shortID(projectID)
	return Handle{AppProjectID: projectID, ProjectID: "sim_" + short, Slug: "mock-" + short}, nil
}

// CreateDeployment implements Hosting.
func (s *SimulatedHosting) CreateDeployment(ctx context.Context, h Handle, _ []datatypes.FileRecord) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	s.mu.Lock()
	if s.builds == nil {
		s.builds = make(map[string]int)
	}
	s.builds[h.AppProjectID]++
	n := s.builds[h.AppProjectID]
	s.mu.Unlock()

	id := fmt.Sprintf("sim_%s_%d", shortID(h.AppProjectID), n)
	if s.FailFirst && n == 1 {
		return Result{DeploymentID: id, State: datatypes.DeploymentError, Log: MockBuildLog}, nil
	}
	return Result{
		DeploymentID: id,
		URL:          "https://preview.forge.local/p/" + h.AppProjectID,
		State:        datatypes.DeploymentReady,
		Log:          "Build succeeded",
	}, nil
}

// Builds returns how many deployments were requested for the project.
func (s *SimulatedHosting) Builds(projectID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.builds[projectID]
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

var (
	_ Hosting = (*SimulatedHosting)(nil)
	_ Hosting = (*VercelHosting)(nil)
)
