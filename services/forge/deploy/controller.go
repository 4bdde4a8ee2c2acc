// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package deploy runs the deployment retry loop: build the current
// snapshot on the hosting provider, and on failure ask the fixer for a
// small patch, commit it and try again.
package deploy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/singleflight"

	"github.com/AleutianAI/AleutianForge/services/forge/datatypes"
	"github.com/AleutianAI/AleutianForge/services/forge/history"
	"github.com/AleutianAI/AleutianForge/services/forge/observability"
	"github.com/AleutianAI/AleutianForge/services/forge/routines"
	"github.com/AleutianAI/AleutianForge/services/forge/store"
)

var tracer = otel.Tracer("aleutian.forge.deploy")

// ErrProjectNotFound is returned when the project does not exist or is
// owned by someone else.
var ErrProjectNotFound = errors.New("project not found")

// Controller defaults.
const (
	DefaultMaxAttempts  = 2
	DefaultRecentWindow = 30 * time.Second

	// SkipRecentlyDeploying is the skip reason of a run that overlaps a
	// deployment started less than RecentWindow ago.
	SkipRecentlyDeploying = "already_deploying_recently"
)

// Locker serializes snapshot writers per project.
type Locker interface {
	Acquire(ctx context.Context, projectID string) (func(), error)
}

// AttemptSink receives every persisted deployment attempt.
type AttemptSink interface {
	RecordAttempt(ctx context.Context, ownerID string, d *datatypes.Deployment)
}

// Request starts one deployment run.
type Request struct {
	ProjectID string
	OwnerID   string
	Auto      bool
}

// Outcome summarizes a run.
type Outcome struct {
	Skipped    bool                    `json:"skipped"`
	Reason     string                  `json:"reason,omitempty"`
	RoutineID  string                  `json:"routineId,omitempty"`
	FinalState datatypes.ProjectStatus `json:"finalState,omitempty"`
	URL        string                  `json:"deploymentUrl,omitempty"`
	LogExcerpt string                  `json:"logExcerpt,omitempty"`
	Attempts   int                     `json:"attempts"`
	Steps      []datatypes.Step        `json:"steps,omitempty"`
}

// Config tunes the controller.
type Config struct {
	// MaxAttempts bounds hosting builds per run. Zero uses
	// DefaultMaxAttempts.
	MaxAttempts int

	// RecentWindow is how long a DEPLOYING project blocks new runs.
	RecentWindow time.Duration

	// Keep is the snapshot retention after a patch. Zero uses
	// history.DefaultKeep.
	Keep int
}

// Deps are the controller's collaborators. Store, History, Routines and
// Hosting are required.
type Deps struct {
	Store    store.Store
	History  *history.Recorder
	Routines *routines.Recorder
	Hosting  Hosting
	Fixer    *Fixer
	Locks    Locker
	Sink     AttemptSink
	Metrics  *observability.Metrics
	Logger   *slog.Logger
}

// Controller runs deployments.
//
// # Thread Safety
//
// Safe for concurrent use. Concurrent first deployments of one project
// share a single EnsureProject call.
type Controller struct {
	cfg      Config
	store    store.Store
	history  *history.Recorder
	routines *routines.Recorder
	hosting  Hosting
	fixer    *Fixer
	locks    Locker
	sink     AttemptSink
	metrics  *observability.Metrics
	logger   *slog.Logger
	handles  singleflight.Group
	now      func() time.Time
}

// NewController creates a Controller.
func NewController(cfg Config, deps Deps) *Controller {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.RecentWindow <= 0 {
		cfg.RecentWindow = DefaultRecentWindow
	}
	if cfg.Keep <= 0 {
		cfg.Keep = history.DefaultKeep
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Fixer == nil {
		deps.Fixer = NewFixer(nil, deps.Logger)
	}
	return &Controller{
		cfg:      cfg,
		store:    deps.Store,
		history:  deps.History,
		routines: deps.Routines,
		hosting:  deps.Hosting,
		fixer:    deps.Fixer,
		locks:    deps.Locks,
		sink:     deps.Sink,
		metrics:  deps.Metrics,
		logger:   deps.Logger,
		now:      time.Now,
	}
}

// AutoDeploy runs a deployment after a code phase or rollback and logs
// the outcome.
func (c *Controller) AutoDeploy(ctx context.Context, projectID, ownerID string) {
	out, err := c.Run(ctx, Request{ProjectID: projectID, OwnerID: ownerID, Auto: true})
	if err != nil {
		c.logger.Warn("auto deploy failed",
			slog.String("project_id", projectID),
			slog.String("error", err.Error()))
		return
	}
	c.logger.Info("auto deploy finished",
		slog.String("project_id", projectID),
		slog.Bool("skipped", out.Skipped),
		slog.String("state", string(out.FinalState)),
		slog.Int("attempts", out.Attempts))
}

// Run deploys the project's current snapshot.
//
// # Description
//
// A project that is DEPLOYING with a deployment younger than RecentWindow
// is skipped. Otherwise the project goes DEPLOYING and up to MaxAttempts
// builds run. Every attempt is persisted as a Deployment. After a failed
// attempt that is not the last, the fixer's patch is committed as a new
// snapshot and history is pruned. The run ends with the project LIVE (with
// URL) or ERROR (with log excerpt).
//
// # Outputs
//
//   - *Outcome: The run summary. Failed builds are not errors.
//   - error: ErrProjectNotFound, or a store failure before the routine
//     started.
func (c *Controller) Run(ctx context.Context, req Request) (*Outcome, error) {
	ctx, span := tracer.Start(ctx, "deploy.Run")
	defer span.End()
	span.SetAttributes(
		attribute.String("forge.project_id", req.ProjectID),
		attribute.Bool("forge.auto", req.Auto),
	)

	out, err := c.run(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(
		attribute.Int("forge.attempts", out.Attempts),
		attribute.String("forge.final_state", string(out.FinalState)),
	)
	return out, nil
}

func (c *Controller) run(ctx context.Context, req Request) (*Outcome, error) {
	project, err := c.store.GetProject(ctx, req.ProjectID)
	if errors.Is(err, store.ErrNotFound) || (err == nil && !project.OwnedBy(req.OwnerID)) {
		return nil, ErrProjectNotFound
	}
	if err != nil {
		return nil, err
	}

	if project.Status == datatypes.ProjectStatusDeploying {
		recent, err := c.store.LatestDeployment(ctx, project.ID)
		if err != nil {
			return nil, err
		}
		if recent != nil && c.now().Sub(recent.CreatedAt) < c.cfg.RecentWindow {
			return &Outcome{Skipped: true, Reason: SkipRecentlyDeploying}, nil
		}
	}

	run, err := c.routines.Start(ctx, req.OwnerID, project.ID, datatypes.RoutineDeployment)
	if err != nil {
		return nil, fmt.Errorf("start routine: %w", err)
	}
	if project, err = c.setStatus(ctx, project.ID, datatypes.ProjectStatusDeploying); err != nil {
		_ = run.Fail(ctx, err)
		return nil, err
	}

	out := &Outcome{RoutineID: run.ID(), FinalState: datatypes.ProjectStatusError}
	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		out.Attempts = attempt
		if c.attempt(ctx, run, project, req, attempt, out) {
			break
		}
		if ctx.Err() != nil {
			run.Step(ctx, "deploy_cancelled", map[string]any{"attempt": attempt})
			break
		}
	}

	final, err := c.store.UpdateProject(context.WithoutCancel(ctx), project.ID, func(p *datatypes.Project) error {
		p.Status = out.FinalState
		if out.URL != "" {
			p.DeploymentURL = out.URL
		}
		p.LastLogExcerpt = out.LogExcerpt
		return nil
	})
	if err != nil {
		c.logger.Error("deployment final status not stored",
			slog.String("project_id", project.ID),
			slog.String("error", err.Error()))
	} else {
		out.URL = final.DeploymentURL
	}

	status := datatypes.RoutineError
	if out.FinalState == datatypes.ProjectStatusLive {
		status = datatypes.RoutineSuccess
	}
	if err := run.Close(context.WithoutCancel(ctx), status); err != nil {
		c.logger.Warn("close deployment routine failed", slog.String("error", err.Error()))
	}
	out.Steps = run.Steps()
	c.metrics.RecordDeployment(string(out.FinalState), out.Attempts)
	return out, nil
}

// attempt runs one build. It returns true when the run is finished.
func (c *Controller) attempt(ctx context.Context, run *routines.Run, project *datatypes.Project, req Request, attempt int, out *Outcome) bool {
	run.Step(ctx, "deploy_attempt_start", map[string]any{"attempt": attempt, "auto": req.Auto})

	snap, err := c.history.Current(ctx, project)
	if err != nil {
		run.Step(ctx, "snapshot_load_error", map[string]any{"attempt": attempt, "error": err.Error()})
	}
	files := snap.CloneFiles()

	res, err := c.build(ctx, project, files)
	if err != nil {
		res = Result{State: datatypes.DeploymentError, Log: err.Error()}
	}

	dep := &datatypes.Deployment{
		ProjectID:       project.ID,
		Attempt:         attempt,
		State:           res.State,
		BuildLogExcerpt: datatypes.Excerpt(res.Log, datatypes.LogExcerptLimit),
		URL:             res.URL,
	}
	if err := c.store.CreateDeployment(ctx, dep); err != nil {
		c.logger.Warn("deployment record not stored",
			slog.String("project_id", project.ID),
			slog.String("error", err.Error()))
	} else if c.sink != nil {
		c.sink.RecordAttempt(ctx, req.OwnerID, dep)
	}
	out.LogExcerpt = dep.BuildLogExcerpt
	run.Step(ctx, "build_log_capture", map[string]any{"attempt": attempt, "excerpt": dep.BuildLogExcerpt})

	if res.State == datatypes.DeploymentReady {
		run.Step(ctx, "deploy_attempt_result", map[string]any{"attempt": attempt, "state": "SUCCESS", "url": res.URL})
		out.FinalState = datatypes.ProjectStatusLive
		out.URL = res.URL
		return true
	}

	parsed := FirstErrorLine(res.Log)
	run.Step(ctx, "deploy_attempt_result", map[string]any{"attempt": attempt, "state": "ERROR", "parsedError": parsed})
	if attempt >= c.cfg.MaxAttempts {
		return true
	}
	if snap == nil {
		return false
	}
	c.patch(ctx, run, project, attempt, parsed)
	return false
}

// build ensures the hosting handle and creates a deployment.
func (c *Controller) build(ctx context.Context, project *datatypes.Project, files []datatypes.FileRecord) (Result, error) {
	h, err := c.handle(ctx, project)
	if err != nil {
		return Result{}, fmt.Errorf("ensure hosting project: %w", err)
	}
	return c.hosting.CreateDeployment(ctx, h, files)
}

// handle returns the cached hosting handle or creates one. Concurrent
// callers for one project share a single EnsureProject call.
func (c *Controller) handle(ctx context.Context, project *datatypes.Project) (Handle, error) {
	if project.HostingProjectID != "" {
		return Handle{AppProjectID: project.ID, ProjectID: project.HostingProjectID, Slug: project.HostingSlug}, nil
	}
	v, err, _ := c.handles.Do(project.ID, func() (any, error) {
		latest, err := c.store.GetProject(ctx, project.ID)
		if err != nil {
			return Handle{}, err
		}
		if latest.HostingProjectID != "" {
			return Handle{AppProjectID: latest.ID, ProjectID: latest.HostingProjectID, Slug: latest.HostingSlug}, nil
		}
		h, err := c.hosting.EnsureProject(ctx, project.ID, project.Name)
		if err != nil {
			return Handle{}, err
		}
		if _, err := c.store.UpdateProject(ctx, project.ID, func(p *datatypes.Project) error {
			p.HostingProjectID = h.ProjectID
			p.HostingSlug = h.Slug
			return nil
		}); err != nil {
			c.logger.Warn("hosting handle not cached", slog.String("project_id", project.ID), slog.String("error", err.Error()))
		}
		return h, nil
	})
	if err != nil {
		return Handle{}, err
	}
	h := v.(Handle)
	project.HostingProjectID, project.HostingSlug = h.ProjectID, h.Slug
	return h, nil
}

// patch asks the fixer, commits the patched files and prunes history.
// Failures are recorded as steps; the next attempt rebuilds whatever is
// current.
func (c *Controller) patch(ctx context.Context, run *routines.Run, project *datatypes.Project, attempt int, parsed string) {
	if c.locks != nil {
		release, err := c.locks.Acquire(ctx, project.ID)
		if err != nil {
			run.Step(ctx, "patch_error", map[string]any{"attempt": attempt, "error": err.Error()})
			return
		}
		defer release()
	}

	fresh, err := c.store.GetProject(ctx, project.ID)
	if err != nil {
		run.Step(ctx, "patch_error", map[string]any{"attempt": attempt, "error": err.Error()})
		return
	}
	snap, err := c.history.Current(ctx, fresh)
	if err != nil || snap == nil {
		run.Step(ctx, "patch_error", map[string]any{"attempt": attempt, "error": "no current snapshot"})
		return
	}

	s := c.fixer.Suggest(ctx, fresh.Name, parsed, snap.Files)
	c.metrics.RecordFix(s.Source)
	run.Step(ctx, "patch_suggest", map[string]any{
		"attempt":     attempt,
		"parsedError": parsed,
		"suggestion":  s.Note,
		"source":      s.Source,
		"addedFiles":  addedPaths(s),
		"mutations":   mutationPaths(s),
	})

	next, err := c.history.Commit(ctx, history.Commit{
		ProjectID: fresh.ID,
		Files:     ApplyFix(snap.Files, s),
		Meta:      snap.Meta,
		Strategy:  snap.PreviewStrategy,
		Summary:   "Deployment fix: " + s.Note,
	})
	if err != nil {
		run.Step(ctx, "patch_error", map[string]any{"attempt": attempt, "error": err.Error()})
		return
	}
	project.LatestSnapshotID = next.ID

	if removed, err := c.history.Prune(ctx, fresh.ID, c.cfg.Keep); err != nil {
		run.Step(ctx, "snapshot_prune_error", map[string]any{"error": datatypes.Excerpt(err.Error(), 160)})
	} else if len(removed) > 0 {
		run.Step(ctx, "snapshot_prune", map[string]any{"removed": len(removed)})
	}
	run.Step(ctx, "patch_apply", map[string]any{"attempt": attempt, "snapshotId": next.ID, "note": s.Note})
}

func (c *Controller) setStatus(ctx context.Context, projectID string, status datatypes.ProjectStatus) (*datatypes.Project, error) {
	return c.store.UpdateProject(ctx, projectID, func(p *datatypes.Project) error {
		p.Status = status
		return nil
	})
}

func addedPaths(s FixSuggestion) []string {
	out := make([]string, 0, len(s.AddedFiles))
	for _, f := range s.AddedFiles {
		out = append(out, f.Path)
	}
	return out
}

func mutationPaths(s FixSuggestion) []string {
	out := make([]string, 0, len(s.Mutations))
	for _, m := range s.Mutations {
		out = append(out, m.Path)
	}
	return out
}
