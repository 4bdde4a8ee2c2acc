// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package generation drives the two-phase plan/code protocol against the
// completion service.
//
// # Description
//
// The plan phase runs inside the request. It asks for a File Plan and the
// four narrative sections, renders a preview, commits a snapshot and
// schedules the code phase. The code phase runs on the Queue, asks for
// full file bodies, applies the plan and commits a second snapshot. Both
// phases hold the project's lock, so at most one generation per project
// runs at a time.
//
// An unusable reply (empty, reasoning only, or timed out) is retried once
// with a stricter instruction and then replaced by a deterministic
// fallback, so a snapshot never carries an empty plan.
package generation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/AleutianForge/services/forge/datatypes"
	"github.com/AleutianAI/AleutianForge/services/forge/diff"
	"github.com/AleutianAI/AleutianForge/services/forge/enrich"
	"github.com/AleutianAI/AleutianForge/services/forge/history"
	"github.com/AleutianAI/AleutianForge/services/forge/observability"
	"github.com/AleutianAI/AleutianForge/services/forge/parser"
	"github.com/AleutianAI/AleutianForge/services/forge/policy"
	"github.com/AleutianAI/AleutianForge/services/forge/preview"
	"github.com/AleutianAI/AleutianForge/services/forge/prompt"
	"github.com/AleutianAI/AleutianForge/services/forge/ratelimit"
	"github.com/AleutianAI/AleutianForge/services/forge/routines"
	"github.com/AleutianAI/AleutianForge/services/forge/store"
	"github.com/AleutianAI/AleutianForge/services/llm"
)

var tracer = otel.Tracer("aleutian.forge.generation")

var (
	// ErrForbidden is returned when a user addresses another user's project.
	ErrForbidden = errors.New("project belongs to another user")

	// ErrInvalidRequest wraps request validation failures.
	ErrInvalidRequest = errors.New("invalid request")
)

// CodePhaseState reports whether the code phase was queued.
type CodePhaseState string

const (
	CodePhaseScheduled CodePhaseState = "scheduled"
	CodePhaseRejected  CodePhaseState = "rejected"
)

// AutoDeployer is invoked after a code phase when auto-deploy is on.
type AutoDeployer interface {
	AutoDeploy(ctx context.Context, projectID, ownerID string)
}

// Config tunes the orchestrator.
type Config struct {
	// HistoryTokenBudget bounds the conversation tail of every prompt.
	HistoryTokenBudget int

	// CreateLimit caps CREATE entries per plan. Zero uses
	// enrich.DefaultCreateLimit.
	CreateLimit int

	// EnrichMode and EnrichMaxPasses resolve the enrichment pass budget.
	EnrichMode      string
	EnrichMaxPasses int

	// AutoDeploy deploys after every code phase.
	AutoDeploy bool

	Queue QueueConfig
}

// Deps are the orchestrator's collaborators. Store, History, Routines and
// Client are required.
type Deps struct {
	Store    store.Store
	History  *history.Recorder
	Routines *routines.Recorder
	Client   llm.Client
	Parser   parser.ReplyParser
	Limiter  *ratelimit.Keyed
	Deployer AutoDeployer
	Metrics  *observability.Metrics
	Logger   *slog.Logger

	// ImportLimiter bounds bundle imports per user.
	ImportLimiter *ratelimit.Keyed

	// Locks is shared with other writers of the same projects. Nil
	// creates a private table.
	Locks *ProjectLocks

	// Policy scans snapshot files for credentials. Nil skips scanning.
	Policy *policy.Engine
}

// PlanResult is the synchronous answer of the plan phase.
type PlanResult struct {
	Project         *datatypes.Project        `json:"project"`
	SnapshotID      string                    `json:"snapshotId"`
	Meta            datatypes.PlanMeta        `json:"meta"`
	RemovedCreates  []string                  `json:"removedCreates,omitempty"`
	PreviewStrategy datatypes.PreviewStrategy `json:"previewStrategy"`
	RoutineID       string                    `json:"routineId"`
	Outcome         observability.Outcome     `json:"outcome"`
	CodePhase       CodePhaseState            `json:"codePhase"`
	Steps           []datatypes.Step          `json:"steps"`
}

// Orchestrator runs the plan and code phases.
//
// # Thread Safety
//
// Safe for concurrent use. Work on one project is serialized by
// ProjectLocks.
type Orchestrator struct {
	cfg       Config
	store     store.Store
	history   *history.Recorder
	routines  *routines.Recorder
	client    llm.Client
	parser    parser.ReplyParser
	builder   *prompt.Builder
	limiter   *ratelimit.Keyed
	deployer  AutoDeployer
	metrics   *observability.Metrics
	logger    *slog.Logger
	locks     *ProjectLocks
	compactor *Compactor
	queue     *Queue
	now       func() time.Time

	importLimiter *ratelimit.Keyed
	policy        *policy.Engine
}

// New builds an Orchestrator and starts its code-phase workers.
func New(cfg Config, deps Deps) *Orchestrator {
	if cfg.CreateLimit <= 0 {
		cfg.CreateLimit = enrich.DefaultCreateLimit
	}
	if deps.Parser == nil {
		deps.Parser = parser.New(nil)
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Locks == nil {
		deps.Locks = NewProjectLocks()
	}
	o := &Orchestrator{
		cfg:       cfg,
		store:     deps.Store,
		history:   deps.History,
		routines:  deps.Routines,
		client:    deps.Client,
		parser:    deps.Parser,
		builder:   prompt.NewBuilder(cfg.HistoryTokenBudget),
		limiter:   deps.Limiter,
		deployer:  deps.Deployer,
		metrics:   deps.Metrics,
		logger:    deps.Logger,
		locks:     deps.Locks,
		compactor: NewCompactor(deps.Store, deps.Client, deps.Logger, deps.Metrics),
		now:       time.Now,

		importLimiter: deps.ImportLimiter,
		policy:        deps.Policy,
	}
	o.queue = NewQueue(cfg.Queue, o.runTask, deps.Logger, deps.Metrics)
	return o
}

// Locks exposes the per-project lock table to other writers.
func (o *Orchestrator) Locks() *ProjectLocks { return o.locks }

// Queue exposes the code-phase queue.
func (o *Orchestrator) Queue() *Queue { return o.queue }

func (o *Orchestrator) runTask(ctx context.Context, t Task) error {
	if t.Kind == TaskDeploy {
		if o.deployer != nil {
			o.deployer.AutoDeploy(ctx, t.ProjectID, t.OwnerID)
		}
		return nil
	}
	return o.RunCode(ctx, t)
}

// Stop drains the code-phase workers.
func (o *Orchestrator) Stop(ctx context.Context) error {
	return o.queue.Stop(ctx)
}

// UpdateLimits swaps the generation and import rate limits at runtime.
func (o *Orchestrator) UpdateLimits(generate, imports ratelimit.Config) {
	if o.limiter != nil {
		o.limiter.Update(generate)
	}
	if o.importLimiter != nil {
		o.importLimiter.Update(imports)
	}
}

// =============================================================================
// Plan Phase
// =============================================================================

// Generate runs the plan phase for one user instruction.
//
// # Description
//
// Validates the request, resolves or creates the project, checks the
// rate limit and takes the project lock. The reply is parsed into a File
// Plan, capped by the CREATE limit and committed together with a fresh
// preview. The code phase is queued before Generate returns.
//
// # Inputs
//
//   - ctx: Request context. The code phase does not inherit it.
//   - ownerID: Authenticated user.
//   - req: The instruction and optional project.
//
// # Outputs
//
//   - *PlanResult: The committed plan.
//   - error: ErrInvalidRequest, ratelimit.ErrLimited, store.ErrNotFound,
//     ErrForbidden, or a context or store failure.
func (o *Orchestrator) Generate(ctx context.Context, ownerID string, req datatypes.GenerateRequest) (*PlanResult, error) {
	ctx, span := tracer.Start(ctx, "generation.Plan")
	defer span.End()
	start := o.now()

	res, err := o.generate(ctx, ownerID, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		o.metrics.RecordGeneration(observability.PhasePlan, observability.OutcomeError, time.Since(start).Seconds())
		return nil, err
	}
	span.SetAttributes(
		attribute.String("forge.project_id", res.Project.ID),
		attribute.String("forge.outcome", string(res.Outcome)),
	)
	o.metrics.RecordGeneration(observability.PhasePlan, res.Outcome, time.Since(start).Seconds())
	return res, nil
}

func (o *Orchestrator) generate(ctx context.Context, ownerID string, req datatypes.GenerateRequest) (*PlanResult, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if o.limiter != nil {
		if err := o.limiter.Allow(ownerID); err != nil {
			o.metrics.RecordRateLimited("generate")
			return nil, err
		}
	}
	project, err := o.resolveProject(ctx, ownerID, req)
	if err != nil {
		return nil, err
	}

	release, err := o.locks.Acquire(ctx, project.ID)
	if err != nil {
		return nil, fmt.Errorf("acquire project lock: %w", err)
	}
	defer release()

	run, err := o.routines.Start(ctx, ownerID, project.ID, datatypes.RoutineGeneration)
	if err != nil {
		return nil, fmt.Errorf("start routine: %w", err)
	}
	res, err := o.planPhase(ctx, run, project, req.Prompt)
	if err != nil {
		_ = run.Fail(ctx, err)
		return nil, err
	}
	res.RoutineID = run.ID()
	res.CodePhase = o.schedule(ctx, run, Task{
		ProjectID:   project.ID,
		OwnerID:     ownerID,
		Instruction: req.Prompt,
		AutoDeploy:  o.cfg.AutoDeploy,
	})
	if err := run.Close(ctx, datatypes.RoutineSuccess); err != nil {
		o.logger.Warn("close plan routine failed", slog.String("error", err.Error()))
	}
	res.Steps = run.Steps()
	return res, nil
}

func (o *Orchestrator) resolveProject(ctx context.Context, ownerID string, req datatypes.GenerateRequest) (*datatypes.Project, error) {
	if req.ProjectID == "" {
		return o.createProject(ctx, ownerID, req.Prompt)
	}
	p, err := o.store.GetProject(ctx, req.ProjectID)
	if err != nil {
		return nil, err
	}
	if !p.OwnedBy(ownerID) {
		return nil, ErrForbidden
	}
	return p, nil
}

func (o *Orchestrator) createProject(ctx context.Context, ownerID, instruction string) (*datatypes.Project, error) {
	class := enrich.ClassifyPrompt(instruction)
	p := datatypes.NewProject(ownerID, enrich.DeriveAppName(instruction), class.Type, class.Confidence)
	if err := o.store.CreateProject(ctx, p); err != nil {
		return nil, fmt.Errorf("create project: %w", err)
	}
	o.logger.Info("project created",
		slog.String("project_id", p.ID),
		slog.String("type", p.Type),
		slog.Float64("confidence", p.TypeConfidence))
	return p, nil
}

// InitProject creates a classified, named project from a prompt and
// stores the prompt as its first message. Nothing is generated.
func (o *Orchestrator) InitProject(ctx context.Context, ownerID string, req datatypes.InitProjectRequest) (*datatypes.Project, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	p, err := o.createProject(ctx, ownerID, req.Prompt)
	if err != nil {
		return nil, err
	}
	if _, err := o.store.AppendMessage(ctx, p.ID, datatypes.RoleUser, req.Prompt); err != nil {
		return nil, fmt.Errorf("append message: %w", err)
	}
	return p, nil
}

func (o *Orchestrator) planPhase(ctx context.Context, run *routines.Run, project *datatypes.Project, instruction string) (*PlanResult, error) {
	if _, err := o.store.AppendMessage(ctx, project.ID, datatypes.RoleUser, instruction); err != nil {
		return nil, fmt.Errorf("append message: %w", err)
	}
	in, err := o.loadInput(ctx, project, instruction)
	if err != nil {
		return nil, err
	}
	passes := enrich.ResolvePassConfig(len(in.Current.CloneFiles()), o.cfg.EnrichMode, o.cfg.EnrichMaxPasses)
	targets := o.targets(in.Current, passes)
	run.Step(ctx, "plan_start", map[string]any{"prompt": instruction, "enrichment": passes.String()})

	text, outcome := o.ask(ctx, run, prompt.PhasePlan, in)

	var plan *parser.Plan
	if text != "" {
		plan = o.parser.ParsePlan(text)
	} else {
		plan = fallbackPlan(targets, instruction)
		run.Step(ctx, "plan_fallback", map[string]any{"lines": len(plan.Entries)})
	}
	if len(plan.Entries) == 0 {
		fb := fallbackPlan(targets, instruction)
		plan.Entries = fb.Entries
		run.Step(ctx, "plan_lines_substituted", map[string]any{"unparsed": len(plan.Unparsed)})
	}

	entries, removed := enrich.ApplyCreateLimit(plan.Entries, o.cfg.CreateLimit)
	if len(removed) > 0 {
		run.Step(ctx, "enrichment_create_limit", map[string]any{"removed": removed, "limit": o.cfg.CreateLimit})
	}
	meta := plan.Meta
	meta.PlanLines = formatEntries(entries)

	sections := sectionsFor(project.Name, instruction, meta)
	draft, strategy := o.preview(ctx, project.Name, instruction, meta.PlanLines, sections)
	run.Step(ctx, "preview_ready", map[string]any{"strategy": string(strategy)})

	files := withFile(in.Current.CloneFiles(), datatypes.PreviewPath, draft)
	files, added := enrich.EnsureCoreFiles(files, project.Name, instruction)
	if len(added) > 0 {
		run.Step(ctx, "core_files_added", map[string]any{"paths": added})
	}

	snap, err := o.history.Commit(ctx, history.Commit{
		ProjectID: project.ID,
		Files:     files,
		Meta:      &meta,
		Strategy:  strategy,
		Summary:   meta.Summary,
	})
	if err != nil {
		return nil, err
	}
	d := diff.Compute(in.Current, snap)
	run.SetFiles(d.Created, d.UpdatedPaths())
	run.Step(ctx, "snapshot_committed", map[string]any{"snapshotId": snap.ID, "files": len(snap.Files)})

	reply := text
	if reply == "" {
		reply = renderPlan(meta)
	}
	if _, err := o.store.AppendMessage(ctx, project.ID, datatypes.RoleAssistant, reply); err != nil {
		o.logger.Warn("append assistant message failed", slog.String("error", err.Error()))
	}

	project, err = o.store.GetProject(ctx, project.ID)
	if err != nil {
		return nil, err
	}
	return &PlanResult{
		Project:         project,
		SnapshotID:      snap.ID,
		Meta:            meta,
		RemovedCreates:  removed,
		PreviewStrategy: strategy,
		Outcome:         outcome,
	}, nil
}

func (o *Orchestrator) schedule(ctx context.Context, run *routines.Run, t Task) CodePhaseState {
	if err := o.queue.Submit(t); err != nil {
		run.Step(ctx, "code_phase_rejected", map[string]any{"reason": err.Error()})
		o.logger.Warn("code phase not scheduled",
			slog.String("project_id", t.ProjectID),
			slog.String("error", err.Error()))
		return CodePhaseRejected
	}
	run.Step(ctx, "code_phase_scheduled", nil)
	return CodePhaseScheduled
}

// =============================================================================
// Shared Helpers
// =============================================================================

// loadInput gathers the prompt context. Current and Previous may be nil.
func (o *Orchestrator) loadInput(ctx context.Context, project *datatypes.Project, instruction string) (prompt.Input, error) {
	in := prompt.Input{Instruction: instruction, Project: project}
	current, err := o.history.Current(ctx, project)
	if err != nil {
		return in, fmt.Errorf("load current snapshot: %w", err)
	}
	in.Current = current
	if current != nil {
		if in.Previous, err = o.history.Previous(ctx, current); err != nil {
			return in, fmt.Errorf("load previous snapshot: %w", err)
		}
	}
	if in.Conversation, err = o.store.GetConversation(ctx, project.ID); err != nil {
		return in, fmt.Errorf("load conversation: %w", err)
	}
	if in.History, err = o.store.ListMessages(ctx, project.ID); err != nil {
		return in, fmt.Errorf("list messages: %w", err)
	}
	return in, nil
}

// targets returns at most passes.MaxPasses enrichment suggestions.
func (o *Orchestrator) targets(current *datatypes.Snapshot, passes enrich.PassConfig) []parser.PlanEntry {
	if current == nil {
		return nil
	}
	t := enrich.DeriveTargets(current.Files)
	if len(t) > passes.MaxPasses {
		t = t[:passes.MaxPasses]
	}
	return t
}

// ask requests phase output, retrying once with the stricter instruction.
// An empty text means both attempts were unusable.
func (o *Orchestrator) ask(ctx context.Context, run *routines.Run, phase prompt.Phase, in prompt.Input) (string, observability.Outcome) {
	for attempt, strict := range []bool{false, true} {
		c, err := o.client.Complete(ctx, o.builder.Build(phase, in, strict))
		if err == nil && llm.Usable(c) {
			if strict {
				return llm.VisibleText(c), observability.OutcomeRetry
			}
			return llm.VisibleText(c), observability.OutcomeModel
		}
		run.Step(ctx, "completion_unusable", map[string]any{
			"phase":   string(phase),
			"attempt": attempt + 1,
			"reason":  unusableReason(c, err),
		})
		if ctx.Err() != nil {
			break
		}
	}
	return "", observability.OutcomeFallback
}

func unusableReason(c *llm.Completion, err error) string {
	switch {
	case errors.Is(err, llm.ErrTimeout):
		return "timeout"
	case err != nil:
		return "error: " + llm.Truncate(err.Error(), 200)
	case c != nil && (c.Reasoning != "" || strings.TrimSpace(c.Text) != ""):
		return "reasoning_only"
	default:
		return "empty"
	}
}

// preview asks for an HTML draft and falls back to the site mock.
func (o *Orchestrator) preview(ctx context.Context, name, instruction string, planLines []string, s preview.Sections) (string, datatypes.PreviewStrategy) {
	c, err := o.client.Complete(ctx, prompt.PreviewRequest(name, instruction, planLines))
	if err == nil {
		if draft := llm.VisibleText(c); preview.IsCompleteDraft(draft) {
			return draft, datatypes.PreviewModelDraft
		}
	}
	return preview.SiteMock(s), datatypes.PreviewSiteMock
}

// fallbackPlan is the deterministic plan used when the model gives
// nothing: enrichment targets plus a page and preview refresh.
func fallbackPlan(targets []parser.PlanEntry, instruction string) *parser.Plan {
	entries := append([]parser.PlanEntry(nil), targets...)
	entries = append(entries,
		parser.PlanEntry{Action: parser.ActionUpdate, Path: datatypes.PagePath, Reason: "Apply request: " + llm.Truncate(instruction, 120)},
		parser.PlanEntry{Action: parser.ActionUpdate, Path: datatypes.PreviewPath, Reason: "Refresh preview"},
	)
	todos := make([]string, 0, len(targets)+1)
	for _, t := range targets {
		todos = append(todos, t.Reason)
	}
	todos = append(todos, "Retry the request once the completion service responds")
	return &parser.Plan{
		Entries: entries,
		Meta: datatypes.PlanMeta{
			PlanLines: formatEntries(entries),
			Summary:   "Fallback plan: the completion service returned no usable reply.",
			Proposed:  []string{"Refine app/page.tsx for the request", "Refresh preview.html"},
			Pitfalls:  []string{"Changes are heuristic until the model responds"},
			Todos:     todos,
		},
	}
}

func formatEntries(entries []parser.PlanEntry) []string {
	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		lines = append(lines, parser.FormatPlanLine(e))
	}
	return lines
}

// renderPlan formats meta as a reply text for the message log.
func renderPlan(meta datatypes.PlanMeta) string {
	var sb strings.Builder
	sb.WriteString("File Plan:\n")
	sb.WriteString(strings.Join(meta.PlanLines, "\n"))
	fmt.Fprintf(&sb, "\n\n1) Summary of intent\n%s", meta.Summary)
	for i, section := range [][]string{meta.Proposed, meta.Pitfalls, meta.Todos} {
		title := [...]string{"2) Proposed changes", "3) Potential pitfalls", "4) Next TODO bullets"}[i]
		fmt.Fprintf(&sb, "\n\n%s\n", title)
		for _, b := range section {
			fmt.Fprintf(&sb, "- %s\n", b)
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

func sectionsFor(name, instruction string, meta datatypes.PlanMeta) preview.Sections {
	return preview.Sections{
		ProjectName: name,
		Prompt:      instruction,
		PlanLines:   meta.PlanLines,
		Summary:     meta.Summary,
		Proposed:    meta.Proposed,
		Pitfalls:    meta.Pitfalls,
		Todos:       meta.Todos,
	}
}

// withFile replaces path's content or appends it.
func withFile(files []datatypes.FileRecord, path, content string) []datatypes.FileRecord {
	for i := range files {
		if files[i].Path == path {
			files[i].Content = content
			return files
		}
	}
	return append(files, datatypes.FileRecord{Path: path, Content: content})
}
