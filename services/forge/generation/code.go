// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package generation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/AleutianForge/services/forge/datatypes"
	"github.com/AleutianAI/AleutianForge/services/forge/diff"
	"github.com/AleutianAI/AleutianForge/services/forge/enrich"
	"github.com/AleutianAI/AleutianForge/services/forge/history"
	"github.com/AleutianAI/AleutianForge/services/forge/observability"
	"github.com/AleutianAI/AleutianForge/services/forge/parser"
	"github.com/AleutianAI/AleutianForge/services/forge/preview"
	"github.com/AleutianAI/AleutianForge/services/forge/prompt"
	"github.com/AleutianAI/AleutianForge/services/forge/routines"
)

// RunCode executes one code-phase task. It is the Queue's Handler.
//
// # Description
//
// Takes the project lock with the task context, compacts the
// conversation, asks for file bodies and applies the resulting plan to
// the current snapshot. Without a usable reply the stored plan is applied
// with no blocks. The new snapshot is committed and broadcast. With
// AutoDeploy the deployment controller runs after the lock is released.
func (o *Orchestrator) RunCode(ctx context.Context, t Task) error {
	ctx, span := tracer.Start(ctx, "generation.Code")
	defer span.End()
	span.SetAttributes(attribute.String("forge.project_id", t.ProjectID))
	start := o.now()

	outcome, err := o.runCode(ctx, t)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		outcome = observability.OutcomeError
	}
	o.metrics.RecordGeneration(observability.PhaseCode, outcome, time.Since(start).Seconds())
	if err != nil {
		return err
	}

	if t.AutoDeploy && o.deployer != nil {
		o.deployer.AutoDeploy(ctx, t.ProjectID, t.OwnerID)
	}
	return nil
}

func (o *Orchestrator) runCode(ctx context.Context, t Task) (observability.Outcome, error) {
	release, err := o.locks.Acquire(ctx, t.ProjectID)
	if err != nil {
		return "", fmt.Errorf("acquire project lock: %w", err)
	}
	defer release()

	project, err := o.store.GetProject(ctx, t.ProjectID)
	if err != nil {
		return "", err
	}
	run, err := o.routines.Start(ctx, t.OwnerID, t.ProjectID, datatypes.RoutineBackgroundCode)
	if err != nil {
		return "", fmt.Errorf("start routine: %w", err)
	}
	outcome, err := o.codePhase(ctx, run, project, t.Instruction)
	if err != nil {
		_ = run.Fail(ctx, err)
		return "", err
	}
	if err := run.Close(ctx, datatypes.RoutineSuccess); err != nil {
		o.logger.Warn("close code routine failed", slog.String("error", err.Error()))
	}
	return outcome, nil
}

func (o *Orchestrator) codePhase(ctx context.Context, run *routines.Run, project *datatypes.Project, instruction string) (observability.Outcome, error) {
	if compacted, err := o.compactor.MaybeCompact(ctx, project.ID); err != nil {
		run.Step(ctx, "compaction_failed", map[string]any{"error": err.Error()})
	} else if compacted {
		run.Step(ctx, "conversation_compacted", nil)
	}

	in, err := o.loadInput(ctx, project, instruction)
	if err != nil {
		return "", err
	}
	var stored datatypes.PlanMeta
	if in.Current != nil && in.Current.Meta != nil {
		stored = *in.Current.Meta
	}
	in.Plan = stored.PlanLines

	passes := enrich.ResolvePassConfig(len(in.Current.CloneFiles()), o.cfg.EnrichMode, o.cfg.EnrichMaxPasses)
	in.Targets = o.targets(in.Current, passes)
	run.Step(ctx, "code_start", map[string]any{"enrichment": passes.String(), "planLines": len(in.Plan)})

	text, outcome := o.ask(ctx, run, prompt.PhaseCode, in)
	code := &parser.Code{}
	if text != "" {
		code = o.parser.ParseCode(ctx, text)
	} else {
		run.Step(ctx, "code_fallback", map[string]any{"planLines": len(in.Plan)})
	}
	if code.Discarded > 0 {
		run.Step(ctx, "duplicate_blocks_discarded", map[string]any{"count": code.Discarded})
	}

	entries := code.Entries
	if len(entries) == 0 {
		entries = parseLines(stored.PlanLines)
	}
	entries, removed := enrich.ApplyCreateLimit(entries, o.cfg.CreateLimit)
	if len(removed) > 0 {
		run.Step(ctx, "enrichment_create_limit", map[string]any{"removed": removed, "limit": o.cfg.CreateLimit})
	}
	meta := mergeMeta(code.Meta, stored)
	meta.PlanLines = formatEntries(entries)

	applied := ApplyPlan(in.Current.CloneFiles(), entries, code.Blocks, o.now())
	for _, path := range applied.Missing {
		run.Step(ctx, "block_missing", map[string]any{"path": path})
	}

	files := applied.Files
	strategy := datatypes.PreviewPlanReport
	if block, ok := code.BlockFor(datatypes.PreviewPath); ok {
		files = withFile(files, datatypes.PreviewPath, block.Content)
		strategy = datatypes.PreviewModelBlock
	} else {
		report := preview.PlanReport(sectionsFor(project.Name, instruction, meta), preview.PhaseCode)
		files = withFile(files, datatypes.PreviewPath, report)
	}
	files, added := enrich.EnsureCoreFiles(files, project.Name, instruction)
	if len(added) > 0 {
		run.Step(ctx, "core_files_added", map[string]any{"paths": added})
	}
	if o.policy != nil {
		if found := o.policy.ScanFiles(files); len(found) > 0 {
			flagged := make([]string, len(found))
			for i, f := range found {
				flagged[i] = f.String()
			}
			run.Step(ctx, "credentials_flagged", map[string]any{"findings": flagged})
			o.logger.Warn("generated files match credential patterns",
				slog.String("project_id", project.ID), slog.Int("count", len(found)))
		}
	}

	snap, err := o.history.Commit(ctx, history.Commit{
		ProjectID: project.ID,
		Files:     files,
		Meta:      &meta,
		Strategy:  strategy,
		Summary:   meta.Summary,
	})
	if err != nil {
		return "", err
	}
	d := diff.Compute(in.Current, snap)
	run.SetFiles(d.Created, d.UpdatedPaths())
	run.Step(ctx, "snapshot_committed", map[string]any{
		"snapshotId": snap.ID,
		"created":    len(d.Created),
		"updated":    len(d.Updated),
		"deleted":    len(d.Deleted),
		"strategy":   string(strategy),
	})

	reply := fmt.Sprintf("Implemented %d plan line(s): %d created, %d updated, %d deleted.",
		len(entries), len(d.Created), len(d.Updated), len(d.Deleted))
	if meta.Summary != "" {
		reply += "\n" + meta.Summary
	}
	if _, err := o.store.AppendMessage(ctx, project.ID, datatypes.RoleAssistant, reply); err != nil {
		o.logger.Warn("append assistant message failed", slog.String("error", err.Error()))
	}
	return outcome, nil
}

// ApplyResult is the outcome of ApplyPlan.
type ApplyResult struct {
	Files []datatypes.FileRecord

	// Missing lists CREATE and UPDATE paths that had no block and could
	// not be applied.
	Missing []string
}

// ApplyPlan applies plan entries to files.
//
// # Description
//
//   - CREATE writes the block when one exists and is a no-op otherwise.
//   - UPDATE overwrites with the block. Without one it appends a dated
//     note with the reason to an existing file.
//   - DELETE removes the path. The preview artifact is never deleted.
//
// The preview artifact is only written from a block; it is regenerated
// by the caller otherwise. files is modified in place.
func ApplyPlan(files []datatypes.FileRecord, entries []parser.PlanEntry, blocks []parser.Block, now time.Time) ApplyResult {
	byPath := make(map[string]string, len(blocks))
	for _, b := range blocks {
		byPath[b.Path] = b.Content
	}
	res := ApplyResult{}
	for _, e := range entries {
		content, hasBlock := byPath[e.Path]
		switch e.Action {
		case parser.ActionCreate:
			if !hasBlock {
				res.Missing = append(res.Missing, e.Path)
				continue
			}
			files = withFile(files, e.Path, content)
		case parser.ActionUpdate:
			if hasBlock {
				files = withFile(files, e.Path, content)
				continue
			}
			if e.Path == datatypes.PreviewPath {
				continue
			}
			i := indexOf(files, e.Path)
			if i < 0 {
				res.Missing = append(res.Missing, e.Path)
				continue
			}
			files[i].Content += fmt.Sprintf("\n\n// Updated %s: %s", now.UTC().Format(time.RFC3339), e.Reason)
		case parser.ActionDelete:
			if e.Path == datatypes.PreviewPath {
				continue
			}
			if i := indexOf(files, e.Path); i >= 0 {
				files = append(files[:i], files[i+1:]...)
			}
		}
	}
	res.Files = files
	return res
}

func indexOf(files []datatypes.FileRecord, path string) int {
	for i, f := range files {
		if f.Path == path {
			return i
		}
	}
	return -1
}

func parseLines(lines []string) []parser.PlanEntry {
	out := make([]parser.PlanEntry, 0, len(lines))
	for _, l := range lines {
		if e, ok := parser.ParsePlanLine(l); ok {
			out = append(out, e)
		}
	}
	return out
}

// mergeMeta prefers the reply's narrative and keeps the stored one for
// sections the reply left empty.
func mergeMeta(reply, stored datatypes.PlanMeta) datatypes.PlanMeta {
	out := reply
	if out.Summary == "" {
		out.Summary = stored.Summary
	}
	if len(out.Proposed) == 0 {
		out.Proposed = stored.Proposed
	}
	if len(out.Pitfalls) == 0 {
		out.Pitfalls = stored.Pitfalls
	}
	if len(out.Todos) == 0 {
		out.Todos = stored.Todos
	}
	return out
}
