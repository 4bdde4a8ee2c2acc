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
	"strings"

	"github.com/AleutianAI/AleutianForge/services/forge/datatypes"
	"github.com/AleutianAI/AleutianForge/services/forge/enrich"
	"github.com/AleutianAI/AleutianForge/services/forge/history"
	"github.com/AleutianAI/AleutianForge/services/forge/policy"
)

// ImportResult is the answer of ImportBundle.
type ImportResult struct {
	Project    *datatypes.Project `json:"project"`
	SnapshotID string             `json:"snapshotId"`
	FileCount  int                `json:"fileCount"`
}

// ImportBundle writes an externally produced bundle as a new snapshot.
//
// # Description
//
// The bundle is checked against the size limits and its schema before
// anything is written. The target project is loaded (ownership checked)
// or created from the bundle's name. The snapshot is committed with the
// imported strategy under the project lock, a system message records the
// import and the project goes LIVE.
//
// # Outputs
//
//   - *ImportResult: Project and snapshot written.
//   - error: ErrInvalidRequest, datatypes.ErrBundleTooLarge,
//     datatypes.ErrInvalidBundle (as *datatypes.BundleValidationError),
//     ratelimit.ErrLimited, store.ErrNotFound or ErrForbidden.
func (o *Orchestrator) ImportBundle(ctx context.Context, ownerID string, req datatypes.ImportBundleRequest) (*ImportResult, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if err := datatypes.CheckBundleLimits(req.Bundle); err != nil {
		return nil, err
	}
	if err := datatypes.ValidateBundle(req.Bundle); err != nil {
		return nil, err
	}
	if err := o.rejectSecrets(req.Bundle); err != nil {
		return nil, err
	}
	if o.importLimiter != nil {
		if err := o.importLimiter.Allow(ownerID); err != nil {
			o.metrics.RecordRateLimited("import")
			return nil, err
		}
	}

	var project *datatypes.Project
	var err error
	if req.ProjectID != "" {
		if project, err = o.store.GetProject(ctx, req.ProjectID); err != nil {
			return nil, err
		}
		if !project.OwnedBy(ownerID) {
			return nil, ErrForbidden
		}
	} else {
		name := firstNonEmpty(req.Name, req.Bundle.Title, "Imported App")
		class := enrich.ClassifyPrompt(name)
		project = datatypes.NewProject(ownerID, name, class.Type, class.Confidence)
		if err := o.store.CreateProject(ctx, project); err != nil {
			return nil, fmt.Errorf("create project: %w", err)
		}
	}

	release, err := o.locks.Acquire(ctx, project.ID)
	if err != nil {
		return nil, fmt.Errorf("acquire project lock: %w", err)
	}
	defer release()

	files := req.Bundle.Records()
	snap, err := o.history.Commit(ctx, history.Commit{
		ProjectID: project.ID,
		Files:     files,
		Strategy:  datatypes.PreviewImported,
		Summary:   fmt.Sprintf("Imported %s bundle (entry %s)", req.Bundle.Runtime, req.Bundle.Entry),
	})
	if err != nil {
		return nil, err
	}
	note := fmt.Sprintf("Imported app bundle: %d files, runtime %s.", len(files), req.Bundle.Runtime)
	if _, err := o.store.AppendMessage(ctx, project.ID, datatypes.RoleSystem, note); err != nil {
		return nil, fmt.Errorf("append message: %w", err)
	}
	project, err = o.store.UpdateProject(ctx, project.ID, func(p *datatypes.Project) error {
		p.Status = datatypes.ProjectStatusLive
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &ImportResult{Project: project, SnapshotID: snap.ID, FileCount: len(files)}, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

// rejectSecrets fails imports carrying High confidence credentials, since
// an imported bundle can be deployed without further review.
func (o *Orchestrator) rejectSecrets(b *datatypes.AppBundle) error {
	if o.policy == nil {
		return nil
	}
	found := policy.AtLeast(o.policy.ScanFiles(b.Records()), policy.High)
	if len(found) == 0 {
		return nil
	}
	problems := make([]string, len(found))
	for i, f := range found {
		problems[i] = "credential detected: " + f.String()
	}
	return &datatypes.BundleValidationError{Problems: problems}
}
