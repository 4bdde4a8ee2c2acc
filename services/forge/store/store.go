// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package store persists projects, snapshots, messages, conversation
// state, routines and deployments in BadgerDB.
//
// # Key Layout
//
//	p/<project>                         Project
//	s/<project>/<unixnano>/<snapshot>   Snapshot
//	si/<snapshot>                       -> snapshot key
//	m/<project>/<seq>                   Message
//	mseq/<project>                      last message seq
//	c/<project>                         ConversationState
//	r/<routine>                         Routine
//	rp/<project>/<unixnano>/<routine>   project index
//	ro/<owner>/<unixnano>/<routine>     owner index
//	d/<project>/<unixnano>/<deployment> Deployment
//
// Timestamps and sequence numbers are zero-padded so lexicographic key
// order matches creation order.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/AleutianAI/AleutianForge/services/forge/datatypes"
)

var (
	// ErrNotFound is returned when a requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when a write keeps conflicting with
	// concurrent transactions after retries.
	ErrConflict = errors.New("write conflict")
)

// RoutineFilter narrows ListRoutines.
type RoutineFilter struct {
	OwnerID   string
	ProjectID string
}

// Store is the persistence collaborator of the forge pipeline.
//
// # Description
//
// Store supports the CRUD operations of every entity plus the two queries
// the pipeline depends on: "most recent by creation time" and "count of
// records matching a filter".
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type Store interface {
	CreateProject(ctx context.Context, p *datatypes.Project) error
	GetProject(ctx context.Context, id string) (*datatypes.Project, error)
	// UpdateProject applies fn to the stored project and writes the whole
	// value back in one transaction.
	UpdateProject(ctx context.Context, id string, fn func(p *datatypes.Project) error) (*datatypes.Project, error)
	ListProjects(ctx context.Context, ownerID string) ([]datatypes.Project, error)

	// CreateSnapshot appends a snapshot. CreatedAt is assigned by the store
	// and is strictly greater than every earlier snapshot of the project.
	CreateSnapshot(ctx context.Context, projectID string, files []datatypes.FileRecord, meta *datatypes.PlanMeta, strategy datatypes.PreviewStrategy, summary string) (*datatypes.Snapshot, error)
	GetSnapshot(ctx context.Context, projectID, snapshotID string) (*datatypes.Snapshot, error)
	// LatestSnapshot returns nil, nil when the project has no snapshots.
	LatestSnapshot(ctx context.Context, projectID string) (*datatypes.Snapshot, error)
	// PreviousSnapshot returns the newest snapshot created before the given
	// time, or nil, nil.
	PreviousSnapshot(ctx context.Context, projectID string, before time.Time) (*datatypes.Snapshot, error)
	ListSnapshots(ctx context.Context, projectID string, limit int) ([]datatypes.SnapshotInfo, error)
	CountSnapshots(ctx context.Context, projectID string) (int, error)
	// PruneSnapshots deletes all but the newest keep snapshots and returns
	// the removed identifiers.
	PruneSnapshots(ctx context.Context, projectID string, keep int) ([]string, error)

	AppendMessage(ctx context.Context, projectID, role, content string) (*datatypes.Message, error)
	ListMessages(ctx context.Context, projectID string) ([]datatypes.Message, error)
	CountMessages(ctx context.Context, projectID string) (int, error)

	// GetConversation returns nil, nil when no state exists yet.
	GetConversation(ctx context.Context, projectID string) (*datatypes.ConversationState, error)
	PutConversation(ctx context.Context, state *datatypes.ConversationState) error

	SaveRoutine(ctx context.Context, r *datatypes.Routine) error
	GetRoutine(ctx context.Context, id string) (*datatypes.Routine, error)
	ListRoutines(ctx context.Context, filter RoutineFilter, limit int) ([]datatypes.Routine, error)
	// LatestFileRoutine returns the newest routine of the project that
	// recorded file changes, or nil, nil.
	LatestFileRoutine(ctx context.Context, projectID string) (*datatypes.Routine, error)

	CreateDeployment(ctx context.Context, d *datatypes.Deployment) error
	// LatestDeployment returns nil, nil when the project was never deployed.
	LatestDeployment(ctx context.Context, projectID string) (*datatypes.Deployment, error)
	ListDeployments(ctx context.Context, projectID string, limit int) ([]datatypes.Deployment, error)

	Close() error
}
