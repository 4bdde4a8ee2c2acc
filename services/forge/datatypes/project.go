// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes defines the entities shared by the forge pipeline:
// projects, snapshots, routines, conversation state and deployments, plus
// the validated request shapes accepted by the HTTP layer.
package datatypes

import (
	"time"

	"github.com/google/uuid"
)

// ProjectStatus is the externally visible lifecycle state of a Project.
type ProjectStatus string

const (
	ProjectStatusNew       ProjectStatus = "NEW"
	ProjectStatusDeploying ProjectStatus = "DEPLOYING"
	ProjectStatusLive      ProjectStatus = "LIVE"
	ProjectStatusError     ProjectStatus = "ERROR"
)

// Project is a named unit of work owned by one user.
//
// # Description
//
// A Project carries the pointer to its current Snapshot and the hosting
// handle cached by the deployment controller. Projects are never deleted.
// Writers always replace the whole value inside a store transaction, so
// the generation and deployment paths never interleave partial updates.
//
// # Thread Safety
//
// Values are plain data. Callers must not share a *Project across
// goroutines without copying it.
type Project struct {
	ID             string        `json:"id"`
	OwnerID        string        `json:"ownerId"`
	Name           string        `json:"name"`
	Type           string        `json:"type"`
	TypeConfidence float64       `json:"typeConfidence"`
	Status         ProjectStatus `json:"status"`

	// LatestSnapshotID points at the snapshot generation and deployment
	// build on. Rollback may point it at an older snapshot.
	LatestSnapshotID string `json:"latestSnapshotId,omitempty"`

	DeploymentURL  string `json:"deploymentUrl,omitempty"`
	LastLogExcerpt string `json:"lastLogExcerpt,omitempty"`

	// Hosting handle, cached after the first ensure call.
	HostingProjectID string `json:"hostingProjectId,omitempty"`
	HostingSlug      string `json:"hostingSlug,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// NewProject builds a Project in the NEW state with a fresh identifier.
func NewProject(ownerID, name, projectType string, confidence float64) *Project {
	now := time.Now().UTC()
	return &Project{
		ID:             uuid.NewString(),
		OwnerID:        ownerID,
		Name:           name,
		Type:           projectType,
		TypeConfidence: confidence,
		Status:         ProjectStatusNew,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// OwnedBy reports whether the project belongs to the given user.
func (p *Project) OwnedBy(userID string) bool {
	return p != nil && p.OwnerID == userID
}
