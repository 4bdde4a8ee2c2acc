// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"net/http"
	"sort"
	"strings"

	"github.com/AleutianAI/AleutianForge/services/forge/datatypes"
	"github.com/AleutianAI/AleutianForge/services/forge/middleware"
	"github.com/AleutianAI/AleutianForge/services/forge/store"
	"github.com/gin-gonic/gin"
)

// File statuses of the files listing, in sort order.
const (
	FileCreated   = "created"
	FileUpdated   = "updated"
	FileUnchanged = "unchanged"
)

var fileStatusOrder = map[string]int{FileCreated: 0, FileUpdated: 1, FileUnchanged: 2}

// FileEntry is one row of the files listing.
type FileEntry struct {
	Path   string `json:"path"`
	Status string `json:"status"`
	Bytes  *int   `json:"bytes,omitempty"`
}

// HandleListProjects handles GET /v1/projects.
func (h *Handlers) HandleListProjects(c *gin.Context) {
	logger := middleware.Logger(c, "HandleListProjects")
	projects, err := h.store.ListProjects(c.Request.Context(), middleware.OwnerID(c))
	if err != nil {
		writeError(c, logger, err)
		return
	}
	if projects == nil {
		projects = []datatypes.Project{}
	}
	c.JSON(http.StatusOK, gin.H{"projects": projects})
}

// HandleGetProject handles GET /v1/projects/:id.
func (h *Handlers) HandleGetProject(c *gin.Context) {
	logger := middleware.Logger(c, "HandleGetProject")
	project, ok := h.loadProject(c, logger)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"project": project})
}

// HandleListFiles handles GET /v1/projects/:id/files.
//
// # Description
//
// Lists the paths of the project's current snapshot. Each path is tagged
// created, updated or unchanged from the newest routine that recorded
// file changes.
//
// # Query Parameters
//
//	search: Case-insensitive path substring
//	status: Comma-separated statuses to keep
//	sizes:  "1" adds content byte counts
//
// # Response
//
//	200 OK: {"snapshotId": "...", "files": [FileEntry]}
//	404 Not Found: Unknown project
func (h *Handlers) HandleListFiles(c *gin.Context) {
	logger := middleware.Logger(c, "HandleListFiles")
	project, ok := h.loadProject(c, logger)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	snap, err := h.history.Current(ctx, project)
	if err != nil {
		writeError(c, logger, err)
		return
	}
	if snap == nil {
		c.JSON(http.StatusOK, gin.H{"snapshotId": nil, "files": []FileEntry{}})
		return
	}

	var routine *datatypes.Routine
	if routine, err = h.store.LatestFileRoutine(ctx, project.ID); err != nil {
		logger.Warn("file status lookup failed", "project_id", project.ID, "error", err)
		routine = nil
	}

	files := ListFiles(snap.Files, routine, FileQuery{
		Search:       c.Query("search"),
		Statuses:     c.Query("status"),
		IncludeSizes: c.Query("sizes") == "1",
	})
	c.JSON(http.StatusOK, gin.H{"snapshotId": snap.ID, "files": files})
}

// FileQuery filters ListFiles.
type FileQuery struct {
	Search       string
	Statuses     string
	IncludeSizes bool
}

// ListFiles tags, filters and sorts files: created first, then updated,
// then unchanged, each group by path.
func ListFiles(files []datatypes.FileRecord, routine *datatypes.Routine, q FileQuery) []FileEntry {
	created := map[string]bool{}
	updated := map[string]bool{}
	if routine != nil {
		for _, p := range routine.CreatedFiles {
			created[p] = true
		}
		for _, p := range routine.UpdatedFiles {
			updated[p] = true
		}
	}

	search := strings.ToLower(strings.TrimSpace(q.Search))
	keep := map[string]bool{}
	for _, s := range strings.Split(strings.ToLower(q.Statuses), ",") {
		if s = strings.TrimSpace(s); s != "" {
			keep[s] = true
		}
	}

	out := make([]FileEntry, 0, len(files))
	for _, f := range files {
		status := FileUnchanged
		switch {
		case created[f.Path]:
			status = FileCreated
		case updated[f.Path]:
			status = FileUpdated
		}
		if search != "" && !strings.Contains(strings.ToLower(f.Path), search) {
			continue
		}
		if len(keep) > 0 && !keep[status] {
			continue
		}
		entry := FileEntry{Path: f.Path, Status: status}
		if q.IncludeSizes {
			n := len(f.Content)
			entry.Bytes = &n
		}
		out = append(out, entry)
	}
	sort.SliceStable(out, func(i, j int) bool {
		oi, oj := fileStatusOrder[out[i].Status], fileStatusOrder[out[j].Status]
		if oi != oj {
			return oi < oj
		}
		return out[i].Path < out[j].Path
	})
	return out
}

// HandleListRoutines handles GET /v1/routines?projectId=. It returns the
// caller's newest routines, optionally narrowed to one project.
func (h *Handlers) HandleListRoutines(c *gin.Context) {
	logger := middleware.Logger(c, "HandleListRoutines")
	filter := store.RoutineFilter{OwnerID: middleware.OwnerID(c), ProjectID: c.Query("projectId")}
	list, err := h.store.ListRoutines(c.Request.Context(), filter, routineListLimit)
	if err != nil {
		writeError(c, logger, err)
		return
	}
	if list == nil {
		list = []datatypes.Routine{}
	}
	c.JSON(http.StatusOK, gin.H{"routines": list})
}
