// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package realtime pushes project events to subscribed clients.
package realtime

import (
	"context"
	"time"
)

// EventFilesUpdated is published after every snapshot commit.
const EventFilesUpdated = "files.updated"

// Event is the wire envelope sent to subscribers.
type Event struct {
	Channel string    `json:"channel"`
	Type    string    `json:"event"`
	Data    any       `json:"data"`
	At      time.Time `json:"ts"`
}

// FilesUpdated is the payload of EventFilesUpdated.
type FilesUpdated struct {
	ProjectID  string `json:"projectId"`
	SnapshotID string `json:"snapshotId"`
}

// Broadcaster publishes events on named channels.
//
// # Description
//
// Publishing is best-effort: implementations never block the caller on a
// slow subscriber and never return delivery failures.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type Broadcaster interface {
	Publish(ctx context.Context, channel, event string, data any)
}

// ProjectChannel returns the channel name of a project.
func ProjectChannel(projectID string) string {
	return "project-" + projectID
}

// PublishFilesUpdated announces a new snapshot of a project.
func PublishFilesUpdated(ctx context.Context, b Broadcaster, projectID, snapshotID string) {
	if b == nil {
		return
	}
	b.Publish(ctx, ProjectChannel(projectID), EventFilesUpdated, FilesUpdated{
		ProjectID:  projectID,
		SnapshotID: snapshotID,
	})
}

// Nop discards every event. Used when realtime delivery is disabled.
type Nop struct{}

// Publish implements Broadcaster.
func (Nop) Publish(context.Context, string, string, any) {}
