// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import "time"

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Message is one chat turn of a project. Seq is monotonic per project and
// starts at 1.
type Message struct {
	ProjectID string    `json:"projectId"`
	Seq       int64     `json:"seq"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

// ConversationState is the running summary of folded chat turns.
// LastMessageSeq is the newest message already folded into Summary.
type ConversationState struct {
	ProjectID      string    `json:"projectId"`
	Summary        string    `json:"summary"`
	LastMessageSeq int64     `json:"lastMessageSeq"`
	UpdatedAt      time.Time `json:"updatedAt"`
}
