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
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/AleutianAI/AleutianForge/services/forge/datatypes"
	"github.com/AleutianAI/AleutianForge/services/forge/observability"
	"github.com/AleutianAI/AleutianForge/services/forge/prompt"
	"github.com/AleutianAI/AleutianForge/services/forge/store"
	"github.com/AleutianAI/AleutianForge/services/llm"
)

// Compaction thresholds.
const (
	// CompactMinMessages is the project size below which nothing happens.
	CompactMinMessages = 12

	// CompactMinTail is the unfolded tail length that triggers a fold.
	CompactMinTail = 14

	// CompactKeepRecent messages always stay out of the summary.
	CompactKeepRecent = 10

	// MaxSummaryChars caps the stored summary.
	MaxSummaryChars = 2000
)

// errUnusableSummary is returned when the model gives no summary text.
var errUnusableSummary = errors.New("completion returned no usable summary")

// Compactor folds old chat turns into the running conversation summary.
type Compactor struct {
	store   store.Store
	client  llm.Client
	logger  *slog.Logger
	metrics *observability.Metrics
	now     func() time.Time
}

// NewCompactor creates a Compactor.
func NewCompactor(st store.Store, client llm.Client, logger *slog.Logger, metrics *observability.Metrics) *Compactor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Compactor{store: st, client: client, logger: logger, metrics: metrics, now: time.Now}
}

// MaybeCompact folds the oldest unfolded messages when the tail is long
// enough.
//
// # Description
//
// Projects with fewer than CompactMinMessages messages are left alone.
// Otherwise the messages after ConversationState.LastMessageSeq form the
// tail; when it holds at least CompactMinTail messages, all but the newest
// CompactKeepRecent are summarized together with the previous summary and
// the pointer advances to the last folded message.
//
// # Outputs
//
//   - bool: True when a summary was written.
//   - error: Store or completion failure. Callers log and continue.
func (c *Compactor) MaybeCompact(ctx context.Context, projectID string) (bool, error) {
	compacted, err := c.compact(ctx, projectID)
	switch {
	case err != nil:
		c.metrics.RecordCompaction("error")
		c.logger.Warn("conversation compaction failed",
			slog.String("project_id", projectID),
			slog.String("error", err.Error()))
	case compacted:
		c.metrics.RecordCompaction("compacted")
	default:
		c.metrics.RecordCompaction("skipped")
	}
	return compacted, err
}

func (c *Compactor) compact(ctx context.Context, projectID string) (bool, error) {
	count, err := c.store.CountMessages(ctx, projectID)
	if err != nil {
		return false, fmt.Errorf("count messages: %w", err)
	}
	if count < CompactMinMessages {
		return false, nil
	}

	state, err := c.store.GetConversation(ctx, projectID)
	if err != nil {
		return false, fmt.Errorf("load conversation: %w", err)
	}
	var previous string
	var folded int64
	if state != nil {
		previous, folded = state.Summary, state.LastMessageSeq
	}

	msgs, err := c.store.ListMessages(ctx, projectID)
	if err != nil {
		return false, fmt.Errorf("list messages: %w", err)
	}
	tail := make([]datatypes.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.Seq > folded {
			tail = append(tail, m)
		}
	}
	if len(tail) < CompactMinTail {
		return false, nil
	}
	fold := tail[:len(tail)-CompactKeepRecent]

	reply, err := c.client.Complete(ctx, prompt.CompactionRequest(previous, fold))
	if err != nil {
		return false, fmt.Errorf("summarize conversation: %w", err)
	}
	if !llm.Usable(reply) {
		return false, errUnusableSummary
	}

	next := &datatypes.ConversationState{
		ProjectID:      projectID,
		Summary:        truncateRunes(llm.VisibleText(reply), MaxSummaryChars),
		LastMessageSeq: fold[len(fold)-1].Seq,
		UpdatedAt:      c.now().UTC(),
	}
	if err := c.store.PutConversation(ctx, next); err != nil {
		return false, fmt.Errorf("store conversation: %w", err)
	}
	c.logger.Info("conversation compacted",
		slog.String("project_id", projectID),
		slog.Int("folded", len(fold)),
		slog.Int64("last_seq", next.LastMessageSeq))
	return true, nil
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
