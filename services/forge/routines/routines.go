// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package routines records the audit trail of orchestration runs.
package routines

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianForge/services/forge/datatypes"
	"github.com/AleutianAI/AleutianForge/services/forge/store"
)

// ErrRoutineClosed is returned when closing a routine twice.
var ErrRoutineClosed = errors.New("routine already closed")

// Recorder opens routines against a store.
type Recorder struct {
	store  store.Store
	logger *slog.Logger
	now    func() time.Time
}

// NewRecorder creates a Recorder.
func NewRecorder(st store.Store, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{store: st, logger: logger, now: time.Now}
}

// Start persists a RUNNING routine and returns a handle to it.
func (r *Recorder) Start(ctx context.Context, ownerID, projectID string, kind datatypes.RoutineKind) (*Run, error) {
	routine := &datatypes.Routine{
		OwnerID:   ownerID,
		ProjectID: projectID,
		Kind:      kind,
		Status:    datatypes.RoutineRunning,
		StartedAt: r.now().UTC(),
	}
	if err := r.store.SaveRoutine(ctx, routine); err != nil {
		return nil, err
	}
	return &Run{rec: r, routine: routine}, nil
}

// Run is an open routine. Steps are appended and persisted until Close.
//
// # Thread Safety
//
// Safe for concurrent use.
type Run struct {
	rec *Recorder

	mu      sync.Mutex
	routine *datatypes.Routine
}

// ID returns the routine identifier.
func (r *Run) ID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.routine.ID
}

// Step appends an event and persists the routine. Steps on a closed
// routine are dropped. Persistence failures are logged, not returned.
func (r *Run) Step(ctx context.Context, stepType string, fields map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.routine.Terminal() {
		r.rec.logger.Warn("routine step after close dropped",
			slog.String("routine_id", r.routine.ID),
			slog.String("step", stepType))
		return
	}
	r.routine.Steps = append(r.routine.Steps, datatypes.Step{
		Type:   stepType,
		At:     r.rec.now().UTC(),
		Fields: fields,
	})
	r.saveLocked(ctx)
}

// SetFiles records the paths the run created and updated.
func (r *Run) SetFiles(created, updated []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routine.CreatedFiles = slices.Clone(created)
	r.routine.UpdatedFiles = slices.Clone(updated)
}

// Steps returns a copy of the steps recorded so far.
func (r *Run) Steps() []datatypes.Step {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.routine.Steps)
}

// Close sets the terminal status and finish time exactly once.
func (r *Run) Close(ctx context.Context, status datatypes.RoutineStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.routine.Terminal() {
		return ErrRoutineClosed
	}
	if status != datatypes.RoutineSuccess {
		status = datatypes.RoutineError
	}
	finished := r.rec.now().UTC()
	r.routine.Status = status
	r.routine.FinishedAt = &finished
	return r.rec.store.SaveRoutine(ctx, r.routine)
}

// Fail records an error step and closes the routine with ERROR.
func (r *Run) Fail(ctx context.Context, err error) error {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	r.Step(ctx, "error", map[string]any{"message": msg})
	return r.Close(ctx, datatypes.RoutineError)
}

func (r *Run) saveLocked(ctx context.Context) {
	if err := r.rec.store.SaveRoutine(ctx, r.routine); err != nil {
		r.rec.logger.Warn("routine persist failed",
			slog.String("routine_id", r.routine.ID),
			slog.String("error", err.Error()))
	}
}
