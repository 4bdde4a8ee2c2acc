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
	"sync"

	"golang.org/x/sync/semaphore"
)

// ProjectLocks serializes generation per project.
//
// # Description
//
// Each project gets a weight-1 semaphore. Acquire waits until the
// project is free or ctx ends. Entries are dropped once no goroutine
// holds or waits on them.
//
// # Thread Safety
//
// Safe for concurrent use.
type ProjectLocks struct {
	mu    sync.Mutex
	locks map[string]*projectLock
}

type projectLock struct {
	sem  *semaphore.Weighted
	refs int
}

// NewProjectLocks creates an empty lock table.
func NewProjectLocks() *ProjectLocks {
	return &ProjectLocks{locks: make(map[string]*projectLock)}
}

// Acquire blocks until the project lock is held. The returned release
// function is idempotent.
func (l *ProjectLocks) Acquire(ctx context.Context, projectID string) (func(), error) {
	l.mu.Lock()
	pl, ok := l.locks[projectID]
	if !ok {
		pl = &projectLock{sem: semaphore.NewWeighted(1)}
		l.locks[projectID] = pl
	}
	pl.refs++
	l.mu.Unlock()

	if err := pl.sem.Acquire(ctx, 1); err != nil {
		l.unref(projectID, pl)
		return nil, err
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			pl.sem.Release(1)
			l.unref(projectID, pl)
		})
	}, nil
}

func (l *ProjectLocks) unref(projectID string, pl *projectLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	pl.refs--
	if pl.refs == 0 && l.locks[projectID] == pl {
		delete(l.locks, projectID)
	}
}

// Len returns the number of projects with a holder or waiter.
func (l *ProjectLocks) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
