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
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue_RunsTasks(t *testing.T) {
	var mu sync.Mutex
	var seen []string
	q := NewQueue(QueueConfig{Workers: 2}, func(ctx context.Context, task Task) error {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, task.ProjectID)
		return nil
	}, nil, nil)
	defer func() { _ = q.Stop(context.Background()) }()

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, q.Submit(Task{ProjectID: id}))
	}
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 3
	}, time.Second, 5*time.Millisecond)
	assert.ElementsMatch(t, []string{"a", "b", "c"}, seen)
}

func TestQueue_Backpressure(t *testing.T) {
	started := make(chan struct{})
	block := make(chan struct{})
	q := NewQueue(QueueConfig{Workers: 1, Capacity: 1}, func(ctx context.Context, task Task) error {
		if task.ProjectID == "first" {
			close(started)
		}
		<-block
		return nil
	}, nil, nil)

	require.NoError(t, q.Submit(Task{ProjectID: "first"}))
	<-started
	require.NoError(t, q.Submit(Task{ProjectID: "second"}))
	assert.ErrorIs(t, q.Submit(Task{ProjectID: "third"}), ErrQueueFull)
	assert.Equal(t, 1, q.Len())

	close(block)
	require.NoError(t, q.Stop(context.Background()))
	assert.ErrorIs(t, q.Submit(Task{ProjectID: "late"}), ErrQueueClosed)
}

func TestQueue_StopCancelsRunningTask(t *testing.T) {
	started := make(chan struct{})
	result := make(chan error, 1)
	q := NewQueue(QueueConfig{Workers: 1}, func(ctx context.Context, task Task) error {
		close(started)
		<-ctx.Done()
		result <- ctx.Err()
		return ctx.Err()
	}, nil, nil)

	require.NoError(t, q.Submit(Task{ProjectID: "p"}))
	<-started
	require.NoError(t, q.Stop(context.Background()))
	assert.ErrorIs(t, <-result, context.Canceled)
}

func TestQueue_TaskTimeout(t *testing.T) {
	result := make(chan error, 1)
	q := NewQueue(QueueConfig{Workers: 1, TaskTimeout: 10 * time.Millisecond}, func(ctx context.Context, task Task) error {
		<-ctx.Done()
		result <- ctx.Err()
		return nil
	}, nil, nil)
	defer func() { _ = q.Stop(context.Background()) }()

	require.NoError(t, q.Submit(Task{ProjectID: "p"}))
	select {
	case err := <-result:
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	case <-time.After(time.Second):
		t.Fatal("task was not timed out")
	}
}

func TestQueue_RecoversPanics(t *testing.T) {
	done := make(chan struct{})
	q := NewQueue(QueueConfig{Workers: 1}, func(ctx context.Context, task Task) error {
		if task.ProjectID == "boom" {
			panic("handler exploded")
		}
		close(done)
		return errors.New("logged only")
	}, nil, nil)
	defer func() { _ = q.Stop(context.Background()) }()

	require.NoError(t, q.Submit(Task{ProjectID: "boom"}))
	require.NoError(t, q.Submit(Task{ProjectID: "ok"}))
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not survive the panic")
	}
}

func TestQueue_StopHonoursDeadline(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	started := make(chan struct{})
	q := NewQueue(QueueConfig{Workers: 1}, func(ctx context.Context, task Task) error {
		close(started)
		<-block
		return nil
	}, nil, nil)

	require.NoError(t, q.Submit(Task{ProjectID: "stuck"}))
	<-started
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, q.Stop(ctx), context.DeadlineExceeded)
	assert.NoError(t, q.Stop(context.Background()))
}
