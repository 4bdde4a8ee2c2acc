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
	"runtime/debug"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianForge/services/forge/observability"
)

var (
	// ErrQueueFull is returned by Submit when every slot is taken.
	ErrQueueFull = errors.New("code queue full")

	// ErrQueueClosed is returned by Submit after Stop.
	ErrQueueClosed = errors.New("code queue closed")
)

// Queue defaults.
const (
	DefaultQueueCapacity = 32
	DefaultWorkers       = 2
	DefaultTaskTimeout   = 3 * time.Minute
)

// TaskKind selects what a queued task runs.
type TaskKind string

const (
	// TaskCode runs the code phase. It is the zero value.
	TaskCode TaskKind = ""

	// TaskDeploy runs the deployment controller.
	TaskDeploy TaskKind = "deploy"
)

// Task is one detached code-phase or deployment run.
type Task struct {
	Kind        TaskKind
	ProjectID   string
	OwnerID     string
	Instruction string
	AutoDeploy  bool
	Enqueued    time.Time
}

// Handler executes a task.
type Handler func(ctx context.Context, t Task) error

// QueueConfig sizes the queue.
type QueueConfig struct {
	Capacity    int
	Workers     int
	TaskTimeout time.Duration
}

func (c QueueConfig) withDefaults() QueueConfig {
	if c.Capacity <= 0 {
		c.Capacity = DefaultQueueCapacity
	}
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	if c.TaskTimeout <= 0 {
		c.TaskTimeout = DefaultTaskTimeout
	}
	return c
}

// Queue runs code-phase tasks on a fixed worker pool.
//
// # Description
//
// Submit never blocks: a full buffer is reported as ErrQueueFull. Task
// contexts derive from the queue's root context, never from the request
// that scheduled them, so a finished HTTP request does not cancel its
// code phase. Stop cancels the root context.
//
// # Thread Safety
//
// Safe for concurrent use.
type Queue struct {
	cfg     QueueConfig
	handler Handler
	logger  *slog.Logger
	metrics *observability.Metrics

	tasks  chan Task
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewQueue starts cfg.Workers workers.
func NewQueue(cfg QueueConfig, handler Handler, logger *slog.Logger, metrics *observability.Metrics) *Queue {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		cfg:     cfg,
		handler: handler,
		logger:  logger,
		metrics: metrics,
		tasks:   make(chan Task, cfg.Capacity),
		ctx:     ctx,
		cancel:  cancel,
	}
	for i := 0; i < cfg.Workers; i++ {
		q.wg.Add(1)
		go q.worker(i)
	}
	return q
}

// Submit enqueues t without blocking.
func (q *Queue) Submit(t Task) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		q.metrics.RecordQueueRejected("closed")
		return ErrQueueClosed
	}
	if t.Enqueued.IsZero() {
		t.Enqueued = time.Now()
	}
	select {
	case q.tasks <- t:
		q.metrics.QueueChanged(len(q.tasks))
		return nil
	default:
		q.metrics.RecordQueueRejected("full")
		return ErrQueueFull
	}
}

// Len returns the number of waiting tasks.
func (q *Queue) Len() int {
	return len(q.tasks)
}

// Stop refuses new tasks, cancels running ones and waits for the workers
// until ctx ends. Tasks still buffered are dropped.
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	q.mu.Unlock()

	q.cancel()
	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		if n := len(q.tasks); n > 0 {
			q.logger.Warn("code queue stopped with pending tasks", slog.Int("dropped", n))
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for code workers: %w", ctx.Err())
	}
}

func (q *Queue) worker(id int) {
	defer q.wg.Done()
	for {
		select {
		case <-q.ctx.Done():
			return
		case t := <-q.tasks:
			q.metrics.QueueChanged(len(q.tasks))
			q.run(id, t)
		}
	}
}

func (q *Queue) run(worker int, t Task) {
	ctx, cancel := context.WithTimeout(q.ctx, q.cfg.TaskTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("code task panicked",
				slog.String("project_id", t.ProjectID),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
		}
	}()

	q.logger.Debug("code task started",
		slog.Int("worker", worker),
		slog.String("project_id", t.ProjectID),
		slog.Duration("waited", time.Since(t.Enqueued)))
	if err := q.handler(ctx, t); err != nil {
		q.logger.Error("code task failed",
			slog.String("project_id", t.ProjectID),
			slog.String("error", err.Error()))
	}
}
