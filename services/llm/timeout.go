// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
)

// DefaultCallTimeout bounds one completion call.
const DefaultCallTimeout = 25 * time.Second

var (
	tracer = otel.Tracer("aleutian.forge.llm")
	meter  = otel.Meter("aleutian.forge.llm")
)

type timeoutClient struct {
	inner   Client
	timeout time.Duration
	latency metric.Float64Histogram
}

// WithTimeout bounds every call of inner by d and records a span and a
// latency histogram per call. d <= 0 uses DefaultCallTimeout.
//
// A call that runs out of time returns an error wrapping ErrTimeout.
func WithTimeout(inner Client, d time.Duration) Client {
	if d <= 0 {
		d = DefaultCallTimeout
	}
	hist, err := meter.Float64Histogram("forge.llm.completion.duration",
		metric.WithDescription("Completion call latency"),
		metric.WithUnit("s"))
	if err != nil {
		slog.Warn("Failed to create completion latency histogram", "error", err)
	}
	return &timeoutClient{inner: inner, timeout: d, latency: hist}
}

func (t *timeoutClient) Name() string { return t.inner.Name() }

func (t *timeoutClient) Complete(ctx context.Context, req Request) (*Completion, error) {
	ctx, span := tracer.Start(ctx, "llm.Complete")
	defer span.End()
	span.SetAttributes(
		attribute.String("llm.backend", t.inner.Name()),
		attribute.Int("llm.num_messages", len(req.Messages)),
	)

	callCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	start := time.Now()
	c, err := t.inner.Complete(callCtx, req)
	timedOut := errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil
	if t.latency != nil {
		t.latency.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(
			attribute.String("llm.backend", t.inner.Name()),
			attribute.Bool("llm.timeout", timedOut),
		))
	}

	if timedOut {
		err = fmt.Errorf("%s after %s: %w", t.inner.Name(), t.timeout, ErrTimeout)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Bool("llm.usable", Usable(c)))
	return c, nil
}
