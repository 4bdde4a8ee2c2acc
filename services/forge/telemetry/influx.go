// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/AleutianAI/AleutianForge/pkg/secrets"
	"github.com/AleutianAI/AleutianForge/services/forge/datatypes"
	"github.com/AleutianAI/AleutianForge/services/forge/deploy"
)

// DeploymentMeasurement is the InfluxDB measurement of deployment attempts.
const DeploymentMeasurement = "forge_deployment"

// InfluxConfig locates the InfluxDB bucket.
type InfluxConfig struct {
	URL    string
	Token  *secrets.Secret
	Org    string
	Bucket string
}

// InfluxSink writes one point per deployment attempt.
//
// # Description
//
// Points carry the project, owner, attempt and state as tags and the log
// excerpt length and readiness as fields. Write failures are logged and
// never fail the deployment.
//
// # Thread Safety
//
// Safe for concurrent use.
type InfluxSink struct {
	client influxdb2.Client
	writer api.WriteAPIBlocking
	logger *slog.Logger
}

// NewInfluxSink connects to InfluxDB. The token is revealed once because
// the client keeps it for every request.
func NewInfluxSink(cfg InfluxConfig, logger *slog.Logger) (*InfluxSink, error) {
	if cfg.URL == "" || cfg.Org == "" || cfg.Bucket == "" {
		return nil, errors.New("influx url, org and bucket are required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	token := ""
	if !cfg.Token.Empty() {
		var err error
		if token, err = cfg.Token.Reveal(); err != nil {
			return nil, fmt.Errorf("open influx token: %w", err)
		}
	}
	client := influxdb2.NewClient(cfg.URL, token)
	return &InfluxSink{
		client: client,
		writer: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		logger: logger,
	}, nil
}

// Ping reports whether the server is healthy.
func (s *InfluxSink) Ping(ctx context.Context) error {
	health, err := s.client.Health(ctx)
	if err != nil {
		return fmt.Errorf("influx health: %w", err)
	}
	if health.Status != "pass" {
		return fmt.Errorf("influx health: status %s", health.Status)
	}
	return nil
}

// RecordAttempt implements deploy.AttemptSink.
func (s *InfluxSink) RecordAttempt(ctx context.Context, ownerID string, d *datatypes.Deployment) {
	p := influxdb2.NewPoint(DeploymentMeasurement,
		map[string]string{
			"project_id": d.ProjectID,
			"owner_id":   ownerID,
			"state":      string(d.State),
			"attempt":    strconv.Itoa(d.Attempt),
		},
		map[string]interface{}{
			"ready":       d.State == datatypes.DeploymentReady,
			"log_excerpt": len(d.BuildLogExcerpt),
			"has_url":     d.URL != "",
		},
		d.CreatedAt,
	)
	if err := s.writer.WritePoint(ctx, p); err != nil {
		s.logger.Warn("influx write failed",
			slog.String("project_id", d.ProjectID),
			slog.String("error", err.Error()))
	}
}

// Close releases the client.
func (s *InfluxSink) Close() {
	s.client.Close()
}

// Nop discards attempts.
type Nop struct{}

// RecordAttempt implements deploy.AttemptSink.
func (Nop) RecordAttempt(context.Context, string, *datatypes.Deployment) {}

var (
	_ deploy.AttemptSink = (*InfluxSink)(nil)
	_ deploy.AttemptSink = Nop{}
)
