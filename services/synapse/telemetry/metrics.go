// Copyright (C) 2025 The Synapse Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See <https://www.gnu.org/licenses/agpl-3.0.html> for the full license text.

package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/snaplab-dpss/synapse/services/synapse/search"
)

// Metrics holds the OTel instruments the CLI records per run.
//
// Thread Safety: Safe for concurrent use after creation.
type Metrics struct {
	// RunsTotal counts finished runs by heuristic and outcome.
	RunsTotal metric.Int64Counter

	// RunDuration records wall-clock run time.
	RunDuration metric.Float64Histogram

	// PlansFinished counts finished plans across runs.
	PlansFinished metric.Int64Counter

	// StoredPlans counts plans written to the store.
	StoredPlans metric.Int64Counter
}

// NewMetrics registers every instrument with meter.
//
// Example:
//
//	m, err := telemetry.NewMetrics(otel.Meter("synapse"))
//	if err != nil {
//	    return fmt.Errorf("create metrics: %w", err)
//	}
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.RunsTotal, err = meter.Int64Counter(
		"synapse_cli_runs_total",
		metric.WithDescription("Search runs started from the CLI"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create runs_total: %w", err)
	}

	m.RunDuration, err = meter.Float64Histogram(
		"synapse_cli_run_duration_seconds",
		metric.WithDescription("Search run duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300),
	)
	if err != nil {
		return nil, fmt.Errorf("create run_duration: %w", err)
	}

	m.PlansFinished, err = meter.Int64Counter(
		"synapse_cli_plans_finished_total",
		metric.WithDescription("Finished plans produced by search runs"),
		metric.WithUnit("{plan}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create plans_finished_total: %w", err)
	}

	m.StoredPlans, err = meter.Int64Counter(
		"synapse_cli_stored_plans_total",
		metric.WithDescription("Plans written to the plan store"),
		metric.WithUnit("{plan}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create stored_plans_total: %w", err)
	}

	return m, nil
}

// RecordRun records the outcome of one search run. A nil receiver is a
// no-op.
func (m *Metrics) RecordRun(ctx context.Context, heuristic string, stats search.Stats, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	attrs := metric.WithAttributes(
		attribute.String("heuristic", heuristic),
		attribute.String("outcome", outcome),
	)
	m.RunsTotal.Add(ctx, 1, attrs)
	m.RunDuration.Record(ctx, stats.Elapsed.Seconds(), attrs)
	m.PlansFinished.Add(ctx, int64(stats.Finished), metric.WithAttributes(attribute.String("heuristic", heuristic)))
}

// RecordStored records n plans written to the store.
func (m *Metrics) RecordStored(ctx context.Context, n int) {
	if m == nil {
		return
	}
	m.StoredPlans.Add(ctx, int64(n))
}
