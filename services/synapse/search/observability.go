// Copyright (C) 2025 The Synapse Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See <https://www.gnu.org/licenses/agpl-3.0.html> for the full license text.

package search

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/snaplab-dpss/synapse/services/synapse/ep"
)

const tracerName = "synapse.search"

// Tracer provides OpenTelemetry spans for search runs.
//
// Thread Safety: Safe for concurrent use.
type Tracer struct {
	tracer  trace.Tracer
	logger  *slog.Logger
	enabled bool
}

// NewTracer creates a tracer on the global tracer provider.
//
// Inputs:
//   - logger: Logger for run summaries. Nil means slog.Default().
//   - enabled: When false every span is a no-op.
//
// Outputs:
//   - *Tracer: Tracer instance.
func NewTracer(logger *slog.Logger, enabled bool) *Tracer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracer{
		tracer:  otel.Tracer(tracerName),
		logger:  logger,
		enabled: enabled,
	}
}

// StartRun starts the span covering a whole search.
func (t *Tracer) StartRun(ctx context.Context, h Heuristic, cfg Config) (context.Context, trace.Span) {
	if t == nil || !t.enabled {
		return ctx, noop.Span{}
	}
	return t.tracer.Start(ctx, "synapse.search.run",
		trace.WithAttributes(
			attribute.String("synapse.heuristic", h.Name),
			attribute.String("synapse.heuristic.metrics", h.Describe()),
			attribute.Bool("synapse.stop_on_first", cfg.StopOnFirstSolution),
			attribute.Int("synapse.workers", cfg.Workers),
			attribute.Int("synapse.budget.max_expansions", cfg.Budget.MaxExpansions),
			attribute.Int("synapse.budget.max_unfinished", cfg.Budget.MaxUnfinished),
			attribute.String("synapse.budget.time_limit", cfg.Budget.TimeLimit.String()),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// EndRun completes the run span.
func (t *Tracer) EndRun(span trace.Span, stats Stats, best Score, err error) {
	if span == nil {
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.SetAttributes(
		attribute.Int("synapse.result.expansions", stats.Expansions),
		attribute.Int("synapse.result.generated", stats.Generated),
		attribute.Int("synapse.result.finished", stats.Finished),
		attribute.Int("synapse.result.pruned", stats.Pruned),
		attribute.String("synapse.result.elapsed", stats.Elapsed.String()),
	)
	if best != nil {
		span.SetAttributes(attribute.Float64Slice("synapse.result.best_score", best))
	}
	span.End()
}

// StartExpand starts the span of one plan expansion.
func (t *Tracer) StartExpand(ctx context.Context, p *ep.Plan) (context.Context, trace.Span) {
	if t == nil || !t.enabled {
		return ctx, noop.Span{}
	}
	leaf := p.ActiveLeaf()
	return t.tracer.Start(ctx, "synapse.search.expand",
		trace.WithAttributes(
			attribute.Int("synapse.plan.size", p.Size()),
			attribute.Int("synapse.leaf.node", int(leaf.Next)),
			attribute.String("synapse.leaf.target", leaf.Target.String()),
		),
	)
}

// EndExpand completes an expansion span.
func (t *Tracer) EndExpand(span trace.Span, successors int) {
	if span == nil {
		return
	}
	span.SetAttributes(attribute.Int("synapse.expand.successors", successors))
	span.End()
}
