// Copyright (C) 2025 The Synapse Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See <https://www.gnu.org/licenses/agpl-3.0.html> for the full license text.

// Package search runs the best-first search over execution plans.
//
// The engine keeps two collections ordered by a Heuristic's Score: plans
// still being built and finished ones. A plan whose frontier is empty goes
// to the finished set as soon as it is produced, so beam pruning only ever
// drops unfinished plans. Each iteration pops the best unfinished plans and
// replaces them with every successor the module catalog produces. A popped
// plan is consumed and never expanded twice.
package search

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/snaplab-dpss/synapse/services/synapse/bdd"
	"github.com/snaplab-dpss/synapse/services/synapse/ep"
)

// ErrNoFeasiblePlan is returned when every unfinished plan ran out of
// candidates before any plan finished.
var ErrNoFeasiblePlan = errors.New("no feasible plan found")

// Expander produces the successors of an unfinished plan.
// *modules.Catalog implements it.
type Expander interface {
	Expand(p *ep.Plan) []*ep.Plan
}

// Config configures a search run.
type Config struct {
	// StopOnFirstSolution ends the run when the first plan finishes.
	StopOnFirstSolution bool `yaml:"stop_on_first_solution" json:"stop_on_first_solution"`

	// Workers is how many popped plans are expanded concurrently.
	// Values below 2 expand one plan per iteration.
	Workers int `yaml:"workers" json:"workers" validate:"gte=0,lte=256"`

	// DedupPlans drops successors whose module tree matches a plan already
	// seen in this run.
	DedupPlans bool `yaml:"dedup_plans" json:"dedup_plans"`

	Budget BudgetConfig `yaml:"budget" json:"budget"`
}

// DefaultConfig returns a sequential, unbounded configuration.
func DefaultConfig() Config {
	return Config{
		Workers: 1,
		Budget:  DefaultBudgetConfig(),
	}
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithTracer sets the OpenTelemetry tracer.
func WithTracer(tracer *Tracer) Option {
	return func(e *Engine) {
		e.tracer = tracer
	}
}

// Engine runs searches with a fixed expander, heuristic and configuration.
//
// Thread Safety: Search may be called concurrently; runs share nothing but
// the expander, which must be safe for concurrent use on distinct plans.
type Engine struct {
	expander  Expander
	heuristic Heuristic
	config    Config
	tracer    *Tracer
	logger    *slog.Logger
}

// NewEngine creates an engine.
//
// Inputs:
//   - expander: Successor generator, usually a *modules.Catalog.
//   - h: Ranking of plans. It must have at least one metric.
//   - config: Run configuration.
//   - opts: Optional configuration functions.
//
// Outputs:
//   - *Engine: Ready to use engine.
//
// It panics when h has no metrics.
func NewEngine(expander Expander, h Heuristic, config Config, opts ...Option) *Engine {
	if len(h.Metrics) == 0 {
		panic("search: heuristic " + h.Name + " has no metrics")
	}
	e := &Engine{
		expander:  expander,
		heuristic: h,
		config:    config,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Heuristic returns the engine's heuristic.
func (e *Engine) Heuristic() Heuristic { return e.heuristic }

// Stats summarizes a run.
type Stats struct {
	Expansions     int           `json:"expansions"`
	Generated      int           `json:"generated"`
	DeadEnds       int           `json:"dead_ends"`
	Duplicates     int           `json:"duplicates"`
	Pruned         int           `json:"pruned"`
	Finished       int           `json:"finished"`
	PeakUnfinished int           `json:"peak_unfinished"`
	Elapsed        time.Duration `json:"elapsed"`

	// StoppedBy is "exhausted", "first_solution", "budget" or "canceled".
	StoppedBy string `json:"stopped_by"`
}

// Report is the outcome of a run.
type Report struct {
	Heuristic string

	// Finished holds the finished plans, best first, with their Scores.
	Finished []*ep.Plan
	Scores   []Score

	Best      *ep.Plan
	BestScore Score

	Stats Stats
}

// Seed returns the empty plan translating trace on target.
//
// It panics when target is not configured in ctx.
func Seed(trace *bdd.BDD, ctx *ep.Context, target ep.TargetID) *ep.Plan {
	return ep.NewPlan(trace, ctx, target)
}

// Search explores plans from seed until no unfinished plan remains, the
// first solution is found (with StopOnFirstSolution), the budget runs out
// or ctx is canceled. Cancellation is observed between iterations.
//
// Inputs:
//   - ctx: Cancellation and tracing context.
//   - seed: The starting plan, consumed by the run.
//
// Outputs:
//   - *Report: Always non-nil, holding whatever finished.
//   - error: ErrNoFeasiblePlan when nothing finished after exhausting the
//     search, an error wrapping ErrBudgetExhausted when a limit stopped the
//     run before anything finished, or ctx.Err() on cancellation.
func (e *Engine) Search(ctx context.Context, seed *ep.Plan) (*Report, error) {
	budget := NewBudget(e.config.Budget)
	ctx, span := e.tracer.StartRun(ctx, e.heuristic, e.config)
	label := heuristicLabel(e.heuristic.Name)

	e.logger.Info("search started",
		slog.String("heuristic", e.heuristic.Name),
		slog.String("metrics", e.heuristic.Describe()),
		slog.Int("trace_nodes", seed.Trace().Size()),
		slog.Bool("stop_on_first", e.config.StopOnFirstSolution),
		slog.Int("workers", e.config.Workers),
	)

	run := &searchRun{
		engine: e,
		budget: budget,
		seen:   make(map[uint64]struct{}),
	}
	run.insert(seed, false)

	var stopErr error
	for run.unfinished.Len() > 0 && !run.solved {
		if err := ctx.Err(); err != nil {
			run.stats.StoppedBy, stopErr = "canceled", err
			break
		}
		if err := budget.Check(); err != nil {
			run.stats.StoppedBy, stopErr = "budget", err
			break
		}
		for _, succ := range e.expandBatch(ctx, run.popBatch(), budget) {
			if len(succ) == 0 {
				run.stats.DeadEnds++
			}
			for _, p := range succ {
				if run.solved {
					break
				}
				run.insert(p, true)
			}
		}
		if n := run.unfinished.Truncate(e.config.Budget.MaxUnfinished); n > 0 {
			run.stats.Pruned += n
			budget.RecordPruned(n)
		}
		run.stats.PeakUnfinished = max(run.stats.PeakUnfinished, run.unfinished.Len())
	}
	if run.solved {
		run.stats.StoppedBy = "first_solution"
	} else if run.stats.StoppedBy == "" {
		run.stats.StoppedBy = "exhausted"
	}

	report := run.report()
	var err error
	switch {
	case stopErr != nil && (errors.Is(stopErr, context.Canceled) || errors.Is(stopErr, context.DeadlineExceeded)):
		err = stopErr
	case len(report.Finished) > 0:
	case stopErr != nil:
		err = stopErr
	default:
		err = ErrNoFeasiblePlan
	}

	outcome := "ok"
	if err != nil {
		outcome = run.stats.StoppedBy
	}
	runsTotal.WithLabelValues(label, outcome).Inc()
	runDuration.WithLabelValues(label).Observe(report.Stats.Elapsed.Seconds())
	e.tracer.EndRun(span, report.Stats, report.BestScore, err)

	attrs := []any{
		slog.String("heuristic", e.heuristic.Name),
		slog.String("stopped_by", report.Stats.StoppedBy),
		slog.Int("expansions", report.Stats.Expansions),
		slog.Int("finished", report.Stats.Finished),
		slog.Int("pruned", report.Stats.Pruned),
		slog.Duration("elapsed", report.Stats.Elapsed),
	}
	if report.Best != nil {
		attrs = append(attrs,
			slog.String("best_score", report.BestScore.String()),
			slog.Float64("best_throughput_pps", report.Best.Context().Perf().Throughput()),
		)
	}
	if err != nil {
		e.logger.Warn("search ended without a plan", append(attrs, slog.String("error", err.Error()))...)
	} else {
		e.logger.Info("search completed", attrs...)
	}
	return report, err
}

// searchRun is the mutable state of one Search call. Only the goroutine
// running Search touches it.
type searchRun struct {
	engine     *Engine
	budget     *Budget
	unfinished collection
	finished   collection
	seen       map[uint64]struct{}
	stats      Stats

	// solved is set when StopOnFirstSolution is on and a plan finished.
	solved bool
}

func (r *searchRun) insert(p *ep.Plan, generated bool) {
	if r.engine.config.DedupPlans {
		fp := p.Fingerprint()
		if _, dup := r.seen[fp]; dup {
			r.stats.Duplicates++
			return
		}
		r.seen[fp] = struct{}{}
	}
	if generated {
		r.stats.Generated++
	}
	score := r.engine.heuristic.Score(p)
	if !p.Finished() {
		r.unfinished.Push(p, score)
		return
	}
	r.finished.Push(p, score)
	r.stats.Finished++
	if r.engine.config.StopOnFirstSolution {
		r.solved = true
	}
}

// popBatch pops up to Workers unfinished plans, fewer when the expansion
// budget is nearly spent.
func (r *searchRun) popBatch() []*ep.Plan {
	size := max(r.engine.config.Workers, 1)
	if left := r.budget.Remaining(); left >= 0 && left < size {
		size = max(left, 1)
	}
	batch := make([]*ep.Plan, 0, min(size, r.unfinished.Len()))
	for r.unfinished.Len() > 0 && len(batch) < size {
		batch = append(batch, r.unfinished.Pop().plan)
	}
	return batch
}

func (r *searchRun) report() *Report {
	r.stats.Expansions = int(r.budget.Expansions())
	r.stats.Elapsed = r.budget.Elapsed()
	rep := &Report{Heuristic: r.engine.heuristic.Name, Stats: r.stats}
	for _, it := range r.finished.items {
		rep.Finished = append(rep.Finished, it.plan)
		rep.Scores = append(rep.Scores, it.score)
	}
	if best, ok := r.finished.Peek(); ok {
		rep.Best, rep.BestScore = best.plan, best.score
	}
	return rep
}

// expandBatch expands every plan of batch, concurrently when configured.
// Results keep batch order so insertion is deterministic.
func (e *Engine) expandBatch(ctx context.Context, batch []*ep.Plan, budget *Budget) [][]*ep.Plan {
	results := make([][]*ep.Plan, len(batch))
	if len(batch) == 1 || e.config.Workers < 2 {
		for i, p := range batch {
			results[i] = e.expand(ctx, p, budget)
		}
		return results
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(e.config.Workers)
	for i, p := range batch {
		g.Go(func() error {
			results[i] = e.expand(gCtx, p, budget)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (e *Engine) expand(ctx context.Context, p *ep.Plan, budget *Budget) []*ep.Plan {
	ctx, span := e.tracer.StartExpand(ctx, p)
	succ := e.expander.Expand(p)
	budget.RecordExpansion()
	e.tracer.EndExpand(span, len(succ))

	expansionsTotal.WithLabelValues(heuristicLabel(e.heuristic.Name)).Inc()
	successorsPerExpansion.Observe(float64(len(succ)))
	leaf := p.ActiveLeaf()
	e.logger.DebugContext(ctx, "plan expanded",
		slog.Int("plan_size", p.Size()),
		slog.Int("node", int(leaf.Next)),
		slog.String("target", leaf.Target.String()),
		slog.Int("successors", len(succ)),
	)
	return succ
}
