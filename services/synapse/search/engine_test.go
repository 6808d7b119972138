// Copyright (C) 2025 The Synapse Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See <https://www.gnu.org/licenses/agpl-3.0.html> for the full license text.

package search

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snaplab-dpss/synapse/services/synapse/bdd"
	"github.com/snaplab-dpss/synapse/services/synapse/ep"
	"github.com/snaplab-dpss/synapse/services/synapse/modules"
	"github.com/snaplab-dpss/synapse/services/synapse/profiler"
	"github.com/snaplab-dpss/synapse/services/synapse/tna"
)

const mapAddr = 0x2000

var (
	tofino0 = ep.MustParseTarget("tofino")
	ctrl0   = ep.MustParseTarget("controller")
)

// lookupTrace is Branch(ethertype == IPv4) -> {map_get -> Forward(1), Drop}.
func lookupTrace(t *testing.T) *bdd.BDD {
	t.Helper()
	b := bdd.NewBuilder(2).Init(bdd.Call{
		Function: bdd.FnMapAllocate,
		Args: map[string]bdd.Arg{
			bdd.ArgCapacity: {Expr: bdd.Const(8192, 32)},
			bdd.ArgKeySize:  {Expr: bdd.Const(4, 32)},
			bdd.ArgMapOut:   {Out: bdd.Const(mapAddr, 64)},
		},
	})
	fwd := b.Forward(bdd.Const(1, 16))
	lookup := b.Call(bdd.Call{
		Function: bdd.FnMapGet,
		Args: map[string]bdd.Arg{
			bdd.ArgMap: {Expr: bdd.Const(mapAddr, 64)},
			bdd.ArgKey: {In: bdd.Read(bdd.PacketSymbol, 26, 32)},
		},
	}, fwd, bdd.Symbol{Name: "map_has_this_key", Expr: bdd.Read("map_has_this_key", 0, 8)})
	drop := b.Drop()
	cond := bdd.Eq(bdd.Read(bdd.PacketSymbol, 12, 16), bdd.Const(0x0800, 16))
	trace, err := b.Build(b.Branch(cond, lookup, drop))
	require.NoError(t, err)
	return trace
}

func lookupSeed(t *testing.T, trace *bdd.BDD) *ep.Plan {
	t.Helper()
	ctx, err := ep.NewContext(profiler.Default(trace), ep.ContextConfig{
		Targets: []ep.TargetID{tofino0, ctrl0},
		Tofino:  tna.DefaultProperties(),
		Seed:    7,
	})
	require.NoError(t, err)
	return Seed(trace, ctx, tofino0)
}

func newEngine(t *testing.T, exp Expander, preset string, cfg Config) *Engine {
	t.Helper()
	h, err := Preset(preset)
	require.NoError(t, err)
	return NewEngine(exp, h, cfg)
}

// stubExpander counts expansions and delegates to fn.
type stubExpander struct {
	calls int
	fn    func(p *ep.Plan) []*ep.Plan
}

func (s *stubExpander) Expand(p *ep.Plan) []*ep.Plan {
	s.calls++
	return s.fn(p)
}

func TestSearch_EndToEnd(t *testing.T) {
	trace := lookupTrace(t)
	cat := modules.NewCatalog(trace, modules.DefaultOptions())
	engine := newEngine(t, cat, "greedy-throughput", DefaultConfig())

	report, err := engine.Search(context.Background(), lookupSeed(t, trace))
	require.NoError(t, err)
	require.NotNil(t, report.Best)
	require.NotEmpty(t, report.Finished)
	assert.Equal(t, "exhausted", report.Stats.StoppedBy)
	assert.Equal(t, len(report.Finished), report.Stats.Finished)
	for i := 1; i < len(report.Scores); i++ {
		assert.False(t, report.Scores[i-1].Less(report.Scores[i]), "finished plans are best first")
	}

	best := report.Best
	assert.True(t, best.Finished())

	forks, forwards, drops := 0, 0, 0
	var lookups []ep.Module
	for _, m := range best.Modules() {
		switch m.Type.Kind {
		case ep.KindIf, ep.KindParserCondition:
			forks++
		case ep.KindForward:
			forwards++
		case ep.KindDrop:
			drops++
		}
		if m.Args.HasObject && m.Args.Object == mapAddr {
			lookups = append(lookups, m)
		}
	}
	assert.Equal(t, 1, forks)
	assert.Equal(t, 1, forwards)
	assert.Equal(t, 1, drops)

	ledger := best.Context().Ledger()
	require.Len(t, ledger, 1)
	assert.Equal(t, uint64(mapAddr), ledger[0].Object)
	require.Len(t, lookups, 1)
	assert.Equal(t, ledger[0].Impl, lookups[0].Args.Impl)

	// Staying on the switch beats any controller detour.
	assert.Zero(t, best.Context().Perf().Load[ep.TargetController])
	assert.InDelta(t, ep.DefaultPerfModel().TofinoPPS, best.Context().Perf().Throughput(), 1)
}

func TestSearch_StopOnFirstSolution(t *testing.T) {
	trace := lookupTrace(t)
	cat := modules.NewCatalog(trace, modules.DefaultOptions())

	full, err := newEngine(t, cat, "greedy-throughput", DefaultConfig()).Search(context.Background(), lookupSeed(t, trace))
	require.NoError(t, err)
	require.Greater(t, len(full.Finished), 1)

	cfg := DefaultConfig()
	cfg.StopOnFirstSolution = true
	first, err := newEngine(t, cat, "greedy-throughput", cfg).Search(context.Background(), lookupSeed(t, trace))
	require.NoError(t, err)

	assert.Len(t, first.Finished, 1)
	assert.Equal(t, 1, first.Stats.Finished)
	assert.Equal(t, "first_solution", first.Stats.StoppedBy)
	assert.Less(t, first.Stats.Expansions, full.Stats.Expansions)
	assert.True(t, first.Best.Finished())
}

func TestSearch_ParallelMatchesSequential(t *testing.T) {
	trace := lookupTrace(t)
	cat := modules.NewCatalog(trace, modules.DefaultOptions())

	seq, err := newEngine(t, cat, "max-throughput", DefaultConfig()).Search(context.Background(), lookupSeed(t, trace))
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.Workers = 4
	par, err := newEngine(t, cat, "max-throughput", cfg).Search(context.Background(), lookupSeed(t, trace))
	require.NoError(t, err)

	assert.Equal(t, seq.BestScore, par.BestScore)
	assert.Equal(t, seq.Stats.Finished, par.Stats.Finished)
	assert.Equal(t, seq.Stats.Expansions, par.Stats.Expansions)
}

func TestSearch_NoFeasiblePlan(t *testing.T) {
	trace := lookupTrace(t)
	stub := &stubExpander{fn: func(*ep.Plan) []*ep.Plan { return nil }}

	report, err := newEngine(t, stub, "bfs", DefaultConfig()).Search(context.Background(), lookupSeed(t, trace))
	assert.ErrorIs(t, err, ErrNoFeasiblePlan)
	require.NotNil(t, report)
	assert.Nil(t, report.Best)
	assert.Equal(t, 1, report.Stats.DeadEnds)
	assert.Equal(t, 1, stub.calls)
}

func TestSearch_BudgetStopsRun(t *testing.T) {
	trace := lookupTrace(t)
	stub := &stubExpander{fn: func(p *ep.Plan) []*ep.Plan {
		next := p.Clone()
		m := ep.NewModule(ep.KindIgnore, next.ActiveLeaf().Target, bdd.NoNode)
		next.ProcessLeaf(m, ep.Branch{Next: next.ActiveLeaf().Next, Target: next.ActiveLeaf().Target})
		return []*ep.Plan{next}
	}}
	cfg := DefaultConfig()
	cfg.Budget.MaxExpansions = 3

	report, err := newEngine(t, stub, "dfs", cfg).Search(context.Background(), lookupSeed(t, trace))
	assert.ErrorIs(t, err, ErrBudgetExhausted)
	assert.Equal(t, "budget", report.Stats.StoppedBy)
	assert.Equal(t, 3, report.Stats.Expansions)
	assert.Equal(t, 3, stub.calls)
}

func TestSearch_DedupPlans(t *testing.T) {
	trace := lookupTrace(t)
	stub := &stubExpander{fn: func(p *ep.Plan) []*ep.Plan {
		return []*ep.Plan{p.Clone(), p.Clone()}
	}}
	cfg := DefaultConfig()
	cfg.DedupPlans = true

	report, err := newEngine(t, stub, "bfs", cfg).Search(context.Background(), lookupSeed(t, trace))
	assert.ErrorIs(t, err, ErrNoFeasiblePlan)
	assert.Equal(t, 2, report.Stats.Duplicates)
	assert.Equal(t, 0, report.Stats.Generated)
}

func TestSearch_BeamWidth(t *testing.T) {
	trace := lookupTrace(t)
	cat := modules.NewCatalog(trace, modules.DefaultOptions())
	cfg := DefaultConfig()
	cfg.Budget.MaxUnfinished = 1

	report, err := newEngine(t, cat, "greedy-throughput", cfg).Search(context.Background(), lookupSeed(t, trace))
	require.NoError(t, err)
	assert.Positive(t, report.Stats.Pruned)
	assert.LessOrEqual(t, report.Stats.PeakUnfinished, 1)
}

func TestSearch_BeamKeepsFinishedPlans(t *testing.T) {
	trace := lookupTrace(t)
	stub := &stubExpander{fn: func(p *ep.Plan) []*ep.Plan {
		if p.Size() > 0 {
			return nil
		}
		leaf := p.ActiveLeaf()

		done := p.Clone()
		done.ProcessLeaf(ep.NewModule(ep.KindDrop, leaf.Target, leaf.Next))

		deeper := p.Clone()
		for i := 0; i < 2; i++ {
			m := ep.NewModule(ep.KindIgnore, leaf.Target, bdd.NoNode)
			deeper.ProcessLeaf(m, ep.Branch{Next: leaf.Next, Target: leaf.Target})
		}
		return []*ep.Plan{done, deeper}
	}}
	cfg := DefaultConfig()
	cfg.Budget.MaxUnfinished = 1

	report, err := newEngine(t, stub, "dfs", cfg).Search(context.Background(), lookupSeed(t, trace))
	require.NoError(t, err)
	require.NotNil(t, report.Best)
	assert.True(t, report.Best.Finished())
	assert.Equal(t, 1, report.Stats.Finished)
	assert.Zero(t, report.Stats.Pruned)
	assert.Equal(t, 1, report.Stats.DeadEnds)
	assert.Equal(t, 2, stub.calls)
}

func TestSearch_Canceled(t *testing.T) {
	trace := lookupTrace(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	stub := &stubExpander{fn: func(*ep.Plan) []*ep.Plan { return nil }}

	report, err := newEngine(t, stub, "bfs", DefaultConfig()).Search(ctx, lookupSeed(t, trace))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, "canceled", report.Stats.StoppedBy)
	assert.Zero(t, stub.calls)
}

func TestNewEngine_EmptyHeuristicPanics(t *testing.T) {
	assert.Panics(t, func() { NewEngine(&stubExpander{}, Heuristic{Name: "empty"}, DefaultConfig()) })
}
