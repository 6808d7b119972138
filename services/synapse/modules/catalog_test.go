// Copyright (C) 2025 The Synapse Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See <https://www.gnu.org/licenses/agpl-3.0.html> for the full license text.

package modules

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snaplab-dpss/synapse/services/synapse/bdd"
	"github.com/snaplab-dpss/synapse/services/synapse/ep"
	"github.com/snaplab-dpss/synapse/services/synapse/profiler"
	"github.com/snaplab-dpss/synapse/services/synapse/tna"
)

const mapAddr = 0x1000

var (
	tofino0 = ep.MustParseTarget("tofino:0")
	ctrl0   = ep.MustParseTarget("controller:0")
	x860    = ep.MustParseTarget("x86:0")
)

func mapAllocate(capacity uint64) bdd.Call {
	return bdd.Call{
		Function: bdd.FnMapAllocate,
		Args: map[string]bdd.Arg{
			bdd.ArgCapacity: {Expr: bdd.Const(capacity, 32)},
			bdd.ArgKeySize:  {Expr: bdd.Const(4, 32)},
			bdd.ArgMapOut:   {Out: bdd.Const(mapAddr, 64)},
		},
	}
}

func mapCall(fn string) bdd.Call {
	return bdd.Call{
		Function: fn,
		Args: map[string]bdd.Arg{
			bdd.ArgMap: {Expr: bdd.Const(mapAddr, 64)},
			bdd.ArgKey: {In: bdd.Read(bdd.PacketSymbol, 26, 32)},
		},
	}
}

// callsTrace chains the given map calls and ends in Drop.
func callsTrace(t *testing.T, capacity uint64, fns ...string) *bdd.BDD {
	t.Helper()
	b := bdd.NewBuilder(2).Init(mapAllocate(capacity))
	next := b.Drop()
	for i := len(fns) - 1; i >= 0; i-- {
		next = b.Call(mapCall(fns[i]), next, bdd.Symbol{Name: "map_has_this_key", Expr: bdd.Read("map_has_this_key", 0, 8)})
	}
	trace, err := b.Build(next)
	require.NoError(t, err)
	return trace
}

func branchTrace(t *testing.T) *bdd.BDD {
	t.Helper()
	b := bdd.NewBuilder(2)
	fwd := b.Forward(bdd.Const(1, 16))
	drop := b.Drop()
	cond := bdd.Eq(bdd.Read(bdd.PacketSymbol, 12, 16), bdd.Const(0x0800, 16))
	trace, err := b.Build(b.Branch(cond, fwd, drop))
	require.NoError(t, err)
	return trace
}

func seed(t *testing.T, trace *bdd.BDD, cfg ep.ContextConfig, start ep.TargetID) *ep.Plan {
	t.Helper()
	if cfg.Tofino.Stages == 0 {
		cfg.Tofino = tna.DefaultProperties()
	}
	ctx, err := ep.NewContext(profiler.Default(trace), cfg)
	require.NoError(t, err)
	return ep.NewPlan(trace, ctx, start)
}

func factory(t *testing.T, c *Catalog, target ep.TargetType, kind ep.ModuleKind) Factory {
	t.Helper()
	f, ok := c.Factory(ep.ModuleType{Target: target, Kind: kind})
	require.True(t, ok, "no factory for %s %s", target, kind)
	return f
}

// kinds returns the module each successor of parent appended first.
func kinds(parent *ep.Plan, plans []*ep.Plan) []ep.ModuleKind {
	var out []ep.ModuleKind
	for _, p := range plans {
		out = append(out, p.Module(ep.PlanNodeID(parent.Size())).Type.Kind)
	}
	return out
}

func TestCatalog_EveryKindHasATarget(t *testing.T) {
	registered := make(map[ep.ModuleKind]bool)
	for mt := range table {
		registered[mt.Kind] = true
	}
	for _, k := range ep.ModuleKinds() {
		switch k {
		case ep.KindThen, ep.KindElse:
			continue
		}
		assert.True(t, registered[k], "kind %s has no factory", k)
	}
}

func TestSpeculate_Idempotent(t *testing.T) {
	trace := callsTrace(t, 1024, bdd.FnMapGet)
	cat := NewCatalog(trace, DefaultOptions())
	plan := seed(t, trace, ep.ContextConfig{Targets: []ep.TargetID{tofino0, ctrl0}}, tofino0)
	before := plan.Snapshot()

	first := cat.Speculate(plan)
	second := cat.Speculate(plan)
	require.NotEmpty(t, first)
	require.Len(t, second, len(first))
	for i := range first {
		assert.Equal(t, first[i].Module, second[i].Module)
		assert.Equal(t, first[i].Impl, second[i].Impl)
		assert.Equal(t, first[i].Fresh, second[i].Fresh)
	}
	assert.Equal(t, before, plan.Snapshot())

	succ := cat.Expand(plan)
	assert.Len(t, succ, len(first))
	assert.Equal(t, before, plan.Snapshot())
}

func TestExpand_FinishedPlanPanics(t *testing.T) {
	trace := callsTrace(t, 1024)
	cat := NewCatalog(trace, DefaultOptions())
	plan := seed(t, trace, ep.ContextConfig{Targets: []ep.TargetID{tofino0}}, tofino0)

	succ := cat.Expand(plan)
	require.NotEmpty(t, succ)
	plan = succ[0]
	require.True(t, plan.Finished())
	assert.Empty(t, cat.Speculate(plan))
	assert.Panics(t, func() { cat.Expand(plan) })
}

func TestSpeculate_ReadOnlyMapOptions(t *testing.T) {
	trace := callsTrace(t, 1024, bdd.FnMapGet)
	cat := NewCatalog(trace, DefaultOptions())
	plan := seed(t, trace, ep.ContextConfig{Targets: []ep.TargetID{tofino0, ctrl0}}, tofino0)

	got := kinds(plan, cat.Expand(plan))
	assert.ElementsMatch(t, []ep.ModuleKind{ep.KindSendToController, ep.KindSimpleTableLookup, ep.KindHHTableRead}, got)
}

func TestSpeculate_WrittenMapOptions(t *testing.T) {
	trace := callsTrace(t, 1024, bdd.FnMapGet, bdd.FnMapPut)
	cat := NewCatalog(trace, DefaultOptions())
	plan := seed(t, trace, ep.ContextConfig{Targets: []ep.TargetID{tofino0}}, tofino0)

	got := kinds(plan, cat.Expand(plan))
	assert.ElementsMatch(t, []ep.ModuleKind{
		ep.KindGuardedMapTableLookup,
		ep.KindFCFSCachedTableRead,
		ep.KindCuckooHashTableRead,
	}, got)
}

func TestSpeculate_InfeasiblePlacementYieldsNothing(t *testing.T) {
	trace := callsTrace(t, 1<<30, bdd.FnMapGet)
	cat := NewCatalog(trace, DefaultOptions())
	plan := seed(t, trace, ep.ContextConfig{Targets: []ep.TargetID{tofino0}}, tofino0)

	f := factory(t, cat, ep.TargetTofino, ep.KindSimpleTableLookup)
	assert.Empty(t, f.Speculate(plan))
	assert.Empty(t, f.Process(plan))
	_, ok := f.Create(plan)
	assert.False(t, ok)
}

func TestProcess_CommitsLedgerAndPlacement(t *testing.T) {
	trace := callsTrace(t, 1024, bdd.FnMapGet)
	cat := NewCatalog(trace, DefaultOptions())
	plan := seed(t, trace, ep.ContextConfig{Targets: []ep.TargetID{tofino0, ctrl0}}, tofino0)

	f := factory(t, cat, ep.TargetTofino, ep.KindSimpleTableLookup)
	succ := f.Process(plan)
	require.Len(t, succ, 1)
	next := succ[0]

	impl, ok := next.Context().Impl(mapAddr)
	require.True(t, ok)
	assert.Equal(t, ep.ImplTofinoTable, impl)
	id := ep.DSName(tna.KindTable, mapAddr)
	_, placed := next.Context().Tofino(tofino0).Pipeline().Placement(id)
	assert.True(t, placed)
	assert.Equal(t, []tna.DSID{id}, next.Module(0).Args.DS)

	_, bound := plan.Context().Impl(mapAddr)
	assert.False(t, bound)
}

func TestSpeculate_OneAccessPerPass(t *testing.T) {
	trace := callsTrace(t, 1024, bdd.FnMapGet, bdd.FnMapGet)
	cat := NewCatalog(trace, DefaultOptions())
	plan := seed(t, trace, ep.ContextConfig{Targets: []ep.TargetID{tofino0}}, tofino0)

	lookup := factory(t, cat, ep.TargetTofino, ep.KindSimpleTableLookup)
	recirc := factory(t, cat, ep.TargetTofino, ep.KindRecirculate)

	assert.Empty(t, recirc.Speculate(plan))
	succ := lookup.Process(plan)
	require.Len(t, succ, 1)
	plan = succ[0]

	assert.Empty(t, lookup.Speculate(plan))
	succ = recirc.Process(plan)
	require.Len(t, succ, 1)
	plan = succ[0]
	assert.Equal(t, 1, plan.Module(1).Args.Pass)
	assert.Greater(t, plan.Context().Perf().Recirculation, 0.0)

	specs := lookup.Speculate(plan)
	require.Len(t, specs, 1)
	assert.False(t, specs[0].Fresh)
}

func TestProcess_FCFSWriteFansOutToController(t *testing.T) {
	trace := callsTrace(t, 1024, bdd.FnMapPut)
	cat := NewCatalog(trace, DefaultOptions())
	plan := seed(t, trace, ep.ContextConfig{Targets: []ep.TargetID{tofino0, ctrl0}}, tofino0)
	put := plan.ActiveLeaf().Next

	succ := factory(t, cat, ep.TargetTofino, ep.KindFCFSCachedTableWrite).Process(plan)
	require.Len(t, succ, 1)
	plan = succ[0]

	leaves := plan.Leaves()
	require.Len(t, leaves, 2)
	assert.Equal(t, tofino0, leaves[0].Target)
	assert.Equal(t, trace.Node(put).Next, leaves[0].Next)
	assert.Equal(t, ctrl0, leaves[1].Target)
	assert.Equal(t, put, leaves[1].Next)
	assert.InDelta(t, profiler.DefaultMissRate, plan.Context().Perf().Load[ep.TargetController], 1e-9)

	// Finish the switch path, then the controller must go through the switch
	// structure the ledger chose.
	plan = factory(t, cat, ep.TargetTofino, ep.KindDrop).Process(plan)[0]
	require.Equal(t, ctrl0, plan.ActiveLeaf().Target)
	assert.Empty(t, factory(t, cat, ep.TargetController, ep.KindMapPut).Speculate(plan))
	specs := factory(t, cat, ep.TargetController, ep.KindDataplaneTableUpdate).Speculate(plan)
	require.Len(t, specs, 1)
	assert.Equal(t, []tna.DSID{ep.DSName(tna.KindFCFSCachedTable, mapAddr)}, specs[0].Module.Args.DS)
}

func TestSpeculate_BranchOnSwitch(t *testing.T) {
	trace := branchTrace(t)
	cat := NewCatalog(trace, DefaultOptions())
	plan := seed(t, trace, ep.ContextConfig{Targets: []ep.TargetID{tofino0, ctrl0}}, tofino0)

	got := kinds(plan, cat.Expand(plan))
	assert.ElementsMatch(t, []ep.ModuleKind{ep.KindIf, ep.KindParserCondition, ep.KindSendToController}, got)

	succ := factory(t, cat, ep.TargetTofino, ep.KindParserCondition).Process(plan)
	require.Len(t, succ, 1)
	selects := succ[0].Context().Tofino(tofino0).Pipeline().Parser().Selects()
	require.Len(t, selects, 1)
	assert.Equal(t, trace.Root(), selects[0].Node)
}

func TestSpeculate_HostMemoryLimit(t *testing.T) {
	trace := callsTrace(t, 1024, bdd.FnMapGet)
	cat := NewCatalog(trace, DefaultOptions())

	roomy := seed(t, trace, ep.ContextConfig{Targets: []ep.TargetID{x860}}, x860)
	succ := factory(t, cat, ep.TargetX86, ep.KindMapGet).Process(roomy)
	require.Len(t, succ, 1)
	assert.True(t, succ[0].Context().Host(x860).Has(mapAddr))

	tight := seed(t, trace, ep.ContextConfig{Targets: []ep.TargetID{x860}, HostMemoryBytes: 16}, x860)
	assert.Empty(t, factory(t, cat, ep.TargetX86, ep.KindMapGet).Speculate(tight))
}

func TestCatalog_Disabled(t *testing.T) {
	trace := branchTrace(t)
	cat := NewCatalog(trace, Options{Disabled: []string{"TofinoParserCondition"}})
	_, ok := cat.Factory(ep.ModuleType{Target: ep.TargetTofino, Kind: ep.KindParserCondition})
	assert.False(t, ok)
	_, ok = cat.Factory(ep.ModuleType{Target: ep.TargetTofino, Kind: ep.KindIf})
	assert.True(t, ok)
}

func TestSpeculate_ParserExtractionOffsets(t *testing.T) {
	b := bdd.NewBuilder(1)
	borrow := func(length uint64, next bdd.NodeID) bdd.NodeID {
		return b.Call(bdd.Call{
			Function: bdd.FnPacketBorrowNextChunk,
			Args: map[string]bdd.Arg{
				bdd.ArgLength: {Expr: bdd.Const(length, 32)},
				bdd.ArgChunk:  {Out: bdd.Read(bdd.PacketSymbol, 0, uint(length*8))},
			},
		}, next)
	}
	drop := b.Drop()
	ip := borrow(20, drop)
	eth := borrow(14, ip)
	trace, err := b.Build(eth)
	require.NoError(t, err)

	cat := NewCatalog(trace, DefaultOptions())
	plan := seed(t, trace, ep.ContextConfig{Targets: []ep.TargetID{tofino0}}, tofino0)
	extract := factory(t, cat, ep.TargetTofino, ep.KindParserExtraction)

	plan = extract.Process(plan)[0]
	plan = extract.Process(plan)[0]
	assert.Equal(t, uint(14), plan.Module(1).Args.Offset)
	headers := plan.Context().Tofino(tofino0).Pipeline().Parser().Headers()
	require.Len(t, headers, 2)
	assert.Equal(t, uint(20), headers[1].Bytes)

	small := tna.DefaultProperties()
	small.PHVBits = 100
	tight := seed(t, trace, ep.ContextConfig{Targets: []ep.TargetID{tofino0}, Tofino: small}, tofino0)
	assert.Empty(t, extract.Speculate(tight))
}
