// Copyright (C) 2025 The Synapse Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See <https://www.gnu.org/licenses/agpl-3.0.html> for the full license text.

package modules

import (
	"fmt"
	"slices"

	"github.com/snaplab-dpss/synapse/services/synapse/bdd"
	"github.com/snaplab-dpss/synapse/services/synapse/ep"
	"github.com/snaplab-dpss/synapse/services/synapse/tna"
)

func init() {
	t := ep.TargetTofino
	register(t, ep.KindParserCondition, specParserCondition)
	register(t, ep.KindParserExtraction, specParserExtraction)
	register(t, ep.KindHashObj, specTofinoHash)
	register(t, ep.KindSendToController, specSendToController)
	register(t, ep.KindRecirculate, specRecirculate)
	for _, op := range switchOps {
		register(t, op.kind, specSwitch(op))
	}
}

// =============================================================================
// Parser
// =============================================================================

var parserKinds = map[ep.ModuleKind]bool{
	ep.KindParserExtraction: true,
	ep.KindParserCondition:  true,
	ep.KindThen:             true,
	ep.KindElse:             true,
	ep.KindIgnore:           true,
}

// parserOnly reports whether every module above leaf on its target is a
// parser operation, so the node can still be handled by the parser.
func parserOnly(p *ep.Plan, leaf ep.Leaf) bool {
	for _, id := range p.Ancestors(leaf) {
		m := p.Module(id)
		if m.Target == leaf.Target && !parserKinds[m.Type.Kind] {
			return false
		}
	}
	return true
}

func specParserCondition(c *Catalog, p *ep.Plan, leaf ep.Leaf, node *bdd.Node) []Speculation {
	if node.Kind != bdd.KindBranch || !node.Condition.OnlyReads(bdd.PacketSymbol) || !parserOnly(p, leaf) {
		return nil
	}
	m := ep.NewModule(ep.KindParserCondition, leaf.Target, node.ID)
	m.Args.Condition = node.Condition
	return []Speculation{{
		Module:     m,
		NextTarget: leaf.Target,
		apply: func(p *ep.Plan, leaf ep.Leaf) bool {
			p.Context().Tofino(leaf.Target).Pipeline().Parser().AddSelect(node.ID, node.Condition)
			p.ProcessLeaf(m.Clone(), thenElse(leaf.Target, node)...)
			return true
		},
	}}
}

func specParserExtraction(c *Catalog, p *ep.Plan, leaf ep.Leaf, node *bdd.Node) []Speculation {
	if node.Kind != bdd.KindCall || node.Call.Function != bdd.FnPacketBorrowNextChunk {
		return nil
	}
	length, ok := constArg(node.Call, bdd.ArgLength)
	if !ok || length == 0 {
		return nil
	}
	parser := p.Context().Tofino(leaf.Target).Pipeline().Parser()
	if parser.FreePHVBits() < int(length)*8 {
		return nil
	}

	var offset uint
	for _, id := range p.Ancestors(leaf) {
		if m := p.Module(id); m.Target == leaf.Target && m.Type.Kind == ep.KindParserExtraction {
			offset += m.Args.Length
		}
	}
	m := ep.NewModule(ep.KindParserExtraction, leaf.Target, node.ID)
	m.Args.Offset = offset
	m.Args.Length = uint(length)
	m.Args.Hit = hitSymbol(node)
	header := tna.Header{Node: node.ID, Offset: offset, Bytes: uint(length)}
	return single(m, node.Next, func(p *ep.Plan, leaf ep.Leaf) bool {
		return p.Context().Tofino(leaf.Target).Pipeline().Parser().Extract(header)
	})
}

// =============================================================================
// Hashing
// =============================================================================

func specTofinoHash(c *Catalog, p *ep.Plan, leaf ep.Leaf, node *bdd.Node) []Speculation {
	if node.Kind != bdd.KindCall || node.Call.Function != bdd.FnHashObj {
		return nil
	}
	width := 32
	var key *bdd.Expr
	if a, ok := node.Call.Arg(bdd.ArgObj); ok && a.In != nil {
		key = a.In
		width = int(a.In.Width)
	}
	hash := &tna.Hash{Name: tna.DSID(fmt.Sprintf("hash_obj_%d", node.ID)), Keys: []int{width}, OutBits: 32}
	tofino := p.Context().Tofino(leaf.Target)
	deps := p.Pass(leaf).Deps()
	if !tofino.CanPlace(hash, deps).OK() {
		return nil
	}

	m := ep.NewModule(ep.KindHashObj, leaf.Target, node.ID)
	m.Args.DS = []tna.DSID{hash.ID()}
	if key != nil {
		m.Args.Keys = []*bdd.Expr{key}
	}
	m.Args.Hit = hitSymbol(node)
	specs := single(m, node.Next, func(p *ep.Plan, leaf ep.Leaf) bool {
		tofino := p.Context().Tofino(leaf.Target)
		return tofino.Pipeline().Place(hash, deps, tofino.Placer()).OK()
	})
	specs[0].Fresh = true
	return specs
}

// =============================================================================
// Hand-offs
// =============================================================================

func specSendToController(c *Catalog, p *ep.Plan, leaf ep.Leaf, node *bdd.Node) []Speculation {
	if node.Kind == bdd.KindRoute {
		return nil
	}
	ctrl, ok := p.Context().FirstTarget(ep.TargetController)
	if !ok {
		return nil
	}
	m := ep.NewModule(ep.KindSendToController, leaf.Target, bdd.NoNode)
	m.NextTarget = ctrl
	return []Speculation{{
		Module:     m,
		NextTarget: ctrl,
		apply: func(p *ep.Plan, leaf ep.Leaf) bool {
			p.Context().Perf().Enter(ep.TargetController, p.Context().Profiler().Fraction(leaf.Next))
			p.ProcessLeaf(m.Clone(), ep.Branch{Next: leaf.Next, Target: ctrl})
			return true
		},
	}}
}

// specRecirculate starts a new pipeline pass before a stateful call once
// the current pass has touched a structure.
func specRecirculate(c *Catalog, p *ep.Plan, leaf ep.Leaf, node *bdd.Node) []Speculation {
	if node.Kind != bdd.KindCall {
		return nil
	}
	if _, ok := callObject(node.Call); !ok {
		return nil
	}
	pass := p.Pass(leaf)
	limit := p.Context().Tofino(leaf.Target).Pipeline().Properties().MaxRecirculations
	if len(pass.Accessed) == 0 || pass.Index >= limit {
		return nil
	}
	m := ep.NewModule(ep.KindRecirculate, leaf.Target, bdd.NoNode)
	m.Args.Pass = pass.Index + 1
	return []Speculation{{
		Module:     m,
		NextTarget: leaf.Target,
		apply: func(p *ep.Plan, leaf ep.Leaf) bool {
			p.Context().Perf().Recirculate(p.Context().Profiler().Fraction(leaf.Next))
			p.ProcessLeaf(m.Clone(), ep.Branch{Next: leaf.Next, Target: leaf.Target})
			return true
		},
	}}
}

// =============================================================================
// Switch structures
// =============================================================================

// switchPlacement is the structure a candidate touches: already placed for
// the object, or new and known to fit.
type switchPlacement struct {
	ds    tna.DS
	fresh bool
	deps  []tna.DSID
}

// resolveStructure finds or sizes the structure of kind implementing obj
// for the pass of leaf. fused lets the candidate touch a structure already
// accessed in this pass, for read-modify-write pairs served by one access.
func resolveStructure(p *ep.Plan, leaf ep.Leaf, obj uint64, impl ep.DSImpl, kind tna.DSKind, fused bool, build func() tna.DS) (switchPlacement, bool) {
	ctx := p.Context()
	if !ctx.CanImplDS(obj, impl) {
		return switchPlacement{}, false
	}
	tofino := ctx.Tofino(leaf.Target)
	pass := p.Pass(leaf)
	if ds, ok := tofino.CanReuse(obj, kind); ok {
		if (fused && pass.Accessed[ds.ID()]) || tofino.CanAccess(pass, ds.ID()) {
			return switchPlacement{ds: ds}, true
		}
		return switchPlacement{}, false
	}
	ds := build()
	deps := pass.Deps()
	if !tofino.CanPlace(ds, deps).OK() {
		return switchPlacement{}, false
	}
	return switchPlacement{ds: ds, fresh: true, deps: deps}, true
}

func (sp switchPlacement) commit(p *ep.Plan, leaf ep.Leaf, obj uint64, impl ep.DSImpl) bool {
	if err := p.Context().SaveDSImpl(obj, impl); err != nil {
		return false
	}
	if !sp.fresh {
		return true
	}
	return p.Context().Tofino(leaf.Target).Place(obj, sp.ds, sp.deps).OK()
}

type switchOp struct {
	kind   ep.ModuleKind
	fns    []string
	impl   ep.DSImpl
	dsKind tna.DSKind
	fused  bool

	// when restricts the op to objects with a given use in the trace.
	when func(c *Catalog, obj uint64, node *bdd.Node) bool

	build func(c *Catalog, name tna.DSID, a allocation, props tna.Properties) tna.DS

	// branches replaces the default continuation on the same target.
	branches func(c *Catalog, p *ep.Plan, leaf ep.Leaf, node *bdd.Node, obj uint64) []ep.Branch
}

func readOnly(c *Catalog, obj uint64, _ *bdd.Node) bool { return !c.usage[obj].dataplaneWrites() }
func written(c *Catalog, obj uint64, _ *bdd.Node) bool  { return c.usage[obj].dataplaneWrites() }
func modifies(_ *Catalog, _ uint64, n *bdd.Node) bool   { return modifiesVector(n.Call) }

// mapParams is the value of a map entry: a 32-bit index.
var mapParams = []int{32}

func buildTable(_ *Catalog, name tna.DSID, a allocation, _ tna.Properties) tna.DS {
	return &tna.Table{Name: name, Capacity: a.capacity, Keys: []int{a.keyBits}, Params: mapParams}
}

func buildGuarded(_ *Catalog, name tna.DSID, a allocation, _ tna.Properties) tna.DS {
	return tna.NewGuardedMapTable(name, a.capacity, []int{a.keyBits}, mapParams)
}

func buildFCFS(c *Catalog, name tna.DSID, a allocation, _ tna.Properties) tna.DS {
	return tna.NewFCFSCachedTable(name, a.capacity, c.opts.FCFSCacheCapacity, []int{a.keyBits}, mapParams)
}

func buildCuckoo(_ *Catalog, name tna.DSID, a allocation, props tna.Properties) tna.DS {
	return tna.NewCuckooHashTable(name, a.capacity, []int{a.keyBits}, mapParams, props.MaxRecirculations)
}

func buildHH(c *Catalog, name tna.DSID, a allocation, _ tna.Properties) tna.DS {
	return tna.NewHHTable(name, a.capacity, []int{a.keyBits}, mapParams, c.opts.HHSketchWidth, c.opts.HHSketchHeight)
}

func buildVectorTable(_ *Catalog, name tna.DSID, a allocation, _ tna.Properties) tna.DS {
	return tna.NewVectorTable(name, a.capacity, a.elemBits)
}

func buildVectorRegister(_ *Catalog, name tna.DSID, a allocation, _ tna.Properties) tna.DS {
	return tna.NewVectorRegister(name, a.capacity, a.elemBits)
}

func buildDchain(_ *Catalog, name tna.DSID, a allocation, _ tna.Properties) tna.DS {
	return tna.NewDchainTable(name, a.capacity)
}

func buildCMS(_ *Catalog, name tna.DSID, a allocation, _ tna.Properties) tna.DS {
	return tna.NewCountMinSketch(name, a.width, a.height, []int{a.keyBits})
}

func buildMeter(_ *Catalog, name tna.DSID, a allocation, _ tna.Properties) tna.DS {
	return &tna.Meter{Name: name, Capacity: a.capacity, Rate: a.rate, Burst: a.burst, Keys: []int{a.keyBits}}
}

func buildLPM(_ *Catalog, name tna.DSID, a allocation, _ tna.Properties) tna.DS {
	return &tna.LPM{Name: name, Capacity: a.capacity, Params: mapParams}
}

// fcfsWriteBranches continues on the switch when the flow fits the cache
// and hands misses to the controller, which installs the entry.
func fcfsWriteBranches(c *Catalog, p *ep.Plan, leaf ep.Leaf, node *bdd.Node, obj uint64) []ep.Branch {
	out := []ep.Branch{{Next: node.Next, Target: leaf.Target}}
	ctrl, ok := p.Context().FirstTarget(ep.TargetController)
	if !ok {
		return out
	}
	prof := p.Context().Profiler()
	p.Context().Perf().Enter(ep.TargetController, prof.Fraction(node.ID)*prof.MissRate(obj))
	send := ep.NewModule(ep.KindSendToController, leaf.Target, bdd.NoNode)
	send.NextTarget = ctrl
	return append(out, ep.Branch{Module: &send, Next: node.ID, Target: ctrl})
}

// cuckooUpdateBranches charges the recirculations of colliding inserts.
func cuckooUpdateBranches(c *Catalog, p *ep.Plan, leaf ep.Leaf, node *bdd.Node, obj uint64) []ep.Branch {
	prof := p.Context().Profiler()
	p.Context().Perf().Recirculate(prof.Fraction(node.ID) * prof.MissRate(obj))
	return []ep.Branch{{Next: node.Next, Target: leaf.Target}}
}

var switchOps = []switchOp{
	{kind: ep.KindSimpleTableLookup, fns: []string{bdd.FnMapGet}, impl: ep.ImplTofinoTable, dsKind: tna.KindTable, when: readOnly, build: buildTable},
	{kind: ep.KindGuardedMapTableLookup, fns: []string{bdd.FnMapGet}, impl: ep.ImplTofinoGuardedMapTable, dsKind: tna.KindGuardedMapTable, when: written, build: buildGuarded},
	{kind: ep.KindFCFSCachedTableRead, fns: []string{bdd.FnMapGet}, impl: ep.ImplTofinoFCFSCachedTable, dsKind: tna.KindFCFSCachedTable, when: written, build: buildFCFS},
	{kind: ep.KindFCFSCachedTableWrite, fns: []string{bdd.FnMapPut}, impl: ep.ImplTofinoFCFSCachedTable, dsKind: tna.KindFCFSCachedTable, fused: true, build: buildFCFS, branches: fcfsWriteBranches},
	{kind: ep.KindFCFSCachedTableDelete, fns: []string{bdd.FnMapErase}, impl: ep.ImplTofinoFCFSCachedTable, dsKind: tna.KindFCFSCachedTable, fused: true, build: buildFCFS},
	{kind: ep.KindCuckooHashTableRead, fns: []string{bdd.FnMapGet}, impl: ep.ImplTofinoCuckooHashTable, dsKind: tna.KindCuckooHashTable, when: written, build: buildCuckoo},
	{kind: ep.KindCuckooHashTableUpdate, fns: []string{bdd.FnMapPut}, impl: ep.ImplTofinoCuckooHashTable, dsKind: tna.KindCuckooHashTable, fused: true, build: buildCuckoo, branches: cuckooUpdateBranches},
	{kind: ep.KindHHTableRead, fns: []string{bdd.FnMapGet}, impl: ep.ImplTofinoHHTable, dsKind: tna.KindHHTable, when: readOnly, build: buildHH},
	{kind: ep.KindVectorTableLookup, fns: []string{bdd.FnVectorBorrow}, impl: ep.ImplTofinoVectorTable, dsKind: tna.KindVectorTable, when: readOnly, build: buildVectorTable},
	{kind: ep.KindVectorRegisterLookup, fns: []string{bdd.FnVectorBorrow}, impl: ep.ImplTofinoVectorRegister, dsKind: tna.KindVectorRegister, build: buildVectorRegister},
	{kind: ep.KindVectorRegisterUpdate, fns: []string{bdd.FnVectorReturn}, impl: ep.ImplTofinoVectorRegister, dsKind: tna.KindVectorRegister, fused: true, when: modifies, build: buildVectorRegister},
	{kind: ep.KindDchainTableLookup, fns: []string{bdd.FnDchainRejuvenateIndex, bdd.FnDchainIsIndexAllocated}, impl: ep.ImplTofinoDchainTable, dsKind: tna.KindDchainTable, build: buildDchain},
	{kind: ep.KindCMSIncrement, fns: []string{bdd.FnCMSIncrement}, impl: ep.ImplTofinoCountMinSketch, dsKind: tna.KindCountMinSketch, build: buildCMS},
	{kind: ep.KindCMSQuery, fns: []string{bdd.FnCMSCountMin}, impl: ep.ImplTofinoCountMinSketch, dsKind: tna.KindCountMinSketch, fused: true, build: buildCMS},
	{kind: ep.KindMeterUpdate, fns: []string{bdd.FnTBIsTracing, bdd.FnTBUpdateAndCheck}, impl: ep.ImplTofinoMeter, dsKind: tna.KindMeter, fused: true, build: buildMeter},
	{kind: ep.KindLPMLookup, fns: []string{bdd.FnLPMLookup}, impl: ep.ImplTofinoLPM, dsKind: tna.KindLPM, build: buildLPM},
}

func specSwitch(op switchOp) specFn {
	return func(c *Catalog, p *ep.Plan, leaf ep.Leaf, node *bdd.Node) []Speculation {
		if node.Kind != bdd.KindCall || !slices.Contains(op.fns, node.Call.Function) {
			return nil
		}
		obj, ok := callObject(node.Call)
		if !ok {
			return nil
		}
		if op.when != nil && !op.when(c, obj, node) {
			return nil
		}

		key := keyOf(node.Call)
		alloc := c.allocation(obj, key)
		props := p.Context().Tofino(leaf.Target).Pipeline().Properties()
		sp, ok := resolveStructure(p, leaf, obj, op.impl, op.dsKind, op.fused, func() tna.DS {
			return op.build(c, ep.DSName(op.dsKind, obj), alloc, props)
		})
		if !ok {
			return nil
		}

		m := ep.NewModule(op.kind, leaf.Target, node.ID)
		m.Args.Object, m.Args.HasObject, m.Args.Impl = obj, true, op.impl
		m.Args.DS = []tna.DSID{sp.ds.ID()}
		if key != nil {
			m.Args.Keys = []*bdd.Expr{key}
		}
		if v, ok := node.Call.Arg(bdd.ArgValue); ok && v.In != nil {
			m.Args.Values = []*bdd.Expr{v.In}
		}
		m.Args.Hit = hitSymbol(node)

		return []Speculation{{
			Module:     m,
			Impl:       op.impl,
			NextTarget: leaf.Target,
			Fresh:      sp.fresh,
			apply: func(p *ep.Plan, leaf ep.Leaf) bool {
				if !sp.commit(p, leaf, obj, op.impl) {
					return false
				}
				branches := []ep.Branch{{Next: node.Next, Target: leaf.Target}}
				if op.branches != nil {
					branches = op.branches(c, p, leaf, node, obj)
				}
				p.ProcessLeaf(m.Clone(), branches...)
				return true
			},
		}}
	}
}
