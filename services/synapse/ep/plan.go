// Copyright (C) 2025 The Synapse Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See <https://www.gnu.org/licenses/agpl-3.0.html> for the full license text.

// Package ep holds execution plans: trees of modules that implement a
// program trace across switch, controller and x86 targets.
//
// # Structure
//
// A Plan stores its modules in an arena addressed by PlanNodeID, with
// parent and children kept as indices. The frontier is an ordered list of
// leaves, each naming a plan node, the next trace node to implement below it
// and the target executing it. The first leaf is the active one.
//
// # Ownership
//
// Plans are values owned by one goroutine at a time. The trace is shared by
// reference and never mutated. Clone deep-copies everything else, so a
// clone may be mutated freely.
package ep

import (
	"fmt"

	"github.com/snaplab-dpss/synapse/services/synapse/bdd"
)

// PlanNodeID addresses a module in a plan's arena.
type PlanNodeID int

// NoPlanNode is the parent of the root and the node of the seed leaf.
const NoPlanNode PlanNodeID = -1

type planNode struct {
	module   Module
	parent   PlanNodeID
	children []PlanNodeID
	depth    int
}

// Leaf is a frontier entry: Next is the trace node still to implement below
// plan node Node on Target.
type Leaf struct {
	Node   PlanNodeID
	Next   bdd.NodeID
	Target TargetID
}

// Branch describes one successor of a module appended by ProcessLeaf.
type Branch struct {
	// Module, when set, is appended below the new module before the
	// successor leaf (Then and Else of an If).
	Module *Module

	// Next is the trace node to continue with. bdd.NoNode ends the path.
	Next bdd.NodeID

	// Target executes Next.
	Target TargetID
}

// Plan is a partial or complete implementation of a trace.
type Plan struct {
	trace     *bdd.BDD
	nodes     []planNode
	leaves    []Leaf
	processed []bool
	ctx       *Context
	meta      Meta
}

// NewPlan returns the empty plan for trace starting on target.
//
// It panics if target is not configured in ctx.
func NewPlan(trace *bdd.BDD, ctx *Context, target TargetID) *Plan {
	if !ctx.HasTarget(target) {
		panic(fmt.Sprintf("ep: seed target %s not configured", target))
	}
	ctx.Perf().Enter(target.Type, 1)
	return &Plan{
		trace:     trace,
		leaves:    []Leaf{{Node: NoPlanNode, Next: trace.Root(), Target: target}},
		processed: make([]bool, trace.Size()),
		ctx:       ctx,
		meta:      newMeta(trace.Size()),
	}
}

// Trace returns the shared trace.
func (p *Plan) Trace() *bdd.BDD { return p.trace }

// Context returns the plan's context.
func (p *Plan) Context() *Context { return p.ctx }

// Meta returns the plan's metadata.
func (p *Plan) Meta() Meta { return p.meta }

// Size returns the number of modules.
func (p *Plan) Size() int { return len(p.nodes) }

// Finished reports whether the frontier is empty.
func (p *Plan) Finished() bool { return len(p.leaves) == 0 }

// Leaves returns a copy of the frontier.
func (p *Plan) Leaves() []Leaf { return append([]Leaf(nil), p.leaves...) }

// ActiveLeaf returns the leaf to expand next. It panics on a finished plan.
func (p *Plan) ActiveLeaf() Leaf {
	if len(p.leaves) == 0 {
		panic("ep: active leaf of a finished plan")
	}
	return p.leaves[0]
}

// Root returns the first module, or NoPlanNode for an empty plan.
func (p *Plan) Root() PlanNodeID {
	if len(p.nodes) == 0 {
		return NoPlanNode
	}
	return 0
}

// Module returns the module at id.
func (p *Plan) Module(id PlanNodeID) Module { return p.nodes[id].module }

// Parent returns the parent of id.
func (p *Plan) Parent(id PlanNodeID) PlanNodeID { return p.nodes[id].parent }

// Children returns the children of id in insertion order.
func (p *Plan) Children(id PlanNodeID) []PlanNodeID {
	return append([]PlanNodeID(nil), p.nodes[id].children...)
}

// Modules returns every module in arena order.
func (p *Plan) Modules() []Module {
	out := make([]Module, len(p.nodes))
	for i, n := range p.nodes {
		out[i] = n.module
	}
	return out
}

// Ancestors returns the plan nodes from leaf's node up to the root,
// nearest first.
func (p *Plan) Ancestors(leaf Leaf) []PlanNodeID {
	var out []PlanNodeID
	for id := leaf.Node; id != NoPlanNode; id = p.nodes[id].parent {
		out = append(out, id)
	}
	return out
}

// Processed reports whether trace node id is implemented somewhere.
func (p *Plan) Processed(id bdd.NodeID) bool {
	return id >= 0 && int(id) < len(p.processed) && p.processed[id]
}

// MarkProcessed records that trace node id is implemented.
func (p *Plan) MarkProcessed(id bdd.NodeID) {
	if id < 0 || int(id) >= len(p.processed) || p.processed[id] {
		return
	}
	p.processed[id] = true
	p.meta.Processed++
}

func (p *Plan) add(m Module, parent PlanNodeID) PlanNodeID {
	id := PlanNodeID(len(p.nodes))
	depth := 1
	if parent != NoPlanNode {
		depth = p.nodes[parent].depth + 1
		p.nodes[parent].children = append(p.nodes[parent].children, id)
	}
	p.nodes = append(p.nodes, planNode{module: m, parent: parent, depth: depth})
	p.meta.record(m, depth)
	p.MarkProcessed(m.Node)
	return id
}

// ProcessLeaf appends m below the active leaf and replaces that leaf with
// one successor per branch that has a next trace node. Successors go to the
// front of the frontier in branch order.
//
// Inputs:
//   - m: The module implementing the active leaf's next node. Its target
//     must be the leaf's target.
//   - branches: Successors. An empty list ends the path.
//
// Outputs:
//   - PlanNodeID: The arena id of m.
//
// It panics on a finished plan or a target mismatch.
func (p *Plan) ProcessLeaf(m Module, branches ...Branch) PlanNodeID {
	leaf := p.ActiveLeaf()
	if m.Target != leaf.Target {
		panic(fmt.Sprintf("ep: module %s on %s for leaf on %s", m.Type, m.Target, leaf.Target))
	}

	id := p.add(m, leaf.Node)
	next := make([]Leaf, 0, len(branches)+len(p.leaves)-1)
	for _, br := range branches {
		parent := id
		if br.Module != nil {
			parent = p.add(*br.Module, id)
		}
		if br.Next != bdd.NoNode {
			next = append(next, Leaf{Node: parent, Next: br.Next, Target: br.Target})
		}
	}
	p.leaves = append(next, p.leaves[1:]...)
	p.ctx.Fork(moduleSalt(m))
	p.meta.TieBreak = p.ctx.Rand()
	return id
}

// moduleSalt packs what distinguishes sibling candidates into one word.
func moduleSalt(m Module) uint64 {
	return uint64(uint32(m.Node)) |
		uint64(m.Type.Kind&0xff)<<32 |
		uint64(m.Type.Target&0xf)<<40 |
		uint64(m.NextTarget.Type&0xf)<<44 |
		uint64(m.Args.Impl&0xff)<<48 |
		uint64(m.Target.Instance&0xff)<<56
}

// Clone returns an independent copy sharing only the trace.
func (p *Plan) Clone() *Plan {
	nodes := make([]planNode, len(p.nodes))
	for i, n := range p.nodes {
		nodes[i] = planNode{
			module:   n.module.Clone(),
			parent:   n.parent,
			children: append([]PlanNodeID(nil), n.children...),
			depth:    n.depth,
		}
	}
	return &Plan{
		trace:     p.trace,
		nodes:     nodes,
		leaves:    append([]Leaf(nil), p.leaves...),
		processed: append([]bool(nil), p.processed...),
		ctx:       p.ctx.Clone(),
		meta:      p.meta.clone(),
	}
}

// =============================================================================
// Metadata
// =============================================================================

// Meta summarizes a plan for heuristics.
type Meta struct {
	Depth     int
	Nodes     int
	Processed int
	Total     int
	ByType    map[ModuleType]int
	Steps     map[TargetType]int
	TieBreak  uint64
}

func newMeta(total int) Meta {
	return Meta{
		Total:  total,
		ByType: make(map[ModuleType]int),
		Steps:  make(map[TargetType]int),
	}
}

func (m *Meta) record(mod Module, depth int) {
	m.Nodes++
	if depth > m.Depth {
		m.Depth = depth
	}
	m.ByType[mod.Type]++
	m.Steps[mod.Target.Type]++
}

// Progress returns the fraction of trace nodes processed.
func (m Meta) Progress() float64 {
	if m.Total == 0 {
		return 1
	}
	return float64(m.Processed) / float64(m.Total)
}

// Count returns how many modules of kind k run on architecture t.
func (m Meta) Count(t TargetType, k ModuleKind) int {
	return m.ByType[ModuleType{Target: t, Kind: k}]
}

func (m Meta) clone() Meta {
	byType := make(map[ModuleType]int, len(m.ByType))
	for k, v := range m.ByType {
		byType[k] = v
	}
	steps := make(map[TargetType]int, len(m.Steps))
	for k, v := range m.Steps {
		steps[k] = v
	}
	m.ByType = byType
	m.Steps = steps
	return m
}
