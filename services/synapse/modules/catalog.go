// Copyright (C) 2025 The Synapse Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See <https://www.gnu.org/licenses/agpl-3.0.html> for the full license text.

// Package modules holds the module factories: for every (target, kind)
// pair, the rule deciding whether the active trace node of a plan can be
// implemented that way and the transformation producing the successor plan.
//
// # Operations
//
// Every factory offers three operations:
//
//   - Speculate lists the candidate implementations of the active leaf
//     without touching the plan.
//   - Process clones the plan once per candidate, commits the candidate's
//     context changes (ledger, placement, host memory, traffic estimate),
//     appends the module and advances the frontier.
//   - Create translates the node directly, ignoring resource feasibility
//     beyond the rules of the kind.
//
// An infeasible factory returns no candidates. It never returns an error.
//
// # Thread Safety
//
// A Catalog is read-only after NewCatalog and safe for concurrent use.
// Plans passed to Process are only read; the returned plans are new.
package modules

import (
	"log/slog"
	"sort"

	"github.com/snaplab-dpss/synapse/services/synapse/bdd"
	"github.com/snaplab-dpss/synapse/services/synapse/ep"
)

// Options tunes the structures the factories build.
type Options struct {
	// DefaultCapacity sizes objects whose allocation is not in the trace.
	DefaultCapacity int `yaml:"default_capacity" json:"default_capacity" validate:"gt=0"`

	// FCFSCacheCapacity is the cache size of FCFS cached tables.
	FCFSCacheCapacity int `yaml:"fcfs_cache_capacity" json:"fcfs_cache_capacity" validate:"gt=0"`

	// HHSketchWidth and HHSketchHeight size the sketch of heavy-hitter tables.
	HHSketchWidth  int `yaml:"hh_sketch_width" json:"hh_sketch_width" validate:"gt=0"`
	HHSketchHeight int `yaml:"hh_sketch_height" json:"hh_sketch_height" validate:"gt=0"`

	// Disabled names module types to leave out, e.g. "TofinoRecirculate".
	Disabled []string `yaml:"disabled" json:"disabled"`

	// Logger receives Debug records for candidates that turn infeasible.
	Logger *slog.Logger `yaml:"-" json:"-"`
}

// DefaultOptions returns the default structure sizing.
func DefaultOptions() Options {
	return Options{
		DefaultCapacity:   65536,
		FCFSCacheCapacity: 4096,
		HHSketchWidth:     1024,
		HHSketchHeight:    4,
	}
}

// Speculation is one candidate implementation of the active leaf.
type Speculation struct {
	// Module is the module that would be appended.
	Module ep.Module

	// Impl is the implementation the candidate binds its object to, or
	// ep.ImplNone.
	Impl ep.DSImpl

	// NextTarget executes the successors.
	NextTarget ep.TargetID

	// Fresh reports whether the candidate places a new switch structure.
	Fresh bool

	apply func(p *ep.Plan, leaf ep.Leaf) bool
}

type specFn func(c *Catalog, p *ep.Plan, leaf ep.Leaf, node *bdd.Node) []Speculation

type ops struct {
	speculate specFn
	process   func(c *Catalog, p *ep.Plan, specs []Speculation) []*ep.Plan
	create    func(specs []Speculation) (ep.Module, bool)
}

// table dispatches every module type to its operations. Filled by init
// functions of the target files.
var table = make(map[ep.ModuleType]ops)

func register(t ep.TargetType, k ep.ModuleKind, fn specFn) {
	mt := ep.ModuleType{Target: t, Kind: k}
	if _, dup := table[mt]; dup {
		panic("modules: duplicate registration of " + mt.String())
	}
	table[mt] = ops{speculate: fn, process: processAll, create: createFirst}
}

func processAll(c *Catalog, p *ep.Plan, specs []Speculation) []*ep.Plan {
	out := make([]*ep.Plan, 0, len(specs))
	for _, s := range specs {
		next := p.Clone()
		if !s.apply(next, next.ActiveLeaf()) {
			c.logger.Debug("candidate infeasible on commit", slog.String("module", s.Module.String()))
			continue
		}
		out = append(out, next)
	}
	return out
}

func createFirst(specs []Speculation) (ep.Module, bool) {
	if len(specs) == 0 {
		return ep.Module{}, false
	}
	return specs[0].Module, true
}

// Factory builds modules of one type.
type Factory struct {
	typ ep.ModuleType
	ops ops
	cat *Catalog
}

// Type returns the module type the factory builds.
func (f Factory) Type() ep.ModuleType { return f.typ }

// Speculate lists candidates for the active leaf of p. p is not modified.
func (f Factory) Speculate(p *ep.Plan) []Speculation {
	if p.Finished() {
		return nil
	}
	leaf := p.ActiveLeaf()
	if leaf.Target.Type != f.typ.Target {
		return nil
	}
	return f.ops.speculate(f.cat, p, leaf, p.Trace().Node(leaf.Next))
}

// Process returns one successor plan per feasible candidate.
func (f Factory) Process(p *ep.Plan) []*ep.Plan {
	return f.ops.process(f.cat, p, f.Speculate(p))
}

// Create translates the active leaf's node into a module of this type.
func (f Factory) Create(p *ep.Plan) (ep.Module, bool) {
	return f.ops.create(f.Speculate(p))
}

// Catalog holds the enabled factories and the trace facts they consult.
type Catalog struct {
	trace     *bdd.BDD
	opts      Options
	usage     map[uint64]*objectUsage
	factories map[ep.TargetType][]Factory
	logger    *slog.Logger
}

// NewCatalog builds the catalog for trace.
//
// Inputs:
//   - trace: The validated trace every plan will implement.
//   - opts: Structure sizing and disabled module types.
//
// Outputs:
//   - *Catalog: Factories grouped by target architecture, in kind order.
func NewCatalog(trace *bdd.BDD, opts Options) *Catalog {
	def := DefaultOptions()
	if opts.DefaultCapacity <= 0 {
		opts.DefaultCapacity = def.DefaultCapacity
	}
	if opts.FCFSCacheCapacity <= 0 {
		opts.FCFSCacheCapacity = def.FCFSCacheCapacity
	}
	if opts.HHSketchWidth <= 0 || opts.HHSketchHeight <= 0 {
		opts.HHSketchWidth, opts.HHSketchHeight = def.HHSketchWidth, def.HHSketchHeight
	}
	c := &Catalog{
		trace:     trace,
		opts:      opts,
		usage:     analyze(trace),
		factories: make(map[ep.TargetType][]Factory),
		logger:    opts.Logger,
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}

	disabled := make(map[string]bool, len(opts.Disabled))
	for _, name := range opts.Disabled {
		disabled[name] = true
	}
	for mt, o := range table {
		if disabled[mt.String()] {
			continue
		}
		c.factories[mt.Target] = append(c.factories[mt.Target], Factory{typ: mt, ops: o, cat: c})
	}
	for _, fs := range c.factories {
		sort.Slice(fs, func(i, j int) bool { return fs[i].typ.Kind < fs[j].typ.Kind })
	}
	return c
}

// Trace returns the trace the catalog was built for.
func (c *Catalog) Trace() *bdd.BDD { return c.trace }

// Factories returns the enabled factories of architecture t in kind order.
func (c *Catalog) Factories(t ep.TargetType) []Factory { return c.factories[t] }

// Factory returns the factory of type mt.
func (c *Catalog) Factory(mt ep.ModuleType) (Factory, bool) {
	for _, f := range c.factories[mt.Target] {
		if f.typ == mt {
			return f, true
		}
	}
	return Factory{}, false
}

// Expand returns every successor of p's active leaf across the factories
// of the leaf's target. It panics when p is finished.
func (c *Catalog) Expand(p *ep.Plan) []*ep.Plan {
	if p.Finished() {
		panic("modules: expanding a finished plan")
	}
	var out []*ep.Plan
	for _, f := range c.factories[p.ActiveLeaf().Target.Type] {
		out = append(out, f.Process(p)...)
	}
	return out
}

// Speculate returns every candidate for p's active leaf.
func (c *Catalog) Speculate(p *ep.Plan) []Speculation {
	if p.Finished() {
		return nil
	}
	var out []Speculation
	for _, f := range c.factories[p.ActiveLeaf().Target.Type] {
		out = append(out, f.Speculate(p)...)
	}
	return out
}
