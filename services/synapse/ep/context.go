// Copyright (C) 2025 The Synapse Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See <https://www.gnu.org/licenses/agpl-3.0.html> for the full license text.

package ep

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"

	"github.com/snaplab-dpss/synapse/services/synapse/profiler"
	"github.com/snaplab-dpss/synapse/services/synapse/tna"
)

var (
	// ErrLedgerConflict is returned when an object already has a different
	// implementation.
	ErrLedgerConflict = errors.New("object already bound to another implementation")

	// ErrInvalidContext is returned by NewContext for unusable configurations.
	ErrInvalidContext = errors.New("invalid context configuration")
)

// ContextConfig configures the targets of a search.
type ContextConfig struct {
	// Targets lists every target instance. Must not be empty.
	Targets []TargetID

	// Tofino are the pipeline properties of every switch instance.
	Tofino tna.Properties

	// Placer assigns switch structures to stages. Defaults to the solver.
	Placer tna.Placer

	// HostMemoryBytes bounds controller and x86 state. 0 means unbounded.
	HostMemoryBytes int64

	// Perf is the throughput model.
	Perf PerfModel

	// Seed initializes the tie-break generator.
	Seed uint64
}

// TargetContext is the per-target state of a plan. Exactly one of the
// pointers is set, matching Type.
type TargetContext struct {
	Type       TargetType
	Tofino     *TofinoContext
	Controller *HostContext
	X86        *HostContext
}

func (tc *TargetContext) clone() *TargetContext {
	switch tc.Type {
	case TargetTofino:
		return &TargetContext{Type: tc.Type, Tofino: tc.Tofino.Clone()}
	case TargetController:
		return &TargetContext{Type: tc.Type, Controller: tc.Controller.Clone()}
	case TargetX86:
		return &TargetContext{Type: tc.Type, X86: tc.X86.Clone()}
	default:
		panic(fmt.Sprintf("ep: unknown target type %d", tc.Type))
	}
}

// Context is the target-wide state a plan carries: target contexts, the
// implementation ledger and the performance estimate.
//
// # Thread Safety
//
// A Context belongs to exactly one plan and is not safe for concurrent use.
type Context struct {
	targets  map[TargetID]*TargetContext
	order    []TargetID
	ledger   map[uint64]DSImpl
	profiler *profiler.Profiler
	perf     Perf
	rng      *rand.PCG
}

// NewContext builds the initial context.
//
// Inputs:
//   - prof: Traffic profiler of the trace. Must not be nil.
//   - cfg: Target configuration.
//
// Outputs:
//   - *Context: Fresh context with empty target state.
//   - error: ErrInvalidContext on empty or duplicate targets, or wrapped
//     tna.ErrInvalidProperties.
func NewContext(prof *profiler.Profiler, cfg ContextConfig) (*Context, error) {
	if prof == nil {
		return nil, fmt.Errorf("%w: nil profiler", ErrInvalidContext)
	}
	if len(cfg.Targets) == 0 {
		return nil, fmt.Errorf("%w: no targets", ErrInvalidContext)
	}
	if cfg.Placer == nil {
		cfg.Placer = tna.NewSolverPlacer()
	}
	if cfg.Perf == (PerfModel{}) {
		cfg.Perf = DefaultPerfModel()
	}

	ctx := &Context{
		targets:  make(map[TargetID]*TargetContext, len(cfg.Targets)),
		ledger:   make(map[uint64]DSImpl),
		profiler: prof,
		perf:     newPerf(cfg.Perf),
		rng:      rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15),
	}
	for _, id := range cfg.Targets {
		if _, dup := ctx.targets[id]; dup {
			return nil, fmt.Errorf("%w: duplicate target %s", ErrInvalidContext, id)
		}
		tc := &TargetContext{Type: id.Type}
		switch id.Type {
		case TargetTofino:
			if err := cfg.Tofino.Validate(); err != nil {
				return nil, err
			}
			tc.Tofino = NewTofinoContext(cfg.Tofino, cfg.Placer)
		case TargetController:
			tc.Controller = NewHostContext(cfg.HostMemoryBytes)
		case TargetX86:
			tc.X86 = NewHostContext(cfg.HostMemoryBytes)
		default:
			return nil, fmt.Errorf("%w: unknown target type %d", ErrInvalidContext, id.Type)
		}
		ctx.targets[id] = tc
		ctx.order = append(ctx.order, id)
	}
	return ctx, nil
}

// Targets returns every target in configuration order.
func (c *Context) Targets() []TargetID { return c.order }

// HasTarget reports whether id is configured.
func (c *Context) HasTarget(id TargetID) bool {
	_, ok := c.targets[id]
	return ok
}

// FirstTarget returns the first configured instance of type t.
func (c *Context) FirstTarget(t TargetType) (TargetID, bool) {
	for _, id := range c.order {
		if id.Type == t {
			return id, true
		}
	}
	return TargetID{}, false
}

// Target returns the context of id. It panics if id is not configured.
func (c *Context) Target(id TargetID) *TargetContext {
	tc, ok := c.targets[id]
	if !ok {
		panic(fmt.Sprintf("ep: target %s not configured", id))
	}
	return tc
}

// Tofino returns the switch context of id. It panics if id is not a
// configured switch.
func (c *Context) Tofino(id TargetID) *TofinoContext {
	tc := c.Target(id)
	if tc.Type != TargetTofino {
		panic(fmt.Sprintf("ep: target %s is not a switch", id))
	}
	return tc.Tofino
}

// Host returns the memory bookkeeping of a controller or x86 target. It
// panics for switch targets.
func (c *Context) Host(id TargetID) *HostContext {
	tc := c.Target(id)
	switch tc.Type {
	case TargetController:
		return tc.Controller
	case TargetX86:
		return tc.X86
	default:
		panic(fmt.Sprintf("ep: target %s has no host memory", id))
	}
}

// =============================================================================
// Ledger
// =============================================================================

// CanImplDS reports whether obj may be implemented as impl: it is unbound
// or already bound to impl.
func (c *Context) CanImplDS(obj uint64, impl DSImpl) bool {
	cur, ok := c.ledger[obj]
	return !ok || cur == impl
}

// SaveDSImpl binds obj to impl. Binding an object to the implementation it
// already has is a no-op.
//
// Outputs:
//   - error: ErrLedgerConflict if obj is bound to a different
//     implementation. The ledger is never overwritten.
func (c *Context) SaveDSImpl(obj uint64, impl DSImpl) error {
	if cur, ok := c.ledger[obj]; ok {
		if cur == impl {
			return nil
		}
		return fmt.Errorf("%w: 0x%x is %s, want %s", ErrLedgerConflict, obj, cur, impl)
	}
	c.ledger[obj] = impl
	return nil
}

// Impl returns the implementation bound to obj.
func (c *Context) Impl(obj uint64) (DSImpl, bool) {
	impl, ok := c.ledger[obj]
	return impl, ok
}

// LedgerEntry is one binding of the ledger.
type LedgerEntry struct {
	Object uint64 `json:"object"`
	Impl   DSImpl `json:"impl"`
}

// Ledger returns every binding sorted by object address.
func (c *Context) Ledger() []LedgerEntry {
	out := make([]LedgerEntry, 0, len(c.ledger))
	for obj, impl := range c.ledger {
		out = append(out, LedgerEntry{Object: obj, Impl: impl})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Object < out[j].Object })
	return out
}

// =============================================================================
// Profile, performance and randomness
// =============================================================================

// Profiler returns the shared traffic profiler.
func (c *Context) Profiler() *profiler.Profiler { return c.profiler }

// Perf returns the mutable performance estimate.
func (c *Context) Perf() *Perf { return &c.perf }

// Rand draws from the context's deterministic generator.
func (c *Context) Rand() uint64 { return c.rng.Uint64() }

// Fork mixes salt into the generator state, so clones that commit different
// modules continue on different sequences.
func (c *Context) Fork(salt uint64) {
	c.rng.Seed(c.rng.Uint64()^salt, splitmix(salt))
}

// splitmix is the SplitMix64 finalizer.
func splitmix(x uint64) uint64 {
	x += 0x9e3779b97f4a7c15
	x = (x ^ (x >> 30)) * 0xbf58476d1ce4e5b9
	x = (x ^ (x >> 27)) * 0x94d049bb133111eb
	return x ^ (x >> 31)
}

// Clone returns an independent copy. The profiler is shared. The clone
// continues the receiver's random sequence from its current state, and the
// receiver is left untouched.
func (c *Context) Clone() *Context {
	rng := *c.rng
	out := &Context{
		targets:  make(map[TargetID]*TargetContext, len(c.targets)),
		order:    c.order,
		ledger:   make(map[uint64]DSImpl, len(c.ledger)),
		profiler: c.profiler,
		perf:     c.perf.clone(),
		rng:      &rng,
	}
	for id, tc := range c.targets {
		out.targets[id] = tc.clone()
	}
	for obj, impl := range c.ledger {
		out.ledger[obj] = impl
	}
	return out
}
