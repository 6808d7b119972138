// Copyright (C) 2025 The Synapse Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See <https://www.gnu.org/licenses/agpl-3.0.html> for the full license text.

package ep

import (
	"fmt"
	"sort"

	"github.com/snaplab-dpss/synapse/services/synapse/tna"
)

// TofinoContext is the switch state of a plan: the pipeline and the
// structures implementing each object.
type TofinoContext struct {
	pipeline *tna.Pipeline
	placer   tna.Placer
	objects  map[uint64][]tna.DS
}

// NewTofinoContext returns an empty switch context.
func NewTofinoContext(props tna.Properties, placer tna.Placer) *TofinoContext {
	return &TofinoContext{
		pipeline: tna.NewPipeline(props),
		placer:   placer,
		objects:  make(map[uint64][]tna.DS),
	}
}

// Pipeline returns the pipeline resource state.
func (t *TofinoContext) Pipeline() *tna.Pipeline { return t.pipeline }

// Placer returns the stage assignment strategy.
func (t *TofinoContext) Placer() tna.Placer { return t.placer }

// DSName returns the deterministic id of a structure of kind implementing
// obj. An object has at most one implementation, so the id is unique.
func DSName(kind tna.DSKind, obj uint64) tna.DSID {
	return tna.DSID(fmt.Sprintf("%s_%x", kind, obj))
}

// DS returns the structures implementing obj.
func (t *TofinoContext) DS(obj uint64) []tna.DS { return t.objects[obj] }

// CanReuse returns the already placed structure of kind implementing obj.
func (t *TofinoContext) CanReuse(obj uint64, kind tna.DSKind) (tna.DS, bool) {
	for _, ds := range t.objects[obj] {
		if ds.Kind() == kind {
			return ds, true
		}
	}
	return nil, false
}

// CanPlace reports whether ds would fit after deps without changing the
// context.
func (t *TofinoContext) CanPlace(ds tna.DS, deps []tna.DSID) tna.PlacementStatus {
	return t.pipeline.Fits(ds, deps, t.placer)
}

// Place places ds for obj after deps and records it on success.
//
// Outputs:
//   - tna.PlacementStatus: Any status but PlacementSuccess leaves the
//     context unchanged.
func (t *TofinoContext) Place(obj uint64, ds tna.DS, deps []tna.DSID) tna.PlacementStatus {
	status := t.pipeline.Place(ds, deps, t.placer)
	if status.OK() {
		t.objects[obj] = append(t.objects[obj], ds)
	}
	return status
}

// Objects returns every object with a switch structure, sorted.
func (t *TofinoContext) Objects() []uint64 {
	out := make([]uint64, 0, len(t.objects))
	for obj := range t.objects {
		out = append(out, obj)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Clone returns an independent copy. Structures are immutable and shared.
func (t *TofinoContext) Clone() *TofinoContext {
	objects := make(map[uint64][]tna.DS, len(t.objects))
	for obj, ds := range t.objects {
		objects[obj] = append([]tna.DS(nil), ds...)
	}
	return &TofinoContext{
		pipeline: t.pipeline.Clone(),
		placer:   t.placer,
		objects:  objects,
	}
}

// =============================================================================
// Pipeline passes
// =============================================================================

// Pass is what the current pipeline pass of a leaf has already touched.
type Pass struct {
	// Index counts recirculations above the leaf.
	Index int

	// Accessed holds the structures touched since the last recirculation.
	Accessed map[tna.DSID]bool

	// LastStage is the last stage touched in this pass, -1 if none.
	LastStage int
}

// Deps returns the accessed structures sorted, for use as placement
// dependencies.
func (p Pass) Deps() []tna.DSID {
	out := make([]tna.DSID, 0, len(p.Accessed))
	for id := range p.Accessed {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// CanAccess reports whether the placed structure id can be touched in this
// pass: not yet touched, and starting after every stage already used.
func (t *TofinoContext) CanAccess(pass Pass, id tna.DSID) bool {
	if pass.Accessed[id] {
		return false
	}
	pl, ok := t.pipeline.Placement(id)
	if !ok {
		return false
	}
	if len(pl.Stages) == 0 {
		return true
	}
	return pl.Stages[0] > pass.LastStage
}

// Pass walks the ancestors of leaf on its switch target back to the last
// Recirculate module.
func (p *Plan) Pass(leaf Leaf) Pass {
	pass := Pass{Accessed: make(map[tna.DSID]bool), LastStage: -1}
	tofino := p.ctx.Tofino(leaf.Target)
	collecting := true
	for _, id := range p.Ancestors(leaf) {
		m := p.nodes[id].module
		if m.Target != leaf.Target {
			continue
		}
		if m.Type.Kind == KindRecirculate {
			pass.Index++
			collecting = false
			continue
		}
		if !collecting {
			continue
		}
		for _, ds := range m.Args.DS {
			if pass.Accessed[ds] {
				continue
			}
			pass.Accessed[ds] = true
			if pl, ok := tofino.pipeline.Placement(ds); ok && pl.LastStage() > pass.LastStage {
				pass.LastStage = pl.LastStage()
			}
		}
	}
	return pass
}
