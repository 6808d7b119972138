// Copyright (C) 2025 The Synapse Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See <https://www.gnu.org/licenses/agpl-3.0.html> for the full license text.

// Package tna models the resources of a programmable switch pipeline and
// places data structures into its stages.
//
// # Model
//
// A Pipeline is a fixed array of stages, each with an effective capacity
// (raw capacity derated by Properties.Efficiency) and a running consumption.
// Data structures (DS) are primitives with a per-stage Demand, or composites
// that decompose into layers of primitives.
//
// # Placement
//
// Pipeline.Place flattens a structure into units, derives ordering from its
// layers and from already-placed dependencies, asks a Placer for a stage
// assignment and commits it only on success. A failed placement leaves the
// pipeline untouched, so callers may simply drop the candidate.
//
// # Thread Safety
//
// A Pipeline is owned by one plan and is not safe for concurrent mutation.
// Clone before handing a copy to another goroutine.
package tna

import "sort"

// Placement records where a structure landed.
type Placement struct {
	ID     DSID   `json:"id"`
	Kind   DSKind `json:"kind"`
	Stages []int  `json:"stages"`
	Parts  []DSID `json:"parts,omitempty"`
}

// LastStage returns the last stage of the placement, or -1 for structures
// without stage resources.
func (p Placement) LastStage() int {
	if len(p.Stages) == 0 {
		return -1
	}
	return p.Stages[len(p.Stages)-1]
}

// Pipeline is the mutable resource state of one switch pipeline.
type Pipeline struct {
	props      Properties
	capacity   Demand
	used       []Demand
	placements map[DSID]Placement
	digests    int
	parser     *Parser
}

// NewPipeline returns an empty pipeline.
func NewPipeline(props Properties) *Pipeline {
	return &Pipeline{
		props:      props,
		capacity:   props.StageCapacity(),
		used:       make([]Demand, props.Stages),
		placements: make(map[DSID]Placement),
		parser:     NewParser(props.PHVBits),
	}
}

// Properties returns the pipeline properties.
func (p *Pipeline) Properties() Properties { return p.props }

// Capacity returns the effective per-stage capacity.
func (p *Pipeline) Capacity() Demand { return p.capacity }

// Stages returns the number of stages.
func (p *Pipeline) Stages() int { return len(p.used) }

// Stage returns a snapshot of stage i.
func (p *Pipeline) Stage(i int) Stage {
	return Stage{Index: i, Capacity: p.capacity, Used: p.used[i]}
}

// Parser returns the parser state.
func (p *Pipeline) Parser() *Parser { return p.parser }

// Placement returns the placement of a structure.
func (p *Pipeline) Placement(id DSID) (Placement, bool) {
	pl, ok := p.placements[id]
	return pl, ok
}

// Placements returns every placement sorted by id.
func (p *Pipeline) Placements() []Placement {
	out := make([]Placement, 0, len(p.placements))
	for _, pl := range p.placements {
		out = append(out, pl)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Place tries to place ds after deps using placer.
//
// Inputs:
//   - ds: The structure to place. Its id must not be placed yet.
//   - deps: Already-placed structures ds must follow.
//   - placer: Assignment strategy.
//
// Outputs:
//   - PlacementStatus: PlacementSuccess if the structure was committed.
//     Any other status leaves the pipeline unchanged.
func (p *Pipeline) Place(ds DS, deps []DSID, placer Placer) PlacementStatus {
	status := p.place(ds, deps, placer)
	recordPlacement(placer.Name(), status)
	return status
}

// Fits reports the status Place would return, without changing the
// pipeline or counting the attempt in placement metrics.
func (p *Pipeline) Fits(ds DS, deps []DSID, placer Placer) PlacementStatus {
	return p.Clone().place(ds, deps, placer)
}

func (p *Pipeline) place(ds DS, deps []DSID, placer Placer) PlacementStatus {
	if _, ok := p.placements[ds.ID()]; ok {
		return PlacementInconsistent
	}

	minStage := 0
	for _, d := range deps {
		if d == ds.ID() {
			return PlacementSelfDependence
		}
		pl, ok := p.placements[d]
		if !ok {
			return PlacementInconsistent
		}
		last := pl.LastStage()
		if last < 0 {
			continue
		}
		if pl.Kind != KindHash {
			last++
		}
		if last > minStage {
			minStage = last
		}
	}

	var (
		units   []Unit
		prev    []int
		digests []DS
	)
	for _, layer := range Layers(ds) {
		var cur []int
		for _, prim := range layer {
			if prim.Kind() == KindDigest {
				digests = append(digests, prim)
				continue
			}
			units = append(units, Unit{
				DS:       prim,
				Demand:   prim.Demand(p.props),
				Deps:     prev,
				MinStage: minStage,
			})
			cur = append(cur, len(units)-1)
		}
		if len(cur) > 0 {
			prev = cur
		}
	}
	if p.digests+len(digests) > p.props.DigestChannels {
		return PlacementDigestChannelsExhausted
	}

	var parts []Part
	if len(units) > 0 {
		var status PlacementStatus
		parts, status = placer.Assign(&Request{
			Props:    p.props,
			Capacity: p.capacity,
			Used:     p.used,
			Units:    units,
		})
		if !status.OK() {
			return status
		}
	}

	p.commit(ds, units, parts, digests)
	return PlacementSuccess
}

func (p *Pipeline) commit(ds DS, units []Unit, parts []Part, digests []DS) {
	stagesByUnit := make([][]int, len(units))
	partsByUnit := make([][]DSID, len(units))
	for _, part := range parts {
		p.used[part.Stage] = p.used[part.Stage].Add(part.Demand)
		stagesByUnit[part.Unit] = append(stagesByUnit[part.Unit], part.Stage)
		if part.DS.ID() != units[part.Unit].DS.ID() {
			partsByUnit[part.Unit] = append(partsByUnit[part.Unit], part.DS.ID())
			p.placements[part.DS.ID()] = Placement{ID: part.DS.ID(), Kind: part.DS.Kind(), Stages: []int{part.Stage}}
		}
	}

	var all []int
	for i, u := range units {
		stages := distinct(stagesByUnit[i])
		p.placements[u.DS.ID()] = Placement{ID: u.DS.ID(), Kind: u.DS.Kind(), Stages: stages, Parts: partsByUnit[i]}
		all = append(all, stages...)
	}
	for _, d := range digests {
		p.placements[d.ID()] = Placement{ID: d.ID(), Kind: KindDigest}
	}
	p.digests += len(digests)

	if !ds.Primitive() {
		p.placements[ds.ID()] = Placement{ID: ds.ID(), Kind: ds.Kind(), Stages: distinct(all)}
	}
}

func distinct(stages []int) []int {
	if len(stages) == 0 {
		return nil
	}
	out := append([]int(nil), stages...)
	sort.Ints(out)
	n := 1
	for i := 1; i < len(out); i++ {
		if out[i] != out[n-1] {
			out[n] = out[i]
			n++
		}
	}
	return out[:n]
}

// Clone returns an independent copy. Placed DS values are immutable and
// shared.
func (p *Pipeline) Clone() *Pipeline {
	placements := make(map[DSID]Placement, len(p.placements))
	for id, pl := range p.placements {
		placements[id] = pl
	}
	return &Pipeline{
		props:      p.props,
		capacity:   p.capacity,
		used:       append([]Demand(nil), p.used...),
		placements: placements,
		digests:    p.digests,
		parser:     p.parser.Clone(),
	}
}

// StageUsage is the consumption of one stage.
type StageUsage struct {
	Stage    int    `json:"stage"`
	Used     Demand `json:"used"`
	Capacity Demand `json:"capacity"`
}

// Usage summarizes the pipeline for reports and snapshots.
type Usage struct {
	Stages         []StageUsage `json:"stages"`
	StagesInUse    int          `json:"stages_in_use"`
	DigestsUsed    int          `json:"digests_used"`
	DigestChannels int          `json:"digest_channels"`
	Structures     int          `json:"structures"`
}

// Usage returns the current consumption.
func (p *Pipeline) Usage() Usage {
	u := Usage{
		DigestsUsed:    p.digests,
		DigestChannels: p.props.DigestChannels,
		Structures:     len(p.placements),
	}
	for i, d := range p.used {
		u.Stages = append(u.Stages, StageUsage{Stage: i, Used: d, Capacity: p.capacity})
		if !d.IsZero() {
			u.StagesInUse++
		}
	}
	return u
}
