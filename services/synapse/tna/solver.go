// Copyright (C) 2025 The Synapse Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See <https://www.gnu.org/licenses/agpl-3.0.html> for the full license text.

package tna

import (
	"github.com/go-air/gini"
	"github.com/go-air/gini/z"
)

// DefaultSolverIterations bounds the refinement rounds of SolverPlacer.
const DefaultSolverIterations = 64

// SolverPlacer finds any stage assignment satisfying dependencies and
// capacities with a SAT solver.
//
// Each unit gets one boolean per stage, constrained to exactly one true.
// Dependency ordering is encoded up front. Stage capacities are refined
// lazily: every model is checked and each overloaded stage contributes a
// clause forbidding that exact co-location, until a model fits or the
// iteration bound is hit.
//
// Splittable units larger than an empty stage are cut into stage-sized
// chunks before encoding.
type SolverPlacer struct {
	MaxIterations int
}

// NewSolverPlacer returns a solver placer with DefaultSolverIterations.
func NewSolverPlacer() *SolverPlacer {
	return &SolverPlacer{MaxIterations: DefaultSolverIterations}
}

// Name implements Placer.
func (*SolverPlacer) Name() string { return "solver" }

type solverItem struct {
	unit   int
	ds     DS
	demand Demand
}

// Assign implements Placer.
func (sp *SolverPlacer) Assign(req *Request) ([]Part, PlacementStatus) {
	items, byUnit, status := chunkUnits(req)
	if !status.OK() {
		return nil, status
	}
	stages := len(req.Used)
	lit := func(item, stage int) z.Lit {
		return z.Var(1 + item*stages + stage).Pos()
	}

	g := gini.New()
	allowed := make([][]int, len(items))
	for i, it := range items {
		lb := req.Units[it.unit].MinStage
		why := blockers{}
		for s := 0; s < stages; s++ {
			if s >= lb && req.Used[s].Add(it.demand).Within(req.Capacity) {
				allowed[i] = append(allowed[i], s)
				continue
			}
			if s >= lb {
				why.note(req.Used[s], it.demand, req.Capacity)
			}
			g.Add(lit(i, s).Not())
			g.Add(z.LitNull)
		}
		if len(allowed[i]) == 0 {
			return nil, why.status()
		}
		for _, s := range allowed[i] {
			g.Add(lit(i, s))
		}
		g.Add(z.LitNull)
		for a := 0; a < len(allowed[i]); a++ {
			for b := a + 1; b < len(allowed[i]); b++ {
				g.Add(lit(i, allowed[i][a]).Not())
				g.Add(lit(i, allowed[i][b]).Not())
				g.Add(z.LitNull)
			}
		}
	}

	for i, it := range items {
		for _, dep := range req.Units[it.unit].Deps {
			strict := req.Units[dep].DS.Kind() != KindHash
			for _, j := range byUnit[dep] {
				for _, si := range allowed[i] {
					for _, sj := range allowed[j] {
						if si < sj || (strict && si == sj) {
							g.Add(lit(i, si).Not())
							g.Add(lit(j, sj).Not())
							g.Add(z.LitNull)
						}
					}
				}
			}
		}
	}

	limit := sp.MaxIterations
	if limit <= 0 {
		limit = DefaultSolverIterations
	}
	assigned := make([]int, len(items))
	for iter := 0; iter < limit; iter++ {
		if g.Solve() != 1 {
			return nil, PlacementNoAvailableStage
		}
		for i := range items {
			for _, s := range allowed[i] {
				if g.Value(lit(i, s)) {
					assigned[i] = s
					break
				}
			}
		}

		load := append([]Demand(nil), req.Used...)
		members := make([][]int, stages)
		for i, it := range items {
			s := assigned[i]
			load[s] = load[s].Add(it.demand)
			members[s] = append(members[s], i)
		}
		overloaded := false
		for s := 0; s < stages; s++ {
			if load[s].Within(req.Capacity) {
				continue
			}
			overloaded = true
			for _, i := range members[s] {
				g.Add(lit(i, s).Not())
			}
			g.Add(z.LitNull)
		}
		if overloaded {
			continue
		}

		parts := make([]Part, len(items))
		for i, it := range items {
			parts[i] = Part{Unit: it.unit, DS: it.ds, Stage: assigned[i], Demand: it.demand}
		}
		return parts, PlacementSuccess
	}
	return nil, PlacementSolverLimit
}

// chunkUnits expands units into solver items, cutting oversized splittable
// units into parts that each fit an empty stage.
func chunkUnits(req *Request) ([]solverItem, [][]int, PlacementStatus) {
	var items []solverItem
	byUnit := make([][]int, len(req.Units))
	for ui, u := range req.Units {
		if u.Demand.Within(req.Capacity) {
			byUnit[ui] = append(byUnit[ui], len(items))
			items = append(items, solverItem{unit: ui, ds: u.DS, demand: u.Demand})
			continue
		}
		sp, ok := u.DS.(Splittable)
		if !ok {
			return nil, nil, PlacementTooLarge
		}
		chunk := maxEntries(sp, req.Props, Demand{}, req.Capacity, sp.Entries())
		if chunk == 0 {
			return nil, nil, PlacementTooLarge
		}
		for idx, remaining := 0, sp.Entries(); remaining > 0; idx++ {
			n := chunk
			if remaining < n {
				n = remaining
			}
			part := sp.Part(idx, n)
			byUnit[ui] = append(byUnit[ui], len(items))
			items = append(items, solverItem{unit: ui, ds: part, demand: part.Demand(req.Props)})
			remaining -= n
		}
	}
	return items, byUnit, PlacementSuccess
}
