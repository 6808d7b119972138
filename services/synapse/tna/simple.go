// Copyright (C) 2025 The Synapse Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See <https://www.gnu.org/licenses/agpl-3.0.html> for the full license text.

package tna

// SimplePlacer places units first-fit in stage order.
//
// Exact tables and LPMs that do not fit whole in any eligible stage are split
// into parts over the following stages.
type SimplePlacer struct{}

// NewSimplePlacer returns the first-fit placer.
func NewSimplePlacer() *SimplePlacer { return &SimplePlacer{} }

// Name implements Placer.
func (*SimplePlacer) Name() string { return "simple" }

// Assign implements Placer.
func (*SimplePlacer) Assign(req *Request) ([]Part, PlacementStatus) {
	stages := len(req.Used)
	used := append([]Demand(nil), req.Used...)
	last := make([]int, len(req.Units))
	var parts []Part

	for ui, u := range req.Units {
		earliest := earliestStage(req, ui, last)
		if earliest >= stages {
			return nil, PlacementNoAvailableStage
		}
		sp, splittable := u.DS.(Splittable)
		if !u.Demand.Within(req.Capacity) && !splittable {
			return nil, PlacementTooLarge
		}

		placed := false
		why := blockers{}
		for s := earliest; s < stages; s++ {
			if used[s].Add(u.Demand).Within(req.Capacity) {
				used[s] = used[s].Add(u.Demand)
				parts = append(parts, Part{Unit: ui, DS: u.DS, Stage: s, Demand: u.Demand})
				last[ui] = s
				placed = true
				break
			}
			why.note(used[s], u.Demand, req.Capacity)
		}
		if placed {
			continue
		}
		if !splittable {
			return nil, why.status()
		}

		split, end, ok := splitUnit(req, sp, ui, earliest, used)
		if !ok {
			return nil, PlacementNoAvailableStage
		}
		parts = append(parts, split...)
		last[ui] = end
	}
	return parts, PlacementSuccess
}

// splitUnit spreads sp over stages from earliest on, filling each stage with
// as many entries as it can hold. used is updated in place.
func splitUnit(req *Request, sp Splittable, unit, earliest int, used []Demand) ([]Part, int, bool) {
	remaining := sp.Entries()
	var parts []Part
	end := earliest
	for s := earliest; s < len(used) && remaining > 0; s++ {
		n := maxEntries(sp, req.Props, used[s], req.Capacity, remaining)
		if n == 0 {
			continue
		}
		part := sp.Part(len(parts), n)
		d := part.Demand(req.Props)
		used[s] = used[s].Add(d)
		parts = append(parts, Part{Unit: unit, DS: part, Stage: s, Demand: d})
		remaining -= n
		end = s
	}
	return parts, end, remaining == 0
}
