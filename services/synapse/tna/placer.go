// Copyright (C) 2025 The Synapse Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See <https://www.gnu.org/licenses/agpl-3.0.html> for the full license text.

package tna

// Unit is one primitive awaiting a stage.
type Unit struct {
	DS     DS
	Demand Demand

	// Deps are indexes of earlier units this one must follow.
	Deps []int

	// MinStage is the lower bound imposed by already-placed structures.
	MinStage int
}

// Request is a read-only snapshot handed to a Placer.
type Request struct {
	Props    Properties
	Capacity Demand
	Used     []Demand
	Units    []Unit
}

// Part is one primitive (or one split part of it) assigned to a stage.
type Part struct {
	Unit   int
	DS     DS
	Stage  int
	Demand Demand
}

// Placer assigns units to stages. Implementations must not mutate the
// request; the pipeline commits the returned parts only on success.
type Placer interface {
	Name() string
	Assign(req *Request) ([]Part, PlacementStatus)
}

// earliestStage applies the dependency rule: a unit may share the last stage
// of a Hash it depends on, and must come strictly after any other dependency.
func earliestStage(req *Request, unit int, last []int) int {
	u := req.Units[unit]
	earliest := u.MinStage
	for _, d := range u.Deps {
		e := last[d]
		if req.Units[d].DS.Kind() != KindHash {
			e++
		}
		if e > earliest {
			earliest = e
		}
	}
	return earliest
}

// maxEntries returns the largest n <= limit such that part n of sp fits on
// top of used.
func maxEntries(sp Splittable, props Properties, used, capacity Demand, limit int) int {
	lo, hi := 0, limit
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if used.Add(sp.Part(0, mid).Demand(props)).Within(capacity) {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return lo
}

// blockers classifies why a demand could not be placed in any stage.
type blockers map[string]int

func (b blockers) note(used, d, capacity Demand) {
	if r := used.Add(d).exceeded(capacity); r != "" {
		b[r]++
	}
}

func (b blockers) status() PlacementStatus {
	if len(b) == 1 {
		for r := range b {
			switch r {
			case "logical_ids":
				return PlacementTooManyLogicalTables
			case "xbar", "ternary_xbar":
				return PlacementXbarExceeded
			}
		}
	}
	return PlacementNoAvailableStage
}
