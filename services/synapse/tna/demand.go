// Copyright (C) 2025 The Synapse Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See <https://www.gnu.org/licenses/agpl-3.0.html> for the full license text.

package tna

import "fmt"

// Demand is an amount of per-stage resources. It is used both for what a
// primitive needs and for what a stage has consumed or offers.
type Demand struct {
	SRAM        int `json:"sram"`
	MapRAM      int `json:"map_ram"`
	TCAM        int `json:"tcam"`
	Xbar        int `json:"xbar"`
	TernaryXbar int `json:"ternary_xbar"`
	LogicalIDs  int `json:"logical_ids"`
	SALUs       int `json:"salus"`
	HashUnits   int `json:"hash_units"`
}

// Add returns d + o.
func (d Demand) Add(o Demand) Demand {
	return Demand{
		SRAM:        d.SRAM + o.SRAM,
		MapRAM:      d.MapRAM + o.MapRAM,
		TCAM:        d.TCAM + o.TCAM,
		Xbar:        d.Xbar + o.Xbar,
		TernaryXbar: d.TernaryXbar + o.TernaryXbar,
		LogicalIDs:  d.LogicalIDs + o.LogicalIDs,
		SALUs:       d.SALUs + o.SALUs,
		HashUnits:   d.HashUnits + o.HashUnits,
	}
}

// Sub returns d - o.
func (d Demand) Sub(o Demand) Demand {
	return Demand{
		SRAM:        d.SRAM - o.SRAM,
		MapRAM:      d.MapRAM - o.MapRAM,
		TCAM:        d.TCAM - o.TCAM,
		Xbar:        d.Xbar - o.Xbar,
		TernaryXbar: d.TernaryXbar - o.TernaryXbar,
		LogicalIDs:  d.LogicalIDs - o.LogicalIDs,
		SALUs:       d.SALUs - o.SALUs,
		HashUnits:   d.HashUnits - o.HashUnits,
	}
}

// Within reports whether every component of d is at most the one in limit.
func (d Demand) Within(limit Demand) bool {
	return d.exceeded(limit) == ""
}

// exceeded names the first component of d above limit, or "" if none.
func (d Demand) exceeded(limit Demand) string {
	switch {
	case d.LogicalIDs > limit.LogicalIDs:
		return "logical_ids"
	case d.Xbar > limit.Xbar:
		return "xbar"
	case d.TernaryXbar > limit.TernaryXbar:
		return "ternary_xbar"
	case d.SRAM > limit.SRAM:
		return "sram"
	case d.MapRAM > limit.MapRAM:
		return "map_ram"
	case d.TCAM > limit.TCAM:
		return "tcam"
	case d.SALUs > limit.SALUs:
		return "salus"
	case d.HashUnits > limit.HashUnits:
		return "hash_units"
	}
	return ""
}

// IsZero reports whether d consumes nothing.
func (d Demand) IsZero() bool { return d == Demand{} }

func (d Demand) String() string {
	return fmt.Sprintf("sram=%d map_ram=%d tcam=%d xbar=%d txbar=%d ids=%d salus=%d hash=%d",
		d.SRAM, d.MapRAM, d.TCAM, d.Xbar, d.TernaryXbar, d.LogicalIDs, d.SALUs, d.HashUnits)
}

// Stage is one match-action stage: its effective capacity and consumption.
type Stage struct {
	Index    int
	Capacity Demand
	Used     Demand
}

// Free returns the remaining budget of the stage.
func (s Stage) Free() Demand { return s.Capacity.Sub(s.Used) }

// Fits reports whether d can be added to the stage without exceeding its
// effective capacity.
func (s Stage) Fits(d Demand) bool {
	return s.Used.Add(d).Within(s.Capacity)
}
