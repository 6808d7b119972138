// Copyright (C) 2025 The Synapse Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See <https://www.gnu.org/licenses/agpl-3.0.html> for the full license text.

// Package profiler exposes the traffic statistics consumed by throughput
// metrics: packet size, offered rate, branch probabilities and per-object
// flow churn.
//
// A Profiler is built once per search run and shared read-only by every plan.
package profiler

import (
	"encoding/json"
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/snaplab-dpss/synapse/services/synapse/bdd"
)

const (
	// DefaultAvgPacketBytes is used when the profile omits the packet size.
	DefaultAvgPacketBytes = 64.0

	// DefaultBranchProbability is the share of traffic taking the true side
	// of a branch without an observed probability.
	DefaultBranchProbability = 0.5

	// DefaultMissRate is the assumed miss rate of an object without churn data.
	DefaultMissRate = 0.1
)

// Profile is the serialized traffic profile.
type Profile struct {
	// AvgPacketBytes is the mean packet size in bytes.
	AvgPacketBytes float64 `yaml:"avg_pkt_bytes" json:"avg_pkt_bytes"`

	// PacketRate is the offered load in packets per second. Zero means
	// unknown, which disables churn-derived miss rates.
	PacketRate float64 `yaml:"pps" json:"pps"`

	// Branches maps branch node ids to the probability of the true side.
	Branches map[bdd.NodeID]float64 `yaml:"branches,omitempty" json:"branches,omitempty"`

	// Churn maps object addresses to new flows per second.
	Churn map[uint64]float64 `yaml:"churn,omitempty" json:"churn,omitempty"`

	// HitRate maps object addresses to an observed lookup hit rate.
	HitRate map[uint64]float64 `yaml:"hit_rate,omitempty" json:"hit_rate,omitempty"`
}

// Profiler answers traffic queries against one trace.
type Profiler struct {
	profile   Profile
	fractions []float64
}

// New precomputes per-node traffic fractions of trace under profile.
//
// Inputs:
//   - trace: The validated program trace.
//   - profile: Observed statistics. Zero values fall back to defaults.
//
// Outputs:
//   - *Profiler: Read-only query object, safe for concurrent use.
func New(trace *bdd.BDD, profile Profile) *Profiler {
	if profile.AvgPacketBytes <= 0 {
		profile.AvgPacketBytes = DefaultAvgPacketBytes
	}
	p := &Profiler{
		profile:   profile,
		fractions: make([]float64, trace.Size()),
	}

	type item struct {
		id   bdd.NodeID
		frac float64
	}
	stack := []item{{trace.Root(), 1}}
	for len(stack) > 0 {
		it := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		p.fractions[it.id] = it.frac

		n := trace.Node(it.id)
		switch n.Kind {
		case bdd.KindBranch:
			prob := p.BranchProbability(n.ID)
			stack = append(stack,
				item{n.OnTrue, it.frac * prob},
				item{n.OnFalse, it.frac * (1 - prob)},
			)
		case bdd.KindCall:
			stack = append(stack, item{n.Next, it.frac})
		}
	}
	return p
}

// Default returns a profiler with default statistics for trace.
func Default(trace *bdd.BDD) *Profiler {
	return New(trace, Profile{})
}

// Profile returns a copy of the underlying profile.
func (p *Profiler) Profile() Profile { return p.profile }

// AvgPacketBytes returns the mean packet size in bytes.
func (p *Profiler) AvgPacketBytes() float64 { return p.profile.AvgPacketBytes }

// PacketRate returns the offered load in packets per second, 0 if unknown.
func (p *Profiler) PacketRate() float64 { return p.profile.PacketRate }

// BranchProbability returns the probability of the true side of a branch.
func (p *Profiler) BranchProbability(id bdd.NodeID) float64 {
	if v, ok := p.profile.Branches[id]; ok {
		return clamp01(v)
	}
	return DefaultBranchProbability
}

// Fraction returns the share of traffic reaching node id.
func (p *Profiler) Fraction(id bdd.NodeID) float64 {
	if id < 0 || int(id) >= len(p.fractions) {
		return 0
	}
	return p.fractions[id]
}

// Churn returns the new-flow rate of the object at addr.
func (p *Profiler) Churn(addr uint64) float64 {
	return p.profile.Churn[addr]
}

// MissRate returns the fraction of lookups on addr expected to miss.
//
// An observed hit rate wins; otherwise churn over offered rate is used; with
// neither, DefaultMissRate applies.
func (p *Profiler) MissRate(addr uint64) float64 {
	if hit, ok := p.profile.HitRate[addr]; ok {
		return clamp01(1 - hit)
	}
	if churn, ok := p.profile.Churn[addr]; ok && p.profile.PacketRate > 0 {
		return clamp01(churn / p.profile.PacketRate)
	}
	return DefaultMissRate
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

// Load reads a YAML or JSON profile from path and binds it to trace.
func Load(path string, trace *bdd.BDD) (*Profiler, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profile %s: %w", path, err)
	}
	var profile Profile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		if jsonErr := json.Unmarshal(data, &profile); jsonErr != nil {
			return nil, fmt.Errorf("parse profile %s: %w", path, err)
		}
	}
	for id, v := range profile.Branches {
		if v < 0 || v > 1 {
			return nil, fmt.Errorf("profile %s: branch %d probability %v outside [0,1]", path, id, v)
		}
	}
	return New(trace, profile), nil
}
