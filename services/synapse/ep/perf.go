// Copyright (C) 2025 The Synapse Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See <https://www.gnu.org/licenses/agpl-3.0.html> for the full license text.

package ep

import "math"

// PerfModel is the packet processing capacity of each architecture, in
// packets per second.
type PerfModel struct {
	TofinoPPS     float64 `yaml:"tofino_pps" json:"tofino_pps" validate:"gt=0"`
	ControllerPPS float64 `yaml:"controller_pps" json:"controller_pps" validate:"gt=0"`
	X86PPS        float64 `yaml:"x86_pps" json:"x86_pps" validate:"gt=0"`
}

// DefaultPerfModel returns capacities of a 32x100G switch, a single-core
// controller and a DPDK server.
func DefaultPerfModel() PerfModel {
	return PerfModel{
		TofinoPPS:     4.7e9,
		ControllerPPS: 1e6,
		X86PPS:        1.5e7,
	}
}

func (m PerfModel) capacity(t TargetType) float64 {
	switch t {
	case TargetTofino:
		return m.TofinoPPS
	case TargetController:
		return m.ControllerPPS
	default:
		return m.X86PPS
	}
}

// Perf estimates the throughput of a plan from the share of traffic each
// architecture handles.
type Perf struct {
	Model PerfModel

	// Load is the fraction of offered traffic entering each architecture.
	Load map[TargetType]float64

	// Recirculation is the fraction of traffic re-entering the switch.
	Recirculation float64
}

func newPerf(model PerfModel) Perf {
	return Perf{Model: model, Load: make(map[TargetType]float64)}
}

// Enter adds fraction of traffic to architecture t.
func (p *Perf) Enter(t TargetType, fraction float64) {
	p.Load[t] += fraction
}

// Recirculate adds fraction of traffic to the recirculation load.
func (p *Perf) Recirculate(fraction float64) {
	p.Recirculation += fraction
}

// Throughput returns the sustainable offered rate in packets per second:
// the tightest capacity over load ratio. A plan with no load estimates 0.
func (p *Perf) Throughput() float64 {
	best := math.Inf(1)
	for _, t := range TargetTypes {
		load := p.Load[t]
		if t == TargetTofino {
			load += p.Recirculation
		}
		if load <= 0 {
			continue
		}
		best = math.Min(best, p.Model.capacity(t)/load)
	}
	if math.IsInf(best, 1) {
		return 0
	}
	return best
}

// ThroughputBps converts Throughput to bits per second.
func (p *Perf) ThroughputBps(avgPacketBytes float64) float64 {
	return p.Throughput() * avgPacketBytes * 8
}

func (p Perf) clone() Perf {
	load := make(map[TargetType]float64, len(p.Load))
	for t, v := range p.Load {
		load[t] = v
	}
	p.Load = load
	return p
}
