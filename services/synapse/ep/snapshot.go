// Copyright (C) 2025 The Synapse Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See <https://www.gnu.org/licenses/agpl-3.0.html> for the full license text.

package ep

import (
	"fmt"
	"strconv"

	"github.com/cespare/xxhash/v2"

	"github.com/snaplab-dpss/synapse/services/synapse/tna"
)

// ModuleSnapshot is the serializable form of one plan node.
type ModuleSnapshot struct {
	ID         int        `json:"id"`
	Parent     int        `json:"parent"`
	Type       string     `json:"type"`
	Target     string     `json:"target"`
	NextTarget string     `json:"next_target,omitempty"`
	Node       int        `json:"node"`
	Args       ModuleArgs `json:"args"`
	Summary    string     `json:"summary"`
}

// LeafSnapshot is the serializable form of a frontier leaf.
type LeafSnapshot struct {
	Node   int    `json:"node"`
	Next   int    `json:"next"`
	Target string `json:"target"`
}

// TofinoSnapshot is the serializable state of one switch.
type TofinoSnapshot struct {
	Usage      tna.Usage       `json:"usage"`
	Placements []tna.Placement `json:"placements"`
	Headers    []tna.Header    `json:"headers,omitempty"`
}

// HostSnapshot is the serializable state of one controller or x86 target.
type HostSnapshot struct {
	MemoryBytes int64    `json:"memory_bytes"`
	Objects     []uint64 `json:"objects"`
}

// MetaSnapshot is the serializable form of Meta.
type MetaSnapshot struct {
	Depth     int            `json:"depth"`
	Nodes     int            `json:"nodes"`
	Processed int            `json:"processed"`
	Total     int            `json:"total"`
	Progress  float64        `json:"progress"`
	ByType    map[string]int `json:"by_type"`
	Steps     map[string]int `json:"steps"`
}

// Snapshot is a read-only serializable view of a plan, consumed by storage
// and reports.
type Snapshot struct {
	Modules       []ModuleSnapshot          `json:"modules"`
	Leaves        []LeafSnapshot            `json:"leaves"`
	Finished      bool                      `json:"finished"`
	Meta          MetaSnapshot              `json:"meta"`
	Ledger        []LedgerEntry             `json:"ledger"`
	Tofino        map[string]TofinoSnapshot `json:"tofino,omitempty"`
	Hosts         map[string]HostSnapshot   `json:"hosts,omitempty"`
	ThroughputPPS float64                   `json:"throughput_pps"`
	ThroughputBps float64                   `json:"throughput_bps"`
	Fingerprint   string                    `json:"fingerprint"`
}

// Snapshot returns the serializable view of p.
func (p *Plan) Snapshot() Snapshot {
	s := Snapshot{
		Finished: p.Finished(),
		Ledger:   p.ctx.Ledger(),
		Meta: MetaSnapshot{
			Depth:     p.meta.Depth,
			Nodes:     p.meta.Nodes,
			Processed: p.meta.Processed,
			Total:     p.meta.Total,
			Progress:  p.meta.Progress(),
			ByType:    make(map[string]int, len(p.meta.ByType)),
			Steps:     make(map[string]int, len(p.meta.Steps)),
		},
		ThroughputPPS: p.ctx.Perf().Throughput(),
		ThroughputBps: p.ctx.Perf().ThroughputBps(p.ctx.Profiler().AvgPacketBytes()),
		Fingerprint:   strconv.FormatUint(p.Fingerprint(), 16),
	}
	for t, n := range p.meta.ByType {
		s.Meta.ByType[t.String()] = n
	}
	for t, n := range p.meta.Steps {
		s.Meta.Steps[t.String()] = n
	}

	for i, n := range p.nodes {
		ms := ModuleSnapshot{
			ID:      i,
			Parent:  int(n.parent),
			Type:    n.module.Type.String(),
			Target:  n.module.Target.String(),
			Node:    int(n.module.Node),
			Args:    n.module.Args,
			Summary: n.module.String(),
		}
		if n.module.HandsOff() {
			ms.NextTarget = n.module.NextTarget.String()
		}
		s.Modules = append(s.Modules, ms)
	}
	for _, l := range p.leaves {
		s.Leaves = append(s.Leaves, LeafSnapshot{Node: int(l.Node), Next: int(l.Next), Target: l.Target.String()})
	}

	for _, id := range p.ctx.Targets() {
		tc := p.ctx.Target(id)
		switch tc.Type {
		case TargetTofino:
			if s.Tofino == nil {
				s.Tofino = make(map[string]TofinoSnapshot)
			}
			pipe := tc.Tofino.Pipeline()
			s.Tofino[id.String()] = TofinoSnapshot{
				Usage:      pipe.Usage(),
				Placements: pipe.Placements(),
				Headers:    pipe.Parser().Headers(),
			}
		case TargetController, TargetX86:
			if s.Hosts == nil {
				s.Hosts = make(map[string]HostSnapshot)
			}
			h := p.ctx.Host(id)
			s.Hosts[id.String()] = HostSnapshot{MemoryBytes: h.MemoryBytes(), Objects: h.Objects()}
		}
	}
	return s
}

// Fingerprint hashes the module tree in depth-first order. Two plans that
// reached the same tree through different expansion orders share a
// fingerprint.
func (p *Plan) Fingerprint() uint64 {
	d := xxhash.New()
	if len(p.nodes) == 0 {
		return d.Sum64()
	}
	buf := make([]byte, 0, 128)
	stack := []PlanNodeID{0}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		n := p.nodes[id]
		m := n.module

		buf = buf[:0]
		buf = fmt.Appendf(buf, "%s|%s|%d|%s|%d|%x|", m.Type, m.Target, m.Node, m.NextTarget, m.Args.Impl, m.Args.Object)
		for _, ds := range m.Args.DS {
			buf = append(buf, ds...)
			buf = append(buf, ',')
		}
		buf = strconv.AppendInt(buf, int64(len(n.children)), 10)
		buf = append(buf, ';')
		_, _ = d.Write(buf)

		for i := len(n.children) - 1; i >= 0; i-- {
			stack = append(stack, n.children[i])
		}
	}
	return d.Sum64()
}
