// Copyright (C) 2025 The Synapse Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See <https://www.gnu.org/licenses/agpl-3.0.html> for the full license text.

package search

import (
	"errors"
	"fmt"
	"sort"

	"github.com/snaplab-dpss/synapse/services/synapse/ep"
)

// ErrUnknownHeuristic is returned by Preset for an unregistered name.
var ErrUnknownHeuristic = errors.New("unknown heuristic")

// =============================================================================
// Metrics
// =============================================================================

func depth(p *ep.Plan) float64 { return float64(p.Meta().Depth) }

func progress(p *ep.Plan) float64 { return p.Meta().Progress() }

func throughput(p *ep.Plan) float64 { return p.Context().Perf().Throughput() }

func recirculation(p *ep.Plan) float64 { return p.Context().Perf().Recirculation }

func controllerLoad(p *ep.Plan) float64 { return p.Context().Perf().Load[ep.TargetController] }

func switchSteps(p *ep.Plan) float64 { return float64(p.Meta().Steps[ep.TargetTofino]) }

// random maps the plan's tie-break draw onto [0, 1).
func random(p *ep.Plan) float64 { return float64(p.Meta().TieBreak>>11) / (1 << 53) }

// switchStructures counts modules implemented by a switch structure.
func switchStructures(p *ep.Plan) float64 {
	n := 0
	for _, m := range p.Modules() {
		if m.Args.Impl.OnTofino() {
			n++
		}
	}
	return float64(n)
}

var (
	metricDepth            = Metric{Name: "depth", Fn: depth}
	metricProgress         = Metric{Name: "progress", Fn: progress, Objective: Max}
	metricThroughput       = Metric{Name: "throughput", Fn: throughput, Objective: Max}
	metricRecirculation    = Metric{Name: "recirculation", Fn: recirculation, Objective: Min}
	metricControllerLoad   = Metric{Name: "controller_load", Fn: controllerLoad, Objective: Min}
	metricSwitchSteps      = Metric{Name: "switch_steps", Fn: switchSteps, Objective: Max}
	metricSwitchStructures = Metric{Name: "switch_structures", Fn: switchStructures, Objective: Max}
	metricRandom           = Metric{Name: "random", Fn: random, Objective: Max}
)

func with(m Metric, o Objective) Metric {
	m.Objective = o
	return m
}

// =============================================================================
// Presets
// =============================================================================

var presets = map[string]func() Heuristic{
	"bfs": func() Heuristic {
		return Heuristic{Name: "bfs", Metrics: []Metric{with(metricDepth, Min)}}
	},
	"dfs": func() Heuristic {
		return Heuristic{Name: "dfs", Metrics: []Metric{with(metricDepth, Max)}}
	},
	"random": func() Heuristic {
		return Heuristic{Name: "random", Metrics: []Metric{metricRandom}}
	},
	"greedy-throughput": func() Heuristic {
		return Heuristic{Name: "greedy-throughput", Metrics: []Metric{metricThroughput, metricProgress}}
	},
	"max-throughput": func() Heuristic {
		return Heuristic{Name: "max-throughput", Metrics: []Metric{
			metricThroughput,
			metricRecirculation,
			metricSwitchStructures,
			metricProgress,
		}}
	},
	"ds-pref": func() Heuristic {
		return Heuristic{Name: "ds-pref", Metrics: []Metric{metricSwitchStructures, metricThroughput, metricProgress}}
	},
	"gallium": func() Heuristic {
		return Heuristic{Name: "gallium", Metrics: []Metric{metricControllerLoad, metricSwitchSteps, metricProgress}}
	},
}

// DefaultPreset is the heuristic used when none is configured.
const DefaultPreset = "greedy-throughput"

// Preset returns the named built-in heuristic.
func Preset(name string) (Heuristic, error) {
	mk, ok := presets[name]
	if !ok {
		return Heuristic{}, fmt.Errorf("%w: %q (known: %v)", ErrUnknownHeuristic, name, PresetNames())
	}
	return mk(), nil
}

// PresetNames lists the built-in heuristics in name order.
func PresetNames() []string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
