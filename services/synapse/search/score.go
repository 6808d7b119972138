// Copyright (C) 2025 The Synapse Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See <https://www.gnu.org/licenses/agpl-3.0.html> for the full license text.

package search

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/snaplab-dpss/synapse/services/synapse/ep"
)

// Objective is the direction a metric is optimized in.
type Objective int

const (
	// Max ranks larger values first.
	Max Objective = iota

	// Min ranks smaller values first.
	Min
)

// String returns "max" or "min".
func (o Objective) String() string {
	if o == Min {
		return "min"
	}
	return "max"
}

// Metric is one scoring function of a heuristic.
type Metric struct {
	Name      string
	Fn        func(p *ep.Plan) float64
	Objective Objective
}

// Heuristic is an ordered list of metrics. Earlier metrics dominate later
// ones.
type Heuristic struct {
	Name    string
	Metrics []Metric
}

// Score evaluates every metric against p. Min metrics are negated so that a
// larger Score is always better.
func (h Heuristic) Score(p *ep.Plan) Score {
	s := make(Score, len(h.Metrics))
	for i, m := range h.Metrics {
		v := m.Fn(p)
		if m.Objective == Min {
			v = -v
		}
		s[i] = v
	}
	return s
}

// Describe renders the metric list, e.g. "throughput:max,progress:max".
func (h Heuristic) Describe() string {
	parts := make([]string, len(h.Metrics))
	for i, m := range h.Metrics {
		parts[i] = m.Name + ":" + m.Objective.String()
	}
	return strings.Join(parts, ",")
}

// Score is a vector of metric values compared lexicographically.
type Score []float64

// Compare returns -1, 0 or +1 as s ranks below, equal to or above o.
//
// It panics when the lengths differ: scores from different heuristics are
// not comparable.
func (s Score) Compare(o Score) int {
	if len(s) != len(o) {
		panic(fmt.Sprintf("search: comparing scores of length %d and %d", len(s), len(o)))
	}
	for i := range s {
		switch {
		case s[i] < o[i]:
			return -1
		case s[i] > o[i]:
			return 1
		}
	}
	return 0
}

// Less reports whether s ranks strictly below o.
func (s Score) Less(o Score) bool { return s.Compare(o) < 0 }

func (s Score) String() string {
	parts := make([]string, len(s))
	for i, v := range s {
		parts[i] = strconv.FormatFloat(v, 'g', 6, 64)
	}
	return "[" + strings.Join(parts, " ") + "]"
}
