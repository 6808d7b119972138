// Copyright (C) 2025 The Synapse Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See <https://www.gnu.org/licenses/agpl-3.0.html> for the full license text.

package search

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Search metrics, labelled by heuristic preset. Custom heuristics report
// under "custom".
var (
	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "synapse",
		Subsystem: "search",
		Name:      "runs_total",
		Help:      "Search runs by heuristic and outcome",
	}, []string{"heuristic", "outcome"})

	expansionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "synapse",
		Subsystem: "search",
		Name:      "expansions_total",
		Help:      "Plans expanded",
	}, []string{"heuristic"})

	successorsPerExpansion = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "synapse",
		Subsystem: "search",
		Name:      "successors_per_expansion",
		Help:      "Candidate plans produced by one expansion",
		Buckets:   []float64{0, 1, 2, 4, 8, 16, 32, 64},
	})

	runDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "synapse",
		Subsystem: "search",
		Name:      "run_duration_seconds",
		Help:      "Wall-clock duration of search runs",
		Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
	}, []string{"heuristic"})
)

func heuristicLabel(name string) string {
	if _, ok := presets[name]; ok {
		return name
	}
	return "custom"
}
