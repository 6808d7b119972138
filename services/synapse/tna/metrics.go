// Copyright (C) 2025 The Synapse Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See <https://www.gnu.org/licenses/agpl-3.0.html> for the full license text.

package tna

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// knownPlacers bounds the cardinality of the placer label.
var knownPlacers = map[string]bool{
	"simple": true,
	"solver": true,
}

func sanitizePlacerName(name string) string {
	if knownPlacers[name] {
		return name
	}
	return "other"
}

var (
	// placementsTotal counts placement attempts by placer and outcome.
	//
	// Labels:
	//   - placer: "simple", "solver" or "other"
	//   - status: PlacementStatus.String()
	placementsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "synapse",
			Subsystem: "tna",
			Name:      "placements_total",
			Help:      "Data structure placement attempts by placer and outcome",
		},
		[]string{"placer", "status"},
	)
)

func recordPlacement(placer string, status PlacementStatus) {
	placementsTotal.WithLabelValues(sanitizePlacerName(placer), status.String()).Inc()
}
