// Copyright (C) 2025 The Synapse Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See <https://www.gnu.org/licenses/agpl-3.0.html> for the full license text.

package tna

import "fmt"

// PlacementStatus is the outcome of a placement attempt. Anything other than
// PlacementSuccess means the candidate is infeasible and must be dropped.
type PlacementStatus int

const (
	PlacementSuccess PlacementStatus = iota
	PlacementTooLarge
	PlacementTooManyLogicalTables
	PlacementXbarExceeded
	PlacementNoAvailableStage
	PlacementInconsistent
	PlacementSelfDependence
	PlacementDigestChannelsExhausted
	PlacementSolverLimit
)

var placementStatusNames = [...]string{
	PlacementSuccess:                 "success",
	PlacementTooLarge:                "too_large",
	PlacementTooManyLogicalTables:    "too_many_logical_tables",
	PlacementXbarExceeded:            "xbar_exceeded",
	PlacementNoAvailableStage:        "no_available_stage",
	PlacementInconsistent:            "inconsistent_placement",
	PlacementSelfDependence:          "self_dependence",
	PlacementDigestChannelsExhausted: "digest_channels_exhausted",
	PlacementSolverLimit:             "solver_limit",
}

// String returns the metric label form of the status.
func (s PlacementStatus) String() string {
	if s >= 0 && int(s) < len(placementStatusNames) {
		return placementStatusNames[s]
	}
	return fmt.Sprintf("PlacementStatus(%d)", int(s))
}

// OK reports whether the placement succeeded.
func (s PlacementStatus) OK() bool { return s == PlacementSuccess }
