// Copyright (C) 2025 The Synapse Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See <https://www.gnu.org/licenses/agpl-3.0.html> for the full license text.

package ep

import "fmt"

// DSImpl is the implementation chosen for a stateful object.
type DSImpl int

const (
	ImplNone DSImpl = iota

	ImplTofinoTable
	ImplTofinoGuardedMapTable
	ImplTofinoVectorTable
	ImplTofinoVectorRegister
	ImplTofinoDchainTable
	ImplTofinoFCFSCachedTable
	ImplTofinoCuckooHashTable
	ImplTofinoHHTable
	ImplTofinoCountMinSketch
	ImplTofinoMeter
	ImplTofinoLPM

	ImplControllerMap
	ImplControllerVector
	ImplControllerDchain
	ImplControllerCMS
	ImplControllerTokenBucket
	ImplControllerLPM

	ImplX86Map
	ImplX86Vector
	ImplX86Dchain
	ImplX86CMS
	ImplX86TokenBucket
	ImplX86LPM
)

var implNames = [...]string{
	ImplNone:                  "none",
	ImplTofinoTable:           "tofino_table",
	ImplTofinoGuardedMapTable: "tofino_guarded_map_table",
	ImplTofinoVectorTable:     "tofino_vector_table",
	ImplTofinoVectorRegister:  "tofino_vector_register",
	ImplTofinoDchainTable:     "tofino_dchain_table",
	ImplTofinoFCFSCachedTable: "tofino_fcfs_cached_table",
	ImplTofinoCuckooHashTable: "tofino_cuckoo_hash_table",
	ImplTofinoHHTable:         "tofino_hh_table",
	ImplTofinoCountMinSketch:  "tofino_count_min_sketch",
	ImplTofinoMeter:           "tofino_meter",
	ImplTofinoLPM:             "tofino_lpm",
	ImplControllerMap:         "controller_map",
	ImplControllerVector:      "controller_vector",
	ImplControllerDchain:      "controller_dchain",
	ImplControllerCMS:         "controller_cms",
	ImplControllerTokenBucket: "controller_token_bucket",
	ImplControllerLPM:         "controller_lpm",
	ImplX86Map:                "x86_map",
	ImplX86Vector:             "x86_vector",
	ImplX86Dchain:             "x86_dchain",
	ImplX86CMS:                "x86_cms",
	ImplX86TokenBucket:        "x86_token_bucket",
	ImplX86LPM:                "x86_lpm",
}

// String returns the string representation of the implementation.
func (i DSImpl) String() string {
	if i >= 0 && int(i) < len(implNames) {
		return implNames[i]
	}
	return fmt.Sprintf("DSImpl(%d)", int(i))
}

// MarshalText encodes the implementation by name.
func (i DSImpl) MarshalText() ([]byte, error) { return []byte(i.String()), nil }

// UnmarshalText decodes an implementation name.
func (i *DSImpl) UnmarshalText(b []byte) error {
	for v, name := range implNames {
		if name == string(b) {
			*i = DSImpl(v)
			return nil
		}
	}
	return fmt.Errorf("unknown implementation %q", b)
}

// OnTofino reports whether the implementation lives in the switch pipeline.
func (i DSImpl) OnTofino() bool {
	return i >= ImplTofinoTable && i <= ImplTofinoLPM
}

// Target returns the architecture holding the implementation's state.
func (i DSImpl) Target() TargetType {
	switch {
	case i.OnTofino():
		return TargetTofino
	case i >= ImplControllerMap && i <= ImplControllerLPM:
		return TargetController
	default:
		return TargetX86
	}
}
