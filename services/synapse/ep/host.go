// Copyright (C) 2025 The Synapse Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See <https://www.gnu.org/licenses/agpl-3.0.html> for the full license text.

package ep

import "sort"

// HostObject is an object instantiated in controller or x86 memory.
type HostObject struct {
	Impl  DSImpl `json:"impl"`
	Bytes int64  `json:"bytes"`
}

// HostContext tracks the objects a controller or x86 target instantiates.
type HostContext struct {
	limit   int64
	used    int64
	objects map[uint64]HostObject
}

// NewHostContext returns an empty host context. limit bounds total object
// memory; 0 means unbounded.
func NewHostContext(limit int64) *HostContext {
	return &HostContext{limit: limit, objects: make(map[uint64]HostObject)}
}

// Instantiate records obj in host memory. It reports false if the memory
// limit would be exceeded. Instantiating a present object is a no-op.
func (h *HostContext) Instantiate(obj uint64, impl DSImpl, bytes int64) bool {
	if _, ok := h.objects[obj]; ok {
		return true
	}
	if h.limit > 0 && h.used+bytes > h.limit {
		return false
	}
	h.objects[obj] = HostObject{Impl: impl, Bytes: bytes}
	h.used += bytes
	return true
}

// Fits reports whether Instantiate(obj, _, bytes) would succeed.
func (h *HostContext) Fits(obj uint64, bytes int64) bool {
	if _, ok := h.objects[obj]; ok {
		return true
	}
	return h.limit <= 0 || h.used+bytes <= h.limit
}

// Has reports whether obj is instantiated.
func (h *HostContext) Has(obj uint64) bool {
	_, ok := h.objects[obj]
	return ok
}

// MemoryBytes returns the memory held by instantiated objects.
func (h *HostContext) MemoryBytes() int64 { return h.used }

// Objects returns the instantiated objects sorted by address.
func (h *HostContext) Objects() []uint64 {
	out := make([]uint64, 0, len(h.objects))
	for obj := range h.objects {
		out = append(out, obj)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Clone returns an independent copy.
func (h *HostContext) Clone() *HostContext {
	objects := make(map[uint64]HostObject, len(h.objects))
	for obj, o := range h.objects {
		objects[obj] = o
	}
	return &HostContext{limit: h.limit, used: h.used, objects: objects}
}
