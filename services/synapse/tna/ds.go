// Copyright (C) 2025 The Synapse Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See <https://www.gnu.org/licenses/agpl-3.0.html> for the full license text.

package tna

import (
	"fmt"
	"math/bits"
)

// DSID identifies a data structure within one plan.
type DSID string

// DSKind is the kind of a switch data structure.
type DSKind int

const (
	KindTable DSKind = iota
	KindRegister
	KindHash
	KindMeter
	KindDigest
	KindLPM
	KindCountMinSketch
	KindCuckooHashTable
	KindFCFSCachedTable
	KindHHTable
	KindGuardedMapTable
	KindVectorTable
	KindVectorRegister
	KindDchainTable
)

var dsKindNames = [...]string{
	KindTable:           "table",
	KindRegister:        "register",
	KindHash:            "hash",
	KindMeter:           "meter",
	KindDigest:          "digest",
	KindLPM:             "lpm",
	KindCountMinSketch:  "count_min_sketch",
	KindCuckooHashTable: "cuckoo_hash_table",
	KindFCFSCachedTable: "fcfs_cached_table",
	KindHHTable:         "hh_table",
	KindGuardedMapTable: "guarded_map_table",
	KindVectorTable:     "vector_table",
	KindVectorRegister:  "vector_register",
	KindDchainTable:     "dchain_table",
}

// String returns the string representation of the kind.
func (k DSKind) String() string {
	if k >= 0 && int(k) < len(dsKindNames) {
		return dsKindNames[k]
	}
	return fmt.Sprintf("DSKind(%d)", int(k))
}

// MarshalText encodes the kind by name.
func (k DSKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// UnmarshalText decodes a kind name.
func (k *DSKind) UnmarshalText(b []byte) error {
	for v, name := range dsKindNames {
		if name == string(b) {
			*k = DSKind(v)
			return nil
		}
	}
	return fmt.Errorf("unknown data structure kind %q", b)
}

// DS is a switch data structure.
//
// Primitives report their own per-stage Demand and have no internals.
// Composites report zero demand and decompose into layers via Internals:
// every structure of layer i+1 depends on every structure of layer i.
//
// DS values are immutable; plans share them freely across clones.
type DS interface {
	ID() DSID
	Kind() DSKind
	Primitive() bool
	Demand(p Properties) Demand
	Internals() [][]DS
}

// Splittable is a primitive whose entries may be spread across consecutive
// stages, each part consuming its own crossbar and logical id.
type Splittable interface {
	DS
	Entries() int
	Part(index, entries int) DS
}

func sum(widths []int) int {
	total := 0
	for _, w := range widths {
		total += w
	}
	return total
}

func indexBits(capacity int) int {
	if capacity <= 1 {
		return 1
	}
	return bits.Len(uint(capacity - 1))
}

// =============================================================================
// Primitives
// =============================================================================

// Table is an exact-match table.
type Table struct {
	Name     DSID
	Capacity int
	Keys     []int // field widths in bits
	Params   []int // action parameter widths in bits
}

func (t *Table) ID() DSID          { return t.Name }
func (t *Table) Kind() DSKind      { return KindTable }
func (t *Table) Primitive() bool   { return true }
func (t *Table) Internals() [][]DS { return nil }
func (t *Table) Entries() int      { return t.Capacity }

// Demand charges the key through the exact crossbar and key plus action data
// in SRAM, rounded to whole blocks.
func (t *Table) Demand(p Properties) Demand {
	return Demand{
		SRAM:       p.sramBits(t.Capacity * (sum(t.Keys) + sum(t.Params))),
		Xbar:       sum(t.Keys),
		LogicalIDs: 1,
	}
}

// Part returns a table holding entries of t's capacity.
func (t *Table) Part(index, entries int) DS {
	return &Table{
		Name:     DSID(fmt.Sprintf("%s_part%d", t.Name, index)),
		Capacity: entries,
		Keys:     t.Keys,
		Params:   t.Params,
	}
}

// RegisterAction is an operation a register's stateful ALU performs.
type RegisterAction int

const (
	RegisterRead RegisterAction = iota
	RegisterWrite
	RegisterSwap
	RegisterIncrement
	RegisterConditionalWrite
)

// Register is a stateful array accessed through one stateful ALU.
type Register struct {
	Name      DSID
	Capacity  int
	IndexBits int
	ValueBits int
	Actions   []RegisterAction
}

// NewRegister returns a register whose index width matches its capacity.
func NewRegister(name DSID, capacity, valueBits int, actions ...RegisterAction) *Register {
	return &Register{
		Name:      name,
		Capacity:  capacity,
		IndexBits: indexBits(capacity),
		ValueBits: valueBits,
		Actions:   actions,
	}
}

func (r *Register) ID() DSID          { return r.Name }
func (r *Register) Kind() DSKind      { return KindRegister }
func (r *Register) Primitive() bool   { return true }
func (r *Register) Internals() [][]DS { return nil }

// Demand charges the index through the exact crossbar, the cells in SRAM
// with map RAM shadowing, one stateful ALU and the logical id of the table
// that triggers it.
func (r *Register) Demand(p Properties) Demand {
	sram := p.sramBits(r.Capacity * r.ValueBits)
	return Demand{
		SRAM:       sram,
		MapRAM:     p.mapRAMBits(sram),
		Xbar:       r.IndexBits,
		LogicalIDs: 1,
		SALUs:      1,
	}
}

// Hash computes a digest of key fields in a hash distribution unit.
type Hash struct {
	Name    DSID
	Keys    []int
	OutBits int
}

func (h *Hash) ID() DSID          { return h.Name }
func (h *Hash) Kind() DSKind      { return KindHash }
func (h *Hash) Primitive() bool   { return true }
func (h *Hash) Internals() [][]DS { return nil }

func (h *Hash) Demand(Properties) Demand {
	return Demand{Xbar: sum(h.Keys), HashUnits: 1}
}

// Meter is a token-bucket rate limiter keyed by flow.
type Meter struct {
	Name     DSID
	Capacity int
	Rate     uint64
	Burst    uint64
	Keys     []int
}

func (m *Meter) ID() DSID          { return m.Name }
func (m *Meter) Kind() DSKind      { return KindMeter }
func (m *Meter) Primitive() bool   { return true }
func (m *Meter) Internals() [][]DS { return nil }

// meterCellBits is the state kept per meter cell.
const meterCellBits = 128

func (m *Meter) Demand(p Properties) Demand {
	sram := p.sramBits(m.Capacity * (sum(m.Keys) + meterCellBits))
	return Demand{
		SRAM:       sram,
		MapRAM:     p.mapRAMBits(sram),
		Xbar:       sum(m.Keys),
		LogicalIDs: 1,
		SALUs:      1,
	}
}

// Digest sends selected fields to the control plane on a digest channel.
// It lives in the deparser and consumes no stage resources.
type Digest struct {
	Name   DSID
	Fields []int
}

func (d *Digest) ID() DSID                 { return d.Name }
func (d *Digest) Kind() DSKind             { return KindDigest }
func (d *Digest) Primitive() bool          { return true }
func (d *Digest) Internals() [][]DS        { return nil }
func (d *Digest) Demand(Properties) Demand { return Demand{} }

// LPM is a longest-prefix-match table on a 32-bit key, backed by TCAM.
type LPM struct {
	Name     DSID
	Capacity int
	Params   []int
}

// lpmKeyBits is the fixed key width of LPM tables.
const lpmKeyBits = 32

func (l *LPM) ID() DSID          { return l.Name }
func (l *LPM) Kind() DSKind      { return KindLPM }
func (l *LPM) Primitive() bool   { return true }
func (l *LPM) Internals() [][]DS { return nil }
func (l *LPM) Entries() int      { return l.Capacity }

func (l *LPM) Demand(p Properties) Demand {
	return Demand{
		TCAM:        p.tcamBits(l.Capacity * lpmKeyBits),
		SRAM:        p.sramBits(l.Capacity * sum(l.Params)),
		TernaryXbar: lpmKeyBits,
		LogicalIDs:  1,
	}
}

func (l *LPM) Part(index, entries int) DS {
	return &LPM{Name: DSID(fmt.Sprintf("%s_part%d", l.Name, index)), Capacity: entries, Params: l.Params}
}

// =============================================================================
// Composites
// =============================================================================

type composite struct {
	name   DSID
	kind   DSKind
	layers [][]DS
}

func (c *composite) ID() DSID                 { return c.name }
func (c *composite) Kind() DSKind             { return c.kind }
func (c *composite) Primitive() bool          { return false }
func (c *composite) Demand(Properties) Demand { return Demand{} }
func (c *composite) Internals() [][]DS        { return c.layers }

func child(parent DSID, suffix string, i int) DSID {
	return DSID(fmt.Sprintf("%s_%s%d", parent, suffix, i))
}

// CountMinSketch is Height rows of Width counters. Each row is a hash feeding
// a register.
type CountMinSketch struct {
	composite
	Width  int
	Height int
}

// NewCountMinSketch builds a sketch over keys.
func NewCountMinSketch(name DSID, width, height int, keys []int) *CountMinSketch {
	cms := &CountMinSketch{composite: composite{name: name, kind: KindCountMinSketch}, Width: width, Height: height}
	hashes := make([]DS, height)
	rows := make([]DS, height)
	for i := 0; i < height; i++ {
		hashes[i] = &Hash{Name: child(name, "hash", i), Keys: keys, OutBits: indexBits(width)}
		rows[i] = NewRegister(child(name, "row", i), width, 32, RegisterRead, RegisterIncrement)
	}
	cms.layers = [][]DS{hashes, rows}
	return cms
}

// CuckooHashTable is two tables looked up in sequence with a bloom filter in
// front; failed insertions recirculate up to MaxRecirculations times.
type CuckooHashTable struct {
	composite
	Capacity          int
	MaxRecirculations int
}

// NewCuckooHashTable builds a cuckoo table over keys with params as values.
func NewCuckooHashTable(name DSID, capacity int, keys, params []int, maxRecirc int) *CuckooHashTable {
	half := (capacity + 1) / 2
	c := &CuckooHashTable{
		composite:         composite{name: name, kind: KindCuckooHashTable},
		Capacity:          capacity,
		MaxRecirculations: maxRecirc,
	}
	c.layers = [][]DS{
		{
			&Hash{Name: child(name, "hash", 0), Keys: keys, OutBits: indexBits(half)},
			&Hash{Name: child(name, "hash", 1), Keys: keys, OutBits: indexBits(half)},
			NewRegister(child(name, "bloom", 0), capacity, 1, RegisterRead, RegisterWrite),
		},
		{&Table{Name: child(name, "table", 0), Capacity: half, Keys: keys, Params: params}},
		{&Table{Name: child(name, "table", 1), Capacity: half, Keys: keys, Params: params}},
	}
	return c
}

// FCFSCachedTable fronts a table with a register cache: flows that miss the
// table claim a cache slot on a first-come-first-served basis until the
// controller installs them.
type FCFSCachedTable struct {
	composite
	Capacity      int
	CacheCapacity int
}

// NewFCFSCachedTable builds the table, its hash and the cache registers.
func NewFCFSCachedTable(name DSID, capacity, cacheCapacity int, keys, params []int) *FCFSCachedTable {
	f := &FCFSCachedTable{
		composite:     composite{name: name, kind: KindFCFSCachedTable},
		Capacity:      capacity,
		CacheCapacity: cacheCapacity,
	}
	regs := []DS{NewRegister(child(name, "expirator", 0), cacheCapacity, 32, RegisterRead, RegisterWrite, RegisterConditionalWrite)}
	for i := 0; i < (sum(keys)+31)/32; i++ {
		regs = append(regs, NewRegister(child(name, "key", i), cacheCapacity, 32, RegisterRead, RegisterSwap))
	}
	f.layers = [][]DS{
		{&Table{Name: child(name, "table", 0), Capacity: capacity, Keys: keys, Params: params}},
		{&Hash{Name: child(name, "hash", 0), Keys: keys, OutBits: indexBits(cacheCapacity)}},
		regs,
	}
	return f
}

// HHTable tracks heavy hitters: a table of known elephants, a count-min
// sketch for the rest, a threshold register and a digest to report newcomers.
type HHTable struct {
	composite
	Capacity int
}

// NewHHTable builds the heavy-hitter structure.
func NewHHTable(name DSID, capacity int, keys, params []int, cmsWidth, cmsHeight int) *HHTable {
	h := &HHTable{composite: composite{name: name, kind: KindHHTable}, Capacity: capacity}
	h.layers = [][]DS{
		{
			&Table{Name: child(name, "table", 0), Capacity: capacity, Keys: keys, Params: params},
			NewCountMinSketch(child(name, "cms", 0), cmsWidth, cmsHeight, keys),
		},
		{NewRegister(child(name, "threshold", 0), 1, 32, RegisterRead)},
		{&Digest{Name: child(name, "digest", 0), Fields: keys}},
	}
	return h
}

// GuardedMapTable is a table behind a single-cell guard register that lets
// the controller block data-plane writes while it updates the table.
type GuardedMapTable struct {
	composite
	Capacity int
}

// NewGuardedMapTable builds the guard and the table.
func NewGuardedMapTable(name DSID, capacity int, keys, params []int) *GuardedMapTable {
	g := &GuardedMapTable{composite: composite{name: name, kind: KindGuardedMapTable}, Capacity: capacity}
	g.layers = [][]DS{
		{NewRegister(child(name, "guard", 0), 1, 8, RegisterRead)},
		{&Table{Name: child(name, "table", 0), Capacity: capacity, Keys: keys, Params: params}},
	}
	return g
}

// VectorTable serves a read-mostly vector as a table keyed by index.
type VectorTable struct {
	composite
	Capacity  int
	ValueBits int
}

// NewVectorTable builds the index table.
func NewVectorTable(name DSID, capacity, valueBits int) *VectorTable {
	v := &VectorTable{composite: composite{name: name, kind: KindVectorTable}, Capacity: capacity, ValueBits: valueBits}
	v.layers = [][]DS{{&Table{Name: child(name, "table", 0), Capacity: capacity, Keys: []int{32}, Params: []int{valueBits}}}}
	return v
}

// VectorRegister stores a vector in registers, one per 32-bit value chunk.
type VectorRegister struct {
	composite
	Capacity  int
	ValueBits int
}

// NewVectorRegister builds the chunk registers.
func NewVectorRegister(name DSID, capacity, valueBits int) *VectorRegister {
	v := &VectorRegister{composite: composite{name: name, kind: KindVectorRegister}, Capacity: capacity, ValueBits: valueBits}
	chunks := (valueBits + 31) / 32
	if chunks == 0 {
		chunks = 1
	}
	regs := make([]DS, chunks)
	for i := range regs {
		regs[i] = NewRegister(child(name, "chunk", i), capacity, 32, RegisterRead, RegisterWrite)
	}
	v.layers = [][]DS{regs}
	return v
}

// Registers returns the chunk registers in value order.
func (v *VectorRegister) Registers() []DS { return v.layers[0] }

// DchainTable tracks allocated indexes of a double chain as a table.
type DchainTable struct {
	composite
	Capacity int
}

// NewDchainTable builds the index table.
func NewDchainTable(name DSID, capacity int) *DchainTable {
	d := &DchainTable{composite: composite{name: name, kind: KindDchainTable}, Capacity: capacity}
	d.layers = [][]DS{{&Table{Name: child(name, "table", 0), Capacity: capacity, Keys: []int{32}, Params: []int{8}}}}
	return d
}

// =============================================================================
// Flattening
// =============================================================================

// Layers decomposes ds into layers of primitives. Nested composites are
// expanded in place, so a composite at layer i whose own internals span k
// layers occupies layers i..i+k-1.
func Layers(ds DS) [][]DS {
	if ds.Primitive() {
		return [][]DS{{ds}}
	}
	var out [][]DS
	for _, layer := range ds.Internals() {
		base := len(out)
		depth := 0
		for _, item := range layer {
			sub := Layers(item)
			for i, l := range sub {
				for len(out) <= base+i {
					out = append(out, nil)
				}
				out[base+i] = append(out[base+i], l...)
			}
			if len(sub) > depth {
				depth = len(sub)
			}
		}
		for len(out) < base+depth {
			out = append(out, nil)
		}
	}
	return out
}

// Primitives returns every primitive of ds in layer order.
func Primitives(ds DS) []DS {
	var out []DS
	for _, l := range Layers(ds) {
		out = append(out, l...)
	}
	return out
}
