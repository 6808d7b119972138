// Copyright (C) 2025 The Synapse Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See <https://www.gnu.org/licenses/agpl-3.0.html> for the full license text.

package tna

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snaplab-dpss/synapse/services/synapse/bdd"
)

// narrowXbar returns a two-stage pipeline with a 512-bit exact crossbar.
func narrowXbar() Properties {
	p := DefaultProperties()
	p.Stages = 2
	p.ExactXbarBitsPerStage = 512
	return p
}

func wideIndexRegister(name DSID) *Register {
	return &Register{Name: name, Capacity: 1, IndexBits: 300, ValueBits: 32}
}

func placers() []Placer {
	return []Placer{NewSimplePlacer(), NewSolverPlacer()}
}

func TestStageCapacity_AppliesMargin(t *testing.T) {
	capacity := narrowXbar().StageCapacity()
	assert.Equal(t, 460, capacity.Xbar)
	assert.Equal(t, 16, capacity.LogicalIDs)

	p := narrowXbar()
	p.Efficiency.Xbar = 1
	assert.Equal(t, 512, p.StageCapacity().Xbar)
}

func TestPlace_CrossbarMarginMovesSecondRegister(t *testing.T) {
	for _, placer := range placers() {
		t.Run(placer.Name(), func(t *testing.T) {
			pipe := NewPipeline(narrowXbar())

			require.Equal(t, PlacementSuccess, pipe.Place(wideIndexRegister("r0"), nil, placer))
			require.Equal(t, PlacementSuccess, pipe.Place(wideIndexRegister("r1"), nil, placer))

			r0, ok := pipe.Placement("r0")
			require.True(t, ok)
			r1, ok := pipe.Placement("r1")
			require.True(t, ok)
			assert.NotEqual(t, r0.Stages, r1.Stages)
			assert.False(t, pipe.Stage(0).Fits(wideIndexRegister("x").Demand(pipe.Properties())))
			assert.Equal(t, 300, pipe.Stage(0).Used.Xbar)
			assert.Equal(t, 300, pipe.Stage(1).Used.Xbar)
		})
	}
}

func TestPlace_SimpleFirstFitOrder(t *testing.T) {
	pipe := NewPipeline(narrowXbar())
	placer := NewSimplePlacer()

	require.Equal(t, PlacementSuccess, pipe.Place(wideIndexRegister("r0"), nil, placer))
	require.Equal(t, PlacementSuccess, pipe.Place(wideIndexRegister("r1"), nil, placer))

	r0, _ := pipe.Placement("r0")
	r1, _ := pipe.Placement("r1")
	assert.Equal(t, []int{0}, r0.Stages)
	assert.Equal(t, []int{1}, r1.Stages)
}

func TestPlace_FailureLeavesPipelineUnchanged(t *testing.T) {
	for _, placer := range placers() {
		t.Run(placer.Name(), func(t *testing.T) {
			pipe := NewPipeline(narrowXbar())
			require.True(t, pipe.Place(wideIndexRegister("r0"), nil, placer).OK())
			require.True(t, pipe.Place(wideIndexRegister("r1"), nil, placer).OK())
			before := pipe.Usage()

			status := pipe.Place(wideIndexRegister("r2"), nil, placer)
			assert.False(t, status.OK())
			assert.Equal(t, before, pipe.Usage())
			_, ok := pipe.Placement("r2")
			assert.False(t, ok)
		})
	}
}

func TestFits_DoesNotCommitOrCount(t *testing.T) {
	placer := NewSimplePlacer()
	counted := func(status PlacementStatus) float64 {
		return testutil.ToFloat64(placementsTotal.WithLabelValues("simple", status.String()))
	}
	pipe := NewPipeline(narrowXbar())
	require.True(t, pipe.Place(wideIndexRegister("r0"), nil, placer).OK())
	require.True(t, pipe.Place(wideIndexRegister("r1"), nil, placer).OK())
	before := pipe.Usage()
	successes, rejections := counted(PlacementSuccess), counted(PlacementXbarExceeded)

	assert.Equal(t, PlacementXbarExceeded, pipe.Fits(wideIndexRegister("r2"), nil, placer))
	assert.True(t, pipe.Fits(&Register{Name: "small", Capacity: 1, IndexBits: 8, ValueBits: 32}, nil, placer).OK())

	assert.Equal(t, before, pipe.Usage())
	_, ok := pipe.Placement("small")
	assert.False(t, ok)
	assert.Equal(t, successes, counted(PlacementSuccess))
	assert.Equal(t, rejections, counted(PlacementXbarExceeded))

	require.True(t, pipe.Place(&Register{Name: "small", Capacity: 1, IndexBits: 8, ValueBits: 32}, nil, placer).OK())
	assert.Equal(t, successes+1, counted(PlacementSuccess))
}

func TestPlace_XbarExceededStatus(t *testing.T) {
	pipe := NewPipeline(narrowXbar())
	placer := NewSimplePlacer()
	pipe.Place(wideIndexRegister("r0"), nil, placer)
	pipe.Place(wideIndexRegister("r1"), nil, placer)
	assert.Equal(t, PlacementXbarExceeded, pipe.Place(wideIndexRegister("r2"), nil, placer))
}

func TestPlace_TooLarge(t *testing.T) {
	for _, placer := range placers() {
		t.Run(placer.Name(), func(t *testing.T) {
			pipe := NewPipeline(narrowXbar())
			huge := &Register{Name: "huge", Capacity: 1, IndexBits: 600, ValueBits: 32}
			assert.Equal(t, PlacementTooLarge, pipe.Place(huge, nil, placer))
		})
	}
}

// threeWideChunks returns a vector register whose three chunk registers each
// need 300 crossbar bits: any two of them overload a narrow stage.
func threeWideChunks(name DSID) *VectorRegister {
	vr := NewVectorRegister(name, 1, 96)
	for _, r := range vr.Registers() {
		r.(*Register).IndexBits = 300
	}
	return vr
}

func TestPlace_SolverRefinement(t *testing.T) {
	pipe := NewPipeline(narrowXbar())
	assert.Equal(t, PlacementNoAvailableStage, pipe.Place(threeWideChunks("vr"), nil, NewSolverPlacer()))
	assert.Equal(t, 0, pipe.Usage().StagesInUse)

	bounded := &SolverPlacer{MaxIterations: 1}
	assert.Equal(t, PlacementSolverLimit, pipe.Place(threeWideChunks("vr"), nil, bounded))

	assert.Equal(t, PlacementXbarExceeded, pipe.Place(threeWideChunks("vr"), nil, NewSimplePlacer()))
}

func TestPlace_Dependencies(t *testing.T) {
	for _, placer := range placers() {
		t.Run(placer.Name(), func(t *testing.T) {
			pipe := NewPipeline(DefaultProperties())

			table := &Table{Name: "t", Capacity: 1024, Keys: []int{32}, Params: []int{16}}
			require.True(t, pipe.Place(table, nil, placer).OK())
			reg := NewRegister("r", 1024, 32, RegisterRead)
			require.True(t, pipe.Place(reg, []DSID{"t"}, placer).OK())

			tp, _ := pipe.Placement("t")
			rp, _ := pipe.Placement("r")
			assert.Greater(t, rp.Stages[0], tp.LastStage())

			hash := &Hash{Name: "h", Keys: []int{32}, OutBits: 10}
			require.True(t, pipe.Place(hash, nil, placer).OK())
			after := NewRegister("after_hash", 1024, 32, RegisterRead)
			require.True(t, pipe.Place(after, []DSID{"h"}, placer).OK())
			hp, _ := pipe.Placement("h")
			ap, _ := pipe.Placement("after_hash")
			assert.GreaterOrEqual(t, ap.Stages[0], hp.LastStage())
		})
	}
}

func TestPlace_Rejections(t *testing.T) {
	pipe := NewPipeline(DefaultProperties())
	placer := NewSimplePlacer()
	reg := NewRegister("r", 16, 32)

	assert.Equal(t, PlacementSelfDependence, pipe.Place(reg, []DSID{"r"}, placer))
	assert.Equal(t, PlacementInconsistent, pipe.Place(reg, []DSID{"missing"}, placer))
	require.True(t, pipe.Place(reg, nil, placer).OK())
	assert.Equal(t, PlacementInconsistent, pipe.Place(reg, nil, placer))
}

func TestPlace_DigestChannels(t *testing.T) {
	props := DefaultProperties()
	props.DigestChannels = 1
	pipe := NewPipeline(props)
	placer := NewSimplePlacer()

	hh1 := NewHHTable("hh1", 1024, []int{32}, []int{16}, 1024, 2)
	hh2 := NewHHTable("hh2", 1024, []int{32}, []int{16}, 1024, 2)
	require.True(t, pipe.Place(hh1, nil, placer).OK())
	assert.Equal(t, PlacementDigestChannelsExhausted, pipe.Place(hh2, nil, placer))
	assert.Equal(t, 1, pipe.Usage().DigestsUsed)
}

func TestPlace_CompositeLayering(t *testing.T) {
	for _, placer := range placers() {
		t.Run(placer.Name(), func(t *testing.T) {
			pipe := NewPipeline(DefaultProperties())
			cuckoo := NewCuckooHashTable("ck", 4096, []int{32}, []int{32}, 2)
			require.True(t, pipe.Place(cuckoo, nil, placer).OK())

			bloom, _ := pipe.Placement("ck_bloom0")
			a, _ := pipe.Placement("ck_table0")
			b, _ := pipe.Placement("ck_table1")
			assert.Greater(t, a.Stages[0], bloom.LastStage())
			assert.Greater(t, b.Stages[0], a.LastStage())

			whole, ok := pipe.Placement("ck")
			require.True(t, ok)
			assert.Equal(t, KindCuckooHashTable, whole.Kind)
			assert.GreaterOrEqual(t, len(whole.Stages), 3)
		})
	}
}

func TestPlace_SplitsLargeTables(t *testing.T) {
	for _, placer := range placers() {
		t.Run(placer.Name(), func(t *testing.T) {
			pipe := NewPipeline(DefaultProperties())
			// 64-bit entries; a derated stage holds 72 blocks, i.e. 147456 entries.
			table := &Table{Name: "big", Capacity: 200000, Keys: []int{32}, Params: []int{32}}
			require.True(t, pipe.Place(table, nil, placer).OK())

			pl, ok := pipe.Placement("big")
			require.True(t, ok)
			assert.Len(t, pl.Parts, 2)
			assert.Len(t, pl.Stages, 2)
			for _, id := range pl.Parts {
				part, ok := pipe.Placement(id)
				require.True(t, ok)
				assert.Len(t, part.Stages, 1)
			}
		})
	}
}

func TestPlace_NoStageLeft(t *testing.T) {
	props := DefaultProperties()
	props.Stages = 1
	pipe := NewPipeline(props)
	placer := NewSimplePlacer()

	require.True(t, pipe.Place(&Table{Name: "t", Capacity: 16, Keys: []int{8}}, nil, placer).OK())
	assert.Equal(t, PlacementNoAvailableStage,
		pipe.Place(NewRegister("r", 16, 32), []DSID{"t"}, placer))
}

func TestPipeline_CloneIsIndependent(t *testing.T) {
	pipe := NewPipeline(narrowXbar())
	placer := NewSimplePlacer()
	require.True(t, pipe.Place(wideIndexRegister("r0"), nil, placer).OK())
	require.True(t, pipe.Parser().Extract(Header{Node: 0, Offset: 0, Bytes: 14}))

	clone := pipe.Clone()
	require.True(t, clone.Place(wideIndexRegister("r1"), nil, placer).OK())
	require.True(t, clone.Parser().Extract(Header{Node: 1, Offset: 14, Bytes: 20}))

	_, ok := pipe.Placement("r1")
	assert.False(t, ok)
	assert.Equal(t, 0, pipe.Stage(1).Used.Xbar)
	assert.Len(t, pipe.Parser().Headers(), 1)
	assert.Len(t, clone.Parser().Headers(), 2)
	assert.Equal(t, 1, pipe.Usage().StagesInUse)
	assert.Equal(t, 2, clone.Usage().StagesInUse)
}

func TestParser_PHVBudget(t *testing.T) {
	p := NewParser(256)
	assert.True(t, p.Extract(Header{Bytes: 20}))
	assert.False(t, p.Extract(Header{Bytes: 20}))
	assert.Equal(t, 96, p.FreePHVBits())

	p.AddSelect(3, bdd.Eq(bdd.Read(bdd.PacketSymbol, 12, 16), bdd.Const(0x800, 16)))
	p.Reject(4)
	assert.Len(t, p.Selects(), 1)
	assert.Equal(t, []bdd.NodeID{4}, p.Rejects())
}

func TestLayers(t *testing.T) {
	hh := NewHHTable("hh", 1024, []int{32}, []int{16}, 512, 3)
	layers := Layers(hh)
	require.Len(t, layers, 4)
	assert.Len(t, layers[0], 4) // table + 3 hashes
	assert.Len(t, layers[1], 3) // sketch rows
	assert.Len(t, layers[2], 1) // threshold
	assert.Equal(t, KindDigest, layers[3][0].Kind())
	assert.Len(t, Primitives(hh), 9)

	table := &Table{Name: "t", Capacity: 1}
	assert.Equal(t, [][]DS{{table}}, Layers(table))
}

func TestProperties_Validate(t *testing.T) {
	assert.NoError(t, DefaultProperties().Validate())
	assert.NoError(t, Tofino2Properties().Validate())

	bad := DefaultProperties()
	bad.Efficiency.LPM = 1.5
	assert.ErrorIs(t, bad.Validate(), ErrInvalidProperties)

	bad = DefaultProperties()
	bad.Stages = 0
	assert.ErrorIs(t, bad.Validate(), ErrInvalidProperties)
}

func TestPlacementStatus_String(t *testing.T) {
	assert.Equal(t, "success", PlacementSuccess.String())
	assert.Equal(t, "solver_limit", PlacementSolverLimit.String())
	assert.Equal(t, "PlacementStatus(99)", PlacementStatus(99).String())
	assert.Equal(t, "other", sanitizePlacerName("mystery"))
}
