// Copyright (C) 2025 The Synapse Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See <https://www.gnu.org/licenses/agpl-3.0.html> for the full license text.

package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snaplab-dpss/synapse/services/synapse/ep"
)

func constMetric(name string, v float64, o Objective) Metric {
	return Metric{Name: name, Fn: func(*ep.Plan) float64 { return v }, Objective: o}
}

func TestScore_LexicographicOrder(t *testing.T) {
	a, b, c := Score{3, 5}, Score{3, 7}, Score{4, 1}

	assert.True(t, a.Less(b), "tie on the first element, second decides")
	assert.True(t, b.Less(c), "first element decides")
	assert.True(t, a.Less(c), "transitivity")

	assert.False(t, b.Less(a))
	assert.False(t, c.Less(b))
	assert.Equal(t, 0, a.Compare(Score{3, 5}))
	assert.False(t, a.Less(a))
}

func TestScore_LengthMismatchPanics(t *testing.T) {
	assert.Panics(t, func() { Score{1}.Compare(Score{1, 2}) })
}

func TestHeuristic_MinIsNegated(t *testing.T) {
	h := Heuristic{Name: "test", Metrics: []Metric{
		constMetric("a", 3, Max),
		constMetric("b", 5, Min),
	}}
	assert.Equal(t, Score{3, -5}, h.Score(nil))
	assert.Equal(t, "a:max,b:min", h.Describe())

	fewer := Heuristic{Metrics: []Metric{constMetric("a", 3, Max), constMetric("b", 2, Min)}}
	assert.True(t, h.Score(nil).Less(fewer.Score(nil)), "smaller value wins a Min metric")
}

func TestPreset(t *testing.T) {
	for _, name := range PresetNames() {
		h, err := Preset(name)
		require.NoError(t, err, name)
		assert.Equal(t, name, h.Name)
		assert.NotEmpty(t, h.Metrics, name)
	}
	assert.Contains(t, PresetNames(), DefaultPreset)

	_, err := Preset("simulated-annealing")
	assert.ErrorIs(t, err, ErrUnknownHeuristic)
}

// assertOrder compares plans by identity.
func assertOrder(t *testing.T, want, got []*ep.Plan) {
	t.Helper()
	require.Len(t, got, len(want))
	for i := range want {
		assert.Same(t, want[i], got[i], "position %d", i)
	}
}

func TestCollection_FIFOTies(t *testing.T) {
	var c collection
	p1, p2, p3, p4 := &ep.Plan{}, &ep.Plan{}, &ep.Plan{}, &ep.Plan{}
	c.Push(p1, Score{1})
	c.Push(p2, Score{2})
	c.Push(p3, Score{1})
	c.Push(p4, Score{2})

	assertOrder(t, []*ep.Plan{p2, p4, p1, p3}, c.Plans())
	assert.Same(t, p2, c.Pop().plan)
	assert.Same(t, p4, c.Pop().plan)

	assert.Equal(t, 1, c.Truncate(1))
	assertOrder(t, []*ep.Plan{p1}, c.Plans())
	assert.Equal(t, 0, c.Truncate(0))
}

func TestBudget_Limits(t *testing.T) {
	b := NewBudget(BudgetConfig{MaxExpansions: 2})
	assert.NoError(t, b.Check())
	assert.Equal(t, 2, b.Remaining())
	b.RecordExpansion()
	b.RecordExpansion()

	err := b.Check()
	assert.ErrorIs(t, err, ErrBudgetExhausted)
	assert.Equal(t, "expansions", b.ExhaustedBy())
	assert.Equal(t, 0, b.Remaining())
	assert.True(t, b.Exhausted())
	assert.Contains(t, b.String(), "EXHAUSTED by expansions")

	unbounded := NewBudget(DefaultBudgetConfig())
	assert.Equal(t, -1, unbounded.Remaining())
	assert.False(t, unbounded.Exhausted())
}
