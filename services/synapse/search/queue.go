// Copyright (C) 2025 The Synapse Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See <https://www.gnu.org/licenses/agpl-3.0.html> for the full license text.

package search

import (
	"sort"

	"github.com/snaplab-dpss/synapse/services/synapse/ep"
)

// scored is a plan with the score it was inserted under.
type scored struct {
	plan  *ep.Plan
	score Score
	seq   uint64
}

// collection keeps plans best first. Equal scores keep insertion order.
//
// Thread Safety: Not safe for concurrent use; the engine serializes access.
type collection struct {
	items []scored
	seq   uint64
}

func (c *collection) Len() int { return len(c.items) }

// Push inserts p after every plan scoring at least s.
func (c *collection) Push(p *ep.Plan, s Score) {
	i := sort.Search(len(c.items), func(i int) bool { return c.items[i].score.Less(s) })
	c.items = append(c.items, scored{})
	copy(c.items[i+1:], c.items[i:])
	c.items[i] = scored{plan: p, score: s, seq: c.seq}
	c.seq++
}

// Pop removes and returns the best plan. It panics when empty.
func (c *collection) Pop() scored {
	top := c.items[0]
	c.items[0] = scored{}
	c.items = c.items[1:]
	return top
}

// Peek returns the best plan without removing it.
func (c *collection) Peek() (scored, bool) {
	if len(c.items) == 0 {
		return scored{}, false
	}
	return c.items[0], true
}

// Truncate keeps the best n plans and returns how many were dropped.
func (c *collection) Truncate(n int) int {
	if n <= 0 || len(c.items) <= n {
		return 0
	}
	dropped := len(c.items) - n
	clear(c.items[n:])
	c.items = c.items[:n]
	return dropped
}

// Plans returns the plans best first.
func (c *collection) Plans() []*ep.Plan {
	out := make([]*ep.Plan, len(c.items))
	for i, it := range c.items {
		out[i] = it.plan
	}
	return out
}
