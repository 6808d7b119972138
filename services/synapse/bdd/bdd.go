// Copyright (C) 2025 The Synapse Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See <https://www.gnu.org/licenses/agpl-3.0.html> for the full license text.

// Package bdd holds the program trace consumed by the plan search.
//
// A trace is an immutable tree of Branch, Call and Route nodes stored in an
// arena and addressed by NodeID. Every plan of a search run shares the same
// *BDD; nothing in the search copies or mutates trace nodes.
//
// Thread Safety:
//
//	A validated *BDD is read-only and safe for concurrent use.
package bdd

import (
	"errors"
	"fmt"
	"sort"
)

// ErrMalformedBDD is returned when a trace fails structural validation.
var ErrMalformedBDD = errors.New("malformed program trace")

// BDD is a validated program trace.
type BDD struct {
	nodes   []Node
	root    NodeID
	init    []Call
	devices int
}

// New validates and wraps an arena of nodes.
//
// Inputs:
//   - root: The id of the root node.
//   - nodes: Node arena; nodes[i].ID must equal i. The slice is copied.
//   - calls: Allocation calls executed once before packet processing.
//   - devices: Number of network devices of the program.
//
// Outputs:
//   - *BDD: The validated trace.
//   - error: Wraps ErrMalformedBDD if validation fails.
func New(root NodeID, nodes []Node, calls []Call, devices int) (*BDD, error) {
	b := &BDD{
		nodes:   append([]Node(nil), nodes...),
		root:    root,
		init:    append([]Call(nil), calls...),
		devices: devices,
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	return b, nil
}

// Size returns the number of trace nodes.
func (b *BDD) Size() int { return len(b.nodes) }

// Root returns the root node id.
func (b *BDD) Root() NodeID { return b.root }

// Devices returns the number of devices the program forwards between.
func (b *BDD) Devices() int { return b.devices }

// Init returns the allocation calls of the program.
func (b *BDD) Init() []Call { return b.init }

// Node returns the node with the given id. It panics on unknown ids since a
// validated trace never references one.
func (b *BDD) Node(id NodeID) *Node {
	if id < 0 || int(id) >= len(b.nodes) {
		panic(fmt.Sprintf("bdd: node %d out of range [0,%d)", id, len(b.nodes)))
	}
	return &b.nodes[id]
}

// Successors returns the successors of the node with the given id.
func (b *BDD) Successors(id NodeID) []NodeID {
	return b.Node(id).Successors()
}

// Descendants returns the number of nodes in the subtree rooted at id,
// including id itself.
func (b *BDD) Descendants(id NodeID) int {
	count := 0
	stack := []NodeID{id}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		count++
		stack = append(stack, b.Node(n).Successors()...)
	}
	return count
}

// Allocation returns the init call that allocates the object at addr.
func (b *BDD) Allocation(addr uint64) (Call, bool) {
	for _, c := range b.init {
		for _, a := range c.Args {
			if v, ok := a.Out.Constant(); ok && v == addr {
				return c, true
			}
		}
	}
	return Call{}, false
}

// Objects returns the addresses of all allocated objects in init order.
func (b *BDD) Objects() []uint64 {
	var out []uint64
	for _, c := range b.init {
		names := make([]string, 0, len(c.Args))
		for name := range c.Args {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			if v, ok := c.Args[name].Out.Constant(); ok {
				out = append(out, v)
			}
		}
	}
	return out
}

// Symbols returns the sorted set of symbols the trace reads or generates.
func (b *BDD) Symbols() []string {
	seen := make(map[string]struct{})
	for i := range b.nodes {
		n := &b.nodes[i]
		n.Condition.collectSymbols(seen)
		n.Device.collectSymbols(seen)
		for _, c := range n.Constraints {
			c.collectSymbols(seen)
		}
		for _, a := range n.Call.Args {
			a.Expr.collectSymbols(seen)
			a.In.collectSymbols(seen)
			a.Out.collectSymbols(seen)
		}
		n.Call.Ret.collectSymbols(seen)
		for _, s := range n.Generated {
			seen[s.Name] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for s := range seen {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Walk visits nodes in depth-first pre-order, true side first. Returning
// false from fn stops descent below the visited node.
func (b *BDD) Walk(fn func(n *Node) bool) {
	stack := []NodeID{b.root}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		n := b.Node(id)
		if !fn(n) {
			continue
		}
		succ := n.Successors()
		for i := len(succ) - 1; i >= 0; i-- {
			stack = append(stack, succ[i])
		}
	}
}

// Validate checks the structural invariants of the trace.
//
// The arena must be dense, every successor must exist, every node must be
// reachable from the root through exactly one parent, and every path must end
// in a Route node.
func (b *BDD) Validate() error {
	if len(b.nodes) == 0 {
		return fmt.Errorf("%w: empty trace", ErrMalformedBDD)
	}
	for i := range b.nodes {
		if b.nodes[i].ID != NodeID(i) {
			return fmt.Errorf("%w: node at index %d has id %d", ErrMalformedBDD, i, b.nodes[i].ID)
		}
	}
	if b.root < 0 || int(b.root) >= len(b.nodes) {
		return fmt.Errorf("%w: root %d does not exist", ErrMalformedBDD, b.root)
	}

	parents := make([]int, len(b.nodes))
	parents[b.root]++
	for i := range b.nodes {
		n := &b.nodes[i]
		if err := validateNode(n); err != nil {
			return err
		}
		for _, s := range n.Successors() {
			if s < 0 || int(s) >= len(b.nodes) {
				return fmt.Errorf("%w: node %d references missing node %d", ErrMalformedBDD, n.ID, s)
			}
			parents[s]++
		}
	}
	for id, p := range parents {
		if p > 1 {
			return fmt.Errorf("%w: node %d has %d parents", ErrMalformedBDD, id, p)
		}
	}

	visited := make([]bool, len(b.nodes))
	stack := []NodeID{b.root}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if visited[id] {
			return fmt.Errorf("%w: cycle through node %d", ErrMalformedBDD, id)
		}
		visited[id] = true
		stack = append(stack, b.nodes[id].Successors()...)
	}
	for id, v := range visited {
		if !v {
			return fmt.Errorf("%w: node %d is unreachable", ErrMalformedBDD, id)
		}
	}
	return nil
}

func validateNode(n *Node) error {
	switch n.Kind {
	case KindBranch:
		if n.Condition == nil {
			return fmt.Errorf("%w: branch %d has no condition", ErrMalformedBDD, n.ID)
		}
		if n.OnTrue == NoNode || n.OnFalse == NoNode {
			return fmt.Errorf("%w: branch %d is missing a side", ErrMalformedBDD, n.ID)
		}
	case KindCall:
		if n.Call.Function == "" {
			return fmt.Errorf("%w: call %d has no function", ErrMalformedBDD, n.ID)
		}
		if n.Next == NoNode {
			return fmt.Errorf("%w: call %d terminates a path without a route", ErrMalformedBDD, n.ID)
		}
	case KindRoute:
		if n.Route == RouteForward && n.Device == nil {
			return fmt.Errorf("%w: forward %d has no device", ErrMalformedBDD, n.ID)
		}
	default:
		return fmt.Errorf("%w: node %d has unknown kind %d", ErrMalformedBDD, n.ID, n.Kind)
	}
	return nil
}
