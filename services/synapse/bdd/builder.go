// Copyright (C) 2025 The Synapse Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See <https://www.gnu.org/licenses/agpl-3.0.html> for the full license text.

package bdd

import (
	"strconv"
	"sync/atomic"
)

// Builder constructs traces programmatically, children first.
//
// Example:
//
//	b := bdd.NewBuilder(2)
//	fwd := b.Forward(bdd.Const(1, 16))
//	drop := b.Drop()
//	root := b.Branch(cond, fwd, drop)
//	trace, err := b.Build(root)
type Builder struct {
	nodes   []Node
	init    []Call
	devices int
}

// NewBuilder returns a builder for a program with the given device count.
func NewBuilder(devices int) *Builder {
	return &Builder{devices: devices}
}

// Init records an allocation call.
func (b *Builder) Init(c Call) *Builder {
	b.init = append(b.init, c)
	return b
}

func (b *Builder) add(n Node) NodeID {
	n.ID = NodeID(len(b.nodes))
	b.nodes = append(b.nodes, n)
	return n.ID
}

// Branch adds a branch node.
func (b *Builder) Branch(cond *Expr, onTrue, onFalse NodeID, constraints ...*Expr) NodeID {
	return b.add(Node{
		Kind:        KindBranch,
		Condition:   cond,
		OnTrue:      onTrue,
		OnFalse:     onFalse,
		Next:        NoNode,
		Constraints: constraints,
	})
}

// Call adds a call node followed by next.
func (b *Builder) Call(c Call, next NodeID, generated ...Symbol) NodeID {
	return b.add(Node{
		Kind:      KindCall,
		Call:      c,
		Generated: generated,
		Next:      next,
		OnTrue:    NoNode,
		OnFalse:   NoNode,
	})
}

// Forward adds a forward route.
func (b *Builder) Forward(device *Expr) NodeID {
	return b.add(Node{Kind: KindRoute, Route: RouteForward, Device: device, Next: NoNode, OnTrue: NoNode, OnFalse: NoNode})
}

// Drop adds a drop route.
func (b *Builder) Drop() NodeID {
	return b.add(Node{Kind: KindRoute, Route: RouteDrop, Next: NoNode, OnTrue: NoNode, OnFalse: NoNode})
}

// Broadcast adds a broadcast route.
func (b *Builder) Broadcast() NodeID {
	return b.add(Node{Kind: KindRoute, Route: RouteBroadcast, Next: NoNode, OnTrue: NoNode, OnFalse: NoNode})
}

// Build validates the accumulated nodes with the given root.
func (b *Builder) Build(root NodeID) (*BDD, error) {
	return New(root, b.nodes, b.init, b.devices)
}

// SymbolFactory hands out fresh symbol names. It is safe for concurrent use
// so parallel expansions can share one factory per search run.
type SymbolFactory struct {
	next atomic.Uint64
}

// Fresh returns a new symbol named "<base>_<n>" of the given width.
func (f *SymbolFactory) Fresh(base string, width uint) Symbol {
	n := f.next.Add(1)
	name := base + "_" + strconv.FormatUint(n, 10)
	return Symbol{Name: name, Expr: Read(name, 0, width)}
}
