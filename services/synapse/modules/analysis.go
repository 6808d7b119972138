// Copyright (C) 2025 The Synapse Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See <https://www.gnu.org/licenses/agpl-3.0.html> for the full license text.

package modules

import (
	"github.com/snaplab-dpss/synapse/services/synapse/bdd"
)

// objectArgs are the arguments naming the stateful object of a call, in
// lookup order.
var objectArgs = []string{bdd.ArgMap, bdd.ArgVector, bdd.ArgChain, bdd.ArgCMS, bdd.ArgTB, bdd.ArgLPM}

// callObject returns the object a call operates on.
func callObject(c bdd.Call) (uint64, bool) {
	for _, name := range objectArgs {
		if obj, ok := c.Object(name); ok {
			return obj, true
		}
	}
	return 0, false
}

// modifiesVector reports whether a vector_return writes a value different
// from the one borrowed. The value argument carries the returned value as
// In and the borrowed one as Out.
func modifiesVector(c bdd.Call) bool {
	a, ok := c.Arg(bdd.ArgValue)
	if !ok || a.In == nil {
		return false
	}
	return !a.In.Equal(a.Out)
}

type objectUsage struct {
	calls        map[string]int
	vectorWrites bool
}

// dataplaneWrites reports whether the trace mutates the object per packet.
func (u *objectUsage) dataplaneWrites() bool {
	if u == nil {
		return false
	}
	return u.calls[bdd.FnMapPut] > 0 || u.calls[bdd.FnMapErase] > 0 || u.vectorWrites
}

func analyze(trace *bdd.BDD) map[uint64]*objectUsage {
	out := make(map[uint64]*objectUsage)
	trace.Walk(func(n *bdd.Node) bool {
		if n.Kind != bdd.KindCall {
			return true
		}
		obj, ok := callObject(n.Call)
		if !ok {
			return true
		}
		u := out[obj]
		if u == nil {
			u = &objectUsage{calls: make(map[string]int)}
			out[obj] = u
		}
		u.calls[n.Call.Function]++
		if n.Call.Function == bdd.FnVectorReturn && modifiesVector(n.Call) {
			u.vectorWrites = true
		}
		return true
	})
	return out
}

// allocation is the sizing of an object taken from its init call.
type allocation struct {
	capacity  int
	keyBits   int
	elemBits  int
	width     int
	height    int
	rate      uint64
	burst     uint64
	allocated bool
}

func constArg(c bdd.Call, name string) (uint64, bool) {
	a, ok := c.Arg(name)
	if !ok {
		return 0, false
	}
	if v, ok := a.Expr.Constant(); ok {
		return v, true
	}
	return a.In.Constant()
}

// allocation returns the sizing of obj, with defaults for what the trace
// does not say. keyExpr, when set, provides the key width.
func (c *Catalog) allocation(obj uint64, keyExpr *bdd.Expr) allocation {
	a := allocation{
		capacity: c.opts.DefaultCapacity,
		keyBits:  32,
		elemBits: 32,
		width:    c.opts.HHSketchWidth,
		height:   c.opts.HHSketchHeight,
	}
	if keyExpr != nil && keyExpr.Width > 0 {
		a.keyBits = int(keyExpr.Width)
	}
	call, ok := c.trace.Allocation(obj)
	if !ok {
		return a
	}
	a.allocated = true
	if v, ok := constArg(call, bdd.ArgCapacity); ok && v > 0 {
		a.capacity = int(v)
	}
	if v, ok := constArg(call, bdd.ArgKeySize); ok && v > 0 {
		a.keyBits = int(v) * 8
	}
	if v, ok := constArg(call, bdd.ArgElemSize); ok && v > 0 {
		a.elemBits = int(v) * 8
	}
	if v, ok := constArg(call, bdd.ArgWidth); ok && v > 0 {
		a.width = int(v)
	}
	if v, ok := constArg(call, bdd.ArgHeight); ok && v > 0 {
		a.height = int(v)
	}
	if v, ok := constArg(call, bdd.ArgRate); ok {
		a.rate = v
	}
	if v, ok := constArg(call, bdd.ArgBurst); ok {
		a.burst = v
	}
	return a
}

// hostBytes approximates the memory an object occupies on a server.
func (a allocation) hostBytes() int64 {
	return int64(a.capacity) * int64(a.keyBits+a.elemBits+7) / 8
}

// keyOf returns the key operand of a call: the pointee of the key argument,
// or its value.
func keyOf(c bdd.Call) *bdd.Expr {
	a, ok := c.Arg(bdd.ArgKey)
	if !ok {
		return nil
	}
	if a.In != nil {
		return a.In
	}
	return a.Expr
}

// hitSymbol returns the name of the first symbol a node generates.
func hitSymbol(n *bdd.Node) string {
	if len(n.Generated) == 0 {
		return ""
	}
	return n.Generated[0].Name
}
