// Copyright (C) 2025 The Synapse Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See <https://www.gnu.org/licenses/agpl-3.0.html> for the full license text.

package bdd

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const mapAddr = 0x1000

// lookupTrace builds: if (ether_type == 0x800) { map_get; forward(1) } else drop.
func lookupTrace(t *testing.T) *BDD {
	t.Helper()

	b := NewBuilder(2)
	b.Init(Call{
		Function: FnMapAllocate,
		Args: map[string]Arg{
			ArgCapacity: {Expr: Const(65536, 32)},
			ArgKeySize:  {Expr: Const(4, 32)},
			ArgMapOut:   {Expr: Const(0x10, 64), Out: Const(mapAddr, 64)},
		},
	})

	fwd := b.Forward(Const(1, 16))
	get := b.Call(Call{
		Function: FnMapGet,
		Args: map[string]Arg{
			ArgMap:      {Expr: Const(mapAddr, 64)},
			ArgKey:      {Expr: Const(0x20, 64), In: Read(PacketSymbol, 26, 32)},
			ArgValueOut: {Expr: Const(0x30, 64), Out: Read("allocated_index", 0, 32)},
		},
		Ret: Read("map_has_this_key", 0, 32),
	}, fwd, Symbol{Name: "map_has_this_key", Expr: Read("map_has_this_key", 0, 32)})
	drop := b.Drop()
	root := b.Branch(Eq(Read(PacketSymbol, 12, 16), Const(0x0800, 16)), get, drop)

	trace, err := b.Build(root)
	require.NoError(t, err)
	return trace
}

func TestBuilder_LookupTrace(t *testing.T) {
	trace := lookupTrace(t)

	assert.Equal(t, 4, trace.Size())
	assert.Equal(t, 4, trace.Descendants(trace.Root()))

	root := trace.Node(trace.Root())
	require.Equal(t, KindBranch, root.Kind)

	get := trace.Node(root.OnTrue)
	assert.Equal(t, KindCall, get.Kind)
	assert.Equal(t, FnMapGet, get.Call.Function)

	addr, ok := get.Call.Object(ArgMap)
	require.True(t, ok)
	assert.EqualValues(t, mapAddr, addr)

	alloc, ok := trace.Allocation(addr)
	require.True(t, ok)
	assert.Equal(t, FnMapAllocate, alloc.Function)
	assert.Equal(t, []uint64{mapAddr}, trace.Objects())

	drop := trace.Node(root.OnFalse)
	assert.Equal(t, RouteDrop, drop.Route)
	assert.Empty(t, trace.Successors(drop.ID))
}

func TestBDD_Symbols(t *testing.T) {
	trace := lookupTrace(t)
	assert.Equal(t, []string{"allocated_index", "map_has_this_key", PacketSymbol}, trace.Symbols())
}

func TestBDD_Walk(t *testing.T) {
	trace := lookupTrace(t)

	var kinds []Kind
	trace.Walk(func(n *Node) bool {
		kinds = append(kinds, n.Kind)
		return true
	})
	assert.Equal(t, []Kind{KindBranch, KindCall, KindRoute, KindRoute}, kinds)

	visited := 0
	trace.Walk(func(n *Node) bool {
		visited++
		return n.Kind != KindBranch
	})
	assert.Equal(t, 1, visited)
}

func TestBDD_NodeOutOfRangePanics(t *testing.T) {
	trace := lookupTrace(t)
	assert.Panics(t, func() { trace.Node(99) })
	assert.Panics(t, func() { trace.Node(NoNode) })
}

func TestValidate_Malformed(t *testing.T) {
	fwd := Node{ID: 0, Kind: KindRoute, Route: RouteForward, Device: Const(0, 16), Next: NoNode}
	drop := func(id NodeID) Node { return Node{ID: id, Kind: KindRoute, Route: RouteDrop, Next: NoNode} }

	tests := []struct {
		name  string
		root  NodeID
		nodes []Node
	}{
		{"empty", 0, nil},
		{"missing root", 3, []Node{fwd}},
		{"sparse ids", 0, []Node{{ID: 4, Kind: KindRoute, Route: RouteDrop}}},
		{"dangling successor", 0, []Node{
			{ID: 0, Kind: KindBranch, Condition: Const(1, 1), OnTrue: 1, OnFalse: 7},
			drop(1),
		}},
		{"branch without condition", 0, []Node{
			{ID: 0, Kind: KindBranch, OnTrue: 1, OnFalse: 2},
			drop(1), drop(2),
		}},
		{"call ends a path", 0, []Node{
			{ID: 0, Kind: KindCall, Call: Call{Function: FnCurrentTime}, Next: NoNode},
		}},
		{"call without function", 0, []Node{
			{ID: 0, Kind: KindCall, Next: 1},
			drop(1),
		}},
		{"forward without device", 0, []Node{
			{ID: 0, Kind: KindRoute, Route: RouteForward},
		}},
		{"shared child", 0, []Node{
			{ID: 0, Kind: KindBranch, Condition: Const(1, 1), OnTrue: 1, OnFalse: 1},
			drop(1),
		}},
		{"unreachable", 0, []Node{fwd, drop(1)}},
		{"cycle to root", 0, []Node{
			{ID: 0, Kind: KindCall, Call: Call{Function: FnCurrentTime}, Next: 1},
			{ID: 1, Kind: KindCall, Call: Call{Function: FnCurrentTime}, Next: 0},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.root, tt.nodes, nil, 1)
			assert.ErrorIs(t, err, ErrMalformedBDD)
		})
	}
}

func TestParse_YAML(t *testing.T) {
	data := []byte(`
root: 0
devices: 2
init:
  - function: map_allocate
    args:
      capacity: {expr: {const: 1024, width: 32}}
      map_out: {expr: {const: 16, width: 64}, out: {const: 4096, width: 64}}
nodes:
  - id: 2
    kind: route
    route: drop
  - id: 0
    kind: branch
    condition:
      op: Eq
      width: 1
      args:
        - {symbol: packet_chunks, offset: 12, width: 16}
        - {const: 2048, width: 16}
    on_true: 1
    on_false: 2
  - id: 1
    kind: route
    route: forward
    device: {const: 1, width: 16}
`)
	trace, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, 3, trace.Size())
	assert.Equal(t, 2, trace.Devices())

	root := trace.Node(0)
	assert.Equal(t, KindBranch, root.Kind)
	assert.True(t, root.Condition.OnlyReads(PacketSymbol))
	assert.Equal(t, "(Eq (Read w16 12 packet_chunks) (w16 2048))", root.Condition.String())

	dev, ok := trace.Node(1).Device.Constant()
	require.True(t, ok)
	assert.EqualValues(t, 1, dev)

	_, ok = trace.Allocation(4096)
	assert.True(t, ok)
}

func TestParse_JSON(t *testing.T) {
	data := []byte(`{"root":0,"devices":1,"nodes":[{"id":0,"kind":"route","route":"broadcast"}]}`)
	trace, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, RouteBroadcast, trace.Node(0).Route)
}

func TestParse_Rejects(t *testing.T) {
	_, err := Parse([]byte(`nodes: [{id: 0, kind: loop}]`))
	assert.ErrorIs(t, err, ErrMalformedBDD)

	_, err = Parse([]byte(`nodes: [{id: 0, kind: route, route: teleport}]`))
	assert.ErrorIs(t, err, ErrMalformedBDD)

	_, err = Parse([]byte("root: [unclosed"))
	assert.ErrorIs(t, err, ErrMalformedBDD)
}

func TestEncode_RoundTrip(t *testing.T) {
	trace := lookupTrace(t)
	data, err := Encode(trace)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "trace.yaml")
	require.NoError(t, os.WriteFile(path, data, 0o600))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, trace.Size(), loaded.Size())
	assert.Equal(t, trace.Symbols(), loaded.Symbols())
	for id := 0; id < trace.Size(); id++ {
		assert.Equal(t, trace.Node(NodeID(id)).String(), loaded.Node(NodeID(id)).String())
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestExpr(t *testing.T) {
	a := Read(PacketSymbol, 0, 8)
	b := Read("other", 0, 8)

	assert.True(t, Eq(a, Const(1, 8)).Equal(Eq(Read(PacketSymbol, 0, 8), Const(1, 8))))
	assert.False(t, Eq(a, Const(1, 8)).Equal(Eq(a, Const(2, 8))))
	assert.False(t, And(a, b).OnlyReads(PacketSymbol))
	assert.True(t, Const(7, 8).OnlyReads())
	assert.Equal(t, []string{"other", PacketSymbol}, And(a, Not(b)).Symbols())
	assert.EqualValues(t, 2, Const(0, 9).Bytes())

	var nilExpr *Expr
	assert.False(t, nilExpr.IsConstant())
	assert.Equal(t, "<nil>", nilExpr.String())
}

func TestSymbolFactory_Concurrent(t *testing.T) {
	var f SymbolFactory
	names := make(chan string, 64)

	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			names <- f.Fresh("hit", 1).Name
		}()
	}
	wg.Wait()
	close(names)

	seen := make(map[string]bool)
	for n := range names {
		assert.False(t, seen[n], "duplicate symbol %s", n)
		seen[n] = true
	}
	assert.Len(t, seen, 64)
}
