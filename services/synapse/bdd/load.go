// Copyright (C) 2025 The Synapse Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See <https://www.gnu.org/licenses/agpl-3.0.html> for the full license text.

package bdd

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// Serialized form
// =============================================================================

type exprDoc struct {
	Const  *uint64    `yaml:"const,omitempty" json:"const,omitempty"`
	Symbol string     `yaml:"symbol,omitempty" json:"symbol,omitempty"`
	Offset uint       `yaml:"offset,omitempty" json:"offset,omitempty"`
	Op     string     `yaml:"op,omitempty" json:"op,omitempty"`
	Width  uint       `yaml:"width" json:"width"`
	Args   []*exprDoc `yaml:"args,omitempty" json:"args,omitempty"`
}

type argDoc struct {
	Expr *exprDoc `yaml:"expr,omitempty" json:"expr,omitempty"`
	In   *exprDoc `yaml:"in,omitempty" json:"in,omitempty"`
	Out  *exprDoc `yaml:"out,omitempty" json:"out,omitempty"`
}

type callDoc struct {
	Function string            `yaml:"function" json:"function"`
	Args     map[string]argDoc `yaml:"args,omitempty" json:"args,omitempty"`
	Ret      *exprDoc          `yaml:"ret,omitempty" json:"ret,omitempty"`
}

type symbolDoc struct {
	Name string   `yaml:"name" json:"name"`
	Expr *exprDoc `yaml:"expr,omitempty" json:"expr,omitempty"`
}

type nodeDoc struct {
	ID          int         `yaml:"id" json:"id"`
	Kind        string      `yaml:"kind" json:"kind"`
	Constraints []*exprDoc  `yaml:"constraints,omitempty" json:"constraints,omitempty"`
	Condition   *exprDoc    `yaml:"condition,omitempty" json:"condition,omitempty"`
	OnTrue      *int        `yaml:"on_true,omitempty" json:"on_true,omitempty"`
	OnFalse     *int        `yaml:"on_false,omitempty" json:"on_false,omitempty"`
	Call        *callDoc    `yaml:"call,omitempty" json:"call,omitempty"`
	Generated   []symbolDoc `yaml:"generated,omitempty" json:"generated,omitempty"`
	Next        *int        `yaml:"next,omitempty" json:"next,omitempty"`
	Route       string      `yaml:"route,omitempty" json:"route,omitempty"`
	Device      *exprDoc    `yaml:"device,omitempty" json:"device,omitempty"`
}

type document struct {
	Root    int       `yaml:"root" json:"root"`
	Devices int       `yaml:"devices" json:"devices"`
	Init    []callDoc `yaml:"init,omitempty" json:"init,omitempty"`
	Nodes   []nodeDoc `yaml:"nodes" json:"nodes"`
}

// =============================================================================
// Loading
// =============================================================================

// Load reads and validates a trace file in YAML or JSON form.
func Load(path string) (*BDD, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read trace %s: %w", path, err)
	}
	b, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("load trace %s: %w", path, err)
	}
	return b, nil
}

// Parse decodes and validates a serialized trace. YAML is tried first, then
// JSON.
func Parse(data []byte) (*BDD, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		if jsonErr := json.Unmarshal(data, &doc); jsonErr != nil {
			return nil, fmt.Errorf("%w: decode: %v", ErrMalformedBDD, err)
		}
	}
	return doc.toBDD()
}

func (d *document) toBDD() (*BDD, error) {
	sorted := append([]nodeDoc(nil), d.Nodes...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	nodes := make([]Node, len(sorted))
	for i, nd := range sorted {
		n, err := nd.toNode()
		if err != nil {
			return nil, err
		}
		nodes[i] = n
	}

	calls := make([]Call, len(d.Init))
	for i, c := range d.Init {
		calls[i] = c.toCall()
	}
	return New(NodeID(d.Root), nodes, calls, d.Devices)
}

func (nd nodeDoc) toNode() (Node, error) {
	n := Node{
		ID:        NodeID(nd.ID),
		OnTrue:    optID(nd.OnTrue),
		OnFalse:   optID(nd.OnFalse),
		Next:      optID(nd.Next),
		Condition: nd.Condition.toExpr(),
		Device:    nd.Device.toExpr(),
	}
	for _, c := range nd.Constraints {
		n.Constraints = append(n.Constraints, c.toExpr())
	}

	switch nd.Kind {
	case "branch":
		n.Kind = KindBranch
	case "call":
		n.Kind = KindCall
		if nd.Call != nil {
			n.Call = nd.Call.toCall()
		}
		for _, s := range nd.Generated {
			n.Generated = append(n.Generated, Symbol{Name: s.Name, Expr: s.Expr.toExpr()})
		}
	case "route":
		n.Kind = KindRoute
		switch nd.Route {
		case "forward":
			n.Route = RouteForward
		case "drop":
			n.Route = RouteDrop
		case "broadcast":
			n.Route = RouteBroadcast
		default:
			return Node{}, fmt.Errorf("%w: node %d has unknown route %q", ErrMalformedBDD, nd.ID, nd.Route)
		}
	default:
		return Node{}, fmt.Errorf("%w: node %d has unknown kind %q", ErrMalformedBDD, nd.ID, nd.Kind)
	}
	return n, nil
}

func (c callDoc) toCall() Call {
	call := Call{Function: c.Function, Ret: c.Ret.toExpr()}
	if len(c.Args) > 0 {
		call.Args = make(map[string]Arg, len(c.Args))
		for name, a := range c.Args {
			call.Args[name] = Arg{Expr: a.Expr.toExpr(), In: a.In.toExpr(), Out: a.Out.toExpr()}
		}
	}
	return call
}

func (e *exprDoc) toExpr() *Expr {
	if e == nil {
		return nil
	}
	switch {
	case e.Const != nil:
		return Const(*e.Const, e.Width)
	case e.Op != "":
		args := make([]*Expr, len(e.Args))
		for i, a := range e.Args {
			args[i] = a.toExpr()
		}
		return Op(e.Op, e.Width, args...)
	default:
		return Read(e.Symbol, e.Offset, e.Width)
	}
}

func optID(v *int) NodeID {
	if v == nil {
		return NoNode
	}
	return NodeID(*v)
}

// =============================================================================
// Encoding
// =============================================================================

// Encode serializes the trace as YAML in the form accepted by Parse.
func Encode(b *BDD) ([]byte, error) {
	doc := document{Root: int(b.root), Devices: b.devices}
	for _, c := range b.init {
		doc.Init = append(doc.Init, fromCall(c))
	}
	for i := range b.nodes {
		doc.Nodes = append(doc.Nodes, fromNode(&b.nodes[i]))
	}
	data, err := yaml.Marshal(&doc)
	if err != nil {
		return nil, fmt.Errorf("encode trace: %w", err)
	}
	return data, nil
}

func fromNode(n *Node) nodeDoc {
	nd := nodeDoc{ID: int(n.ID), Kind: n.Kind.String()}
	for _, c := range n.Constraints {
		nd.Constraints = append(nd.Constraints, fromExpr(c))
	}
	switch n.Kind {
	case KindBranch:
		nd.Condition = fromExpr(n.Condition)
		t, f := int(n.OnTrue), int(n.OnFalse)
		nd.OnTrue, nd.OnFalse = &t, &f
	case KindCall:
		c := fromCall(n.Call)
		nd.Call = &c
		for _, s := range n.Generated {
			nd.Generated = append(nd.Generated, symbolDoc{Name: s.Name, Expr: fromExpr(s.Expr)})
		}
		next := int(n.Next)
		nd.Next = &next
	case KindRoute:
		nd.Route = n.Route.String()
		nd.Device = fromExpr(n.Device)
	}
	return nd
}

func fromCall(c Call) callDoc {
	cd := callDoc{Function: c.Function, Ret: fromExpr(c.Ret)}
	if len(c.Args) > 0 {
		cd.Args = make(map[string]argDoc, len(c.Args))
		for name, a := range c.Args {
			cd.Args[name] = argDoc{Expr: fromExpr(a.Expr), In: fromExpr(a.In), Out: fromExpr(a.Out)}
		}
	}
	return cd
}

func fromExpr(e *Expr) *exprDoc {
	if e == nil {
		return nil
	}
	d := &exprDoc{Width: e.Width}
	switch e.Kind {
	case ExprConst:
		v := e.Value
		d.Const = &v
	case ExprRead:
		d.Symbol, d.Offset = e.Symbol, e.Offset
	case ExprOp:
		d.Op = e.Op
		for _, a := range e.Args {
			d.Args = append(d.Args, fromExpr(a))
		}
	}
	return d
}
