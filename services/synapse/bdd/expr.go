// Copyright (C) 2025 The Synapse Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See <https://www.gnu.org/licenses/agpl-3.0.html> for the full license text.

package bdd

import (
	"fmt"
	"sort"
	"strings"
)

// ExprKind discriminates the shape of a symbolic expression.
type ExprKind int

const (
	// ExprConst is a constant bit-vector.
	ExprConst ExprKind = iota

	// ExprRead reads Width bits from a symbol starting at byte Offset.
	ExprRead

	// ExprOp applies operator Op to Args.
	ExprOp
)

// String returns the string representation of the kind.
func (k ExprKind) String() string {
	switch k {
	case ExprConst:
		return "const"
	case ExprRead:
		return "read"
	case ExprOp:
		return "op"
	default:
		return fmt.Sprintf("ExprKind(%d)", int(k))
	}
}

// Well-known operator names.
const (
	OpEq     = "Eq"
	OpNe     = "Ne"
	OpNot    = "Not"
	OpAnd    = "And"
	OpOr     = "Or"
	OpAdd    = "Add"
	OpSub    = "Sub"
	OpUlt    = "Ult"
	OpUle    = "Ule"
	OpConcat = "Concat"
	OpSelect = "Select"
)

// PacketSymbol is the symbol holding the bytes of the packet under process.
const PacketSymbol = "packet_chunks"

// Expr is an immutable symbolic bit-vector expression.
//
// Expressions are shared by reference between trace nodes, modules and
// plans; nothing may mutate an Expr after construction.
type Expr struct {
	Kind   ExprKind
	Width  uint // in bits
	Value  uint64
	Symbol string
	Offset uint // in bytes
	Op     string
	Args   []*Expr
}

// Const builds a constant expression.
func Const(value uint64, width uint) *Expr {
	return &Expr{Kind: ExprConst, Value: value, Width: width}
}

// Read builds a read of width bits from symbol at byte offset.
func Read(symbol string, offset, width uint) *Expr {
	return &Expr{Kind: ExprRead, Symbol: symbol, Offset: offset, Width: width}
}

// Op builds an operator expression.
func Op(op string, width uint, args ...*Expr) *Expr {
	return &Expr{Kind: ExprOp, Op: op, Width: width, Args: args}
}

// Eq builds a one-bit equality test.
func Eq(a, b *Expr) *Expr { return Op(OpEq, 1, a, b) }

// Not builds a one-bit negation.
func Not(a *Expr) *Expr { return Op(OpNot, 1, a) }

// And builds a one-bit conjunction.
func And(a, b *Expr) *Expr { return Op(OpAnd, 1, a, b) }

// Constant returns the value of a constant expression.
func (e *Expr) Constant() (uint64, bool) {
	if e == nil || e.Kind != ExprConst {
		return 0, false
	}
	return e.Value, true
}

// IsConstant reports whether e is a constant.
func (e *Expr) IsConstant() bool {
	return e != nil && e.Kind == ExprConst
}

// Bytes returns the width rounded up to whole bytes.
func (e *Expr) Bytes() uint {
	if e == nil {
		return 0
	}
	return (e.Width + 7) / 8
}

// Symbols returns the sorted set of symbols e reads from.
func (e *Expr) Symbols() []string {
	seen := make(map[string]struct{})
	e.collectSymbols(seen)
	out := make([]string, 0, len(seen))
	for s := range seen {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func (e *Expr) collectSymbols(seen map[string]struct{}) {
	if e == nil {
		return
	}
	if e.Kind == ExprRead {
		seen[e.Symbol] = struct{}{}
	}
	for _, a := range e.Args {
		a.collectSymbols(seen)
	}
}

// OnlyReads reports whether every symbol e depends on belongs to allowed.
// Constants depend on nothing and always qualify.
func (e *Expr) OnlyReads(allowed ...string) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, a := range allowed {
		set[a] = struct{}{}
	}
	for _, s := range e.Symbols() {
		if _, ok := set[s]; !ok {
			return false
		}
	}
	return true
}

// Equal reports structural equality.
func (e *Expr) Equal(o *Expr) bool {
	if e == nil || o == nil {
		return e == o
	}
	if e.Kind != o.Kind || e.Width != o.Width {
		return false
	}
	switch e.Kind {
	case ExprConst:
		return e.Value == o.Value
	case ExprRead:
		return e.Symbol == o.Symbol && e.Offset == o.Offset
	}
	if e.Op != o.Op || len(e.Args) != len(o.Args) {
		return false
	}
	for i := range e.Args {
		if !e.Args[i].Equal(o.Args[i]) {
			return false
		}
	}
	return true
}

// String renders the expression in a compact prefix form.
func (e *Expr) String() string {
	if e == nil {
		return "<nil>"
	}
	switch e.Kind {
	case ExprConst:
		return fmt.Sprintf("(w%d %d)", e.Width, e.Value)
	case ExprRead:
		return fmt.Sprintf("(Read w%d %d %s)", e.Width, e.Offset, e.Symbol)
	}
	parts := make([]string, 0, len(e.Args)+1)
	parts = append(parts, e.Op)
	for _, a := range e.Args {
		parts = append(parts, a.String())
	}
	return "(" + strings.Join(parts, " ") + ")"
}
