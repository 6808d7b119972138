// Copyright (C) 2025 The Synapse Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See <https://www.gnu.org/licenses/agpl-3.0.html> for the full license text.

package bdd

import "fmt"

// NodeID identifies a trace node. IDs are dense indices into the trace arena.
type NodeID int

// NoNode marks the absence of a successor.
const NoNode NodeID = -1

// Kind is the variant tag of a trace node.
type Kind int

const (
	KindBranch Kind = iota
	KindCall
	KindRoute
)

// String returns the string representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindBranch:
		return "branch"
	case KindCall:
		return "call"
	case KindRoute:
		return "route"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// RouteOp is the terminal action of a Route node.
type RouteOp int

const (
	RouteForward RouteOp = iota
	RouteDrop
	RouteBroadcast
)

// String returns the string representation of the route operation.
func (r RouteOp) String() string {
	switch r {
	case RouteForward:
		return "forward"
	case RouteDrop:
		return "drop"
	case RouteBroadcast:
		return "broadcast"
	default:
		return fmt.Sprintf("RouteOp(%d)", int(r))
	}
}

// Well-known function names appearing in Call nodes and init calls.
const (
	FnMapAllocate             = "map_allocate"
	FnMapGet                  = "map_get"
	FnMapPut                  = "map_put"
	FnMapErase                = "map_erase"
	FnVectorAllocate          = "vector_allocate"
	FnVectorBorrow            = "vector_borrow"
	FnVectorReturn            = "vector_return"
	FnDchainAllocate          = "dchain_allocate"
	FnDchainAllocateNewIndex  = "dchain_allocate_new_index"
	FnDchainRejuvenateIndex   = "dchain_rejuvenate_index"
	FnDchainIsIndexAllocated  = "dchain_is_index_allocated"
	FnDchainFreeIndex         = "dchain_free_index"
	FnExpireItemsSingleMap    = "expire_items_single_map"
	FnCMSAllocate             = "cms_allocate"
	FnCMSIncrement            = "cms_increment"
	FnCMSCountMin             = "cms_count_min"
	FnCMSComputeHashes        = "cms_compute_hashes"
	FnCMSPeriodicCleanup      = "cms_periodic_cleanup"
	FnTBAllocate              = "tb_allocate"
	FnTBIsTracing             = "tb_is_tracing"
	FnTBTrace                 = "tb_trace"
	FnTBUpdateAndCheck        = "tb_update_and_check"
	FnTBExpire                = "tb_expire"
	FnLPMAllocate             = "lpm_allocate"
	FnLPMLookup               = "lpm_lookup"
	FnPacketBorrowNextChunk   = "packet_borrow_next_chunk"
	FnPacketReturnChunk       = "packet_return_chunk"
	FnPacketGetUnreadLength   = "packet_get_unread_length"
	FnChecksumUpdate          = "nf_set_rte_ipv4_udptcp_checksum"
	FnCurrentTime             = "current_time"
	FnHashObj                 = "hash_obj"
)

// Well-known argument names.
const (
	ArgMap       = "map"
	ArgMapOut    = "map_out"
	ArgKey       = "key"
	ArgValue     = "value"
	ArgValueOut  = "value_out"
	ArgVector    = "vector"
	ArgVectorOut = "vector_out"
	ArgIndex     = "index"
	ArgIndexOut  = "index_out"
	ArgChain     = "chain"
	ArgChainOut  = "chain_out"
	ArgTime      = "time"
	ArgCMS       = "cms"
	ArgCMSOut    = "cms_out"
	ArgTB        = "tb"
	ArgTBOut     = "tb_out"
	ArgLPM       = "lpm"
	ArgLPMOut    = "lpm_out"
	ArgCapacity  = "capacity"
	ArgKeySize   = "key_size"
	ArgElemSize  = "elem_size"
	ArgHeight    = "height"
	ArgWidth     = "width"
	ArgRate      = "rate"
	ArgBurst     = "burst"
	ArgChunk     = "chunk"
	ArgLength    = "length"
	ArgObj       = "obj"
	ArgPacketLen = "pkt_len"
	ArgPacket    = "packet"
)

// Arg is one argument of a call. Expr holds the argument value (for pointers,
// the address); In and Out hold the pointee before and after the call.
type Arg struct {
	Expr *Expr
	In   *Expr
	Out  *Expr
}

// Call is a primitive operation invocation.
type Call struct {
	Function string
	Args     map[string]Arg
	Ret      *Expr
}

// Arg returns the named argument.
func (c Call) Arg(name string) (Arg, bool) {
	a, ok := c.Args[name]
	return a, ok
}

// Object returns the constant address held by the named argument.
// Allocation calls expose the address through the pointee (Out); other
// calls through the value (Expr).
func (c Call) Object(name string) (uint64, bool) {
	a, ok := c.Args[name]
	if !ok {
		return 0, false
	}
	if v, ok := a.Expr.Constant(); ok {
		return v, true
	}
	return a.Out.Constant()
}

// Symbol is a symbol generated by a call (e.g. the "found" flag of map_get).
type Symbol struct {
	Name string
	Expr *Expr
}

// Node is one node of the program trace.
//
// Only the fields relevant to Kind are populated. Nodes are owned by the
// BDD arena and must be treated as read-only by every consumer.
type Node struct {
	ID          NodeID
	Kind        Kind
	Constraints []*Expr

	// Branch
	Condition *Expr
	OnTrue    NodeID
	OnFalse   NodeID

	// Call
	Call      Call
	Generated []Symbol

	// Call successor
	Next NodeID

	// Route
	Route  RouteOp
	Device *Expr
}

// Successors returns the successor ids of the node, in order.
func (n *Node) Successors() []NodeID {
	switch n.Kind {
	case KindBranch:
		return []NodeID{n.OnTrue, n.OnFalse}
	case KindCall:
		if n.Next == NoNode {
			return nil
		}
		return []NodeID{n.Next}
	default:
		return nil
	}
}

// Generates returns the generated symbol with the given base name.
func (n *Node) Generates(name string) (Symbol, bool) {
	for _, s := range n.Generated {
		if s.Name == name {
			return s, true
		}
	}
	return Symbol{}, false
}

// String returns a one-line description of the node.
func (n *Node) String() string {
	switch n.Kind {
	case KindBranch:
		return fmt.Sprintf("[%d] if %s", n.ID, n.Condition)
	case KindCall:
		return fmt.Sprintf("[%d] %s()", n.ID, n.Call.Function)
	case KindRoute:
		if n.Route == RouteForward {
			return fmt.Sprintf("[%d] forward(%s)", n.ID, n.Device)
		}
		return fmt.Sprintf("[%d] %s", n.ID, n.Route)
	}
	return fmt.Sprintf("[%d] ?", n.ID)
}
