// Copyright (C) 2025 The Synapse Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See <https://www.gnu.org/licenses/agpl-3.0.html> for the full license text.

package ep

import (
	"fmt"
	"strings"

	"github.com/snaplab-dpss/synapse/services/synapse/bdd"
	"github.com/snaplab-dpss/synapse/services/synapse/tna"
)

// ModuleKind is the operation a module performs, independent of target.
type ModuleKind int

const (
	// Routing
	KindForward ModuleKind = iota
	KindDrop
	KindBroadcast

	// Control flow
	KindIf
	KindThen
	KindElse
	KindParserCondition

	// Packet
	KindParserExtraction
	KindParseHeader
	KindModifyHeader
	KindChecksumUpdate
	KindIgnore
	KindCurrentTime
	KindHashObj

	// Hand-off
	KindSendToController
	KindRecirculate

	// Switch structures
	KindSimpleTableLookup
	KindGuardedMapTableLookup
	KindVectorTableLookup
	KindVectorRegisterLookup
	KindVectorRegisterUpdate
	KindDchainTableLookup
	KindFCFSCachedTableRead
	KindFCFSCachedTableWrite
	KindFCFSCachedTableDelete
	KindCuckooHashTableRead
	KindCuckooHashTableUpdate
	KindHHTableRead
	KindCMSQuery
	KindCMSIncrement
	KindMeterUpdate
	KindLPMLookup

	// Host memory
	KindMapGet
	KindMapPut
	KindMapErase
	KindVectorRead
	KindVectorWrite
	KindDchainAllocateNewIndex
	KindDchainRejuvenateIndex
	KindDchainIsIndexAllocated
	KindDchainFreeIndex
	KindExpireItems
	KindCMSComputeHashes
	KindCMSPeriodicCleanup
	KindTBUpdateAndCheck
	KindTBIsTracing
	KindTBTrace
	KindTBExpire

	// Controller access to switch structures
	KindDataplaneTableLookup
	KindDataplaneTableUpdate
	KindDataplaneTableDelete
	KindDataplaneVectorRead
	KindDataplaneVectorWrite
	KindDataplaneDchainAllocate
	KindDataplaneDchainQuery
	KindDataplaneDchainFree

	numModuleKinds
)

var kindNames = [...]string{
	KindForward:                 "Forward",
	KindDrop:                    "Drop",
	KindBroadcast:               "Broadcast",
	KindIf:                      "If",
	KindThen:                    "Then",
	KindElse:                    "Else",
	KindParserCondition:         "ParserCondition",
	KindParserExtraction:        "ParserExtraction",
	KindParseHeader:             "ParseHeader",
	KindModifyHeader:            "ModifyHeader",
	KindChecksumUpdate:          "ChecksumUpdate",
	KindIgnore:                  "Ignore",
	KindCurrentTime:             "CurrentTime",
	KindHashObj:                 "HashObj",
	KindSendToController:        "SendToController",
	KindRecirculate:             "Recirculate",
	KindSimpleTableLookup:       "SimpleTableLookup",
	KindGuardedMapTableLookup:   "GuardedMapTableLookup",
	KindVectorTableLookup:       "VectorTableLookup",
	KindVectorRegisterLookup:    "VectorRegisterLookup",
	KindVectorRegisterUpdate:    "VectorRegisterUpdate",
	KindDchainTableLookup:       "DchainTableLookup",
	KindFCFSCachedTableRead:     "FCFSCachedTableRead",
	KindFCFSCachedTableWrite:    "FCFSCachedTableWrite",
	KindFCFSCachedTableDelete:   "FCFSCachedTableDelete",
	KindCuckooHashTableRead:     "CuckooHashTableRead",
	KindCuckooHashTableUpdate:   "CuckooHashTableUpdate",
	KindHHTableRead:             "HHTableRead",
	KindCMSQuery:                "CMSQuery",
	KindCMSIncrement:            "CMSIncrement",
	KindMeterUpdate:             "MeterUpdate",
	KindLPMLookup:               "LPMLookup",
	KindMapGet:                  "MapGet",
	KindMapPut:                  "MapPut",
	KindMapErase:                "MapErase",
	KindVectorRead:              "VectorRead",
	KindVectorWrite:             "VectorWrite",
	KindDchainAllocateNewIndex:  "DchainAllocateNewIndex",
	KindDchainRejuvenateIndex:   "DchainRejuvenateIndex",
	KindDchainIsIndexAllocated:  "DchainIsIndexAllocated",
	KindDchainFreeIndex:         "DchainFreeIndex",
	KindExpireItems:             "ExpireItems",
	KindCMSComputeHashes:        "CMSComputeHashes",
	KindCMSPeriodicCleanup:      "CMSPeriodicCleanup",
	KindTBUpdateAndCheck:        "TBUpdateAndCheck",
	KindTBIsTracing:             "TBIsTracing",
	KindTBTrace:                 "TBTrace",
	KindTBExpire:                "TBExpire",
	KindDataplaneTableLookup:    "DataplaneTableLookup",
	KindDataplaneTableUpdate:    "DataplaneTableUpdate",
	KindDataplaneTableDelete:    "DataplaneTableDelete",
	KindDataplaneVectorRead:     "DataplaneVectorRead",
	KindDataplaneVectorWrite:    "DataplaneVectorWrite",
	KindDataplaneDchainAllocate: "DataplaneDchainAllocate",
	KindDataplaneDchainQuery:    "DataplaneDchainQuery",
	KindDataplaneDchainFree:     "DataplaneDchainFree",
}

// String returns the string representation of the module kind.
func (k ModuleKind) String() string {
	if k >= 0 && k < numModuleKinds {
		return kindNames[k]
	}
	return fmt.Sprintf("ModuleKind(%d)", int(k))
}

// ModuleKinds returns every module kind in declaration order.
func ModuleKinds() []ModuleKind {
	out := make([]ModuleKind, numModuleKinds)
	for i := range out {
		out[i] = ModuleKind(i)
	}
	return out
}

// ModuleType is a (target architecture, kind) pair.
type ModuleType struct {
	Target TargetType
	Kind   ModuleKind
}

// String returns "<Target><Kind>", e.g. "TofinoSimpleTableLookup".
func (t ModuleType) String() string {
	target := t.Target.String()
	if target == "x86" {
		return "X86" + t.Kind.String()
	}
	return strings.ToUpper(target[:1]) + target[1:] + t.Kind.String()
}

// ModuleArgs are the concrete operands of a module. Fields not meaningful
// for a module's kind are zero.
type ModuleArgs struct {
	Object    uint64      `json:"object,omitempty"`
	HasObject bool        `json:"-"`
	Impl      DSImpl      `json:"impl,omitempty"`
	DS        []tna.DSID  `json:"ds,omitempty"`
	Keys      []*bdd.Expr `json:"-"`
	Values    []*bdd.Expr `json:"-"`
	Condition *bdd.Expr   `json:"-"`
	Device    *bdd.Expr   `json:"-"`
	Offset    uint        `json:"offset,omitempty"`
	Length    uint        `json:"length,omitempty"`
	Hit       string      `json:"hit,omitempty"`
	Pass      int         `json:"pass,omitempty"`
}

func (a ModuleArgs) clone() ModuleArgs {
	a.DS = append([]tna.DSID(nil), a.DS...)
	a.Keys = append([]*bdd.Expr(nil), a.Keys...)
	a.Values = append([]*bdd.Expr(nil), a.Values...)
	return a
}

// Module is one step of a plan: the translation of a trace node to an
// operation on a target. Synthetic modules (Then, Else) carry bdd.NoNode.
type Module struct {
	Type       ModuleType
	Target     TargetID
	Node       bdd.NodeID
	NextTarget TargetID
	Args       ModuleArgs
}

// NewModule returns a module of kind k on target for trace node node. The
// next target defaults to target.
func NewModule(k ModuleKind, target TargetID, node bdd.NodeID) Module {
	return Module{
		Type:       ModuleType{Target: target.Type, Kind: k},
		Target:     target,
		Node:       node,
		NextTarget: target,
	}
}

// Clone returns a deep copy. Expressions are immutable and shared.
func (m Module) Clone() Module {
	m.Args = m.Args.clone()
	return m
}

// HandsOff reports whether the module moves execution to another target.
func (m Module) HandsOff() bool { return m.NextTarget != m.Target }

// String renders the module for logs and reports.
func (m Module) String() string {
	var b strings.Builder
	b.WriteString(m.Type.String())
	if m.Node != bdd.NoNode {
		fmt.Fprintf(&b, "@%d", m.Node)
	}
	if m.Args.HasObject {
		fmt.Fprintf(&b, " obj=0x%x", m.Args.Object)
	}
	if len(m.Args.DS) > 0 {
		fmt.Fprintf(&b, " ds=%v", m.Args.DS)
	}
	if m.HandsOff() {
		fmt.Fprintf(&b, " -> %s", m.NextTarget)
	}
	return b.String()
}
