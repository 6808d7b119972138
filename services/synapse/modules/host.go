// Copyright (C) 2025 The Synapse Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See <https://www.gnu.org/licenses/agpl-3.0.html> for the full license text.

package modules

import (
	"slices"

	"github.com/snaplab-dpss/synapse/services/synapse/bdd"
	"github.com/snaplab-dpss/synapse/services/synapse/ep"
)

// family groups the calls of one object type.
type family int

const (
	familyMap family = iota
	familyVector
	familyDchain
	familyCMS
	familyTB
	familyLPM
)

var hostImpls = map[ep.TargetType]map[family]ep.DSImpl{
	ep.TargetController: {
		familyMap:    ep.ImplControllerMap,
		familyVector: ep.ImplControllerVector,
		familyDchain: ep.ImplControllerDchain,
		familyCMS:    ep.ImplControllerCMS,
		familyTB:     ep.ImplControllerTokenBucket,
		familyLPM:    ep.ImplControllerLPM,
	},
	ep.TargetX86: {
		familyMap:    ep.ImplX86Map,
		familyVector: ep.ImplX86Vector,
		familyDchain: ep.ImplX86Dchain,
		familyCMS:    ep.ImplX86CMS,
		familyTB:     ep.ImplX86TokenBucket,
		familyLPM:    ep.ImplX86LPM,
	},
}

type hostOp struct {
	kind   ep.ModuleKind
	fn     string
	family family
}

var hostOps = []hostOp{
	{ep.KindMapGet, bdd.FnMapGet, familyMap},
	{ep.KindMapPut, bdd.FnMapPut, familyMap},
	{ep.KindMapErase, bdd.FnMapErase, familyMap},
	{ep.KindVectorRead, bdd.FnVectorBorrow, familyVector},
	{ep.KindVectorWrite, bdd.FnVectorReturn, familyVector},
	{ep.KindDchainAllocateNewIndex, bdd.FnDchainAllocateNewIndex, familyDchain},
	{ep.KindDchainRejuvenateIndex, bdd.FnDchainRejuvenateIndex, familyDchain},
	{ep.KindDchainIsIndexAllocated, bdd.FnDchainIsIndexAllocated, familyDchain},
	{ep.KindDchainFreeIndex, bdd.FnDchainFreeIndex, familyDchain},
	{ep.KindExpireItems, bdd.FnExpireItemsSingleMap, familyMap},
	{ep.KindCMSIncrement, bdd.FnCMSIncrement, familyCMS},
	{ep.KindCMSQuery, bdd.FnCMSCountMin, familyCMS},
	{ep.KindCMSComputeHashes, bdd.FnCMSComputeHashes, familyCMS},
	{ep.KindCMSPeriodicCleanup, bdd.FnCMSPeriodicCleanup, familyCMS},
	{ep.KindTBUpdateAndCheck, bdd.FnTBUpdateAndCheck, familyTB},
	{ep.KindTBIsTracing, bdd.FnTBIsTracing, familyTB},
	{ep.KindTBTrace, bdd.FnTBTrace, familyTB},
	{ep.KindTBExpire, bdd.FnTBExpire, familyTB},
	{ep.KindLPMLookup, bdd.FnLPMLookup, familyLPM},
}

// dataplaneOp is a controller operation on a structure the ledger placed in
// the switch.
type dataplaneOp struct {
	kind  ep.ModuleKind
	fns   []string
	impls []ep.DSImpl
}

var tableImpls = []ep.DSImpl{
	ep.ImplTofinoTable,
	ep.ImplTofinoGuardedMapTable,
	ep.ImplTofinoFCFSCachedTable,
	ep.ImplTofinoCuckooHashTable,
	ep.ImplTofinoHHTable,
}

var vectorImpls = []ep.DSImpl{ep.ImplTofinoVectorTable, ep.ImplTofinoVectorRegister}

var dataplaneOps = []dataplaneOp{
	{ep.KindDataplaneTableLookup, []string{bdd.FnMapGet}, tableImpls},
	{ep.KindDataplaneTableUpdate, []string{bdd.FnMapPut}, tableImpls},
	{ep.KindDataplaneTableDelete, []string{bdd.FnMapErase}, tableImpls},
	{ep.KindDataplaneVectorRead, []string{bdd.FnVectorBorrow}, vectorImpls},
	{ep.KindDataplaneVectorWrite, []string{bdd.FnVectorReturn}, vectorImpls},
	{ep.KindDataplaneDchainAllocate, []string{bdd.FnDchainAllocateNewIndex}, []ep.DSImpl{ep.ImplTofinoDchainTable}},
	{ep.KindDataplaneDchainQuery, []string{bdd.FnDchainRejuvenateIndex, bdd.FnDchainIsIndexAllocated}, []ep.DSImpl{ep.ImplTofinoDchainTable}},
	{ep.KindDataplaneDchainFree, []string{bdd.FnDchainFreeIndex}, []ep.DSImpl{ep.ImplTofinoDchainTable}},
}

func init() {
	for _, t := range []ep.TargetType{ep.TargetController, ep.TargetX86} {
		for _, op := range hostOps {
			register(t, op.kind, specHost(op))
		}
	}
	for _, op := range dataplaneOps {
		register(ep.TargetController, op.kind, specDataplane(op))
	}
}

// specHost implements a call in the target's own memory.
func specHost(op hostOp) specFn {
	return func(c *Catalog, p *ep.Plan, leaf ep.Leaf, node *bdd.Node) []Speculation {
		if node.Kind != bdd.KindCall || node.Call.Function != op.fn {
			return nil
		}
		if op.fn == bdd.FnVectorReturn && !modifiesVector(node.Call) {
			return nil
		}
		obj, ok := callObject(node.Call)
		if !ok {
			return nil
		}
		if op.kind == ep.KindExpireItems {
			// Expiry follows whatever implements the map; it binds nothing.
			return single(ep.NewModule(op.kind, leaf.Target, node.ID), node.Next, nil)
		}
		impl := hostImpls[leaf.Target.Type][op.family]
		ctx := p.Context()
		if !ctx.CanImplDS(obj, impl) {
			return nil
		}
		key := keyOf(node.Call)
		bytes := c.allocation(obj, key).hostBytes()
		if !ctx.Host(leaf.Target).Fits(obj, bytes) {
			return nil
		}

		m := ep.NewModule(op.kind, leaf.Target, node.ID)
		m.Args.Object, m.Args.HasObject, m.Args.Impl = obj, true, impl
		if key != nil {
			m.Args.Keys = []*bdd.Expr{key}
		}
		if v, ok := node.Call.Arg(bdd.ArgValue); ok && v.In != nil {
			m.Args.Values = []*bdd.Expr{v.In}
		}
		m.Args.Hit = hitSymbol(node)
		return single(m, node.Next, func(p *ep.Plan, leaf ep.Leaf) bool {
			if err := p.Context().SaveDSImpl(obj, impl); err != nil {
				return false
			}
			return p.Context().Host(leaf.Target).Instantiate(obj, impl, bytes)
		})
	}
}

// specDataplane implements a controller call on a switch structure.
func specDataplane(op dataplaneOp) specFn {
	return func(c *Catalog, p *ep.Plan, leaf ep.Leaf, node *bdd.Node) []Speculation {
		if node.Kind != bdd.KindCall {
			return nil
		}
		fn := node.Call.Function
		if !slices.Contains(op.fns, fn) || (fn == bdd.FnVectorReturn && !modifiesVector(node.Call)) {
			return nil
		}
		obj, ok := callObject(node.Call)
		if !ok {
			return nil
		}
		impl, bound := p.Context().Impl(obj)
		if !bound || !slices.Contains(op.impls, impl) {
			return nil
		}

		m := ep.NewModule(op.kind, leaf.Target, node.ID)
		m.Args.Object, m.Args.HasObject, m.Args.Impl = obj, true, impl
		if sw, ok := p.Context().FirstTarget(ep.TargetTofino); ok {
			for _, ds := range p.Context().Tofino(sw).DS(obj) {
				m.Args.DS = append(m.Args.DS, ds.ID())
			}
		}
		if key := keyOf(node.Call); key != nil {
			m.Args.Keys = []*bdd.Expr{key}
		}
		m.Args.Hit = hitSymbol(node)
		return single(m, node.Next, nil)
	}
}
