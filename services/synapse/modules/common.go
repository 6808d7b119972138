// Copyright (C) 2025 The Synapse Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See <https://www.gnu.org/licenses/agpl-3.0.html> for the full license text.

package modules

import (
	"github.com/snaplab-dpss/synapse/services/synapse/bdd"
	"github.com/snaplab-dpss/synapse/services/synapse/ep"
)

// Families every target implements the same way.
func init() {
	for _, t := range ep.TargetTypes {
		register(t, ep.KindForward, specRoute(bdd.RouteForward, ep.KindForward))
		register(t, ep.KindDrop, specRoute(bdd.RouteDrop, ep.KindDrop))
		register(t, ep.KindBroadcast, specRoute(bdd.RouteBroadcast, ep.KindBroadcast))
		register(t, ep.KindIf, specIf)
		register(t, ep.KindModifyHeader, specCall(bdd.FnPacketReturnChunk, ep.KindModifyHeader))
		register(t, ep.KindChecksumUpdate, specCall(bdd.FnChecksumUpdate, ep.KindChecksumUpdate))
		register(t, ep.KindCurrentTime, specCall(bdd.FnCurrentTime, ep.KindCurrentTime))
		register(t, ep.KindIgnore, specIgnore)
	}
	register(ep.TargetController, ep.KindParseHeader, specCall(bdd.FnPacketBorrowNextChunk, ep.KindParseHeader))
	register(ep.TargetX86, ep.KindParseHeader, specCall(bdd.FnPacketBorrowNextChunk, ep.KindParseHeader))
	register(ep.TargetController, ep.KindHashObj, specCall(bdd.FnHashObj, ep.KindHashObj))
	register(ep.TargetX86, ep.KindHashObj, specCall(bdd.FnHashObj, ep.KindHashObj))
}

// single wraps one candidate whose commit is appending m and continuing
// with next on the same target.
func single(m ep.Module, next bdd.NodeID, extra func(p *ep.Plan, leaf ep.Leaf) bool) []Speculation {
	return []Speculation{{
		Module:     m,
		Impl:       m.Args.Impl,
		NextTarget: m.NextTarget,
		apply: func(p *ep.Plan, leaf ep.Leaf) bool {
			if extra != nil && !extra(p, leaf) {
				return false
			}
			if next == bdd.NoNode {
				p.ProcessLeaf(m.Clone())
			} else {
				p.ProcessLeaf(m.Clone(), ep.Branch{Next: next, Target: m.NextTarget})
			}
			return true
		},
	}}
}

func specRoute(op bdd.RouteOp, kind ep.ModuleKind) specFn {
	return func(c *Catalog, p *ep.Plan, leaf ep.Leaf, node *bdd.Node) []Speculation {
		if node.Kind != bdd.KindRoute || node.Route != op {
			return nil
		}
		m := ep.NewModule(kind, leaf.Target, node.ID)
		m.Args.Device = node.Device

		var extra func(p *ep.Plan, leaf ep.Leaf) bool
		if op == bdd.RouteDrop && leaf.Target.Type == ep.TargetTofino && parserOnly(p, leaf) {
			extra = func(p *ep.Plan, leaf ep.Leaf) bool {
				p.Context().Tofino(leaf.Target).Pipeline().Parser().Reject(node.ID)
				return true
			}
		}
		return single(m, bdd.NoNode, extra)
	}
}

// thenElse returns the branches of a conditional module.
func thenElse(target ep.TargetID, node *bdd.Node) []ep.Branch {
	then := ep.NewModule(ep.KindThen, target, bdd.NoNode)
	els := ep.NewModule(ep.KindElse, target, bdd.NoNode)
	return []ep.Branch{
		{Module: &then, Next: node.OnTrue, Target: target},
		{Module: &els, Next: node.OnFalse, Target: target},
	}
}

func specIf(c *Catalog, p *ep.Plan, leaf ep.Leaf, node *bdd.Node) []Speculation {
	if node.Kind != bdd.KindBranch {
		return nil
	}
	m := ep.NewModule(ep.KindIf, leaf.Target, node.ID)
	m.Args.Condition = node.Condition
	return []Speculation{{
		Module:     m,
		NextTarget: leaf.Target,
		apply: func(p *ep.Plan, leaf ep.Leaf) bool {
			p.ProcessLeaf(m.Clone(), thenElse(leaf.Target, node)...)
			return true
		},
	}}
}

// specCall matches a stateless call and continues on the same target.
func specCall(fn string, kind ep.ModuleKind) specFn {
	return func(c *Catalog, p *ep.Plan, leaf ep.Leaf, node *bdd.Node) []Speculation {
		if node.Kind != bdd.KindCall || node.Call.Function != fn {
			return nil
		}
		m := ep.NewModule(kind, leaf.Target, node.ID)
		switch fn {
		case bdd.FnPacketReturnChunk:
			if a, ok := node.Call.Arg(bdd.ArgChunk); ok && a.In != nil {
				m.Args.Values = []*bdd.Expr{a.In}
			}
		case bdd.FnPacketBorrowNextChunk:
			if l, ok := constArg(node.Call, bdd.ArgLength); ok {
				m.Args.Length = uint(l)
			}
		case bdd.FnHashObj:
			if a, ok := node.Call.Arg(bdd.ArgObj); ok && a.In != nil {
				m.Args.Keys = []*bdd.Expr{a.In}
			}
		}
		m.Args.Hit = hitSymbol(node)
		return single(m, node.Next, nil)
	}
}

// ignored lists calls with no effect on a target, per architecture.
var ignored = map[ep.TargetType]map[string]bool{
	ep.TargetTofino: {
		bdd.FnPacketGetUnreadLength: true,
		bdd.FnExpireItemsSingleMap:  true,
		bdd.FnCMSComputeHashes:      true,
		bdd.FnCMSPeriodicCleanup:    true,
		bdd.FnTBExpire:              true,
	},
	ep.TargetController: {bdd.FnPacketGetUnreadLength: true},
	ep.TargetX86:        {bdd.FnPacketGetUnreadLength: true},
}

func specIgnore(c *Catalog, p *ep.Plan, leaf ep.Leaf, node *bdd.Node) []Speculation {
	if node.Kind != bdd.KindCall {
		return nil
	}
	fn := node.Call.Function
	unchanged := fn == bdd.FnVectorReturn && !modifiesVector(node.Call)
	if !ignored[leaf.Target.Type][fn] && !unchanged {
		return nil
	}
	return single(ep.NewModule(ep.KindIgnore, leaf.Target, node.ID), node.Next, nil)
}
