// Copyright (C) 2025 The Synapse Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See <https://www.gnu.org/licenses/agpl-3.0.html> for the full license text.

package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/snaplab-dpss/synapse/services/synapse/bdd"
	"github.com/snaplab-dpss/synapse/services/synapse/profiler"
	"github.com/snaplab-dpss/synapse/services/synapse/search"
)

func newInspectCmd(a *app) *cobra.Command {
	var profilePath string
	cmd := &cobra.Command{
		Use:   "inspect TRACE",
		Short: "Validate a program trace and summarize it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runInspect(args[0], profilePath)
		},
	}
	cmd.Flags().StringVarP(&profilePath, "profile", "p", "", "traffic profile to report route fractions with")
	return cmd
}

func (a *app) runInspect(tracePath, profilePath string) error {
	trace, err := bdd.Load(tracePath)
	if err != nil {
		return err
	}
	prof := profiler.Default(trace)
	if profilePath != "" {
		if prof, err = profiler.Load(profilePath, trace); err != nil {
			return err
		}
	}

	kinds := map[string]int{}
	calls := map[string]int{}
	var routes [][]string
	trace.Walk(func(n *bdd.Node) bool {
		kinds[n.Kind.String()]++
		switch n.Kind {
		case bdd.KindCall:
			calls[n.Call.Function]++
		case bdd.KindRoute:
			routes = append(routes, []string{
				strconv.Itoa(int(n.ID)),
				n.Route.String(),
				fmt.Sprintf("%.4f", prof.Fraction(n.ID)),
			})
		}
		return true
	})

	out := a.out
	out.Title("Trace " + tracePath)
	out.KV(
		"nodes", strconv.Itoa(trace.Size()),
		"root", strconv.Itoa(int(trace.Root())),
		"devices", strconv.Itoa(trace.Devices()),
		"symbols", strconv.Itoa(len(trace.Symbols())),
		"objects", strconv.Itoa(len(trace.Objects())),
	)
	out.Success("trace is valid")

	rows := make([][]string, 0, len(kinds))
	for _, k := range sortedKeys(kinds) {
		rows = append(rows, []string{k, strconv.Itoa(kinds[k])})
	}
	out.Table([]string{"kind", "nodes"}, rows)

	if len(calls) > 0 {
		rows = rows[:0]
		for _, fn := range sortedKeys(calls) {
			rows = append(rows, []string{fn, strconv.Itoa(calls[fn])})
		}
		out.Table([]string{"function", "calls"}, rows)
	}

	if objs := trace.Objects(); len(objs) > 0 {
		rows = rows[:0]
		for _, addr := range objs {
			fn, capacity := "-", "-"
			if alloc, ok := trace.Allocation(addr); ok {
				fn = alloc.Function
				if arg, ok := alloc.Args[bdd.ArgCapacity]; ok && arg.Expr != nil {
					if v, ok := arg.Expr.Constant(); ok {
						capacity = strconv.FormatUint(v, 10)
					}
				}
			}
			rows = append(rows, []string{fmt.Sprintf("0x%x", addr), fn, capacity})
		}
		out.Table([]string{"object", "allocated by", "capacity"}, rows)
	}

	out.Table([]string{"route node", "op", "traffic"}, routes)
	return nil
}

func newHeuristicsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "heuristics",
		Short: "List heuristic presets and their metrics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rows := make([][]string, 0)
			for _, name := range search.PresetNames() {
				h, err := search.Preset(name)
				if err != nil {
					return err
				}
				def := ""
				if name == search.DefaultPreset {
					def = "default"
				}
				rows = append(rows, []string{name, h.Describe(), def})
			}
			a.out.Table([]string{"name", "metrics", ""}, rows)
			return nil
		},
	}
}
