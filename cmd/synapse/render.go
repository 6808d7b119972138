// Copyright (C) 2025 The Synapse Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See <https://www.gnu.org/licenses/agpl-3.0.html> for the full license text.

package main

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/snaplab-dpss/synapse/pkg/ux"
	"github.com/snaplab-dpss/synapse/services/synapse/ep"
	"github.com/snaplab-dpss/synapse/services/synapse/search"
	"github.com/snaplab-dpss/synapse/services/synapse/storage"
)

func formatScore(s []float64) string {
	parts := make([]string, len(s))
	for i, v := range s {
		parts[i] = strconv.FormatFloat(v, 'g', 6, 64)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// formatRate renders a packet or bit rate with a metric prefix.
func formatRate(v float64, unit string) string {
	switch {
	case v >= 1e9:
		return fmt.Sprintf("%.2f G%s", v/1e9, unit)
	case v >= 1e6:
		return fmt.Sprintf("%.2f M%s", v/1e6, unit)
	case v >= 1e3:
		return fmt.Sprintf("%.2f K%s", v/1e3, unit)
	default:
		return fmt.Sprintf("%.0f %s", v, unit)
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func renderReport(out *ux.Printer, report *search.Report, runID string, top int) {
	st := report.Stats
	out.Title("Search " + report.Heuristic)
	pairs := []string{
		"stopped by", st.StoppedBy,
		"expansions", strconv.Itoa(st.Expansions),
		"generated", strconv.Itoa(st.Generated),
		"finished", strconv.Itoa(st.Finished),
		"dead ends", strconv.Itoa(st.DeadEnds),
		"pruned", strconv.Itoa(st.Pruned),
		"elapsed", st.Elapsed.Round(time.Millisecond).String(),
	}
	if runID != "" {
		pairs = append(pairs, "run", runID)
	}
	out.KV(pairs...)

	if len(report.Finished) == 0 {
		out.Warning("no finished plan")
		return
	}

	n := len(report.Finished)
	if top > 0 && n > top {
		n = top
	}
	rows := make([][]string, 0, n)
	for i := 0; i < n; i++ {
		snap := report.Finished[i].Snapshot()
		rows = append(rows, planRow(i, report.Scores[i], snap))
	}
	out.Table([]string{"rank", "score", "throughput", "modules", "ledger", "fingerprint"}, rows)

	renderPlan(out, report.Best.Snapshot())
}

func planRow(rank int, score []float64, snap ep.Snapshot) []string {
	return []string{
		strconv.Itoa(rank),
		formatScore(score),
		formatRate(snap.ThroughputPPS, "pps"),
		strconv.Itoa(len(snap.Modules)),
		strconv.Itoa(len(snap.Ledger)),
		snap.Fingerprint,
	}
}

// renderPlan prints the module tree, the ledger and switch usage of a plan.
func renderPlan(out *ux.Printer, snap ep.Snapshot) {
	out.Title("Plan " + snap.Fingerprint)
	out.KV(
		"throughput", formatRate(snap.ThroughputPPS, "pps")+" / "+formatRate(snap.ThroughputBps, "bps"),
		"depth", strconv.Itoa(snap.Meta.Depth),
		"progress", out.Bar(snap.Meta.Progress, 20),
	)

	depth := moduleDepths(snap.Modules)
	rows := make([][]string, 0, len(snap.Modules))
	for _, m := range snap.Modules {
		name := strings.Repeat("  ", depth[m.ID]) + m.Type
		rows = append(rows, []string{strconv.Itoa(m.ID), name, m.Target, strconv.Itoa(m.Node), m.Summary})
	}
	out.Table([]string{"id", "module", "target", "node", "summary"}, rows)

	if len(snap.Ledger) > 0 {
		rows = rows[:0]
		for _, e := range snap.Ledger {
			rows = append(rows, []string{fmt.Sprintf("0x%x", e.Object), e.Impl.String()})
		}
		out.Table([]string{"object", "implementation"}, rows)
	}

	for _, name := range sortedKeys(snap.Tofino) {
		ts := snap.Tofino[name]
		out.Info(fmt.Sprintf("%s: %d stages in use, %d structures, %d/%d digests",
			name, ts.Usage.StagesInUse, ts.Usage.Structures, ts.Usage.DigestsUsed, ts.Usage.DigestChannels))
		if len(ts.Placements) == 0 {
			continue
		}
		rows = rows[:0]
		for _, pl := range ts.Placements {
			stages := make([]string, len(pl.Stages))
			for i, s := range pl.Stages {
				stages[i] = strconv.Itoa(s)
			}
			rows = append(rows, []string{string(pl.ID), pl.Kind.String(), strings.Join(stages, ",")})
		}
		out.Table([]string{"structure", "kind", "stages"}, rows)
	}
	for _, name := range sortedKeys(snap.Hosts) {
		hs := snap.Hosts[name]
		out.Info(fmt.Sprintf("%s: %d objects, %d bytes", name, len(hs.Objects), hs.MemoryBytes))
	}
}

// moduleDepths returns the tree depth of every module id.
func moduleDepths(mods []ep.ModuleSnapshot) map[int]int {
	depth := make(map[int]int, len(mods))
	for _, m := range mods {
		if d, ok := depth[m.Parent]; ok {
			depth[m.ID] = d + 1
		} else {
			depth[m.ID] = 0
		}
	}
	return depth
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func renderRuns(out *ux.Printer, runs []storage.RunRecord) {
	if len(runs) == 0 {
		out.Info("no stored runs")
		return
	}
	rows := make([][]string, 0, len(runs))
	for _, r := range runs {
		rows = append(rows, []string{
			shortID(r.ID),
			r.StartedAt.Local().Format(time.DateTime),
			r.Heuristic,
			r.Trace,
			strconv.Itoa(r.Plans),
			formatScore(r.BestScore),
			r.Stats.StoppedBy,
		})
	}
	out.Table([]string{"id", "started", "heuristic", "trace", "plans", "best score", "stopped by"}, rows)
}
