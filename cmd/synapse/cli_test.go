// Copyright (C) 2025 The Synapse Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See <https://www.gnu.org/licenses/agpl-3.0.html> for the full license text.

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snaplab-dpss/synapse/services/synapse/bdd"
	"github.com/snaplab-dpss/synapse/services/synapse/storage"
)

const mapAddr = 0x4000

// fixture writes a lookup trace and a config with a private plan store.
func fixture(t *testing.T) (tracePath, configPath string) {
	t.Helper()
	dir := t.TempDir()

	b := bdd.NewBuilder(2).Init(bdd.Call{
		Function: bdd.FnMapAllocate,
		Args: map[string]bdd.Arg{
			bdd.ArgCapacity: {Expr: bdd.Const(4096, 32)},
			bdd.ArgKeySize:  {Expr: bdd.Const(4, 32)},
			bdd.ArgMapOut:   {Out: bdd.Const(mapAddr, 64)},
		},
	})
	fwd := b.Forward(bdd.Const(1, 16))
	get := b.Call(bdd.Call{
		Function: bdd.FnMapGet,
		Args: map[string]bdd.Arg{
			bdd.ArgMap: {Expr: bdd.Const(mapAddr, 64)},
			bdd.ArgKey: {In: bdd.Read(bdd.PacketSymbol, 26, 32)},
		},
	}, fwd)
	trace, err := b.Build(b.Branch(bdd.Eq(bdd.Read(bdd.PacketSymbol, 12, 16), bdd.Const(0x0800, 16)), get, b.Drop()))
	require.NoError(t, err)
	data, err := bdd.Encode(trace)
	require.NoError(t, err)
	tracePath = filepath.Join(dir, "lookup.yaml")
	require.NoError(t, os.WriteFile(tracePath, data, 0o600))

	configPath = filepath.Join(dir, "synapse.yaml")
	cfg := fmt.Sprintf("storage:\n  path: %q\n  sync_writes: false\n  gc_interval: 0s\nlog:\n  level: error\n", filepath.Join(dir, "db"))
	require.NoError(t, os.WriteFile(configPath, []byte(cfg), 0o600))
	return tracePath, configPath
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	err := run(context.Background(), args, &stdout, &stderr)
	return stdout.String(), err
}

func lineValue(out, key string) string {
	for _, line := range strings.Split(out, "\n") {
		if v, ok := strings.CutPrefix(line, key+"\t"); ok {
			return v
		}
	}
	return ""
}

func TestCLI_Inspect(t *testing.T) {
	tracePath, configPath := fixture(t)
	out, err := runCLI(t, "inspect", tracePath, "-c", configPath, "-o", "plain")
	require.NoError(t, err)

	assert.Contains(t, out, "OK: trace is valid")
	assert.Equal(t, "4", lineValue(out, "nodes"))
	assert.Equal(t, "1", lineValue(out, "objects"))
	assert.Equal(t, "1", lineValue(out, bdd.FnMapGet))
	assert.Contains(t, out, fmt.Sprintf("0x%x\t%s\t4096", mapAddr, bdd.FnMapAllocate))
}

func TestCLI_InspectRejectsMissingTrace(t *testing.T) {
	_, configPath := fixture(t)
	_, err := runCLI(t, "inspect", filepath.Join(t.TempDir(), "none.yaml"), "-c", configPath)
	assert.Error(t, err)
}

func TestCLI_SearchAndBrowse(t *testing.T) {
	tracePath, configPath := fixture(t)

	out, err := runCLI(t, "search", tracePath, "-c", configPath, "-o", "plain", "--heuristic", "max-throughput")
	require.NoError(t, err)
	assert.Equal(t, "exhausted", lineValue(out, "stopped by"))
	runID := lineValue(out, "run")
	require.NotEmpty(t, runID)
	assert.Contains(t, out, "rank\tscore\tthroughput")

	out, err = runCLI(t, "plans", "list", "-c", configPath, "-o", "plain")
	require.NoError(t, err)
	assert.Contains(t, out, runID[:8])
	assert.Contains(t, out, "max-throughput")

	out, err = runCLI(t, "plans", "show", runID[:8], "--json", "-c", configPath)
	require.NoError(t, err)
	var pr storage.PlanRecord
	require.NoError(t, json.Unmarshal([]byte(out), &pr))
	assert.Equal(t, runID, pr.RunID)
	assert.Equal(t, 0, pr.Rank)
	assert.True(t, pr.Snapshot.Finished)

	out, err = runCLI(t, "plans", "show", runID, "--all", "-c", configPath, "-o", "plain")
	require.NoError(t, err)
	assert.Equal(t, "max-throughput", lineValue(out, "heuristic"))

	_, err = runCLI(t, "plans", "delete", runID, "-c", configPath, "-o", "plain")
	require.NoError(t, err)
	_, err = runCLI(t, "plans", "show", runID, "-c", configPath)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestCLI_SearchNoStore(t *testing.T) {
	tracePath, configPath := fixture(t)
	out, err := runCLI(t, "search", tracePath, "-c", configPath, "-o", "plain", "--no-store", "--first")
	require.NoError(t, err)
	assert.Equal(t, "first_solution", lineValue(out, "stopped by"))
	assert.Empty(t, lineValue(out, "run"))

	out, err = runCLI(t, "plans", "list", "-c", configPath, "-o", "plain")
	require.NoError(t, err)
	assert.Contains(t, out, "no stored runs")
}

func TestCLI_SearchFlagValidation(t *testing.T) {
	tracePath, configPath := fixture(t)
	_, err := runCLI(t, "search", tracePath, "-c", configPath, "--heuristic", "astar")
	assert.Error(t, err)
	_, err = runCLI(t, "search", tracePath, "-c", configPath, "--targets", "tofino", "--start", "x86")
	assert.Error(t, err)
}

func TestCLI_BadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("placer: ilp\n"), 0o600))
	_, err := runCLI(t, "heuristics", "-c", path)
	assert.Error(t, err)
}

func TestCLI_Heuristics(t *testing.T) {
	_, configPath := fixture(t)
	out, err := runCLI(t, "heuristics", "-c", configPath, "-o", "plain")
	require.NoError(t, err)
	assert.Contains(t, out, "bfs\tdepth:min")
	assert.Contains(t, out, "greedy-throughput\t")
	assert.Contains(t, out, "\tdefault")
}

func TestFormatRate(t *testing.T) {
	assert.Equal(t, "4.70 Gpps", formatRate(4.7e9, "pps"))
	assert.Equal(t, "1.00 Mpps", formatRate(1e6, "pps"))
	assert.Equal(t, "1.50 Kbps", formatRate(1500, "bps"))
	assert.Equal(t, "12 pps", formatRate(12, "pps"))
	assert.Equal(t, "[1, 0.5]", formatScore([]float64{1, 0.5}))
	assert.Equal(t, "abcdefgh", shortID("abcdefghijk"))
}
