// Copyright (C) 2025 The Synapse Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See <https://www.gnu.org/licenses/agpl-3.0.html> for the full license text.

package main

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/snaplab-dpss/synapse/services/synapse/storage"
)

func newPlansCmd(a *app) *cobra.Command {
	plans := &cobra.Command{
		Use:   "plans",
		Short: "Browse stored search runs and plans",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List stored runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStore(func(st *storage.Store) error {
				runs, err := st.Runs(cmd.Context())
				if err != nil {
					return err
				}
				renderRuns(a.out, runs)
				return nil
			})
		},
	}

	var (
		rank    int
		asJSON  bool
		summary bool
	)
	show := &cobra.Command{
		Use:   "show RUN",
		Short: "Show a stored plan; RUN may be a unique id prefix",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStore(func(st *storage.Store) error {
				ctx := cmd.Context()
				if summary {
					return a.showRun(cmd, st, args[0])
				}
				pr, err := st.Plan(ctx, args[0], rank)
				if err != nil {
					return err
				}
				if asJSON {
					enc := json.NewEncoder(cmd.OutOrStdout())
					enc.SetIndent("", "  ")
					return enc.Encode(pr)
				}
				a.out.KV("run", pr.RunID, "rank", strconv.Itoa(pr.Rank), "score", formatScore(pr.Score))
				renderPlan(a.out, pr.Snapshot)
				return nil
			})
		},
	}
	show.Flags().IntVarP(&rank, "rank", "r", 0, "plan rank, 0 is the best")
	show.Flags().BoolVar(&asJSON, "json", false, "print the stored record as JSON")
	show.Flags().BoolVar(&summary, "all", false, "list every stored plan of the run instead")

	del := &cobra.Command{
		Use:   "delete RUN",
		Short: "Delete a stored run and its plans",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStore(func(st *storage.Store) error {
				id, err := st.ResolveID(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if err := st.DeleteRun(cmd.Context(), id); err != nil {
					return err
				}
				a.out.Success("deleted run " + id)
				return nil
			})
		},
	}

	plans.AddCommand(list, show, del)
	return plans
}

func (a *app) showRun(cmd *cobra.Command, st *storage.Store, id string) error {
	ctx := cmd.Context()
	run, err := st.Run(ctx, id)
	if err != nil {
		return err
	}
	records, err := st.Plans(ctx, run.ID)
	if err != nil {
		return err
	}
	a.out.Title("Run " + run.ID)
	pairs := []string{
		"heuristic", run.Heuristic,
		"trace", run.Trace,
		"targets", fmt.Sprint(run.Targets),
		"stopped by", run.Stats.StoppedBy,
		"expansions", strconv.Itoa(run.Stats.Expansions),
	}
	if run.Error != "" {
		pairs = append(pairs, "error", run.Error)
	}
	a.out.KV(pairs...)
	rows := make([][]string, 0, len(records))
	for _, pr := range records {
		rows = append(rows, planRow(pr.Rank, pr.Score, pr.Snapshot))
	}
	a.out.Table([]string{"rank", "score", "throughput", "modules", "ledger", "fingerprint"}, rows)
	return nil
}

func (a *app) withStore(fn func(st *storage.Store) error) error {
	st, err := a.openStore()
	if err != nil {
		return err
	}
	defer st.Close()
	return fn(st)
}
