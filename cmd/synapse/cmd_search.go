// Copyright (C) 2025 The Synapse Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See <https://www.gnu.org/licenses/agpl-3.0.html> for the full license text.

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/snaplab-dpss/synapse/services/synapse/bdd"
	"github.com/snaplab-dpss/synapse/services/synapse/ep"
	"github.com/snaplab-dpss/synapse/services/synapse/modules"
	"github.com/snaplab-dpss/synapse/services/synapse/profiler"
	"github.com/snaplab-dpss/synapse/services/synapse/search"
	"github.com/snaplab-dpss/synapse/services/synapse/storage"
	"github.com/snaplab-dpss/synapse/services/synapse/telemetry"
)

type searchFlags struct {
	profile       string
	heuristic     string
	targets       []string
	start         string
	workers       int
	stopOnFirst   bool
	dedup         bool
	maxExpansions int
	timeLimit     time.Duration
	beam          int
	seed          uint64
	placer        string
	keep          int
	top           int
	noStore       bool
	metricsAddr   string
}

func newSearchCmd(a *app) *cobra.Command {
	var f searchFlags
	cmd := &cobra.Command{
		Use:   "search TRACE",
		Short: "Search execution plans for a program trace",
		Long: `Search explores execution plans for TRACE best first under the
selected heuristic, prints the best plans and stores them for later
inspection with "synapse plans".`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runSearch(cmd, args[0], f)
		},
	}
	fl := cmd.Flags()
	fl.StringVarP(&f.profile, "profile", "p", "", "traffic profile (YAML or JSON)")
	fl.StringVarP(&f.heuristic, "heuristic", "H", "", "heuristic preset, see \"synapse heuristics\"")
	fl.StringSliceVarP(&f.targets, "targets", "t", nil, "target instances, e.g. tofino,controller,x86")
	fl.StringVar(&f.start, "start", "", "target the packet enters on")
	fl.IntVarP(&f.workers, "workers", "w", 0, "plans expanded concurrently")
	fl.BoolVar(&f.stopOnFirst, "first", false, "stop at the first finished plan")
	fl.BoolVar(&f.dedup, "dedup", false, "drop plans identical to one already seen")
	fl.IntVar(&f.maxExpansions, "max-expansions", 0, "stop after this many expansions")
	fl.DurationVar(&f.timeLimit, "time-limit", 0, "stop after this much time")
	fl.IntVar(&f.beam, "beam", 0, "keep only the best N unfinished plans")
	fl.Uint64Var(&f.seed, "seed", 0, "random tie-breaker seed")
	fl.StringVar(&f.placer, "placer", "", "stage placer: simple or solver")
	fl.IntVar(&f.keep, "keep", 0, "finished plans to store")
	fl.IntVar(&f.top, "top", 5, "finished plans to list")
	fl.BoolVar(&f.noStore, "no-store", false, "do not store the run")
	fl.StringVar(&f.metricsAddr, "metrics-addr", "", "serve /metrics on this address during the run")
	return cmd
}

// applySearchFlags copies the flags the user set onto the configuration.
func (a *app) applySearchFlags(cmd *cobra.Command, f searchFlags) error {
	c := &a.cfg
	changed := cmd.Flags().Changed
	if changed("heuristic") {
		c.Search.Heuristic = f.heuristic
	}
	if changed("targets") {
		c.Targets = f.targets
	}
	if changed("start") {
		c.Start = f.start
	}
	if changed("workers") {
		c.Search.Workers = f.workers
	}
	if changed("first") {
		c.Search.StopOnFirstSolution = f.stopOnFirst
	}
	if changed("dedup") {
		c.Search.DedupPlans = f.dedup
	}
	if changed("max-expansions") {
		c.Search.Budget.MaxExpansions = f.maxExpansions
	}
	if changed("time-limit") {
		c.Search.Budget.TimeLimit = f.timeLimit
	}
	if changed("beam") {
		c.Search.Budget.MaxUnfinished = f.beam
	}
	if changed("seed") {
		c.Seed = f.seed
	}
	if changed("placer") {
		c.Placer = f.placer
	}
	if changed("keep") {
		c.Search.KeepPlans = f.keep
	}
	return c.Validate()
}

func (a *app) runSearch(cmd *cobra.Command, tracePath string, f searchFlags) error {
	if err := a.applySearchFlags(cmd, f); err != nil {
		return err
	}
	log := a.logger.Slog()

	trace, err := bdd.Load(tracePath)
	if err != nil {
		return err
	}
	prof := profiler.Default(trace)
	if f.profile != "" {
		if prof, err = profiler.Load(f.profile, trace); err != nil {
			return err
		}
	}

	cc, err := a.cfg.ContextConfig()
	if err != nil {
		return err
	}
	epCtx, err := ep.NewContext(prof, cc)
	if err != nil {
		return err
	}
	start, err := a.cfg.StartTarget()
	if err != nil {
		return err
	}
	h, err := a.cfg.Heuristic()
	if err != nil {
		return err
	}

	opts := a.cfg.Modules
	opts.Logger = log
	engine := search.NewEngine(
		modules.NewCatalog(trace, opts), h, a.cfg.Search.Config,
		search.WithLogger(log),
		search.WithTracer(search.NewTracer(log, a.cfg.Telemetry.TracingEnabled())),
	)

	if f.metricsAddr != "" {
		stop, err := serveMetrics(f.metricsAddr, log)
		if err != nil {
			return err
		}
		defer stop()
	}

	ctx := cmd.Context()
	started := time.Now().UTC()
	report, searchErr := engine.Search(ctx, search.Seed(trace, epCtx, start))
	a.metrics.RecordRun(ctx, h.Name, report.Stats, searchErr)

	runID := ""
	if !f.noStore && len(report.Finished) > 0 {
		rec := storage.RunRecord{
			Heuristic: h.Name,
			Trace:     tracePath,
			Targets:   a.cfg.Targets,
			StartedAt: started,
		}
		if searchErr != nil {
			rec.Error = searchErr.Error()
		}
		if runID, err = a.storeReport(context.WithoutCancel(ctx), rec, report); err != nil {
			return err
		}
	}

	renderReport(a.out, report, runID, f.top)
	if searchErr != nil {
		return fmt.Errorf("search: %w", searchErr)
	}
	return nil
}

func (a *app) storeReport(ctx context.Context, rec storage.RunRecord, report *search.Report) (string, error) {
	st, err := a.openStore()
	if err != nil {
		return "", err
	}
	defer st.Close()
	rec, err = st.SaveReport(ctx, rec, report, a.cfg.Search.KeepPlans)
	if err != nil {
		return "", fmt.Errorf("store run: %w", err)
	}
	a.metrics.RecordStored(ctx, rec.Plans)
	return rec.ID, nil
}

// serveMetrics exposes telemetry.MetricsHandler on addr until stop is
// called.
func serveMetrics(addr string, log *slog.Logger) (stop func(), err error) {
	h := telemetry.MetricsHandler()
	if h == nil {
		return nil, errors.New("--metrics-addr needs telemetry.metric_exporter: prometheus")
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", h)
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn("metrics server stopped", slog.String("error", err.Error()))
		}
	}()
	log.Info("serving metrics", slog.String("addr", ln.Addr().String()))
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}
