// Copyright (C) 2025 The Synapse Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See <https://www.gnu.org/licenses/agpl-3.0.html> for the full license text.

package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"

	"github.com/snaplab-dpss/synapse/pkg/logging"
	"github.com/snaplab-dpss/synapse/pkg/ux"
	"github.com/snaplab-dpss/synapse/services/synapse/config"
	"github.com/snaplab-dpss/synapse/services/synapse/storage"
	"github.com/snaplab-dpss/synapse/services/synapse/telemetry"
)

const defaultConfigPath = "synapse.yaml"

// app is the state shared by every subcommand after setup.
type app struct {
	cfg      config.Config
	logger   *logging.Logger
	out      *ux.Printer
	metrics  *telemetry.Metrics
	shutdown func(context.Context) error
}

// globalFlags are the persistent flags of the root command.
type globalFlags struct {
	configPath string
	output     string
	logLevel   string
}

// run executes the CLI with args and always releases what setup acquired.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	root, a := newRootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	err := root.ExecuteContext(ctx)
	if terr := a.teardown(); err == nil {
		err = terr
	}
	return err
}

// newRootCmd builds the command tree. Each call returns independent
// commands and flag state.
func newRootCmd() (*cobra.Command, *app) {
	var (
		flags globalFlags
		a     = &app{}
	)

	root := &cobra.Command{
		Use:           "synapse",
		Short:         "Search execution plans for offloading a network function",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd, flags)
		},
	}
	root.PersistentFlags().StringVarP(&flags.configPath, "config", "c", defaultConfigPath, "configuration file (YAML or JSON)")
	root.PersistentFlags().StringVarP(&flags.output, "output", "o", "auto", "output style: auto, rich or plain")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "override log level: debug, info, warn, error")

	root.AddCommand(
		newSearchCmd(a),
		newInspectCmd(a),
		newPlansCmd(a),
		newHeuristicsCmd(a),
	)

	return root, a
}

func (a *app) setup(cmd *cobra.Command, flags globalFlags) error {
	path := flags.configPath
	if path == defaultConfigPath && !cmd.Flags().Changed("config") {
		// The default file is optional; Load treats a missing file as defaults.
		if _, err := os.Stat(path); err != nil {
			path = ""
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	if flags.logLevel != "" {
		cfg.Log.Level = flags.logLevel
		if err := cfg.Validate(); err != nil {
			return err
		}
	}
	a.cfg = cfg

	mode, err := ux.ParseMode(flags.output)
	if err != nil {
		return err
	}
	if f, ok := cmd.OutOrStdout().(*os.File); ok {
		mode = mode.Resolve(f)
	}
	a.out = ux.NewPrinter(cmd.OutOrStdout(), mode)

	lc := cfg.LoggingConfig("synapse")
	lc.Output = cmd.ErrOrStderr()
	a.logger = logging.New(lc)

	tc := cfg.Telemetry
	tc.Writer = cmd.ErrOrStderr()
	shutdown, err := telemetry.Init(cmd.Context(), tc)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	a.shutdown = shutdown
	a.metrics, err = telemetry.NewMetrics(otel.Meter("synapse"))
	if err != nil {
		a.logger.Warn("telemetry metrics unavailable", "error", err)
	}
	return nil
}

func (a *app) teardown() error {
	var err error
	if a.shutdown != nil {
		err = a.shutdown(context.Background())
		a.shutdown = nil
	}
	if a.logger != nil {
		if cerr := a.logger.Close(); cerr != nil && err == nil {
			err = cerr
		}
		a.logger = nil
	}
	return err
}

// openStore opens the plan database with BadgerDB logs routed to the
// application logger.
func (a *app) openStore() (*storage.Store, error) {
	sc := a.cfg.Storage
	sc.Logger = a.logger.Slog()
	st, err := storage.Open(sc)
	if err != nil {
		return nil, fmt.Errorf("open plan store: %w", err)
	}
	return st, nil
}
