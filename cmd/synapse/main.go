// Copyright (C) 2025 The Synapse Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See <https://www.gnu.org/licenses/agpl-3.0.html> for the full license text.

// Command synapse searches execution plans that split a network function
// between a programmable switch, its controller and x86 servers.
//
// Usage:
//
//	synapse inspect nf.yaml
//	synapse search nf.yaml --profile traffic.yaml --heuristic max-throughput
//	synapse plans list
//	synapse plans show 3f2a --rank 0
//
// Configuration is read from --config (default synapse.yaml when present)
// and SYNAPSE_* environment variables; flags override both.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "synapse: %v\n", err)
		os.Exit(1)
	}
}
