// Copyright (C) 2025 The Synapse Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See <https://www.gnu.org/licenses/agpl-3.0.html> for the full license text.

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// applyEnv overrides cfg from the environment. Unlike file values, a
// malformed variable is reported instead of ignored.
//
// Recognized variables:
//
//	SYNAPSE_HEURISTIC, SYNAPSE_TARGETS (comma separated), SYNAPSE_START
//	SYNAPSE_WORKERS, SYNAPSE_STOP_ON_FIRST, SYNAPSE_DEDUP_PLANS
//	SYNAPSE_MAX_EXPANSIONS, SYNAPSE_TIME_LIMIT, SYNAPSE_MAX_UNFINISHED
//	SYNAPSE_KEEP_PLANS, SYNAPSE_TOFINO_STAGES, SYNAPSE_PLACER, SYNAPSE_SEED
//	SYNAPSE_HOST_MEMORY_BYTES, SYNAPSE_DB_PATH, SYNAPSE_DB_IN_MEMORY
//	SYNAPSE_LOG_LEVEL, SYNAPSE_LOG_DIR, SYNAPSE_LOG_JSON
//	OTEL_TRACES_EXPORTER, OTEL_METRICS_EXPORTER, OTEL_EXPORTER_OTLP_ENDPOINT
//
// SYNAPSE_TOFINO_MODEL is read by Load before the file is decoded.
func applyEnv(cfg *Config) error {
	e := envReader{}

	e.strVar("SYNAPSE_HEURISTIC", &cfg.Search.Heuristic)
	if v := os.Getenv("SYNAPSE_TARGETS"); v != "" {
		cfg.Targets = nil
		for _, t := range strings.Split(v, ",") {
			if t = strings.TrimSpace(t); t != "" {
				cfg.Targets = append(cfg.Targets, t)
			}
		}
	}
	e.strVar("SYNAPSE_START", &cfg.Start)

	e.intVar("SYNAPSE_WORKERS", &cfg.Search.Workers)
	e.boolVar("SYNAPSE_STOP_ON_FIRST", &cfg.Search.StopOnFirstSolution)
	e.boolVar("SYNAPSE_DEDUP_PLANS", &cfg.Search.DedupPlans)
	e.intVar("SYNAPSE_MAX_EXPANSIONS", &cfg.Search.Budget.MaxExpansions)
	e.durationVar("SYNAPSE_TIME_LIMIT", &cfg.Search.Budget.TimeLimit)
	e.intVar("SYNAPSE_MAX_UNFINISHED", &cfg.Search.Budget.MaxUnfinished)
	e.intVar("SYNAPSE_KEEP_PLANS", &cfg.Search.KeepPlans)

	e.intVar("SYNAPSE_TOFINO_STAGES", &cfg.Tofino.Stages)
	e.strVar("SYNAPSE_PLACER", &cfg.Placer)
	if v := os.Getenv("SYNAPSE_SEED"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		e.record("SYNAPSE_SEED", v, err)
		if err == nil {
			cfg.Seed = n
		}
	}
	if v := os.Getenv("SYNAPSE_HOST_MEMORY_BYTES"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		e.record("SYNAPSE_HOST_MEMORY_BYTES", v, err)
		if err == nil {
			cfg.HostMemoryBytes = n
		}
	}

	e.strVar("SYNAPSE_DB_PATH", &cfg.Storage.Path)
	e.boolVar("SYNAPSE_DB_IN_MEMORY", &cfg.Storage.InMemory)

	e.strVar("SYNAPSE_LOG_LEVEL", &cfg.Log.Level)
	e.strVar("SYNAPSE_LOG_DIR", &cfg.Log.Dir)
	e.boolVar("SYNAPSE_LOG_JSON", &cfg.Log.JSON)

	e.strVar("OTEL_TRACES_EXPORTER", &cfg.Telemetry.TraceExporter)
	e.strVar("OTEL_METRICS_EXPORTER", &cfg.Telemetry.MetricExporter)
	e.strVar("OTEL_EXPORTER_OTLP_ENDPOINT", &cfg.Telemetry.OTLPEndpoint)

	return e.err
}

// envReader applies typed overrides and keeps the first parse error.
type envReader struct {
	err error
}

func (e *envReader) record(key, value string, err error) {
	if err != nil && e.err == nil {
		e.err = fmt.Errorf("%s=%q: %w", key, value, err)
	}
}

func (e *envReader) strVar(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func (e *envReader) intVar(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		e.record(key, v, err)
		if err == nil {
			*dst = n
		}
	}
}

func (e *envReader) boolVar(key string, dst *bool) {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		e.record(key, v, err)
		if err == nil {
			*dst = b
		}
	}
}

func (e *envReader) durationVar(key string, dst *time.Duration) {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		e.record(key, v, err)
		if err == nil {
			*dst = d
		}
	}
}
