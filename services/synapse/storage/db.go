// Copyright (C) 2025 The Synapse Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See <https://www.gnu.org/licenses/agpl-3.0.html> for the full license text.

// Package storage persists search runs and their finished plans in an
// embedded BadgerDB.
//
// License: BadgerDB is Apache 2.0 licensed (github.com/dgraph-io/badger).
package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// Config holds configuration for the plan database.
type Config struct {
	// Path is the directory for database files. Ignored when InMemory is set.
	Path string `yaml:"path" json:"path"`

	// InMemory keeps everything in RAM. Useful for tests and dry runs.
	InMemory bool `yaml:"in_memory" json:"in_memory"`

	// SyncWrites enables synchronous writes for durability.
	SyncWrites bool `yaml:"sync_writes" json:"sync_writes"`

	// GCInterval is how often value log garbage collection runs. Zero
	// disables it.
	GCInterval time.Duration `yaml:"gc_interval" json:"gc_interval" validate:"gte=0"`

	// GCDiscardRatio is the minimum discardable fraction before GC rewrites
	// a value log file.
	GCDiscardRatio float64 `yaml:"gc_discard_ratio" json:"gc_discard_ratio" validate:"gte=0,lte=1"`

	// Logger receives BadgerDB's internal logs. Nil silences them.
	Logger *slog.Logger `yaml:"-" json:"-"`
}

// DefaultConfig returns defaults for a persistent database at path.
func DefaultConfig(path string) Config {
	return Config{
		Path:           path,
		SyncWrites:     true,
		GCInterval:     5 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// InMemoryConfig returns a configuration without disk I/O.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

// badgerLog routes BadgerDB's printf-style logging into slog with a
// "component" attribute.
type badgerLog struct{ l *slog.Logger }

func (b badgerLog) logf(level slog.Level, format string, args []any) {
	b.l.Log(context.Background(), level, strings.TrimSpace(fmt.Sprintf(format, args...)), slog.String("component", "badger"))
}

func (b badgerLog) Errorf(format string, args ...any)   { b.logf(slog.LevelError, format, args) }
func (b badgerLog) Warningf(format string, args ...any) { b.logf(slog.LevelWarn, format, args) }
func (b badgerLog) Infof(format string, args ...any)    { b.logf(slog.LevelDebug, format, args) }
func (b badgerLog) Debugf(format string, args ...any)   { b.logf(slog.LevelDebug, format, args) }

// db is a BadgerDB handle plus its value log GC goroutine.
type db struct {
	*badger.DB
	cancelGC context.CancelFunc
	gcDone   chan struct{}
	logger   *slog.Logger
}

func openDB(cfg Config) (*db, error) {
	opts := badger.DefaultOptions(cfg.Path)
	switch {
	case cfg.InMemory:
		opts = badger.DefaultOptions("").WithInMemory(true)
	case cfg.Path == "":
		return nil, errors.New("path is required for persistent database")
	default:
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
		}
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1).WithLogger(nil)
	if cfg.Logger != nil {
		opts = opts.WithLogger(badgerLog{l: cfg.Logger})
	}

	bdb, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	d := &db{DB: bdb, logger: cfg.Logger}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		var ctx context.Context
		ctx, d.cancelGC = context.WithCancel(context.Background())
		d.gcDone = make(chan struct{})
		go d.collect(ctx, cfg.GCInterval, cfg.GCDiscardRatio)
	}
	return d, nil
}

// collect runs value log GC every interval until ctx is done. Each tick
// keeps rewriting while badger reports something was reclaimed.
func (d *db) collect(ctx context.Context, interval time.Duration, ratio float64) {
	defer close(d.gcDone)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		for ctx.Err() == nil {
			err := d.RunValueLogGC(ratio)
			if err == nil {
				continue
			}
			if !errors.Is(err, badger.ErrNoRewrite) && d.logger != nil {
				d.logger.Warn("plan store value log GC failed", slog.String("error", err.Error()))
			}
			break
		}
	}
}

func (d *db) close() error {
	if d.cancelGC != nil {
		d.cancelGC()
		<-d.gcDone
	}
	return d.DB.Close()
}

// update runs fn in a read-write transaction, committing when it returns nil.
func (d *db) update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}
	txn := d.NewTransaction(true)
	defer txn.Discard()
	if err := fn(txn); err != nil {
		return err
	}
	return txn.Commit()
}

// view runs fn in a read-only transaction.
func (d *db) view(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}
	txn := d.NewTransaction(false)
	defer txn.Discard()
	return fn(txn)
}
