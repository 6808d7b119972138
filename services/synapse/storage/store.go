// Copyright (C) 2025 The Synapse Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See <https://www.gnu.org/licenses/agpl-3.0.html> for the full license text.

package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/snaplab-dpss/synapse/services/synapse/ep"
	"github.com/snaplab-dpss/synapse/services/synapse/search"
)

var (
	// ErrNotFound is returned for an unknown run or plan.
	ErrNotFound = errors.New("not found")

	// ErrAmbiguousID is returned when an id prefix matches several runs.
	ErrAmbiguousID = errors.New("ambiguous run id")
)

const (
	runPrefix  = "run/"
	planPrefix = "plan/"
)

func runKey(id string) []byte { return []byte(runPrefix + id) }

func planKey(id string, rank int) []byte { return []byte(fmt.Sprintf("%s%s/%06d", planPrefix, id, rank)) }

// RunRecord describes one stored search run.
type RunRecord struct {
	ID        string       `json:"id"`
	Heuristic string       `json:"heuristic"`
	Trace     string       `json:"trace,omitempty"`
	Targets   []string     `json:"targets,omitempty"`
	StartedAt time.Time    `json:"started_at"`
	Stats     search.Stats `json:"stats"`
	Plans     int          `json:"plans"`
	BestScore []float64    `json:"best_score,omitempty"`
	Error     string       `json:"error,omitempty"`
}

// PlanRecord is one finished plan of a run, ranked from 0 (best).
type PlanRecord struct {
	RunID    string      `json:"run_id"`
	Rank     int         `json:"rank"`
	Score    []float64   `json:"score"`
	Snapshot ep.Snapshot `json:"snapshot"`
}

// Store keeps search runs and their finished plans.
//
// Thread Safety: Safe for concurrent use.
type Store struct {
	db *db
}

// Open opens the store described by cfg.
func Open(cfg Config) (*Store, error) {
	d, err := openDB(cfg)
	if err != nil {
		return nil, err
	}
	return &Store{db: d}, nil
}

// Close stops background GC and closes the database.
func (s *Store) Close() error { return s.db.close() }

// NewRunID returns a fresh run identifier.
func NewRunID() string { return uuid.NewString() }

// SaveReport stores rec and up to keep finished plans of report, best
// first. keep <= 0 stores every plan. An empty rec.ID gets a new id.
//
// Outputs:
//   - RunRecord: rec as stored, with ID, Stats, Plans and BestScore filled.
//   - error: Non-nil if encoding or writing fails.
func (s *Store) SaveReport(ctx context.Context, rec RunRecord, report *search.Report, keep int) (RunRecord, error) {
	if err := ctx.Err(); err != nil {
		return rec, fmt.Errorf("context cancelled: %w", err)
	}
	if rec.ID == "" {
		rec.ID = NewRunID()
	}
	if rec.StartedAt.IsZero() {
		rec.StartedAt = time.Now().UTC()
	}
	plans := report.Finished
	if keep > 0 && len(plans) > keep {
		plans = plans[:keep]
	}
	rec.Stats = report.Stats
	rec.Plans = len(plans)
	rec.BestScore = report.BestScore

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()

	data, err := json.Marshal(rec)
	if err != nil {
		return rec, fmt.Errorf("encode run %s: %w", rec.ID, err)
	}
	if err := wb.Set(runKey(rec.ID), data); err != nil {
		return rec, fmt.Errorf("write run %s: %w", rec.ID, err)
	}
	for i, p := range plans {
		pr := PlanRecord{RunID: rec.ID, Rank: i, Score: report.Scores[i], Snapshot: p.Snapshot()}
		data, err := json.Marshal(pr)
		if err != nil {
			return rec, fmt.Errorf("encode plan %s/%d: %w", rec.ID, i, err)
		}
		if err := wb.Set(planKey(rec.ID, i), data); err != nil {
			return rec, fmt.Errorf("write plan %s/%d: %w", rec.ID, i, err)
		}
	}
	if err := wb.Flush(); err != nil {
		return rec, fmt.Errorf("flush run %s: %w", rec.ID, err)
	}
	return rec, nil
}

// Run returns the run whose id is or starts with id.
func (s *Store) Run(ctx context.Context, id string) (RunRecord, error) {
	full, err := s.ResolveID(ctx, id)
	if err != nil {
		return RunRecord{}, err
	}
	var rec RunRecord
	err = s.db.view(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get(runKey(full))
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error { return json.Unmarshal(v, &rec) })
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return RunRecord{}, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	return rec, err
}

// ResolveID expands a unique id prefix to the full run id.
func (s *Store) ResolveID(ctx context.Context, prefix string) (string, error) {
	var matches []string
	err := s.db.view(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = runKey(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			matches = append(matches, strings.TrimPrefix(string(it.Item().Key()), runPrefix))
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	switch len(matches) {
	case 0:
		return "", fmt.Errorf("run %s: %w", prefix, ErrNotFound)
	case 1:
		return matches[0], nil
	default:
		for _, m := range matches {
			if m == prefix {
				return m, nil
			}
		}
		return "", fmt.Errorf("%w: %q matches %d runs", ErrAmbiguousID, prefix, len(matches))
	}
}

// Runs returns every stored run, newest first.
func (s *Store) Runs(ctx context.Context) ([]RunRecord, error) {
	var out []RunRecord
	err := s.db.view(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(runPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var rec RunRecord
			if err := it.Item().Value(func(v []byte) error { return json.Unmarshal(v, &rec) }); err != nil {
				return fmt.Errorf("decode %s: %w", it.Item().Key(), err)
			}
			out = append(out, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out, nil
}

// Plans returns the stored plans of a run in rank order.
func (s *Store) Plans(ctx context.Context, id string) ([]PlanRecord, error) {
	full, err := s.ResolveID(ctx, id)
	if err != nil {
		return nil, err
	}
	var out []PlanRecord
	err = s.db.view(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(planPrefix + full + "/")
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var pr PlanRecord
			if err := it.Item().Value(func(v []byte) error { return json.Unmarshal(v, &pr) }); err != nil {
				return fmt.Errorf("decode %s: %w", it.Item().Key(), err)
			}
			out = append(out, pr)
		}
		return nil
	})
	return out, err
}

// Plan returns one stored plan of a run.
func (s *Store) Plan(ctx context.Context, id string, rank int) (PlanRecord, error) {
	full, err := s.ResolveID(ctx, id)
	if err != nil {
		return PlanRecord{}, err
	}
	var pr PlanRecord
	err = s.db.view(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get(planKey(full, rank))
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error { return json.Unmarshal(v, &pr) })
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return PlanRecord{}, fmt.Errorf("plan %s/%d: %w", full, rank, ErrNotFound)
	}
	return pr, err
}

// DeleteRun removes a run and its plans.
func (s *Store) DeleteRun(ctx context.Context, id string) error {
	full, err := s.ResolveID(ctx, id)
	if err != nil {
		return err
	}
	return s.db.update(ctx, func(txn *badger.Txn) error {
		keys := [][]byte{runKey(full)}
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(planPrefix + full + "/")
		it := txn.NewIterator(opts)
		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		it.Close()
		for _, k := range keys {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}
