// Copyright (C) 2025 The Synapse Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See <https://www.gnu.org/licenses/agpl-3.0.html> for the full license text.

package search

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

var (
	// ErrBudgetExhausted is returned when a limit stops the search before
	// any plan finished.
	ErrBudgetExhausted = errors.New("search budget exhausted")

	errExpansionLimit = fmt.Errorf("%w: expansions", ErrBudgetExhausted)
	errTimeLimit      = fmt.Errorf("%w: time", ErrBudgetExhausted)
)

// BudgetConfig bounds a search run. Zero values disable a limit.
type BudgetConfig struct {
	// MaxExpansions caps how many plans are expanded.
	MaxExpansions int `yaml:"max_expansions" json:"max_expansions" validate:"gte=0"`

	// TimeLimit caps wall-clock time.
	TimeLimit time.Duration `yaml:"time_limit" json:"time_limit" validate:"gte=0"`

	// MaxUnfinished is the beam width: after each iteration only the best
	// MaxUnfinished unfinished plans are kept.
	MaxUnfinished int `yaml:"max_unfinished" json:"max_unfinished" validate:"gte=0"`
}

// DefaultBudgetConfig returns an unbounded budget.
func DefaultBudgetConfig() BudgetConfig {
	return BudgetConfig{}
}

// Budget tracks consumption during a search.
//
// Thread Safety: Safe for concurrent use.
type Budget struct {
	config    BudgetConfig
	startTime time.Time

	expansions int64
	pruned     int64

	mu          sync.RWMutex
	exhausted   bool
	exhaustedBy string
}

// NewBudget creates a budget whose clock starts now.
func NewBudget(config BudgetConfig) *Budget {
	return &Budget{config: config, startTime: time.Now()}
}

// Config returns the budget configuration.
func (b *Budget) Config() BudgetConfig { return b.config }

// Expansions returns the number of plans expanded.
func (b *Budget) Expansions() int64 { return atomic.LoadInt64(&b.expansions) }

// RecordExpansion counts one expansion.
func (b *Budget) RecordExpansion() int64 { return atomic.AddInt64(&b.expansions, 1) }

// Pruned returns the number of plans dropped by the beam.
func (b *Budget) Pruned() int64 { return atomic.LoadInt64(&b.pruned) }

// RecordPruned counts n plans dropped by the beam.
func (b *Budget) RecordPruned(n int) { atomic.AddInt64(&b.pruned, int64(n)) }

// Elapsed returns the time since the budget was created.
func (b *Budget) Elapsed() time.Duration { return time.Since(b.startTime) }

// Check returns a non-nil error wrapping ErrBudgetExhausted once a limit
// has been reached. Exhaustion is sticky.
func (b *Budget) Check() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.exhausted {
		return fmt.Errorf("%w: %s", ErrBudgetExhausted, b.exhaustedBy)
	}
	if b.config.TimeLimit > 0 && time.Since(b.startTime) >= b.config.TimeLimit {
		b.exhausted, b.exhaustedBy = true, "time"
		return errTimeLimit
	}
	if b.config.MaxExpansions > 0 && atomic.LoadInt64(&b.expansions) >= int64(b.config.MaxExpansions) {
		b.exhausted, b.exhaustedBy = true, "expansions"
		return errExpansionLimit
	}
	return nil
}

// Exhausted reports whether a limit has been reached.
func (b *Budget) Exhausted() bool { return b.Check() != nil }

// ExhaustedBy names the limit that was hit, or "" if none.
func (b *Budget) ExhaustedBy() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.exhaustedBy
}

// Remaining returns how many expansions are left, or -1 when unbounded.
func (b *Budget) Remaining() int {
	if b.config.MaxExpansions <= 0 {
		return -1
	}
	if left := b.config.MaxExpansions - int(b.Expansions()); left > 0 {
		return left
	}
	return 0
}

// String returns a human-readable budget status.
func (b *Budget) String() string {
	status := ""
	if by := b.ExhaustedBy(); by != "" {
		status = fmt.Sprintf(" [EXHAUSTED by %s]", by)
	}
	return fmt.Sprintf("Budget{expansions=%d/%d, time=%v/%v, pruned=%d}%s",
		b.Expansions(), b.config.MaxExpansions,
		b.Elapsed().Round(time.Millisecond), b.config.TimeLimit,
		b.Pruned(), status)
}
