// Copyright (C) 2025 The Synapse Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See <https://www.gnu.org/licenses/agpl-3.0.html> for the full license text.

package ux

import (
	"fmt"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
)

// Mode selects how output is rendered.
type Mode string

const (
	// ModeRich renders colors, icons and boxes.
	ModeRich Mode = "rich"

	// ModePlain renders tab separated text suitable for scripts.
	ModePlain Mode = "plain"

	// ModeAuto picks rich for terminals and plain otherwise.
	ModeAuto Mode = "auto"
)

// ParseMode converts a flag value into a Mode.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return ModeAuto, nil
	case "rich", "color", "colour":
		return ModeRich, nil
	case "plain", "machine", "quiet":
		return ModePlain, nil
	default:
		return ModeAuto, fmt.Errorf("unknown output mode %q", s)
	}
}

// Resolve turns ModeAuto into a concrete mode for f. NO_COLOR forces
// plain output.
func (m Mode) Resolve(f *os.File) Mode {
	if m != ModeAuto {
		return m
	}
	if os.Getenv("NO_COLOR") != "" || f == nil {
		return ModePlain
	}
	if IsTerminal(f) {
		return ModeRich
	}
	return ModePlain
}

// IsTerminal reports whether f is a terminal, including Cygwin ptys.
func IsTerminal(f *os.File) bool {
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
