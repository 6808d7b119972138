// Copyright (C) 2025 The Synapse Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See <https://www.gnu.org/licenses/agpl-3.0.html> for the full license text.

package ep

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrMalformedTarget is returned by ParseTarget.
var ErrMalformedTarget = errors.New("malformed target identifier")

// TargetType is the architecture of an execution target.
type TargetType int

const (
	TargetTofino TargetType = iota
	TargetController
	TargetX86
)

// TargetTypes lists every architecture.
var TargetTypes = []TargetType{TargetTofino, TargetController, TargetX86}

// String returns the string representation of the target type.
func (t TargetType) String() string {
	switch t {
	case TargetTofino:
		return "tofino"
	case TargetController:
		return "controller"
	case TargetX86:
		return "x86"
	default:
		return fmt.Sprintf("TargetType(%d)", int(t))
	}
}

// TargetID identifies one target instance.
type TargetID struct {
	Type     TargetType
	Instance int
}

// String returns "<type>:<instance>".
func (t TargetID) String() string {
	return fmt.Sprintf("%s:%d", t.Type, t.Instance)
}

// ParseTarget parses "<type>" or "<type>:<instance>".
func ParseTarget(s string) (TargetID, error) {
	name, inst, hasInst := strings.Cut(strings.TrimSpace(s), ":")
	var id TargetID
	switch strings.ToLower(name) {
	case "tofino":
		id.Type = TargetTofino
	case "controller", "ctrl":
		id.Type = TargetController
	case "x86":
		id.Type = TargetX86
	default:
		return TargetID{}, fmt.Errorf("%w: unknown architecture %q", ErrMalformedTarget, name)
	}
	if hasInst {
		n, err := strconv.Atoi(inst)
		if err != nil || n < 0 {
			return TargetID{}, fmt.Errorf("%w: bad instance %q", ErrMalformedTarget, inst)
		}
		id.Instance = n
	}
	return id, nil
}

// MustParseTarget is ParseTarget for identifiers known at compile time. It
// panics on malformed input.
func MustParseTarget(s string) TargetID {
	id, err := ParseTarget(s)
	if err != nil {
		panic(err)
	}
	return id
}
