// Copyright (C) 2025 The Synapse Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See <https://www.gnu.org/licenses/agpl-3.0.html> for the full license text.

package tna

import "github.com/snaplab-dpss/synapse/services/synapse/bdd"

// Header is a chunk of packet bytes extracted into the PHV.
type Header struct {
	Node   bdd.NodeID `json:"node"`
	Offset uint       `json:"offset"`
	Bytes  uint       `json:"bytes"`
}

// Select is a parser transition on extracted bytes.
type Select struct {
	Node      bdd.NodeID `json:"node"`
	Condition string     `json:"condition"`
}

// Parser is the parse graph built while translating packet operations.
type Parser struct {
	phvBits int
	used    int
	headers []Header
	selects []Select
	rejects []bdd.NodeID
}

// NewParser returns an empty parser with a PHV budget in bits.
func NewParser(phvBits int) *Parser {
	return &Parser{phvBits: phvBits}
}

// Extract adds a header. It returns false, leaving the parser unchanged,
// when the header does not fit in the remaining PHV.
func (p *Parser) Extract(h Header) bool {
	bits := int(h.Bytes) * 8
	if p.used+bits > p.phvBits {
		return false
	}
	p.used += bits
	p.headers = append(p.headers, h)
	return true
}

// AddSelect records a transition on a condition over extracted bytes.
func (p *Parser) AddSelect(node bdd.NodeID, cond *bdd.Expr) {
	p.selects = append(p.selects, Select{Node: node, Condition: cond.String()})
}

// Reject records a parser path that drops the packet.
func (p *Parser) Reject(node bdd.NodeID) {
	p.rejects = append(p.rejects, node)
}

// Headers returns the extracted headers in order.
func (p *Parser) Headers() []Header { return p.headers }

// Selects returns the parser transitions in order.
func (p *Parser) Selects() []Select { return p.selects }

// Rejects returns the nodes whose parser path drops the packet.
func (p *Parser) Rejects() []bdd.NodeID { return p.rejects }

// FreePHVBits returns the unused PHV budget.
func (p *Parser) FreePHVBits() int { return p.phvBits - p.used }

// Clone returns an independent copy.
func (p *Parser) Clone() *Parser {
	return &Parser{
		phvBits: p.phvBits,
		used:    p.used,
		headers: append([]Header(nil), p.headers...),
		selects: append([]Select(nil), p.selects...),
		rejects: append([]bdd.NodeID(nil), p.rejects...),
	}
}
