// Copyright (C) 2025 The Synapse Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See <https://www.gnu.org/licenses/agpl-3.0.html> for the full license text.

package tna

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidProperties is returned by Properties.Validate.
var ErrInvalidProperties = errors.New("invalid pipeline properties")

// Efficiency holds the usable fraction of each resource class. Near-saturated
// match memories suffer insertion collisions, so capacities are derated.
type Efficiency struct {
	// Memory derates SRAM and map RAM.
	Memory float64 `yaml:"memory" json:"memory" validate:"gt=0,lte=1"`

	// Xbar derates the exact and ternary match crossbars.
	Xbar float64 `yaml:"xbar" json:"xbar" validate:"gt=0,lte=1"`

	// LPM derates TCAM, which backs longest-prefix-match tables.
	LPM float64 `yaml:"lpm" json:"lpm" validate:"gt=0,lte=1"`
}

// DefaultEfficiency is the 90% headroom applied to every resource class.
func DefaultEfficiency() Efficiency {
	return Efficiency{Memory: 0.9, Xbar: 0.9, LPM: 0.9}
}

// Properties describes the physical resources of a switch pipeline.
type Properties struct {
	Stages int `yaml:"stages" json:"stages" validate:"gt=0"`

	SRAMBlockBits      int `yaml:"sram_block_bits" json:"sram_block_bits" validate:"gt=0"`
	SRAMBlocksPerStage int `yaml:"sram_blocks_per_stage" json:"sram_blocks_per_stage" validate:"gt=0"`

	MapRAMBlockBits      int `yaml:"map_ram_block_bits" json:"map_ram_block_bits" validate:"gt=0"`
	MapRAMBlocksPerStage int `yaml:"map_ram_blocks_per_stage" json:"map_ram_blocks_per_stage" validate:"gte=0"`

	TCAMBlockBits      int `yaml:"tcam_block_bits" json:"tcam_block_bits" validate:"gt=0"`
	TCAMBlocksPerStage int `yaml:"tcam_blocks_per_stage" json:"tcam_blocks_per_stage" validate:"gte=0"`

	ExactXbarBitsPerStage   int `yaml:"exact_xbar_bits_per_stage" json:"exact_xbar_bits_per_stage" validate:"gt=0"`
	TernaryXbarBitsPerStage int `yaml:"ternary_xbar_bits_per_stage" json:"ternary_xbar_bits_per_stage" validate:"gte=0"`
	LogicalIDsPerStage      int `yaml:"logical_ids_per_stage" json:"logical_ids_per_stage" validate:"gt=0"`
	SALUsPerStage           int `yaml:"salus_per_stage" json:"salus_per_stage" validate:"gte=0"`
	HashUnitsPerStage       int `yaml:"hash_units_per_stage" json:"hash_units_per_stage" validate:"gte=0"`

	DigestChannels    int `yaml:"digest_channels" json:"digest_channels" validate:"gte=0"`
	MaxRecirculations int `yaml:"max_recirculations" json:"max_recirculations" validate:"gte=0"`
	PHVBits           int `yaml:"phv_bits" json:"phv_bits" validate:"gt=0"`

	Efficiency Efficiency `yaml:"efficiency" json:"efficiency"`
}

// DefaultProperties returns a 12-stage, first-generation pipeline.
func DefaultProperties() Properties {
	return Properties{
		Stages:                  12,
		SRAMBlockBits:           128 * 1024,
		SRAMBlocksPerStage:      80,
		MapRAMBlockBits:         11 * 1024,
		MapRAMBlocksPerStage:    48,
		TCAMBlockBits:           44 * 512,
		TCAMBlocksPerStage:      24,
		ExactXbarBitsPerStage:   1024,
		TernaryXbarBitsPerStage: 528,
		LogicalIDsPerStage:      16,
		SALUsPerStage:           4,
		HashUnitsPerStage:       6,
		DigestChannels:          8,
		MaxRecirculations:       3,
		PHVBits:                 4096,
		Efficiency:              DefaultEfficiency(),
	}
}

// Tofino2Properties returns a 20-stage, second-generation pipeline.
func Tofino2Properties() Properties {
	p := DefaultProperties()
	p.Stages = 20
	p.PHVBits = 5120
	return p
}

// Validate checks the semantic constraints the struct tags cannot express.
func (p Properties) Validate() error {
	if p.Stages <= 0 {
		return fmt.Errorf("%w: stages must be positive, got %d", ErrInvalidProperties, p.Stages)
	}
	for name, v := range map[string]float64{
		"memory": p.Efficiency.Memory,
		"xbar":   p.Efficiency.Xbar,
		"lpm":    p.Efficiency.LPM,
	} {
		if v <= 0 || v > 1 {
			return fmt.Errorf("%w: %s efficiency %v outside (0,1]", ErrInvalidProperties, name, v)
		}
	}
	if p.SRAMBlockBits <= 0 || p.TCAMBlockBits <= 0 || p.MapRAMBlockBits <= 0 {
		return fmt.Errorf("%w: block sizes must be positive", ErrInvalidProperties)
	}
	return nil
}

// StageCapacity returns the effective per-stage budget: every raw capacity
// multiplied by its efficiency and floored.
func (p Properties) StageCapacity() Demand {
	derate := func(raw int, eff float64) int {
		return int(math.Floor(float64(raw) * eff))
	}
	return Demand{
		SRAM:        derate(p.SRAMBlockBits*p.SRAMBlocksPerStage, p.Efficiency.Memory),
		MapRAM:      derate(p.MapRAMBlockBits*p.MapRAMBlocksPerStage, p.Efficiency.Memory),
		TCAM:        derate(p.TCAMBlockBits*p.TCAMBlocksPerStage, p.Efficiency.LPM),
		Xbar:        derate(p.ExactXbarBitsPerStage, p.Efficiency.Xbar),
		TernaryXbar: derate(p.TernaryXbarBitsPerStage, p.Efficiency.Xbar),
		LogicalIDs:  p.LogicalIDsPerStage,
		SALUs:       p.SALUsPerStage,
		HashUnits:   p.HashUnitsPerStage,
	}
}

func roundUp(bits, block int) int {
	if bits <= 0 {
		return 0
	}
	return ((bits + block - 1) / block) * block
}

func (p Properties) sramBits(bits int) int { return roundUp(bits, p.SRAMBlockBits) }

func (p Properties) tcamBits(bits int) int { return roundUp(bits, p.TCAMBlockBits) }

// mapRAMBits returns the map RAM shadowing sramBits of stateful memory: one
// map RAM block per SRAM block.
func (p Properties) mapRAMBits(sramBits int) int {
	return (sramBits / p.SRAMBlockBits) * p.MapRAMBlockBits
}
