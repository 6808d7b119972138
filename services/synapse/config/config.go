// Copyright (C) 2025 The Synapse Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See <https://www.gnu.org/licenses/agpl-3.0.html> for the full license text.

// Package config loads the planner configuration.
//
// Layers are applied in order: built-in defaults, a YAML (or JSON) file,
// SYNAPSE_* environment variables, then validation. A missing file is not
// an error.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/snaplab-dpss/synapse/pkg/logging"
	"github.com/snaplab-dpss/synapse/services/synapse/ep"
	"github.com/snaplab-dpss/synapse/services/synapse/modules"
	"github.com/snaplab-dpss/synapse/services/synapse/search"
	"github.com/snaplab-dpss/synapse/services/synapse/storage"
	"github.com/snaplab-dpss/synapse/services/synapse/telemetry"
	"github.com/snaplab-dpss/synapse/services/synapse/tna"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid config")

// Switch generations accepted by TofinoConfig.Model.
const (
	ModelTofino1 = "tofino1"
	ModelTofino2 = "tofino2"
)

// =============================================================================
// Sections
// =============================================================================

// Config is the complete planner configuration.
//
// Thread Safety: Safe to read concurrently. Not safe to modify after Load.
type Config struct {
	Search SearchConfig `yaml:"search" json:"search"`

	// Targets lists target instances, e.g. "tofino", "controller", "x86:1".
	Targets []string `yaml:"targets" json:"targets" validate:"min=1,dive,required"`

	// Start is the target the packet enters on. Empty means the first
	// entry of Targets.
	Start string `yaml:"start" json:"start"`

	Tofino TofinoConfig `yaml:"tofino" json:"tofino"`

	// Placer is "simple" (first fit) or "solver".
	Placer string `yaml:"placer" json:"placer" validate:"oneof=simple solver"`

	Perf ep.PerfModel `yaml:"perf" json:"perf"`

	// HostMemoryBytes bounds controller and x86 state. 0 means unbounded.
	HostMemoryBytes int64 `yaml:"host_memory_bytes" json:"host_memory_bytes" validate:"gte=0"`

	// Seed initializes the random tie-breaker.
	Seed uint64 `yaml:"seed" json:"seed"`

	Modules modules.Options `yaml:"modules" json:"modules"`

	Storage storage.Config `yaml:"storage" json:"storage"`

	Telemetry telemetry.Config `yaml:"telemetry" json:"telemetry"`

	Log LogConfig `yaml:"log" json:"log"`
}

// SearchConfig selects the heuristic and the engine settings.
type SearchConfig struct {
	// Heuristic names a preset, see search.PresetNames.
	Heuristic string `yaml:"heuristic" json:"heuristic" validate:"required"`

	search.Config `yaml:",inline"`

	// KeepPlans caps how many finished plans are stored per run. 0 keeps all.
	KeepPlans int `yaml:"keep_plans" json:"keep_plans" validate:"gte=0"`
}

// TofinoConfig selects a switch generation and overrides its properties.
type TofinoConfig struct {
	// Model picks the base properties before file values are applied.
	Model string `yaml:"model" json:"model" validate:"oneof=tofino1 tofino2"`

	tna.Properties `yaml:",inline"`
}

// LogConfig configures pkg/logging.
type LogConfig struct {
	Level string `yaml:"level" json:"level" validate:"oneof=debug info warn warning error"`
	Dir   string `yaml:"dir" json:"dir"`
	JSON  bool   `yaml:"json" json:"json"`
}

// Default returns the built-in configuration: a first-generation switch
// with a controller, the default heuristic and a persistent store under
// the user's home directory.
func Default() Config {
	return Config{
		Search: SearchConfig{
			Heuristic: search.DefaultPreset,
			Config:    search.DefaultConfig(),
			KeepPlans: 10,
		},
		Targets: []string{"tofino", "controller"},
		Tofino: TofinoConfig{
			Model:      ModelTofino1,
			Properties: tna.DefaultProperties(),
		},
		Placer:    "solver",
		Perf:      ep.DefaultPerfModel(),
		Modules:   modules.DefaultOptions(),
		Storage:   storage.DefaultConfig(defaultDBPath()),
		Telemetry: telemetry.DefaultConfig(),
		Log:       LogConfig{Level: "info"},
	}
}

func defaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".synapse", "plans")
	}
	return filepath.Join(home, ".synapse", "plans")
}

func modelProperties(model string) tna.Properties {
	if model == ModelTofino2 {
		return tna.Tofino2Properties()
	}
	return tna.DefaultProperties()
}

// =============================================================================
// Loading
// =============================================================================

// Load builds the configuration from defaults, the file at path and the
// environment, then validates it.
//
// Inputs:
//   - path: YAML or JSON file. Empty or missing means defaults only.
//
// Outputs:
//   - Config: The merged configuration.
//   - error: Non-nil if the file cannot be parsed or validation fails.
func Load(path string) (Config, error) {
	cfg := Default()

	var data []byte
	if path != "" {
		var err error
		data, err = os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return cfg, fmt.Errorf("read config file: %w", err)
		}
	}

	// The model decides the base properties, so it is resolved before the
	// file's property overrides are decoded on top.
	model, err := peekModel(data)
	if err != nil {
		return cfg, fmt.Errorf("load config file: %w", err)
	}
	if v := os.Getenv("SYNAPSE_TOFINO_MODEL"); v != "" {
		model = v
	}
	if model != "" {
		cfg.Tofino.Model = model
		cfg.Tofino.Properties = modelProperties(model)
	}

	if len(data) > 0 {
		if err := decode(data, &cfg); err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return cfg, fmt.Errorf("load environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// decode tries YAML first, then JSON.
func decode(data []byte, cfg *Config) error {
	if err := yaml.Unmarshal(data, cfg); err != nil {
		if jsonErr := json.Unmarshal(data, cfg); jsonErr != nil {
			return fmt.Errorf("parse config (tried YAML and JSON): YAML error: %v, JSON error: %w", err, jsonErr)
		}
	}
	return nil
}

func peekModel(data []byte) (string, error) {
	if len(data) == 0 {
		return "", nil
	}
	var head struct {
		Tofino struct {
			Model string `yaml:"model" json:"model"`
		} `yaml:"tofino" json:"tofino"`
	}
	if err := yaml.Unmarshal(data, &head); err != nil {
		if jsonErr := json.Unmarshal(data, &head); jsonErr != nil {
			return "", fmt.Errorf("parse config (tried YAML and JSON): YAML error: %v, JSON error: %w", err, jsonErr)
		}
	}
	return head.Tofino.Model, nil
}

// =============================================================================
// Validation
// =============================================================================

var validate = validator.New()

// Validate checks struct tags, then the cross-field rules tags cannot
// express.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if _, err := search.Preset(c.Search.Heuristic); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if err := c.Tofino.Properties.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	targets, err := c.TargetIDs()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	seen := make(map[ep.TargetID]bool, len(targets))
	for _, id := range targets {
		if seen[id] {
			return fmt.Errorf("%w: duplicate target %s", ErrInvalid, id)
		}
		seen[id] = true
	}
	start, err := c.StartTarget()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if !seen[start] {
		return fmt.Errorf("%w: start target %s is not in targets", ErrInvalid, start)
	}
	if !c.Storage.InMemory && c.Storage.Path == "" {
		return fmt.Errorf("%w: storage.path is required unless storage.in_memory is set", ErrInvalid)
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}

// =============================================================================
// Conversions
// =============================================================================

// TargetIDs parses Targets.
func (c Config) TargetIDs() ([]ep.TargetID, error) {
	out := make([]ep.TargetID, 0, len(c.Targets))
	for _, s := range c.Targets {
		id, err := ep.ParseTarget(s)
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, nil
}

// StartTarget returns the parsed Start, defaulting to the first target.
func (c Config) StartTarget() (ep.TargetID, error) {
	s := c.Start
	if s == "" {
		if len(c.Targets) == 0 {
			return ep.TargetID{}, errors.New("no targets")
		}
		s = c.Targets[0]
	}
	return ep.ParseTarget(s)
}

// NewPlacer returns the configured stage placer.
func (c Config) NewPlacer() tna.Placer {
	if c.Placer == "simple" {
		return tna.NewSimplePlacer()
	}
	return tna.NewSolverPlacer()
}

// ContextConfig builds the initial plan context settings.
func (c Config) ContextConfig() (ep.ContextConfig, error) {
	targets, err := c.TargetIDs()
	if err != nil {
		return ep.ContextConfig{}, err
	}
	return ep.ContextConfig{
		Targets:         targets,
		Tofino:          c.Tofino.Properties,
		Placer:          c.NewPlacer(),
		HostMemoryBytes: c.HostMemoryBytes,
		Perf:            c.Perf,
		Seed:            c.Seed,
	}, nil
}

// Heuristic resolves the configured preset.
func (c Config) Heuristic() (search.Heuristic, error) {
	return search.Preset(c.Search.Heuristic)
}

// LoggingConfig converts the log section for pkg/logging.
func (c Config) LoggingConfig(service string) logging.Config {
	level, _ := logging.ParseLevel(c.Log.Level)
	return logging.Config{
		Level:   level,
		LogDir:  c.Log.Dir,
		Service: service,
		JSON:    c.Log.JSON,
	}
}
