// YAML experiment config loader with CUE validation integration
package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"tpwsn-sim/internal/fault"
	"tpwsn-sim/internal/protocol"
	"tpwsn-sim/internal/topology"
)

// Defaults applied to fields left unset.
const (
	DefaultFailureProbability  = 100
	DefaultTemporalProbability = 10
	DefaultTicksPerSecond      = 1_000_000
	DefaultGridSpacing         = 40
)

// NodeSpec places one mote explicitly.
type NodeSpec struct {
	ID int     `yaml:"id" json:"id"`
	X  float64 `yaml:"x" json:"x"`
	Y  float64 `yaml:"y" json:"y"`
	Z  float64 `yaml:"z,omitempty" json:"z,omitempty"`
}

// Topology describes mote placement: either a square grid or an explicit node list.
type Topology struct {
	Grid    int        `yaml:"grid,omitempty" json:"grid,omitempty"`
	Spacing float64    `yaml:"spacing,omitempty" json:"spacing,omitempty"`
	TxRange float64    `yaml:"tx_range" json:"tx_range"`
	Nodes   []NodeSpec `yaml:"nodes,omitempty" json:"nodes,omitempty"`
}

// ExperimentConfig is the configuration of one experiment run.
type ExperimentConfig struct {
	Protocol            string          `yaml:"protocol" json:"protocol"`
	FailureMode         fault.Mode      `yaml:"failure_mode" json:"failure_mode"`
	MaxFailures         int             `yaml:"max_failures" json:"max_failures"`
	RecoveryDelay       int64           `yaml:"recovery_delay" json:"recovery_delay"`
	FailureProbability  int             `yaml:"failure_probability" json:"failure_probability"`
	TemporalWindow      int64           `yaml:"temporal_window" json:"temporal_window"`
	TemporalProbability int             `yaml:"temporal_probability" json:"temporal_probability"`
	StopTick            int64           `yaml:"stop_tick" json:"stop_tick"`
	TimeoutTick         int64           `yaml:"timeout_tick" json:"timeout_tick"`
	TicksPerSecond      int64           `yaml:"ticks_per_second" json:"ticks_per_second"`
	Seed                int64           `yaml:"seed" json:"seed"`
	Run                 int             `yaml:"run" json:"run"`
	Params              protocol.Params `yaml:"params" json:"params"`
	Topology            Topology        `yaml:"topology" json:"topology"`
}

// ErrInvalidConfig is wrapped by every Validate error.
var ErrInvalidConfig = errors.New("invalid experiment config")

// Load loads a YAML config file, validates it against a CUE schema, applies defaults
// and checks cross-field rules.
func Load(configPath, cueSchemaPath string) (*ExperimentConfig, error) {
	if err := ValidateWithCue(configPath, cueSchemaPath); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes YAML without schema validation. Sweeps use it for generated configs.
func Parse(data []byte) (*ExperimentConfig, error) {
	var cfg ExperimentConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("cannot unmarshal YAML config: %w", err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyDefaults fills unset fields.
func (c *ExperimentConfig) ApplyDefaults() {
	if c.FailureProbability <= 0 {
		c.FailureProbability = DefaultFailureProbability
	}
	if c.TemporalProbability <= 0 {
		c.TemporalProbability = DefaultTemporalProbability
	}
	if c.TemporalWindow <= 0 {
		c.TemporalWindow = c.RecoveryDelay
	}
	if c.TicksPerSecond <= 0 {
		c.TicksPerSecond = DefaultTicksPerSecond
	}
	if c.Topology.Grid > 0 && c.Topology.Spacing <= 0 {
		c.Topology.Spacing = DefaultGridSpacing
	}
	if c.MaxFailures == 0 {
		c.FailureMode = fault.ModeNone
	}
}

// Validate checks rules the schema cannot express.
func (c *ExperimentConfig) Validate() error {
	if _, err := protocol.ByName(c.Protocol); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if c.MaxFailures < 0 || c.RecoveryDelay < 0 || c.StopTick < 0 || c.TimeoutTick < 0 {
		return fmt.Errorf("%w: negative bound", ErrInvalidConfig)
	}
	if c.MaxFailures > 0 && c.FailureMode == fault.ModeNone {
		return fmt.Errorf("%w: max_failures %d needs a failure mode", ErrInvalidConfig, c.MaxFailures)
	}
	if c.Topology.TxRange <= 0 {
		return fmt.Errorf("%w: tx_range must be positive", ErrInvalidConfig)
	}
	if c.Topology.Grid > 0 && len(c.Topology.Nodes) > 0 {
		return fmt.Errorf("%w: topology sets both grid and nodes", ErrInvalidConfig)
	}
	n := c.NodeCount()
	if n < 2 {
		return fmt.Errorf("%w: need at least two motes, have %d", ErrInvalidConfig, n)
	}
	if c.MaxFailures > n-2 {
		return fmt.Errorf("%w: max_failures %d exceeds the %d failable motes", ErrInvalidConfig, c.MaxFailures, n-2)
	}
	seen := make(map[int]bool, len(c.Topology.Nodes))
	for _, ns := range c.Topology.Nodes {
		if ns.ID < 1 {
			return fmt.Errorf("%w: node id %d must be positive", ErrInvalidConfig, ns.ID)
		}
		if seen[ns.ID] {
			return fmt.Errorf("%w: duplicate node id %d", ErrInvalidConfig, ns.ID)
		}
		seen[ns.ID] = true
	}
	return nil
}

// NodeCount returns the number of motes the topology describes.
func (c *ExperimentConfig) NodeCount() int {
	if c.Topology.Grid > 0 {
		return c.Topology.Grid * c.Topology.Grid
	}
	return len(c.Topology.Nodes)
}

// Positions returns mote placement keyed by id.
func (c *ExperimentConfig) Positions() map[topology.NodeID]topology.Position {
	if c.Topology.Grid > 0 {
		return topology.Grid(c.Topology.Grid, c.Topology.Spacing)
	}
	out := make(map[topology.NodeID]topology.Position, len(c.Topology.Nodes))
	for _, ns := range c.Topology.Nodes {
		out[topology.NodeID(ns.ID)] = topology.Position{X: ns.X, Y: ns.Y, Z: ns.Z}
	}
	return out
}

// Graph builds the connectivity graph of the configured topology.
func (c *ExperimentConfig) Graph() *topology.Graph {
	return topology.New(c.Positions(), c.Topology.TxRange)
}

// Policy returns the failure injection policy.
func (c *ExperimentConfig) Policy() fault.Policy {
	return fault.Policy{
		Mode:                c.FailureMode,
		MaxFailures:         c.MaxFailures,
		RecoveryDelay:       c.RecoveryDelay,
		FailureProbability:  c.FailureProbability,
		TemporalWindow:      c.TemporalWindow,
		TemporalProbability: c.TemporalProbability,
		TicksPerSecond:      c.TicksPerSecond,
	}
}

// Timing reports whether the run measures time to consistency instead of token
// correctness.
func (c *ExperimentConfig) Timing() bool { return c.MaxFailures == 0 }

// Marshal renders the config as YAML.
func (c *ExperimentConfig) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}
