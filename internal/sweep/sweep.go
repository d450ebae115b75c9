// Parameter sweeps over experiment runs
package sweep

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"tpwsn-sim/internal/config"
	"tpwsn-sim/internal/fault"
)

// Sweep defines a parameter space explored by repeated experiment runs. Every list
// is a dimension of the product; an empty list keeps the base config's value.
type Sweep struct {
	Name        string       `yaml:"name,omitempty"`
	Description string       `yaml:"description,omitempty"`
	Base        string       `yaml:"base,omitempty"` // experiment config, relative to the sweep file
	OutDir      string       `yaml:"out_dir,omitempty"`
	Repeats     int          `yaml:"repeats"`
	SeedBase    int64        `yaml:"seed_base"`
	Parallel    int          `yaml:"parallel,omitempty"`
	Modes       []fault.Mode `yaml:"modes"`
	MaxFailures []int        `yaml:"max_failures"`
	Recovery    []int64      `yaml:"recovery_delays"`
	IMin        []int        `yaml:"imin,omitempty"`
	IMax        []int        `yaml:"imax,omitempty"`
	K           []int        `yaml:"k,omitempty"`
	// Bridge is the simulator command. "{config}", "{dir}" and "{seed}" in its
	// arguments are replaced per run.
	Bridge []string `yaml:"bridge,omitempty"`

	dir string
}

// Load reads a YAML sweep definition from disk.
func Load(path string) (*Sweep, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read sweep: %w", err)
	}
	var s Sweep
	if err := yaml.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("parse sweep: %w", err)
	}
	s.dir = filepath.Dir(path)
	if s.Repeats <= 0 {
		s.Repeats = 1
	}
	return &s, nil
}

// BasePath resolves Base against the sweep file's directory.
func (s *Sweep) BasePath() string {
	if s.Base == "" || filepath.IsAbs(s.Base) {
		return s.Base
	}
	return filepath.Join(s.dir, s.Base)
}

// Point is one run of the sweep.
type Point struct {
	Mode        fault.Mode `yaml:"mode" json:"mode"`
	MaxFailures int        `yaml:"max_failures" json:"max_failures"`
	Recovery    int64      `yaml:"recovery_delay" json:"recovery_delay"`
	K           int        `yaml:"k" json:"k"`
	IMin        int        `yaml:"imin" json:"imin"`
	IMax        int        `yaml:"imax" json:"imax"`
	Run         int        `yaml:"run" json:"run"`
}

// Control reports whether p is a no-failure run.
func (p Point) Control() bool { return p.MaxFailures == 0 }

// Key identifies the parameter combination, ignoring the repeat number.
func (p Point) Key() string {
	return fmt.Sprintf("%d-%s-%d-%d-%d-%d", p.MaxFailures, p.Mode, p.K, p.IMin, p.IMax, p.Recovery)
}

// Dir is the run's output directory name.
func (p Point) Dir() string {
	prefix := "exp"
	if p.Control() {
		prefix = "control"
	}
	return fmt.Sprintf("%s-%s-run%d", prefix, p.Key(), p.Run)
}

func orInt(vals []int, def int) []int {
	if len(vals) == 0 {
		return []int{def}
	}
	return vals
}

// Plan expands the sweep against base into control runs (no failures, one per
// protocol parameter combination and repeat) and failure runs.
func (s *Sweep) Plan(base *config.ExperimentConfig) (control, runs []Point) {
	ks := orInt(s.K, base.Params.TrickleRedundancyConst)
	imins := orInt(s.IMin, base.Params.TrickleIMin)
	imaxs := orInt(s.IMax, base.Params.TrickleIMax)
	fails := orInt(s.MaxFailures, base.MaxFailures)
	modes := s.Modes
	if len(modes) == 0 {
		modes = []fault.Mode{base.FailureMode}
	}
	recovery := s.Recovery
	if len(recovery) == 0 {
		recovery = []int64{base.RecoveryDelay}
	}

	for _, k := range ks {
		for _, imin := range imins {
			for _, imax := range imaxs {
				for run := 0; run < s.Repeats; run++ {
					control = append(control, Point{Mode: fault.ModeNone, K: k, IMin: imin, IMax: imax, Run: run})
				}
				for _, n := range fails {
					if n == 0 {
						continue
					}
					for _, mode := range modes {
						if mode == fault.ModeNone {
							continue
						}
						for _, d := range recovery {
							for run := 0; run < s.Repeats; run++ {
								runs = append(runs, Point{Mode: mode, MaxFailures: n, Recovery: d, K: k, IMin: imin, IMax: imax, Run: run})
							}
						}
					}
				}
			}
		}
	}
	return control, runs
}

// Config derives the run's experiment config from base. stopTick applies to failure
// runs only.
func (s *Sweep) Config(base *config.ExperimentConfig, p Point, stopTick int64) (*config.ExperimentConfig, error) {
	cfg := *base
	cfg.FailureMode = p.Mode
	cfg.MaxFailures = p.MaxFailures
	cfg.RecoveryDelay = p.Recovery
	cfg.TemporalWindow = 0
	cfg.Params.TrickleRedundancyConst = p.K
	cfg.Params.TrickleIMin = p.IMin
	cfg.Params.TrickleIMax = p.IMax
	cfg.Seed = s.SeedBase + int64(p.Run)
	cfg.Run = p.Run
	cfg.StopTick = 0
	if !p.Control() && stopTick > 0 {
		cfg.StopTick = stopTick
		if cfg.TicksPerSecond <= 0 {
			cfg.TicksPerSecond = config.DefaultTicksPerSecond
		}
		cfg.TimeoutTick = stopTick + 5*cfg.TicksPerSecond
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("sweep point %s: %w", p.Dir(), err)
	}
	return &cfg, nil
}
