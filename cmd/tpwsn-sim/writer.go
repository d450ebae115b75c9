package main

import (
	"os"

	"golang.org/x/term"

	"tpwsn-sim/internal/config"
	"tpwsn-sim/internal/sim"
)

// writerOptions select the run's output writers.
type writerOptions struct {
	PrintOnly bool
	Format    string // json, color or yaml
	MoteLogs  bool
	TUI       bool
	LogDir    string
	LogPrefix string
}

// newWriters sets up the run writer based on flags and env vars. It returns the
// writer and a cleanup function to close any resources.
func newWriters(cfg *config.ExperimentConfig, opts writerOptions) (sim.Writer, func(), error) {
	writer, err := baseWriter(cfg, opts)
	if err != nil {
		return nil, nil, err
	}
	closeBase := func() {
		if c, ok := writer.(interface{ Close() error }); ok {
			c.Close()
		}
	}
	if opts.LogDir == "" {
		return writer, closeBase, nil
	}
	fw, err := sim.NewFileWriter(opts.LogDir, opts.LogPrefix)
	if err != nil {
		closeBase()
		return nil, nil, err
	}
	mw := sim.NewMultiWriter(writer, fw)
	return mw, func() { mw.Close() }, nil
}

// baseWriter chooses the underlying writer based on the print-only flag and env vars.
func baseWriter(cfg *config.ExperimentConfig, opts writerOptions) (sim.Writer, error) {
	endpoint := os.Getenv("GREPTIMEDB_ENDPOINT")
	if !opts.PrintOnly && endpoint != "" {
		db := os.Getenv("GREPTIMEDB_DATABASE")
		if db == "" {
			db = "public"
		}
		return sim.NewGreptimeDBWriter(endpoint, db)
	}
	if opts.TUI && term.IsTerminal(int(os.Stdout.Fd())) {
		return sim.NewTUIWriter(cfg), nil
	}
	switch opts.Format {
	case "color":
		w := sim.NewColorStdoutWriter(cfg)
		w.MoteLogs = opts.MoteLogs
		return w, nil
	case "yaml":
		return sim.NewStdoutWriter(), nil
	default:
		w := sim.NewJSONStdoutWriter()
		w.MoteLogs = opts.MoteLogs
		return w, nil
	}
}
