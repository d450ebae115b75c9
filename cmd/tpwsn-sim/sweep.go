package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"tpwsn-sim/internal/config"
	"tpwsn-sim/internal/sweep"
)

var (
	sweepFile     string
	sweepBuiltIn  string
	sweepBase     string
	sweepSchema   string
	sweepOutDir   string
	sweepParallel int
	sweepTotal    int
	sweepExpected int
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Plan, run and aggregate parameter sweeps",
}

var sweepPlanCmd = &cobra.Command{
	Use:   "plan",
	Short: "Print the runs a sweep expands to",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, base, err := loadSweep()
		if err != nil {
			return err
		}
		control, runs := s.Plan(base)
		return printYAML(map[string]any{"control": control, "runs": runs})
	},
}

var sweepRunCmd = &cobra.Command{
	Use:   "run [-- bridge-command args...]",
	Short: "Run every point of a sweep; finished points are skipped",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, base, err := loadSweep()
		if err != nil {
			return err
		}
		if len(args) > 0 {
			s.Bridge = args
		}
		if sweepParallel > 0 {
			s.Parallel = sweepParallel
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		r := &sweep.Runner{Sweep: s, Base: base, OutDir: outDir(s), Run: sweep.ProcessRunFunc(s.Bridge)}
		results, err := r.Execute(ctx)
		if err != nil {
			return err
		}
		return printYAML(sweep.AggregateResults(results))
	},
}

var sweepAggregateCmd = &cobra.Command{
	Use:   "aggregate",
	Short: "Aggregate the summaries of finished runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, base, err := loadSweep()
		if err != nil {
			return err
		}
		control, runs := s.Plan(base)
		results, err := sweep.Collect(outDir(s), append(control, runs...))
		if err != nil {
			return err
		}
		return printYAML(sweep.AggregateResults(results))
	},
}

var sweepLogsCmd = &cobra.Command{
	Use:   "logs DIR",
	Short: "Count transmissions and tokens in a run's mote logs",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rs, err := sweep.ParseRunDir(args[0], sweepTotal, sweepExpected)
		if err != nil {
			return err
		}
		return printYAML(rs)
	},
}

func loadSweep() (*sweep.Sweep, *config.ExperimentConfig, error) {
	var s *sweep.Sweep
	switch {
	case sweepFile != "":
		loaded, err := sweep.Load(sweepFile)
		if err != nil {
			return nil, nil, err
		}
		s = loaded
	case sweepBuiltIn != "":
		b, ok := sweep.BuiltIn()[sweepBuiltIn]
		if !ok {
			return nil, nil, fmt.Errorf("unknown built-in sweep %q", sweepBuiltIn)
		}
		s = &b
	default:
		return nil, nil, fmt.Errorf("--file or --builtin is required")
	}
	basePath := sweepBase
	if basePath == "" {
		basePath = s.BasePath()
	}
	if basePath == "" {
		return nil, nil, fmt.Errorf("no base experiment config; set base in the sweep or pass --base")
	}
	base, err := config.Load(basePath, sweepSchema)
	if err != nil {
		return nil, nil, err
	}
	return s, base, nil
}

func outDir(s *sweep.Sweep) string {
	switch {
	case sweepOutDir != "":
		return sweepOutDir
	case s.OutDir != "":
		return s.OutDir
	}
	return "experiments"
}

func printYAML(v any) error {
	enc := yaml.NewEncoder(os.Stdout)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}

func init() {
	pf := sweepCmd.PersistentFlags()
	pf.StringVar(&sweepFile, "file", "", "Path to sweep YAML")
	pf.StringVar(&sweepBuiltIn, "builtin", "", "Use a built-in sweep (trickle-7x7, rmh-7x7)")
	pf.StringVar(&sweepBase, "base", "", "Base experiment config (overrides the sweep's base)")
	pf.StringVar(&sweepSchema, "schema", "schemas/experiment.cue", "Path to CUE schema file")
	pf.StringVar(&sweepOutDir, "out", "", "Output directory (overrides the sweep's out_dir)")
	sweepRunCmd.Flags().IntVar(&sweepParallel, "parallel", 0, "Concurrent runs (overrides the sweep)")
	sweepLogsCmd.Flags().IntVar(&sweepTotal, "motes", 49, "Number of motes in the run")
	sweepLogsCmd.Flags().IntVar(&sweepExpected, "token", 1, "Expected token value")
	sweepCmd.AddCommand(sweepPlanCmd, sweepRunCmd, sweepAggregateCmd, sweepLogsCmd)
}
