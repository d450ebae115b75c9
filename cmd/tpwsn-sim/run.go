package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"tpwsn-sim/internal/admin"
	"tpwsn-sim/internal/config"
	"tpwsn-sim/internal/host"
	"tpwsn-sim/internal/logging"
	"tpwsn-sim/internal/sim"
)

var (
	runConfigPath string
	runSchemaPath string
	runTrace      string
	runPlayback   string
	runSpeed      float64
	runSeed       int64
	runAdminAddr  string
	runWriters    writerOptions
)

var runCmd = &cobra.Command{
	Use:   "run [flags] [-- bridge-command args...]",
	Short: "Run one experiment",
	Long: "run drives one experiment. Events come from a recorded trace (--trace), a recorded JSONL " +
		"mote log (--playback) or a simulator bridge started as a child process (arguments after --).",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(runConfigPath, runSchemaPath)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("seed") {
			cfg.Seed = runSeed
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		log := logging.FromContext(ctx)

		src, commander, err := openSource(ctx, args)
		if err != nil {
			return err
		}

		writer, cleanup, err := newWriters(cfg, runWriters)
		if err != nil {
			return err
		}
		defer cleanup()

		ctrl, err := sim.NewController(ctx, cfg, cfg.Graph(), commander, writer)
		if err != nil {
			return err
		}

		if runAdminAddr != "" {
			srv := admin.NewServer(ctrl)
			go func() {
				err := srv.Start(ctx, runAdminAddr, func(net.Addr) {
					if aw, ok := writer.(sim.AdminStatusWriter); ok {
						aw.SetAdminStatus(true)
					}
				})
				if err != nil {
					log.Error("admin server failed", "err", err)
				}
			}()
		}

		summary, err := ctrl.Run(ctx, src)
		if err != nil {
			var ae *sim.AbortError
			if errors.As(err, &ae) {
				log.Error("run aborted", "tick", ae.Tick, "node", ae.Node, "failed", ae.Failed, "reported", ae.Reported)
			}
			return err
		}
		log.Info("run complete", "reason", summary.Reason, "coverage_pct", summary.CoveragePct)
		return nil
	},
}

// openSource picks the event source: trace replay, JSONL playback or a bridge process.
func openSource(ctx context.Context, bridge []string) (host.Source, host.Commander, error) {
	n := 0
	for _, set := range []bool{runTrace != "", runPlayback != "", len(bridge) > 0} {
		if set {
			n++
		}
	}
	if n != 1 {
		return nil, nil, fmt.Errorf("exactly one of --trace, --playback or a bridge command is required")
	}
	switch {
	case runTrace != "":
		h, err := host.OpenTrace(runTrace)
		if err != nil {
			return nil, nil, err
		}
		return h, h, nil
	case runPlayback != "":
		src, err := sim.OpenMoteLog(runPlayback)
		if err != nil {
			return nil, nil, err
		}
		src.Speed = runSpeed
		// recorded motes cannot receive commands
		return src, host.NewTraceHost(nil), nil
	default:
		h, err := host.StartProcess(ctx, bridge[0], bridge[1:]...)
		if err != nil {
			return nil, nil, err
		}
		return h, h, nil
	}
}

func init() {
	f := runCmd.Flags()
	f.StringVar(&runConfigPath, "config", "config/experiment.yaml", "Path to experiment configuration YAML")
	f.StringVar(&runSchemaPath, "schema", "schemas/experiment.cue", "Path to CUE schema file")
	f.StringVar(&runTrace, "trace", "", "Replay a recorded time;node;message trace")
	f.StringVar(&runPlayback, "playback", "", "Replay a JSONL mote log written with --mote-logs")
	f.Float64Var(&runSpeed, "speed", 0, "Playback speed multiplier (0 = as fast as possible)")
	f.Int64Var(&runSeed, "seed", 0, "Override the configured seed")
	f.StringVar(&runAdminAddr, "admin", "", "Serve the admin UI on this address (e.g. :8080)")
	f.BoolVar(&runWriters.PrintOnly, "print-only", false, "Print to STDOUT even when GREPTIMEDB_ENDPOINT is set")
	f.StringVar(&runWriters.Format, "format", "json", "STDOUT format: json, color or yaml")
	f.BoolVar(&runWriters.MoteLogs, "mote-logs", false, "Include every mote output line on STDOUT")
	f.BoolVar(&runWriters.TUI, "tui", false, "Show a live terminal UI when STDOUT is a terminal")
	f.StringVar(&runWriters.LogDir, "log-dir", "", "Directory for per-mote logs, fault and coverage JSONL and summary.json")
	f.StringVar(&runWriters.LogPrefix, "log-prefix", "", "File name prefix inside --log-dir")
}
