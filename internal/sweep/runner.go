package sweep

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"tpwsn-sim/internal/config"
	"tpwsn-sim/internal/host"
	"tpwsn-sim/internal/logging"
	"tpwsn-sim/internal/sim"
	"tpwsn-sim/internal/telemetry"
)

// RunFunc executes one experiment and writes its output below dir.
type RunFunc func(ctx context.Context, cfg *config.ExperimentConfig, dir string) (telemetry.SummaryRow, error)

// Result pairs a sweep point with its summary.
type Result struct {
	Point   Point                `json:"point"`
	Summary telemetry.SummaryRow `json:"summary"`
	Resumed bool                 `json:"resumed"`
}

// Runner executes a sweep: control runs first, then failure runs stopped at the mean
// control convergence tick. Runs whose summary already exists are not repeated.
type Runner struct {
	Sweep  *Sweep
	Base   *config.ExperimentConfig
	OutDir string
	Run    RunFunc
}

// StopTick returns the ceiling of the mean convergence tick of converged control
// runs, or 0 when none converged.
func StopTick(control []telemetry.SummaryRow) int64 {
	var sum float64
	n := 0
	for _, s := range control {
		if s.Converged && s.ConvergedTick > 0 {
			sum += float64(s.ConvergedTick)
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return int64(math.Ceil(sum / float64(n)))
}

// Execute runs the whole sweep and returns every result, control runs first.
func (r *Runner) Execute(ctx context.Context) ([]Result, error) {
	log := logging.FromContext(ctx)
	control, runs := r.Sweep.Plan(r.Base)
	log.Info("sweep planned", "name", r.Sweep.Name, "control", len(control), "runs", len(runs))

	ctrl, err := r.runAll(ctx, control, 0)
	if err != nil {
		return nil, err
	}
	summaries := make([]telemetry.SummaryRow, len(ctrl))
	for i, res := range ctrl {
		summaries[i] = res.Summary
	}
	stop := StopTick(summaries)
	if stop == 0 && len(runs) > 0 {
		return ctrl, errors.New("no control run converged; cannot derive a stop tick")
	}
	log.Info("control runs finished", "stop_tick", stop)

	rest, err := r.runAll(ctx, runs, stop)
	return append(ctrl, rest...), err
}

func (r *Runner) runAll(ctx context.Context, points []Point, stopTick int64) ([]Result, error) {
	results := make([]Result, len(points))
	g, ctx := errgroup.WithContext(ctx)
	limit := r.Sweep.Parallel
	if limit <= 0 {
		limit = 1
	}
	g.SetLimit(limit)
	for i, p := range points {
		g.Go(func() error {
			res, err := r.runOne(ctx, p, stopTick)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (r *Runner) runOne(ctx context.Context, p Point, stopTick int64) (Result, error) {
	dir := filepath.Join(r.OutDir, p.Dir())
	if s, err := sim.ReadSummary(filepath.Join(dir, sim.SummaryName)); err == nil && s.Reason != telemetry.ReasonAborted {
		logging.FromContext(ctx).Debug("sweep run already done", "dir", dir)
		return Result{Point: p, Summary: s, Resumed: true}, nil
	}
	cfg, err := r.Sweep.Config(r.Base, p, stopTick)
	if err != nil {
		return Result{}, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Result{}, err
	}
	s, err := r.Run(ctx, cfg, dir)
	if err != nil {
		return Result{}, fmt.Errorf("run %s: %w", p.Dir(), err)
	}
	return Result{Point: p, Summary: s}, nil
}

// ExpandArgs replaces the per-run placeholders in bridge arguments.
func ExpandArgs(args []string, configPath, dir string, seed int64) []string {
	rep := strings.NewReplacer("{config}", configPath, "{dir}", dir, "{seed}", strconv.FormatInt(seed, 10))
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = rep.Replace(a)
	}
	return out
}

// ProcessRunFunc runs each experiment against a simulator bridge started as a child
// process. The run config is written to dir as config.yaml before the bridge starts;
// mote logs, faults, coverage and the summary are written to dir.
func ProcessRunFunc(bridge []string) RunFunc {
	return func(ctx context.Context, cfg *config.ExperimentConfig, dir string) (telemetry.SummaryRow, error) {
		if len(bridge) == 0 {
			return telemetry.SummaryRow{}, errors.New("sweep has no bridge command")
		}
		data, err := cfg.Marshal()
		if err != nil {
			return telemetry.SummaryRow{}, err
		}
		cfgPath := filepath.Join(dir, "config.yaml")
		if err := os.WriteFile(cfgPath, data, 0o644); err != nil {
			return telemetry.SummaryRow{}, err
		}
		args := ExpandArgs(bridge[1:], cfgPath, dir, cfg.Seed)
		logging.FromContext(ctx).Info("starting bridge", "cmd", bridge[0], "args", args)
		h, err := host.StartProcess(ctx, bridge[0], args...)
		if err != nil {
			return telemetry.SummaryRow{}, err
		}
		return RunWith(ctx, cfg, dir, h, h)
	}
}

// RunWith runs one experiment over the given source and commander with a file writer
// in dir. The summary file it leaves behind marks the point as done.
func RunWith(ctx context.Context, cfg *config.ExperimentConfig, dir string, src host.Source, cmd host.Commander) (telemetry.SummaryRow, error) {
	fw, err := sim.NewFileWriter(dir, "")
	if err != nil {
		return telemetry.SummaryRow{}, err
	}
	defer fw.Close()
	ctrl, err := sim.NewController(ctx, cfg, cfg.Graph(), cmd, fw)
	if err != nil {
		return telemetry.SummaryRow{}, err
	}
	return ctrl.Run(ctx, src)
}

// Collect reads the summaries of points already run below outDir. Points without a
// summary are skipped.
func Collect(outDir string, points []Point) ([]Result, error) {
	var out []Result
	for _, p := range points {
		s, err := sim.ReadSummary(filepath.Join(outDir, p.Dir(), sim.SummaryName))
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, Result{Point: p, Summary: s, Resumed: true})
	}
	return out, nil
}
