package sim

import (
	"context"
	"errors"
	"fmt"
	"io"

	"tpwsn-sim/internal/host"
	"tpwsn-sim/internal/logging"
	"tpwsn-sim/internal/telemetry"
	"tpwsn-sim/internal/topology"
)

// Run feeds events from src into the controller until the run is over, the source is
// exhausted or ctx is cancelled. The simulator is terminated through src when it
// implements host.Terminator.
func (c *Controller) Run(ctx context.Context, src host.Source) (telemetry.SummaryRow, error) {
	log := logging.FromContext(ctx)
	log.Info("starting experiment", "run_id", c.runID, "stop_tick", c.cfg.StopTick, "timeout_tick", c.cfg.TimeoutTick)

	var runErr error
	for {
		ev, err := src.Next(ctx)
		if err != nil {
			switch {
			case errors.Is(err, io.EOF):
				c.Finish(ctx, telemetry.ReasonStreamEnded)
			case ctx.Err() != nil:
				c.Finish(ctx, telemetry.ReasonCancelled)
			default:
				runErr = fmt.Errorf("read event: %w", err)
				c.Finish(ctx, telemetry.ReasonAborted)
			}
			break
		}
		done, err := c.HandleEvent(ctx, ev)
		if err != nil {
			runErr = err
			break
		}
		if done {
			break
		}
	}

	summary := c.Summary()
	if t, ok := src.(host.Terminator); ok {
		if err := t.Terminate(context.WithoutCancel(ctx), summary.Reason); err != nil {
			log.Warn("terminate simulator failed", "err", err)
		}
	}
	log.Info("experiment finished",
		"run_id", c.runID, "reason", summary.Reason, "end_tick", summary.EndTick,
		"crashes", summary.TotalCrashes, "coverage_pct", summary.CoveragePct)
	return summary, runErr
}

// HandleEvent processes one line of mote output. The steps run in a fixed order:
// output rows and counters, due recoveries, a possible new failure, the stop tick
// transition, convergence observation, then the invariant check. done is true once
// the run is over.
func (c *Controller) HandleEvent(ctx context.Context, ev host.Event) (done bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase == PhaseDone {
		return true, nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = c.abort(ctx, ev, fmt.Errorf("panic: %v", r))
			done = true
		}
	}()

	log := logging.FromContext(ctx)
	c.now = ev.Time
	c.events++

	c.write(ctx, "mote log", c.writer.WriteMoteLog(telemetry.MoteLogRow{
		RunID: c.runID, Node: int(ev.Node), Tick: ev.Time, Message: ev.Msg, Timestamp: c.clock().UTC(),
	}))

	if c.tracker.Count(ev.Node, ev.Msg) {
		c.writeCoverage(ctx)
	}
	if c.tracker.FloodReady(c.source, ev.Node, ev.Msg) {
		log.Info("starting dissemination", "source", c.source, "tick", ev.Time)
		if err := c.cmd.Send(c.source, c.profile.Flood.Command); err != nil {
			return true, c.abort(ctx, ev, fmt.Errorf("send flood trigger: %w", err))
		}
	}

	for _, r := range c.sched.Tick(ev.Time) {
		log.Debug("mote online", "node", r.Node, "tick", ev.Time)
		c.writeFault(ctx, telemetry.FaultRecovered, r.Node, 0)
	}

	if c.sel.Trigger(ev.Time) {
		rec, ok, err := c.sel.SelectAndApply(ev.Time, c.phase != PhaseRunning)
		if ok {
			log.Debug("failing mote", "node", rec.Node, "tick", ev.Time, "restart_at", rec.RestartAt)
			if c.tracker.Uncover(rec.Node) {
				c.writeCoverage(ctx)
			}
			c.writeFault(ctx, telemetry.FaultFailed, rec.Node, rec.RestartAt)
		}
		if err != nil {
			return true, c.abort(ctx, ev, err)
		}
	}

	if c.phase == PhaseRunning && !c.cfg.Timing() && c.cfg.StopTick > 0 && ev.Time >= c.cfg.StopTick {
		if err := c.terminating(ctx); err != nil {
			return true, c.abort(ctx, ev, err)
		}
	}

	if c.tracker.Observe(ev.Node, ev.Msg, ev.Time, c.ledger.IsFailed) {
		c.finish(ctx, c.tracker.Reason())
		return true, nil
	}

	if !c.graph.IsConnected() {
		return true, c.abort(ctx, ev, ErrPartitioned)
	}
	if c.ledger.Len() > c.cfg.MaxFailures {
		return true, c.abort(ctx, ev, ErrTooManyFailures)
	}

	if c.cfg.TimeoutTick > 0 && ev.Time >= c.cfg.TimeoutTick {
		log.Warn("run timed out", "tick", ev.Time, "reported", len(c.tracker.Reported()))
		c.finish(ctx, telemetry.ReasonTimeout)
		return true, nil
	}
	return false, nil
}

// terminating stops failure injection, asks every mote for its token and starts
// counting reports.
func (c *Controller) terminating(ctx context.Context) error {
	c.phase = PhaseTerminating
	c.tracker.AcceptReports()
	logging.FromContext(ctx).Info("stop tick reached", "tick", c.now, "failed", c.ledger.Len())
	if c.profile.ReportCommand == "" {
		return nil
	}
	for _, id := range c.graph.Nodes() {
		if err := c.cmd.Send(id, c.profile.ReportCommand); err != nil {
			return fmt.Errorf("send %q to node %d: %w", c.profile.ReportCommand, id, err)
		}
	}
	return nil
}

// Finish ends the run with reason unless it is already over. Run uses it when the
// event source stops.
func (c *Controller) Finish(ctx context.Context, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase == PhaseDone {
		return
	}
	c.finish(ctx, reason)
}

func (c *Controller) finish(ctx context.Context, reason string) {
	c.phase = PhaseDone
	row := c.tracker.Summary(c.sel.Crashes(), c.ledger.FailedIDs())
	row.RunID = c.runID
	row.FailureMode = c.cfg.FailureMode.String()
	row.MaxFailures = c.cfg.MaxFailures
	row.RecoveryDelay = c.cfg.RecoveryDelay
	row.Seed = c.cfg.Seed
	row.Run = c.cfg.Run
	row.Source = int(c.source)
	row.Sink = int(c.sink)
	row.Reason = reason
	row.EndTick = c.now
	now := c.clock()
	row.WallDuration = now.Sub(c.started)
	row.Timestamp = now.UTC()
	c.summary = &row
	c.write(ctx, "summary", c.writer.WriteSummary(row))
}

func (c *Controller) abort(ctx context.Context, ev host.Event, cause error) error {
	ae := &AbortError{
		Tick:     ev.Time,
		Node:     ev.Node,
		Msg:      ev.Msg,
		Failed:   c.ledger.FailedIDs(),
		Reported: c.tracker.Reported(),
		Err:      cause,
	}
	logging.FromContext(ctx).Error("aborting run", "run_id", c.runID, "err", ae)
	c.finish(ctx, telemetry.ReasonAborted)
	return ae
}

func (c *Controller) writeCoverage(ctx context.Context) {
	c.write(ctx, "coverage", c.writer.WriteCoverage(telemetry.CoverageRow{
		RunID: c.runID, Tick: c.now, Covered: c.tracker.Covered(), Total: c.graph.Len(), Timestamp: c.clock().UTC(),
	}))
}

func (c *Controller) writeFault(ctx context.Context, event string, node topology.NodeID, restartAt int64) {
	c.write(ctx, "fault", c.writer.WriteFault(telemetry.FaultEventRow{
		RunID:     c.runID,
		Node:      int(node),
		Event:     event,
		Tick:      c.now,
		RestartAt: restartAt,
		Failed:    c.ledger.Len(),
		Timestamp: c.clock().UTC(),
	}))
}

// write logs writer errors; output problems never stop a run.
func (c *Controller) write(ctx context.Context, kind string, err error) {
	if err != nil {
		logging.FromContext(ctx).Error("write failed", "kind", kind, "run_id", c.runID, "err", err)
	}
}
