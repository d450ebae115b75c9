// Experiment controller driving failure injection and convergence detection
package sim

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"tpwsn-sim/internal/config"
	"tpwsn-sim/internal/convergence"
	"tpwsn-sim/internal/fault"
	"tpwsn-sim/internal/host"
	"tpwsn-sim/internal/logging"
	"tpwsn-sim/internal/protocol"
	"tpwsn-sim/internal/telemetry"
	"tpwsn-sim/internal/topology"
)

// Phase is the run state.
type Phase int

// Run phases. Terminating begins at the stop tick: no more failures are injected and
// token reports start to count.
const (
	PhaseRunning Phase = iota
	PhaseTerminating
	PhaseDone
)

func (p Phase) String() string {
	switch p {
	case PhaseRunning:
		return "running"
	case PhaseTerminating:
		return "terminating"
	case PhaseDone:
		return "done"
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// Option customises a Controller.
type Option func(*Controller)

// WithRunID sets the id tagging every written row. A random UUID is used otherwise.
func WithRunID(id string) Option {
	return func(c *Controller) { c.runID = id }
}

// WithClock replaces the wall clock used for row timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.clock = now }
}

// Controller owns all state of one experiment run. Events must be delivered from a
// single goroutine; the mutex only protects snapshots taken from other goroutines.
type Controller struct {
	cfg     *config.ExperimentConfig
	profile protocol.Profile
	graph   *topology.Graph
	ledger  *fault.Ledger
	sel     *fault.Selector
	sched   *fault.Scheduler
	tracker *convergence.Tracker
	cmd     host.Commander
	writer  Writer
	rng     *rand.Rand

	runID   string
	source  topology.NodeID
	sink    topology.NodeID
	phase   Phase
	now     int64
	events  int
	clock   func() time.Time
	started time.Time
	summary *telemetry.SummaryRow

	mu sync.Mutex
}

// NewController assigns roles, prepares failure injection and sends the protocol's
// init commands. Every random decision of the run is drawn from one generator
// seeded with cfg.Seed.
func NewController(ctx context.Context, cfg *config.ExperimentConfig, g *topology.Graph, cmd host.Commander, w Writer, opts ...Option) (*Controller, error) {
	profile, err := protocol.ByName(cfg.Protocol)
	if err != nil {
		return nil, err
	}
	if w == nil {
		w = Discard
	}
	c := &Controller{
		cfg:     cfg,
		profile: profile,
		graph:   g,
		cmd:     cmd,
		writer:  w,
		rng:     rand.New(rand.NewSource(cfg.Seed)),
		clock:   time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	if c.runID == "" {
		c.runID = uuid.New().String()
	}

	nodes := g.Nodes()
	c.source, c.sink, err = PickRoles(nodes, c.rng)
	if err != nil {
		return nil, err
	}
	if cfg.MaxFailures > len(nodes)-2 {
		return nil, fmt.Errorf("%w: max_failures %d exceeds the %d failable motes", config.ErrInvalidConfig, cfg.MaxFailures, len(nodes)-2)
	}
	failable := make([]topology.NodeID, 0, len(nodes)-2)
	for _, id := range nodes {
		if id != c.source && id != c.sink {
			failable = append(failable, id)
		}
	}
	c.ledger = fault.NewLedger(failable)
	c.sel = fault.NewSelector(cfg.Policy(), g, c.ledger, c.rng, cmd)
	c.sched = fault.NewScheduler(g, c.ledger)
	c.tracker = convergence.New(profile, nodes, cfg.Timing(), cfg.StopTick == 0)

	log := logging.FromContext(ctx)
	log.Info("experiment initialised",
		"run_id", c.runID, "protocol", profile.Name, "mode", cfg.FailureMode,
		"max_failures", cfg.MaxFailures, "motes", len(nodes), "source", c.source, "sink", c.sink, "seed", cfg.Seed)

	if rw, ok := w.(RoleWriter); ok {
		rw.SetRoles(c.runID, c.source, c.sink)
	}
	c.started = c.clock()
	c.tracker.Cover(c.source)
	c.writeCoverage(ctx)

	for _, ic := range profile.InitCommands(c.source, c.sink, nodes, cfg.Params) {
		if err := cmd.Send(ic.Node, ic.Text); err != nil {
			return nil, fmt.Errorf("init command %q to node %d: %w", ic.Text, ic.Node, err)
		}
	}
	return c, nil
}

// RunID returns the id tagging this run's rows.
func (c *Controller) RunID() string { return c.runID }

// Roles returns the source and sink.
func (c *Controller) Roles() (source, sink topology.NodeID) { return c.source, c.sink }

// Config returns the run configuration.
func (c *Controller) Config() *config.ExperimentConfig { return c.cfg }
