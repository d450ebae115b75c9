package sim

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"tpwsn-sim/internal/config"
	"tpwsn-sim/internal/fault"
	"tpwsn-sim/internal/host"
	"tpwsn-sim/internal/protocol"
	"tpwsn-sim/internal/telemetry"
	"tpwsn-sim/internal/topology"
)

// recordWriter collects every row written during a run.
type recordWriter struct {
	mu        sync.Mutex
	logs      []telemetry.MoteLogRow
	faults    []telemetry.FaultEventRow
	coverage  []telemetry.CoverageRow
	summaries []telemetry.SummaryRow
	runID     string
	source    topology.NodeID
	sink      topology.NodeID
}

func (w *recordWriter) WriteMoteLog(r telemetry.MoteLogRow) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.logs = append(w.logs, r)
	return nil
}

func (w *recordWriter) WriteFault(r telemetry.FaultEventRow) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.faults = append(w.faults, r)
	return nil
}

func (w *recordWriter) WriteCoverage(r telemetry.CoverageRow) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.coverage = append(w.coverage, r)
	return nil
}

func (w *recordWriter) WriteSummary(r telemetry.SummaryRow) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.summaries = append(w.summaries, r)
	return nil
}

func (w *recordWriter) SetRoles(runID string, source, sink topology.NodeID) {
	w.runID, w.source, w.sink = runID, source, sink
}

// recordCommander keeps every command sent. Commands starting with failPrefix fail.
type recordCommander struct {
	sent       []protocol.Command
	failPrefix string
}

func (c *recordCommander) Send(node topology.NodeID, text string) error {
	if c.failPrefix != "" && strings.HasPrefix(text, c.failPrefix) {
		return errors.New("mote unreachable")
	}
	c.sent = append(c.sent, protocol.Command{Node: node, Text: text})
	return nil
}

func (c *recordCommander) textsFor(node topology.NodeID) []string {
	var out []string
	for _, s := range c.sent {
		if s.Node == node {
			out = append(out, s.Text)
		}
	}
	return out
}

// meshConfig places n motes on a line with a range covering all of them.
func meshConfig(n int) *config.ExperimentConfig {
	nodes := make([]config.NodeSpec, n)
	for i := range nodes {
		nodes[i] = config.NodeSpec{ID: i + 1, X: float64(i) * 10}
	}
	return &config.ExperimentConfig{
		Protocol:       "trickle",
		FailureMode:    fault.ModeNone,
		TicksPerSecond: config.DefaultTicksPerSecond,
		Seed:           42,
		Params:         protocol.Params{TrickleIMin: 16, TrickleIMax: 10, TrickleRedundancyConst: 2, SourceMessageLimit: 1},
		Topology:       config.Topology{TxRange: 1000, Nodes: nodes},
	}
}

var fixedClock = func() time.Time { return time.Unix(1700000000, 0) }

func newTestController(t *testing.T, cfg *config.ExperimentConfig) (*Controller, *recordCommander, *recordWriter) {
	t.Helper()
	cmd := &recordCommander{}
	w := &recordWriter{}
	c, err := NewController(context.Background(), cfg, cfg.Graph(), cmd, w, WithRunID("run-1"), WithClock(fixedClock))
	require.NoError(t, err)
	return c, cmd, w
}

func feed(t *testing.T, c *Controller, tick int64, node topology.NodeID, msg string) bool {
	t.Helper()
	done, err := c.HandleEvent(context.Background(), host.Event{Node: node, Time: tick, Msg: msg})
	require.NoError(t, err)
	return done
}

func TestPickRolesDistinctAndReproducible(t *testing.T) {
	nodes := []topology.NodeID{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	for seed := int64(0); seed < 50; seed++ {
		s1, k1, err := PickRoles(nodes, rand.New(rand.NewSource(seed)))
		require.NoError(t, err)
		require.NotEqual(t, s1, k1)
		s2, k2, err := PickRoles(nodes, rand.New(rand.NewSource(seed)))
		require.NoError(t, err)
		require.Equal(t, s1, s2)
		require.Equal(t, k1, k2)
	}
	_, _, err := PickRoles([]topology.NodeID{1}, rand.New(rand.NewSource(1)))
	require.ErrorIs(t, err, ErrNoRoles)
}

func TestNewControllerSendsInitCommands(t *testing.T) {
	cfg := meshConfig(4)
	c, cmd, w := newTestController(t, cfg)
	source, sink := c.Roles()

	require.Equal(t, "run-1", w.runID)
	require.Equal(t, source, w.source)
	require.Equal(t, sink, w.sink)
	require.Contains(t, cmd.textsFor(source), "set source")
	require.Contains(t, cmd.textsFor(source), "limit 1")
	require.Contains(t, cmd.textsFor(sink), "set sink")
	for id := topology.NodeID(1); id <= 4; id++ {
		require.Contains(t, cmd.textsFor(id), "init 16 10 2")
	}
	require.Len(t, w.coverage, 1)
	require.Equal(t, 1, w.coverage[0].Covered)
	require.Equal(t, 4, w.coverage[0].Total)
}

func TestNewControllerRejectsTooManyFailures(t *testing.T) {
	cfg := meshConfig(4)
	cfg.FailureMode = fault.ModeRandom
	cfg.MaxFailures = 3
	_, err := NewController(context.Background(), cfg, cfg.Graph(), &recordCommander{}, nil)
	require.ErrorIs(t, err, config.ErrInvalidConfig)
}

func TestTimingModeConvergence(t *testing.T) {
	cfg := meshConfig(4)
	c, _, w := newTestController(t, cfg)

	require.False(t, feed(t, c, 100, 1, "Consistent"))
	require.False(t, feed(t, c, 200, 2, "Consistent"))
	require.False(t, feed(t, c, 300, 3, "Trickle TX"))
	require.False(t, feed(t, c, 310, 3, "Consistent"))
	require.True(t, feed(t, c, 420, 4, "Consistent"))
	require.True(t, c.Done())

	require.Len(t, w.summaries, 1)
	s := w.summaries[0]
	require.Equal(t, telemetry.ReasonConverged, s.Reason)
	require.True(t, s.Converged)
	require.Equal(t, int64(420), s.ConvergedTick)
	require.Equal(t, int64(420), s.EndTick)
	require.InDelta(t, 100.0, s.CoveragePct, 1e-9)
	require.Empty(t, s.Incorrect)
	require.Equal(t, 1, s.Messages)
	require.Equal(t, "run-1", s.RunID)
	require.Len(t, w.logs, 5)

	// events after the end are ignored
	require.True(t, feed(t, c, 500, 1, "Consistent"))
	require.Len(t, w.summaries, 1)
}

func TestTimingModeIgnoresStopTick(t *testing.T) {
	cfg := meshConfig(4)
	cfg.StopTick = 50
	c, cmd, _ := newTestController(t, cfg)
	before := len(cmd.sent)

	require.False(t, feed(t, c, 60, 1, "Consistent"))
	require.Equal(t, PhaseRunning.String(), c.Snapshot().Phase)
	require.Len(t, cmd.sent, before)
	for id := topology.NodeID(1); id <= 4; id++ {
		require.NotContains(t, cmd.textsFor(id), "print")
	}

	require.False(t, feed(t, c, 70, 2, "Consistent"))
	require.False(t, feed(t, c, 80, 3, "Consistent"))
	require.True(t, feed(t, c, 90, 4, "Consistent"))
	require.Equal(t, int64(90), c.Summary().ConvergedTick)
}

func TestRandomModeFailsOneAndRecoversAfterDelay(t *testing.T) {
	cfg := meshConfig(10)
	cfg.FailureMode = fault.ModeRandom
	cfg.MaxFailures = 1
	cfg.FailureProbability = 1
	cfg.RecoveryDelay = 1000
	c, cmd, w := newTestController(t, cfg)
	source, sink := c.Roles()

	feed(t, c, 0, source, "tick")
	st := c.Snapshot()
	require.Len(t, st.Failed, 1)
	failed := st.Failed[0]
	require.NotEqual(t, source, failed.Node)
	require.NotEqual(t, sink, failed.Node)
	require.Equal(t, int64(1000), failed.RestartAt)
	require.Contains(t, cmd.textsFor(failed.Node), "sleep 1")
	require.Equal(t, 9, st.Online)

	feed(t, c, 999, source, "tick")
	require.Len(t, c.Snapshot().Failed, 1)

	feed(t, c, 1000, source, "tick")
	var recovered *telemetry.FaultEventRow
	for i := range w.faults {
		if w.faults[i].Event == telemetry.FaultRecovered {
			recovered = &w.faults[i]
			break
		}
	}
	require.NotNil(t, recovered)
	require.Equal(t, int(failed.Node), recovered.Node)
	require.Equal(t, int64(1000), recovered.Tick)
	require.LessOrEqual(t, len(c.Snapshot().Failed), 1)
}

func TestLocationModeLineStaysConnected(t *testing.T) {
	cfg := &config.ExperimentConfig{
		Protocol:           "trickle",
		FailureMode:        fault.ModeLocation,
		MaxFailures:        3,
		RecoveryDelay:      50,
		FailureProbability: 1,
		TicksPerSecond:     config.DefaultTicksPerSecond,
		Seed:               3,
		Topology: config.Topology{TxRange: 50, Nodes: []config.NodeSpec{
			{ID: 1, X: 0}, {ID: 2, X: 40}, {ID: 3, X: 80}, {ID: 4, X: 120}, {ID: 5, X: 160},
		}},
	}
	g := cfg.Graph()
	c, err := NewController(context.Background(), cfg, g, &recordCommander{}, nil)
	require.NoError(t, err)
	for tick := int64(0); tick < 500; tick += 10 {
		_, err := c.HandleEvent(context.Background(), host.Event{Node: 1, Time: tick, Msg: "tick"})
		require.NoError(t, err)
		require.True(t, g.IsConnected())
		require.LessOrEqual(t, len(c.Snapshot().Failed), 3)
	}
}

func TestFailuresStayWithinBudgetAndConnected(t *testing.T) {
	for _, mode := range []fault.Mode{fault.ModeRandom, fault.ModeLocation, fault.ModeTemporal} {
		for seed := int64(1); seed <= 5; seed++ {
			t.Run(fmt.Sprintf("%s/%d", mode, seed), func(t *testing.T) {
				cfg := &config.ExperimentConfig{
					Protocol:           "trickle",
					FailureMode:        mode,
					MaxFailures:        3,
					RecoveryDelay:      300,
					FailureProbability: 2,
					Seed:               seed,
					Topology:           config.Topology{Grid: 5, Spacing: 40, TxRange: 50},
				}
				cfg.ApplyDefaults()
				require.NoError(t, cfg.Validate())
				g := cfg.Graph()
				c, err := NewController(context.Background(), cfg, g, &recordCommander{}, nil)
				require.NoError(t, err)
				rng := rand.New(rand.NewSource(seed))
				crashes := 0
				for tick := int64(1); tick <= 5000; tick += 5 {
					node := topology.NodeID(rng.Intn(25) + 1)
					done, err := c.HandleEvent(context.Background(), host.Event{Node: node, Time: tick, Msg: "Trickle TX"})
					require.NoError(t, err)
					require.False(t, done)
					st := c.Snapshot()
					require.LessOrEqual(t, len(st.Failed), 3)
					require.True(t, g.IsConnected())
					for _, r := range st.Failed {
						require.NotEqual(t, st.Source, int(r.Node))
						require.NotEqual(t, st.Sink, int(r.Node))
					}
					crashes = st.Crashes
				}
				require.Positive(t, crashes)
			})
		}
	}
}

func TestFailedReportCountsAsIncorrectAfterRecovery(t *testing.T) {
	cfg := meshConfig(4)
	cfg.FailureMode = fault.ModeRandom
	cfg.MaxFailures = 1
	cfg.FailureProbability = 1
	cfg.RecoveryDelay = 100
	cfg.StopTick = 50
	c, cmd, w := newTestController(t, cfg)
	source, sink := c.Roles()

	feed(t, c, 10, source, "Trickle TX")
	st := c.Snapshot()
	require.Len(t, st.Failed, 1)
	x := st.Failed[0].Node

	// stop tick: everyone is asked for a token and failures stop
	feed(t, c, 50, source, "Trickle TX")
	for id := topology.NodeID(1); id <= 4; id++ {
		require.Contains(t, cmd.textsFor(id), "print")
	}
	require.Equal(t, PhaseTerminating.String(), c.Snapshot().Phase)

	require.False(t, feed(t, c, 60, x, "Current token: 1"))
	// restart is due, no new failure while terminating
	require.False(t, feed(t, c, 120, source, "Current token: 1"))
	require.Empty(t, c.Snapshot().Failed)

	var rest []topology.NodeID
	for id := topology.NodeID(1); id <= 4; id++ {
		if id != x && id != source {
			rest = append(rest, id)
		}
	}
	require.Contains(t, rest, sink)
	require.False(t, feed(t, c, 130, rest[0], "Current token: 1"))
	require.True(t, feed(t, c, 140, rest[1], "Current token: 1"))

	require.Len(t, w.summaries, 1)
	s := w.summaries[0]
	require.Equal(t, telemetry.ReasonConverged, s.Reason)
	require.Equal(t, []int{int(x)}, s.Incorrect)
	require.Equal(t, protocol.NaN, s.Tokens[int(x)])
	require.False(t, s.Correct[int(x)])
	require.Equal(t, 3, s.CorrectCount)
	require.InDelta(t, 75.0, s.CoveragePct, 1e-9)
	require.Empty(t, s.FailedAtEnd)
	require.Equal(t, 1, s.TotalCrashes)
}

func TestReportsBeforeStopTickDoNotEndRun(t *testing.T) {
	cfg := meshConfig(3)
	cfg.FailureMode = fault.ModeRandom
	cfg.MaxFailures = 1
	cfg.StopTick = 1000
	c, _, _ := newTestController(t, cfg)

	for id := topology.NodeID(1); id <= 3; id++ {
		require.False(t, feed(t, c, int64(id)*10, id, "Current token: 1"))
	}
	require.Equal(t, 0, c.Snapshot().Reported)
	require.False(t, feed(t, c, 1000, 1, "Current token: 1"))
	require.False(t, feed(t, c, 1010, 2, "Current token: 1"))
	require.True(t, feed(t, c, 1020, 3, "Current token: 1"))
	require.Equal(t, telemetry.ReasonConverged, c.Summary().Reason)
}

func TestTimeoutEndsRun(t *testing.T) {
	cfg := meshConfig(3)
	cfg.TimeoutTick = 500
	c, _, w := newTestController(t, cfg)

	require.False(t, feed(t, c, 100, 1, "Consistent"))
	require.True(t, feed(t, c, 500, 2, "Trickle TX"))
	require.Len(t, w.summaries, 1)
	s := w.summaries[0]
	require.Equal(t, telemetry.ReasonTimeout, s.Reason)
	require.False(t, s.Converged)
	require.Equal(t, []int{2, 3}, s.Incorrect)
	require.Equal(t, int64(500), s.EndTick)
}

func TestRMHSinkMarkerEndsTimingRun(t *testing.T) {
	cfg := meshConfig(5)
	cfg.Protocol = "rmh"
	c, cmd, w := newTestController(t, cfg)
	source, sink := c.Roles()

	for i := 0; i < 3; i++ {
		feed(t, c, int64(10+i), source, "adv_packet_received")
	}
	require.Equal(t, []string{"button"}, cmd.textsFor(source))
	require.False(t, feed(t, c, 20, source, "Forwarding packet to 2"))
	require.True(t, feed(t, c, 30, sink, "sink received 'hello'"))
	require.Equal(t, telemetry.ReasonSinkReceived, w.summaries[0].Reason)
	require.Equal(t, int64(30), w.summaries[0].ConvergedTick)
	require.Equal(t, 1, w.summaries[0].Messages)
}

func TestCommanderFailureAbortsRun(t *testing.T) {
	cfg := meshConfig(4)
	cfg.FailureMode = fault.ModeRandom
	cfg.MaxFailures = 1
	cfg.FailureProbability = 1
	cfg.RecoveryDelay = 100
	cmd := &recordCommander{failPrefix: "sleep"}
	w := &recordWriter{}
	c, err := NewController(context.Background(), cfg, cfg.Graph(), cmd, w)
	require.NoError(t, err)

	done, err := c.HandleEvent(context.Background(), host.Event{Node: 1, Time: 7, Msg: "Trickle TX"})
	require.True(t, done)
	var ae *AbortError
	require.ErrorAs(t, err, &ae)
	require.Equal(t, int64(7), ae.Tick)
	require.Len(t, ae.Failed, 1)
	require.True(t, c.Done())
	require.Len(t, w.summaries, 1)
	require.Equal(t, telemetry.ReasonAborted, w.summaries[0].Reason)
}

func TestRunWithTrace(t *testing.T) {
	trace := "# timing run\n100;1;Consistent\n200;2;Consistent\n\n300;3;Consistent\n400;4;Consistent\n"
	cfg := meshConfig(4)
	c, _, _ := newTestController(t, cfg)
	h := host.NewTraceHost(strings.NewReader(trace))

	s, err := c.Run(context.Background(), h)
	require.NoError(t, err)
	require.Equal(t, telemetry.ReasonConverged, s.Reason)
	require.Equal(t, int64(400), s.ConvergedTick)
	require.Equal(t, telemetry.ReasonConverged, h.Reason())
}

func TestRunStreamEnded(t *testing.T) {
	cfg := meshConfig(4)
	c, _, w := newTestController(t, cfg)
	h := host.NewTraceHost(strings.NewReader("100;1;Consistent\n"))

	s, err := c.Run(context.Background(), h)
	require.NoError(t, err)
	require.Equal(t, telemetry.ReasonStreamEnded, s.Reason)
	require.False(t, s.Converged)
	require.Len(t, w.summaries, 1)
}

func TestRunCancelled(t *testing.T) {
	cfg := meshConfig(4)
	c, _, _ := newTestController(t, cfg)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s, err := c.Run(ctx, host.NewTraceHost(strings.NewReader("100;1;Consistent\n")))
	require.NoError(t, err)
	require.Equal(t, telemetry.ReasonCancelled, s.Reason)
}

func TestSnapshotAndTopology(t *testing.T) {
	cfg := meshConfig(3)
	c, _, _ := newTestController(t, cfg)
	feed(t, c, 10, 1, "Trickle TX")

	st := c.Snapshot()
	require.Equal(t, "run-1", st.RunID)
	require.Equal(t, "trickle", st.Protocol)
	require.Equal(t, "running", st.Phase)
	require.Equal(t, int64(10), st.Tick)
	require.Equal(t, 1, st.Events)
	require.Equal(t, 3, st.Online)
	require.Nil(t, st.Summary)

	nodes := c.Topology()
	require.Len(t, nodes, 3)
	roles := map[string]int{}
	for _, n := range nodes {
		require.True(t, n.Online)
		require.Len(t, n.Neighbors, 2)
		if n.Role != "" {
			roles[n.Role] = n.ID
		}
	}
	require.Equal(t, st.Source, roles["source"])
	require.Equal(t, st.Sink, roles["sink"])
}
