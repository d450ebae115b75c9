package fault

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"tpwsn-sim/internal/topology"
)

type sentCommand struct {
	node topology.NodeID
	text string
}

type recordingCommander struct {
	sent []sentCommand
}

func (r *recordingCommander) Send(node topology.NodeID, text string) error {
	r.sent = append(r.sent, sentCommand{node: node, text: text})
	return nil
}

func without(ids []topology.NodeID, drop ...topology.NodeID) []topology.NodeID {
	skip := map[topology.NodeID]bool{}
	for _, d := range drop {
		skip[d] = true
	}
	var out []topology.NodeID
	for _, id := range ids {
		if !skip[id] {
			out = append(out, id)
		}
	}
	return out
}

func TestRandomModeSingleFailureAndRecovery(t *testing.T) {
	g := topology.New(topology.Line(10, 10), 1000)
	failable := without(g.Nodes(), 1, 2)
	ledger := NewLedger(failable)
	cmd := &recordingCommander{}
	p := Policy{Mode: ModeRandom, MaxFailures: 1, RecoveryDelay: 50, FailureProbability: 1}
	sel := NewSelector(p, g, ledger, rand.New(rand.NewSource(7)), cmd)
	sched := NewScheduler(g, ledger)

	const now = int64(100)
	require.True(t, sel.Trigger(now))
	rec, ok, err := sel.SelectAndApply(now, false)
	require.NoError(t, err)
	require.True(t, ok)
	require.NotEqual(t, topology.NodeID(1), rec.Node)
	require.NotEqual(t, topology.NodeID(2), rec.Node)
	require.Equal(t, now+50, rec.RestartAt)
	require.Equal(t, 1, ledger.Len())
	require.False(t, g.Online(rec.Node))
	require.False(t, ledger.IsFailable(rec.Node))
	require.Equal(t, []sentCommand{{node: rec.Node, text: "sleep 50"}}, cmd.sent)
	require.Equal(t, 1, sel.Crashes())

	// bound reached: a second attempt is a no-op
	_, ok, err = sel.SelectAndApply(now+1, false)
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, 1, ledger.Len())

	require.Empty(t, sched.Tick(now+49))
	restored := sched.Tick(now + 50)
	require.Equal(t, []FailureRecord{rec}, restored)
	require.True(t, g.Online(rec.Node))
	require.True(t, ledger.IsFailable(rec.Node))
	require.Equal(t, failable, ledger.Failable())
}

func TestLocationModeRejectsPartition(t *testing.T) {
	g := topology.New(topology.Line(5, 40), 50)
	ledger := NewLedger([]topology.NodeID{3})
	cmd := &recordingCommander{}
	p := Policy{Mode: ModeLocation, MaxFailures: 2, RecoveryDelay: 10, FailureProbability: 1}
	sel := NewSelector(p, g, ledger, rand.New(rand.NewSource(1)), cmd)

	_, ok, err := sel.SelectAndApply(0, false)
	require.NoError(t, err)
	require.False(t, ok)
	require.Zero(t, ledger.Len())
	require.Equal(t, 5, g.OnlineCount())
	require.Empty(t, cmd.sent)
	require.Zero(t, sel.Crashes())
	require.True(t, ledger.IsFailable(3))
}

func TestLocationCandidatesAreNeighboursOfFailed(t *testing.T) {
	g := topology.New(topology.Grid(3, 40), 50)
	ledger := NewLedger(without(g.Nodes(), 1, 9))
	sel := NewSelector(Policy{Mode: ModeLocation, MaxFailures: 3}, g, ledger, rand.New(rand.NewSource(1)), &recordingCommander{})

	require.Equal(t, ledger.Failable(), sel.locationCandidates())

	require.True(t, g.TryFail(5))
	ledger.open(FailureRecord{Node: 5, RestartAt: 100})
	require.Equal(t, []topology.NodeID{2, 4, 6, 8}, sel.locationCandidates())

	// source and sink are never candidates even when adjacent to a failed mote
	require.True(t, g.TryFail(2))
	ledger.open(FailureRecord{Node: 2, RestartAt: 100})
	require.Equal(t, []topology.NodeID{3, 4, 6, 8}, sel.locationCandidates())
}

func TestLocationModeNoCandidates(t *testing.T) {
	g := topology.New(topology.Line(3, 40), 50)
	ledger := NewLedger([]topology.NodeID{1})
	sel := NewSelector(Policy{Mode: ModeLocation, MaxFailures: 3, FailureProbability: 1}, g, ledger, rand.New(rand.NewSource(1)), &recordingCommander{})

	rec, ok, err := sel.SelectAndApply(0, false)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, topology.NodeID(1), rec.Node)

	// mote 1's only neighbour is not failable
	_, ok, err = sel.SelectAndApply(1, false)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestSelectorGuards(t *testing.T) {
	cases := []struct {
		name        string
		mode        Mode
		max         int
		terminating bool
	}{
		{name: "none", mode: ModeNone, max: 3},
		{name: "terminating", mode: ModeRandom, max: 3, terminating: true},
		{name: "zero budget", mode: ModeRandom, max: 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			g := topology.New(topology.Line(6, 10), 1000)
			ledger := NewLedger(g.Nodes())
			cmd := &recordingCommander{}
			sel := NewSelector(Policy{Mode: tc.mode, MaxFailures: tc.max, FailureProbability: 1}, g, ledger, rand.New(rand.NewSource(3)), cmd)
			_, ok, err := sel.SelectAndApply(10, tc.terminating)
			require.NoError(t, err)
			require.False(t, ok)
			require.Zero(t, ledger.Len())
			require.Empty(t, cmd.sent)
		})
	}
}

func TestFailuresNeverPartitionOrExceedBudget(t *testing.T) {
	for _, mode := range []Mode{ModeRandom, ModeLocation, ModeTemporal} {
		t.Run(mode.String(), func(t *testing.T) {
			g := topology.New(topology.Grid(5, 40), 50)
			ledger := NewLedger(without(g.Nodes(), 1, 25))
			p := Policy{Mode: mode, MaxFailures: 6, RecoveryDelay: 40, FailureProbability: 2, TemporalWindow: 10, TemporalProbability: 1}
			sel := NewSelector(p, g, ledger, rand.New(rand.NewSource(42)), &recordingCommander{})
			sched := NewScheduler(g, ledger)

			admitted := 0
			for now := int64(0); now < 2000; now++ {
				sched.Tick(now)
				if !sel.Trigger(now) {
					continue
				}
				_, ok, err := sel.SelectAndApply(now, false)
				require.NoError(t, err)
				if ok {
					admitted++
					require.True(t, g.IsConnected(), "partitioned at tick %d", now)
				}
				require.LessOrEqual(t, ledger.Len(), p.MaxFailures)
				require.True(t, g.Online(1))
				require.True(t, g.Online(25))
			}
			require.Positive(t, admitted)
			require.Equal(t, admitted, sel.Crashes())
		})
	}
}

func TestSameSeedSameFailureSequence(t *testing.T) {
	run := func(seed int64) []FailureRecord {
		g := topology.New(topology.Grid(4, 40), 50)
		ledger := NewLedger(without(g.Nodes(), 1, 16))
		sel := NewSelector(Policy{Mode: ModeRandom, MaxFailures: 3, RecoveryDelay: 25, FailureProbability: 3}, g, ledger, rand.New(rand.NewSource(seed)), &recordingCommander{})
		sched := NewScheduler(g, ledger)
		var out []FailureRecord
		for now := int64(0); now < 500; now++ {
			sched.Tick(now)
			if sel.Trigger(now) {
				if rec, ok, _ := sel.SelectAndApply(now, false); ok {
					out = append(out, rec)
				}
			}
		}
		return out
	}
	a := run(12345678)
	require.NotEmpty(t, a)
	require.Equal(t, a, run(12345678))
}

func TestTemporalTriggerWindow(t *testing.T) {
	g := topology.New(topology.Line(4, 10), 1000)
	ledger := NewLedger([]topology.NodeID{2, 3})
	p := Policy{Mode: ModeTemporal, MaxFailures: 2, RecoveryDelay: 100, FailureProbability: 1 << 30, TemporalWindow: 20, TemporalProbability: 1}
	sel := NewSelector(p, g, ledger, rand.New(rand.NewSource(9)), &recordingCommander{})

	require.False(t, sel.Trigger(0))
	_, ok, err := sel.SelectAndApply(5, false)
	require.NoError(t, err)
	require.True(t, ok)
	for now := int64(5); now < 25; now++ {
		require.True(t, sel.Trigger(now), "tick %d inside window", now)
	}
	require.False(t, sel.Trigger(25))
}

func TestSleepCommand(t *testing.T) {
	require.Equal(t, "sleep 5", SleepCommand(5, 0))
	require.Equal(t, "sleep 5", SleepCommand(5, 1))
	require.Equal(t, "sleep 3", SleepCommand(3_000_000, 1_000_000))
	require.Equal(t, "sleep 1", SleepCommand(10, 1_000_000))
}
