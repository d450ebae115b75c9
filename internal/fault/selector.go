// Failure injection: candidate selection, connectivity admission and restart commands
package fault

import (
	"fmt"
	"math/rand"

	"tpwsn-sim/internal/topology"
)

// Commander delivers a text command to a mote's firmware.
type Commander interface {
	Send(node topology.NodeID, text string) error
}

// Policy configures failure injection for one run.
type Policy struct {
	Mode          Mode
	MaxFailures   int
	RecoveryDelay int64
	// FailureProbability N gives a 1/N chance of a failure attempt per event.
	FailureProbability int
	// TemporalWindow is how long, in ticks, the raised probability lasts after a failure.
	TemporalWindow      int64
	TemporalProbability int
	// TicksPerSecond converts RecoveryDelay into the seconds carried by the sleep command.
	TicksPerSecond int64
}

// Selector picks motes to fail and applies the failure.
type Selector struct {
	policy    Policy
	graph     *topology.Graph
	ledger    *Ledger
	rng       *rand.Rand
	cmd       Commander
	crashes   int
	windowEnd int64
}

// NewSelector creates a selector drawing from rng. The same rng must drive every random
// decision of a run so that a seed reproduces the failure sequence.
func NewSelector(p Policy, g *topology.Graph, l *Ledger, rng *rand.Rand, cmd Commander) *Selector {
	return &Selector{policy: p, graph: g, ledger: l, rng: rng, cmd: cmd}
}

// Crashes returns the number of failures applied so far.
func (s *Selector) Crashes() int { return s.crashes }

// Trigger draws the per-event chance of attempting a failure. In temporal mode the
// chance is raised while the window opened by the last failure is still running.
func (s *Selector) Trigger(now int64) bool {
	n := s.policy.FailureProbability
	if s.policy.Mode == ModeTemporal && s.windowEnd > 0 && now < s.windowEnd {
		n = s.policy.TemporalProbability
	}
	if n < 1 {
		return false
	}
	return s.rng.Intn(n) == 0
}

// SelectAndApply tries to fail one mote at time now. It returns false, with no state
// changed, when the guards stop it, no candidate exists or the chosen mote would
// partition the online network.
func (s *Selector) SelectAndApply(now int64, terminating bool) (FailureRecord, bool, error) {
	if s.policy.Mode == ModeNone || terminating {
		return FailureRecord{}, false, nil
	}
	if s.ledger.Len() >= s.policy.MaxFailures {
		return FailureRecord{}, false, nil
	}

	var candidates []topology.NodeID
	switch s.policy.Mode {
	case ModeRandom, ModeTemporal:
		candidates = s.ledger.Failable()
	case ModeLocation:
		candidates = s.locationCandidates()
	default:
		return FailureRecord{}, false, fmt.Errorf("%w: %s", ErrInvalidMode, s.policy.Mode)
	}
	if len(candidates) == 0 {
		return FailureRecord{}, false, nil
	}

	node := candidates[s.rng.Intn(len(candidates))]
	if !s.graph.TryFail(node) {
		return FailureRecord{}, false, nil
	}

	rec := FailureRecord{Node: node, FailedAt: now, RestartAt: now + s.policy.RecoveryDelay}
	s.ledger.open(rec)
	s.crashes++
	if s.policy.Mode == ModeTemporal {
		s.windowEnd = now + s.policy.TemporalWindow
	}
	if err := s.cmd.Send(node, SleepCommand(s.policy.RecoveryDelay, s.policy.TicksPerSecond)); err != nil {
		return rec, true, fmt.Errorf("send sleep to node %d: %w", node, err)
	}
	return rec, true, nil
}

// locationCandidates returns every failable 1-hop neighbour of the failed motes, or
// all failable motes when nothing has failed yet.
func (s *Selector) locationCandidates() []topology.NodeID {
	if s.ledger.Len() == 0 {
		return s.ledger.Failable()
	}
	set := make(map[topology.NodeID]bool)
	for _, failed := range s.ledger.FailedIDs() {
		for _, nb := range s.graph.Neighbors1Hop(failed) {
			if s.ledger.IsFailable(nb) {
				set[nb] = true
			}
		}
	}
	out := make([]topology.NodeID, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sortIDs(out)
	return out
}

// SleepCommand renders the firmware command that powers a mote down for delay ticks.
func SleepCommand(delay, ticksPerSecond int64) string {
	secs := delay
	if ticksPerSecond > 1 {
		secs = delay / ticksPerSecond
		if secs == 0 && delay > 0 {
			secs = 1
		}
	}
	return fmt.Sprintf("sleep %d", secs)
}
