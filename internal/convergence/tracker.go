// Per-mote token bookkeeping and run termination detection
package convergence

import (
	"sort"
	"strings"

	"tpwsn-sim/internal/protocol"
	"tpwsn-sim/internal/telemetry"
	"tpwsn-sim/internal/topology"
)

// Tracker accumulates what every mote reported and decides when a run is over.
//
// With no failures allowed the run measures time to consistency: motes logging a
// consistency marker join the reported set. Otherwise motes report their token and a
// mote that is failed when its report is observed is recorded as NaN. A report made
// before the mote failed still counts; only the state at observation time matters.
type Tracker struct {
	profile protocol.Profile
	nodes   []topology.NodeID
	timing  bool
	accept  bool

	tokens   map[topology.NodeID]string
	reported map[topology.NodeID]bool
	covered  map[topology.NodeID]bool

	terminal      bool
	reason        string
	convergedTick int64

	messages      int
	announcements int
	floodSeen     map[topology.NodeID]int
}

// New creates a tracker over the given motes. timing selects the no-failure shape.
// acceptReports makes token reports count towards termination from the start; it is
// set when the run has no stop tick.
func New(profile protocol.Profile, nodes []topology.NodeID, timing, acceptReports bool) *Tracker {
	ns := make([]topology.NodeID, len(nodes))
	copy(ns, nodes)
	return &Tracker{
		profile:   profile,
		nodes:     ns,
		timing:    timing,
		accept:    acceptReports,
		tokens:    make(map[topology.NodeID]string, len(nodes)),
		reported:  make(map[topology.NodeID]bool, len(nodes)),
		covered:   make(map[topology.NodeID]bool, len(nodes)),
		floodSeen: make(map[topology.NodeID]int),
	}
}

// Count updates the traffic counters from one message and reports whether the
// coverage set grew.
func (t *Tracker) Count(node topology.NodeID, msg string) bool {
	if t.terminal {
		return false
	}
	if t.profile.MessageMarker != "" && strings.Contains(msg, t.profile.MessageMarker) {
		t.messages++
	}
	if t.profile.AnnouncementMarker != "" && strings.Contains(msg, t.profile.AnnouncementMarker) {
		t.announcements++
	}
	if t.profile.CoverageMarker != "" && strings.Contains(msg, t.profile.CoverageMarker) {
		return t.Cover(node)
	}
	return false
}

// FloodReady counts flood trigger markers logged by the source and returns true once,
// when the threshold is first reached.
func (t *Tracker) FloodReady(source, node topology.NodeID, msg string) bool {
	f := t.profile.Flood
	if f == nil || node != source || t.floodSeen[source] >= f.Count {
		return false
	}
	if !strings.Contains(msg, f.Marker) {
		return false
	}
	t.floodSeen[source]++
	return t.floodSeen[source] == f.Count
}

// Cover adds a mote to the coverage set.
func (t *Tracker) Cover(node topology.NodeID) bool {
	if t.covered[node] {
		return false
	}
	t.covered[node] = true
	return true
}

// Uncover removes a failed mote from the coverage set.
func (t *Tracker) Uncover(node topology.NodeID) bool {
	if !t.covered[node] {
		return false
	}
	delete(t.covered, node)
	return true
}

// Covered returns the size of the coverage set.
func (t *Tracker) Covered() int { return len(t.covered) }

// AcceptReports starts counting token reports towards termination.
func (t *Tracker) AcceptReports() { t.accept = true }

// Terminal reports whether the run is over.
func (t *Tracker) Terminal() bool { return t.terminal }

// Reason returns why the run ended, or "" while it is running.
func (t *Tracker) Reason() string { return t.reason }

// ConvergedTick returns the tick of the event that made the run terminal.
func (t *Tracker) ConvergedTick() int64 { return t.convergedTick }

// Reported returns the motes in the reported set, sorted.
func (t *Tracker) Reported() []topology.NodeID {
	out := make([]topology.NodeID, 0, len(t.reported))
	for id := range t.reported {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Token returns the last token recorded for a mote.
func (t *Tracker) Token(node topology.NodeID) (string, bool) {
	tok, ok := t.tokens[node]
	return tok, ok
}

// Observe feeds one message into the tracker. It returns true on the event that makes
// the run terminal and false before and after it.
func (t *Tracker) Observe(node topology.NodeID, msg string, now int64, failed func(topology.NodeID) bool) bool {
	if t.terminal {
		return false
	}
	if t.timing {
		return t.observeTiming(node, msg, now)
	}
	return t.observeToken(node, msg, now, failed)
}

func (t *Tracker) observeTiming(node topology.NodeID, msg string, now int64) bool {
	if !t.profile.Consistent(msg) {
		return false
	}
	t.reported[node] = true
	if _, ok := t.tokens[node]; !ok {
		t.tokens[node] = t.profile.ExpectedToken
	}
	switch {
	case len(t.reported) == len(t.nodes):
		t.finish(telemetry.ReasonConverged, now)
	case t.profile.SinkMarker != "" && strings.Contains(msg, t.profile.SinkMarker):
		t.finish(telemetry.ReasonSinkReceived, now)
	default:
		return false
	}
	return true
}

func (t *Tracker) observeToken(node topology.NodeID, msg string, now int64, failed func(topology.NodeID) bool) bool {
	tok, ok := t.profile.ParseToken(msg)
	if !ok {
		return false
	}
	if failed != nil && failed(node) {
		tok = protocol.NaN
	}
	t.tokens[node] = tok
	if !t.accept {
		return false
	}
	t.reported[node] = true
	if len(t.reported) == len(t.nodes) {
		t.finish(telemetry.ReasonConverged, now)
		return true
	}
	return false
}

func (t *Tracker) finish(reason string, tick int64) {
	t.terminal = true
	t.reason = reason
	t.convergedTick = tick
}

// Summary fills the measured part of the end-of-run report. Motes that never
// reported count as incorrect.
func (t *Tracker) Summary(crashes int, failedAtEnd []topology.NodeID) telemetry.SummaryRow {
	row := telemetry.SummaryRow{
		Protocol:      t.profile.Name,
		Reason:        t.reason,
		Converged:     t.terminal,
		ConvergedTick: t.convergedTick,
		Messages:      t.messages,
		Announcements: t.announcements,
		TotalCrashes:  crashes,
		FailedAtEnd:   make([]int, 0, len(failedAtEnd)),
		Correct:       make(map[int]bool, len(t.nodes)),
		Tokens:        make(map[int]string, len(t.tokens)),
		Incorrect:     []int{},
		Covered:       len(t.covered),
		Total:         len(t.nodes),
	}
	for _, id := range failedAtEnd {
		row.FailedAtEnd = append(row.FailedAtEnd, int(id))
	}
	for _, id := range t.nodes {
		tok, ok := t.tokens[id]
		if ok {
			row.Tokens[int(id)] = tok
		}
		good := ok && t.profile.Correct(tok)
		row.Correct[int(id)] = good
		if good {
			row.CorrectCount++
		} else {
			row.Incorrect = append(row.Incorrect, int(id))
		}
	}
	if len(t.nodes) > 0 {
		row.CoveragePct = float64(row.CorrectCount) / float64(len(t.nodes)) * 100
	}
	return row
}
