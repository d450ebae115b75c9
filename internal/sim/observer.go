package sim

import (
	"tpwsn-sim/internal/fault"
	"tpwsn-sim/internal/telemetry"
	"tpwsn-sim/internal/topology"
)

// Status is a point-in-time view of a run.
type Status struct {
	RunID       string                `json:"run_id"`
	Protocol    string                `json:"protocol"`
	FailureMode string                `json:"failure_mode"`
	Phase       string                `json:"phase"`
	Tick        int64                 `json:"tick"`
	Events      int                   `json:"events"`
	Source      int                   `json:"source"`
	Sink        int                   `json:"sink"`
	Failed      []fault.FailureRecord `json:"failed"`
	Crashes     int                   `json:"crashes"`
	Reported    int                   `json:"reported"`
	Covered     int                   `json:"covered"`
	Online      int                   `json:"online"`
	Total       int                   `json:"total"`
	Summary     *telemetry.SummaryRow `json:"summary,omitempty"`
}

// NodeState describes one mote for the topology view.
type NodeState struct {
	ID        int               `json:"id"`
	Position  topology.Position `json:"position"`
	Online    bool              `json:"online"`
	Role      string            `json:"role,omitempty"`
	Neighbors []int             `json:"neighbors"`
}

// Snapshot returns the current run status.
func (c *Controller) Snapshot() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := Status{
		RunID:       c.runID,
		Protocol:    c.profile.Name,
		FailureMode: c.cfg.FailureMode.String(),
		Phase:       c.phase.String(),
		Tick:        c.now,
		Events:      c.events,
		Source:      int(c.source),
		Sink:        int(c.sink),
		Failed:      c.ledger.Records(),
		Crashes:     c.sel.Crashes(),
		Reported:    len(c.tracker.Reported()),
		Covered:     c.tracker.Covered(),
		Online:      c.graph.OnlineCount(),
		Total:       c.graph.Len(),
	}
	if c.summary != nil {
		s := *c.summary
		st.Summary = &s
	}
	return st
}

// Summary returns the end-of-run report, or a report of the state so far while the
// run is still going.
func (c *Controller) Summary() telemetry.SummaryRow {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.summary != nil {
		return *c.summary
	}
	row := c.tracker.Summary(c.sel.Crashes(), c.ledger.FailedIDs())
	row.RunID = c.runID
	row.EndTick = c.now
	return row
}

// Topology lists every mote with its position, health and 1-hop neighbours.
func (c *Controller) Topology() []NodeState {
	c.mu.Lock()
	defer c.mu.Unlock()
	nodes := c.graph.Nodes()
	out := make([]NodeState, 0, len(nodes))
	for _, id := range nodes {
		pos, _ := c.graph.Position(id)
		ns := NodeState{ID: int(id), Position: pos, Online: c.graph.Online(id)}
		switch id {
		case c.source:
			ns.Role = "source"
		case c.sink:
			ns.Role = "sink"
		}
		for _, nb := range c.graph.Neighbors1Hop(id) {
			ns.Neighbors = append(ns.Neighbors, int(nb))
		}
		out = append(out, ns)
	}
	return out
}

// Done reports whether the run is over.
func (c *Controller) Done() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase == PhaseDone
}
