package fault

import "tpwsn-sim/internal/topology"

// Scheduler brings failed motes back once their restart time has passed.
type Scheduler struct {
	graph  *topology.Graph
	ledger *Ledger
}

// NewScheduler creates a recovery scheduler over the shared ledger.
func NewScheduler(g *topology.Graph, l *Ledger) *Scheduler {
	return &Scheduler{graph: g, ledger: l}
}

// Tick restores every mote whose restart time is at or before now and returns their
// records in node order. Due motes are collected before any record is removed.
func (s *Scheduler) Tick(now int64) []FailureRecord {
	var due []FailureRecord
	for _, r := range s.ledger.Records() {
		if r.RestartAt <= now {
			due = append(due, r)
		}
	}
	for _, r := range due {
		s.graph.Restore(r.Node)
		s.ledger.close(r.Node)
	}
	return due
}
