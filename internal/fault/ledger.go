package fault

import (
	"sort"

	"tpwsn-sim/internal/topology"
)

// FailureRecord tracks one failed mote until it is restarted.
type FailureRecord struct {
	Node      topology.NodeID `json:"node"`
	FailedAt  int64           `json:"failed_at"`
	RestartAt int64           `json:"restart_at"`
}

// Ledger is the per-run bookkeeping shared by the selector and the scheduler:
// the motes that may still be failed and the records of those currently down.
type Ledger struct {
	failable map[topology.NodeID]bool
	records  map[topology.NodeID]FailureRecord
}

// NewLedger creates a ledger where every given mote is failable.
func NewLedger(failable []topology.NodeID) *Ledger {
	l := &Ledger{
		failable: make(map[topology.NodeID]bool, len(failable)),
		records:  make(map[topology.NodeID]FailureRecord),
	}
	for _, id := range failable {
		l.failable[id] = true
	}
	return l
}

// Failable returns the motes eligible for failure, sorted.
func (l *Ledger) Failable() []topology.NodeID {
	out := make([]topology.NodeID, 0, len(l.failable))
	for id, ok := range l.failable {
		if ok {
			out = append(out, id)
		}
	}
	sortIDs(out)
	return out
}

// IsFailable reports whether id may be failed right now.
func (l *Ledger) IsFailable(id topology.NodeID) bool { return l.failable[id] }

// IsFailed reports whether id has an open failure record.
func (l *Ledger) IsFailed(id topology.NodeID) bool {
	_, ok := l.records[id]
	return ok
}

// Len returns the number of motes currently failed.
func (l *Ledger) Len() int { return len(l.records) }

// Records returns the open failure records ordered by node id.
func (l *Ledger) Records() []FailureRecord {
	out := make([]FailureRecord, 0, len(l.records))
	for _, r := range l.records {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Node < out[j].Node })
	return out
}

// FailedIDs returns the ids of motes currently failed, sorted.
func (l *Ledger) FailedIDs() []topology.NodeID {
	out := make([]topology.NodeID, 0, len(l.records))
	for id := range l.records {
		out = append(out, id)
	}
	sortIDs(out)
	return out
}

func (l *Ledger) open(r FailureRecord) {
	delete(l.failable, r.Node)
	l.records[r.Node] = r
}

func (l *Ledger) close(id topology.NodeID) {
	delete(l.records, id)
	l.failable[id] = true
}

func sortIDs(ids []topology.NodeID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}
