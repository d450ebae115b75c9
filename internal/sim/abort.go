package sim

import (
	"errors"
	"fmt"

	"tpwsn-sim/internal/topology"
)

// Invariant violations detected after an event.
var (
	ErrPartitioned     = errors.New("online network is partitioned")
	ErrTooManyFailures = errors.New("failure budget exceeded")
)

// AbortError stops a run. It carries the controller state at the failing event.
type AbortError struct {
	Tick     int64
	Node     topology.NodeID
	Msg      string
	Failed   []topology.NodeID
	Reported []topology.NodeID
	Err      error
}

func (e *AbortError) Error() string {
	return fmt.Sprintf("run aborted at tick %d (node %d, %q): %v; failed=%v reported=%d",
		e.Tick, e.Node, e.Msg, e.Err, e.Failed, len(e.Reported))
}

func (e *AbortError) Unwrap() error { return e.Err }
