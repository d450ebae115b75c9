// Boundary to the network simulator: mote output in, firmware commands out
package host

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"tpwsn-sim/internal/topology"
)

// Event is one line of mote output delivered by the simulator.
type Event struct {
	Node topology.NodeID `json:"node"`
	Time int64           `json:"time"`
	Msg  string          `json:"msg"`
}

// Source yields mote output in simulated time order. Next returns io.EOF once the
// simulator has no more events.
type Source interface {
	Next(ctx context.Context) (Event, error)
}

// Commander delivers a text command to a mote's firmware.
type Commander interface {
	Send(node topology.NodeID, text string) error
}

// Terminator ends the simulation.
type Terminator interface {
	Terminate(ctx context.Context, reason string) error
}

// Host is a full simulator connection.
type Host interface {
	Source
	Commander
	Terminator
}

// ErrMalformed is returned for input lines that cannot be parsed.
var ErrMalformed = errors.New("malformed event line")

// ParseTraceLine parses "time;node;message". Cooja LogListener lines in the form
// "time<TAB>ID:node<TAB>message" are accepted as well.
func ParseTraceLine(line string) (Event, error) {
	if strings.Contains(line, "\tID:") {
		parts := strings.SplitN(line, "\t", 3)
		if len(parts) == 3 {
			parts[1] = strings.TrimPrefix(parts[1], "ID:")
			return buildEvent(parts[0], parts[1], parts[2], line)
		}
	}
	parts := strings.SplitN(line, ";", 3)
	if len(parts) != 3 {
		return Event{}, fmt.Errorf("%w: %q", ErrMalformed, line)
	}
	return buildEvent(parts[0], parts[1], parts[2], line)
}

func buildEvent(ts, node, msg, line string) (Event, error) {
	t, err := strconv.ParseInt(strings.TrimSpace(ts), 10, 64)
	if err != nil {
		return Event{}, fmt.Errorf("%w: bad time in %q", ErrMalformed, line)
	}
	n, err := strconv.Atoi(strings.TrimSpace(node))
	if err != nil {
		return Event{}, fmt.Errorf("%w: bad node in %q", ErrMalformed, line)
	}
	return Event{Node: topology.NodeID(n), Time: t, Msg: msg}, nil
}
