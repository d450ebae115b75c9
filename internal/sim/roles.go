package sim

import (
	"errors"
	"fmt"
	"math/rand"

	"tpwsn-sim/internal/topology"
)

// ErrNoRoles is returned when a distinct source and sink cannot be chosen.
var ErrNoRoles = errors.New("cannot choose distinct source and sink")

// maxRoleDraws bounds sink resampling.
const maxRoleDraws = 1000

// PickRoles draws the source uniformly, then resamples the sink until it differs.
func PickRoles(nodes []topology.NodeID, rng *rand.Rand) (source, sink topology.NodeID, err error) {
	if len(nodes) < 2 {
		return 0, 0, fmt.Errorf("%w: %d motes", ErrNoRoles, len(nodes))
	}
	source = nodes[rng.Intn(len(nodes))]
	for i := 0; i < maxRoleDraws; i++ {
		sink = nodes[rng.Intn(len(nodes))]
		if sink != source {
			return source, sink, nil
		}
	}
	return 0, 0, fmt.Errorf("%w: gave up after %d draws", ErrNoRoles, maxRoleDraws)
}
