// Static radio topology and the online-subgraph connectivity oracle
package topology

import (
	"math"
	"sort"
)

// NodeID identifies a mote for the lifetime of a run.
type NodeID int

// Position is a mote location in simulator units (metres in Cooja).
type Position struct {
	X float64 `yaml:"x" json:"x"`
	Y float64 `yaml:"y" json:"y"`
	Z float64 `yaml:"z" json:"z"`
}

// Distance returns the euclidean distance between two positions.
func (p Position) Distance(o Position) float64 {
	dx, dy, dz := p.X-o.X, p.Y-o.Y, p.Z-o.Z
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}

// Graph holds the fixed adjacency of a run and the set of motes currently online.
// Positions never change during a run so adjacency is computed once.
type Graph struct {
	nodes     []NodeID
	positions map[NodeID]Position
	adj       map[NodeID][]NodeID
	online    map[NodeID]bool
}

// New builds a graph where two motes are neighbours if they lie within txRange
// of each other. Every mote starts online.
func New(positions map[NodeID]Position, txRange float64) *Graph {
	g := &Graph{
		positions: make(map[NodeID]Position, len(positions)),
		adj:       make(map[NodeID][]NodeID, len(positions)),
		online:    make(map[NodeID]bool, len(positions)),
	}
	for id, p := range positions {
		g.nodes = append(g.nodes, id)
		g.positions[id] = p
		g.online[id] = true
	}
	sort.Slice(g.nodes, func(i, j int) bool { return g.nodes[i] < g.nodes[j] })

	for i, a := range g.nodes {
		for _, b := range g.nodes[i+1:] {
			if g.positions[a].Distance(g.positions[b]) <= txRange {
				g.adj[a] = append(g.adj[a], b)
				g.adj[b] = append(g.adj[b], a)
			}
		}
	}
	for id := range g.adj {
		sort.Slice(g.adj[id], func(i, j int) bool { return g.adj[id][i] < g.adj[id][j] })
	}
	return g
}

// Nodes returns every mote id in ascending order.
func (g *Graph) Nodes() []NodeID {
	out := make([]NodeID, len(g.nodes))
	copy(out, g.nodes)
	return out
}

// Len returns the number of motes.
func (g *Graph) Len() int { return len(g.nodes) }

// Has reports whether id belongs to the topology.
func (g *Graph) Has(id NodeID) bool {
	_, ok := g.positions[id]
	return ok
}

// Position returns the location of a mote.
func (g *Graph) Position(id NodeID) (Position, bool) {
	p, ok := g.positions[id]
	return p, ok
}

// Neighbors1Hop returns all motes in radio range of id, excluding id, sorted.
// Online state is ignored.
func (g *Graph) Neighbors1Hop(id NodeID) []NodeID {
	n := g.adj[id]
	out := make([]NodeID, len(n))
	copy(out, n)
	return out
}

// Online reports whether a mote is part of the online subgraph.
func (g *Graph) Online(id NodeID) bool { return g.online[id] }

// OnlineCount returns the number of online motes.
func (g *Graph) OnlineCount() int {
	n := 0
	for _, up := range g.online {
		if up {
			n++
		}
	}
	return n
}

// Toggle flips a mote between online and offline.
func (g *Graph) Toggle(id NodeID) {
	if !g.Has(id) {
		return
	}
	g.online[id] = !g.online[id]
}

// Restore marks a mote online. Restoring can only add connectivity so it is never checked.
func (g *Graph) Restore(id NodeID) {
	if g.Has(id) {
		g.online[id] = true
	}
}

// IsConnected reports whether the subgraph induced by the online motes is a single
// component. An empty online set counts as connected.
func (g *Graph) IsConnected() bool {
	var start NodeID
	found := false
	total := 0
	for _, id := range g.nodes {
		if g.online[id] {
			if !found {
				start, found = id, true
			}
			total++
		}
	}
	if !found {
		return true
	}

	seen := map[NodeID]bool{start: true}
	queue := []NodeID{start}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, nb := range g.adj[cur] {
			if g.online[nb] && !seen[nb] {
				seen[nb] = true
				queue = append(queue, nb)
			}
		}
	}
	return len(seen) == total
}

// TryFail takes an online mote offline only if the rest of the online subgraph stays
// connected. On rejection the graph is left exactly as it was.
func (g *Graph) TryFail(id NodeID) bool {
	if !g.online[id] {
		return false
	}
	g.Toggle(id)
	if g.IsConnected() {
		return true
	}
	g.Toggle(id)
	return false
}
