package topology

// Grid lays out size*size motes on a square grid with the given spacing.
// Ids start at 1, row-major, matching the mote numbering of Cooja sim files.
func Grid(size int, spacing float64) map[NodeID]Position {
	out := make(map[NodeID]Position, size*size)
	for i := 0; i < size*size; i++ {
		out[NodeID(i+1)] = Position{
			X: spacing * float64(i%size),
			Y: spacing * float64(i/size),
		}
	}
	return out
}

// Line lays out n motes along the x axis, ids 1..n.
func Line(n int, spacing float64) map[NodeID]Position {
	out := make(map[NodeID]Position, n)
	for i := 0; i < n; i++ {
		out[NodeID(i+1)] = Position{X: spacing * float64(i)}
	}
	return out
}
