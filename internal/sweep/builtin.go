package sweep

import "tpwsn-sim/internal/fault"

func seq(from, to int) []int {
	out := make([]int, 0, to-from+1)
	for i := from; i <= to; i++ {
		out = append(out, i)
	}
	return out
}

func seq64(from, to int, scale int64) []int64 {
	out := make([]int64, 0, to-from+1)
	for i := from; i <= to; i++ {
		out = append(out, int64(i)*scale)
	}
	return out
}

// BuiltIn returns predefined sweeps over the 7x7 grid experiments. Recovery delays
// are whole seconds in Cooja ticks.
func BuiltIn() map[string]Sweep {
	return map[string]Sweep{
		"trickle-7x7": {
			Name:        "trickle-7x7",
			Description: "Trickle token dissemination with 1-15 simultaneous failures and 1-15 s recovery.",
			Repeats:     10,
			SeedBase:    12345678,
			Parallel:    8,
			Modes:       []fault.Mode{fault.ModeRandom, fault.ModeLocation},
			MaxFailures: seq(1, 15),
			Recovery:    seq64(1, 15, 1_000_000),
			IMin:        []int{16},
			IMax:        []int{10},
			K:           []int{2},
		},
		"rmh-7x7": {
			Name:        "rmh-7x7",
			Description: "Multihop flood under random, location and temporal failures.",
			Repeats:     10,
			SeedBase:    12345678,
			Parallel:    8,
			Modes:       []fault.Mode{fault.ModeRandom, fault.ModeLocation, fault.ModeTemporal},
			MaxFailures: []int{1, 3, 5, 10},
			Recovery:    seq64(1, 10, 1_000_000),
		},
	}
}
