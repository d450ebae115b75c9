package sweep

import (
	"sort"

	"tpwsn-sim/internal/telemetry"
)

// Aggregate summarises every repeat of one parameter combination.
type Aggregate struct {
	Key               string  `yaml:"key" json:"key"`
	Point             Point   `yaml:"point" json:"point"`
	Runs              int     `yaml:"runs" json:"runs"`
	Converged         int     `yaml:"converged" json:"converged"`
	MeanCoveragePct   float64 `yaml:"mean_coverage_pct" json:"mean_coverage_pct"`
	MeanMessages      float64 `yaml:"mean_messages" json:"mean_messages"`
	MeanCrashes       float64 `yaml:"mean_crashes" json:"mean_crashes"`
	MeanConvergedTick float64 `yaml:"mean_converged_tick,omitempty" json:"mean_converged_tick,omitempty"`
}

// AggregateResults groups results by Point.Key, sorted by key.
func AggregateResults(results []Result) []Aggregate {
	byKey := make(map[string]*Aggregate)
	ticks := make(map[string]int)
	for _, r := range results {
		k := r.Point.Key()
		a, ok := byKey[k]
		if !ok {
			p := r.Point
			p.Run = 0
			a = &Aggregate{Key: k, Point: p}
			byKey[k] = a
		}
		s := r.Summary
		a.Runs++
		a.MeanCoveragePct += s.CoveragePct
		a.MeanMessages += float64(s.Messages)
		a.MeanCrashes += float64(s.TotalCrashes)
		if s.Converged {
			a.Converged++
			if s.ConvergedTick > 0 {
				a.MeanConvergedTick += float64(s.ConvergedTick)
				ticks[k]++
			}
		}
	}
	out := make([]Aggregate, 0, len(byKey))
	for k, a := range byKey {
		n := float64(a.Runs)
		a.MeanCoveragePct /= n
		a.MeanMessages /= n
		a.MeanCrashes /= n
		if ticks[k] > 0 {
			a.MeanConvergedTick /= float64(ticks[k])
		}
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Summaries extracts the summaries of results.
func Summaries(results []Result) []telemetry.SummaryRow {
	out := make([]telemetry.SummaryRow, len(results))
	for i, r := range results {
		out[i] = r.Summary
	}
	return out
}
