package trace

// TraceSummary aggregates statistics from a SimulationTrace.
type TraceSummary struct {
	TotalDispatches   int
	SkippedDispatches int
	Terminations      int
	Removals          int
	UniqueRegions     int
	EventDistribution map[string]int // event type → count of deliveries
	KindTerminations  map[string]int // activity kind → count of terminations
}

// Summarize computes aggregate statistics from a SimulationTrace.
// Safe for nil or empty traces (returns zero-value fields).
func Summarize(st *SimulationTrace) *TraceSummary {
	summary := &TraceSummary{
		EventDistribution: make(map[string]int),
		KindTerminations:  make(map[string]int),
	}
	if st == nil {
		return summary
	}

	regions := make(map[string]bool)
	summary.TotalDispatches = len(st.Dispatches)
	for _, d := range st.Dispatches {
		regions[d.RegionID] = true
		if d.Skipped {
			summary.SkippedDispatches++
			continue
		}
		summary.EventDistribution[d.EventType]++
	}

	summary.Terminations = len(st.Terminations)
	for _, t := range st.Terminations {
		regions[t.RegionID] = true
		summary.KindTerminations[t.ActivityKind]++
	}
	summary.Removals = len(st.Removals)
	summary.UniqueRegions = len(regions)

	return summary
}
