// Tracks scheduler-wide counters for end-of-run reporting.

package sim

import (
	"fmt"
	"io"
)

// Metrics aggregates statistics about the scheduler for final reporting.
// Counters are per engine, not persisted with the snapshot.
type Metrics struct {
	Ticks                int // Number of completed Advance calls
	EventsDispatched     int // Event deliveries to known behaviors
	UnknownSkipped       int // Skipped behaviors, activities or events with unknown tags
	ActivitiesStarted    int
	ActivitiesTerminated int
	BehaviorsRemoved     int
}

// NewMetrics returns zeroed counters.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// Print writes the counters in the run summary format.
func (m *Metrics) Print(w io.Writer) {
	fmt.Fprintln(w, "=== Simulation Metrics ===")
	fmt.Fprintf(w, "Ticks                 : %d\n", m.Ticks)
	fmt.Fprintf(w, "Events Dispatched     : %d\n", m.EventsDispatched)
	if m.Ticks > 0 {
		fmt.Fprintf(w, "Events per Tick       : %.2f\n", float64(m.EventsDispatched)/float64(m.Ticks))
	}
	fmt.Fprintf(w, "Unknown Tags Skipped  : %d\n", m.UnknownSkipped)
	fmt.Fprintf(w, "Activities Started    : %d\n", m.ActivitiesStarted)
	fmt.Fprintf(w, "Activities Terminated : %d\n", m.ActivitiesTerminated)
	fmt.Fprintf(w, "Behaviors Removed     : %d\n", m.BehaviorsRemoved)
}
