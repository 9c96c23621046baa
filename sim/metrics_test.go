package sim

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_CountAcrossAdvance(t *testing.T) {
	// GIVEN a region with a report behavior and a delayed event
	e := NewEngine()
	s := newTestState()
	addTestRegion(t, s, "field")
	_, err := e.AddBehavior(s, "field", &ReportBehaviorState{Interval: 1000})
	require.NoError(t, err)
	_, err = e.AddActivity(s, "field", &DelayEventActivityState{Event: Envelope(CollectInformationEvent{InformationType: InformationPatientCount}), EndTime: 1000})
	require.NoError(t, err)

	// WHEN two ticks run
	s = advanceN(t, e, s, 2)

	// THEN ticks and deliveries are counted
	assert.Equal(t, 2, e.Metrics.Ticks)
	assert.Greater(t, e.Metrics.EventsDispatched, 0)
	assert.GreaterOrEqual(t, e.Metrics.ActivitiesStarted, 1)
	assert.GreaterOrEqual(t, e.Metrics.ActivitiesTerminated, 1, "the delay activity finished")
	assert.Equal(t, int64(2000), s.CurrentTime)
}

func TestMetrics_Print(t *testing.T) {
	// GIVEN counters from a finished run
	m := NewMetrics()
	m.Ticks = 4
	m.EventsDispatched = 10
	m.ActivitiesStarted = 3
	m.ActivitiesTerminated = 2
	var buf bytes.Buffer

	// WHEN they are printed
	m.Print(&buf)

	// THEN every counter and the per-tick rate appear
	out := buf.String()
	assert.Contains(t, out, "=== Simulation Metrics ===")
	assert.Contains(t, out, "Ticks                 : 4")
	assert.Contains(t, out, "Events per Tick       : 2.50")
	assert.Contains(t, out, "Activities Terminated : 2")
}

func TestMetrics_Print_NoTicks_OmitsRate(t *testing.T) {
	var buf bytes.Buffer
	NewMetrics().Print(&buf)
	assert.NotContains(t, buf.String(), "Events per Tick")
}
