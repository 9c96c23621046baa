package sim

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/exercise-sim/exercise-sim/sim/trace"
)

// recordingBehavior records what it observes so tests can check dispatch order.
type recordingBehavior struct {
	BehaviorBase
	Publish     bool     `json:"publish"`
	SelfSend    bool     `json:"selfSend"`
	CrossSendTo string   `json:"crossSendTo,omitempty"`
	Observed    []string `json:"observed"`
}

func (*recordingBehavior) BehaviorKind() string { return "recordingBehavior" }

func handleRecording(ctx *TickContext, b *recordingBehavior, event Event) error {
	switch ev := event.(type) {
	case NewPatientEvent:
		b.Observed = append(b.Observed, fmt.Sprintf("%s@%d", ev.PatientID, len(ctx.State.Radiograms)))
		if b.Publish {
			ctx.State.publishRadiogram(&Radiogram{Type: RadiogramPatientCount, SimulatedRegionID: ctx.Region.ID})
		}
	case TickEvent:
		b.Observed = append(b.Observed, fmt.Sprintf("tick@%d", ctx.Now()))
		if b.SelfSend {
			ctx.SendLocalEvent(NewPatientEvent{PatientID: "self"})
		}
		if b.CrossSendTo != "" {
			return ctx.SendEvent(b.CrossSendTo, NewPatientEvent{PatientID: "from-" + ctx.Region.ID})
		}
	}
	return nil
}

func removeRecording(ctx *TickContext, b *recordingBehavior) error {
	ctx.State.publishRadiogram(&Radiogram{Type: RadiogramPatientCount, Key: "removed-" + b.ID, SimulatedRegionID: ctx.Region.ID})
	return nil
}

// failingBehavior looks up a vehicle that does not exist.
type failingBehavior struct {
	BehaviorBase
}

func (*failingBehavior) BehaviorKind() string { return "failingBehavior" }

func handleFailing(ctx *TickContext, _ *failingBehavior, event Event) error {
	if _, ok := event.(TickEvent); !ok {
		return nil
	}
	ctx.State.publishRadiogram(&Radiogram{Type: RadiogramPatientCount, SimulatedRegionID: ctx.Region.ID})
	_, err := ctx.State.Vehicle("missing")
	return err
}

// detachingBehavior removes Target from its region on the first tick.
type detachingBehavior struct {
	BehaviorBase
	Target string `json:"target"`
}

func (*detachingBehavior) BehaviorKind() string { return "detachingBehavior" }

func handleDetaching(ctx *TickContext, b *detachingBehavior, event Event) error {
	if _, ok := event.(TickEvent); !ok || b.Target == "" {
		return nil
	}
	target := b.Target
	b.Target = ""
	return ctx.engine.RemoveBehavior(ctx.State, ctx.Region.ID, target)
}

// countdownActivity terminates after Remaining ticks, calling terminate
// twice to prove the cleanup still runs once.
type countdownActivity struct {
	ActivityBase
	Remaining int `json:"remaining"`
}

func (*countdownActivity) ActivityKind() string { return "countdownActivity" }

func tickCountdown(ctx *TickContext, a *countdownActivity, _ int64, terminate func()) error {
	a.Remaining--
	if a.Remaining > 0 {
		return nil
	}
	terminate()
	terminate()
	return ctx.TerminateActivity(a.ID)
}

func cleanupCountdown(ctx *TickContext, a *countdownActivity) error {
	ctx.State.publishRadiogram(&Radiogram{Type: RadiogramPatientCount, Key: "cleanup-" + a.ID, SimulatedRegionID: ctx.Region.ID})
	return nil
}

var (
	recordingBehaviors = NewBehaviorRegistry(
		DefineBehavior[recordingBehavior](handleRecording, removeRecording),
		DefineBehavior[failingBehavior](handleFailing, nil),
		DefineBehavior[detachingBehavior](handleDetaching, nil),
	)
	recordingActivities = NewActivityRegistry(DefineActivity[countdownActivity](tickCountdown, cleanupCountdown))
)

func newRecordingEngine(opts ...EngineOption) *Engine {
	return NewEngine(append([]EngineOption{WithBehaviors(recordingBehaviors), WithActivities(recordingActivities)}, opts...)...)
}

func recorderIn(t *testing.T, s *ExerciseState, regionID, behaviorID string) *recordingBehavior {
	t.Helper()
	for _, b := range s.SimulatedRegions[regionID].Behaviors {
		if b.BehaviorID() == behaviorID {
			return b.(*recordingBehavior)
		}
	}
	t.Fatalf("behavior %s not found in region %s", behaviorID, regionID)
	return nil
}

func radiogramKeys(s *ExerciseState) []string {
	var keys []string
	for _, id := range sortedKeys(s.Radiograms) {
		keys = append(keys, s.Radiograms[id].Key)
	}
	return keys
}

func TestAdvance_DispatchIsBehaviorMajor(t *testing.T) {
	// GIVEN a region with behaviors [B1, B2] and queued events [E1, E2]
	st := trace.NewSimulationTrace(trace.TraceConfig{Level: trace.TraceLevelDispatch})
	e := newRecordingEngine(WithTrace(st))
	s := newTestState()
	addTestRegion(t, s, "r")
	_, err := e.AddBehavior(s, "r", &recordingBehavior{BehaviorBase: BehaviorBase{ID: "b1"}, Publish: true})
	require.NoError(t, err)
	_, err = e.AddBehavior(s, "r", &recordingBehavior{BehaviorBase: BehaviorBase{ID: "b2"}})
	require.NoError(t, err)
	require.NoError(t, SendSimulationEvent(s, "r", NewPatientEvent{PatientID: "e1"}))
	require.NoError(t, SendSimulationEvent(s, "r", NewPatientEvent{PatientID: "e2"}))

	// WHEN the simulation advances
	next, err := e.Advance(s, 1000)
	require.NoError(t, err)

	// THEN B1 sees E1 then E2 (and the tick) before B2 sees anything
	var order []string
	for _, d := range st.Dispatches {
		order = append(order, d.BehaviorID+":"+d.EventType)
	}
	assert.Equal(t, []string{
		"b1:newPatientEvent", "b1:newPatientEvent", "b1:tickEvent",
		"b2:newPatientEvent", "b2:newPatientEvent", "b2:tickEvent",
	}, order)

	// AND B2 observes every mutation B1 made while handling the queue
	assert.Equal(t, []string{"e1@0", "e2@1", "tick@1000"}, recorderIn(t, next, "r", "b1").Observed)
	assert.Equal(t, []string{"e1@2", "e2@2", "tick@1000"}, recorderIn(t, next, "r", "b2").Observed)

	// AND the queue is empty at rest
	assert.Empty(t, next.SimulatedRegions["r"].InEvents)
}

func TestAdvance_SelfSentEvents_AreDeferredToNextPass(t *testing.T) {
	e := newRecordingEngine()
	s := newTestState()
	addTestRegion(t, s, "r")
	_, err := e.AddBehavior(s, "r", &recordingBehavior{BehaviorBase: BehaviorBase{ID: "b1"}, SelfSend: true})
	require.NoError(t, err)
	_, err = e.AddBehavior(s, "r", &recordingBehavior{BehaviorBase: BehaviorBase{ID: "b2"}})
	require.NoError(t, err)

	// WHEN one tick runs
	first, err := e.Advance(s, 1000)
	require.NoError(t, err)

	// THEN neither behavior has seen the self-sent event yet; it waits in the queue
	assert.Equal(t, []string{"tick@1000"}, recorderIn(t, first, "r", "b2").Observed)
	require.Len(t, first.SimulatedRegions["r"].InEvents, 1)

	// WHEN the next tick runs
	second, err := e.Advance(first, 1000)
	require.NoError(t, err)

	// THEN both see it ahead of the new tick
	assert.Equal(t, []string{"tick@1000", "self@0", "tick@2000"}, recorderIn(t, second, "r", "b2").Observed)
}

func TestAdvance_CrossRegionEvents_VisibleLaterInSweepOrNextTick(t *testing.T) {
	// GIVEN regions a < b (sweep order) sending each other an event on every tick
	e := newRecordingEngine()
	s := newTestState()
	addTestRegion(t, s, "a")
	addTestRegion(t, s, "b")
	_, err := e.AddBehavior(s, "a", &recordingBehavior{BehaviorBase: BehaviorBase{ID: "pa"}, CrossSendTo: "b"})
	require.NoError(t, err)
	_, err = e.AddBehavior(s, "b", &recordingBehavior{BehaviorBase: BehaviorBase{ID: "pb"}, CrossSendTo: "a"})
	require.NoError(t, err)

	// WHEN one tick runs
	next, err := e.Advance(s, 1000)
	require.NoError(t, err)

	// THEN b, swept after a, already saw a's event; a only gets b's next tick
	assert.Equal(t, []string{"from-a@0", "tick@1000"}, recorderIn(t, next, "b", "pb").Observed)
	assert.Equal(t, []string{"tick@1000"}, recorderIn(t, next, "a", "pa").Observed)
	require.Len(t, next.SimulatedRegions["a"].InEvents, 1)

	next, err = e.Advance(next, 1000)
	require.NoError(t, err)
	assert.Equal(t, []string{"tick@1000", "from-b@0", "tick@2000"}, recorderIn(t, next, "a", "pa").Observed)
}

func TestAdvance_HandlerError_DiscardsDraft(t *testing.T) {
	// GIVEN a behavior that mutates the world and then fails a lookup
	e := newRecordingEngine()
	s := newTestState()
	addTestRegion(t, s, "r")
	_, err := e.AddBehavior(s, "r", &failingBehavior{BehaviorBase: BehaviorBase{ID: "f"}})
	require.NoError(t, err)
	before, err := Digest(s)
	require.NoError(t, err)

	// WHEN the simulation advances
	next, err := e.Advance(s, 1000)

	// THEN the missing-element error surfaces and the previous snapshot is returned untouched
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrElementNotFound))
	var notFound *ElementNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, KindVehicle, notFound.Kind)
	assert.Same(t, s, next)
	after, err := Digest(s)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Empty(t, s.Radiograms)
	assert.Equal(t, int64(0), s.CurrentTime)
}

func TestAdvance_HandlerError_RollsBackMetrics(t *testing.T) {
	// GIVEN an engine that has already counted one successful tick
	e := newRecordingEngine()
	s := newTestState()
	addTestRegion(t, s, "r")
	_, err := e.AddBehavior(s, "r", &recordingBehavior{BehaviorBase: BehaviorBase{ID: "rec"}})
	require.NoError(t, err)
	s, err = e.Advance(s, 1000)
	require.NoError(t, err)
	_, err = e.AddBehavior(s, "r", &failingBehavior{BehaviorBase: BehaviorBase{ID: "f"}})
	require.NoError(t, err)
	counted := *e.Metrics
	require.Equal(t, 1, counted.Ticks)

	// WHEN a tick dispatches to the recorder and then fails in the next behavior
	next, err := e.Advance(s, 1000)

	// THEN the discarded draft leaves no trace in the counters
	require.Error(t, err)
	assert.Same(t, s, next)
	assert.Equal(t, counted, *e.Metrics)
}

func TestAdvance_BehaviorDetachedMidPass_GetsNoEvents(t *testing.T) {
	// GIVEN a behavior that detaches the one after it on the first tick
	st := trace.NewSimulationTrace(trace.TraceConfig{Level: trace.TraceLevelDispatch})
	e := newRecordingEngine(WithTrace(st))
	s := newTestState()
	addTestRegion(t, s, "r")
	_, err := e.AddBehavior(s, "r", &detachingBehavior{BehaviorBase: BehaviorBase{ID: "a"}, Target: "b"})
	require.NoError(t, err)
	_, err = e.AddBehavior(s, "r", &recordingBehavior{BehaviorBase: BehaviorBase{ID: "b"}})
	require.NoError(t, err)

	// WHEN the simulation advances
	next, err := e.Advance(s, 1000)

	// THEN the detached behavior sees nothing and its hook ran once
	require.NoError(t, err)
	for _, d := range st.Dispatches {
		assert.NotEqual(t, "b", d.BehaviorID, "dispatched %s to a detached behavior", d.EventType)
	}
	require.Len(t, next.SimulatedRegions["r"].Behaviors, 1)
	assert.Equal(t, "a", next.SimulatedRegions["r"].Behaviors[0].BehaviorID())
	assert.Equal(t, []string{"removed-b"}, radiogramKeys(next))
	assert.Equal(t, 1, e.Metrics.BehaviorsRemoved)
}

func TestAdvance_NegativeInterval_Rejected(t *testing.T) {
	s := newTestState()
	next, err := NewEngine().Advance(s, -1)
	assert.Error(t, err)
	assert.Same(t, s, next)
}

func TestAdvance_ActivityTermination_CleanupRunsOnce(t *testing.T) {
	st := trace.NewSimulationTrace(trace.TraceConfig{Level: trace.TraceLevelDispatch})
	e := newRecordingEngine(WithTrace(st))
	s := newTestState()
	addTestRegion(t, s, "r")
	id, err := e.AddActivity(s, "r", &countdownActivity{Remaining: 2})
	require.NoError(t, err)

	next, err := e.Advance(s, 1000)
	require.NoError(t, err)
	require.Contains(t, next.SimulatedRegions["r"].Activities, id)
	assert.Empty(t, next.Radiograms)

	next, err = e.Advance(next, 1000)
	require.NoError(t, err)
	assert.NotContains(t, next.SimulatedRegions["r"].Activities, id)
	assert.Equal(t, []string{"cleanup-" + id}, radiogramKeys(next))
	require.Len(t, st.Terminations, 1)
	assert.Equal(t, 1, e.Metrics.ActivitiesTerminated)

	// Nothing more happens afterwards
	next, err = e.Advance(next, 1000)
	require.NoError(t, err)
	assert.Len(t, next.Radiograms, 1)
}

func TestTerminateActivity_External(t *testing.T) {
	e := newRecordingEngine()
	s := newTestState()
	addTestRegion(t, s, "r")
	id, err := e.AddActivity(s, "r", &countdownActivity{Remaining: 100})
	require.NoError(t, err)

	require.NoError(t, e.TerminateActivity(s, "r", id))
	assert.Equal(t, []string{"cleanup-" + id}, radiogramKeys(s))
	assert.ErrorIs(t, e.TerminateActivity(s, "r", id), ErrElementNotFound)
}

func TestRemoveBehavior_RunsHookOnce(t *testing.T) {
	e := newRecordingEngine()
	s := newTestState()
	addTestRegion(t, s, "r")
	id, err := e.AddBehavior(s, "r", &recordingBehavior{})
	require.NoError(t, err)
	assert.NotEmpty(t, id, "empty ids are generated")

	require.NoError(t, e.RemoveBehavior(s, "r", id))
	assert.Empty(t, s.SimulatedRegions["r"].Behaviors)
	assert.Equal(t, []string{"removed-" + id}, radiogramKeys(s))

	assert.ErrorIs(t, e.RemoveBehavior(s, "r", id), ErrElementNotFound)
	assert.Len(t, s.Radiograms, 1)
}

func TestAddBehavior_DuplicateID_Rejected(t *testing.T) {
	e := newRecordingEngine()
	s := newTestState()
	addTestRegion(t, s, "r")
	_, err := e.AddBehavior(s, "r", &recordingBehavior{BehaviorBase: BehaviorBase{ID: "b"}})
	require.NoError(t, err)
	_, err = e.AddBehavior(s, "r", &recordingBehavior{BehaviorBase: BehaviorBase{ID: "b"}})
	assert.Error(t, err)
	_, err = e.AddBehavior(s, "nowhere", &recordingBehavior{})
	assert.ErrorIs(t, err, ErrElementNotFound)
}

func TestAdvance_UnknownTags_AreSkippedAndPreserved(t *testing.T) {
	// GIVEN a region carrying a behavior, an activity and an event from a newer build
	e := newRecordingEngine()
	s := newTestState()
	r := addTestRegion(t, s, "r")
	_, err := e.AddBehavior(s, "r", &recordingBehavior{BehaviorBase: BehaviorBase{ID: "known"}})
	require.NoError(t, err)
	futureBehavior := `{"type":"futureBehavior","id":"fb","knob":3}`
	futureActivity := `{"type":"futureActivity","id":"fa","left":2}`
	r.Behaviors = append([]BehaviorState{&UnknownBehavior{BehaviorBase: BehaviorBase{ID: "fb"}, Kind: "futureBehavior", Raw: json.RawMessage(futureBehavior)}}, r.Behaviors...)
	r.Activities["fa"] = &UnknownActivity{ActivityBase: ActivityBase{ID: "fa"}, Kind: "futureActivity", Raw: json.RawMessage(futureActivity)}
	require.NoError(t, SendSimulationEvent(s, "r", UnknownEvent{Type: "futureEvent", Raw: json.RawMessage(`{"type":"futureEvent"}`)}))

	// WHEN the simulation advances
	next, err := e.Advance(s, 500)

	// THEN nothing fails, known behaviors still run, unknown state survives verbatim
	require.NoError(t, err)
	assert.Equal(t, []string{"tick@500"}, recorderIn(t, next, "r", "known").Observed)
	region := next.SimulatedRegions["r"]
	require.Len(t, region.Behaviors, 2)
	raw, err := encodeBehavior(region.Behaviors[0])
	require.NoError(t, err)
	assert.JSONEq(t, futureBehavior, string(raw))
	require.Contains(t, region.Activities, "fa")
	raw, err = encodeActivity(region.Activities["fa"])
	require.NoError(t, err)
	assert.JSONEq(t, futureActivity, string(raw))
	// behavior skipped once, the event skipped for the known behavior, activity skipped once
	assert.Equal(t, 3, e.Metrics.UnknownSkipped)
}

func TestAdvance_IdsAndRandomness_AreReproducible(t *testing.T) {
	build := func() *ExerciseState {
		s := newTestState()
		addTestRegion(t, s, "r")
		return s
	}
	run := func(s *ExerciseState) *ExerciseState {
		e := newRecordingEngine()
		for i := 0; i < 3; i++ {
			_, err := e.AddActivity(s, "r", &countdownActivity{Remaining: i + 1})
			require.NoError(t, err)
		}
		for i := 0; i < 4; i++ {
			var err error
			s, err = e.Advance(s, 250)
			require.NoError(t, err)
		}
		return s
	}
	a, b := run(build()), run(build())
	da, err := Digest(a)
	require.NoError(t, err)
	db, err := Digest(b)
	require.NoError(t, err)
	assert.Equal(t, da, db)
	assert.Equal(t, radiogramKeys(a), radiogramKeys(b))
}

func TestNewBehaviorRegistry_DuplicateKind_Panics(t *testing.T) {
	def := DefineBehavior[recordingBehavior](handleRecording, nil)
	assert.Panics(t, func() { NewBehaviorRegistry(def, def) })
	assert.Panics(t, func() { NewBehaviorRegistry(BehaviorDefinition{Kind: "incomplete"}) })

	act := DefineActivity[countdownActivity](tickCountdown, nil)
	assert.Panics(t, func() { NewActivityRegistry(act, act) })
}

func TestDefaultRegistries_CoverCatalogue(t *testing.T) {
	assert.Equal(t, []string{
		BehaviorAnswerRequests, BehaviorPatientTransportDemand, BehaviorReport,
		BehaviorRequestVehicles, BehaviorTransfer, BehaviorUnloadArrivingVehicles,
	}, DefaultBehaviors.Kinds())
	assert.Equal(t, []string{
		ActivityCreateRequest, ActivityDelayEvent, ActivityRecurringEvent,
		ActivitySendRemoteEvent, ActivityTransferVehicle, ActivityUnloadVehicle,
	}, DefaultActivities.Kinds())
}
