package sim

import (
	"errors"
	"fmt"
	"slices"

	"github.com/sirupsen/logrus"

	"github.com/exercise-sim/exercise-sim/sim/trace"
)

// Engine advances exercise snapshots. It holds no world state of its own:
// every operation maps a previous snapshot to a new one.
//
// Thread-safety: NOT thread-safe. Must be called from single goroutine.
type Engine struct {
	behaviors  *BehaviorRegistry
	activities *ActivityRegistry
	codec      Codec
	trace      *trace.SimulationTrace // nil when tracing is disabled
	Metrics    *Metrics
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithBehaviors replaces the default behavior registry.
func WithBehaviors(r *BehaviorRegistry) EngineOption {
	return func(e *Engine) { e.behaviors = r }
}

// WithActivities replaces the default activity registry.
func WithActivities(r *ActivityRegistry) EngineOption {
	return func(e *Engine) { e.activities = r }
}

// WithTrace records every dispatch, termination and removal into st.
func WithTrace(st *trace.SimulationTrace) EngineOption {
	return func(e *Engine) { e.trace = st }
}

// NewEngine returns an engine using the default catalogue unless overridden.
func NewEngine(opts ...EngineOption) *Engine {
	e := &Engine{
		behaviors:  DefaultBehaviors,
		activities: DefaultActivities,
		Metrics:    NewMetrics(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.codec = NewCodec(e.behaviors, e.activities)
	return e
}

// Codec returns the codec bound to this engine's registries.
func (e *Engine) Codec() Codec { return e.codec }

// Trace returns the attached trace, or nil.
func (e *Engine) Trace() *trace.SimulationTrace { return e.trace }

// Clone returns an independent copy of state.
func (e *Engine) Clone(state *ExerciseState) (*ExerciseState, error) {
	return e.codec.Clone(state)
}

// Apply runs mutate against a draft copy of prev. On error the draft is
// discarded, along with the metrics it counted, and prev is returned
// unchanged alongside the error.
func (e *Engine) Apply(prev *ExerciseState, mutate func(draft *ExerciseState) error) (*ExerciseState, error) {
	draft, err := e.Clone(prev)
	if err != nil {
		return prev, err
	}
	counted := *e.Metrics
	if err := mutate(draft); err != nil {
		// Counters only reflect snapshots that were kept.
		*e.Metrics = counted
		return prev, err
	}
	return draft, nil
}

// Advance is the "advance simulation" operation: it moves the clock by
// tickInterval milliseconds and runs one scheduling pass over every region,
// in ascending region id order.
func (e *Engine) Advance(prev *ExerciseState, tickInterval int64) (*ExerciseState, error) {
	if tickInterval < 0 {
		return prev, fmt.Errorf("tick interval must be >= 0, got %d", tickInterval)
	}
	return e.Apply(prev, func(draft *ExerciseState) error {
		draft.CurrentTime += tickInterval
		for _, id := range sortedKeys(draft.SimulatedRegions) {
			if err := e.tickRegion(draft, draft.SimulatedRegions[id], tickInterval); err != nil {
				return fmt.Errorf("simulated region %s at t=%d: %w", id, draft.CurrentTime, err)
			}
		}
		e.Metrics.Ticks++
		logrus.Infof("[t=%09d] advanced %d simulated region(s)", draft.CurrentTime, len(draft.SimulatedRegions))
		return nil
	})
}

// tickRegion runs one pass of a region: push a tick event, dispatch the queue
// behavior-major, then step every activity.
//
// The queue is taken when the pass starts. Events sent to the region while
// the pass runs, including ones it sends itself, wait for the next pass.
func (e *Engine) tickRegion(draft *ExerciseState, region *SimulatedRegion, tickInterval int64) error {
	region.InEvents = append(region.InEvents, TickEvent{TickInterval: tickInterval})
	events := region.InEvents
	region.InEvents = nil
	ctx := &TickContext{State: draft, Region: region, engine: e}

	for _, b := range slices.Clone(region.Behaviors) {
		if !slices.Contains(region.Behaviors, b) {
			// Detached by an earlier behavior in this pass.
			continue
		}
		if err := e.dispatch(ctx, b, events); err != nil {
			return err
		}
	}

	for _, id := range sortedKeys(region.Activities) {
		a, ok := region.Activities[id]
		if !ok {
			// Terminated earlier in this pass.
			continue
		}
		def, ok := e.activities.Lookup(a.ActivityKind())
		if !ok {
			e.Metrics.UnknownSkipped++
			logrus.Warnf("skipping activity %s of unknown kind %q in region %s", id, a.ActivityKind(), region.ID)
			continue
		}
		terminated := false
		if err := def.Tick(ctx, a, tickInterval, func() { terminated = true }); err != nil {
			return fmt.Errorf("activity %s (%s): %w", id, def.Kind, err)
		}
		if terminated {
			if err := e.terminateActivity(ctx, id); err != nil {
				return err
			}
		}
	}
	return nil
}

// dispatch replays events in order to one behavior.
func (e *Engine) dispatch(ctx *TickContext, b BehaviorState, events []Event) error {
	def, ok := e.behaviors.Lookup(b.BehaviorKind())
	if !ok {
		e.Metrics.UnknownSkipped++
		logrus.Warnf("skipping behavior %s of unknown kind %q in region %s", b.BehaviorID(), b.BehaviorKind(), ctx.Region.ID)
		e.recordDispatch(ctx, b, "", true)
		return nil
	}
	for _, ev := range events {
		if _, unknown := ev.(UnknownEvent); unknown {
			e.Metrics.UnknownSkipped++
			logrus.Debugf("skipping event of unknown type %q for behavior %s", ev.EventType(), b.BehaviorID())
			e.recordDispatch(ctx, b, ev.EventType(), true)
			continue
		}
		logrus.Debugf("dispatch %s -> %s (%s)", ev.EventType(), b.BehaviorID(), def.Kind)
		e.recordDispatch(ctx, b, ev.EventType(), false)
		e.Metrics.EventsDispatched++
		if err := def.HandleEvent(ctx, b, ev); err != nil {
			return fmt.Errorf("behavior %s (%s) handling %s: %w", b.BehaviorID(), def.Kind, ev.EventType(), err)
		}
	}
	return nil
}

func (e *Engine) recordDispatch(ctx *TickContext, b BehaviorState, eventType string, skipped bool) {
	e.trace.RecordDispatch(trace.DispatchRecord{
		Clock:        ctx.State.CurrentTime,
		RegionID:     ctx.Region.ID,
		BehaviorID:   b.BehaviorID(),
		BehaviorKind: b.BehaviorKind(),
		EventType:    eventType,
		Skipped:      skipped,
	})
}

// terminateActivity removes an activity and runs its cleanup hook. A second
// call for the same id is a no-op, so the hook runs exactly once.
func (e *Engine) terminateActivity(ctx *TickContext, id string) error {
	a, ok := ctx.Region.Activities[id]
	if !ok {
		return nil
	}
	delete(ctx.Region.Activities, id)
	e.Metrics.ActivitiesTerminated++
	e.trace.RecordTermination(trace.TerminationRecord{
		Clock:        ctx.State.CurrentTime,
		RegionID:     ctx.Region.ID,
		ActivityID:   id,
		ActivityKind: a.ActivityKind(),
	})
	logrus.Debugf("activity %s (%s) terminated in region %s", id, a.ActivityKind(), ctx.Region.ID)
	def, ok := e.activities.Lookup(a.ActivityKind())
	if !ok || def.OnTerminate == nil {
		return nil
	}
	if err := def.OnTerminate(ctx, a); err != nil {
		return fmt.Errorf("terminating activity %s (%s): %w", id, def.Kind, err)
	}
	return nil
}

func (e *Engine) context(draft *ExerciseState, regionID string) (*TickContext, error) {
	region, err := draft.SimulatedRegion(regionID)
	if err != nil {
		return nil, err
	}
	return &TickContext{State: draft, Region: region, engine: e}, nil
}

// AddBehavior attaches b to a region of draft, after all existing behaviors.
// An empty behavior id is replaced by a generated one.
func (e *Engine) AddBehavior(draft *ExerciseState, regionID string, b BehaviorState) (string, error) {
	ctx, err := e.context(draft, regionID)
	if err != nil {
		return "", err
	}
	if b.BehaviorID() == "" {
		b.SetBehaviorID(draft.NewID())
	}
	for _, existing := range ctx.Region.Behaviors {
		if existing.BehaviorID() == b.BehaviorID() {
			return "", fmt.Errorf("behavior %s already attached to region %s", b.BehaviorID(), regionID)
		}
	}
	ctx.Region.Behaviors = append(ctx.Region.Behaviors, b)
	return b.BehaviorID(), nil
}

// RemoveBehavior detaches a behavior from its region and runs its OnRemove
// hook once.
func (e *Engine) RemoveBehavior(draft *ExerciseState, regionID, behaviorID string) error {
	ctx, err := e.context(draft, regionID)
	if err != nil {
		return err
	}
	idx := slices.IndexFunc(ctx.Region.Behaviors, func(b BehaviorState) bool {
		return b.BehaviorID() == behaviorID
	})
	if idx < 0 {
		return fmt.Errorf("behavior %s in region %s: %w", behaviorID, regionID, ErrElementNotFound)
	}
	b := ctx.Region.Behaviors[idx]
	ctx.Region.Behaviors = slices.Delete(ctx.Region.Behaviors, idx, idx+1)
	e.Metrics.BehaviorsRemoved++
	e.trace.RecordRemoval(trace.RemovalRecord{
		Clock:        draft.CurrentTime,
		RegionID:     regionID,
		BehaviorID:   behaviorID,
		BehaviorKind: b.BehaviorKind(),
	})
	def, ok := e.behaviors.Lookup(b.BehaviorKind())
	if !ok || def.OnRemove == nil {
		return nil
	}
	if err := def.OnRemove(ctx, b); err != nil {
		return fmt.Errorf("removing behavior %s (%s): %w", behaviorID, def.Kind, err)
	}
	return nil
}

// AddActivity registers an activity on a region of draft.
func (e *Engine) AddActivity(draft *ExerciseState, regionID string, a ActivityState) (string, error) {
	ctx, err := e.context(draft, regionID)
	if err != nil {
		return "", err
	}
	return ctx.AddActivity(a), nil
}

// TerminateActivity removes an activity from outside a tick, running its
// cleanup hook.
func (e *Engine) TerminateActivity(draft *ExerciseState, regionID, activityID string) error {
	ctx, err := e.context(draft, regionID)
	if err != nil {
		return err
	}
	if _, ok := ctx.Region.Activities[activityID]; !ok {
		return fmt.Errorf("activity %s in region %s: %w", activityID, regionID, ErrElementNotFound)
	}
	return e.terminateActivity(ctx, activityID)
}

// SendSimulationEvent queues ev on a region of draft. It is seen by that
// region's next scheduling pass.
func SendSimulationEvent(draft *ExerciseState, regionID string, ev Event) error {
	if ev == nil {
		return errors.New("SendSimulationEvent: event must not be nil")
	}
	region, err := draft.SimulatedRegion(regionID)
	if err != nil {
		return err
	}
	region.InEvents = append(region.InEvents, ev)
	return nil
}

// TickContext is the mutation context threaded through every behavior and
// activity handler: the draft snapshot and the region being processed.
type TickContext struct {
	State  *ExerciseState
	Region *SimulatedRegion
	engine *Engine
}

// Now returns the simulated time in milliseconds.
func (c *TickContext) Now() int64 { return c.State.CurrentTime }

// Random returns the snapshot's deterministic generator.
func (c *TickContext) Random() *Generator { return c.State.Random() }

// AddActivity registers a on the current region and returns its id.
// A missing id is drawn from the deterministic generator.
func (c *TickContext) AddActivity(a ActivityState) string {
	if a.ActivityID() == "" {
		a.SetActivityID(c.State.NewID())
	}
	if c.Region.Activities == nil {
		c.Region.Activities = make(map[string]ActivityState)
	}
	c.Region.Activities[a.ActivityID()] = a
	c.engine.Metrics.ActivitiesStarted++
	return a.ActivityID()
}

// TerminateActivity ends an activity of the current region, if it still exists.
func (c *TickContext) TerminateActivity(id string) error {
	return c.engine.terminateActivity(c, id)
}

// SendEvent queues ev on any region, including the current one.
func (c *TickContext) SendEvent(regionID string, ev Event) error {
	return SendSimulationEvent(c.State, regionID, ev)
}

// SendLocalEvent queues ev on the current region for its next pass.
func (c *TickContext) SendLocalEvent(ev Event) {
	c.Region.InEvents = append(c.Region.InEvents, ev)
}
