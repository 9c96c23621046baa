package sim

import (
	"encoding/json"
	"fmt"
	"slices"
)

// BehaviorState is the persisted state of one behavior attached to a region.
// Implementations embed BehaviorBase and are stored by pointer.
type BehaviorState interface {
	BehaviorKind() string
	BehaviorID() string
	SetBehaviorID(id string)
}

// BehaviorBase carries the id every behavior state has.
type BehaviorBase struct {
	ID string `json:"id"`
}

func (b *BehaviorBase) BehaviorID() string      { return b.ID }
func (b *BehaviorBase) SetBehaviorID(id string) { b.ID = id }

// ActivityState is the persisted state of one in-flight task of a region.
type ActivityState interface {
	ActivityKind() string
	ActivityID() string
	SetActivityID(id string)
}

// ActivityBase carries the id every activity state has.
type ActivityBase struct {
	ID string `json:"id"`
}

func (a *ActivityBase) ActivityID() string      { return a.ID }
func (a *ActivityBase) SetActivityID(id string) { a.ID = id }

// UnknownBehavior holds a behavior whose kind is not registered. It keeps
// its raw document so it survives re-encoding, and is skipped at dispatch.
type UnknownBehavior struct {
	BehaviorBase
	Kind string
	Raw  json.RawMessage
}

func (b *UnknownBehavior) BehaviorKind() string { return b.Kind }

// UnknownActivity is the activity counterpart of UnknownBehavior.
type UnknownActivity struct {
	ActivityBase
	Kind string
	Raw  json.RawMessage
}

func (a *UnknownActivity) ActivityKind() string { return a.Kind }

// BehaviorDefinition binds a behavior kind to its handlers.
type BehaviorDefinition struct {
	Kind string
	// New returns an empty state to decode into.
	New func() BehaviorState
	// HandleEvent reacts to one queued event.
	HandleEvent func(ctx *TickContext, state BehaviorState, event Event) error
	// OnRemove, if set, runs once when the behavior is detached.
	OnRemove func(ctx *TickContext, state BehaviorState) error
}

// ActivityDefinition binds an activity kind to its handlers.
type ActivityDefinition struct {
	Kind string
	New  func() ActivityState
	// Tick advances the activity. Calling terminate removes it once Tick returns.
	Tick func(ctx *TickContext, state ActivityState, tickInterval int64, terminate func()) error
	// OnTerminate, if set, runs once after the activity was removed.
	OnTerminate func(ctx *TickContext, state ActivityState) error
}

// DefineBehavior builds a definition from handlers typed on the concrete
// state. The kind is taken from the state type itself.
func DefineBehavior[T any, S interface {
	*T
	BehaviorState
}](handle func(*TickContext, S, Event) error, onRemove func(*TickContext, S) error) BehaviorDefinition {
	def := BehaviorDefinition{
		Kind: S(new(T)).BehaviorKind(),
		New:  func() BehaviorState { return S(new(T)) },
		HandleEvent: func(ctx *TickContext, state BehaviorState, event Event) error {
			return handle(ctx, state.(S), event)
		},
	}
	if onRemove != nil {
		def.OnRemove = func(ctx *TickContext, state BehaviorState) error {
			return onRemove(ctx, state.(S))
		}
	}
	return def
}

// DefineActivity is the activity counterpart of DefineBehavior.
func DefineActivity[T any, S interface {
	*T
	ActivityState
}](tick func(*TickContext, S, int64, func()) error, onTerminate func(*TickContext, S) error) ActivityDefinition {
	def := ActivityDefinition{
		Kind: S(new(T)).ActivityKind(),
		New:  func() ActivityState { return S(new(T)) },
		Tick: func(ctx *TickContext, state ActivityState, tickInterval int64, terminate func()) error {
			return tick(ctx, state.(S), tickInterval, terminate)
		},
	}
	if onTerminate != nil {
		def.OnTerminate = func(ctx *TickContext, state ActivityState) error {
			return onTerminate(ctx, state.(S))
		}
	}
	return def
}

// BehaviorRegistry maps behavior kinds to definitions. It is built once
// from an explicit list and never changes afterwards.
type BehaviorRegistry struct {
	defs map[string]BehaviorDefinition
}

// NewBehaviorRegistry builds a registry. Panics on an empty or duplicate kind.
func NewBehaviorRegistry(defs ...BehaviorDefinition) *BehaviorRegistry {
	r := &BehaviorRegistry{defs: make(map[string]BehaviorDefinition, len(defs))}
	for _, def := range defs {
		if def.Kind == "" || def.New == nil || def.HandleEvent == nil {
			panic(fmt.Sprintf("NewBehaviorRegistry: incomplete definition for kind %q", def.Kind))
		}
		if _, dup := r.defs[def.Kind]; dup {
			panic(fmt.Sprintf("NewBehaviorRegistry: duplicate behavior kind %q", def.Kind))
		}
		r.defs[def.Kind] = def
	}
	return r
}

// Lookup returns the definition of kind.
func (r *BehaviorRegistry) Lookup(kind string) (BehaviorDefinition, bool) {
	def, ok := r.defs[kind]
	return def, ok
}

// Kinds returns the registered kinds in ascending order.
func (r *BehaviorRegistry) Kinds() []string {
	kinds := make([]string, 0, len(r.defs))
	for kind := range r.defs {
		kinds = append(kinds, kind)
	}
	slices.Sort(kinds)
	return kinds
}

// ActivityRegistry maps activity kinds to definitions.
type ActivityRegistry struct {
	defs map[string]ActivityDefinition
}

// NewActivityRegistry builds a registry. Panics on an empty or duplicate kind.
func NewActivityRegistry(defs ...ActivityDefinition) *ActivityRegistry {
	r := &ActivityRegistry{defs: make(map[string]ActivityDefinition, len(defs))}
	for _, def := range defs {
		if def.Kind == "" || def.New == nil || def.Tick == nil {
			panic(fmt.Sprintf("NewActivityRegistry: incomplete definition for kind %q", def.Kind))
		}
		if _, dup := r.defs[def.Kind]; dup {
			panic(fmt.Sprintf("NewActivityRegistry: duplicate activity kind %q", def.Kind))
		}
		r.defs[def.Kind] = def
	}
	return r
}

// Lookup returns the definition of kind.
func (r *ActivityRegistry) Lookup(kind string) (ActivityDefinition, bool) {
	def, ok := r.defs[kind]
	return def, ok
}

// Kinds returns the registered kinds in ascending order.
func (r *ActivityRegistry) Kinds() []string {
	kinds := make([]string, 0, len(r.defs))
	for kind := range r.defs {
		kinds = append(kinds, kind)
	}
	slices.Sort(kinds)
	return kinds
}
