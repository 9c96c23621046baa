package sim

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/exercise-sim/exercise-sim/sim/spatial"
)

// variantTagField is the discriminator of every persisted tagged variant.
const variantTagField = "type"

// encodeVariant marshals v as a flat JSON object with its tag spliced in.
// Keys come out sorted, so equal states encode to equal bytes.
func encodeVariant(tag string, v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	fields := make(map[string]json.RawMessage)
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("encoding %s: variant must be a JSON object: %w", tag, err)
	}
	rawTag, err := json.Marshal(tag)
	if err != nil {
		return nil, err
	}
	fields[variantTagField] = rawTag
	return json.Marshal(fields)
}

// variantTag reads the discriminator of a persisted variant.
func variantTag(data []byte) (string, error) {
	var head struct {
		Type *string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return "", err
	}
	if head.Type == nil || *head.Type == "" {
		return "", errors.New(`missing "type" field`)
	}
	return *head.Type, nil
}

func cloneRaw(data []byte) json.RawMessage {
	var buf bytes.Buffer
	if err := json.Compact(&buf, data); err != nil {
		return append(json.RawMessage(nil), data...)
	}
	return buf.Bytes()
}

// Codec encodes and decodes exercise snapshots. Behavior and activity tags
// are resolved against its registries; unknown tags decode to the Unknown*
// placeholders.
type Codec struct {
	behaviors  *BehaviorRegistry
	activities *ActivityRegistry
}

// NewCodec returns a codec resolving tags against the given registries.
func NewCodec(behaviors *BehaviorRegistry, activities *ActivityRegistry) Codec {
	if behaviors == nil || activities == nil {
		panic("NewCodec: registries must not be nil")
	}
	return Codec{behaviors: behaviors, activities: activities}
}

// Encode returns the canonical JSON document of state.
func (c Codec) Encode(state *ExerciseState) ([]byte, error) {
	data, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("encoding exercise %s: %w", state.ID, err)
	}
	return data, nil
}

// regionDocument is the persisted shape of a SimulatedRegion.
type regionDocument struct {
	ID              string                     `json:"id"`
	Name            string                     `json:"name"`
	Bounds          spatial.Rect               `json:"bounds"`
	TransferPointID string                     `json:"transferPointId,omitempty"`
	Behaviors       []json.RawMessage          `json:"behaviors"`
	Activities      map[string]json.RawMessage `json:"activities"`
	InEvents        []EventEnvelope            `json:"inEvents"`
}

// MarshalJSON encodes the polymorphic collections as tagged variants.
func (r *SimulatedRegion) MarshalJSON() ([]byte, error) {
	doc := regionDocument{
		ID:              r.ID,
		Name:            r.Name,
		Bounds:          r.Bounds,
		TransferPointID: r.TransferPointID,
		Behaviors:       make([]json.RawMessage, 0, len(r.Behaviors)),
		Activities:      make(map[string]json.RawMessage, len(r.Activities)),
		InEvents:        make([]EventEnvelope, 0, len(r.InEvents)),
	}
	for _, b := range r.Behaviors {
		raw, err := encodeBehavior(b)
		if err != nil {
			return nil, fmt.Errorf("region %s: %w", r.ID, err)
		}
		doc.Behaviors = append(doc.Behaviors, raw)
	}
	for id, a := range r.Activities {
		raw, err := encodeActivity(a)
		if err != nil {
			return nil, fmt.Errorf("region %s: %w", r.ID, err)
		}
		doc.Activities[id] = raw
	}
	for _, ev := range r.InEvents {
		doc.InEvents = append(doc.InEvents, Envelope(ev))
	}
	return json.Marshal(doc)
}

func encodeBehavior(b BehaviorState) ([]byte, error) {
	if u, ok := b.(*UnknownBehavior); ok {
		return u.Raw, nil
	}
	return encodeVariant(b.BehaviorKind(), b)
}

func encodeActivity(a ActivityState) ([]byte, error) {
	if u, ok := a.(*UnknownActivity); ok {
		return u.Raw, nil
	}
	return encodeVariant(a.ActivityKind(), a)
}

func (c Codec) decodeBehavior(data []byte) (BehaviorState, error) {
	tag, err := variantTag(data)
	if err != nil {
		return nil, fmt.Errorf("decoding behavior: %w", err)
	}
	def, ok := c.behaviors.Lookup(tag)
	if !ok {
		u := &UnknownBehavior{Kind: tag, Raw: cloneRaw(data)}
		if err := json.Unmarshal(data, &u.BehaviorBase); err != nil {
			return nil, fmt.Errorf("decoding behavior %s: %w", tag, err)
		}
		return u, nil
	}
	b := def.New()
	if err := json.Unmarshal(data, b); err != nil {
		return nil, fmt.Errorf("decoding behavior %s: %w", tag, err)
	}
	return b, nil
}

func (c Codec) decodeActivity(data []byte) (ActivityState, error) {
	tag, err := variantTag(data)
	if err != nil {
		return nil, fmt.Errorf("decoding activity: %w", err)
	}
	def, ok := c.activities.Lookup(tag)
	if !ok {
		u := &UnknownActivity{Kind: tag, Raw: cloneRaw(data)}
		if err := json.Unmarshal(data, &u.ActivityBase); err != nil {
			return nil, fmt.Errorf("decoding activity %s: %w", tag, err)
		}
		return u, nil
	}
	a := def.New()
	if err := json.Unmarshal(data, a); err != nil {
		return nil, fmt.Errorf("decoding activity %s: %w", tag, err)
	}
	return a, nil
}

func (c Codec) decodeRegion(doc *regionDocument) (*SimulatedRegion, error) {
	r := &SimulatedRegion{
		ID:              doc.ID,
		Name:            doc.Name,
		Bounds:          doc.Bounds,
		TransferPointID: doc.TransferPointID,
		Activities:      make(map[string]ActivityState, len(doc.Activities)),
	}
	for _, raw := range doc.Behaviors {
		b, err := c.decodeBehavior(raw)
		if err != nil {
			return nil, err
		}
		r.Behaviors = append(r.Behaviors, b)
	}
	for id, raw := range doc.Activities {
		a, err := c.decodeActivity(raw)
		if err != nil {
			return nil, err
		}
		r.Activities[id] = a
	}
	for _, env := range doc.InEvents {
		r.InEvents = append(r.InEvents, env.Event)
	}
	return r, nil
}

// stateAlias drops ExerciseState's methods so decoding does not recurse.
type stateAlias ExerciseState

// stateDocument shadows the region collection with its persisted shape.
type stateDocument struct {
	*stateAlias
	SimulatedRegions map[string]*regionDocument `json:"simulatedRegions"`
}

// Decode restores a snapshot written by Encode. It performs no semantic
// validation; see DecodeExercise for the checked entry point.
func (c Codec) Decode(data []byte) (*ExerciseState, error) {
	state := &ExerciseState{}
	doc := stateDocument{stateAlias: (*stateAlias)(state)}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decoding exercise: %w", err)
	}
	state.SimulatedRegions = make(map[string]*SimulatedRegion, len(doc.SimulatedRegions))
	for id, regionDoc := range doc.SimulatedRegions {
		if regionDoc == nil {
			return nil, fmt.Errorf("decoding exercise: simulated region %s is null", id)
		}
		region, err := c.decodeRegion(regionDoc)
		if err != nil {
			return nil, fmt.Errorf("decoding exercise: %w", err)
		}
		state.SimulatedRegions[id] = region
	}
	state.ensureCollections()
	return state, nil
}

// Clone returns an independent deep copy of state, including its spatial
// trees and generator state.
func (c Codec) Clone(state *ExerciseState) (*ExerciseState, error) {
	data, err := c.Encode(state)
	if err != nil {
		return nil, err
	}
	return c.Decode(data)
}

// Digest returns the hex SHA-256 of the canonical encoding of state. Two
// participants agree on a snapshot iff their digests match.
func Digest(state *ExerciseState) (string, error) {
	data, err := json.Marshal(state)
	if err != nil {
		return "", fmt.Errorf("digesting exercise %s: %w", state.ID, err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
