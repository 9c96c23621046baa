package sim

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schema/exercise.schema.json
var exerciseSchemaSource string

var exerciseSchema = jsonschema.MustCompileString("exercise.schema.json", exerciseSchemaSource)

// ValidOperators is the set of recognized capacity operators.
var ValidOperators = map[LogicalOperator]bool{OperatorAnd: true, OperatorOr: true}

// DecodeExercise is the checked entry point for persisted snapshots: the
// document is validated structurally against the exercise schema, decoded
// with the default catalogue, then checked semantically with Validate.
func DecodeExercise(data []byte) (*ExerciseState, error) {
	return defaultCodec.DecodeChecked(data)
}

// DecodeChecked is DecodeExercise for this codec's registries.
func (c Codec) DecodeChecked(data []byte) (*ExerciseState, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("parsing exercise: %w", err)
	}
	if err := exerciseSchema.Validate(doc); err != nil {
		return nil, fmt.Errorf("exercise does not match schema: %w", err)
	}
	state, err := c.Decode(data)
	if err != nil {
		return nil, err
	}
	if err := state.Validate(); err != nil {
		return nil, fmt.Errorf("invalid exercise %s: %w", state.ID, err)
	}
	return state, nil
}

// Validate checks the semantic invariants of a snapshot and reports every
// violation found.
func (s *ExerciseState) Validate() error {
	var errs []error
	if s.Configuration.MaxTreatmentRange < 0 {
		errs = append(errs, fmt.Errorf("maxTreatmentRange must be >= 0, got %v", s.Configuration.MaxTreatmentRange))
	}
	for _, id := range sortedKeys(s.Patients) {
		p := s.Patients[id]
		if p.ID != id {
			errs = append(errs, fmt.Errorf("patient stored under %s has id %s", id, p.ID))
		}
		if !ValidPatientStatuses[p.RealStatus] || !ValidPatientStatuses[p.PretriageStatus] {
			errs = append(errs, fmt.Errorf("patient %s has invalid status %q/%q", id, p.RealStatus, p.PretriageStatus))
		}
		errs = append(errs, s.checkIndexed(KindPatient, id, p.Position))
	}
	for _, id := range sortedKeys(s.Personnel) {
		errs = append(errs, s.validateCaterer(KindPersonnel, id, &s.Personnel[id].Caterer)...)
	}
	for _, id := range sortedKeys(s.Materials) {
		errs = append(errs, s.validateCaterer(KindMaterial, id, &s.Materials[id].Caterer)...)
	}
	errs = append(errs,
		s.checkTreeSize(KindPatient, countOnMap(s.Patients, func(p *Patient) Position { return p.Position })),
		s.checkTreeSize(KindPersonnel, countOnMap(s.Personnel, func(p *Personnel) Position { return p.Position })),
		s.checkTreeSize(KindMaterial, countOnMap(s.Materials, func(m *Material) Position { return m.Position })),
	)
	for _, id := range sortedKeys(s.SimulatedRegions) {
		errs = append(errs, validateRegion(id, s.SimulatedRegions[id])...)
	}
	errs = append(errs, s.CheckTreatmentConsistency())
	return errors.Join(errs...)
}

func (s *ExerciseState) validateCaterer(kind ElementKind, id string, c *Caterer) []error {
	var errs []error
	if c.ID != id {
		errs = append(errs, fmt.Errorf("%s stored under %s has id %s", kind, id, c.ID))
	}
	errs = append(errs, checkCapacity(kind, id, c.CanCaterFor)...)
	errs = append(errs, s.checkRanges(kind, id, c))
	errs = append(errs, s.checkIndexed(kind, id, c.Position))
	return errs
}

// checkCapacity rejects negative counts and unknown operators.
func checkCapacity(kind ElementKind, id string, capacity CanCaterFor) []error {
	var errs []error
	if capacity.Red < 0 || capacity.Yellow < 0 || capacity.Green < 0 {
		errs = append(errs, fmt.Errorf("%s %s has negative capacity %+v", kind, id, capacity))
	}
	if !ValidOperators[capacity.LogicalOperator] {
		errs = append(errs, fmt.Errorf("%s %s has unknown operator %q", kind, id, capacity.LogicalOperator))
	}
	return errs
}

// checkRanges bounds both radii by maxTreatmentRange. Patient updates only
// scan that far for caterers, so a wider radius would go stale.
func (s *ExerciseState) checkRanges(kind ElementKind, id string, c *Caterer) error {
	maxRange := s.Configuration.MaxTreatmentRange
	if c.OverrideTreatmentRange < 0 || c.TreatmentRange < 0 {
		return fmt.Errorf("%s %s has a negative radius", kind, id)
	}
	if c.OverrideTreatmentRange > maxRange || c.TreatmentRange > maxRange {
		return fmt.Errorf("%s %s radius exceeds maxTreatmentRange %v", kind, id, maxRange)
	}
	return nil
}

// checkIndexed verifies that an on-map element is in its spatial tree.
func (s *ExerciseState) checkIndexed(kind ElementKind, id string, pos Position) error {
	if !pos.OnMap() {
		return nil
	}
	if !s.SpatialTrees.forKind(kind).Contains(id, pos.Point()) {
		return fmt.Errorf("%s %s at (%v, %v) is missing from the spatial index", kind, id, pos.X, pos.Y)
	}
	return nil
}

func (s *ExerciseState) checkTreeSize(kind ElementKind, onMap int) error {
	if n := s.SpatialTrees.forKind(kind).Len(); n != onMap {
		return fmt.Errorf("%s spatial index holds %d entries, %d elements are on the map", kind, n, onMap)
	}
	return nil
}

func countOnMap[T any](elements map[string]*T, position func(*T) Position) int {
	n := 0
	for _, e := range elements {
		if position(e).OnMap() {
			n++
		}
	}
	return n
}

func validateRegion(id string, r *SimulatedRegion) []error {
	var errs []error
	if r.ID != id {
		errs = append(errs, fmt.Errorf("simulated region stored under %s has id %s", id, r.ID))
	}
	seen := make(map[string]bool)
	for _, b := range r.Behaviors {
		if seen[b.BehaviorID()] {
			errs = append(errs, fmt.Errorf("simulated region %s: duplicate behavior id %s", id, b.BehaviorID()))
		}
		seen[b.BehaviorID()] = true
	}
	for _, key := range sortedKeys(r.Activities) {
		if got := r.Activities[key].ActivityID(); got != key {
			errs = append(errs, fmt.Errorf("simulated region %s: activity stored under %s has id %s", id, key, got))
		}
	}
	return errs
}
