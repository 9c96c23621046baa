package scenario

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"math"
	"slices"

	"github.com/sirupsen/logrus"

	"github.com/exercise-sim/exercise-sim/sim"
	"github.com/exercise-sim/exercise-sim/sim/spatial"
)

// Build validates the scenario and creates its initial exercise snapshot.
// Generated ids and patient groups draw from the exercise's own generator, so
// the same scenario always builds the same snapshot.
func (s *Scenario) Build(e *sim.Engine) (*sim.ExerciseState, error) {
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	state := sim.NewExerciseState(s.ExerciseID, s.ExerciseConfiguration())

	for _, h := range s.Hospitals {
		if err := state.AddHospital(&sim.Hospital{ID: h.ID, Name: h.Name, TransportDuration: h.TransportDuration}); err != nil {
			return nil, err
		}
	}
	if err := s.buildTransferPoints(state); err != nil {
		return nil, err
	}
	for _, r := range s.Regions {
		if err := s.buildRegion(e, state, r); err != nil {
			return nil, fmt.Errorf("region %s: %w", r.ID, err)
		}
	}
	for _, v := range s.Vehicles {
		if err := buildVehicle(state, v); err != nil {
			return nil, fmt.Errorf("vehicle %s: %w", v.ID, err)
		}
	}
	for i, p := range s.Patients {
		realStatus := sim.PatientStatus(p.Status)
		pretriage := realStatus
		if p.PretriageStatus != "" {
			pretriage = sim.PatientStatus(p.PretriageStatus)
		}
		patient := &sim.Patient{
			ID:              p.ID,
			Name:            p.Name,
			Position:        placement(p.Region, p.Position),
			RealStatus:      realStatus,
			PretriageStatus: pretriage,
		}
		if err := state.AddPatient(patient); err != nil {
			return nil, fmt.Errorf("patients[%d]: %w", i, err)
		}
	}
	for i, g := range s.PatientGroups {
		if err := buildPatientGroup(state, g); err != nil {
			return nil, fmt.Errorf("patient_groups[%d]: %w", i, err)
		}
	}
	logrus.Infof("scenario %s: built %d patient(s), %d vehicle(s), %d region(s)",
		s.ExerciseID, len(state.Patients), len(state.Vehicles), len(state.SimulatedRegions))
	return state, nil
}

func (s *Scenario) buildTransferPoints(state *sim.ExerciseState) error {
	for _, tp := range s.TransferPoints {
		pos := sim.NotPresent()
		if tp.Position != nil {
			pos = sim.MapPosition(tp.Position.X, tp.Position.Y)
		}
		name := tp.Name
		if name == "" {
			name = tp.ID
		}
		if err := state.AddTransferPoint(&sim.TransferPoint{ID: tp.ID, InternalName: name, Position: pos}); err != nil {
			return err
		}
	}
	for _, tp := range s.TransferPoints {
		for _, target := range slices.Sorted(maps.Keys(tp.Connections)) {
			if err := state.ConnectTransferPoints(tp.ID, target, tp.Connections[target]); err != nil {
				return fmt.Errorf("transfer point %s: %w", tp.ID, err)
			}
		}
		built, err := state.TransferPoint(tp.ID)
		if err != nil {
			return err
		}
		for h, d := range tp.Hospitals {
			built.ReachableHospitals[h] = d
		}
	}
	return nil
}

func (s *Scenario) buildRegion(e *sim.Engine, state *sim.ExerciseState, r RegionSpec) error {
	name := r.Name
	if name == "" {
		name = r.ID
	}
	region := &sim.SimulatedRegion{
		ID:              r.ID,
		Name:            name,
		Bounds:          spatial.Rect{MinX: r.Bounds.MinX, MinY: r.Bounds.MinY, MaxX: r.Bounds.MaxX, MaxY: r.Bounds.MaxY},
		TransferPointID: r.TransferPoint,
	}
	if err := state.AddSimulatedRegion(region); err != nil {
		return err
	}
	for i, spec := range r.Behaviors {
		b, err := NewBehavior(spec)
		if err != nil {
			return fmt.Errorf("behaviors[%d]: %w", i, err)
		}
		if _, err := e.AddBehavior(state, r.ID, b); err != nil {
			return fmt.Errorf("behaviors[%d]: %w", i, err)
		}
	}
	return nil
}

// NewBehavior creates the behavior state described by spec. Params are
// decoded strictly into the behavior's persisted fields.
func NewBehavior(spec BehaviorSpec) (sim.BehaviorState, error) {
	if _, ok := sim.DefaultBehaviors.Lookup(spec.Type); !ok {
		return nil, fmt.Errorf("unknown behavior type %q", spec.Type)
	}
	b := sim.NewBehavior(spec.Type)
	if len(spec.Params) > 0 {
		data, err := json.Marshal(spec.Params)
		if err != nil {
			return nil, fmt.Errorf("%s params: %w", spec.Type, err)
		}
		decoder := json.NewDecoder(bytes.NewReader(data))
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(b); err != nil {
			return nil, fmt.Errorf("%s params: %w", spec.Type, err)
		}
	}
	if spec.ID != "" {
		b.SetBehaviorID(spec.ID)
	}
	return b, nil
}

func buildVehicle(state *sim.ExerciseState, spec VehicleSpec) error {
	v := &sim.Vehicle{
		ID:              spec.ID,
		Name:            spec.Name,
		VehicleType:     spec.Type,
		Position:        placement(spec.Region, spec.Position),
		PatientCapacity: spec.PatientCapacity,
	}
	if err := state.AddVehicle(v); err != nil {
		return err
	}
	inside := sim.InVehicle(v.ID)
	for i, c := range spec.Crew {
		p := &sim.Personnel{Caterer: caterer(c, v.ID, inside), PersonnelType: c.Type}
		if err := state.AddPersonnel(p); err != nil {
			return fmt.Errorf("crew[%d]: %w", i, err)
		}
		v.PersonnelIDs.Add(p.ID)
	}
	for i, c := range spec.Material {
		m := &sim.Material{Caterer: caterer(c, v.ID, inside), MaterialType: c.Type}
		if err := state.AddMaterial(m); err != nil {
			return fmt.Errorf("material[%d]: %w", i, err)
		}
		v.MaterialIDs.Add(m.ID)
	}
	return nil
}

func caterer(c CatererSpec, vehicleID string, pos sim.Position) sim.Caterer {
	return sim.Caterer{
		ID:        c.ID,
		Position:  pos,
		VehicleID: vehicleID,
		CanCaterFor: sim.CanCaterFor{
			Red:             c.Capacity.Red,
			Yellow:          c.Capacity.Yellow,
			Green:           c.Capacity.Green,
			LogicalOperator: sim.LogicalOperator(c.Capacity.Operator),
		},
		OverrideTreatmentRange: c.OverrideRange,
		TreatmentRange:         c.Range,
	}
}

func placement(region string, pos *PositionSpec) sim.Position {
	if pos != nil {
		return sim.MapPosition(pos.X, pos.Y)
	}
	return sim.InSimulatedRegion(region)
}

// buildPatientGroup draws statuses and positions from the exercise generator.
func buildPatientGroup(state *sim.ExerciseState, g PatientGroupSpec) error {
	statuses := slices.Sorted(maps.Keys(g.StatusWeights))
	total := 0.0
	for _, status := range statuses {
		total += g.StatusWeights[status]
	}
	rng := state.Random()
	for i := 0; i < g.Count; i++ {
		status := pickStatus(statuses, g.StatusWeights, rng.NextFloat()*total)
		pos := sim.InSimulatedRegion(g.Region)
		if g.Center != nil {
			dx := (rng.NextFloat()*2 - 1) * g.Spread
			dy := (rng.NextFloat()*2 - 1) * g.Spread
			pos = sim.MapPosition(roundCoordinate(g.Center.X+dx), roundCoordinate(g.Center.Y+dy))
		}
		p := &sim.Patient{Position: pos, RealStatus: status, PretriageStatus: status}
		if err := state.AddPatient(p); err != nil {
			return err
		}
	}
	return nil
}

// pickStatus returns the status whose cumulative weight interval contains r.
func pickStatus(statuses []string, weights map[string]float64, r float64) sim.PatientStatus {
	var last string
	for _, status := range statuses {
		if weights[status] <= 0 {
			continue
		}
		last = status
		if r < weights[status] {
			return sim.PatientStatus(status)
		}
		r -= weights[status]
	}
	return sim.PatientStatus(last)
}

func roundCoordinate(v float64) float64 {
	return math.Round(v*1000) / 1000
}
