package sim

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// newTestState returns an empty exercise with pretriage enabled.
func newTestState() *ExerciseState {
	return NewExerciseState("test-exercise", DefaultConfiguration())
}

// addTestPatient places a patient whose real and pretriage status agree.
func addTestPatient(t *testing.T, s *ExerciseState, id string, status PatientStatus, x, y float64) *Patient {
	t.Helper()
	p := &Patient{ID: id, Position: MapPosition(x, y), RealStatus: status, PretriageStatus: status}
	require.NoError(t, s.AddPatient(p))
	return p
}

func addTestMaterial(t *testing.T, s *ExerciseState, id string, capacity CanCaterFor, override, general, x, y float64) *Material {
	t.Helper()
	m := &Material{Caterer: Caterer{
		ID:                     id,
		Position:               MapPosition(x, y),
		CanCaterFor:            capacity,
		OverrideTreatmentRange: override,
		TreatmentRange:         general,
	}}
	require.NoError(t, s.AddMaterial(m))
	return m
}

func addTestPersonnel(t *testing.T, s *ExerciseState, id string, capacity CanCaterFor, override, general float64, pos Position) *Personnel {
	t.Helper()
	p := &Personnel{Caterer: Caterer{
		ID:                     id,
		Position:               pos,
		CanCaterFor:            capacity,
		OverrideTreatmentRange: override,
		TreatmentRange:         general,
	}, PersonnelType: "notSan"}
	require.NoError(t, s.AddPersonnel(p))
	return p
}

// addTestRegion adds a region with its own transfer point.
func addTestRegion(t *testing.T, s *ExerciseState, id string) *SimulatedRegion {
	t.Helper()
	tpID := "tp-" + id
	require.NoError(t, s.AddTransferPoint(&TransferPoint{ID: tpID, InternalName: tpID}))
	r := &SimulatedRegion{ID: id, Name: id, TransferPointID: tpID}
	require.NoError(t, s.AddSimulatedRegion(r))
	return r
}

func addTestVehicle(t *testing.T, s *ExerciseState, id, vehicleType string, pos Position) *Vehicle {
	t.Helper()
	v := &Vehicle{ID: id, VehicleType: vehicleType, Position: pos, PatientCapacity: 2}
	require.NoError(t, s.AddVehicle(v))
	return v
}

// capacity builds an "and" capacity descriptor.
func capacity(red, yellow, green int) CanCaterFor {
	return CanCaterFor{Red: red, Yellow: yellow, Green: green, LogicalOperator: OperatorAnd}
}
