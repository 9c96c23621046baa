package scenario

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/exercise-sim/exercise-sim/sim/internal/testutil"
)

const minimalScenario = `
version: "2"
exercise_id: minimal
transfer_points:
  - id: tp-a
regions:
  - id: a
    transfer_point: tp-a
    bounds: {min_x: 0, min_y: 0, max_x: 10, max_y: 10}
patients:
  - status: red
    position: {x: 1, y: 1}
`

func TestLoad_Fixture_LoadsCorrectly(t *testing.T) {
	s, err := Load(testutil.ScenarioPath(t, "field-exercise.yaml"))
	require.NoError(t, err)
	require.NoError(t, s.Validate())

	assert.Equal(t, "2", s.Version)
	assert.Equal(t, "field-exercise", s.ExerciseID)
	require.NotNil(t, s.Configuration.PretriageEnabled)
	assert.False(t, *s.Configuration.PretriageEnabled)
	assert.Nil(t, s.Configuration.BluePatientsEnabled)
	require.Len(t, s.Regions, 2)
	assert.Len(t, s.Regions[0].Behaviors, 4)
	assert.Equal(t, int64(120000), s.TransferPoints[0].Connections["tp-station"])
	require.Len(t, s.Vehicles, 2)
	assert.Len(t, s.Vehicles[0].Crew, 1)
	assert.Equal(t, "or", s.Vehicles[0].Material[0].Capacity.Operator)
	assert.Equal(t, 6, s.PatientGroups[0].Count)

	cfg := s.ExerciseConfiguration()
	assert.False(t, cfg.PretriageEnabled)
	assert.False(t, cfg.BluePatientsEnabled)
	testutil.AssertFloat64Equal(t, "max treatment range", 5, cfg.MaxTreatmentRange, 1e-12)
}

func TestLoad_MissingFile_ReturnsError(t *testing.T) {
	_, err := Load("/nonexistent/scenario.yaml")
	assert.ErrorContains(t, err, "reading scenario")
}

func TestParse_UnknownKey_Rejected(t *testing.T) {
	// GIVEN a scenario with a typo in a key
	data := minimalScenario + "patient_group: []\n"

	// WHEN parsed strictly
	_, err := Parse([]byte(data))

	// THEN the typo is reported
	assert.ErrorContains(t, err, "patient_group")
}

func TestParse_V1_UpgradesCategories(t *testing.T) {
	data := `
exercise_id: legacy
transfer_points: []
regions:
  - id: a
patients:
  - status: SK1
    pretriage_status: SK3
    region: a
patient_groups:
  - count: 2
    region: a
    status_weights: {SK2: 1, yellow: 1, ex: 1}
`
	s, err := Parse([]byte(data))
	require.NoError(t, err)

	assert.Equal(t, CurrentVersion, s.Version)
	assert.Equal(t, "red", s.Patients[0].Status)
	assert.Equal(t, "green", s.Patients[0].PretriageStatus)
	assert.Equal(t, map[string]float64{"yellow": 2, "black": 1}, s.PatientGroups[0].StatusWeights)
	require.NoError(t, s.Validate())

	// Upgrading again changes nothing
	UpgradeV1ToV2(s)
	assert.Equal(t, "red", s.Patients[0].Status)
}

func TestValidate_Minimal_Passes(t *testing.T) {
	s, err := Parse([]byte(minimalScenario))
	require.NoError(t, err)
	assert.NoError(t, s.Validate())
}

func TestValidate_RejectsInvalidScenarios(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(s *Scenario)
		wantErr string
	}{
		{"unsupported version", func(s *Scenario) { s.Version = "3" }, "unsupported scenario version"},
		{"missing exercise id", func(s *Scenario) { s.ExerciseID = "" }, "exercise_id is required"},
		{"negative max range", func(s *Scenario) {
			r := -1.0
			s.Configuration.MaxTreatmentRange = &r
		}, "max_treatment_range must be >= 0"},
		{"duplicate transfer point", func(s *Scenario) {
			s.TransferPoints = append(s.TransferPoints, TransferPointSpec{ID: "tp-a"})
		}, "duplicate id"},
		{"connection to unknown transfer point", func(s *Scenario) {
			s.TransferPoints[0].Connections = map[string]int64{"tp-x": 10}
		}, `unknown transfer point "tp-x"`},
		{"connection to itself", func(s *Scenario) {
			s.TransferPoints[0].Connections = map[string]int64{"tp-a": 10}
		}, "connection to itself"},
		{"unknown hospital", func(s *Scenario) {
			s.TransferPoints[0].Hospitals = map[string]int64{"h": 10}
		}, `unknown hospital "h"`},
		{"region with unknown transfer point", func(s *Scenario) { s.Regions[0].TransferPoint = "nope" }, `unknown transfer point "nope"`},
		{"inverted bounds", func(s *Scenario) { s.Regions[0].Bounds.MinX = 20 }, "bounds min must not exceed max"},
		{"unknown behavior", func(s *Scenario) {
			s.Regions[0].Behaviors = []BehaviorSpec{{Type: "teleportBehavior"}}
		}, `unknown behavior type "teleportBehavior"`},
		{"unknown patient status", func(s *Scenario) { s.Patients[0].Status = "purple" }, `unknown status "purple"`},
		{"patient placed twice", func(s *Scenario) { s.Patients[0].Region = "a" }, "exactly one of region and position"},
		{"patient in unknown region", func(s *Scenario) {
			s.Patients[0].Position = nil
			s.Patients[0].Region = "z"
		}, `unknown region "z"`},
		{"vehicle without type", func(s *Scenario) {
			s.Vehicles = []VehicleSpec{{ID: "v", Region: "a"}}
		}, "type is required"},
		{"crew radius above maximum", func(s *Scenario) {
			s.Vehicles = []VehicleSpec{{ID: "v", Type: "RTW", Region: "a", Crew: []CatererSpec{{Range: 6}}}}
		}, "exceeds max_treatment_range"},
		{"unknown operator", func(s *Scenario) {
			s.Vehicles = []VehicleSpec{{ID: "v", Type: "RTW", Region: "a", Material: []CatererSpec{{Capacity: CapacitySpec{Operator: "xor"}}}}}
		}, `unknown operator "xor"`},
		{"group without weights", func(s *Scenario) {
			s.PatientGroups = []PatientGroupSpec{{Count: 3, Region: "a"}}
		}, "status_weights must sum to a positive value"},
		{"group with negative spread", func(s *Scenario) {
			s.PatientGroups = []PatientGroupSpec{{Count: 1, Center: &PositionSpec{}, Spread: -1, StatusWeights: map[string]float64{"red": 1}}}
		}, "spread must be >= 0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := Parse([]byte(minimalScenario))
			require.NoError(t, err)
			tt.mutate(s)
			assert.ErrorContains(t, s.Validate(), tt.wantErr)
		})
	}
}
