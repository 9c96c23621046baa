// Package scenario loads exercise scenarios from YAML and builds the initial
// world snapshot from them.
package scenario

import (
	"bytes"
	"fmt"
	"math"
	"os"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/exercise-sim/exercise-sim/sim"
)

// CurrentVersion is the scenario format written by this package.
const CurrentVersion = "2"

// v1Statuses maps the triage category names of version 1 files.
var v1Statuses = map[string]string{
	"SK1": "red",
	"SK2": "yellow",
	"SK3": "green",
	"SK4": "blue",
	"ex":  "black",
}

// UpgradeV1ToV2 rewrites a version 1 scenario in place. Version 1 used the
// SK1..SK4 category names; they are mapped to colors. Idempotent.
func UpgradeV1ToV2(s *Scenario) {
	if s.Version == "" || s.Version == "1" {
		s.Version = CurrentVersion
	}
	upgrade := func(status *string) {
		if newName, ok := v1Statuses[*status]; ok {
			logrus.Warnf("deprecated triage category %q auto-mapped to %q; update your scenario", *status, newName)
			*status = newName
		}
	}
	for i := range s.Patients {
		upgrade(&s.Patients[i].Status)
		upgrade(&s.Patients[i].PretriageStatus)
	}
	for i := range s.PatientGroups {
		weights := make(map[string]float64, len(s.PatientGroups[i].StatusWeights))
		for status, w := range s.PatientGroups[i].StatusWeights {
			upgrade(&status)
			weights[status] += w
		}
		s.PatientGroups[i].StatusWeights = weights
	}
}

// Scenario is the top-level exercise description.
// Loaded from YAML via Load(path).
type Scenario struct {
	Version        string              `yaml:"version"`
	ExerciseID     string              `yaml:"exercise_id"`
	Configuration  ConfigurationSpec   `yaml:"configuration"`
	TransferPoints []TransferPointSpec `yaml:"transfer_points"`
	Hospitals      []HospitalSpec      `yaml:"hospitals,omitempty"`
	Regions        []RegionSpec        `yaml:"regions"`
	Vehicles       []VehicleSpec       `yaml:"vehicles,omitempty"`
	Patients       []PatientSpec       `yaml:"patients,omitempty"`
	PatientGroups  []PatientGroupSpec  `yaml:"patient_groups,omitempty"`
}

// ConfigurationSpec overrides the default exercise configuration.
// Nil fields keep the defaults.
type ConfigurationSpec struct {
	PretriageEnabled    *bool    `yaml:"pretriage_enabled,omitempty"`
	BluePatientsEnabled *bool    `yaml:"blue_patients_enabled,omitempty"`
	MaxTreatmentRange   *float64 `yaml:"max_treatment_range,omitempty"`
}

// TransferPointSpec declares a transfer point and its outgoing routes.
// Routes are made bidirectional when built.
type TransferPointSpec struct {
	ID          string           `yaml:"id"`
	Name        string           `yaml:"name,omitempty"`
	Position    *PositionSpec    `yaml:"position,omitempty"`
	Connections map[string]int64 `yaml:"connections,omitempty"` // target id -> duration ms
	Hospitals   map[string]int64 `yaml:"hospitals,omitempty"`   // hospital id -> duration ms
}

// HospitalSpec declares a hospital.
type HospitalSpec struct {
	ID                string `yaml:"id"`
	Name              string `yaml:"name,omitempty"`
	TransportDuration int64  `yaml:"transport_duration"`
}

// RegionSpec declares a simulated region and its behaviors, in order.
type RegionSpec struct {
	ID            string         `yaml:"id"`
	Name          string         `yaml:"name,omitempty"`
	Bounds        BoundsSpec     `yaml:"bounds"`
	TransferPoint string         `yaml:"transfer_point,omitempty"`
	Behaviors     []BehaviorSpec `yaml:"behaviors,omitempty"`
}

// BoundsSpec is a region's rectangle on the map.
type BoundsSpec struct {
	MinX float64 `yaml:"min_x"`
	MinY float64 `yaml:"min_y"`
	MaxX float64 `yaml:"max_x"`
	MaxY float64 `yaml:"max_y"`
}

// BehaviorSpec names a behavior kind and its parameters. Parameter keys are
// the behavior's persisted field names, e.g. unloadDelay.
type BehaviorSpec struct {
	Type   string         `yaml:"type"`
	ID     string         `yaml:"id,omitempty"`
	Params map[string]any `yaml:"params,omitempty"`
}

// PositionSpec is a point on the map.
type PositionSpec struct {
	X float64 `yaml:"x"`
	Y float64 `yaml:"y"`
}

// VehicleSpec declares a vehicle, where it starts and what it carries.
// Exactly one of Region and Position is set.
type VehicleSpec struct {
	ID              string        `yaml:"id"`
	Type            string        `yaml:"type"`
	Name            string        `yaml:"name,omitempty"`
	Region          string        `yaml:"region,omitempty"`
	Position        *PositionSpec `yaml:"position,omitempty"`
	PatientCapacity int           `yaml:"patient_capacity"`
	Crew            []CatererSpec `yaml:"crew,omitempty"`
	Material        []CatererSpec `yaml:"material,omitempty"`
}

// CatererSpec is a personnel or material template loaded into a vehicle.
type CatererSpec struct {
	ID            string       `yaml:"id,omitempty"`
	Type          string       `yaml:"type"`
	Capacity      CapacitySpec `yaml:"capacity"`
	OverrideRange float64      `yaml:"override_range"`
	Range         float64      `yaml:"range"`
}

// CapacitySpec mirrors sim.CanCaterFor. An empty operator means "and".
type CapacitySpec struct {
	Red      int    `yaml:"red"`
	Yellow   int    `yaml:"yellow"`
	Green    int    `yaml:"green"`
	Operator string `yaml:"operator,omitempty"`
}

// PatientSpec declares a single patient. PretriageStatus defaults to Status.
// Exactly one of Region and Position is set.
type PatientSpec struct {
	ID              string        `yaml:"id,omitempty"`
	Name            string        `yaml:"name,omitempty"`
	Status          string        `yaml:"status"`
	PretriageStatus string        `yaml:"pretriage_status,omitempty"`
	Region          string        `yaml:"region,omitempty"`
	Position        *PositionSpec `yaml:"position,omitempty"`
}

// PatientGroupSpec generates Count patients. Statuses are drawn by weight;
// positions are spread uniformly in a square of half-width Spread around
// Center, or the patients are placed in Region.
type PatientGroupSpec struct {
	Count         int                `yaml:"count"`
	Region        string             `yaml:"region,omitempty"`
	Center        *PositionSpec      `yaml:"center,omitempty"`
	Spread        float64            `yaml:"spread,omitempty"`
	StatusWeights map[string]float64 `yaml:"status_weights"`
}

// Load reads and parses a YAML scenario file.
// Uses strict parsing: unrecognized keys (typos) are rejected.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading scenario: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML scenario document.
func Parse(data []byte) (*Scenario, error) {
	var s Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&s); err != nil {
		return nil, fmt.Errorf("parsing scenario: %w", err)
	}
	UpgradeV1ToV2(&s)
	return &s, nil
}

// Validate checks references, names and ranges across the whole scenario.
func (s *Scenario) Validate() error {
	if s.Version != CurrentVersion {
		return fmt.Errorf("unsupported scenario version %q; want %q", s.Version, CurrentVersion)
	}
	if s.ExerciseID == "" {
		return fmt.Errorf("exercise_id is required")
	}
	if r := s.Configuration.MaxTreatmentRange; r != nil {
		if err := validateFiniteNonNegative("configuration.max_treatment_range", *r); err != nil {
			return err
		}
	}
	maxRange := s.maxTreatmentRange()

	transferPoints := make(map[string]bool)
	for i, tp := range s.TransferPoints {
		if tp.ID == "" || transferPoints[tp.ID] {
			return fmt.Errorf("transfer_points[%d]: missing or duplicate id %q", i, tp.ID)
		}
		transferPoints[tp.ID] = true
	}
	hospitals := make(map[string]bool)
	for i, h := range s.Hospitals {
		if h.ID == "" || hospitals[h.ID] {
			return fmt.Errorf("hospitals[%d]: missing or duplicate id %q", i, h.ID)
		}
		if h.TransportDuration < 0 {
			return fmt.Errorf("hospitals[%d]: transport_duration must be >= 0, got %d", i, h.TransportDuration)
		}
		hospitals[h.ID] = true
	}
	for i, tp := range s.TransferPoints {
		for target, d := range tp.Connections {
			if !transferPoints[target] {
				return fmt.Errorf("transfer_points[%d]: connection to unknown transfer point %q", i, target)
			}
			if target == tp.ID {
				return fmt.Errorf("transfer_points[%d]: connection to itself", i)
			}
			if d < 0 {
				return fmt.Errorf("transfer_points[%d]: duration to %s must be >= 0, got %d", i, target, d)
			}
		}
		for h, d := range tp.Hospitals {
			if !hospitals[h] {
				return fmt.Errorf("transfer_points[%d]: unknown hospital %q", i, h)
			}
			if d < 0 {
				return fmt.Errorf("transfer_points[%d]: duration to %s must be >= 0, got %d", i, h, d)
			}
		}
	}

	regions := make(map[string]bool)
	for i, r := range s.Regions {
		prefix := fmt.Sprintf("regions[%d]", i)
		if r.ID == "" || regions[r.ID] {
			return fmt.Errorf("%s: missing or duplicate id %q", prefix, r.ID)
		}
		regions[r.ID] = true
		if r.TransferPoint != "" && !transferPoints[r.TransferPoint] {
			return fmt.Errorf("%s: unknown transfer point %q", prefix, r.TransferPoint)
		}
		if r.Bounds.MinX > r.Bounds.MaxX || r.Bounds.MinY > r.Bounds.MaxY {
			return fmt.Errorf("%s: bounds min must not exceed max", prefix)
		}
		for j, b := range r.Behaviors {
			if _, ok := sim.DefaultBehaviors.Lookup(b.Type); !ok {
				return fmt.Errorf("%s.behaviors[%d]: unknown behavior type %q; valid: %v", prefix, j, b.Type, sim.DefaultBehaviors.Kinds())
			}
		}
	}

	for i, v := range s.Vehicles {
		prefix := fmt.Sprintf("vehicles[%d]", i)
		if v.ID == "" {
			return fmt.Errorf("%s: id is required", prefix)
		}
		if v.Type == "" {
			return fmt.Errorf("%s: type is required", prefix)
		}
		if err := validatePlacement(prefix, v.Region, v.Position, regions); err != nil {
			return err
		}
		if v.PatientCapacity < 0 {
			return fmt.Errorf("%s: patient_capacity must be >= 0, got %d", prefix, v.PatientCapacity)
		}
		for j, c := range v.Crew {
			if err := validateCaterer(fmt.Sprintf("%s.crew[%d]", prefix, j), &c, maxRange); err != nil {
				return err
			}
		}
		for j, c := range v.Material {
			if err := validateCaterer(fmt.Sprintf("%s.material[%d]", prefix, j), &c, maxRange); err != nil {
				return err
			}
		}
	}

	for i, p := range s.Patients {
		prefix := fmt.Sprintf("patients[%d]", i)
		if !sim.ValidPatientStatuses[sim.PatientStatus(p.Status)] {
			return fmt.Errorf("%s: unknown status %q", prefix, p.Status)
		}
		if p.PretriageStatus != "" && !sim.ValidPatientStatuses[sim.PatientStatus(p.PretriageStatus)] {
			return fmt.Errorf("%s: unknown pretriage_status %q", prefix, p.PretriageStatus)
		}
		if err := validatePlacement(prefix, p.Region, p.Position, regions); err != nil {
			return err
		}
	}

	for i, g := range s.PatientGroups {
		if err := validateGroup(fmt.Sprintf("patient_groups[%d]", i), &g, regions); err != nil {
			return err
		}
	}
	return nil
}

func validatePlacement(prefix, region string, pos *PositionSpec, regions map[string]bool) error {
	if (region == "") == (pos == nil) {
		return fmt.Errorf("%s: exactly one of region and position is required", prefix)
	}
	if region != "" && !regions[region] {
		return fmt.Errorf("%s: unknown region %q", prefix, region)
	}
	if pos != nil {
		if err := validateFinite(prefix+".position.x", pos.X); err != nil {
			return err
		}
		return validateFinite(prefix+".position.y", pos.Y)
	}
	return nil
}

func validateCaterer(prefix string, c *CatererSpec, maxRange float64) error {
	if c.Capacity.Red < 0 || c.Capacity.Yellow < 0 || c.Capacity.Green < 0 {
		return fmt.Errorf("%s: capacities must be >= 0", prefix)
	}
	if c.Capacity.Operator != "" && !sim.ValidOperators[sim.LogicalOperator(c.Capacity.Operator)] {
		return fmt.Errorf("%s: unknown operator %q; valid: and, or", prefix, c.Capacity.Operator)
	}
	radii := []struct {
		name  string
		value float64
	}{{"override_range", c.OverrideRange}, {"range", c.Range}}
	for _, r := range radii {
		if err := validateFiniteNonNegative(prefix+"."+r.name, r.value); err != nil {
			return err
		}
		if r.value > maxRange {
			return fmt.Errorf("%s.%s: %v exceeds max_treatment_range %v", prefix, r.name, r.value, maxRange)
		}
	}
	return nil
}

func validateGroup(prefix string, g *PatientGroupSpec, regions map[string]bool) error {
	if g.Count < 0 {
		return fmt.Errorf("%s: count must be >= 0, got %d", prefix, g.Count)
	}
	if err := validatePlacement(prefix, g.Region, g.Center, regions); err != nil {
		return err
	}
	if err := validateFiniteNonNegative(prefix+".spread", g.Spread); err != nil {
		return err
	}
	total := 0.0
	for status, w := range g.StatusWeights {
		if !sim.ValidPatientStatuses[sim.PatientStatus(status)] {
			return fmt.Errorf("%s: unknown status %q in status_weights", prefix, status)
		}
		if err := validateFiniteNonNegative(prefix+".status_weights."+status, w); err != nil {
			return err
		}
		total += w
	}
	if g.Count > 0 && total <= 0 {
		return fmt.Errorf("%s: status_weights must sum to a positive value", prefix)
	}
	return nil
}

func validateFinite(name string, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Errorf("%s must be a finite number, got %f", name, v)
	}
	return nil
}

func validateFiniteNonNegative(name string, v float64) error {
	if err := validateFinite(name, v); err != nil {
		return err
	}
	if v < 0 {
		return fmt.Errorf("%s must be >= 0, got %f", name, v)
	}
	return nil
}

func (s *Scenario) maxTreatmentRange() float64 {
	if s.Configuration.MaxTreatmentRange != nil {
		return *s.Configuration.MaxTreatmentRange
	}
	return sim.DefaultConfiguration().MaxTreatmentRange
}

// ExerciseConfiguration returns the default configuration with the
// scenario's overrides applied.
func (s *Scenario) ExerciseConfiguration() sim.Configuration {
	cfg := sim.DefaultConfiguration()
	if s.Configuration.PretriageEnabled != nil {
		cfg.PretriageEnabled = *s.Configuration.PretriageEnabled
	}
	if s.Configuration.BluePatientsEnabled != nil {
		cfg.BluePatientsEnabled = *s.Configuration.BluePatientsEnabled
	}
	cfg.MaxTreatmentRange = s.maxTreatmentRange()
	return cfg
}
