package sim

import (
	"slices"

	"github.com/exercise-sim/exercise-sim/sim/spatial"
)

// ElementKind names a collection of the exercise snapshot.
type ElementKind string

const (
	KindPatient         ElementKind = "patient"
	KindPersonnel       ElementKind = "personnel"
	KindMaterial        ElementKind = "material"
	KindVehicle         ElementKind = "vehicle"
	KindSimulatedRegion ElementKind = "simulatedRegion"
	KindTransferPoint   ElementKind = "transferPoint"
	KindHospital        ElementKind = "hospital"
	KindRadiogram       ElementKind = "radiogram"
)

// ElementRef addresses one element of the snapshot.
type ElementRef struct {
	Kind ElementKind
	ID   string
}

func PatientRef(id string) ElementRef   { return ElementRef{Kind: KindPatient, ID: id} }
func PersonnelRef(id string) ElementRef { return ElementRef{Kind: KindPersonnel, ID: id} }
func MaterialRef(id string) ElementRef  { return ElementRef{Kind: KindMaterial, ID: id} }

// IDSet is a set of element ids persisted as a JSON object of true values.
type IDSet map[string]bool

// Add inserts id, allocating the set if needed.
func (s *IDSet) Add(id string) {
	if *s == nil {
		*s = make(IDSet)
	}
	(*s)[id] = true
}

// Remove deletes id; removing a missing id is a no-op.
func (s IDSet) Remove(id string) { delete(s, id) }

// Has reports membership.
func (s IDSet) Has(id string) bool { return s[id] }

// Sorted returns the members in ascending order.
func (s IDSet) Sorted() []string {
	ids := make([]string, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// PositionType tells where an element currently is.
type PositionType string

const (
	PositionCoordinates     PositionType = "coordinates"
	PositionSimulatedRegion PositionType = "simulatedRegion"
	PositionVehicle         PositionType = "vehicle"
	PositionTransfer        PositionType = "transfer"
	PositionHospital        PositionType = "hospital"
	PositionNotPresent      PositionType = "notPresent"
)

// Position locates an element either on the map (X, Y) or inside a parent
// element (ParentID).
type Position struct {
	Type     PositionType `json:"type"`
	X        float64      `json:"x,omitempty"`
	Y        float64      `json:"y,omitempty"`
	ParentID string       `json:"parentId,omitempty"`
}

func MapPosition(x, y float64) Position {
	return Position{Type: PositionCoordinates, X: x, Y: y}
}

func InSimulatedRegion(regionID string) Position {
	return Position{Type: PositionSimulatedRegion, ParentID: regionID}
}

func InVehicle(vehicleID string) Position {
	return Position{Type: PositionVehicle, ParentID: vehicleID}
}

func InTransfer(transferPointID string) Position {
	return Position{Type: PositionTransfer, ParentID: transferPointID}
}

func InHospital(hospitalID string) Position {
	return Position{Type: PositionHospital, ParentID: hospitalID}
}

func NotPresent() Position {
	return Position{Type: PositionNotPresent}
}

// OnMap reports whether the element has map coordinates.
func (p Position) OnMap() bool { return p.Type == PositionCoordinates }

// Point returns the map coordinates. Only meaningful when OnMap is true.
func (p Position) Point() spatial.Point { return spatial.Point{X: p.X, Y: p.Y} }

// IsIn reports whether the element sits inside parent of the given type.
func (p Position) IsIn(t PositionType, parentID string) bool {
	return p.Type == t && p.ParentID == parentID
}

// PatientStatus is a triage category.
type PatientStatus string

const (
	StatusGreen  PatientStatus = "green"
	StatusYellow PatientStatus = "yellow"
	StatusRed    PatientStatus = "red"
	StatusBlack  PatientStatus = "black"
	StatusBlue   PatientStatus = "blue"
	StatusWhite  PatientStatus = "white"
)

// ValidPatientStatuses is the set of recognized triage categories.
var ValidPatientStatuses = map[PatientStatus]bool{
	StatusGreen: true, StatusYellow: true, StatusRed: true,
	StatusBlack: true, StatusBlue: true, StatusWhite: true,
}

// Patient is an injured person. Its assigned caterer sets are written only by
// the treatment engine and always mirror the caterers' AssignedPatientIDs.
type Patient struct {
	ID                   string        `json:"id"`
	Name                 string        `json:"name,omitempty"`
	Position             Position      `json:"position"`
	RealStatus           PatientStatus `json:"realStatus"`
	PretriageStatus      PatientStatus `json:"pretriageStatus"`
	AssignedPersonnelIDs IDSet         `json:"assignedPersonnelIds"`
	AssignedMaterialIDs  IDSet         `json:"assignedMaterialIds"`
}

// VisibleStatus is the category participants see: the pretriage status when
// pretriage is enabled, the real one otherwise. Blue is shown as red when blue
// patients are disabled.
func (p *Patient) VisibleStatus(cfg Configuration) PatientStatus {
	status := p.RealStatus
	if cfg.PretriageEnabled {
		status = p.PretriageStatus
	}
	if status == StatusBlue && !cfg.BluePatientsEnabled {
		return StatusRed
	}
	return status
}

func (p *Patient) assignedSet(kind ElementKind) *IDSet {
	if kind == KindMaterial {
		return &p.AssignedMaterialIDs
	}
	return &p.AssignedPersonnelIDs
}

// LogicalOperator selects how a caterer's per-category capacities combine.
type LogicalOperator string

const (
	// OperatorAnd makes capacities cumulative downward: spare red capacity
	// absorbs yellow or green patients, spare yellow absorbs green.
	OperatorAnd LogicalOperator = "and"
	// OperatorOr makes categories exclusive: after the first accepted patient
	// only patients of the same category are accepted.
	OperatorOr LogicalOperator = "or"
)

// CanCaterFor is a caterer's capacity descriptor.
type CanCaterFor struct {
	Red             int             `json:"red"`
	Yellow          int             `json:"yellow"`
	Green           int             `json:"green"`
	LogicalOperator LogicalOperator `json:"logicalOperator"`
}

// Total returns the summed capacity over all categories.
func (c CanCaterFor) Total() int { return c.Red + c.Yellow + c.Green }

// Caterer holds what personnel and material share: a position, a capacity
// and the two treatment radii.
type Caterer struct {
	ID       string   `json:"id"`
	Name     string   `json:"name,omitempty"`
	Position Position `json:"position"`
	// VehicleID is the vehicle the caterer belongs to, if any.
	VehicleID   string      `json:"vehicleId,omitempty"`
	CanCaterFor CanCaterFor `json:"canCaterFor"`
	// OverrideTreatmentRange is the specific radius: patients inside are
	// treated nearest first regardless of category.
	OverrideTreatmentRange float64 `json:"overrideTreatmentRange"`
	// TreatmentRange is the general radius of the category-priority pass.
	TreatmentRange     float64 `json:"treatmentRange"`
	AssignedPatientIDs IDSet   `json:"assignedPatientIds"`
}

// Personnel is a caterer with a qualification.
type Personnel struct {
	Caterer
	PersonnelType string `json:"personnelType"`
}

// Material is a caterer without qualification (stretchers, kits, ...).
type Material struct {
	Caterer
	MaterialType string `json:"materialType"`
}

// OccupationType describes what a vehicle is currently busy with.
type OccupationType string

const (
	OccupationNone               OccupationType = ""
	OccupationUnloading          OccupationType = "unloading"
	OccupationWaitingForTransfer OccupationType = "waitingForTransfer"
	OccupationTransfer           OccupationType = "transfer"
)

// VehicleOccupation ties a busy vehicle to the activity that owns it.
type VehicleOccupation struct {
	Type       OccupationType `json:"type,omitempty"`
	ActivityID string         `json:"activityId,omitempty"`
}

// Vehicle carries patients, personnel and material.
type Vehicle struct {
	ID              string            `json:"id"`
	Name            string            `json:"name,omitempty"`
	VehicleType     string            `json:"vehicleType"`
	Position        Position          `json:"position"`
	PatientCapacity int               `json:"patientCapacity"`
	PatientIDs      IDSet             `json:"patientIds"`
	PersonnelIDs    IDSet             `json:"personnelIds"`
	MaterialIDs     IDSet             `json:"materialIds"`
	Occupation      VehicleOccupation `json:"occupation"`
}

// Idle reports whether the vehicle is free for a new task.
func (v *Vehicle) Idle() bool { return v.Occupation.Type == OccupationNone }

// TransferPoint connects regions and hospitals. Durations are in milliseconds.
type TransferPoint struct {
	ID                      string           `json:"id"`
	InternalName            string           `json:"internalName"`
	ExternalName            string           `json:"externalName,omitempty"`
	Position                Position         `json:"position"`
	ReachableTransferPoints map[string]int64 `json:"reachableTransferPoints"`
	ReachableHospitals      map[string]int64 `json:"reachableHospitals"`
}

// Hospital receives transported patients.
type Hospital struct {
	ID                string `json:"id"`
	Name              string `json:"name"`
	TransportDuration int64  `json:"transportDuration"`
	PatientIDs        IDSet  `json:"patientIds"`
}

// SimulatedRegion is an independently scheduled sub-area with its own
// behaviors, activities and inbound event queue.
type SimulatedRegion struct {
	ID              string                   `json:"id"`
	Name            string                   `json:"name"`
	Bounds          spatial.Rect             `json:"bounds"`
	TransferPointID string                   `json:"transferPointId,omitempty"`
	Behaviors       []BehaviorState          `json:"behaviors"`
	Activities      map[string]ActivityState `json:"activities"`
	InEvents        []Event                  `json:"inEvents"`
}

// Configuration holds exercise-wide switches.
type Configuration struct {
	PretriageEnabled    bool `json:"pretriageEnabled"`
	BluePatientsEnabled bool `json:"bluePatientsEnabled"`
	// MaxTreatmentRange bounds every caterer radius. Patient updates scan
	// this far for caterers that might now reach them.
	MaxTreatmentRange float64 `json:"maxTreatmentRange"`
}

// DefaultConfiguration returns the configuration used when a scenario sets none.
func DefaultConfiguration() Configuration {
	return Configuration{PretriageEnabled: true, BluePatientsEnabled: false, MaxTreatmentRange: 5.5}
}

// SpatialTrees indexes map positions per tracked element category.
type SpatialTrees struct {
	Patients  *spatial.Tree `json:"patients"`
	Personnel *spatial.Tree `json:"personnel"`
	Materials *spatial.Tree `json:"materials"`
}

func (t *SpatialTrees) forKind(kind ElementKind) *spatial.Tree {
	switch kind {
	case KindPatient:
		return t.Patients
	case KindPersonnel:
		return t.Personnel
	case KindMaterial:
		return t.Materials
	}
	return nil
}

// ExerciseState is the world snapshot. It is mutated only as a draft inside
// whole-snapshot operations (see Engine.Advance) and owns its spatial trees
// and generator state exclusively.
type ExerciseState struct {
	// ID is the exercise's stable identifier; it seeds the generator.
	ID               string                      `json:"id"`
	CurrentTime      int64                       `json:"currentTime"`
	Configuration    Configuration               `json:"configuration"`
	RandomState      RandomState                 `json:"randomState"`
	Patients         map[string]*Patient         `json:"patients"`
	Personnel        map[string]*Personnel       `json:"personnel"`
	Materials        map[string]*Material        `json:"materials"`
	Vehicles         map[string]*Vehicle         `json:"vehicles"`
	SimulatedRegions map[string]*SimulatedRegion `json:"simulatedRegions"`
	TransferPoints   map[string]*TransferPoint   `json:"transferPoints"`
	Hospitals        map[string]*Hospital        `json:"hospitals"`
	Radiograms       map[string]*Radiogram       `json:"radiograms"`
	SpatialTrees     SpatialTrees                `json:"spatialTrees"`
}

// NewExerciseState creates an empty exercise identified by id.
func NewExerciseState(id string, cfg Configuration) *ExerciseState {
	s := &ExerciseState{
		ID:            id,
		Configuration: cfg,
		RandomState:   NewRandomState(),
	}
	s.ensureCollections()
	return s
}

// ensureCollections allocates every nil collection, e.g. after decoding a
// document that omitted some of them.
func (s *ExerciseState) ensureCollections() {
	if s.Patients == nil {
		s.Patients = make(map[string]*Patient)
	}
	if s.Personnel == nil {
		s.Personnel = make(map[string]*Personnel)
	}
	if s.Materials == nil {
		s.Materials = make(map[string]*Material)
	}
	if s.Vehicles == nil {
		s.Vehicles = make(map[string]*Vehicle)
	}
	if s.SimulatedRegions == nil {
		s.SimulatedRegions = make(map[string]*SimulatedRegion)
	}
	if s.TransferPoints == nil {
		s.TransferPoints = make(map[string]*TransferPoint)
	}
	if s.Hospitals == nil {
		s.Hospitals = make(map[string]*Hospital)
	}
	if s.Radiograms == nil {
		s.Radiograms = make(map[string]*Radiogram)
	}
	if s.SpatialTrees.Patients == nil {
		s.SpatialTrees.Patients = spatial.New()
	}
	if s.SpatialTrees.Personnel == nil {
		s.SpatialTrees.Personnel = spatial.New()
	}
	if s.SpatialTrees.Materials == nil {
		s.SpatialTrees.Materials = spatial.New()
	}
	for _, region := range s.SimulatedRegions {
		if region.Activities == nil {
			region.Activities = make(map[string]ActivityState)
		}
	}
}

// Random returns a generator advancing this snapshot's random state.
func (s *ExerciseState) Random() *Generator {
	return NewGenerator(s.ID, &s.RandomState)
}

// NewID draws a fresh deterministic element id.
func (s *ExerciseState) NewID() string {
	return s.Random().NextUUID()
}

func (s *ExerciseState) Patient(id string) (*Patient, error) {
	return lookup(s.Patients, KindPatient, id)
}

func (s *ExerciseState) PersonnelByID(id string) (*Personnel, error) {
	return lookup(s.Personnel, KindPersonnel, id)
}

func (s *ExerciseState) Material(id string) (*Material, error) {
	return lookup(s.Materials, KindMaterial, id)
}

func (s *ExerciseState) Vehicle(id string) (*Vehicle, error) {
	return lookup(s.Vehicles, KindVehicle, id)
}

func (s *ExerciseState) SimulatedRegion(id string) (*SimulatedRegion, error) {
	return lookup(s.SimulatedRegions, KindSimulatedRegion, id)
}

func (s *ExerciseState) TransferPoint(id string) (*TransferPoint, error) {
	return lookup(s.TransferPoints, KindTransferPoint, id)
}

func (s *ExerciseState) Hospital(id string) (*Hospital, error) {
	return lookup(s.Hospitals, KindHospital, id)
}

func (s *ExerciseState) Radiogram(id string) (*Radiogram, error) {
	return lookup(s.Radiograms, KindRadiogram, id)
}

// caterer resolves a personnel or material reference to its shared part.
func (s *ExerciseState) caterer(ref ElementRef) (*Caterer, error) {
	switch ref.Kind {
	case KindPersonnel:
		p, err := s.PersonnelByID(ref.ID)
		if err != nil {
			return nil, err
		}
		return &p.Caterer, nil
	case KindMaterial:
		m, err := s.Material(ref.ID)
		if err != nil {
			return nil, err
		}
		return &m.Caterer, nil
	}
	return nil, &ElementNotFoundError{Kind: ref.Kind, ID: ref.ID}
}

// sortedKeys returns map keys in ascending order; every sweep over a snapshot
// collection goes through it so iteration is identical on every participant.
func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
