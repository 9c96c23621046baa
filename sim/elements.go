package sim

import (
	"errors"
	"fmt"
	"math"
	"slices"

	"github.com/exercise-sim/exercise-sim/sim/spatial"
)

// Spacing of elements laid out around an unloaded vehicle, in map units.
const (
	unloadSpacing     = 1.0
	unloadRowDistance = 2.0
)

// AddPatient inserts a new patient, indexing it if it is on the map.
// An empty ID is replaced by a generated one.
func (s *ExerciseState) AddPatient(p *Patient) error {
	if p.ID == "" {
		p.ID = s.NewID()
	}
	if _, exists := s.Patients[p.ID]; exists {
		return fmt.Errorf("patient %s already exists", p.ID)
	}
	if p.AssignedPersonnelIDs == nil {
		p.AssignedPersonnelIDs = IDSet{}
	}
	if p.AssignedMaterialIDs == nil {
		p.AssignedMaterialIDs = IDSet{}
	}
	s.Patients[p.ID] = p
	s.indexInsert(KindPatient, p.ID, p.Position)
	return s.UpdateTreatments(PatientRef(p.ID))
}

// AddPersonnel inserts a new personnel element.
func (s *ExerciseState) AddPersonnel(p *Personnel) error {
	if err := s.prepareCaterer(KindPersonnel, &p.Caterer); err != nil {
		return err
	}
	s.Personnel[p.ID] = p
	s.indexInsert(KindPersonnel, p.ID, p.Position)
	return s.UpdateTreatments(PersonnelRef(p.ID))
}

// AddMaterial inserts a new material element.
func (s *ExerciseState) AddMaterial(m *Material) error {
	if err := s.prepareCaterer(KindMaterial, &m.Caterer); err != nil {
		return err
	}
	s.Materials[m.ID] = m
	s.indexInsert(KindMaterial, m.ID, m.Position)
	return s.UpdateTreatments(MaterialRef(m.ID))
}

func (s *ExerciseState) prepareCaterer(kind ElementKind, c *Caterer) error {
	if c.ID == "" {
		c.ID = s.NewID()
	}
	if _, err := s.caterer(ElementRef{Kind: kind, ID: c.ID}); err == nil {
		return fmt.Errorf("%s %s already exists", kind, c.ID)
	}
	if c.CanCaterFor.LogicalOperator == "" {
		c.CanCaterFor.LogicalOperator = OperatorAnd
	}
	errs := checkCapacity(kind, c.ID, c.CanCaterFor)
	errs = append(errs, s.checkRanges(kind, c.ID, c))
	if err := errors.Join(errs...); err != nil {
		return err
	}
	c.AssignedPatientIDs = IDSet{}
	return nil
}

// AddVehicle inserts a vehicle. Its contents must be added separately with
// positions inside the vehicle.
func (s *ExerciseState) AddVehicle(v *Vehicle) error {
	if v.ID == "" {
		v.ID = s.NewID()
	}
	if _, exists := s.Vehicles[v.ID]; exists {
		return fmt.Errorf("vehicle %s already exists", v.ID)
	}
	for _, set := range []*IDSet{&v.PatientIDs, &v.PersonnelIDs, &v.MaterialIDs} {
		if *set == nil {
			*set = IDSet{}
		}
	}
	s.Vehicles[v.ID] = v
	return nil
}

// AddTransferPoint inserts a transfer point without connections.
func (s *ExerciseState) AddTransferPoint(tp *TransferPoint) error {
	if tp.ID == "" {
		tp.ID = s.NewID()
	}
	if _, exists := s.TransferPoints[tp.ID]; exists {
		return fmt.Errorf("transfer point %s already exists", tp.ID)
	}
	if tp.ReachableTransferPoints == nil {
		tp.ReachableTransferPoints = make(map[string]int64)
	}
	if tp.ReachableHospitals == nil {
		tp.ReachableHospitals = make(map[string]int64)
	}
	s.TransferPoints[tp.ID] = tp
	return nil
}

// ConnectTransferPoints links two transfer points in both directions.
func (s *ExerciseState) ConnectTransferPoints(a, b string, duration int64) error {
	tpA, err := s.TransferPoint(a)
	if err != nil {
		return err
	}
	tpB, err := s.TransferPoint(b)
	if err != nil {
		return err
	}
	if duration < 0 {
		return fmt.Errorf("transfer duration must be >= 0, got %d", duration)
	}
	tpA.ReachableTransferPoints[b] = duration
	tpB.ReachableTransferPoints[a] = duration
	return nil
}

// AddHospital inserts a hospital.
func (s *ExerciseState) AddHospital(h *Hospital) error {
	if h.ID == "" {
		h.ID = s.NewID()
	}
	if _, exists := s.Hospitals[h.ID]; exists {
		return fmt.Errorf("hospital %s already exists", h.ID)
	}
	if h.PatientIDs == nil {
		h.PatientIDs = IDSet{}
	}
	s.Hospitals[h.ID] = h
	return nil
}

// AddSimulatedRegion inserts a region with no behaviors.
func (s *ExerciseState) AddSimulatedRegion(r *SimulatedRegion) error {
	if r.ID == "" {
		r.ID = s.NewID()
	}
	if _, exists := s.SimulatedRegions[r.ID]; exists {
		return fmt.Errorf("simulated region %s already exists", r.ID)
	}
	if r.TransferPointID != "" {
		if _, err := s.TransferPoint(r.TransferPointID); err != nil {
			return err
		}
	}
	if r.Activities == nil {
		r.Activities = make(map[string]ActivityState)
	}
	s.SimulatedRegions[r.ID] = r
	return nil
}

func (s *ExerciseState) positionOf(ref ElementRef) (*Position, error) {
	switch ref.Kind {
	case KindPatient:
		p, err := s.Patient(ref.ID)
		if err != nil {
			return nil, err
		}
		return &p.Position, nil
	case KindPersonnel, KindMaterial:
		c, err := s.caterer(ref)
		if err != nil {
			return nil, err
		}
		return &c.Position, nil
	case KindVehicle:
		v, err := s.Vehicle(ref.ID)
		if err != nil {
			return nil, err
		}
		return &v.Position, nil
	}
	return nil, fmt.Errorf("%s elements have no position", ref.Kind)
}

func (s *ExerciseState) indexInsert(kind ElementKind, id string, pos Position) {
	if tree := s.SpatialTrees.forKind(kind); tree != nil && pos.OnMap() {
		tree.Insert(id, pos.Point())
	}
}

func (s *ExerciseState) indexRemove(kind ElementKind, id string, pos Position) error {
	tree := s.SpatialTrees.forKind(kind)
	if tree == nil || !pos.OnMap() {
		return nil
	}
	if !tree.Remove(id, pos.Point()) {
		return fmt.Errorf("%s %s missing from spatial index at (%v, %v)", kind, id, pos.X, pos.Y)
	}
	return nil
}

// placeElement changes a position and keeps the spatial index in sync,
// without recomputing treatments.
func (s *ExerciseState) placeElement(ref ElementRef, to Position) error {
	pos, err := s.positionOf(ref)
	if err != nil {
		return err
	}
	if err := s.indexRemove(ref.Kind, ref.ID, *pos); err != nil {
		return err
	}
	*pos = to
	s.indexInsert(ref.Kind, ref.ID, to)
	return nil
}

// SetPosition moves an element and recomputes the affected treatments.
func (s *ExerciseState) SetPosition(ref ElementRef, to Position) error {
	return s.SetPositions(map[ElementRef]Position{ref: to})
}

// SetPositions moves several elements and recomputes treatments once for all
// of them, so linked elements moving together are not recomputed repeatedly.
func (s *ExerciseState) SetPositions(moves map[ElementRef]Position) error {
	refs := sortedRefs(moves)
	for _, ref := range refs {
		if err := s.placeElement(ref, moves[ref]); err != nil {
			return err
		}
	}
	return s.UpdateTreatments(refs...)
}

func sortedRefs(moves map[ElementRef]Position) []ElementRef {
	refs := make([]ElementRef, 0, len(moves))
	for ref := range moves {
		refs = append(refs, ref)
	}
	// Patients first so their caterers are recomputed with final positions of
	// everything; then caterers by kind and id.
	kindOrder := map[ElementKind]int{KindPatient: 0, KindPersonnel: 1, KindMaterial: 2, KindVehicle: 3}
	sortFunc := func(a, b ElementRef) int {
		if ka, kb := kindOrder[a.Kind], kindOrder[b.Kind]; ka != kb {
			return ka - kb
		}
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	}
	slices.SortFunc(refs, sortFunc)
	return refs
}

// SetPatientStatus changes a patient's real and pretriage status.
func (s *ExerciseState) SetPatientStatus(id string, real, pretriage PatientStatus) error {
	p, err := s.Patient(id)
	if err != nil {
		return err
	}
	p.RealStatus = real
	p.PretriageStatus = pretriage
	return s.UpdateTreatments(PatientRef(id))
}

// SetCanCaterFor changes a caterer's capacity.
func (s *ExerciseState) SetCanCaterFor(ref ElementRef, capacity CanCaterFor) error {
	c, err := s.caterer(ref)
	if err != nil {
		return err
	}
	if capacity.LogicalOperator == "" {
		capacity.LogicalOperator = OperatorAnd
	}
	if err := errors.Join(checkCapacity(ref.Kind, ref.ID, capacity)...); err != nil {
		return err
	}
	c.CanCaterFor = capacity
	return s.UpdateTreatments(ref)
}

// RemovePatient deletes a patient and releases every caterer treating it.
func (s *ExerciseState) RemovePatient(id string) error {
	if err := s.SetPosition(PatientRef(id), NotPresent()); err != nil {
		return err
	}
	delete(s.Patients, id)
	return nil
}

// RemoveCaterer deletes a personnel or material element.
func (s *ExerciseState) RemoveCaterer(ref ElementRef) error {
	if err := s.SetPosition(ref, NotPresent()); err != nil {
		return err
	}
	switch ref.Kind {
	case KindPersonnel:
		delete(s.Personnel, ref.ID)
	case KindMaterial:
		delete(s.Materials, ref.ID)
	}
	return nil
}

// vehicleContent lists the references of everything loaded into v.
func vehicleContent(v *Vehicle) []ElementRef {
	var refs []ElementRef
	for _, id := range v.PatientIDs.Sorted() {
		refs = append(refs, PatientRef(id))
	}
	for _, id := range v.PersonnelIDs.Sorted() {
		refs = append(refs, PersonnelRef(id))
	}
	for _, id := range v.MaterialIDs.Sorted() {
		refs = append(refs, MaterialRef(id))
	}
	return refs
}

// UnloadVehicle places everything in a vehicle on the map around it and
// recomputes treatments in a single update. Patients are laid out in a row
// below the vehicle, personnel and material in a row above.
func (s *ExerciseState) UnloadVehicle(vehicleID string) error {
	v, err := s.Vehicle(vehicleID)
	if err != nil {
		return err
	}
	if !v.Position.OnMap() {
		return fmt.Errorf("vehicle %s is not on the map", vehicleID)
	}
	moves := make(map[ElementRef]Position)
	var patients, caterers []ElementRef
	for _, ref := range vehicleContent(v) {
		if ref.Kind == KindPatient {
			patients = append(patients, ref)
		} else {
			caterers = append(caterers, ref)
		}
	}
	layoutRow(moves, patients, v.Position.Point(), -unloadRowDistance)
	layoutRow(moves, caterers, v.Position.Point(), unloadRowDistance)

	v.PatientIDs = IDSet{}
	v.PersonnelIDs = IDSet{}
	v.MaterialIDs = IDSet{}
	return s.SetPositions(moves)
}

func layoutRow(moves map[ElementRef]Position, refs []ElementRef, center spatial.Point, dy float64) {
	width := float64(len(refs)-1) * unloadSpacing
	for i, ref := range refs {
		x := center.X - width/2 + float64(i)*unloadSpacing
		moves[ref] = MapPosition(roundCoordinate(x), roundCoordinate(center.Y+dy))
	}
}

// roundCoordinate keeps laid-out coordinates free of accumulated float noise.
func roundCoordinate(v float64) float64 {
	return math.Round(v*1000) / 1000
}

// MoveVehicleContent sets the position of everything inside v, e.g. when the
// content is handed over to a simulated region.
func (s *ExerciseState) MoveVehicleContent(v *Vehicle, to Position) error {
	moves := make(map[ElementRef]Position)
	for _, ref := range vehicleContent(v) {
		moves[ref] = to
	}
	v.PatientIDs = IDSet{}
	v.PersonnelIDs = IDSet{}
	v.MaterialIDs = IDSet{}
	return s.SetPositions(moves)
}
