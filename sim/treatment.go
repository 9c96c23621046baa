package sim

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// treatmentCategory is a capacity bucket, ordered from most to least severe.
type treatmentCategory int

const (
	categoryRed treatmentCategory = iota
	categoryYellow
	categoryGreen
	numCategories
)

// standardPassOrder is the priority of the category-driven pass.
var standardPassOrder = [numCategories]treatmentCategory{categoryRed, categoryYellow, categoryGreen}

// categoryOf maps a visible status to its capacity bucket. White counts as
// yellow; blue and black patients are never treated.
func categoryOf(status PatientStatus) (treatmentCategory, bool) {
	switch status {
	case StatusRed:
		return categoryRed, true
	case StatusYellow, StatusWhite:
		return categoryYellow, true
	case StatusGreen:
		return categoryGreen, true
	}
	return 0, false
}

func (c CanCaterFor) capacities() [numCategories]int {
	return [numCategories]int{c.Red, c.Yellow, c.Green}
}

// couldCaterFor applies the capacity rule for one more patient of category cat,
// given the patients already accepted per category.
func couldCaterFor(capacity CanCaterFor, catered [numCategories]int, cat treatmentCategory) bool {
	caps := capacity.capacities()
	if capacity.LogicalOperator == OperatorOr {
		for c := treatmentCategory(0); c < numCategories; c++ {
			if c != cat && catered[c] > 0 {
				return false
			}
		}
		return catered[cat] < caps[cat]
	}
	// "and": a new patient of category cat counts against every threshold at
	// or below its severity. Each of those must keep a free slot.
	capSum, usedSum := 0, 0
	for c := treatmentCategory(0); c < numCategories; c++ {
		capSum += caps[c]
		usedSum += catered[c]
		if c >= cat && capSum-usedSum < 1 {
			return false
		}
	}
	return true
}

// UpdateTreatments recomputes caterer/patient assignments after the given
// elements changed position, capacity, status or existence. Each caterer is
// recomputed at most once per call, however many changed elements reach it.
//
// All position changes of the update must be applied before calling.
func (s *ExerciseState) UpdateTreatments(refs ...ElementRef) error {
	return s.UpdateTreatmentsSkipping(make(map[ElementRef]bool), refs...)
}

// UpdateTreatmentsSkipping is UpdateTreatments with a caller-supplied set of
// caterers that were already recomputed in the enclosing update. Caterers
// recomputed here are added to skip.
func (s *ExerciseState) UpdateTreatmentsSkipping(skip map[ElementRef]bool, refs ...ElementRef) error {
	u := treatmentUpdate{state: s, done: skip}
	for _, ref := range refs {
		var err error
		switch ref.Kind {
		case KindPatient:
			err = u.patient(ref.ID)
		case KindPersonnel, KindMaterial:
			if !u.done[ref] {
				err = u.caterer(ref)
			}
		default:
			// Other elements never take part in treatments.
		}
		if err != nil {
			return fmt.Errorf("updating treatments for %s %s: %w", ref.Kind, ref.ID, err)
		}
	}
	return nil
}

type treatmentUpdate struct {
	state *ExerciseState
	done  map[ElementRef]bool
}

// patient recomputes every caterer currently treating the patient, then every
// caterer that could reach its (new) position.
func (u *treatmentUpdate) patient(id string) error {
	p, err := u.state.Patient(id)
	if err != nil {
		return err
	}
	var current []ElementRef
	for _, cid := range p.AssignedPersonnelIDs.Sorted() {
		current = append(current, PersonnelRef(cid))
	}
	for _, cid := range p.AssignedMaterialIDs.Sorted() {
		current = append(current, MaterialRef(cid))
	}
	for _, ref := range current {
		if u.done[ref] {
			continue
		}
		if err := u.caterer(ref); err != nil {
			return err
		}
	}

	if !p.Position.OnMap() {
		return nil
	}
	for _, kind := range []ElementKind{KindPersonnel, KindMaterial} {
		tree := u.state.SpatialTrees.forKind(kind)
		for _, cid := range tree.SearchRadius(p.Position.Point(), u.state.Configuration.MaxTreatmentRange) {
			ref := ElementRef{Kind: kind, ID: cid}
			if u.done[ref] {
				continue
			}
			if err := u.caterer(ref); err != nil {
				return err
			}
		}
	}
	return nil
}

// caterer resets and reassigns one caterer.
func (u *treatmentUpdate) caterer(ref ElementRef) error {
	u.done[ref] = true
	c, err := u.state.caterer(ref)
	if err != nil {
		return err
	}
	if err := u.state.resetTreatments(ref.Kind, c); err != nil {
		return err
	}
	if c.CanCaterFor.Total() == 0 || !c.Position.OnMap() {
		return nil
	}

	cfg := u.state.Configuration
	tree := u.state.SpatialTrees.Patients
	center := c.Position.Point()
	var catered [numCategories]int
	total := c.CanCaterFor.Total()
	accepted := 0

	assign := func(p *Patient, cat treatmentCategory) {
		catered[cat]++
		accepted++
		c.AssignedPatientIDs.Add(p.ID)
		p.assignedSet(ref.Kind).Add(c.ID)
	}

	// Override pass: nearest first, category ignored for ordering.
	handled := make(map[string]bool)
	for _, pid := range tree.SearchRadius(center, c.OverrideTreatmentRange) {
		handled[pid] = true
		if accepted >= total {
			continue
		}
		p, err := u.state.Patient(pid)
		if err != nil {
			return err
		}
		cat, ok := categoryOf(p.VisibleStatus(cfg))
		if ok && couldCaterFor(c.CanCaterFor, catered, cat) {
			assign(p, cat)
		}
	}

	if accepted >= total || c.TreatmentRange <= 0 {
		return nil
	}

	// Standard pass: worst category first, nearest first within a category.
	var candidates [numCategories][]*Patient
	for _, pid := range tree.SearchRadius(center, c.TreatmentRange) {
		if handled[pid] {
			continue
		}
		p, err := u.state.Patient(pid)
		if err != nil {
			return err
		}
		if cat, ok := categoryOf(p.VisibleStatus(cfg)); ok {
			candidates[cat] = append(candidates[cat], p)
		}
	}
	for _, cat := range standardPassOrder {
		for _, p := range candidates[cat] {
			if !couldCaterFor(c.CanCaterFor, catered, cat) {
				// Later candidates of this category cannot fit either.
				break
			}
			assign(p, cat)
		}
	}
	logrus.Debugf("treatments: %s %s treats %d patient(s)", ref.Kind, c.ID, accepted)
	return nil
}

// resetTreatments removes every assignment of c on both sides.
func (s *ExerciseState) resetTreatments(kind ElementKind, c *Caterer) error {
	for _, pid := range c.AssignedPatientIDs.Sorted() {
		p, err := s.Patient(pid)
		if err != nil {
			return fmt.Errorf("treatment reference of %s %s is dangling: %w", kind, c.ID, err)
		}
		p.assignedSet(kind).Remove(c.ID)
	}
	c.AssignedPatientIDs = IDSet{}
	return nil
}

// CheckTreatmentConsistency verifies that patient and caterer references are
// mirror images of each other.
func (s *ExerciseState) CheckTreatmentConsistency() error {
	check := func(kind ElementKind, c *Caterer) error {
		for _, pid := range c.AssignedPatientIDs.Sorted() {
			p, err := s.Patient(pid)
			if err != nil {
				return fmt.Errorf("%s %s treats unknown patient: %w", kind, c.ID, err)
			}
			if !p.assignedSet(kind).Has(c.ID) {
				return fmt.Errorf("%s %s treats patient %s without back-reference", kind, c.ID, pid)
			}
		}
		return nil
	}
	for _, id := range sortedKeys(s.Personnel) {
		if err := check(KindPersonnel, &s.Personnel[id].Caterer); err != nil {
			return err
		}
	}
	for _, id := range sortedKeys(s.Materials) {
		if err := check(KindMaterial, &s.Materials[id].Caterer); err != nil {
			return err
		}
	}
	for _, id := range sortedKeys(s.Patients) {
		p := s.Patients[id]
		for _, kind := range []ElementKind{KindPersonnel, KindMaterial} {
			for _, cid := range p.assignedSet(kind).Sorted() {
				c, err := s.caterer(ElementRef{Kind: kind, ID: cid})
				if err != nil {
					return fmt.Errorf("patient %s references unknown caterer: %w", id, err)
				}
				if !c.AssignedPatientIDs.Has(id) {
					return fmt.Errorf("patient %s references %s %s without forward reference", id, kind, cid)
				}
			}
		}
	}
	return nil
}
