package sim

import "fmt"

// RadiogramType names the report kinds a region publishes to operators.
type RadiogramType string

const (
	RadiogramResourceRequest           RadiogramType = "resourceRequest"
	RadiogramPatientCount              RadiogramType = "patientCount"
	RadiogramTransferConnectionMissing RadiogramType = "transferConnectionMissing"
)

// RadiogramStatus is the publication lifecycle of a radiogram.
type RadiogramStatus string

const (
	RadiogramUnpublished RadiogramStatus = "unpublished"
	RadiogramPublished   RadiogramStatus = "published"
	RadiogramAccepted    RadiogramStatus = "accepted"
	RadiogramDone        RadiogramStatus = "done"
)

// Outstanding reports whether operators have not yet picked the radiogram up.
func (s RadiogramStatus) Outstanding() bool {
	return s == RadiogramUnpublished || s == RadiogramPublished
}

// Radiogram is a structured status report from a region to human operators.
// Only the payload fields of its Type are set.
type Radiogram struct {
	ID                string          `json:"id"`
	Type              RadiogramType   `json:"type"`
	Status            RadiogramStatus `json:"status"`
	Key               string          `json:"key,omitempty"`
	SimulatedRegionID string          `json:"simulatedRegionId"`
	CreatedAt         int64           `json:"createdAt"`
	// Supersedes is the id of an already handled radiogram with the same key
	// that this one replaces.
	Supersedes       string           `json:"supersedes,omitempty"`
	RequiredResource *VehicleResource `json:"requiredResource,omitempty"`
	PatientCount     map[string]int   `json:"patientCount,omitempty"`
	TransferPointID  string           `json:"transferPointId,omitempty"`
	TargetRegionID   string           `json:"targetRegionId,omitempty"`
}

// publishRadiogram assigns an id and stores r as published.
func (s *ExerciseState) publishRadiogram(r *Radiogram) *Radiogram {
	r.ID = s.NewID()
	r.Status = RadiogramPublished
	r.CreatedAt = s.CurrentTime
	s.Radiograms[r.ID] = r
	return r
}

// AcceptRadiogram marks a published radiogram as taken by an operator.
func (s *ExerciseState) AcceptRadiogram(id string) error {
	r, err := s.Radiogram(id)
	if err != nil {
		return err
	}
	if !r.Status.Outstanding() {
		return fmt.Errorf("radiogram %s is already %s", id, r.Status)
	}
	r.Status = RadiogramAccepted
	return nil
}

// MarkRadiogramDone closes an accepted radiogram.
func (s *ExerciseState) MarkRadiogramDone(id string) error {
	r, err := s.Radiogram(id)
	if err != nil {
		return err
	}
	if r.Status != RadiogramAccepted {
		return fmt.Errorf("radiogram %s must be accepted before done, is %s", id, r.Status)
	}
	r.Status = RadiogramDone
	return nil
}

// latestRadiogram returns the newest radiogram of typ, key and region that
// no other radiogram supersedes, or nil.
func (s *ExerciseState) latestRadiogram(typ RadiogramType, key, regionID string) *Radiogram {
	var matching []*Radiogram
	superseded := make(map[string]bool)
	for _, id := range sortedKeys(s.Radiograms) {
		r := s.Radiograms[id]
		if r.Type != typ || r.Key != key || r.SimulatedRegionID != regionID {
			continue
		}
		matching = append(matching, r)
		if r.Supersedes != "" {
			superseded[r.Supersedes] = true
		}
	}
	var latest *Radiogram
	for _, r := range matching {
		if superseded[r.ID] {
			continue
		}
		if latest == nil || r.CreatedAt >= latest.CreatedAt {
			latest = r
		}
	}
	return latest
}
