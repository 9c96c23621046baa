package sim

import (
	"github.com/sirupsen/logrus"
)

// RequestTargetType selects who receives a region's resource requests.
type RequestTargetType string

const (
	// RequestTargetSimulatedRegion forwards requests to another region.
	RequestTargetSimulatedRegion RequestTargetType = "simulatedRegionRequestTarget"
	// RequestTargetTrainees turns requests into resourceRequest radiograms.
	RequestTargetTrainees RequestTargetType = "traineesRequestTarget"
)

// ValidRequestTargets is the set of recognized request target types.
var ValidRequestTargets = map[RequestTargetType]bool{
	RequestTargetSimulatedRegion: true,
	RequestTargetTrainees:        true,
}

// RequestTarget is the persisted configuration of a request receiver.
type RequestTarget struct {
	Type                    RequestTargetType `json:"type"`
	TargetSimulatedRegionID string            `json:"targetSimulatedRegionId,omitempty"`
}

// createRequest delivers a request for resource on behalf of requestingRegionID.
func (t RequestTarget) createRequest(ctx *TickContext, requestingRegionID, key string, resource VehicleResource) error {
	switch t.Type {
	case RequestTargetSimulatedRegion:
		return ctx.SendEvent(t.TargetSimulatedRegionID, ResourceRequiredEvent{
			RequiringSimulatedRegionID: requestingRegionID,
			Key:                        key,
			RequiredResource:           resource.Clone(),
		})
	case RequestTargetTrainees:
		requestFromTrainees(ctx.State, requestingRegionID, key, resource)
		return nil
	default:
		logrus.Warnf("dropping request %s of region %s: unknown request target %q", key, requestingRegionID, t.Type)
		return nil
	}
}

// requestFromTrainees keeps at most one outstanding resourceRequest radiogram
// per key and region. An outstanding one is updated in place; once operators
// accepted or finished it, a new radiogram superseding it is published.
func requestFromTrainees(s *ExerciseState, regionID, key string, resource VehicleResource) *Radiogram {
	required := resource.Clone()
	latest := s.latestRadiogram(RadiogramResourceRequest, key, regionID)
	if latest != nil && latest.Status.Outstanding() {
		latest.RequiredResource = &required
		return latest
	}
	r := &Radiogram{
		Type:              RadiogramResourceRequest,
		Key:               key,
		SimulatedRegionID: regionID,
		RequiredResource:  &required,
	}
	if latest != nil {
		r.Supersedes = latest.ID
	}
	return s.publishRadiogram(r)
}
