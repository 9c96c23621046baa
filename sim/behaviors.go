package sim

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
)

// Behavior kinds.
const (
	BehaviorUnloadArrivingVehicles = "unloadArrivingVehiclesBehavior"
	BehaviorReport                 = "reportBehavior"
	BehaviorRequestVehicles        = "requestVehiclesBehavior"
	BehaviorAnswerRequests         = "answerRequestsBehavior"
	BehaviorTransfer               = "transferBehavior"
	BehaviorPatientTransportDemand = "patientTransportDemandBehavior"
)

// InformationPatientCount asks for a patient count per visible status.
const InformationPatientCount = "patientCount"

// UnloadArrivingVehiclesBehaviorState unloads every vehicle reaching the
// region after UnloadDelay milliseconds.
type UnloadArrivingVehiclesBehaviorState struct {
	BehaviorBase
	UnloadDelay int64 `json:"unloadDelay"`
}

func (*UnloadArrivingVehiclesBehaviorState) BehaviorKind() string {
	return BehaviorUnloadArrivingVehicles
}

func handleUnloadArrivingVehicles(ctx *TickContext, b *UnloadArrivingVehiclesBehaviorState, event Event) error {
	arrived, ok := event.(VehicleArrivedEvent)
	if !ok {
		return nil
	}
	v, err := ctx.State.Vehicle(arrived.VehicleID)
	if err != nil {
		return err
	}
	if !v.Position.IsIn(PositionSimulatedRegion, ctx.Region.ID) {
		logrus.Debugf("unload: vehicle %s is no longer in region %s", v.ID, ctx.Region.ID)
		return nil
	}
	if !v.Idle() {
		logrus.Debugf("unload: vehicle %s is busy (%s)", v.ID, v.Occupation.Type)
		return nil
	}
	id := ctx.AddActivity(&UnloadVehicleActivityState{
		VehicleID: v.ID,
		StartTime: ctx.Now(),
		Duration:  b.UnloadDelay,
	})
	v.Occupation = VehicleOccupation{Type: OccupationUnloading, ActivityID: id}
	return nil
}

// ReportBehaviorState publishes a patient count radiogram every Interval.
type ReportBehaviorState struct {
	BehaviorBase
	Interval            int64  `json:"interval"`
	RecurringActivityID string `json:"recurringActivityId,omitempty"`
}

func (*ReportBehaviorState) BehaviorKind() string { return BehaviorReport }

func handleReport(ctx *TickContext, b *ReportBehaviorState, event Event) error {
	switch ev := event.(type) {
	case TickEvent:
		if b.RecurringActivityID != "" || b.Interval <= 0 {
			return nil
		}
		b.RecurringActivityID = ctx.AddActivity(&RecurringEventActivityState{
			Event:              Envelope(CollectInformationEvent{InformationType: InformationPatientCount}),
			LastOccurrence:     ctx.Now(),
			RecurrenceInterval: b.Interval,
		})
	case CollectInformationEvent:
		if ev.InformationType != InformationPatientCount {
			return nil
		}
		counts := patientCountsIn(ctx.State, ctx.Region.ID)
		ctx.State.publishRadiogram(&Radiogram{
			Type:              RadiogramPatientCount,
			SimulatedRegionID: ctx.Region.ID,
			PatientCount:      counts,
		})
	}
	return nil
}

func removeReport(ctx *TickContext, b *ReportBehaviorState) error {
	if b.RecurringActivityID == "" {
		return nil
	}
	return ctx.TerminateActivity(b.RecurringActivityID)
}

// patientCountsIn counts the patients of a region per visible status.
func patientCountsIn(s *ExerciseState, regionID string) map[string]int {
	counts := make(map[string]int)
	for _, id := range sortedKeys(s.Patients) {
		p := s.Patients[id]
		if p.Position.IsIn(PositionSimulatedRegion, regionID) {
			counts[string(p.VisibleStatus(s.Configuration))]++
		}
	}
	return counts
}

// RequestVehiclesBehaviorState aggregates the region's vehicle needs and
// requests them from Target until enough vehicles were promised.
type RequestVehiclesBehaviorState struct {
	BehaviorBase
	// RequestedResources holds the current need per resourceRequired key.
	RequestedResources        map[string]VehicleResource `json:"requestedResources"`
	Promises                  []ResourcePromise          `json:"promises"`
	InvalidatePromiseInterval int64                      `json:"invalidatePromiseInterval"`
	RequestInterval           int64                      `json:"requestInterval"`
	Target                    RequestTarget              `json:"target"`
	RecurringActivityID       string                     `json:"recurringActivityId,omitempty"`
}

func (*RequestVehiclesBehaviorState) BehaviorKind() string { return BehaviorRequestVehicles }

// Requested sums all current needs.
func (b *RequestVehiclesBehaviorState) Requested() VehicleResource {
	total := NewVehicleResource(nil)
	for _, key := range sortedKeys(b.RequestedResources) {
		total = total.Add(b.RequestedResources[key])
	}
	return total
}

// Promised sums all recorded promises.
func (b *RequestVehiclesBehaviorState) Promised() VehicleResource {
	total := NewVehicleResource(nil)
	for _, p := range b.Promises {
		total = total.Add(p.Resource)
	}
	return total
}

// Remaining is what still has to be requested: requested minus promised,
// clamped at zero per vehicle type.
func (b *RequestVehiclesBehaviorState) Remaining() VehicleResource {
	return b.Requested().Subtract(b.Promised())
}

func handleRequestVehicles(ctx *TickContext, b *RequestVehiclesBehaviorState, event Event) error {
	switch ev := event.(type) {
	case TickEvent:
		b.dropExpiredPromises(ctx.Now())
	case ResourceRequiredEvent:
		if ev.RequiringSimulatedRegionID != ctx.Region.ID {
			return nil
		}
		if b.RequestedResources == nil {
			b.RequestedResources = make(map[string]VehicleResource)
		}
		if ev.RequiredResource.IsEmpty() {
			delete(b.RequestedResources, ev.Key)
		} else {
			b.RequestedResources[ev.Key] = ev.RequiredResource.Clone()
		}
	case VehiclesSentEvent:
		if ev.Key != b.ID {
			return nil
		}
		b.Promises = append(b.Promises, ResourcePromise{PromisedTime: ctx.Now(), Resource: ev.VehiclesSent.Clone()})
	case SendRequestEvent:
		remaining := b.Remaining()
		if remaining.IsEmpty() {
			return nil
		}
		ctx.AddActivity(&CreateRequestActivityState{
			Target:                      b.Target,
			RequestingSimulatedRegionID: ctx.Region.ID,
			RequiredResource:            remaining,
			Key:                         b.ID,
		})
		return nil
	default:
		return nil
	}
	return b.scheduleRequests(ctx)
}

func (b *RequestVehiclesBehaviorState) dropExpiredPromises(now int64) {
	kept := b.Promises[:0]
	for _, p := range b.Promises {
		if now-p.PromisedTime <= b.InvalidatePromiseInterval {
			kept = append(kept, p)
		}
	}
	b.Promises = kept
}

// scheduleRequests keeps the recurring send-request timer alive exactly
// while something remains to be requested. A new timer fires in the
// activity phase of the tick that created it.
func (b *RequestVehiclesBehaviorState) scheduleRequests(ctx *TickContext) error {
	if b.Remaining().IsEmpty() {
		if b.RecurringActivityID == "" {
			return nil
		}
		id := b.RecurringActivityID
		b.RecurringActivityID = ""
		return ctx.TerminateActivity(id)
	}
	if b.RecurringActivityID != "" {
		if _, ok := ctx.Region.Activities[b.RecurringActivityID]; ok {
			return nil
		}
	}
	b.RecurringActivityID = ctx.AddActivity(&RecurringEventActivityState{
		Event:              Envelope(SendRequestEvent{}),
		LastOccurrence:     ctx.Now() - b.RequestInterval,
		RecurrenceInterval: b.RequestInterval,
	})
	return nil
}

func removeRequestVehicles(ctx *TickContext, b *RequestVehiclesBehaviorState) error {
	if b.RecurringActivityID == "" {
		return nil
	}
	return ctx.TerminateActivity(b.RecurringActivityID)
}

// AnswerRequestsBehaviorState fulfils other regions' requests with the idle
// vehicles of its own region.
type AnswerRequestsBehaviorState struct {
	BehaviorBase
}

func (*AnswerRequestsBehaviorState) BehaviorKind() string { return BehaviorAnswerRequests }

func handleAnswerRequests(ctx *TickContext, b *AnswerRequestsBehaviorState, event Event) error {
	req, ok := event.(ResourceRequiredEvent)
	if !ok || req.RequiringSimulatedRegionID == ctx.Region.ID {
		return nil
	}
	requester, err := ctx.State.SimulatedRegion(req.RequiringSimulatedRegionID)
	if err != nil {
		return err
	}
	available := idleVehiclesIn(ctx.State, ctx.Region.ID)
	sent := NewVehicleResource(nil)
	for _, vehicleType := range sortedKeys(req.RequiredResource.VehicleCounts) {
		want := req.RequiredResource.VehicleCounts[vehicleType]
		for _, v := range available[vehicleType] {
			if sent.VehicleCounts[vehicleType] >= want {
				break
			}
			v.Occupation = VehicleOccupation{Type: OccupationWaitingForTransfer}
			ctx.SendLocalEvent(StartTransferEvent{
				VehicleID:               v.ID,
				TargetSimulatedRegionID: requester.ID,
				Key:                     req.Key,
			})
			sent.VehicleCounts[vehicleType]++
		}
	}
	if sent.IsEmpty() {
		return nil
	}
	logrus.Debugf("answer: region %s sends %v to %s", ctx.Region.ID, sent.VehicleCounts, requester.ID)
	return ctx.SendEvent(requester.ID, VehiclesSentEvent{
		Key:                        req.Key,
		VehiclesSent:               sent,
		DestinationTransferPointID: requester.TransferPointID,
		SenderSimulatedRegionID:    ctx.Region.ID,
	})
}

// idleVehiclesIn groups the idle vehicles of a region by type, by ascending id.
func idleVehiclesIn(s *ExerciseState, regionID string) map[string][]*Vehicle {
	byType := make(map[string][]*Vehicle)
	for _, id := range sortedKeys(s.Vehicles) {
		v := s.Vehicles[id]
		if v.Idle() && v.Position.IsIn(PositionSimulatedRegion, regionID) {
			byType[v.VehicleType] = append(byType[v.VehicleType], v)
		}
	}
	return byType
}

// TransferBehaviorState sends vehicles to other regions over the transfer
// point network.
type TransferBehaviorState struct {
	BehaviorBase
}

func (*TransferBehaviorState) BehaviorKind() string { return BehaviorTransfer }

func handleTransfer(ctx *TickContext, b *TransferBehaviorState, event Event) error {
	start, ok := event.(StartTransferEvent)
	if !ok {
		return nil
	}
	v, err := ctx.State.Vehicle(start.VehicleID)
	if err != nil {
		return err
	}
	if !v.Position.IsIn(PositionSimulatedRegion, ctx.Region.ID) {
		logrus.Debugf("transfer: vehicle %s is no longer in region %s", v.ID, ctx.Region.ID)
		return nil
	}
	if !v.Idle() && v.Occupation.Type != OccupationWaitingForTransfer {
		logrus.Debugf("transfer: vehicle %s is busy (%s)", v.ID, v.Occupation.Type)
		return nil
	}
	duration, err := transferDuration(ctx.State, ctx.Region, start.TargetSimulatedRegionID)
	if err != nil {
		logrus.Warnf("transfer: vehicle %s stays in region %s: %v", v.ID, ctx.Region.ID, err)
		if v.Occupation.Type == OccupationWaitingForTransfer {
			v.Occupation = VehicleOccupation{}
		}
		ctx.SendLocalEvent(TransferConnectionMissingEvent{
			TargetSimulatedRegionID: start.TargetSimulatedRegionID,
			Key:                     start.Key,
		})
		ctx.State.publishRadiogram(&Radiogram{
			Type:              RadiogramTransferConnectionMissing,
			Key:               start.Key,
			SimulatedRegionID: ctx.Region.ID,
			TransferPointID:   ctx.Region.TransferPointID,
			TargetRegionID:    start.TargetSimulatedRegionID,
		})
		return nil
	}
	id := ctx.AddActivity(&TransferVehicleActivityState{
		VehicleID:               v.ID,
		TargetSimulatedRegionID: start.TargetSimulatedRegionID,
		Key:                     start.Key,
		ArrivalTime:             ctx.Now() + duration,
	})
	v.Position = InTransfer(ctx.Region.TransferPointID)
	v.Occupation = VehicleOccupation{Type: OccupationTransfer, ActivityID: id}
	return nil
}

// errNoConnection marks a missing transfer route. It is a domain outcome,
// reported by radiogram, never returned from a handler.
var errNoConnection = errors.New("no transfer connection")

// transferDuration resolves the route from region to the target region.
func transferDuration(s *ExerciseState, region *SimulatedRegion, targetRegionID string) (int64, error) {
	target, err := s.SimulatedRegion(targetRegionID)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", errNoConnection, err)
	}
	if region.TransferPointID == "" || target.TransferPointID == "" {
		return 0, fmt.Errorf("%w: region without transfer point", errNoConnection)
	}
	from, err := s.TransferPoint(region.TransferPointID)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", errNoConnection, err)
	}
	duration, ok := from.ReachableTransferPoints[target.TransferPointID]
	if !ok {
		return 0, fmt.Errorf("%w: %s does not reach %s", errNoConnection, from.ID, target.TransferPointID)
	}
	return duration, nil
}

// PatientTransportDemandBehaviorState turns the region's red and yellow
// patients into a transport vehicle need.
type PatientTransportDemandBehaviorState struct {
	BehaviorBase
	VehicleType        string `json:"vehicleType"`
	PatientsPerVehicle int    `json:"patientsPerVehicle"`
	LastDemand         int    `json:"lastDemand"`
}

func (*PatientTransportDemandBehaviorState) BehaviorKind() string {
	return BehaviorPatientTransportDemand
}

func handlePatientTransportDemand(ctx *TickContext, b *PatientTransportDemandBehaviorState, event Event) error {
	switch event.(type) {
	case TickEvent, NewPatientEvent:
	default:
		return nil
	}
	demand := b.demand(ctx.State, ctx.Region.ID)
	if demand == b.LastDemand {
		return nil
	}
	b.LastDemand = demand
	ctx.SendLocalEvent(ResourceRequiredEvent{
		RequiringSimulatedRegionID: ctx.Region.ID,
		Key:                        b.ID,
		RequiredResource:           NewVehicleResource(map[string]int{b.VehicleType: demand}),
	})
	return nil
}

// demand is the number of vehicles still needed: enough to carry every red
// and yellow patient, minus idle vehicles of the type already present.
func (b *PatientTransportDemandBehaviorState) demand(s *ExerciseState, regionID string) int {
	if b.PatientsPerVehicle <= 0 {
		return 0
	}
	counts := patientCountsIn(s, regionID)
	urgent := counts[string(StatusRed)] + counts[string(StatusYellow)]
	needed := (urgent + b.PatientsPerVehicle - 1) / b.PatientsPerVehicle
	needed -= len(idleVehiclesIn(s, regionID)[b.VehicleType])
	return max(needed, 0)
}
