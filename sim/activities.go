package sim

import (
	"errors"

	"github.com/sirupsen/logrus"
)

// Activity kinds.
const (
	ActivityDelayEvent      = "delayEventActivity"
	ActivityRecurringEvent  = "recurringEventActivity"
	ActivitySendRemoteEvent = "sendRemoteEventActivity"
	ActivityUnloadVehicle   = "unloadVehicleActivity"
	ActivityTransferVehicle = "transferVehicleActivity"
	ActivityCreateRequest   = "createRequestActivity"
)

// DelayEventActivityState sends Event to its own region once EndTime is reached.
type DelayEventActivityState struct {
	ActivityBase
	Event   EventEnvelope `json:"event"`
	EndTime int64         `json:"endTime"`
}

func (*DelayEventActivityState) ActivityKind() string { return ActivityDelayEvent }

func tickDelayEvent(ctx *TickContext, a *DelayEventActivityState, _ int64, terminate func()) error {
	if ctx.Now() < a.EndTime {
		return nil
	}
	ctx.SendLocalEvent(a.Event.Event)
	terminate()
	return nil
}

// RecurringEventActivityState sends Event to its own region every
// RecurrenceInterval. It never ends on its own; its owner terminates it.
type RecurringEventActivityState struct {
	ActivityBase
	Event              EventEnvelope `json:"event"`
	LastOccurrence     int64         `json:"lastOccurrence"`
	RecurrenceInterval int64         `json:"recurrenceInterval"`
}

func (*RecurringEventActivityState) ActivityKind() string { return ActivityRecurringEvent }

func tickRecurringEvent(ctx *TickContext, a *RecurringEventActivityState, _ int64, _ func()) error {
	if ctx.Now() < a.LastOccurrence+a.RecurrenceInterval {
		return nil
	}
	a.LastOccurrence = ctx.Now()
	ctx.SendLocalEvent(a.Event.Event)
	return nil
}

// SendRemoteEventActivityState delivers Event to another region, then ends.
type SendRemoteEventActivityState struct {
	ActivityBase
	TargetSimulatedRegionID string        `json:"targetSimulatedRegionId"`
	Event                   EventEnvelope `json:"event"`
}

func (*SendRemoteEventActivityState) ActivityKind() string { return ActivitySendRemoteEvent }

func tickSendRemoteEvent(ctx *TickContext, a *SendRemoteEventActivityState, _ int64, terminate func()) error {
	terminate()
	err := ctx.SendEvent(a.TargetSimulatedRegionID, a.Event.Event)
	if errors.Is(err, ErrElementNotFound) {
		logrus.Warnf("dropping %s for removed region %s", a.Event.EventType(), a.TargetSimulatedRegionID)
		return nil
	}
	return err
}

// UnloadVehicleActivityState empties a vehicle into the region after Duration.
type UnloadVehicleActivityState struct {
	ActivityBase
	VehicleID string `json:"vehicleId"`
	StartTime int64  `json:"startTime"`
	Duration  int64  `json:"duration"`
}

func (*UnloadVehicleActivityState) ActivityKind() string { return ActivityUnloadVehicle }

func tickUnloadVehicle(ctx *TickContext, a *UnloadVehicleActivityState, _ int64, terminate func()) error {
	if ctx.Now() < a.StartTime+a.Duration {
		return nil
	}
	terminate()
	v, err := ctx.State.Vehicle(a.VehicleID)
	if errors.Is(err, ErrElementNotFound) {
		logrus.Warnf("unload: vehicle %s vanished from region %s", a.VehicleID, ctx.Region.ID)
		return nil
	}
	if err != nil {
		return err
	}
	patients := v.PatientIDs.Sorted()
	if err := ctx.State.MoveVehicleContent(v, InSimulatedRegion(ctx.Region.ID)); err != nil {
		return err
	}
	for _, id := range patients {
		ctx.SendLocalEvent(NewPatientEvent{PatientID: id})
	}
	logrus.Debugf("unload: vehicle %s unloaded %d patient(s) into region %s", v.ID, len(patients), ctx.Region.ID)
	return nil
}

func releaseUnloadedVehicle(ctx *TickContext, a *UnloadVehicleActivityState) error {
	releaseOccupation(ctx.State, a.VehicleID, a.ID)
	return nil
}

// TransferVehicleActivityState moves a vehicle to another region, arriving at
// ArrivalTime.
type TransferVehicleActivityState struct {
	ActivityBase
	VehicleID               string `json:"vehicleId"`
	TargetSimulatedRegionID string `json:"targetSimulatedRegionId"`
	Key                     string `json:"key,omitempty"`
	ArrivalTime             int64  `json:"arrivalTime"`
}

func (*TransferVehicleActivityState) ActivityKind() string { return ActivityTransferVehicle }

func tickTransferVehicle(ctx *TickContext, a *TransferVehicleActivityState, _ int64, terminate func()) error {
	if ctx.Now() < a.ArrivalTime {
		return nil
	}
	terminate()
	v, err := ctx.State.Vehicle(a.VehicleID)
	if errors.Is(err, ErrElementNotFound) {
		logrus.Warnf("transfer: vehicle %s vanished on the way to %s", a.VehicleID, a.TargetSimulatedRegionID)
		return nil
	}
	if err != nil {
		return err
	}
	v.Position = InSimulatedRegion(a.TargetSimulatedRegionID)
	return ctx.SendEvent(a.TargetSimulatedRegionID, VehicleArrivedEvent{VehicleID: v.ID, ArrivalTime: ctx.Now()})
}

func releaseTransferredVehicle(ctx *TickContext, a *TransferVehicleActivityState) error {
	releaseOccupation(ctx.State, a.VehicleID, a.ID)
	return nil
}

// releaseOccupation frees a vehicle still occupied by activityID. An
// occupation taken over by another activity is left alone.
func releaseOccupation(s *ExerciseState, vehicleID, activityID string) {
	v, err := s.Vehicle(vehicleID)
	if err != nil {
		return
	}
	if v.Occupation.ActivityID == activityID {
		v.Occupation = VehicleOccupation{}
	}
}

// CreateRequestActivityState hands a resource request to its target.
type CreateRequestActivityState struct {
	ActivityBase
	Target                      RequestTarget   `json:"target"`
	RequestingSimulatedRegionID string          `json:"requestingSimulatedRegionId"`
	RequiredResource            VehicleResource `json:"requiredResource"`
	Key                         string          `json:"key"`
}

func (*CreateRequestActivityState) ActivityKind() string { return ActivityCreateRequest }

func tickCreateRequest(ctx *TickContext, a *CreateRequestActivityState, _ int64, terminate func()) error {
	terminate()
	return a.Target.createRequest(ctx, a.RequestingSimulatedRegionID, a.Key, a.RequiredResource)
}
