package sim

import (
	"encoding/json"
	"fmt"
)

// Event tags. Persisted events carry their tag in the "type" field.
const (
	EventTick                      = "tickEvent"
	EventResourceRequired          = "resourceRequiredEvent"
	EventVehiclesSent              = "vehiclesSentEvent"
	EventVehicleArrived            = "vehicleArrivedEvent"
	EventStartTransfer             = "startTransferEvent"
	EventTransferConnectionMissing = "transferConnectionMissingEvent"
	EventSendRequest               = "sendRequestEvent"
	EventCollectInformation        = "collectInformationEvent"
	EventNewPatient                = "newPatientEvent"
)

// Event is an immutable message queued on a simulated region. Events are
// plain values; handlers switch on the concrete type and ignore the rest.
type Event interface {
	EventType() string
}

// TickEvent is pushed onto every region at the start of its pass.
type TickEvent struct {
	TickInterval int64 `json:"tickInterval"`
}

// ResourceRequiredEvent announces that RequiringSimulatedRegionID needs
// RequiredResource. Key deduplicates repeated announcements of one need; an
// empty resource withdraws the need.
type ResourceRequiredEvent struct {
	RequiringSimulatedRegionID string          `json:"requiringSimulatedRegionId"`
	Key                        string          `json:"key"`
	RequiredResource           VehicleResource `json:"requiredResource"`
}

// VehiclesSentEvent confirms that vehicles for request Key are en route.
type VehiclesSentEvent struct {
	Key                        string          `json:"key"`
	VehiclesSent               VehicleResource `json:"vehiclesSent"`
	DestinationTransferPointID string          `json:"destinationTransferPointId,omitempty"`
	SenderSimulatedRegionID    string          `json:"senderSimulatedRegionId"`
}

// VehicleArrivedEvent tells a region that a vehicle reached it.
type VehicleArrivedEvent struct {
	VehicleID   string `json:"vehicleId"`
	ArrivalTime int64  `json:"arrivalTime"`
}

// StartTransferEvent asks the region's transfer behavior to send a vehicle.
type StartTransferEvent struct {
	VehicleID               string `json:"vehicleId"`
	TargetSimulatedRegionID string `json:"targetSimulatedRegionId"`
	Key                     string `json:"key,omitempty"`
}

// TransferConnectionMissingEvent reports that no transfer route exists.
type TransferConnectionMissingEvent struct {
	TargetSimulatedRegionID string `json:"targetSimulatedRegionId"`
	Key                     string `json:"key,omitempty"`
}

// SendRequestEvent triggers a request behavior to send its outstanding needs.
type SendRequestEvent struct{}

// CollectInformationEvent asks reporting behaviors for a radiogram.
type CollectInformationEvent struct {
	InformationType string `json:"informationType"`
}

// NewPatientEvent tells a region that a patient was placed in it.
type NewPatientEvent struct {
	PatientID string `json:"patientId"`
}

// UnknownEvent holds an event whose tag this build does not know.
// It round-trips unchanged and is never delivered to behaviors.
type UnknownEvent struct {
	Type string
	Raw  json.RawMessage
}

func (TickEvent) EventType() string                      { return EventTick }
func (ResourceRequiredEvent) EventType() string          { return EventResourceRequired }
func (VehiclesSentEvent) EventType() string              { return EventVehiclesSent }
func (VehicleArrivedEvent) EventType() string            { return EventVehicleArrived }
func (StartTransferEvent) EventType() string             { return EventStartTransfer }
func (TransferConnectionMissingEvent) EventType() string { return EventTransferConnectionMissing }
func (SendRequestEvent) EventType() string               { return EventSendRequest }
func (CollectInformationEvent) EventType() string        { return EventCollectInformation }
func (NewPatientEvent) EventType() string                { return EventNewPatient }
func (e UnknownEvent) EventType() string                 { return e.Type }

// eventCatalog decodes every known event tag.
var eventCatalog = map[string]func([]byte) (Event, error){
	EventTick:                      decodeEventAs[TickEvent],
	EventResourceRequired:          decodeEventAs[ResourceRequiredEvent],
	EventVehiclesSent:              decodeEventAs[VehiclesSentEvent],
	EventVehicleArrived:            decodeEventAs[VehicleArrivedEvent],
	EventStartTransfer:             decodeEventAs[StartTransferEvent],
	EventTransferConnectionMissing: decodeEventAs[TransferConnectionMissingEvent],
	EventSendRequest:               decodeEventAs[SendRequestEvent],
	EventCollectInformation:        decodeEventAs[CollectInformationEvent],
	EventNewPatient:                decodeEventAs[NewPatientEvent],
}

// IsKnownEventType reports whether tag decodes to a concrete event.
func IsKnownEventType(tag string) bool {
	_, ok := eventCatalog[tag]
	return ok
}

func decodeEventAs[T Event](data []byte) (Event, error) {
	var ev T
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, err
	}
	return ev, nil
}

func encodeEvent(ev Event) ([]byte, error) {
	switch ev := ev.(type) {
	case nil:
		return []byte("null"), nil
	case UnknownEvent:
		return ev.Raw, nil
	}
	return encodeVariant(ev.EventType(), ev)
}

func decodeEvent(data []byte) (Event, error) {
	tag, err := variantTag(data)
	if err != nil {
		return nil, fmt.Errorf("decoding event: %w", err)
	}
	decode, ok := eventCatalog[tag]
	if !ok {
		return UnknownEvent{Type: tag, Raw: cloneRaw(data)}, nil
	}
	ev, err := decode(data)
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", tag, err)
	}
	return ev, nil
}

// EventEnvelope persists an Event nested inside another variant.
type EventEnvelope struct {
	Event
}

// Envelope wraps ev for embedding in persisted state.
func Envelope(ev Event) EventEnvelope { return EventEnvelope{Event: ev} }

func (e EventEnvelope) MarshalJSON() ([]byte, error) {
	return encodeEvent(e.Event)
}

func (e *EventEnvelope) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		e.Event = nil
		return nil
	}
	ev, err := decodeEvent(data)
	if err != nil {
		return err
	}
	e.Event = ev
	return nil
}
