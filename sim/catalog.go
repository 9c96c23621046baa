package sim

// DefaultBehaviors is the canonical behavior catalogue.
var DefaultBehaviors = NewBehaviorRegistry(
	DefineBehavior[UnloadArrivingVehiclesBehaviorState](handleUnloadArrivingVehicles, nil),
	DefineBehavior[ReportBehaviorState](handleReport, removeReport),
	DefineBehavior[RequestVehiclesBehaviorState](handleRequestVehicles, removeRequestVehicles),
	DefineBehavior[AnswerRequestsBehaviorState](handleAnswerRequests, nil),
	DefineBehavior[TransferBehaviorState](handleTransfer, nil),
	DefineBehavior[PatientTransportDemandBehaviorState](handlePatientTransportDemand, nil),
)

// DefaultActivities is the canonical activity catalogue.
var DefaultActivities = NewActivityRegistry(
	DefineActivity[DelayEventActivityState](tickDelayEvent, nil),
	DefineActivity[RecurringEventActivityState](tickRecurringEvent, nil),
	DefineActivity[SendRemoteEventActivityState](tickSendRemoteEvent, nil),
	DefineActivity[UnloadVehicleActivityState](tickUnloadVehicle, releaseUnloadedVehicle),
	DefineActivity[TransferVehicleActivityState](tickTransferVehicle, releaseTransferredVehicle),
	DefineActivity[CreateRequestActivityState](tickCreateRequest, nil),
)

// defaultCodec decodes documents written with the default catalogue.
var defaultCodec = NewCodec(DefaultBehaviors, DefaultActivities)

// NewBehavior returns an empty state of a default behavior kind, for
// decoding configuration into. Panics on an unknown kind.
func NewBehavior(kind string) BehaviorState {
	def, ok := DefaultBehaviors.Lookup(kind)
	if !ok {
		panic("NewBehavior: unknown behavior kind " + kind)
	}
	return def.New()
}
