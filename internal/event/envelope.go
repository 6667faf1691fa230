package event

// EventType discriminator for event payloads
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypePositionOpened
	EventTypePositionClosed
	EventTypeCollateralAdded
	EventTypeCollateralRemoved
	EventTypeFundingRateUpdated
	EventTypeFundingSettled
	EventTypePositionLiquidated
	EventTypePositionReduced
	EventTypeBreakerTripped
	EventTypeBreakerReset
	EventTypeSystemPaused
	EventTypeSystemResumed
	EventTypeRiskParamsUpdated
	EventTypeFundingParamsUpdated
	EventTypeRoleGranted
	EventTypeRoleRevoked
)

// Envelope wraps every event emitted by the engine.
type Envelope struct {
	// Global monotonic sequence assigned by the engine
	Sequence int64

	// Event type discriminator
	Type EventType

	// Asset context (empty for global events)
	Asset string

	// Block height at emission (versioned input, NOT wall-clock)
	Height int64

	// Event-specific payload
	Payload Event
}

// Event is the interface all event payloads implement
type Event interface {
	// EventType returns the discriminator
	EventType() EventType

	// AssetID returns the asset context (empty for global events)
	AssetID() string
}

func (et EventType) String() string {
	switch et {
	case EventTypePositionOpened:
		return "PositionOpened"
	case EventTypePositionClosed:
		return "PositionClosed"
	case EventTypeCollateralAdded:
		return "CollateralAdded"
	case EventTypeCollateralRemoved:
		return "CollateralRemoved"
	case EventTypeFundingRateUpdated:
		return "FundingRateUpdated"
	case EventTypeFundingSettled:
		return "FundingSettled"
	case EventTypePositionLiquidated:
		return "PositionLiquidated"
	case EventTypePositionReduced:
		return "PositionReduced"
	case EventTypeBreakerTripped:
		return "BreakerTripped"
	case EventTypeBreakerReset:
		return "BreakerReset"
	case EventTypeSystemPaused:
		return "SystemPaused"
	case EventTypeSystemResumed:
		return "SystemResumed"
	case EventTypeRiskParamsUpdated:
		return "RiskParamsUpdated"
	case EventTypeFundingParamsUpdated:
		return "FundingParamsUpdated"
	case EventTypeRoleGranted:
		return "RoleGranted"
	case EventTypeRoleRevoked:
		return "RoleRevoked"
	default:
		return "Unknown"
	}
}
