package event

// EventType discriminator for event payloads
type EventType int32

const (
	EventTypeUnknown EventType = iota

	// Inputs (state feed)
	EventTypeMarketConfigured
	EventTypePriceUpdated
	EventTypeMarginDeposited
	EventTypeOrderCommitted
	EventTypeOrderSettled
	EventTypeFeeTierSet
	EventTypeFeeTierAssigned
	EventTypeKeeperEndorsementUpdated

	// Outputs (emitted by flag/liquidate)
	EventTypePositionFlaggedLiquidation
	EventTypeOrderCanceled
	EventTypeCollateralSold
	EventTypePositionLiquidated
	EventTypeFundingRecomputed
)

// EventEnvelope wraps every event in the log
type EventEnvelope struct {
	// Global monotonic sequence assigned by core
	Sequence int64

	// Stable idempotency key (upstream key for inputs, derived for outputs)
	IdempotencyKey string

	// Event type discriminator
	EventType EventType

	// Market context (nullable for global events)
	MarketID *string

	// Versioned input timestamp, epoch microseconds (NOT wall-clock)
	Timestamp int64

	// Upstream sequence for ordering validation
	SourceSequence int64

	// JSON-encoded event-specific data
	Payload []byte

	// SHA-256 of state AFTER applying this event
	StateHash [32]byte

	// Previous event's state hash (chain integrity)
	PrevHash [32]byte
}

// Event is the interface all event payloads must implement
type Event interface {
	// IdempotencyKey returns the stable dedup key
	IdempotencyKey() string

	// EventType returns the discriminator
	EventType() EventType

	// MarketID returns the market context (nil for global events)
	MarketID() *string

	// SourceSequence returns upstream ordering key (0 = unsequenced)
	SourceSequence() int64

	// EventTimestamp returns the versioned timestamp in epoch microseconds
	EventTimestamp() int64
}

func (et EventType) String() string {
	switch et {
	case EventTypeMarketConfigured:
		return "MarketConfigured"
	case EventTypePriceUpdated:
		return "PriceUpdated"
	case EventTypeMarginDeposited:
		return "MarginDeposited"
	case EventTypeOrderCommitted:
		return "OrderCommitted"
	case EventTypeOrderSettled:
		return "OrderSettled"
	case EventTypeFeeTierSet:
		return "FeeTierSet"
	case EventTypeFeeTierAssigned:
		return "FeeTierAssigned"
	case EventTypeKeeperEndorsementUpdated:
		return "KeeperEndorsementUpdated"
	case EventTypePositionFlaggedLiquidation:
		return "PositionFlaggedLiquidation"
	case EventTypeOrderCanceled:
		return "OrderCanceled"
	case EventTypeCollateralSold:
		return "CollateralSold"
	case EventTypePositionLiquidated:
		return "PositionLiquidated"
	case EventTypeFundingRecomputed:
		return "FundingRecomputed"
	default:
		return "Unknown"
	}
}

// ParseEventType is the inverse of EventType.String
func ParseEventType(s string) EventType {
	for et := EventTypeMarketConfigured; et <= EventTypeFundingRecomputed; et++ {
		if et.String() == s {
			return et
		}
	}
	return EventTypeUnknown
}

// IsOutput reports whether the type is produced by the engine rather than fed to it
func (et EventType) IsOutput() bool {
	return et >= EventTypePositionFlaggedLiquidation
}
