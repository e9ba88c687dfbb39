package event

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// New returns an empty payload value for the event type
func New(et EventType) (Event, error) {
	switch et {
	case EventTypeMarketConfigured:
		return &MarketConfigured{}, nil
	case EventTypePriceUpdated:
		return &PriceUpdated{}, nil
	case EventTypeMarginDeposited:
		return &MarginDeposited{}, nil
	case EventTypeOrderCommitted:
		return &OrderCommitted{}, nil
	case EventTypeOrderSettled:
		return &OrderSettled{}, nil
	case EventTypeFeeTierSet:
		return &FeeTierSet{}, nil
	case EventTypeFeeTierAssigned:
		return &FeeTierAssigned{}, nil
	case EventTypeKeeperEndorsementUpdated:
		return &KeeperEndorsementUpdated{}, nil
	case EventTypePositionFlaggedLiquidation:
		return &PositionFlaggedLiquidation{}, nil
	case EventTypeOrderCanceled:
		return &OrderCanceled{}, nil
	case EventTypeCollateralSold:
		return &CollateralSold{}, nil
	case EventTypePositionLiquidated:
		return &PositionLiquidated{}, nil
	case EventTypeFundingRecomputed:
		return &FundingRecomputed{}, nil
	default:
		return nil, fmt.Errorf("unknown event type %d", et)
	}
}

// Decode unmarshals a JSON payload into the typed event
func Decode(et EventType, payload []byte) (Event, error) {
	evt, err := New(et)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(payload, evt); err != nil {
		return nil, fmt.Errorf("decode %s: %w", et, err)
	}
	return evt, nil
}

// Encode marshals an event payload to JSON
func Encode(evt Event) ([]byte, error) {
	return json.Marshal(evt)
}
