package ingestion

import (
	"PerpLiquidator/internal/core"
	"PerpLiquidator/internal/event"
	"fmt"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Message kinds for keeper commands; feed events use their event type name
const (
	KindFlagPosition      = core.CommandFlagPosition
	KindLiquidatePosition = core.CommandLiquidatePosition
)

// Inbound is a parsed message: exactly one of its fields is set
type Inbound struct {
	Event     event.Event
	Flag      *core.FlagPositionCommand
	Liquidate *core.LiquidatePositionCommand
}

// Kind names the message for logs and metrics
func (in Inbound) Kind() string {
	switch {
	case in.Event != nil:
		return in.Event.EventType().String()
	case in.Flag != nil:
		return KindFlagPosition
	case in.Liquidate != nil:
		return KindLiquidatePosition
	default:
		return "Unknown"
	}
}

// commandJSON is the wire format of a keeper command. The command time is
// not taken from the producer: it is the time the message was received.
type commandJSON struct {
	CommandID string `json:"command_id"`
	AccountID string `json:"account_id"`
	MarketID  string `json:"market_id"`
	Keeper    string `json:"keeper"`
}

// ParseRawMessage converts a RawMessage of the given kind into an Inbound
func ParseRawMessage(raw RawMessage, kind string) (Inbound, error) {
	switch kind {
	case KindFlagPosition, KindLiquidatePosition:
		return parseCommand(raw, kind)
	}

	et := event.ParseEventType(kind)
	if et == event.EventTypeUnknown || et.IsOutput() {
		return Inbound{}, fmt.Errorf("unknown message kind: %s", kind)
	}
	if et == event.EventTypeMarketConfigured {
		return parseMarketConfigured(raw)
	}
	evt, err := event.Decode(et, raw.Data)
	if err != nil {
		return Inbound{}, fmt.Errorf("parse %s: %w", kind, err)
	}
	return Inbound{Event: evt}, nil
}

// parseMarketConfigured decodes over the default parameters, so keys the
// producer leaves out take their defaults while explicit zeros are kept.
func parseMarketConfigured(raw RawMessage) (Inbound, error) {
	ev := core.DefaultMarketConfigured("")
	if err := json.Unmarshal(raw.Data, ev); err != nil {
		return Inbound{}, fmt.Errorf("parse MarketConfigured: %w", err)
	}
	return Inbound{Event: ev}, nil
}

func parseCommand(raw RawMessage, kind string) (Inbound, error) {
	var j commandJSON
	if err := json.Unmarshal(raw.Data, &j); err != nil {
		return Inbound{}, fmt.Errorf("parse %s: %w", kind, err)
	}
	accountID, err := uuid.Parse(j.AccountID)
	if err != nil {
		return Inbound{}, fmt.Errorf("parse account_id: %w", err)
	}
	ts := raw.ReceivedAt.UnixMicro()

	if kind == KindFlagPosition {
		cmd := &core.FlagPositionCommand{
			CommandID: j.CommandID,
			AccountID: accountID,
			MarketID:  j.MarketID,
			Keeper:    j.Keeper,
			Timestamp: ts,
		}
		if err := cmd.Validate(); err != nil {
			return Inbound{}, err
		}
		return Inbound{Flag: cmd}, nil
	}

	cmd := &core.LiquidatePositionCommand{
		CommandID: j.CommandID,
		AccountID: accountID,
		MarketID:  j.MarketID,
		Keeper:    j.Keeper,
		Timestamp: ts,
	}
	if err := cmd.Validate(); err != nil {
		return Inbound{}, err
	}
	return Inbound{Liquidate: cmd}, nil
}
