package core

import (
	"fmt"

	"github.com/google/uuid"
)

// FlagPositionCommand asks the engine to flag a position for liquidation
type FlagPositionCommand struct {
	CommandID string // Idempotency key supplied by the caller
	AccountID uuid.UUID
	MarketID  string
	Keeper    string
	Timestamp int64 // Epoch microseconds, assigned by the sequencer
}

// LiquidatePositionCommand asks the engine to liquidate a flagged position
type LiquidatePositionCommand struct {
	CommandID string
	AccountID uuid.UUID
	MarketID  string
	Keeper    string
	Timestamp int64
}

func validateCommand(commandID string, accountID uuid.UUID, marketID, keeper string, ts int64) error {
	switch {
	case commandID == "":
		return fmt.Errorf("%w: command id is required", ErrInvalidCommand)
	case accountID == uuid.Nil:
		return fmt.Errorf("%w: account id is required", ErrInvalidCommand)
	case marketID == "":
		return fmt.Errorf("%w: market id is required", ErrInvalidCommand)
	case keeper == "":
		return fmt.Errorf("%w: keeper address is required", ErrInvalidCommand)
	case ts <= 0:
		return fmt.Errorf("%w: timestamp must be positive", ErrInvalidCommand)
	}
	return nil
}

func (c *FlagPositionCommand) Validate() error {
	return validateCommand(c.CommandID, c.AccountID, c.MarketID, c.Keeper, c.Timestamp)
}

func (c *LiquidatePositionCommand) Validate() error {
	return validateCommand(c.CommandID, c.AccountID, c.MarketID, c.Keeper, c.Timestamp)
}
