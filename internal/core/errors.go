package core

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Business errors returned by FlagPosition and LiquidatePosition.
// Callers match them with errors.Is; the concrete values carry the ids.
var (
	ErrMarketNotFound          = errors.New("market not found")
	ErrAccountNotFound         = errors.New("account not found")
	ErrPositionNotFound        = errors.New("position not found")
	ErrPositionFlagged         = errors.New("position already flagged")
	ErrPositionNotFlagged      = errors.New("position not flagged")
	ErrCannotLiquidatePosition = errors.New("position cannot be liquidated")
	ErrLiquidationZeroCapacity = errors.New("liquidation capacity exhausted")

	ErrPriceUnavailable = errors.New("oracle price unavailable")
	ErrDuplicateCommand = errors.New("duplicate command")
	ErrInvalidCommand   = errors.New("invalid command")
)

type MarketNotFoundError struct {
	MarketID string
}

func (e *MarketNotFoundError) Error() string {
	return fmt.Sprintf("market not found: %s", e.MarketID)
}

func (e *MarketNotFoundError) Is(target error) bool {
	return target == ErrMarketNotFound
}

type AccountNotFoundError struct {
	AccountID uuid.UUID
}

func (e *AccountNotFoundError) Error() string {
	return fmt.Sprintf("account not found: %s", e.AccountID)
}

func (e *AccountNotFoundError) Is(target error) bool {
	return target == ErrAccountNotFound
}

// PositionError wraps a position-level failure with the offending pair
type PositionError struct {
	Err       error
	AccountID uuid.UUID
	MarketID  string
}

func (e *PositionError) Error() string {
	return fmt.Sprintf("%v: account=%s market=%s", e.Err, e.AccountID, e.MarketID)
}

func (e *PositionError) Unwrap() error {
	return e.Err
}

func positionErr(err error, accountID uuid.UUID, marketID string) error {
	return &PositionError{Err: err, AccountID: accountID, MarketID: marketID}
}

// CapacityError reports why a liquidation could not proceed against the window
type CapacityError struct {
	MarketID         string
	Keeper           string
	Endorsed         bool
	PriceDeviation   int64
	LiquidationMaxPd int64
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("%v: market=%s keeper=%s endorsed=%t pd=%d max_pd=%d",
		ErrLiquidationZeroCapacity, e.MarketID, e.Keeper, e.Endorsed, e.PriceDeviation, e.LiquidationMaxPd)
}

func (e *CapacityError) Is(target error) bool {
	return target == ErrLiquidationZeroCapacity
}

// RejectReason maps an error to a short metric label
func RejectReason(err error) string {
	switch {
	case errors.Is(err, ErrMarketNotFound):
		return "market_not_found"
	case errors.Is(err, ErrAccountNotFound):
		return "account_not_found"
	case errors.Is(err, ErrPositionNotFound):
		return "position_not_found"
	case errors.Is(err, ErrPositionFlagged):
		return "position_flagged"
	case errors.Is(err, ErrPositionNotFlagged):
		return "position_not_flagged"
	case errors.Is(err, ErrCannotLiquidatePosition):
		return "not_liquidatable"
	case errors.Is(err, ErrLiquidationZeroCapacity):
		return "zero_capacity"
	case errors.Is(err, ErrPriceUnavailable):
		return "price_unavailable"
	case errors.Is(err, ErrDuplicateCommand):
		return "duplicate"
	case errors.Is(err, ErrInvalidCommand):
		return "invalid"
	default:
		return "internal"
	}
}
