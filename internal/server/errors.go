package server

import (
	"PerpLiquidator/internal/core"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// toStatus maps engine errors to gRPC status codes. Errors that already
// carry a status pass through unchanged.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	var code codes.Code
	switch {
	case errors.Is(err, core.ErrMarketNotFound),
		errors.Is(err, core.ErrAccountNotFound),
		errors.Is(err, core.ErrPositionNotFound):
		code = codes.NotFound
	case errors.Is(err, core.ErrPositionFlagged),
		errors.Is(err, core.ErrPositionNotFlagged),
		errors.Is(err, core.ErrCannotLiquidatePosition),
		errors.Is(err, core.ErrPriceUnavailable):
		code = codes.FailedPrecondition
	case errors.Is(err, core.ErrLiquidationZeroCapacity):
		code = codes.ResourceExhausted
	case errors.Is(err, core.ErrDuplicateCommand):
		code = codes.AlreadyExists
	case errors.Is(err, core.ErrInvalidCommand):
		code = codes.InvalidArgument
	default:
		code = codes.Internal
	}
	return status.Error(code, err.Error())
}
