package server

import (
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"ReserveBank/internal/core"
	"ReserveBank/internal/ingestion"
	"ReserveBank/internal/ledger"
	"ReserveBank/internal/query"
)

// toStatus maps ledger errors onto gRPC codes. Nil stays nil and errors that
// already carry a status pass through.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	return status.Error(codeOf(err), err.Error())
}

func codeOf(err error) codes.Code {
	switch {
	case errors.Is(err, ledger.ErrInsufficientBalance):
		return codes.FailedPrecondition
	case errors.Is(err, ledger.ErrInvalidAmount),
		errors.Is(err, ledger.ErrInvalidAccount),
		errors.Is(err, ingestion.ErrMalformedCommand):
		return codes.InvalidArgument
	case errors.Is(err, core.ErrNotInitialized), errors.Is(err, query.ErrUnavailable):
		return codes.Unavailable
	default:
		return codes.Internal
	}
}
