package core

import "errors"

var (
	// ErrNotInitialized is returned for operations on a ledger that has
	// neither run genesis nor been restored.
	ErrNotInitialized = errors.New("ledger not initialized")

	// ErrAlreadyInitialized is returned by Genesis and Restore on a live ledger.
	ErrAlreadyInitialized = errors.New("ledger already initialized")

	// ErrReplayDivergence means a logged operation did not reproduce the
	// logged state.
	ErrReplayDivergence = errors.New("replay diverged from event log")
)
