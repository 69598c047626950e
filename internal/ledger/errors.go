package ledger

import "errors"

var (
	// ErrInsufficientBalance is returned when a debit exceeds the current balance.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrInsufficientAllowance is kept for interface compatibility with token
	// clients. No ledger operation produces it.
	ErrInsufficientAllowance = errors.New("insufficient allowance")

	// ErrInvalidAmount is returned for amounts an operation cannot record,
	// e.g. a zero-value borrow.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrInvalidAccount is returned when an operation names the zero account.
	ErrInvalidAccount = errors.New("invalid account")
)
