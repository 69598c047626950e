package ingestion

import (
	"fmt"

	"ReserveBank/internal/event"
	"ReserveBank/internal/ledger"
)

// Command wire formats. They are shared by the NATS subjects and the
// RPC/HTTP surface. Accounts are base58, values are decimal strings.
// value must be present; only an explicit "0" means zero.

type TransferCommand struct {
	RequestID string         `json:"request_id"`
	From      ledger.Account `json:"from"`
	To        ledger.Account `json:"to"`
	Value     *ledger.Amount `json:"value"`
}

func (c *TransferCommand) Operation() (event.Event, error) {
	if err := requireRequestID(c.RequestID); err != nil {
		return nil, err
	}
	if c.Value == nil {
		return nil, errMissingValue
	}
	return &event.Transfer{RequestID: c.RequestID, From: c.From, To: c.To, Value: *c.Value}, nil
}

type BorrowCommand struct {
	RequestID string         `json:"request_id"`
	Lender    ledger.Account `json:"lender"`
	Borrower  ledger.Account `json:"borrower"`
	Value     *ledger.Amount `json:"value"`
}

func (c *BorrowCommand) Operation() (event.Event, error) {
	if err := requireRequestID(c.RequestID); err != nil {
		return nil, err
	}
	if c.Value == nil {
		return nil, errMissingValue
	}
	return &event.Borrow{RequestID: c.RequestID, Lender: c.Lender, Borrower: c.Borrower, Value: *c.Value}, nil
}

type RepayCommand struct {
	RequestID    string         `json:"request_id"`
	Debtor       ledger.Account `json:"debtor"`
	Counterparty ledger.Account `json:"counterparty"`
	Value        *ledger.Amount `json:"value"`
}

func (c *RepayCommand) Operation() (event.Event, error) {
	if err := requireRequestID(c.RequestID); err != nil {
		return nil, err
	}
	if c.Value == nil {
		return nil, errMissingValue
	}
	return &event.Repay{RequestID: c.RequestID, Debtor: c.Debtor, Counterparty: c.Counterparty, Value: *c.Value}, nil
}

var errMissingValue = fmt.Errorf("%w: value is required", ErrMalformedCommand)

// MaxRequestIDLength bounds request ids so they stay indexable.
const MaxRequestIDLength = 128

func requireRequestID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: request_id is required", ErrMalformedCommand)
	}
	if len(id) > MaxRequestIDLength {
		return fmt.Errorf("%w: request_id longer than %d bytes", ErrMalformedCommand, MaxRequestIDLength)
	}
	return nil
}
