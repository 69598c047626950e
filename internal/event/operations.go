package event

import "ReserveBank/internal/ledger"

// Genesis credits the initial endowment to the owner. Applied once, when the
// ledger is created.
type Genesis struct {
	Owner     ledger.Account
	Endowment ledger.Amount
}

func (g *Genesis) IdempotencyKey() string {
	return "genesis"
}

func (g *Genesis) EventType() EventType {
	return EventTypeGenesis
}

type Transfer struct {
	RequestID string
	From      ledger.Account
	To        ledger.Account
	Value     ledger.Amount
}

func (t *Transfer) IdempotencyKey() string {
	return t.RequestID
}

func (t *Transfer) EventType() EventType {
	return EventTypeTransfer
}

// Borrow moves Value out of Lender's balance into a debt owed by Borrower.
type Borrow struct {
	RequestID string
	Lender    ledger.Account
	Borrower  ledger.Account
	Value     ledger.Amount
}

func (b *Borrow) IdempotencyKey() string {
	return b.RequestID
}

func (b *Borrow) EventType() EventType {
	return EventTypeBorrow
}

// Repay pays Value against Debtor's debts. Counterparty funds the payment
// only when Debtor owes nothing and the repay degrades to a transfer.
type Repay struct {
	RequestID    string
	Debtor       ledger.Account
	Counterparty ledger.Account
	Value        ledger.Amount
}

func (r *Repay) IdempotencyKey() string {
	return r.RequestID
}

func (r *Repay) EventType() EventType {
	return EventTypeRepay
}
