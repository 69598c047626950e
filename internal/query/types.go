package query

import (
	"ReserveBank/internal/ledger"
)

// Money is an amount in base units plus its human-readable form.
type Money struct {
	Raw     ledger.Amount `json:"raw"`
	Display string        `json:"display"`
}

type DebtEntryResponse struct {
	Lender ledger.Account `json:"lender"`
	Amount Money          `json:"amount"`
}

// AccountResponse is everything known about one account at AsOfSequence.
type AccountResponse struct {
	Account  ledger.Account      `json:"account"`
	Balance  Money               `json:"balance"`
	Owed     Money               `json:"owed"`
	Entries  []DebtEntryResponse `json:"entries"`
	Exposure Money               `json:"exposure"`

	AsOfSequence int64 `json:"as_of_sequence"`
}

type BalanceResponse struct {
	Account      ledger.Account `json:"account"`
	Balance      Money          `json:"balance"`
	AsOfSequence int64          `json:"as_of_sequence"`
}

// DebtResponse lists what debtor owes, oldest lender first.
type DebtResponse struct {
	Debtor       ledger.Account      `json:"debtor"`
	Total        Money               `json:"total"`
	Entries      []DebtEntryResponse `json:"entries"`
	AsOfSequence int64               `json:"as_of_sequence"`
}

type ExposureResponse struct {
	Lender       ledger.Account `json:"lender"`
	Exposure     Money          `json:"exposure"`
	AsOfSequence int64          `json:"as_of_sequence"`
}

type LoanResponse struct {
	Debtor ledger.Account `json:"debtor"`
	Amount Money          `json:"amount"`
}

// LoansResponse comes from the projection tables, so AsOfSequence is the
// projection watermark and may trail the engine.
type LoansResponse struct {
	Lender       ledger.Account `json:"lender"`
	Loans        []LoanResponse `json:"loans"`
	AsOfSequence int64          `json:"as_of_sequence"`
}

type SupplyResponse struct {
	Owner     ledger.Account `json:"owner"`
	Symbol    string         `json:"symbol"`
	Decimals  int32          `json:"decimals"`
	Total     Money          `json:"total"`
	Held      Money          `json:"held"`
	Lent      Money          `json:"lent"`
	Debtors   int            `json:"debtors"`
	StateHash string         `json:"state_hash"`

	AsOfSequence int64 `json:"as_of_sequence"`
}

// IntegrityReport compares the live books with the persisted projections.
type IntegrityReport struct {
	Sequence           int64    `json:"sequence"`
	Conserved          bool     `json:"conserved"`
	ProjectionSequence int64    `json:"projection_sequence"`
	ProjectionChecked  bool     `json:"projection_checked"`
	ProjectionTotal    *Money   `json:"projection_total,omitempty"`
	Problems           []string `json:"problems,omitempty"`
	IsHealthy          bool     `json:"is_healthy"`
}
