package ledger

import "fmt"

// Settlement is a single credit produced while settling a debtor's book.
type Settlement struct {
	Lender Account `json:"lender"`
	Amount Amount  `json:"amount"`
}

// SettlementResult describes what a repayment did.
//
// When Fallback is false the debtor's book was settled: Settlements lists
// the lender credits in the order applied and Refunded is the part of the
// payment that found no debt to consume. When Fallback is true the
// payment was an ordinary transfer from Counterparty to Debtor.
type SettlementResult struct {
	Debtor       Account      `json:"debtor"`
	Counterparty Account      `json:"counterparty"`
	Payment      Amount       `json:"payment"`
	Fallback     bool         `json:"fallback"`
	Settlements  []Settlement `json:"settlements,omitempty"`
	Refunded     Amount       `json:"refunded"`
	Remaining    []DebtEntry  `json:"remaining,omitempty"`
}

// planSettlement walks entries oldest first and consumes payment against
// them. It returns the credits to apply, the surviving entries and the
// unconsumed part of payment. entries is not modified.
func planSettlement(entries []DebtEntry, payment Amount) (credits []Settlement, remaining []DebtEntry, leftover Amount) {
	left := payment
	for i, e := range entries {
		if left.IsZero() {
			remaining = append(remaining, entries[i:]...)
			return credits, remaining, left
		}
		take := MinAmount(e.Amount, left)
		credits = append(credits, Settlement{Lender: e.Lender, Amount: take})
		left = left.MustSub(take)
		if rest := e.Amount.MustSub(take); !rest.IsZero() {
			remaining = append(remaining, DebtEntry{Lender: e.Lender, Amount: rest})
		}
	}
	return credits, remaining, left
}

// Settle routes a payment of value from counterparty on behalf of debtor.
//
// If debtor owes nothing the payment is a plain transfer from counterparty
// to debtor and fails with ErrInsufficientBalance when counterparty is
// short. Otherwise lenders are credited oldest first from the debtor's
// book; fully paid entries are dropped, a partially paid entry keeps the
// rest. No balance is debited on this branch.
//
// All checks happen before any state changes; a returned error means
// nothing was touched.
func Settle(balances *BalanceTracker, debts *DebtBook, debtor, counterparty Account, value Amount) (*SettlementResult, error) {
	result := &SettlementResult{
		Debtor:       debtor,
		Counterparty: counterparty,
		Payment:      value,
	}

	if !debts.HasDebt(debtor) {
		if err := Transfer(balances, counterparty, debtor, value); err != nil {
			return nil, err
		}
		result.Fallback = true
		return result, nil
	}

	credits, remaining, leftover := planSettlement(debts.entries[debtor], value)

	for _, c := range credits {
		if !balances.CanCredit(c.Lender, c.Amount) {
			panic(fmt.Sprintf("FATAL: settlement credit overflows lender %s", c.Lender))
		}
	}

	for _, c := range credits {
		balances.Credit(c.Lender, c.Amount)
	}
	debts.Replace(debtor, remaining)

	result.Settlements = credits
	result.Refunded = leftover
	result.Remaining = debts.EntriesOf(debtor)
	return result, nil
}

// Transfer moves value from one balance to another. Self-transfers are
// allowed and leave balances unchanged once the sufficiency check passes.
func Transfer(balances *BalanceTracker, from, to Account, value Amount) error {
	if err := balances.ValidateSufficient(from, value); err != nil {
		return err
	}
	if from == to {
		return nil
	}
	if !balances.CanCredit(to, value) {
		panic(fmt.Sprintf("FATAL: transfer credit overflows account %s", to))
	}
	if err := balances.Debit(from, value); err != nil {
		return err
	}
	balances.Credit(to, value)
	return nil
}

// Borrow debits lender and records the debt against borrower. The
// borrowed value lives in the debt book until repaid, not in the
// borrower's balance.
func Borrow(balances *BalanceTracker, debts *DebtBook, borrower, lender Account, value Amount) error {
	if value.IsZero() {
		return fmt.Errorf("%w: borrow of zero from %s to %s", ErrInvalidAmount, lender, borrower)
	}
	if err := balances.ValidateSufficient(lender, value); err != nil {
		return err
	}
	if !debts.CanRecordBorrow(borrower, lender, value) {
		panic(fmt.Sprintf("FATAL: debt entry overflows for debtor %s lender %s", borrower, lender))
	}
	if err := balances.Debit(lender, value); err != nil {
		return err
	}
	return debts.RecordBorrow(borrower, lender, value)
}
