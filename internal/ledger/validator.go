package ledger

import "fmt"

// InvariantValidator checks ledger invariants after each operation.
type InvariantValidator struct {
	balances *BalanceTracker
	debts    *DebtBook
}

func NewInvariantValidator(balances *BalanceTracker, debts *DebtBook) *InvariantValidator {
	return &InvariantValidator{
		balances: balances,
		debts:    debts,
	}
}

// ValidateConservation verifies that balances plus outstanding debt equal
// the genesis endowment.
func (v *InvariantValidator) ValidateConservation(endowment Amount) error {
	held := v.balances.Total()
	owed := v.debts.Total()
	total, ok := held.Add(owed)
	if !ok {
		return fmt.Errorf("conservation: balances %s + debts %s overflow", held, owed)
	}
	if total != endowment {
		return fmt.Errorf("conservation: balances %s + debts %s = %s, endowment %s", held, owed, total, endowment)
	}
	return nil
}

// ValidateDebtBook verifies no debtor has a zero entry or two entries for the same lender.
func (v *InvariantValidator) ValidateDebtBook() error {
	for debtor, list := range v.debts.entries {
		if len(list) == 0 {
			return fmt.Errorf("debt book: debtor %s present with no entries", debtor)
		}
		seen := make(map[Account]struct{}, len(list))
		for _, e := range list {
			if e.Amount.IsZero() {
				return fmt.Errorf("debt book: zero entry for debtor %s lender %s", debtor, e.Lender)
			}
			if _, dup := seen[e.Lender]; dup {
				return fmt.Errorf("debt book: duplicate lender %s for debtor %s", e.Lender, debtor)
			}
			seen[e.Lender] = struct{}{}
		}
	}
	return nil
}
