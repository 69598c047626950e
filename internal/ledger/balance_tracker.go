package ledger

import "fmt"

// BalanceTracker maintains in-memory spendable balances.
// Not thread-safe. Only the engine touches it, under its lock.
type BalanceTracker struct {
	balances map[Account]Amount
}

func NewBalanceTracker() *BalanceTracker {
	return &BalanceTracker{
		balances: make(map[Account]Amount),
	}
}

// BalanceOf returns the spendable balance of an account. Unknown accounts hold 0.
func (bt *BalanceTracker) BalanceOf(account Account) Amount {
	return bt.balances[account]
}

// ValidateSufficient checks that account can cover amount without mutating anything.
func (bt *BalanceTracker) ValidateSufficient(account Account, amount Amount) error {
	have := bt.balances[account]
	if have.Lt(amount) {
		return fmt.Errorf("%w: account %s has %s, needs %s", ErrInsufficientBalance, account, have, amount)
	}
	return nil
}

// CanCredit reports whether crediting amount to account stays within MaxAmount.
func (bt *BalanceTracker) CanCredit(account Account, amount Amount) bool {
	_, ok := bt.balances[account].Add(amount)
	return ok
}

// Debit decreases a balance. A debit that would drive the balance negative
// is rejected and leaves the balance untouched.
func (bt *BalanceTracker) Debit(account Account, amount Amount) error {
	if err := bt.ValidateSufficient(account, amount); err != nil {
		return err
	}
	bt.balances[account] = bt.balances[account].MustSub(amount)
	return nil
}

// Credit increases a balance. Overflow panics: it can only happen if value
// was minted outside the genesis endowment.
func (bt *BalanceTracker) Credit(account Account, amount Amount) {
	bt.balances[account] = bt.balances[account].MustAdd(amount)
}

// Total sums every balance.
func (bt *BalanceTracker) Total() Amount {
	var total Amount
	for _, b := range bt.balances {
		total = total.MustAdd(b)
	}
	return total
}

// Snapshot returns a copy of all balances.
func (bt *BalanceTracker) Snapshot() map[Account]Amount {
	snapshot := make(map[Account]Amount, len(bt.balances))
	for k, v := range bt.balances {
		snapshot[k] = v
	}
	return snapshot
}

// Restore replaces all balances with a copy of the given map.
func (bt *BalanceTracker) Restore(balances map[Account]Amount) {
	bt.balances = make(map[Account]Amount, len(balances))
	for k, v := range balances {
		bt.balances[k] = v
	}
}
