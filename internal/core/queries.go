package core

import "ReserveBank/internal/ledger"

// BalanceOf returns the spendable balance; 0 for unknown accounts.
func (c *Engine) BalanceOf(account ledger.Account) ledger.Amount {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.balances.BalanceOf(account)
}

// DebtOf returns the total the debtor owes across all lenders.
func (c *Engine) DebtOf(debtor ledger.Account) ledger.Amount {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.debts.TotalOwed(debtor)
}

// DebtEntriesOf returns the debtor's entries in settlement order.
func (c *Engine) DebtEntriesOf(debtor ledger.Account) []ledger.DebtEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.debts.EntriesOf(debtor)
}

// TotalExposure returns what all debtors owe to lender.
func (c *Engine) TotalExposure(lender ledger.Account) ledger.Amount {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.debts.TotalExposure(lender)
}

// TotalSupply returns the genesis endowment.
func (c *Engine) TotalSupply() ledger.Amount {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.endowment
}

func (c *Engine) Owner() ledger.Account {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.owner
}

// Sequence returns the last applied sequence, 0 before genesis.
func (c *Engine) Sequence() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sequence
}

// StateHash returns the hash chain tip.
func (c *Engine) StateHash() [32]byte {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.hasher.Tip()
}

// Initialized reports whether genesis ran or state was restored.
func (c *Engine) Initialized() bool {
	return c.Sequence() > 0
}

// AccountView is a consistent read of everything known about one account.
type AccountView struct {
	Account  ledger.Account
	Sequence int64
	Balance  ledger.Amount
	Owed     ledger.Amount
	Entries  []ledger.DebtEntry
	Exposure ledger.Amount
}

// ViewAccount reads balance, debt and exposure under one lock.
func (c *Engine) ViewAccount(account ledger.Account) AccountView {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return AccountView{
		Account:  account,
		Sequence: c.sequence,
		Balance:  c.balances.BalanceOf(account),
		Owed:     c.debts.TotalOwed(account),
		Entries:  c.debts.EntriesOf(account),
		Exposure: c.debts.TotalExposure(account),
	}
}

// Supply is a consistent read of the ledger-wide totals.
type Supply struct {
	Sequence  int64
	Owner     ledger.Account
	Endowment ledger.Amount
	Held      ledger.Amount
	Lent      ledger.Amount
	Debtors   int
}

// ViewSupply reports how the endowment is split between balances and debts.
func (c *Engine) ViewSupply() Supply {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Supply{
		Sequence:  c.sequence,
		Owner:     c.owner,
		Endowment: c.endowment,
		Held:      c.balances.Total(),
		Lent:      c.debts.Total(),
		Debtors:   len(c.debts.Debtors()),
	}
}
