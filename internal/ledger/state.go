package ledger

// State is a point-in-time copy of the balance ledger and the debt book.
type State struct {
	Balances map[Account]Amount
	Debts    map[Account][]DebtEntry
}

// Capture copies the current contents of both books.
func Capture(balances *BalanceTracker, debts *DebtBook) State {
	return State{
		Balances: balances.Snapshot(),
		Debts:    debts.Snapshot(),
	}
}

// RestoreInto replaces the contents of both books with s.
func (s State) RestoreInto(balances *BalanceTracker, debts *DebtBook) {
	balances.Restore(s.Balances)
	debts.Restore(s.Debts)
}

// Total returns Σ balances + Σ debts, the quantity conservation is checked
// against. ok is false if the sum exceeds MaxAmount, which no reachable
// state can do.
func (s State) Total() (total Amount, ok bool) {
	for _, b := range s.Balances {
		if total, ok = total.Add(b); !ok {
			return Amount{}, false
		}
	}
	for _, list := range s.Debts {
		for _, e := range list {
			if total, ok = total.Add(e.Amount); !ok {
				return Amount{}, false
			}
		}
	}
	return total, true
}

// Delta holds the post-operation values of every key an operation touched.
// A debtor mapped to an empty slice has been fully settled and must be
// removed from any store that mirrors the debt book.
type Delta struct {
	Balances map[Account]Amount
	Debts    map[Account][]DebtEntry
}

// CollectDelta reads the current values for the given touched accounts.
func CollectDelta(balances *BalanceTracker, debts *DebtBook, balanceKeys, debtKeys []Account) Delta {
	d := Delta{
		Balances: make(map[Account]Amount, len(balanceKeys)),
		Debts:    make(map[Account][]DebtEntry, len(debtKeys)),
	}
	for _, a := range balanceKeys {
		d.Balances[a] = balances.BalanceOf(a)
	}
	for _, a := range debtKeys {
		d.Debts[a] = debts.EntriesOf(a)
	}
	return d
}

// Empty reports whether the delta touches nothing.
func (d Delta) Empty() bool {
	return len(d.Balances) == 0 && len(d.Debts) == 0
}
