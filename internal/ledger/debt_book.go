package ledger

import (
	"fmt"
	"sort"
)

// DebtEntry is value a debtor currently owes to Lender. Amount is always > 0.
type DebtEntry struct {
	Lender Account `json:"lender"`
	Amount Amount  `json:"amount"`
}

// DebtBook maps each debtor to its outstanding entries in registration order.
//
// A debtor key is present only while it has at least one entry, and every
// stored entry has a strictly positive amount. Absence means zero debt.
// Not thread-safe. Only the engine touches it, under its lock.
type DebtBook struct {
	entries map[Account][]DebtEntry
}

func NewDebtBook() *DebtBook {
	return &DebtBook{
		entries: make(map[Account][]DebtEntry),
	}
}

// EntriesOf returns a copy of the debtor's entries, oldest first.
func (db *DebtBook) EntriesOf(debtor Account) []DebtEntry {
	stored := db.entries[debtor]
	if len(stored) == 0 {
		return nil
	}
	out := make([]DebtEntry, len(stored))
	copy(out, stored)
	return out
}

// HasDebt reports whether the debtor has any outstanding entry.
func (db *DebtBook) HasDebt(debtor Account) bool {
	return len(db.entries[debtor]) > 0
}

// RecordBorrow adds amount to the debtor's entry for lender, keeping its
// position, or appends a new entry when the lender is not yet present.
func (db *DebtBook) RecordBorrow(debtor, lender Account, amount Amount) error {
	if amount.IsZero() {
		return fmt.Errorf("%w: borrow of zero from %s to %s", ErrInvalidAmount, lender, debtor)
	}

	list := db.entries[debtor]
	for i := range list {
		if list[i].Lender == lender {
			list[i].Amount = list[i].Amount.MustAdd(amount)
			return nil
		}
	}

	db.entries[debtor] = append(list, DebtEntry{Lender: lender, Amount: amount})
	return nil
}

// CanRecordBorrow reports whether merging amount into an existing entry stays within MaxAmount.
func (db *DebtBook) CanRecordBorrow(debtor, lender Account, amount Amount) bool {
	for _, e := range db.entries[debtor] {
		if e.Lender == lender {
			_, ok := e.Amount.Add(amount)
			return ok
		}
	}
	return true
}

// Replace swaps the debtor's entries for the given sequence. An empty
// sequence removes the debtor. Zero amounts or repeated lenders are a bug
// in the caller and panic.
func (db *DebtBook) Replace(debtor Account, entries []DebtEntry) {
	if len(entries) == 0 {
		delete(db.entries, debtor)
		return
	}

	seen := make(map[Account]struct{}, len(entries))
	for _, e := range entries {
		if e.Amount.IsZero() {
			panic(fmt.Sprintf("FATAL: zero debt entry for debtor %s lender %s", debtor, e.Lender))
		}
		if _, dup := seen[e.Lender]; dup {
			panic(fmt.Sprintf("FATAL: duplicate lender %s for debtor %s", e.Lender, debtor))
		}
		seen[e.Lender] = struct{}{}
	}

	stored := make([]DebtEntry, len(entries))
	copy(stored, entries)
	db.entries[debtor] = stored
}

// TotalOwed sums the debtor's entries.
func (db *DebtBook) TotalOwed(debtor Account) Amount {
	var total Amount
	for _, e := range db.entries[debtor] {
		total = total.MustAdd(e.Amount)
	}
	return total
}

// TotalExposure sums what every debtor owes to lender.
func (db *DebtBook) TotalExposure(lender Account) Amount {
	var total Amount
	for _, list := range db.entries {
		for _, e := range list {
			if e.Lender == lender {
				total = total.MustAdd(e.Amount)
			}
		}
	}
	return total
}

// Total sums every outstanding entry in the book.
func (db *DebtBook) Total() Amount {
	var total Amount
	for _, list := range db.entries {
		for _, e := range list {
			total = total.MustAdd(e.Amount)
		}
	}
	return total
}

// Debtors returns every debtor with outstanding debt in byte order.
func (db *DebtBook) Debtors() []Account {
	debtors := make([]Account, 0, len(db.entries))
	for d := range db.entries {
		debtors = append(debtors, d)
	}
	sort.Slice(debtors, func(i, j int) bool {
		return debtors[i].Compare(debtors[j]) < 0
	})
	return debtors
}

// Snapshot returns a deep copy of the book.
func (db *DebtBook) Snapshot() map[Account][]DebtEntry {
	snapshot := make(map[Account][]DebtEntry, len(db.entries))
	for d, list := range db.entries {
		cp := make([]DebtEntry, len(list))
		copy(cp, list)
		snapshot[d] = cp
	}
	return snapshot
}

// Restore replaces the whole book. Entries go through Replace so the
// stored-state invariants are checked on load too.
func (db *DebtBook) Restore(entries map[Account][]DebtEntry) {
	db.entries = make(map[Account][]DebtEntry, len(entries))
	for d, list := range entries {
		db.Replace(d, list)
	}
}
