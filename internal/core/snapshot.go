package core

import (
	"fmt"

	"ReserveBank/internal/ledger"
)

// Snapshot is the full engine state at Sequence, as persisted by the
// state store and used for warm restarts.
type Snapshot struct {
	Sequence  int64
	StateHash [32]byte
	Owner     ledger.Account
	Endowment ledger.Amount
	State     ledger.State
}

// Restore loads a snapshot into a fresh engine. The snapshot must satisfy
// conservation; a mismatch means the store is corrupt and is returned as an
// error rather than served.
func (c *Engine) Restore(snap *Snapshot, recentKeys []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sequence != 0 {
		return ErrAlreadyInitialized
	}
	if snap.Sequence <= 0 {
		return fmt.Errorf("restore: invalid sequence %d", snap.Sequence)
	}
	total, ok := snap.State.Total()
	if !ok {
		return fmt.Errorf("restore: stored amounts overflow")
	}
	if total != snap.Endowment {
		return fmt.Errorf("restore: stored state holds %s, endowment is %s", total, snap.Endowment)
	}

	for debtor, entries := range snap.State.Debts {
		seen := make(map[ledger.Account]struct{}, len(entries))
		for _, e := range entries {
			if e.Amount.IsZero() {
				return fmt.Errorf("restore: zero debt entry for debtor %s lender %s", debtor, e.Lender)
			}
			if _, dup := seen[e.Lender]; dup {
				return fmt.Errorf("restore: duplicate lender %s for debtor %s", e.Lender, debtor)
			}
			seen[e.Lender] = struct{}{}
		}
	}

	snap.State.RestoreInto(c.balances, c.debts)

	c.sequence = snap.Sequence
	c.owner = snap.Owner
	c.endowment = snap.Endowment
	c.hasher.Reset(snap.StateHash)
	c.idempotency.Warm(recentKeys)

	if c.metrics != nil {
		c.metrics.CoreSequence.Set(float64(c.sequence))
		c.metrics.DebtorsOutstanding.Set(float64(len(c.debts.Debtors())))
	}
	return nil
}

// Snapshot captures the current state.
func (c *Engine) Snapshot() *Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return &Snapshot{
		Sequence:  c.sequence,
		StateHash: c.hasher.Tip(),
		Owner:     c.owner,
		Endowment: c.endowment,
		State:     ledger.Capture(c.balances, c.debts),
	}
}
