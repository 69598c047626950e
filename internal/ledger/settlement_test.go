package ledger_test

import (
	"errors"
	"testing"

	"ReserveBank/internal/ledger"
)

// books returns a ledger with owner holding endowment.
func books(owner ledger.Account, endowment uint64) (*ledger.BalanceTracker, *ledger.DebtBook) {
	bt := ledger.NewBalanceTracker()
	bt.Credit(owner, amt(endowment))
	return bt, ledger.NewDebtBook()
}

func assertConserved(t *testing.T, bt *ledger.BalanceTracker, db *ledger.DebtBook, endowment uint64) {
	t.Helper()
	v := ledger.NewInvariantValidator(bt, db)
	if err := v.ValidateConservation(amt(endowment)); err != nil {
		t.Fatalf("conservation violated: %v", err)
	}
	if err := v.ValidateDebtBook(); err != nil {
		t.Fatalf("debt book invalid: %v", err)
	}
}

// ============================================================================
// Test: Transfer
// ============================================================================

func TestTransfer_MovesValue(t *testing.T) {
	bt, db := books(alice, 100)

	if err := ledger.Transfer(bt, alice, bob, amt(30)); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if got := bt.BalanceOf(alice); got != amt(70) {
		t.Errorf("alice: got %s, want 70", got)
	}
	if got := bt.BalanceOf(bob); got != amt(30) {
		t.Errorf("bob: got %s, want 30", got)
	}
	assertConserved(t, bt, db, 100)
}

func TestTransfer_InsufficientNoMutation(t *testing.T) {
	bt, db := books(alice, 10)

	err := ledger.Transfer(bt, alice, bob, amt(11))
	if !errors.Is(err, ledger.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if got := bt.BalanceOf(alice); got != amt(10) {
		t.Errorf("alice changed to %s", got)
	}
	if _, ok := bt.Snapshot()[bob]; ok {
		t.Error("failed transfer should not touch recipient")
	}
	assertConserved(t, bt, db, 10)
}

func TestTransfer_SelfIsNoop(t *testing.T) {
	bt, _ := books(alice, 10)

	if err := ledger.Transfer(bt, alice, alice, amt(10)); err != nil {
		t.Fatalf("self transfer: %v", err)
	}
	if got := bt.BalanceOf(alice); got != amt(10) {
		t.Errorf("got %s, want 10", got)
	}

	if err := ledger.Transfer(bt, alice, alice, amt(11)); !errors.Is(err, ledger.ErrInsufficientBalance) {
		t.Errorf("self transfer above balance should fail, got %v", err)
	}
}

// ============================================================================
// Test: Borrow
// ============================================================================

func TestBorrow_DebitsLenderRecordsDebt(t *testing.T) {
	bt, db := books(alice, 100)

	if err := ledger.Borrow(bt, db, bob, alice, amt(40)); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	if got := bt.BalanceOf(alice); got != amt(60) {
		t.Errorf("lender: got %s, want 60", got)
	}
	if got := db.TotalOwed(bob); got != amt(40) {
		t.Errorf("owed: got %s, want 40", got)
	}
	if got := db.TotalExposure(alice); got != amt(40) {
		t.Errorf("exposure: got %s, want 40", got)
	}
	assertConserved(t, bt, db, 100)
}

func TestBorrow_InsufficientCreatesNoEntry(t *testing.T) {
	bt, db := books(alice, 10)

	err := ledger.Borrow(bt, db, bob, alice, amt(11))
	if !errors.Is(err, ledger.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if db.HasDebt(bob) {
		t.Error("failed borrow recorded a debt entry")
	}
	if got := bt.BalanceOf(alice); got != amt(10) {
		t.Errorf("lender changed to %s", got)
	}
}

func TestBorrow_SameLenderTwiceMerges(t *testing.T) {
	bt, db := books(alice, 100)

	mustBorrow(t, bt, db, bob, alice, 10)
	mustBorrow(t, bt, db, bob, alice, 25)

	entries := db.EntriesOf(bob)
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].Amount != amt(35) {
		t.Errorf("got %s, want 35", entries[0].Amount)
	}
	assertConserved(t, bt, db, 100)
}

func TestBorrow_ZeroRejected(t *testing.T) {
	bt, db := books(alice, 100)

	err := ledger.Borrow(bt, db, bob, alice, amt(0))
	if !errors.Is(err, ledger.ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	if db.HasDebt(bob) {
		t.Error("zero borrow recorded a debt entry")
	}
}

// ============================================================================
// Test: Settle
// ============================================================================

func TestSettle_OrderAndPartial(t *testing.T) {
	bt, db := books(alice, 100)
	bt.Restore(map[ledger.Account]ledger.Amount{alice: amt(50), carol: amt(50)})
	mustBorrow(t, bt, db, bob, alice, 30) // A, recorded first
	mustBorrow(t, bt, db, bob, carol, 50) // B

	res, err := ledger.Settle(bt, db, bob, dave, amt(40))
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if res.Fallback {
		t.Fatal("debtor with debt should not fall back")
	}

	if got := bt.BalanceOf(alice); got != amt(50) {
		t.Errorf("A: got %s, want 50 (20 + 30 repaid)", got)
	}
	if got := bt.BalanceOf(carol); got != amt(10) {
		t.Errorf("B: got %s, want 10 (0 + 10 repaid)", got)
	}

	entries := db.EntriesOf(bob)
	if len(entries) != 1 {
		t.Fatalf("expected 1 remaining entry, got %d", len(entries))
	}
	if entries[0].Lender != carol || entries[0].Amount != amt(40) {
		t.Errorf("remaining: got %s/%s, want B/40", entries[0].Lender, entries[0].Amount)
	}

	if len(res.Settlements) != 2 {
		t.Fatalf("expected 2 settlements, got %d", len(res.Settlements))
	}
	if res.Settlements[0].Lender != alice || res.Settlements[0].Amount != amt(30) {
		t.Errorf("first settlement: got %s/%s", res.Settlements[0].Lender, res.Settlements[0].Amount)
	}
	if res.Settlements[1].Lender != carol || res.Settlements[1].Amount != amt(10) {
		t.Errorf("second settlement: got %s/%s", res.Settlements[1].Lender, res.Settlements[1].Amount)
	}
	if !res.Refunded.IsZero() {
		t.Errorf("refunded: got %s, want 0", res.Refunded)
	}
	assertConserved(t, bt, db, 100)
}

func TestSettle_ExactRemovesEntry(t *testing.T) {
	bt, db := books(alice, 100)
	mustBorrow(t, bt, db, bob, alice, 30)

	if _, err := ledger.Settle(bt, db, bob, dave, amt(30)); err != nil {
		t.Fatalf("settle: %v", err)
	}
	if db.HasDebt(bob) {
		t.Errorf("expected empty book, got %v", db.EntriesOf(bob))
	}
	if len(db.Debtors()) != 0 {
		t.Error("debtor key should be deleted")
	}
	if got := bt.BalanceOf(alice); got != amt(100) {
		t.Errorf("lender: got %s, want 100", got)
	}
	assertConserved(t, bt, db, 100)
}

func TestSettle_ExcessIsRefunded(t *testing.T) {
	bt, db := books(alice, 100)
	mustBorrow(t, bt, db, bob, alice, 30)

	res, err := ledger.Settle(bt, db, bob, dave, amt(45))
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if res.Refunded != amt(15) {
		t.Errorf("refunded: got %s, want 15", res.Refunded)
	}
	if _, ok := bt.Snapshot()[dave]; ok {
		t.Error("excess must not move any balance")
	}
	assertConserved(t, bt, db, 100)
}

func TestSettle_FallbackEqualsTransfer(t *testing.T) {
	bt1, db1 := books(alice, 100)
	bt2, _ := books(alice, 100)

	res, err := ledger.Settle(bt1, db1, bob, alice, amt(10))
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if !res.Fallback {
		t.Error("expected fallback")
	}
	if err := ledger.Transfer(bt2, alice, bob, amt(10)); err != nil {
		t.Fatalf("transfer: %v", err)
	}

	for _, acct := range []ledger.Account{alice, bob} {
		if bt1.BalanceOf(acct) != bt2.BalanceOf(acct) {
			t.Errorf("%s: settle %s, transfer %s", acct, bt1.BalanceOf(acct), bt2.BalanceOf(acct))
		}
	}
	assertConserved(t, bt1, db1, 100)
}

func TestSettle_FallbackInsufficient(t *testing.T) {
	bt, db := books(alice, 5)

	_, err := ledger.Settle(bt, db, bob, alice, amt(10))
	if !errors.Is(err, ledger.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if got := bt.BalanceOf(alice); got != amt(5) {
		t.Errorf("counterparty changed to %s", got)
	}
}

func TestSettle_ZeroPaymentLeavesBook(t *testing.T) {
	bt, db := books(alice, 100)
	mustBorrow(t, bt, db, bob, alice, 30)

	res, err := ledger.Settle(bt, db, bob, dave, amt(0))
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if len(res.Settlements) != 0 {
		t.Errorf("expected no settlements, got %d", len(res.Settlements))
	}
	if got := db.TotalOwed(bob); got != amt(30) {
		t.Errorf("owed: got %s, want 30", got)
	}
}

func TestSettle_ConservationAcrossSequence(t *testing.T) {
	bt, db := books(alice, 1000)

	steps := []func() error{
		func() error { return ledger.Transfer(bt, alice, bob, amt(200)) },
		func() error { return ledger.Borrow(bt, db, carol, alice, amt(150)) },
		func() error { return ledger.Borrow(bt, db, carol, bob, amt(50)) },
		func() error { return ledger.Borrow(bt, db, dave, bob, amt(100)) },
		func() error { _, err := ledger.Settle(bt, db, carol, dave, amt(170)); return err },
		func() error { return ledger.Borrow(bt, db, carol, alice, amt(5)) },
		func() error { _, err := ledger.Settle(bt, db, dave, carol, amt(500)); return err },
		func() error { _, err := ledger.Settle(bt, db, bob, alice, amt(1)); return err },
		func() error { return ledger.Transfer(bt, bob, carol, amt(10_000)) },
	}

	for i, step := range steps {
		err := step()
		if err != nil && !errors.Is(err, ledger.ErrInsufficientBalance) {
			t.Fatalf("step %d: %v", i, err)
		}
		assertConserved(t, bt, db, 1000)
	}

	// carol's remaining book: alice 150 fully paid, bob 50 partially (30 left), then alice 5 appended
	entries := db.EntriesOf(carol)
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %v", entries)
	}
	if entries[0].Lender != bob || entries[0].Amount != amt(30) {
		t.Errorf("first: got %s/%s, want bob/30", entries[0].Lender, entries[0].Amount)
	}
	if entries[1].Lender != alice || entries[1].Amount != amt(5) {
		t.Errorf("second: got %s/%s, want alice/5", entries[1].Lender, entries[1].Amount)
	}
}

func TestQueries_DoNotMutate(t *testing.T) {
	bt, db := books(alice, 100)
	mustBorrow(t, bt, db, bob, alice, 30)

	before := ledger.Capture(bt, db)
	for i := 0; i < 2; i++ {
		_ = bt.BalanceOf(carol)
		_ = db.EntriesOf(dave)
		_ = db.TotalOwed(bob)
		_ = db.TotalExposure(alice)
	}
	after := ledger.Capture(bt, db)

	if len(before.Balances) != len(after.Balances) || len(before.Debts) != len(after.Debts) {
		t.Error("queries created keys")
	}
	beforeTotal, _ := before.Total()
	afterTotal, _ := after.Total()
	if beforeTotal != afterTotal {
		t.Errorf("total moved: %s -> %s", beforeTotal, afterTotal)
	}
}

func mustBorrow(t *testing.T, bt *ledger.BalanceTracker, db *ledger.DebtBook, borrower, lender ledger.Account, value uint64) {
	t.Helper()
	if err := ledger.Borrow(bt, db, borrower, lender, amt(value)); err != nil {
		t.Fatalf("borrow: %v", err)
	}
}
