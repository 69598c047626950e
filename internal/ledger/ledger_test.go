package ledger_test

import (
	"encoding/json"
	"errors"
	"testing"

	"ReserveBank/internal/ledger"
)

var (
	alice = ledger.AccountFromSeed("alice")
	bob   = ledger.AccountFromSeed("bob")
	carol = ledger.AccountFromSeed("carol")
	dave  = ledger.AccountFromSeed("dave")
)

func amt(u uint64) ledger.Amount {
	return ledger.NewAmount(u)
}

// ============================================================================
// Test: Account
// ============================================================================

func TestAccount_StringRoundTrip(t *testing.T) {
	parsed, err := ledger.ParseAccount(alice.String())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if parsed != alice {
		t.Errorf("got %s, want %s", parsed, alice)
	}
}

func TestAccount_ParseRejectsWrongLength(t *testing.T) {
	if _, err := ledger.ParseAccount("3mJr7AoUXx2Wqd"); err == nil {
		t.Error("short account should not parse")
	}
}

func TestAccount_ParseRejectsBadAlphabet(t *testing.T) {
	if _, err := ledger.ParseAccount("0OIl"); err == nil {
		t.Error("non-base58 text should not parse")
	}
}

func TestAccount_ZeroValue(t *testing.T) {
	if !ledger.NoAccount.IsZero() {
		t.Error("NoAccount should be zero")
	}
	if alice.IsZero() {
		t.Error("derived account should not be zero")
	}
}

// ============================================================================
// Test: Amount
// ============================================================================

func TestAmount_ParseMax(t *testing.T) {
	top := ledger.MustParseAmount("340282366920938463463374607431768211455")
	if top != ledger.MaxAmount {
		t.Errorf("got %s, want 2^128-1", top)
	}
}

func TestAmount_ParseRejectsTooWide(t *testing.T) {
	if _, err := ledger.ParseAmount("340282366920938463463374607431768211456"); err == nil {
		t.Error("2^128 should not parse")
	}
}

func TestAmount_ParseRejectsNegative(t *testing.T) {
	if _, err := ledger.ParseAmount("-1"); err == nil {
		t.Error("negative amount should not parse")
	}
}

func TestAmount_AddOverflow(t *testing.T) {
	if _, ok := ledger.MaxAmount.Add(amt(1)); ok {
		t.Error("MaxAmount + 1 should overflow")
	}
	sum, ok := amt(2).Add(amt(3))
	if !ok || sum != amt(5) {
		t.Errorf("2+3: got %s ok=%v", sum, ok)
	}
}

func TestAmount_SubUnderflow(t *testing.T) {
	if _, ok := amt(2).Sub(amt(3)); ok {
		t.Error("2-3 should underflow")
	}
}

func TestAmount_MustAddPanicsOnOverflow(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic")
		}
	}()
	ledger.MaxAmount.MustAdd(amt(1))
}

func TestAmount_JSON(t *testing.T) {
	data, err := json.Marshal(ledger.MaxAmount)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != `"340282366920938463463374607431768211455"` {
		t.Errorf("got %s", data)
	}

	var fromNumber ledger.Amount
	if err := json.Unmarshal([]byte(`42`), &fromNumber); err != nil {
		t.Fatalf("unmarshal number: %v", err)
	}
	if fromNumber != amt(42) {
		t.Errorf("got %s, want 42", fromNumber)
	}
}

func TestAmount_Scan(t *testing.T) {
	var a ledger.Amount
	if err := a.Scan([]byte("1000")); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if a != amt(1000) {
		t.Errorf("got %s, want 1000", a)
	}
	if err := a.Scan(int64(-1)); err == nil {
		t.Error("negative int64 should not scan")
	}
}

// ============================================================================
// Test: BalanceTracker
// ============================================================================

func TestBalanceTracker_UnknownAccountIsZero(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	if !bt.BalanceOf(alice).IsZero() {
		t.Errorf("unknown account should hold 0, got %s", bt.BalanceOf(alice))
	}
	if _, ok := bt.Snapshot()[alice]; ok {
		t.Error("query should not create the account")
	}
}

func TestBalanceTracker_CreditDebit(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	bt.Credit(alice, amt(100))

	if err := bt.Debit(alice, amt(40)); err != nil {
		t.Fatalf("debit: %v", err)
	}
	if got := bt.BalanceOf(alice); got != amt(60) {
		t.Errorf("got %s, want 60", got)
	}
}

func TestBalanceTracker_DebitRejectsOverdraft(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	bt.Credit(alice, amt(10))

	err := bt.Debit(alice, amt(11))
	if !errors.Is(err, ledger.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if got := bt.BalanceOf(alice); got != amt(10) {
		t.Errorf("failed debit changed balance to %s", got)
	}
}

func TestBalanceTracker_CreditOverflowPanics(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	bt.Credit(alice, ledger.MaxAmount)

	if bt.CanCredit(alice, amt(1)) {
		t.Error("CanCredit should report overflow")
	}

	defer func() {
		if recover() == nil {
			t.Error("expected FATAL panic on credit overflow")
		}
	}()
	bt.Credit(alice, amt(1))
}

func TestBalanceTracker_SnapshotIsolation(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	bt.Credit(alice, amt(5))

	snap := bt.Snapshot()
	bt.Credit(alice, amt(5))
	if snap[alice] != amt(5) {
		t.Errorf("snapshot changed with tracker: %s", snap[alice])
	}

	bt.Restore(snap)
	if got := bt.BalanceOf(alice); got != amt(5) {
		t.Errorf("restore: got %s, want 5", got)
	}
}

// ============================================================================
// Test: DebtBook
// ============================================================================

func TestDebtBook_EmptyDebtor(t *testing.T) {
	db := ledger.NewDebtBook()
	if entries := db.EntriesOf(alice); len(entries) != 0 {
		t.Errorf("expected no entries, got %v", entries)
	}
	if !db.TotalOwed(alice).IsZero() {
		t.Error("expected zero owed")
	}
}

func TestDebtBook_MergePerLender(t *testing.T) {
	db := ledger.NewDebtBook()
	mustRecord(t, db, alice, bob, 10)
	mustRecord(t, db, alice, carol, 5)
	mustRecord(t, db, alice, bob, 7)

	entries := db.EntriesOf(alice)
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Lender != bob || entries[0].Amount != amt(17) {
		t.Errorf("first entry: got %s/%s, want bob/17", entries[0].Lender, entries[0].Amount)
	}
	if entries[1].Lender != carol || entries[1].Amount != amt(5) {
		t.Errorf("second entry: got %s/%s, want carol/5", entries[1].Lender, entries[1].Amount)
	}
	if got := db.TotalOwed(alice); got != amt(22) {
		t.Errorf("total owed: got %s, want 22", got)
	}
}

func TestDebtBook_RecordZeroRejected(t *testing.T) {
	db := ledger.NewDebtBook()
	err := db.RecordBorrow(alice, bob, amt(0))
	if !errors.Is(err, ledger.ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	if db.HasDebt(alice) {
		t.Error("zero borrow should not create a debtor key")
	}
}

func TestDebtBook_EntriesOfReturnsCopy(t *testing.T) {
	db := ledger.NewDebtBook()
	mustRecord(t, db, alice, bob, 10)

	entries := db.EntriesOf(alice)
	entries[0].Amount = amt(1)

	if got := db.TotalOwed(alice); got != amt(10) {
		t.Errorf("caller mutation leaked into book: owed %s", got)
	}
}

func TestDebtBook_ReplaceEmptyRemovesDebtor(t *testing.T) {
	db := ledger.NewDebtBook()
	mustRecord(t, db, alice, bob, 10)

	db.Replace(alice, nil)
	if db.HasDebt(alice) {
		t.Error("debtor should be removed")
	}
	if len(db.Debtors()) != 0 {
		t.Errorf("expected no debtors, got %d", len(db.Debtors()))
	}
}

func TestDebtBook_ReplaceZeroEntryPanics(t *testing.T) {
	db := ledger.NewDebtBook()
	defer func() {
		if recover() == nil {
			t.Error("expected FATAL panic")
		}
	}()
	db.Replace(alice, []ledger.DebtEntry{{Lender: bob, Amount: amt(0)}})
}

func TestDebtBook_TotalExposure(t *testing.T) {
	db := ledger.NewDebtBook()
	mustRecord(t, db, alice, bob, 10)
	mustRecord(t, db, carol, bob, 15)
	mustRecord(t, db, carol, dave, 4)

	if got := db.TotalExposure(bob); got != amt(25) {
		t.Errorf("bob exposure: got %s, want 25", got)
	}
	if got := db.TotalExposure(dave); got != amt(4) {
		t.Errorf("dave exposure: got %s, want 4", got)
	}
	if got := db.TotalExposure(alice); !got.IsZero() {
		t.Errorf("alice exposure: got %s, want 0", got)
	}
}

// ============================================================================
// Test: InvariantValidator
// ============================================================================

func TestInvariantValidator_Conservation(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	db := ledger.NewDebtBook()
	bt.Credit(alice, amt(100))
	v := ledger.NewInvariantValidator(bt, db)

	if err := v.ValidateConservation(amt(100)); err != nil {
		t.Fatalf("fresh ledger: %v", err)
	}
	if err := ledger.Borrow(bt, db, bob, alice, amt(30)); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	if err := v.ValidateConservation(amt(100)); err != nil {
		t.Errorf("after borrow: %v", err)
	}

	bt.Credit(carol, amt(1))
	if err := v.ValidateConservation(amt(100)); err == nil {
		t.Error("minted value should break conservation")
	}
}

func TestInvariantValidator_DebtBook(t *testing.T) {
	db := ledger.NewDebtBook()
	mustRecord(t, db, alice, bob, 1)
	mustRecord(t, db, alice, carol, 2)

	v := ledger.NewInvariantValidator(ledger.NewBalanceTracker(), db)
	if err := v.ValidateDebtBook(); err != nil {
		t.Errorf("valid book rejected: %v", err)
	}
}

func mustRecord(t *testing.T, db *ledger.DebtBook, debtor, lender ledger.Account, value uint64) {
	t.Helper()
	if err := db.RecordBorrow(debtor, lender, amt(value)); err != nil {
		t.Fatalf("record borrow: %v", err)
	}
}
