package query_test

import (
	"context"
	"errors"
	"testing"

	"ReserveBank/internal/core"
	"ReserveBank/internal/ledger"
	"ReserveBank/internal/projection"
	"ReserveBank/internal/query"
)

var (
	owner  = ledger.AccountFromSeed("owner")
	lender = ledger.AccountFromSeed("lender")
	debtor = ledger.AccountFromSeed("debtor")
)

type fakeLoans struct {
	seq        int64
	loans      []projection.Loan
	held, lent ledger.Amount
}

func (f *fakeLoans) LoansBy(context.Context, ledger.Account) ([]projection.Loan, error) {
	return f.loans, nil
}

func (f *fakeLoans) Watermark(context.Context) (int64, error) {
	return f.seq, nil
}

func (f *fakeLoans) Totals(context.Context) (ledger.Amount, ledger.Amount, error) {
	return f.held, f.lent, nil
}

func newLedger(t *testing.T) *core.Engine {
	t.Helper()
	e := core.NewEngine(core.Options{})
	steps := []func() (*core.Result, error){
		func() (*core.Result, error) { return e.Genesis(owner, ledger.NewAmount(1_000_000)) },
		func() (*core.Result, error) { return e.Transfer("t", owner, lender, ledger.NewAmount(500_000)) },
		func() (*core.Result, error) { return e.Borrow("b", lender, debtor, ledger.NewAmount(12_345)) },
	}
	for i, step := range steps {
		if _, err := step(); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
	}
	return e
}

// ============================================================================
// Formatting
// ============================================================================

func TestFormatAmount(t *testing.T) {
	cases := []struct {
		amount   ledger.Amount
		decimals int32
		symbol   string
		want     string
	}{
		{ledger.NewAmount(1234500), 4, "RSV", "123.4500 RSV"},
		{ledger.NewAmount(5), 2, "RSV", "0.05 RSV"},
		{ledger.NewAmount(0), 0, "", "0"},
		{ledger.MaxAmount, 0, "", "340282366920938463463374607431768211455"},
		{ledger.MaxAmount, 18, "X", "340282366920938463463.374607431768211455 X"},
	}
	for _, tc := range cases {
		if got := query.FormatAmount(tc.amount, tc.decimals, tc.symbol); got != tc.want {
			t.Errorf("FormatAmount(%s, %d): got %q, want %q", tc.amount, tc.decimals, got, tc.want)
		}
	}
}

// ============================================================================
// Service
// ============================================================================

func TestGetAccount_ReportsAllSides(t *testing.T) {
	e := newLedger(t)
	svc := query.NewService(e, query.Options{Symbol: "RSV", Decimals: 2})

	resp, err := svc.GetAccount(context.Background(), lender)
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if resp.Balance.Raw != ledger.NewAmount(487_655) || resp.Balance.Display != "4876.55 RSV" {
		t.Errorf("balance: %+v", resp.Balance)
	}
	if resp.Exposure.Raw != ledger.NewAmount(12_345) {
		t.Errorf("exposure: %+v", resp.Exposure)
	}
	if !resp.Owed.Raw.IsZero() || len(resp.Entries) != 0 {
		t.Errorf("lender owes nothing: %+v", resp)
	}
	if resp.AsOfSequence != 3 {
		t.Errorf("as_of_sequence: got %d, want 3", resp.AsOfSequence)
	}
}

func TestGetDebt_ListsEntries(t *testing.T) {
	e := newLedger(t)
	svc := query.NewService(e, query.Options{})

	resp, err := svc.GetDebt(context.Background(), debtor)
	if err != nil {
		t.Fatalf("get debt: %v", err)
	}
	if len(resp.Entries) != 1 || resp.Entries[0].Lender != lender {
		t.Fatalf("entries: %+v", resp.Entries)
	}
	if resp.Total.Display != "12345" {
		t.Errorf("total display: %q", resp.Total.Display)
	}
}

func TestGetSupply_SplitsEndowment(t *testing.T) {
	e := newLedger(t)
	svc := query.NewService(e, query.Options{Symbol: "RSV"})

	resp, err := svc.GetSupply(context.Background())
	if err != nil {
		t.Fatalf("get supply: %v", err)
	}
	if resp.Total.Raw != ledger.NewAmount(1_000_000) || resp.Lent.Raw != ledger.NewAmount(12_345) {
		t.Errorf("supply: %+v", resp)
	}
	if resp.Debtors != 1 || resp.Owner != owner {
		t.Errorf("debtors=%d owner=%s", resp.Debtors, resp.Owner)
	}
	if len(resp.StateHash) != 64 {
		t.Errorf("state hash: %q", resp.StateHash)
	}
}

func TestGetLoans_WithoutProjection(t *testing.T) {
	svc := query.NewService(newLedger(t), query.Options{})
	if _, err := svc.GetLoans(context.Background(), lender); !errors.Is(err, query.ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", err)
	}
}

func TestGetLoans_FromProjection(t *testing.T) {
	loans := &fakeLoans{seq: 2, loans: []projection.Loan{{Debtor: debtor, Amount: ledger.NewAmount(7)}}}
	svc := query.NewService(newLedger(t), query.Options{Loans: loans})

	resp, err := svc.GetLoans(context.Background(), lender)
	if err != nil {
		t.Fatalf("get loans: %v", err)
	}
	if resp.AsOfSequence != 2 || len(resp.Loans) != 1 || resp.Loans[0].Debtor != debtor {
		t.Errorf("loans: %+v", resp)
	}
}

func TestVerifyIntegrity(t *testing.T) {
	e := newLedger(t)

	healthy := &fakeLoans{seq: 3, held: ledger.NewAmount(987_655), lent: ledger.NewAmount(12_345)}
	report, err := query.NewService(e, query.Options{Loans: healthy}).VerifyIntegrity(context.Background())
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !report.IsHealthy || !report.Conserved || !report.ProjectionChecked {
		t.Errorf("healthy report: %+v", report)
	}

	broken := &fakeLoans{seq: 3, held: ledger.NewAmount(1), lent: ledger.NewAmount(2)}
	report, err = query.NewService(e, query.Options{Loans: broken}).VerifyIntegrity(context.Background())
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if report.IsHealthy || len(report.Problems) != 1 {
		t.Errorf("broken projection not reported: %+v", report)
	}
}
