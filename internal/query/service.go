package query

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"ReserveBank/internal/core"
	"ReserveBank/internal/ledger"
	"ReserveBank/internal/observability"
	"ReserveBank/internal/projection"
)

// ErrUnavailable is returned for queries whose backing store is not configured.
var ErrUnavailable = errors.New("query unavailable")

// Ledger is the read side of the engine.
type Ledger interface {
	ViewAccount(account ledger.Account) core.AccountView
	ViewSupply() core.Supply
	StateHash() [32]byte
}

// LoanIndex answers lender-side queries from the projection tables.
type LoanIndex interface {
	LoansBy(ctx context.Context, lender ledger.Account) ([]projection.Loan, error)
	Watermark(ctx context.Context) (int64, error)
	Totals(ctx context.Context) (held, lent ledger.Amount, err error)
}

// Service serves read-only queries. Account and supply reads come straight
// from the engine, so they are consistent as of the returned sequence.
// Every response carries as_of_sequence.
type Service struct {
	ledger   Ledger
	loans    LoanIndex // nil without Postgres
	symbol   string
	decimals int32
	metrics  *observability.Metrics
}

type Options struct {
	Loans    LoanIndex
	Symbol   string
	Decimals int32
	Metrics  *observability.Metrics
}

func NewService(l Ledger, opts Options) *Service {
	return &Service{
		ledger:   l,
		loans:    opts.Loans,
		symbol:   opts.Symbol,
		decimals: opts.Decimals,
		metrics:  opts.Metrics,
	}
}

func (s *Service) money(a ledger.Amount) Money {
	return Money{Raw: a, Display: FormatAmount(a, s.decimals, s.symbol)}
}

func (s *Service) entries(list []ledger.DebtEntry) []DebtEntryResponse {
	out := make([]DebtEntryResponse, 0, len(list))
	for _, e := range list {
		out = append(out, DebtEntryResponse{Lender: e.Lender, Amount: s.money(e.Amount)})
	}
	return out
}

// GetAccount returns balance, debts and exposure of one account.
func (s *Service) GetAccount(_ context.Context, account ledger.Account) (*AccountResponse, error) {
	defer s.observe("account", time.Now())
	v := s.ledger.ViewAccount(account)
	return &AccountResponse{
		Account:      account,
		Balance:      s.money(v.Balance),
		Owed:         s.money(v.Owed),
		Entries:      s.entries(v.Entries),
		Exposure:     s.money(v.Exposure),
		AsOfSequence: v.Sequence,
	}, nil
}

func (s *Service) GetBalance(_ context.Context, account ledger.Account) (*BalanceResponse, error) {
	defer s.observe("balance", time.Now())
	v := s.ledger.ViewAccount(account)
	return &BalanceResponse{
		Account:      account,
		Balance:      s.money(v.Balance),
		AsOfSequence: v.Sequence,
	}, nil
}

func (s *Service) GetDebt(_ context.Context, debtor ledger.Account) (*DebtResponse, error) {
	defer s.observe("debt", time.Now())
	v := s.ledger.ViewAccount(debtor)
	return &DebtResponse{
		Debtor:       debtor,
		Total:        s.money(v.Owed),
		Entries:      s.entries(v.Entries),
		AsOfSequence: v.Sequence,
	}, nil
}

func (s *Service) GetExposure(_ context.Context, lender ledger.Account) (*ExposureResponse, error) {
	defer s.observe("exposure", time.Now())
	v := s.ledger.ViewAccount(lender)
	return &ExposureResponse{
		Lender:       lender,
		Exposure:     s.money(v.Exposure),
		AsOfSequence: v.Sequence,
	}, nil
}

// GetLoans lists who owes lender, from the projection tables.
func (s *Service) GetLoans(ctx context.Context, lender ledger.Account) (*LoansResponse, error) {
	defer s.observe("loans", time.Now())
	if s.loans == nil {
		return nil, fmt.Errorf("%w: loans require the postgres projection", ErrUnavailable)
	}
	seq, err := s.loans.Watermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}
	loans, err := s.loans.LoansBy(ctx, lender)
	if err != nil {
		return nil, fmt.Errorf("loans: %w", err)
	}
	resp := &LoansResponse{Lender: lender, Loans: make([]LoanResponse, 0, len(loans)), AsOfSequence: seq}
	for _, l := range loans {
		resp.Loans = append(resp.Loans, LoanResponse{Debtor: l.Debtor, Amount: s.money(l.Amount)})
	}
	return resp, nil
}

func (s *Service) GetSupply(_ context.Context) (*SupplyResponse, error) {
	defer s.observe("supply", time.Now())
	sup := s.ledger.ViewSupply()
	hash := s.ledger.StateHash()
	return &SupplyResponse{
		Owner:        sup.Owner,
		Symbol:       s.symbol,
		Decimals:     s.decimals,
		Total:        s.money(sup.Endowment),
		Held:         s.money(sup.Held),
		Lent:         s.money(sup.Lent),
		Debtors:      sup.Debtors,
		StateHash:    hex.EncodeToString(hash[:]),
		AsOfSequence: sup.Sequence,
	}, nil
}

// VerifyIntegrity checks conservation on the live books and, when the
// projection is caught up, on the projected tables as well.
func (s *Service) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	defer s.observe("integrity", time.Now())
	sup := s.ledger.ViewSupply()
	report := &IntegrityReport{Sequence: sup.Sequence}

	total, ok := sup.Held.Add(sup.Lent)
	report.Conserved = ok && total == sup.Endowment
	if !report.Conserved {
		report.Problems = append(report.Problems,
			fmt.Sprintf("held %s + lent %s != endowment %s", sup.Held, sup.Lent, sup.Endowment))
	}

	if s.loans != nil {
		seq, err := s.loans.Watermark(ctx)
		if err != nil {
			return nil, fmt.Errorf("watermark: %w", err)
		}
		report.ProjectionSequence = seq
		held, lent, err := s.loans.Totals(ctx)
		if err != nil {
			return nil, fmt.Errorf("projection totals: %w", err)
		}
		projected, ok := held.Add(lent)
		m := s.money(projected)
		report.ProjectionTotal = &m
		report.ProjectionChecked = true
		if !ok || projected != sup.Endowment {
			report.Problems = append(report.Problems,
				fmt.Sprintf("projection at %d holds %s, endowment is %s", seq, projected, sup.Endowment))
		}
	}

	report.IsHealthy = len(report.Problems) == 0
	return report, nil
}

func (s *Service) observe(endpoint string, start time.Time) {
	if s.metrics == nil {
		return
	}
	s.metrics.QueryDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
}
