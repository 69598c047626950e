package projection

import (
	"context"
	"database/sql"
	"errors"

	"ReserveBank/internal/ledger"
)

// Loan is one debt entry seen from the lender's side.
type Loan struct {
	Debtor ledger.Account `json:"debtor"`
	Amount ledger.Amount  `json:"amount"`
}

// Reader answers queries the in-memory books cannot index, such as the
// loans a lender has outstanding.
type Reader struct {
	db *sql.DB
}

func NewReader(db *sql.DB) *Reader {
	return &Reader{db: db}
}

// Watermark returns the sequence the tables reflect, 0 before the first write.
func (r *Reader) Watermark(ctx context.Context) (int64, error) {
	var seq int64
	err := r.db.QueryRowContext(ctx,
		`SELECT last_sequence FROM projections.watermark WHERE projection = $1`, Name,
	).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return seq, err
}

// LoansBy lists the debts owed to lender, largest first.
func (r *Reader) LoansBy(ctx context.Context, lender ledger.Account) ([]Loan, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT debtor, amount
		FROM projections.debt_entries
		WHERE lender = $1
		ORDER BY amount DESC, debtor
	`, lender.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var loans []Loan
	for rows.Next() {
		var debtor string
		var l Loan
		if err := rows.Scan(&debtor, &l.Amount); err != nil {
			return nil, err
		}
		if l.Debtor, err = ledger.ParseAccount(debtor); err != nil {
			return nil, err
		}
		loans = append(loans, l)
	}
	return loans, rows.Err()
}

// Totals returns Σ balances and Σ debt entries as projected.
func (r *Reader) Totals(ctx context.Context) (held, lent ledger.Amount, err error) {
	err = r.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COALESCE(SUM(balance), 0) FROM projections.balances)::TEXT,
			(SELECT COALESCE(SUM(amount), 0) FROM projections.debt_entries)::TEXT
	`).Scan(&held, &lent)
	return held, lent, err
}
