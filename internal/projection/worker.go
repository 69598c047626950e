package projection

import (
	"context"
	"database/sql"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"ReserveBank/internal/core"
	"ReserveBank/internal/ledger"
	"ReserveBank/internal/observability"
)

// Name is the watermark row this worker owns.
const Name = "ledger"

// Snapshotter supplies the full state when the worker has to rebuild.
// *core.Engine implements it.
type Snapshotter interface {
	Snapshot() *core.Snapshot
}

// Worker mirrors engine outputs into projections.balances and
// projections.debt_entries. Its input is fed with non-blocking sends, so
// outputs can be missing; a gap in the sequence triggers a rebuild from a
// fresh engine snapshot.
type Worker struct {
	db        *sql.DB
	inputChan <-chan core.Output
	source    Snapshotter
	metrics   *observability.Metrics
	logger    zerolog.Logger
	lastSeq   atomic.Int64
}

func NewWorker(db *sql.DB, inputChan <-chan core.Output, source Snapshotter, metrics *observability.Metrics) *Worker {
	return &Worker{
		db:        db,
		inputChan: inputChan,
		source:    source,
		metrics:   metrics,
		logger:    observability.NewLogger("projection"),
	}
}

// Run rebuilds once to line the tables up with the engine and then applies
// outputs as they arrive. Projections are eventually consistent: a failed
// update is logged and repaired by the next rebuild.
func (pw *Worker) Run(ctx context.Context) error {
	if err := pw.rebuild(ctx); err != nil {
		pw.logger.Warn().Err(err).Msg("initial projection rebuild failed")
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case out, ok := <-pw.inputChan:
			if !ok {
				return nil
			}
			seq := out.Envelope.Sequence
			last := pw.lastSeq.Load()
			if last >= 0 && seq <= last {
				continue
			}

			var err error
			if seq != last+1 {
				pw.logger.Warn().Int64("expected", last+1).Int64("got", seq).Msg("projection gap, rebuilding")
				err = pw.rebuild(ctx)
			} else {
				err = pw.apply(ctx, out)
			}
			if err != nil {
				pw.logger.Warn().Err(err).Int64("seq", seq).Msg("projection update failed")
				// Force a rebuild on the next output.
				pw.lastSeq.Store(-1)
			}
		}
	}
}

// LastSequence returns the last sequence the tables reflect.
func (pw *Worker) LastSequence() int64 {
	return pw.lastSeq.Load()
}

func (pw *Worker) apply(ctx context.Context, out core.Output) error {
	start := time.Now()
	seq := out.Envelope.Sequence

	err := inTx(ctx, pw.db, func(tx *sql.Tx) error {
		for acct, bal := range out.Delta.Balances {
			if err := upsertBalance(ctx, tx, acct, bal, seq); err != nil {
				return fmt.Errorf("balance %s: %w", acct, err)
			}
		}
		for debtor, entries := range out.Delta.Debts {
			if err := replaceEntries(ctx, tx, debtor, entries, seq); err != nil {
				return fmt.Errorf("debt %s: %w", debtor, err)
			}
		}
		return setWatermark(ctx, tx, seq)
	})
	if err != nil {
		return err
	}

	pw.lastSeq.Store(seq)
	pw.observe("incremental", start)
	return nil
}

func (pw *Worker) rebuild(ctx context.Context) error {
	if pw.source == nil {
		return fmt.Errorf("no snapshot source")
	}
	start := time.Now()
	snap := pw.source.Snapshot()
	if err := Rebuild(ctx, pw.db, snap); err != nil {
		return err
	}
	pw.lastSeq.Store(snap.Sequence)
	pw.observe("rebuild", start)
	pw.logger.Info().Int64("seq", snap.Sequence).Msg("projections rebuilt")
	return nil
}

func (pw *Worker) observe(kind string, start time.Time) {
	if pw.metrics == nil {
		return
	}
	pw.metrics.ProjectionUpdateDur.WithLabelValues(kind).Observe(time.Since(start).Seconds())
	pw.metrics.ProjectionLastSeq.Set(float64(pw.lastSeq.Load()))
}

// Rebuild replaces every projection table with the contents of snap.
func Rebuild(ctx context.Context, db *sql.DB, snap *core.Snapshot) error {
	return inTx(ctx, db, func(tx *sql.Tx) error {
		for _, stmt := range []string{
			`DELETE FROM projections.debt_entries`,
			`DELETE FROM projections.balances`,
		} {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("clear projections: %w", err)
			}
		}
		for acct, bal := range snap.State.Balances {
			if err := upsertBalance(ctx, tx, acct, bal, snap.Sequence); err != nil {
				return fmt.Errorf("balance %s: %w", acct, err)
			}
		}
		for debtor, entries := range snap.State.Debts {
			if err := replaceEntries(ctx, tx, debtor, entries, snap.Sequence); err != nil {
				return fmt.Errorf("debt %s: %w", debtor, err)
			}
		}
		return setWatermark(ctx, tx, snap.Sequence)
	})
}

func upsertBalance(ctx context.Context, tx *sql.Tx, acct ledger.Account, bal ledger.Amount, seq int64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.balances (account, balance, last_sequence, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (account)
		DO UPDATE SET balance = EXCLUDED.balance, last_sequence = EXCLUDED.last_sequence, updated_at = NOW()
		WHERE projections.balances.last_sequence <= EXCLUDED.last_sequence
	`, acct.String(), bal, seq)
	return err
}

// replaceEntries rewrites one debtor's list. Positions keep the FIFO order
// of the debt book; an empty list removes the debtor.
func replaceEntries(ctx context.Context, tx *sql.Tx, debtor ledger.Account, entries []ledger.DebtEntry, seq int64) error {
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM projections.debt_entries WHERE debtor = $1`, debtor.String(),
	); err != nil {
		return err
	}
	for i, e := range entries {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO projections.debt_entries (debtor, position, lender, amount, last_sequence)
			VALUES ($1, $2, $3, $4, $5)
		`, debtor.String(), i, e.Lender.String(), e.Amount, seq); err != nil {
			return err
		}
	}
	return nil
}

func setWatermark(ctx context.Context, tx *sql.Tx, seq int64) error {
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.watermark (projection, last_sequence, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (projection) DO UPDATE SET last_sequence = EXCLUDED.last_sequence, updated_at = NOW()
	`, Name, seq); err != nil {
		return fmt.Errorf("watermark update: %w", err)
	}
	return nil
}

func inTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}
