package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// PostgresStore keeps state in the ledger_state.kv table created by the migrations.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Get(ctx context.Context, key string) ([]byte, error) {
	var v []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT value FROM ledger_state.kv WHERE key = $1", key,
	).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres get %s: %w", key, err)
	}
	return v, nil
}

// Apply writes the change set in one transaction.
func (s *PostgresStore) Apply(ctx context.Context, cs *ChangeSet) error {
	ops := cs.Compact()
	if len(ops) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := ApplyTx(ctx, tx, ops); err != nil {
		return err
	}
	return tx.Commit()
}

// ApplyTx writes ops inside a caller-owned transaction so state can commit
// together with other tables.
func ApplyTx(ctx context.Context, tx *sql.Tx, ops []Op) error {
	for _, op := range ops {
		if op.Delete {
			if _, err := tx.ExecContext(ctx, "DELETE FROM ledger_state.kv WHERE key = $1", op.Key); err != nil {
				return fmt.Errorf("delete %s: %w", op.Key, err)
			}
			continue
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO ledger_state.kv (key, value, updated_at)
			VALUES ($1, $2, NOW())
			ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`,
			op.Key, op.Value,
		)
		if err != nil {
			return fmt.Errorf("upsert %s: %w", op.Key, err)
		}
	}
	return nil
}

// Iterate visits keys in lexical order.
func (s *PostgresStore) Iterate(ctx context.Context, prefix string, fn func(key string, value []byte) error) error {
	rows, err := s.db.QueryContext(ctx,
		"SELECT key, value FROM ledger_state.kv WHERE key LIKE $1 ESCAPE '\\' ORDER BY key",
		escapeLike(prefix)+"%",
	)
	if err != nil {
		return fmt.Errorf("postgres iterate %s: %w", prefix, err)
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var value []byte
		if err := rows.Scan(&key, &value); err != nil {
			return err
		}
		if err := fn(key, value); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close is a no-op: the *sql.DB is shared with the event log and owned by main.
func (s *PostgresStore) Close() error {
	return nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
