package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"ReserveBank/internal/event"
)

// EventRow is one row of event_log.events.
type EventRow struct {
	Sequence       int64
	EventID        uuid.UUID
	EventType      string
	IdempotencyKey string
	Payload        []byte // JSON-encoded notification
	StateHash      []byte
	PrevHash       []byte
	Timestamp      time.Time
}

// EventRowFromEnvelope flattens an envelope into its log row.
func EventRowFromEnvelope(env *event.EventEnvelope) EventRow {
	return EventRow{
		Sequence:       env.Sequence,
		EventID:        env.EventID,
		EventType:      env.EventType.String(),
		IdempotencyKey: env.IdempotencyKey,
		Payload:        env.Payload,
		StateHash:      env.StateHash[:],
		PrevHash:       env.PrevHash[:],
		Timestamp:      env.Timestamp,
	}
}

const eventColumns = 8

// EventLogWriter appends to event_log.events with multi-row INSERTs.
// Rows already present are skipped, so a batch may be written twice.
type EventLogWriter struct {
	db *sql.DB
}

func NewEventLogWriter(db *sql.DB) *EventLogWriter {
	return &EventLogWriter{db: db}
}

// WriteEvents inserts rows in one statement.
func (w *EventLogWriter) WriteEvents(ctx context.Context, rows []EventRow) error {
	if len(rows) == 0 {
		return nil
	}

	values := make([]string, 0, len(rows))
	args := make([]any, 0, len(rows)*eventColumns)
	for i, r := range rows {
		base := i * eventColumns
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8,
		))
		args = append(args,
			r.Sequence, r.EventID, r.EventType, r.IdempotencyKey,
			r.Payload, r.StateHash, r.PrevHash, r.Timestamp,
		)
	}

	query := `INSERT INTO event_log.events
		(sequence, event_id, event_type, idempotency_key, payload, state_hash, prev_hash, timestamp)
		VALUES ` + strings.Join(values, ", ") + ` ON CONFLICT DO NOTHING`

	_, err := w.db.ExecContext(ctx, query, args...)
	return err
}

// LastSequence returns the highest logged sequence, or 0 for an empty log.
func (w *EventLogWriter) LastSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	if err := w.db.QueryRowContext(ctx, `SELECT MAX(sequence) FROM event_log.events`).Scan(&seq); err != nil {
		return 0, err
	}
	return seq.Int64, nil
}

// ReadAfter calls fn for every logged row with sequence > after, in order.
func (w *EventLogWriter) ReadAfter(ctx context.Context, after int64, fn func(EventRow) error) error {
	rows, err := w.db.QueryContext(ctx, `
		SELECT sequence, event_id, event_type, idempotency_key, payload, state_hash, prev_hash, timestamp
		FROM event_log.events
		WHERE sequence > $1
		ORDER BY sequence`, after)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var r EventRow
		if err := rows.Scan(
			&r.Sequence, &r.EventID, &r.EventType, &r.IdempotencyKey,
			&r.Payload, &r.StateHash, &r.PrevHash, &r.Timestamp,
		); err != nil {
			return err
		}
		if err := fn(r); err != nil {
			return err
		}
	}
	return rows.Err()
}
