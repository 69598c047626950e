package persistence

import (
	"context"
	"fmt"

	"ReserveBank/internal/core"
	"ReserveBank/internal/event"
)

// EventSource reads logged rows back in sequence order.
type EventSource interface {
	ReadAfter(ctx context.Context, after int64, fn func(EventRow) error) error
}

// DecodeEventRow decodes a logged row into the operation that produced it and
// the values replay must reproduce.
func DecodeEventRow(row EventRow) (event.Event, *core.ReplayRecord, error) {
	n, err := event.UnmarshalNotification(row.Payload)
	if err != nil {
		return nil, nil, fmt.Errorf("decode event %d: %w", row.Sequence, err)
	}
	op, err := n.Operation()
	if err != nil {
		return nil, nil, err
	}
	if len(row.StateHash) != 32 {
		return nil, nil, fmt.Errorf("event %d: state hash is %d bytes", row.Sequence, len(row.StateHash))
	}
	rec := &core.ReplayRecord{
		Sequence:  row.Sequence,
		EventID:   row.EventID,
		Timestamp: row.Timestamp,
	}
	copy(rec.StateHash[:], row.StateHash)

	announced, err := n.DecodeStateHash()
	if err != nil {
		return nil, nil, fmt.Errorf("event %d: %w", row.Sequence, err)
	}
	if announced != rec.StateHash || n.Sequence != row.Sequence {
		return nil, nil, fmt.Errorf("event %d: payload does not match its row", row.Sequence)
	}
	return op, rec, nil
}

// CatchUp re-applies every logged operation the engine has not seen yet.
// The state store can trail the event log after a crash between the two
// writes of a flush; replaying closes the gap. It returns the number of
// operations applied.
func CatchUp(ctx context.Context, src EventSource, engine *core.Engine) (int, error) {
	applied := 0
	err := src.ReadAfter(ctx, engine.Sequence(), func(row EventRow) error {
		op, rec, err := DecodeEventRow(row)
		if err != nil {
			return err
		}
		if _, err := engine.Replay(op, rec); err != nil {
			return fmt.Errorf("replay event %d: %w", row.Sequence, err)
		}
		applied++
		return nil
	})
	return applied, err
}
