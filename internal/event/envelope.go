package event

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventType discriminator for event payloads
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypeGenesis
	EventTypeTransfer
	EventTypeBorrow
	EventTypeRepay
)

// EventEnvelope wraps every applied operation in the log
type EventEnvelope struct {
	// Global monotonic sequence assigned by core
	Sequence int64

	// Unique id of this log record
	EventID uuid.UUID

	// Stable idempotency key from the caller (request id)
	IdempotencyKey string

	EventType EventType

	// Time the engine applied the operation
	Timestamp time.Time

	// JSON-encoded Notification
	Payload []byte

	// SHA-256 of state AFTER applying this event
	StateHash [32]byte

	// Previous event's state hash (chain integrity)
	PrevHash [32]byte
}

// Event is the interface all operation payloads implement
type Event interface {
	// IdempotencyKey returns the stable dedup key, empty when the caller sent none
	IdempotencyKey() string

	EventType() EventType
}

func (et EventType) String() string {
	switch et {
	case EventTypeGenesis:
		return "genesis"
	case EventTypeTransfer:
		return "transfer"
	case EventTypeBorrow:
		return "borrow"
	case EventTypeRepay:
		return "repay"
	default:
		return "unknown"
	}
}

// ParseEventType is the inverse of String.
func ParseEventType(s string) (EventType, error) {
	switch s {
	case "genesis":
		return EventTypeGenesis, nil
	case "transfer":
		return EventTypeTransfer, nil
	case "borrow":
		return EventTypeBorrow, nil
	case "repay":
		return EventTypeRepay, nil
	default:
		return EventTypeUnknown, fmt.Errorf("unknown event type %q", s)
	}
}

func (et EventType) MarshalText() ([]byte, error) {
	return []byte(et.String()), nil
}

func (et *EventType) UnmarshalText(text []byte) error {
	parsed, err := ParseEventType(string(text))
	if err != nil {
		return err
	}
	*et = parsed
	return nil
}
