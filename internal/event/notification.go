package event

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"ReserveBank/internal/ledger"
)

// SubjectPrefix is the JetStream subject root for outbound notifications.
const SubjectPrefix = "reservebank.events"

// Notification is the record handed to the external sink for every
// mutating operation.
type Notification struct {
	EventID   uuid.UUID       `json:"event_id"`
	Sequence  int64           `json:"sequence"`
	Kind      EventType       `json:"kind"`
	From      *ledger.Account `json:"from,omitempty"`
	To        ledger.Account  `json:"to"`
	Value     ledger.Amount   `json:"value"`
	RequestID string          `json:"request_id,omitempty"`

	// Repay only
	Fallback    bool                `json:"fallback,omitempty"`
	Refunded    *ledger.Amount      `json:"refunded,omitempty"`
	Settlements []ledger.Settlement `json:"settlements,omitempty"`

	StateHash string    `json:"state_hash"`
	Timestamp time.Time `json:"timestamp"`
}

// Subject returns the subject the notification is published on.
func (n *Notification) Subject() string {
	return SubjectPrefix + "." + n.Kind.String()
}

// SetStateHash stores the hash as lowercase hex.
func (n *Notification) SetStateHash(h [32]byte) {
	n.StateHash = hex.EncodeToString(h[:])
}

func (n *Notification) Marshal() ([]byte, error) {
	return json.Marshal(n)
}

func UnmarshalNotification(data []byte) (*Notification, error) {
	var n Notification
	if err := json.Unmarshal(data, &n); err != nil {
		return nil, err
	}
	return &n, nil
}

// DecodeStateHash parses StateHash back into its raw form.
func (n *Notification) DecodeStateHash() ([32]byte, error) {
	var h [32]byte
	raw, err := hex.DecodeString(n.StateHash)
	if err != nil {
		return h, fmt.Errorf("state hash: %w", err)
	}
	if len(raw) != len(h) {
		return h, fmt.Errorf("state hash: want %d bytes, got %d", len(h), len(raw))
	}
	copy(h[:], raw)
	return h, nil
}

// Operation rebuilds the operation that produced n, for replay.
func (n *Notification) Operation() (Event, error) {
	if n.Kind != EventTypeGenesis && n.From == nil {
		return nil, fmt.Errorf("notification %d: %s without sender", n.Sequence, n.Kind)
	}
	switch n.Kind {
	case EventTypeGenesis:
		return &Genesis{Owner: n.To, Endowment: n.Value}, nil
	case EventTypeTransfer:
		return &Transfer{RequestID: n.RequestID, From: *n.From, To: n.To, Value: n.Value}, nil
	case EventTypeBorrow:
		return &Borrow{RequestID: n.RequestID, Lender: *n.From, Borrower: n.To, Value: n.Value}, nil
	case EventTypeRepay:
		return &Repay{RequestID: n.RequestID, Debtor: n.To, Counterparty: *n.From, Value: n.Value}, nil
	default:
		return nil, fmt.Errorf("notification %d: unknown kind %q", n.Sequence, n.Kind)
	}
}
