package ingestion

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"ReserveBank/internal/event"
)

// ErrMalformedCommand marks input that can never be applied, no matter how
// often it is redelivered.
var ErrMalformedCommand = errors.New("malformed command")

// CommandSubjectPrefix is the JetStream subject root for inbound commands:
// reservebank.commands.<kind>.
const CommandSubjectPrefix = "reservebank.commands"

// RawCommand is a message taken off the command stream, not yet parsed.
type RawCommand struct {
	Subject  string
	Data     []byte
	Received time.Time
	AckFunc  func() // applied, or rejected for good
	NakFunc  func() // redeliver
	TermFunc func() // never redeliver
}

// CommandSubject returns the subject commands of kind are published on.
func CommandSubject(kind event.EventType) string {
	return CommandSubjectPrefix + "." + kind.String()
}

// KindFromSubject resolves the command kind from a subject such as
// "reservebank.commands.repay" or "reservebank.commands.repay.shard-2".
func KindFromSubject(subject string) (event.EventType, error) {
	rest, ok := strings.CutPrefix(subject, CommandSubjectPrefix+".")
	if !ok {
		return event.EventTypeUnknown, fmt.Errorf("%w: subject %q outside %s", ErrMalformedCommand, subject, CommandSubjectPrefix)
	}
	name, _, _ := strings.Cut(rest, ".")
	kind, err := event.ParseEventType(name)
	if err != nil || kind == event.EventTypeGenesis {
		return event.EventTypeUnknown, fmt.Errorf("%w: no command kind %q", ErrMalformedCommand, name)
	}
	return kind, nil
}

// ParseCommand decodes a command body of the given kind. Unknown fields are
// rejected so typos in producer payloads surface instead of zeroing a field.
func ParseCommand(kind event.EventType, data []byte) (event.Event, error) {
	switch kind {
	case event.EventTypeTransfer:
		var c TransferCommand
		if err := decodeStrict(data, &c); err != nil {
			return nil, fmt.Errorf("%w: transfer: %v", ErrMalformedCommand, err)
		}
		return c.Operation()
	case event.EventTypeBorrow:
		var c BorrowCommand
		if err := decodeStrict(data, &c); err != nil {
			return nil, fmt.Errorf("%w: borrow: %v", ErrMalformedCommand, err)
		}
		return c.Operation()
	case event.EventTypeRepay:
		var c RepayCommand
		if err := decodeStrict(data, &c); err != nil {
			return nil, fmt.Errorf("%w: repay: %v", ErrMalformedCommand, err)
		}
		return c.Operation()
	default:
		return nil, fmt.Errorf("%w: unknown command kind %s", ErrMalformedCommand, kind)
	}
}

// ParseRawCommand resolves the kind from the subject and decodes the body.
func ParseRawCommand(raw RawCommand) (event.Event, error) {
	kind, err := KindFromSubject(raw.Subject)
	if err != nil {
		return nil, err
	}
	return ParseCommand(kind, raw.Data)
}

func decodeStrict(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("trailing data after command")
	}
	return nil
}
