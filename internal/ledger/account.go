package ledger

import (
	"bytes"
	"crypto/sha256"
	"fmt"

	"github.com/mr-tron/base58"
)

// AccountSize is the width of an account identifier in bytes.
const AccountSize = 32

// Account is an opaque 32-byte account identifier. Accounts have no
// lifecycle of their own: they come into existence on first reference.
type Account [AccountSize]byte

// NoAccount is the zero identifier. It is used as the "from" side of the
// genesis notification and is never a valid operation participant.
var NoAccount Account

// accountFromBytes copies b into an Account. b must be exactly AccountSize long.
func accountFromBytes(b []byte) (Account, error) {
	var a Account
	if len(b) != AccountSize {
		return a, fmt.Errorf("account must be %d bytes, got %d", AccountSize, len(b))
	}
	copy(a[:], b)
	return a, nil
}

// AccountFromSeed derives a deterministic account from an arbitrary label.
// Handy for configuration and tests; the ledger itself does not care how ids are made.
func AccountFromSeed(seed string) Account {
	return Account(sha256.Sum256([]byte(seed)))
}

// ParseAccount decodes the base58 text form produced by String.
func ParseAccount(s string) (Account, error) {
	raw, err := base58.Decode(s)
	if err != nil {
		return NoAccount, fmt.Errorf("decode account %q: %w", s, err)
	}
	return accountFromBytes(raw)
}

func (a Account) IsZero() bool {
	return a == NoAccount
}

// String returns the base58 encoding of the account.
func (a Account) String() string {
	return base58.Encode(a[:])
}

// Compare orders accounts bytewise. Used for deterministic iteration.
func (a Account) Compare(b Account) int {
	return bytes.Compare(a[:], b[:])
}

func (a Account) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

func (a *Account) UnmarshalText(text []byte) error {
	parsed, err := ParseAccount(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
