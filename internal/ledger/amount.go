package ledger

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/holiman/uint256"
)

// AmountBits is the width of the ledger's unit of value.
const AmountBits = 128

// Amount is an unsigned ledger value, at most AmountBits wide.
// The zero value is a valid zero amount and Amount values are comparable with ==.
type Amount struct {
	v uint256.Int
}

// MaxAmount is the largest representable amount (2^128 - 1).
var MaxAmount = func() Amount {
	var a Amount
	a.v.SetAllOne()
	a.v.Rsh(&a.v, 256-AmountBits)
	return a
}()

// NewAmount returns an amount holding u.
func NewAmount(u uint64) Amount {
	var a Amount
	a.v.SetUint64(u)
	return a
}

// ParseAmount parses a base-10 unsigned integer.
func ParseAmount(s string) (Amount, error) {
	s = strings.TrimSpace(s)
	if s == "" || s[0] == '-' || s[0] == '+' {
		return Amount{}, fmt.Errorf("parse amount %q: not an unsigned decimal", s)
	}
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return Amount{}, fmt.Errorf("parse amount %q: %w", s, err)
	}
	if v.BitLen() > AmountBits {
		return Amount{}, fmt.Errorf("parse amount %q: exceeds %d bits", s, AmountBits)
	}
	return Amount{v: *v}, nil
}

// MustParseAmount is ParseAmount that panics on error. Intended for tests and constants.
func MustParseAmount(s string) Amount {
	a, err := ParseAmount(s)
	if err != nil {
		panic(err)
	}
	return a
}

func (a Amount) IsZero() bool {
	return a.v.IsZero()
}

// Cmp returns -1, 0 or +1 depending on whether a is less than, equal to or greater than b.
func (a Amount) Cmp(b Amount) int {
	return a.v.Cmp(&b.v)
}

func (a Amount) Lt(b Amount) bool {
	return a.Cmp(b) < 0
}

// Add returns a+b; ok is false when the sum does not fit in AmountBits.
func (a Amount) Add(b Amount) (sum Amount, ok bool) {
	_, overflow := sum.v.AddOverflow(&a.v, &b.v)
	if overflow || sum.v.BitLen() > AmountBits {
		return Amount{}, false
	}
	return sum, true
}

// Sub returns a-b; ok is false when b > a.
func (a Amount) Sub(b Amount) (diff Amount, ok bool) {
	if _, underflow := diff.v.SubOverflow(&a.v, &b.v); underflow {
		return Amount{}, false
	}
	return diff, true
}

// MustAdd adds and panics on overflow.
func (a Amount) MustAdd(b Amount) Amount {
	sum, ok := a.Add(b)
	if !ok {
		panic(fmt.Sprintf("FATAL: amount overflow: %s + %s", a, b))
	}
	return sum
}

// MustSub subtracts and panics on underflow.
func (a Amount) MustSub(b Amount) Amount {
	diff, ok := a.Sub(b)
	if !ok {
		panic(fmt.Sprintf("FATAL: amount underflow: %s - %s", a, b))
	}
	return diff
}

// MinAmount returns the smaller of a and b.
func MinAmount(a, b Amount) Amount {
	if a.Lt(b) {
		return a
	}
	return b
}

// Big returns the amount as a new big.Int.
func (a Amount) Big() *big.Int {
	return a.v.ToBig()
}

// Float64 is a lossy conversion used for metrics only.
func (a Amount) Float64() float64 {
	f, _ := new(big.Float).SetInt(a.v.ToBig()).Float64()
	return f
}

func (a Amount) String() string {
	return a.v.Dec()
}

// MarshalJSON encodes the amount as a decimal string so 128-bit values
// survive JSON consumers that parse numbers as float64.
func (a Amount) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

// UnmarshalJSON accepts either a decimal string or a bare JSON number.
func (a *Amount) UnmarshalJSON(data []byte) error {
	s := string(data)
	if len(s) > 0 && s[0] == '"' {
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
	}
	parsed, err := ParseAmount(s)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// Value implements driver.Valuer. Amounts are stored as NUMERIC.
func (a Amount) Value() (driver.Value, error) {
	return a.String(), nil
}

// Scan implements sql.Scanner.
func (a *Amount) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*a = Amount{}
		return nil
	case int64:
		if v < 0 {
			return fmt.Errorf("scan amount: negative value %d", v)
		}
		*a = NewAmount(uint64(v))
		return nil
	case []byte:
		return a.scanString(string(v))
	case string:
		return a.scanString(v)
	default:
		return fmt.Errorf("scan amount: unsupported type %T", src)
	}
}

func (a *Amount) scanString(s string) error {
	parsed, err := ParseAmount(s)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// Bytes16 returns the amount as 16 big-endian bytes.
func (a Amount) Bytes16() [16]byte {
	full := a.v.Bytes32()
	var out [16]byte
	copy(out[:], full[16:])
	return out
}
