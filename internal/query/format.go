package query

import (
	"github.com/shopspring/decimal"

	"ReserveBank/internal/ledger"
)

// FormatAmount renders a base-unit amount with the token's decimals,
// e.g. 1234500 with 4 decimals and symbol "RSV" is "123.4500 RSV".
func FormatAmount(a ledger.Amount, decimals int32, symbol string) string {
	s := decimal.NewFromBigInt(a.Big(), -decimals).StringFixed(decimals)
	if symbol == "" {
		return s
	}
	return s + " " + symbol
}
