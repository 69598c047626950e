package server

import (
	"encoding/hex"

	"ReserveBank/internal/core"
	"ReserveBank/internal/ledger"
)

// AccountRequest names the account a query is about.
type AccountRequest struct {
	Account ledger.Account `json:"account"`
}

type Empty struct{}

// CommandResponse answers Transfer, Borrow and Repay. A request id that was
// already applied is answered with Duplicate set and nothing else.
type CommandResponse struct {
	Sequence   int64                    `json:"sequence,omitempty"`
	EventID    string                   `json:"event_id,omitempty"`
	StateHash  string                   `json:"state_hash,omitempty"`
	Duplicate  bool                     `json:"duplicate,omitempty"`
	Settlement *ledger.SettlementResult `json:"settlement,omitempty"`
}

func commandResponse(res *core.Result) *CommandResponse {
	if res.Duplicate {
		return &CommandResponse{Duplicate: true}
	}
	return &CommandResponse{
		Sequence:   res.Sequence,
		EventID:    res.EventID.String(),
		StateHash:  hex.EncodeToString(res.StateHash[:]),
		Settlement: res.Settlement,
	}
}
