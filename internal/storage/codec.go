package storage

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"ReserveBank/internal/core"
	"ReserveBank/internal/ledger"
)

// Key layout:
//
//	balance/<account>   decimal amount
//	debt/<debtor>       JSON array of {lender, amount}, oldest first
//	meta/sequence       decimal int64
//	meta/state_hash     hex
//	meta/owner          account
//	meta/endowment      decimal amount
const (
	PrefixBalance = "balance/"
	PrefixDebt    = "debt/"
	PrefixMeta    = "meta/"

	KeySequence  = PrefixMeta + "sequence"
	KeyStateHash = PrefixMeta + "state_hash"
	KeyOwner     = PrefixMeta + "owner"
	KeyEndowment = PrefixMeta + "endowment"
)

func BalanceKey(a ledger.Account) string {
	return PrefixBalance + a.String()
}

func DebtKey(debtor ledger.Account) string {
	return PrefixDebt + debtor.String()
}

// ChangeSetFromOutput turns one engine output into the writes that mirror it.
func ChangeSetFromOutput(out core.Output) *ChangeSet {
	cs := NewChangeSet()
	for account, amount := range out.Delta.Balances {
		cs.Put(BalanceKey(account), []byte(amount.String()))
	}
	for debtor, entries := range out.Delta.Debts {
		if len(entries) == 0 {
			cs.Delete(DebtKey(debtor))
			continue
		}
		cs.Put(DebtKey(debtor), encodeEntries(entries))
	}
	putMeta(cs, out.Envelope.Sequence, out.Envelope.StateHash, out.Owner, out.Endowment)
	return cs
}

func putMeta(cs *ChangeSet, sequence int64, stateHash [32]byte, owner ledger.Account, endowment ledger.Amount) {
	cs.Put(KeySequence, []byte(strconv.FormatInt(sequence, 10)))
	cs.Put(KeyStateHash, []byte(hex.EncodeToString(stateHash[:])))
	cs.Put(KeyOwner, []byte(owner.String()))
	cs.Put(KeyEndowment, []byte(endowment.String()))
}

func encodeEntries(entries []ledger.DebtEntry) []byte {
	data, err := json.Marshal(entries)
	if err != nil {
		// Account and Amount marshal infallibly.
		panic(fmt.Sprintf("FATAL: encode debt entries: %v", err))
	}
	return data
}

// LoadState reads the full ledger state back. It returns (nil, nil) when
// the store has never been written.
func LoadState(ctx context.Context, s Store) (*core.Snapshot, error) {
	rawSeq, err := s.Get(ctx, KeySequence)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	snap := &core.Snapshot{
		State: ledger.State{
			Balances: make(map[ledger.Account]ledger.Amount),
			Debts:    make(map[ledger.Account][]ledger.DebtEntry),
		},
	}

	if snap.Sequence, err = strconv.ParseInt(string(rawSeq), 10, 64); err != nil {
		return nil, fmt.Errorf("decode %s: %w", KeySequence, err)
	}
	if err := loadMeta(ctx, s, snap); err != nil {
		return nil, err
	}

	err = s.Iterate(ctx, PrefixBalance, func(key string, value []byte) error {
		account, err := ledger.ParseAccount(strings.TrimPrefix(key, PrefixBalance))
		if err != nil {
			return fmt.Errorf("decode key %s: %w", key, err)
		}
		amount, err := ledger.ParseAmount(string(value))
		if err != nil {
			return fmt.Errorf("decode %s: %w", key, err)
		}
		snap.State.Balances[account] = amount
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = s.Iterate(ctx, PrefixDebt, func(key string, value []byte) error {
		debtor, err := ledger.ParseAccount(strings.TrimPrefix(key, PrefixDebt))
		if err != nil {
			return fmt.Errorf("decode key %s: %w", key, err)
		}
		var entries []ledger.DebtEntry
		if err := json.Unmarshal(value, &entries); err != nil {
			return fmt.Errorf("decode %s: %w", key, err)
		}
		snap.State.Debts[debtor] = entries
		return nil
	})
	if err != nil {
		return nil, err
	}

	return snap, nil
}

func loadMeta(ctx context.Context, s Store, snap *core.Snapshot) error {
	rawHash, err := s.Get(ctx, KeyStateHash)
	if err != nil {
		return fmt.Errorf("read %s: %w", KeyStateHash, err)
	}
	hash, err := hex.DecodeString(string(rawHash))
	if err != nil || len(hash) != len(snap.StateHash) {
		return fmt.Errorf("decode %s: invalid hash %q", KeyStateHash, rawHash)
	}
	copy(snap.StateHash[:], hash)

	rawOwner, err := s.Get(ctx, KeyOwner)
	if err != nil {
		return fmt.Errorf("read %s: %w", KeyOwner, err)
	}
	if snap.Owner, err = ledger.ParseAccount(string(rawOwner)); err != nil {
		return fmt.Errorf("decode %s: %w", KeyOwner, err)
	}

	rawEndowment, err := s.Get(ctx, KeyEndowment)
	if err != nil {
		return fmt.Errorf("read %s: %w", KeyEndowment, err)
	}
	if snap.Endowment, err = ledger.ParseAmount(string(rawEndowment)); err != nil {
		return fmt.Errorf("decode %s: %w", KeyEndowment, err)
	}
	return nil
}
