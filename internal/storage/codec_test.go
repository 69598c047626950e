package storage_test

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ReserveBank/internal/core"
	"ReserveBank/internal/ledger"
	"ReserveBank/internal/storage"
)

var (
	owner  = ledger.AccountFromSeed("owner")
	lender = ledger.AccountFromSeed("lender")
	debtor = ledger.AccountFromSeed("debtor")
)

// mirror runs operations on an engine and applies every output to s.
func mirror(t *testing.T, s storage.Store, ops func(e *core.Engine)) *core.Engine {
	t.Helper()
	persist := make(chan core.Output, 64)
	e := core.NewEngine(core.Options{PersistChan: persist})
	_, err := e.Genesis(owner, ledger.NewAmount(1000))
	require.NoError(t, err)
	ops(e)
	close(persist)

	for out := range persist {
		require.NoError(t, s.Apply(context.Background(), storage.ChangeSetFromOutput(out)))
	}
	return e
}

func TestLoadState_EmptyStore(t *testing.T) {
	snap, err := storage.LoadState(context.Background(), storage.NewMemoryStore())
	require.NoError(t, err)
	assert.Nil(t, snap)
}

func TestLoadState_RoundTripThroughOutputs(t *testing.T) {
	s := storage.NewMemoryStore()
	e := mirror(t, s, func(e *core.Engine) {
		_, err := e.Transfer("", owner, lender, ledger.NewAmount(300))
		require.NoError(t, err)
		_, err = e.Borrow("", lender, debtor, ledger.NewAmount(120))
		require.NoError(t, err)
		_, err = e.Borrow("", owner, debtor, ledger.NewAmount(80))
		require.NoError(t, err)
		_, err = e.Repay("", debtor, owner, ledger.NewAmount(150))
		require.NoError(t, err)
	})

	snap, err := storage.LoadState(context.Background(), s)
	require.NoError(t, err)
	require.NotNil(t, snap)

	want := e.Snapshot()
	assert.Equal(t, want.Sequence, snap.Sequence)
	assert.Equal(t, want.StateHash, snap.StateHash)
	assert.Equal(t, want.Owner, snap.Owner)
	assert.Equal(t, want.Endowment, snap.Endowment)
	assert.Equal(t, want.State.Balances, snap.State.Balances)
	assert.Equal(t, want.State.Debts, snap.State.Debts)

	restored := core.NewEngine(core.Options{})
	require.NoError(t, restored.Restore(snap, nil))
	assert.Equal(t, e.StateHash(), restored.StateHash())
}

func TestLoadState_SettledDebtorDeleted(t *testing.T) {
	s := storage.NewMemoryStore()
	mirror(t, s, func(e *core.Engine) {
		_, err := e.Borrow("", owner, debtor, ledger.NewAmount(50))
		require.NoError(t, err)
		_, err = e.Repay("", debtor, owner, ledger.NewAmount(50))
		require.NoError(t, err)
	})

	_, err := s.Get(context.Background(), storage.DebtKey(debtor))
	assert.ErrorIs(t, err, storage.ErrNotFound)

	snap, err := storage.LoadState(context.Background(), s)
	require.NoError(t, err)
	assert.Empty(t, snap.State.Debts)
}

func TestLoadState_Redis(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	s := storage.NewRedisStore(client, "test:")

	e := mirror(t, s, func(e *core.Engine) {
		_, err := e.Borrow("", owner, debtor, ledger.NewAmount(10))
		require.NoError(t, err)
	})

	snap, err := storage.LoadState(context.Background(), s)
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, e.Snapshot().State.Debts, snap.State.Debts)
}

func TestLoadState_CorruptValue(t *testing.T) {
	s := storage.NewMemoryStore()
	mirror(t, s, func(*core.Engine) {})

	cs := storage.NewChangeSet()
	cs.Put(storage.BalanceKey(owner), []byte("-5"))
	require.NoError(t, s.Apply(context.Background(), cs))

	_, err := storage.LoadState(context.Background(), s)
	assert.Error(t, err)
}
