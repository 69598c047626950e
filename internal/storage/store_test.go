package storage_test

import (
	"context"
	"errors"
	"sort"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ReserveBank/internal/storage"
	"ReserveBank/internal/testutil"
)

// runStoreContract exercises the behaviour every backend must share.
func runStoreContract(t *testing.T, s storage.Store) {
	ctx := context.Background()

	t.Run("missing key", func(t *testing.T) {
		_, err := s.Get(ctx, "nope")
		assert.True(t, errors.Is(err, storage.ErrNotFound))
	})

	t.Run("put get delete", func(t *testing.T) {
		cs := storage.NewChangeSet()
		cs.Put("balance/a", []byte("10"))
		cs.Put("balance/b", []byte("20"))
		require.NoError(t, s.Apply(ctx, cs))

		v, err := s.Get(ctx, "balance/a")
		require.NoError(t, err)
		assert.Equal(t, []byte("10"), v)

		cs = storage.NewChangeSet()
		cs.Delete("balance/a")
		require.NoError(t, s.Apply(ctx, cs))

		_, err = s.Get(ctx, "balance/a")
		assert.True(t, errors.Is(err, storage.ErrNotFound))
	})

	t.Run("last op per key wins", func(t *testing.T) {
		cs := storage.NewChangeSet()
		cs.Put("debt/x", []byte("first"))
		cs.Delete("debt/x")
		cs.Put("debt/x", []byte("last"))
		require.NoError(t, s.Apply(ctx, cs))

		v, err := s.Get(ctx, "debt/x")
		require.NoError(t, err)
		assert.Equal(t, []byte("last"), v)
	})

	t.Run("iterate by prefix", func(t *testing.T) {
		cs := storage.NewChangeSet()
		cs.Put("meta/sequence", []byte("1"))
		cs.Put("balance/c", []byte("30"))
		require.NoError(t, s.Apply(ctx, cs))

		var keys []string
		err := s.Iterate(ctx, "balance/", func(key string, value []byte) error {
			keys = append(keys, key)
			return nil
		})
		require.NoError(t, err)
		sort.Strings(keys)
		assert.Equal(t, []string{"balance/b", "balance/c"}, keys)
	})

	t.Run("iterate stops on error", func(t *testing.T) {
		stop := errors.New("stop")
		calls := 0
		err := s.Iterate(ctx, "balance/", func(string, []byte) error {
			calls++
			return stop
		})
		assert.ErrorIs(t, err, stop)
		assert.Equal(t, 1, calls)
	})

	t.Run("ping", func(t *testing.T) {
		assert.NoError(t, s.Ping(ctx))
	})
}

func TestMemoryStore_Contract(t *testing.T) {
	runStoreContract(t, storage.NewMemoryStore())
}

func TestRedisStore_Contract(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	s := storage.NewRedisStore(client, "")
	runStoreContract(t, s)

	// Everything lands under the namespace.
	assert.True(t, mr.Exists(storage.DefaultRedisNamespace+"balance/b"))
	assert.False(t, mr.Exists("balance/b"))
}

func TestRedisStore_ConnectRedis(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := storage.ConnectRedis(context.Background(), "redis://"+mr.Addr()+"/0")
	require.NoError(t, err)
	require.NoError(t, client.Close())

	client, err = storage.ConnectRedis(context.Background(), mr.Addr())
	require.NoError(t, err)
	require.NoError(t, client.Close())
}

func TestRedisStore_ConnectRedisUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := storage.ConnectRedis(context.Background(), addr)
	assert.Error(t, err)
}

func TestPostgresStore_Contract(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	runStoreContract(t, storage.NewPostgresStore(db))
}

func TestChangeSet_Compact(t *testing.T) {
	cs := storage.NewChangeSet()
	cs.Put("a", []byte("1"))
	cs.Put("b", []byte("2"))
	cs.Delete("a")

	ops := cs.Compact()
	require.Len(t, ops, 2)
	assert.Equal(t, "b", ops[0].Key)
	assert.Equal(t, "a", ops[1].Key)
	assert.True(t, ops[1].Delete)
}
