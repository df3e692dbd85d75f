package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/testrig/pkg/store"
	"github.com/codeready-toolchain/testrig/test/util"
)

func TestPostgresStore_KV(t *testing.T) {
	db := util.SetupTestDatabase(t)
	p := store.NewPostgresStore(db)
	ctx := context.Background()

	t.Run("get absent key", func(t *testing.T) {
		_, err := p.Get(ctx, "missing")
		assert.ErrorIs(t, err, store.ErrKeyNotFound)
	})

	t.Run("put, overwrite, delete", func(t *testing.T) {
		require.NoError(t, p.Put(ctx, "k", []byte("v1"), 0))
		got, err := p.Get(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, []byte("v1"), got)

		require.NoError(t, p.Put(ctx, "k", []byte("v2"), 0))
		got, err = p.Get(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, []byte("v2"), got)

		require.NoError(t, p.Delete(ctx, "k"))
		_, err = p.Get(ctx, "k")
		assert.ErrorIs(t, err, store.ErrKeyNotFound)
	})

	t.Run("expired entries are invisible and swept", func(t *testing.T) {
		require.NoError(t, p.Put(ctx, "gone", []byte("x"), time.Millisecond))
		require.NoError(t, p.Put(ctx, "kept", []byte("y"), time.Hour))
		time.Sleep(50 * time.Millisecond)

		_, err := p.Get(ctx, "gone")
		assert.ErrorIs(t, err, store.ErrKeyNotFound)

		keys, err := p.Scan(ctx, "g")
		require.NoError(t, err)
		assert.Empty(t, keys)

		removed, err := p.DeleteExpired(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), removed)

		got, err := p.Get(ctx, "kept")
		require.NoError(t, err)
		assert.Equal(t, []byte("y"), got)
	})

	t.Run("scan is prefix-bounded and sorted", func(t *testing.T) {
		require.NoError(t, p.Put(ctx, "job:b", []byte("1"), 0))
		require.NoError(t, p.Put(ctx, "job:a", []byte("2"), 0))
		require.NoError(t, p.Put(ctx, "agent:z", []byte("3"), 0))

		keys, err := p.Scan(ctx, "job:")
		require.NoError(t, err)
		assert.Equal(t, []string{"job:a", "job:b"}, keys)
	})
}

func TestPostgresStore_Lists(t *testing.T) {
	db := util.SetupTestDatabase(t)
	p := store.NewPostgresStore(db)
	ctx := context.Background()

	t.Run("pop on empty list", func(t *testing.T) {
		_, err := p.ListPopHead(ctx, "q")
		assert.ErrorIs(t, err, store.ErrKeyNotFound)
	})

	t.Run("FIFO order", func(t *testing.T) {
		for _, v := range []string{"a", "b", "c"} {
			require.NoError(t, p.ListPushTail(ctx, "q", v))
		}

		n, err := p.ListLen(ctx, "q")
		require.NoError(t, err)
		assert.Equal(t, 3, n)

		snap, err := p.ListSnapshot(ctx, "q")
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b", "c"}, snap)

		for _, want := range []string{"a", "b", "c"} {
			got, err := p.ListPopHead(ctx, "q")
			require.NoError(t, err)
			assert.Equal(t, want, got)
		}
	})

	t.Run("lists are keyed independently", func(t *testing.T) {
		require.NoError(t, p.ListPushTail(ctx, "q1", "x"))
		require.NoError(t, p.ListPushTail(ctx, "q2", "y"))

		got, err := p.ListPopHead(ctx, "q2")
		require.NoError(t, err)
		assert.Equal(t, "y", got)

		n, err := p.ListLen(ctx, "q1")
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})
}
