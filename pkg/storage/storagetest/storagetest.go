// Package storagetest holds the behaviour every storage.KV must share.
package storagetest

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rexliu/fedwallet/pkg/storage"
)

// Factory opens a fresh store bounded by quota.
type Factory func(t *testing.T, quota storage.Quota) storage.KV

// Run exercises a KV implementation.
func Run(t *testing.T, open Factory) {
	t.Run("crud", func(t *testing.T) {
		ctx := context.Background()
		kv := open(t, storage.Quota{})

		_, err := kv.Get(ctx, "missing")
		require.ErrorIs(t, err, storage.ErrNotFound)

		require.NoError(t, kv.Put(ctx, "a", []byte("1")))
		require.NoError(t, kv.Put(ctx, "a", []byte("2")))
		v, err := kv.Get(ctx, "a")
		require.NoError(t, err)
		require.Equal(t, []byte("2"), v)

		require.NoError(t, kv.Delete(ctx, "a"))
		require.NoError(t, kv.Delete(ctx, "a"))
		_, err = kv.Get(ctx, "a")
		require.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("list prefix sorted", func(t *testing.T) {
		ctx := context.Background()
		kv := open(t, storage.Quota{})
		for _, k := range []string{"wallet/b", "other", "wallet/a", "wallet/c"} {
			require.NoError(t, kv.Put(ctx, k, []byte(k)))
		}
		entries, err := kv.List(ctx, "wallet/")
		require.NoError(t, err)
		var keys []string
		for _, e := range entries {
			keys = append(keys, e.Key)
			require.Equal(t, e.Key, string(e.Value))
		}
		require.Equal(t, []string{"wallet/a", "wallet/b", "wallet/c"}, keys)

		all, err := kv.List(ctx, "")
		require.NoError(t, err)
		require.Len(t, all, 4)
	})

	t.Run("key quota", func(t *testing.T) {
		ctx := context.Background()
		kv := open(t, storage.Quota{MaxKeys: 3})
		for i := 0; i < 3; i++ {
			require.NoError(t, kv.Put(ctx, fmt.Sprintf("k%d", i), []byte("v")))
		}
		require.ErrorIs(t, kv.Put(ctx, "k3", []byte("v")), storage.ErrQuotaExceeded)

		// Overwrites do not add keys.
		require.NoError(t, kv.Put(ctx, "k0", []byte("v2")))

		require.NoError(t, kv.Delete(ctx, "k1"))
		require.NoError(t, kv.Put(ctx, "k3", []byte("v")))
	})

	t.Run("byte quota", func(t *testing.T) {
		ctx := context.Background()
		kv := open(t, storage.Quota{MaxBytes: 10})
		require.NoError(t, kv.Put(ctx, "a", []byte("1234")))
		require.ErrorIs(t, kv.Put(ctx, "b", []byte("123456")), storage.ErrQuotaExceeded)
		require.NoError(t, kv.Put(ctx, "b", []byte("1234")))
	})
}
