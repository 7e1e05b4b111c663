package bolt

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rexliu/fedwallet/pkg/storage"
	"github.com/rexliu/fedwallet/pkg/storage/storagetest"
)

func TestStore(t *testing.T) {
	storagetest.Run(t, func(t *testing.T, quota storage.Quota) storage.KV {
		store, err := Open(filepath.Join(t.TempDir(), "wallets.bolt"), quota)
		require.NoError(t, err)
		t.Cleanup(func() { store.Close() })
		return store
	})
}
