package storage_test

import (
	"testing"

	"github.com/rexliu/fedwallet/pkg/storage"
	"github.com/rexliu/fedwallet/pkg/storage/storagetest"
)

func TestMemory(t *testing.T) {
	storagetest.Run(t, func(t *testing.T, quota storage.Quota) storage.KV {
		return storage.NewMemory(quota)
	})
}
