// Package bolt implements storage.KV on a bbolt file.
package bolt

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bbolt "go.etcd.io/bbolt"

	"github.com/rexliu/fedwallet/pkg/storage"
)

var (
	bucketKV    = []byte("kv")
	bucketStats = []byte("stats")
	keyBytes    = []byte("bytes")
	keyCount    = []byte("keys")
)

// Store is a storage.KV over a single bucket.
type Store struct {
	db    *bbolt.DB
	quota storage.Quota
}

// Open opens or creates the database file at path.
func Open(path string, quota storage.Quota) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt %s: %w", path, err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketKV); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(bucketStats)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db, quota: quota}, nil
}

func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	var out []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(bucketKV).Get([]byte(key))
		if v == nil {
			return storage.ErrNotFound
		}
		out = append([]byte(nil), v...)
		return nil
	})
	return out, err
}

func (s *Store) Put(_ context.Context, key string, value []byte) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketKV)
		keys, total := loadStat(tx, keyCount), loadStat(tx, keyBytes)
		dKeys, dBytes := 1, len(key)+len(value)
		if old := b.Get([]byte(key)); old != nil {
			dKeys, dBytes = 0, len(value)-len(old)
		}
		if !s.quota.Allows(keys, total, dKeys, dBytes) {
			return storage.ErrQuotaExceeded
		}
		if err := b.Put([]byte(key), value); err != nil {
			return err
		}
		if err := storeStat(tx, keyCount, keys+dKeys); err != nil {
			return err
		}
		return storeStat(tx, keyBytes, total+dBytes)
	})
}

func (s *Store) Delete(_ context.Context, key string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketKV)
		old := b.Get([]byte(key))
		if old == nil {
			return nil
		}
		total := loadStat(tx, keyBytes) - len(key) - len(old)
		if err := b.Delete([]byte(key)); err != nil {
			return err
		}
		if err := storeStat(tx, keyCount, loadStat(tx, keyCount)-1); err != nil {
			return err
		}
		return storeStat(tx, keyBytes, total)
	})
}

func (s *Store) List(_ context.Context, prefix string) ([]storage.Entry, error) {
	var out []storage.Entry
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketKV).Cursor()
		p := []byte(prefix)
		for k, v := c.Seek(p); k != nil && bytes.HasPrefix(k, p); k, v = c.Next() {
			out = append(out, storage.Entry{
				Key:   string(k),
				Value: append([]byte(nil), v...),
			})
		}
		return nil
	})
	return out, err
}

func (s *Store) Close() error {
	return s.db.Close()
}

func loadStat(tx *bbolt.Tx, name []byte) int {
	v := tx.Bucket(bucketStats).Get(name)
	if len(v) != 8 {
		return 0
	}
	return int(binary.BigEndian.Uint64(v))
}

func storeStat(tx *bbolt.Tx, name []byte, n int) error {
	if n < 0 {
		n = 0
	}
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(n))
	return tx.Bucket(bucketStats).Put(name, buf[:])
}
