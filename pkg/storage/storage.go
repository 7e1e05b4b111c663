// Package storage defines the durable key/value contract used for wallet
// pointers and engine state, plus an in-memory implementation.
package storage

import (
	"context"
	"errors"
)

var (
	// ErrNotFound indicates a missing key.
	ErrNotFound = errors.New("key not found")
	// ErrQuotaExceeded indicates the store refused a write for lack of space.
	ErrQuotaExceeded = errors.New("storage quota exceeded")
	// ErrClosed indicates use of a closed store.
	ErrClosed = errors.New("store closed")
)

// Entry is a key and its value.
type Entry struct {
	Key   string
	Value []byte
}

// KV is a flat string-keyed store. List returns entries sorted by key.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix string) ([]Entry, error)
	Close() error
}

// Quota bounds a store. Zero fields mean unlimited.
type Quota struct {
	MaxKeys  int
	MaxBytes int
}

// Allows reports whether a store holding keys entries and bytes total bytes
// may accept a write that changes them by dKeys and dBytes.
func (q Quota) Allows(keys, bytes, dKeys, dBytes int) bool {
	if q.MaxKeys > 0 && dKeys > 0 && keys+dKeys > q.MaxKeys {
		return false
	}
	if q.MaxBytes > 0 && dBytes > 0 && bytes+dBytes > q.MaxBytes {
		return false
	}
	return true
}
