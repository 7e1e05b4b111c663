package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// Memory is a process-local KV.
type Memory struct {
	mu     sync.RWMutex
	data   map[string][]byte
	bytes  int
	quota  Quota
	closed bool
}

// NewMemory returns an empty store bounded by quota.
func NewMemory(quota Quota) *Memory {
	return &Memory{data: make(map[string][]byte), quota: quota}
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	v, ok := m.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (m *Memory) Put(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	dKeys, dBytes := 1, len(key)+len(value)
	if old, ok := m.data[key]; ok {
		dKeys = 0
		dBytes = len(value) - len(old)
	}
	if !m.quota.Allows(len(m.data), m.bytes, dKeys, dBytes) {
		return ErrQuotaExceeded
	}
	m.data[key] = append([]byte(nil), value...)
	m.bytes += dBytes
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if old, ok := m.data[key]; ok {
		m.bytes -= len(key) + len(old)
		delete(m.data, key)
	}
	return nil
}

func (m *Memory) List(_ context.Context, prefix string) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	var out []Entry
	for k, v := range m.data {
		if strings.HasPrefix(k, prefix) {
			out = append(out, Entry{Key: k, Value: append([]byte(nil), v...)})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Len returns the number of stored keys.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
