// Package manager persists wallet pointers: which engine client backs which
// wallet id, and when each wallet was created and last used.
package manager

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	jsoniter "github.com/json-iterator/go"
	"github.com/lightningnetwork/lnd/clock"

	"github.com/rexliu/fedwallet/pkg/storage"
)

const (
	walletPrefix = "wallet/"
	versionKey   = "meta/version"

	// LegacyKey holds the single-blob pointer list written by older
	// clients. It is migrated away on first open.
	LegacyKey = "fedimint-wallets"

	// Version is the pointer layout and blob version.
	Version = 1

	// DefaultKeep is how many pointers survive a quota eviction.
	DefaultKeep = 50
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var (
	ErrUnknownWallet      = errors.New("unknown wallet")
	ErrUnsupportedVersion = errors.New("unsupported pointer version")
	ErrInvalidPointer     = errors.New("invalid wallet pointer")
)

// Pointer records one wallet. Times are unix milliseconds.
type Pointer struct {
	ID             string  `json:"id"`
	ClientName     string  `json:"clientName"`
	FederationID   *string `json:"federationId,omitempty"`
	CreatedAt      int64   `json:"createdAt"`
	LastAccessedAt int64   `json:"lastAccessedAt"`
}

// Federation returns the federation id, or "" before the wallet joined.
func (p Pointer) Federation() string {
	if p.FederationID == nil {
		return ""
	}
	return *p.FederationID
}

func (p Pointer) validate() error {
	if p.ID == "" || p.ClientName == "" {
		return fmt.Errorf("%w: id and clientName are required", ErrInvalidPointer)
	}
	if strings.Contains(p.ID, "/") {
		return fmt.Errorf("%w: id %q", ErrInvalidPointer, p.ID)
	}
	return nil
}

// Blob is the export format, also the layout of LegacyKey.
type Blob struct {
	Version int       `json:"version"`
	Wallets []Pointer `json:"wallets"`
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock sets the time source for pointer timestamps.
func WithClock(c clock.Clock) Option {
	return func(m *Manager) { m.clock = c }
}

// WithKeep sets how many pointers a quota eviction keeps.
func WithKeep(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.keep = n
		}
	}
}

// Manager stores pointers in a storage.KV, one key per wallet. It is safe
// for concurrent use.
type Manager struct {
	store storage.KV
	clock clock.Clock
	keep  int

	mu sync.Mutex
}

// New opens the pointer store, stamping its version on first use and
// migrating a legacy blob if one is present.
func New(ctx context.Context, store storage.KV, opts ...Option) (*Manager, error) {
	m := &Manager{
		store: store,
		clock: clock.NewDefaultClock(),
		keep:  DefaultKeep,
	}
	for _, opt := range opts {
		opt(m)
	}
	if err := m.checkVersion(ctx); err != nil {
		return nil, err
	}
	if err := m.migrateLegacy(ctx); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Manager) checkVersion(ctx context.Context) error {
	raw, err := m.store.Get(ctx, versionKey)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return m.store.Put(ctx, versionKey, []byte(strconv.Itoa(Version)))
	case err != nil:
		return fmt.Errorf("read pointer version: %w", err)
	}
	v, err := strconv.Atoi(string(raw))
	if err != nil || v != Version {
		return fmt.Errorf("%w: %q", ErrUnsupportedVersion, raw)
	}
	return nil
}

// migrateLegacy moves pointers out of LegacyKey. Pointers already stored
// under their own key win. A blob that does not decode is dropped.
func (m *Manager) migrateLegacy(ctx context.Context) error {
	raw, err := m.store.Get(ctx, LegacyKey)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return nil
	case err != nil:
		return fmt.Errorf("read legacy pointers: %w", err)
	}

	var blob Blob
	if err := json.Unmarshal(raw, &blob); err != nil {
		log.Warnf("Discarding corrupt legacy wallet list: %v", err)
		return m.store.Delete(ctx, LegacyKey)
	}

	migrated := 0
	for _, p := range blob.Wallets {
		if err := p.validate(); err != nil {
			log.Warnf("Skipping legacy pointer: %v", err)
			continue
		}
		if _, err := m.store.Get(ctx, walletKey(p.ID)); err == nil {
			continue
		}
		if err := m.put(ctx, p); err != nil {
			return fmt.Errorf("migrate wallet %s: %w", p.ID, err)
		}
		migrated++
	}
	log.Infof("Migrated %d legacy wallet pointers", migrated)
	return m.store.Delete(ctx, LegacyKey)
}

func walletKey(id string) string { return walletPrefix + id }

func (m *Manager) now() int64 { return m.clock.Now().UnixMilli() }

// load reads one pointer. A record that does not decode is deleted and
// reported as unknown.
func (m *Manager) load(ctx context.Context, id string) (Pointer, error) {
	raw, err := m.store.Get(ctx, walletKey(id))
	if errors.Is(err, storage.ErrNotFound) {
		return Pointer{}, fmt.Errorf("%w: %s", ErrUnknownWallet, id)
	}
	if err != nil {
		return Pointer{}, err
	}
	p, err := decodePointer(raw)
	if err == nil && p.ID != id {
		err = fmt.Errorf("%w: stored under %s", ErrInvalidPointer, id)
	}
	if err != nil {
		m.dropCorrupt(ctx, walletKey(id), err)
		return Pointer{}, fmt.Errorf("%w: %s", ErrUnknownWallet, id)
	}
	return p, nil
}

func decodePointer(raw []byte) (Pointer, error) {
	var p Pointer
	if err := json.Unmarshal(raw, &p); err != nil {
		return Pointer{}, fmt.Errorf("%w: %v", ErrInvalidPointer, err)
	}
	return p, p.validate()
}

func (m *Manager) dropCorrupt(ctx context.Context, key string, cause error) {
	log.Warnf("Deleting corrupt wallet pointer %s: %v", key, cause)
	if err := m.store.Delete(ctx, key); err != nil {
		log.Errorf("Delete corrupt pointer %s: %v", key, err)
	}
}

// all returns every stored pointer, most recently accessed first.
func (m *Manager) all(ctx context.Context) ([]Pointer, error) {
	entries, err := m.store.List(ctx, walletPrefix)
	if err != nil {
		return nil, err
	}
	out := make([]Pointer, 0, len(entries))
	for _, e := range entries {
		p, err := decodePointer(e.Value)
		if err != nil {
			m.dropCorrupt(ctx, e.Key, err)
			continue
		}
		out = append(out, p)
	}
	sortRecent(out)
	return out, nil
}

func sortRecent(ps []Pointer) {
	sort.SliceStable(ps, func(i, j int) bool {
		if ps[i].LastAccessedAt != ps[j].LastAccessedAt {
			return ps[i].LastAccessedAt > ps[j].LastAccessedAt
		}
		return ps[i].ID < ps[j].ID
	})
}

// put writes p. When the store is out of space the least recently accessed
// pointers are evicted and the write is retried once.
func (m *Manager) put(ctx context.Context, p Pointer) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return err
	}
	err = m.store.Put(ctx, walletKey(p.ID), raw)
	if !errors.Is(err, storage.ErrQuotaExceeded) {
		return err
	}

	log.Warnf("Pointer store full writing %s, evicting down to %d wallets", p.ID, m.keep)
	if err := m.evict(ctx, p); err != nil {
		return fmt.Errorf("evict pointers: %w", err)
	}
	if err := m.store.Put(ctx, walletKey(p.ID), raw); err != nil {
		return fmt.Errorf("write wallet %s after eviction: %w", p.ID, err)
	}
	return nil
}

// evict keeps the m.keep most recently accessed pointers, pending included,
// and deletes the rest. pending itself is never deleted.
func (m *Manager) evict(ctx context.Context, pending Pointer) error {
	stored, err := m.all(ctx)
	if err != nil {
		return err
	}
	candidates := []Pointer{pending}
	for _, p := range stored {
		if p.ID != pending.ID {
			candidates = append(candidates, p)
		}
	}
	sortRecent(candidates)

	kept := 0
	pendingKept := false
	for _, p := range candidates {
		if p.ID == pending.ID {
			pendingKept = true
			kept++
			continue
		}
		// Leave room for pending if it sorts past the cut.
		limit := m.keep
		if !pendingKept {
			limit--
		}
		if kept < limit {
			kept++
			continue
		}
		if err := m.store.Delete(ctx, walletKey(p.ID)); err != nil {
			return err
		}
		log.Infof("Evicted wallet pointer %s", p.ID)
	}
	return nil
}

// AddWallet records a wallet, or refreshes it when the id is known. An
// existing pointer keeps its creation time.
func (m *Manager) AddWallet(ctx context.Context, id, clientName, federationID string) (Pointer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	p := Pointer{ID: id, ClientName: clientName, CreatedAt: now, LastAccessedAt: now}
	if federationID != "" {
		p.FederationID = &federationID
	}
	if err := p.validate(); err != nil {
		return Pointer{}, err
	}
	if old, err := m.load(ctx, id); err == nil {
		p.CreatedAt = old.CreatedAt
		if p.FederationID == nil {
			p.FederationID = old.FederationID
		}
	}
	if err := m.put(ctx, p); err != nil {
		return Pointer{}, fmt.Errorf("save wallet %s: %w", id, err)
	}
	log.Debugf("Saved wallet pointer %s (federation %q)", id, p.Federation())
	return p, nil
}

// RemoveWallet deletes a pointer. Removing an unknown id is not an error.
func (m *Manager) RemoveWallet(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.store.Delete(ctx, walletKey(id))
}

// GetWallet returns a pointer and marks it accessed.
func (m *Manager) GetWallet(ctx context.Context, id string) (Pointer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.touch(ctx, id, nil)
}

func (m *Manager) touch(ctx context.Context, id string, update func(*Pointer)) (Pointer, error) {
	p, err := m.load(ctx, id)
	if err != nil {
		return Pointer{}, err
	}
	if update != nil {
		update(&p)
	}
	p.LastAccessedAt = m.now()
	if err := m.put(ctx, p); err != nil {
		return Pointer{}, fmt.Errorf("save wallet %s: %w", id, err)
	}
	return p, nil
}

// WalletInfo returns a pointer without marking it accessed.
func (m *Manager) WalletInfo(ctx context.Context, id string) (Pointer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.load(ctx, id)
}

// ListWallets returns every pointer, most recently accessed first.
func (m *Manager) ListWallets(ctx context.Context) ([]Pointer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.all(ctx)
}

// HasWallet reports whether id has a pointer.
func (m *Manager) HasWallet(ctx context.Context, id string) (bool, error) {
	_, err := m.WalletInfo(ctx, id)
	switch {
	case errors.Is(err, ErrUnknownWallet):
		return false, nil
	case err != nil:
		return false, err
	}
	return true, nil
}

// ClientName returns the engine client backing id.
func (m *Manager) ClientName(ctx context.Context, id string) (string, error) {
	p, err := m.WalletInfo(ctx, id)
	if err != nil {
		return "", err
	}
	return p.ClientName, nil
}

// UpdateWalletFederation records the federation a wallet joined.
func (m *Manager) UpdateWalletFederation(ctx context.Context, id, federationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, err := m.touch(ctx, id, func(p *Pointer) { p.FederationID = &federationID })
	return err
}

// UpdateLastAccessed marks id accessed now.
func (m *Manager) UpdateLastAccessed(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, err := m.touch(ctx, id, nil)
	return err
}

// Clear deletes every pointer.
func (m *Manager) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entries, err := m.store.List(ctx, walletPrefix)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := m.store.Delete(ctx, e.Key); err != nil {
			return err
		}
	}
	log.Infof("Cleared %d wallet pointers", len(entries))
	return nil
}

// Export encodes every pointer as a Blob.
func (m *Manager) Export(ctx context.Context) ([]byte, error) {
	ps, err := m.ListWallets(ctx)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Blob{Version: Version, Wallets: ps})
}

// Import stores every pointer of an exported blob as is, replacing pointers
// with the same id. It returns how many were stored.
func (m *Manager) Import(ctx context.Context, data []byte) (int, error) {
	var blob Blob
	if err := json.Unmarshal(data, &blob); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidPointer, err)
	}
	if blob.Version != Version {
		return 0, fmt.Errorf("%w: %d", ErrUnsupportedVersion, blob.Version)
	}
	for _, p := range blob.Wallets {
		if err := p.validate(); err != nil {
			return 0, err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for i, p := range blob.Wallets {
		if err := m.put(ctx, p); err != nil {
			return i, fmt.Errorf("import wallet %s: %w", p.ID, err)
		}
	}
	return len(blob.Wallets), nil
}
