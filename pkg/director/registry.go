package director

import (
	"sort"
	"sync"

	"github.com/rexliu/fedwallet/pkg/wallet"
)

// Registry holds the live wallets of one Director, keyed by wallet id.
type Registry struct {
	mu      sync.RWMutex
	wallets map[string]*wallet.Wallet
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{wallets: make(map[string]*wallet.Wallet)}
}

// Add stores w under id, replacing any previous wallet.
func (r *Registry) Add(id string, w *wallet.Wallet) {
	r.mu.Lock()
	r.wallets[id] = w
	r.mu.Unlock()
}

// Get returns the wallet registered under id.
func (r *Registry) Get(id string) (*wallet.Wallet, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.wallets[id]
	return w, ok
}

// Remove unregisters id and returns what was stored there.
func (r *Registry) Remove(id string) (*wallet.Wallet, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.wallets[id]
	delete(r.wallets, id)
	return w, ok
}

// Filter returns the wallets keep accepts, ordered by id.
func (r *Registry) Filter(keep func(*wallet.Wallet) bool) []*wallet.Wallet {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sorted(keep)
}

// Drain empties the registry and returns what it held.
func (r *Registry) Drain() []*wallet.Wallet {
	r.mu.Lock()
	defer r.mu.Unlock()
	all := r.sorted(nil)
	r.wallets = make(map[string]*wallet.Wallet)
	return all
}

func (r *Registry) sorted(keep func(*wallet.Wallet) bool) []*wallet.Wallet {
	ids := make([]string, 0, len(r.wallets))
	for id, w := range r.wallets {
		if keep == nil || keep(w) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	out := make([]*wallet.Wallet, len(ids))
	for i, id := range ids {
		out[i] = r.wallets[id]
	}
	return out
}

// Len is the number of registered wallets.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.wallets)
}
