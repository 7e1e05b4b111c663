// Package director manages many wallets over one shared engine client and
// remembers them across restarts through a pointer store.
package director

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/rexliu/fedwallet/pkg/core"
	"github.com/rexliu/fedwallet/pkg/manager"
	"github.com/rexliu/fedwallet/pkg/rpc"
	"github.com/rexliu/fedwallet/pkg/wallet"
)

var (
	ErrNotFound       = errors.New("wallet not found")
	ErrWalletExists   = errors.New("wallet already exists")
	ErrNotInitialized = fmt.Errorf("%w: director not initialized", rpc.ErrPrecondition)
	errNoLevels       = errors.New("log levels are not adjustable")
)

// LevelSetter changes the level of every logging subsystem.
type LevelSetter interface {
	SetLevel(level string) error
}

// Option configures a Director.
type Option func(*Director)

// WithLevelSetter lets SetLogLevel reach the process loggers.
func WithLevelSetter(ls LevelSetter) Option {
	return func(d *Director) { d.levels = ls }
}

// Director owns one rpc.Client. Directors share nothing, so several can run
// against different engines in one process.
type Director struct {
	client   *rpc.Client
	pointers *manager.Manager
	registry *Registry
	levels   LevelSetter

	// opens collapses concurrent OpenWallet calls for one id.
	opens singleflight.Group

	mu          sync.Mutex
	initialized bool
}

// New builds a director over client and pointers. Initialize must run
// before wallets are opened; the helpers that need the engine run it
// themselves.
func New(client *rpc.Client, pointers *manager.Manager, opts ...Option) *Director {
	d := &Director{
		client:   client,
		pointers: pointers,
		registry: NewRegistry(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Registry exposes the live wallets.
func (d *Director) Registry() *Registry { return d.registry }

// Initialize performs the engine handshake once.
func (d *Director) Initialize(ctx context.Context) error {
	if err := d.client.Initialize(ctx); err != nil {
		return err
	}
	d.mu.Lock()
	if !d.initialized {
		d.initialized = true
		log.Infof("Wallet director initialized")
	}
	d.mu.Unlock()
	return nil
}

// IsInitialized reports whether Initialize succeeded and Cleanup has not run
// since.
func (d *Director) IsInitialized() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.initialized
}

func (d *Director) requireInit() error {
	if !d.IsInitialized() {
		return ErrNotInitialized
	}
	return nil
}

// CreateWallet registers an unopened wallet. An empty id picks a fresh one.
// The wallet is persisted once it joins a federation.
func (d *Director) CreateWallet(ctx context.Context, id string) (*wallet.Wallet, error) {
	if err := d.requireInit(); err != nil {
		return nil, err
	}
	id, err := d.freshID(ctx, id)
	if err != nil {
		return nil, err
	}
	w := wallet.New(d.client, id)
	d.registry.Add(id, w)
	log.Debugf("Created wallet %s", id)
	return w, nil
}

// freshID validates id, or generates one, and checks nothing uses it.
func (d *Director) freshID(ctx context.Context, id string) (string, error) {
	if id == "" {
		return core.NewWalletID(), nil
	}
	if err := core.ValidateWalletID(id); err != nil {
		return "", err
	}
	if _, ok := d.registry.Get(id); ok {
		return "", fmt.Errorf("%w: %s", ErrWalletExists, id)
	}
	has, err := d.pointers.HasWallet(ctx, id)
	if err != nil {
		return "", err
	}
	if has {
		return "", fmt.Errorf("%w: %s", ErrWalletExists, id)
	}
	return id, nil
}

// JoinOption tunes JoinFederation.
type JoinOption func(*joinOptions)

type joinOptions struct {
	recover bool
}

// WithRecovery restores the wallet from the federation backup.
func WithRecovery() JoinOption {
	return func(o *joinOptions) { o.recover = true }
}

// JoinFederation joins the federation behind invite with a new wallet and
// persists its pointer. walletID may name a wallet made by CreateWallet, a
// new id, or be empty.
func (d *Director) JoinFederation(ctx context.Context, invite, walletID string, opts ...JoinOption) (*wallet.Wallet, error) {
	if err := d.Initialize(ctx); err != nil {
		return nil, err
	}
	var o joinOptions
	for _, opt := range opts {
		opt(&o)
	}

	w, ok := d.registry.Get(walletID)
	if !ok || w.State() != wallet.Unopened {
		id, err := d.freshID(ctx, walletID)
		if err != nil {
			return nil, err
		}
		walletID = id
		w = wallet.New(d.client, id)
	}

	if err := w.JoinFederation(ctx, invite, o.recover); err != nil {
		return nil, err
	}
	fedID := w.FederationID().UnwrapOr("")
	if _, err := d.pointers.AddWallet(ctx, walletID, w.ClientName(), fedID); err != nil {
		w.Cleanup(ctx)
		d.registry.Remove(walletID)
		return nil, err
	}
	d.registry.Add(walletID, w)
	log.Infof("Wallet %s joined federation %s", walletID, fedID)
	return w, nil
}

// OpenWallet opens a stored wallet. An already open wallet is returned as
// is.
func (d *Director) OpenWallet(ctx context.Context, id string) (*wallet.Wallet, error) {
	if err := d.Initialize(ctx); err != nil {
		return nil, err
	}
	if w, ok := d.registry.Get(id); ok && w.IsOpen() {
		return w, d.touch(ctx, id)
	}

	v, err, _ := d.opens.Do(id, func() (any, error) {
		if w, ok := d.registry.Get(id); ok && w.IsOpen() {
			return w, d.touch(ctx, id)
		}
		return d.openStored(ctx, id)
	})
	w, _ := v.(*wallet.Wallet)
	return w, err
}

// openStored builds and opens the wallet behind a stored pointer.
func (d *Director) openStored(ctx context.Context, id string) (*wallet.Wallet, error) {
	p, err := d.pointers.GetWallet(ctx, id)
	if err != nil {
		return nil, d.notFound(id, err)
	}

	w := wallet.New(d.client, p.ClientName)
	w.SetFederationID(p.Federation())
	if err := w.Open(ctx); err != nil {
		return nil, err
	}
	d.registry.Add(id, w)

	if fedID := w.FederationID().UnwrapOr(""); fedID != "" && fedID != p.Federation() {
		if err := d.pointers.UpdateWalletFederation(ctx, id, fedID); err != nil {
			log.Warnf("Recording federation of wallet %s: %v", id, err)
		}
	}
	log.Debugf("Opened wallet %s", id)
	return w, nil
}

func (d *Director) notFound(id string, err error) error {
	if errors.Is(err, manager.ErrUnknownWallet) {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return err
}

func (d *Director) touch(ctx context.Context, id string) error {
	err := d.pointers.UpdateLastAccessed(ctx, id)
	if errors.Is(err, manager.ErrUnknownWallet) {
		// Created but not joined yet.
		return nil
	}
	return err
}

// GetWallet returns a live wallet and marks it accessed.
func (d *Director) GetWallet(ctx context.Context, id string) (*wallet.Wallet, bool) {
	w, ok := d.registry.Get(id)
	if !ok {
		return nil, false
	}
	if err := d.touch(ctx, id); err != nil {
		log.Warnf("Updating last access of wallet %s: %v", id, err)
	}
	return w, true
}

// RemoveWallet closes a live wallet and forgets its pointer.
func (d *Director) RemoveWallet(ctx context.Context, id string) error {
	if w, ok := d.registry.Remove(id); ok {
		w.Cleanup(ctx)
	}
	if err := d.pointers.RemoveWallet(ctx, id); err != nil {
		return fmt.Errorf("remove wallet %s: %w", id, err)
	}
	log.Debugf("Removed wallet %s", id)
	return nil
}

// ActiveWallets returns the open wallets.
func (d *Director) ActiveWallets() []*wallet.Wallet {
	return d.registry.Filter((*wallet.Wallet).IsOpen)
}

// WalletsByFederation returns the live wallets that joined federationID.
func (d *Director) WalletsByFederation(federationID string) []*wallet.Wallet {
	return d.registry.Filter(func(w *wallet.Wallet) bool {
		return w.FederationID().UnwrapOr("") == federationID
	})
}

// ListClients returns every stored wallet pointer, most recent first.
func (d *Director) ListClients(ctx context.Context) ([]manager.Pointer, error) {
	return d.pointers.ListWallets(ctx)
}

// WalletInfo returns the stored pointer of id without touching it.
func (d *Director) WalletInfo(ctx context.Context, id string) (manager.Pointer, error) {
	p, err := d.pointers.WalletInfo(ctx, id)
	if err != nil {
		return manager.Pointer{}, d.notFound(id, err)
	}
	return p, nil
}

// HasWallet reports whether id has a stored pointer. Store failures are
// logged and reported as absent.
func (d *Director) HasWallet(ctx context.Context, id string) bool {
	has, err := d.pointers.HasWallet(ctx, id)
	if err != nil {
		log.Errorf("Looking up wallet %s: %v", id, err)
		return false
	}
	return has
}

// ClientName returns the engine client backing id.
func (d *Director) ClientName(ctx context.Context, id string) (string, error) {
	name, err := d.pointers.ClientName(ctx, id)
	if err != nil {
		return "", d.notFound(id, err)
	}
	return name, nil
}

// ParseInviteCode decodes an invite without joining.
func (d *Director) ParseInviteCode(ctx context.Context, invite string) (core.ParsedInviteCode, error) {
	if err := d.Initialize(ctx); err != nil {
		return core.ParsedInviteCode{}, err
	}
	return d.client.ParseInviteCode(ctx, invite)
}

// PreviewFederation fetches the config of the federation behind invite.
func (d *Director) PreviewFederation(ctx context.Context, invite string) (core.PreviewFederation, error) {
	if err := d.Initialize(ctx); err != nil {
		return core.PreviewFederation{}, err
	}
	return d.client.PreviewFederation(ctx, invite)
}

// ParseBolt11Invoice decodes an invoice.
func (d *Director) ParseBolt11Invoice(ctx context.Context, invoice string) (core.ParsedBolt11Invoice, error) {
	if err := d.Initialize(ctx); err != nil {
		return core.ParsedBolt11Invoice{}, err
	}
	return d.client.ParseBolt11Invoice(ctx, invoice)
}

// GenerateMnemonic returns the engine seed words, creating them first if
// needed.
func (d *Director) GenerateMnemonic(ctx context.Context) ([]string, error) {
	if err := d.Initialize(ctx); err != nil {
		return nil, err
	}
	return d.client.GenerateMnemonic(ctx)
}

// GetMnemonic returns the engine seed words.
func (d *Director) GetMnemonic(ctx context.Context) ([]string, error) {
	if err := d.Initialize(ctx); err != nil {
		return nil, err
	}
	return d.client.GetMnemonic(ctx)
}

// SetMnemonic replaces the engine seed words.
func (d *Director) SetMnemonic(ctx context.Context, words []string) error {
	if err := core.ValidateMnemonic(words); err != nil {
		return err
	}
	if err := d.Initialize(ctx); err != nil {
		return err
	}
	return d.client.SetMnemonic(ctx, words)
}

// SetLogLevel changes the level of every subsystem.
func (d *Director) SetLogLevel(level string) error {
	if d.levels == nil {
		return errNoLevels
	}
	if err := d.levels.SetLevel(level); err != nil {
		return err
	}
	log.Infof("Log level set to %s", level)
	return nil
}

// Cleanup destroys every live wallet and shuts the client down. The
// director cannot be initialized again afterwards.
func (d *Director) Cleanup(ctx context.Context) error {
	wallets := d.registry.Drain()
	var wg sync.WaitGroup
	for _, w := range wallets {
		wg.Add(1)
		go func(w *wallet.Wallet) {
			defer wg.Done()
			w.Cleanup(ctx)
		}(w)
	}
	wg.Wait()

	err := d.client.Cleanup(ctx)
	d.mu.Lock()
	d.initialized = false
	d.mu.Unlock()
	log.Infof("Wallet director cleaned up %d wallets", len(wallets))
	return err
}

// ClearAllWallets runs Cleanup and then deletes every stored pointer.
func (d *Director) ClearAllWallets(ctx context.Context) error {
	cleanupErr := d.Cleanup(ctx)
	if err := d.pointers.Clear(ctx); err != nil {
		return fmt.Errorf("clear pointers: %w", err)
	}
	return cleanupErr
}
