// Package wallet is the facade over one engine client: the open/join
// lifecycle plus the balance, mint, lightning, federation, recovery and
// onchain services.
package wallet

import (
	"context"
	"fmt"
	"sync"

	"github.com/lightningnetwork/lnd/fn/v2"

	"github.com/rexliu/fedwallet/pkg/ipc"
	"github.com/rexliu/fedwallet/pkg/rpc"
)

// State is the lifecycle position of a Wallet.
type State uint8

const (
	Unopened State = iota
	Opening
	Joining
	Open
	Destroyed
)

func (s State) String() string {
	switch s {
	case Unopened:
		return "unopened"
	case Opening:
		return "opening"
	case Joining:
		return "joining"
	case Open:
		return "open"
	case Destroyed:
		return "destroyed"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

var (
	ErrAlreadyOpen = fmt.Errorf("%w: wallet already open", rpc.ErrPrecondition)
	ErrDestroyed   = fmt.Errorf("%w: wallet destroyed", rpc.ErrPrecondition)
	ErrRecovering  = fmt.Errorf("%w: wallet is recovering", rpc.ErrPrecondition)
)

// Wallet binds one engine client name to a shared rpc.Client.
type Wallet struct {
	client *rpc.Client
	name   string

	Balance    *BalanceService
	Mint       *MintService
	Lightning  *LightningService
	Federation *FederationService
	Recovery   *RecoveryService
	Onchain    *OnchainService

	mu           sync.Mutex
	state        State
	federationID fn.Option[string]
	recovering   bool

	opened    chan struct{}
	destroyed chan struct{}
	openOnce  sync.Once
	doneOnce  sync.Once
}

// New returns an unopened wallet for clientName.
func New(client *rpc.Client, clientName string) *Wallet {
	w := &Wallet{
		client:    client,
		name:      clientName,
		opened:    make(chan struct{}),
		destroyed: make(chan struct{}),
	}
	w.Balance = &BalanceService{w: w}
	w.Mint = &MintService{w: w}
	w.Lightning = &LightningService{w: w}
	w.Federation = &FederationService{w: w}
	w.Recovery = &RecoveryService{w: w}
	w.Onchain = &OnchainService{w: w}
	return w
}

// ClientName is the engine client this wallet drives.
func (w *Wallet) ClientName() string { return w.name }

// State returns the current lifecycle state.
func (w *Wallet) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// IsOpen reports whether the wallet reached Open and was not destroyed.
func (w *Wallet) IsOpen() bool { return w.State() == Open }

// FederationID is known after a join, or after an open once the engine
// answered get_federation_id.
func (w *Wallet) FederationID() fn.Option[string] {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.federationID
}

// SetFederationID records a federation id learned elsewhere, such as a
// stored pointer.
func (w *Wallet) SetFederationID(id string) {
	if id == "" {
		return
	}
	w.mu.Lock()
	w.federationID = fn.Some(id)
	w.mu.Unlock()
}

// Recovering reports whether the engine still has recoveries pending.
func (w *Wallet) Recovering() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.recovering
}

func (w *Wallet) setRecovering(v bool) {
	w.mu.Lock()
	w.recovering = v
	w.mu.Unlock()
}

// begin moves an unopened wallet into the transient state next.
func (w *Wallet) begin(next State) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	switch w.state {
	case Unopened:
		w.state = next
		return nil
	case Destroyed:
		return ErrDestroyed
	default:
		return fmt.Errorf("%w: %s is %s", ErrAlreadyOpen, w.name, w.state)
	}
}

// revert returns a failed open or join to Unopened, unless the wallet was
// destroyed meanwhile.
func (w *Wallet) revert() {
	w.mu.Lock()
	if w.state != Destroyed {
		w.state = Unopened
	}
	w.mu.Unlock()
}

// Open opens a client that already joined a federation. Nothing is sent
// unless the wallet is Unopened.
func (w *Wallet) Open(ctx context.Context) error {
	if err := w.begin(Opening); err != nil {
		return err
	}
	if err := w.client.OpenClient(ctx, w.name); err != nil {
		w.revert()
		return fmt.Errorf("open %s: %w", w.name, err)
	}
	return w.finishOpen(ctx)
}

// JoinFederation joins the federation behind invite under this wallet's
// client name. With recover set the engine restores from the federation
// backup.
func (w *Wallet) JoinFederation(ctx context.Context, invite string, recover bool) error {
	if err := w.begin(Joining); err != nil {
		return err
	}
	if err := w.client.JoinFederation(ctx, invite, w.name, recover); err != nil {
		w.revert()
		return fmt.Errorf("join %s: %w", w.name, err)
	}
	return w.finishOpen(ctx)
}

// finishOpen queries recovery and federation state, then publishes Open.
// Query failures are logged and do not fail the open. A wallet destroyed
// meanwhile has its client closed again and reports ErrDestroyed.
func (w *Wallet) finishOpen(ctx context.Context) error {
	pending, err := single[bool](ctx, w, "", "has_pending_recoveries", nil)
	if err != nil {
		log.Warnf("Wallet %s: checking pending recoveries: %v", w.name, err)
	}

	fedID, err := single[string](ctx, w, "", "get_federation_id", nil)
	if err != nil {
		log.Warnf("Wallet %s: fetching federation id: %v", w.name, err)
	}

	w.mu.Lock()
	if w.state == Destroyed {
		w.mu.Unlock()
		if err := w.client.CloseClient(ctx, w.name); err != nil {
			log.Warnf("Wallet %s: close client: %v", w.name, err)
		}
		return ErrDestroyed
	}
	w.recovering = pending
	if fedID != "" {
		w.federationID = fn.Some(fedID)
	}
	w.state = Open
	w.mu.Unlock()

	w.openOnce.Do(func() { close(w.opened) })
	log.Debugf("Wallet %s open (recovering=%v)", w.name, pending)
	return nil
}

// WaitForOpen blocks until the wallet first becomes Open.
func (w *Wallet) WaitForOpen(ctx context.Context) error {
	select {
	case <-w.opened:
		return nil
	case <-w.destroyed:
		return ErrDestroyed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Cleanup closes the engine client and destroys the wallet. Closing is best
// effort; its failure is logged.
func (w *Wallet) Cleanup(ctx context.Context) {
	w.mu.Lock()
	wasOpen := w.state == Open
	w.state = Destroyed
	w.mu.Unlock()

	if wasOpen {
		if err := w.client.CloseClient(ctx, w.name); err != nil {
			log.Warnf("Wallet %s: close client: %v", w.name, err)
		}
	}
	w.doneOnce.Do(func() { close(w.destroyed) })
}

// guard refuses calls on destroyed wallets and, unless the caller is the
// recovery service, on recovering ones.
func (w *Wallet) guard(recovery bool) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	switch {
	case w.state == Destroyed:
		return ErrDestroyed
	case w.recovering && !recovery:
		return fmt.Errorf("%w: %s", ErrRecovering, w.name)
	}
	return nil
}

// single calls module/method and decodes the result into T. It bypasses the
// recovery guard; services go through call.
func single[T any](ctx context.Context, w *Wallet, module, method string, payload any) (T, error) {
	var out T
	raw, err := w.client.RPCSingle(ctx, w.name, module, method, payload)
	if err != nil {
		return out, err
	}
	if err := ipc.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("%w: %s.%s: %v", rpc.ErrMalformedResponse,
			module, method, err)
	}
	return out, nil
}

func call[T any](ctx context.Context, w *Wallet, module, method string, payload any) (T, error) {
	if err := w.guard(false); err != nil {
		var zero T
		return zero, err
	}
	return single[T](ctx, w, module, method, payload)
}
