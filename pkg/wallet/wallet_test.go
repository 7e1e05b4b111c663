package wallet

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rexliu/fedwallet/pkg/core"
	"github.com/rexliu/fedwallet/pkg/engine"
	"github.com/rexliu/fedwallet/pkg/engine/memengine"
	"github.com/rexliu/fedwallet/pkg/ipc"
	"github.com/rexliu/fedwallet/pkg/rpc"
	"github.com/rexliu/fedwallet/pkg/storage"
	"github.com/rexliu/fedwallet/pkg/transport"
	"github.com/rexliu/fedwallet/pkg/transport/transporttest"
	"github.com/rexliu/fedwallet/pkg/transport/worker"
)

// countingTransport records every request handed to the wrapped transport.
type countingTransport struct {
	transport.Transport

	mu     sync.Mutex
	sent   []ipc.Request
	onSend func(ipc.Request)
}

func (c *countingTransport) Send(req ipc.Request) error {
	c.mu.Lock()
	c.sent = append(c.sent, req)
	hook := c.onSend
	c.mu.Unlock()
	if hook != nil {
		hook(req)
	}
	return c.Transport.Send(req)
}

// before runs fn on the outbox goroutine ahead of every request of kind.
func (c *countingTransport) before(kind ipc.Kind, fn func()) {
	c.mu.Lock()
	c.onSend = func(req ipc.Request) {
		if req.Type == kind {
			fn()
		}
	}
	c.mu.Unlock()
}

func (c *countingTransport) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

type rig struct {
	t      *testing.T
	ctx    context.Context
	eng    *memengine.Engine
	tr     *countingTransport
	client *rpc.Client
}

func newRig(t *testing.T) *rig {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)

	eng, err := memengine.Open(ctx, storage.NewMemory(storage.Quota{}))
	require.NoError(t, err)
	factory := func(json.RawMessage) (engine.Engine, error) { return eng, nil }

	tr := &countingTransport{Transport: worker.New(factory)}
	client := rpc.NewClient(tr)
	t.Cleanup(func() { client.Cleanup(context.Background()) })
	require.NoError(t, client.Initialize(ctx))

	return &rig{t: t, ctx: ctx, eng: eng, tr: tr, client: client}
}

// joined returns a wallet that joined the test federation.
func (r *rig) joined(name string) *Wallet {
	r.t.Helper()
	w := New(r.client, name)
	require.NoError(r.t, w.JoinFederation(r.ctx, transporttest.Invite, false))
	return w
}

// funded is joined plus an on-chain deposit of amount.
func (r *rig) funded(name string, amount core.MSats) *Wallet {
	r.t.Helper()
	w := r.joined(name)
	require.NoError(r.t, r.eng.Fund(name, amount))
	return w
}

func (r *rig) balance(w *Wallet) core.MSats {
	r.t.Helper()
	bal, err := w.Balance.Get(r.ctx)
	require.NoError(r.t, err)
	return bal
}

// updates feeds a subscription handler into a channel.
func updates[T any]() (chan Update[T], Handler[T]) {
	ch := make(chan Update[T], 64)
	return ch, func(u Update[T]) { ch <- u }
}

// drain reads until the final update and returns the values before it.
func drain[T any](t *testing.T, ch chan Update[T]) ([]T, error) {
	t.Helper()
	var values []T
	for {
		select {
		case u := <-ch:
			if u.Done {
				return values, u.Err
			}
			values = append(values, u.Value)
		case <-time.After(5 * time.Second):
			t.Fatalf("stream did not finish, got %d values", len(values))
		}
	}
}

func tags(states []OperationState) []string {
	out := make([]string, len(states))
	for i, st := range states {
		out[i] = st.Tag()
	}
	return out
}

func TestSecondOpenSendsNothing(t *testing.T) {
	r := newRig(t)
	w := r.joined("alice")
	require.Equal(t, Open, w.State())

	before := r.tr.count()

	err := w.Open(r.ctx)
	require.ErrorIs(t, err, ErrAlreadyOpen)
	require.ErrorIs(t, err, rpc.ErrPrecondition)
	require.Equal(t, rpc.ClassPrecondition, rpc.Classify(err))

	err = w.JoinFederation(r.ctx, transporttest.Invite, false)
	require.ErrorIs(t, err, ErrAlreadyOpen)

	require.Equal(t, before, r.tr.count())
}

func TestFailedOpenReverts(t *testing.T) {
	r := newRig(t)
	w := New(r.client, "nobody")

	err := w.Open(r.ctx)
	require.Error(t, err)
	var rpcErr *rpc.RPCError
	require.ErrorAs(t, err, &rpcErr)
	require.Equal(t, Unopened, w.State())
	require.False(t, w.IsOpen())

	require.NoError(t, w.JoinFederation(r.ctx, transporttest.Invite, false))
	require.True(t, w.IsOpen())
}

func TestReopenAfterJoin(t *testing.T) {
	r := newRig(t)
	r.joined("alice").Cleanup(r.ctx)

	w := New(r.client, "alice")
	require.NoError(t, w.Open(r.ctx))
	require.Zero(t, r.balance(w))

	parsed, err := r.client.ParseInviteCode(r.ctx, transporttest.Invite)
	require.NoError(t, err)
	require.Equal(t, parsed.FederationID, w.FederationID().UnwrapOr(""))
}

func TestWaitForOpen(t *testing.T) {
	r := newRig(t)
	w := New(r.client, "alice")

	waited := make(chan error, 1)
	go func() { waited <- w.WaitForOpen(r.ctx) }()

	require.NoError(t, w.JoinFederation(r.ctx, transporttest.Invite, false))
	require.NoError(t, <-waited)

	// Later callers return immediately.
	require.NoError(t, w.WaitForOpen(r.ctx))

	never := New(r.client, "never")
	never.Cleanup(r.ctx)
	require.ErrorIs(t, never.WaitForOpen(r.ctx), ErrDestroyed)
}

func TestCleanupDestroys(t *testing.T) {
	r := newRig(t)
	w := r.joined("alice")

	w.Cleanup(r.ctx)
	require.Equal(t, Destroyed, w.State())
	require.False(t, r.client.IsClientOpen("alice"))

	_, err := w.Balance.Get(r.ctx)
	require.ErrorIs(t, err, ErrDestroyed)
	require.ErrorIs(t, w.Open(r.ctx), ErrDestroyed)
	_, err = w.Balance.Subscribe(func(Update[core.MSats]) {})
	require.ErrorIs(t, err, ErrDestroyed)
}

func TestCleanupDuringOpen(t *testing.T) {
	r := newRig(t)

	joining := New(r.client, "alice")
	r.tr.before(ipc.KindJoinFederation, func() { joining.Cleanup(r.ctx) })
	err := joining.JoinFederation(r.ctx, transporttest.Invite, false)
	require.ErrorIs(t, err, ErrDestroyed)
	require.Equal(t, Destroyed, joining.State())
	require.False(t, joining.IsOpen())

	opening := New(r.client, "alice")
	r.tr.before(ipc.KindOpenClient, func() { opening.Cleanup(r.ctx) })
	err = opening.Open(r.ctx)
	require.ErrorIs(t, err, ErrDestroyed)
	require.Equal(t, Destroyed, opening.State())
	require.ErrorIs(t, opening.WaitForOpen(r.ctx), ErrDestroyed)
}

func TestBalanceSubscription(t *testing.T) {
	r := newRig(t)
	w := r.joined("alice")

	ch, h := updates[core.MSats]()
	sub, err := w.Balance.Subscribe(h)
	require.NoError(t, err)
	require.Equal(t, core.MSats(0), (<-ch).Value)

	require.NoError(t, r.eng.Fund("alice", 7_000))
	require.Equal(t, core.MSats(7_000), (<-ch).Value)

	sub.Cancel()
	values, err := drain(t, ch)
	require.NoError(t, err)
	require.Empty(t, values)
}

func TestParseAmount(t *testing.T) {
	for _, raw := range []string{`1500`, `"1500"`} {
		got, err := parseAmount(json.RawMessage(raw))
		require.NoError(t, err)
		require.Equal(t, core.MSats(1500), got)
	}
	_, err := parseAmount(json.RawMessage(`"lots"`))
	require.Error(t, err)
}

func TestEcashBetweenWallets(t *testing.T) {
	r := newRig(t)
	alice := r.funded("alice", 10_000)
	bob := r.joined("bob")

	spent, err := alice.Mint.SpendNotes(r.ctx, 4_000, SpendOptions{})
	require.NoError(t, err)
	require.NotEmpty(t, spent.Notes)
	require.NotEmpty(t, spent.OperationID)
	require.Equal(t, core.MSats(6_000), r.balance(alice))

	value, err := bob.Mint.ParseNotes(r.ctx, spent.Notes)
	require.NoError(t, err)
	require.Equal(t, core.MSats(4_000), value)

	reissue, err := bob.Mint.RedeemEcash(r.ctx, spent.Notes)
	require.NoError(t, err)
	require.Equal(t, core.MSats(4_000), r.balance(bob))

	_, err = bob.Mint.RedeemEcash(r.ctx, spent.Notes)
	require.Error(t, err)

	ch, h := updates[OperationState]()
	_, err = bob.Mint.SubscribeReissue(reissue, h)
	require.NoError(t, err)
	states, err := drain(t, ch)
	require.NoError(t, err)
	require.Equal(t, []string{"Created", "Issuing", "Done"}, tags(states))

	ch, h = updates[OperationState]()
	_, err = alice.Mint.SubscribeSpendNotes(spent.OperationID, h)
	require.NoError(t, err)
	states, err = drain(t, ch)
	require.NoError(t, err)
	require.Equal(t, []string{"Created", "Success"}, tags(states))

	counts, err := bob.Mint.NotesByDenomination(r.ctx)
	require.NoError(t, err)
	var total core.MSats
	for denom, n := range counts {
		total += denom * core.MSats(n)
	}
	require.Equal(t, core.MSats(4_000), total)
}

func TestCancelSpendRefunds(t *testing.T) {
	r := newRig(t)
	alice := r.funded("alice", 5_000)

	spent, err := alice.Mint.SpendNotes(r.ctx, 5_000, SpendOptions{TryCancelAfter: time.Hour})
	require.NoError(t, err)
	require.Zero(t, r.balance(alice))

	require.NoError(t, alice.Mint.TryCancelSpendNotes(r.ctx, spent.OperationID))
	refund, err := alice.Mint.AwaitSpendOobRefund(r.ctx, spent.OperationID)
	require.NoError(t, err)
	require.True(t, refund.UserTriggered)
	require.Equal(t, core.MSats(5_000), r.balance(alice))
}

func TestLightningPayment(t *testing.T) {
	r := newRig(t)
	alice := r.funded("alice", 50_000)
	bob := r.joined("bob")

	gws, err := bob.Lightning.ListGateways(r.ctx)
	require.NoError(t, err)
	require.NotEmpty(t, gws)
	gw, err := bob.Lightning.GetGateway(r.ctx, gws[0].Info.GatewayID, false)
	require.NoError(t, err)
	require.NotNil(t, gw)

	inv, err := bob.Lightning.CreateInvoice(r.ctx, 20_000, "coffee", InvoiceOptions{Expiry: time.Hour})
	require.NoError(t, err)

	parsed, err := r.client.ParseBolt11Invoice(r.ctx, inv.Invoice)
	require.NoError(t, err)
	require.Equal(t, core.Sats(20), parsed.Amount)
	require.Equal(t, "coffee", parsed.Memo)

	received := make(chan error, 1)
	go func() { received <- bob.Lightning.WaitForReceive(r.ctx, inv.OperationID) }()

	res, err := alice.Lightning.PayInvoiceSync(r.ctx, inv.Invoice, PayOptions{})
	require.NoError(t, err)
	require.NotEmpty(t, res.Preimage)
	require.NoError(t, <-received)

	require.Equal(t, core.MSats(30_000), r.balance(alice))
	require.Equal(t, core.MSats(20_000), r.balance(bob))

	_, err = alice.Lightning.PayInvoice(r.ctx, inv.Invoice, PayOptions{})
	require.Error(t, err)
}

func TestWaitForPayHonoursContext(t *testing.T) {
	r := newRig(t)
	alice := r.funded("alice", 1_000)

	inv, err := alice.Lightning.CreateInvoice(r.ctx, 500, "", InvoiceOptions{})
	require.NoError(t, err)

	// A receive never succeeds as a payment.
	ctx, cancel := context.WithTimeout(r.ctx, 100*time.Millisecond)
	defer cancel()
	_, err = alice.Lightning.WaitForPay(ctx, inv.OperationID)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRecoveryGatesServices(t *testing.T) {
	r := newRig(t)
	w := New(r.client, "restored")
	require.NoError(t, w.JoinFederation(r.ctx, transporttest.Invite, true))
	require.True(t, w.Recovering())

	_, err := w.Balance.Get(r.ctx)
	require.ErrorIs(t, err, ErrRecovering)
	require.Equal(t, rpc.ClassPrecondition, rpc.Classify(err))

	status, err := w.Recovery.Status(r.ctx)
	require.NoError(t, err)
	require.Len(t, status.Modules, 1)
	require.Zero(t, status.Percentage())

	ch, h := updates[float64]()
	_, err = w.Recovery.SubscribePercentage(h)
	require.NoError(t, err)
	pcts, err := drain(t, ch)
	require.NoError(t, err)
	require.Equal(t, []float64{25, 50, 75, 100}, pcts)

	require.False(t, w.Recovering())
	require.Zero(t, r.balance(w))

	pending, err := w.Recovery.HasPendingRecoveries(r.ctx)
	require.NoError(t, err)
	require.False(t, pending)
	require.NoError(t, w.Recovery.BackupToFederation(r.ctx, nil))
}

func TestWaitForAllRecoveries(t *testing.T) {
	r := newRig(t)
	w := New(r.client, "restored")
	require.NoError(t, w.JoinFederation(r.ctx, transporttest.Invite, true))

	require.NoError(t, w.Recovery.WaitForAllRecoveries(r.ctx))
	require.False(t, w.Recovering())
	require.Zero(t, r.balance(w))
}

func TestOnchainDeposit(t *testing.T) {
	r := newRig(t)
	w := r.joined("alice")

	addr, err := w.Onchain.GenerateAddress(r.ctx, nil)
	require.NoError(t, err)
	require.NotEmpty(t, addr.DepositAddress)

	ch, h := updates[OperationState]()
	_, err = w.Onchain.SubscribeDeposit(addr.OperationID, h)
	require.NoError(t, err)
	require.Equal(t, "WaitingForTransaction", (<-ch).Value.Tag())

	require.NoError(t, r.eng.Fund("alice", 9_000))
	states, err := drain(t, ch)
	require.NoError(t, err)
	require.Equal(t, []string{"WaitingForConfirmation", "Confirmed", "Claimed"}, tags(states))

	opID, err := w.Onchain.Send(r.ctx, 5, "bcrt1qdestination", nil)
	require.NoError(t, err)
	require.NotEmpty(t, opID)
	require.Equal(t, core.MSats(4_000), r.balance(w))

	summary, err := w.Onchain.Summary(r.ctx)
	require.NoError(t, err)
	require.NotNil(t, summary)
}

func TestFederationQueries(t *testing.T) {
	r := newRig(t)
	w := r.funded("alice", 10_000)
	_, err := w.Mint.SpendNotes(r.ctx, 1_000, SpendOptions{})
	require.NoError(t, err)

	id, err := w.Federation.FederationID(r.ctx)
	require.NoError(t, err)
	require.Equal(t, id, w.FederationID().UnwrapOr(""))

	cfg, err := w.Federation.Config(r.ctx)
	require.NoError(t, err)
	require.Contains(t, string(cfg), "modules")

	code, err := w.Federation.InviteCode(r.ctx, 0)
	require.NoError(t, err)
	require.Equal(t, transporttest.Invite, code)

	txs, err := w.Federation.ListTransactions(r.ctx, 0, nil)
	require.NoError(t, err)
	require.Len(t, txs, 2)
	require.Equal(t, core.KindMint, txs[0].Kind)
	require.Equal(t, core.KindOnchain, txs[1].Kind)

	page, err := w.Federation.ListOperations(r.ctx, 1, nil)
	require.NoError(t, err)
	require.Len(t, page, 1)
	rest, err := w.Federation.ListOperations(r.ctx, 0, &page[0].Key)
	require.NoError(t, err)
	require.Len(t, rest, 1)

	op, err := w.Federation.Operation(r.ctx, page[0].Key.OperationID)
	require.NoError(t, err)
	require.NotNil(t, op)
	require.Equal(t, core.KindMint, op.OperationModuleKind)

	missing, err := w.Federation.Operation(r.ctx, "unknown")
	require.NoError(t, err)
	require.Nil(t, missing)
}
