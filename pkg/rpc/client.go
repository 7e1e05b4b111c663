package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/btcsuite/btclog"
	"github.com/lightningnetwork/lnd/fn/v2"

	"github.com/rexliu/fedwallet/pkg/core"
	"github.com/rexliu/fedwallet/pkg/ipc"
	"github.com/rexliu/fedwallet/pkg/transport"
)

const defaultOutboxSize = 64

// Option configures a Client.
type Option func(*Client)

// WithLogger routes the client's logging, engine log lines included, to l
// instead of the package logger.
func WithLogger(l btclog.Logger) Option {
	return func(c *Client) { c.log = l }
}

// WithMetrics instruments the client.
func WithMetrics(m *Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithOutboxSize sets how many requests may wait for the send goroutine.
func WithOutboxSize(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.outboxSize = n
		}
	}
}

type outgoing struct {
	req ipc.Request
	sub *Subscription
}

// Client multiplexes requests to one engine over a Transport. It is safe for
// concurrent use. Every request leaves through a single send goroutine, so
// the engine sees requests in call order.
type Client struct {
	tr      transport.Transport
	log     btclog.Logger
	metrics *Metrics
	corr    *Correlator
	subs    *SubscriptionManager

	outboxSize int
	outbox     chan outgoing
	gm         *fn.GoroutineManager
	quit       chan struct{}

	initMu   sync.Mutex
	initDone chan struct{}
	initErr  error

	mu        sync.Mutex
	open      map[string]struct{}
	closed    bool
	closeOnce sync.Once
}

// NewClient takes ownership of tr and starts the send goroutine.
func NewClient(tr transport.Transport, opts ...Option) *Client {
	c := &Client{
		tr:         tr,
		log:        log,
		outboxSize: defaultOutboxSize,
		gm:         fn.NewGoroutineManager(),
		quit:       make(chan struct{}),
		open:       make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.corr = NewCorrelator(c.metrics)
	c.subs = NewSubscriptionManager(c.metrics)
	c.outbox = make(chan outgoing, c.outboxSize)

	tr.SetMessageHandler(c.handleMessage)
	tr.SetErrorHandler(c.handleTransportError)
	c.gm.Go(context.Background(), c.sendLoop)
	return c
}

func (c *Client) sendLoop(ctx context.Context) {
	for {
		select {
		case o := <-c.outbox:
			c.metrics.request(string(o.req.Type))
			if err := c.tr.Send(o.req); err != nil {
				c.log.Debugf("Send %s id=%d failed: %v", o.req.Type,
					o.req.RequestID, err)
				if o.sub != nil {
					c.corr.Unregister(o.sub.id)
					o.sub.terminate(&TransportError{Err: err})
				}
				continue
			}
			if o.sub != nil && o.sub.sent() {
				c.writeCancel(o.sub.id)
			}
		case <-ctx.Done():
			return
		}
	}
}

func (c *Client) cancelRequest(target uint64) ipc.Request {
	return ipc.Request{
		Type:      ipc.KindCancelRPC,
		RequestID: c.corr.NextID(),
		Payload:   ipc.MustPayload(ipc.Cancel{CancelRequestID: target}),
	}
}

// writeCancel sends a cancel from the send goroutine itself.
func (c *Client) writeCancel(target uint64) {
	req := c.cancelRequest(target)
	c.metrics.request(string(req.Type))
	if err := c.tr.Send(req); err != nil {
		c.log.Debugf("Cancel of id=%d failed: %v", target, err)
	}
}

// queueCancel sends a cancel from any other goroutine.
func (c *Client) queueCancel(target uint64) {
	if err := c.enqueue(outgoing{req: c.cancelRequest(target)}); err != nil {
		c.log.Debugf("Cancel of id=%d dropped: %v", target, err)
	}
}

func (c *Client) enqueue(o outgoing) error {
	if c.isClosed() {
		return ErrClientClosed
	}
	select {
	case c.outbox <- o:
		return nil
	case <-c.quit:
		return ErrClientClosed
	}
}

// Stream sends a request and feeds every response for it to h until a
// terminal one arrives.
func (c *Client) Stream(kind ipc.Kind, payload any, h EventHandler) (*Subscription, error) {
	if c.isClosed() {
		return nil, ErrClientClosed
	}
	raw, err := encodePayload(payload)
	if err != nil {
		return nil, err
	}
	id := c.corr.NextID()
	sub := newSubscription(id, h, c.queueCancel, c.subs.remove)
	c.subs.Add(sub)
	c.corr.Register(id, sub.deliver)

	req := ipc.Request{Type: kind, RequestID: id, Payload: raw}
	if err := c.enqueue(outgoing{req: req, sub: sub}); err != nil {
		c.corr.Unregister(id)
		c.subs.remove(sub)
		return nil, err
	}
	return sub, nil
}

// Call sends a request and waits for its first result. An end without data
// yields JSON null. When ctx is done first the request is cancelled and
// ctx.Err() returned.
func (c *Client) Call(ctx context.Context, kind ipc.Kind, payload any) (json.RawMessage, error) {
	result := make(chan fn.Result[json.RawMessage], 1)
	var once sync.Once
	resolve := func(r fn.Result[json.RawMessage]) {
		once.Do(func() { result <- r })
	}

	sub, err := c.Stream(kind, payload, func(ev Event) {
		switch ev.Kind {
		case EventData:
			resolve(fn.Ok(ev.Data))
		case EventError:
			resolve(fn.Err[json.RawMessage](ev.Err))
		case EventEnd:
			resolve(fn.Ok(json.RawMessage("null")))
		}
	})
	if err != nil {
		return nil, err
	}

	select {
	case r := <-result:
		return r.Unpack()
	case <-ctx.Done():
		sub.Cancel()
		return nil, ctx.Err()
	case <-c.quit:
		return nil, ErrClientClosed
	}
}

// Initialize performs the engine handshake. Only the first call sends init;
// every caller, concurrent or later, gets that call's outcome.
func (c *Client) Initialize(ctx context.Context) error {
	if c.isClosed() {
		return ErrClientClosed
	}
	c.initMu.Lock()
	if c.initDone == nil {
		done := make(chan struct{})
		c.initDone = done
		started := c.gm.Go(context.Background(), func(ctx context.Context) {
			_, err := c.Call(ctx, ipc.KindInit, nil)
			if err != nil {
				err = fmt.Errorf("initialize engine: %w", err)
			}
			c.initMu.Lock()
			c.initErr = err
			c.initMu.Unlock()
			close(done)
		})
		if !started {
			c.initErr = ErrClientClosed
			close(done)
		}
	}
	done := c.initDone
	c.initMu.Unlock()

	select {
	case <-done:
		c.initMu.Lock()
		defer c.initMu.Unlock()
		return c.initErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Initialized reports whether the handshake has succeeded.
func (c *Client) Initialized() bool {
	c.initMu.Lock()
	defer c.initMu.Unlock()
	if c.initDone == nil {
		return false
	}
	select {
	case <-c.initDone:
		return c.initErr == nil
	default:
		return false
	}
}

func (c *Client) requireInit() error {
	if c.isClosed() {
		return ErrClientClosed
	}
	if !c.Initialized() {
		return ErrNotInitialized
	}
	return nil
}

// IsClientOpen reports whether name was opened or joined through c and not
// closed since.
func (c *Client) IsClientOpen(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.open[name]
	return ok
}

func (c *Client) setOpen(name string, open bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if open {
		c.open[name] = struct{}{}
	} else {
		delete(c.open, name)
	}
}

func (c *Client) clientRPC(clientName, module, method string, payload any) (ipc.ClientRPC, error) {
	if c.isClosed() {
		return ipc.ClientRPC{}, ErrClientClosed
	}
	if !c.IsClientOpen(clientName) {
		return ipc.ClientRPC{}, fmt.Errorf("%w: %s.%s on %q", ErrWalletNotOpen,
			module, method, clientName)
	}
	body, err := encodePayload(payload)
	if err != nil {
		return ipc.ClientRPC{}, err
	}
	if body == nil {
		body = json.RawMessage(`{}`)
	}
	return ipc.ClientRPC{
		ClientName: clientName,
		Module:     module,
		Method:     method,
		Payload:    body,
	}, nil
}

// RPCSingle calls a module method on an open client. Nothing is sent when
// the client is not open.
func (c *Client) RPCSingle(ctx context.Context, clientName, module, method string, payload any) (json.RawMessage, error) {
	req, err := c.clientRPC(clientName, module, method, payload)
	if err != nil {
		return nil, err
	}
	return c.Call(ctx, ipc.KindClientRPC, req)
}

// RPCStream subscribes to a streaming module method on an open client.
func (c *Client) RPCStream(clientName, module, method string, payload any, h EventHandler) (*Subscription, error) {
	req, err := c.clientRPC(clientName, module, method, payload)
	if err != nil {
		return nil, err
	}
	return c.Stream(ipc.KindClientRPC, req, h)
}

// OpenClient opens a previously joined client in the engine.
func (c *Client) OpenClient(ctx context.Context, name string) error {
	if err := c.requireInit(); err != nil {
		return err
	}
	if _, err := c.Call(ctx, ipc.KindOpenClient, ipc.ClientName{ClientName: name}); err != nil {
		return err
	}
	c.setOpen(name, true)
	c.log.Debugf("Opened client %s", name)
	return nil
}

// CloseClient closes name in the engine. The client counts as closed locally
// even when the engine reports an error.
func (c *Client) CloseClient(ctx context.Context, name string) error {
	if err := c.requireInit(); err != nil {
		return err
	}
	c.setOpen(name, false)
	_, err := c.Call(ctx, ipc.KindCloseClient, ipc.ClientName{ClientName: name})
	return err
}

// JoinFederation creates client name as a member of the federation behind
// invite and leaves it open.
func (c *Client) JoinFederation(ctx context.Context, invite, name string, recover bool) error {
	if err := c.requireInit(); err != nil {
		return err
	}
	_, err := c.Call(ctx, ipc.KindJoinFederation, ipc.Join{
		InviteCode:   invite,
		ClientName:   name,
		ForceRecover: recover,
	})
	if err != nil {
		return err
	}
	c.setOpen(name, true)
	c.log.Infof("Client %s joined federation", name)
	return nil
}

func (c *Client) ParseInviteCode(ctx context.Context, invite string) (core.ParsedInviteCode, error) {
	return callInto[core.ParsedInviteCode](ctx, c, ipc.KindParseInviteCode, ipc.InviteCode{InviteCode: invite})
}

func (c *Client) PreviewFederation(ctx context.Context, invite string) (core.PreviewFederation, error) {
	return callInto[core.PreviewFederation](ctx, c, ipc.KindPreviewFederation, ipc.InviteCode{InviteCode: invite})
}

func (c *Client) ParseBolt11Invoice(ctx context.Context, invoice string) (core.ParsedBolt11Invoice, error) {
	return callInto[core.ParsedBolt11Invoice](ctx, c, ipc.KindParseBolt11Invoice, ipc.Invoice{Invoice: invoice})
}

// GenerateMnemonic returns the engine's mnemonic, creating one if none is
// set yet.
func (c *Client) GenerateMnemonic(ctx context.Context) ([]string, error) {
	return c.mnemonic(ctx, ipc.KindGenerateMnemonic)
}

func (c *Client) GetMnemonic(ctx context.Context) ([]string, error) {
	return c.mnemonic(ctx, ipc.KindGetMnemonic)
}

func (c *Client) SetMnemonic(ctx context.Context, words []string) error {
	if err := c.requireInit(); err != nil {
		return err
	}
	_, err := c.Call(ctx, ipc.KindSetMnemonic, ipc.Mnemonic{Words: words})
	return err
}

func (c *Client) mnemonic(ctx context.Context, kind ipc.Kind) ([]string, error) {
	if err := c.requireInit(); err != nil {
		return nil, err
	}
	raw, err := c.Call(ctx, kind, nil)
	if err != nil {
		return nil, err
	}
	// Engines answer with either a bare word list or {"mnemonic": [...]}.
	var words []string
	if err := ipc.Unmarshal(raw, &words); err == nil {
		return words, nil
	}
	var wrapped struct {
		Mnemonic []string `json:"mnemonic"`
	}
	if err := ipc.Unmarshal(raw, &wrapped); err != nil {
		return nil, fmt.Errorf("%w: mnemonic: %v", ErrMalformedResponse, err)
	}
	return wrapped.Mnemonic, nil
}

// Cleanup cancels every subscription, asks the engine to shut down, and
// closes the transport. Calls still waiting return ErrClientClosed, as does
// every later call.
func (c *Client) Cleanup(ctx context.Context) error {
	var err error
	c.closeOnce.Do(func() {
		c.subs.CancelAll()
		if c.Initialized() {
			if _, cerr := c.Call(ctx, ipc.KindCleanup, nil); cerr != nil {
				c.log.Debugf("Engine cleanup: %v", cerr)
			}
		}

		c.mu.Lock()
		c.closed = true
		c.open = make(map[string]struct{})
		c.mu.Unlock()

		close(c.quit)
		c.gm.Stop()
		err = c.tr.Close()
		c.corr.Reset()
		c.subs.Clear()
		c.log.Debugf("RPC client cleaned up")
	})
	return err
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Client) handleMessage(msg []byte) {
	resp, err := ipc.DecodeResponse(msg)
	if err != nil {
		c.metrics.malformed()
		c.log.Warnf("Dropping engine message: %v", err)
		return
	}
	c.metrics.response(string(resp.Type))
	if resp.Type == ipc.ResponseLog {
		c.engineLog(resp.Level, resp.Message)
		return
	}
	c.corr.Dispatch(resp)
}

func (c *Client) engineLog(level, msg string) {
	switch strings.ToLower(level) {
	case "trace":
		c.log.Tracef("engine: %s", msg)
	case "debug":
		c.log.Debugf("engine: %s", msg)
	case "warn", "warning":
		c.log.Warnf("engine: %s", msg)
	case "error":
		c.log.Errorf("engine: %s", msg)
	default:
		c.log.Infof("engine: %s", msg)
	}
}

// handleTransportError fails every outstanding request: a broken channel
// will not deliver their responses.
func (c *Client) handleTransportError(err error) {
	c.log.Errorf("Engine transport failed: %v", err)
	for _, id := range c.corr.IDs() {
		c.corr.Unregister(id)
	}
	c.subs.failAll(&TransportError{Err: err})
}

// callInto runs a single-shot request after the handshake and decodes its
// result into T.
func callInto[T any](ctx context.Context, c *Client, kind ipc.Kind, payload any) (T, error) {
	var out T
	if err := c.requireInit(); err != nil {
		return out, err
	}
	raw, err := c.Call(ctx, kind, payload)
	if err != nil {
		return out, err
	}
	if err := ipc.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("%w: %s: %v", ErrMalformedResponse, kind, err)
	}
	return out, nil
}

func encodePayload(v any) (json.RawMessage, error) {
	switch p := v.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return p, nil
	}
	raw, err := ipc.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return raw, nil
}
