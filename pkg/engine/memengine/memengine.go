// Package memengine is a self-contained wallet engine with fake money. It
// speaks the full native protocol and keeps client state in a storage.KV, so
// it can stand in for the real engine in tests and in walletd.
package memengine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	jsoniter "github.com/json-iterator/go"

	"github.com/rexliu/fedwallet/pkg/engine"
	"github.com/rexliu/fedwallet/pkg/ipc"
	"github.com/rexliu/fedwallet/pkg/storage"
)

const (
	clientPrefix = "engine/client/"
	mnemonicKey  = "engine/mnemonic"
)

var wire = jsoniter.ConfigCompatibleWithStandardLibrary

var (
	errClientNotOpen = errors.New("client not open")
	errNoMnemonic    = errors.New("no mnemonic set")
)

// Engine implements engine.Engine.
type Engine struct {
	store storage.KV

	mu       sync.Mutex
	clients  map[string]*client
	invoices map[string]invoiceRef
	streams  map[uint64]*stream
	closed   bool

	quit chan struct{}
	wg   sync.WaitGroup
}

var _ engine.Engine = (*Engine)(nil)

type invoiceRef struct {
	client      string
	operationID string
}

type client struct {
	name    string
	open    bool
	state   clientState
	changed chan struct{}
}

type stream struct {
	cancel chan struct{}
	once   sync.Once
}

func (s *stream) stop() { s.once.Do(func() { close(s.cancel) }) }

// NewFactory returns a factory that opens engines over store. A nil store
// keeps state in memory for the life of the engine.
func NewFactory(store storage.KV) engine.Factory {
	return func(json.RawMessage) (engine.Engine, error) {
		kv := store
		if kv == nil {
			kv = storage.NewMemory(storage.Quota{})
		}
		return Open(context.Background(), kv)
	}
}

// Open loads every persisted client from store.
func Open(ctx context.Context, store storage.KV) (*Engine, error) {
	e := &Engine{
		store:    store,
		clients:  make(map[string]*client),
		invoices: make(map[string]invoiceRef),
		streams:  make(map[uint64]*stream),
		quit:     make(chan struct{}),
	}
	entries, err := store.List(ctx, clientPrefix)
	if err != nil {
		return nil, fmt.Errorf("load clients: %w", err)
	}
	for _, entry := range entries {
		var st clientState
		if err := wire.Unmarshal(entry.Value, &st); err != nil {
			return nil, fmt.Errorf("decode %s: %w", entry.Key, err)
		}
		c := &client{
			name:    strings.TrimPrefix(entry.Key, clientPrefix),
			state:   st,
			changed: make(chan struct{}),
		}
		c.state.init()
		e.clients[c.name] = c
		for opID, r := range st.Receives {
			e.invoices[r.Invoice] = invoiceRef{client: c.name, operationID: opID}
		}
	}
	return e, nil
}

// RPC serves one native request.
func (e *Engine) RPC(request []byte, emit func([]byte)) {
	req, err := ipc.DecodeNative(request)
	if err != nil {
		ipc.Emitter{Emit: emit}.Error(err)
		return
	}
	out := ipc.Emitter{ID: req.RequestID, Emit: emit}

	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		out.Error(errors.New("engine closed"))
		return
	}

	switch req.Type {
	case ipc.KindJoinFederation:
		var p ipc.Join
		if err := decode(req.Payload, &p); err != nil {
			out.Error(err)
			return
		}
		fedID, err := e.join(p)
		if err != nil {
			out.Error(err)
			return
		}
		out.Log("info", fmt.Sprintf("client %s joined federation %s", p.ClientName, fedID))
		out.End()

	case ipc.KindOpenClient, ipc.KindCloseClient:
		var p ipc.ClientName
		if err := decode(req.Payload, &p); err != nil {
			out.Error(err)
			return
		}
		if err := e.setOpen(p.ClientName, req.Type == ipc.KindOpenClient); err != nil {
			out.Error(err)
			return
		}
		out.End()

	case ipc.KindCancelRPC:
		var p ipc.Cancel
		if err := decode(req.Payload, &p); err != nil {
			out.Error(err)
			return
		}
		e.mu.Lock()
		s, ok := e.streams[p.CancelRequestID]
		e.mu.Unlock()
		if ok {
			s.stop()
		}

	case ipc.KindParseInviteCode:
		var p ipc.InviteCode
		if err := decode(req.Payload, &p); err != nil {
			out.Error(err)
			return
		}
		parsed, err := parseInvite(p.InviteCode)
		if err != nil {
			out.Error(err)
			return
		}
		out.Data(parsed)
		out.End()

	case ipc.KindPreviewFederation:
		var p ipc.InviteCode
		if err := decode(req.Payload, &p); err != nil {
			out.Error(err)
			return
		}
		parsed, err := parseInvite(p.InviteCode)
		if err != nil {
			out.Error(err)
			return
		}
		cfg, _ := wire.Marshal(federationConfig(parsed.FederationID))
		out.Data(map[string]string{
			"config":        string(cfg),
			"federation_id": parsed.FederationID,
		})
		out.End()

	case ipc.KindParseBolt11Invoice:
		var p ipc.Invoice
		if err := decode(req.Payload, &p); err != nil {
			out.Error(err)
			return
		}
		inv, err := parseInvoice(p.Invoice)
		if err != nil {
			out.Error(err)
			return
		}
		out.Data(map[string]any{
			"amount": inv.amountMsats / 1000,
			"expiry": inv.expiry,
			"memo":   inv.memo,
		})
		out.End()

	case ipc.KindGenerateMnemonic:
		words, err := e.generateMnemonic()
		if err != nil {
			out.Error(err)
			return
		}
		out.Data(words)
		out.End()

	case ipc.KindSetMnemonic:
		var p ipc.Mnemonic
		if err := decode(req.Payload, &p); err != nil {
			out.Error(err)
			return
		}
		if err := e.setMnemonic(p.Words); err != nil {
			out.Error(err)
			return
		}
		out.Data(true)
		out.End()

	case ipc.KindGetMnemonic:
		words, err := e.getMnemonic()
		if err != nil {
			out.Error(err)
			return
		}
		out.Data(words)
		out.End()

	case ipc.KindClientRPC:
		var p ipc.ClientRPC
		if err := decode(req.Payload, &p); err != nil {
			out.Error(err)
			return
		}
		e.clientRPC(req.RequestID, p, out)

	default:
		out.Error(fmt.Errorf("unsupported request type %q", req.Type))
	}
}

// Close stops every stream and waits for their goroutines.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	close(e.quit)
	e.mu.Unlock()
	e.wg.Wait()
	return nil
}

func (e *Engine) join(p ipc.Join) (string, error) {
	if p.ClientName == "" {
		return "", errors.New("client_name required")
	}
	parsed, err := parseInvite(p.InviteCode)
	if err != nil {
		return "", err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if c, ok := e.clients[p.ClientName]; ok {
		if c.state.FederationID != parsed.FederationID {
			return "", fmt.Errorf("client %s already joined another federation", p.ClientName)
		}
		c.open = true
		return parsed.FederationID, nil
	}
	c := &client{
		name: p.ClientName,
		open: true,
		state: clientState{
			FederationID: parsed.FederationID,
			InviteCode:   p.InviteCode,
			Recovering:   p.ForceRecover,
		},
		changed: make(chan struct{}),
	}
	c.state.init()
	if err := e.saveLocked(c); err != nil {
		return "", err
	}
	e.clients[c.name] = c
	return parsed.FederationID, nil
}

func (e *Engine) setOpen(name string, open bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	c, ok := e.clients[name]
	if !ok {
		return fmt.Errorf("no client named %s", name)
	}
	c.open = open
	return nil
}

// openClient returns the named client if it is open. Callers hold e.mu.
func (e *Engine) openClient(name string) (*client, error) {
	c, ok := e.clients[name]
	if !ok || !c.open {
		return nil, fmt.Errorf("%w: %s", errClientNotOpen, name)
	}
	return c, nil
}

// saveLocked persists c and wakes its watchers. Callers hold e.mu.
func (e *Engine) saveLocked(c *client) error {
	raw, err := wire.Marshal(c.state)
	if err != nil {
		return err
	}
	if err := e.store.Put(context.Background(), clientPrefix+c.name, raw); err != nil {
		return fmt.Errorf("persist client %s: %w", c.name, err)
	}
	close(c.changed)
	c.changed = make(chan struct{})
	return nil
}

// watch runs step on every change of c until step reports done, the stream is
// cancelled or the engine closes. step runs with e.mu held and returns the
// values to emit.
func (e *Engine) watch(id uint64, c *client, out ipc.Emitter, step func() (emit []any, done bool)) {
	s := &stream{cancel: make(chan struct{})}
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		out.Error(errors.New("engine closed"))
		return
	}
	e.streams[id] = s
	e.wg.Add(1)
	e.mu.Unlock()

	go func() {
		defer e.wg.Done()
		defer func() {
			e.mu.Lock()
			delete(e.streams, id)
			e.mu.Unlock()
		}()
		for {
			e.mu.Lock()
			values, done := step()
			changed := c.changed
			e.mu.Unlock()
			for _, v := range values {
				out.Data(v)
			}
			if done {
				out.End()
				return
			}
			select {
			case <-changed:
			case <-s.cancel:
				out.Aborted()
				return
			case <-e.quit:
				out.Aborted()
				return
			}
		}
	}()
}

func decode(payload json.RawMessage, v any) error {
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}
	if err := wire.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}
	return nil
}
