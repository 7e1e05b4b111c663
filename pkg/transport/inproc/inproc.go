// Package inproc embeds the engine in the calling goroutine. Requests run
// synchronously inside Send; responses are delivered from a separate
// goroutine in emission order.
package inproc

import (
	"sync"

	"github.com/rexliu/fedwallet/pkg/engine"
	"github.com/rexliu/fedwallet/pkg/ipc"
	"github.com/rexliu/fedwallet/pkg/transport"
)

// Transport is an in-process adapter around an engine.Host.
type Transport struct {
	transport.Handlers

	host *engine.Host
	out  *transport.Queue

	mu     sync.Mutex
	closed bool
}

var _ transport.Transport = (*Transport)(nil)

// New returns an adapter whose engine is opened by the init request.
func New(factory engine.Factory) *Transport {
	t := &Transport{host: engine.NewHost(factory)}
	t.out = transport.NewQueue(t.Deliver)
	return t
}

func (t *Transport) Send(req ipc.Request) error {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return transport.ErrClosed
	}
	native, err := ipc.EncodeNative(req)
	if err != nil {
		return err
	}
	t.host.Handle(native, func(msg []byte) { t.out.Push(msg) })
	return nil
}

func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()
	err := t.host.Close()
	t.out.Close(false)
	return err
}
