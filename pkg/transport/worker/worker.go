// Package worker runs the engine on a dedicated goroutine and talks to it
// over channels, the way a browser talks to a web worker.
package worker

import (
	"context"
	"sync"

	"github.com/lightningnetwork/lnd/fn/v2"

	"github.com/rexliu/fedwallet/pkg/engine"
	"github.com/rexliu/fedwallet/pkg/ipc"
	"github.com/rexliu/fedwallet/pkg/transport"
)

const defaultInboxSize = 32

// Option configures a Transport.
type Option func(*Transport)

// WithInboxSize sets how many requests may queue for the engine goroutine.
func WithInboxSize(n int) Option {
	return func(t *Transport) {
		if n > 0 {
			t.inboxSize = n
		}
	}
}

// Transport owns an engine goroutine. The engine itself is opened by the init
// request.
type Transport struct {
	transport.Handlers

	host      *engine.Host
	inboxSize int
	inbox     chan []byte
	out       *transport.Queue
	gm        *fn.GoroutineManager

	closeOnce sync.Once
}

var _ transport.Transport = (*Transport)(nil)

// New starts the engine goroutine.
func New(factory engine.Factory, opts ...Option) *Transport {
	t := &Transport{
		host:      engine.NewHost(factory),
		inboxSize: defaultInboxSize,
		gm:        fn.NewGoroutineManager(),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.inbox = make(chan []byte, t.inboxSize)
	t.out = transport.NewQueue(t.Deliver)
	t.gm.Go(context.Background(), t.loop)
	return t
}

func (t *Transport) loop(ctx context.Context) {
	emit := func(msg []byte) { t.out.Push(msg) }
	for {
		select {
		case msg := <-t.inbox:
			t.host.Handle(msg, emit)
		case <-ctx.Done():
			return
		}
	}
}

// Send posts req to the engine goroutine.
func (t *Transport) Send(req ipc.Request) error {
	native, err := ipc.EncodeNative(req)
	if err != nil {
		return err
	}
	select {
	case <-t.gm.Done():
		return transport.ErrClosed
	default:
	}
	select {
	case t.inbox <- native:
		return nil
	case <-t.gm.Done():
		return transport.ErrClosed
	}
}

// Close stops the engine goroutine and releases the engine.
func (t *Transport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		t.gm.Stop()
		err = t.host.Close()
		t.out.Close(false)
	})
	return err
}
