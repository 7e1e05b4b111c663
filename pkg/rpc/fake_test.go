package rpc

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rexliu/fedwallet/pkg/ipc"
	"github.com/rexliu/fedwallet/pkg/transport"
)

// fakeTransport records requests and lets the test play the engine.
type fakeTransport struct {
	transport.Handlers

	// hold, when set, is called inside Send before the request is recorded.
	hold func(req ipc.Request)

	mu      sync.Mutex
	sent    []ipc.Request
	sendErr error
	closed  bool
	sentCh  chan ipc.Request
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{sentCh: make(chan ipc.Request, 256)}
}

func (f *fakeTransport) Send(req ipc.Request) error {
	if f.hold != nil {
		f.hold(req)
	}
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return transport.ErrClosed
	}
	err := f.sendErr
	if err == nil {
		f.sent = append(f.sent, req)
	}
	f.mu.Unlock()
	if err == nil {
		f.sentCh <- req
		// The engine host always acknowledges cleanup.
		if req.Type == ipc.KindCleanup {
			go func() {
				raw, _ := ipc.EncodeResponse(ipc.Response{Type: ipc.ResponseEnd, RequestID: req.RequestID})
				f.Deliver(raw)
			}()
		}
	}
	return err
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) requests() []ipc.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ipc.Request(nil), f.sent...)
}

func (f *fakeTransport) count(kind ipc.Kind) int {
	n := 0
	for _, req := range f.requests() {
		if req.Type == kind {
			n++
		}
	}
	return n
}

// next waits for the next request to leave the client.
func (f *fakeTransport) next(t *testing.T) ipc.Request {
	t.Helper()
	select {
	case req := <-f.sentCh:
		return req
	case <-time.After(2 * time.Second):
		t.Fatal("no request sent")
		return ipc.Request{}
	}
}

// quiet asserts that nothing is sent for a short while.
func (f *fakeTransport) quiet(t *testing.T) {
	t.Helper()
	select {
	case req := <-f.sentCh:
		t.Fatalf("unexpected request %+v", req)
	case <-time.After(30 * time.Millisecond):
	}
}

func (f *fakeTransport) reply(t *testing.T, resp ipc.Response) {
	t.Helper()
	raw, err := ipc.EncodeResponse(resp)
	require.NoError(t, err)
	f.Deliver(raw)
}

func (f *fakeTransport) data(t *testing.T, id uint64, v any) {
	f.reply(t, ipc.Response{Type: ipc.ResponseData, RequestID: id, Data: ipc.MustPayload(v)})
}

func (f *fakeTransport) end(t *testing.T, id uint64) {
	f.reply(t, ipc.Response{Type: ipc.ResponseEnd, RequestID: id})
}

// initClient returns a client that has completed the handshake.
func initClient(t *testing.T, opts ...Option) (*Client, *fakeTransport) {
	t.Helper()
	ft := newFakeTransport()
	c := NewClient(ft, opts...)
	t.Cleanup(func() { c.Cleanup(context.Background()) })

	errc := make(chan error, 1)
	go func() { errc <- c.Initialize(context.Background()) }()
	req := ft.next(t)
	require.Equal(t, ipc.KindInit, req.Type)
	ft.end(t, req.RequestID)
	require.NoError(t, <-errc)
	return c, ft
}

// recorder collects subscription events.
type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) handle(ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) kinds() []EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventKind, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Kind)
	}
	return out
}

var errBoom = errors.New("boom")
