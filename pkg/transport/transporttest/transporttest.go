// Package transporttest holds the behaviour every transport must share,
// exercised against the in-memory engine.
package transporttest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rexliu/fedwallet/pkg/engine"
	"github.com/rexliu/fedwallet/pkg/engine/memengine"
	"github.com/rexliu/fedwallet/pkg/ipc"
	"github.com/rexliu/fedwallet/pkg/storage"
	"github.com/rexliu/fedwallet/pkg/transport"
)

// Invite is an invite code accepted by the in-memory engine.
const Invite = "fed11qgqzc2nhwden5te0vejkg6tdd9h8gepwvejkg6tdd9h8garhduhx6at5d9h8jmn9wshxxmmd9uqqzgxg6s3evnr6m9zdxr6hxkdkukexpcs3mn7mj3g5pc5dfh63l4tj6g9zk4er"

// Factory starts a transport whose engine is opened by f.
type Factory func(t *testing.T, f engine.Factory) transport.Transport

// Recorder collects the responses a transport delivers.
type Recorder struct {
	mu     sync.Mutex
	byID   map[uint64][]ipc.Response
	order  []uint64
	errs   []error
	notify chan struct{}
}

// Attach registers a recorder as tr's message and error handler.
func Attach(tr transport.Transport) *Recorder {
	r := &Recorder{byID: make(map[uint64][]ipc.Response), notify: make(chan struct{}, 1)}
	tr.SetMessageHandler(func(msg []byte) {
		resp, err := ipc.DecodeResponse(msg)
		r.mu.Lock()
		if err != nil {
			r.errs = append(r.errs, err)
		} else {
			r.byID[resp.RequestID] = append(r.byID[resp.RequestID], resp)
			r.order = append(r.order, resp.RequestID)
		}
		r.mu.Unlock()
		r.poke()
	})
	tr.SetErrorHandler(func(err error) {
		r.mu.Lock()
		r.errs = append(r.errs, err)
		r.mu.Unlock()
		r.poke()
	})
	return r
}

func (r *Recorder) poke() {
	select {
	case r.notify <- struct{}{}:
	default:
	}
}

// Wait blocks until a terminal response for id arrives and returns every
// response seen for it.
func (r *Recorder) Wait(t *testing.T, id uint64) []ipc.Response {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		r.mu.Lock()
		resps := append([]ipc.Response(nil), r.byID[id]...)
		r.mu.Unlock()
		if n := len(resps); n > 0 && resps[n-1].Terminal() {
			return resps
		}
		select {
		case <-r.notify:
		case <-deadline:
			t.Fatalf("request %d: no terminal response, got %+v", id, resps)
		}
	}
}

// Errors returns the channel-level errors seen so far.
func (r *Recorder) Errors() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.errs...)
}

// Send is a shorthand that fails the test on a send error.
func Send(t *testing.T, tr transport.Transport, id uint64, kind ipc.Kind, payload any) {
	t.Helper()
	var raw []byte
	if payload != nil {
		raw = ipc.MustPayload(payload)
	}
	require.NoError(t, tr.Send(ipc.Request{Type: kind, RequestID: id, Payload: raw}))
}

// Run exercises open against the shared transport contract.
func Run(t *testing.T, open Factory) {
	t.Run("rejects traffic before init", func(t *testing.T) {
		tr := open(t, memengine.NewFactory(nil))
		rec := Attach(tr)
		Send(t, tr, 1, ipc.KindGetMnemonic, nil)
		resps := rec.Wait(t, 1)
		require.Len(t, resps, 1)
		require.Equal(t, ipc.ResponseError, resps[0].Type)
		require.Equal(t, engine.ErrNotInitialized.Error(), resps[0].Error)
	})

	t.Run("handshake and client rpc", func(t *testing.T) {
		tr := open(t, memengine.NewFactory(storage.NewMemory(storage.Quota{})))
		rec := Attach(tr)

		Send(t, tr, 1, ipc.KindInit, map[string]any{})
		require.Equal(t, ipc.ResponseEnd, rec.Wait(t, 1)[0].Type)

		Send(t, tr, 2, ipc.KindJoinFederation, ipc.Join{InviteCode: Invite, ClientName: "w"})
		join := rec.Wait(t, 2)
		require.Equal(t, ipc.ResponseLog, join[0].Type)
		require.Equal(t, ipc.ResponseEnd, join[len(join)-1].Type)

		Send(t, tr, 3, ipc.KindClientRPC, ipc.ClientRPC{ClientName: "w", Method: "get_balance"})
		bal := rec.Wait(t, 3)
		require.Len(t, bal, 2)
		require.JSONEq(t, "0", string(bal[0].Data))
		require.Equal(t, ipc.ResponseEnd, bal[1].Type)

		Send(t, tr, 4, ipc.KindCleanup, nil)
		require.Equal(t, ipc.ResponseEnd, rec.Wait(t, 4)[0].Type)
	})

	t.Run("stream cancel", func(t *testing.T) {
		tr := open(t, memengine.NewFactory(nil))
		rec := Attach(tr)
		Send(t, tr, 1, ipc.KindInit, nil)
		rec.Wait(t, 1)
		Send(t, tr, 2, ipc.KindJoinFederation, ipc.Join{InviteCode: Invite, ClientName: "w"})
		rec.Wait(t, 2)

		Send(t, tr, 3, ipc.KindClientRPC, ipc.ClientRPC{ClientName: "w", Method: "subscribe_balance_changes"})
		require.Eventually(t, func() bool {
			rec.mu.Lock()
			defer rec.mu.Unlock()
			return len(rec.byID[3]) > 0
		}, 3*time.Second, 5*time.Millisecond)

		Send(t, tr, 4, ipc.KindCancelRPC, ipc.Cancel{CancelRequestID: 3})
		resps := rec.Wait(t, 3)
		require.Equal(t, ipc.ResponseAborted, resps[len(resps)-1].Type)
	})

	t.Run("send after close", func(t *testing.T) {
		tr := open(t, memengine.NewFactory(nil))
		require.NoError(t, tr.Close())
		err := tr.Send(ipc.Request{Type: ipc.KindInit, RequestID: 1})
		require.ErrorIs(t, err, transport.ErrClosed)
		require.NoError(t, tr.Close())
	})

	t.Run("concurrent senders", func(t *testing.T) {
		tr := open(t, memengine.NewFactory(nil))
		rec := Attach(tr)
		Send(t, tr, 1, ipc.KindInit, nil)
		rec.Wait(t, 1)

		var wg sync.WaitGroup
		for i := uint64(10); i < 30; i++ {
			wg.Add(1)
			go func(id uint64) {
				defer wg.Done()
				_ = tr.Send(ipc.Request{
					Type:      ipc.KindParseInviteCode,
					RequestID: id,
					Payload:   ipc.MustPayload(ipc.InviteCode{InviteCode: Invite}),
				})
			}(i)
		}
		wg.Wait()
		for i := uint64(10); i < 30; i++ {
			resps := rec.Wait(t, i)
			require.Equal(t, ipc.ResponseData, resps[0].Type)
		}
	})
}

// Background returns a context cancelled when t ends.
func Background(t *testing.T) context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return ctx
}
