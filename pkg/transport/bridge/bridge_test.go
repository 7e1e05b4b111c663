package bridge

import (
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rexliu/fedwallet/pkg/engine"
	"github.com/rexliu/fedwallet/pkg/engine/memengine"
	"github.com/rexliu/fedwallet/pkg/ipc"
	"github.com/rexliu/fedwallet/pkg/transport"
	"github.com/rexliu/fedwallet/pkg/transport/transporttest"
)

func TestBridgeContractOverPipe(t *testing.T) {
	transporttest.Run(t, func(t *testing.T, f engine.Factory) transport.Transport {
		srv := ipc.NewServer(engine.NewHost(f), nil, nil, nil)
		client, server := net.Pipe()
		srv.ServeConn(server)
		tr := New(client)
		t.Cleanup(func() {
			tr.Close()
			srv.Stop()
		})
		return tr
	})
}

func TestBridgeDialUnixSocket(t *testing.T) {
	ctx := transporttest.Background(t)
	path := filepath.Join(t.TempDir(), "engine.sock")
	srv := ipc.NewServer(engine.NewHost(memengine.NewFactory(nil)), nil, nil, nil)
	require.NoError(t, srv.Start(ctx, path))
	t.Cleanup(func() { srv.Stop() })

	tr, err := Dial(ctx, "unix", path)
	require.NoError(t, err)
	t.Cleanup(func() { tr.Close() })

	rec := transporttest.Attach(tr)
	transporttest.Send(t, tr, 9, ipc.KindGetMnemonic, nil)
	resps := rec.Wait(t, 9)
	require.Equal(t, engine.ErrNotInitialized.Error(), resps[0].Error)
}

func TestBridgeDialFailure(t *testing.T) {
	ctx := transporttest.Background(t)
	_, err := Dial(ctx, "unix", filepath.Join(t.TempDir(), "missing.sock"))
	require.ErrorIs(t, err, ErrUnavailable)
}

func TestBridgePeerHangup(t *testing.T) {
	client, server := net.Pipe()
	tr := New(client)
	t.Cleanup(func() { tr.Close() })
	rec := transporttest.Attach(tr)

	require.NoError(t, server.Close())
	require.Eventually(t, func() bool { return len(rec.Errors()) == 1 }, 2*time.Second, 5*time.Millisecond)
	require.ErrorIs(t, rec.Errors()[0], ErrUnavailable)

	err := tr.Send(ipc.Request{Type: ipc.KindInit, RequestID: 1})
	require.ErrorIs(t, err, ErrUnavailable)
}
