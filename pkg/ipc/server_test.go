package ipc

import (
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

// echoHandler answers every request with its own type as data, then end.
var echoHandler = HandlerFunc(func(request []byte, emit func([]byte)) {
	req, err := DecodeNative(request)
	if err != nil {
		return
	}
	e := Emitter{ID: req.RequestID, Emit: emit}
	e.Data(req.Type)
	e.End()
})

func TestServerUnixSocket(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	path := filepath.Join(t.TempDir(), "h.sock")
	metrics := NewServerMetrics(prometheus.NewRegistry())
	srv := NewServer(echoHandler, nil, func() string { return "t" }, metrics)
	require.NoError(t, srv.Start(ctx, path))
	t.Cleanup(func() { srv.Stop() })

	conn, err := net.Dial("unix", path)
	require.NoError(t, err)
	defer conn.Close()

	native, err := EncodeNative(Request{Type: KindGetMnemonic, RequestID: 11})
	require.NoError(t, err)
	require.NoError(t, WriteFrame(conn, native))

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	first, err := ReadFrame(conn)
	require.NoError(t, err)
	resp, err := DecodeResponse(first)
	require.NoError(t, err)
	require.Equal(t, uint64(11), resp.RequestID)
	require.JSONEq(t, `"get_mnemonic"`, string(resp.Data))

	second, err := ReadFrame(conn)
	require.NoError(t, err)
	resp, err = DecodeResponse(second)
	require.NoError(t, err)
	require.Equal(t, ResponseEnd, resp.Type)

	require.Equal(t, float64(1), testutil.ToFloat64(metrics.FramesIn))
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(metrics.FramesOut) == 2
	}, 5*time.Second, 10*time.Millisecond)
}

func TestServerStopClosesConnections(t *testing.T) {
	srv := NewServer(echoHandler, nil, nil, nil)
	client, server := net.Pipe()
	srv.ServeConn(server)

	require.NoError(t, srv.Stop())
	client.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, err := ReadFrame(client)
	require.Error(t, err)
}

func TestServerWaitReturnsWhenPeerHangsUp(t *testing.T) {
	srv := NewServer(echoHandler, nil, nil, nil)
	client, server := net.Pipe()
	srv.ServeConn(server)

	done := make(chan error, 1)
	go func() { done <- srv.Wait() }()

	require.NoError(t, client.Close())
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Wait did not return after hang up")
	}
}
