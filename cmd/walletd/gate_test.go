package main

import (
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/btcsuite/btclog"
	"github.com/stretchr/testify/require"
)

func TestGateAdmitsOneSocketClient(t *testing.T) {
	ln, err := net.Listen("unix", filepath.Join(t.TempDir(), "g.sock"))
	require.NoError(t, err)
	gl := &gatedListener{Listener: ln, gate: newGate(), log: btclog.Disabled}
	defer gl.Close()

	accepted := make(chan net.Conn, 2)
	go func() {
		for {
			conn, err := gl.Accept()
			if err != nil {
				return
			}
			accepted <- conn
		}
	}()

	first, err := net.Dial("unix", ln.Addr().String())
	require.NoError(t, err)
	defer first.Close()
	owner := <-accepted

	// The second client is hung up on.
	second, err := net.Dial("unix", ln.Addr().String())
	require.NoError(t, err)
	second.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, err = second.Read(make([]byte, 1))
	require.Error(t, err)
	require.NoError(t, second.Close())

	// Once the owner leaves the next client is admitted.
	require.NoError(t, owner.Close())
	require.NoError(t, owner.Close())
	third, err := net.Dial("unix", ln.Addr().String())
	require.NoError(t, err)
	defer third.Close()
	select {
	case conn := <-accepted:
		conn.Close()
	case <-time.After(5 * time.Second):
		t.Fatal("third client not admitted")
	}
}

func TestGateRefusesBusyWebsocket(t *testing.T) {
	g := newGate()
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	h := g.guard(ok, btclog.Disabled)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusNoContent, rec.Code)

	require.True(t, g.tryAcquire())
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	g.release()
}
