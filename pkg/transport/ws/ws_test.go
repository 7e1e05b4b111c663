package ws

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/rexliu/fedwallet/pkg/engine"
	"github.com/rexliu/fedwallet/pkg/engine/memengine"
	"github.com/rexliu/fedwallet/pkg/ipc"
	"github.com/rexliu/fedwallet/pkg/transport"
	"github.com/rexliu/fedwallet/pkg/transport/transporttest"
)

func serve(t *testing.T, f engine.Factory) *httptest.Server {
	srv := httptest.NewServer(NewHandler(engine.NewHost(f), nil))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestWebsocketContract(t *testing.T) {
	transporttest.Run(t, func(t *testing.T, f engine.Factory) transport.Transport {
		srv := serve(t, f)
		tr, err := Dial(transporttest.Background(t), wsURL(srv))
		require.NoError(t, err)
		t.Cleanup(func() { tr.Close() })
		return tr
	})
}

func TestWebsocketServerGone(t *testing.T) {
	hangup := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var up websocket.Upgrader
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		<-hangup
		conn.Close()
	}))
	t.Cleanup(srv.Close)

	tr, err := Dial(transporttest.Background(t), wsURL(srv))
	require.NoError(t, err)
	t.Cleanup(func() { tr.Close() })
	rec := transporttest.Attach(tr)

	close(hangup)
	require.Eventually(t, func() bool { return len(rec.Errors()) > 0 }, 2*time.Second, 5*time.Millisecond)
	require.ErrorIs(t, rec.Errors()[0], ErrUnavailable)

	err = tr.Send(ipc.Request{Type: ipc.KindInit, RequestID: 1})
	require.ErrorIs(t, err, ErrUnavailable)
}

func TestWebsocketRejectsPlainHTTP(t *testing.T) {
	srv := serve(t, memengine.NewFactory(nil))
	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
