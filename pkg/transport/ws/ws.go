// Package ws carries native engine messages over a websocket, one text
// message per request or response.
package ws

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/lightningnetwork/lnd/fn/v2"

	"github.com/rexliu/fedwallet/pkg/ipc"
	"github.com/rexliu/fedwallet/pkg/transport"
)

// ErrUnavailable wraps websocket failures.
var ErrUnavailable = errors.New("engine websocket unavailable")

// Transport is the client side of a websocket to an engine host.
type Transport struct {
	transport.Handlers

	conn    *websocket.Conn
	writeMu sync.Mutex
	out     *transport.Queue
	gm      *fn.GoroutineManager

	mu     sync.Mutex
	closed bool
	broken error
}

var _ transport.Transport = (*Transport)(nil)

// Dial opens a websocket to url.
func Dial(ctx context.Context, url string) (*Transport, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", ErrUnavailable, url, err)
	}
	t := &Transport{conn: conn, gm: fn.NewGoroutineManager()}
	t.out = transport.NewQueue(t.Deliver)
	t.gm.Go(context.Background(), t.readLoop)
	return t, nil
}

func (t *Transport) readLoop(ctx context.Context) {
	for {
		_, msg, err := t.conn.ReadMessage()
		if err != nil {
			t.mu.Lock()
			closed := t.closed
			if !closed {
				t.broken = fmt.Errorf("%w: %v", ErrUnavailable, err)
			}
			broken := t.broken
			t.mu.Unlock()
			if !closed && ctx.Err() == nil {
				t.out.Close(true)
				t.Fail(broken)
			}
			return
		}
		t.out.Push(msg)
	}
}

func (t *Transport) Send(req ipc.Request) error {
	t.mu.Lock()
	closed, broken := t.closed, t.broken
	t.mu.Unlock()
	if closed {
		return transport.ErrClosed
	}
	if broken != nil {
		return broken
	}
	native, err := ipc.EncodeNative(req)
	if err != nil {
		return err
	}
	t.writeMu.Lock()
	err = t.conn.WriteMessage(websocket.TextMessage, native)
	t.writeMu.Unlock()
	if err != nil {
		failure := fmt.Errorf("%w: %v", ErrUnavailable, err)
		if !t.out.Push(transport.SyntheticError(req.RequestID, failure)) {
			return failure
		}
	}
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

	t.writeMu.Lock()
	_ = t.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	t.writeMu.Unlock()
	err := t.conn.Close()
	t.gm.Stop()
	t.out.Close(false)
	return err
}

// Logger is the subset of btclog.Logger the server side uses.
type Logger interface {
	Debugf(format string, params ...any)
}

// Handler upgrades HTTP requests and serves each websocket with h.
type Handler struct {
	h        ipc.Handler
	logger   Logger
	upgrader *websocket.Upgrader
}

// NewHandler returns an http.Handler serving engine traffic. logger may be nil.
func NewHandler(h ipc.Handler, logger Logger) *Handler {
	return &Handler{
		h:      h,
		logger: logger,
		upgrader: &websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

func (s *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !websocket.IsWebSocketUpgrade(r) {
		http.Error(w, "websocket upgrade required", http.StatusBadRequest)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.debugf("upgrade: %v", err)
		return
	}
	defer conn.Close()

	var writeMu sync.Mutex
	emit := func(msg []byte) {
		writeMu.Lock()
		defer writeMu.Unlock()
		if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			s.debugf("write: %v", err)
		}
	}
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.debugf("read: %v", err)
			}
			return
		}
		s.h.Handle(msg, emit)
	}
}

func (s *Handler) debugf(format string, v ...any) {
	if s.logger != nil {
		s.logger.Debugf(format, v...)
	}
}
