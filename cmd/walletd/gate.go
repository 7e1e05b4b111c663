package main

import (
	"net"
	"net/http"
	"sync"

	"github.com/btcsuite/btclog"
)

// gate admits one engine client at a time. Request ids are chosen by the
// client, so two clients on one engine would collide.
type gate struct {
	slot chan struct{}
}

func newGate() *gate {
	return &gate{slot: make(chan struct{}, 1)}
}

func (g *gate) tryAcquire() bool {
	select {
	case g.slot <- struct{}{}:
		return true
	default:
		return false
	}
}

func (g *gate) release() { <-g.slot }

// guard refuses websocket clients while another client owns the engine.
func (g *gate) guard(h http.Handler, log btclog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !g.tryAcquire() {
			log.Warnf("Refusing websocket client %s: engine busy", r.RemoteAddr)
			http.Error(w, "engine busy", http.StatusServiceUnavailable)
			return
		}
		defer g.release()
		h.ServeHTTP(w, r)
	})
}

// gatedListener closes connections that arrive while the gate is held.
type gatedListener struct {
	net.Listener
	gate *gate
	log  btclog.Logger
}

func (l *gatedListener) Accept() (net.Conn, error) {
	for {
		conn, err := l.Listener.Accept()
		if err != nil {
			return nil, err
		}
		if l.gate.tryAcquire() {
			return &ownedConn{Conn: conn, release: l.gate.release}, nil
		}
		l.log.Warnf("Refusing socket client: engine busy")
		conn.Close()
	}
}

type ownedConn struct {
	net.Conn
	release func()
	once    sync.Once
}

// Close closes the connection and frees the gate. Later calls are no-ops.
func (c *ownedConn) Close() error {
	var err error
	c.once.Do(func() {
		err = c.Conn.Close()
		c.release()
	})
	return err
}
