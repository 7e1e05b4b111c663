// Package engine defines the contract of the wallet engine that sits behind a
// transport and the host that owns its lifecycle.
package engine

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/rexliu/fedwallet/pkg/ipc"
)

// Engine consumes native requests and emits native responses. Emit may be
// called from any goroutine, any number of times, until a terminal response
// for the request id has been emitted.
type Engine interface {
	RPC(request []byte, emit func(response []byte))
	Close() error
}

// Factory opens an engine. It receives the payload of the init request.
type Factory func(init json.RawMessage) (Engine, error)

// ErrNotInitialized is reported for traffic that arrives before init.
var ErrNotInitialized = errors.New("engine not initialized: send init first")

// Host answers the init handshake, rejects traffic before it and forwards
// everything else to the engine. A Host is safe for concurrent use.
type Host struct {
	factory Factory

	mu  sync.Mutex
	eng Engine
}

// NewHost returns a host that opens engines with factory.
func NewHost(factory Factory) *Host {
	return &Host{factory: factory}
}

// Initialized reports whether init has succeeded.
func (h *Host) Initialized() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.eng != nil
}

// Handle serves one native request.
func (h *Host) Handle(native []byte, emit func([]byte)) {
	req, err := ipc.DecodeNative(native)
	if err != nil {
		// Without an id the failure cannot be correlated; report on id 0.
		ipc.Emitter{Emit: emit}.Error(err)
		return
	}
	out := ipc.Emitter{ID: req.RequestID, Emit: emit}

	switch req.Type {
	case ipc.KindInit:
		if err := h.init(req.Payload); err != nil {
			out.Error(err)
			return
		}
		out.End()
		return
	case ipc.KindCleanup:
		if err := h.Close(); err != nil {
			out.Error(err)
			return
		}
		out.End()
		return
	}

	h.mu.Lock()
	eng := h.eng
	h.mu.Unlock()
	if eng == nil {
		out.Error(ErrNotInitialized)
		return
	}
	eng.RPC(native, emit)
}

func (h *Host) init(payload json.RawMessage) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.eng != nil {
		return nil
	}
	eng, err := h.factory(payload)
	if err != nil {
		return fmt.Errorf("open engine: %w", err)
	}
	h.eng = eng
	return nil
}

// Close shuts the engine down. A later init opens a fresh one.
func (h *Host) Close() error {
	h.mu.Lock()
	eng := h.eng
	h.eng = nil
	h.mu.Unlock()
	if eng == nil {
		return nil
	}
	return eng.Close()
}
