// Package transport defines the message channel between the client and the
// wallet engine.
package transport

import (
	"errors"
	"sync"

	"github.com/rexliu/fedwallet/pkg/ipc"
)

// MessageHandler receives one raw engine message.
type MessageHandler func(msg []byte)

// ErrorHandler receives channel-level failures that belong to no request.
type ErrorHandler func(err error)

// Transport carries requests to the engine and raw responses back. Send is
// fire-and-forget. Messages are delivered to the handler one at a time.
type Transport interface {
	Send(req ipc.Request) error
	SetMessageHandler(h MessageHandler)
	SetErrorHandler(h ErrorHandler)
	Close() error
}

// ErrClosed is returned by Send after Close.
var ErrClosed = errors.New("transport closed")

// Handlers holds the registered callbacks. The last registration wins.
// Transports embed it.
type Handlers struct {
	mu        sync.RWMutex
	onMessage MessageHandler
	onError   ErrorHandler
}

func (h *Handlers) SetMessageHandler(fn MessageHandler) {
	h.mu.Lock()
	h.onMessage = fn
	h.mu.Unlock()
}

func (h *Handlers) SetErrorHandler(fn ErrorHandler) {
	h.mu.Lock()
	h.onError = fn
	h.mu.Unlock()
}

// Deliver passes msg to the message handler, if any.
func (h *Handlers) Deliver(msg []byte) {
	h.mu.RLock()
	fn := h.onMessage
	h.mu.RUnlock()
	if fn != nil {
		fn(msg)
	}
}

// Fail passes err to the error handler, if any.
func (h *Handlers) Fail(err error) {
	h.mu.RLock()
	fn := h.onError
	h.mu.RUnlock()
	if fn != nil {
		fn(err)
	}
}

// SyntheticError builds the error message a transport delivers in place of a
// response when it could not hand the request to the engine.
func SyntheticError(id uint64, err error) []byte {
	raw, _ := ipc.EncodeResponse(ipc.Response{
		Type:      ipc.ResponseError,
		RequestID: id,
		Error:     err.Error(),
	})
	return raw
}
