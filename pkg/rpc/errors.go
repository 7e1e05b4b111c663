package rpc

import (
	"context"
	"errors"
	"fmt"

	"github.com/rexliu/fedwallet/pkg/ipc"
	"github.com/rexliu/fedwallet/pkg/storage"
	"github.com/rexliu/fedwallet/pkg/transport"
)

var (
	// ErrPrecondition is wrapped by every error raised before anything is
	// sent because the caller is in the wrong state.
	ErrPrecondition = errors.New("precondition failed")

	ErrWalletNotOpen     = fmt.Errorf("%w: wallet is not open", ErrPrecondition)
	ErrNotInitialized    = fmt.Errorf("%w: rpc client not initialized", ErrPrecondition)
	ErrClientClosed      = errors.New("rpc client closed")
	ErrMalformedResponse = errors.New("malformed engine response")
)

// RPCError is an error reported by the engine for a request.
type RPCError struct {
	Message string
}

func (e *RPCError) Error() string { return e.Message }

// TransportError wraps a failure of the channel to the engine.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string { return "transport: " + e.Err.Error() }

func (e *TransportError) Unwrap() error { return e.Err }

// Class is the coarse category of an error, used by callers to decide how to
// react to it.
type Class int

const (
	ClassUnknown Class = iota
	// ClassPrecondition: the call was refused locally and nothing was sent.
	ClassPrecondition
	// ClassTransport: the channel to the engine failed or was closed.
	ClassTransport
	// ClassRPC: the engine answered with an error.
	ClassRPC
	// ClassProtocol: a message could not be understood.
	ClassProtocol
	// ClassStorage: the pointer store failed.
	ClassStorage
)

func (c Class) String() string {
	switch c {
	case ClassPrecondition:
		return "precondition"
	case ClassTransport:
		return "transport"
	case ClassRPC:
		return "rpc"
	case ClassProtocol:
		return "protocol"
	case ClassStorage:
		return "storage"
	default:
		return "unknown"
	}
}

// Classify returns the class of err.
func Classify(err error) Class {
	if err == nil {
		return ClassUnknown
	}

	var rpcErr *RPCError
	var trErr *TransportError
	switch {
	case errors.Is(err, ErrPrecondition):
		return ClassPrecondition
	case errors.As(err, &rpcErr):
		return ClassRPC
	case errors.As(err, &trErr),
		errors.Is(err, ErrClientClosed),
		errors.Is(err, transport.ErrClosed),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return ClassTransport
	case errors.Is(err, ErrMalformedResponse),
		errors.Is(err, ipc.ErrMalformed),
		errors.Is(err, ipc.ErrPayloadNotObject):
		return ClassProtocol
	case errors.Is(err, storage.ErrNotFound),
		errors.Is(err, storage.ErrQuotaExceeded),
		errors.Is(err, storage.ErrClosed):
		return ClassStorage
	}
	return ClassUnknown
}
