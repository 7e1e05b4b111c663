package engine

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rexliu/fedwallet/pkg/ipc"
)

type echoEngine struct {
	closed int
}

func (e *echoEngine) RPC(request []byte, emit func([]byte)) {
	req, _ := ipc.DecodeNative(request)
	out := ipc.Emitter{ID: req.RequestID, Emit: emit}
	out.Data(req.Type)
	out.End()
}

func (e *echoEngine) Close() error {
	e.closed++
	return nil
}

func handle(t *testing.T, h *Host, kind ipc.Kind, id uint64) []ipc.Response {
	t.Helper()
	native, err := ipc.EncodeNative(ipc.Request{Type: kind, RequestID: id})
	require.NoError(t, err)
	var out []ipc.Response
	h.Handle(native, func(msg []byte) {
		resp, err := ipc.DecodeResponse(msg)
		require.NoError(t, err)
		out = append(out, resp)
	})
	return out
}

func TestHostRequiresInit(t *testing.T) {
	eng := &echoEngine{}
	opened := 0
	h := NewHost(func(json.RawMessage) (Engine, error) {
		opened++
		return eng, nil
	})

	resps := handle(t, h, ipc.KindGetMnemonic, 1)
	require.Len(t, resps, 1)
	require.Equal(t, ipc.ResponseError, resps[0].Type)
	require.Equal(t, ErrNotInitialized.Error(), resps[0].Error)
	require.False(t, h.Initialized())

	resps = handle(t, h, ipc.KindInit, 2)
	require.Equal(t, []ipc.Response{{Type: ipc.ResponseEnd, RequestID: 2}}, resps)
	require.True(t, h.Initialized())

	// A second init keeps the running engine.
	handle(t, h, ipc.KindInit, 3)
	require.Equal(t, 1, opened)

	resps = handle(t, h, ipc.KindGetMnemonic, 4)
	require.Len(t, resps, 2)
	require.JSONEq(t, `"get_mnemonic"`, string(resps[0].Data))

	resps = handle(t, h, ipc.KindCleanup, 5)
	require.Equal(t, ipc.ResponseEnd, resps[0].Type)
	require.Equal(t, 1, eng.closed)
	require.False(t, h.Initialized())
}

func TestHostInitFailure(t *testing.T) {
	h := NewHost(func(json.RawMessage) (Engine, error) {
		return nil, errors.New("disk on fire")
	})
	resps := handle(t, h, ipc.KindInit, 1)
	require.Len(t, resps, 1)
	require.Equal(t, ipc.ResponseError, resps[0].Type)
	require.Contains(t, resps[0].Error, "disk on fire")
	require.False(t, h.Initialized())
}

func TestHostMalformedRequest(t *testing.T) {
	h := NewHost(func(json.RawMessage) (Engine, error) { return &echoEngine{}, nil })
	var out []ipc.Response
	h.Handle([]byte(`not json`), func(msg []byte) {
		resp, err := ipc.DecodeResponse(msg)
		require.NoError(t, err)
		out = append(out, resp)
	})
	require.Len(t, out, 1)
	require.Equal(t, ipc.ResponseError, out[0].Type)
}
