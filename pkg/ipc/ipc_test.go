package ipc

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, []byte(`{"a":1}`)))
	require.NoError(t, WriteFrame(&buf, nil))

	got, err := ReadFrame(&buf)
	require.NoError(t, err)
	require.Equal(t, `{"a":1}`, string(got))

	got, err = ReadFrame(&buf)
	require.NoError(t, err)
	require.Empty(t, got)

	_, err = ReadFrame(&buf)
	require.ErrorIs(t, err, io.EOF)
}

func TestFrameRejectsOversize(t *testing.T) {
	var buf bytes.Buffer
	var header [4]byte
	binary.LittleEndian.PutUint32(header[:], MaxFrameSize+1)
	buf.Write(header[:])
	_, err := ReadFrame(&buf)
	require.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestFrameTruncated(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, []byte("hello")))
	truncated := bytes.NewReader(buf.Bytes()[:6])
	_, err := ReadFrame(truncated)
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestNativeFlattening(t *testing.T) {
	req := Request{
		Type:      KindClientRPC,
		RequestID: 7,
		Payload: MustPayload(ClientRPC{
			ClientName: "w1",
			Module:     "",
			Method:     "get_balance",
			Payload:    json.RawMessage(`{}`),
		}),
	}
	native, err := EncodeNative(req)
	require.NoError(t, err)

	var flat map[string]any
	require.NoError(t, json.Unmarshal(native, &flat))
	require.Equal(t, "client_rpc", flat["type"])
	require.EqualValues(t, 7, flat["request_id"])
	require.Equal(t, "get_balance", flat["method"])
	require.Equal(t, "w1", flat["client_name"])

	back, err := DecodeNative(native)
	require.NoError(t, err)
	require.Equal(t, req.Type, back.Type)
	require.Equal(t, req.RequestID, back.RequestID)

	var payload ClientRPC
	require.NoError(t, json.Unmarshal(back.Payload, &payload))
	require.Equal(t, "get_balance", payload.Method)
}

func TestNativeWithoutPayload(t *testing.T) {
	native, err := EncodeNative(Request{Type: KindGenerateMnemonic, RequestID: 3})
	require.NoError(t, err)
	back, err := DecodeNative(native)
	require.NoError(t, err)
	require.Equal(t, KindGenerateMnemonic, back.Type)
	require.Nil(t, back.Payload)
}

func TestNativeRejectsScalarPayload(t *testing.T) {
	_, err := EncodeNative(Request{Type: KindInit, RequestID: 1, Payload: json.RawMessage(`42`)})
	require.ErrorIs(t, err, ErrPayloadNotObject)
}

func TestDecodeResponseForms(t *testing.T) {
	flat, err := DecodeResponse([]byte(`{"type":"data","request_id":4,"data":12}`))
	require.NoError(t, err)
	require.Equal(t, ResponseData, flat.Type)
	require.Equal(t, uint64(4), flat.RequestID)
	require.JSONEq(t, `12`, string(flat.Data))
	require.False(t, flat.Terminal())

	native, err := DecodeResponse([]byte(`{"request_id":4,"kind":{"type":"error","error":"boom"}}`))
	require.NoError(t, err)
	require.Equal(t, ResponseError, native.Type)
	require.Equal(t, "boom", native.Error)
	require.True(t, native.Terminal())

	logLine, err := DecodeResponse([]byte(`{"type":"log","level":"warn","message":"slow"}`))
	require.NoError(t, err)
	require.Equal(t, "slow", logLine.Message)
}

func TestDecodeResponseKeepsNullData(t *testing.T) {
	for _, raw := range []string{
		`{"type":"data","request_id":1,"data":null}`,
		`{"request_id":1,"kind":{"type":"data","data":null}}`,
		`{"request_id":1,"kind":{"type":"data"}}`,
	} {
		resp, err := DecodeResponse([]byte(raw))
		require.NoError(t, err, raw)
		require.Equal(t, "null", string(resp.Data), raw)
	}

	end, err := DecodeResponse([]byte(`{"type":"end","request_id":1}`))
	require.NoError(t, err)
	require.Empty(t, end.Data)
}

func TestDecodeResponseMalformed(t *testing.T) {
	for _, raw := range []string{`not json`, `{"request_id":1}`, `{"type":"bogus","request_id":1}`} {
		_, err := DecodeResponse([]byte(raw))
		require.True(t, errors.Is(err, ErrMalformed), raw)
	}
}

func TestEmitterWritesNative(t *testing.T) {
	var got [][]byte
	e := Emitter{ID: 9, Emit: func(b []byte) { got = append(got, b) }}
	e.Data(map[string]int{"n": 1})
	e.Aborted()
	require.Len(t, got, 2)

	first, err := DecodeResponse(got[0])
	require.NoError(t, err)
	require.Equal(t, uint64(9), first.RequestID)
	require.JSONEq(t, `{"n":1}`, string(first.Data))

	second, err := DecodeResponse(got[1])
	require.NoError(t, err)
	require.Equal(t, ResponseAborted, second.Type)
}

func TestKindValid(t *testing.T) {
	require.True(t, KindCancelRPC.Valid())
	require.False(t, Kind("drop_tables").Valid())
}
