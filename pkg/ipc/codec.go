package ipc

import (
	"encoding/json"
	"errors"
	"fmt"

	jsoniter "github.com/json-iterator/go"
)

var wire = jsoniter.ConfigCompatibleWithStandardLibrary

var (
	// ErrMalformed indicates a message that does not decode into a known shape.
	ErrMalformed = errors.New("malformed message")
	// ErrPayloadNotObject indicates a payload that cannot be flattened.
	ErrPayloadNotObject = errors.New("payload is not a json object")
)

// Marshal encodes v with the wire configuration.
func Marshal(v any) ([]byte, error) {
	return wire.Marshal(v)
}

// Unmarshal decodes data with the wire configuration.
func Unmarshal(data []byte, v any) error {
	return wire.Unmarshal(data, v)
}

// MustPayload marshals v and panics on failure. Intended for static payloads.
func MustPayload(v any) json.RawMessage {
	raw, err := wire.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("ipc: marshal payload: %v", err))
	}
	return raw
}

// EncodeNative flattens req into the object the engine consumes:
// payload fields merged at the top level next to request_id and type.
func EncodeNative(req Request) ([]byte, error) {
	fields := make(map[string]json.RawMessage)
	if len(req.Payload) > 0 && string(req.Payload) != "null" {
		if err := wire.Unmarshal(req.Payload, &fields); err != nil {
			return nil, fmt.Errorf("%w: %s", ErrPayloadNotObject, req.Type)
		}
	}
	fields["type"] = MustPayload(req.Type)
	fields["request_id"] = MustPayload(req.RequestID)
	return wire.Marshal(fields)
}

// DecodeNative reverses EncodeNative.
func DecodeNative(data []byte) (Request, error) {
	var fields map[string]json.RawMessage
	if err := wire.Unmarshal(data, &fields); err != nil {
		return Request{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	var req Request
	rawType, ok := fields["type"]
	if !ok {
		return Request{}, fmt.Errorf("%w: missing type", ErrMalformed)
	}
	if err := wire.Unmarshal(rawType, &req.Type); err != nil {
		return Request{}, fmt.Errorf("%w: type: %v", ErrMalformed, err)
	}
	if rawID, ok := fields["request_id"]; ok {
		if err := wire.Unmarshal(rawID, &req.RequestID); err != nil {
			return Request{}, fmt.Errorf("%w: request_id: %v", ErrMalformed, err)
		}
	}
	delete(fields, "type")
	delete(fields, "request_id")
	if len(fields) > 0 {
		payload, err := wire.Marshal(fields)
		if err != nil {
			return Request{}, err
		}
		req.Payload = payload
	}
	return req, nil
}

// EncodeResponse encodes resp for the wire.
func EncodeResponse(resp Response) ([]byte, error) {
	return wire.Marshal(resp)
}

// nativeResponse is the engine's own response encoding, the tag nested under
// kind.
type nativeResponse struct {
	RequestID uint64     `json:"request_id"`
	Kind      nativeKind `json:"kind"`
}

type nativeKind struct {
	Type  ResponseType    `json:"type"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error string          `json:"error,omitempty"`
}

// EncodeNativeResponse encodes resp the way the engine emits it. Log lines
// have no native form and stay flat.
func EncodeNativeResponse(resp Response) ([]byte, error) {
	if resp.Type == ResponseLog {
		return wire.Marshal(resp)
	}
	return wire.Marshal(nativeResponse{
		RequestID: resp.RequestID,
		Kind:      nativeKind{Type: resp.Type, Data: resp.Data, Error: resp.Error},
	})
}

// DecodeResponse parses a raw engine message in either the flat or the
// native encoding and checks its tag.
func DecodeResponse(data []byte) (Response, error) {
	var msg struct {
		Response
		Kind *nativeKind `json:"kind"`
	}
	if err := wire.Unmarshal(data, &msg); err != nil {
		return Response{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	resp := msg.Response
	if msg.Kind != nil {
		resp.Type = msg.Kind.Type
		resp.Data = msg.Kind.Data
		resp.Error = msg.Kind.Error
	}
	// jsoniter decodes a null RawMessage to nothing; keep it a JSON value.
	if resp.Type == ResponseData && len(resp.Data) == 0 {
		resp.Data = json.RawMessage("null")
	}
	switch resp.Type {
	case ResponseData, ResponseError, ResponseEnd, ResponseAborted, ResponseLog:
		return resp, nil
	case "":
		return Response{}, fmt.Errorf("%w: missing type", ErrMalformed)
	default:
		return Response{}, fmt.Errorf("%w: unknown type %q", ErrMalformed, resp.Type)
	}
}

// Emitter builds responses for one request id.
type Emitter struct {
	ID   uint64
	Emit func([]byte)
}

// Data emits a data response carrying v.
func (e Emitter) Data(v any) {
	raw, err := wire.Marshal(v)
	if err != nil {
		e.Error(fmt.Errorf("encode result: %w", err))
		return
	}
	e.send(Response{Type: ResponseData, RequestID: e.ID, Data: raw})
}

// Error emits a terminal error response.
func (e Emitter) Error(err error) {
	e.send(Response{Type: ResponseError, RequestID: e.ID, Error: err.Error()})
}

// End emits a terminal end response.
func (e Emitter) End() {
	e.send(Response{Type: ResponseEnd, RequestID: e.ID})
}

// Aborted emits a terminal aborted response.
func (e Emitter) Aborted() {
	e.send(Response{Type: ResponseAborted, RequestID: e.ID})
}

// Log emits an out-of-band log line.
func (e Emitter) Log(level, message string) {
	e.send(Response{Type: ResponseLog, RequestID: e.ID, Level: level, Message: message})
}

func (e Emitter) send(resp Response) {
	raw, err := EncodeNativeResponse(resp)
	if err != nil {
		return
	}
	e.Emit(raw)
}
