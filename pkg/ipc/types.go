package ipc

import "encoding/json"

// Kind names a request understood by the engine.
type Kind string

const (
	KindInit               Kind = "init"
	KindOpenClient         Kind = "open_client"
	KindCloseClient        Kind = "close_client"
	KindJoinFederation     Kind = "join_federation"
	KindClientRPC          Kind = "client_rpc"
	KindCancelRPC          Kind = "cancel_rpc"
	KindParseInviteCode    Kind = "parse_invite_code"
	KindParseBolt11Invoice Kind = "parse_bolt11_invoice"
	KindPreviewFederation  Kind = "preview_federation"
	KindGenerateMnemonic   Kind = "generate_mnemonic"
	KindSetMnemonic        Kind = "set_mnemonic"
	KindGetMnemonic        Kind = "get_mnemonic"
	KindCleanup            Kind = "cleanup"
)

var knownKinds = map[Kind]struct{}{
	KindInit: {}, KindOpenClient: {}, KindCloseClient: {},
	KindJoinFederation: {}, KindClientRPC: {}, KindCancelRPC: {},
	KindParseInviteCode: {}, KindParseBolt11Invoice: {},
	KindPreviewFederation: {}, KindGenerateMnemonic: {},
	KindSetMnemonic: {}, KindGetMnemonic: {}, KindCleanup: {},
}

// Valid reports whether k is part of the closed request set.
func (k Kind) Valid() bool {
	_, ok := knownKinds[k]
	return ok
}

// Request is the envelope handed to a transport.
type Request struct {
	Type      Kind            `json:"type"`
	RequestID uint64          `json:"requestId"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// ResponseType tags a message coming back from the engine.
type ResponseType string

const (
	ResponseData    ResponseType = "data"
	ResponseError   ResponseType = "error"
	ResponseEnd     ResponseType = "end"
	ResponseAborted ResponseType = "aborted"
	ResponseLog     ResponseType = "log"
)

// Response is a single message emitted by the engine for a request id.
type Response struct {
	Type      ResponseType    `json:"type"`
	RequestID uint64          `json:"request_id"`
	Data      json.RawMessage `json:"data,omitempty"`
	Error     string          `json:"error,omitempty"`
	Level     string          `json:"level,omitempty"`
	Message   string          `json:"message,omitempty"`
}

// Terminal reports whether no further responses follow for the id.
func (r Response) Terminal() bool {
	switch r.Type {
	case ResponseError, ResponseEnd, ResponseAborted:
		return true
	}
	return false
}

// ClientRPC addresses a module method on an open client.
type ClientRPC struct {
	ClientName string          `json:"client_name"`
	Module     string          `json:"module"`
	Method     string          `json:"method"`
	Payload    json.RawMessage `json:"payload"`
}

// Cancel asks the engine to stop the stream started by CancelRequestID.
type Cancel struct {
	CancelRequestID uint64 `json:"cancel_request_id"`
}

// ClientName is the payload of open_client and close_client.
type ClientName struct {
	ClientName string `json:"client_name"`
}

// Join is the payload of join_federation.
type Join struct {
	InviteCode   string `json:"invite_code"`
	ClientName   string `json:"client_name"`
	ForceRecover bool   `json:"force_recover"`
}

// InviteCode is the payload of parse_invite_code and preview_federation.
type InviteCode struct {
	InviteCode string `json:"invite_code"`
}

// Invoice is the payload of parse_bolt11_invoice.
type Invoice struct {
	Invoice string `json:"invoice"`
}

// Mnemonic is the payload of set_mnemonic.
type Mnemonic struct {
	Words []string `json:"words"`
}
