package wallet

import (
	"encoding/json"
	"errors"

	"github.com/rexliu/fedwallet/pkg/core"
	"github.com/rexliu/fedwallet/pkg/ipc"
	"github.com/rexliu/fedwallet/pkg/rpc"
)

// Update is one event of a typed subscription. Exactly one update of a
// stream has Done set; Err is non-nil only on that last update when the
// stream failed.
type Update[T any] struct {
	Value T
	Err   error
	Done  bool
}

// Handler receives the updates of a subscription in order.
type Handler[T any] func(Update[T])

// OperationState is an engine state machine value: a bare string for unit
// variants or a single-key object otherwise.
type OperationState json.RawMessage

// Tag returns the variant name.
func (s OperationState) Tag() string { return core.StateTag(json.RawMessage(s)) }

// Field decodes the body of the tag variant into v and reports whether s is
// that variant.
func (s OperationState) Field(tag string, v any) bool {
	return core.StateField(json.RawMessage(s), tag, v)
}

func (s OperationState) MarshalJSON() ([]byte, error) {
	if len(s) == 0 {
		return []byte("null"), nil
	}
	return s, nil
}

func (s *OperationState) UnmarshalJSON(data []byte) error {
	*s = append((*s)[:0], data...)
	return nil
}

// decodeFunc turns one data payload into a value.
type decodeFunc[T any] func(raw json.RawMessage) (T, error)

func decodeJSON[T any](raw json.RawMessage) (T, error) {
	var v T
	err := ipc.Unmarshal(raw, &v)
	return v, err
}

// subscribe opens a stream on module/method and adapts its events for h.
// Payloads that do not decode are logged and skipped.
func subscribe[T any](w *Wallet, recovery bool, module, method string,
	payload any, decode decodeFunc[T], h Handler[T]) (*rpc.Subscription, error) {

	if err := w.guard(recovery); err != nil {
		return nil, err
	}
	if decode == nil {
		decode = decodeJSON[T]
	}
	return w.client.RPCStream(w.name, module, method, payload, func(ev rpc.Event) {
		switch ev.Kind {
		case rpc.EventData:
			v, err := decode(ev.Data)
			if err != nil {
				log.Warnf("Wallet %s: dropping %s.%s update: %v", w.name,
					module, method, err)
				return
			}
			h(Update[T]{Value: v})
		case rpc.EventError:
			h(Update[T]{Err: ev.Err, Done: true})
		case rpc.EventEnd:
			h(Update[T]{Done: true})
		}
	})
}

func operationPayload(id string) map[string]string {
	return map[string]string{"operation_id": id}
}

// extraMeta defaults absent metadata to an empty object.
func extraMeta(meta json.RawMessage) json.RawMessage {
	if len(meta) == 0 {
		return json.RawMessage(`{}`)
	}
	return meta
}

// ErrStreamEnded is returned by waiters whose stream finished before the
// awaited state.
var ErrStreamEnded = errors.New("stream ended before the awaited state")
