package memengine

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rexliu/fedwallet/pkg/core"
	"github.com/rexliu/fedwallet/pkg/storage"
)

// clientState is what the engine persists per client name.
type clientState struct {
	FederationID string                `json:"federation_id"`
	InviteCode   string                `json:"invite_code"`
	Balance      core.MSats            `json:"balance_msats"`
	Recovering   bool                  `json:"recovering"`
	Seq          uint64                `json:"seq"`
	Order        []string              `json:"order"`
	Operations   map[string]*operation `json:"operations"`
	Receives     map[string]receive    `json:"receives"`
	Backup       json.RawMessage       `json:"backup,omitempty"`
}

type receive struct {
	Invoice string     `json:"invoice"`
	Amount  core.MSats `json:"amount"`
	Claimed bool       `json:"claimed"`
}

// operation is a logged operation plus the engine's bookkeeping for it.
type operation struct {
	Module    string            `json:"module"`
	Created   core.CreationTime `json:"created"`
	Amount    core.MSats        `json:"amount"`
	Variant   json.RawMessage   `json:"variant"`
	ExtraMeta json.RawMessage   `json:"extra_meta,omitempty"`
	Outcome   json.RawMessage   `json:"outcome,omitempty"`
	States    []json.RawMessage `json:"states"`
}

func (st *clientState) init() {
	if st.Operations == nil {
		st.Operations = make(map[string]*operation)
	}
	if st.Receives == nil {
		st.Receives = make(map[string]receive)
	}
}

// record appends a new operation and returns its id.
func (c *client) record(module string, amount core.MSats, variant any, extra json.RawMessage) (string, *operation) {
	c.state.Seq++
	id := operationID(c.name, c.state.Seq)
	now := time.Now()
	rawVariant, _ := wire.Marshal(variant)
	op := &operation{
		Module: module,
		Created: core.CreationTime{
			SecsSinceEpoch:  uint64(now.Unix()),
			NanosSinceEpoch: uint64(now.Nanosecond()),
		},
		Amount:    amount,
		Variant:   rawVariant,
		ExtraMeta: extra,
	}
	c.state.Operations[id] = op
	c.state.Order = append(c.state.Order, id)
	return id, op
}

// advance appends a state to op and makes it the current outcome.
func (op *operation) advance(state any) {
	raw, _ := wire.Marshal(state)
	op.States = append(op.States, raw)
	op.Outcome = raw
}

func (e *Engine) generateMnemonic() ([]string, error) {
	if words, err := e.getMnemonic(); err == nil {
		return words, nil
	}
	words, err := randomWords(12)
	if err != nil {
		return nil, err
	}
	return words, e.setMnemonic(words)
}

func (e *Engine) setMnemonic(words []string) error {
	if err := core.ValidateMnemonic(words); err != nil {
		return err
	}
	raw, err := wire.Marshal(words)
	if err != nil {
		return err
	}
	return e.store.Put(context.Background(), mnemonicKey, raw)
}

func (e *Engine) getMnemonic() ([]string, error) {
	raw, err := e.store.Get(context.Background(), mnemonicKey)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, errNoMnemonic
	}
	if err != nil {
		return nil, err
	}
	var words []string
	if err := wire.Unmarshal(raw, &words); err != nil {
		return nil, err
	}
	return words, nil
}
