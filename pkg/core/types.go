// Package core holds wallet-domain value types shared by the client packages.
package core

import (
	"encoding/json"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var wire = jsoniter.ConfigCompatibleWithStandardLibrary

// MSats is an amount in millisatoshis.
type MSats uint64

// Sats is an amount in satoshis.
type Sats uint64

// Duration is the engine's duration encoding.
type Duration struct {
	Nanos uint32 `json:"nanos"`
	Secs  uint64 `json:"secs"`
}

// DurationOf converts d into the engine encoding.
func DurationOf(d time.Duration) Duration {
	if d < 0 {
		d = 0
	}
	return Duration{
		Secs:  uint64(d / time.Second),
		Nanos: uint32(d % time.Second),
	}
}

// Std converts back into a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d.Secs)*time.Second + time.Duration(d.Nanos)
}

// ParsedInviteCode is the result of parse_invite_code.
type ParsedInviteCode struct {
	FederationID string `json:"federation_id"`
	URL          string `json:"url"`
}

// PreviewFederation is the result of preview_federation.
type PreviewFederation struct {
	Config       string `json:"config"`
	FederationID string `json:"federation_id"`
}

// ParsedBolt11Invoice is the result of parse_bolt11_invoice. Amount is in
// satoshis.
type ParsedBolt11Invoice struct {
	Amount Sats   `json:"amount"`
	Expiry uint64 `json:"expiry"`
	Memo   string `json:"memo"`
}

// GatewayInfo describes a lightning gateway registered with a federation.
type GatewayInfo struct {
	GatewayID       string            `json:"gateway_id"`
	API             string            `json:"api"`
	NodePubKey      string            `json:"node_pub_key"`
	FederationIndex uint64            `json:"federation_index"`
	RouteHints      []json.RawMessage `json:"route_hints"`
	Fees            json.RawMessage   `json:"fees"`
}

// LightningGateway is a gateway announcement.
type LightningGateway struct {
	Info   GatewayInfo `json:"info"`
	Vetted bool        `json:"vetted"`
	TTL    Duration    `json:"ttl"`
}

// CreateBolt11Response is the result of create_bolt11_invoice.
type CreateBolt11Response struct {
	OperationID string `json:"operation_id"`
	Invoice     string `json:"invoice"`
}

// OutgoingLightningPayment is the result of pay_bolt11_invoice.
type OutgoingLightningPayment struct {
	PaymentType json.RawMessage `json:"payment_type"`
	ContractID  string          `json:"contract_id"`
	Fee         MSats           `json:"fee"`
}

// BtcOutPoint references a bitcoin transaction output.
type BtcOutPoint struct {
	TxID string `json:"txid"`
	Vout uint32 `json:"vout"`
}

// TxOutputSummary is one output in a wallet summary.
type TxOutputSummary struct {
	OutPoint BtcOutPoint `json:"outpoint"`
	Amount   Sats        `json:"amount"`
}

// WalletSummary is the result of get_wallet_summary.
type WalletSummary struct {
	SpendableUTXOs         []TxOutputSummary `json:"spendable_utxos"`
	UnsignedPegOutTXOs     []TxOutputSummary `json:"unsigned_peg_out_txos"`
	UnsignedChangeUTXOs    []TxOutputSummary `json:"unsigned_change_utxos"`
	UnconfirmedPegOutTXOs  []TxOutputSummary `json:"unconfirmed_peg_out_txos"`
	UnconfirmedChangeUTXOs []TxOutputSummary `json:"unconfirmed_change_utxos"`
}

// SpendableTotal sums the spendable outputs.
func (s WalletSummary) SpendableTotal() Sats {
	var total Sats
	for _, o := range s.SpendableUTXOs {
		total += o.Amount
	}
	return total
}

// GenerateAddressResponse is the result of peg_in.
type GenerateAddressResponse struct {
	DepositAddress string `json:"deposit_address"`
	OperationID    string `json:"operation_id"`
}

// NoteCountByDenomination maps a power-of-two denomination in msats to the
// number of notes held.
type NoteCountByDenomination map[MSats]uint64

// CreationTime is an operation timestamp as the engine encodes it.
type CreationTime struct {
	NanosSinceEpoch uint64 `json:"nanos_since_epoch"`
	SecsSinceEpoch  uint64 `json:"secs_since_epoch"`
}

// UnixMilli converts the timestamp to unix milliseconds, rounded.
func (c CreationTime) UnixMilli() int64 {
	return int64(c.SecsSinceEpoch)*1000 + int64((c.NanosSinceEpoch+500_000)/1_000_000)
}

// OperationKey identifies an operation in the operation log.
type OperationKey struct {
	CreationTime *CreationTime `json:"creation_time,omitempty"`
	OperationID  string        `json:"operation_id"`
}

// OperationMeta is the metadata attached to a logged operation. Variant is
// decoded according to the owning module kind.
type OperationMeta struct {
	Amount    MSats           `json:"amount"`
	ExtraMeta json.RawMessage `json:"extra_meta,omitempty"`
	Variant   json.RawMessage `json:"variant"`
}

// OperationOutcome wraps the state reached by an operation.
type OperationOutcome struct {
	Outcome json.RawMessage `json:"outcome"`
}

// OperationLog is one entry of list_operations.
type OperationLog struct {
	Meta                OperationMeta     `json:"meta"`
	OperationModuleKind string            `json:"operation_module_kind"`
	Outcome             *OperationOutcome `json:"outcome,omitempty"`
}

// RecoveryProgress is one event of subscribe_to_recovery_progress.
type RecoveryProgress struct {
	ModuleID uint32 `json:"module_id"`
	Progress struct {
		Complete uint64 `json:"complete"`
		Total    uint64 `json:"total"`
	} `json:"progress"`
}

// StateTag returns the discriminant of an engine state value: the string
// itself for unit variants, or the single key of an object variant.
func StateTag(raw json.RawMessage) string {
	var s string
	if err := wire.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj map[string]json.RawMessage
	if err := wire.Unmarshal(raw, &obj); err != nil {
		return ""
	}
	for k := range obj {
		return k
	}
	return ""
}

// StateField decodes the body of an object state variant into v. It reports
// whether raw was the named variant.
func StateField(raw json.RawMessage, tag string, v any) bool {
	var obj map[string]json.RawMessage
	if err := wire.Unmarshal(raw, &obj); err != nil {
		return false
	}
	body, ok := obj[tag]
	if !ok {
		return false
	}
	if v != nil {
		if err := wire.Unmarshal(body, v); err != nil {
			return false
		}
	}
	return true
}
