package core

import (
	"encoding/json"
	"fmt"
)

// Transaction kinds, matching the owning module.
const (
	KindLightning = "ln"
	KindMint      = "mint"
	KindOnchain   = "wallet"
)

// Transaction is the user-facing view of one logged operation.
type Transaction struct {
	Timestamp   int64  `json:"timestamp"`
	OperationID string `json:"operationId"`
	Kind        string `json:"kind"`
	Type        string `json:"type"`
	Outcome     string `json:"outcome,omitempty"`

	Invoice     string `json:"invoice,omitempty"`
	Gateway     string `json:"gateway,omitempty"`
	Fee         *MSats `json:"fee,omitempty"`
	InternalPay *bool  `json:"internalPay,omitempty"`
	Preimage    string `json:"preimage,omitempty"`
	TxID        string `json:"txId,omitempty"`

	AmountMsats MSats  `json:"amountMsats,omitempty"`
	Notes       string `json:"notes,omitempty"`

	OnchainAddress string `json:"onchainAddress,omitempty"`
	FeeRate        uint64 `json:"feeRate,omitempty"`
}

// Operation pairs a log key with its entry, as list_operations returns them.
type Operation struct {
	Key OperationKey
	Log OperationLog
}

// UnmarshalJSON accepts the engine's two-element array encoding.
func (o *Operation) UnmarshalJSON(data []byte) error {
	var pair []json.RawMessage
	if err := wire.Unmarshal(data, &pair); err != nil {
		return err
	}
	if len(pair) != 2 {
		return fmt.Errorf("operation: expected [key, log], got %d elements", len(pair))
	}
	if err := wire.Unmarshal(pair[0], &o.Key); err != nil {
		return err
	}
	return wire.Unmarshal(pair[1], &o.Log)
}

// MarshalJSON emits the two-element array encoding.
func (o Operation) MarshalJSON() ([]byte, error) {
	return wire.Marshal([2]any{o.Key, o.Log})
}

type outPoint struct {
	OutIdx uint32 `json:"out_idx"`
	TxID   string `json:"txid"`
}

type lnVariant struct {
	Pay *struct {
		GatewayID         string   `json:"gateway_id"`
		Invoice           string   `json:"invoice"`
		Fee               MSats    `json:"fee"`
		IsInternalPayment bool     `json:"is_internal_payment"`
		OutPoint          outPoint `json:"out_point"`
	} `json:"pay"`
	Receive *struct {
		GatewayID string   `json:"gateway_id"`
		Invoice   string   `json:"invoice"`
		OutPoint  outPoint `json:"out_point"`
	} `json:"receive"`
}

type mintVariant struct {
	SpendOOB *struct {
		RequestedAmount MSats  `json:"requested_amount"`
		OOBNotes        string `json:"oob_notes"`
	} `json:"spend_o_o_b"`
	Reissuance *struct {
		TxID string `json:"txid"`
	} `json:"reissuance"`
}

type walletVariant struct {
	Deposit *struct {
		Address  string `json:"address"`
		TweakIdx uint64 `json:"tweak_idx"`
	} `json:"deposit"`
	Withdraw *struct {
		Address     string `json:"address"`
		AmountMsats MSats  `json:"amountMsats"`
		Fee         struct {
			FeeRate struct {
				SatsPerKvb uint64 `json:"sats_per_kvb"`
			} `json:"fee_rate"`
			TotalWeight uint64 `json:"total_weight"`
		} `json:"fee"`
	} `json:"withdraw"`
}

// outcomeKeys maps object-shaped outcome variants to their summary, checked
// in order.
var outcomeKeys = []struct{ key, outcome string }{
	{"success", "success"},
	{"canceled", "canceled"},
	{"claimed", "claimed"},
	{"funded", "funded"},
	{"awaiting_funds", "awaiting_funds"},
	{"unexpected_error", "unexpected_error"},
	{"created", "created"},
	{"waiting_for_refund", "canceled"},
	{"awaiting_change", "pending"},
	{"refunded", "refunded"},
	{"waiting_for_payment", "awaiting_funds"},
	{"Created", "Created"},
	{"Success", "Success"},
	{"Refunded", "Refunded"},
	{"UserCanceledProcessing", "UserCanceledProcessing"},
	{"UserCanceledSuccess", "UserCanceledSuccess"},
	{"UserCanceledFailure", "UserCanceledFailure"},
	{"WaitingForTransaction", "pending"},
	{"WaitingForConfirmation", "pending"},
	{"Confirmed", "Confirmed"},
	{"Claimed", "Claimed"},
	{"Failed", "Failed"},
}

// DetermineOutcome summarises an operation's final state. Unit variants are
// returned as-is; unknown object variants yield "".
func DetermineOutcome(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := wire.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj map[string]json.RawMessage
	if err := wire.Unmarshal(raw, &obj); err != nil {
		return ""
	}
	for _, m := range outcomeKeys {
		if _, ok := obj[m.key]; ok {
			return m.outcome
		}
	}
	return ""
}

// TransactionsFrom converts an operation log page into transactions,
// skipping operations that are not payments, ecash or on-chain transfers.
func TransactionsFrom(ops []Operation) []Transaction {
	out := make([]Transaction, 0, len(ops))
	for _, op := range ops {
		if tx, ok := toTransaction(op); ok {
			out = append(out, tx)
		}
	}
	return out
}

func toTransaction(op Operation) (Transaction, bool) {
	tx := Transaction{
		OperationID: op.Key.OperationID,
		Kind:        op.Log.OperationModuleKind,
	}
	if op.Key.CreationTime != nil {
		tx.Timestamp = op.Key.CreationTime.UnixMilli()
	}
	var rawOutcome json.RawMessage
	if op.Log.Outcome != nil {
		rawOutcome = op.Log.Outcome.Outcome
		tx.Outcome = DetermineOutcome(rawOutcome)
	}
	variant := op.Log.Meta.Variant

	switch tx.Kind {
	case KindLightning:
		var v lnVariant
		if wire.Unmarshal(variant, &v) != nil || (v.Pay == nil && v.Receive == nil) {
			return Transaction{}, false
		}
		if v.Pay != nil {
			tx.Type = "send"
			tx.Invoice = v.Pay.Invoice
			tx.Gateway = v.Pay.GatewayID
			tx.TxID = v.Pay.OutPoint.TxID
			fee, internal := v.Pay.Fee, v.Pay.IsInternalPayment
			tx.Fee, tx.InternalPay = &fee, &internal
			var success struct {
				Preimage string `json:"preimage"`
			}
			if StateField(rawOutcome, "success", &success) {
				tx.Preimage = success.Preimage
			}
		} else {
			tx.Type = "receive"
			tx.Invoice = v.Receive.Invoice
			tx.Gateway = v.Receive.GatewayID
			tx.TxID = v.Receive.OutPoint.TxID
		}
	case KindMint:
		var v mintVariant
		if wire.Unmarshal(variant, &v) != nil || (v.SpendOOB == nil && v.Reissuance == nil) {
			return Transaction{}, false
		}
		tx.AmountMsats = op.Log.Meta.Amount
		if v.Reissuance != nil {
			tx.Type = "reissue"
			tx.TxID = v.Reissuance.TxID
		} else {
			tx.Type = "spend_oob"
			tx.Notes = v.SpendOOB.OOBNotes
		}
	case KindOnchain:
		var v walletVariant
		if wire.Unmarshal(variant, &v) != nil || (v.Deposit == nil && v.Withdraw == nil) {
			return Transaction{}, false
		}
		if v.Deposit != nil {
			tx.Type = "deposit"
			tx.OnchainAddress = v.Deposit.Address
		} else {
			tx.Type = "withdraw"
			tx.OnchainAddress = v.Withdraw.Address
			tx.AmountMsats = v.Withdraw.AmountMsats
			tx.FeeRate = v.Withdraw.Fee.FeeRate.SatsPerKvb
		}
	default:
		return Transaction{}, false
	}
	return tx, true
}
