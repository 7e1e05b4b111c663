package core

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

const operationsPage = `[
  [{"creation_time":{"secs_since_epoch":1700000000,"nanos_since_epoch":600000000},"operation_id":"op-pay"},
   {"operation_module_kind":"ln",
    "meta":{"amount":1000,"variant":{"pay":{"gateway_id":"gw","invoice":"lnbc1","fee":21,"is_internal_payment":false,"out_point":{"out_idx":0,"txid":"tx1"}}}},
    "outcome":{"outcome":{"success":{"preimage":"ff00"}}}}],
  [{"operation_id":"op-recv"},
   {"operation_module_kind":"ln",
    "meta":{"amount":0,"variant":{"receive":{"gateway_id":"gw","invoice":"lnbc2","out_point":{"out_idx":1,"txid":"tx2"}}}},
    "outcome":{"outcome":{"waiting_for_payment":{"invoice":"lnbc2","timeout":60}}}}],
  [{"operation_id":"op-spend"},
   {"operation_module_kind":"mint",
    "meta":{"amount":5000,"variant":{"spend_o_o_b":{"requested_amount":5000,"oob_notes":"notes"}}},
    "outcome":{"outcome":"UserCanceledSuccess"}}],
  [{"operation_id":"op-peg"},
   {"operation_module_kind":"wallet",
    "meta":{"amount":0,"variant":{"withdraw":{"address":"bc1q","amountMsats":7000,"fee":{"fee_rate":{"sats_per_kvb":1000},"total_weight":400}}}},
    "outcome":{"outcome":{"WaitingForConfirmation":{}}}}],
  [{"operation_id":"op-other"},
   {"operation_module_kind":"mint","meta":{"amount":0,"variant":{}}}]
]`

func TestTransactionsFrom(t *testing.T) {
	var ops []Operation
	require.NoError(t, json.Unmarshal([]byte(operationsPage), &ops))
	require.Len(t, ops, 5)

	txs := TransactionsFrom(ops)
	require.Len(t, txs, 4)

	pay := txs[0]
	require.Equal(t, "send", pay.Type)
	require.Equal(t, int64(1700000000600), pay.Timestamp)
	require.Equal(t, "success", pay.Outcome)
	require.Equal(t, "ff00", pay.Preimage)
	require.Equal(t, MSats(21), *pay.Fee)
	require.False(t, *pay.InternalPay)
	require.Equal(t, "tx1", pay.TxID)

	recv := txs[1]
	require.Equal(t, "receive", recv.Type)
	require.Equal(t, "awaiting_funds", recv.Outcome)
	require.Zero(t, recv.Timestamp)

	spend := txs[2]
	require.Equal(t, "spend_oob", spend.Type)
	require.Equal(t, MSats(5000), spend.AmountMsats)
	require.Equal(t, "UserCanceledSuccess", spend.Outcome)

	peg := txs[3]
	require.Equal(t, "withdraw", peg.Type)
	require.Equal(t, "pending", peg.Outcome)
	require.Equal(t, uint64(1000), peg.FeeRate)
}

func TestDetermineOutcome(t *testing.T) {
	cases := map[string]string{
		`"claimed"`:                         "claimed",
		`{"refunded":{"gateway_error":""}}`: "refunded",
		`{"awaiting_change":null}`:          "pending",
		`{"mystery":{}}`:                    "",
		`null`:                              "",
	}
	for raw, want := range cases {
		require.Equal(t, want, DetermineOutcome(json.RawMessage(raw)), raw)
	}
}

func TestStateTag(t *testing.T) {
	require.Equal(t, "created", StateTag(json.RawMessage(`"created"`)))
	require.Equal(t, "success", StateTag(json.RawMessage(`{"success":{"preimage":"aa"}}`)))
	require.Equal(t, "", StateTag(json.RawMessage(`42`)))
}
