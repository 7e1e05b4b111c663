package memengine

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rexliu/fedwallet/pkg/core"
	"github.com/rexliu/fedwallet/pkg/ipc"
)

var (
	errInsufficientBalance = errors.New("insufficient balance")
	errUnknownOperation    = errors.New("unknown operation")
)

// singleFunc serves a one-shot method. It runs with e.mu held.
type singleFunc func(e *Engine, c *client, payload json.RawMessage) (any, error)

var singles = map[string]singleFunc{
	"/get_balance": func(_ *Engine, c *client, _ json.RawMessage) (any, error) {
		return c.state.Balance, nil
	},
	"/get_config": func(_ *Engine, c *client, _ json.RawMessage) (any, error) {
		return federationConfig(c.state.FederationID), nil
	},
	"/get_federation_id": func(_ *Engine, c *client, _ json.RawMessage) (any, error) {
		return c.state.FederationID, nil
	},
	"/session_count": func(_ *Engine, c *client, _ json.RawMessage) (any, error) {
		return uint64(len(c.state.Order)), nil
	},
	"/get_invite_code": func(_ *Engine, c *client, _ json.RawMessage) (any, error) {
		return c.state.InviteCode, nil
	},
	"/list_operations":         listOperations,
	"/get_operation":           getOperation,
	"/has_pending_recoveries":  hasPendingRecoveries,
	"/get_recovery_status":     recoveryStatus,
	"/wait_for_all_recoveries": waitForAllRecoveries,
	"/backup_to_federation":    backupToFederation,

	"mint/reissue_external_notes":      reissueNotes,
	"mint/spend_notes":                 spendNotes,
	"mint/validate_notes":              validateNotes,
	"mint/try_cancel_spend_notes":      tryCancelSpend,
	"mint/await_spend_oob_refund":      awaitSpendRefund,
	"mint/note_counts_by_denomination": noteCounts,

	"ln/create_bolt11_invoice": createInvoice,
	"ln/pay_bolt11_invoice":    payInvoice,
	"ln/list_gateways": func(_ *Engine, c *client, _ json.RawMessage) (any, error) {
		return []core.LightningGateway{defaultGateway(c.state.FederationID)}, nil
	},
	"ln/get_gateway":          getGateway,
	"ln/update_gateway_cache": func(*Engine, *client, json.RawMessage) (any, error) { return nil, nil },

	"wallet/get_wallet_summary": func(*Engine, *client, json.RawMessage) (any, error) {
		return core.WalletSummary{
			SpendableUTXOs:         []core.TxOutputSummary{},
			UnsignedPegOutTXOs:     []core.TxOutputSummary{},
			UnsignedChangeUTXOs:    []core.TxOutputSummary{},
			UnconfirmedPegOutTXOs:  []core.TxOutputSummary{},
			UnconfirmedChangeUTXOs: []core.TxOutputSummary{},
		}, nil
	},
	"wallet/peg_in":  pegIn,
	"wallet/peg_out": pegOut,
}

// terminalStates lists, per streamed method, the state tags after which the
// stream ends.
var terminalStates = map[string]map[string]bool{
	"ln/subscribe_ln_pay":                   {"success": true, "refunded": true, "canceled": true, "unexpected_error": true},
	"ln/subscribe_internal_pay":             {"success": true, "refunded": true, "canceled": true, "unexpected_error": true},
	"ln/subscribe_ln_receive":               {"claimed": true, "canceled": true},
	"ln/subscribe_ln_claim":                 {"claimed": true, "canceled": true},
	"mint/subscribe_spend_notes":            {"Success": true, "UserCanceledSuccess": true, "UserCanceledFailure": true, "Refunded": true},
	"mint/subscribe_reissue_external_notes": {"Done": true, "Failed": true},
	"wallet/subscribe_deposit":              {"Claimed": true, "Failed": true},
}

func (e *Engine) clientRPC(id uint64, p ipc.ClientRPC, out ipc.Emitter) {
	key := p.Module + "/" + p.Method

	if h, ok := singles[key]; ok {
		e.mu.Lock()
		c, err := e.openClient(p.ClientName)
		var result any
		if err == nil {
			result, err = h(e, c, p.Payload)
		}
		e.mu.Unlock()
		if err != nil {
			out.Error(err)
			return
		}
		out.Data(result)
		out.End()
		return
	}

	e.mu.Lock()
	c, err := e.openClient(p.ClientName)
	e.mu.Unlock()
	if err != nil {
		out.Error(err)
		return
	}

	switch {
	case key == "/subscribe_balance_changes":
		first, last := true, core.MSats(0)
		e.watch(id, c, out, func() ([]any, bool) {
			if first || c.state.Balance != last {
				first, last = false, c.state.Balance
				return []any{c.state.Balance}, false
			}
			return nil, false
		})

	case key == "/subscribe_to_recovery_progress":
		e.watch(id, c, out, func() ([]any, bool) {
			if !c.state.Recovering {
				return nil, true
			}
			const total = 4
			var events []any
			for i := uint64(1); i <= total; i++ {
				var ev core.RecoveryProgress
				ev.ModuleID = 1
				ev.Progress.Complete, ev.Progress.Total = i, total
				events = append(events, ev)
			}
			c.state.Recovering = false
			if err := e.saveLocked(c); err != nil {
				log.Warnf("persist recovery of %s: %v", c.name, err)
			}
			return events, true
		})

	case terminalStates[key] != nil:
		var req struct {
			OperationID string `json:"operation_id"`
		}
		if err := decode(p.Payload, &req); err != nil {
			out.Error(err)
			return
		}
		e.mu.Lock()
		_, ok := c.state.Operations[req.OperationID]
		e.mu.Unlock()
		if !ok {
			out.Error(fmt.Errorf("%w: %s", errUnknownOperation, req.OperationID))
			return
		}
		terminal := terminalStates[key]
		sent := 0
		e.watch(id, c, out, func() ([]any, bool) {
			op := c.state.Operations[req.OperationID]
			var values []any
			done := false
			for ; sent < len(op.States); sent++ {
				values = append(values, op.States[sent])
				if terminal[core.StateTag(op.States[sent])] {
					done = true
					sent++
					break
				}
			}
			return values, done
		})

	default:
		out.Error(fmt.Errorf("unknown method %q in module %q", p.Method, p.Module))
	}
}

func listOperations(_ *Engine, c *client, payload json.RawMessage) (any, error) {
	var req struct {
		Limit    *int               `json:"limit"`
		LastSeen *core.OperationKey `json:"last_seen"`
	}
	if err := decode(payload, &req); err != nil {
		return nil, err
	}
	ops := make([]core.Operation, 0)
	skipping := req.LastSeen != nil
	for i := len(c.state.Order) - 1; i >= 0; i-- {
		id := c.state.Order[i]
		if skipping {
			if id == req.LastSeen.OperationID {
				skipping = false
			}
			continue
		}
		if req.Limit != nil && len(ops) >= *req.Limit {
			break
		}
		ops = append(ops, operationEntry(id, c.state.Operations[id]))
	}
	return ops, nil
}

func getOperation(_ *Engine, c *client, payload json.RawMessage) (any, error) {
	var req struct {
		OperationID string `json:"operation_id"`
	}
	if err := decode(payload, &req); err != nil {
		return nil, err
	}
	op, ok := c.state.Operations[req.OperationID]
	if !ok {
		return nil, nil
	}
	return operationEntry(req.OperationID, op).Log, nil
}

func operationEntry(id string, op *operation) core.Operation {
	created := op.Created
	entry := core.Operation{
		Key: core.OperationKey{CreationTime: &created, OperationID: id},
		Log: core.OperationLog{
			OperationModuleKind: op.Module,
			Meta: core.OperationMeta{
				Amount:    op.Amount,
				ExtraMeta: op.ExtraMeta,
				Variant:   op.Variant,
			},
		},
	}
	if op.Outcome != nil {
		entry.Log.Outcome = &core.OperationOutcome{Outcome: op.Outcome}
	}
	return entry
}

func hasPendingRecoveries(_ *Engine, c *client, _ json.RawMessage) (any, error) {
	return c.state.Recovering, nil
}

func recoveryStatus(_ *Engine, c *client, _ json.RawMessage) (any, error) {
	modules := make([]core.RecoveryProgress, 0, 1)
	if c.state.Recovering {
		var p core.RecoveryProgress
		p.ModuleID = 1
		p.Progress.Total = 4
		modules = append(modules, p)
	}
	return map[string]any{"modules": modules}, nil
}

func waitForAllRecoveries(e *Engine, c *client, _ json.RawMessage) (any, error) {
	if !c.state.Recovering {
		return nil, nil
	}
	c.state.Recovering = false
	return nil, e.saveLocked(c)
}

func backupToFederation(e *Engine, c *client, payload json.RawMessage) (any, error) {
	var req struct {
		Metadata json.RawMessage `json:"metadata"`
	}
	if err := decode(payload, &req); err != nil {
		return nil, err
	}
	c.state.Backup = req.Metadata
	return nil, e.saveLocked(c)
}

func reissueNotes(e *Engine, c *client, payload json.RawMessage) (any, error) {
	var req struct {
		OOBNotes  string          `json:"oob_notes"`
		ExtraMeta json.RawMessage `json:"extra_meta"`
	}
	if err := decode(payload, &req); err != nil {
		return nil, err
	}
	n, err := parseNotes(req.OOBNotes)
	if err != nil {
		return nil, err
	}
	if n.fedPrefix != c.state.FederationID[:16] {
		return nil, errors.New("notes were issued by another federation")
	}
	spender, spendOp := e.findOperation(n.operationID)
	if spendOp == nil {
		return nil, errInvalidNotes
	}
	if tag := core.StateTag(spendOp.Outcome); tag != "Created" {
		return nil, fmt.Errorf("notes already redeemed (%s)", tag)
	}
	spendOp.advance("Success")
	if spender != c {
		if err := e.saveLocked(spender); err != nil {
			return nil, err
		}
	}

	txid := hashHex("reissue", n.operationID)
	id, op := c.record(core.KindMint, n.amount, map[string]any{
		"reissuance": map[string]string{"txid": txid},
	}, req.ExtraMeta)
	op.advance("Created")
	op.advance("Issuing")
	op.advance("Done")
	c.state.Balance += n.amount
	return id, e.saveLocked(c)
}

func spendNotes(e *Engine, c *client, payload json.RawMessage) (any, error) {
	var req struct {
		Amount         core.MSats      `json:"amount"`
		TryCancelAfter core.Duration   `json:"try_cancel_after"`
		IncludeInvite  bool            `json:"include_invite"`
		ExtraMeta      json.RawMessage `json:"extra_meta"`
	}
	if err := decode(payload, &req); err != nil {
		return nil, err
	}
	if req.Amount == 0 {
		return nil, errors.New("amount must be positive")
	}
	if req.Amount > c.state.Balance {
		return nil, errInsufficientBalance
	}
	id, op := c.record(core.KindMint, req.Amount, nil, req.ExtraMeta)
	oob := encodeNotes(c.state.FederationID, req.Amount, id)
	op.Variant, _ = wire.Marshal(map[string]any{
		"spend_o_o_b": map[string]any{"requested_amount": req.Amount, "oob_notes": oob},
	})
	op.advance("Created")
	c.state.Balance -= req.Amount
	if err := e.saveLocked(c); err != nil {
		return nil, err
	}
	return []string{id, oob}, nil
}

func validateNotes(_ *Engine, _ *client, payload json.RawMessage) (any, error) {
	var req struct {
		OOBNotes string `json:"oob_notes"`
	}
	if err := decode(payload, &req); err != nil {
		return nil, err
	}
	n, err := parseNotes(req.OOBNotes)
	if err != nil {
		return nil, err
	}
	return n.amount, nil
}

func tryCancelSpend(e *Engine, c *client, payload json.RawMessage) (any, error) {
	var req struct {
		OperationID string `json:"operation_id"`
	}
	if err := decode(payload, &req); err != nil {
		return nil, err
	}
	op, ok := c.state.Operations[req.OperationID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", errUnknownOperation, req.OperationID)
	}
	if core.StateTag(op.Outcome) != "Created" {
		return nil, nil
	}
	op.advance("UserCanceledProcessing")
	op.advance("UserCanceledSuccess")
	c.state.Balance += op.Amount
	return nil, e.saveLocked(c)
}

func awaitSpendRefund(_ *Engine, c *client, payload json.RawMessage) (any, error) {
	var req struct {
		OperationID string `json:"operation_id"`
	}
	if err := decode(payload, &req); err != nil {
		return nil, err
	}
	op, ok := c.state.Operations[req.OperationID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", errUnknownOperation, req.OperationID)
	}
	refunded := core.StateTag(op.Outcome) == "UserCanceledSuccess"
	return map[string]any{"user_triggered": refunded, "transaction_ids": []string{}}, nil
}

func noteCounts(_ *Engine, c *client, _ json.RawMessage) (any, error) {
	counts := make(core.NoteCountByDenomination)
	for bal, denom := c.state.Balance, core.MSats(1); bal > 0; denom <<= 1 {
		if bal&1 == 1 {
			counts[denom] = 1
		}
		bal >>= 1
	}
	return counts, nil
}

func createInvoice(e *Engine, c *client, payload json.RawMessage) (any, error) {
	var req struct {
		Amount      core.MSats      `json:"amount"`
		Description string          `json:"description"`
		ExpiryTime  *uint64         `json:"expiry_time"`
		ExtraMeta   json.RawMessage `json:"extra_meta"`
	}
	if err := decode(payload, &req); err != nil {
		return nil, err
	}
	if req.Amount == 0 {
		return nil, errors.New("amount must be positive")
	}
	expiry := uint64(3600)
	if req.ExpiryTime != nil {
		expiry = *req.ExpiryTime
	}
	id, op := c.record(core.KindLightning, req.Amount, nil, req.ExtraMeta)
	inv := encodeInvoice(invoice{amountMsats: req.Amount, expiry: expiry, memo: req.Description, operationID: id})
	gw := defaultGateway(c.state.FederationID)
	op.Variant, _ = wire.Marshal(map[string]any{
		"receive": map[string]any{
			"gateway_id": gw.Info.GatewayID,
			"invoice":    inv,
			"out_point":  map[string]any{"out_idx": 0, "txid": hashHex("receive", id)},
		},
	})
	op.advance("created")
	op.advance(map[string]any{"waiting_for_payment": map[string]any{"invoice": inv, "timeout": expiry}})
	c.state.Receives[id] = receive{Invoice: inv, Amount: req.Amount}
	e.invoices[inv] = invoiceRef{client: c.name, operationID: id}
	if err := e.saveLocked(c); err != nil {
		return nil, err
	}
	return core.CreateBolt11Response{OperationID: id, Invoice: inv}, nil
}

func payInvoice(e *Engine, c *client, payload json.RawMessage) (any, error) {
	var req struct {
		Invoice   string          `json:"invoice"`
		ExtraMeta json.RawMessage `json:"extra_meta"`
	}
	if err := decode(payload, &req); err != nil {
		return nil, err
	}
	inv, err := parseInvoice(req.Invoice)
	if err != nil {
		return nil, err
	}
	ref, ok := e.invoices[req.Invoice]
	if !ok {
		return nil, errors.New("no route to invoice")
	}
	payee := e.clients[ref.client]
	rcv := payee.state.Receives[ref.operationID]
	if rcv.Claimed {
		return nil, errors.New("invoice already paid")
	}
	if inv.amountMsats > c.state.Balance {
		return nil, errInsufficientBalance
	}
	internal := payee.state.FederationID == c.state.FederationID
	gw := defaultGateway(c.state.FederationID)

	id, op := c.record(core.KindLightning, inv.amountMsats, nil, req.ExtraMeta)
	op.Variant, _ = wire.Marshal(map[string]any{
		"pay": map[string]any{
			"gateway_id":          gw.Info.GatewayID,
			"invoice":             req.Invoice,
			"fee":                 0,
			"is_internal_payment": internal,
			"out_point":           map[string]any{"out_idx": 0, "txid": hashHex("pay", id)},
		},
	})
	op.advance("created")
	op.advance(map[string]any{"success": map[string]string{"preimage": hashHex("preimage", ref.operationID)}})
	c.state.Balance -= inv.amountMsats

	rcv.Claimed = true
	payee.state.Receives[ref.operationID] = rcv
	payee.state.Balance += inv.amountMsats
	recvOp := payee.state.Operations[ref.operationID]
	recvOp.advance("funded")
	recvOp.advance("awaiting_funds")
	recvOp.advance("claimed")

	if err := e.saveLocked(c); err != nil {
		return nil, err
	}
	if payee != c {
		if err := e.saveLocked(payee); err != nil {
			return nil, err
		}
	}

	kind := "lightning"
	if internal {
		kind = "internal"
	}
	return core.OutgoingLightningPayment{
		PaymentType: ipc.MustPayload(map[string]string{kind: id}),
		ContractID:  id,
		Fee:         0,
	}, nil
}

func getGateway(_ *Engine, c *client, payload json.RawMessage) (any, error) {
	var req struct {
		GatewayID     *string `json:"gateway_id"`
		ForceInternal bool    `json:"force_internal"`
	}
	if err := decode(payload, &req); err != nil {
		return nil, err
	}
	gw := defaultGateway(c.state.FederationID)
	if req.GatewayID != nil && *req.GatewayID != gw.Info.GatewayID {
		return nil, nil
	}
	return gw, nil
}

func pegIn(e *Engine, c *client, payload json.RawMessage) (any, error) {
	var req struct {
		ExtraMeta json.RawMessage `json:"extra_meta"`
	}
	if err := decode(payload, &req); err != nil {
		return nil, err
	}
	id, op := c.record(core.KindOnchain, 0, nil, req.ExtraMeta)
	addr := "bcrt1q" + hashHex("deposit", id)[:38]
	op.Variant, _ = wire.Marshal(map[string]any{
		"deposit": map[string]any{"address": addr, "tweak_idx": c.state.Seq},
	})
	op.advance("WaitingForTransaction")
	if err := e.saveLocked(c); err != nil {
		return nil, err
	}
	return core.GenerateAddressResponse{DepositAddress: addr, OperationID: id}, nil
}

func pegOut(e *Engine, c *client, payload json.RawMessage) (any, error) {
	var req struct {
		AmountSat          core.Sats       `json:"amount_sat"`
		DestinationAddress string          `json:"destination_address"`
		ExtraMeta          json.RawMessage `json:"extra_meta"`
	}
	if err := decode(payload, &req); err != nil {
		return nil, err
	}
	if req.DestinationAddress == "" || req.AmountSat == 0 {
		return nil, errors.New("amount_sat and destination_address required")
	}
	msats := core.MSats(req.AmountSat) * 1000
	if msats > c.state.Balance {
		return nil, errInsufficientBalance
	}
	id, op := c.record(core.KindOnchain, msats, map[string]any{
		"withdraw": map[string]any{
			"address":     req.DestinationAddress,
			"amountMsats": msats,
			"fee": map[string]any{
				"fee_rate":     map[string]any{"sats_per_kvb": 1000},
				"total_weight": 0,
			},
		},
	}, req.ExtraMeta)
	op.advance(map[string]any{"WaitingForConfirmation": map[string]any{}})
	c.state.Balance -= msats
	if err := e.saveLocked(c); err != nil {
		return nil, err
	}
	return map[string]string{"operation_id": id}, nil
}

// findOperation looks an operation up across all clients. Callers hold e.mu.
func (e *Engine) findOperation(id string) (*client, *operation) {
	for _, c := range e.clients {
		if op, ok := c.state.Operations[id]; ok {
			return c, op
		}
	}
	return nil, nil
}

func defaultGateway(fedID string) core.LightningGateway {
	return core.LightningGateway{
		Info: core.GatewayInfo{
			GatewayID:  hashHex("gateway", fedID)[:66],
			API:        "https://gateway.fed.invalid/",
			NodePubKey: hashHex("node", fedID)[:66],
			RouteHints: []json.RawMessage{},
			Fees:       json.RawMessage(`{"base_msat":0,"proportional_millionths":0}`),
		},
		Vetted: true,
		TTL:    core.Duration{Secs: 600},
	}
}

func hashHex(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	sum := h.Sum(nil)
	// Chained so callers can slice out 66-character keys.
	next := sha256.Sum256(sum)
	return hex.EncodeToString(sum) + hex.EncodeToString(next[:])
}

// Fund credits amount to the named client as if an on-chain deposit had been
// claimed. The oldest deposit still waiting for a transaction is completed;
// without one a new deposit operation is logged.
func (e *Engine) Fund(name string, amount core.MSats) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	c, ok := e.clients[name]
	if !ok {
		return fmt.Errorf("no client named %s", name)
	}
	var op *operation
	for _, id := range c.state.Order {
		candidate := c.state.Operations[id]
		if candidate.Module == core.KindOnchain && core.StateTag(candidate.Outcome) == "WaitingForTransaction" {
			op = candidate
			break
		}
	}
	if op == nil {
		_, op = c.record(core.KindOnchain, 0, map[string]any{
			"deposit": map[string]any{"address": "", "tweak_idx": c.state.Seq + 1},
		}, nil)
		op.advance("WaitingForTransaction")
	}
	deposit := map[string]any{
		"btc_deposited": amount / 1000,
		"btc_out_point": core.BtcOutPoint{TxID: hashHex("fund", name, fmt.Sprint(c.state.Seq))[:64]},
	}
	op.Amount = amount
	op.advance(map[string]any{"WaitingForConfirmation": deposit})
	op.advance(map[string]any{"Confirmed": deposit})
	op.advance(map[string]any{"Claimed": deposit})
	c.state.Balance += amount
	return e.saveLocked(c)
}
