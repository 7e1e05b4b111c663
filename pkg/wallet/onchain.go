package wallet

import (
	"context"
	"encoding/json"

	"github.com/rexliu/fedwallet/pkg/core"
	"github.com/rexliu/fedwallet/pkg/rpc"
)

// OnchainService moves bitcoin in and out of the federation.
type OnchainService struct{ w *Wallet }

// Summary returns the federation wallet's UTXO summary.
func (s *OnchainService) Summary(ctx context.Context) (core.WalletSummary, error) {
	return call[core.WalletSummary](ctx, s.w, "wallet", "get_wallet_summary", nil)
}

// GenerateAddress returns a fresh peg-in address and the deposit operation
// tracking it.
func (s *OnchainService) GenerateAddress(ctx context.Context, meta json.RawMessage) (core.GenerateAddressResponse, error) {
	return call[core.GenerateAddressResponse](ctx, s.w, "wallet", "peg_in", map[string]any{
		"extra_meta": extraMeta(meta),
	})
}

// Send pegs amount out to address and returns the withdraw operation id.
func (s *OnchainService) Send(ctx context.Context, amount core.Sats, address string, meta json.RawMessage) (string, error) {
	res, err := call[struct {
		OperationID string `json:"operation_id"`
	}](ctx, s.w, "wallet", "peg_out", map[string]any{
		"amount_sat":          amount,
		"destination_address": address,
		"extra_meta":          extraMeta(meta),
	})
	return res.OperationID, err
}

// SubscribeDeposit follows a deposit until it is claimed or fails.
func (s *OnchainService) SubscribeDeposit(operationID string, h Handler[OperationState]) (*rpc.Subscription, error) {
	return subscribe(s.w, false, "wallet", "subscribe_deposit", operationPayload(operationID), nil, h)
}
