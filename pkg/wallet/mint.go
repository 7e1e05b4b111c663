package wallet

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rexliu/fedwallet/pkg/core"
	"github.com/rexliu/fedwallet/pkg/rpc"
)

// DefaultTryCancelAfter is how long spent notes stay unclaimed before the
// engine tries to take them back.
const DefaultTryCancelAfter = 24 * time.Hour

// MintService handles ecash notes.
type MintService struct{ w *Wallet }

// SpendOptions tune SpendNotes. The zero value spends with the defaults.
type SpendOptions struct {
	TryCancelAfter time.Duration
	IncludeInvite  bool
	ExtraMeta      json.RawMessage
}

// SpentNotes is the outcome of SpendNotes.
type SpentNotes struct {
	Notes       string `json:"notes"`
	OperationID string `json:"operation_id"`
}

// SpendRefund is the result of AwaitSpendOobRefund.
type SpendRefund struct {
	UserTriggered  bool     `json:"user_triggered"`
	TransactionIDs []string `json:"transaction_ids"`
}

// RedeemEcash reissues notes received out of band and returns the
// operation id.
func (s *MintService) RedeemEcash(ctx context.Context, notes string) (string, error) {
	return call[string](ctx, s.w, "mint", "reissue_external_notes", map[string]any{
		"oob_notes":  notes,
		"extra_meta": nil,
	})
}

// ReissueExternalNotes is RedeemEcash with operation metadata.
func (s *MintService) ReissueExternalNotes(ctx context.Context, notes string, meta json.RawMessage) (string, error) {
	return call[string](ctx, s.w, "mint", "reissue_external_notes", map[string]any{
		"oob_notes":  notes,
		"extra_meta": extraMeta(meta),
	})
}

// SubscribeReissue follows a reissue operation until Done or Failed.
func (s *MintService) SubscribeReissue(operationID string, h Handler[OperationState]) (*rpc.Subscription, error) {
	return subscribe(s.w, false, "mint", "subscribe_reissue_external_notes",
		operationPayload(operationID), nil, h)
}

// SpendNotes takes amount out of the wallet as out-of-band notes.
func (s *MintService) SpendNotes(ctx context.Context, amount core.MSats, opts SpendOptions) (SpentNotes, error) {
	after := opts.TryCancelAfter
	if after == 0 {
		after = DefaultTryCancelAfter
	}
	res, err := call[[]string](ctx, s.w, "mint", "spend_notes", map[string]any{
		"amount":           amount,
		"try_cancel_after": core.DurationOf(after),
		"include_invite":   opts.IncludeInvite,
		"extra_meta":       extraMeta(opts.ExtraMeta),
	})
	if err != nil {
		return SpentNotes{}, err
	}
	if len(res) != 2 {
		return SpentNotes{}, fmt.Errorf("%w: spend_notes returned %d elements",
			rpc.ErrMalformedResponse, len(res))
	}
	return SpentNotes{OperationID: res[0], Notes: res[1]}, nil
}

// ParseNotes validates notes and returns their total value.
func (s *MintService) ParseNotes(ctx context.Context, notes string) (core.MSats, error) {
	return call[core.MSats](ctx, s.w, "mint", "validate_notes", map[string]string{
		"oob_notes": notes,
	})
}

// TryCancelSpendNotes attempts to take back notes nobody redeemed yet.
func (s *MintService) TryCancelSpendNotes(ctx context.Context, operationID string) error {
	_, err := call[json.RawMessage](ctx, s.w, "mint", "try_cancel_spend_notes",
		operationPayload(operationID))
	return err
}

// SubscribeSpendNotes follows a spend operation.
func (s *MintService) SubscribeSpendNotes(operationID string, h Handler[OperationState]) (*rpc.Subscription, error) {
	return subscribe(s.w, false, "mint", "subscribe_spend_notes",
		operationPayload(operationID), nil, h)
}

// AwaitSpendOobRefund waits for a cancelled spend to be refunded.
func (s *MintService) AwaitSpendOobRefund(ctx context.Context, operationID string) (SpendRefund, error) {
	return call[SpendRefund](ctx, s.w, "mint", "await_spend_oob_refund",
		operationPayload(operationID))
}

// NotesByDenomination counts the held notes per denomination.
func (s *MintService) NotesByDenomination(ctx context.Context) (core.NoteCountByDenomination, error) {
	return call[core.NoteCountByDenomination](ctx, s.w, "mint", "note_counts_by_denomination", nil)
}
