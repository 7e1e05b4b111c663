package wallet

import (
	"context"
	"encoding/json"

	"github.com/rexliu/fedwallet/pkg/core"
)

// FederationService reads federation metadata and the operation log.
type FederationService struct{ w *Wallet }

// Config returns the federation client config as the engine encodes it.
func (s *FederationService) Config(ctx context.Context) (json.RawMessage, error) {
	return call[json.RawMessage](ctx, s.w, "", "get_config", nil)
}

// FederationID asks the engine for the id and caches it on the wallet.
func (s *FederationService) FederationID(ctx context.Context) (string, error) {
	id, err := call[string](ctx, s.w, "", "get_federation_id", nil)
	if err != nil {
		return "", err
	}
	s.w.SetFederationID(id)
	return id, nil
}

// SessionCount returns the number of consensus sessions seen.
func (s *FederationService) SessionCount(ctx context.Context) (uint64, error) {
	return call[uint64](ctx, s.w, "", "session_count", nil)
}

// InviteCode returns an invite through guardian peer, or "" when the
// guardian is unknown.
func (s *FederationService) InviteCode(ctx context.Context, peer uint16) (string, error) {
	code, err := call[*string](ctx, s.w, "", "get_invite_code", map[string]uint16{"peer": peer})
	if err != nil || code == nil {
		return "", err
	}
	return *code, nil
}

// ListOperations pages through the operation log, newest first. A zero
// limit means no limit; lastSeen continues after a previous page.
func (s *FederationService) ListOperations(ctx context.Context, limit int, lastSeen *core.OperationKey) ([]core.Operation, error) {
	var lim *int
	if limit > 0 {
		lim = &limit
	}
	return call[[]core.Operation](ctx, s.w, "", "list_operations", map[string]any{
		"limit":     lim,
		"last_seen": lastSeen,
	})
}

// Operation returns one log entry, or nil when the id is unknown.
func (s *FederationService) Operation(ctx context.Context, operationID string) (*core.OperationLog, error) {
	return call[*core.OperationLog](ctx, s.w, "", "get_operation", operationPayload(operationID))
}

// ListTransactions is ListOperations reduced to user-facing transactions.
func (s *FederationService) ListTransactions(ctx context.Context, limit int, lastSeen *core.OperationKey) ([]core.Transaction, error) {
	ops, err := s.ListOperations(ctx, limit, lastSeen)
	if err != nil {
		return nil, err
	}
	return core.TransactionsFrom(ops), nil
}
