package wallet

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/rexliu/fedwallet/pkg/core"
	"github.com/rexliu/fedwallet/pkg/ipc"
	"github.com/rexliu/fedwallet/pkg/rpc"
)

// BalanceService reads the wallet balance.
type BalanceService struct{ w *Wallet }

// Get returns the spendable balance.
func (s *BalanceService) Get(ctx context.Context) (core.MSats, error) {
	raw, err := call[json.RawMessage](ctx, s.w, "", "get_balance", nil)
	if err != nil {
		return 0, err
	}
	return parseAmount(raw)
}

// Subscribe streams the balance, starting with the current value and then
// on every change.
func (s *BalanceService) Subscribe(h Handler[core.MSats]) (*rpc.Subscription, error) {
	return subscribe(s.w, false, "", "subscribe_balance_changes", nil, parseAmount, h)
}

// parseAmount accepts amounts encoded as JSON numbers or decimal strings.
func parseAmount(raw json.RawMessage) (core.MSats, error) {
	var n uint64
	if err := ipc.Unmarshal(raw, &n); err == nil {
		return core.MSats(n), nil
	}
	var str string
	if err := ipc.Unmarshal(raw, &str); err != nil {
		return 0, fmt.Errorf("amount %s: %w", raw, err)
	}
	n, err := strconv.ParseUint(str, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("amount %q: %w", str, err)
	}
	return core.MSats(n), nil
}
