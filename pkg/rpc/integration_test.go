package rpc

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rexliu/fedwallet/pkg/core"
	"github.com/rexliu/fedwallet/pkg/engine/memengine"
	"github.com/rexliu/fedwallet/pkg/ipc"
	"github.com/rexliu/fedwallet/pkg/transport/inproc"
	"github.com/rexliu/fedwallet/pkg/transport/transporttest"
	"github.com/rexliu/fedwallet/pkg/transport/worker"
)

func TestFreshWalletBalanceIsZero(t *testing.T) {
	c := NewClient(worker.New(memengine.NewFactory(nil)))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	defer c.Cleanup(ctx)

	require.NoError(t, c.Initialize(ctx))
	require.NoError(t, c.JoinFederation(ctx, transporttest.Invite, "fresh", false))

	raw, err := c.RPCSingle(ctx, "fresh", "", "get_balance", map[string]any{})
	require.NoError(t, err)
	var bal core.MSats
	require.NoError(t, ipc.Unmarshal(raw, &bal))
	require.Zero(t, bal)

	parsed, err := c.ParseInviteCode(ctx, transporttest.Invite)
	require.NoError(t, err)
	require.Len(t, parsed.FederationID, 64)
}

func TestStreamAgainstEngine(t *testing.T) {
	c := NewClient(inproc.New(memengine.NewFactory(nil)))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, c.Initialize(ctx))
	require.NoError(t, c.JoinFederation(ctx, transporttest.Invite, "w", false))

	events := make(chan Event, 8)
	sub, err := c.RPCStream("w", "", "subscribe_balance_changes", nil, func(ev Event) { events <- ev })
	require.NoError(t, err)

	first := <-events
	require.Equal(t, EventData, first.Kind)
	require.JSONEq(t, "0", string(first.Data))

	sub.Cancel()
	require.Equal(t, EventEnd, (<-events).Kind)
	<-sub.Done()

	require.NoError(t, c.Cleanup(ctx))
	_, err = c.RPCSingle(ctx, "w", "", "get_balance", nil)
	require.ErrorIs(t, err, ErrClientClosed)
}
