package rpc

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/rexliu/fedwallet/pkg/ipc"
)

func TestCorrelatorIDsIncreaseUntilReset(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		c := NewCorrelator(nil)
		var last uint64
		seen := make(map[uint64]bool)
		steps := rapid.SliceOfN(rapid.Bool(), 1, 200).Draw(t, "steps")
		for _, reset := range steps {
			if reset {
				c.Reset()
				last = 0
				seen = make(map[uint64]bool)
				continue
			}
			id := c.NextID()
			if id <= last {
				t.Fatalf("id %d after %d", id, last)
			}
			if seen[id] {
				t.Fatalf("id %d repeated", id)
			}
			if last == 0 && id != 1 {
				t.Fatalf("first id after reset is %d", id)
			}
			seen[id] = true
			last = id
		}
	})
}

func TestCorrelatorNothingAfterTerminal(t *testing.T) {
	types := []ipc.ResponseType{
		ipc.ResponseData, ipc.ResponseError, ipc.ResponseEnd, ipc.ResponseAborted,
	}
	rapid.Check(t, func(t *rapid.T) {
		c := NewCorrelator(nil)
		id := c.NextID()
		var got []ipc.ResponseType
		c.Register(id, func(resp ipc.Response) { got = append(got, resp.Type) })

		seq := rapid.SliceOfN(rapid.SampledFrom(types), 1, 30).Draw(t, "responses")
		for _, typ := range seq {
			c.Dispatch(ipc.Response{Type: typ, RequestID: id})
		}

		for i, typ := range got {
			terminal := ipc.Response{Type: typ}.Terminal()
			if terminal && i != len(got)-1 {
				t.Fatalf("callback after terminal: %v", got)
			}
		}
		// Everything up to and including the first terminal is delivered.
		want := 0
		for _, typ := range seq {
			want++
			if (ipc.Response{Type: typ}).Terminal() {
				break
			}
		}
		if len(got) != want {
			t.Fatalf("delivered %d of %d", len(got), want)
		}
	})
}

func TestCorrelatorTerminalRemovedBeforeHandler(t *testing.T) {
	c := NewCorrelator(nil)
	id := c.NextID()
	var lenInside int
	c.Register(id, func(ipc.Response) { lenInside = c.Len() })
	require.Equal(t, 1, c.Len())

	require.True(t, c.Dispatch(ipc.Response{Type: ipc.ResponseEnd, RequestID: id}))
	require.Zero(t, lenInside)
	require.Zero(t, c.Len())
}

func TestCorrelatorDropsUnknown(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	c := NewCorrelator(m)
	require.False(t, c.Dispatch(ipc.Response{Type: ipc.ResponseData, RequestID: 42}))
	require.Equal(t, 1.0, testutil.ToFloat64(m.Dropped))
}

func TestCorrelatorResetSkipsHandlers(t *testing.T) {
	c := NewCorrelator(nil)
	called := false
	for i := 0; i < 3; i++ {
		c.Register(c.NextID(), func(ipc.Response) { called = true })
	}
	require.Equal(t, []uint64{1, 2, 3}, c.IDs())

	c.Reset()
	require.Zero(t, c.Len())
	require.False(t, called)
	require.Equal(t, uint64(1), c.NextID())
}

func TestCorrelatorUnregister(t *testing.T) {
	c := NewCorrelator(nil)
	id := c.NextID()
	c.Register(id, func(ipc.Response) { t.Fatal("handler after unregister") })
	c.Unregister(id)
	require.False(t, c.Dispatch(ipc.Response{Type: ipc.ResponseData, RequestID: id}))
}
