package worker

import (
	"testing"

	"github.com/rexliu/fedwallet/pkg/engine"
	"github.com/rexliu/fedwallet/pkg/transport"
	"github.com/rexliu/fedwallet/pkg/transport/transporttest"
)

func TestWorkerContract(t *testing.T) {
	transporttest.Run(t, func(t *testing.T, f engine.Factory) transport.Transport {
		tr := New(f, WithInboxSize(4))
		t.Cleanup(func() { tr.Close() })
		return tr
	})
}
