package logging

import (
	"github.com/btcsuite/btclog"

	"github.com/rexliu/fedwallet/pkg/director"
	"github.com/rexliu/fedwallet/pkg/engine/memengine"
	"github.com/rexliu/fedwallet/pkg/manager"
	"github.com/rexliu/fedwallet/pkg/rpc"
	"github.com/rexliu/fedwallet/pkg/wallet"
)

// subsystems maps each package tag to the hook that installs its logger.
var subsystems = []struct {
	tag string
	use func(btclog.Logger)
}{
	{rpc.Subsystem, rpc.UseLogger},
	{wallet.Subsystem, wallet.UseLogger},
	{manager.Subsystem, manager.UseLogger},
	{director.Subsystem, director.UseLogger},
	{memengine.Subsystem, memengine.UseLogger},
}

// Wire hands every library package its subsystem logger from r.
func (r *Root) Wire() {
	for _, s := range subsystems {
		s.use(r.Logger(s.tag))
	}
}
