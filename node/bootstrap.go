package node

import (
	"time"

	"github.com/PabloMansanet/subotai/peer"
	"github.com/PabloMansanet/subotai/rpc"
)

// Bootstrap joins the overlay through a single known seed address
// (spec §4.5.5): ping the seed to learn its ID, then probe the local ID
// repeatedly (up to BootstrapTries) so the reception handler's
// updateTable populates the routing table. The transition to OnGrid
// itself happens inside the reception handler once the table exceeds
// k_factor, not here.
func (e *Engine) Bootstrap(seedAddr peer.Addr) error {
	receptions := e.Receptions().OfKind(rpc.KindPingResponse).During(e.cfg.NetworkTimeout)
	e.send(seedAddr, rpc.Ping(e.LocalInfo()))

	m, ok := receptions.Next()
	receptions.Close()
	if !ok {
		return ErrNoResponse
	}
	e.updateTable(m.Sender)

	for i := 0; i < e.cfg.BootstrapTries; i++ {
		if e.table.Size() > e.cfg.KFactor {
			return nil
		}
		if _, err := e.Probe(e.localID, e.cfg.KFactor); err != nil {
			// Keep trying; a single unresponsive round doesn't fail
			// bootstrap outright.
			continue
		}
	}

	if e.table.Size() == 0 {
		return ErrUnresponsiveNetwork
	}
	return nil
}

// WaitForState blocks until the engine reaches the target state or shuts
// down, whichever comes first.
func (e *Engine) WaitForState(target State) {
	for e.State() != target {
		if e.State() == ShuttingDown && target != ShuttingDown {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
}
