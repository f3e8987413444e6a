package node

import (
	"time"

	"github.com/PabloMansanet/subotai/id"
	"github.com/PabloMansanet/subotai/peer"
	"github.com/PabloMansanet/subotai/routing"
	"github.com/PabloMansanet/subotai/rpc"
	"github.com/PabloMansanet/subotai/storage"
)

// Locate runs a wave to find the peer descriptor for target, halting on
// the first Found response or as soon as the routing table itself
// acquires the target via a sibling wave's insert (spec §4.5.3).
func (e *Engine) Locate(target id.ID) (peer.Info, error) {
	e.metrics.lookup("locate")

	if p, ok := e.table.Specific(target); ok {
		return p, nil
	}

	build := func(to peer.Info) rpc.Message { return rpc.Locate(e.LocalInfo(), target) }
	result, err := e.runWave(target, build, rpc.KindLocateResponse, func(responses []rpc.Message, known map[id.ID]peer.Info, queriedCount int) (bool, interface{}) {
		if p, ok := e.table.Specific(target); ok {
			return true, p
		}
		for _, m := range responses {
			if m.Outcome == rpc.LocateFound && m.Found.ID.Equal(target) {
				return true, m.Found
			}
		}
		return false, nil
	})
	if err != nil {
		return peer.Info{}, ErrNodeNotFound
	}
	return result.(peer.Info), nil
}

// Probe runs a wave that gathers the closest depth peers to target,
// halting once depth distinct peers have been queried (spec §4.5.3,
// default depth = k_factor).
func (e *Engine) Probe(target id.ID, depth int) ([]peer.Info, error) {
	e.metrics.lookup("probe")
	if depth <= 0 {
		depth = e.cfg.KFactor
	}

	build := func(to peer.Info) rpc.Message { return rpc.Probe(e.LocalInfo(), target) }
	result, err := e.runWave(target, build, rpc.KindProbeResponse, func(responses []rpc.Message, known map[id.ID]peer.Info, queriedCount int) (bool, interface{}) {
		if queriedCount >= depth {
			return true, closestN(known, target, depth)
		}
		return false, nil
	})
	if err != nil {
		// Best-effort: return whatever is known even on timeout.
		closest := e.table.ClosestTo(target)
		if len(closest) > depth {
			closest = closest[:depth]
		}
		return closest, nil
	}
	return result.([]peer.Info), nil
}

// Retrieve runs a wave that fetches values stored under key, halting on
// the first Found response. It then opportunistically caches the values
// at the closest peer that did not have them, with a distance-shortened
// TTL (spec §4.5.3, §4.3).
func (e *Engine) Retrieve(key id.ID) ([]storage.Entry, error) {
	e.metrics.lookup("retrieve")

	if values, ok := e.storage.Retrieve(key); ok {
		return values, nil
	}

	var cacheCandidate *peer.Info
	build := func(to peer.Info) rpc.Message { return rpc.Retrieve(e.LocalInfo(), key) }
	result, err := e.runWave(key, build, rpc.KindRetrieveResponse, func(responses []rpc.Message, known map[id.ID]peer.Info, queriedCount int) (bool, interface{}) {
		for _, m := range responses {
			if m.RetrieveKind == rpc.RetrieveFound {
				return true, m.Values
			}
			if m.RetrieveKind == rpc.RetrieveClosest {
				sender := m.Sender
				if cacheCandidate == nil || sender.ID.XOR(key).Less(cacheCandidate.ID.XOR(key)) {
					cacheCandidate = &sender
				}
			}
		}
		return false, nil
	})
	if err != nil {
		return nil, ErrUnresponsiveNetwork
	}

	values := result.([]storage.Entry)
	if cacheCandidate != nil {
		ttl := storage.CacheTTL(e.Now(), cacheCandidate.ID, key, e.cfg.ExpirationDistanceThreshold, e.cfg.BaseExpirationHours)
		for _, v := range values {
			e.send(cacheCandidate.Addr, rpc.Store(e.LocalInfo(), key, v, ttl))
		}
	}
	return values, nil
}

// Store publishes value under key to the k_factor closest peers in the
// network, succeeding if at least k_factor/3 acknowledge (spec §4.5.4).
// The requested expiration defaults to the full base_expiration_hours
// window; every receiving node's storage layer clamps it independently
// (spec §4.5.4 step 2, §4.3 step 2).
func (e *Engine) Store(key id.ID, value storage.Entry) error {
	return e.StoreWithExpiration(key, value, e.Now().Add(time.Duration(e.cfg.BaseExpirationHours)*time.Hour))
}

// StoreWithExpiration is Store with an explicit requested expiration.
func (e *Engine) StoreWithExpiration(key id.ID, value storage.Entry, expiration time.Time) error {
	if e.State() == OffGrid {
		return ErrOffGrid
	}

	candidates, err := e.Probe(key, e.cfg.KFactor)
	if err != nil {
		return err
	}
	return e.publishTo(candidates, key, value, expiration)
}

func (e *Engine) publishTo(candidates []peer.Info, key id.ID, value storage.Entry, expiration time.Time) error {
	required := e.cfg.KFactor / 3
	if required < 1 {
		required = 1
	}

	receptions := e.Receptions().OfKind(rpc.KindStoreResponse).During(e.cfg.NetworkTimeout)
	for _, c := range candidates {
		e.send(c.Addr, rpc.Store(e.LocalInfo(), key, value, expiration))
	}

	acks := 0
	for acks < required {
		m, ok := receptions.Next()
		if !ok {
			break
		}
		if m.Target.Equal(key) && m.Result == storage.Success {
			acks++
		}
	}
	receptions.Close()

	if acks < required {
		return ErrUnresponsiveNetwork
	}
	return nil
}

// closestN returns up to n peers from known, sorted by XOR distance to
// target.
func closestN(known map[id.ID]peer.Info, target id.ID, n int) []peer.Info {
	all := make([]peer.Info, 0, len(known))
	for _, p := range known {
		all = append(all, p)
	}
	return routing.SortByDistance(all, target, n)
}
