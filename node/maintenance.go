package node

import (
	"time"

	"github.com/PabloMansanet/subotai/id"
	"github.com/PabloMansanet/subotai/rpc"
)

// MaintenanceLoop runs every cfg.MaintenanceSleep, refreshing the oldest
// stale bucket, purging expired storage, and republishing ready entries
// once an hour (spec §4.5.7).
func (e *Engine) MaintenanceLoop(stop <-chan struct{}) {
	e.wg.Add(1)
	defer e.wg.Done()

	ticker := time.NewTicker(e.cfg.MaintenanceSleep)
	defer ticker.Stop()

	lastRepublish := e.Now()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if e.State() == ShuttingDown {
				return
			}
			e.refreshOldestBucket()
			e.storage.ClearExpiredEntries()

			if e.Now().Sub(lastRepublish) >= time.Hour {
				e.republish()
				lastRepublish = e.Now()
			}
		}
	}
}

// refreshOldestBucket probes a random ID at the oldest bucket's distance
// if it was never probed or its last probe is over an hour old, then pushes
// any locally held entries that are now closer to a newly discovered peer
// than to this node on to that peer (spec §4.3's get_entries_closer_to,
// reinstated by SPEC_FULL.md §4.3 [ADDED]).
func (e *Engine) refreshOldestBucket() {
	idx, lastProbed := e.table.OldestBucket()
	if lastProbed != nil && e.Now().Sub(*lastProbed) < time.Hour {
		return
	}

	target := id.RandomAtDistance(e.localID, idx)
	e.table.MarkBucketProbed(idx, e.Now())

	peers, err := e.Probe(target, e.cfg.KFactor)
	if err != nil {
		return
	}
	for _, p := range peers {
		for _, group := range e.storage.EntriesCloserTo(p.ID) {
			for _, entry := range group.Entries {
				e.send(p.Addr, rpc.Store(e.LocalInfo(), group.Key, entry.Entry, entry.Expiration))
			}
		}
	}
}

// republish marks every stored entry ready, sends each ready key-group to
// its closest known custodians, and clears the ready flag once sent
// (spec §4.3, §4.5.7).
func (e *Engine) republish() {
	e.storage.MarkAllAsReady()
	for _, group := range e.storage.ReadyEntries() {
		candidates, err := e.Probe(group.Key, e.cfg.KFactor)
		if err != nil {
			continue
		}
		for _, entry := range group.Entries {
			for _, c := range candidates {
				e.send(c.Addr, rpc.Store(e.LocalInfo(), group.Key, entry.Entry, entry.Expiration))
			}
			e.storage.ClearReadyFlag(group.Key, entry.Expiration)
		}
	}
}

// ConflictResolutionLoop runs every second, dropping stale conflicts and
// pinging evicted peers awaiting a liveness check (spec §4.5.6).
func (e *Engine) ConflictResolutionLoop(stop <-chan struct{}) {
	e.wg.Add(1)
	defer e.wg.Done()

	const maxProbes = 5
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if e.State() == ShuttingDown {
				return
			}

			for _, c := range e.table.Conflicts() {
				if c.Probes >= maxProbes {
					e.table.RemoveConflict(c.Evicted)
					continue
				}
				e.table.IncrementProbes(c.Evicted)
				e.send(c.Evicted.Addr, rpc.Ping(e.LocalInfo()))
			}

			if e.State() == Defensive && e.table.ConflictCount() == 0 {
				if e.table.Size() > e.cfg.KFactor {
					e.setState(OnGrid)
				} else {
					e.setState(OffGrid)
				}
			}
		}
	}
}
