package routing

import "github.com/PabloMansanet/subotai/peer"

// Conflict records a full-bucket eviction awaiting resolution via a
// liveness probe of the evicted peer (spec §3, §4.2).
type Conflict struct {
	Evicted peer.Info
	Evictor peer.Info
	Probes  int
}

// Conflicts returns a snapshot of the table's pending eviction conflicts.
func (t *Table) Conflicts() []Conflict {
	t.conflictsMu.Lock()
	defer t.conflictsMu.Unlock()
	out := make([]Conflict, len(t.conflicts))
	copy(out, t.conflicts)
	return out
}

// AddConflict enqueues a conflict produced by Update. Called by the
// operation engine when the node is not Defensive (spec §4.5.2 step 3).
func (t *Table) AddConflict(c Conflict) {
	t.conflictsMu.Lock()
	defer t.conflictsMu.Unlock()
	t.conflicts = append(t.conflicts, c)
}

// ConflictCount returns the number of pending conflicts.
func (t *Table) ConflictCount() int {
	t.conflictsMu.Lock()
	defer t.conflictsMu.Unlock()
	return len(t.conflicts)
}

// IncrementProbes bumps the probe counter of the conflict whose evicted
// peer matches the given descriptor, used by the conflict-resolution loop
// each time it pings an evicted peer (spec §4.5.6).
func (t *Table) IncrementProbes(evictedID peer.Info) {
	t.conflictsMu.Lock()
	defer t.conflictsMu.Unlock()
	for i := range t.conflicts {
		if t.conflicts[i].Evicted.ID == evictedID.ID {
			t.conflicts[i].Probes++
		}
	}
}

// RemoveConflict drops the conflict belonging to the given evicted peer ID
// without reverting it - the evictor prevails. Used when an evicted peer
// has been probed too many times without responding (spec §4.5.6: "drop any
// conflict with probes >= 5").
func (t *Table) RemoveConflict(evictedID peer.Info) (Conflict, bool) {
	t.conflictsMu.Lock()
	defer t.conflictsMu.Unlock()
	for i, c := range t.conflicts {
		if c.Evicted.ID == evictedID.ID {
			t.conflicts = append(t.conflicts[:i], t.conflicts[i+1:]...)
			return c, true
		}
	}
	return Conflict{}, false
}

// RevertConflict restores the evicted peer in place of the evictor in its
// bucket, removing the conflict from the queue. If the evictor has since
// been replaced (e.g. itself evicted by a third peer), the evicted peer is
// simply re-inserted via Update; any conflict that re-insertion itself
// causes is dropped rather than requeued, since the spec only guarantees
// best-effort reversal (spec §4.2, §9 Open Questions).
func (t *Table) RevertConflict(c Conflict) {
	t.conflictsMu.Lock()
	for i, existing := range t.conflicts {
		if existing.Evicted.ID == c.Evicted.ID && existing.Evictor.ID == c.Evictor.ID {
			t.conflicts = append(t.conflicts[:i], t.conflicts[i+1:]...)
			break
		}
	}
	t.conflictsMu.Unlock()

	idx, ok := t.bucketIndex(c.Evictor.ID)
	if !ok {
		return
	}
	b := t.buckets[idx]
	if b.replace(c.Evictor.ID, c.Evicted) {
		return
	}

	// The evictor is no longer there; best-effort re-insertion. Any
	// resulting conflict is intentionally dropped.
	_, _ = t.Update(c.Evicted)
}
