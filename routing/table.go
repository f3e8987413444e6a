// Package routing implements the Kademlia routing table: a 160-bucket,
// distance-indexed, bounded-capacity index of known remote peers with a
// least-recently-seen eviction discipline and a best-effort conflict
// resolution queue.
//
// Adapted from the bucket-management ideas in go-libp2p-kbucket's
// table.go (bucket-per-prefix-length layout, background liveness
// revalidation) and from the "bounce walk" enumeration and eviction-conflict
// queue described in the original Subotai routing table
// (original_source/src/routing/mod.rs), generalized to the spec's exact
// Update/Lookup contract.
package routing

import (
	"errors"
	"sort"
	"sync"
	"time"

	logging "github.com/ipfs/go-log"

	"github.com/PabloMansanet/subotai/id"
	"github.com/PabloMansanet/subotai/peer"
)

var log = logging.Logger("routing")

// ErrLocalID is returned by Update when asked to insert the table's own
// local identifier.
var ErrLocalID = errors.New("routing: refusing to insert the local peer into its own table")

// Table is a 160-bucket routing table keyed by the local peer's identifier.
type Table struct {
	local id.ID
	k     int

	buckets [id.Size]*bucket

	conflictsMu sync.Mutex
	conflicts   []Conflict
}

// New constructs an empty routing table for the given local identifier and
// bucket capacity (K, default 20 per spec §3).
func New(local id.ID, k int) *Table {
	t := &Table{local: local, k: k}
	for i := range t.buckets {
		t.buckets[i] = newBucket()
	}
	return t
}

// Local returns the table's local identifier.
func (t *Table) Local() id.ID {
	return t.local
}

// bucketIndex returns the bucket a peer belongs in: the height of the XOR
// distance between it and the local ID. Returns ok=false for the local ID
// itself (XOR distance is blank, which has no height).
func (t *Table) bucketIndex(target id.ID) (int, bool) {
	return t.local.XOR(target).Height()
}

// UpdateKind classifies the outcome of Update.
type UpdateKind int

const (
	// Added reports that the peer was newly inserted.
	Added UpdateKind = iota
	// Updated reports that the peer already occupied a slot and was moved
	// to the back of its bucket.
	Updated
	// ConflictOccurred reports that the peer's bucket was full and an
	// existing entry was evicted to make room; see Outcome.Conflict.
	ConflictOccurred
)

// Outcome is the result of a single Update call.
type Outcome struct {
	Kind     UpdateKind
	Conflict Conflict // valid only when Kind == ConflictOccurred
}

// Update is the single path by which peers enter the routing table (spec
// §4.2: "the update operation is the ONLY way peers enter the table").
//
//  1. If the peer's ID already occupies a slot, it is moved to the back and
//     Updated is reported.
//  2. Else if the bucket has room, the peer is appended and Added is
//     reported.
//  3. Else the front (least-recently-confirmed) entry is evicted, the new
//     peer appended, and a Conflict is reported; the caller (the operation
//     engine) decides whether to enqueue it via AddConflict or revert it
//     immediately via RevertConflict, depending on whether the node is
//     Defensive.
func (t *Table) Update(p peer.Info) (Outcome, error) {
	idx, ok := t.bucketIndex(p.ID)
	if !ok {
		return Outcome{}, ErrLocalID
	}

	b := t.buckets[idx]
	b.mu.Lock()
	defer b.mu.Unlock()

	if i := b.indexOf(p.ID); i >= 0 {
		b.peers[i] = p
		b.moveToBack(i)
		return Outcome{Kind: Updated}, nil
	}

	if len(b.peers) < t.k {
		b.peers = append(b.peers, p)
		return Outcome{Kind: Added}, nil
	}

	evicted := b.peers[0]
	b.peers = append(b.peers[1:], p)
	conflict := Conflict{Evicted: evicted, Evictor: p}
	log.Debugf("bucket %d full, evicting %s for %s", idx, evicted.ID, p.ID)
	return Outcome{Kind: ConflictOccurred, Conflict: conflict}, nil
}

// Lookup looks the target up in the table: an exact match if present,
// otherwise up to n of the closest known peers (skipping any in blacklist),
// or Nothing if the table is empty after filtering.
func (t *Table) Lookup(target id.ID, n int, blacklist []id.ID) LookupResult {
	if found, ok := t.specific(target); ok {
		return LookupResult{Kind: LookupFound, Peer: found}
	}

	blacklisted := make(map[id.ID]struct{}, len(blacklist))
	for _, b := range blacklist {
		blacklisted[b] = struct{}{}
	}

	closest := make([]peer.Info, 0, n)
	for _, p := range t.ClosestTo(target) {
		if _, skip := blacklisted[p.ID]; skip {
			continue
		}
		closest = append(closest, p)
		if len(closest) == n {
			break
		}
	}

	if len(closest) == 0 {
		return LookupResult{Kind: LookupNothing}
	}
	return LookupResult{Kind: LookupClosest, Closest: closest}
}

// specific returns the exact peer descriptor for an ID, if present.
func (t *Table) specific(target id.ID) (peer.Info, bool) {
	idx, ok := t.bucketIndex(target)
	if !ok {
		return peer.Info{}, false
	}
	b := t.buckets[idx]
	b.mu.RLock()
	defer b.mu.RUnlock()
	if i := b.indexOf(target); i >= 0 {
		return b.peers[i], true
	}
	return peer.Info{}, false
}

// Specific exposes specific() for callers outside the package (the engine
// uses it to check whether a lookup target has already converged into the
// table, e.g. via a sibling wave's Locate response).
func (t *Table) Specific(target id.ID) (peer.Info, bool) {
	return t.specific(target)
}

// ClosestTo enumerates every known peer in ascending XOR distance to
// reference without ever needing to split a bucket: the "bounce walk"
// (spec §4.2). It first visits the bucket indices given by the set-bit
// positions of (local XOR reference), descending (closest prefix match
// first), then the clear-bit positions, ascending. Within each bucket,
// peers are sorted by XOR distance to reference before being emitted.
func (t *Table) ClosestTo(reference id.ID) []peer.Info {
	distance := t.local.XOR(reference)

	order := distance.Ones().ReverseSlice()
	order = append(order, distance.Zeroes().Slice()...)

	out := make([]peer.Info, 0, t.k*2)
	for _, idx := range order {
		b := t.buckets[idx]
		bucketPeers := b.snapshot()
		if len(bucketPeers) == 0 {
			continue
		}
		sortByDistance(bucketPeers, reference)
		out = append(out, bucketPeers...)
	}
	return out
}

func sortByDistance(peers []peer.Info, reference id.ID) {
	sort.Slice(peers, func(i, j int) bool {
		return peers[i].ID.XOR(reference).Less(peers[j].ID.XOR(reference))
	})
}

// SortByDistance sorts an arbitrary peer slice by ascending XOR distance
// to reference and truncates it to at most n entries. Exposed so callers
// outside the package (the wave algorithm, folding in peers learned from
// RPC responses rather than the table itself) can reuse the same ordering
// rule as ClosestTo.
func SortByDistance(peers []peer.Info, reference id.ID, n int) []peer.Info {
	sortByDistance(peers, reference)
	if n >= 0 && len(peers) > n {
		peers = peers[:n]
	}
	return peers
}

// AllPeers returns every peer currently known to the table, in ascending
// distance order to the local ID. Used by bootstrap and maintenance when
// there is no more specific reference point.
func (t *Table) AllPeers() []peer.Info {
	return t.ClosestTo(t.local)
}

// Size returns the total number of peers held across all buckets.
func (t *Table) Size() int {
	total := 0
	for _, b := range t.buckets {
		total += b.len()
	}
	return total
}

// OldestBucket returns the index of the bucket with the oldest (or no)
// last-probed timestamp, used by the maintenance loop to pick a refresh
// target (spec §4.5.7).
func (t *Table) OldestBucket() (index int, lastProbed *time.Time) {
	var oldestIdx int
	var oldestTime *time.Time
	for i, b := range t.buckets {
		b.mu.RLock()
		probed := b.lastProbed
		b.mu.RUnlock()

		if probed == nil {
			return i, nil
		}
		if oldestTime == nil || probed.Before(*oldestTime) {
			oldestIdx, oldestTime = i, probed
		}
	}
	return oldestIdx, oldestTime
}

// MarkBucketProbed records that bucket idx was just probed at t.
func (t *Table) MarkBucketProbed(idx int, now time.Time) {
	if idx < 0 || idx >= id.Size {
		return
	}
	t.buckets[idx].markProbed(now)
}
