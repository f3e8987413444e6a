package routing

import (
	"sync"
	"time"

	"github.com/PabloMansanet/subotai/id"
	"github.com/PabloMansanet/subotai/peer"
)

// bucket is a capacity-bounded, insertion-ordered list of peer descriptors
// sharing a common prefix length to the local ID. The front of the slice is
// the least-recently-confirmed peer; the back is the most recent. Each
// bucket carries its own lock so that writers in different buckets never
// contend (spec §4.2/§5: "a single update is atomic with respect to its
// bucket", "no ordering is promised across buckets").
type bucket struct {
	mu         sync.RWMutex
	peers      []peer.Info
	lastProbed *time.Time
}

func newBucket() *bucket {
	return &bucket{}
}

// snapshot returns a copy of the bucket's peers, safe to range over without
// holding the lock.
func (b *bucket) snapshot() []peer.Info {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]peer.Info, len(b.peers))
	copy(out, b.peers)
	return out
}

func (b *bucket) len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.peers)
}

func (b *bucket) indexOf(target id.ID) int {
	for i, p := range b.peers {
		if p.ID == target {
			return i
		}
	}
	return -1
}

// moveToBack relocates the peer at index i to the back of the slice.
func (b *bucket) moveToBack(i int) {
	p := b.peers[i]
	b.peers = append(b.peers[:i], b.peers[i+1:]...)
	b.peers = append(b.peers, p)
}

func (b *bucket) markProbed(now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	t := now
	b.lastProbed = &t
}

// replace swaps the peer with the given ID for replacement, returning
// whether it was found.
func (b *bucket) replace(target id.ID, replacement peer.Info) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, p := range b.peers {
		if p.ID == target {
			b.peers[i] = replacement
			return true
		}
	}
	return false
}
