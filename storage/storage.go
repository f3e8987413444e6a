// Package storage implements the local key-group value store: per-key
// lists of (value, expiration) pairs with TTL enforcement and republish
// bookkeeping.
//
// Adapted from original_source/src/storage/mod.rs (Storage, ExtendedEntry,
// KeyGroup), carrying over its store/retrieve/clear_expired_entries/
// mark_all_as_ready/get_entries_closer_to/get_all_ready_entries operations,
// rewritten onto the teacher's locking idiom (a single RWMutex guarding the
// map, mirrored from diogo464-go-libp2p-kbucket's per-bucket RWMutex use)
// and onto an injected Clock rather than a global time source.
package storage

import (
	"sync"
	"time"

	logging "github.com/ipfs/go-log"

	"github.com/PabloMansanet/subotai/id"
)

var log = logging.Logger("storage")

// Clock abstracts time.Now so tests can advance time deterministically
// instead of sleeping (spec §3 [ADDED]: satisfied by benbjohnson/clock's
// real and mock clocks).
type Clock interface {
	Now() time.Time
}

// Entry is a value that can be stored and retrieved: either a reference to
// another ID, or a binary blob of bounded size.
type Entry struct {
	ID   id.ID
	Blob []byte
}

// IsBlob reports whether the entry carries a binary blob rather than an ID
// reference.
func (e Entry) IsBlob() bool {
	return e.Blob != nil
}

// Equal compares two entries for the purposes of key-group deduplication.
func (e Entry) Equal(other Entry) bool {
	if e.IsBlob() != other.IsBlob() {
		return false
	}
	if e.IsBlob() {
		if len(e.Blob) != len(other.Blob) {
			return false
		}
		for i := range e.Blob {
			if e.Blob[i] != other.Blob[i] {
				return false
			}
		}
		return true
	}
	return e.ID.Equal(other.ID)
}

type extendedEntry struct {
	entry          Entry
	expiration     time.Time
	republishReady bool
}

type keyGroup []extendedEntry

// Result is the outcome of a Store call.
type Result int

const (
	// Success reports that the entry was stored (or its expiration
	// extended, if it was already present).
	Success Result = iota
	// StorageFull reports that the node already holds max_storage
	// entries and the value was not already stored under the key.
	StorageFull
	// BlobTooBig reports that a blob entry exceeds max_blob_bytes.
	BlobTooBig
)

// Config bounds the storage layer (spec §4.3).
type Config struct {
	MaxEntries          int
	MaxBlobBytes        int
	BaseExpirationHours int
}

// DefaultConfig mirrors spec.md §4.3's defaults.
func DefaultConfig() Config {
	return Config{
		MaxEntries:          10000,
		MaxBlobBytes:        1024,
		BaseExpirationHours: 24,
	}
}

// Storage holds every key-group owned by a single node.
type Storage struct {
	mu        sync.RWMutex
	groups    map[id.ID]keyGroup
	localID   id.ID
	cfg       Config
	clock     Clock
}

// New constructs an empty Storage for the local node identified by localID.
func New(localID id.ID, cfg Config, clock Clock) *Storage {
	return &Storage{
		groups:  make(map[id.ID]keyGroup),
		localID: localID,
		cfg:     cfg,
		clock:   clock,
	}
}

// Len returns the total number of entries across all key-groups.
func (s *Storage) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lenLocked()
}

func (s *Storage) lenLocked() int {
	total := 0
	for _, g := range s.groups {
		total += len(g)
	}
	return total
}

func (s *Storage) maxExpiration() time.Time {
	return s.clock.Now().Add(time.Duration(s.cfg.BaseExpirationHours) * time.Hour)
}

// Store inserts or refreshes an entry under key (spec §4.3 store
// operation).
func (s *Storage) Store(key id.ID, entry Entry, requestedExpiration time.Time) Result {
	if entry.IsBlob() && len(entry.Blob) > s.cfg.MaxBlobBytes {
		return BlobTooBig
	}

	effective := requestedExpiration
	if capped := s.maxExpiration(); effective.After(capped) {
		effective = capped
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	group, exists := s.groups[key]
	if exists {
		for i := range group {
			if group[i].entry.Equal(entry) {
				if effective.After(group[i].expiration) {
					group[i].expiration = effective
				}
				group[i].republishReady = false
				return Success
			}
		}
	}

	if s.lenLocked() >= s.cfg.MaxEntries {
		return StorageFull
	}

	group = append(group, extendedEntry{entry: entry, expiration: effective})
	s.groups[key] = group
	return Success
}

// Retrieve purges expired entries, then returns every current value stored
// under key.
func (s *Storage) Retrieve(key id.ID) ([]Entry, bool) {
	s.ClearExpiredEntries()

	s.mu.RLock()
	defer s.mu.RUnlock()
	group, ok := s.groups[key]
	if !ok || len(group) == 0 {
		return nil, false
	}
	out := make([]Entry, len(group))
	for i, e := range group {
		out[i] = e.entry
	}
	return out, true
}

// ClearExpiredEntries removes every entry whose expiration has passed, and
// drops key-groups left empty.
func (s *Storage) ClearExpiredEntries() {
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	for key, group := range s.groups {
		kept := group[:0]
		for _, e := range group {
			if now.Before(e.expiration) {
				kept = append(kept, e)
			}
		}
		if len(kept) == 0 {
			delete(s.groups, key)
		} else {
			s.groups[key] = kept
		}
	}
}

// MarkAllAsReady flags every stored entry as ready for republishing
// (spec §4.3, §4.5.7: run once per hour by the maintenance loop).
func (s *Storage) MarkAllAsReady() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, group := range s.groups {
		for i := range group {
			group[i].republishReady = true
		}
		s.groups[key] = group
	}
}

// KeyEntries pairs a key with the (entry, expiration) pairs held under it.
type KeyEntries struct {
	Key     id.ID
	Entries []TimedEntry
}

// TimedEntry is a stored value together with its current expiration.
type TimedEntry struct {
	Entry      Entry
	Expiration time.Time
}

// ReadyEntries returns every key-group holding at least one entry flagged
// ready for republishing. It clears expired entries first, matching the
// original implementation's get_all_ready_entries.
func (s *Storage) ReadyEntries() []KeyEntries {
	s.ClearExpiredEntries()

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []KeyEntries
	for key, group := range s.groups {
		var ready []TimedEntry
		for _, e := range group {
			if e.republishReady {
				ready = append(ready, TimedEntry{Entry: e.entry, Expiration: e.expiration})
			}
		}
		if len(ready) > 0 {
			out = append(out, KeyEntries{Key: key, Entries: ready})
		}
	}
	return out
}

// EntriesCloserTo returns every key-group whose key is closer (by XOR
// distance) to target than to the local node's own ID. Used by the
// maintenance loop to opportunistically republish at a newly discovered,
// better-positioned custodian (original_source/src/storage/mod.rs's
// get_entries_closer_to, dropped from spec.md's distillation, reinstated
// per SPEC_FULL.md §4.3 [ADDED]).
func (s *Storage) EntriesCloserTo(target id.ID) []KeyEntries {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []KeyEntries
	for key, group := range s.groups {
		if !key.XOR(target).Less(key.XOR(s.localID)) {
			continue
		}
		entries := make([]TimedEntry, len(group))
		for i, e := range group {
			entries[i] = TimedEntry{Entry: e.entry, Expiration: e.expiration}
		}
		out = append(out, KeyEntries{Key: key, Entries: entries})
	}
	return out
}

// ClearReadyFlag clears the republish-ready flag on every entry matching
// key and expiration, called by the maintenance loop once a republish
// attempt has gone out (spec §4.3: "maintenance clears them explicitly
// after republishing").
func (s *Storage) ClearReadyFlag(key id.ID, expiration time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	group, ok := s.groups[key]
	if !ok {
		return
	}
	for i := range group {
		if group[i].expiration.Equal(expiration) {
			group[i].republishReady = false
		}
	}
}

// CacheTTL computes the distance-shortened expiration used when the engine
// opportunistically caches a value it retrieved from elsewhere (spec
// §4.3): the further the cache holder is from the key, the shorter the TTL,
// down to a floor of base_expiration_hours/2^16.
func CacheTTL(now time.Time, cacheHolder, key id.ID, distanceThreshold, baseExpirationHours int) time.Time {
	height, ok := cacheHolder.XOR(key).Height()
	d := 0
	if ok {
		d = height
	}
	adjusted := d - distanceThreshold
	if adjusted < 0 {
		adjusted = 0
	}
	if adjusted > 16 {
		adjusted = 16
	}
	minutes := (baseExpirationHours * 60) >> uint(adjusted)
	return now.Add(time.Duration(minutes) * time.Minute)
}
