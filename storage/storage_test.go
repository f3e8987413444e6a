package storage

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PabloMansanet/subotai/id"
)

func newTestStorage(t *testing.T) (*Storage, *clock.Mock) {
	t.Helper()
	mock := clock.NewMock()
	s := New(id.Random(), DefaultConfig(), mock)
	return s, mock
}

func TestStoringAndRetrievingOnSameKey(t *testing.T) {
	s, mock := newTestStorage(t)
	key := id.Random()
	entry := Entry{ID: id.Random()}
	another := Entry{Blob: []byte("hello")}

	expiration := mock.Now().Add(30 * time.Minute)
	assert.Equal(t, Success, s.Store(key, entry, expiration))
	assert.Equal(t, Success, s.Store(key, another, expiration))

	retrieved, ok := s.Retrieve(key)
	require.True(t, ok)
	require.Len(t, retrieved, 2)
	assert.Equal(t, entry, retrieved[0])
	assert.Equal(t, another, retrieved[1])
}

func TestStoringPreexistingEntryKeepsMaxExpiration(t *testing.T) {
	s, mock := newTestStorage(t)
	key := id.Random()
	entry := Entry{ID: id.Random()}
	soon := mock.Now().Add(30 * time.Minute)
	later := mock.Now().Add(10 * time.Hour)

	assert.Equal(t, Success, s.Store(key, entry, later))
	assert.Equal(t, Success, s.Store(key, entry, soon))

	s.MarkAllAsReady()
	ready := s.ReadyEntries()
	require.Len(t, ready, 1)
	require.Len(t, ready[0].Entries, 1)
	assert.True(t, ready[0].Entries[0].Expiration.Equal(later))
}

func TestStoringPreexistingEntryClearsReadyFlag(t *testing.T) {
	s, mock := newTestStorage(t)
	key := id.Random()
	entry := Entry{ID: id.Random()}
	expiration := mock.Now().Add(30 * time.Minute)

	require.Equal(t, Success, s.Store(key, entry, expiration))
	s.MarkAllAsReady()
	require.Len(t, s.ReadyEntries(), 1)

	require.Equal(t, Success, s.Store(key, entry, expiration))
	assert.Len(t, s.ReadyEntries(), 0)
}

func TestExpirationClampedToBaseExpirationHours(t *testing.T) {
	s, mock := newTestStorage(t)
	key := id.Random()
	entry := Entry{ID: id.Random()}
	farFuture := mock.Now().Add(1000 * time.Hour)

	require.Equal(t, Success, s.Store(key, entry, farFuture))
	s.MarkAllAsReady()
	ready := s.ReadyEntries()
	require.Len(t, ready, 1)
	capped := mock.Now().Add(time.Duration(DefaultConfig().BaseExpirationHours) * time.Hour)
	assert.True(t, ready[0].Entries[0].Expiration.Equal(capped))
}

func TestBlobTooBigIsRejected(t *testing.T) {
	s, mock := newTestStorage(t)
	key := id.Random()
	big := Entry{Blob: make([]byte, DefaultConfig().MaxBlobBytes+1)}
	assert.Equal(t, BlobTooBig, s.Store(key, big, mock.Now().Add(time.Minute)))
}

func TestStorageFullRejectsNewKeys(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxEntries = 1
	mock := clock.NewMock()
	s := New(id.Random(), cfg, mock)

	first := id.Random()
	require.Equal(t, Success, s.Store(first, Entry{ID: id.Random()}, mock.Now().Add(time.Hour)))

	second := id.Random()
	assert.Equal(t, StorageFull, s.Store(second, Entry{ID: id.Random()}, mock.Now().Add(time.Hour)))
}

func TestClearingExpiredEntriesOnRetrieval(t *testing.T) {
	s, mock := newTestStorage(t)
	key := id.Random()
	entry := Entry{ID: id.Random()}
	require.Equal(t, Success, s.Store(key, entry, mock.Now().Add(time.Minute)))

	mock.Add(2 * time.Minute)

	_, ok := s.Retrieve(key)
	assert.False(t, ok)
	assert.Equal(t, 0, s.Len())
}

func TestRetrievingAllReadyEntriesAcrossKeys(t *testing.T) {
	s, mock := newTestStorage(t)
	keyAlpha, keyBeta := id.Random(), id.Random()
	exp := mock.Now().Add(30 * time.Minute)

	require.Equal(t, Success, s.Store(keyAlpha, Entry{ID: id.Random()}, exp))
	require.Equal(t, Success, s.Store(keyAlpha, Entry{ID: id.Random()}, exp))
	require.Equal(t, Success, s.Store(keyBeta, Entry{ID: id.Random()}, exp))

	assert.Len(t, s.ReadyEntries(), 0)
	s.MarkAllAsReady()
	ready := s.ReadyEntries()
	assert.Len(t, ready, 2)
	assert.Equal(t, 3, s.Len())
}

func TestEntriesCloserToFiltersByDistance(t *testing.T) {
	local := id.Random()
	mock := clock.NewMock()
	s := New(local, DefaultConfig(), mock)

	key := id.RandomAtDistance(local, 10)
	closeKey := id.RandomAtDistance(local, 3)
	otherNode := id.RandomAtDistance(key, 5)

	exp := mock.Now().Add(30 * time.Minute)
	require.Equal(t, Success, s.Store(key, Entry{ID: id.Random()}, exp))
	require.Equal(t, Success, s.Store(closeKey, Entry{ID: id.Random()}, exp))

	entries := s.EntriesCloserTo(otherNode)
	require.Len(t, entries, 1)
	assert.Equal(t, key, entries[0].Key)
}

func TestCacheTTLShortensWithDistance(t *testing.T) {
	now := time.Now()
	local := id.Random()
	near := id.RandomAtDistance(local, 1)
	far := id.RandomAtDistance(local, 10)

	nearTTL := CacheTTL(now, near, local, 8, 24)
	farTTL := CacheTTL(now, far, local, 8, 24)

	assert.True(t, farTTL.Before(nearTTL) || farTTL.Equal(nearTTL))
}
