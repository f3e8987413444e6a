package routing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PabloMansanet/subotai/id"
	"github.com/PabloMansanet/subotai/peer"
)

const testK = 20

func newTestPeer(t *testing.T, at id.ID) peer.Info {
	t.Helper()
	addr, err := peer.NewAddr("127.0.0.1", 4000)
	require.NoError(t, err)
	return peer.Info{ID: at, Addr: addr}
}

func TestUpdateRejectsLocalID(t *testing.T) {
	local := id.Random()
	table := New(local, testK)
	_, err := table.Update(peer.Info{ID: local})
	assert.ErrorIs(t, err, ErrLocalID)
	assert.Equal(t, 0, table.Size())
}

func TestUpdateAddsThenUpdatesOnRepeat(t *testing.T) {
	local := id.Random()
	table := New(local, testK)
	p := newTestPeer(t, id.RandomAtDistance(local, 10))

	outcome, err := table.Update(p)
	require.NoError(t, err)
	assert.Equal(t, Added, outcome.Kind)

	outcome, err = table.Update(p)
	require.NoError(t, err)
	assert.Equal(t, Updated, outcome.Kind)
	assert.Equal(t, 1, table.Size())
}

func TestBucketIndexMatchesHeight(t *testing.T) {
	local := id.Random()
	table := New(local, testK)
	for _, d := range []int{1, 17, 100, 159} {
		p := newTestPeer(t, id.RandomAtDistance(local, d))
		_, err := table.Update(p)
		require.NoError(t, err)
		idx, ok := table.bucketIndex(p.ID)
		require.True(t, ok)
		assert.Equal(t, d, idx)
	}
}

func TestFillingBucketToKCausesNoConflict(t *testing.T) {
	local := id.Random()
	table := New(local, testK)
	dist := 50

	for i := 0; i < testK; i++ {
		p := newTestPeer(t, id.RandomAtDistance(local, dist))
		outcome, err := table.Update(p)
		require.NoError(t, err)
		require.NotEqual(t, ConflictOccurred, outcome.Kind)
	}
	assert.Equal(t, testK, table.Size())

	overflow := newTestPeer(t, id.RandomAtDistance(local, dist))
	outcome, err := table.Update(overflow)
	require.NoError(t, err)
	assert.Equal(t, ConflictOccurred, outcome.Kind)
	assert.Equal(t, testK, table.Size())
}

func TestLookupFindsExactMatch(t *testing.T) {
	local := id.Random()
	table := New(local, testK)
	p := newTestPeer(t, id.RandomAtDistance(local, 5))
	_, err := table.Update(p)
	require.NoError(t, err)

	result := table.Lookup(p.ID, testK, nil)
	require.Equal(t, LookupFound, result.Kind)
	assert.Equal(t, p.ID, result.Peer.ID)
}

func TestLookupReturnsClosestWhenNotFound(t *testing.T) {
	local := id.Random()
	table := New(local, testK)
	for _, d := range []int{5, 6, 7, 150} {
		_, err := table.Update(newTestPeer(t, id.RandomAtDistance(local, d)))
		require.NoError(t, err)
	}

	target := id.RandomAtDistance(local, 5)
	result := table.Lookup(target, 2, nil)
	require.Equal(t, LookupClosest, result.Kind)
	assert.LessOrEqual(t, len(result.Closest), 2)
}

func TestLookupReturnsNothingWhenEmpty(t *testing.T) {
	local := id.Random()
	table := New(local, testK)
	result := table.Lookup(id.Random(), testK, nil)
	assert.True(t, result.IsNothing())
}

func TestLookupHonorsBlacklist(t *testing.T) {
	local := id.Random()
	table := New(local, testK)
	p := newTestPeer(t, id.RandomAtDistance(local, 5))
	_, err := table.Update(p)
	require.NoError(t, err)

	result := table.Lookup(id.Random(), testK, []id.ID{p.ID})
	assert.True(t, result.IsNothing())
}

func TestClosestToIsMonotoneInDistance(t *testing.T) {
	local := id.Random()
	table := New(local, testK)
	for i := 0; i < 50; i++ {
		_, err := table.Update(newTestPeer(t, id.Random()))
		require.NoError(t, err)
	}

	reference := id.Random()
	ordered := table.ClosestTo(reference)
	for i := 1; i < len(ordered); i++ {
		prevDist := ordered[i-1].ID.XOR(reference)
		currDist := ordered[i].ID.XOR(reference)
		assert.False(t, currDist.Less(prevDist), "not monotone at index %d", i)
	}
}

func TestRevertConflictRestoresEvictedPeer(t *testing.T) {
	local := id.Random()
	table := New(local, testK)
	dist := 80

	var first peer.Info
	for i := 0; i < testK; i++ {
		p := newTestPeer(t, id.RandomAtDistance(local, dist))
		if i == 0 {
			first = p
		}
		_, err := table.Update(p)
		require.NoError(t, err)
	}

	overflow := newTestPeer(t, id.RandomAtDistance(local, dist))
	outcome, err := table.Update(overflow)
	require.NoError(t, err)
	require.Equal(t, ConflictOccurred, outcome.Kind)
	assert.Equal(t, first.ID, outcome.Conflict.Evicted.ID)

	table.RevertConflict(outcome.Conflict)
	result := table.Lookup(first.ID, 1, nil)
	require.Equal(t, LookupFound, result.Kind)

	result = table.Lookup(overflow.ID, 1, nil)
	assert.Equal(t, LookupClosest, result.Kind)
}

func TestConflictQueueLifecycle(t *testing.T) {
	local := id.Random()
	table := New(local, testK)
	dist := 80
	for i := 0; i < testK; i++ {
		_, err := table.Update(newTestPeer(t, id.RandomAtDistance(local, dist)))
		require.NoError(t, err)
	}
	overflow := newTestPeer(t, id.RandomAtDistance(local, dist))
	outcome, err := table.Update(overflow)
	require.NoError(t, err)
	require.Equal(t, ConflictOccurred, outcome.Kind)

	table.AddConflict(outcome.Conflict)
	assert.Equal(t, 1, table.ConflictCount())

	table.IncrementProbes(outcome.Conflict.Evicted)
	conflicts := table.Conflicts()
	require.Len(t, conflicts, 1)
	assert.Equal(t, 1, conflicts[0].Probes)

	_, removed := table.RemoveConflict(outcome.Conflict.Evicted)
	assert.True(t, removed)
	assert.Equal(t, 0, table.ConflictCount())
}

func TestOldestBucketStartsUnprobed(t *testing.T) {
	local := id.Random()
	table := New(local, testK)
	_, lastProbed := table.OldestBucket()
	assert.Nil(t, lastProbed)
}

func TestMarkBucketProbedUpdatesOldest(t *testing.T) {
	local := id.Random()
	table := New(local, testK)
	now := time.Now()
	for i := range table.buckets {
		table.MarkBucketProbed(i, now)
	}
	idx, lastProbed := table.OldestBucket()
	require.NotNil(t, lastProbed)
	assert.GreaterOrEqual(t, idx, 0)

	later := now.Add(time.Hour)
	table.MarkBucketProbed(0, later)
	for i := 1; i < id.Size; i++ {
		table.MarkBucketProbed(i, later)
	}
	table.MarkBucketProbed(5, now)
	idx, _ = table.OldestBucket()
	assert.Equal(t, 5, idx)
}
