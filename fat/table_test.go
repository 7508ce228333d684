package fat

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func smallFAT16Volume() *Volume {
	vol, _, _ := newTestVolume(imageSpec{
		sectorsPerCluster: 1,
		reservedSectors:   1,
		numFATs:           1,
		rootEntryCount:    16,
		dataClusters:      16,
	})
	return vol
}

func TestAllocateFreeSpaceChainsClustersAndTerminatesEOC(t *testing.T) {
	vol := smallFAT16Volume()

	first, err := vol.AllocateFreeSpace(3, false)
	require.NoError(t, err)

	cur := first
	hops := 0
	for {
		next, err := vol.Next(cur)
		require.NoError(t, err)
		if next == FreeListEnd {
			break
		}
		cur = next
		hops++
		require.Less(t, hops, 10, "chain should terminate in EOC")
	}
	assert.Equal(t, 2, hops)
}

func TestFreeClusterChainReleasesEntries(t *testing.T) {
	vol := smallFAT16Volume()

	first, err := vol.AllocateFreeSpace(2, false)
	require.NoError(t, err)
	require.NoError(t, vol.FreeClusterChain(first))

	entry, err := vol.rawEntry(first)
	require.NoError(t, err)
	assert.EqualValues(t, 0, entry)
}

func TestAddFreeSpaceExtendsChain(t *testing.T) {
	vol := smallFAT16Volume()

	first, err := vol.AllocateFreeSpace(1, false)
	require.NoError(t, err)

	second, err := vol.AddFreeSpace(first)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	next, err := vol.Next(first)
	require.NoError(t, err)
	assert.Equal(t, second, next)

	tail, err := vol.Next(second)
	require.NoError(t, err)
	assert.Equal(t, FreeListEnd, tail)
}

func TestFindFreeExhaustionReturnsNoSpace(t *testing.T) {
	vol := smallFAT16Volume()

	_, err := vol.AllocateFreeSpace(16, false)
	require.NoError(t, err)

	_, err = vol.FindFree(firstDataCluster)
	assert.Error(t, err)
}

func TestAllocateFreeSpaceRollsBackOnFailure(t *testing.T) {
	vol := smallFAT16Volume()

	_, err := vol.AllocateFreeSpace(16, false)
	require.NoError(t, err)
	// Free exactly 2 clusters back up, then ask for 3: must fail and leave
	// the 2 it *could* claim released again.
	require.NoError(t, vol.SetNext(firstDataCluster, 0))
	require.NoError(t, vol.SetNext(firstDataCluster+1, 0))

	_, err = vol.AllocateFreeSpace(3, false)
	require.Error(t, err)

	e0, err := vol.rawEntry(firstDataCluster)
	require.NoError(t, err)
	e1, err := vol.rawEntry(firstDataCluster + 1)
	require.NoError(t, err)
	assert.EqualValues(t, 0, e0)
	assert.EqualValues(t, 0, e1)
}
