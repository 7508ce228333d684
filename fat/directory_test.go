package fat

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateSFNBasic(t *testing.T) {
	sfn := GenerateSFN("readme.txt", 0)
	assert.Equal(t, "README  TXT", string(sfn[:]))
}

func TestGenerateSFNStripsInvalidCharsAndTruncates(t *testing.T) {
	sfn := GenerateSFN("my file name.longext", 0)
	assert.Equal(t, "MYFILENA", string(sfn[0:8]))
	assert.Equal(t, "LON", string(sfn[8:11]))
}

func TestGenerateSFNWithTail(t *testing.T) {
	sfn := GenerateSFN("name-with-long-filename.txt", 1)
	assert.Equal(t, "NAME-W~1TXT", string(sfn[:]))
}

func TestAddEntryAndFindEntryRoundTrip(t *testing.T) {
	vol := smallFAT16Volume()
	root := vol.RootRef()

	cluster, err := vol.AllocateFreeSpace(1, false)
	require.NoError(t, err)

	sfn := GenerateSFN("name-with-long-filename.txt", 0)
	require.NoError(t, vol.AddEntry(root, "name-with-long-filename.txt", sfn, cluster, 0, false, time.Now()))

	entry, ok, err := vol.FindEntry(root, "name-with-long-filename.txt")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "name-with-long-filename.txt", entry.LongName)
	assert.Equal(t, cluster, entry.FirstCluster)

	byShort, ok, err := vol.FindEntry(root, entry.ShortName)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, entry.FirstCluster, byShort.FirstCluster)
}

func TestEnumerateMatchesFindEntry(t *testing.T) {
	vol := smallFAT16Volume()
	root := vol.RootRef()

	for _, name := range []string{"alpha.txt", "beta.txt", "a-rather-long-filename.dat"} {
		cluster, err := vol.AllocateFreeSpace(1, false)
		require.NoError(t, err)
		sfn, err := vol.uniqueSFN(root, name)
		require.NoError(t, err)
		require.NoError(t, vol.AddEntry(root, name, sfn, cluster, 0, false, time.Now()))
	}

	entries, err := vol.Enumerate(root)
	require.NoError(t, err)
	require.Len(t, entries, 3)

	for _, e := range entries {
		found, ok, err := vol.FindEntry(root, e.LongName)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, e.FirstCluster, found.FirstCluster)
	}
}

func TestMarkDeletedRemovesEntryAndLFNRun(t *testing.T) {
	vol := smallFAT16Volume()
	root := vol.RootRef()

	cluster, err := vol.AllocateFreeSpace(1, false)
	require.NoError(t, err)
	sfn := GenerateSFN("a-long-file-name.txt", 0)
	require.NoError(t, vol.AddEntry(root, "a-long-file-name.txt", sfn, cluster, 0, false, time.Now()))

	require.NoError(t, vol.MarkDeleted(root, sfn))

	_, ok, err := vol.FindEntry(root, "a-long-file-name.txt")
	require.NoError(t, err)
	assert.False(t, ok)

	exists, err := vol.SFNExists(root, sfn)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestUpdateFileLengthPersists(t *testing.T) {
	vol := smallFAT16Volume()
	root := vol.RootRef()

	cluster, err := vol.AllocateFreeSpace(1, false)
	require.NoError(t, err)
	sfn := GenerateSFN("plain.txt", 0)
	require.NoError(t, vol.AddEntry(root, "plain.txt", sfn, cluster, 0, false, time.Now()))

	require.NoError(t, vol.UpdateFileLength(root, sfn, 1234))

	entry, ok, err := vol.FindEntry(root, "plain.txt")
	require.NoError(t, err)
	require.True(t, ok)
	assert.EqualValues(t, 1234, entry.Size)
}
