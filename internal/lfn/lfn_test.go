package lfn

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitJoinRoundTrip(t *testing.T) {
	names := []string{
		"a",
		"name-with-long-filename.txt",
		"thirteen-char",
		"this-is-a-much-longer-name-spanning-several-lfn-fragments.dat",
	}
	for _, name := range names {
		frags, err := Split(name)
		require.NoError(t, err)
		assert.NotEmpty(t, frags)
		assert.True(t, frags[len(frags)-1].Last)
		for _, f := range frags[:len(frags)-1] {
			assert.False(t, f.Last)
		}
		assert.Equal(t, name, Join(frags))
	}
}

func TestSplitEmptyNameFails(t *testing.T) {
	_, err := Split("")
	assert.Error(t, err)
}

func TestSplitOrdinalsAscend(t *testing.T) {
	frags, err := Split("this-is-a-much-longer-name-spanning-several-lfn-fragments.dat")
	require.NoError(t, err)
	for i, f := range frags {
		assert.Equal(t, byte(i+1), f.Ordinal)
	}
}

func TestChecksumMatchesKnownVector(t *testing.T) {
	// "FOO     TXT" is the 8.3 form of foo.txt.
	var sfn [11]byte
	copy(sfn[:], "FOO     TXT")
	sum := Checksum(sfn)

	// Folding the 11 bytes by hand with rotate-right-add gives 0x65.
	assert.Equal(t, byte(0x65), sum)
}

func TestChecksumStableAcrossCalls(t *testing.T) {
	var sfn [11]byte
	copy(sfn[:], "README  TXT")
	assert.Equal(t, Checksum(sfn), Checksum(sfn))
}

func TestJoinStopsAtTerminator(t *testing.T) {
	frags, err := Split("short")
	require.NoError(t, err)
	assert.Equal(t, "short", Join(frags))
}
