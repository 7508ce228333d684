package fat

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gofat/fatfs/blockdev"
)

func TestMountFAT16Geometry(t *testing.T) {
	vol, _, _ := newTestVolume(imageSpec{
		sectorsPerCluster: 1,
		reservedSectors:   1,
		numFATs:           1,
		rootEntryCount:    16,
		dataClusters:      32,
	})
	assert.Equal(t, FAT16, vol.FATType)
	assert.EqualValues(t, 512, vol.BytesPerSector)
	assert.EqualValues(t, 1, vol.FATBeginLBA)
	assert.True(t, vol.RootDirSectors > 0)
}

func TestMountFAT32Geometry(t *testing.T) {
	vol, _, _ := newTestVolume(imageSpec{
		sectorsPerCluster: 1,
		reservedSectors:   32,
		numFATs:           1,
		rootEntryCount:    0,
		dataClusters:      70000,
	})
	assert.Equal(t, FAT32, vol.FATType)
	assert.EqualValues(t, 2, vol.RootCluster)
	assert.EqualValues(t, 0, vol.RootDirSectors)
}

func TestMountRejectsBadSignature(t *testing.T) {
	img := buildImage(imageSpec{sectorsPerCluster: 1, reservedSectors: 1, numFATs: 1, rootEntryCount: 16, dataClusters: 32})
	img[510] = 0
	img[511] = 0
	dev := blockdev.NewMemDevice(img)
	_, err := Mount(dev, nil, nil)
	require.Error(t, err)
}

func TestMountRejectsNilDevice(t *testing.T) {
	_, err := Mount(nil, nil, nil)
	require.Error(t, err)
}
