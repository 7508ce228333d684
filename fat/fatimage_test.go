package fat_test

import (
	"encoding/binary"
	"testing"

	"github.com/gofat/fatfs/blockdev"
)

// buildFAT16Image builds a minimal, valid FAT16 boot sector plus a fully
// backed image (FAT, fixed 16-entry root directory, and dataClusters
// one-sector data clusters), the same synthetic-disk construction
// fat/testdata_test.go uses internally, duplicated here because this file
// lives in the external fat_test package alongside the public-API
// scenario tests in fs_test.go.
func buildFAT16Image(t *testing.T, dataClusters uint32) []byte {
	t.Helper()

	const sectorsPerCluster = 1
	const reservedSectors = 1
	const numFATs = 1
	const rootEntryCount = 16

	entrySize := uint32(2)
	rootDirSectors := (uint32(rootEntryCount)*32 + 511) / 512
	totalEntries := dataClusters + 2
	fatBytes := totalEntries * entrySize
	fatSectors := (fatBytes + 511) / 512
	if fatSectors == 0 {
		fatSectors = 1
	}

	fatBeginLBA := uint32(reservedSectors)
	rootDirLBA := fatBeginLBA + uint32(numFATs)*fatSectors
	clusterBeginLBA := rootDirLBA + rootDirSectors
	totalSectors := clusterBeginLBA + dataClusters*sectorsPerCluster

	img := make([]byte, totalSectors*blockdev.SectorSize)

	put16 := func(off uint32, v uint16) { binary.LittleEndian.PutUint16(img[off:], v) }

	put16(11, blockdev.SectorSize)
	img[13] = sectorsPerCluster
	put16(14, reservedSectors)
	img[16] = numFATs
	put16(17, rootEntryCount)
	put16(19, uint16(totalSectors))
	img[21] = 0xF8 // media descriptor, conventional fixed-disk value
	put16(22, uint16(fatSectors))

	img[510] = 0x55
	img[511] = 0xAA
	return img
}
