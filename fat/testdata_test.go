package fat

import (
	"encoding/binary"

	"github.com/gofat/fatfs/blockdev"
	"github.com/gofat/fatfs/sectorcache"
)

// imageSpec parameterizes the minimal synthetic FAT images built for these
// tests. Geometry is kept tiny (a handful of data clusters) except for the
// FAT32 classification test, where total_data_clusters is set large enough
// to cross the FAT16/FAT32 boundary while the backing buffer stays small:
// classification only reads the BPB's declared sector counts, never the
// count of clusters actually touched by a test.
type imageSpec struct {
	sectorsPerCluster uint8
	reservedSectors   uint16
	numFATs           uint8
	rootEntryCount    uint16 // 0 selects FAT32 layout
	dataClusters      uint32
}

func buildImage(spec imageSpec) []byte {
	entrySize := uint32(2)
	if spec.rootEntryCount == 0 {
		entrySize = 4
	}
	rootDirSectors := (uint32(spec.rootEntryCount)*32 + 511) / 512
	totalEntries := spec.dataClusters + 2
	fatBytes := totalEntries * entrySize
	fatSectors := (fatBytes + 511) / 512
	if fatSectors == 0 {
		fatSectors = 1
	}

	fatBeginLBA := uint32(spec.reservedSectors)
	rootDirLBA := fatBeginLBA + uint32(spec.numFATs)*fatSectors
	clusterBeginLBA := rootDirLBA + rootDirSectors
	totalSectors := fatBeginLBA + uint32(spec.numFATs)*fatSectors + rootDirSectors + spec.dataClusters*uint32(spec.sectorsPerCluster)

	// The backing buffer only needs to cover clusters a test actually
	// touches, not every cluster the BPB declares: Mount reads only LBA 0,
	// and FindFree/AddEntry in these tests never walk past the first
	// handful of clusters. Capping this independent of dataClusters keeps
	// the FAT32-classification test (which needs a large declared
	// total_data_clusters) from allocating tens of megabytes.
	touchedClusters := spec.dataClusters
	if touchedClusters > 16 {
		touchedClusters = 16
	}
	imgSectors := clusterBeginLBA + touchedClusters*uint32(spec.sectorsPerCluster) + 4
	img := make([]byte, imgSectors*blockdev.SectorSize)

	put16 := func(off uint32, v uint16) { binary.LittleEndian.PutUint16(img[off:], v) }
	put32 := func(off uint32, v uint32) { binary.LittleEndian.PutUint32(img[off:], v) }

	put16(11, blockdev.SectorSize)
	img[13] = spec.sectorsPerCluster
	put16(14, spec.reservedSectors)
	img[16] = spec.numFATs
	put16(17, spec.rootEntryCount)
	if totalSectors < 0x10000 {
		put16(19, uint16(totalSectors))
	} else {
		put32(32, totalSectors)
	}
	img[21] = 0xF8 // media descriptor, conventional fixed-disk value

	if spec.rootEntryCount != 0 {
		put16(22, uint16(fatSectors))
	} else {
		put32(36, fatSectors)
		put32(44, 2) // root cluster
	}

	img[510] = 0x55
	img[511] = 0xAA
	return img
}

func newTestVolume(spec imageSpec) (*Volume, blockdev.Device, []byte) {
	img := buildImage(spec)
	dev := blockdev.NewMemDevice(img)
	cache := sectorcache.New(dev, 8)
	vol, err := mount(dev, cache, nil)
	if err != nil {
		panic(err)
	}
	return vol, dev, img
}
