// Package fat implements the FAT16/FAT32 filesystem core: volume layout
// resolution, the FAT table manager, the directory codec, the path
// resolver, the per-file cluster cache, the file engine, and the
// top-level API with its handle table. Everything in this package sits
// on top of blockdev.Device and sectorcache.Cache only; it never touches
// a real disk directly.
package fat

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/gofat/fatfs/blockdev"
	fserrors "github.com/gofat/fatfs/errors"
	"github.com/gofat/fatfs/sectorcache"
)

// Type identifies which on-disk FAT variant a volume was formatted with.
type Type int

const (
	FAT16 Type = iota
	FAT32
)

func (t Type) String() string {
	if t == FAT32 {
		return "FAT32"
	}
	return "FAT16"
}

// Cluster addresses. Cluster numbering starts at 2; 0 and 1 are reserved.
const (
	firstDataCluster = 2

	// FAT32LastCluster is the canonical end-of-chain sentinel this engine
	// writes. Readers treat any value >= 0x0FFFFFF8 as EOC.
	FAT32LastCluster uint32 = 0x0FFFFFFF
	fat32EOCMin      uint32 = 0x0FFFFFF8
	fat32BadCluster  uint32 = 0x0FFFFFF7
	fat32Mask               = 0x0FFFFFFF

	fat16EOCMin     uint16 = 0xFFF8
	fat16BadCluster uint16 = 0xFFF7
	fat16LastCluster uint16 = 0xFFFF
)

// FreeListEnd is the cluster-chain terminator callers see from Volume.Next:
// an allocated chain's last cluster returns this value.
const FreeListEnd uint32 = FAT32LastCluster

const bootSectorSignatureOffset = 510
const bootSectorSignature = 0xAA55

// bpb mirrors dargueta-disko's RawFATBootSectorWithBPB: the portion of the
// boot sector common to FAT16 and FAT32, read with encoding/binary exactly
// as NewFATBootSectorFromStream does.
type bpb struct {
	JmpBoot         [3]byte
	OEMName         [8]byte
	BytesPerSector  uint16
	SecPerCluster   uint8
	ReservedSectors uint16
	NumFATs         uint8
	RootEntryCount  uint16
	TotalSectors16  uint16
	Media           uint8
	FATSectors16    uint16
	SectorsPerTrack uint16
	NumHeads        uint16
	HiddenSectors   uint32
	TotalSectors32  uint32
}

// fat32Extra mirrors the FAT32-only extended BPB fields (offsets 36-65 in
// soypat/fat's tables.go: bpbFATSz32, bpbRootClus32, ...).
type fat32Extra struct {
	FATSize32    uint32
	ExtFlags     uint16
	FSVersion    uint16
	RootCluster  uint32
	FSInfoSector uint16
	BkBootSector uint16
	_            [12]byte
}

// Volume is the resolved, mounted geometry of one FAT filesystem plus the
// handle it needs to read and write metadata sectors. It is the "Volume
// descriptor (singleton per mount)" of the specification's data model,
// re-architected per the Design Notes as an explicit value the caller
// owns rather than a process-wide global.
type Volume struct {
	dev    blockdev.Device
	cache  *sectorcache.Cache
	Locker blockdev.Locker

	BytesPerSector    uint16
	SectorsPerCluster uint8
	ReservedSectors   uint16
	NumFATs           uint8
	RootEntryCount    uint16
	FATSectors        uint32
	TotalSectors      uint32
	RootCluster       uint32 // FAT32 only

	FATType           Type
	FATBeginLBA       uint32
	RootDirLBA        uint32 // FAT16 only: start of the fixed root region
	RootDirSectors    uint32 // FAT16 only
	ClusterBeginLBA   uint32
	TotalDataClusters uint32
}

// Mount reads LBA 0 from dev, validates the BPB, and resolves the derived
// geometry described in specification §4.2. cache is the write-back sector
// cache (specification §4.1) shared by the FAT table manager and the
// directory codec; locker is optional host mutual exclusion (nil means no
// locking).
func Mount(dev blockdev.Device, cache *sectorcache.Cache, locker blockdev.Locker) (*Volume, error) {
	return mount(dev, cache, locker)
}

// BytesPerCluster is a derived convenience used throughout the file engine.
func (v *Volume) BytesPerCluster() uint32 {
	return uint32(v.BytesPerSector) * uint32(v.SectorsPerCluster)
}

// IsEOC reports whether a raw FAT entry value (already masked to the
// relevant width) denotes end-of-chain.
func (v *Volume) IsEOC(entry uint32) bool {
	if v.FATType == FAT32 {
		return entry&fat32Mask >= fat32EOCMin
	}
	return uint16(entry) >= fat16EOCMin
}

// ClusterToLBA converts a data cluster index to its first LBA.
func (v *Volume) ClusterToLBA(cluster uint32) blockdev.LBA {
	return blockdev.LBA(v.ClusterBeginLBA + (cluster-firstDataCluster)*uint32(v.SectorsPerCluster))
}

func readBPB(dev blockdev.Device) ([]byte, error) {
	buf := make([]byte, blockdev.SectorSize)
	if !dev.ReadSector(0, buf) {
		return nil, fserrors.ErrIOFailed.WithMessage("failed to read boot sector at LBA 0")
	}
	return buf, nil
}

func mount(dev blockdev.Device, cache *sectorcache.Cache, locker blockdev.Locker) (*Volume, error) {
	if dev == nil {
		return nil, fserrors.ErrNoMedia.WithMessage("attach requires a non-nil block device")
	}
	raw, err := readBPB(dev)
	if err != nil {
		return nil, err
	}

	sig := binary.LittleEndian.Uint16(raw[bootSectorSignatureOffset:])
	if sig != bootSectorSignature {
		return nil, fserrors.ErrBadFormat.WithMessage("missing 0x55AA boot sector signature")
	}

	var hdr bpb
	if err := binary.Read(bytes.NewReader(raw), binary.LittleEndian, &hdr); err != nil {
		return nil, fserrors.ErrBadFormat.WrapError(err)
	}

	if hdr.BytesPerSector != blockdev.SectorSize {
		return nil, fserrors.ErrBadFormat.WithMessage(
			fmt.Sprintf("unsupported bytes-per-sector %d (only 512 is supported)", hdr.BytesPerSector))
	}
	switch hdr.SecPerCluster {
	case 1, 2, 4, 8, 16, 32, 64, 128:
	default:
		return nil, fserrors.ErrBadFormat.WithMessage(
			fmt.Sprintf("invalid sectors-per-cluster %d", hdr.SecPerCluster))
	}
	if hdr.ReservedSectors == 0 {
		return nil, fserrors.ErrBadFormat.WithMessage("reserved sector count must be non-zero")
	}
	if hdr.NumFATs < 1 {
		return nil, fserrors.ErrBadFormat.WithMessage("number of FATs must be at least 1")
	}

	var fatSize32 uint32
	var rootCluster uint32
	fatSectors := uint32(hdr.FATSectors16)
	if fatSectors == 0 {
		var extra fat32Extra
		if err := binary.Read(bytes.NewReader(raw[36:]), binary.LittleEndian, &extra); err != nil {
			return nil, fserrors.ErrBadFormat.WrapError(err)
		}
		fatSize32 = extra.FATSize32
		rootCluster = extra.RootCluster
		fatSectors = fatSize32
	}
	if fatSectors == 0 {
		return nil, fserrors.ErrBadFormat.WithMessage("FAT size is zero in both FAT16 and FAT32 fields")
	}

	totalSectors := uint32(hdr.TotalSectors16)
	if totalSectors == 0 {
		totalSectors = hdr.TotalSectors32
	}
	if totalSectors == 0 {
		return nil, fserrors.ErrBadFormat.WithMessage("total sector count is zero")
	}

	rootDirSectors := (uint32(hdr.RootEntryCount)*32 + uint32(hdr.BytesPerSector) - 1) / uint32(hdr.BytesPerSector)
	fatBeginLBA := uint32(hdr.ReservedSectors)
	rootDirLBA := fatBeginLBA + uint32(hdr.NumFATs)*fatSectors
	clusterBeginLBA := rootDirLBA + rootDirSectors

	dataSectors := totalSectors - (uint32(hdr.ReservedSectors) + uint32(hdr.NumFATs)*fatSectors + rootDirSectors)
	totalDataClusters := dataSectors / uint32(hdr.SecPerCluster)

	fatType := FAT16
	if totalDataClusters >= 65525 {
		fatType = FAT32
	}
	if fatType == FAT32 && rootDirSectors != 0 {
		return nil, fserrors.ErrBadFormat.WithMessage("FAT32 volume has a non-zero fixed root directory region")
	}
	if fatType == FAT32 && rootCluster < firstDataCluster {
		return nil, fserrors.ErrBadFormat.WithMessage("FAT32 volume has an invalid root cluster")
	}

	v := &Volume{
		dev:               dev,
		Locker:            locker,
		BytesPerSector:    hdr.BytesPerSector,
		SectorsPerCluster: hdr.SecPerCluster,
		ReservedSectors:   hdr.ReservedSectors,
		NumFATs:           hdr.NumFATs,
		RootEntryCount:    hdr.RootEntryCount,
		FATSectors:        fatSectors,
		TotalSectors:      totalSectors,
		RootCluster:       rootCluster,
		FATType:           fatType,
		FATBeginLBA:       fatBeginLBA,
		RootDirLBA:        rootDirLBA,
		RootDirSectors:    rootDirSectors,
		ClusterBeginLBA:   clusterBeginLBA,
		TotalDataClusters: totalDataClusters,
	}
	if locker == nil {
		v.Locker = blockdev.NoLock
	}
	v.cache = cache
	return v, nil
}

// Shutdown flushes all pending metadata writes (specification §3:
// "destroyed by shutdown, which must flush the FAT buffer") and detaches
// the volume from its device.
func (v *Volume) Shutdown() error {
	if err := v.cache.Purge(); err != nil {
		return err
	}
	v.dev = nil
	return nil
}
