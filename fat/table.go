package fat

import (
	"fmt"

	"github.com/gofat/fatfs/blockdev"
	fserrors "github.com/gofat/fatfs/errors"
)

const fat16EntrySize = 2
const fat32EntrySize = 4

func (v *Volume) entrySize() uint32 {
	if v.FATType == FAT32 {
		return fat32EntrySize
	}
	return fat16EntrySize
}

// entryLocation implements specification §4.3's
// entry_lba_and_offset(cluster): lba = fat_begin_lba + (cluster*entry_size)/512.
func (v *Volume) entryLocation(cluster uint32) (blockdev.LBA, uint32) {
	byteOffset := cluster * v.entrySize()
	lba := v.FATBeginLBA + byteOffset/uint32(v.BytesPerSector)
	return blockdev.LBA(lba), byteOffset % uint32(v.BytesPerSector)
}

// Next returns the cluster following cluster in its chain, or FreeListEnd
// if cluster is the last in its chain (specification §4.3 next()).
func (v *Volume) Next(cluster uint32) (uint32, error) {
	lba, offset := v.entryLocation(cluster)
	sector, err := v.cache.Get(lba)
	if err != nil {
		return 0, err
	}
	var raw uint32
	if v.FATType == FAT32 {
		raw = leUint32(sector[offset:]) & fat32Mask
	} else {
		raw = uint32(leUint16(sector[offset:]))
	}
	if v.IsEOC(raw) {
		return FreeListEnd, nil
	}
	return raw, nil
}

// SetNext writes value into cluster's FAT entry through the write-back
// cache (specification §4.3 set()): the sector is left dirty, the
// secondary FAT copy is never touched (see DESIGN.md's Open Question on
// FAT mirroring).
func (v *Volume) SetNext(cluster uint32, value uint32) error {
	if !v.dev.CanWrite() {
		return fserrors.ErrReadOnly.WithMessage("volume has no write support")
	}
	lba, offset := v.entryLocation(cluster)
	sector, err := v.cache.Get(lba)
	if err != nil {
		return err
	}
	if v.FATType == FAT32 {
		existing := leUint32(sector[offset:])
		merged := (existing &^ fat32Mask) | (value & fat32Mask)
		putLeUint32(sector[offset:], merged)
	} else {
		putLeUint16(sector[offset:], uint16(value))
	}
	v.cache.MarkDirty(lba)
	return nil
}

// MarkEOC writes the end-of-chain sentinel to cluster's entry.
func (v *Volume) MarkEOC(cluster uint32) error {
	return v.SetNext(cluster, FAT32LastCluster)
}

// FindNextCluster walks n hops downstream of chainFrom (specification
// §4.3 find_next_cluster).
func (v *Volume) FindNextCluster(chainFrom uint32, n int) (uint32, error) {
	cur := chainFrom
	for i := 0; i < n; i++ {
		next, err := v.Next(cur)
		if err != nil {
			return 0, err
		}
		if next == FreeListEnd {
			return FreeListEnd, nil
		}
		cur = next
	}
	return cur, nil
}

// FindFree scans for a free (zero-valued) cluster entry starting at
// startHint, wrapping once through the whole table (specification §4.3
// find_free). There is no hint cache in this core (see §9: "there is no
// hint cache in this core").
func (v *Volume) FindFree(startHint uint32) (uint32, error) {
	total := v.TotalDataClusters + firstDataCluster
	if startHint < firstDataCluster {
		startHint = firstDataCluster
	}
	for i := uint32(0); i < v.TotalDataClusters; i++ {
		cluster := startHint + i
		if cluster >= total {
			cluster = firstDataCluster + (cluster - total)
		}
		entry, err := v.rawEntry(cluster)
		if err != nil {
			return 0, err
		}
		if entry == 0 {
			return cluster, nil
		}
	}
	return 0, fserrors.ErrNoSpace.WithMessage("no free clusters available")
}

func (v *Volume) rawEntry(cluster uint32) (uint32, error) {
	lba, offset := v.entryLocation(cluster)
	sector, err := v.cache.Get(lba)
	if err != nil {
		return 0, err
	}
	if v.FATType == FAT32 {
		return leUint32(sector[offset:]) & fat32Mask, nil
	}
	return uint32(leUint16(sector[offset:])), nil
}

// AllocateFreeSpace finds n free clusters, stitches them into a chain
// terminated by EOC, and optionally zero-fills the first cluster's sectors
// (specification §4.3 allocate_free_space; zero-fill is used when creating
// directories). On failure partway through, clusters already claimed in
// this call are released before returning.
func (v *Volume) AllocateFreeSpace(n int, zeroFillFirst bool) (uint32, error) {
	if n <= 0 {
		return 0, fserrors.ErrInvalidArgument.WithMessage("cluster count must be positive")
	}
	claimed := make([]uint32, 0, n)
	hint := uint32(firstDataCluster)

	rollback := func(cause error) (uint32, error) {
		for _, c := range claimed {
			_ = v.SetNext(c, 0)
		}
		return 0, cause
	}

	for i := 0; i < n; i++ {
		cluster, err := v.FindFree(hint)
		if err != nil {
			return rollback(err)
		}
		if err := v.MarkEOC(cluster); err != nil {
			return rollback(err)
		}
		if len(claimed) > 0 {
			if err := v.SetNext(claimed[len(claimed)-1], cluster); err != nil {
				return rollback(err)
			}
		}
		claimed = append(claimed, cluster)
		hint = cluster + 1
	}

	first := claimed[0]
	if zeroFillFirst {
		if err := v.zeroFillCluster(first); err != nil {
			return rollback(err)
		}
	}
	return first, nil
}

// AddFreeSpace allocates one additional cluster and splices it onto the
// chain whose current tail is lastCluster (specification §4.3
// add_free_space), returning the new cluster.
func (v *Volume) AddFreeSpace(lastCluster uint32) (uint32, error) {
	cluster, err := v.FindFree(firstDataCluster)
	if err != nil {
		return 0, err
	}
	if err := v.MarkEOC(cluster); err != nil {
		return 0, err
	}
	if err := v.SetNext(lastCluster, cluster); err != nil {
		_ = v.SetNext(cluster, 0)
		return 0, err
	}
	return cluster, nil
}

// FreeClusterChain walks the chain starting at first, writing 0 to every
// entry (specification §4.3 free_cluster_chain). Freeing a one-cluster
// (EOC-only) chain is legal.
func (v *Volume) FreeClusterChain(first uint32) error {
	cur := first
	for cur != FreeListEnd && cur != 0 {
		next, err := v.Next(cur)
		if err != nil {
			return err
		}
		if err := v.SetNext(cur, 0); err != nil {
			return err
		}
		cur = next
	}
	return nil
}

func (v *Volume) zeroFillCluster(cluster uint32) error {
	if !v.dev.CanWrite() {
		return fserrors.ErrReadOnly.WithMessage("volume has no write support")
	}
	zero := make([]byte, blockdev.SectorSize)
	base := v.ClusterToLBA(cluster)
	for s := uint8(0); s < v.SectorsPerCluster; s++ {
		if !v.dev.WriteSector(base+blockdev.LBA(s), zero) {
			return fserrors.ErrIOFailed.WithMessage(
				fmt.Sprintf("failed zero-filling sector %d of cluster %d", s, cluster))
		}
	}
	return nil
}

// Purge flushes the dirty FAT/directory sectors held in the write-back
// cache (specification §4.1 purge()). Callers must invoke this from
// close, flush, and shutdown.
func (v *Volume) Purge() error {
	return v.cache.Purge()
}

func leUint16(b []byte) uint16 { return uint16(b[0]) | uint16(b[1])<<8 }
func leUint32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}
func putLeUint16(b []byte, v uint16) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
}
func putLeUint32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}
