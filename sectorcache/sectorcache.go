// Package sectorcache implements the write-back sector cache used by the FAT
// table manager and the directory codec (specification §4.1: "Maintains one
// write-back buffer used exclusively for FAT sectors... purge() flushes the
// dirty FAT sector"). It generalizes the spec's single-buffer design to a
// small fixed number of slots (any sector can occupy any slot; when all are
// full they are reused round-robin) so the FAT manager and the
// directory codec don't thrash a single buffer when interleaving FAT updates
// with directory-entry writes; at capacity 1 it behaves exactly like the
// single buffer the spec describes. The slot bookkeeping follows
// drivers/common/blockcache.BlockCache's loaded/dirty bitmap design.
package sectorcache

import (
	"fmt"

	"github.com/boljen/go-bitmap"

	"github.com/gofat/fatfs/blockdev"
	fserrors "github.com/gofat/fatfs/errors"
)

const invalidLBA = blockdev.LBA(0xFFFFFFFF)

// Cache is a small write-back cache of fixed-size sectors in which any
// sector can occupy any slot.
type Cache struct {
	dev      blockdev.Device
	capacity int
	lbas     []blockdev.LBA
	data     [][]byte
	present  bitmap.Bitmap
	dirty    bitmap.Bitmap
	clock    int // next slot to consider for eviction (round-robin).
}

// New creates a Cache with room for capacity sectors, backed by dev.
func New(dev blockdev.Device, capacity int) *Cache {
	if capacity < 1 {
		capacity = 1
	}
	lbas := make([]blockdev.LBA, capacity)
	data := make([][]byte, capacity)
	for i := range lbas {
		lbas[i] = invalidLBA
		data[i] = make([]byte, blockdev.SectorSize)
	}
	return &Cache{
		dev:      dev,
		capacity: capacity,
		lbas:     lbas,
		data:     data,
		present:  bitmap.New(capacity),
		dirty:    bitmap.New(capacity),
	}
}

func (c *Cache) slotOf(lba blockdev.LBA) int {
	for i, l := range c.lbas {
		if c.present.Get(i) && l == lba {
			return i
		}
	}
	return -1
}

// flushSlot writes back slot i if dirty, and marks it clean.
func (c *Cache) flushSlot(i int) error {
	if !c.dirty.Get(i) {
		return nil
	}
	if !c.dev.CanWrite() {
		return fserrors.ErrReadOnly.WithMessage("cannot flush dirty sector: device has no write support")
	}
	if !c.dev.WriteSector(c.lbas[i], c.data[i]) {
		return fserrors.ErrIOFailed.WithMessage(fmt.Sprintf("write-back of sector %d failed", c.lbas[i]))
	}
	c.dirty.Set(i, false)
	return nil
}

// evict picks a slot to reuse, flushing it first if it holds dirty data.
func (c *Cache) evict() (int, error) {
	for i := 0; i < c.capacity; i++ {
		if !c.present.Get(i) {
			return i, nil
		}
	}
	slot := c.clock
	c.clock = (c.clock + 1) % c.capacity
	if err := c.flushSlot(slot); err != nil {
		return 0, err
	}
	c.present.Set(slot, false)
	return slot, nil
}

// Get returns the (mutable) buffer for lba, loading it from the device if
// it isn't already cached. Mutations to the returned slice are visible to
// later Get calls for the same lba until the slot is evicted or Purge'd.
func (c *Cache) Get(lba blockdev.LBA) ([]byte, error) {
	if i := c.slotOf(lba); i >= 0 {
		return c.data[i], nil
	}

	slot, err := c.evict()
	if err != nil {
		return nil, err
	}
	if !c.dev.ReadSector(lba, c.data[slot]) {
		return nil, fserrors.ErrIOFailed.WithMessage(fmt.Sprintf("read of sector %d failed", lba))
	}
	c.lbas[slot] = lba
	c.present.Set(slot, true)
	c.dirty.Set(slot, false)
	return c.data[slot], nil
}

// MarkDirty flags the cached slot for lba as modified. The caller must have
// already mutated the slice returned by Get.
func (c *Cache) MarkDirty(lba blockdev.LBA) {
	if i := c.slotOf(lba); i >= 0 {
		c.dirty.Set(i, true)
	}
}

// Purge flushes every dirty slot to the device. This is the operation the
// specification requires be called from close, fflush, and shutdown.
func (c *Cache) Purge() error {
	for i := 0; i < c.capacity; i++ {
		if c.present.Get(i) {
			if err := c.flushSlot(i); err != nil {
				return err
			}
		}
	}
	return nil
}

// Invalidate drops lba from the cache without writing back dirty data. Used
// when the caller knows the in-memory copy is stale (never needed in normal
// operation, but kept for recovery paths).
func (c *Cache) Invalidate(lba blockdev.LBA) {
	if i := c.slotOf(lba); i >= 0 {
		c.present.Set(i, false)
		c.dirty.Set(i, false)
	}
}
