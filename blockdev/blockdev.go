// Package blockdev provides the host-supplied block-device capability the
// FAT core is built on: fixed 512-byte sector reads and (optionally) writes,
// plus an optional host locking capability. This is the "external
// collaborator" boundary from the specification §1 and §6: the core never
// touches a real disk directly, only these callbacks.
package blockdev

import (
	"fmt"

	fserrors "github.com/gofat/fatfs/errors"
)

// SectorSize is the only sector size this core understands.
const SectorSize = 512

// LBA is a zero-based logical sector address on the device.
type LBA uint32

// Device is the capability object the FAT core mounts on top of. WriteSector
// is optional: a Device that cannot supply it (returns false from
// CanWrite) mounts read-only, and every mutating operation fails with
// ErrReadOnly.
type Device interface {
	// ReadSector fills buf (exactly SectorSize bytes) with the contents of
	// sector lba. Returns false on I/O failure.
	ReadSector(lba LBA, buf []byte) bool

	// WriteSector writes buf (exactly SectorSize bytes) to sector lba.
	// Returns false on I/O failure. Devices that don't support writes should
	// make CanWrite return false instead of implementing this as a no-op.
	WriteSector(lba LBA, buf []byte) bool

	// CanWrite reports whether WriteSector is backed by real storage.
	CanWrite() bool
}

// Locker is the optional host mutual-exclusion capability from the
// specification §5/§6: Lock/Unlock wrap every externally visible operation.
// Recursive locking is not required and not supported.
type Locker interface {
	Lock()
	Unlock()
}

// noopLocker is used when the host doesn't supply a Locker; every public
// call still goes through Lock/Unlock, they just do nothing.
type noopLocker struct{}

func (noopLocker) Lock()   {}
func (noopLocker) Unlock() {}

// NoLock is the Locker used when a volume is mounted without a host lock.
var NoLock Locker = noopLocker{}

// CheckBuffer validates that buf is exactly one sector, the same bounds
// check the teacher's BlockDevice.CheckIOBounds applies before touching the
// backing stream.
func CheckBuffer(buf []byte) error {
	if len(buf) != SectorSize {
		return fserrors.ErrInvalidArgument.WithMessage(
			fmt.Sprintf("buffer must be exactly %d bytes, got %d", SectorSize, len(buf)))
	}
	return nil
}
