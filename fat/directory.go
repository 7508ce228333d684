package fat

import (
	"fmt"
	"strings"
	"time"

	"github.com/gofat/fatfs/blockdev"
	fserrors "github.com/gofat/fatfs/errors"
	"github.com/gofat/fatfs/internal/lfn"
)

// DirRef identifies where a directory's entries live: either the FAT16
// fixed root region (FixedSectors > 0) or a normal cluster chain
// (StartCluster, used for FAT32 root and every subdirectory).
type DirRef struct {
	FixedLBA     blockdev.LBA
	FixedSectors uint32
	StartCluster uint32
}

// RootRef returns the DirRef for the volume's root directory.
func (v *Volume) RootRef() DirRef {
	if v.FATType == FAT16 {
		return DirRef{FixedLBA: blockdev.LBA(v.RootDirLBA), FixedSectors: v.RootDirSectors}
	}
	return DirRef{StartCluster: v.RootCluster}
}

func (d DirRef) isFixed() bool { return d.FixedSectors > 0 }

// slot identifies one 32-byte directory record by its containing sector's
// LBA and byte offset within that sector.
type slot struct {
	lba    blockdev.LBA
	offset int
}

// dirWalker enumerates the sequence of sector LBAs backing a directory, in
// order, transparently crossing cluster boundaries for cluster-backed
// directories.
type dirWalker struct {
	v        *Volume
	ref      DirRef
	fixedIdx uint32 // next fixed-region sector index
	cluster  uint32 // current cluster, for cluster-backed directories
	secInClu uint8  // next sector index within cluster
	started  bool
	done     bool
}

func (v *Volume) newDirWalker(ref DirRef) *dirWalker {
	w := &dirWalker{v: v, ref: ref}
	if !ref.isFixed() {
		w.cluster = ref.StartCluster
	}
	return w
}

// next returns the next sector LBA in the directory, or ok=false when the
// directory is exhausted.
func (w *dirWalker) next() (blockdev.LBA, bool, error) {
	if w.done {
		return 0, false, nil
	}
	if w.ref.isFixed() {
		if w.fixedIdx >= w.ref.FixedSectors {
			w.done = true
			return 0, false, nil
		}
		lba := w.ref.FixedLBA + blockdev.LBA(w.fixedIdx)
		w.fixedIdx++
		return lba, true, nil
	}

	if w.started && w.secInClu >= w.v.SectorsPerCluster {
		next, err := w.v.Next(w.cluster)
		if err != nil {
			return 0, false, err
		}
		if next == FreeListEnd {
			w.done = true
			return 0, false, nil
		}
		w.cluster = next
		w.secInClu = 0
	}
	w.started = true
	lba := w.v.ClusterToLBA(w.cluster) + blockdev.LBA(w.secInClu)
	w.secInClu++
	return lba, true, nil
}

// extend grows a cluster-backed directory by one cluster, zero-filled, and
// returns the LBA of its first sector. Fixed FAT16 root regions cannot be
// extended.
func (w *dirWalker) extend() (blockdev.LBA, error) {
	if w.ref.isFixed() {
		return 0, fserrors.ErrNoSpace.WithMessage("FAT16 root directory is fixed-size and full")
	}
	tail := w.cluster
	if !w.started {
		tail = w.ref.StartCluster
	}
	newCluster, err := w.v.AddFreeSpace(tail)
	if err != nil {
		return 0, err
	}
	if err := w.v.zeroFillCluster(newCluster); err != nil {
		return 0, err
	}
	w.cluster = newCluster
	w.secInClu = 1
	w.started = true
	return w.v.ClusterToLBA(newCluster), nil
}

// forEachSlot visits every 32-byte record across the directory, in order,
// stopping early when visit returns stop=true or an error. It also stops,
// without visiting it, at the end-of-directory marker (first byte 0x00).
func (v *Volume) forEachSlot(ref DirRef, visit func(s slot, raw []byte) (stop bool, err error)) error {
	w := v.newDirWalker(ref)
	for {
		lba, ok, err := w.next()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		sector, err := v.cache.Get(lba)
		if err != nil {
			return err
		}
		for off := 0; off+direntSize <= int(v.BytesPerSector); off += direntSize {
			raw := sector[off : off+direntSize]
			if raw[0] == direntFree {
				return nil
			}
			stop, err := visit(slot{lba: lba, offset: off}, raw)
			if err != nil {
				return err
			}
			if stop {
				return nil
			}
		}
	}
}

// lfnAccumulator reassembles a run of preceding LFN fragments into a long
// name, in the physical (descending-ordinal) order specification §3
// requires them to be stored in.
type lfnAccumulator struct {
	fragments []lfn.Fragment
	checksum  uint8
	valid     bool
}

func (a *lfnAccumulator) reset() {
	a.fragments = a.fragments[:0]
	a.valid = false
}

func (a *lfnAccumulator) add(e rawLFNEntry) {
	ordinal := e.Ordinal &^ lfn.LastEntryFlag
	last := e.Ordinal&lfn.LastEntryFlag != 0
	if last {
		a.reset()
		a.checksum = e.Checksum
		a.valid = true
	} else if !a.valid || e.Checksum != a.checksum {
		a.valid = false
		return
	}
	var units [13]uint16
	copy(units[0:5], e.Name1[:])
	copy(units[5:11], e.Name2[:])
	copy(units[11:13], e.Name3[:])
	a.fragments = append(a.fragments, lfn.Fragment{Ordinal: ordinal, Last: last, Units: units})
}

// name reconstructs the long name in ascending-ordinal order from fragments
// collected in descending (physical, on-disk) order.
func (a *lfnAccumulator) name() string {
	ordered := make([]lfn.Fragment, len(a.fragments))
	for i, f := range a.fragments {
		ordered[len(a.fragments)-1-i] = f
	}
	return lfn.Join(ordered)
}

func shortNameToDisplay(sfn [11]byte) string {
	name := strings.TrimRight(string(sfn[0:8]), " ")
	ext := strings.TrimRight(string(sfn[8:11]), " ")
	if ext == "" {
		return name
	}
	return name + "." + ext
}

func toDirEntry(d rawDirent, longName string) DirEntry {
	short := shortNameToDisplay(d.Name)
	display := longName
	if display == "" {
		display = short
	}
	return DirEntry{
		LongName:     display,
		ShortName:    short,
		Attr:         d.Attr,
		FirstCluster: firstClusterOf(d),
		Size:         d.FileSize,
		ModifiedAt:   decodeFATDateTime(d.ModifiedDate, d.ModifiedTime),
	}
}

func namesEqual(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		ca, cb := a[i], b[i]
		if 'a' <= ca && ca <= 'z' {
			ca -= 'a' - 'A'
		}
		if 'a' <= cb && cb <= 'z' {
			cb -= 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}

// FindEntry enumerates dir's cluster chain (or FAT16 fixed root) looking
// for name, matched case-insensitively against both the reconstructed long
// name and the 8.3 short name (specification §4.4 find_entry).
func (v *Volume) FindEntry(dir DirRef, name string) (DirEntry, bool, error) {
	var acc lfnAccumulator
	var found DirEntry
	var hit bool

	err := v.forEachSlot(dir, func(_ slot, raw []byte) (bool, error) {
		if raw[0] == direntDeleted {
			acc.reset()
			return false, nil
		}
		if raw[11] == AttrLongName {
			acc.add(decodeRawLFN(raw))
			return false, nil
		}
		d := decodeRawDirent(raw)
		longName := ""
		if acc.valid && lfn.Checksum(d.Name) == acc.checksum {
			longName = acc.name()
		}
		acc.reset()
		if d.Attr&AttrVolumeID != 0 {
			return false, nil
		}
		entry := toDirEntry(d, longName)
		if namesEqual(entry.LongName, name) || namesEqual(entry.ShortName, name) {
			found = entry
			hit = true
			return true, nil
		}
		return false, nil
	})
	if err != nil {
		return DirEntry{}, false, err
	}
	return found, hit, nil
}

// Enumerate returns every live entry in dir, in on-disk order, for listdir
// (specification §4.4 enumerate).
func (v *Volume) Enumerate(dir DirRef) ([]DirEntry, error) {
	var acc lfnAccumulator
	var out []DirEntry

	err := v.forEachSlot(dir, func(_ slot, raw []byte) (bool, error) {
		if raw[0] == direntDeleted {
			acc.reset()
			return false, nil
		}
		if raw[11] == AttrLongName {
			acc.add(decodeRawLFN(raw))
			return false, nil
		}
		d := decodeRawDirent(raw)
		longName := ""
		if acc.valid && lfn.Checksum(d.Name) == acc.checksum {
			longName = acc.name()
		}
		acc.reset()
		if d.Attr&AttrVolumeID != 0 {
			return false, nil
		}
		out = append(out, toDirEntry(d, longName))
		return false, nil
	})
	return out, err
}

// SFNExists reports whether sfn (exact 11-byte form) is already used in dir
// (specification §4.4 sfn_exists).
func (v *Volume) SFNExists(dir DirRef, sfn [11]byte) (bool, error) {
	exists := false
	err := v.forEachSlot(dir, func(_ slot, raw []byte) (bool, error) {
		if raw[0] == direntDeleted || raw[11] == AttrLongName {
			return false, nil
		}
		var name [11]byte
		copy(name[:], raw[0:11])
		if name == sfn {
			exists = true
			return true, nil
		}
		return false, nil
	})
	return exists, err
}

// GenerateSFN produces an 8.3 short name for longName following the
// classic FAT shortening rules (specification §4.4 generate_sfn):
// uppercase, strip invalid characters, collapse dots except the last, pad
// to 8.3. If the base form collides, the caller supplies tail != 0 to get
// a "~N" suffix.
func GenerateSFN(longName string, tail int) [11]byte {
	base, ext := splitBaseExt(longName)
	base = sanitizeSFNComponent(base, 8)
	ext = sanitizeSFNComponent(ext, 3)

	var sfn [11]byte
	for i := range sfn {
		sfn[i] = ' '
	}

	if tail > 0 {
		suffix := fmt.Sprintf("~%d", tail)
		keep := 8 - len(suffix)
		if keep < 1 {
			keep = 1
		}
		if len(base) > keep {
			base = base[:keep]
		}
		base = base + suffix
	}
	copy(sfn[0:8], []byte(base))
	copy(sfn[8:11], []byte(ext))
	return sfn
}

func splitBaseExt(name string) (string, string) {
	idx := strings.LastIndexByte(name, '.')
	if idx <= 0 {
		return name, ""
	}
	return name[:idx], name[idx+1:]
}

const invalidSFNChars = `" +,;=[]`

func sanitizeSFNComponent(s string, maxLen int) string {
	s = strings.ToUpper(s)
	var b strings.Builder
	for _, r := range s {
		if r == '.' || strings.ContainsRune(invalidSFNChars, r) || r < 0x20 {
			continue
		}
		b.WriteRune(r)
	}
	out := b.String()
	if len(out) > maxLen {
		out = out[:maxLen]
	}
	return out
}

// AddEntry emits the LFN run (in reverse ordinal order) followed by the
// short-name entry into the first contiguous run of free slots in dir,
// extending the directory with zero-filled clusters if none fits
// (specification §4.4 add_entry).
func (v *Volume) AddEntry(dir DirRef, longName string, sfn [11]byte, firstCluster uint32, size uint32, isDir bool, when time.Time) error {
	fragments, err := lfn.Split(longName)
	if err != nil {
		return err
	}
	checksum := lfn.Checksum(sfn)
	needed := len(fragments) + 1

	slots, err := v.findFreeRun(dir, needed)
	if err != nil {
		return err
	}

	// Physical order is descending ordinal first, short-name entry last.
	for i := len(fragments) - 1; i >= 0; i-- {
		frag := fragments[i]
		ordinal := frag.Ordinal
		if frag.Last {
			ordinal |= lfn.LastEntryFlag
		}
		raw := rawLFNEntry{
			Ordinal:  ordinal,
			Attr:     AttrLongName,
			Checksum: checksum,
		}
		copy(raw.Name1[:], frag.Units[0:5])
		copy(raw.Name2[:], frag.Units[5:11])
		copy(raw.Name3[:], frag.Units[11:13])

		s := slots[len(fragments)-1-i]
		sector, err := v.cache.Get(s.lba)
		if err != nil {
			return err
		}
		encodeRawLFN(raw, sector[s.offset:s.offset+direntSize])
		v.cache.MarkDirty(s.lba)
	}

	attr := uint8(AttrArchive)
	if isDir {
		attr = AttrDirectory
	}
	d := rawDirent{
		Name:           sfn,
		Attr:           attr,
		CreatedDate:    encodeFATDate(when),
		CreatedTime:    encodeFATTime(when),
		LastAccessDate: encodeFATDate(when),
		ModifiedDate:   encodeFATDate(when),
		ModifiedTime:   encodeFATTime(when),
		FileSize:       size,
	}
	setFirstCluster(&d, firstCluster)

	last := slots[len(slots)-1]
	sector, err := v.cache.Get(last.lba)
	if err != nil {
		return err
	}
	encodeRawDirent(d, sector[last.offset:last.offset+direntSize])
	v.cache.MarkDirty(last.lba)
	return nil
}

// findFreeRun locates `needed` contiguous free/deleted slots, extending the
// directory with as many zero-filled clusters (all slots free) as the run
// still needs if the existing region has no run long enough. Once a direntFree (0x00) slot is seen,
// every slot after it — including in clusters not yet visited — is known
// unused, so the run can be completed without further scanning.
func (v *Volume) findFreeRun(dir DirRef, needed int) ([]slot, error) {
	var run []slot

	w := v.newDirWalker(dir)
	for {
		lba, ok, err := w.next()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		sector, err := v.cache.Get(lba)
		if err != nil {
			return nil, err
		}
		for off := 0; off+direntSize <= int(v.BytesPerSector); off += direntSize {
			b := sector[off]
			switch b {
			case direntFree:
				for o := off; o+direntSize <= int(v.BytesPerSector) && len(run) < needed; o += direntSize {
					run = append(run, slot{lba: lba, offset: o})
				}
				for len(run) < needed {
					nextLBA, more, err := w.next()
					if err != nil {
						return nil, err
					}
					if !more {
						break
					}
					for o := 0; o+direntSize <= int(v.BytesPerSector) && len(run) < needed; o += direntSize {
						run = append(run, slot{lba: nextLBA, offset: o})
					}
				}
				if len(run) == needed {
					return run, nil
				}
				return v.extendRun(w, run, needed)
			case direntDeleted:
				run = append(run, slot{lba: lba, offset: off})
				if len(run) == needed {
					return run, nil
				}
			default:
				run = run[:0]
			}
		}
	}
	return v.extendRun(w, run, needed)
}

// extendRun completes run to length needed by allocating additional
// zero-filled directory clusters via the walker (every slot in them is
// free by construction).
func (v *Volume) extendRun(w *dirWalker, run []slot, needed int) ([]slot, error) {
	for len(run) < needed {
		newLBA, err := w.extend()
		if err != nil {
			return nil, err
		}
		for off := 0; off+direntSize <= int(v.BytesPerSector) && len(run) < needed; off += direntSize {
			run = append(run, slot{lba: newLBA, offset: off})
		}
	}
	return run, nil
}

// MarkDeleted locates sfn's entry in dir, rewrites its first byte to
// direntDeleted, and walks backward marking the preceding LFN run deleted
// too (specification §4.4 mark_deleted). Does not shrink the directory.
func (v *Volume) MarkDeleted(dir DirRef, sfn [11]byte) error {
	var pending []slot // LFN slots seen since the last short-name entry
	var matched bool

	err := v.forEachSlot(dir, func(s slot, raw []byte) (bool, error) {
		if raw[11] == AttrLongName {
			pending = append(pending, s)
			return false, nil
		}
		var name [11]byte
		copy(name[:], raw[0:11])
		if name == sfn {
			matched = true
			if err := v.markSlotDeleted(s); err != nil {
				return true, err
			}
			want := lfn.Checksum(sfn)
			for i := len(pending) - 1; i >= 0; i-- {
				sector, err := v.cache.Get(pending[i].lba)
				if err != nil {
					return true, err
				}
				entryChecksum := sector[pending[i].offset+13]
				if entryChecksum != want {
					break
				}
				if err := v.markSlotDeleted(pending[i]); err != nil {
					return true, err
				}
			}
			return true, nil
		}
		pending = pending[:0]
		return false, nil
	})
	if err != nil {
		return err
	}
	if !matched {
		return fserrors.ErrNotFound.WithMessage("short name not found in directory")
	}
	return nil
}

func (v *Volume) markSlotDeleted(s slot) error {
	sector, err := v.cache.Get(s.lba)
	if err != nil {
		return err
	}
	sector[s.offset] = direntDeleted
	v.cache.MarkDirty(s.lba)
	return nil
}

// UpdateFileLength locates sfn's entry in dir and rewrites its 4-byte size
// field (specification §4.4 update_file_length).
func (v *Volume) UpdateFileLength(dir DirRef, sfn [11]byte, newLength uint32) error {
	found := false
	err := v.forEachSlot(dir, func(s slot, raw []byte) (bool, error) {
		if raw[11] == AttrLongName {
			return false, nil
		}
		var name [11]byte
		copy(name[:], raw[0:11])
		if name != sfn {
			return false, nil
		}
		sector, err := v.cache.Get(s.lba)
		if err != nil {
			return true, err
		}
		putLeUint32(sector[s.offset+28:], newLength)
		v.cache.MarkDirty(s.lba)
		found = true
		return true, nil
	})
	if err != nil {
		return err
	}
	if !found {
		return fserrors.ErrNotFound.WithMessage("short name not found in directory")
	}
	return nil
}
