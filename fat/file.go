package fat

import (
	"time"

	"github.com/gofat/fatfs/blockdev"
	fserrors "github.com/gofat/fatfs/errors"
)

// Whence values for Volume.Seek (specification §4.7 Seek).
const (
	SeekSet = iota
	SeekCur
	SeekEnd
)

// openExisting resolves path to an existing entry and populates h with its
// metadata, without touching the handle's flags. Used by both the read
// path of Open and by Remove (specification §4.7: "Remove: open file with
// read mode bypassing the directory-vs-file check").
func (v *Volume) openExisting(h *Handle, path string, requireFile bool) error {
	dirPath, leaf := SplitPath(path)
	parent, err := v.OpenDirectory(dirPath)
	if err != nil {
		return err
	}
	entry, ok, err := v.FindEntry(parent, leaf)
	if err != nil {
		return err
	}
	if !ok {
		return fserrors.ErrNotFound.WithMessage("file not found: " + path)
	}
	if requireFile && entry.IsDir() {
		return fserrors.ErrNotAFile.WithMessage(path + " is a directory")
	}

	var sfn [11]byte
	copy(sfn[:], sfnToRaw(entry.ShortName))
	h.path = dirPath
	h.leaf = leaf
	h.parentDir = parent
	h.startCluster = entry.FirstCluster
	h.sfn = sfn
	h.isDir = entry.IsDir()
	h.length = entry.Size
	h.cursor = 0
	h.buf = bufferedSector{lba: invalidLBA}
	h.cache = clusterCache{}
	return nil
}

// sfnToRaw reformats a "NAME.EXT" display short name back to its 11-byte
// space-padded on-disk form, the inverse of shortNameToDisplay.
func sfnToRaw(display string) []byte {
	var name, ext string
	for i := 0; i < len(display); i++ {
		if display[i] == '.' {
			name, ext = display[:i], display[i+1:]
			break
		}
	}
	if name == "" && ext == "" {
		name = display
	}
	out := make([]byte, 11)
	for i := range out {
		out[i] = ' '
	}
	copy(out[0:8], name)
	copy(out[8:11], ext)
	return out
}

// createFile resolves path's parent, rejects an existing leaf, allocates
// one cluster, synthesizes a short name, and emits the LFN+SFN pair
// (specification §4.7 "Create algorithm"). For directories the allocated
// cluster is zero-filled (AllocateFreeSpace does the zero-fill) and the
// directory attribute bit is set.
func (v *Volume) createFile(h *Handle, path string, isDir bool) error {
	parent, leaf, err := v.ResolveParent(path)
	if err != nil {
		return err
	}
	if _, ok, err := v.FindEntry(parent, leaf); err != nil {
		return err
	} else if ok {
		return fserrors.ErrAlreadyExists.WithMessage(path + " already exists")
	}

	cluster, err := v.AllocateFreeSpace(1, isDir)
	if err != nil {
		return err
	}

	sfn, err := v.uniqueSFN(parent, leaf)
	if err != nil {
		_ = v.FreeClusterChain(cluster)
		return err
	}

	now := time.Now().UTC()
	if err := v.AddEntry(parent, leaf, sfn, cluster, 0, isDir, now); err != nil {
		_ = v.FreeClusterChain(cluster)
		return err
	}

	h.path, _ = SplitPath(path)
	h.leaf = leaf
	h.parentDir = parent
	h.startCluster = cluster
	h.sfn = sfn
	h.isDir = isDir
	h.length = 0
	h.cursor = 0
	h.buf = bufferedSector{lba: invalidLBA}
	h.cache = clusterCache{}
	return nil
}

// uniqueSFN generates an 8.3 short name for leaf, appending a "~N" tail
// (N = 1..9999) until sfn_exists reports no collision (specification
// §4.4 generate_sfn / §8 "the 10,001st duplicate ... fails with NoSpace").
func (v *Volume) uniqueSFN(dir DirRef, leaf string) ([11]byte, error) {
	sfn := GenerateSFN(leaf, 0)
	exists, err := v.SFNExists(dir, sfn)
	if err != nil {
		return sfn, err
	}
	if !exists {
		return sfn, nil
	}
	for n := 1; n <= 9999; n++ {
		candidate := GenerateSFN(leaf, n)
		exists, err := v.SFNExists(dir, candidate)
		if err != nil {
			return candidate, err
		}
		if !exists {
			return candidate, nil
		}
	}
	return sfn, fserrors.ErrNoSpace.WithMessage("exhausted 8.3 short-name tail counter")
}

// Open implements specification §4.7's open algorithm: try a read-open
// first, and if that fails and FlagCreate is set, try create-open instead.
func (v *Volume) Open(h *Handle, path string, flags OpenFlag) error {
	if flags&FlagRead == 0 && flags&FlagWrite == 0 {
		return fserrors.ErrInvalidArgument.WithMessage("open mode selects neither read nor write")
	}
	err := v.openExisting(h, path, false)
	if err != nil {
		if flags&FlagCreate == 0 {
			return err
		}
		if createErr := v.createFile(h, path, false); createErr != nil {
			return createErr
		}
	} else if flags&FlagErase != 0 {
		if h.isDir {
			return fserrors.ErrNotAFile.WithMessage(path + " is a directory")
		}
		if err := v.truncateToZero(h); err != nil {
			return err
		}
	}
	if h.isDir {
		return fserrors.ErrNotAFile.WithMessage(path + " is a directory")
	}
	h.flags = flags
	if flags&FlagAppend != 0 {
		h.cursor = h.length
	}
	return nil
}

func (v *Volume) truncateToZero(h *Handle) error {
	if h.startCluster != 0 {
		if err := v.FreeClusterChain(h.startCluster); err != nil {
			return err
		}
	}
	h.startCluster = 0
	h.length = 0
	h.cursor = 0
	h.lengthChanged = true
	h.cache = clusterCache{}
	return nil
}

// sectorForCursor resolves the LBA backing h's current cursor position,
// using the per-file cluster cache (specification §4.6).
func (v *Volume) sectorForCursor(h *Handle) (blockdev.LBA, error) {
	bytesPerCluster := v.BytesPerCluster()
	clusterIdx := h.cursor / bytesPerCluster
	sectorInCluster := (h.cursor % bytesPerCluster) / uint32(v.BytesPerSector)

	cluster, err := v.clusterForIndex(&h.cache, h.startCluster, clusterIdx)
	if err != nil {
		return 0, err
	}
	if cluster == FreeListEnd || cluster == 0 {
		return invalidLBA, nil
	}
	return v.ClusterToLBA(cluster) + blockdev.LBA(sectorInCluster), nil
}

func (v *Volume) flushBuffer(h *Handle) error {
	if !h.buf.dirty {
		return nil
	}
	if !v.dev.CanWrite() {
		return fserrors.ErrReadOnly.WithMessage("volume has no write support")
	}
	if !v.dev.WriteSector(h.buf.lba, h.buf.data[:]) {
		return fserrors.ErrIOFailed.WithMessage("failed writing back buffered data sector")
	}
	h.buf.dirty = false
	return nil
}

// loadSector ensures h.buf holds the sector at lba, flushing any prior
// dirty buffer first.
func (v *Volume) loadSector(h *Handle, lba blockdev.LBA) error {
	if h.buf.valid && h.buf.lba == lba {
		return nil
	}
	if err := v.flushBuffer(h); err != nil {
		return err
	}
	if !v.dev.ReadSector(lba, h.buf.data[:]) {
		return fserrors.ErrIOFailed.WithMessage("failed reading data sector")
	}
	h.buf.lba = lba
	h.buf.valid = true
	h.buf.dirty = false
	return nil
}

// Read implements specification §4.7's read algorithm.
func (v *Volume) Read(h *Handle, out []byte) (int, error) {
	if h.flags&FlagRead == 0 {
		return 0, fserrors.ErrInvalidArgument.WithMessage("handle not opened for reading")
	}
	if h.cursor >= h.length {
		return 0, nil
	}
	remaining := h.length - h.cursor
	if uint32(len(out)) > remaining {
		out = out[:remaining]
	}

	total := 0
	for total < len(out) {
		lba, err := v.sectorForCursor(h)
		if err != nil {
			return total, err
		}
		if lba == invalidLBA {
			break
		}
		if err := v.loadSector(h, lba); err != nil {
			break
		}
		offset := h.cursor % uint32(v.BytesPerSector)
		n := copy(out[total:], h.buf.data[offset:])
		total += n
		h.cursor += uint32(n)
	}
	return total, nil
}

// Write implements specification §4.7's write algorithm, including the
// "read-fails-on-new-cluster -> zero-fill" policy for partial-sector
// writes past the allocated region, and the on-demand chain extension via
// AddFreeSpace when the cursor crosses into an unallocated cluster.
func (v *Volume) Write(h *Handle, in []byte) (int, error) {
	if h.flags&FlagWrite == 0 {
		return 0, fserrors.ErrInvalidArgument.WithMessage("handle not opened for writing")
	}
	if h.flags&FlagAppend != 0 {
		// specification §4.7's Write algorithm re-snaps the cursor to the
		// current length on every call, not just at open: fat_filelib.c's
		// fl_fwrite does `if (file->flags & FILE_APPEND) file->bytenum =
		// file->filelength;` unconditionally on entry, so an intervening
		// Seek between two appending writes doesn't let the second write
		// land anywhere but the end of the file.
		h.cursor = h.length
	}
	if h.startCluster == 0 {
		// specification §9: an implementation should explicitly allocate a
		// first cluster when a write occurs on a freshly opened
		// zero-length file, rather than rely on unverified fallthrough
		// behavior from startcluster == 0.
		cluster, err := v.AllocateFreeSpace(1, false)
		if err != nil {
			if len(in) == 0 {
				return 0, nil
			}
			return -1, err
		}
		h.startCluster = cluster
		h.cache = clusterCache{}
	}

	total := 0
	for total < len(in) {
		bytesPerCluster := v.BytesPerCluster()
		clusterIdx := h.cursor / bytesPerCluster
		sectorInCluster := (h.cursor % bytesPerCluster) / uint32(v.BytesPerSector)
		offset := h.cursor % uint32(v.BytesPerSector)

		cluster, err := v.clusterForIndex(&h.cache, h.startCluster, clusterIdx)
		if err != nil {
			return commitResult(total, err)
		}
		if cluster == FreeListEnd {
			tail, terr := v.chainTail(h.startCluster)
			if terr != nil {
				return commitResult(total, terr)
			}
			newCluster, aerr := v.AddFreeSpace(tail)
			if aerr != nil {
				return commitResult(total, aerr)
			}
			h.cache.remember(clusterIdx, newCluster)
			cluster = newCluster
		}

		lba := v.ClusterToLBA(cluster) + blockdev.LBA(sectorInCluster)
		chunk := in[total:]
		full := offset == 0 && uint32(len(chunk)) >= uint32(v.BytesPerSector)
		if full {
			if err := v.flushBuffer(h); err != nil {
				return commitResult(total, err)
			}
			copy(h.buf.data[:], chunk[:v.BytesPerSector])
			h.buf.lba = lba
			h.buf.valid = true
			h.buf.dirty = true
			if err := v.flushBuffer(h); err != nil {
				return commitResult(total, err)
			}
			h.cursor += uint32(v.BytesPerSector)
			total += int(v.BytesPerSector)
			continue
		}

		if err := v.loadPartialForWrite(h, lba); err != nil {
			return commitResult(total, err)
		}
		n := copy(h.buf.data[offset:], chunk)
		h.buf.dirty = true
		h.cursor += uint32(n)
		total += n
	}

	if h.cursor > h.length {
		h.length = h.cursor
		h.lengthChanged = true
	}
	return total, nil
}

func commitResult(total int, err error) (int, error) {
	if total == 0 {
		return -1, err
	}
	return total, err
}

// loadPartialForWrite loads lba into h.buf for a partial-sector write. If
// the underlying read fails (e.g. the sector was never written), the
// buffer is zero-filled instead, per specification §4.7's explicit policy
// for writes past end-of-file that need to allocate.
func (v *Volume) loadPartialForWrite(h *Handle, lba blockdev.LBA) error {
	if h.buf.valid && h.buf.lba == lba {
		return nil
	}
	if err := v.flushBuffer(h); err != nil {
		return err
	}
	if !v.dev.ReadSector(lba, h.buf.data[:]) {
		for i := range h.buf.data {
			h.buf.data[i] = 0
		}
	}
	h.buf.lba = lba
	h.buf.valid = true
	h.buf.dirty = false
	return nil
}

func (v *Volume) chainTail(start uint32) (uint32, error) {
	cur := start
	for {
		next, err := v.Next(cur)
		if err != nil {
			return 0, err
		}
		if next == FreeListEnd {
			return cur, nil
		}
		cur = next
	}
}

// Seek implements specification §4.7 Seek: SEEK_SET/SEEK_CUR clamp within
// [0, length]; SEEK_END only accepts a zero offset. Any seek invalidates
// the buffered sector without flushing it first — this core follows the
// source's literal (possibly surprising) behavior; see DESIGN.md for the
// discussion of specification §9's "Seek without flush" open question.
func (v *Volume) Seek(h *Handle, offset int64, whence int) error {
	var target int64
	switch whence {
	case SeekSet:
		target = offset
	case SeekCur:
		target = int64(h.cursor) + offset
	case SeekEnd:
		if offset != 0 {
			return fserrors.ErrInvalidSeek.WithMessage("SEEK_END requires a zero offset")
		}
		target = int64(h.length)
	default:
		return fserrors.ErrInvalidArgument.WithMessage("unknown whence value")
	}
	if target < 0 {
		target = 0
	}
	if target > int64(h.length) {
		target = int64(h.length)
	}
	h.cursor = uint32(target)
	h.buf.valid = false
	h.buf.dirty = false
	h.cache.invalidate()
	return nil
}

// Tell returns h's current byte cursor.
func (v *Volume) Tell(h *Handle) uint32 { return h.cursor }

// Eof reports whether h's cursor has reached its length.
func (v *Volume) Eof(h *Handle) bool { return h.cursor >= h.length }

// Flush writes back h's buffered sector and, if the length changed,
// persists the new size to the directory entry (specification §4.1
// purge() + §4.7 close's length-update step, without releasing the
// handle).
func (v *Volume) Flush(h *Handle) error {
	if err := v.flushBuffer(h); err != nil {
		return err
	}
	if h.lengthChanged {
		if err := v.UpdateFileLength(h.parentDir, h.sfn, h.length); err != nil {
			return err
		}
		h.lengthChanged = false
	}
	return v.Purge()
}

// CloseHandle flushes h and purges FAT/directory metadata (specification
// §4.7 Close). The caller is responsible for returning the handle's slot
// to the pool afterward.
func (v *Volume) CloseHandle(h *Handle) error {
	return v.Flush(h)
}
