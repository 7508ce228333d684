package fat

import (
	"context"
	"log/slog"

	"github.com/gofat/fatfs/blockdev"
	fserrors "github.com/gofat/fatfs/errors"
	"github.com/gofat/fatfs/sectorcache"
)

// slogLevelTrace sits below slog.LevelDebug, the same below-Debug trace
// level soypat/fat (same retrieval pack, directly on-domain) defines for
// per-operation instrumentation that is too chatty for Debug.
const slogLevelTrace = slog.LevelDebug - 2

func (fs *FS) logattrs(level slog.Level, msg string, attrs ...slog.Attr) {
	if fs.log != nil {
		fs.log.LogAttrs(context.Background(), level, msg, attrs...)
	}
}

func (fs *FS) trace(msg string, attrs ...slog.Attr)    { fs.logattrs(slogLevelTrace, msg, attrs...) }
func (fs *FS) logerror(msg string, attrs ...slog.Attr) { fs.logattrs(slog.LevelError, msg, attrs...) }

// WithLogger attaches a structured logger to fs. Open, Close, Read, Write,
// Remove and CreateDirectory then log a trace-level entry naming the
// operation. Errors from handle allocation and the volume open in Open,
// from the volume layer in Close, Read and Write, from looking up the file
// in Remove, and from creating the entry in CreateDirectory are also
// logged at slog.LevelError before they are returned. Seek, Tell, Eof,
// Flush, IsDir, OpenDir and Shutdown do not log. A nil logger (the
// default) is a no-op.
func (fs *FS) WithLogger(logger *slog.Logger) *FS {
	fs.log = logger
	return fs
}

// defaultHandleCapacity is the handle pool size specification §3 calls
// out as the default ("Fixed capacity (e.g., 4)").
const defaultHandleCapacity = 4

// defaultCacheSectors sizes the write-back sector cache shared by the FAT
// table manager and directory codec (specification §4.1).
const defaultCacheSectors = 8

// FS is the top-level API surface (specification §6 "Public API
// surface"): it owns the mounted Volume and the handle table, and wraps
// every externally visible operation in the host lock (specification §5).
// This is the "convenience singleton layer" specification §9's Design
// Notes permit wrapping the Volume value for callers that want the
// traditional global-filesystem shape.
type FS struct {
	vol     *Volume
	handles *HandleTable
	log     *slog.Logger
}

// Attach mounts a FAT filesystem on dev (specification §6 attach). locker
// may be nil; handleCapacity <= 0 uses the specification default of 4.
func Attach(dev blockdev.Device, locker blockdev.Locker, handleCapacity int) (*FS, error) {
	if dev == nil {
		return nil, fserrors.ErrNoMedia.WithMessage("attach requires a non-nil block device")
	}
	cache := sectorcache.New(dev, defaultCacheSectors)
	vol, err := Mount(dev, cache, locker)
	if err != nil {
		return nil, err
	}
	if handleCapacity <= 0 {
		handleCapacity = defaultHandleCapacity
	}
	return &FS{vol: vol, handles: NewHandleTable(handleCapacity)}, nil
}

// Volume exposes the mounted volume for callers needing direct access to
// the FAT/directory codec (e.g. the fsck consistency checker or the CLI
// inspector).
func (fs *FS) Volume() *Volume { return fs.vol }

func (fs *FS) lock()   { fs.vol.Locker.Lock() }
func (fs *FS) unlock() { fs.vol.Locker.Unlock() }

// Shutdown flushes pending metadata and detaches from the device
// (specification §6 shutdown).
func (fs *FS) Shutdown() error {
	fs.lock()
	defer fs.unlock()
	return fs.vol.Shutdown()
}

// File is an opaque handle reference returned by Open, mirroring the
// traditional stream API's opaque FILE* (specification §6 open/close).
type File struct {
	idx int
	fs  *FS
}

// Open implements specification §6 open(path, mode). The traditional
// stream API returns null on failure; Go callers get (nil, err) instead,
// which composes the same way at call sites.
func (fs *FS) Open(path string, mode string) (*File, error) {
	fs.lock()
	defer fs.unlock()
	fs.trace("fs:open", slog.String("path", path), slog.String("mode", mode))

	flags, err := DecodeMode(mode)
	if err != nil {
		return nil, err
	}
	dirPath, leaf := SplitPath(path)
	if fs.handles.FindOpenByPath(dirPath, leaf) >= 0 {
		return nil, fserrors.ErrAlreadyOpen.WithMessage(path + " is already open")
	}

	idx, h, err := fs.handles.Allocate()
	if err != nil {
		fs.logerror("fs:open", slog.String("path", path), slog.String("err", err.Error()))
		return nil, err
	}
	if err := fs.vol.Open(h, path, flags); err != nil {
		fs.handles.Release(idx)
		fs.logerror("fs:open", slog.String("path", path), slog.String("err", err.Error()))
		return nil, err
	}
	return &File{idx: idx, fs: fs}, nil
}

func (fs *FS) handleFor(f *File) (*Handle, error) {
	h := fs.handles.Get(f.idx)
	if h == nil {
		return nil, fserrors.ErrInvalidArgument.WithMessage("file handle is not open")
	}
	return h, nil
}

// Close implements specification §6 close(handle).
func (fs *FS) Close(f *File) error {
	fs.lock()
	defer fs.unlock()
	fs.trace("fs:close")
	h, err := fs.handleFor(f)
	if err != nil {
		return err
	}
	closeErr := fs.vol.CloseHandle(h)
	if closeErr != nil {
		fs.logerror("fs:close", slog.String("err", closeErr.Error()))
	}
	fs.handles.Release(f.idx)
	return closeErr
}

// Read implements specification §6 read(buf, size, count, handle),
// collapsed to a single byte-slice signature idiomatic for Go; bytes_read
// == -1 in the source maps to a non-nil error here.
func (fs *FS) Read(f *File, buf []byte) (int, error) {
	fs.lock()
	defer fs.unlock()
	fs.trace("fs:read", slog.Int("len", len(buf)))
	h, err := fs.handleFor(f)
	if err != nil {
		return 0, err
	}
	n, err := fs.vol.Read(h, buf)
	if err != nil {
		fs.logerror("fs:read", slog.String("err", err.Error()))
	}
	return n, err
}

// Write implements specification §6 write(buf, size, count, handle).
func (fs *FS) Write(f *File, buf []byte) (int, error) {
	fs.lock()
	defer fs.unlock()
	fs.trace("fs:write", slog.Int("len", len(buf)))
	h, err := fs.handleFor(f)
	if err != nil {
		return 0, err
	}
	n, err := fs.vol.Write(h, buf)
	if err != nil {
		fs.logerror("fs:write", slog.String("err", err.Error()))
	}
	return n, err
}

// Seek implements specification §6 seek(handle, offset, whence).
func (fs *FS) Seek(f *File, offset int64, whence int) error {
	fs.lock()
	defer fs.unlock()
	h, err := fs.handleFor(f)
	if err != nil {
		return err
	}
	return fs.vol.Seek(h, offset, whence)
}

// Tell implements specification §6 tell(handle).
func (fs *FS) Tell(f *File) (uint32, error) {
	fs.lock()
	defer fs.unlock()
	h, err := fs.handleFor(f)
	if err != nil {
		return 0, err
	}
	return fs.vol.Tell(h), nil
}

// Eof implements specification §6 eof(handle).
func (fs *FS) Eof(f *File) (bool, error) {
	fs.lock()
	defer fs.unlock()
	h, err := fs.handleFor(f)
	if err != nil {
		return false, err
	}
	return fs.vol.Eof(h), nil
}

// Flush implements specification §6 flush(handle).
func (fs *FS) Flush(f *File) error {
	fs.lock()
	defer fs.unlock()
	h, err := fs.handleFor(f)
	if err != nil {
		return err
	}
	return fs.vol.Flush(h)
}

// Remove implements specification §6 remove(path) / §4.7's Remove
// algorithm: open with read mode bypassing the directory-vs-file check,
// free the cluster chain, mark the directory entry deleted, close.
// Removing an already-open file fails with AlreadyOpen.
func (fs *FS) Remove(path string) error {
	fs.lock()
	defer fs.unlock()
	fs.trace("fs:remove", slog.String("path", path))

	dirPath, leaf := SplitPath(path)
	if fs.handles.FindOpenByPath(dirPath, leaf) >= 0 {
		return fserrors.ErrAlreadyOpen.WithMessage(path + " is open")
	}

	var h Handle
	if err := fs.vol.openExisting(&h, path, false); err != nil {
		fs.logerror("fs:remove", slog.String("path", path), slog.String("err", err.Error()))
		return err
	}
	if h.startCluster != 0 {
		if err := fs.vol.FreeClusterChain(h.startCluster); err != nil {
			return err
		}
	}
	if err := fs.vol.MarkDeleted(h.parentDir, h.sfn); err != nil {
		return err
	}
	return fs.vol.Purge()
}

// CreateDirectory implements specification §6 create_directory(path) /
// §4.7's create-directory algorithm. The `.` and `..` entries are
// deliberately not written, per specification §9.
func (fs *FS) CreateDirectory(path string) error {
	fs.lock()
	defer fs.unlock()
	fs.trace("fs:create_directory", slog.String("path", path))

	var h Handle
	if err := fs.vol.createFile(&h, path, true); err != nil {
		fs.logerror("fs:create_directory", slog.String("path", path), slog.String("err", err.Error()))
		return err
	}
	return fs.vol.Purge()
}

// IsDir implements specification §6 is_dir(path).
func (fs *FS) IsDir(path string) (bool, error) {
	fs.lock()
	defer fs.unlock()
	if path == "" || path == "/" {
		return true, nil
	}
	dirPath, leaf := SplitPath(path)
	parent, err := fs.vol.OpenDirectory(dirPath)
	if err != nil {
		return false, err
	}
	entry, ok, err := fs.vol.FindEntry(parent, leaf)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, fserrors.ErrNotFound.WithMessage(path)
	}
	return entry.IsDir(), nil
}

// Dir is an open directory iterator (specification §6 opendir/readdir/closedir).
type Dir struct {
	entries []DirEntry
	pos     int
}

// OpenDir implements specification §6 opendir(path).
func (fs *FS) OpenDir(path string) (*Dir, error) {
	fs.lock()
	defer fs.unlock()
	ref, err := fs.vol.OpenDirectory(path)
	if err != nil {
		return nil, err
	}
	entries, err := fs.vol.Enumerate(ref)
	if err != nil {
		return nil, err
	}
	return &Dir{entries: entries}, nil
}

// ReadDir implements specification §6 readdir(dir): returns the next
// entry, or ok=false at end of directory.
func (d *Dir) ReadDir() (DirEntry, bool) {
	if d.pos >= len(d.entries) {
		return DirEntry{}, false
	}
	e := d.entries[d.pos]
	d.pos++
	return e, true
}

// CloseDir implements specification §6 closedir(dir). Enumeration is
// snapshotted at OpenDir time, so closing only releases the snapshot.
func (fs *FS) CloseDir(d *Dir) {
	d.entries = nil
	d.pos = 0
}
