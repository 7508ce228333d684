package fat

import (
	"github.com/gofat/fatfs/blockdev"
	fserrors "github.com/gofat/fatfs/errors"
)

// OpenFlag bits decoded from the traditional fopen-style mode string
// (specification §4.7's flag table).
type OpenFlag uint8

const (
	FlagRead OpenFlag = 1 << iota
	FlagWrite
	FlagAppend
	FlagErase
	FlagCreate
	FlagBinary
)

// DecodeMode turns a stream-API mode string ("r", "w", "a", "r+", "w+",
// "a+", with an optional trailing "b") into the flag set specification
// §4.7 describes.
func DecodeMode(mode string) (OpenFlag, error) {
	if mode == "" {
		return 0, fserrors.ErrInvalidArgument.WithMessage("empty open mode")
	}
	var flags OpenFlag
	switch mode[0] {
	case 'r':
		flags = FlagRead
	case 'w':
		flags = FlagWrite | FlagErase | FlagCreate
	case 'a':
		flags = FlagWrite | FlagAppend | FlagCreate
	default:
		return 0, fserrors.ErrInvalidArgument.WithMessage("open mode must start with r, w, or a")
	}
	for _, c := range mode[1:] {
		switch c {
		case '+':
			switch mode[0] {
			case 'r':
				flags |= FlagWrite
			case 'w':
				flags |= FlagRead | FlagErase | FlagCreate
			case 'a':
				flags |= FlagRead | FlagWrite | FlagAppend | FlagCreate
			}
		case 'b':
			flags |= FlagBinary
		default:
			return 0, fserrors.ErrInvalidArgument.WithMessage("unrecognized open mode character")
		}
	}
	return flags, nil
}

// bufferedSector is the single data-sector buffer a handle keeps for its
// current read/write position (specification §3 "one buffered data
// sector").
type bufferedSector struct {
	lba   blockdev.LBA
	valid bool
	dirty bool
	data  [blockdev.SectorSize]byte
}

const invalidLBA = blockdev.LBA(0xFFFFFFFF)

// Handle is one open file's live state (specification §3 "File handle").
type Handle struct {
	inUse bool

	path         string
	leaf         string
	parentDir    DirRef
	startCluster uint32
	sfn          [11]byte
	isDir        bool

	length  uint32
	cursor  uint32
	flags   OpenFlag
	lengthChanged bool

	buf   bufferedSector
	cache clusterCache
}

// HandleTable is the fixed-capacity arena of file records described in
// specification §3 "Handle pool" and re-architected per §9's Design Notes
// as an index-based arena rather than raw linked pointers: a slice of
// slots plus a free-index stack, instead of the source's two intrusive
// singly linked lists. Membership invariant: every slot is either on the
// free stack or marked inUse; |free|+|open| == capacity always holds.
type HandleTable struct {
	slots []Handle
	free  []int
}

// NewHandleTable creates a pool with room for capacity concurrently open
// files (default 4 per specification §3).
func NewHandleTable(capacity int) *HandleTable {
	if capacity < 1 {
		capacity = 4
	}
	t := &HandleTable{
		slots: make([]Handle, capacity),
		free:  make([]int, capacity),
	}
	for i := 0; i < capacity; i++ {
		t.free[i] = capacity - 1 - i
	}
	return t
}

// Capacity returns the pool's fixed size.
func (t *HandleTable) Capacity() int { return len(t.slots) }

// FindOpenByPath enforces "at most one handle per pathname": it returns
// the index of an already-open handle for (dirPath, leaf), or -1.
func (t *HandleTable) FindOpenByPath(dirPath, leaf string) int {
	for i := range t.slots {
		if t.slots[i].inUse && t.slots[i].path == dirPath && t.slots[i].leaf == leaf {
			return i
		}
	}
	return -1
}

// Allocate pops a free slot and marks it open, or fails with NoSpace when
// the pool is exhausted (specification §8: "Filling the handle pool:
// opening the (N+1)th file fails").
func (t *HandleTable) Allocate() (int, *Handle, error) {
	if len(t.free) == 0 {
		return -1, nil, fserrors.ErrNoSpace.WithMessage("handle pool exhausted")
	}
	idx := t.free[len(t.free)-1]
	t.free = t.free[:len(t.free)-1]
	t.slots[idx] = Handle{inUse: true, buf: bufferedSector{lba: invalidLBA}}
	return idx, &t.slots[idx], nil
}

// Release returns a slot to the free stack.
func (t *HandleTable) Release(idx int) {
	t.slots[idx] = Handle{}
	t.free = append(t.free, idx)
}

// Get returns the handle at idx, or nil if it isn't currently open.
func (t *HandleTable) Get(idx int) *Handle {
	if idx < 0 || idx >= len(t.slots) || !t.slots[idx].inUse {
		return nil
	}
	return &t.slots[idx]
}
