package fat_test

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gofat/fatfs/blockdev"
	"github.com/gofat/fatfs/fat"
)

// newTestFS builds a tiny FAT16 image (1 reserved sector, 1 FAT copy, a
// 16-entry fixed root, 64 one-sector clusters) and attaches the public API
// to it, exercising the same geometry specification §8's scenarios assume.
func newTestFS(t *testing.T) *fat.FS {
	t.Helper()
	img := buildFAT16Image(t, 64)
	dev := blockdev.NewMemDevice(img)
	fs, err := fat.Attach(dev, nil, 4)
	require.NoError(t, err)
	t.Cleanup(func() { fs.Shutdown() })
	return fs
}

// Scenario 1: write then reopen yields identical bytes and length.
func TestScenarioWriteCloseReopenRead(t *testing.T) {
	fs := newTestFS(t)

	f, err := fs.Open("/a.txt", "w")
	require.NoError(t, err)
	n, err := fs.Write(f, []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	require.NoError(t, fs.Close(f))

	f2, err := fs.Open("/a.txt", "r")
	require.NoError(t, err)
	buf := make([]byte, 16)
	n, err = fs.Read(f2, buf)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf[:n]))
	require.NoError(t, fs.Close(f2))
}

// Scenario 2: repeated append accumulates content and the cursor lands at
// the end after the second open+write.
func TestScenarioAppendAccumulates(t *testing.T) {
	fs := newTestFS(t)

	f, err := fs.Open("/log", "a")
	require.NoError(t, err)
	_, err = fs.Write(f, []byte("X"))
	require.NoError(t, err)
	require.NoError(t, fs.Close(f))

	f2, err := fs.Open("/log", "a")
	require.NoError(t, err)
	_, err = fs.Write(f2, []byte("Y"))
	require.NoError(t, err)
	pos, err := fs.Tell(f2)
	require.NoError(t, err)
	assert.EqualValues(t, 2, pos)
	require.NoError(t, fs.Close(f2))

	f3, err := fs.Open("/log", "r")
	require.NoError(t, err)
	buf := make([]byte, 8)
	n, err := fs.Read(f3, buf)
	require.NoError(t, err)
	assert.Equal(t, "XY", string(buf[:n]))
	require.NoError(t, fs.Close(f3))
}

// Scenario 3: a write spanning multiple clusters produces a chain of the
// expected length, fully walkable to EOC.
func TestScenarioMultiClusterWrite(t *testing.T) {
	fs := newTestFS(t)
	const bytesPerCluster = 512 // sectorsPerCluster=1 * bytesPerSector=512

	f, err := fs.Open("/big", "w")
	require.NoError(t, err)
	payload := make([]byte, 3*bytesPerCluster+17)
	n, err := fs.Write(f, payload)
	require.NoError(t, err)
	assert.Equal(t, len(payload), n)
	require.NoError(t, fs.Close(f))

	vol := fs.Volume()
	entry, ok, err := vol.FindEntry(vol.RootRef(), "big")
	require.NoError(t, err)
	require.True(t, ok)
	assert.EqualValues(t, len(payload), entry.Size)

	cur := entry.FirstCluster
	hops := 1
	for {
		next, err := vol.Next(cur)
		require.NoError(t, err)
		if next == fat.FreeListEnd {
			break
		}
		cur = next
		hops++
		require.Less(t, hops, 10)
	}
	assert.Equal(t, 4, hops)
}

// Scenario 4: removing a file inside a subdirectory leaves the directory
// itself intact and makes the file unreachable.
func TestScenarioRemoveInsideDirectory(t *testing.T) {
	fs := newTestFS(t)

	require.NoError(t, fs.CreateDirectory("/d"))
	isDir, err := fs.IsDir("/d")
	require.NoError(t, err)
	assert.True(t, isDir)

	f, err := fs.Open("/d/f", "w")
	require.NoError(t, err)
	_, err = fs.Write(f, []byte("hi"))
	require.NoError(t, err)
	require.NoError(t, fs.Close(f))

	require.NoError(t, fs.Remove("/d/f"))

	_, err = fs.Open("/d/f", "r")
	assert.Error(t, err)

	stillDir, err := fs.IsDir("/d")
	require.NoError(t, err)
	assert.True(t, stillDir)
}

// Scenario 5: a long filename survives a close/reopen-for-listing round
// trip via the directory codec's LFN encoding.
func TestScenarioLongFileName(t *testing.T) {
	fs := newTestFS(t)

	f, err := fs.Open("/name-with-long-filename.txt", "w")
	require.NoError(t, err)
	require.NoError(t, fs.Close(f))

	dir, err := fs.OpenDir("/")
	require.NoError(t, err)
	defer fs.CloseDir(dir)

	found := false
	for {
		e, ok := dir.ReadDir()
		if !ok {
			break
		}
		if e.LongName == "name-with-long-filename.txt" {
			found = true
			assert.Equal(t, "NAME-WIT.TXT", e.ShortName) // sfn is the uppercase 8.3 truncation of the long name
		}
	}
	assert.True(t, found)
}

// Scenario 6: seeking past length and writing triggers the zero-fill
// policy for the bytes in between.
func TestScenarioSeekPastEndZeroFills(t *testing.T) {
	fs := newTestFS(t)

	f, err := fs.Open("/a", "w")
	require.NoError(t, err)
	require.NoError(t, fs.Seek(f, 100, fat.SeekSet))
	_, err = fs.Write(f, []byte("Z"))
	require.NoError(t, err)
	require.NoError(t, fs.Close(f))

	f2, err := fs.Open("/a", "r")
	require.NoError(t, err)
	require.NoError(t, fs.Seek(f2, 50, fat.SeekSet))
	buf := make([]byte, 1)
	n, err := fs.Read(f2, buf)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	assert.EqualValues(t, 0, buf[0])

	pos, err := fs.Tell(f2)
	require.NoError(t, err)
	_ = pos
	require.NoError(t, fs.Close(f2))
}

func TestRemoveAlreadyOpenFails(t *testing.T) {
	fs := newTestFS(t)
	f, err := fs.Open("/busy.txt", "w")
	require.NoError(t, err)
	defer fs.Close(f)

	err = fs.Remove("/busy.txt")
	assert.Error(t, err)
}

func TestHandlePoolExhaustion(t *testing.T) {
	img := buildFAT16Image(t, 64)
	dev := blockdev.NewMemDevice(img)
	fs, err := fat.Attach(dev, nil, 2)
	require.NoError(t, err)
	defer fs.Shutdown()

	f1, err := fs.Open("/one", "w")
	require.NoError(t, err)
	f2, err := fs.Open("/two", "w")
	require.NoError(t, err)
	defer fs.Close(f1)
	defer fs.Close(f2)

	_, err = fs.Open("/three", "w")
	assert.Error(t, err)
}

// A nil logger (the default) must never panic, and an attached one must
// observe at least the open/write/close sequence at debug level or finer.
func TestWithLoggerTracesOperationsWithoutPanicking(t *testing.T) {
	img := buildFAT16Image(t, 64)
	dev := blockdev.NewMemDevice(img)
	fs, err := fat.Attach(dev, nil, 4)
	require.NoError(t, err)
	defer fs.Shutdown()

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug - 4}))
	fs.WithLogger(logger)

	f, err := fs.Open("/traced.txt", "w")
	require.NoError(t, err)
	_, err = fs.Write(f, []byte("hi"))
	require.NoError(t, err)
	require.NoError(t, fs.Close(f))

	logged := buf.String()
	assert.Contains(t, logged, "fs:open")
	assert.Contains(t, logged, "fs:write")
	assert.Contains(t, logged, "fs:close")
}
