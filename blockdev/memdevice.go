package blockdev

import (
	"io"

	"github.com/xaionaro-go/bytesextra"
)

// StreamDevice adapts any io.ReadWriteSeeker (or io.ReadSeeker, for
// read-only media) into a Device, the same role
// testing.LoadDiskImage/bytesextra.NewReadWriteSeeker play in the teacher's
// test harness: a plain byte slice standing in for a disk.
type StreamDevice struct {
	rs       io.ReadSeeker
	ws       io.WriteSeeker
	canWrite bool
}

// NewStreamDevice wraps stream as a Device. If stream also implements
// io.Writer, writes are enabled; otherwise the device mounts read-only.
func NewStreamDevice(stream io.ReadSeeker) *StreamDevice {
	dev := &StreamDevice{rs: stream}
	if ws, ok := stream.(io.WriteSeeker); ok {
		dev.ws = ws
		dev.canWrite = true
	}
	return dev
}

// NewMemDevice creates a Device backed entirely in memory, wrapping image
// with bytesextra.NewReadWriteSeeker exactly as testing/images.go does for
// unit tests and as a convenience device for hosts that happen to have a
// heap (e.g. a simulator running the core under test).
func NewMemDevice(image []byte) *StreamDevice {
	return NewStreamDevice(bytesextra.NewReadWriteSeeker(image))
}

func (d *StreamDevice) ReadSector(lba LBA, buf []byte) bool {
	if CheckBuffer(buf) != nil {
		return false
	}
	if _, err := d.rs.Seek(int64(lba)*SectorSize, io.SeekStart); err != nil {
		return false
	}
	_, err := io.ReadFull(d.rs, buf)
	return err == nil
}

func (d *StreamDevice) WriteSector(lba LBA, buf []byte) bool {
	if !d.canWrite || CheckBuffer(buf) != nil {
		return false
	}
	if _, err := d.ws.Seek(int64(lba)*SectorSize, io.SeekStart); err != nil {
		return false
	}
	n, err := d.ws.Write(buf)
	return err == nil && n == SectorSize
}

func (d *StreamDevice) CanWrite() bool {
	return d.canWrite
}
