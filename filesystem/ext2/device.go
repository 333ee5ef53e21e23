package ext2

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/alnyan/fs-playground/backend"
)

// device wraps a backend.Storage with the byte-addressable read(buf, off,
// len) / write(buf, off, len) contract of spec §4.1: short I/O is treated
// as failure, matching "ext2 issues only whole-block requests" (§4.1) and
// "a short read/write is treated as failure by callers requiring an exact
// length".
type device struct {
	storage backend.Storage
}

func newDevice(s backend.Storage) *device { return &device{storage: s} }

func (d *device) readAt(buf []byte, off int64) error {
	n, err := d.storage.ReadAt(buf, off)
	if n != len(buf) {
		return fmt.Errorf("short read at %d: %w", off, unix.EIO)
	}
	if err != nil {
		return fmt.Errorf("read at %d: %w", off, err)
	}
	return nil
}

func (d *device) writeAt(buf []byte, off int64) error {
	if d.storage.ReadOnly() {
		return fmt.Errorf("write at %d: %w", off, unix.EROFS)
	}
	n, err := d.storage.WriteAt(buf, off)
	if n != len(buf) {
		return fmt.Errorf("short write at %d: %w", off, unix.EIO)
	}
	if err != nil {
		return fmt.Errorf("write at %d: %w", off, err)
	}
	return nil
}

// destroy releases the backing storage's resources.
func (d *device) destroy() error { return d.storage.Close() }
