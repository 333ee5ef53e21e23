// Package file implements backend.Storage on top of a plain *os.File,
// adapted from the way the teacher's raw disk backend wraps an fs.File.
package file

import (
	"fmt"
	"os"
)

// Backend is a file-backed block device. It satisfies backend.Storage.
type Backend struct {
	f        *os.File
	size     int64
	readOnly bool
}

// OpenFromPath opens an existing disk image. The path must already exist.
func OpenFromPath(path string, readOnly bool) (*Backend, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	flag := os.O_RDWR
	if readOnly {
		flag = os.O_RDONLY
	}
	f, err := os.OpenFile(path, flag, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return &Backend{f: f, size: info.Size(), readOnly: readOnly}, nil
}

// CreateFromPath creates a new disk image of the given size. The path must
// not already exist.
func CreateFromPath(path string, size int64) (*Backend, error) {
	if _, err := os.Stat(path); err == nil {
		return nil, fmt.Errorf("create %s: already exists", path)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", path, err)
	}
	if err := f.Truncate(size); err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("truncate %s: %w", path, err)
	}
	return &Backend{f: f, size: size, readOnly: false}, nil
}

func (b *Backend) ReadAt(p []byte, off int64) (int, error) { return b.f.ReadAt(p, off) }

func (b *Backend) WriteAt(p []byte, off int64) (int, error) {
	if b.readOnly {
		return 0, fmt.Errorf("write at %d: %w", off, os.ErrPermission)
	}
	return b.f.WriteAt(p, off)
}

func (b *Backend) Close() error { return b.f.Close() }

func (b *Backend) Size() int64 { return b.size }

func (b *Backend) ReadOnly() bool { return b.readOnly }
