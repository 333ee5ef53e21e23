// Package backend defines the byte-addressable block device contract that
// filesystem drivers in this module are built against.
package backend

import (
	"errors"
	"io"
)

// ErrReadOnly names the condition of backing storage opened for reading
// only. The backends in backend/file report writes to such storage with
// their own errors and do not return it.
var ErrReadOnly = errors.New("backend: storage not open for write")

// Storage is a random-access, byte-addressable backing store for a
// filesystem image. Offsets are byte-granular; block alignment, if any, is
// the caller's responsibility.
type Storage interface {
	io.ReaderAt
	io.WriterAt
	io.Closer

	// Size reports the total addressable size of the backing store in bytes.
	Size() int64

	// ReadOnly reports whether WriteAt calls will fail.
	ReadOnly() bool
}
