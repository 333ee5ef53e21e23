package file

import "io"

// Memory is an in-memory backend.Storage, used by unit tests that would
// otherwise need a throwaway disk image file.
type Memory struct {
	buf      []byte
	readOnly bool
}

// NewMemory allocates a zero-filled in-memory backend of the given size.
func NewMemory(size int64) *Memory {
	return &Memory{buf: make([]byte, size)}
}

func (m *Memory) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(len(m.buf)) {
		return 0, io.EOF
	}
	n := copy(p, m.buf[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (m *Memory) WriteAt(p []byte, off int64) (int, error) {
	if m.readOnly {
		return 0, io.ErrShortWrite
	}
	end := off + int64(len(p))
	if end > int64(len(m.buf)) {
		return 0, io.ErrShortWrite
	}
	return copy(m.buf[off:end], p), nil
}

func (m *Memory) Close() error { return nil }

func (m *Memory) Size() int64 { return int64(len(m.buf)) }

func (m *Memory) ReadOnly() bool { return m.readOnly }
