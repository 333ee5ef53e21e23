// Package pseudofs is a small synthetic filesystem used to exercise the
// vfs package without a real block device: a root directory exposing
// /null (reads return EOF immediately), /zero (reads return zero bytes)
// and /a (reads return 'a' bytes), grounded on original_source/pseudofs.c.
package pseudofs

import (
	"fmt"
	"io"

	"golang.org/x/sys/unix"

	"github.com/alnyan/fs-playground/vfs"
)

type kind int

const (
	kindNull kind = iota
	kindZero
	kindFill
)

// FS is the pseudofs vfs.FileSystem: a single resident root directory, no
// backing storage at all.
type FS struct {
	root *node
}

var _ vfs.FileSystem = (*FS)(nil)

// New builds a pseudofs instance.
func New() *FS {
	fs := &FS{}
	fs.root = &node{fs: fs, ino: 1, typ: vfs.TypeDirectory}
	return fs
}

func (fs *FS) Root() (vfs.DriverNode, error) { return fs.root, nil }

func (fs *FS) StatVFS() (vfs.VFSStat, error) {
	return vfs.VFSStat{Bsize: 512, Frsize: 512, NameMax: 256}, nil
}

func (fs *FS) Sync() error { return nil }

// node is the pseudofs vfs.DriverNode: either the resident root directory
// or one of its three synthetic regular files.
type node struct {
	fs   *FS
	ino  uint64
	typ  vfs.NodeType
	kind kind
}

var _ vfs.DriverNode = (*node)(nil)

func (n *node) Type() vfs.NodeType { return n.typ }
func (n *node) Number() uint64     { return n.ino }
func (n *node) FS() vfs.FileSystem { return n.fs }

func (n *node) Find(name string) (vfs.DriverNode, error) {
	if n.typ != vfs.TypeDirectory {
		return nil, fmt.Errorf("find: %w", unix.ENOTDIR)
	}
	switch name {
	case "null":
		return &node{fs: n.fs, ino: 2, typ: vfs.TypeRegular, kind: kindNull}, nil
	case "zero":
		return &node{fs: n.fs, ino: 3, typ: vfs.TypeRegular, kind: kindZero}, nil
	case "a":
		return &node{fs: n.fs, ino: 4, typ: vfs.TypeRegular, kind: kindFill}, nil
	default:
		return nil, fmt.Errorf("find %q: %w", name, unix.ENOENT)
	}
}

func (n *node) Creat(ioc *vfs.IOContext, name string, mode uint32) (vfs.DriverNode, error) {
	return nil, fmt.Errorf("creat: %w", unix.EROFS)
}

func (n *node) Mkdir(ioc *vfs.IOContext, name string, mode uint32) (vfs.DriverNode, error) {
	return nil, fmt.Errorf("mkdir: %w", unix.EROFS)
}

func (n *node) Symlink(ioc *vfs.IOContext, name, target string) (vfs.DriverNode, error) {
	return nil, fmt.Errorf("symlink: %w", unix.EROFS)
}

func (n *node) Readlink() (string, error) {
	return "", fmt.Errorf("readlink: %w", unix.EINVAL)
}

func (n *node) Unlink(child vfs.DriverNode, name string) error {
	return fmt.Errorf("unlink: %w", unix.EROFS)
}

func (n *node) Open(flags vfs.OpenFlag) error { return nil }
func (n *node) Opendir() error {
	if n.typ != vfs.TypeDirectory {
		return fmt.Errorf("opendir: %w", unix.ENOTDIR)
	}
	return nil
}
func (n *node) Close() error { return nil }

// Read implements the three synthetic node kinds (original_source/pseudofs.c
// pseudo_vnode_read): null reports immediate EOF, zero fills the buffer
// with zero bytes, and the "a" node fills it with the byte 'a'.
func (n *node) Read(pos int64, buf []byte) (int, error) {
	switch n.kind {
	case kindNull:
		return 0, io.EOF
	case kindZero:
		for i := range buf {
			buf[i] = 0
		}
		return len(buf), nil
	case kindFill:
		for i := range buf {
			buf[i] = 'a'
		}
		return len(buf), nil
	default:
		return 0, fmt.Errorf("read: %w", unix.EINVAL)
	}
}

func (n *node) Write(pos int64, buf []byte) (int, error) {
	return 0, fmt.Errorf("write: %w", unix.EROFS)
}

func (n *node) Truncate(length int64) error {
	return fmt.Errorf("truncate: %w", unix.EROFS)
}

func (n *node) Readdir(pos int64) (vfs.Dirent, int64, error) {
	if n.typ != vfs.TypeDirectory {
		return vfs.Dirent{}, pos, fmt.Errorf("readdir: %w", unix.ENOTDIR)
	}
	names := []string{"null", "zero", "a"}
	if pos >= int64(len(names)) {
		return vfs.Dirent{}, pos, io.EOF
	}
	name := names[pos]
	child, _ := n.Find(name)
	return vfs.Dirent{Ino: child.Number(), Name: name, Type: vfs.TypeRegular}, pos + 1, nil
}

func (n *node) Stat() (vfs.StatInfo, error) {
	mode := uint32(0444)
	if n.typ == vfs.TypeDirectory {
		mode = 0555
	}
	return vfs.StatInfo{Ino: n.ino, Mode: mode, Type: n.typ, BlockSize: 512}, nil
}

func (n *node) Chmod(mode uint32) error { return fmt.Errorf("chmod: %w", unix.EROFS) }
func (n *node) Chown(uid, gid uint32) error { return fmt.Errorf("chown: %w", unix.EROFS) }

func (n *node) Access() (vfs.AccessInfo, error) {
	mode := uint32(0444)
	if n.typ == vfs.TypeDirectory {
		mode = 0555
	}
	return vfs.AccessInfo{Mode: mode}, nil
}

func (n *node) Destroy() error { return nil }
