package vfs

import "time"

// NodeType classifies a vnode the way the ext2 inode's type nibble does.
type NodeType int

const (
	TypeRegular NodeType = iota
	TypeDirectory
	TypeSymlink
)

func (t NodeType) String() string {
	switch t {
	case TypeDirectory:
		return "dir"
	case TypeSymlink:
		return "symlink"
	default:
		return "file"
	}
}

// OpenFlag mirrors the POSIX open(2) flag bits this VFS understands.
type OpenFlag int

const (
	ORdOnly OpenFlag = 1 << iota
	OWrOnly
	ORdWr
	OExec
	OCreat
	ODirectory
	OTrunc
	OAppend
)

// Has reports whether all bits of mask are set in f.
func (f OpenFlag) Has(mask OpenFlag) bool { return f&mask == mask }

// Any reports whether any bit of mask is set in f.
func (f OpenFlag) Any(mask OpenFlag) bool { return f&mask != 0 }

// AccessMask is a requested permission mask, evaluated by the permission engine.
type AccessMask int

const (
	MaskRead AccessMask = 1 << iota
	MaskWrite
	MaskExec
)

// AccessInfo is what DriverNode.Access reports for the VFS to evaluate
// against an AccessMask; the driver itself never makes the decision (spec
// §4.6's "access (hook)").
type AccessInfo struct {
	UID, GID uint32
	Mode     uint32 // lower 9 bits meaningful
}

// Dirent is one entry produced by DriverNode.Readdir.
type Dirent struct {
	Ino    uint64
	Name   string
	Type   NodeType
	Off    int64
	RecLen int
}

// StatInfo mirrors a POSIX stat(2) result.
type StatInfo struct {
	Ino       uint64
	Mode      uint32
	Type      NodeType
	UID, GID  uint32
	Size      int64
	Blocks    int64
	BlockSize int64
	Nlink     uint32
	Atime     time.Time
	Mtime     time.Time
	Ctime     time.Time
}

// VFSStat mirrors a POSIX statvfs(2) result.
type VFSStat struct {
	Bsize, Frsize         int64
	Blocks, Bfree, Bavail int64
	Files, Ffree, Favail  int64
	NameMax               int
}

// IOContext is the per-caller triple scoping every VFS entry point that
// performs permission checks or relative path resolution.
type IOContext struct {
	Cwd *Vnode
	UID uint32
	GID uint32
}

// Handle is an open-file handle: a held vnode reference, the flags it was
// opened with, a byte position, and (for directories) a small one-entry
// dirent buffer.
type Handle struct {
	Vnode  *Vnode
	Flags  OpenFlag
	Pos    int64
	Dirent Dirent
}
