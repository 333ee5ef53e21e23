package vfs

// DriverNode is the capability table a filesystem driver's in-memory vnode
// implements — the Go realization of the on-disk-agnostic "operations
// table" the design notes call for (spec design note: "encode as a
// capability table ... or as an interface/trait").
//
// The VFS owns reference counting and tree placement (see Vnode, TreeNode);
// a DriverNode only ever answers questions about or mutates the one
// filesystem entity it represents.
type DriverNode interface {
	Type() NodeType
	// Number is the driver-specific identifier (e.g. inode number) for stat
	// and logging; it carries no meaning to the VFS layer itself.
	Number() uint64
	FS() FileSystem

	// Find looks up name as a child of this (directory) node. Returns
	// unix.ENOENT if absent.
	Find(name string) (DriverNode, error)
	// Creat creates a regular file named name as a child of this directory.
	Creat(ioc *IOContext, name string, mode uint32) (DriverNode, error)
	// Mkdir creates a directory named name as a child of this directory.
	Mkdir(ioc *IOContext, name string, mode uint32) (DriverNode, error)
	// Symlink creates a symlink named name pointing at target.
	Symlink(ioc *IOContext, name, target string) (DriverNode, error)
	// Readlink returns this node's link target.
	Readlink() (string, error)
	// Unlink removes name (whose resolved node is child) from this directory.
	Unlink(child DriverNode, name string) error

	// Open prepares the node for a regular-file open with the given flags.
	Open(flags OpenFlag) error
	// Opendir prepares the node for directory iteration.
	Opendir() error
	// Close releases any open-specific driver state. May be a no-op.
	Close() error

	Read(pos int64, buf []byte) (int, error)
	Write(pos int64, buf []byte) (int, error)
	Truncate(length int64) error
	// Readdir decodes one entry at byte position pos and returns the
	// position of the next entry.
	Readdir(pos int64) (Dirent, int64, error)

	Stat() (StatInfo, error)
	Chmod(mode uint32) error
	Chown(uid, gid uint32) error
	// Access reports the ownership/permission triple for the VFS's
	// permission engine to evaluate; the driver makes no access decision.
	Access() (AccessInfo, error)

	// Destroy releases the driver's owned in-memory state (e.g. the inode
	// buffer) when the owning Vnode is freed.
	Destroy() error
}

// FileSystem is the class-level interface a mounted filesystem instance
// implements: producing its root node and answering statvfs.
type FileSystem interface {
	Root() (DriverNode, error)
	StatVFS() (VFSStat, error)
	// Sync flushes any buffered metadata. Most operations here are
	// eagerly flushed already (see the allocator), so Sync is mostly a
	// formality kept for symmetry with Close on the backing backend.
	Sync() error
}
