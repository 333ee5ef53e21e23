package vfs

import (
	"errors"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/alnyan/fs-playground/internal/xlog"
)

func maskForOpen(flags OpenFlag) AccessMask {
	var m AccessMask
	if flags.Any(OExec) {
		m |= MaskExec
	}
	switch {
	case flags.Any(OWrOnly):
		m |= MaskWrite
	case flags.Any(ORdWr):
		m |= MaskRead | MaskWrite
	case flags.Any(ORdOnly):
		m |= MaskRead
	}
	return m
}

// Open resolves path and opens it, creating it first if O_CREAT is given
// and it is absent (grounded on vfs_open in src/vfs.c).
func (v *VFS) Open(ioc *IOContext, path string, flags OpenFlag, mode uint32) (*Handle, error) {
	node, err := v.find(ioc, path)
	if errors.Is(err, unix.ENOENT) && flags.Any(OCreat) {
		return v.Creat(ioc, path, mode, flags)
	}
	if err != nil {
		return nil, err
	}
	node, err = v.resolveSymlinkTerminal(node)
	if err != nil {
		return nil, err
	}
	return v.openNode(ioc, node, flags)
}

// openNode performs the permission check, directory/truncate flag
// validation, and driver Open/Opendir dispatch (grounded on vfs_open_node
// in src/vfs.c).
func (v *VFS) openNode(ioc *IOContext, node *TreeNode, flags OpenFlag) (*Handle, error) {
	if flags.Any(OAppend) {
		return nil, unix.EINVAL
	}
	driver := node.Vnode.Driver
	info, err := driver.Access()
	if err != nil {
		return nil, err
	}
	if err := checkAccess(ioc, info, maskForOpen(flags)); err != nil {
		return nil, err
	}

	if flags.Any(ODirectory) {
		if driver.Type() != TypeDirectory {
			return nil, unix.ENOTDIR
		}
		if flags.Any(OTrunc) || flags.Any(OCreat) {
			return nil, unix.EINVAL
		}
		if err := driver.Opendir(); err != nil {
			return nil, err
		}
	} else {
		if driver.Type() == TypeDirectory {
			return nil, unix.EISDIR
		}
		if flags.Any(OTrunc) {
			if err := driver.Truncate(0); err != nil {
				return nil, err
			}
		}
		if err := driver.Open(flags); err != nil {
			return nil, err
		}
	}

	node.Vnode.ref()
	return &Handle{Vnode: node.Vnode, Flags: flags}, nil
}

// resolveParent resolves the directory portion of path, following a
// terminal symlink if the parent itself turns out to be one.
func (v *VFS) resolveParent(ioc *IOContext, path string) (*TreeNode, error) {
	pp := parentPath(path)
	if pp == "" {
		pp = "."
	}
	parent, err := v.find(ioc, pp)
	if err != nil {
		return nil, err
	}
	return v.resolveSymlinkTerminal(parent)
}

// Creat creates a regular file at path and opens it with flags minus
// O_CREAT (grounded on vfs_creat in src/vfs.c).
func (v *VFS) Creat(ioc *IOContext, path string, mode uint32, flags OpenFlag) (*Handle, error) {
	parent, err := v.resolveParent(ioc, path)
	if err != nil {
		return nil, err
	}
	if parent.Vnode.Driver.Type() != TypeDirectory {
		return nil, unix.ENOTDIR
	}
	info, err := parent.Vnode.Driver.Access()
	if err != nil {
		return nil, err
	}
	if err := checkAccess(ioc, info, MaskWrite); err != nil {
		return nil, err
	}

	name := basename(path)
	for c := parent.Child; c != nil; c = c.Sibling {
		if c.Name == name {
			return nil, unix.EEXIST
		}
	}

	child, err := parent.Vnode.Driver.Creat(ioc, name, mode)
	if err != nil {
		return nil, err
	}
	childNode := newTreeNode(name, newVnode(child))
	childNode.Parent = parent
	childNode.Sibling = parent.Child
	parent.Child = childNode
	xlog.Op(logrus.Fields{"op": "creat", "name": name}, "file created")

	return v.openNode(ioc, childNode, flags&^OCreat)
}

// Close releases a handle's driver-specific state and unrefs its vnode
// (grounded on vfs_close in src/vfs.c).
func (v *VFS) Close(h *Handle) error {
	if h.Flags.Any(ODirectory) {
		// opendir carries no teardown hook distinct from Close in this driver
	}
	err := h.Vnode.Driver.Close()
	h.Vnode.unref()
	return err
}

// Read reads from h into buf, advancing h.Pos by the bytes read (grounded
// on vfs_read in src/vfs.c).
func (v *VFS) Read(h *Handle, buf []byte) (int, error) {
	if h.Flags.Any(ODirectory) {
		return 0, unix.EISDIR
	}
	if !h.Flags.Any(ORdOnly) && !h.Flags.Any(ORdWr) {
		return 0, unix.EINVAL
	}
	n, err := h.Vnode.Driver.Read(h.Pos, buf)
	h.Pos += int64(n)
	return n, err
}

// Write writes buf to h at its current position, advancing h.Pos by the
// bytes written (grounded on vfs_write in src/vfs.c).
func (v *VFS) Write(h *Handle, buf []byte) (int, error) {
	if h.Flags.Any(ODirectory) {
		return 0, unix.EISDIR
	}
	if !h.Flags.Any(OWrOnly) && !h.Flags.Any(ORdWr) {
		return 0, unix.EINVAL
	}
	n, err := h.Vnode.Driver.Write(h.Pos, buf)
	h.Pos += int64(n)
	return n, err
}

// Truncate resizes the file backing h (grounded on vfs_truncate in src/vfs.c).
func (v *VFS) Truncate(h *Handle, length int64) error {
	if h.Flags.Any(ODirectory) {
		return unix.EISDIR
	}
	return h.Vnode.Driver.Truncate(length)
}

// Readdir reads the next directory entry from h into h.Dirent (grounded on
// vfs_readdir in src/vfs.c).
func (v *VFS) Readdir(h *Handle) (*Dirent, error) {
	if !h.Flags.Any(ODirectory) {
		return nil, unix.ENOTDIR
	}
	info, err := h.Vnode.Driver.Access()
	if err != nil {
		return nil, err
	}
	ent, next, err := h.Vnode.Driver.Readdir(h.Pos)
	if err != nil {
		return nil, err
	}
	h.Pos = next
	_ = info
	h.Dirent = ent
	return &h.Dirent, nil
}

// Mkdir creates a directory at path (grounded on vfs_mkdir in src/vfs.c).
func (v *VFS) Mkdir(ioc *IOContext, path string, mode uint32) error {
	parent, err := v.resolveParent(ioc, path)
	if err != nil {
		return err
	}
	if parent.Vnode.Driver.Type() != TypeDirectory {
		return unix.ENOTDIR
	}
	info, err := parent.Vnode.Driver.Access()
	if err != nil {
		return err
	}
	if err := checkAccess(ioc, info, MaskWrite); err != nil {
		return err
	}
	name := basename(path)
	for c := parent.Child; c != nil; c = c.Sibling {
		if c.Name == name {
			return unix.EEXIST
		}
	}
	child, err := parent.Vnode.Driver.Mkdir(ioc, name, mode)
	if err != nil {
		return err
	}
	childNode := newTreeNode(name, newVnode(child))
	childNode.Parent = parent
	childNode.Sibling = parent.Child
	parent.Child = childNode
	xlog.Op(logrus.Fields{"op": "mkdir", "name": name}, "directory created")
	return nil
}

// Symlink creates a symlink at path pointing at target (grounded on
// vfs_symlink in src/vfs.c).
func (v *VFS) Symlink(ioc *IOContext, path, target string) error {
	parent, err := v.resolveParent(ioc, path)
	if err != nil {
		return err
	}
	if parent.Vnode.Driver.Type() != TypeDirectory {
		return unix.ENOTDIR
	}
	info, err := parent.Vnode.Driver.Access()
	if err != nil {
		return err
	}
	if err := checkAccess(ioc, info, MaskWrite); err != nil {
		return err
	}
	name := basename(path)
	for c := parent.Child; c != nil; c = c.Sibling {
		if c.Name == name {
			return unix.EEXIST
		}
	}
	child, err := parent.Vnode.Driver.Symlink(ioc, name, target)
	if err != nil {
		return err
	}
	childNode := newTreeNode(name, newVnode(child))
	childNode.Parent = parent
	childNode.Sibling = parent.Child
	parent.Child = childNode
	return nil
}

// Unlink removes path from its parent directory (grounded on vfs_unlink in
// src/vfs.c).
func (v *VFS) Unlink(ioc *IOContext, path string) error {
	node, err := v.find(ioc, path)
	if err != nil {
		return err
	}
	parent := node.Parent
	if parent == nil {
		return unix.EACCES
	}
	if parent.Vnode.Driver.Type() != TypeDirectory {
		return unix.ENOTDIR
	}
	info, err := parent.Vnode.Driver.Access()
	if err != nil {
		return err
	}
	if err := checkAccess(ioc, info, MaskWrite); err != nil {
		return err
	}
	if ioc.Cwd == node.Vnode {
		return unix.EBUSY
	}
	name := basename(path)
	if err := parent.Vnode.Driver.Unlink(node.Vnode.Driver, name); err != nil {
		return err
	}
	xlog.Op(logrus.Fields{"op": "unlink", "name": name}, "entry unlinked")
	return nil
}

// Chmod changes path's mode bits; only the owner or uid 0 may do so
// (grounded on vfs_chmod in src/vfs.c).
func (v *VFS) Chmod(ioc *IOContext, path string, mode uint32) error {
	node, err := v.find(ioc, path)
	if err != nil {
		return err
	}
	node, err = v.resolveSymlinkTerminal(node)
	if err != nil {
		return err
	}
	info, err := node.Vnode.Driver.Access()
	if err != nil {
		return err
	}
	if ioc.UID != 0 && ioc.UID != info.UID {
		return unix.EACCES
	}
	return node.Vnode.Driver.Chmod(mode)
}

// Chown changes path's uid/gid; only uid 0 may do so (grounded on
// vfs_chown in src/vfs.c).
func (v *VFS) Chown(ioc *IOContext, path string, uid, gid uint32) error {
	node, err := v.find(ioc, path)
	if err != nil {
		return err
	}
	node, err = v.resolveSymlinkTerminal(node)
	if err != nil {
		return err
	}
	if ioc.UID != 0 {
		return unix.EACCES
	}
	return node.Vnode.Driver.Chown(uid, gid)
}

// Access checks path against mask; F_OK (mask == 0) only checks existence
// (grounded on vfs_access in src/vfs.c).
func (v *VFS) Access(ioc *IOContext, path string, mask AccessMask) error {
	node, err := v.find(ioc, path)
	if err != nil {
		return err
	}
	if mask == 0 {
		return nil
	}
	node, err = v.resolveSymlinkTerminal(node)
	if err != nil {
		return err
	}
	info, err := node.Vnode.Driver.Access()
	if err != nil {
		return err
	}
	return checkAccess(ioc, info, mask)
}

// Readlink returns path's symlink target (grounded on vfs_readlink in
// src/vfs.c).
func (v *VFS) Readlink(ioc *IOContext, path string) (string, error) {
	node, err := v.find(ioc, path)
	if err != nil {
		return "", err
	}
	if node.Vnode.Driver.Type() != TypeSymlink {
		return "", unix.EINVAL
	}
	return node.Vnode.Driver.Readlink()
}

// StatVFS resolves path and delegates to its filesystem's class-level
// statvfs (grounded on vfs_statvfs in src/vfs.c).
func (v *VFS) StatVFS(ioc *IOContext, path string) (VFSStat, error) {
	node, err := v.find(ioc, path)
	if err != nil {
		return VFSStat{}, err
	}
	return node.Vnode.Driver.FS().StatVFS()
}

// Stat resolves path and returns its driver-reported stat info (following
// terminal symlinks).
func (v *VFS) Stat(ioc *IOContext, path string) (StatInfo, error) {
	node, err := v.find(ioc, path)
	if err != nil {
		return StatInfo{}, err
	}
	node, err = v.resolveSymlinkTerminal(node)
	if err != nil {
		return StatInfo{}, err
	}
	return node.Vnode.Driver.Stat()
}
