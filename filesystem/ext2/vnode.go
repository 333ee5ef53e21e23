package ext2

import (
	"encoding/binary"
	"fmt"
	"io"

	"golang.org/x/sys/unix"

	"github.com/alnyan/fs-playground/vfs"
)

// vnode is the ext2 driver's vfs.DriverNode implementation: a heap-owned
// inode buffer plus its number and cached type, exactly the in-memory
// inode handle of spec §3.
type vnode struct {
	fs   *FS
	ino  uint32
	node *onDiskInode
	typ  vfs.NodeType
}

var _ vfs.DriverNode = (*vnode)(nil)

func (fs *FS) getVnode(ino uint32) (*vnode, error) {
	node, err := fs.readInode(ino)
	if err != nil {
		return nil, err
	}
	return &vnode{fs: fs, ino: ino, node: node, typ: node.fileType()}, nil
}

func (v *vnode) Type() vfs.NodeType  { return v.typ }
func (v *vnode) Number() uint64      { return uint64(v.ino) }
func (v *vnode) FS() vfs.FileSystem  { return v.fs }

// Find implements spec §4.6 "find".
func (v *vnode) Find(name string) (vfs.DriverNode, error) {
	childIno, _, err := v.fs.dirFind(v.ino, v.node, name)
	if err != nil {
		return nil, err
	}
	return v.fs.getVnode(childIno)
}

// Creat implements spec §4.6 "creat".
func (v *vnode) Creat(ioc *vfs.IOContext, name string, mode uint32) (vfs.DriverNode, error) {
	ino, err := v.fs.allocInode()
	if err != nil {
		return nil, err
	}
	node := &onDiskInode{
		TypePerm:   uint16(mode&0x1FF) | uint16(unix.S_IFREG),
		UID:        uint16(ioc.UID),
		GID:        uint16(ioc.GID),
		LinksCount: 1,
	}
	if err := v.fs.dirAdd(v.node, name, ino, vfs.TypeRegular); err != nil {
		return nil, err
	}
	if err := v.fs.writeInode(ino, node); err != nil {
		return nil, err
	}
	return &vnode{fs: v.fs, ino: ino, node: node, typ: vfs.TypeRegular}, nil
}

// Mkdir implements spec §4.6 "mkdir".
func (v *vnode) Mkdir(ioc *vfs.IOContext, name string, mode uint32) (vfs.DriverNode, error) {
	ino, err := v.fs.allocInode()
	if err != nil {
		return nil, err
	}
	block, err := v.fs.allocBlock()
	if err != nil {
		_ = v.fs.freeInode(ino)
		return nil, err
	}

	bs := v.fs.bsize
	buf := make([]byte, bs)
	selfLen := align4(direntHeaderSize + 1)
	writeDirentHeader(buf, 0, ino, uint16(selfLen), 1, nodeTypeToTypeInd(vfs.TypeDirectory), ".")
	writeDirentHeader(buf, selfLen, v.ino, uint16(int(bs)-selfLen), 2, nodeTypeToTypeInd(vfs.TypeDirectory), "..")
	if err := v.fs.dev.writeAt(buf, int64(block)*int64(bs)); err != nil {
		return nil, err
	}

	node := &onDiskInode{
		TypePerm:   uint16(mode&0x1FF) | uint16(unix.S_IFDIR),
		UID:        uint16(ioc.UID),
		GID:        uint16(ioc.GID),
		SizeLower:  bs,
		LinksCount: 1,
	}
	node.Block[0] = block

	if err := v.fs.dirAdd(v.node, name, ino, vfs.TypeDirectory); err != nil {
		return nil, err
	}
	if err := v.fs.writeInode(ino, node); err != nil {
		return nil, err
	}
	return &vnode{fs: v.fs, ino: ino, node: node, typ: vfs.TypeDirectory}, nil
}

// Symlink implements spec §4.6 "symlink": inline storage for targets up to
// 60 bytes, else a dedicated data block.
func (v *vnode) Symlink(ioc *vfs.IOContext, name, target string) (vfs.DriverNode, error) {
	ino, err := v.fs.allocInode()
	if err != nil {
		return nil, err
	}
	node := &onDiskInode{
		TypePerm:   0777 | uint16(unix.S_IFLNK),
		UID:        uint16(ioc.UID),
		GID:        uint16(ioc.GID),
		SizeLower:  uint32(len(target)),
		LinksCount: 1,
	}
	if len(target) <= inlineSymlinkMax {
		setInlineSymlink(node, target)
	} else {
		block, err := v.fs.allocBlock()
		if err != nil {
			_ = v.fs.freeInode(ino)
			return nil, err
		}
		buf := make([]byte, v.fs.bsize)
		copy(buf, target)
		if err := v.fs.dev.writeAt(buf, int64(block)*int64(v.fs.bsize)); err != nil {
			return nil, err
		}
		node.Block[0] = block
	}
	if err := v.fs.dirAdd(v.node, name, ino, vfs.TypeSymlink); err != nil {
		return nil, err
	}
	if err := v.fs.writeInode(ino, node); err != nil {
		return nil, err
	}
	return &vnode{fs: v.fs, ino: ino, node: node, typ: vfs.TypeSymlink}, nil
}

// Readlink implements spec §4.6 "readlink".
func (v *vnode) Readlink() (string, error) {
	if v.typ != vfs.TypeSymlink {
		return "", fmt.Errorf("readlink: not a symlink: %w", unix.EINVAL)
	}
	if v.node.SizeLower <= inlineSymlinkMax {
		return inlineSymlink(v.node)[:v.node.SizeLower], nil
	}
	phys, err := v.fs.logicalToPhysical(v.node, 0)
	if err != nil {
		return "", err
	}
	buf := make([]byte, v.fs.bsize)
	if err := v.fs.dev.readAt(buf, int64(phys)*int64(v.fs.bsize)); err != nil {
		return "", err
	}
	return string(buf[:v.node.SizeLower]), nil
}

func setInlineSymlink(node *onDiskInode, target string) {
	var inline [inlineSymlinkMax]byte
	copy(inline[:], target)
	for i := 0; i < numBlockPtrs; i++ {
		node.Block[i] = binary.LittleEndian.Uint32(inline[i*4 : i*4+4])
	}
}

func inlineSymlink(node *onDiskInode) string {
	var inline [inlineSymlinkMax]byte
	for i := 0; i < numBlockPtrs; i++ {
		binary.LittleEndian.PutUint32(inline[i*4:i*4+4], node.Block[i])
	}
	return string(inline[:])
}

// Unlink implements spec §4.6 "unlink": refuses non-empty directories,
// frees every data block, frees the inode, removes the parent entry.
func (v *vnode) Unlink(child vfs.DriverNode, name string) error {
	cv, ok := child.(*vnode)
	if !ok {
		return fmt.Errorf("unlink: foreign driver node: %w", unix.EINVAL)
	}
	if cv.typ == vfs.TypeDirectory {
		empty, err := v.fs.isEmptyDir(cv.node)
		if err != nil {
			return err
		}
		if !empty {
			return fmt.Errorf("unlink %q: %w", name, unix.EISDIR)
		}
	}

	bs := v.fs.bsize
	numBlocks := blocksForSize(cv.node.SizeLower, bs)
	for i := int64(numBlocks) - 1; i >= 0; i-- {
		if cv.node.SizeLower > bs {
			cv.node.SizeLower -= bs
		} else {
			cv.node.SizeLower = 0
		}
		if err := v.fs.inodeFreeBlock(cv.node, cv.ino, uint32(i)); err != nil {
			return err
		}
	}
	if err := v.fs.freeInode(cv.ino); err != nil {
		return err
	}
	return v.fs.dirRemove(v.node, name, cv.ino)
}

// Open implements spec §4.6 "open": regular files always succeed here;
// the VFS has already gated permissions. A write open against a
// read-only-mounted filesystem reports EROFS.
func (v *vnode) Open(flags vfs.OpenFlag) error {
	if flags.Any(vfs.OWrOnly | vfs.ORdWr) {
		if v.fs.dev.storage.ReadOnly() {
			return fmt.Errorf("open: %w", unix.EROFS)
		}
	}
	return nil
}

func (v *vnode) Opendir() error {
	if v.typ != vfs.TypeDirectory {
		return fmt.Errorf("opendir: %w", unix.ENOTDIR)
	}
	return nil
}

func (v *vnode) Close() error { return nil }

// Read implements spec §4.6 "read", using a running write pointer for the
// destination buffer instead of the source's buf+bs*i indexing — the one
// place this driver deliberately corrects a bug flagged (not silently
// fixed) in the design notes: the original expression doesn't account for
// the first block's partial-copy shift, corrupting reads that span more
// than two blocks from a non-aligned position.
func (v *vnode) Read(pos int64, buf []byte) (int, error) {
	size := int64(v.node.SizeLower)
	if pos >= size {
		return 0, io.EOF
	}
	bs := int64(v.fs.bsize)
	nread := size - pos
	if int64(len(buf)) < nread {
		nread = int64(len(buf))
	}

	startBlock := uint32(pos / bs)
	firstOff := pos % bs
	var written int64
	blockIdx := startBlock
	blockBuf := make([]byte, bs)
	for written < nread {
		phys, err := v.fs.logicalToPhysical(v.node, blockIdx)
		if err != nil {
			return int(written), err
		}
		if err := v.fs.dev.readAt(blockBuf, int64(phys)*bs); err != nil {
			return int(written), err
		}
		srcOff := int64(0)
		if blockIdx == startBlock {
			srcOff = firstOff
		}
		avail := bs - srcOff
		toCopy := nread - written
		if toCopy > avail {
			toCopy = avail
		}
		copy(buf[written:written+toCopy], blockBuf[srcOff:srcOff+toCopy])
		written += toCopy
		blockIdx++
	}
	return int(written), nil
}

// Write implements spec §4.6 "write": an in-place tail write into the
// last already-allocated block's slack, then allocate-on-demand growth,
// bumping size_lower before each new block is flushed so a reader never
// observes a grown size pointing at an unallocated block (spec §5).
func (v *vnode) Write(pos int64, data []byte) (int, error) {
	if v.fs.dev.storage.ReadOnly() {
		return 0, fmt.Errorf("write: %w", unix.EROFS)
	}
	size := int64(v.node.SizeLower)
	if pos > size {
		return 0, fmt.Errorf("write: %w", unix.ESPIPE)
	}
	bs := int64(v.fs.bsize)
	remaining := int64(len(data))
	var written int64
	grew := false

	sizeBlocks := int64(blocksForSize(v.node.SizeLower, v.fs.bsize))
	capacity := sizeBlocks*bs - size
	if capacity > 0 && remaining > 0 {
		n1 := capacity
		if n1 > remaining {
			n1 = remaining
		}
		lastBlockIdx := uint32(sizeBlocks - 1)
		phys, err := v.fs.logicalToPhysical(v.node, lastBlockIdx)
		if err != nil {
			return 0, err
		}
		blockBuf := make([]byte, bs)
		if err := v.fs.dev.readAt(blockBuf, int64(phys)*bs); err != nil {
			return 0, err
		}
		tailOff := size - (sizeBlocks-1)*bs
		copy(blockBuf[tailOff:tailOff+n1], data[:n1])
		if err := v.fs.dev.writeAt(blockBuf, int64(phys)*bs); err != nil {
			return 0, err
		}
		written = n1
		newSize := size + written
		if newSize > int64(v.node.SizeLower) {
			v.node.SizeLower = uint32(newSize)
		}
	}

	for written < remaining {
		toWrite := remaining - written
		if toWrite > bs {
			toWrite = bs
		}
		nextBlockIdx := blocksForSize(v.node.SizeLower, v.fs.bsize)
		v.node.SizeLower += uint32(toWrite)
		bno, err := v.fs.inodeAllocBlock(v.node, v.ino, nextBlockIdx)
		if err != nil {
			v.node.SizeLower -= uint32(toWrite)
			if written > 0 {
				return int(written), nil
			}
			return 0, err
		}
		grew = true
		blockBuf := make([]byte, bs)
		copy(blockBuf, data[written:written+toWrite])
		if err := v.fs.dev.writeAt(blockBuf, int64(bno)*bs); err != nil {
			return int(written), err
		}
		written += toWrite
	}

	if !grew && written > 0 {
		if err := v.fs.writeInode(v.ino, v.node); err != nil {
			return int(written), err
		}
	}
	return int(written), nil
}

// Truncate implements spec §4.6 "truncate": downward only.
func (v *vnode) Truncate(length int64) error {
	size := int64(v.node.SizeLower)
	if length == size {
		return nil
	}
	if length > size {
		return fmt.Errorf("truncate: %w", unix.EINVAL)
	}
	bs := int64(v.fs.bsize)
	wasBlocks := int64(blocksForSize(v.node.SizeLower, v.fs.bsize))
	nowBlocks := int64(blocksForSize(uint32(length), v.fs.bsize))
	for i := wasBlocks - 1; i >= nowBlocks; i-- {
		if int64(v.node.SizeLower) > bs {
			v.node.SizeLower -= uint32(bs)
		} else {
			v.node.SizeLower = 0
		}
		if err := v.fs.inodeFreeBlock(v.node, v.ino, uint32(i)); err != nil {
			return err
		}
	}
	if length%bs != 0 {
		v.node.SizeLower = uint32(length)
		if err := v.fs.writeInode(v.ino, v.node); err != nil {
			return err
		}
	}
	return nil
}

// Readdir implements spec §4.6 "readdir".
func (v *vnode) Readdir(pos int64) (vfs.Dirent, int64, error) {
	bs := int64(v.fs.bsize)
	blockIdx := uint32(pos / bs)
	offInBlock := pos % bs
	numBlocks := blocksForSize(v.node.SizeLower, v.fs.bsize)
	if blockIdx >= numBlocks {
		return vfs.Dirent{}, pos, io.EOF
	}
	phys, err := v.fs.logicalToPhysical(v.node, blockIdx)
	if err != nil {
		return vfs.Dirent{}, pos, err
	}
	buf := make([]byte, bs)
	if err := v.fs.dev.readAt(buf, int64(phys)*bs); err != nil {
		return vfs.Dirent{}, pos, err
	}
	d := direntFromBytes(buf[offInBlock:])
	if d.Len == 0 {
		aligned := (pos/bs + 1) * bs
		return vfs.Dirent{}, aligned, io.EOF
	}
	entry := vfs.Dirent{
		Ino:    uint64(d.Ino),
		Name:   d.Name,
		Type:   typeIndToNodeType(d.TypeInd),
		RecLen: int(d.Len),
	}
	return entry, pos + int64(d.Len), nil
}

// Stat implements spec §4.6 "stat".
func (v *vnode) Stat() (vfs.StatInfo, error) {
	return vfs.StatInfo{
		Ino:       uint64(v.ino),
		Mode:      uint32(v.node.TypePerm & permMask),
		Type:      v.typ,
		UID:       uint32(v.node.UID),
		GID:       uint32(v.node.GID),
		Size:      int64(v.node.SizeLower),
		Blocks:    int64(blocksForSize(v.node.SizeLower, v.fs.bsize)),
		BlockSize: int64(v.fs.bsize),
		Nlink:     0,
	}, nil
}

// Chmod implements spec §4.6 "chmod": preserves the type nibble and any
// bits above the low 9, replacing only the low 9 permission bits.
func (v *vnode) Chmod(mode uint32) error {
	const lowMask = uint16(0x1FF)
	v.node.TypePerm = (v.node.TypePerm &^ lowMask) | (uint16(mode) & lowMask)
	return v.fs.writeInode(v.ino, v.node)
}

// Chown implements spec §4.6 "chown".
func (v *vnode) Chown(uid, gid uint32) error {
	v.node.UID = uint16(uid)
	v.node.GID = uint16(gid)
	return v.fs.writeInode(v.ino, v.node)
}

// Access implements spec §4.6 "access (hook)".
func (v *vnode) Access() (vfs.AccessInfo, error) {
	return vfs.AccessInfo{
		UID:  uint32(v.node.UID),
		GID:  uint32(v.node.GID),
		Mode: uint32(v.node.TypePerm & 0x1FF),
	}, nil
}

// Destroy releases the driver's owned inode buffer. Go's garbage
// collector reclaims it; this hook exists for symmetry with the driver
// interface's lifecycle contract.
func (v *vnode) Destroy() error {
	v.node = nil
	return nil
}
