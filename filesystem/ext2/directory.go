package ext2

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/alnyan/fs-playground/vfs"
)

const direntHeaderSize = 8

// dirent is one packed on-disk directory entry: a 4-byte-aligned header
// plus name bytes (spec §3, §6).
type dirent struct {
	Ino     uint32
	Len     uint16
	NameLen uint8
	TypeInd uint8
	Name    string
}

func direntFromBytes(b []byte) dirent {
	le := binary.LittleEndian
	d := dirent{
		Ino:     le.Uint32(b[0:]),
		Len:     le.Uint16(b[4:]),
		NameLen: b[6],
		TypeInd: b[7],
	}
	if int(d.NameLen) <= len(b)-direntHeaderSize {
		d.Name = string(b[direntHeaderSize : direntHeaderSize+int(d.NameLen)])
	}
	return d
}

func writeDirentHeader(block []byte, off int, ino uint32, recLen uint16, nameLen uint8, typeInd uint8, name string) {
	le := binary.LittleEndian
	le.PutUint32(block[off:], ino)
	le.PutUint16(block[off+4:], recLen)
	block[off+6] = nameLen
	block[off+7] = typeInd
	copy(block[off+direntHeaderSize:], name)
}

func nodeTypeToTypeInd(t vfs.NodeType) uint8 {
	switch t {
	case vfs.TypeDirectory:
		return 2
	case vfs.TypeSymlink:
		return 7
	default:
		return 1
	}
}

func typeIndToNodeType(t uint8) vfs.NodeType {
	switch t {
	case 2:
		return vfs.TypeDirectory
	case 7:
		return vfs.TypeSymlink
	default:
		return vfs.TypeRegular
	}
}

// dirFind scans every block of dir's (assumed-contiguous, direct-mapped)
// data for an entry named name (spec §4.6 "find").
func (fs *FS) dirFind(dirIno uint32, dirNode *onDiskInode, name string) (uint32, vfs.NodeType, error) {
	numBlocks := blocksForSize(dirNode.SizeLower, fs.bsize)
	buf := make([]byte, fs.bsize)
	for bi := uint32(0); bi < numBlocks; bi++ {
		phys, err := fs.logicalToPhysical(dirNode, bi)
		if err != nil {
			return 0, 0, err
		}
		if err := fs.dev.readAt(buf, int64(phys)*int64(fs.bsize)); err != nil {
			return 0, 0, err
		}
		off := 0
		for off < len(buf) {
			d := direntFromBytes(buf[off:])
			if d.Len == 0 {
				break
			}
			if d.Ino != 0 && int(d.NameLen) == len(name) && d.Name == name {
				return d.Ino, typeIndToNodeType(d.TypeInd), nil
			}
			off += int(d.Len)
		}
	}
	_ = dirIno
	return 0, 0, fmt.Errorf("dir_find %q: %w", name, unix.ENOENT)
}

// dirAdd inserts a new entry into dir's first block with spare slack,
// splitting that entry's record the way spec §4.5 describes. Directories
// are assumed to occupy at most one block, matching the preserved
// limitation in spec Non-goals.
func (fs *FS) dirAdd(dirNode *onDiskInode, name string, ino uint32, t vfs.NodeType) error {
	req := align4(direntHeaderSize + len(name))
	phys, err := fs.logicalToPhysical(dirNode, 0)
	if err != nil {
		return err
	}
	buf := make([]byte, fs.bsize)
	if err := fs.dev.readAt(buf, int64(phys)*int64(fs.bsize)); err != nil {
		return err
	}

	off := 0
	for off < len(buf) {
		d := direntFromBytes(buf[off:])
		if d.Len == 0 {
			break
		}
		used := align4(direntHeaderSize + int(d.NameLen))
		slack := align4(int(d.Len) - used)
		if slack > req {
			newOff := off + used
			remainder := int(d.Len) - used
			writeDirentHeader(buf, off, d.Ino, uint16(used), d.NameLen, d.TypeInd, d.Name)
			writeDirentHeader(buf, newOff, ino, uint16(remainder), uint8(len(name)), nodeTypeToTypeInd(t), name)
			return fs.dev.writeAt(buf, int64(phys)*int64(fs.bsize))
		}
		off += int(d.Len)
	}
	return fmt.Errorf("dir_add %q: %w", name, unix.ENOSPC)
}

// dirRemove removes name (whose inode must be ino) from dir's first
// block, forward-coalescing the freed space (spec §4.5).
func (fs *FS) dirRemove(dirNode *onDiskInode, name string, ino uint32) error {
	phys, err := fs.logicalToPhysical(dirNode, 0)
	if err != nil {
		return err
	}
	buf := make([]byte, fs.bsize)
	if err := fs.dev.readAt(buf, int64(phys)*int64(fs.bsize)); err != nil {
		return err
	}

	prevOff := -1
	off := 0
	for off < len(buf) {
		d := direntFromBytes(buf[off:])
		if d.Len == 0 {
			break
		}
		if d.Ino != 0 && int(d.NameLen) == len(name) && d.Name == name {
			if d.Ino != ino {
				return fmt.Errorf("dir_remove %q: inode mismatch: %w", name, unix.EIO)
			}
			nextOff := off + int(d.Len)
			if nextOff >= len(buf) {
				if prevOff < 0 {
					return fmt.Errorf("dir_remove %q: cannot empty anchor block: %w", name, unix.EACCES)
				}
				prev := direntFromBytes(buf[prevOff:])
				newLen := int(prev.Len) + int(d.Len)
				writeDirentHeader(buf, prevOff, prev.Ino, uint16(newLen), prev.NameLen, prev.TypeInd, prev.Name)
				return fs.dev.writeAt(buf, int64(phys)*int64(fs.bsize))
			}
			next := direntFromBytes(buf[nextOff:])
			nextTotalLen := int(next.Len)
			copy(buf[off:], buf[nextOff:nextOff+direntHeaderSize+int(next.NameLen)])
			newLen := int(d.Len) + nextTotalLen
			writeDirentHeader(buf, off, next.Ino, uint16(newLen), next.NameLen, next.TypeInd, next.Name)
			return fs.dev.writeAt(buf, int64(phys)*int64(fs.bsize))
		}
		prevOff = off
		off += int(d.Len)
	}
	return fmt.Errorf("dir_remove %q: %w", name, unix.EIO)
}

// isEmptyDir reports whether dir's first block contains only "." and "..".
func (fs *FS) isEmptyDir(dirNode *onDiskInode) (bool, error) {
	if dirNode.SizeLower > fs.bsize {
		return false, nil
	}
	phys, err := fs.logicalToPhysical(dirNode, 0)
	if err != nil {
		return false, err
	}
	buf := make([]byte, fs.bsize)
	if err := fs.dev.readAt(buf, int64(phys)*int64(fs.bsize)); err != nil {
		return false, err
	}
	off := 0
	count := 0
	for off < len(buf) {
		d := direntFromBytes(buf[off:])
		if d.Len == 0 {
			break
		}
		if d.Ino != 0 {
			count++
			if d.Name != "." && d.Name != ".." {
				return false, nil
			}
		}
		off += int(d.Len)
	}
	return count <= 2, nil
}
