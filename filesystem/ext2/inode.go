package ext2

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/alnyan/fs-playground/vfs"
)

const (
	numDirectBlocks = 12
	l1IndirectIndex = 12
	l2IndirectIndex = 13
	l3IndirectIndex = 14
	numBlockPtrs    = 15

	typeMask = 0xF000
	permMask = 0x0FFF

	inlineSymlinkMax = 60
)

// onDiskInode mirrors the real ext2 on-disk inode layout: 128 bytes by
// default (spec §3), byte-exact little-endian, grounded on the field
// layout used throughout the pack's other ext2 readers (Mode, UID, Size,
// the four timestamps, GID, LinksCount, Blocks, Flags, a 15-entry block
// pointer array, generation, ACL pointers, and an OS-specific tail).
type onDiskInode struct {
	TypePerm   uint16
	UID        uint16
	SizeLower  uint32
	ATime      uint32
	CTime      uint32
	MTime      uint32
	DTime      uint32
	GID        uint16
	LinksCount uint16
	Blocks     uint32 // 512-byte sector count, not filesystem blocks
	Flags      uint32
	OSD1       uint32
	Block      [numBlockPtrs]uint32
	Gen        uint32
	FileACL    uint32
	DirACL     uint32
	Faddr      uint32
	OSD2       [12]byte
}

func (ino *onDiskInode) fileType() vfs.NodeType {
	switch ino.TypePerm & typeMask {
	case unix.S_IFDIR:
		return vfs.TypeDirectory
	case unix.S_IFLNK:
		return vfs.TypeSymlink
	default:
		return vfs.TypeRegular
	}
}

func inodeFromBytes(b []byte) *onDiskInode {
	le := binary.LittleEndian
	ino := &onDiskInode{}
	ino.TypePerm = le.Uint16(b[0:])
	ino.UID = le.Uint16(b[2:])
	ino.SizeLower = le.Uint32(b[4:])
	ino.ATime = le.Uint32(b[8:])
	ino.CTime = le.Uint32(b[12:])
	ino.MTime = le.Uint32(b[16:])
	ino.DTime = le.Uint32(b[20:])
	ino.GID = le.Uint16(b[24:])
	ino.LinksCount = le.Uint16(b[26:])
	ino.Blocks = le.Uint32(b[28:])
	ino.Flags = le.Uint32(b[32:])
	ino.OSD1 = le.Uint32(b[36:])
	for i := 0; i < numBlockPtrs; i++ {
		ino.Block[i] = le.Uint32(b[40+i*4:])
	}
	ino.Gen = le.Uint32(b[100:])
	ino.FileACL = le.Uint32(b[104:])
	ino.DirACL = le.Uint32(b[108:])
	ino.Faddr = le.Uint32(b[112:])
	copy(ino.OSD2[:], b[116:128])
	return ino
}

func (ino *onDiskInode) toBytes(b []byte) {
	le := binary.LittleEndian
	le.PutUint16(b[0:], ino.TypePerm)
	le.PutUint16(b[2:], ino.UID)
	le.PutUint32(b[4:], ino.SizeLower)
	le.PutUint32(b[8:], ino.ATime)
	le.PutUint32(b[12:], ino.CTime)
	le.PutUint32(b[16:], ino.MTime)
	le.PutUint32(b[20:], ino.DTime)
	le.PutUint16(b[24:], ino.GID)
	le.PutUint16(b[26:], ino.LinksCount)
	le.PutUint32(b[28:], ino.Blocks)
	le.PutUint32(b[32:], ino.Flags)
	le.PutUint32(b[36:], ino.OSD1)
	for i := 0; i < numBlockPtrs; i++ {
		le.PutUint32(b[40+i*4:], ino.Block[i])
	}
	le.PutUint32(b[100:], ino.Gen)
	le.PutUint32(b[104:], ino.FileACL)
	le.PutUint32(b[108:], ino.DirACL)
	le.PutUint32(b[112:], ino.Faddr)
	copy(b[116:128], ino.OSD2[:])
}

// inodeLocation computes the (block, offset-in-block) pair for inode
// number ino (spec §4.3).
func (fs *FS) inodeLocation(ino uint32) (block uint32, offset uint32, group uint32) {
	group = (ino - 1) / fs.sb.InodesPerGroup
	indexInGroup := (ino - 1) % fs.sb.InodesPerGroup
	gd := fs.gdt.get(group)
	structSize := uint32(fs.sb.InodeStructSize)
	block = gd.InodeTableBlock + (indexInGroup*structSize)/fs.bsize
	offset = (indexInGroup * structSize) % fs.bsize
	return
}

// readInode loads inode number ino (spec §4.3: "read_inode").
func (fs *FS) readInode(ino uint32) (*onDiskInode, error) {
	if ino == 0 {
		return nil, fmt.Errorf("read inode 0: %w", unix.EINVAL)
	}
	block, offset, _ := fs.inodeLocation(ino)
	buf := make([]byte, fs.bsize)
	if err := fs.dev.readAt(buf, int64(block)*int64(fs.bsize)); err != nil {
		return nil, err
	}
	structSize := uint32(fs.sb.InodeStructSize)
	return inodeFromBytes(buf[offset : offset+structSize]), nil
}

// writeInode performs the read-modify-write described in spec §4.3.
func (fs *FS) writeInode(ino uint32, node *onDiskInode) error {
	if ino == 0 {
		return fmt.Errorf("write inode 0: %w", unix.EINVAL)
	}
	block, offset, _ := fs.inodeLocation(ino)
	buf := make([]byte, fs.bsize)
	if err := fs.dev.readAt(buf, int64(block)*int64(fs.bsize)); err != nil {
		return err
	}
	structSize := uint32(fs.sb.InodeStructSize)
	node.toBytes(buf[offset : offset+structSize])
	return fs.dev.writeAt(buf, int64(block)*int64(fs.bsize))
}

// logicalToPhysical translates a logical block index within a file to a
// physical block number, supporting direct and single-indirect pointers
// only (spec §4.3).
func (fs *FS) logicalToPhysical(node *onDiskInode, i uint32) (uint32, error) {
	if i < numDirectBlocks {
		phys := node.Block[i]
		if phys == 0 {
			return 0, fmt.Errorf("logical block %d unallocated: %w", i, unix.EIO)
		}
		return phys, nil
	}
	ptrsPerBlock := fs.bsize / 4
	if i < numDirectBlocks+ptrsPerBlock {
		l1 := node.Block[l1IndirectIndex]
		if l1 == 0 {
			return 0, fmt.Errorf("logical block %d: indirect block unallocated: %w", i, unix.EIO)
		}
		buf := make([]byte, fs.bsize)
		if err := fs.dev.readAt(buf, int64(l1)*int64(fs.bsize)); err != nil {
			return 0, err
		}
		idx := i - numDirectBlocks
		phys := binary.LittleEndian.Uint32(buf[idx*4:])
		if phys == 0 {
			return 0, fmt.Errorf("logical block %d unallocated: %w", i, unix.EIO)
		}
		return phys, nil
	}
	return 0, fmt.Errorf("logical block %d beyond single indirect: %w", i, unix.EIO)
}

// blocksForSize returns how many filesystem blocks are in use for size bytes.
func blocksForSize(size, blockSize uint32) uint32 {
	return ceilDiv(size, blockSize)
}

func align4(n int) int { return (n + 3) &^ 3 }
