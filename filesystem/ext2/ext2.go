// Package ext2 implements the on-disk ext2 filesystem driver: superblock
// and block-group-descriptor-table management, inode I/O, block/inode
// allocation, directory entry management, and the vnode operations the
// vfs package dispatches to through vfs.DriverNode / vfs.FileSystem.
package ext2

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/alnyan/fs-playground/backend"
	"github.com/alnyan/fs-playground/internal/xlog"
	"github.com/alnyan/fs-playground/vfs"
)

// FS is one mounted (or freshly created) ext2 instance: the in-memory
// filesystem instance of spec §3 — class, block device, owned superblock,
// owned BGDT, block size, and group geometry.
type FS struct {
	dev   *device
	sb    *superblock
	gdt   *bgdt
	bsize uint32
}

var _ vfs.FileSystem = (*FS)(nil)

// Mount reads the superblock and BGDT off storage (spec §4.2).
func Mount(storage backend.Storage) (*FS, error) {
	dev := newDevice(storage)
	sb, err := readSuperblock(dev)
	if err != nil {
		return nil, err
	}
	bsize := sb.blockSize()
	groupCount := sb.blockGroupCount()
	gdt, err := loadBGDT(dev, bsize, groupCount)
	if err != nil {
		return nil, err
	}
	xlog.Mount(logrus.Fields{
		"block_size":  bsize,
		"groups":      groupCount,
		"inode_count": sb.InodeCount,
		"block_count": sb.BlockCount,
	}, "ext2 filesystem mounted")
	return &FS{dev: dev, sb: sb, gdt: gdt, bsize: bsize}, nil
}

// CreateOptions parametrizes Create, the way ext4.Params parametrizes the
// teacher's ext4.Create.
type CreateOptions struct {
	BlockSize      uint32 // defaults to 1024
	BlockGroupSize uint32 // blocks per group; defaults to 8 * BlockSize
	InodesPerGroup uint32 // defaults to BlockGroupSize / 4
	VolumeLabel    string
}

// Create formats a fresh ext2 filesystem on storage: superblock, BGDT,
// zeroed bitmaps (with metadata blocks and reserved inodes pre-marked
// used), root directory inode and its "." / ".." entries.
func Create(storage backend.Storage, opt CreateOptions) (*FS, error) {
	if opt.BlockSize == 0 {
		opt.BlockSize = 1024
	}
	if opt.BlockGroupSize == 0 {
		opt.BlockGroupSize = opt.BlockSize * 8
	}
	if opt.InodesPerGroup == 0 {
		opt.InodesPerGroup = opt.BlockGroupSize / 4
	}
	dev := newDevice(storage)
	bsize := opt.BlockSize
	totalBlocks := uint32(storage.Size() / int64(bsize))
	if totalBlocks < 16 {
		return nil, fmt.Errorf("create: device too small: %w", unix.EINVAL)
	}
	groupCount := ceilDiv(totalBlocks, opt.BlockGroupSize)
	inodeCount := groupCount * opt.InodesPerGroup

	sb := &superblock{
		InodeCount:       inodeCount,
		BlockCount:       totalBlocks,
		FreeBlockCount:   totalBlocks,
		FreeInodeCount:   inodeCount,
		FirstDataBlock:   bgdtStartBlock(bsize),
		BlockSizeLog:     logBase2(bsize / 1024),
		BlocksPerGroup:   opt.BlockGroupSize,
		FragsPerGroup:    opt.BlockGroupSize,
		InodesPerGroup:   opt.InodesPerGroup,
		MTime:            uint32(time.Now().Unix()),
		Magic:            magicExt2,
		VersionMajor:     1,
		FirstNonReserved: defaultFirstNonReserved,
		InodeStructSize:  defaultInodeStructSize,
	}
	id, err := uuid.NewRandom()
	if err == nil {
		copy(sb.UUID[:], id[:])
	}
	copy(sb.VolumeName[:], []byte(opt.VolumeLabel))

	gdtSizeBlocks := ceilDiv(groupDescSize*groupCount, bsize)
	gdtStart := bgdtStartBlock(bsize)

	raw := make([]byte, gdtSizeBlocks*bsize)
	gdt := &bgdt{raw: raw, blockSize: bsize, startBlock: gdtStart, sizeBlocks: gdtSizeBlocks, count: groupCount}

	inodeTableBlocksPerGroup := ceilDiv(opt.InodesPerGroup*defaultInodeStructSize, bsize)

	fs := &FS{dev: dev, sb: sb, gdt: gdt, bsize: bsize}

	// Lay out the metadata of every group back to back right after the
	// BGDT: [block bitmap][inode bitmap][inode table] per group. The root
	// directory's data block follows the last group's inode table.
	nextBlock := gdtStart + gdtSizeBlocks
	rootBlock := nextBlock + groupCount*(2+inodeTableBlocksPerGroup)
	for g := uint32(0); g < groupCount; g++ {
		blockBitmapBlock := nextBlock
		inodeBitmapBlock := blockBitmapBlock + 1
		inodeTableBlock := inodeBitmapBlock + 1
		dataStart := inodeTableBlock + inodeTableBlocksPerGroup
		nextBlock = dataStart

		bb := newGroupBitmap(bsize)
		ib := newGroupBitmap(bsize)

		groupBlocks := opt.BlockGroupSize
		if g == groupCount-1 {
			groupBlocks = totalBlocks - g*opt.BlockGroupSize
		}
		// Mark blocks 1..rootBlock used in group 0's block-usage bitmap:
		// with the allocator's "+1" skew bit i stands for block i+1, so
		// this covers the superblock, the BGDT, every group's bitmaps and
		// inode table, and the root directory's data block.
		free := groupBlocks
		if g == 0 {
			for i := uint32(0); i < rootBlock && i < groupBlocks; i++ {
				_ = bb.set(int(i))
				free--
			}
		}

		freeInodes := opt.InodesPerGroup
		if g == 0 {
			for i := uint32(0); i < defaultFirstNonReserved; i++ {
				_ = ib.set(int(i))
				freeInodes--
			}
		}

		if err := bb.flush(dev, blockBitmapBlock, bsize); err != nil {
			return nil, err
		}
		if err := ib.flush(dev, inodeBitmapBlock, bsize); err != nil {
			return nil, err
		}

		gdt.set(g, groupDesc{
			BlockBitmapBlock: blockBitmapBlock,
			InodeBitmapBlock: inodeBitmapBlock,
			InodeTableBlock:  inodeTableBlock,
			FreeBlocks:       uint16(free),
			FreeInodes:       uint16(freeInodes),
			UsedDirsCount:    0,
		})
	}

	if err := gdt.flush(dev); err != nil {
		return nil, err
	}

	// Root directory: inode 2, one data block holding "." and "..".
	rootIno := onDiskInode{
		TypePerm:   uint16(unix.S_IFDIR | 0755),
		LinksCount: 2,
		SizeLower:  bsize,
	}
	rootIno.Block[0] = rootBlock

	blockBuf := make([]byte, bsize)
	selfLen := align4(direntHeaderSize + 1)
	writeDirentHeader(blockBuf, 0, rootInodeNum, uint16(selfLen), 1, nodeTypeToTypeInd(vfs.TypeDirectory), ".")
	writeDirentHeader(blockBuf, selfLen, rootInodeNum, uint16(bsize-uint32(selfLen)), 2, nodeTypeToTypeInd(vfs.TypeDirectory), "..")
	if err := dev.writeAt(blockBuf, int64(rootBlock)*int64(bsize)); err != nil {
		return nil, err
	}

	if err := fs.writeInode(rootInodeNum, &rootIno); err != nil {
		return nil, err
	}
	if err := sb.write(dev); err != nil {
		return nil, err
	}

	xlog.Mount(logrus.Fields{
		"block_size": bsize,
		"groups":     groupCount,
		"label":      opt.VolumeLabel,
	}, "ext2 filesystem formatted")

	return fs, nil
}

func logBase2(v uint32) uint32 {
	var n uint32
	for v > 1 {
		v >>= 1
		n++
	}
	return n
}

// Root returns the root inode (number 2) as a vfs.DriverNode.
func (fs *FS) Root() (vfs.DriverNode, error) {
	return fs.getVnode(rootInodeNum)
}

// StatVFS populates a vfs.VFSStat from the superblock (spec §4.7).
func (fs *FS) StatVFS() (vfs.VFSStat, error) {
	return vfs.VFSStat{
		Bsize:   int64(fs.bsize),
		Frsize:  int64(fs.bsize),
		Blocks:  int64(fs.sb.BlockCount),
		Bfree:   int64(fs.sb.FreeBlockCount),
		Bavail:  int64(fs.sb.BlockCount) - int64(fs.sb.ReservedBlocks),
		Files:   int64(fs.sb.InodeCount),
		Ffree:   int64(fs.sb.FreeInodeCount),
		Favail:  int64(fs.sb.InodeCount) - int64(fs.sb.FirstNonReserved) + 1,
		NameMax: 256,
	}, nil
}

// Sync does nothing and returns nil: metadata is already flushed eagerly
// by the allocator (spec §5), and the backing storage is not flushed here.
func (fs *FS) Sync() error { return nil }

// Close releases the BGDT/superblock buffers and the backing device
// (spec §4.2: "on unmount: free BGDT buffer and superblock buffer").
func (fs *FS) Close() error {
	fs.gdt = nil
	fs.sb = nil
	return fs.dev.destroy()
}
