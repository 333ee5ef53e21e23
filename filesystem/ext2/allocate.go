package ext2

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/alnyan/fs-playground/internal/xlog"
)

// allocBlock scans block groups for a free block, marks it, and flushes
// bitmap, BGDT, and superblock in that order (spec §4.4, §5 ordering).
//
// The returned block number carries a deliberate "+1" skew relative to
// its raw bit index: block_no = bit_index + group*blocks_per_group + 1.
// This is preserved exactly as specified, not "fixed" — see
// filesystem/ext2/allocate_test.go for the invariant test the design
// notes call for.
func (fs *FS) allocBlock() (uint32, error) {
	for group := uint32(0); group < fs.gdt.count; group++ {
		gd := fs.gdt.get(group)
		if gd.FreeBlocks == 0 {
			continue
		}
		bm, err := loadGroupBitmap(fs.dev, gd.BlockBitmapBlock, fs.bsize)
		if err != nil {
			return 0, err
		}
		bit := bm.firstClearBit()
		if bit < 0 {
			continue
		}
		if err := bm.set(bit); err != nil {
			return 0, err
		}
		if err := bm.flush(fs.dev, gd.BlockBitmapBlock, fs.bsize); err != nil {
			return 0, err
		}
		gd.FreeBlocks--
		fs.gdt.set(group, gd)
		if err := fs.gdt.flush(fs.dev); err != nil {
			return 0, err
		}
		fs.sb.FreeBlockCount--
		if err := fs.sb.write(fs.dev); err != nil {
			return 0, err
		}
		blockNo := uint32(bit) + group*fs.sb.BlocksPerGroup + 1
		xlog.Alloc(logrus.Fields{"op": "alloc_block", "block": blockNo, "group": group}, "block allocated")
		return blockNo, nil
	}
	return 0, fmt.Errorf("alloc_block: %w", unix.ENOSPC)
}

// freeBlock clears bno's bit and reverses the bookkeeping allocBlock
// performed, undoing the "+1" skew to recover group/bit indices.
func (fs *FS) freeBlock(bno uint32) error {
	group := (bno - 1) / fs.sb.BlocksPerGroup
	bit := int((bno - 1) % fs.sb.BlocksPerGroup)
	gd := fs.gdt.get(group)
	bm, err := loadGroupBitmap(fs.dev, gd.BlockBitmapBlock, fs.bsize)
	if err != nil {
		return err
	}
	wasSet, err := bm.isSet(bit)
	if err != nil {
		return err
	}
	if !wasSet {
		return fmt.Errorf("free_block %d: not allocated: %w", bno, unix.EIO)
	}
	if err := bm.clear(bit); err != nil {
		return err
	}
	if err := bm.flush(fs.dev, gd.BlockBitmapBlock, fs.bsize); err != nil {
		return err
	}
	gd.FreeBlocks++
	fs.gdt.set(group, gd)
	if err := fs.gdt.flush(fs.dev); err != nil {
		return err
	}
	fs.sb.FreeBlockCount++
	if err := fs.sb.write(fs.dev); err != nil {
		return err
	}
	xlog.Alloc(logrus.Fields{"op": "free_block", "block": bno, "group": group}, "block freed")
	return nil
}

// allocInode is the inode-bitmap analogue of allocBlock.
func (fs *FS) allocInode() (uint32, error) {
	for group := uint32(0); group < fs.gdt.count; group++ {
		gd := fs.gdt.get(group)
		if gd.FreeInodes == 0 {
			continue
		}
		bm, err := loadGroupBitmap(fs.dev, gd.InodeBitmapBlock, fs.bsize)
		if err != nil {
			return 0, err
		}
		bit := bm.firstClearBit()
		if bit < 0 {
			continue
		}
		if err := bm.set(bit); err != nil {
			return 0, err
		}
		if err := bm.flush(fs.dev, gd.InodeBitmapBlock, fs.bsize); err != nil {
			return 0, err
		}
		gd.FreeInodes--
		fs.gdt.set(group, gd)
		if err := fs.gdt.flush(fs.dev); err != nil {
			return 0, err
		}
		fs.sb.FreeInodeCount--
		if err := fs.sb.write(fs.dev); err != nil {
			return 0, err
		}
		inodeNo := uint32(bit) + group*fs.sb.InodesPerGroup + 1
		xlog.Alloc(logrus.Fields{"op": "alloc_inode", "inode": inodeNo, "group": group}, "inode allocated")
		return inodeNo, nil
	}
	return 0, fmt.Errorf("alloc_inode: %w", unix.ENOSPC)
}

// freeInode is the inode-bitmap analogue of freeBlock.
func (fs *FS) freeInode(ino uint32) error {
	group := (ino - 1) / fs.sb.InodesPerGroup
	bit := int((ino - 1) % fs.sb.InodesPerGroup)
	gd := fs.gdt.get(group)
	bm, err := loadGroupBitmap(fs.dev, gd.InodeBitmapBlock, fs.bsize)
	if err != nil {
		return err
	}
	if err := bm.clear(bit); err != nil {
		return err
	}
	if err := bm.flush(fs.dev, gd.InodeBitmapBlock, fs.bsize); err != nil {
		return err
	}
	gd.FreeInodes++
	fs.gdt.set(group, gd)
	if err := fs.gdt.flush(fs.dev); err != nil {
		return err
	}
	fs.sb.FreeInodeCount++
	if err := fs.sb.write(fs.dev); err != nil {
		return err
	}
	xlog.Alloc(logrus.Fields{"op": "free_inode", "inode": ino, "group": group}, "inode freed")
	return nil
}

// inodeAllocBlock allocates a new block for direct slot i of the inode
// identified by ino, writing the pointer and flushing the inode (spec
// §4.4). Only direct slots are supported; i >= 12 is a fatal error in
// this release, matching the source.
func (fs *FS) inodeAllocBlock(node *onDiskInode, ino uint32, i uint32) (uint32, error) {
	if i >= numDirectBlocks {
		return 0, fmt.Errorf("inode_alloc_block: indirect growth unsupported: %w", unix.EIO)
	}
	bno, err := fs.allocBlock()
	if err != nil {
		return 0, err
	}
	node.Block[i] = bno
	node.Blocks = blocksForSize(node.SizeLower, fs.bsize) * (fs.bsize / 512)
	if err := fs.writeInode(ino, node); err != nil {
		return 0, err
	}
	return bno, nil
}

// inodeFreeBlock mirrors inodeAllocBlock: frees direct slot i and clears
// the pointer, flushing the inode.
func (fs *FS) inodeFreeBlock(node *onDiskInode, ino uint32, i uint32) error {
	if i >= numDirectBlocks {
		return fmt.Errorf("inode_free_block: indirect shrink unsupported: %w", unix.EIO)
	}
	bno := node.Block[i]
	if bno == 0 {
		return nil
	}
	if err := fs.freeBlock(bno); err != nil {
		return err
	}
	node.Block[i] = 0
	return fs.writeInode(ino, node)
}
