package ext2

import "encoding/binary"

const groupDescSize = 32

// groupDesc is one block-group descriptor: 32 bytes, little-endian,
// grounded on the real ext2 on-disk layout (matching the groupDesc struct
// other ext2 readers in this ecosystem use).
type groupDesc struct {
	BlockBitmapBlock uint32
	InodeBitmapBlock uint32
	InodeTableBlock  uint32
	FreeBlocks       uint16
	FreeInodes       uint16
	UsedDirsCount    uint16
	Pad              uint16
	Reserved         [12]byte
}

func groupDescFromBytes(b []byte) groupDesc {
	le := binary.LittleEndian
	var g groupDesc
	g.BlockBitmapBlock = le.Uint32(b[0:])
	g.InodeBitmapBlock = le.Uint32(b[4:])
	g.InodeTableBlock = le.Uint32(b[8:])
	g.FreeBlocks = le.Uint16(b[12:])
	g.FreeInodes = le.Uint16(b[14:])
	g.UsedDirsCount = le.Uint16(b[16:])
	g.Pad = le.Uint16(b[18:])
	copy(g.Reserved[:], b[20:32])
	return g
}

func (g groupDesc) toBytes(b []byte) {
	le := binary.LittleEndian
	le.PutUint32(b[0:], g.BlockBitmapBlock)
	le.PutUint32(b[4:], g.InodeBitmapBlock)
	le.PutUint32(b[8:], g.InodeTableBlock)
	le.PutUint16(b[12:], g.FreeBlocks)
	le.PutUint16(b[14:], g.FreeInodes)
	le.PutUint16(b[16:], g.UsedDirsCount)
	le.PutUint16(b[18:], g.Pad)
	copy(b[20:32], g.Reserved[:])
}

// bgdtStartBlock returns the first block of the BGDT (spec §4.2: block 2
// when block size is 1024, else block 1).
func bgdtStartBlock(blockSize uint32) uint32 {
	if blockSize == 1024 {
		return 2
	}
	return 1
}

// bgdt is the in-memory, owned contiguous buffer backing the block-group
// descriptor table — read and written one block at a time (spec §4.2).
type bgdt struct {
	raw        []byte
	blockSize  uint32
	startBlock uint32
	sizeBlocks uint32
	count      uint32
}

func loadBGDT(bd *device, blockSize uint32, groupCount uint32) (*bgdt, error) {
	sizeBlocks := ceilDiv(groupDescSize*groupCount, blockSize)
	start := bgdtStartBlock(blockSize)
	raw := make([]byte, sizeBlocks*blockSize)
	for i := uint32(0); i < sizeBlocks; i++ {
		off := int64(start+i) * int64(blockSize)
		if err := bd.readAt(raw[i*blockSize:(i+1)*blockSize], off); err != nil {
			return nil, err
		}
	}
	return &bgdt{raw: raw, blockSize: blockSize, startBlock: start, sizeBlocks: sizeBlocks, count: groupCount}, nil
}

func (t *bgdt) get(group uint32) groupDesc {
	off := group * groupDescSize
	return groupDescFromBytes(t.raw[off : off+groupDescSize])
}

func (t *bgdt) set(group uint32, g groupDesc) {
	off := group * groupDescSize
	g.toBytes(t.raw[off : off+groupDescSize])
}

// flush writes the whole BGDT buffer back out, block by block (spec §5:
// "flush the BGDT block range").
func (t *bgdt) flush(bd *device) error {
	for i := uint32(0); i < t.sizeBlocks; i++ {
		off := int64(t.startBlock+i) * int64(t.blockSize)
		if err := bd.writeAt(t.raw[i*t.blockSize:(i+1)*t.blockSize], off); err != nil {
			return err
		}
	}
	return nil
}
