package ext2

import (
	"encoding/binary"

	"github.com/alnyan/fs-playground/util/bitmap"
)

// groupBitmap wraps one block-group's usage bitmap (block or inode)
// in-memory, backed by util/bitmap.Bitmap for individual bit
// set/clear/flush, with a dedicated word-oriented scan matching the
// allocator's exact algorithm (spec §4.4: "treat the bitmap as an array
// of 64-bit words; find the first word != all-ones, then the lowest clear
// bit within that word").
type groupBitmap struct {
	bm *bitmap.Bitmap
}

func newGroupBitmap(blockSize uint32) *groupBitmap {
	return &groupBitmap{bm: bitmap.NewBytes(int(blockSize))}
}

func loadGroupBitmap(bd *device, block, blockSize uint32) (*groupBitmap, error) {
	buf := make([]byte, blockSize)
	if err := bd.readAt(buf, int64(block)*int64(blockSize)); err != nil {
		return nil, err
	}
	return &groupBitmap{bm: bitmap.FromBytes(buf)}, nil
}

func (g *groupBitmap) flush(bd *device, block, blockSize uint32) error {
	return bd.writeAt(g.bm.ToBytes(), int64(block)*int64(blockSize))
}

// firstClearBit scans 64-bit little-endian words for the first one that
// isn't all-ones, then returns the lowest clear bit within it. Returns -1
// if every word is all-ones.
func (g *groupBitmap) firstClearBit() int {
	raw := g.bm.ToBytes()
	nWords := len(raw) / 8
	for w := 0; w < nWords; w++ {
		word := binary.LittleEndian.Uint64(raw[w*8:])
		if word == ^uint64(0) {
			continue
		}
		for b := 0; b < 64; b++ {
			if word&(1<<uint(b)) == 0 {
				return w*64 + b
			}
		}
	}
	return -1
}

func (g *groupBitmap) set(bit int) error          { return g.bm.Set(bit) }
func (g *groupBitmap) clear(bit int) error        { return g.bm.Clear(bit) }
func (g *groupBitmap) isSet(bit int) (bool, error) { return g.bm.IsSet(bit) }
