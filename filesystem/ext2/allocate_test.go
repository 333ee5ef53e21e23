package ext2

import (
	"testing"

	"github.com/alnyan/fs-playground/backend/file"
)

func newTestFS(t *testing.T, blocks int64) *FS {
	t.Helper()
	mem := file.NewMemory(blocks * 1024)
	fs, err := Create(mem, CreateOptions{BlockSize: 1024, BlockGroupSize: 8 * 1024, InodesPerGroup: 32})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	return fs
}

// TestAllocBlockSkewInvariant pins down the deliberate "+1" skew between a
// block bitmap's bit index and the block number callers see:
// block_no = bit_index + group*blocks_per_group + 1.
func TestAllocBlockSkewInvariant(t *testing.T) {
	fs := newTestFS(t, 64)

	var got []uint32
	for i := 0; i < 4; i++ {
		bno, err := fs.allocBlock()
		if err != nil {
			t.Fatalf("allocBlock() [%d] error = %v", i, err)
		}
		got = append(got, bno)
	}

	for _, bno := range got {
		group := (bno - 1) / fs.sb.BlocksPerGroup
		bit := (bno - 1) % fs.sb.BlocksPerGroup
		gd := fs.gdt.get(group)
		bm, err := loadGroupBitmap(fs.dev, gd.BlockBitmapBlock, fs.bsize)
		if err != nil {
			t.Fatalf("loadGroupBitmap() error = %v", err)
		}
		set, err := bm.isSet(int(bit))
		if err != nil {
			t.Fatalf("isSet() error = %v", err)
		}
		if !set {
			t.Errorf("block %d: expected bit %d of group %d to be set", bno, bit, group)
		}
		recomputed := bit + group*fs.sb.BlocksPerGroup + 1
		if recomputed != bno {
			t.Errorf("skew invariant broken: bno=%d recomputed=%d", bno, recomputed)
		}
	}
}

func TestFreeBlockRoundTrip(t *testing.T) {
	fs := newTestFS(t, 64)

	bno, err := fs.allocBlock()
	if err != nil {
		t.Fatalf("allocBlock() error = %v", err)
	}
	if err := fs.freeBlock(bno); err != nil {
		t.Fatalf("freeBlock() error = %v", err)
	}
	again, err := fs.allocBlock()
	if err != nil {
		t.Fatalf("allocBlock() after free error = %v", err)
	}
	if again != bno {
		t.Errorf("expected freed block %d to be reused, got %d", bno, again)
	}
}

func TestFreeBlockNotAllocatedIsError(t *testing.T) {
	fs := newTestFS(t, 64)

	bno, err := fs.allocBlock()
	if err != nil {
		t.Fatalf("allocBlock() error = %v", err)
	}
	if err := fs.freeBlock(bno); err != nil {
		t.Fatalf("freeBlock() error = %v", err)
	}
	if err := fs.freeBlock(bno); err == nil {
		t.Error("expected freeing an already-free block to fail")
	}
}

func TestAllocInodeSkewInvariant(t *testing.T) {
	fs := newTestFS(t, 64)

	ino, err := fs.allocInode()
	if err != nil {
		t.Fatalf("allocInode() error = %v", err)
	}
	group := (ino - 1) / fs.sb.InodesPerGroup
	bit := (ino - 1) % fs.sb.InodesPerGroup
	recomputed := bit + group*fs.sb.InodesPerGroup + 1
	if recomputed != ino {
		t.Errorf("inode skew invariant broken: ino=%d recomputed=%d", ino, recomputed)
	}
}
