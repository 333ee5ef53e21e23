package ext2

import (
	"errors"
	"fmt"
	"testing"

	"golang.org/x/sys/unix"

	"github.com/alnyan/fs-playground/vfs"
)

func TestDirAddExhaustionReturnsENOSPC(t *testing.T) {
	fs := newTestFS(t, 64)
	root := mustRoot(t, fs)

	var lastErr error
	added := 0
	for i := 0; i < 500; i++ {
		name := fmt.Sprintf("f%d", i)
		if err := fs.dirAdd(root.node, name, uint32(1000+i), vfs.TypeRegular); err != nil {
			lastErr = err
			break
		}
		added++
	}
	if lastErr == nil {
		t.Fatal("expected dirAdd to eventually run out of space in a single block")
	}
	if !errors.Is(lastErr, unix.ENOSPC) {
		t.Errorf("dirAdd exhaustion error = %v, want wrapping ENOSPC", lastErr)
	}
	if added == 0 {
		t.Error("expected at least one entry to fit before exhaustion")
	}
}

func TestDirAddThenRemoveRecoversSpace(t *testing.T) {
	fs := newTestFS(t, 64)
	root := mustRoot(t, fs)

	if err := fs.dirAdd(root.node, "alpha", 100, vfs.TypeRegular); err != nil {
		t.Fatalf("dirAdd(alpha) error = %v", err)
	}
	if err := fs.dirAdd(root.node, "beta", 101, vfs.TypeRegular); err != nil {
		t.Fatalf("dirAdd(beta) error = %v", err)
	}

	if err := fs.dirRemove(root.node, "alpha", 100); err != nil {
		t.Fatalf("dirRemove(alpha) error = %v", err)
	}

	if _, _, err := fs.dirFind(root.ino, root.node, "alpha"); err == nil {
		t.Error("dirFind(alpha) succeeded after removal")
	}
	ino, _, err := fs.dirFind(root.ino, root.node, "beta")
	if err != nil {
		t.Fatalf("dirFind(beta) error = %v", err)
	}
	if ino != 101 {
		t.Errorf("dirFind(beta) ino = %d, want 101", ino)
	}

	// The space alpha occupied should have been coalesced back in, so a
	// reasonably long new name should still fit.
	if err := fs.dirAdd(root.node, "gamma-longer-name", 102, vfs.TypeRegular); err != nil {
		t.Errorf("dirAdd(gamma) after coalesce error = %v", err)
	}
}

func TestDirRemoveWrongInodeIsRejected(t *testing.T) {
	fs := newTestFS(t, 64)
	root := mustRoot(t, fs)

	if err := fs.dirAdd(root.node, "alpha", 100, vfs.TypeRegular); err != nil {
		t.Fatalf("dirAdd() error = %v", err)
	}
	if err := fs.dirRemove(root.node, "alpha", 999); err == nil {
		t.Error("dirRemove() with mismatched inode unexpectedly succeeded")
	}
}

func TestIsEmptyDir(t *testing.T) {
	fs := newTestFS(t, 64)
	root := mustRoot(t, fs)

	empty, err := fs.isEmptyDir(root.node)
	if err != nil {
		t.Fatalf("isEmptyDir() error = %v", err)
	}
	if !empty {
		t.Error("freshly created root directory should be empty")
	}

	if err := fs.dirAdd(root.node, "x", 100, vfs.TypeRegular); err != nil {
		t.Fatalf("dirAdd() error = %v", err)
	}
	empty, err = fs.isEmptyDir(root.node)
	if err != nil {
		t.Fatalf("isEmptyDir() error = %v", err)
	}
	if empty {
		t.Error("directory with an extra entry should not be empty")
	}
}
