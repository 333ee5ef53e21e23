package ext2

import (
	"io"
	"strings"
	"testing"

	"github.com/alnyan/fs-playground/vfs"
)

func testIOC() *vfs.IOContext {
	return &vfs.IOContext{UID: 0, GID: 0}
}

func TestCreateAndMountRoot(t *testing.T) {
	created := newTestFS(t, 64)
	fs, err := Mount(created.dev.storage)
	if err != nil {
		t.Fatalf("Mount() error = %v", err)
	}

	root, err := fs.Root()
	if err != nil {
		t.Fatalf("Root() error = %v", err)
	}
	if root.Type() != vfs.TypeDirectory {
		t.Errorf("root type = %v, want directory", root.Type())
	}
	if root.Number() != rootInodeNum {
		t.Errorf("root inode = %d, want %d", root.Number(), rootInodeNum)
	}
}

func TestCreatWriteReadRoundTrip(t *testing.T) {
	fs := newTestFS(t, 64)
	rootDN, err := fs.Root()
	if err != nil {
		t.Fatalf("Root() error = %v", err)
	}
	root := rootDN.(*vnode)

	childDN, err := root.Creat(testIOC(), "hello.txt", 0644)
	if err != nil {
		t.Fatalf("Creat() error = %v", err)
	}
	child := childDN.(*vnode)

	payload := []byte("hello, ext2!")
	n, err := child.Write(0, payload)
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if n != len(payload) {
		t.Fatalf("Write() = %d, want %d", n, len(payload))
	}

	buf := make([]byte, 64)
	n, err = child.Read(0, buf)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if string(buf[:n]) != string(payload) {
		t.Errorf("Read() = %q, want %q", buf[:n], payload)
	}

	// Reopening through find must see the same data.
	foundDN, err := root.Find("hello.txt")
	if err != nil {
		t.Fatalf("Find() error = %v", err)
	}
	found := foundDN.(*vnode)
	buf2 := make([]byte, len(payload))
	if _, err := found.Read(0, buf2); err != nil {
		t.Fatalf("Read() via Find() error = %v", err)
	}
	if string(buf2) != string(payload) {
		t.Errorf("Read() via Find() = %q, want %q", buf2, payload)
	}
}

func TestWriteSpanningMultipleBlocks(t *testing.T) {
	fs := newTestFS(t, 64)
	root := mustRoot(t, fs)

	childDN, err := root.Creat(testIOC(), "big.txt", 0644)
	if err != nil {
		t.Fatalf("Creat() error = %v", err)
	}
	child := childDN.(*vnode)

	payload := strings.Repeat("x", int(fs.bsize)+100)
	if _, err := child.Write(0, []byte(payload)); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	buf := make([]byte, len(payload))
	n, err := child.Read(0, buf)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if string(buf[:n]) != payload {
		t.Errorf("cross-block read mismatch at length %d", n)
	}
}

func TestWriteIntoExistingBlockSlackUpdatesSize(t *testing.T) {
	fs := newTestFS(t, 64)
	root := mustRoot(t, fs)

	childDN, err := root.Creat(testIOC(), "slack.txt", 0644)
	if err != nil {
		t.Fatalf("Creat() error = %v", err)
	}
	child := childDN.(*vnode)

	if _, err := child.Write(0, []byte("abc")); err != nil {
		t.Fatalf("Write() initial error = %v", err)
	}
	if child.node.SizeLower != 3 {
		t.Fatalf("size after initial write = %d, want 3", child.node.SizeLower)
	}

	payload := make([]byte, 2000)
	for i := range payload {
		payload[i] = 'x'
	}
	n, err := child.Write(3, payload)
	if err != nil {
		t.Fatalf("Write() at slack boundary error = %v", err)
	}
	if n != len(payload) {
		t.Fatalf("Write() = %d, want %d", n, len(payload))
	}
	want := uint32(3 + len(payload))
	if child.node.SizeLower != want {
		t.Errorf("size after write spanning slack+growth = %d, want %d", child.node.SizeLower, want)
	}

	buf := make([]byte, want)
	rn, err := child.Read(0, buf)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if rn != int(want) {
		t.Errorf("Read() returned %d bytes, want %d (stale size would truncate early)", rn, want)
	}
}

func TestReadPastEOF(t *testing.T) {
	fs := newTestFS(t, 64)
	root := mustRoot(t, fs)

	childDN, err := root.Creat(testIOC(), "empty.txt", 0644)
	if err != nil {
		t.Fatalf("Creat() error = %v", err)
	}
	child := childDN.(*vnode)

	buf := make([]byte, 16)
	_, err = child.Read(0, buf)
	if err != io.EOF {
		t.Errorf("Read() on empty file error = %v, want io.EOF", err)
	}
}

func TestMkdirAndReaddir(t *testing.T) {
	fs := newTestFS(t, 64)
	root := mustRoot(t, fs)

	dirDN, err := root.Mkdir(testIOC(), "sub", 0755)
	if err != nil {
		t.Fatalf("Mkdir() error = %v", err)
	}
	dir := dirDN.(*vnode)
	if dir.Type() != vfs.TypeDirectory {
		t.Fatalf("Mkdir() produced type %v, want directory", dir.Type())
	}

	if _, err := dir.Creat(testIOC(), "x", 0644); err != nil {
		t.Fatalf("Creat() in subdir error = %v", err)
	}

	var names []string
	pos := int64(0)
	for {
		ent, next, err := dir.Readdir(pos)
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Readdir() error = %v", err)
		}
		if ent.Ino != 0 {
			names = append(names, ent.Name)
		}
		pos = next
	}
	want := []string{".", "..", "x"}
	if len(names) != len(want) {
		t.Fatalf("Readdir() names = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("Readdir()[%d] = %q, want %q", i, names[i], want[i])
		}
	}
}

func TestSymlinkInline(t *testing.T) {
	fs := newTestFS(t, 64)
	root := mustRoot(t, fs)

	target := "short-target"
	linkDN, err := root.Symlink(testIOC(), "link", target)
	if err != nil {
		t.Fatalf("Symlink() error = %v", err)
	}
	link := linkDN.(*vnode)

	got, err := link.Readlink()
	if err != nil {
		t.Fatalf("Readlink() error = %v", err)
	}
	if got != target {
		t.Errorf("Readlink() = %q, want %q", got, target)
	}
}

func TestSymlinkOutOfLine(t *testing.T) {
	fs := newTestFS(t, 64)
	root := mustRoot(t, fs)

	target := strings.Repeat("y", inlineSymlinkMax+10)
	linkDN, err := root.Symlink(testIOC(), "biglink", target)
	if err != nil {
		t.Fatalf("Symlink() error = %v", err)
	}
	link := linkDN.(*vnode)

	got, err := link.Readlink()
	if err != nil {
		t.Fatalf("Readlink() error = %v", err)
	}
	if got != target {
		t.Errorf("Readlink() = %q, want %q", got, target)
	}
}

func TestUnlinkFreesInodeAndRemovesEntry(t *testing.T) {
	fs := newTestFS(t, 64)
	root := mustRoot(t, fs)

	childDN, err := root.Creat(testIOC(), "doomed.txt", 0644)
	if err != nil {
		t.Fatalf("Creat() error = %v", err)
	}
	child := childDN.(*vnode)
	if _, err := child.Write(0, []byte("bye")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	if err := root.Unlink(child, "doomed.txt"); err != nil {
		t.Fatalf("Unlink() error = %v", err)
	}
	if _, err := root.Find("doomed.txt"); err == nil {
		t.Error("Find() succeeded after Unlink()")
	}
	again, err := fs.allocInode()
	if err != nil {
		t.Fatalf("allocInode() after Unlink() error = %v", err)
	}
	if again != child.ino {
		t.Errorf("expected freed inode %d to be reused, got %d", child.ino, again)
	}
}

func TestUnlinkNonEmptyDirIsRejected(t *testing.T) {
	fs := newTestFS(t, 64)
	root := mustRoot(t, fs)

	dirDN, err := root.Mkdir(testIOC(), "sub", 0755)
	if err != nil {
		t.Fatalf("Mkdir() error = %v", err)
	}
	dir := dirDN.(*vnode)
	if _, err := dir.Creat(testIOC(), "x", 0644); err != nil {
		t.Fatalf("Creat() in subdir error = %v", err)
	}

	if err := root.Unlink(dir, "sub"); err == nil {
		t.Error("Unlink() of a non-empty directory unexpectedly succeeded")
	}
}

func TestTruncateDownOnly(t *testing.T) {
	fs := newTestFS(t, 64)
	root := mustRoot(t, fs)

	childDN, err := root.Creat(testIOC(), "f.txt", 0644)
	if err != nil {
		t.Fatalf("Creat() error = %v", err)
	}
	child := childDN.(*vnode)
	payload := strings.Repeat("z", int(fs.bsize)+50)
	if _, err := child.Write(0, []byte(payload)); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	if err := child.Truncate(10); err != nil {
		t.Fatalf("Truncate() error = %v", err)
	}
	if child.node.SizeLower != 10 {
		t.Errorf("size after truncate = %d, want 10", child.node.SizeLower)
	}

	if err := child.Truncate(1000); err == nil {
		t.Error("Truncate() upward unexpectedly succeeded")
	}
}

func mustRoot(t *testing.T, fs *FS) *vnode {
	t.Helper()
	rootDN, err := fs.Root()
	if err != nil {
		t.Fatalf("Root() error = %v", err)
	}
	return rootDN.(*vnode)
}
