package vfs_test

import (
	"errors"
	"io"
	"testing"

	"golang.org/x/sys/unix"

	"github.com/alnyan/fs-playground/backend/file"
	"github.com/alnyan/fs-playground/filesystem/ext2"
	"github.com/alnyan/fs-playground/vfs"
)

func newTestVFS(t *testing.T) *vfs.VFS {
	t.Helper()
	mem := file.NewMemory(64 * 1024)
	fs, err := ext2.Create(mem, ext2.CreateOptions{BlockSize: 1024, BlockGroupSize: 8 * 1024, InodesPerGroup: 32})
	if err != nil {
		t.Fatalf("ext2.Create() error = %v", err)
	}
	v, err := vfs.New(fs)
	if err != nil {
		t.Fatalf("vfs.New() error = %v", err)
	}
	return v
}

func TestFileLifecycle(t *testing.T) {
	v := newTestVFS(t)
	ioc := v.RootIOContext()

	h, err := v.Creat(ioc, "/a.txt", 0644, vfs.ORdWr)
	if err != nil {
		t.Fatalf("Creat() error = %v", err)
	}
	if _, err := v.Write(h, []byte("payload")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if err := v.Close(h); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	h2, err := v.Open(ioc, "/a.txt", vfs.ORdOnly, 0)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer v.Close(h2)
	buf := make([]byte, 32)
	n, err := v.Read(h2, buf)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if string(buf[:n]) != "payload" {
		t.Errorf("Read() = %q, want %q", buf[:n], "payload")
	}

	st, err := v.Stat(ioc, "/a.txt")
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if st.Size != int64(len("payload")) {
		t.Errorf("Stat().Size = %d, want %d", st.Size, len("payload"))
	}
}

func TestMkdirAndReaddirOrder(t *testing.T) {
	v := newTestVFS(t)
	ioc := v.RootIOContext()

	if err := v.Mkdir(ioc, "/d", 0755); err != nil {
		t.Fatalf("Mkdir() error = %v", err)
	}
	h, err := v.Creat(ioc, "/d/x", 0644, vfs.ORdWr)
	if err != nil {
		t.Fatalf("Creat() error = %v", err)
	}
	if err := v.Close(h); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	dh, err := v.Open(ioc, "/d", vfs.ODirectory|vfs.ORdOnly, 0)
	if err != nil {
		t.Fatalf("Open(ODirectory) error = %v", err)
	}
	defer v.Close(dh)

	var names []string
	for {
		ent, err := v.Readdir(dh)
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Readdir() error = %v", err)
		}
		if ent.Ino != 0 {
			names = append(names, ent.Name)
		}
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

func TestUnlinkRootIsRejected(t *testing.T) {
	v := newTestVFS(t)
	ioc := v.RootIOContext()

	err := v.Unlink(ioc, "/")
	if !errors.Is(err, unix.EACCES) {
		t.Errorf("Unlink(\"/\") error = %v, want EACCES", err)
	}
}

func TestMountUmountLifecycle(t *testing.T) {
	v := newTestVFS(t)
	ioc := v.RootIOContext()

	if err := v.Mkdir(ioc, "/mnt", 0755); err != nil {
		t.Fatalf("Mkdir() error = %v", err)
	}

	mem2 := file.NewMemory(64 * 1024)
	fs2, err := ext2.Create(mem2, ext2.CreateOptions{BlockSize: 1024, BlockGroupSize: 8 * 1024, InodesPerGroup: 32})
	if err != nil {
		t.Fatalf("ext2.Create() second fs error = %v", err)
	}

	if err := v.Mount(ioc, "/mnt", fs2); err != nil {
		t.Fatalf("Mount() error = %v", err)
	}

	nonRoot := &vfs.IOContext{Cwd: ioc.Cwd, UID: 1, GID: 1}
	if err := v.Umount(nonRoot, "/mnt"); !errors.Is(err, unix.EACCES) {
		t.Errorf("Umount() by non-root error = %v, want EACCES", err)
	}

	h, err := v.Open(ioc, "/mnt", vfs.ODirectory|vfs.ORdOnly, 0)
	if err != nil {
		t.Fatalf("Open(/mnt) error = %v", err)
	}
	if err := v.Umount(ioc, "/mnt"); !errors.Is(err, unix.EBUSY) {
		t.Errorf("Umount() while open error = %v, want EBUSY", err)
	}
	if err := v.Close(h); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	if err := v.Umount(ioc, "/mnt"); err != nil {
		t.Errorf("Umount() after close error = %v, want nil", err)
	}
}

func TestChdirAndRelativeCreat(t *testing.T) {
	v := newTestVFS(t)
	ioc := v.RootIOContext()

	if err := v.Mkdir(ioc, "/d", 0755); err != nil {
		t.Fatalf("Mkdir() error = %v", err)
	}
	if err := v.Chdir(ioc, "/d"); err != nil {
		t.Fatalf("Chdir() error = %v", err)
	}
	h, err := v.Creat(ioc, "x", 0644, vfs.ORdWr)
	if err != nil {
		t.Fatalf("Creat() relative error = %v", err)
	}
	if err := v.Close(h); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	if _, err := v.Stat(ioc, "/d/x"); err != nil {
		t.Errorf("Stat(/d/x) error = %v, want nil", err)
	}
}

func TestOpenAppendIsRejected(t *testing.T) {
	v := newTestVFS(t)
	ioc := v.RootIOContext()

	h, err := v.Creat(ioc, "/a.txt", 0644, vfs.ORdWr)
	if err != nil {
		t.Fatalf("Creat() error = %v", err)
	}
	v.Close(h)

	_, err = v.Open(ioc, "/a.txt", vfs.OAppend|vfs.OWrOnly, 0)
	if !errors.Is(err, unix.EINVAL) {
		t.Errorf("Open(O_APPEND) error = %v, want EINVAL", err)
	}
}

func TestOpenWithCreatOnMissingPathCreatesFile(t *testing.T) {
	v := newTestVFS(t)
	ioc := v.RootIOContext()

	h, err := v.Open(ioc, "/hello.txt", vfs.OCreat|vfs.OWrOnly, 0644)
	if err != nil {
		t.Fatalf("Open(OCreat) on missing path error = %v, want nil", err)
	}
	if _, err := v.Write(h, []byte("hi")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if err := v.Close(h); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	st, err := v.Stat(ioc, "/hello.txt")
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if st.Size != 2 {
		t.Errorf("Stat().Size = %d, want 2", st.Size)
	}
}

func TestCreatExistingReturnsEEXIST(t *testing.T) {
	v := newTestVFS(t)
	ioc := v.RootIOContext()

	h, err := v.Creat(ioc, "/a.txt", 0644, vfs.ORdWr)
	if err != nil {
		t.Fatalf("Creat() error = %v", err)
	}
	v.Close(h)

	_, err = v.Creat(ioc, "/a.txt", 0644, vfs.ORdWr)
	if !errors.Is(err, unix.EEXIST) {
		t.Errorf("Creat() of existing file error = %v, want EEXIST", err)
	}
}
