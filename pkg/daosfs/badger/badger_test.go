package badger

import (
	"bytes"
	"errors"
	"syscall"
	"testing"

	"github.com/mjmac/daosnfs/pkg/content"
	contentmem "github.com/mjmac/daosnfs/pkg/content/memory"
	"github.com/mjmac/daosnfs/pkg/daosfs"
)

func newTestConnector(t *testing.T, store content.Store) *Connector {
	t.Helper()
	conn := NewConnector(Config{Dir: t.TempDir()}, store, nil)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func openFS(t *testing.T, conn *Connector) daosfs.FileSystem {
	t.Helper()
	fs, err := conn.OpenFileSystem("", "pool0", "cont0")
	if err != nil {
		t.Fatalf("OpenFileSystem: %v", err)
	}
	return fs
}

func rootHandle(t *testing.T, fs daosfs.FileSystem) daosfs.NodeHandle {
	t.Helper()
	root, err := fs.GetNodeHandle(fs.RootPtr())
	if err != nil {
		t.Fatalf("GetNodeHandle(root): %v", err)
	}
	t.Cleanup(root.Free)
	return root
}

func TestRootInitialized(t *testing.T) {
	conn := newTestConnector(t, contentmem.New())
	fs := openFS(t, conn)
	root := rootHandle(t, fs)

	st, err := root.GetAttr()
	if err != nil {
		t.Fatalf("GetAttr: %v", err)
	}
	if st.Type != daosfs.FileTypeDirectory {
		t.Errorf("root type = %v, want directory", st.Type)
	}
	if st.Nlink != 2 {
		t.Errorf("root nlink = %d, want 2", st.Nlink)
	}
	if st.Dev == 0 {
		t.Error("zero device number")
	}
}

func TestOpenFileSystem_SharedInstance(t *testing.T) {
	conn := newTestConnector(t, contentmem.New())

	a := openFS(t, conn)
	b := openFS(t, conn)
	if a != b {
		t.Error("same pool/container returned different filesystem instances")
	}

	// First close only drops a reference; the database stays usable.
	if err := a.Close(); err != nil {
		t.Fatalf("first close: %v", err)
	}
	if _, err := b.GetNodeHandle(b.RootPtr()); err != nil {
		t.Errorf("filesystem unusable after sibling close: %v", err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("last close: %v", err)
	}
}

func TestCreateWriteRead(t *testing.T) {
	conn := newTestConnector(t, contentmem.New())
	fs := openFS(t, conn)
	root := rootHandle(t, fs)

	file, err := root.Create("f", &daosfs.Stat{Mode: 0o644}, syscall.O_CREAT)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer file.Free()

	if err := file.Open(syscall.O_RDWR); err != nil {
		t.Fatalf("Open: %v", err)
	}
	payload := []byte("persistent bytes")
	if _, err := file.Write(0, payload); err != nil {
		t.Fatalf("Write: %v", err)
	}

	buf := make([]byte, 32)
	n, err := file.Read(0, buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !bytes.Equal(buf[:n], payload) {
		t.Errorf("read %q, want %q", buf[:n], payload)
	}

	st, err := file.GetAttr()
	if err != nil {
		t.Fatalf("GetAttr: %v", err)
	}
	if st.Size != uint64(len(payload)) {
		t.Errorf("size = %d, want %d", st.Size, len(payload))
	}
	if err := file.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestDurableKeysSurviveReopen(t *testing.T) {
	store := contentmem.New()
	dir := t.TempDir()

	conn := NewConnector(Config{Dir: dir}, store, nil)
	fs, err := conn.OpenFileSystem("", "pool0", "cont0")
	if err != nil {
		t.Fatalf("OpenFileSystem: %v", err)
	}

	root, err := fs.GetNodeHandle(fs.RootPtr())
	if err != nil {
		t.Fatalf("GetNodeHandle: %v", err)
	}
	file, err := root.Create("f", &daosfs.Stat{Mode: 0o644}, syscall.O_CREAT)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := file.Write(0, []byte("still here")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	key := file.Key()
	ino := func() uint64 {
		st, err := file.GetAttr()
		if err != nil {
			t.Fatalf("GetAttr: %v", err)
		}
		return st.Ino
	}()

	file.Free()
	root.Free()
	if err := fs.Close(); err != nil {
		t.Fatalf("Close fs: %v", err)
	}

	// A fresh connector over the same directory must resolve the old wire
	// key to the same object.
	conn2 := NewConnector(Config{Dir: dir}, store, nil)
	defer conn2.Close()
	fs2, err := conn2.OpenFileSystem("", "pool0", "cont0")
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}

	node, err := fs2.LookupHandle(key)
	if err != nil {
		t.Fatalf("LookupHandle after reopen: %v", err)
	}
	defer node.Free()

	st, err := node.GetAttr()
	if err != nil {
		t.Fatalf("GetAttr after reopen: %v", err)
	}
	if st.Ino != ino {
		t.Errorf("ino = %d after reopen, want %d", st.Ino, ino)
	}
	if st.Size != 10 {
		t.Errorf("size = %d after reopen, want 10", st.Size)
	}

	buf := make([]byte, 16)
	n, err := node.Read(0, buf)
	if err != nil {
		t.Fatalf("Read after reopen: %v", err)
	}
	if string(buf[:n]) != "still here" {
		t.Errorf("read %q after reopen", buf[:n])
	}
}

func TestOpen_SingleOpenPerNode(t *testing.T) {
	conn := newTestConnector(t, contentmem.New())
	fs := openFS(t, conn)
	root := rootHandle(t, fs)

	file, err := root.Create("f", &daosfs.Stat{Mode: 0o644}, syscall.O_CREAT)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer file.Free()

	if err := file.Open(syscall.O_RDONLY); err != nil {
		t.Fatalf("Open: %v", err)
	}

	other, err := root.Lookup("f")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	defer other.Free()
	if err := other.Open(syscall.O_RDONLY); !errors.Is(err, daosfs.ErrBusy) {
		t.Errorf("second open: err = %v, want EBUSY", err)
	}

	if err := file.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := other.Close(); !errors.Is(err, daosfs.ErrBadF) {
		t.Errorf("close when not open: err = %v, want EBADF", err)
	}
}

func TestUnlink(t *testing.T) {
	conn := newTestConnector(t, contentmem.New())
	fs := openFS(t, conn)
	root := rootHandle(t, fs)

	dir, err := root.Mkdir("d", &daosfs.Stat{Mode: 0o755})
	if err != nil {
		t.Fatalf("Mkdir: %v", err)
	}
	defer dir.Free()
	inner, err := dir.Create("f", &daosfs.Stat{Mode: 0o644}, syscall.O_CREAT)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	key := inner.Key()
	inner.Free()

	if err := root.Unlink("d"); !errors.Is(err, daosfs.ErrNotEmpty) {
		t.Errorf("unlink non-empty: err = %v, want ENOTEMPTY", err)
	}
	if err := dir.Unlink("f"); err != nil {
		t.Fatalf("unlink file: %v", err)
	}
	if _, err := fs.LookupHandle(key); !errors.Is(err, daosfs.ErrNoEnt) {
		t.Errorf("key still resolvable after unlink: err = %v, want ENOENT", err)
	}
	if err := root.Unlink("d"); err != nil {
		t.Errorf("unlink empty dir: %v", err)
	}
	if err := root.Unlink("d"); !errors.Is(err, daosfs.ErrNoEnt) {
		t.Errorf("unlink twice: err = %v, want ENOENT", err)
	}
}

func TestReadDir_Ordering(t *testing.T) {
	conn := newTestConnector(t, contentmem.New())
	fs := openFS(t, conn)
	root := rootHandle(t, fs)

	for _, name := range []string{"charlie", "alpha", "bravo"} {
		n, err := root.Create(name, &daosfs.Stat{Mode: 0o644}, syscall.O_CREAT)
		if err != nil {
			t.Fatalf("Create(%q): %v", name, err)
		}
		n.Free()
	}

	var names []string
	_, eof, err := root.ReadDir(0, func(name string, cookie uint64) bool {
		names = append(names, name)
		return true
	})
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if !eof {
		t.Error("full enumeration did not report EOF")
	}

	want := []string{"alpha", "bravo", "charlie"}
	if len(names) != len(want) {
		t.Fatalf("enumerated %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("enumerated %v, want %v (key order)", names, want)
		}
	}
}

func TestTruncateAndSetAttr(t *testing.T) {
	conn := newTestConnector(t, contentmem.New())
	fs := openFS(t, conn)
	root := rootHandle(t, fs)

	file, err := root.Create("f", &daosfs.Stat{Mode: 0o644}, syscall.O_CREAT)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer file.Free()

	if _, err := file.Write(0, []byte("0123456789")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := file.Truncate(4); err != nil {
		t.Fatalf("Truncate: %v", err)
	}

	st := daosfs.Stat{Mode: 0o600, UID: 500}
	if err := file.SetAttr(&st, daosfs.SetAttrMode|daosfs.SetAttrUID); err != nil {
		t.Fatalf("SetAttr: %v", err)
	}

	got, err := file.GetAttr()
	if err != nil {
		t.Fatalf("GetAttr: %v", err)
	}
	if got.Size != 4 || got.Mode != 0o600 || got.UID != 500 {
		t.Errorf("attributes = size %d mode %o uid %d, want 4/600/500", got.Size, got.Mode, got.UID)
	}
}

func TestStatFs_CountsNodes(t *testing.T) {
	conn := newTestConnector(t, contentmem.New())
	fs := openFS(t, conn)
	root := rootHandle(t, fs)

	before, err := fs.StatFs()
	if err != nil {
		t.Fatalf("StatFs: %v", err)
	}

	n, err := root.Create("f", &daosfs.Stat{Mode: 0o644}, syscall.O_CREAT)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	n.Free()

	after, err := fs.StatFs()
	if err != nil {
		t.Fatalf("StatFs: %v", err)
	}
	if after.Ffree != before.Ffree-1 {
		t.Errorf("ffree %d -> %d, want a decrease of 1", before.Ffree, after.Ffree)
	}
}
