package daosfs

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
)

// stubConnector counts calls so the session's initialize-once and close
// semantics can be observed.
type stubConnector struct {
	initErr   error
	initCalls atomic.Int32
	opens     atomic.Int32
	closed    atomic.Bool
}

func (c *stubConnector) Initialize() error {
	c.initCalls.Add(1)
	return c.initErr
}

func (c *stubConnector) OpenFileSystem(serverGroup, pool, container string) (FileSystem, error) {
	c.opens.Add(1)
	return nil, nil
}

func (c *stubConnector) Close() error {
	c.closed.Store(true)
	return nil
}

func TestSession_InitializeOnce(t *testing.T) {
	conn := &stubConnector{}
	s := NewSession(conn)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Open("", "pool0", "cont0"); err != nil {
				t.Errorf("Open: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := conn.initCalls.Load(); got != 1 {
		t.Errorf("Initialize called %d times, want 1", got)
	}
	if got := conn.opens.Load(); got != 8 {
		t.Errorf("OpenFileSystem called %d times, want 8", got)
	}
}

func TestSession_StickyInitError(t *testing.T) {
	conn := &stubConnector{initErr: errors.New("no fabric")}
	s := NewSession(conn)

	if _, err := s.Open("", "pool0", "cont0"); err == nil {
		t.Fatal("expected initialization error")
	}
	// The failure is sticky: Initialize is not retried.
	if _, err := s.Open("", "pool0", "cont0"); err == nil {
		t.Fatal("expected sticky initialization error")
	}
	if got := conn.initCalls.Load(); got != 1 {
		t.Errorf("Initialize called %d times, want 1", got)
	}
	if got := conn.opens.Load(); got != 0 {
		t.Errorf("OpenFileSystem called %d times after failed init, want 0", got)
	}
}

func TestSession_Close(t *testing.T) {
	conn := &stubConnector{}
	s := NewSession(conn)

	if _, err := s.Open("", "pool0", "cont0"); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !conn.closed.Load() {
		t.Error("connector not closed")
	}

	if _, err := s.Open("", "pool0", "cont0"); err == nil {
		t.Error("open on a closed session succeeded")
	}
	// Closing again is a no-op.
	if err := s.Close(); err != nil {
		t.Errorf("second close: %v", err)
	}
}

func TestErrnoValue(t *testing.T) {
	if got := ErrnoValue(nil); got != 0 {
		t.Errorf("ErrnoValue(nil) = %d, want 0", got)
	}
	if got := ErrnoValue(ErrNoEnt); got != -2 {
		t.Errorf("ErrnoValue(ENOENT) = %d, want -2", got)
	}
	// Non-Errno errors collapse to EIO.
	if got := ErrnoValue(errors.New("boom")); got != -5 {
		t.Errorf("ErrnoValue(opaque) = %d, want -5", got)
	}
}

func TestNodeKey(t *testing.T) {
	k := MakeNodeKey(0x0102030405060708, 0x1112131415161718, 42)
	if k.Ino() != 42 {
		t.Errorf("Ino = %d, want 42", k.Ino())
	}
	if len(k.String()) != NodeKeySize*2 {
		t.Errorf("hex form %q has length %d, want %d", k.String(), len(k.String()), NodeKeySize*2)
	}
	if k == (NodeKey{}) {
		t.Error("key is zero")
	}
}
