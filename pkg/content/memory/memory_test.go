package memory

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/mjmac/daosnfs/pkg/content"
)

func TestWriteAt_GrowsWithZeros(t *testing.T) {
	s := New()
	ctx := context.Background()

	if err := s.WriteAt(ctx, "obj", []byte("tail"), 8); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}

	size, err := s.Size(ctx, "obj")
	if err != nil {
		t.Fatalf("Size: %v", err)
	}
	if size != 12 {
		t.Fatalf("size = %d, want 12", size)
	}

	buf := make([]byte, 12)
	n, err := s.ReadAt(ctx, "obj", buf, 0)
	if err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	want := append(make([]byte, 8), []byte("tail")...)
	if n != 12 || !bytes.Equal(buf, want) {
		t.Errorf("read %q, want %q", buf[:n], want)
	}
}

func TestWriteAt_Overlapping(t *testing.T) {
	s := New()
	ctx := context.Background()

	if err := s.WriteAt(ctx, "obj", []byte("hello world"), 0); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}
	if err := s.WriteAt(ctx, "obj", []byte("WORLD"), 6); err != nil {
		t.Fatalf("WriteAt overlap: %v", err)
	}

	buf := make([]byte, 11)
	if _, err := s.ReadAt(ctx, "obj", buf, 0); err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	if string(buf) != "hello WORLD" {
		t.Errorf("read %q, want %q", buf, "hello WORLD")
	}
}

func TestWriteAt_DoesNotAliasCallerBuffer(t *testing.T) {
	s := New()
	ctx := context.Background()

	data := []byte("immutable")
	if err := s.WriteAt(ctx, "obj", data, 0); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}
	data[0] = 'X'

	buf := make([]byte, len(data))
	if _, err := s.ReadAt(ctx, "obj", buf, 0); err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	if string(buf) != "immutable" {
		t.Errorf("store aliased the caller's buffer: read %q", buf)
	}
}

func TestReadAt(t *testing.T) {
	s := New()
	ctx := context.Background()

	if _, err := s.ReadAt(ctx, "missing", make([]byte, 4), 0); !errors.Is(err, content.ErrNotFound) {
		t.Errorf("read missing: err = %v, want ErrNotFound", err)
	}

	if err := s.WriteAt(ctx, "obj", []byte("abcdef"), 0); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}

	// Read at the end: zero bytes, nil error.
	if n, err := s.ReadAt(ctx, "obj", make([]byte, 4), 6); err != nil || n != 0 {
		t.Errorf("read at end = (%d, %v), want (0, nil)", n, err)
	}

	// Short buffer reads a prefix.
	buf := make([]byte, 3)
	n, err := s.ReadAt(ctx, "obj", buf, 2)
	if err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	if n != 3 || string(buf) != "cde" {
		t.Errorf("read %q (%d bytes), want %q", buf[:n], n, "cde")
	}

	if _, err := s.ReadAt(ctx, "obj", buf, -1); !errors.Is(err, content.ErrInvalidOffset) {
		t.Errorf("negative offset: err = %v, want ErrInvalidOffset", err)
	}
}

func TestTruncate(t *testing.T) {
	s := New()
	ctx := context.Background()

	if err := s.WriteAt(ctx, "obj", []byte("0123456789"), 0); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}

	// Shrink discards the tail.
	if err := s.Truncate(ctx, "obj", 4); err != nil {
		t.Fatalf("Truncate shrink: %v", err)
	}
	if size, _ := s.Size(ctx, "obj"); size != 4 {
		t.Errorf("size = %d after shrink, want 4", size)
	}

	// Grow extends with zeros.
	if err := s.Truncate(ctx, "obj", 8); err != nil {
		t.Fatalf("Truncate grow: %v", err)
	}
	buf := make([]byte, 8)
	if _, err := s.ReadAt(ctx, "obj", buf, 0); err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	want := append([]byte("0123"), make([]byte, 4)...)
	if !bytes.Equal(buf, want) {
		t.Errorf("read %q after grow, want %q", buf, want)
	}

	// Truncating an absent ID creates it.
	if err := s.Truncate(ctx, "fresh", 3); err != nil {
		t.Fatalf("Truncate absent: %v", err)
	}
	if size, err := s.Size(ctx, "fresh"); err != nil || size != 3 {
		t.Errorf("fresh size = (%d, %v), want (3, nil)", size, err)
	}

	if err := s.Truncate(ctx, "obj", -1); !errors.Is(err, content.ErrInvalidOffset) {
		t.Errorf("negative size: err = %v, want ErrInvalidOffset", err)
	}
}

func TestDelete(t *testing.T) {
	s := New()
	ctx := context.Background()

	if err := s.WriteAt(ctx, "obj", []byte("data"), 0); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}
	if err := s.Delete(ctx, "obj"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Size(ctx, "obj"); !errors.Is(err, content.ErrNotFound) {
		t.Errorf("size after delete: err = %v, want ErrNotFound", err)
	}

	// Deleting an absent ID is a no-op.
	if err := s.Delete(ctx, "obj"); err != nil {
		t.Errorf("delete absent: %v", err)
	}
}

func TestContextCancellation(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := s.WriteAt(ctx, "obj", []byte("data"), 0); err == nil {
		t.Error("write with cancelled context succeeded")
	}
	if _, err := s.ReadAt(ctx, "obj", make([]byte, 4), 0); err == nil {
		t.Error("read with cancelled context succeeded")
	}
	if err := s.Flush(ctx, "obj"); err == nil {
		t.Error("flush with cancelled context succeeded")
	}
}
