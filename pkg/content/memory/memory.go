// Package memory implements an in-memory content store.
//
// All objects live in a map guarded by a RWMutex. Data is copied on both
// write and read so caller-owned buffers never alias store-owned slices.
// Intended for tests, development, and ephemeral deployments; data does not
// survive the process.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/mjmac/daosnfs/pkg/content"
)

// Store implements content.Store backed by process memory.
type Store struct {
	mu   sync.RWMutex
	data map[content.ID][]byte
}

// New creates an empty in-memory content store.
func New() *Store {
	return &Store{data: make(map[content.ID][]byte)}
}

var _ content.Store = (*Store)(nil)

func (s *Store) WriteAt(ctx context.Context, id content.ID, data []byte, offset int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if offset < 0 {
		return fmt.Errorf("write %s at %d: %w", id, offset, content.ErrInvalidOffset)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.data[id]
	end := offset + int64(len(data))
	if int64(len(cur)) < end {
		grown := make([]byte, end)
		copy(grown, cur)
		cur = grown
	}
	copy(cur[offset:end], data)
	s.data[id] = cur
	return nil
}

func (s *Store) ReadAt(ctx context.Context, id content.ID, buf []byte, offset int64) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if offset < 0 {
		return 0, fmt.Errorf("read %s at %d: %w", id, offset, content.ErrInvalidOffset)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	cur, ok := s.data[id]
	if !ok {
		return 0, fmt.Errorf("read %s: %w", id, content.ErrNotFound)
	}
	if offset >= int64(len(cur)) {
		return 0, nil
	}
	return copy(buf, cur[offset:]), nil
}

func (s *Store) Size(ctx context.Context, id content.ID) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	cur, ok := s.data[id]
	if !ok {
		return 0, fmt.Errorf("size %s: %w", id, content.ErrNotFound)
	}
	return int64(len(cur)), nil
}

func (s *Store) Truncate(ctx context.Context, id content.ID, size int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if size < 0 {
		return fmt.Errorf("truncate %s to %d: %w", id, size, content.ErrInvalidOffset)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.data[id]
	if int64(len(cur)) == size {
		if cur == nil {
			s.data[id] = []byte{}
		}
		return nil
	}
	resized := make([]byte, size)
	copy(resized, cur)
	s.data[id] = resized
	return nil
}

func (s *Store) Delete(ctx context.Context, id content.ID) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.data, id)
	return nil
}

// Flush is a no-op: memory writes are immediately visible.
func (s *Store) Flush(ctx context.Context, id content.ID) error {
	return ctx.Err()
}
