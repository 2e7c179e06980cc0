package daosfs

import (
	"fmt"
	"sync"
)

// Session wraps a Connector with initialize-once semantics.
//
// The library this contract descends from kept one process-wide handle that
// was lazily opened by the first export and shared by the rest. Session makes
// that explicit: construct one Session, pass it to every export, and the
// underlying connector is initialized exactly once no matter how many
// filesystems are opened concurrently. An initialization failure is sticky
// and reported to every subsequent Open.
type Session struct {
	connector Connector

	once    sync.Once
	initErr error

	mu     sync.Mutex
	opened int
	closed bool
}

// Initializer is implemented by connectors that need one-time setup before
// the first OpenFileSystem call.
type Initializer interface {
	Initialize() error
}

// NewSession creates a session over the given connector. The connector is
// not touched until the first Open.
func NewSession(connector Connector) *Session {
	return &Session{connector: connector}
}

// Open opens a filesystem container, initializing the connector first if
// this is the first use of the session.
func (s *Session) Open(serverGroup, pool, container string) (FileSystem, error) {
	s.once.Do(func() {
		if init, ok := s.connector.(Initializer); ok {
			s.initErr = init.Initialize()
		}
	})
	if s.initErr != nil {
		return nil, fmt.Errorf("storage session initialization failed: %w", s.initErr)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, fmt.Errorf("storage session is closed")
	}
	s.opened++
	s.mu.Unlock()

	fs, err := s.connector.OpenFileSystem(serverGroup, pool, container)
	if err != nil {
		s.mu.Lock()
		s.opened--
		s.mu.Unlock()
		return nil, err
	}
	return fs, nil
}

// Close shuts the session down and releases the connector. Filesystems
// opened through the session should be closed first; Close does not wait
// for them.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	return s.connector.Close()
}
