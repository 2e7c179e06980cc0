// Package daosfs defines the storage-library contract the FSAL layer is
// built against: a node-handle API over a distributed object-storage
// filesystem.
//
// The contract is deliberately narrow and mirrors the library it stands in
// for:
//   - There is no file-descriptor abstraction. Reads and writes are
//     handle-based, and a node supports at most ONE concurrent open. Callers
//     that need to multiplex logical opens over a node (the FSAL does) must
//     serialize opens themselves.
//   - Every operation either succeeds or fails with a POSIX errno carried by
//     an Errno error value. No other error types cross this boundary.
//   - Calls are synchronous and may block on backend I/O. There is no
//     cancellation at this layer; request lifetime is owned by the caller.
//
// Two implementations ship with this module: an in-memory backend
// (pkg/daosfs/memory) used by tests and development, and a persistent
// BadgerDB backend (pkg/daosfs/badger). Both store regular-file data through
// a pkg/content store, which may itself be memory- or S3-backed.
package daosfs

// NodePtr is the storage-internal pointer to a node. It is only meaningful
// to the FileSystem that produced it and is not stable across remounts;
// durable identity is the NodeKey.
type NodePtr uint64

// ReadDirFunc is invoked once per directory entry. Returning false stops the
// enumeration; the cursor returned by ReadDir then resumes after the last
// delivered entry.
type ReadDirFunc func(name string, cookie uint64) bool

// FileSystem is an open filesystem container within a pool. One FileSystem
// is opened per export at mount time and closed when the export detaches.
type FileSystem interface {
	// RootPtr returns the node pointer of the filesystem root directory.
	RootPtr() NodePtr

	// GetNodeHandle acquires a node handle for the given node pointer. Each
	// successful call returns a handle that must be released with Free
	// exactly once.
	GetNodeHandle(ptr NodePtr) (NodeHandle, error)

	// LookupHandle resolves a durable node key back to a node handle.
	// Returns ENOENT if the key does not name a live node.
	LookupHandle(key NodeKey) (NodeHandle, error)

	// StatFs returns filesystem-wide usage counters.
	StatFs() (*FsStat, error)

	// Close releases the filesystem. All node handles must have been freed.
	Close() error
}

// NodeHandle is an acquired reference to one node (file or directory).
//
// A NodeHandle is not safe for concurrent mutation of the same node through
// multiple handles; in particular Open on a node that is already open
// through any handle fails with EBUSY.
type NodeHandle interface {
	// Ptr returns the node pointer this handle was acquired for.
	Ptr() NodePtr

	// Key returns the durable, fixed-size key naming this node.
	Key() NodeKey

	// Lookup resolves a name in this directory to a new node handle.
	Lookup(name string) (NodeHandle, error)

	// GetAttr returns the node's current attributes.
	GetAttr() (*Stat, error)

	// SetAttr updates the attributes selected by mask.
	SetAttr(st *Stat, mask SetAttrMask) error

	// Truncate sets a regular file's size.
	Truncate(size uint64) error

	// Create creates a regular file in this directory. The flags are POSIX
	// open flags; O_EXCL causes EEXIST when the name is taken.
	Create(name string, st *Stat, flags int) (NodeHandle, error)

	// Mkdir creates a directory in this directory.
	Mkdir(name string, st *Stat) (NodeHandle, error)

	// Unlink removes a name from this directory. Directories must be empty.
	Unlink(name string) error

	// Open opens the node for I/O. At most one open per node is permitted;
	// a second open fails with EBUSY regardless of which handle holds it.
	Open(flags int) error

	// Close closes the node at the storage layer. Closing a node that is
	// not open fails with EBADF.
	Close() error

	// Read reads up to len(buf) bytes at offset, returning the byte count.
	// A zero count on a non-empty request means end of file.
	Read(offset uint64, buf []byte) (int, error)

	// Write writes data at offset, returning the byte count written.
	Write(offset uint64, data []byte) (int, error)

	// Commit flushes written data in [offset, offset+length) to stable
	// storage. A zero length flushes from offset to end of file.
	Commit(offset uint64, length uint64) error

	// ReadDir enumerates directory entries starting at the cursor (0 for
	// the beginning), invoking cb per entry. It returns the cursor to
	// resume from and whether the end of the directory was reached.
	ReadDir(cursor uint64, cb ReadDirFunc) (next uint64, eof bool, err error)

	// Free releases this node handle. The handle must not be used after
	// Free, and Free must be called exactly once per acquired handle.
	Free()
}

// Connector opens filesystem containers. Backends implement it; the session
// layer wraps one with initialize-once semantics.
type Connector interface {
	// OpenFileSystem opens the container within the pool. serverGroup may
	// be empty; pool and container are mandatory identifiers of at most 36
	// characters (UUID text form).
	OpenFileSystem(serverGroup, pool, container string) (FileSystem, error)

	// Close releases resources shared across filesystems.
	Close() error
}
