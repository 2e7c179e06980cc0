// Package fsal is the adapter between a POSIX-like object-handle contract
// (the interface an NFS protocol server consumes) and the daosfs storage
// contract (node handles with no file-descriptor concept and at most one
// concurrent open per node).
//
// The adapter owns four concerns the two contracts disagree on:
//
//   - handle lifecycle: wrapping storage node handles in server-facing
//     object handles with exact-once release semantics;
//   - share reservations: NFS open access/deny arbitration, multiplexing
//     many logical opens onto the single storage-layer open a node allows;
//   - error translation: storage errnos into the server's structured
//     error taxonomy;
//   - wire handles: the fixed-size durable object identifier clients hold
//     across reconnects.
//
// The protocol server, RPC framing, and attribute wire marshalling live
// above this package; the storage backends live below it in pkg/daosfs.
package fsal

// ReadDirCallback is invoked once per directory entry during ReadDir.
// Returning false stops the enumeration at that entry; the cookie can be
// passed back as the cursor to resume after it.
type ReadDirCallback func(name string, attrs *Attributes, cookie uint64) bool

// ObjectHandle is the object-operation contract exposed to the protocol
// server. *Handle is the only implementation; the interface fixes the
// operation set and keeps the server free of this package's internals.
type ObjectHandle interface {
	// Export returns the export the object belongs to.
	Export() ExportHandle

	// Type returns the filesystem object type.
	Type() ObjectType

	// FileID returns the stable numeric id of the object.
	FileID() uint64

	// FSID returns the id of the filesystem instance containing the object.
	FSID() uint64

	// Release frees the object's storage resources. Called exactly once by
	// the server when the last reference goes away.
	Release()

	// HandleDigest writes the wire form of the handle into buf.
	HandleDigest(t DigestType, buf []byte) (int, error)

	// HandleToKey returns the bytes that index this object in the server's
	// handle tables.
	HandleToKey() []byte

	// Lookup resolves a name in this directory.
	Lookup(name string) (ObjectHandle, *Attributes, error)

	// Create creates a regular file without opening it.
	Create(name string, attrs *Attributes) (ObjectHandle, *Attributes, error)

	// Mkdir creates a directory.
	Mkdir(name string, attrs *Attributes) (ObjectHandle, *Attributes, error)

	// Unlink removes the named entry from this directory.
	Unlink(name string) error

	// Rename moves oldName in this directory to newName in newDir.
	Rename(newDir ObjectHandle, oldName, newName string) error

	// ReadDir enumerates entries starting at cursor (0 for the start),
	// reporting whether the end of the directory was reached.
	ReadDir(cursor uint64, cb ReadDirCallback) (eof bool, err error)

	// Getattrs returns the object's current attributes.
	Getattrs() (*Attributes, error)

	// Setattr2 applies the attributes selected by attrs.Mask. bypass skips
	// advisory share checks for the size change path.
	Setattr2(bypass bool, state *OpenState, attrs *Attributes) error

	// Open2 opens this object (name empty) or a named child, optionally
	// creating it per mode. It returns the newly referenced object when an
	// object was created or resolved by name, its attributes, and whether
	// the caller must still perform its own permission check.
	Open2(state *OpenState, flags OpenFlags, mode CreateMode, name string,
		setattrs *Attributes, verifier Verifier) (ObjectHandle, *Attributes, bool, error)

	// Reopen2 changes the access/deny mode of an existing open.
	Reopen2(state *OpenState, flags OpenFlags) error

	// Status2 reports the flags the state currently holds.
	Status2(state *OpenState) OpenFlags

	// Close2 closes the open associated with state.
	Close2(state *OpenState) error

	// Read2 reads into buf at offset, reporting bytes read and end-of-file.
	Read2(offset uint64, buf []byte) (int, bool, error)

	// Write2 writes data at offset. stable requests a flush before return;
	// the second result reports whether the data is stable.
	Write2(offset uint64, data []byte, stable bool) (int, bool, error)

	// Commit2 flushes the byte range to stable storage.
	Commit2(offset, length uint64) error

	// Merge folds a duplicate handle's share reservations into this one.
	// The server calls it when two lookups resolved to the same object.
	Merge(duplicate ObjectHandle) error
}

// ExportHandle is the per-mount contract exposed to the protocol server.
type ExportHandle interface {
	// Root returns the export's root object handle, owned by the export.
	Root() ObjectHandle

	// LookupPath resolves a slash-separated path from the export root.
	LookupPath(path string) (ObjectHandle, error)

	// DecodeHandle revalidates a client-presented wire handle.
	DecodeHandle(wire []byte) (ObjectHandle, error)

	// DynamicInfo returns filesystem usage counters.
	DynamicInfo() (*DynamicInfo, error)

	// Capabilities returns the export's static limits and feature flags.
	Capabilities() Capabilities

	// Unmount detaches the export: root handle first, then the filesystem.
	Unmount() error
}
