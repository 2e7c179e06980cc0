package fsal

import (
	"sync"

	"github.com/mjmac/daosnfs/internal/logger"
	"github.com/mjmac/daosnfs/pkg/daosfs"
)

// Handle is the adapter's representation of one filesystem object. It wraps
// a storage-library node handle and carries the share-reservation state that
// the storage library has no concept of.
//
// The node handle is exclusively owned by the Handle, with one exception:
// a Handle wrapping the export's root node shares the Export's node handle
// and must never release it.
type Handle struct {
	export *Export

	// node is the storage-library handle this object operates through.
	node daosfs.NodeHandle

	// key, objType, fileID and fsID are derived once at construction and
	// immutable afterwards.
	key     daosfs.NodeKey
	objType ObjectType
	fileID  uint64
	fsID    uint64

	// isRoot marks a Handle wrapping the export root's node handle, which
	// is owned by the Export rather than this Handle.
	isRoot bool

	// mu is the object lock. It guards share, openFlags, storageOpen and
	// released. Blocking storage calls are made with the lock dropped;
	// only check-then-update bookkeeping sequences hold it.
	mu sync.Mutex

	share       shareState
	openFlags   OpenFlags
	storageOpen bool
	released    bool
}

var _ ObjectHandle = (*Handle)(nil)

// newHandle wraps the node at ptr in a fresh Handle. The node handle is
// acquired here and owned by the returned Handle; on any failure nothing is
// installed and the storage reference is given back.
func newHandle(export *Export, ptr daosfs.NodePtr, st *daosfs.Stat) (*Handle, error) {
	node, err := export.fs.GetNodeHandle(ptr)
	if err != nil {
		return nil, statusFromErr(err)
	}
	h := wrapNode(export, node, st)
	export.handleCreated()
	return h, nil
}

// wrapNode builds a Handle around an already-acquired node handle. Callers
// transfer ownership of node to the Handle.
func wrapNode(export *Export, node daosfs.NodeHandle, st *daosfs.Stat) *Handle {
	return &Handle{
		export:  export,
		node:    node,
		key:     node.Key(),
		objType: objectTypeOf(st.Type),
		fileID:  st.Ino,
		fsID:    st.Dev,
	}
}

// Export returns the export this handle belongs to.
func (h *Handle) Export() ExportHandle {
	return h.export
}

// Type returns the filesystem object type derived at construction.
func (h *Handle) Type() ObjectType {
	return h.objType
}

// FileID returns the numeric object id (inode number).
func (h *Handle) FileID() uint64 {
	return h.fileID
}

// FSID returns the filesystem id the object belongs to.
func (h *Handle) FSID() uint64 {
	return h.fsID
}

// Release frees the underlying node handle. The server calls this exactly
// once when the last reference to the object goes away; the released guard
// makes an accidental second call a no-op instead of a double free.
//
// The export root's node handle is owned by the Export and survives
// releases of Handles that wrap it.
func (h *Handle) Release() {
	h.mu.Lock()
	if h.released {
		h.mu.Unlock()
		logger.Warn("fsal: duplicate release of handle %s ignored", h.key)
		return
	}
	if !h.share.isEmpty() {
		// The server retired the object with reservations still counted.
		// Releasing the node handle now is still required, but the state
		// bug upstream is worth a trace.
		logger.Warn("fsal: releasing handle %s with active share reservations", h.key)
	}
	h.released = true
	root := h.isRoot
	h.mu.Unlock()

	if !root {
		h.node.Free()
	}
	h.export.handleReleased()
}
