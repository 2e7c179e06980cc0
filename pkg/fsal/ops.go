package fsal

import (
	"syscall"
	"time"

	"github.com/mjmac/daosnfs/internal/logger"
	"github.com/mjmac/daosnfs/pkg/daosfs"
)

// observe records one completed operation in the export's metrics.
func (h *Handle) observe(op string, start time.Time, err error) {
	h.export.metrics.ObserveOperation(op, StatusCode(err), time.Since(start))
}

// Lookup resolves a name in this directory to a new object handle. On any
// failure nothing is constructed; the caller never sees a half-built
// handle.
func (h *Handle) Lookup(name string) (ObjectHandle, *Attributes, error) {
	start := time.Now()
	logger.Debug("fsal: lookup %q in %s", name, h.key)

	node, err := h.node.Lookup(name)
	if err != nil {
		status := statusFromErr(err)
		h.observe("lookup", start, status)
		return nil, nil, status
	}

	st, err := node.GetAttr()
	if err != nil {
		node.Free()
		status := statusFromErr(err)
		h.observe("lookup", start, status)
		return nil, nil, status
	}

	obj := wrapNode(h.export, node, st)
	h.export.handleCreated()
	h.observe("lookup", start, nil)
	return obj, attributesFromStat(st), nil
}

// Create creates a regular file in this directory without opening it. The
// requested mode is masked by the export's umask.
func (h *Handle) Create(name string, attrs *Attributes) (ObjectHandle, *Attributes, error) {
	start := time.Now()
	logger.Debug("fsal: create %q in %s", name, h.key)

	st := createStat(h.export, attrs)
	node, err := h.node.Create(name, &st, syscall.O_CREAT)
	if err != nil {
		status := statusFromErr(err)
		h.observe("create", start, status)
		return nil, nil, status
	}

	outStat, err := node.GetAttr()
	if err != nil {
		// The object was created; surface the stat failure without
		// rolling the creation back.
		node.Free()
		status := statusFromErr(err)
		h.observe("create", start, status)
		return nil, nil, status
	}

	obj := wrapNode(h.export, node, outStat)
	h.export.handleCreated()
	h.observe("create", start, nil)
	return obj, attributesFromStat(outStat), nil
}

// Mkdir creates a directory in this directory.
func (h *Handle) Mkdir(name string, attrs *Attributes) (ObjectHandle, *Attributes, error) {
	start := time.Now()
	logger.Debug("fsal: mkdir %q in %s", name, h.key)

	st := createStat(h.export, attrs)
	node, err := h.node.Mkdir(name, &st)
	if err != nil {
		status := statusFromErr(err)
		h.observe("mkdir", start, status)
		return nil, nil, status
	}

	outStat, err := node.GetAttr()
	if err != nil {
		node.Free()
		status := statusFromErr(err)
		h.observe("mkdir", start, status)
		return nil, nil, status
	}

	obj := wrapNode(h.export, node, outStat)
	h.export.handleCreated()
	h.observe("mkdir", start, nil)
	return obj, attributesFromStat(outStat), nil
}

// createStat builds the initial attributes for a creating operation from
// the caller's request, applying the export umask.
func createStat(e *Export, attrs *Attributes) daosfs.Stat {
	var st daosfs.Stat
	if attrs == nil {
		st.Mode = e.applyUmask(0o644)
		return st
	}
	if attrs.Mask&AttrMode != 0 {
		st.Mode = e.applyUmask(attrs.Mode & 0o7777)
	} else {
		st.Mode = e.applyUmask(0o644)
	}
	if attrs.Mask&AttrOwner != 0 {
		st.UID = attrs.Owner
	}
	if attrs.Mask&AttrGroup != 0 {
		st.GID = attrs.Group
	}
	if attrs.Mask&AttrAtime != 0 {
		st.Atime = attrs.Atime
	}
	if attrs.Mask&AttrMtime != 0 {
		st.Mtime = attrs.Mtime
	}
	return st
}

// Unlink removes the named entry. Share state is not consulted; the storage
// library is the authority on whether removal of an open node is allowed.
func (h *Handle) Unlink(name string) error {
	start := time.Now()
	logger.Debug("fsal: unlink %q in %s", name, h.key)

	status := statusFromErr(h.node.Unlink(name))
	h.observe("unlink", start, status)
	return status
}

// Rename is not supported by the storage library binding. The operation
// surfaces not-supported rather than pretending to succeed.
func (h *Handle) Rename(newDir ObjectHandle, oldName, newName string) error {
	return statusf(CodeNotSupported, "rename %q -> %q not supported", oldName, newName)
}

// ReadDir enumerates directory entries starting at cursor. Attributes for
// each entry are fetched with a per-entry lookup, released before the next
// entry is delivered.
func (h *Handle) ReadDir(cursor uint64, cb ReadDirCallback) (bool, error) {
	start := time.Now()
	logger.Debug("fsal: readdir %s from cursor %d", h.key, cursor)

	var cbErr error
	_, eof, err := h.node.ReadDir(cursor, func(name string, cookie uint64) bool {
		child, err := h.node.Lookup(name)
		if err != nil {
			// Entry raced with an unlink; skip it rather than failing
			// the whole enumeration.
			logger.Debug("fsal: readdir skipping %q: %v", name, err)
			return true
		}
		st, err := child.GetAttr()
		child.Free()
		if err != nil {
			cbErr = statusFromErr(err)
			return false
		}
		return cb(name, attributesFromStat(st), cookie)
	})

	if cbErr != nil {
		h.observe("readdir", start, cbErr)
		return false, cbErr
	}
	status := statusFromErr(err)
	h.observe("readdir", start, status)
	if status != nil {
		return false, status
	}
	return eof, nil
}

// Getattrs returns the object's current attributes.
func (h *Handle) Getattrs() (*Attributes, error) {
	start := time.Now()

	st, err := h.node.GetAttr()
	if err != nil {
		status := statusFromErr(err)
		h.observe("getattrs", start, status)
		return nil, status
	}
	h.observe("getattrs", start, nil)
	return attributesFromStat(st), nil
}

// Setattr2 applies the attributes selected by attrs.Mask. Requests naming
// attributes outside the settable set are rejected outright. A size change
// is a truncation: the target must be a regular file and the caller must
// hold (or be granted synthetically) write access compatible with existing
// share reservations, unless bypass is set.
func (h *Handle) Setattr2(bypass bool, state *OpenState, attrs *Attributes) error {
	start := time.Now()
	logger.Debug("fsal: setattr %s mask=%#x", h.key, attrs.Mask)

	if attrs.Mask&^attrsSettable != 0 {
		status := statusf(CodeInval, "attributes %#x not settable", attrs.Mask&^attrsSettable)
		h.observe("setattr", start, status)
		return status
	}

	if attrs.Mask&AttrSize != 0 {
		if h.objType != TypeRegular {
			status := statusf(CodeInval, "size change on non-regular object")
			h.observe("setattr", start, status)
			return status
		}

		// Truncation is a write; it must clear the same share gate an
		// open for write would.
		h.mu.Lock()
		err := checkShareConflict(&h.share, OpenWrite, bypass)
		h.mu.Unlock()
		if err != nil {
			h.export.metrics.RecordShareDenied("setattr")
			h.observe("setattr", start, err)
			return err
		}

		if err := h.node.Truncate(attrs.Size); err != nil {
			status := statusFromErr(err)
			h.observe("setattr", start, status)
			return status
		}
	}

	st, mask := setAttrArgs(h.export, attrs)
	if mask != 0 {
		if err := h.node.SetAttr(&st, mask); err != nil {
			status := statusFromErr(err)
			h.observe("setattr", start, status)
			return status
		}
	}

	h.observe("setattr", start, nil)
	return nil
}
