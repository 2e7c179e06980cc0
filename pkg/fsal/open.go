package fsal

import (
	"encoding/binary"
	"syscall"
	"time"

	"github.com/mjmac/daosnfs/internal/logger"
	"github.com/mjmac/daosnfs/pkg/daosfs"
)

// posixOpenFlags converts access bits to the storage library's open flags.
func posixOpenFlags(f OpenFlags) int {
	var p int
	switch f & OpenReadWrite {
	case OpenReadWrite:
		p = syscall.O_RDWR
	case OpenWrite:
		p = syscall.O_WRONLY
	default:
		p = syscall.O_RDONLY
	}
	if f&OpenSync != 0 {
		p |= syscall.O_SYNC
	}
	return p
}

// verifierTimes maps an exclusive-create verifier onto the atime/mtime pair
// it is stored in.
func verifierTimes(v Verifier) (atime, mtime time.Time) {
	hi := int64(binary.BigEndian.Uint32(v[0:4]))
	lo := int64(binary.BigEndian.Uint32(v[4:8]))
	return time.Unix(hi, 0), time.Unix(lo, 0)
}

// verifierMatches reports whether the object carries the verifier, meaning
// an exclusive create hitting EEXIST is a retransmit of the create that
// built the object.
func verifierMatches(v Verifier, st *daosfs.Stat) bool {
	atime, mtime := verifierTimes(v)
	return st.Atime.Unix() == atime.Unix() && st.Mtime.Unix() == mtime.Unix()
}

// Open2 opens this object (empty name) or a named child, optionally
// creating it. Returns the object actually opened when it differs from the
// receiver, its attributes, and whether the caller must still perform its
// own permission check (false when this call created the object, since
// creation implies the caller had permission to create).
func (h *Handle) Open2(state *OpenState, flags OpenFlags, mode CreateMode, name string,
	setattrs *Attributes, verifier Verifier) (ObjectHandle, *Attributes, bool, error) {

	if name == "" {
		attrs, err := h.openByHandle(state, flags, mode, verifier)
		return nil, attrs, true, err
	}

	if mode == NoCreate {
		return h.openExisting(state, flags, name)
	}
	return h.openCreate(state, flags, mode, name, setattrs, verifier)
}

// openByHandle is the open protocol for an object whose identity is already
// known: take the object lock, check share compatibility, reserve the
// counters, drop the lock, then perform the blocking storage open. A failed
// storage open undoes the reservation so no orphaned share state survives.
//
// Only share-bearing state types contribute counters; a stateless open
// (state nil, or a non-share state type) takes no reservation, exactly
// mirroring what Close2 later gives back.
func (h *Handle) openByHandle(state *OpenState, flags OpenFlags, mode CreateMode, verifier Verifier) (*Attributes, error) {
	start := time.Now()
	logger.Debug("fsal: open %s flags=%s", h.key, flags)

	reserve := state != nil && state.Type.shareBearing()

	h.mu.Lock()
	if reserve {
		if err := checkShareConflict(&h.share, flags, false); err != nil {
			h.mu.Unlock()
			h.export.metrics.RecordShareDenied("open")
			h.observe("open", start, err)
			return nil, err
		}
		updateShareCounters(&h.share, OpenClosed, flags)
	}
	needOpen := !h.storageOpen
	needUpgrade := h.storageOpen && flags&^h.openFlags&OpenReadWrite != 0
	current := h.openFlags
	h.mu.Unlock()

	if err := h.ensureStorageOpen(needOpen, needUpgrade, flags, current); err != nil {
		// Compensate: the reservation must not survive a failed open.
		if reserve {
			h.mu.Lock()
			updateShareCounters(&h.share, flags, OpenClosed)
			h.mu.Unlock()
		}
		h.observe("open", start, err)
		return nil, err
	}

	if state != nil {
		state.Flags = flags
	}

	st, err := h.node.GetAttr()
	if err != nil {
		// The open stands; only attribute retrieval failed.
		status := statusFromErr(err)
		h.observe("open", start, status)
		return nil, status
	}

	// An exclusive create that resolved by handle still has to prove it
	// built this object: a verifier mismatch means the retransmit targets
	// somebody else's file.
	if (mode == Exclusive || mode == Exclusive41) && !verifierMatches(verifier, st) {
		status := Status{Code: CodeExist, Minor: int(syscall.EEXIST)}
		h.undoOpen(state, flags, reserve)
		h.observe("open", start, status)
		return nil, status
	}

	h.observe("open", start, nil)
	return attributesFromStat(st), nil
}

// undoOpen backs out an open that was granted and then invalidated: the
// reservation goes back, the state forgets its flags, and the storage-layer
// open closes again if no reservation still needs the node open.
func (h *Handle) undoOpen(state *OpenState, flags OpenFlags, reserve bool) {
	h.mu.Lock()
	if reserve {
		updateShareCounters(&h.share, flags, OpenClosed)
	}
	if state != nil {
		state.Flags = OpenClosed
	}
	closeStorage := h.storageOpen && h.share.isEmpty()
	if closeStorage {
		h.storageOpen = false
		h.openFlags = OpenClosed
	}
	h.mu.Unlock()

	if closeStorage {
		if err := h.node.Close(); err != nil {
			logger.Warn("fsal: could not close %s while backing out an open: %v", h.key, err)
		}
	}
}

// ensureStorageOpen makes the storage-layer open match what the logical
// opens need. The storage library allows one open per node, so an access
// upgrade is a close followed by a re-open with the union of modes.
// Called without the object lock held; the storage calls may block.
func (h *Handle) ensureStorageOpen(needOpen, needUpgrade bool, flags, current OpenFlags) error {
	switch {
	case needOpen:
		if err := h.node.Open(posixOpenFlags(flags)); err != nil {
			return statusFromErr(err)
		}
		h.mu.Lock()
		h.storageOpen = true
		h.openFlags = flags & OpenReadWrite
		h.mu.Unlock()
		return nil

	case needUpgrade:
		union := (current | flags) & OpenReadWrite
		if err := h.node.Close(); err != nil {
			return statusFromErr(err)
		}
		if err := h.node.Open(posixOpenFlags(union)); err != nil {
			// The node is now closed; record that so the next open
			// attempt starts clean.
			h.mu.Lock()
			h.storageOpen = false
			h.openFlags = OpenClosed
			h.mu.Unlock()
			return statusFromErr(err)
		}
		h.mu.Lock()
		h.openFlags = union
		h.mu.Unlock()
		return nil
	}
	return nil
}

// openExisting resolves name and opens the child by handle. On open failure
// the freshly constructed child is released before the error propagates.
func (h *Handle) openExisting(state *OpenState, flags OpenFlags, name string) (ObjectHandle, *Attributes, bool, error) {
	obj, _, err := h.Lookup(name)
	if err != nil {
		return nil, nil, true, err
	}

	child := obj.(*Handle)
	attrs, err := child.openByHandle(state, flags, NoCreate, Verifier{})
	if err != nil {
		child.Release()
		return nil, nil, true, err
	}
	return child, attrs, true, nil
}

// openCreate is the open-with-create path. Identity is unknown until the
// create resolves, so no share check happens first; a handle that turns out
// to duplicate an existing object is reconciled later via Merge.
func (h *Handle) openCreate(state *OpenState, flags OpenFlags, mode CreateMode, name string,
	setattrs *Attributes, verifier Verifier) (ObjectHandle, *Attributes, bool, error) {

	start := time.Now()
	logger.Debug("fsal: open-create %q in %s mode=%s flags=%s", name, h.key, mode, flags)

	st := createStat(h.export, setattrs)
	if (mode == Exclusive || mode == Exclusive41) && !verifier.IsZero() {
		st.Atime, st.Mtime = verifierTimes(verifier)
	}

	// Exclusivity is requested for the guarded and exclusive modes, and
	// also for UNCHECKED when attributes ride along: attributes may only
	// be applied to an object this call created. An UNCHECKED create that
	// then races an existing object retries without O_EXCL and drops the
	// attribute application.
	posix := syscall.O_CREAT
	if mode != Unchecked || (setattrs != nil && setattrs.Mask != 0) {
		posix |= syscall.O_EXCL
	}
	if flags.Writing() && mode == Unchecked {
		posix |= syscall.O_TRUNC
	}

	node, err := h.node.Create(name, &st, posix)
	if err != nil && daosfs.ErrnoValue(err) == -int(syscall.EEXIST) {
		switch mode {
		case Unchecked:
			// The target appeared between our check and create; UNCHECKED
			// tolerates the race, so retry without exclusivity.
			posix &^= syscall.O_EXCL
			node, err = h.node.Create(name, &st, posix)
		case Exclusive, Exclusive41:
			node, err = h.verifyExclusiveRetry(name, verifier)
			if err == nil {
				posix &^= syscall.O_EXCL // opened existing, not created
			}
		}
	}
	if err != nil {
		status := statusFromErr(err)
		h.observe("open", start, status)
		return nil, nil, true, status
	}

	created := posix&syscall.O_EXCL != 0

	outStat, err := node.GetAttr()
	if err != nil {
		node.Free()
		status := statusFromErr(err)
		h.observe("open", start, status)
		return nil, nil, true, status
	}

	child := wrapNode(h.export, node, outStat)
	h.export.handleCreated()

	// Create has already settled the exclusivity question, so the open
	// itself runs without a verifier recheck.
	attrs, err := child.openByHandle(state, flags, NoCreate, Verifier{})
	if err != nil {
		child.Release()
		h.observe("open", start, err)
		return nil, nil, true, err
	}

	// User-supplied attributes beyond the creation mode are applied after
	// the open. If that fails the open is torn down and the created name
	// removed; leaving it would hand the client an object that ignores
	// its requested attributes.
	if created && setattrs != nil && setattrs.Mask&(AttrSize|AttrAtimeServer|AttrMtimeServer) != 0 {
		if err := child.Setattr2(true, state, setattrs); err != nil {
			_ = child.Close2(state)
			child.Release()
			if unlinkErr := h.node.Unlink(name); unlinkErr != nil {
				logger.Warn("fsal: could not remove %q after failed post-create setattr: %v", name, unlinkErr)
			}
			h.observe("open", start, err)
			return nil, nil, true, err
		}
		if refreshed, err := child.node.GetAttr(); err == nil {
			attrs = attributesFromStat(refreshed)
		}
	}

	h.observe("open", start, nil)
	return child, attrs, !created, nil
}

// verifyExclusiveRetry handles EEXIST on an exclusive create: if the
// existing object carries our verifier, this request is a retransmit of
// the create that already succeeded and the object is opened idempotently.
func (h *Handle) verifyExclusiveRetry(name string, verifier Verifier) (daosfs.NodeHandle, error) {
	node, err := h.node.Lookup(name)
	if err != nil {
		return nil, err
	}
	st, err := node.GetAttr()
	if err != nil {
		node.Free()
		return nil, err
	}
	if !verifierMatches(verifier, st) {
		node.Free()
		return nil, daosfs.ErrExist
	}
	return node, nil
}

// Reopen2 changes the access/deny mode of an existing open. The new mode is
// validated against the reservations of the other holders only: this open's
// previous contribution is taken out before the check and restored if the
// check or the storage open fails.
func (h *Handle) Reopen2(state *OpenState, flags OpenFlags) error {
	start := time.Now()
	logger.Debug("fsal: reopen %s %s -> %s", h.key, state.Flags, flags)

	reserve := state.Type.shareBearing()
	old := state.Flags

	h.mu.Lock()
	if reserve {
		updateShareCounters(&h.share, old, OpenClosed)
		if err := checkShareConflict(&h.share, flags, false); err != nil {
			updateShareCounters(&h.share, OpenClosed, old)
			h.mu.Unlock()
			h.export.metrics.RecordShareDenied("reopen")
			h.observe("reopen", start, err)
			return err
		}
		updateShareCounters(&h.share, OpenClosed, flags)
	}
	needOpen := !h.storageOpen
	needUpgrade := h.storageOpen && flags&^h.openFlags&OpenReadWrite != 0
	current := h.openFlags
	h.mu.Unlock()

	if err := h.ensureStorageOpen(needOpen, needUpgrade, flags, current); err != nil {
		if reserve {
			h.mu.Lock()
			updateShareCounters(&h.share, flags, old)
			h.mu.Unlock()
		}
		h.observe("reopen", start, err)
		return err
	}

	state.Flags = flags
	h.observe("reopen", start, nil)
	return nil
}

// Status2 reports the mode the state currently holds.
func (h *Handle) Status2(state *OpenState) OpenFlags {
	if state == nil {
		h.mu.Lock()
		defer h.mu.Unlock()
		return h.openFlags
	}
	return state.Flags
}

// Close2 closes the open associated with state. Share-bearing state types
// give their reservation back first; the storage-layer close happens only
// when the last reservation is gone, since one storage open serves all
// logical opens.
func (h *Handle) Close2(state *OpenState) error {
	start := time.Now()
	logger.Debug("fsal: close %s", h.key)

	h.mu.Lock()
	if state != nil && state.Type.shareBearing() && state.Flags != OpenClosed {
		updateShareCounters(&h.share, state.Flags, OpenClosed)
		state.Flags = OpenClosed
	}
	closeStorage := h.storageOpen && h.share.isEmpty()
	if closeStorage {
		h.storageOpen = false
		h.openFlags = OpenClosed
	} else if !h.storageOpen {
		h.mu.Unlock()
		status := Status{Code: CodeNotOpened}
		h.observe("close", start, status)
		return status
	}
	h.mu.Unlock()

	if closeStorage {
		if err := h.node.Close(); err != nil {
			status := statusFromErr(err)
			h.observe("close", start, status)
			return status
		}
	}

	h.observe("close", start, nil)
	return nil
}

// Merge folds a duplicate handle's reservations into this one. The server
// calls it when a by-name open constructed a second Handle for a node that
// already has one; the duplicate's share intent either combines with the
// original's or the open is denied.
//
// The server serializes Merge against other opens of the same object pair,
// so taking both locks here cannot deadlock against a mirrored call.
func (h *Handle) Merge(duplicate ObjectHandle) error {
	d, ok := duplicate.(*Handle)
	if !ok || d == h {
		return nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.share.accessRead > 0 && h.share.denyRead > 0 {
		return Status{Code: CodeShareDenied, Message: "merge: read access vs deny-read"}
	}
	if d.share.accessWrite > 0 && (h.share.denyWrite > 0 || h.share.denyWriteMand > 0) {
		return Status{Code: CodeShareDenied, Message: "merge: write access vs deny-write"}
	}
	if d.share.denyRead > 0 && h.share.accessRead > 0 {
		return Status{Code: CodeShareDenied, Message: "merge: deny-read vs read access"}
	}
	if (d.share.denyWrite > 0 || d.share.denyWriteMand > 0) && h.share.accessWrite > 0 {
		return Status{Code: CodeShareDenied, Message: "merge: deny-write vs write access"}
	}

	h.share.accessRead += d.share.accessRead
	h.share.accessWrite += d.share.accessWrite
	h.share.denyRead += d.share.denyRead
	h.share.denyWrite += d.share.denyWrite
	h.share.denyWriteMand += d.share.denyWriteMand
	d.share = shareState{}

	// Both handles reference the same node, so at most one of them holds
	// the storage-layer open; the original takes it over.
	if d.storageOpen {
		h.storageOpen = true
		h.openFlags |= d.openFlags
		d.storageOpen = false
		d.openFlags = OpenClosed
	}
	return nil
}
