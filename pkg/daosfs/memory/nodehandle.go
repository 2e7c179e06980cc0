package memory

import (
	"errors"
	"syscall"
	"time"

	"github.com/mjmac/daosnfs/pkg/content"
	"github.com/mjmac/daosnfs/pkg/daosfs"
)

// nodeHandle is one acquired reference to a node. All state lives on the
// FileSystem; the handle just pins the (ptr, key) pair and a freed guard.
type nodeHandle struct {
	fs    *FileSystem
	ptr   daosfs.NodePtr
	key   daosfs.NodeKey
	freed bool
}

var _ daosfs.NodeHandle = (*nodeHandle)(nil)

func (h *nodeHandle) Ptr() daosfs.NodePtr {
	return h.ptr
}

func (h *nodeHandle) Key() daosfs.NodeKey {
	return h.key
}

// locked fetches the node for this handle; fs.mu must be held. A node can
// disappear under a live handle when another client unlinks it, in which
// case operations report ESTALE.
func (h *nodeHandle) locked() (*node, error) {
	if h.freed {
		return nil, daosfs.ErrBadF
	}
	n, ok := h.fs.nodes[h.ptr]
	if !ok {
		return nil, daosfs.ErrStale
	}
	return n, nil
}

func (h *nodeHandle) Lookup(name string) (daosfs.NodeHandle, error) {
	if len(name) > maxNameLen {
		return nil, daosfs.ErrNameTooLong
	}

	h.fs.mu.Lock()
	defer h.fs.mu.Unlock()

	n, err := h.locked()
	if err != nil {
		return nil, err
	}
	if n.stat.Type != daosfs.FileTypeDirectory {
		return nil, daosfs.ErrNotDir
	}
	childPtr, ok := n.children[name]
	if !ok {
		return nil, daosfs.ErrNoEnt
	}

	child := h.fs.nodes[childPtr]
	child.handles++
	return &nodeHandle{fs: h.fs, ptr: childPtr, key: child.key}, nil
}

func (h *nodeHandle) GetAttr() (*daosfs.Stat, error) {
	h.fs.mu.RLock()
	defer h.fs.mu.RUnlock()

	if h.freed {
		return nil, daosfs.ErrBadF
	}
	n, ok := h.fs.nodes[h.ptr]
	if !ok {
		return nil, daosfs.ErrStale
	}

	st := n.stat
	if n.stat.Type == daosfs.FileTypeDirectory {
		// Nominal directory size: entries plus "." and "..".
		st.Size = uint64(len(n.children)+2) * 32
	}
	st.SpaceUsed = st.Size
	return &st, nil
}

func (h *nodeHandle) SetAttr(st *daosfs.Stat, mask daosfs.SetAttrMask) error {
	h.fs.mu.Lock()
	defer h.fs.mu.Unlock()

	n, err := h.locked()
	if err != nil {
		return err
	}

	if mask&daosfs.SetAttrMode != 0 {
		n.stat.Mode = st.Mode & 0o7777
	}
	if mask&daosfs.SetAttrUID != 0 {
		n.stat.UID = st.UID
	}
	if mask&daosfs.SetAttrGID != 0 {
		n.stat.GID = st.GID
	}
	if mask&daosfs.SetAttrAtime != 0 {
		n.stat.Atime = st.Atime
	}
	if mask&daosfs.SetAttrMtime != 0 {
		n.stat.Mtime = st.Mtime
	}
	if mask&daosfs.SetAttrCtime != 0 {
		n.stat.Ctime = st.Ctime
	} else if mask != 0 {
		n.stat.Ctime = time.Now()
	}
	return nil
}

func (h *nodeHandle) Truncate(size uint64) error {
	h.fs.mu.Lock()
	defer h.fs.mu.Unlock()

	n, err := h.locked()
	if err != nil {
		return err
	}
	if n.stat.Type == daosfs.FileTypeDirectory {
		return daosfs.ErrIsDir
	}
	if n.stat.Type != daosfs.FileTypeRegular {
		return daosfs.ErrInval
	}

	if err := h.fs.content.Truncate(h.fs.ctx(), contentID(n.key), int64(size)); err != nil {
		return daosfs.ErrIO
	}

	now := time.Now()
	n.stat.Size = size
	n.stat.Mtime = now
	n.stat.Ctime = now
	return nil
}

func (h *nodeHandle) Create(name string, st *daosfs.Stat, flags int) (daosfs.NodeHandle, error) {
	if len(name) > maxNameLen {
		return nil, daosfs.ErrNameTooLong
	}
	if name == "" {
		return nil, daosfs.ErrInval
	}

	h.fs.mu.Lock()
	defer h.fs.mu.Unlock()

	dir, err := h.locked()
	if err != nil {
		return nil, err
	}
	if dir.stat.Type != daosfs.FileTypeDirectory {
		return nil, daosfs.ErrNotDir
	}

	if existingPtr, ok := dir.children[name]; ok {
		if flags&syscall.O_EXCL != 0 {
			return nil, daosfs.ErrExist
		}
		existing := h.fs.nodes[existingPtr]
		if existing.stat.Type == daosfs.FileTypeDirectory {
			return nil, daosfs.ErrIsDir
		}
		if flags&syscall.O_TRUNC != 0 {
			if err := h.fs.content.Truncate(h.fs.ctx(), contentID(existing.key), 0); err != nil {
				return nil, daosfs.ErrIO
			}
			now := time.Now()
			existing.stat.Size = 0
			existing.stat.Mtime = now
			existing.stat.Ctime = now
		}
		existing.handles++
		return &nodeHandle{fs: h.fs, ptr: existingPtr, key: existing.key}, nil
	}

	child := h.fs.newNode(daosfs.FileTypeRegular, st.Mode&0o7777, st.UID, st.GID)
	if !st.Atime.IsZero() {
		child.stat.Atime = st.Atime
	}
	if !st.Mtime.IsZero() {
		child.stat.Mtime = st.Mtime
	}
	childPtr := h.fs.insert(child)
	dir.children[name] = childPtr

	now := time.Now()
	dir.stat.Mtime = now
	dir.stat.Ctime = now

	child.handles++
	return &nodeHandle{fs: h.fs, ptr: childPtr, key: child.key}, nil
}

func (h *nodeHandle) Mkdir(name string, st *daosfs.Stat) (daosfs.NodeHandle, error) {
	if len(name) > maxNameLen {
		return nil, daosfs.ErrNameTooLong
	}
	if name == "" {
		return nil, daosfs.ErrInval
	}

	h.fs.mu.Lock()
	defer h.fs.mu.Unlock()

	dir, err := h.locked()
	if err != nil {
		return nil, err
	}
	if dir.stat.Type != daosfs.FileTypeDirectory {
		return nil, daosfs.ErrNotDir
	}
	if _, ok := dir.children[name]; ok {
		return nil, daosfs.ErrExist
	}

	child := h.fs.newNode(daosfs.FileTypeDirectory, st.Mode&0o7777, st.UID, st.GID)
	childPtr := h.fs.insert(child)
	dir.children[name] = childPtr
	dir.stat.Nlink++

	now := time.Now()
	dir.stat.Mtime = now
	dir.stat.Ctime = now

	child.handles++
	return &nodeHandle{fs: h.fs, ptr: childPtr, key: child.key}, nil
}

func (h *nodeHandle) Unlink(name string) error {
	h.fs.mu.Lock()
	defer h.fs.mu.Unlock()

	dir, err := h.locked()
	if err != nil {
		return err
	}
	if dir.stat.Type != daosfs.FileTypeDirectory {
		return daosfs.ErrNotDir
	}
	childPtr, ok := dir.children[name]
	if !ok {
		return daosfs.ErrNoEnt
	}

	child := h.fs.nodes[childPtr]
	if child.stat.Type == daosfs.FileTypeDirectory {
		if len(child.children) != 0 {
			return daosfs.ErrNotEmpty
		}
		dir.stat.Nlink--
	}

	delete(dir.children, name)
	delete(h.fs.nodes, childPtr)
	delete(h.fs.keys, child.key)

	if child.stat.Type == daosfs.FileTypeRegular {
		// Best effort; the name is already gone.
		_ = h.fs.content.Delete(h.fs.ctx(), contentID(child.key))
	}

	now := time.Now()
	dir.stat.Mtime = now
	dir.stat.Ctime = now
	return nil
}

func (h *nodeHandle) Open(flags int) error {
	h.fs.mu.Lock()
	defer h.fs.mu.Unlock()

	n, err := h.locked()
	if err != nil {
		return err
	}
	if n.stat.Type == daosfs.FileTypeDirectory {
		return daosfs.ErrIsDir
	}
	if n.open {
		// One open per node, regardless of which handle holds it.
		return daosfs.ErrBusy
	}
	n.open = true
	n.openFlags = flags
	return nil
}

func (h *nodeHandle) Close() error {
	h.fs.mu.Lock()
	defer h.fs.mu.Unlock()

	n, err := h.locked()
	if err != nil {
		return err
	}
	if !n.open {
		return daosfs.ErrBadF
	}
	n.open = false
	n.openFlags = 0
	return nil
}

func (h *nodeHandle) Read(offset uint64, buf []byte) (int, error) {
	h.fs.mu.RLock()
	if h.freed {
		h.fs.mu.RUnlock()
		return 0, daosfs.ErrBadF
	}
	n, ok := h.fs.nodes[h.ptr]
	if !ok {
		h.fs.mu.RUnlock()
		return 0, daosfs.ErrStale
	}
	if n.stat.Type == daosfs.FileTypeDirectory {
		h.fs.mu.RUnlock()
		return 0, daosfs.ErrIsDir
	}
	id := contentID(n.key)
	size := n.stat.Size
	h.fs.mu.RUnlock()

	if offset >= size {
		return 0, nil
	}

	nread, err := h.fs.content.ReadAt(h.fs.ctx(), id, buf, int64(offset))
	if err != nil {
		if errors.Is(err, content.ErrNotFound) {
			// No bytes written yet; the file is logically all zeros up
			// to size, but an empty object reads as EOF.
			return 0, nil
		}
		return 0, daosfs.ErrIO
	}
	return nread, nil
}

func (h *nodeHandle) Write(offset uint64, data []byte) (int, error) {
	h.fs.mu.Lock()
	defer h.fs.mu.Unlock()

	n, err := h.locked()
	if err != nil {
		return 0, err
	}
	if n.stat.Type == daosfs.FileTypeDirectory {
		return 0, daosfs.ErrIsDir
	}
	if n.stat.Type != daosfs.FileTypeRegular {
		return 0, daosfs.ErrInval
	}

	if err := h.fs.content.WriteAt(h.fs.ctx(), contentID(n.key), data, int64(offset)); err != nil {
		return 0, daosfs.ErrIO
	}

	now := time.Now()
	if end := offset + uint64(len(data)); end > n.stat.Size {
		n.stat.Size = end
	}
	n.stat.Mtime = now
	n.stat.Ctime = now
	return len(data), nil
}

func (h *nodeHandle) Commit(offset uint64, length uint64) error {
	h.fs.mu.RLock()
	if h.freed {
		h.fs.mu.RUnlock()
		return daosfs.ErrBadF
	}
	n, ok := h.fs.nodes[h.ptr]
	if !ok {
		h.fs.mu.RUnlock()
		return daosfs.ErrStale
	}
	id := contentID(n.key)
	h.fs.mu.RUnlock()

	if err := h.fs.content.Flush(h.fs.ctx(), id); err != nil {
		return daosfs.ErrIO
	}
	return nil
}

func (h *nodeHandle) ReadDir(cursor uint64, cb daosfs.ReadDirFunc) (uint64, bool, error) {
	h.fs.mu.RLock()
	if h.freed {
		h.fs.mu.RUnlock()
		return cursor, false, daosfs.ErrBadF
	}
	n, ok := h.fs.nodes[h.ptr]
	if !ok {
		h.fs.mu.RUnlock()
		return cursor, false, daosfs.ErrStale
	}
	if n.stat.Type != daosfs.FileTypeDirectory {
		h.fs.mu.RUnlock()
		return cursor, false, daosfs.ErrNotDir
	}
	names := sortedNames(n)
	h.fs.mu.RUnlock()

	// Cookies are 1-based entry indexes; the cursor is the cookie of the
	// last entry delivered.
	for i := int(cursor); i < len(names); i++ {
		cookie := uint64(i + 1)
		if !cb(names[i], cookie) {
			return cookie, false, nil
		}
		cursor = cookie
	}
	return cursor, true, nil
}

func (h *nodeHandle) Free() {
	h.fs.mu.Lock()
	defer h.fs.mu.Unlock()

	if h.freed {
		return
	}
	h.freed = true
	if n, ok := h.fs.nodes[h.ptr]; ok && n.handles > 0 {
		n.handles--
	}
}
