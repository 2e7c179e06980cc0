package badger

import (
	"context"
	"errors"
	"syscall"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/mjmac/daosnfs/pkg/content"
	"github.com/mjmac/daosnfs/pkg/daosfs"
)

// nodeHandle is one acquired reference to a BadgerDB-backed node.
type nodeHandle struct {
	fs    *FileSystem
	ptr   daosfs.NodePtr
	key   daosfs.NodeKey
	freed bool
}

var _ daosfs.NodeHandle = (*nodeHandle)(nil)

func contentID(key daosfs.NodeKey) content.ID {
	return content.ID(key.String())
}

func (h *nodeHandle) ctx() context.Context {
	return context.Background()
}

func (h *nodeHandle) Ptr() daosfs.NodePtr {
	return h.ptr
}

func (h *nodeHandle) Key() daosfs.NodeKey {
	return h.key
}

// record fetches this handle's node record inside the transaction. A node
// removed under a live handle reports ESTALE.
func (h *nodeHandle) record(txn *badger.Txn) (*nodeRecord, error) {
	if h.freed {
		return nil, daosfs.ErrBadF
	}
	return h.fs.loadRecord(txn, h.ptr)
}

// childPtr resolves a name inside the transaction.
func (h *nodeHandle) childPtr(txn *badger.Txn, name string) (daosfs.NodePtr, error) {
	item, err := txn.Get(keyChild(h.ptr, name))
	if err == badger.ErrKeyNotFound {
		return 0, daosfs.ErrNoEnt
	}
	if err != nil {
		return 0, daosfs.ErrIO
	}
	var ptr daosfs.NodePtr
	err = item.Value(func(val []byte) error {
		ptr = decodePtr(val)
		return nil
	})
	if err != nil {
		return 0, daosfs.ErrIO
	}
	return ptr, nil
}

func (h *nodeHandle) Lookup(name string) (daosfs.NodeHandle, error) {
	if len(name) > maxNameLen {
		return nil, daosfs.ErrNameTooLong
	}

	var ptr daosfs.NodePtr
	var key daosfs.NodeKey
	err := h.fs.db.View(func(txn *badger.Txn) error {
		dir, err := h.record(txn)
		if err != nil {
			return err
		}
		if daosfs.FileType(dir.Type) != daosfs.FileTypeDirectory {
			return daosfs.ErrNotDir
		}
		ptr, err = h.childPtr(txn, name)
		if err != nil {
			return err
		}
		child, err := h.fs.loadRecord(txn, ptr)
		if err != nil {
			return err
		}
		key = child.nodeKey()
		return nil
	})
	if err != nil {
		return nil, err
	}

	h.fs.mu.Lock()
	h.fs.handles[ptr]++
	h.fs.mu.Unlock()
	return &nodeHandle{fs: h.fs, ptr: ptr, key: key}, nil
}

func (h *nodeHandle) GetAttr() (*daosfs.Stat, error) {
	var st daosfs.Stat
	err := h.fs.db.View(func(txn *badger.Txn) error {
		r, err := h.record(txn)
		if err != nil {
			return err
		}
		st = r.stat(h.fs.meta.Dev)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &st, nil
}

func (h *nodeHandle) SetAttr(st *daosfs.Stat, mask daosfs.SetAttrMask) error {
	return h.fs.db.Update(func(txn *badger.Txn) error {
		r, err := h.record(txn)
		if err != nil {
			return err
		}

		upd := *r
		if mask&daosfs.SetAttrMode != 0 {
			upd.Mode = st.Mode & 0o7777
		}
		if mask&daosfs.SetAttrUID != 0 {
			upd.UID = st.UID
		}
		if mask&daosfs.SetAttrGID != 0 {
			upd.GID = st.GID
		}
		if mask&daosfs.SetAttrAtime != 0 {
			upd.Atime = st.Atime
		}
		if mask&daosfs.SetAttrMtime != 0 {
			upd.Mtime = st.Mtime
		}
		if mask&daosfs.SetAttrCtime != 0 {
			upd.Ctime = st.Ctime
		} else if mask != 0 {
			upd.Ctime = time.Now()
		}
		return h.fs.storeRecord(txn, h.ptr, &upd)
	})
}

func (h *nodeHandle) Truncate(size uint64) error {
	return h.fs.db.Update(func(txn *badger.Txn) error {
		r, err := h.record(txn)
		if err != nil {
			return err
		}
		if daosfs.FileType(r.Type) == daosfs.FileTypeDirectory {
			return daosfs.ErrIsDir
		}
		if daosfs.FileType(r.Type) != daosfs.FileTypeRegular {
			return daosfs.ErrInval
		}

		if err := h.fs.content.Truncate(h.ctx(), contentID(r.nodeKey()), int64(size)); err != nil {
			return daosfs.ErrIO
		}

		upd := *r
		now := time.Now()
		upd.Size = size
		upd.Mtime = now
		upd.Ctime = now
		return h.fs.storeRecord(txn, h.ptr, &upd)
	})
}

func (h *nodeHandle) Create(name string, st *daosfs.Stat, flags int) (daosfs.NodeHandle, error) {
	if len(name) > maxNameLen {
		return nil, daosfs.ErrNameTooLong
	}
	if name == "" {
		return nil, daosfs.ErrInval
	}

	var ptr daosfs.NodePtr
	var key daosfs.NodeKey

	h.fs.mu.Lock()
	defer h.fs.mu.Unlock()

	err := h.fs.db.Update(func(txn *badger.Txn) error {
		dir, err := h.record(txn)
		if err != nil {
			return err
		}
		if daosfs.FileType(dir.Type) != daosfs.FileTypeDirectory {
			return daosfs.ErrNotDir
		}

		existingPtr, err := h.childPtr(txn, name)
		if err == nil {
			if flags&syscall.O_EXCL != 0 {
				return daosfs.ErrExist
			}
			existing, err := h.fs.loadRecord(txn, existingPtr)
			if err != nil {
				return err
			}
			if daosfs.FileType(existing.Type) == daosfs.FileTypeDirectory {
				return daosfs.ErrIsDir
			}
			if flags&syscall.O_TRUNC != 0 {
				if err := h.fs.content.Truncate(h.ctx(), contentID(existing.nodeKey()), 0); err != nil {
					return daosfs.ErrIO
				}
				upd := *existing
				now := time.Now()
				upd.Size = 0
				upd.Mtime = now
				upd.Ctime = now
				if err := h.fs.storeRecord(txn, existingPtr, &upd); err != nil {
					return err
				}
				existing = &upd
			}
			ptr = existingPtr
			key = existing.nodeKey()
			return nil
		}
		if err != daosfs.ErrNoEnt {
			return err
		}

		ino := h.fs.meta.NextIno
		newPtr := daosfs.NodePtr(h.fs.meta.NextPtr)
		h.fs.meta.NextIno++
		h.fs.meta.NextPtr++

		child := newRecord(daosfs.FileTypeRegular, st.Mode&0o7777, st.UID, st.GID, ino)
		if !st.Atime.IsZero() {
			child.Atime = st.Atime
		}
		if !st.Mtime.IsZero() {
			child.Mtime = st.Mtime
		}
		if err := h.fs.storeRecord(txn, newPtr, child); err != nil {
			return err
		}
		if err := txn.Set(keyNodeKey(child.nodeKey()), encodePtr(newPtr)); err != nil {
			return daosfs.ErrIO
		}
		if err := txn.Set(keyChild(h.ptr, name), encodePtr(newPtr)); err != nil {
			return daosfs.ErrIO
		}

		upd := *dir
		now := time.Now()
		upd.Mtime = now
		upd.Ctime = now
		if err := h.fs.storeRecord(txn, h.ptr, &upd); err != nil {
			return err
		}
		if err := h.fs.saveMeta(txn); err != nil {
			return daosfs.ErrIO
		}

		ptr = newPtr
		key = child.nodeKey()
		return nil
	})
	if err != nil {
		return nil, err
	}

	h.fs.handles[ptr]++
	return &nodeHandle{fs: h.fs, ptr: ptr, key: key}, nil
}

func (h *nodeHandle) Mkdir(name string, st *daosfs.Stat) (daosfs.NodeHandle, error) {
	if len(name) > maxNameLen {
		return nil, daosfs.ErrNameTooLong
	}
	if name == "" {
		return nil, daosfs.ErrInval
	}

	var ptr daosfs.NodePtr
	var key daosfs.NodeKey

	h.fs.mu.Lock()
	defer h.fs.mu.Unlock()

	err := h.fs.db.Update(func(txn *badger.Txn) error {
		dir, err := h.record(txn)
		if err != nil {
			return err
		}
		if daosfs.FileType(dir.Type) != daosfs.FileTypeDirectory {
			return daosfs.ErrNotDir
		}
		if _, err := h.childPtr(txn, name); err == nil {
			return daosfs.ErrExist
		} else if err != daosfs.ErrNoEnt {
			return err
		}

		ino := h.fs.meta.NextIno
		newPtr := daosfs.NodePtr(h.fs.meta.NextPtr)
		h.fs.meta.NextIno++
		h.fs.meta.NextPtr++

		child := newRecord(daosfs.FileTypeDirectory, st.Mode&0o7777, st.UID, st.GID, ino)
		if err := h.fs.storeRecord(txn, newPtr, child); err != nil {
			return err
		}
		if err := txn.Set(keyNodeKey(child.nodeKey()), encodePtr(newPtr)); err != nil {
			return daosfs.ErrIO
		}
		if err := txn.Set(keyChild(h.ptr, name), encodePtr(newPtr)); err != nil {
			return daosfs.ErrIO
		}

		upd := *dir
		now := time.Now()
		upd.Nlink++
		upd.Mtime = now
		upd.Ctime = now
		if err := h.fs.storeRecord(txn, h.ptr, &upd); err != nil {
			return err
		}
		if err := h.fs.saveMeta(txn); err != nil {
			return daosfs.ErrIO
		}

		ptr = newPtr
		key = child.nodeKey()
		return nil
	})
	if err != nil {
		return nil, err
	}

	h.fs.handles[ptr]++
	return &nodeHandle{fs: h.fs, ptr: ptr, key: key}, nil
}

func (h *nodeHandle) Unlink(name string) error {
	var removedKey daosfs.NodeKey
	var removedRegular bool

	err := h.fs.db.Update(func(txn *badger.Txn) error {
		dir, err := h.record(txn)
		if err != nil {
			return err
		}
		if daosfs.FileType(dir.Type) != daosfs.FileTypeDirectory {
			return daosfs.ErrNotDir
		}

		childPtr, err := h.childPtr(txn, name)
		if err != nil {
			return err
		}
		child, err := h.fs.loadRecord(txn, childPtr)
		if err != nil {
			return err
		}

		upd := *dir
		if daosfs.FileType(child.Type) == daosfs.FileTypeDirectory {
			empty, err := h.fs.dirEmpty(txn, childPtr)
			if err != nil {
				return err
			}
			if !empty {
				return daosfs.ErrNotEmpty
			}
			upd.Nlink--
		}

		if err := txn.Delete(keyChild(h.ptr, name)); err != nil {
			return daosfs.ErrIO
		}
		if err := txn.Delete(keyNode(childPtr)); err != nil {
			return daosfs.ErrIO
		}
		if err := txn.Delete(keyNodeKey(child.nodeKey())); err != nil {
			return daosfs.ErrIO
		}
		h.fs.attrCache.Remove(childPtr)

		now := time.Now()
		upd.Mtime = now
		upd.Ctime = now
		if err := h.fs.storeRecord(txn, h.ptr, &upd); err != nil {
			return err
		}

		removedKey = child.nodeKey()
		removedRegular = daosfs.FileType(child.Type) == daosfs.FileTypeRegular
		return nil
	})
	if err != nil {
		return err
	}

	if removedRegular {
		// Best effort; the name is already gone.
		_ = h.fs.content.Delete(h.ctx(), contentID(removedKey))
	}
	return nil
}

// dirEmpty reports whether the directory at ptr has no children.
func (fs *FileSystem) dirEmpty(txn *badger.Txn, ptr daosfs.NodePtr) (bool, error) {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = keyChildPrefix(ptr)
	opts.PrefetchValues = false
	it := txn.NewIterator(opts)
	defer it.Close()

	it.Rewind()
	return !it.Valid(), nil
}

func (h *nodeHandle) Open(flags int) error {
	var t daosfs.FileType
	err := h.fs.db.View(func(txn *badger.Txn) error {
		r, err := h.record(txn)
		if err != nil {
			return err
		}
		t = daosfs.FileType(r.Type)
		return nil
	})
	if err != nil {
		return err
	}
	if t == daosfs.FileTypeDirectory {
		return daosfs.ErrIsDir
	}

	h.fs.mu.Lock()
	defer h.fs.mu.Unlock()
	if h.fs.open[h.ptr] {
		// One open per node, regardless of which handle holds it.
		return daosfs.ErrBusy
	}
	h.fs.open[h.ptr] = true
	h.fs.openFl[h.ptr] = flags
	return nil
}

func (h *nodeHandle) Close() error {
	h.fs.mu.Lock()
	defer h.fs.mu.Unlock()

	if h.freed {
		return daosfs.ErrBadF
	}
	if !h.fs.open[h.ptr] {
		return daosfs.ErrBadF
	}
	delete(h.fs.open, h.ptr)
	delete(h.fs.openFl, h.ptr)
	return nil
}

func (h *nodeHandle) Read(offset uint64, buf []byte) (int, error) {
	var size uint64
	var key daosfs.NodeKey
	err := h.fs.db.View(func(txn *badger.Txn) error {
		r, err := h.record(txn)
		if err != nil {
			return err
		}
		if daosfs.FileType(r.Type) == daosfs.FileTypeDirectory {
			return daosfs.ErrIsDir
		}
		size = r.Size
		key = r.nodeKey()
		return nil
	})
	if err != nil {
		return 0, err
	}

	if offset >= size {
		return 0, nil
	}

	n, err := h.fs.content.ReadAt(h.ctx(), contentID(key), buf, int64(offset))
	if err != nil {
		if errors.Is(err, content.ErrNotFound) {
			return 0, nil
		}
		return 0, daosfs.ErrIO
	}
	return n, nil
}

func (h *nodeHandle) Write(offset uint64, data []byte) (int, error) {
	err := h.fs.db.Update(func(txn *badger.Txn) error {
		r, err := h.record(txn)
		if err != nil {
			return err
		}
		if daosfs.FileType(r.Type) == daosfs.FileTypeDirectory {
			return daosfs.ErrIsDir
		}
		if daosfs.FileType(r.Type) != daosfs.FileTypeRegular {
			return daosfs.ErrInval
		}

		if err := h.fs.content.WriteAt(h.ctx(), contentID(r.nodeKey()), data, int64(offset)); err != nil {
			return daosfs.ErrIO
		}

		upd := *r
		now := time.Now()
		if end := offset + uint64(len(data)); end > upd.Size {
			upd.Size = end
		}
		upd.Mtime = now
		upd.Ctime = now
		return h.fs.storeRecord(txn, h.ptr, &upd)
	})
	if err != nil {
		return 0, err
	}
	return len(data), nil
}

func (h *nodeHandle) Commit(offset uint64, length uint64) error {
	var key daosfs.NodeKey
	err := h.fs.db.View(func(txn *badger.Txn) error {
		r, err := h.record(txn)
		if err != nil {
			return err
		}
		key = r.nodeKey()
		return nil
	})
	if err != nil {
		return err
	}

	if err := h.fs.content.Flush(h.ctx(), contentID(key)); err != nil {
		return daosfs.ErrIO
	}
	return nil
}

func (h *nodeHandle) ReadDir(cursor uint64, cb daosfs.ReadDirFunc) (uint64, bool, error) {
	var names []string
	err := h.fs.db.View(func(txn *badger.Txn) error {
		dir, err := h.record(txn)
		if err != nil {
			return err
		}
		if daosfs.FileType(dir.Type) != daosfs.FileTypeDirectory {
			return daosfs.ErrNotDir
		}

		prefix := keyChildPrefix(h.ptr)
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			names = append(names, string(it.Item().Key()[len(prefix):]))
		}
		return nil
	})
	if err != nil {
		return cursor, false, err
	}

	// Cookies are 1-based entry indexes over the key-ordered listing; the
	// cursor is the cookie of the last entry delivered.
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
	if n := h.fs.handles[h.ptr]; n > 1 {
		h.fs.handles[h.ptr] = n - 1
	} else {
		delete(h.fs.handles, h.ptr)
	}
}
