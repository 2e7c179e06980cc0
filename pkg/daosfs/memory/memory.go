// Package memory implements the daosfs contract in process memory.
//
// Nodes live in a map keyed by node pointer; durable node keys map back to
// pointers so wire handles survive as long as the process does. Regular-file
// bytes are kept in a pkg/content store, which may itself be memory- or
// S3-backed. The backend enforces the two load-bearing rules of the
// contract: every failure is an Errno, and a node admits at most one
// concurrent open.
//
// Intended for tests and development; pkg/daosfs/badger is the persistent
// backend.
package memory

import (
	"context"
	"encoding/binary"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mjmac/daosnfs/pkg/content"
	"github.com/mjmac/daosnfs/pkg/daosfs"
)

const maxNameLen = 255

// Connector hands out in-memory filesystems, one per (pool, container)
// pair. Re-opening the same pair returns the same filesystem, which mirrors
// how a real pool behaves across export attach/detach cycles.
type Connector struct {
	mu      sync.Mutex
	content content.Store
	fss     map[string]*FileSystem
	nextDev uint64
}

// NewConnector creates a connector whose filesystems store file data in the
// given content store.
func NewConnector(store content.Store) *Connector {
	return &Connector{
		content: store,
		fss:     make(map[string]*FileSystem),
		nextDev: 1,
	}
}

var _ daosfs.Connector = (*Connector)(nil)

func (c *Connector) OpenFileSystem(serverGroup, pool, container string) (daosfs.FileSystem, error) {
	if pool == "" || container == "" {
		return nil, daosfs.ErrInval
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	id := pool + "/" + container
	if fs, ok := c.fss[id]; ok {
		return fs, nil
	}

	fs := newFileSystem(c.content, c.nextDev)
	c.nextDev++
	c.fss[id] = fs
	return fs, nil
}

func (c *Connector) Close() error {
	return nil
}

// node is the in-memory representation of one filesystem object.
type node struct {
	key      daosfs.NodeKey
	stat     daosfs.Stat
	children map[string]daosfs.NodePtr // directories only

	// open tracks the storage-layer exclusive open.
	open      bool
	openFlags int

	// handles counts outstanding node handles, for leak diagnostics.
	handles int
}

// FileSystem implements daosfs.FileSystem.
type FileSystem struct {
	mu      sync.RWMutex
	nodes   map[daosfs.NodePtr]*node
	keys    map[daosfs.NodeKey]daosfs.NodePtr
	nextPtr daosfs.NodePtr
	nextIno uint64
	rootPtr daosfs.NodePtr
	dev     uint64
	content content.Store
}

var _ daosfs.FileSystem = (*FileSystem)(nil)

func newFileSystem(store content.Store, dev uint64) *FileSystem {
	fs := &FileSystem{
		nodes:   make(map[daosfs.NodePtr]*node),
		keys:    make(map[daosfs.NodeKey]daosfs.NodePtr),
		nextPtr: 1,
		nextIno: 1,
		dev:     dev,
		content: store,
	}

	root := fs.newNode(daosfs.FileTypeDirectory, 0755, 0, 0)
	root.children = make(map[string]daosfs.NodePtr)
	fs.rootPtr = fs.insert(root)
	return fs
}

// newNode allocates a node with a fresh durable key. The object id halves
// come from a random UUID; the inode number is sequential.
func (fs *FileSystem) newNode(t daosfs.FileType, mode, uid, gid uint32) *node {
	u := uuid.New()
	hi := binary.BigEndian.Uint64(u[0:8])
	lo := binary.BigEndian.Uint64(u[8:16])
	ino := fs.nextIno
	fs.nextIno++

	now := time.Now()
	n := &node{
		key: daosfs.MakeNodeKey(hi, lo, ino),
		stat: daosfs.Stat{
			Type:  t,
			Mode:  mode,
			UID:   uid,
			GID:   gid,
			Nlink: 1,
			Ino:   ino,
			Dev:   fs.dev,
			Atime: now,
			Mtime: now,
			Ctime: now,
		},
	}
	if t == daosfs.FileTypeDirectory {
		n.stat.Nlink = 2
		n.children = make(map[string]daosfs.NodePtr)
	}
	return n
}

func (fs *FileSystem) insert(n *node) daosfs.NodePtr {
	ptr := fs.nextPtr
	fs.nextPtr++
	fs.nodes[ptr] = n
	fs.keys[n.key] = ptr
	return ptr
}

func (fs *FileSystem) RootPtr() daosfs.NodePtr {
	return fs.rootPtr
}

func (fs *FileSystem) GetNodeHandle(ptr daosfs.NodePtr) (daosfs.NodeHandle, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	n, ok := fs.nodes[ptr]
	if !ok {
		return nil, daosfs.ErrNoEnt
	}
	n.handles++
	return &nodeHandle{fs: fs, ptr: ptr, key: n.key}, nil
}

func (fs *FileSystem) LookupHandle(key daosfs.NodeKey) (daosfs.NodeHandle, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	ptr, ok := fs.keys[key]
	if !ok {
		return nil, daosfs.ErrNoEnt
	}
	fs.nodes[ptr].handles++
	return &nodeHandle{fs: fs, ptr: ptr, key: key}, nil
}

func (fs *FileSystem) StatFs() (*daosfs.FsStat, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	var used uint64
	for _, n := range fs.nodes {
		used += n.stat.Size
	}

	const frSize = 4096
	const totalBlocks = 1 << 30
	usedBlocks := (used + frSize - 1) / frSize

	return &daosfs.FsStat{
		FrSize: frSize,
		Blocks: totalBlocks,
		Bfree:  totalBlocks - usedBlocks,
		Bavail: totalBlocks - usedBlocks,
		Files:  1 << 24,
		Ffree:  1<<24 - uint64(len(fs.nodes)),
		Favail: 1<<24 - uint64(len(fs.nodes)),
	}, nil
}

func (fs *FileSystem) Close() error {
	return nil
}

// contentID derives the content-store object name from a node's durable key.
func contentID(key daosfs.NodeKey) content.ID {
	return content.ID(key.String())
}

// ctx returns the context used for content-store calls. The daosfs contract
// is synchronous with no cancellation, so this is always Background.
func (fs *FileSystem) ctx() context.Context {
	return context.Background()
}

// sortedNames returns a directory's entries in enumeration order.
func sortedNames(n *node) []string {
	names := make([]string, 0, len(n.children))
	for name := range n.children {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
