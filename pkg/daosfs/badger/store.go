// Package badger implements the daosfs storage contract on top of BadgerDB,
// providing a persistent backend whose node keys (and therefore wire
// handles) survive server restarts.
//
// Node metadata lives in BadgerDB under namespaced keys (see keys.go);
// regular-file data goes through a pkg/content store. Open state is
// deliberately kept in memory only: a storage-layer open does not outlive
// the process that made it.
package badger

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/mjmac/daosnfs/pkg/content"
	"github.com/mjmac/daosnfs/pkg/daosfs"
	"github.com/mjmac/daosnfs/pkg/metrics"
)

const maxNameLen = 255

// defaultAttrCacheSize bounds the per-filesystem node attribute cache.
const defaultAttrCacheSize = 4096

// Config controls where and how the BadgerDB backend stores its data.
type Config struct {
	// Dir is the root directory for databases. Each (pool, container) pair
	// gets its own database under Dir/<pool>/<container>.
	Dir string `mapstructure:"dir" validate:"required"`

	// AttrCacheSize is the number of node records cached in memory per
	// filesystem. Zero selects the default.
	AttrCacheSize int `mapstructure:"attr_cache_size"`

	// BlockCacheSizeMB is BadgerDB's block cache size in MB (default 64).
	BlockCacheSizeMB int64 `mapstructure:"block_cache_size_mb"`
}

// Connector opens BadgerDB-backed filesystems. It hands out the same
// *FileSystem for repeated opens of the same (pool, container) pair so that
// the one-open-per-node rule holds across exports.
type Connector struct {
	cfg     Config
	content content.Store
	metrics metrics.StorageMetrics

	mu  sync.Mutex
	fss map[string]*FileSystem
}

var _ daosfs.Connector = (*Connector)(nil)

// NewConnector creates a connector storing databases under cfg.Dir and file
// contents in the given content store.
func NewConnector(cfg Config, contentStore content.Store, m metrics.StorageMetrics) *Connector {
	if m == nil {
		m = metrics.NopStorageMetrics{}
	}
	return &Connector{
		cfg:     cfg,
		content: contentStore,
		metrics: m,
		fss:     make(map[string]*FileSystem),
	}
}

// OpenFileSystem opens (creating if needed) the database for the container.
// serverGroup is accepted for interface compatibility and ignored; it has no
// meaning for a local embedded database.
func (c *Connector) OpenFileSystem(serverGroup, pool, container string) (daosfs.FileSystem, error) {
	if pool == "" || container == "" {
		return nil, daosfs.ErrInval
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	id := pool + "/" + container
	if fs, ok := c.fss[id]; ok {
		fs.refs++
		return fs, nil
	}

	opts := badger.DefaultOptions(filepath.Join(c.cfg.Dir, pool, container))
	opts = opts.WithLoggingLevel(badger.WARNING)
	opts = opts.WithCompression(options.None)
	blockCacheMB := c.cfg.BlockCacheSizeMB
	if blockCacheMB == 0 {
		blockCacheMB = 64
	}
	opts = opts.WithBlockCacheSize(blockCacheMB << 20)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB for %s: %w", id, err)
	}

	cacheSize := c.cfg.AttrCacheSize
	if cacheSize <= 0 {
		cacheSize = defaultAttrCacheSize
	}
	attrCache, err := lru.New[daosfs.NodePtr, *nodeRecord](cacheSize)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create attribute cache: %w", err)
	}

	fs := &FileSystem{
		connector: c,
		id:        id,
		db:        db,
		content:   c.content,
		metrics:   c.metrics,
		attrCache: attrCache,
		open:      make(map[daosfs.NodePtr]bool),
		handles:   make(map[daosfs.NodePtr]int),
		refs:      1,
	}
	if err := fs.initialize(); err != nil {
		_ = db.Close()
		return nil, err
	}

	c.fss[id] = fs
	return fs, nil
}

// Close closes every filesystem still open through this connector.
func (c *Connector) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var firstErr error
	for id, fs := range c.fss {
		if err := fs.db.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to close database %s: %w", id, err)
		}
		delete(c.fss, id)
	}
	return firstErr
}

// fsRecord is the singleton meta record tracking allocation state. It is
// rewritten on every allocation inside the same transaction that consumes
// the allocated values, so the counters never run backwards.
type fsRecord struct {
	RootPtr uint64 `json:"root_ptr"`
	NextPtr uint64 `json:"next_ptr"`
	NextIno uint64 `json:"next_ino"`
	Dev     uint64 `json:"dev"`
}

// nodeRecord is the persistent form of a node's identity and attributes.
type nodeRecord struct {
	Key  []byte    `json:"key"`
	Type int       `json:"type"`
	Mode uint32    `json:"mode"`
	UID  uint32    `json:"uid"`
	GID  uint32    `json:"gid"`

	Nlink uint32 `json:"nlink"`
	Ino   uint64 `json:"ino"`
	Size  uint64 `json:"size"`

	Atime time.Time `json:"atime"`
	Mtime time.Time `json:"mtime"`
	Ctime time.Time `json:"ctime"`
}

func (r *nodeRecord) nodeKey() daosfs.NodeKey {
	var nk daosfs.NodeKey
	copy(nk[:], r.Key)
	return nk
}

func (r *nodeRecord) stat(dev uint64) daosfs.Stat {
	st := daosfs.Stat{
		Type:  daosfs.FileType(r.Type),
		Mode:  r.Mode,
		UID:   r.UID,
		GID:   r.GID,
		Nlink: r.Nlink,
		Ino:   r.Ino,
		Dev:   dev,
		Size:  r.Size,
		Atime: r.Atime,
		Mtime: r.Mtime,
		Ctime: r.Ctime,
	}
	st.SpaceUsed = st.Size
	return st
}

func encodeNodeRecord(r *nodeRecord) ([]byte, error) {
	return json.Marshal(r)
}

func decodeNodeRecord(b []byte) (*nodeRecord, error) {
	var r nodeRecord
	if err := json.Unmarshal(b, &r); err != nil {
		return nil, fmt.Errorf("failed to decode node record: %w", err)
	}
	return &r, nil
}

// FileSystem is a BadgerDB-backed daosfs.FileSystem.
//
// All metadata mutations run as BadgerDB transactions; the mutex only
// protects the in-memory open/handle tracking and allocation of the meta
// record.
type FileSystem struct {
	connector *Connector
	id        string
	db        *badger.DB
	content   content.Store
	metrics   metrics.StorageMetrics

	attrCache *lru.Cache[daosfs.NodePtr, *nodeRecord]

	mu      sync.Mutex
	meta    fsRecord
	open    map[daosfs.NodePtr]bool
	openFl  map[daosfs.NodePtr]int
	handles map[daosfs.NodePtr]int
	refs    int
}

var _ daosfs.FileSystem = (*FileSystem)(nil)

// initialize loads the meta record, creating it (and the root directory) on
// first open of a fresh database.
func (fs *FileSystem) initialize() error {
	fs.openFl = make(map[daosfs.NodePtr]int)

	return fs.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keyFsMeta))
		if err == nil {
			return item.Value(func(val []byte) error {
				return json.Unmarshal(val, &fs.meta)
			})
		}
		if err != badger.ErrKeyNotFound {
			return fmt.Errorf("failed to load filesystem meta: %w", err)
		}

		// Fresh database: allocate a device number and the root directory.
		devUUID := uuid.New()
		fs.meta = fsRecord{
			RootPtr: 1,
			NextPtr: 2,
			NextIno: 2,
			Dev:     binary.BigEndian.Uint64(devUUID[:8]),
		}

		root := newRecord(daosfs.FileTypeDirectory, 0o755, 0, 0, 1)
		rootBytes, err := encodeNodeRecord(root)
		if err != nil {
			return err
		}
		if err := txn.Set(keyNode(1), rootBytes); err != nil {
			return fmt.Errorf("failed to store root node: %w", err)
		}
		if err := txn.Set(keyNodeKey(root.nodeKey()), encodePtr(1)); err != nil {
			return fmt.Errorf("failed to index root key: %w", err)
		}
		return fs.saveMeta(txn)
	})
}

// newRecord builds a node record with a fresh durable key. The object id
// halves come from a random UUID; the low quadword of the key is the inode
// number, matching the wire-handle layout.
func newRecord(t daosfs.FileType, mode, uid, gid uint32, ino uint64) *nodeRecord {
	id := uuid.New()
	nk := daosfs.MakeNodeKey(
		binary.BigEndian.Uint64(id[:8]),
		binary.BigEndian.Uint64(id[8:16]),
		ino,
	)

	now := time.Now()
	nlink := uint32(1)
	if t == daosfs.FileTypeDirectory {
		nlink = 2
	}
	return &nodeRecord{
		Key:   nk[:],
		Type:  int(t),
		Mode:  mode,
		UID:   uid,
		GID:   gid,
		Nlink: nlink,
		Ino:   ino,
		Atime: now,
		Mtime: now,
		Ctime: now,
	}
}

func (fs *FileSystem) saveMeta(txn *badger.Txn) error {
	b, err := json.Marshal(&fs.meta)
	if err != nil {
		return err
	}
	if err := txn.Set([]byte(keyFsMeta), b); err != nil {
		return fmt.Errorf("failed to store filesystem meta: %w", err)
	}
	return nil
}

// loadRecord fetches a node record, serving from the attribute cache when
// possible. Callers that mutate the record must go through storeRecord so
// the cache stays coherent.
func (fs *FileSystem) loadRecord(txn *badger.Txn, ptr daosfs.NodePtr) (*nodeRecord, error) {
	if r, ok := fs.attrCache.Get(ptr); ok {
		fs.metrics.CacheHit("node_attr")
		return r, nil
	}
	fs.metrics.CacheMiss("node_attr")

	item, err := txn.Get(keyNode(ptr))
	if err == badger.ErrKeyNotFound {
		return nil, daosfs.ErrStale
	}
	if err != nil {
		return nil, daosfs.ErrIO
	}

	var r *nodeRecord
	err = item.Value(func(val []byte) error {
		r, err = decodeNodeRecord(val)
		return err
	})
	if err != nil {
		return nil, daosfs.ErrIO
	}
	fs.attrCache.Add(ptr, r)
	return r, nil
}

func (fs *FileSystem) storeRecord(txn *badger.Txn, ptr daosfs.NodePtr, r *nodeRecord) error {
	b, err := encodeNodeRecord(r)
	if err != nil {
		return daosfs.ErrIO
	}
	if err := txn.Set(keyNode(ptr), b); err != nil {
		return daosfs.ErrIO
	}
	fs.attrCache.Add(ptr, r)
	return nil
}

func (fs *FileSystem) RootPtr() daosfs.NodePtr {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return daosfs.NodePtr(fs.meta.RootPtr)
}

func (fs *FileSystem) GetNodeHandle(ptr daosfs.NodePtr) (daosfs.NodeHandle, error) {
	var key daosfs.NodeKey
	err := fs.db.View(func(txn *badger.Txn) error {
		r, err := fs.loadRecord(txn, ptr)
		if err != nil {
			if err == daosfs.ErrStale {
				return daosfs.ErrNoEnt
			}
			return err
		}
		key = r.nodeKey()
		return nil
	})
	if err != nil {
		return nil, err
	}

	fs.mu.Lock()
	fs.handles[ptr]++
	fs.mu.Unlock()
	return &nodeHandle{fs: fs, ptr: ptr, key: key}, nil
}

func (fs *FileSystem) LookupHandle(key daosfs.NodeKey) (daosfs.NodeHandle, error) {
	var ptr daosfs.NodePtr
	err := fs.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(keyNodeKey(key))
		if err == badger.ErrKeyNotFound {
			return daosfs.ErrNoEnt
		}
		if err != nil {
			return daosfs.ErrIO
		}
		return item.Value(func(val []byte) error {
			ptr = decodePtr(val)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	fs.mu.Lock()
	fs.handles[ptr]++
	fs.mu.Unlock()
	return &nodeHandle{fs: fs, ptr: ptr, key: key}, nil
}

// StatFs reports filesystem-wide usage. Capacity figures come from the node
// and inode allocation counters; BadgerDB itself is bounded only by disk.
func (fs *FileSystem) StatFs() (*daosfs.FsStat, error) {
	var used uint64
	err := fs.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefixNode)
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			used++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	const frSize = 4096
	const totalBlocks = uint64(1) << 30
	const totalFiles = uint64(1) << 24

	st := &daosfs.FsStat{
		FrSize: frSize,
		Blocks: totalBlocks,
		Bfree:  totalBlocks,
		Bavail: totalBlocks,
		Files:  totalFiles,
		Ffree:  totalFiles - used,
		Favail: totalFiles - used,
	}
	return st, nil
}

// Close drops one reference; the database closes when the last filesystem
// reference from the connector goes away.
func (fs *FileSystem) Close() error {
	fs.connector.mu.Lock()
	defer fs.connector.mu.Unlock()

	fs.mu.Lock()
	fs.refs--
	done := fs.refs <= 0
	fs.mu.Unlock()

	if !done {
		return nil
	}
	delete(fs.connector.fss, fs.id)
	if err := fs.db.Close(); err != nil {
		return fmt.Errorf("failed to close BadgerDB: %w", err)
	}
	return nil
}
