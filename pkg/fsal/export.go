package fsal

import (
	"strings"
	"sync/atomic"

	"github.com/mjmac/daosnfs/internal/logger"
	"github.com/mjmac/daosnfs/pkg/daosfs"
	"github.com/mjmac/daosnfs/pkg/metrics"
)

// Default export limits, matching the storage library's preferred transfer
// geometry.
const (
	defaultMaxRead    = 0x400000 // 4 MiB
	defaultMaxWrite   = 0x400000 // 4 MiB
	defaultLeaseTime  = 300      // seconds
	defaultMaxNameLen = 1024
	defaultMaxPathLen = 1024
)

// Capabilities are the static limits and feature flags of an export.
type Capabilities struct {
	MaxRead    uint64
	MaxWrite   uint64
	MaxNameLen uint32
	MaxPathLen uint32

	// LeaseTimeSeconds is the NFSv4 lease interval advertised for this
	// filesystem.
	LeaseTimeSeconds uint32

	// RenameChangesKey records that a rename may reassign the durable node
	// key. Carried from the storage library's capability surface; with
	// rename unimplemented it is advisory only.
	RenameChangesKey bool

	SupportsHardLinks bool
	SupportsSymlinks  bool
}

// DynamicInfo is the statfs-shaped usage snapshot of an export.
type DynamicInfo struct {
	TotalBytes uint64
	FreeBytes  uint64
	AvailBytes uint64
	TotalFiles uint64
	FreeFiles  uint64
	AvailFiles uint64
}

// ExportConfig carries the per-export parameters, validated by the config
// layer before reaching this package.
type ExportConfig struct {
	// Name identifies the export in logs and metrics.
	Name string

	// ServerGroup is the storage service group, optional.
	ServerGroup string

	// Pool and Container identify the filesystem container, both mandatory
	// and at most 36 characters (UUID text form).
	Pool      string
	Container string

	// Umask is applied to the mode of every object created through this
	// export.
	Umask uint32
}

// Export is one mounted filesystem instance. It owns the storage filesystem
// reference, the root object handle, and the immutable identifiers it was
// mounted with.
type Export struct {
	session *daosfs.Session
	fs      daosfs.FileSystem
	root    *Handle

	name        string
	serverGroup string
	pool        string
	container   string
	umask       uint32

	caps    Capabilities
	metrics metrics.OperationMetrics

	liveHandles atomic.Int64
	unmounted   atomic.Bool
}

var _ ExportHandle = (*Export)(nil)

// Mount opens the export's filesystem container through the session and
// constructs the root handle. The root's node handle is owned by the Export
// for the lifetime of the mount.
func Mount(session *daosfs.Session, cfg ExportConfig, m metrics.OperationMetrics) (*Export, error) {
	if m == nil {
		m = metrics.NopOperationMetrics{}
	}

	fs, err := session.Open(cfg.ServerGroup, cfg.Pool, cfg.Container)
	if err != nil {
		return nil, statusFromErr(err)
	}

	e := &Export{
		session:     session,
		fs:          fs,
		name:        cfg.Name,
		serverGroup: cfg.ServerGroup,
		pool:        cfg.Pool,
		container:   cfg.Container,
		umask:       cfg.Umask,
		caps: Capabilities{
			MaxRead:          defaultMaxRead,
			MaxWrite:         defaultMaxWrite,
			MaxNameLen:       defaultMaxNameLen,
			MaxPathLen:       defaultMaxPathLen,
			LeaseTimeSeconds: defaultLeaseTime,
			RenameChangesKey: true,
		},
		metrics: m,
	}

	rootNode, err := fs.GetNodeHandle(fs.RootPtr())
	if err != nil {
		_ = fs.Close()
		return nil, statusFromErr(err)
	}
	st, err := rootNode.GetAttr()
	if err != nil {
		rootNode.Free()
		_ = fs.Close()
		return nil, statusFromErr(err)
	}

	e.root = wrapNode(e, rootNode, st)
	e.root.isRoot = true
	e.handleCreated()

	logger.Info("fsal: mounted export %q (pool=%s container=%s)", e.name, e.pool, e.container)
	return e, nil
}

// Root returns the export's root object handle. The Export owns it; the
// server must not Release it.
func (e *Export) Root() ObjectHandle {
	return e.root
}

// Name returns the export's configured name.
func (e *Export) Name() string {
	return e.name
}

// Capabilities returns the export's static limits.
func (e *Export) Capabilities() Capabilities {
	return e.caps
}

// LookupPath resolves a slash-separated path from the export root, one
// component at a time. Intermediate handles are released as the walk moves
// past them; only the final object's handle survives.
func (e *Export) LookupPath(path string) (ObjectHandle, error) {
	cur := ObjectHandle(e.root)
	for _, name := range strings.Split(path, "/") {
		if name == "" || name == "." {
			continue
		}
		next, _, err := cur.Lookup(name)
		if err != nil {
			if cur != ObjectHandle(e.root) {
				cur.Release()
			}
			return nil, err
		}
		if cur != ObjectHandle(e.root) {
			cur.Release()
		}
		cur = next
	}

	if cur == ObjectHandle(e.root) {
		// Hand out a separate handle for the root so the caller can
		// Release it like any other lookup result.
		st, err := e.root.node.GetAttr()
		if err != nil {
			return nil, statusFromErr(err)
		}
		return newHandle(e, e.root.node.Ptr(), st)
	}
	return cur, nil
}

// DynamicInfo returns current filesystem usage.
func (e *Export) DynamicInfo() (*DynamicInfo, error) {
	fsStat, err := e.fs.StatFs()
	if err != nil {
		return nil, statusFromErr(err)
	}
	return &DynamicInfo{
		TotalBytes: fsStat.Blocks * fsStat.FrSize,
		FreeBytes:  fsStat.Bfree * fsStat.FrSize,
		AvailBytes: fsStat.Bavail * fsStat.FrSize,
		TotalFiles: fsStat.Files,
		FreeFiles:  fsStat.Ffree,
		AvailFiles: fsStat.Favail,
	}, nil
}

// Unmount detaches the export: the root handle is torn down first, then the
// filesystem is closed. Safe to call once; later calls are no-ops.
func (e *Export) Unmount() error {
	if !e.unmounted.CompareAndSwap(false, true) {
		return nil
	}

	// Release the root wrapper, then the root node handle the Export owns.
	rootNode := e.root.node
	e.root.Release()
	rootNode.Free()

	if err := e.fs.Close(); err != nil {
		logger.Error("fsal: closing filesystem for export %q: %v", e.name, err)
		return statusFromErr(err)
	}
	logger.Info("fsal: unmounted export %q", e.name)
	return nil
}

// applyUmask masks creation modes with the export's umask.
func (e *Export) applyUmask(mode uint32) uint32 {
	return mode &^ e.umask
}

func (e *Export) handleCreated() {
	n := e.liveHandles.Add(1)
	e.metrics.RecordHandleCount(e.name, int(n))
}

func (e *Export) handleReleased() {
	n := e.liveHandles.Add(-1)
	e.metrics.RecordHandleCount(e.name, int(n))
}
