package daosfs

import (
	"encoding/binary"
	"encoding/hex"
	"time"
)

// NodeKeySize is the wire size of a NodeKey in bytes: object id high and low
// words plus the inode number.
const NodeKeySize = 24

// NodeKey is the durable identifier of a node. It is produced when the node
// is created and never changes for the life of the node, surviving renames
// and remounts. The FSAL hands the raw bytes to NFS clients as the wire
// handle.
type NodeKey [NodeKeySize]byte

// MakeNodeKey packs an object id (hi, lo) and inode number into a NodeKey.
func MakeNodeKey(hi, lo, ino uint64) NodeKey {
	var k NodeKey
	binary.BigEndian.PutUint64(k[0:8], hi)
	binary.BigEndian.PutUint64(k[8:16], lo)
	binary.BigEndian.PutUint64(k[16:24], ino)
	return k
}

// Ino returns the inode number packed into the key.
func (k NodeKey) Ino() uint64 {
	return binary.BigEndian.Uint64(k[16:24])
}

// String returns the key as lowercase hex, for logging and content-store
// object names.
func (k NodeKey) String() string {
	return hex.EncodeToString(k[:])
}

// FileType is the type of a filesystem node.
type FileType int

const (
	FileTypeRegular FileType = iota
	FileTypeDirectory
	FileTypeSymlink
	FileTypeBlockDevice
	FileTypeCharDevice
	FileTypeSocket
	FileTypeFIFO
)

// Stat carries the POSIX-style attributes of a node.
type Stat struct {
	// Type is the node type.
	Type FileType

	// Mode contains the permission bits (at most 0o7777).
	Mode uint32

	// UID and GID identify the owner.
	UID uint32
	GID uint32

	// Nlink is the hard-link count. The library does not support hard
	// links, so this is 1 for files and 2+ for directories.
	Nlink uint32

	// Ino is the inode number, equal to NodeKey.Ino() for the node.
	Ino uint64

	// Dev identifies the filesystem instance the node lives in.
	Dev uint64

	// Rdev is the device number for device nodes, 0 otherwise.
	Rdev uint64

	// Size is the file size in bytes. For directories it is the entry
	// count times a nominal entry size.
	Size uint64

	// SpaceUsed is the storage consumed, in bytes.
	SpaceUsed uint64

	// Atime, Mtime and Ctime are the POSIX access, modification and
	// attribute-change times.
	Atime time.Time
	Mtime time.Time
	Ctime time.Time
}

// SetAttrMask selects which Stat fields a SetAttr call applies.
type SetAttrMask uint32

const (
	SetAttrMode SetAttrMask = 1 << iota
	SetAttrUID
	SetAttrGID
	SetAttrAtime
	SetAttrMtime
	SetAttrCtime
)

// FsStat carries filesystem-wide usage counters, in the shape of statvfs.
type FsStat struct {
	// FrSize is the fundamental block size in bytes.
	FrSize uint64

	// Blocks, Bfree and Bavail count blocks: total, free, and free for
	// unprivileged users.
	Blocks uint64
	Bfree  uint64
	Bavail uint64

	// Files, Ffree and Favail count inodes the same way.
	Files  uint64
	Ffree  uint64
	Favail uint64
}
