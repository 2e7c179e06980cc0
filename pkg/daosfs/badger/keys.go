package badger

import (
	"encoding/binary"

	"github.com/mjmac/daosnfs/pkg/daosfs"
)

// Database Key Namespace Design
// ==============================
//
// BadgerDB is a key-value store, so we use prefixed keys to organize the
// different record types into logical namespaces:
//
// Data Type             Prefix   Key Format                    Value Type
// ========================================================================
// Node Records          "n:"     n:<ptr be64>                  nodeRecord (JSON)
// Children Map          "c:"     c:<ptr be64>:<childName>      child ptr (be64)
// Durable Key Index     "k:"     k:<24-byte node key>          node ptr (be64)
// Filesystem Meta       "m:"     m:fs                          fsRecord (JSON)
//
// Node pointers are allocated sequentially from the filesystem meta record
// and are stable for the lifetime of the database, so they double as the
// on-disk primary key. The durable key index maps the fixed-size node key
// (the form that travels in wire handles) back to a pointer, which is what
// makes handles from a previous server instance resolvable after a restart.
//
// Children are denormalized to one entry per child so that directory
// listings are a single prefix scan over "c:<ptr>:" without deserializing
// the parent node.

const (
	prefixNode  = "n:"
	prefixChild = "c:"
	prefixKey   = "k:"

	// keyFsMeta is the singleton filesystem meta record.
	keyFsMeta = "m:fs"
)

func keyNode(ptr daosfs.NodePtr) []byte {
	k := make([]byte, len(prefixNode)+8)
	copy(k, prefixNode)
	binary.BigEndian.PutUint64(k[len(prefixNode):], uint64(ptr))
	return k
}

// keyChildPrefix returns the scan prefix covering all children of a
// directory. The trailing ':' separates the pointer from the child name.
func keyChildPrefix(ptr daosfs.NodePtr) []byte {
	k := make([]byte, len(prefixChild)+9)
	copy(k, prefixChild)
	binary.BigEndian.PutUint64(k[len(prefixChild):], uint64(ptr))
	k[len(prefixChild)+8] = ':'
	return k
}

func keyChild(ptr daosfs.NodePtr, name string) []byte {
	return append(keyChildPrefix(ptr), name...)
}

func keyNodeKey(nk daosfs.NodeKey) []byte {
	k := make([]byte, len(prefixKey)+daosfs.NodeKeySize)
	copy(k, prefixKey)
	copy(k[len(prefixKey):], nk[:])
	return k
}

func encodePtr(ptr daosfs.NodePtr) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(ptr))
	return b
}

func decodePtr(b []byte) daosfs.NodePtr {
	return daosfs.NodePtr(binary.BigEndian.Uint64(b))
}
