package fsal

import (
	"github.com/mjmac/daosnfs/pkg/daosfs"
)

// Wire handle codec. The wire form of an object handle is the raw node key:
// a fixed-size value that names the node for the life of the object and
// across server restarts. Encoding is a copy; decoding revalidates the key
// against the storage layer because clients may present handles for objects
// that no longer exist.

// WireHandleSize is the exact byte length of an encoded handle.
const WireHandleSize = daosfs.NodeKeySize

// HandleDigest encodes the handle for the requested protocol into buf and
// returns the number of bytes written. Both supported digest types use the
// raw key form; a buffer shorter than WireHandleSize is rejected with
// too-small, and an unknown digest type is a server fault.
func (h *Handle) HandleDigest(t DigestType, buf []byte) (int, error) {
	switch t {
	case DigestNFSv3, DigestNFSv4:
		if len(buf) < WireHandleSize {
			return 0, statusf(CodeTooSmall, "digest buffer %d bytes, need %d", len(buf), WireHandleSize)
		}
		copy(buf, h.key[:])
		return WireHandleSize, nil
	default:
		return 0, statusf(CodeServerFault, "unsupported digest type %d", t)
	}
}

// HandleToKey returns the bytes the server should use to index this object
// in its handle tables. Same value as the wire digest.
func (h *Handle) HandleToKey() []byte {
	key := make([]byte, WireHandleSize)
	copy(key, h.key[:])
	return key
}

// DecodeHandle resolves a client-presented wire handle to a live object
// handle. A buffer of the wrong length is invalid-argument regardless of
// content; a well-formed key that no longer names a node is stale-handle.
// On success a fresh Handle is constructed from current attributes.
func (e *Export) DecodeHandle(wire []byte) (ObjectHandle, error) {
	if len(wire) != WireHandleSize {
		return nil, statusf(CodeInval, "wire handle length %d, want %d", len(wire), WireHandleSize)
	}

	var key daosfs.NodeKey
	copy(key[:], wire)

	node, err := e.fs.LookupHandle(key)
	if err != nil {
		// Whatever the library reports, a key it cannot resolve is a
		// stale handle from the client's point of view.
		return nil, Status{Code: CodeStale, Minor: -daosfs.ErrnoValue(err)}
	}

	st, err := node.GetAttr()
	if err != nil {
		node.Free()
		return nil, statusFromErr(err)
	}

	h := wrapNode(e, node, st)
	e.handleCreated()
	return h, nil
}
