package fsal

// OpenFlags carries the access and deny bits of a logical open. Access and
// deny bits live in one word because every share-reservation decision needs
// both sides at once.
type OpenFlags uint32

const (
	// OpenClosed is the zero value: no access, no deny.
	OpenClosed OpenFlags = 0

	OpenRead  OpenFlags = 1 << 0
	OpenWrite OpenFlags = 1 << 1

	// OpenSync requests synchronous (stable) writes at the storage layer.
	OpenSync OpenFlags = 1 << 2

	OpenDenyRead  OpenFlags = 1 << 3
	OpenDenyWrite OpenFlags = 1 << 4

	// OpenDenyWriteMand is a mandatory deny-write, honored even by openers
	// that bypass advisory share checks.
	OpenDenyWriteMand OpenFlags = 1 << 5

	OpenReadWrite = OpenRead | OpenWrite
)

// Reading reports whether the flags request read access.
func (f OpenFlags) Reading() bool { return f&OpenRead != 0 }

// Writing reports whether the flags request write access.
func (f OpenFlags) Writing() bool { return f&OpenWrite != 0 }

func (f OpenFlags) String() string {
	switch f & OpenReadWrite {
	case OpenReadWrite:
		return "RDWR"
	case OpenRead:
		return "READ"
	case OpenWrite:
		return "WRITE"
	}
	return "CLOSED"
}

// CreateMode selects the creation semantics of an open-with-name.
type CreateMode int

const (
	// NoCreate opens an existing object only.
	NoCreate CreateMode = iota

	// Unchecked creates if absent and opens whatever exists otherwise,
	// tolerating create/unlink races.
	Unchecked

	// Guarded fails with already-exists when the name is taken.
	Guarded

	// Exclusive creates with a verifier stamped into the object so a
	// retransmitted create of the same object succeeds idempotently.
	Exclusive

	// Exclusive41 is the NFSv4.1 variant of Exclusive; it behaves the same
	// at this layer because set-attributes travel with the open.
	Exclusive41
)

func (m CreateMode) String() string {
	switch m {
	case NoCreate:
		return "NO_CREATE"
	case Unchecked:
		return "UNCHECKED"
	case Guarded:
		return "GUARDED"
	case Exclusive:
		return "EXCLUSIVE"
	case Exclusive41:
		return "EXCLUSIVE_41"
	}
	return "UNKNOWN"
}

// VerifierSize is the byte size of an exclusive-create verifier.
const VerifierSize = 8

// Verifier is the client-chosen cookie an Exclusive create stamps into the
// new object's atime and mtime so a retransmit can be recognized.
type Verifier [VerifierSize]byte

// IsZero reports whether no verifier was supplied.
func (v Verifier) IsZero() bool {
	return v == Verifier{}
}

// StateType is the kind of open-state object the server associates with an
// open. Only share-bearing types participate in share-reservation counting.
type StateType int

const (
	StateNone StateType = iota
	StateShare
	StateNLMShare
	State9PFid
	StateLock
	StateDeleg
)

// shareBearing reports whether states of this type hold share reservations
// that must be released on close.
func (t StateType) shareBearing() bool {
	switch t {
	case StateShare, StateNLMShare, State9PFid:
		return true
	}
	return false
}

// OpenState is the per-open state object owned by the protocol server. It
// references exactly one object handle and records the flags its open
// currently holds, which is what Close2 must give back.
type OpenState struct {
	// Type determines whether this state carries share reservations.
	Type StateType

	// Flags is the access/deny mode this state currently holds. Maintained
	// by Open2, Reopen2 and Close2; callers treat it as read-only.
	Flags OpenFlags
}

// DigestType selects a wire-handle encoding. Both NFS versions use the raw
// node key; the constant exists because the server asks per protocol.
type DigestType int

const (
	DigestNFSv3 DigestType = iota
	DigestNFSv4
)
