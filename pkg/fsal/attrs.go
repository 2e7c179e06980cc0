package fsal

import (
	"time"

	"github.com/mjmac/daosnfs/pkg/daosfs"
)

// AttrMask selects attributes in an Attributes value: which fields are
// valid on output, or which fields a set-attributes call should apply.
type AttrMask uint32

const (
	AttrType AttrMask = 1 << iota
	AttrMode
	AttrOwner
	AttrGroup
	AttrSize
	AttrAtime
	AttrMtime
	AttrCtime
	AttrAtimeServer
	AttrMtimeServer
	AttrFileID
	AttrFSID
	AttrSpaceUsed
	AttrNumLinks
	AttrRawDev
)

// attrsSettable is the set of attributes Setattr2 accepts. Everything else
// in a set request is rejected with invalid-argument.
const attrsSettable = AttrMode | AttrOwner | AttrGroup | AttrSize |
	AttrAtime | AttrMtime | AttrCtime | AttrAtimeServer | AttrMtimeServer

// attrsAll is the mask of every attribute this layer can report.
const attrsAll = AttrType | AttrMode | AttrOwner | AttrGroup | AttrSize |
	AttrAtime | AttrMtime | AttrCtime | AttrFileID | AttrFSID |
	AttrSpaceUsed | AttrNumLinks | AttrRawDev

// ObjectType is the filesystem object type exposed to the server.
type ObjectType int

const (
	TypeNone ObjectType = iota
	TypeRegular
	TypeDirectory
	TypeSymlink
	TypeBlock
	TypeCharacter
	TypeSocket
	TypeFIFO
)

func objectTypeOf(t daosfs.FileType) ObjectType {
	switch t {
	case daosfs.FileTypeRegular:
		return TypeRegular
	case daosfs.FileTypeDirectory:
		return TypeDirectory
	case daosfs.FileTypeSymlink:
		return TypeSymlink
	case daosfs.FileTypeBlockDevice:
		return TypeBlock
	case daosfs.FileTypeCharDevice:
		return TypeCharacter
	case daosfs.FileTypeSocket:
		return TypeSocket
	case daosfs.FileTypeFIFO:
		return TypeFIFO
	}
	return TypeNone
}

// Attributes is the generic attribute list of the object-handle contract.
// Mask says which fields are meaningful.
type Attributes struct {
	Mask AttrMask

	Type      ObjectType
	Mode      uint32
	Owner     uint32
	Group     uint32
	Size      uint64
	SpaceUsed uint64
	NumLinks  uint32
	FileID    uint64
	FSID      uint64
	RawDev    uint64

	Atime time.Time
	Mtime time.Time
	Ctime time.Time
}

// attributesFromStat converts storage-library attributes into the contract
// form, filling every reportable field.
func attributesFromStat(st *daosfs.Stat) *Attributes {
	return &Attributes{
		Mask:      attrsAll,
		Type:      objectTypeOf(st.Type),
		Mode:      st.Mode,
		Owner:     st.UID,
		Group:     st.GID,
		Size:      st.Size,
		SpaceUsed: st.SpaceUsed,
		NumLinks:  st.Nlink,
		FileID:    st.Ino,
		FSID:      st.Dev,
		RawDev:    st.Rdev,
		Atime:     st.Atime,
		Mtime:     st.Mtime,
		Ctime:     st.Ctime,
	}
}

// setAttrArgs converts a set request into the storage-library form,
// resolving server-time requests against the clock. Mode changes are masked
// by the export umask the same way creation modes are. Size is handled
// separately by the caller because truncation needs a share check.
func setAttrArgs(e *Export, attrs *Attributes) (daosfs.Stat, daosfs.SetAttrMask) {
	var st daosfs.Stat
	var mask daosfs.SetAttrMask

	if attrs.Mask&AttrMode != 0 {
		st.Mode = e.applyUmask(attrs.Mode & 0o7777)
		mask |= daosfs.SetAttrMode
	}
	if attrs.Mask&AttrOwner != 0 {
		st.UID = attrs.Owner
		mask |= daosfs.SetAttrUID
	}
	if attrs.Mask&AttrGroup != 0 {
		st.GID = attrs.Group
		mask |= daosfs.SetAttrGID
	}
	if attrs.Mask&AttrAtime != 0 {
		st.Atime = attrs.Atime
		mask |= daosfs.SetAttrAtime
	}
	if attrs.Mask&AttrMtime != 0 {
		st.Mtime = attrs.Mtime
		mask |= daosfs.SetAttrMtime
	}
	if attrs.Mask&AttrCtime != 0 {
		st.Ctime = attrs.Ctime
		mask |= daosfs.SetAttrCtime
	}

	now := time.Now()
	if attrs.Mask&AttrAtimeServer != 0 {
		st.Atime = now
		mask |= daosfs.SetAttrAtime
	}
	if attrs.Mask&AttrMtimeServer != 0 {
		st.Mtime = now
		mask |= daosfs.SetAttrMtime
	}

	return st, mask
}
