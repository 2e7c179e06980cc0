package fsal

import (
	"fmt"
	"syscall"

	"github.com/mjmac/daosnfs/pkg/daosfs"
)

// Code is the major error class of the object-handle contract. The protocol
// server maps these further into NFS status codes; this layer never produces
// anything finer-grained.
type Code int

const (
	CodeOK Code = iota
	CodePerm
	CodeNoEnt
	CodeIO
	CodeNXIO
	CodeNotOpened
	CodeNoMem
	CodeAccess
	CodeFault
	CodeExist
	CodeXDev
	CodeNotDir
	CodeIsDir
	CodeInval
	CodeFBig
	CodeNoSpc
	CodeMLink
	CodeDQuot
	CodeNameTooLong
	CodeNotEmpty
	CodeStale
	CodeDelay
	CodeShareDenied
	CodeNotSupported
	CodeTooSmall
	CodeServerFault
)

var codeNames = map[Code]string{
	CodeOK:           "OK",
	CodePerm:         "PERM",
	CodeNoEnt:        "NOENT",
	CodeIO:           "IO",
	CodeNXIO:         "NXIO",
	CodeNotOpened:    "NOT_OPENED",
	CodeNoMem:        "NOMEM",
	CodeAccess:       "ACCESS",
	CodeFault:        "FAULT",
	CodeExist:        "EXIST",
	CodeXDev:         "XDEV",
	CodeNotDir:       "NOTDIR",
	CodeIsDir:        "ISDIR",
	CodeInval:        "INVAL",
	CodeFBig:         "FBIG",
	CodeNoSpc:        "NOSPC",
	CodeMLink:        "MLINK",
	CodeDQuot:        "DQUOT",
	CodeNameTooLong:  "NAMETOOLONG",
	CodeNotEmpty:     "NOTEMPTY",
	CodeStale:        "STALE",
	CodeDelay:        "DELAY",
	CodeShareDenied:  "SHARE_DENIED",
	CodeNotSupported: "NOTSUPP",
	CodeTooSmall:     "TOOSMALL",
	CodeServerFault:  "SERVERFAULT",
}

func (c Code) String() string {
	if s, ok := codeNames[c]; ok {
		return s
	}
	return fmt.Sprintf("Code(%d)", int(c))
}

// Status is the structured error the object-handle contract returns: a major
// class plus the POSIX minor code that produced it. A zero Status means
// success; operations return nil instead of a zero Status.
type Status struct {
	// Code is the major error class.
	Code Code

	// Minor is the positive POSIX errno behind the class, 0 when the error
	// did not originate in the storage library.
	Minor int

	// Message optionally carries operation context for logs. It never
	// reaches the wire.
	Message string
}

func (s Status) Error() string {
	if s.Message != "" {
		return fmt.Sprintf("%s (minor %d): %s", s.Code, s.Minor, s.Message)
	}
	return fmt.Sprintf("%s (minor %d)", s.Code, s.Minor)
}

// IsStatus extracts a Status from err, reporting false if err does not carry
// one. A nil err yields a success Status.
func IsStatus(err error) (Status, bool) {
	if err == nil {
		return Status{}, true
	}
	if s, ok := err.(Status); ok {
		return s, true
	}
	return Status{}, false
}

// StatusCode names err's major class for logs and metrics labels. Errors
// that are not a Status count as server faults.
func StatusCode(err error) string {
	if err == nil {
		return "ok"
	}
	if s, ok := err.(Status); ok {
		return s.Code.String()
	}
	return CodeServerFault.String()
}

func statusf(code Code, format string, args ...any) Status {
	return Status{Code: code, Message: fmt.Sprintf(format, args...)}
}

// translateError maps a storage-library return code to a Status. The
// convention follows the library: 0 is success, a negative value is a
// negated POSIX errno. The function is pure and total; unknown errnos fall
// through to the server-fault class. The minor code is always the absolute
// value of the input.
func translateError(rc int) Status {
	if rc >= 0 {
		return Status{}
	}

	errno := syscall.Errno(-rc)
	status := Status{Minor: -rc}

	switch errno {
	case syscall.EPERM:
		status.Code = CodePerm
	case syscall.ENOENT:
		status.Code = CodeNoEnt
	case syscall.ECONNREFUSED,
		syscall.ECONNABORTED,
		syscall.ECONNRESET,
		syscall.EIO,
		syscall.ENFILE,
		syscall.EMFILE,
		syscall.EPIPE:
		status.Code = CodeIO
	case syscall.ENODEV, syscall.ENXIO:
		status.Code = CodeNXIO
	case syscall.EBADF:
		// Not strictly right for a write on a node opened read-only, but
		// the not-open class is the closest the taxonomy offers.
		status.Code = CodeNotOpened
	case syscall.ENOMEM:
		status.Code = CodeNoMem
	case syscall.EACCES:
		status.Code = CodeAccess
	case syscall.EFAULT:
		status.Code = CodeFault
	case syscall.EEXIST:
		status.Code = CodeExist
	case syscall.EXDEV:
		status.Code = CodeXDev
	case syscall.ENOTDIR:
		status.Code = CodeNotDir
	case syscall.EISDIR:
		status.Code = CodeIsDir
	case syscall.EINVAL:
		status.Code = CodeInval
	case syscall.EFBIG:
		status.Code = CodeFBig
	case syscall.ENOSPC:
		status.Code = CodeNoSpc
	case syscall.EMLINK:
		status.Code = CodeMLink
	case syscall.EDQUOT:
		status.Code = CodeDQuot
	case syscall.ENAMETOOLONG:
		status.Code = CodeNameTooLong
	case syscall.ENOTEMPTY:
		status.Code = CodeNotEmpty
	case syscall.ESTALE:
		status.Code = CodeStale
	case syscall.EAGAIN, syscall.EBUSY:
		status.Code = CodeDelay
	default:
		status.Code = CodeServerFault
	}
	return status
}

// statusFromErr translates an error returned by a storage-library call.
// Returns nil on nil input so callers can propagate it directly.
func statusFromErr(err error) error {
	if err == nil {
		return nil
	}
	return translateError(daosfs.ErrnoValue(err))
}
