package daosfs

import (
	"errors"
	"syscall"
)

// Errno is the only error type returned across the storage-library boundary.
// It carries a positive POSIX errno; the library's C ancestor returned the
// negated value, and ErrnoValue preserves that convention for callers that
// want the signed form.
type Errno syscall.Errno

func (e Errno) Error() string {
	return syscall.Errno(e).Error()
}

// ErrnoValue extracts the negative POSIX error code from err, or 0 when err
// is nil. Errors that are not an Errno report -EIO: anything else escaping a
// backend is an infrastructure failure.
func ErrnoValue(err error) int {
	if err == nil {
		return 0
	}
	var e Errno
	if errors.As(err, &e) {
		return -int(e)
	}
	return -int(syscall.EIO)
}

// Common errnos returned by backends.
var (
	ErrPerm        = Errno(syscall.EPERM)
	ErrNoEnt       = Errno(syscall.ENOENT)
	ErrIO          = Errno(syscall.EIO)
	ErrBadF        = Errno(syscall.EBADF)
	ErrNoMem       = Errno(syscall.ENOMEM)
	ErrAccess      = Errno(syscall.EACCES)
	ErrExist       = Errno(syscall.EEXIST)
	ErrNotDir      = Errno(syscall.ENOTDIR)
	ErrIsDir       = Errno(syscall.EISDIR)
	ErrInval       = Errno(syscall.EINVAL)
	ErrFBig        = Errno(syscall.EFBIG)
	ErrNoSpc       = Errno(syscall.ENOSPC)
	ErrNameTooLong = Errno(syscall.ENAMETOOLONG)
	ErrNotEmpty    = Errno(syscall.ENOTEMPTY)
	ErrStale       = Errno(syscall.ESTALE)
	ErrBusy        = Errno(syscall.EBUSY)
)
