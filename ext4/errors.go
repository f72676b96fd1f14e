package ext4

import (
	"errors"
	"fmt"
)

// Code is a POSIX-numbered error code, the closed taxonomy every fallible
// core operation reports through.
type Code int

// Error codes, matching the POSIX numbering the on-disk format and its
// consumers expect.
const (
	EPERM      Code = 1
	ENOENT     Code = 2
	EIO        Code = 5
	ENOMEM     Code = 12
	EACCES     Code = 13
	EEXIST     Code = 17
	ENOTDIR    Code = 20
	EISDIR     Code = 21
	EINVAL     Code = 22
	EFBIG      Code = 27
	ENOSPC     Code = 28
	EMLINK     Code = 31
	ENOTEMPTY  Code = 39
	ENOTSUP    Code = 95
	ELINKFAIL  Code = 97
	EALLOCFAIL Code = 98
)

func (c Code) String() string {
	switch c {
	case EPERM:
		return "EPERM"
	case ENOENT:
		return "ENOENT"
	case EIO:
		return "EIO"
	case ENOMEM:
		return "ENOMEM"
	case EACCES:
		return "EACCES"
	case EEXIST:
		return "EEXIST"
	case ENOTDIR:
		return "ENOTDIR"
	case EISDIR:
		return "EISDIR"
	case EINVAL:
		return "EINVAL"
	case EFBIG:
		return "EFBIG"
	case ENOSPC:
		return "ENOSPC"
	case EMLINK:
		return "EMLINK"
	case ENOTEMPTY:
		return "ENOTEMPTY"
	case ENOTSUP:
		return "ENOTSUP"
	case ELINKFAIL:
		return "ELINKFAIL"
	case EALLOCFAIL:
		return "EALLOCFAIL"
	default:
		return fmt.Sprintf("Code(%d)", int(c))
	}
}

// Error is a structured failure value: a POSIX code, the operation that
// produced it, and an optional diagnostic wrapped error. No control flow in
// this package uses panics or exceptions; every fallible call returns one
// of these instead.
type Error struct {
	Code Code
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("ext4: %s: %s: %v", e.Op, e.Code, e.Err)
	}
	return fmt.Sprintf("ext4: %s: %s", e.Op, e.Code)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// newErr constructs an *Error, optionally wrapping a lower-level cause.
func newErr(op string, code Code, err error) *Error {
	return &Error{Code: code, Op: op, Err: err}
}

// CodeOf extracts the POSIX code from err if it (or something it wraps) is
// an *Error, or 0 otherwise.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return 0
}
