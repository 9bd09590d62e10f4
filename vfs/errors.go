package vfs

import "fmt"

// Code is one of the filesystem error codes from the kernel's error taxonomy.
type Code string

const (
	ENOENT    Code = "ENOENT"
	EEXIST    Code = "EEXIST"
	EISDIR    Code = "EISDIR"
	ENOTDIR   Code = "ENOTDIR"
	ENOTEMPTY Code = "ENOTEMPTY"
	EACCES    Code = "EACCES"
	EBUSY     Code = "EBUSY"
	EIO       Code = "EIO"
)

// Error is a typed filesystem error carrying a code and the path it applies to.
type Error struct {
	Code    Code
	Path    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s: %s", e.Code, e.Path, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Path)
}

func (e *Error) Unwrap() error { return e.Err }

func newErr(code Code, path string, err error) *Error {
	e := &Error{Code: code, Path: path, Err: err}
	if err != nil {
		e.Message = err.Error()
	}
	return e
}

func IsCode(err error, code Code) bool {
	var fe *Error
	if e, ok := err.(*Error); ok {
		fe = e
	} else {
		return false
	}
	return fe.Code == code
}
