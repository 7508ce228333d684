// This file enumerates the error kinds the FAT core can surface. The
// traditional stream API collapses these to -1/null at the boundary, but
// internally every fallible operation reports one of these sentinels so
// callers who want detail can get it with errors.Is.

package errors

import (
	"fmt"
)

type Kind string

const ErrNoMedia = Kind("no media: read callback required")
const ErrBadFormat = Kind("bad filesystem format")
const ErrIOFailed = Kind("input/output error")
const ErrNotFound = Kind("no such file or directory")
const ErrNotAFile = Kind("not a file")
const ErrNotADirectory = Kind("not a directory")
const ErrAlreadyExists = Kind("file exists")
const ErrAlreadyOpen = Kind("file already open")
const ErrNoSpace = Kind("no space left on device")
const ErrReadOnly = Kind("read-only filesystem")
const ErrInvalidSeek = Kind("invalid seek")
const ErrInvalidArgument = Kind("invalid argument")
const ErrNotEmpty = Kind("directory not empty")

// Error lets Kind satisfy the error interface by itself, so fmt.Errorf's
// %w verb can wrap a bare Kind value directly: no intermediate struct is
// needed just to get Kind into an error chain.
func (k Kind) Error() string {
	return string(k)
}

func (k Kind) WithMessage(message string) DriverError {
	return wrap(fmt.Errorf("%w: %s", k, message))
}

func (k Kind) WrapError(err error) DriverError {
	return wrap(fmt.Errorf("%w: %w", k, err))
}
