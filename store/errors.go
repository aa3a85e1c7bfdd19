package store

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrNotFound means no blob is committed for a handle.  Callers
	// should treat it as a cache miss.
	ErrNotFound = errors.New("blob not found")

	// ErrUnsupportedAlgo means the configured hash algorithm is not
	// available.  It is a configuration error; retrying won't help.
	ErrUnsupportedAlgo = errors.New("unsupported hash algorithm")

	// ErrClosed is returned by operations on a Store after Close.
	ErrClosed = errors.New("store is closed")
)

// IsNotFound reports whether err is, or wraps, ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// NotDirError is returned by Open when Dir exists but is not a
// directory.
type NotDirError struct {
	Dir string
}

func (e *NotDirError) Error() string {
	return fmt.Sprintf("not a directory: %s", e.Dir)
}
