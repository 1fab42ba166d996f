package storage

import (
	"context"
	"errors"
)

// CAS is the content-addressable blob store the registry keeps dataset bytes in.
//
// Put is idempotent and returns a locator derived from the bytes written.
// Get returns ErrNotFound when nothing is stored under the locator and an error
// wrapping ErrTransient when the backend could not be reached. Get does not
// check the returned bytes against the locator; integrity is verified by the caller.
type CAS interface {
	Put(ctx context.Context, data []byte) (string, error)
	Get(ctx context.Context, locator string) ([]byte, error)
}

var (
	ErrNotFound  = errors.New("storage: not found")
	ErrTransient = errors.New("storage: transient failure")
	ErrEmpty     = errors.New("storage: empty content")
)

func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

func IsTransient(err error) bool { return errors.Is(err, ErrTransient) }
