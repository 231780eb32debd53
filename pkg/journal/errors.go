package journal

import (
	"errors"
	"fmt"
)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("journal: store closed")

// StorageError is an error from a storage backend.
type StorageError struct {
	Backend   string // "sqlite" or "memory"
	Operation string // "append", "count", "delete", ...
	Err       error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("journal storage error [backend=%s, operation=%s]: %v", e.Backend, e.Operation, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func newStorageError(backend, operation string, err error) *StorageError {
	return &StorageError{Backend: backend, Operation: operation, Err: err}
}
