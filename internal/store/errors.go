package store

import (
	"errors"
	"fmt"
)

// ErrNotFound reports an unresolved product identifier.
var ErrNotFound = errors.New("product not found")

// BadRequestError covers malformed patches and failed field validation.
// Neither ever mutates state.
type BadRequestError struct {
	Reason string
	Err    error
}

func (e *BadRequestError) Error() string { return e.Reason }

func (e *BadRequestError) Unwrap() error { return e.Err }

// PersistError reports an I/O failure while loading or flushing the
// durable documents.
type PersistError struct {
	Op  string
	Err error
}

func (e *PersistError) Error() string { return fmt.Sprintf("persist: %s: %v", e.Op, e.Err) }

func (e *PersistError) Unwrap() error { return e.Err }
