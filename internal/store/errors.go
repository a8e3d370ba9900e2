package store

import (
	"errors"
	"fmt"
)

// Domain errors. Engines return them wrapped in PathError or KeyError.
var (
	ErrNotFound        = errors.New("not found")
	ErrAlreadyExists   = errors.New("already exists")
	ErrNotADirectory   = errors.New("not a directory")
	ErrIsADirectory    = errors.New("is a directory")
	ErrNotEmpty        = errors.New("directory not empty")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrInvalidRename   = errors.New("invalid rename")
)

// Storage-level errors. They always arrive wrapped in a StorageError.
var (
	ErrStorage            = errors.New("storage error")
	ErrReadOnly           = errors.New("store is read-only")
	ErrClosed             = errors.New("store is closed")
	ErrIncompatibleSchema = errors.New("incompatible schema version")
)

// PathError records a filesystem failure and the path that caused it.
type PathError struct {
	Op   string
	Path string
	Err  error
}

func (e *PathError) Error() string {
	return e.Op + " " + e.Path + ": " + e.Err.Error()
}

func (e *PathError) Unwrap() error { return e.Err }

// KeyError records a key-value failure and the key that caused it.
type KeyError struct {
	Op  string
	Key string
	Err error
}

func (e *KeyError) Error() string {
	return fmt.Sprintf("%s %q: %v", e.Op, e.Key, e.Err)
}

func (e *KeyError) Unwrap() error { return e.Err }

// StorageError wraps open, migration and transaction failures.
// errors.Is(err, ErrStorage) matches every StorageError.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return "storage: " + e.Op + ": " + e.Err.Error()
}

func (e *StorageError) Unwrap() error { return e.Err }

// Is reports whether target is ErrStorage.
func (e *StorageError) Is(target error) bool { return target == ErrStorage }

// Wrap turns a driver error into a StorageError. Errors that already are
// StorageErrors, and nil, pass through unchanged.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}
