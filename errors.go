package agentfs

import "github.com/kittclouds/agentfs/internal/store"

// Errors returned by the engines. Test with errors.Is.
var (
	ErrNotFound        = store.ErrNotFound
	ErrAlreadyExists   = store.ErrAlreadyExists
	ErrNotADirectory   = store.ErrNotADirectory
	ErrIsADirectory    = store.ErrIsADirectory
	ErrNotEmpty        = store.ErrNotEmpty
	ErrInvalidArgument = store.ErrInvalidArgument
	ErrInvalidRename   = store.ErrInvalidRename

	ErrStorage            = store.ErrStorage
	ErrReadOnly           = store.ErrReadOnly
	ErrClosed             = store.ErrClosed
	ErrIncompatibleSchema = store.ErrIncompatibleSchema
)

type (
	// PathError is a filesystem failure with its operation and path.
	PathError = store.PathError
	// KeyError is a key-value failure with its operation and key.
	KeyError = store.KeyError
	// StorageError is an open, migration or transaction failure.
	StorageError = store.StorageError
)
