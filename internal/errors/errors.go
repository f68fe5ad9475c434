package errors

import "errors"

// This package defines the centralized set of sentinel errors for the chat store.
// Every failure produced by the core wraps exactly one of them, so consumers
// (the CLI, tests, a future UI) can classify outcomes with `errors.Is()` without
// knowing which layer produced them.

var (
	// ErrValidation signifies a bad name, path or character sequence. It is
	// always returned before any filesystem I/O is attempted.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound signifies that a chat id or file path could not be resolved.
	ErrNotFound = errors.New("resource not found")

	// ErrConflict signifies that the target of a create, rename or move already exists.
	ErrConflict = errors.New("resource conflict")

	// ErrPermission signifies that the filesystem reported access denied.
	ErrPermission = errors.New("permission denied")

	// ErrCorruptData signifies that a chat file exists but fails structural validation.
	ErrCorruptData = errors.New("corrupt chat data")

	// ErrAmbiguousState signifies that the outcome of a filesystem step could not
	// be confirmed. The store rebuilds its index before returning it.
	ErrAmbiguousState = errors.New("ambiguous filesystem state")

	// ErrInternal signifies an unexpected failure that does not fit the categories above.
	ErrInternal = errors.New("internal error")
)
