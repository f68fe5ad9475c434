// Package gateway defines the filesystem capability the chat store calls for
// all I/O, together with an afero-backed implementation.
package gateway

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	app_errors "github.com/phoenixway/obsidian-ai-forge-sub001/internal/errors"
)

// EntryType distinguishes files from folders in Stat results.
type EntryType int

const (
	TypeFile EntryType = iota
	TypeFolder
)

func (t EntryType) String() string {
	if t == TypeFolder {
		return "folder"
	}
	return "file"
}

// Stat describes an existing filesystem entry.
type Stat struct {
	Type    EntryType
	Size    int64
	ModTime time.Time
}

// Listing holds the direct children of a folder as full vault paths.
type Listing struct {
	Files   []string
	Folders []string
}

// FileSystem is the capability interface consumed by the chat store. All
// paths are normalized, vault-relative and slash-separated.
//
// Implementations translate failures into the app_errors sentinels:
// ErrNotFound for missing entries, ErrPermission for access denied and
// ErrConflict when a rename target already exists. Any other error is
// treated by callers as an unconfirmed outcome.
type FileSystem interface {
	Exists(path string) (bool, error)
	// Stat returns nil, nil when the entry does not exist.
	Stat(path string) (*Stat, error)
	Read(path string) (string, error)
	// Write replaces the file atomically, creating parent folders as needed.
	Write(path string, data string) error
	Mkdir(path string) error
	List(path string) (*Listing, error)
	Rename(oldPath, newPath string) error
	Remove(path string) error
	Rmdir(path string, recursive bool) error
}

// translateErr maps an OS-level error onto the sentinel taxonomy, keeping the
// original error in the chain.
func translateErr(op, path string, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("%w: %s %q: %w", app_errors.ErrNotFound, op, path, err)
	case errors.Is(err, fs.ErrPermission):
		return fmt.Errorf("%w: %s %q: %w", app_errors.ErrPermission, op, path, err)
	case errors.Is(err, fs.ErrExist):
		return fmt.Errorf("%w: %s %q: %w", app_errors.ErrConflict, op, path, err)
	}
	return fmt.Errorf("%s %q: %w", op, path, err)
}

// IsNotExist reports whether err is the gateway's not-found error or an OS not-exist error.
func IsNotExist(err error) bool {
	return errors.Is(err, app_errors.ErrNotFound) || errors.Is(err, os.ErrNotExist)
}
