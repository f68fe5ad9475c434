package gateway

import (
	"fmt"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/spf13/afero"

	app_errors "github.com/phoenixway/obsidian-ai-forge-sub001/internal/errors"
)

// tempPrefix marks in-flight atomic writes. Listings hide these files.
const tempPrefix = ".tmp-"

// IsTempFile reports whether name is the base name of an in-flight atomic write.
func IsTempFile(name string) bool {
	return strings.HasPrefix(name, tempPrefix)
}

// AferoFS implements FileSystem on top of an afero.Fs. Vault paths are mapped
// to absolute paths inside the wrapped filesystem.
type AferoFS struct {
	fs afero.Fs
}

// NewAferoFS wraps an arbitrary afero filesystem (e.g. afero.NewMemMapFs()).
func NewAferoFS(fs afero.Fs) *AferoFS {
	return &AferoFS{fs: fs}
}

// NewOSFS returns a gateway confined to the OS directory root.
func NewOSFS(root string) (*AferoFS, error) {
	if err := os.MkdirAll(root, 0750); err != nil {
		return nil, fmt.Errorf("failed to create vault directory: %w", err)
	}
	return &AferoFS{fs: afero.NewBasePathFs(afero.NewOsFs(), root)}, nil
}

func (a *AferoFS) real(p string) string {
	return "/" + strings.TrimPrefix(p, "/")
}

func (a *AferoFS) Exists(p string) (bool, error) {
	ok, err := afero.Exists(a.fs, a.real(p))
	if err != nil {
		return false, translateErr("exists", p, err)
	}
	return ok, nil
}

func (a *AferoFS) Stat(p string) (*Stat, error) {
	info, err := a.fs.Stat(a.real(p))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, translateErr("stat", p, err)
	}
	st := &Stat{Type: TypeFile, Size: info.Size(), ModTime: info.ModTime()}
	if info.IsDir() {
		st.Type = TypeFolder
	}
	return st, nil
}

func (a *AferoFS) Read(p string) (string, error) {
	data, err := afero.ReadFile(a.fs, a.real(p))
	if err != nil {
		return "", translateErr("read", p, err)
	}
	return string(data), nil
}

// Write writes data atomically using the following pattern:
// 1. Write to a temporary file in the same directory
// 2. Sync the data to disk
// 3. Close the file
// 4. Rename the temp file to the target path
//
// On failure either the old file or nothing is left at the target path.
func (a *AferoFS) Write(p string, data string) error {
	target := a.real(p)
	dir := path.Dir(target)
	if err := a.fs.MkdirAll(dir, 0750); err != nil {
		return translateErr("mkdir", p, err)
	}

	f, err := afero.TempFile(a.fs, dir, tempPrefix)
	if err != nil {
		return translateErr("create temp file for", p, err)
	}
	tempPath := f.Name()

	success := false
	defer func() {
		if !success {
			_ = f.Close()
			_ = a.fs.Remove(tempPath)
		}
	}()

	if _, err := f.WriteString(data); err != nil {
		return translateErr("write", p, err)
	}
	if err := f.Sync(); err != nil {
		return translateErr("sync", p, err)
	}
	if err := f.Close(); err != nil {
		return translateErr("close", p, err)
	}
	if err := a.fs.Rename(tempPath, target); err != nil {
		return translateErr("rename temp file to", p, err)
	}

	success = true
	return nil
}

func (a *AferoFS) Mkdir(p string) error {
	return translateErr("mkdir", p, a.fs.MkdirAll(a.real(p), 0750))
}

func (a *AferoFS) List(p string) (*Listing, error) {
	infos, err := afero.ReadDir(a.fs, a.real(p))
	if err != nil {
		return nil, translateErr("list", p, err)
	}
	listing := &Listing{Files: []string{}, Folders: []string{}}
	for _, info := range infos {
		name := info.Name()
		child := name
		if p != "" {
			child = p + "/" + name
		}
		if info.IsDir() {
			listing.Folders = append(listing.Folders, child)
			continue
		}
		if IsTempFile(name) {
			continue
		}
		listing.Files = append(listing.Files, child)
	}
	sort.Strings(listing.Files)
	sort.Strings(listing.Folders)
	return listing, nil
}

// Rename refuses to overwrite an existing destination.
func (a *AferoFS) Rename(oldPath, newPath string) error {
	exists, err := a.Exists(newPath)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: rename %q: destination %q already exists", app_errors.ErrConflict, oldPath, newPath)
	}
	if err := a.fs.MkdirAll(path.Dir(a.real(newPath)), 0750); err != nil {
		return translateErr("mkdir", newPath, err)
	}
	return translateErr("rename", oldPath, a.fs.Rename(a.real(oldPath), a.real(newPath)))
}

func (a *AferoFS) Remove(p string) error {
	return translateErr("remove", p, a.fs.Remove(a.real(p)))
}

func (a *AferoFS) Rmdir(p string, recursive bool) error {
	if recursive {
		st, err := a.Stat(p)
		if err != nil {
			return err
		}
		if st == nil {
			return translateErr("rmdir", p, os.ErrNotExist)
		}
		return translateErr("rmdir", p, a.fs.RemoveAll(a.real(p)))
	}
	return translateErr("rmdir", p, a.fs.Remove(a.real(p)))
}
