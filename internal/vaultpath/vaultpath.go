// Package vaultpath normalizes the slash-separated, vault-relative paths that the
// chat store passes to its filesystem gateway.
package vaultpath

import (
	"fmt"
	"path"
	"strings"

	app_errors "github.com/phoenixway/obsidian-ai-forge-sub001/internal/errors"
)

// Root is the normalized form of the vault root.
const Root = ""

// Normalize converts p into canonical form: forward slashes, no repeated,
// leading or trailing slashes. Paths containing a ".." segment or a null byte
// are rejected with ErrValidation.
func Normalize(p string) (string, error) {
	if strings.ContainsRune(p, 0) {
		return "", fmt.Errorf("%w: path contains a null byte", app_errors.ErrValidation)
	}
	p = strings.ReplaceAll(p, `\`, "/")

	segments := strings.Split(p, "/")
	kept := segments[:0]
	for _, seg := range segments {
		switch seg {
		case "", ".":
			continue
		case "..":
			return "", fmt.Errorf("%w: path %q contains a '..' segment", app_errors.ErrValidation, p)
		}
		kept = append(kept, seg)
	}
	return strings.Join(kept, "/"), nil
}

// Join joins already normalized elements.
func Join(elem ...string) string {
	return strings.TrimPrefix(path.Join(elem...), "/")
}

// Dir returns the parent folder of p, Root for top-level entries.
func Dir(p string) string {
	d := path.Dir(p)
	if d == "." || d == "/" {
		return Root
	}
	return d
}

// Base returns the last element of p.
func Base(p string) string {
	if p == Root {
		return ""
	}
	return path.Base(p)
}

// IsWithin reports whether p equals parent or lies below it.
func IsWithin(p, parent string) bool {
	if parent == Root {
		return true
	}
	return p == parent || strings.HasPrefix(p, parent+"/")
}

// Rebase moves p from below oldParent to below newParent. ok is false when p
// is not within oldParent.
func Rebase(p, oldParent, newParent string) (string, bool) {
	if !IsWithin(p, oldParent) {
		return p, false
	}
	rest := strings.TrimPrefix(strings.TrimPrefix(p, oldParent), "/")
	if oldParent == Root {
		rest = p
	}
	return Join(newParent, rest), true
}
