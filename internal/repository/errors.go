package repository

import "errors"

// This file defines custom errors specific to the repository layer.
// This allows the repository to communicate outcomes in a storage-agnostic way.

// ErrNotFound is a repository-specific sentinel error. It is returned when a
// key has never been written or has been deleted.
//
// The service layer checks for this specific error and decides what an absent
// value means (an index that must be rebuilt, no active chat), thus decoupling
// that logic from the backend. It abstracts away `sql.ErrNoRows`, `redis.Nil`
// and cache misses.
var ErrNotFound = errors.New("repository: not found")
