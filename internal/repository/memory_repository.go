package repository

import (
	"context"

	"github.com/patrickmn/go-cache"
)

type memoryRepository struct {
	client *cache.Cache
}

// NewMemoryRepository keeps values in process memory. Nothing survives a
// restart, so every start rebuilds the index from files.
func NewMemoryRepository() Repository {
	return &memoryRepository{client: cache.New(cache.NoExpiration, 0)}
}

func (r *memoryRepository) Get(_ context.Context, key string) (string, error) {
	v, ok := r.client.Get(key)
	if !ok {
		return "", ErrNotFound
	}
	s, ok := v.(string)
	if !ok {
		return "", ErrNotFound
	}
	return s, nil
}

func (r *memoryRepository) Set(_ context.Context, key, value string) error {
	r.client.Set(key, value, cache.NoExpiration)
	return nil
}

func (r *memoryRepository) Delete(_ context.Context, key string) error {
	r.client.Delete(key)
	return nil
}
