package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

type sqliteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository stores values in the `settings` table.
func NewSQLiteRepository(db *sql.DB) Repository {
	return &sqliteRepository{db: db}
}

func (r *sqliteRepository) Get(ctx context.Context, key string) (string, error) {
	query := "SELECT value FROM settings WHERE key = ?"
	var value string
	err := r.db.QueryRowContext(ctx, query, key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("failed to read key %q: %w", key, err)
	}
	return value, nil
}

func (r *sqliteRepository) Set(ctx context.Context, key, value string) error {
	query := "INSERT INTO settings (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value"
	if _, err := r.db.ExecContext(ctx, query, key, value); err != nil {
		return fmt.Errorf("failed to write key %q: %w", key, err)
	}
	return nil
}

func (r *sqliteRepository) Delete(ctx context.Context, key string) error {
	query := "DELETE FROM settings WHERE key = ?"
	if _, err := r.db.ExecContext(ctx, query, key); err != nil {
		return fmt.Errorf("failed to delete key %q: %w", key, err)
	}
	return nil
}
