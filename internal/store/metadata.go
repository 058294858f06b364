package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// SetMetadata writes a bookkeeping key/value pair.
func (s *SQLiteStore) SetMetadata(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO metadata (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		key, value)
	if err != nil {
		return fmt.Errorf("set metadata %s: %w", key, err)
	}
	return nil
}

// GetMetadata reads a bookkeeping value. Returns ErrNotFound when unset.
func (s *SQLiteStore) GetMetadata(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM metadata WHERE key = ?", key).Scan(&value)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("get metadata %s: %w", key, err)
	}
	return value, nil
}

// SetLastSync stamps the given key with a timestamp in the store's format.
func (s *SQLiteStore) SetLastSync(ctx context.Context, key string, t time.Time) error {
	return s.SetMetadata(ctx, key, formatTime(t))
}

// GetLastSync reads a sync timestamp. Zero time when unset.
func (s *SQLiteStore) GetLastSync(ctx context.Context, key string) (time.Time, error) {
	value, err := s.GetMetadata(ctx, key)
	if err != nil {
		if err == ErrNotFound {
			return time.Time{}, nil
		}
		return time.Time{}, err
	}
	return parseTime(value), nil
}
