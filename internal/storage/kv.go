package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// SessionStore exposes the kv_store table as an auth.DurableStore, so a
// login survives process restarts. Last writer wins.
type SessionStore struct {
	db *sql.DB
}

// SessionStore returns the durable key/value view over this repository.
func (r *Repository) SessionStore() *SessionStore {
	return &SessionStore{db: r.db}
}

func (s *SessionStore) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv_store WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("kv get %s: %w", key, err)
	}
	return value, true, nil
}

func (s *SessionStore) Set(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kv_store (key, value, updated_at) VALUES (?, ?, datetime('now'))
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value)
	if err != nil {
		return fmt.Errorf("kv set %s: %w", key, err)
	}
	return nil
}

func (s *SessionStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv_store WHERE key = ?`, key); err != nil {
		return fmt.Errorf("kv delete %s: %w", key, err)
	}
	return nil
}
