package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Checkpoint returns the value stored under key in sync_state. ok is false
// when the key has never been set.
func (s *Store) Checkpoint(ctx context.Context, key string) (value string, ok bool, err error) {
	return ReadCheckpoint(ctx, s.db, key)
}

// ReadCheckpoint is Checkpoint on an explicit connection or transaction.
func ReadCheckpoint(ctx context.Context, q Querier, key string) (value string, ok bool, err error) {
	err = q.QueryRowContext(ctx, `SELECT value FROM sync_state WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("checkpoint %q: %w", key, err)
	}
	return value, true, nil
}

// SetCheckpoint upserts a sync_state value inside a write transaction.
func SetCheckpoint(ctx context.Context, tx *Tx, key, value string, at time.Time) error {
	_, err := tx.write(ctx, "sync_state", `
		INSERT INTO sync_state (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, at.UnixMilli())
	if err != nil {
		return fmt.Errorf("set checkpoint %q: %w", key, err)
	}
	return nil
}
