package localstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// KV is a generic key/value table for small client flags. Values are
// opaque bytes and independent of the sample log.
type KV struct {
	store *Store
}

// Set stores value under key, replacing any previous value.
func (kv *KV) Set(ctx context.Context, key string, value []byte) error {
	db, err := kv.store.conn(ctx)
	if err != nil {
		return err
	}
	if value == nil {
		value = []byte{}
	}
	_, err = db.ExecContext(ctx,
		`INSERT INTO kv (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("setting %q: %w", key, err)
	}
	return nil
}

// Get returns the value under key, or ErrKeyNotFound.
func (kv *KV) Get(ctx context.Context, key string) ([]byte, error) {
	db, err := kv.store.conn(ctx)
	if err != nil {
		return nil, err
	}
	var value []byte
	err = db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting %q: %w", key, err)
	}
	return value, nil
}

// Delete removes key. Deleting a missing key is not an error.
func (kv *KV) Delete(ctx context.Context, key string) error {
	db, err := kv.store.conn(ctx)
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("deleting %q: %w", key, err)
	}
	return nil
}
