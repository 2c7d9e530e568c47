package kv

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/grobertson/rosey/pkg/types"
)

// MaxValueSize bounds the serialized value: 64 KiB
const MaxValueSize = 64 * 1024

// DefaultListLimit applies when a list names no limit
const DefaultListLimit = 1000

// ErrValueTooLarge is returned when a serialized value exceeds
// MaxValueSize.
var ErrValueTooLarge = errors.New("kv: value exceeds 64KB limit")

// Store is the per-plugin key/value store. Every operation is scoped
// by plugin name; plugins can never observe each other's keys.
type Store struct {
	db  *sql.DB
	now func() int64
}

// ListResult is one page of keys
type ListResult struct {
	Keys      []string `json:"keys"`
	Count     int      `json:"count"`
	Truncated bool     `json:"truncated"`
}

// New creates a Store over the shared database handle
func New(db *sql.DB, now func() int64) *Store {
	return &Store{db: db, now: now}
}

// Set upserts a key. The value may be any JSON value; a serialized
// size over 64 KiB fails with ErrValueTooLarge. A positive ttlSeconds
// sets an absolute expiry; zero or negative means no expiry. Updating
// a key replaces both value and expiry.
func (s *Store) Set(ctx context.Context, plugin, key string, value any, ttlSeconds int64) error {
	encoded, err := json.Marshal(value)
	if err != nil {
		return types.Validationf("value is not JSON-serializable: %v", err)
	}
	if len(encoded) > MaxValueSize {
		return ErrValueTooLarge
	}

	now := s.now()
	var expiresAt any
	if ttlSeconds > 0 {
		expiresAt = now + ttlSeconds
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO plugin_kv (plugin_name, key, value_json, expires_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(plugin_name, key) DO UPDATE SET
			value_json = excluded.value_json,
			expires_at = excluded.expires_at,
			updated_at = excluded.updated_at
	`, plugin, key, string(encoded), expiresAt, now, now)
	if err != nil {
		return fmt.Errorf("kv set: %w", err)
	}
	return nil
}

// Get fetches a key's value. Expired rows are treated as nonexistent.
func (s *Store) Get(ctx context.Context, plugin, key string) (value any, exists bool, err error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT value_json, expires_at
		FROM plugin_kv
		WHERE plugin_name = ? AND key = ?
	`, plugin, key)

	var encoded string
	var expiresAt sql.NullInt64
	if err := row.Scan(&encoded, &expiresAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("kv get: %w", err)
	}

	if expiresAt.Valid && expiresAt.Int64 <= s.now() {
		return nil, false, nil
	}

	var decoded any
	if err := json.Unmarshal([]byte(encoded), &decoded); err != nil {
		return nil, false, fmt.Errorf("kv decode %s/%s: %w", plugin, key, err)
	}
	return decoded, true, nil
}

// Delete removes a key. Idempotent: deleting a missing key returns
// deleted=false with no error.
func (s *Store) Delete(ctx context.Context, plugin, key string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM plugin_kv WHERE plugin_name = ? AND key = ?
	`, plugin, key)
	if err != nil {
		return false, fmt.Errorf("kv delete: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// List returns keys in lexicographic order, optionally filtered by a
// case-sensitive prefix. Expired keys are excluded. Truncated is set
// when exactly limit keys came back.
func (s *Store) List(ctx context.Context, plugin, prefix string, limit int) (*ListResult, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	now := s.now()

	query := `
		SELECT key FROM plugin_kv
		WHERE plugin_name = ?
		  AND (expires_at IS NULL OR expires_at > ?)
	`
	args := []any{plugin, now}
	if prefix != "" {
		query += ` AND key >= ?`
		args = append(args, prefix)
		if upper, ok := prefixUpperBound(prefix); ok {
			query += ` AND key < ?`
			args = append(args, upper)
		}
	}
	query += ` ORDER BY key ASC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("kv list: %w", err)
	}
	defer rows.Close()

	keys := []string{}
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scan key: %w", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &ListResult{
		Keys:      keys,
		Count:     len(keys),
		Truncated: len(keys) == limit,
	}, nil
}

// CleanupExpired deletes every expired row and returns the count
func (s *Store) CleanupExpired(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM plugin_kv WHERE expires_at IS NOT NULL AND expires_at <= ?
	`, s.now())
	if err != nil {
		return 0, fmt.Errorf("kv cleanup: %w", err)
	}
	return res.RowsAffected()
}

// prefixUpperBound computes the smallest string greater than every
// string with the given prefix, for a range scan on the key index.
// Returns ok=false when no finite bound exists (all-0xff prefix).
func prefixUpperBound(prefix string) (string, bool) {
	b := []byte(prefix)
	for i := len(b) - 1; i >= 0; i-- {
		if b[i] < 0xff {
			b[i]++
			return string(b[:i+1]), true
		}
	}
	return "", false
}
