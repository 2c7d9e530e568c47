package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/grobertson/rosey/pkg/log"
)

// Store is the SQLite-backed persistence layer. Everything durable —
// bot state, plugin schemas, plugin rows, KV pairs, the migration
// ledger — lives in a single database file owned by the database
// service process.
type Store struct {
	db  *sql.DB
	now func() int64
}

// Open opens (or creates) the database at path and ensures the core
// schema exists. Pass ":memory:" for an in-memory database in tests.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("create database directory: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if path == ":memory:" {
		// database/sql pools connections; each new connection would get
		// its own empty in-memory database.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply %s: %w", pragma, err)
		}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &Store{db: db, now: func() int64 { return time.Now().Unix() }}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS user_stats (
		username TEXT PRIMARY KEY,
		first_seen INTEGER NOT NULL,
		last_seen INTEGER NOT NULL,
		total_chat_lines INTEGER DEFAULT 0,
		total_time_connected INTEGER DEFAULT 0,
		current_session_start INTEGER
	);

	CREATE TABLE IF NOT EXISTS user_actions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp INTEGER NOT NULL,
		username TEXT NOT NULL,
		action_type TEXT NOT NULL,
		details TEXT
	);

	CREATE TABLE IF NOT EXISTS channel_stats (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		max_users INTEGER DEFAULT 0,
		max_users_timestamp INTEGER,
		max_connected INTEGER DEFAULT 0,
		max_connected_timestamp INTEGER,
		last_updated INTEGER
	);

	CREATE TABLE IF NOT EXISTS user_count_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp INTEGER NOT NULL,
		chat_users INTEGER NOT NULL,
		connected_users INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_user_count_timestamp
		ON user_count_history(timestamp);

	CREATE TABLE IF NOT EXISTS recent_chat (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp INTEGER NOT NULL,
		username TEXT NOT NULL,
		message TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_recent_chat_timestamp
		ON recent_chat(timestamp DESC);

	CREATE TABLE IF NOT EXISTS current_status (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		bot_name TEXT,
		bot_rank REAL,
		bot_afk INTEGER DEFAULT 0,
		channel_name TEXT,
		current_chat_users INTEGER DEFAULT 0,
		current_connected_users INTEGER DEFAULT 0,
		playlist_items INTEGER DEFAULT 0,
		current_media_title TEXT,
		current_media_duration INTEGER,
		bot_start_time INTEGER,
		bot_connected INTEGER DEFAULT 0,
		last_updated INTEGER
	);

	CREATE TABLE IF NOT EXISTS outbound_messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp INTEGER NOT NULL,
		message TEXT NOT NULL,
		sent INTEGER DEFAULT 0,
		sent_timestamp INTEGER,
		retry_count INTEGER DEFAULT 0,
		last_error TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_outbound_sent
		ON outbound_messages(sent, timestamp);

	CREATE TABLE IF NOT EXISTS api_tokens (
		token TEXT PRIMARY KEY,
		description TEXT,
		created_at INTEGER NOT NULL,
		last_used INTEGER,
		revoked INTEGER DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_api_tokens_revoked
		ON api_tokens(revoked, token);

	CREATE TABLE IF NOT EXISTS plugin_table_schemas (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		plugin_name TEXT NOT NULL,
		table_name TEXT NOT NULL,
		version INTEGER NOT NULL DEFAULT 1,
		schema_json TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		UNIQUE(plugin_name, table_name)
	);

	CREATE TABLE IF NOT EXISTS plugin_kv (
		plugin_name TEXT NOT NULL,
		key TEXT NOT NULL,
		value_json TEXT NOT NULL,
		expires_at INTEGER,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (plugin_name, key)
	);
	CREATE INDEX IF NOT EXISTS idx_plugin_kv_expires
		ON plugin_kv(expires_at);

	CREATE TABLE IF NOT EXISTS plugin_schema_migrations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		plugin_name TEXT NOT NULL,
		version INTEGER NOT NULL,
		name TEXT NOT NULL,
		checksum TEXT NOT NULL,
		applied_at INTEGER NOT NULL,
		applied_by TEXT NOT NULL,
		status TEXT NOT NULL,
		error_message TEXT,
		execution_time_ms INTEGER NOT NULL DEFAULT 0,
		UNIQUE(plugin_name, version)
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}

	now := s.now()
	if _, err := s.db.Exec(`
		INSERT INTO channel_stats (id, max_users, last_updated)
		VALUES (1, 0, ?)
		ON CONFLICT(id) DO NOTHING
	`, now); err != nil {
		return fmt.Errorf("seed channel_stats: %w", err)
	}
	if _, err := s.db.Exec(`
		INSERT INTO current_status (id, last_updated)
		VALUES (1, ?)
		ON CONFLICT(id) DO NOTHING
	`, now); err != nil {
		return fmt.Errorf("seed current_status: %w", err)
	}

	log.WithComponent("storage").Debug().Msg("Database schema ready")
	return nil
}

// DB exposes the underlying handle for the registry, row engine, KV
// store and migration engine, which share this database.
func (s *Store) DB() *sql.DB {
	return s.db
}

// SetNowFunc overrides the clock. Tests only.
func (s *Store) SetNowFunc(now func() int64) {
	s.now = now
}

// Now returns the store's current epoch-second clock
func (s *Store) Now() int64 {
	return s.now()
}

// Ping verifies database connectivity
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}
