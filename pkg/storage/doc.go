/*
Package storage provides SQLite-backed persistence for the database service.

The storage package owns the single database file holding every durable
entity: user statistics, channel high-water marks, chat history, the
outbound message queue, API tokens, the live status snapshot, plugin
table schemas, plugin KV pairs and the plugin migration ledger. The
database service process is the only writer.

# Architecture

	┌──────────────────── SQLITE STORAGE ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │                 Store                       │          │
	│  │  - File: bot_data.db (WAL, NORMAL sync)     │          │
	│  │  - Driver: modernc.org/sqlite               │          │
	│  │  - busy_timeout 5000ms                      │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │              Core Tables                    │          │
	│  │  user_stats          (username PK)          │          │
	│  │  user_actions        (audit log)            │          │
	│  │  channel_stats       (singleton, id=1)      │          │
	│  │  user_count_history  (time series)          │          │
	│  │  recent_chat         (rolling window)       │          │
	│  │  current_status      (singleton, id=1)      │          │
	│  │  outbound_messages   (retry queue)          │          │
	│  │  api_tokens          (token PK)             │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │             Plugin Tables                   │          │
	│  │  plugin_table_schemas    (schema registry)  │          │
	│  │  plugin_kv               (KV with TTL)      │          │
	│  │  plugin_schema_migrations (ledger)          │          │
	│  │  {plugin}_{table}        (materialized)     │          │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

# Session accounting

Joins open a session (current_session_start set); leaves close it,
folding the elapsed time into total_time_connected. Join and leave
events may repeat or reorder under bus redelivery, so both operations
are idempotent: a duplicate join restarts the session clock and a
leave without an open session is a no-op. FinalizeSessions closes
everything open at shutdown. High-water marks only move up.

# Usage

	store, err := storage.Open("bot_data.db")
	if err != nil {
		return err
	}
	defer store.Close()

	err = store.UserJoined(ctx, "alice")
	stats, err := store.GetUserStats(ctx, "alice")
*/
package storage
