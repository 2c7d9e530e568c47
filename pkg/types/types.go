package types

import (
	"time"
)

// UserStats tracks per-user chat statistics
type UserStats struct {
	Username            string `json:"username"`
	FirstSeen           int64  `json:"first_seen"`
	LastSeen            int64  `json:"last_seen"`
	TotalChatLines      int64  `json:"total_chat_lines"`
	TotalTimeConnected  int64  `json:"total_time_connected"`
	CurrentSessionStart *int64 `json:"current_session_start"`
}

// InSession reports whether the user has an open session
func (u *UserStats) InSession() bool {
	return u.CurrentSessionStart != nil
}

// ChannelStats is the singleton high-water-mark row
type ChannelStats struct {
	MaxUsers              int64  `json:"max_users"`
	MaxUsersTimestamp     *int64 `json:"max_users_timestamp"`
	MaxConnected          int64  `json:"max_connected"`
	MaxConnectedTimestamp *int64 `json:"max_connected_timestamp"`
	LastUpdated           int64  `json:"last_updated"`
}

// UserCountSample is one point in the user-count history series
type UserCountSample struct {
	Timestamp      int64 `json:"timestamp"`
	ChatUsers      int64 `json:"chat_users"`
	ConnectedUsers int64 `json:"connected_users"`
}

// ChatMessage is a row in recent_chat
type ChatMessage struct {
	Timestamp int64  `json:"timestamp"`
	Username  string `json:"username"`
	Message   string `json:"message"`
}

// UserAction is an audit-log entry for moderator actions
type UserAction struct {
	ID         int64  `json:"id"`
	Timestamp  int64  `json:"timestamp"`
	Username   string `json:"username"`
	ActionType string `json:"action_type"`
	Details    string `json:"details,omitempty"`
}

// OutboundMessage is a queued message awaiting transmission by the bot
type OutboundMessage struct {
	ID            int64   `json:"id"`
	Timestamp     int64   `json:"timestamp"`
	Message       string  `json:"message"`
	Sent          bool    `json:"-"`
	SentTimestamp *int64  `json:"-"`
	RetryCount    int64   `json:"retry_count"`
	LastError     *string `json:"last_error,omitempty"`
}

// APIToken holds metadata for an authentication token.
// The full token value is never included in listings.
type APIToken struct {
	TokenPreview string `json:"token_preview"`
	Description  string `json:"description"`
	CreatedAt    int64  `json:"created_at"`
	LastUsed     *int64 `json:"last_used"`
	Revoked      bool   `json:"revoked"`
}

// CurrentStatus is the live bot/channel snapshot (singleton row)
type CurrentStatus struct {
	BotName               *string  `json:"bot_name"`
	BotRank               *float64 `json:"bot_rank"`
	BotAFK                int64    `json:"bot_afk"`
	ChannelName           *string  `json:"channel_name"`
	CurrentChatUsers      int64    `json:"current_chat_users"`
	CurrentConnectedUsers int64    `json:"current_connected_users"`
	PlaylistItems         int64    `json:"playlist_items"`
	CurrentMediaTitle     *string  `json:"current_media_title"`
	CurrentMediaDuration  *int64   `json:"current_media_duration"`
	BotStartTime          *int64   `json:"bot_start_time"`
	BotConnected          int64    `json:"bot_connected"`
	LastUpdated           int64    `json:"last_updated"`
}

// FieldType is a declared plugin-table column type
type FieldType string

const (
	FieldString   FieldType = "string"
	FieldText     FieldType = "text"
	FieldInteger  FieldType = "integer"
	FieldFloat    FieldType = "float"
	FieldBoolean  FieldType = "boolean"
	FieldDatetime FieldType = "datetime"
)

// SchemaField is one declared column in a plugin table schema
type SchemaField struct {
	Name     string    `json:"name"`
	Type     FieldType `json:"type"`
	Required bool      `json:"required"`
}

// TableSchema is the canonical schema document for a plugin table
type TableSchema struct {
	Fields []SchemaField `json:"fields"`
}

// Field returns the declared field by name, or nil
func (s *TableSchema) Field(name string) *SchemaField {
	for i := range s.Fields {
		if s.Fields[i].Name == name {
			return &s.Fields[i]
		}
	}
	return nil
}

// MigrationStatus is the ledger status of a plugin migration
type MigrationStatus string

const (
	MigrationApplied    MigrationStatus = "applied"
	MigrationFailed     MigrationStatus = "failed"
	MigrationRolledBack MigrationStatus = "rolled_back"
)

// MigrationRecord is one row in the plugin_schema_migrations ledger
type MigrationRecord struct {
	ID              int64           `json:"-"`
	PluginName      string          `json:"-"`
	Version         int             `json:"version"`
	Name            string          `json:"name"`
	Checksum        string          `json:"checksum"`
	AppliedAt       time.Time       `json:"applied_at"`
	AppliedBy       string          `json:"applied_by"`
	Status          MigrationStatus `json:"status"`
	ErrorMessage    *string         `json:"error_message,omitempty"`
	ExecutionTimeMS int64           `json:"execution_time_ms"`
}
