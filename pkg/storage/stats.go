package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/grobertson/rosey/pkg/log"
	"github.com/grobertson/rosey/pkg/types"
)

// recentChatRetentionHours bounds the recent_chat table; older rows
// are trimmed opportunistically on insert and by maintenance.
const recentChatRetentionHours = 150

// UserJoined records a user joining the channel. Creates the user on
// first sight, otherwise opens a new session. Safe to replay: a second
// join simply restarts the session clock.
func (s *Store) UserJoined(ctx context.Context, username string) error {
	now := s.now()

	res, err := s.db.ExecContext(ctx, `
		UPDATE user_stats
		SET last_seen = ?, current_session_start = ?
		WHERE username = ?
	`, now, now, username)
	if err != nil {
		return fmt.Errorf("update user on join: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO user_stats (username, first_seen, last_seen, current_session_start)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(username) DO UPDATE SET
				last_seen = excluded.last_seen,
				current_session_start = excluded.current_session_start
		`, username, now, now, now)
		if err != nil {
			return fmt.Errorf("insert user on join: %w", err)
		}
	}
	return nil
}

// UserLeft closes the user's open session, folding the session
// duration into total_time_connected. A leave without an open session
// is a no-op (duplicate deliveries, reconnect replays).
func (s *Store) UserLeft(ctx context.Context, username string) error {
	now := s.now()

	_, err := s.db.ExecContext(ctx, `
		UPDATE user_stats
		SET last_seen = ?,
		    total_time_connected = total_time_connected + (? - current_session_start),
		    current_session_start = NULL
		WHERE username = ? AND current_session_start IS NOT NULL
	`, now, now, username)
	if err != nil {
		return fmt.Errorf("close session: %w", err)
	}
	return nil
}

// FinalizeSessions closes every open session. Called on service
// shutdown so no user is left mid-session across restarts.
func (s *Store) FinalizeSessions(ctx context.Context) (int64, error) {
	now := s.now()

	res, err := s.db.ExecContext(ctx, `
		UPDATE user_stats
		SET last_seen = ?,
		    total_time_connected = total_time_connected + (? - current_session_start),
		    current_session_start = NULL
		WHERE current_session_start IS NOT NULL
	`, now, now)
	if err != nil {
		return 0, fmt.Errorf("finalize sessions: %w", err)
	}
	return res.RowsAffected()
}

// UserChatMessage bumps the user's chat-line counter and appends the
// message to recent_chat, trimming rows past the retention window.
func (s *Store) UserChatMessage(ctx context.Context, username, message string) error {
	now := s.now()

	if _, err := s.db.ExecContext(ctx, `
		UPDATE user_stats
		SET total_chat_lines = total_chat_lines + 1, last_seen = ?
		WHERE username = ?
	`, now, username); err != nil {
		return fmt.Errorf("bump chat lines: %w", err)
	}

	if message == "" || username == "" {
		return nil
	}

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO recent_chat (timestamp, username, message)
		VALUES (?, ?, ?)
	`, now, username, message); err != nil {
		return fmt.Errorf("log chat message: %w", err)
	}

	cutoff := now - recentChatRetentionHours*3600
	if _, err := s.db.ExecContext(ctx, `
		DELETE FROM recent_chat WHERE timestamp < ?
	`, cutoff); err != nil {
		return fmt.Errorf("trim recent chat: %w", err)
	}
	return nil
}

// LogUserAction appends an audit-log entry
func (s *Store) LogUserAction(ctx context.Context, username, actionType, details string) error {
	var d any
	if details != "" {
		d = details
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_actions (timestamp, username, action_type, details)
		VALUES (?, ?, ?, ?)
	`, s.now(), username, actionType, d)
	if err != nil {
		return fmt.Errorf("log user action: %w", err)
	}
	return nil
}

// UpdateHighWaterMark raises the channel high-water marks. Values are
// monotone: a count at or below the stored maximum is ignored. Pass a
// negative connectedCount to skip the connected mark.
func (s *Store) UpdateHighWaterMark(ctx context.Context, userCount, connectedCount int64) error {
	now := s.now()
	logger := log.WithComponent("storage")

	res, err := s.db.ExecContext(ctx, `
		UPDATE channel_stats
		SET max_users = ?, max_users_timestamp = ?, last_updated = ?
		WHERE id = 1 AND ? > max_users
	`, userCount, now, now, userCount)
	if err != nil {
		return fmt.Errorf("update high water (chat): %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		logger.Info().Int64("users", userCount).Msg("New high water mark (chat)")
	}

	if connectedCount >= 0 {
		res, err = s.db.ExecContext(ctx, `
			UPDATE channel_stats
			SET max_connected = ?, max_connected_timestamp = ?, last_updated = ?
			WHERE id = 1 AND ? > max_connected
		`, connectedCount, now, now, connectedCount)
		if err != nil {
			return fmt.Errorf("update high water (connected): %w", err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			logger.Info().Int64("viewers", connectedCount).Msg("New high water mark (connected)")
		}
	}
	return nil
}

// GetUserStats returns stats for a user, or nil if never seen
func (s *Store) GetUserStats(ctx context.Context, username string) (*types.UserStats, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT username, first_seen, last_seen, total_chat_lines,
		       total_time_connected, current_session_start
		FROM user_stats WHERE username = ?
	`, username)

	var u types.UserStats
	var session sql.NullInt64
	err := row.Scan(&u.Username, &u.FirstSeen, &u.LastSeen,
		&u.TotalChatLines, &u.TotalTimeConnected, &session)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan user stats: %w", err)
	}
	if session.Valid {
		u.CurrentSessionStart = &session.Int64
	}
	return &u, nil
}

// GetChannelStats returns the singleton high-water row
func (s *Store) GetChannelStats(ctx context.Context) (*types.ChannelStats, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT max_users, max_users_timestamp, max_connected,
		       max_connected_timestamp, last_updated
		FROM channel_stats WHERE id = 1
	`)

	var c types.ChannelStats
	var usersTS, connectedTS sql.NullInt64
	err := row.Scan(&c.MaxUsers, &usersTS, &c.MaxConnected, &connectedTS, &c.LastUpdated)
	if err != nil {
		return nil, fmt.Errorf("scan channel stats: %w", err)
	}
	if usersTS.Valid {
		c.MaxUsersTimestamp = &usersTS.Int64
	}
	if connectedTS.Valid {
		c.MaxConnectedTimestamp = &connectedTS.Int64
	}
	return &c, nil
}

// GetTopChatters returns the most active users by chat lines
func (s *Store) GetTopChatters(ctx context.Context, limit int) ([]types.UserStats, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, total_chat_lines
		FROM user_stats
		WHERE total_chat_lines > 0
		ORDER BY total_chat_lines DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query top chatters: %w", err)
	}
	defer rows.Close()

	var out []types.UserStats
	for rows.Next() {
		var u types.UserStats
		if err := rows.Scan(&u.Username, &u.TotalChatLines); err != nil {
			return nil, fmt.Errorf("scan top chatter: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// GetTotalUsersSeen returns the count of unique users ever recorded
func (s *Store) GetTotalUsersSeen(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM user_stats`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return count, nil
}

// LogUserCount appends a user-count sample to the history series
func (s *Store) LogUserCount(ctx context.Context, chatUsers, connectedUsers int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_count_history (timestamp, chat_users, connected_users)
		VALUES (?, ?, ?)
	`, s.now(), chatUsers, connectedUsers)
	if err != nil {
		return fmt.Errorf("log user count: %w", err)
	}
	return nil
}

// GetUserCountHistory returns samples from the last N hours, ascending
func (s *Store) GetUserCountHistory(ctx context.Context, hours int) ([]types.UserCountSample, error) {
	if hours <= 0 {
		hours = 24
	}
	since := s.now() - int64(hours)*3600
	rows, err := s.db.QueryContext(ctx, `
		SELECT timestamp, chat_users, connected_users
		FROM user_count_history
		WHERE timestamp >= ?
		ORDER BY timestamp ASC
	`, since)
	if err != nil {
		return nil, fmt.Errorf("query user count history: %w", err)
	}
	defer rows.Close()

	out := []types.UserCountSample{}
	for rows.Next() {
		var sample types.UserCountSample
		if err := rows.Scan(&sample.Timestamp, &sample.ChatUsers, &sample.ConnectedUsers); err != nil {
			return nil, fmt.Errorf("scan user count sample: %w", err)
		}
		out = append(out, sample)
	}
	return out, rows.Err()
}

// CleanupOldHistory trims user-count samples older than the retention
// window (days).
func (s *Store) CleanupOldHistory(ctx context.Context, days int) (int64, error) {
	if days <= 0 {
		days = 30
	}
	cutoff := s.now() - int64(days)*86400
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM user_count_history WHERE timestamp < ?
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleanup history: %w", err)
	}
	return res.RowsAffected()
}

// GetRecentChat returns the latest chat messages in chronological
// order (oldest of the window first).
func (s *Store) GetRecentChat(ctx context.Context, limit int) ([]types.ChatMessage, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT timestamp, username, message
		FROM recent_chat
		ORDER BY timestamp DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent chat: %w", err)
	}
	defer rows.Close()

	var out []types.ChatMessage
	for rows.Next() {
		var m types.ChatMessage
		if err := rows.Scan(&m.Timestamp, &m.Username, &m.Message); err != nil {
			return nil, fmt.Errorf("scan chat message: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Query is newest-first; flip to chronological order
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}
