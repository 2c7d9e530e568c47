package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/grobertson/rosey/pkg/types"
)

// statusFields is the allowed set of current_status columns writable
// through status updates. Unknown fields are silently dropped.
var statusFields = map[string]struct{}{
	"bot_name":                {},
	"bot_rank":                {},
	"bot_afk":                 {},
	"channel_name":            {},
	"current_chat_users":      {},
	"current_connected_users": {},
	"playlist_items":          {},
	"current_media_title":     {},
	"current_media_duration":  {},
	"bot_start_time":          {},
	"bot_connected":           {},
}

// UpdateCurrentStatus applies a partial status snapshot. Only fields
// in the allowed set are written; last_updated is always refreshed.
func (s *Store) UpdateCurrentStatus(ctx context.Context, statusData map[string]any) error {
	sets := make([]string, 0, len(statusData)+1)
	args := make([]any, 0, len(statusData)+1)

	for key, value := range statusData {
		if _, ok := statusFields[key]; !ok {
			continue
		}
		sets = append(sets, key+" = ?")
		args = append(args, value)
	}
	if len(sets) == 0 {
		return nil
	}

	sets = append(sets, "last_updated = ?")
	args = append(args, s.now())

	query := "UPDATE current_status SET " + strings.Join(sets, ", ") + " WHERE id = 1"
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("update current status: %w", err)
	}
	return nil
}

// GetCurrentStatus returns the live status snapshot
func (s *Store) GetCurrentStatus(ctx context.Context) (*types.CurrentStatus, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT bot_name, bot_rank, bot_afk, channel_name,
		       current_chat_users, current_connected_users, playlist_items,
		       current_media_title, current_media_duration,
		       bot_start_time, bot_connected, last_updated
		FROM current_status WHERE id = 1
	`)

	var st types.CurrentStatus
	var botName, channelName, mediaTitle sql.NullString
	var botRank sql.NullFloat64
	var mediaDuration, startTime sql.NullInt64

	err := row.Scan(&botName, &botRank, &st.BotAFK, &channelName,
		&st.CurrentChatUsers, &st.CurrentConnectedUsers, &st.PlaylistItems,
		&mediaTitle, &mediaDuration, &startTime, &st.BotConnected, &st.LastUpdated)
	if err != nil {
		return nil, fmt.Errorf("scan current status: %w", err)
	}

	if botName.Valid {
		st.BotName = &botName.String
	}
	if botRank.Valid {
		st.BotRank = &botRank.Float64
	}
	if channelName.Valid {
		st.ChannelName = &channelName.String
	}
	if mediaTitle.Valid {
		st.CurrentMediaTitle = &mediaTitle.String
	}
	if mediaDuration.Valid {
		st.CurrentMediaDuration = &mediaDuration.Int64
	}
	if startTime.Valid {
		st.BotStartTime = &startTime.Int64
	}
	return &st, nil
}
