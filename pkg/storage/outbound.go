package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/grobertson/rosey/pkg/log"
	"github.com/grobertson/rosey/pkg/types"
)

// EnqueueOutbound queues a message for the bot to send and returns
// its id.
func (s *Store) EnqueueOutbound(ctx context.Context, message string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO outbound_messages (timestamp, message, sent)
		VALUES (?, ?, 0)
	`, s.now(), message)
	if err != nil {
		return 0, fmt.Errorf("enqueue outbound: %w", err)
	}
	return res.LastInsertId()
}

// GetUnsentOutbound fetches unsent messages whose retry backoff has
// elapsed. Eligibility: not sent, retry_count below maxRetries, and
// either never retried or past timestamp + 2^retry_count minutes.
func (s *Store) GetUnsentOutbound(ctx context.Context, limit, maxRetries int) ([]types.OutboundMessage, error) {
	if limit <= 0 {
		limit = 50
	}
	if maxRetries <= 0 {
		maxRetries = 3
	}
	now := s.now()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, timestamp, message, retry_count, last_error
		FROM outbound_messages
		WHERE sent = 0
		  AND retry_count < ?
		  AND (retry_count = 0 OR timestamp + (1 << retry_count) * 60 <= ?)
		ORDER BY timestamp ASC
		LIMIT ?
	`, maxRetries, now, limit)
	if err != nil {
		return nil, fmt.Errorf("query unsent outbound: %w", err)
	}
	defer rows.Close()

	out := []types.OutboundMessage{}
	for rows.Next() {
		var m types.OutboundMessage
		var lastError sql.NullString
		if err := rows.Scan(&m.ID, &m.Timestamp, &m.Message, &m.RetryCount, &lastError); err != nil {
			return nil, fmt.Errorf("scan outbound: %w", err)
		}
		if lastError.Valid {
			m.LastError = &lastError.String
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// MarkOutboundSent records a successful transmission
func (s *Store) MarkOutboundSent(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE outbound_messages
		SET sent = 1, sent_timestamp = ?
		WHERE id = ?
	`, s.now(), id)
	if err != nil {
		return fmt.Errorf("mark outbound sent: %w", err)
	}
	return nil
}

// MarkOutboundFailed records a failed transmission attempt. Transient
// failures bump retry_count so the backoff window moves out; permanent
// failures (permission denied, muted, flood control) are marked sent
// so the row is never offered again.
func (s *Store) MarkOutboundFailed(ctx context.Context, id int64, errMsg string, permanent bool) error {
	logger := log.WithComponent("storage")

	if permanent {
		_, err := s.db.ExecContext(ctx, `
			UPDATE outbound_messages
			SET sent = 1,
			    sent_timestamp = ?,
			    retry_count = retry_count + 1,
			    last_error = ?
			WHERE id = ?
		`, s.now(), errMsg, id)
		if err != nil {
			return fmt.Errorf("mark outbound failed: %w", err)
		}
		logger.Warn().Int64("id", id).Str("error", errMsg).Msg("Outbound message permanently failed")
		return nil
	}

	_, err := s.db.ExecContext(ctx, `
		UPDATE outbound_messages
		SET retry_count = retry_count + 1, last_error = ?
		WHERE id = ?
	`, errMsg, id)
	if err != nil {
		return fmt.Errorf("mark outbound failed: %w", err)
	}
	logger.Info().Int64("id", id).Str("error", errMsg).Msg("Outbound message failed, will retry")
	return nil
}
