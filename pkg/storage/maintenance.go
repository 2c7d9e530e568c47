package storage

import (
	"context"
	"fmt"

	"github.com/grobertson/rosey/pkg/log"
)

// PerformMaintenance runs the periodic cleanup pass: trims old
// user-count history, old recent chat, delivered outbound messages and
// stale revoked tokens, then VACUUMs and re-analyzes. Idempotent.
func (s *Store) PerformMaintenance(ctx context.Context) error {
	logger := log.WithComponent("storage")
	now := s.now()

	deletedHistory, err := s.CleanupOldHistory(ctx, 30)
	if err != nil {
		return err
	}

	cutoffChat := now - recentChatRetentionHours*3600
	resChat, err := s.db.ExecContext(ctx, `
		DELETE FROM recent_chat WHERE timestamp < ?
	`, cutoffChat)
	if err != nil {
		return fmt.Errorf("trim recent chat: %w", err)
	}
	deletedChat, _ := resChat.RowsAffected()

	cutoffSent := now - 7*86400
	resOutbound, err := s.db.ExecContext(ctx, `
		DELETE FROM outbound_messages
		WHERE sent = 1 AND sent_timestamp < ?
	`, cutoffSent)
	if err != nil {
		return fmt.Errorf("trim outbound messages: %w", err)
	}
	deletedOutbound, _ := resOutbound.RowsAffected()

	cutoffTokens := now - 90*86400
	resTokens, err := s.db.ExecContext(ctx, `
		DELETE FROM api_tokens
		WHERE revoked = 1 AND created_at < ?
	`, cutoffTokens)
	if err != nil {
		return fmt.Errorf("trim revoked tokens: %w", err)
	}
	deletedTokens, _ := resTokens.RowsAffected()

	if _, err := s.db.ExecContext(ctx, "VACUUM"); err != nil {
		return fmt.Errorf("vacuum: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "ANALYZE"); err != nil {
		return fmt.Errorf("analyze: %w", err)
	}

	logger.Info().
		Int64("history", deletedHistory).
		Int64("chat", deletedChat).
		Int64("outbound", deletedOutbound).
		Int64("tokens", deletedTokens).
		Msg("Database maintenance completed")
	return nil
}
