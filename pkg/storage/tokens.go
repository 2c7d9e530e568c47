package storage

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"fmt"

	"github.com/grobertson/rosey/pkg/log"
	"github.com/grobertson/rosey/pkg/types"
)

// GenerateAPIToken creates and stores a new authentication token.
// The returned value is the only time the full token is available;
// listings expose an 8-character preview.
func (s *Store) GenerateAPIToken(ctx context.Context, description string) (string, error) {
	raw := make([]byte, 32) // 256 bits
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	token := base64.RawURLEncoding.EncodeToString(raw)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO api_tokens (token, description, created_at)
		VALUES (?, ?, ?)
	`, token, description, s.now())
	if err != nil {
		return "", fmt.Errorf("store token: %w", err)
	}

	log.WithComponent("storage").Info().Str("token_preview", token[:8]).Msg("Generated API token")
	return token, nil
}

// ValidateAPIToken checks that a token exists and is not revoked,
// updating last_used on success.
func (s *Store) ValidateAPIToken(ctx context.Context, token string) (bool, error) {
	if token == "" {
		return false, nil
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE api_tokens
		SET last_used = ?
		WHERE token = ? AND revoked = 0
	`, s.now(), token)
	if err != nil {
		return false, fmt.Errorf("validate token: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return rows > 0, nil
}

// RevokeAPIToken revokes tokens matching the given value. Prefix
// matching is supported for inputs of at least 8 characters. Returns
// the number of tokens revoked.
func (s *Store) RevokeAPIToken(ctx context.Context, token string) (int64, error) {
	var res sql.Result
	var err error

	if len(token) >= 8 {
		res, err = s.db.ExecContext(ctx, `
			UPDATE api_tokens SET revoked = 1
			WHERE token LIKE ? AND revoked = 0
		`, token+"%")
	} else {
		res, err = s.db.ExecContext(ctx, `
			UPDATE api_tokens SET revoked = 1
			WHERE token = ? AND revoked = 0
		`, token)
	}
	if err != nil {
		return 0, fmt.Errorf("revoke token: %w", err)
	}

	count, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	if count > 0 {
		log.WithComponent("storage").Info().Int64("count", count).Msg("Revoked API tokens")
	}
	return count, nil
}

// ListAPITokens returns token metadata. Full token values are never
// included — only the first 8 characters.
func (s *Store) ListAPITokens(ctx context.Context, includeRevoked bool) ([]types.APIToken, error) {
	query := `
		SELECT token, description, created_at, last_used, revoked
		FROM api_tokens
	`
	if !includeRevoked {
		query += " WHERE revoked = 0"
	}
	query += " ORDER BY created_at DESC"

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list tokens: %w", err)
	}
	defer rows.Close()

	var out []types.APIToken
	for rows.Next() {
		var full string
		var t types.APIToken
		var description sql.NullString
		var lastUsed sql.NullInt64
		var revoked int64
		if err := rows.Scan(&full, &description, &t.CreatedAt, &lastUsed, &revoked); err != nil {
			return nil, fmt.Errorf("scan token: %w", err)
		}
		if len(full) >= 8 {
			t.TokenPreview = full[:8] + "..."
		}
		t.Description = description.String
		if lastUsed.Valid {
			t.LastUsed = &lastUsed.Int64
		}
		t.Revoked = revoked != 0
		out = append(out, t)
	}
	return out, rows.Err()
}
