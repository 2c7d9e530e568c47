package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/grobertson/rosey/pkg/bus"
)

// Pub/sub handlers. These are fire-and-forget: bad payloads are
// logged and dropped, never reported back to the publisher.

func (s *Service) handleUserJoined(ctx context.Context, msg *bus.Msg) error {
	var payload struct {
		Username string `json:"username"`
	}
	if err := json.Unmarshal(msg.Data, &payload); err != nil {
		return fmt.Errorf("invalid JSON in user_joined: %w", err)
	}
	if payload.Username == "" {
		s.logger.Warn().Msg("user_joined: missing username")
		return nil
	}
	return s.store.UserJoined(ctx, payload.Username)
}

func (s *Service) handleUserLeft(ctx context.Context, msg *bus.Msg) error {
	var payload struct {
		Username string `json:"username"`
	}
	if err := json.Unmarshal(msg.Data, &payload); err != nil {
		return fmt.Errorf("invalid JSON in user_left: %w", err)
	}
	if payload.Username == "" {
		s.logger.Warn().Msg("user_left: missing username")
		return nil
	}
	return s.store.UserLeft(ctx, payload.Username)
}

func (s *Service) handleMessageLog(ctx context.Context, msg *bus.Msg) error {
	var payload struct {
		Username string `json:"username"`
		Message  string `json:"message"`
	}
	if err := json.Unmarshal(msg.Data, &payload); err != nil {
		return fmt.Errorf("invalid JSON in message_log: %w", err)
	}
	if payload.Username == "" || payload.Message == "" {
		s.logger.Warn().Msg("message_log: missing username or message")
		return nil
	}
	// Server notices are not chat
	if strings.EqualFold(payload.Username, "server") {
		return nil
	}
	return s.store.UserChatMessage(ctx, payload.Username, payload.Message)
}

func (s *Service) handleUserCount(ctx context.Context, msg *bus.Msg) error {
	var payload struct {
		ChatCount      int64 `json:"chat_count"`
		ConnectedCount int64 `json:"connected_count"`
	}
	if err := json.Unmarshal(msg.Data, &payload); err != nil {
		return fmt.Errorf("invalid JSON in user_count: %w", err)
	}
	return s.store.LogUserCount(ctx, payload.ChatCount, payload.ConnectedCount)
}

func (s *Service) handleHighWater(ctx context.Context, msg *bus.Msg) error {
	var payload struct {
		ChatCount      int64  `json:"chat_count"`
		ConnectedCount *int64 `json:"connected_count"`
	}
	if err := json.Unmarshal(msg.Data, &payload); err != nil {
		return fmt.Errorf("invalid JSON in high_water: %w", err)
	}
	connected := int64(-1)
	if payload.ConnectedCount != nil {
		connected = *payload.ConnectedCount
	}
	return s.store.UpdateHighWaterMark(ctx, payload.ChatCount, connected)
}

func (s *Service) handleStatusUpdate(ctx context.Context, msg *bus.Msg) error {
	var payload struct {
		StatusData map[string]any `json:"status_data"`
	}
	if err := json.Unmarshal(msg.Data, &payload); err != nil {
		return fmt.Errorf("invalid JSON in status_update: %w", err)
	}
	if len(payload.StatusData) == 0 {
		s.logger.Warn().Msg("status_update: no status data")
		return nil
	}
	return s.store.UpdateCurrentStatus(ctx, payload.StatusData)
}

func (s *Service) handleMarkSent(ctx context.Context, msg *bus.Msg) error {
	var payload struct {
		MessageID *int64 `json:"message_id"`
	}
	if err := json.Unmarshal(msg.Data, &payload); err != nil {
		return fmt.Errorf("invalid JSON in mark_sent: %w", err)
	}
	if payload.MessageID == nil {
		s.logger.Warn().Msg("mark_sent: missing message_id")
		return nil
	}
	return s.store.MarkOutboundSent(ctx, *payload.MessageID)
}

func (s *Service) handleMarkFailed(ctx context.Context, msg *bus.Msg) error {
	var payload struct {
		MessageID *int64 `json:"message_id"`
		Error     string `json:"error"`
		Permanent bool   `json:"permanent"`
	}
	if err := json.Unmarshal(msg.Data, &payload); err != nil {
		return fmt.Errorf("invalid JSON in mark_failed: %w", err)
	}
	if payload.MessageID == nil {
		s.logger.Warn().Msg("mark_failed: missing message_id")
		return nil
	}
	return s.store.MarkOutboundFailed(ctx, *payload.MessageID, payload.Error, payload.Permanent)
}

func (s *Service) handlePMCommand(ctx context.Context, msg *bus.Msg) error {
	var payload struct {
		Username string `json:"username"`
		Command  string `json:"command"`
		Args     string `json:"args"`
		Result   string `json:"result"`
		Error    string `json:"error"`
	}
	if err := json.Unmarshal(msg.Data, &payload); err != nil {
		return fmt.Errorf("invalid JSON in pm_command: %w", err)
	}
	if payload.Username == "" || payload.Command == "" {
		s.logger.Warn().Msg("pm_command: missing required fields")
		return nil
	}

	details := "cmd=" + payload.Command
	if payload.Args != "" {
		details += ", args: " + payload.Args
	}
	if payload.Result != "" {
		details += ", result: " + payload.Result
	}
	if payload.Error != "" {
		details += ", error: " + payload.Error
	}

	return s.store.LogUserAction(ctx, payload.Username, "pm_command", details)
}
