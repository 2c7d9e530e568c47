package service

import (
	"context"

	"github.com/grobertson/rosey/pkg/bus"
)

// Request/reply query handlers for bot state.

func (s *Service) handleOutboundGet(ctx context.Context, msg *bus.Msg) {
	request, ok := decodeRequest(msg)
	if !ok {
		return
	}

	limit := reqInt(request, "limit", 50)
	maxRetries := reqInt(request, "max_retries", 3)

	messages, err := s.store.GetUnsentOutbound(ctx, limit, maxRetries)
	if err != nil {
		respondErr(msg, CodeDatabaseError, "Failed to fetch outbound messages")
		return
	}
	respondOK(msg, map[string]any{"messages": messages})
}

func (s *Service) handleOutboundEnqueue(ctx context.Context, msg *bus.Msg) {
	request, ok := decodeRequest(msg)
	if !ok {
		return
	}

	message, ok := reqString(request, "message")
	if !ok {
		respondErr(msg, CodeMissingField, "Required field 'message' is missing")
		return
	}

	id, err := s.store.EnqueueOutbound(ctx, message)
	if err != nil {
		respondErr(msg, CodeDatabaseError, "Failed to enqueue message")
		return
	}
	respondOK(msg, map[string]any{"id": id})
}

func (s *Service) handleRecentChat(ctx context.Context, msg *bus.Msg) {
	request, ok := decodeRequest(msg)
	if !ok {
		return
	}

	limit := reqInt(request, "limit", 50)
	messages, err := s.store.GetRecentChat(ctx, limit)
	if err != nil {
		respondErr(msg, CodeDatabaseError, "Failed to fetch recent chat")
		return
	}
	respondOK(msg, map[string]any{"messages": messages})
}

func (s *Service) handleChannelStats(ctx context.Context, msg *bus.Msg) {
	stats, err := s.store.GetChannelStats(ctx)
	if err != nil {
		respondErr(msg, CodeDatabaseError, "Failed to fetch channel stats")
		return
	}

	chatters, err := s.store.GetTopChatters(ctx, 10)
	if err != nil {
		respondErr(msg, CodeDatabaseError, "Failed to fetch top chatters")
		return
	}
	topChatters := make([]map[string]any, 0, len(chatters))
	for _, u := range chatters {
		topChatters = append(topChatters, map[string]any{
			"username":   u.Username,
			"chat_lines": u.TotalChatLines,
		})
	}

	totalUsers, err := s.store.GetTotalUsersSeen(ctx)
	if err != nil {
		respondErr(msg, CodeDatabaseError, "Failed to count users")
		return
	}

	respondOK(msg, map[string]any{
		"high_water_mark": map[string]any{
			"users":     stats.MaxUsers,
			"timestamp": stats.MaxUsersTimestamp,
		},
		"high_water_connected": map[string]any{
			"users":     stats.MaxConnected,
			"timestamp": stats.MaxConnectedTimestamp,
		},
		"top_chatters":     topChatters,
		"total_users_seen": totalUsers,
	})
}

func (s *Service) handleUserStats(ctx context.Context, msg *bus.Msg) {
	request, ok := decodeRequest(msg)
	if !ok {
		return
	}

	username, ok := reqString(request, "username")
	if !ok {
		respondErr(msg, CodeMissingField, "Required field 'username' is missing")
		return
	}

	stats, err := s.store.GetUserStats(ctx, username)
	if err != nil {
		respondErr(msg, CodeDatabaseError, "Failed to fetch user stats")
		return
	}
	if stats == nil {
		respondOK(msg, map[string]any{
			"username": username,
			"found":    false,
		})
		return
	}

	respondOK(msg, map[string]any{
		"username":              stats.Username,
		"first_seen":            stats.FirstSeen,
		"last_seen":             stats.LastSeen,
		"total_chat_lines":      stats.TotalChatLines,
		"total_time_connected":  stats.TotalTimeConnected,
		"current_session_start": stats.CurrentSessionStart,
		"found":                 true,
	})
}

func (s *Service) handleUserCountHistory(ctx context.Context, msg *bus.Msg) {
	request, ok := decodeRequest(msg)
	if !ok {
		return
	}

	hours := reqInt(request, "hours", 24)
	history, err := s.store.GetUserCountHistory(ctx, hours)
	if err != nil {
		respondErr(msg, CodeDatabaseError, "Failed to fetch user count history")
		return
	}
	respondOK(msg, map[string]any{"history": history})
}

func (s *Service) handleStatusGet(ctx context.Context, msg *bus.Msg) {
	status, err := s.store.GetCurrentStatus(ctx)
	if err != nil {
		respondErr(msg, CodeDatabaseError, "Failed to fetch current status")
		return
	}
	respondOK(msg, map[string]any{"status": status})
}
