package bot

import (
	"context"
	"time"

	"github.com/grobertson/rosey/pkg/bus"
)

// userCountLoop publishes periodic user-count samples for the history
// series.
func (b *Bot) userCountLoop(ctx context.Context) {
	ticker := time.NewTicker(b.cfg.UserCountInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if !b.adapter.Connected() {
			continue
		}
		chat, connected := b.counts()
		b.publish(bus.SubjectUserCount, map[string]any{
			"chat_count":      chat,
			"connected_count": connected,
		})
	}
}

// statusLoop publishes the live status snapshot for web display
func (b *Bot) statusLoop(ctx context.Context) {
	ticker := time.NewTicker(b.cfg.StatusInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		chat, connected := b.counts()
		connectedFlag := int64(0)
		if b.adapter.Connected() {
			connectedFlag = 1
		}

		b.publish(bus.SubjectStatusUpdate, map[string]any{
			"status_data": map[string]any{
				"bot_name":                b.cfg.Name,
				"channel_name":            b.cfg.Channel,
				"current_chat_users":      chat,
				"current_connected_users": connected,
				"bot_start_time":          b.startTime,
				"bot_connected":           connectedFlag,
			},
		})
	}
}
