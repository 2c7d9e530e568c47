package bot

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/grobertson/rosey/pkg/bus"
	"github.com/grobertson/rosey/pkg/connection"
	"github.com/grobertson/rosey/pkg/events"
	"github.com/grobertson/rosey/pkg/log"
)

// Config holds bot settings
type Config struct {
	Name              string
	Channel           string
	UserCountInterval time.Duration
	StatusInterval    time.Duration
	OutboundInterval  time.Duration
}

// Bot is the connection front-end: it consumes normalized events from
// the platform adapter, mirrors channel state, and publishes
// fire-and-forget state writes to the database service over the bus.
// It owns no durable state of its own.
type Bot struct {
	adapter connection.Adapter
	conn    bus.Conn
	cfg     Config
	logger  zerolog.Logger

	instanceID string
	startTime  int64

	mu                sync.Mutex
	users             map[string]events.User
	connectedCount    int64
	permissionsLoaded bool
}

// New creates a Bot and registers its event handlers on the adapter
func New(adapter connection.Adapter, conn bus.Conn, cfg Config) *Bot {
	if cfg.UserCountInterval <= 0 {
		cfg.UserCountInterval = 300 * time.Second
	}
	if cfg.StatusInterval <= 0 {
		cfg.StatusInterval = 10 * time.Second
	}
	if cfg.OutboundInterval <= 0 {
		cfg.OutboundInterval = 2 * time.Second
	}

	b := &Bot{
		adapter:    adapter,
		conn:       conn,
		cfg:        cfg,
		logger:     log.WithComponent("bot"),
		instanceID: uuid.NewString(),
		startTime:  time.Now().Unix(),
		users:      make(map[string]events.User),
	}

	adapter.OnEvent(events.EventMessage, b.onMessage)
	adapter.OnEvent(events.EventUserJoin, b.onUserJoin)
	adapter.OnEvent(events.EventUserLeave, b.onUserLeave)
	adapter.OnEvent(events.EventUserList, b.onUserList)
	adapter.OnEvent(events.EventDisconnected, b.onDisconnected)

	return b
}

// Run connects to the platform (with backoff) and drives the
// background loops until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) error {
	if err := connection.Reconnect(ctx, b.adapter, connection.DefaultBackoff); err != nil {
		return err
	}
	b.logger.Info().Str("instance_id", b.instanceID).Str("channel", b.cfg.Channel).
		Msg("Bot connected")

	var wg sync.WaitGroup
	loops := []func(context.Context){
		b.userCountLoop,
		b.statusLoop,
		b.outboundLoop,
	}
	for _, loop := range loops {
		wg.Add(1)
		go func(run func(context.Context)) {
			defer wg.Done()
			run(ctx)
		}(loop)
	}

	<-ctx.Done()
	wg.Wait()

	if err := b.adapter.Disconnect(); err != nil {
		b.logger.Warn().Err(err).Msg("Disconnect failed")
	}
	return nil
}

// publish sends a fire-and-forget state write. Failures are logged
// and dropped; the database service never reports back on pub/sub.
func (b *Bot) publish(subject string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		b.logger.Error().Err(err).Str("subject", subject).Msg("Failed to encode payload")
		return
	}
	if err := b.conn.Publish(subject, data); err != nil {
		b.logger.Error().Err(err).Str("subject", subject).Msg("Publish failed")
	}
}

func (b *Bot) onMessage(ev events.Event) {
	user, _ := ev.Data["user"].(string)
	content, _ := ev.Data["content"].(string)
	if user == "" || content == "" {
		return
	}
	b.publish(bus.SubjectMessageLog, map[string]any{
		"username": user,
		"message":  content,
	})
}

func (b *Bot) onUserJoin(ev events.Event) {
	user, _ := ev.Data["user"].(string)
	if user == "" {
		return
	}

	b.mu.Lock()
	if userData, ok := ev.Data["user_data"].(map[string]any); ok {
		b.users[user] = events.NormalizeUser(remapUser(userData))
	} else {
		b.users[user] = events.User{Username: user}
	}
	chatCount := int64(len(b.users))
	connected := b.connectedCount
	b.mu.Unlock()

	b.publish(bus.SubjectUserJoined, map[string]any{"username": user})
	b.publishHighWater(chatCount, connected)
}

func (b *Bot) onUserLeave(ev events.Event) {
	user, _ := ev.Data["user"].(string)
	if user == "" {
		return
	}

	b.mu.Lock()
	delete(b.users, user)
	b.mu.Unlock()

	b.publish(bus.SubjectUserLeft, map[string]any{"username": user})
}

func (b *Bot) onUserList(ev events.Event) {
	list, _ := ev.Data["users"].([]map[string]any)

	b.mu.Lock()
	b.users = make(map[string]events.User, len(list))
	for _, entry := range list {
		u := events.NormalizeUser(remapUser(entry))
		if u.Username != "" {
			b.users[u.Username] = u
		}
	}
	// A full roster means the channel state is loaded and sends are safe
	b.permissionsLoaded = true
	chatCount := int64(len(b.users))
	connected := b.connectedCount
	b.mu.Unlock()

	for _, entry := range list {
		if name, _ := entry["username"].(string); name != "" {
			b.publish(bus.SubjectUserJoined, map[string]any{"username": name})
		}
	}
	b.publishHighWater(chatCount, connected)
}

func (b *Bot) onDisconnected(events.Event) {
	b.mu.Lock()
	b.permissionsLoaded = false
	b.mu.Unlock()
	b.logger.Warn().Msg("Platform connection lost")
}

// SetConnectedCount records the viewer count reported by the platform
// (includes anonymous viewers) and feeds the high-water mark.
func (b *Bot) SetConnectedCount(count int64) {
	b.mu.Lock()
	b.connectedCount = count
	chatCount := int64(len(b.users))
	b.mu.Unlock()

	b.publishHighWater(chatCount, count)
}

func (b *Bot) publishHighWater(chatCount, connectedCount int64) {
	payload := map[string]any{"chat_count": chatCount}
	if connectedCount > 0 {
		payload["connected_count"] = connectedCount
	}
	b.publish(bus.SubjectHighWater, payload)
}

// LogPMCommand records a moderator PM command in the audit log
func (b *Bot) LogPMCommand(username, command, args, result, errMsg string) {
	payload := map[string]any{
		"timestamp": time.Now().Unix(),
		"username":  username,
		"command":   command,
		"args":      args,
		"result":    result,
	}
	if errMsg != "" {
		payload["error"] = errMsg
	}
	b.publish(bus.SubjectPMCommand, payload)
}

// counts returns the current chat and connected user counts
func (b *Bot) counts() (chat, connected int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	chat = int64(len(b.users))
	connected = b.connectedCount
	if connected == 0 {
		connected = chat
	}
	return chat, connected
}

func (b *Bot) ready() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.permissionsLoaded
}

// remapUser translates a normalized user payload (username key) back
// to the raw shape NormalizeUser reads (name key).
func remapUser(data map[string]any) map[string]any {
	out := make(map[string]any, len(data))
	for key, value := range data {
		out[key] = value
	}
	if name, ok := data["username"]; ok {
		out["name"] = name
	}
	if afk, ok := data["is_afk"]; ok {
		out["afk"] = afk
	}
	return out
}
