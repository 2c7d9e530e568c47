package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock lets tests move time forward deterministically
type fakeClock struct {
	now int64
}

func (c *fakeClock) Now() int64       { return c.now }
func (c *fakeClock) Advance(by int64) { c.now += by }

func openTestStore(t *testing.T) (*Store, *fakeClock) {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	clock := &fakeClock{now: 1700000000}
	store.SetNowFunc(clock.Now)
	return store, clock
}

func TestUserSessionLifecycle(t *testing.T) {
	store, clock := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.UserJoined(ctx, "alice"))

	stats, err := store.GetUserStats(ctx, "alice")
	require.NoError(t, err)
	require.NotNil(t, stats)
	assert.Equal(t, int64(1700000000), stats.FirstSeen)
	require.NotNil(t, stats.CurrentSessionStart, "join opens a session")

	clock.Advance(120)
	require.NoError(t, store.UserLeft(ctx, "alice"))

	stats, err = store.GetUserStats(ctx, "alice")
	require.NoError(t, err)
	assert.Nil(t, stats.CurrentSessionStart, "finalized session must be null")
	assert.Equal(t, int64(120), stats.TotalTimeConnected)

	// A second leave without a session is a no-op
	require.NoError(t, store.UserLeft(ctx, "alice"))
	stats, err = store.GetUserStats(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(120), stats.TotalTimeConnected, "connected time only grows")
}

func TestUserRejoinReplaysAreSafe(t *testing.T) {
	store, clock := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.UserJoined(ctx, "alice"))
	clock.Advance(60)
	// Duplicate join from a reconnect replay restarts the session
	require.NoError(t, store.UserJoined(ctx, "alice"))
	clock.Advance(30)
	require.NoError(t, store.UserLeft(ctx, "alice"))

	stats, err := store.GetUserStats(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(30), stats.TotalTimeConnected)
	assert.Equal(t, int64(1700000000), stats.FirstSeen, "first_seen never moves")
}

func TestFinalizeSessions(t *testing.T) {
	store, clock := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.UserJoined(ctx, "alice"))
	require.NoError(t, store.UserJoined(ctx, "bob"))
	clock.Advance(45)

	closed, err := store.FinalizeSessions(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), closed)

	for _, name := range []string{"alice", "bob"} {
		stats, err := store.GetUserStats(ctx, name)
		require.NoError(t, err)
		assert.Nil(t, stats.CurrentSessionStart)
		assert.Equal(t, int64(45), stats.TotalTimeConnected)
	}
}

func TestHighWaterMarkMonotone(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpdateHighWaterMark(ctx, 10, 50))

	stats, err := store.GetChannelStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(10), stats.MaxUsers)
	assert.Equal(t, int64(50), stats.MaxConnected)

	// Lower counts never decrease the marks
	require.NoError(t, store.UpdateHighWaterMark(ctx, 5, 20))
	stats, err = store.GetChannelStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(10), stats.MaxUsers)
	assert.Equal(t, int64(50), stats.MaxConnected)

	// Equal counts do not update either (strictly exceeds)
	require.NoError(t, store.UpdateHighWaterMark(ctx, 10, 50))
	stats, err = store.GetChannelStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(10), stats.MaxUsers)

	// Higher counts do
	require.NoError(t, store.UpdateHighWaterMark(ctx, 12, -1))
	stats, err = store.GetChannelStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(12), stats.MaxUsers)
	assert.Equal(t, int64(50), stats.MaxConnected, "skipped connected mark unchanged")
}

func TestChatMessageTracking(t *testing.T) {
	store, clock := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.UserJoined(ctx, "alice"))
	require.NoError(t, store.UserChatMessage(ctx, "alice", "first"))
	clock.Advance(1)
	require.NoError(t, store.UserChatMessage(ctx, "alice", "second"))

	stats, err := store.GetUserStats(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.TotalChatLines)

	messages, err := store.GetRecentChat(ctx, 10)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, "first", messages[0].Message, "chronological order")
	assert.Equal(t, "second", messages[1].Message)
}

func TestRecentChatRetention(t *testing.T) {
	store, clock := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.UserJoined(ctx, "alice"))
	require.NoError(t, store.UserChatMessage(ctx, "alice", "old"))

	// Advance past the retention window; the next insert trims
	clock.Advance(int64(recentChatRetentionHours)*3600 + 1)
	require.NoError(t, store.UserChatMessage(ctx, "alice", "new"))

	messages, err := store.GetRecentChat(ctx, 10)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, "new", messages[0].Message)
}

func TestOutboundLifecycle(t *testing.T) {
	store, clock := openTestStore(t)
	ctx := context.Background()

	id, err := store.EnqueueOutbound(ctx, "hello chat")
	require.NoError(t, err)
	assert.Greater(t, id, int64(0))

	pending, err := store.GetUnsentOutbound(ctx, 10, 3)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "hello chat", pending[0].Message)

	// Transient failure: backoff keeps the row out of the next fetch
	require.NoError(t, store.MarkOutboundFailed(ctx, id, "network blip", false))
	pending, err = store.GetUnsentOutbound(ctx, 10, 3)
	require.NoError(t, err)
	assert.Empty(t, pending, "within backoff window")

	// retry_count=1 means eligible after 2 minutes
	clock.Advance(121)
	pending, err = store.GetUnsentOutbound(ctx, 10, 3)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, int64(1), pending[0].RetryCount)
	require.NotNil(t, pending[0].LastError)

	// Success: the row is never offered again
	require.NoError(t, store.MarkOutboundSent(ctx, id))
	pending, err = store.GetUnsentOutbound(ctx, 10, 3)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestOutboundPermanentFailure(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()

	id, err := store.EnqueueOutbound(ctx, "muted message")
	require.NoError(t, err)

	require.NoError(t, store.MarkOutboundFailed(ctx, id, "channel muted", true))

	pending, err := store.GetUnsentOutbound(ctx, 10, 3)
	require.NoError(t, err)
	assert.Empty(t, pending, "permanently failed rows are terminal")
}

func TestOutboundMaxRetriesExhausted(t *testing.T) {
	store, clock := openTestStore(t)
	ctx := context.Background()

	id, err := store.EnqueueOutbound(ctx, "doomed")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.NoError(t, store.MarkOutboundFailed(ctx, id, "still broken", false))
	}
	clock.Advance(3600)

	pending, err := store.GetUnsentOutbound(ctx, 10, 3)
	require.NoError(t, err)
	assert.Empty(t, pending, "rows at max retries are silently dead")
}

func TestCurrentStatusAllowedFields(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()

	err := store.UpdateCurrentStatus(ctx, map[string]any{
		"bot_name":           "rosey",
		"current_chat_users": 7,
		"not_a_real_field":   "dropped silently",
	})
	require.NoError(t, err)

	status, err := store.GetCurrentStatus(ctx)
	require.NoError(t, err)
	require.NotNil(t, status.BotName)
	assert.Equal(t, "rosey", *status.BotName)
	assert.Equal(t, int64(7), status.CurrentChatUsers)
}

func TestAPITokenLifecycle(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()

	token, err := store.GenerateAPIToken(ctx, "web ui")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(token), 43, "256 bits base64url encoded")

	valid, err := store.ValidateAPIToken(ctx, token)
	require.NoError(t, err)
	assert.True(t, valid)

	valid, err = store.ValidateAPIToken(ctx, "bogus")
	require.NoError(t, err)
	assert.False(t, valid)

	tokens, err := store.ListAPITokens(ctx, false)
	require.NoError(t, err)
	require.Len(t, tokens, 1)
	assert.Equal(t, token[:8]+"...", tokens[0].TokenPreview)
	assert.NotContains(t, tokens[0].TokenPreview, token[8:12], "full token never listed")
	require.NotNil(t, tokens[0].LastUsed)

	// Revoke by prefix
	count, err := store.RevokeAPIToken(ctx, token[:12])
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	valid, err = store.ValidateAPIToken(ctx, token)
	require.NoError(t, err)
	assert.False(t, valid, "revoked token is rejected")
}

func TestUserCountHistory(t *testing.T) {
	store, clock := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.LogUserCount(ctx, 5, 20))
	clock.Advance(60)
	require.NoError(t, store.LogUserCount(ctx, 8, 25))

	history, err := store.GetUserCountHistory(ctx, 24)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, int64(5), history[0].ChatUsers)
	assert.Equal(t, int64(25), history[1].ConnectedUsers)

	// Retention trim drops samples older than the window
	clock.Advance(31 * 86400)
	deleted, err := store.CleanupOldHistory(ctx, 30)
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)
}

func TestTopChattersAndTotals(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()

	for _, name := range []string{"alice", "bob", "carol"} {
		require.NoError(t, store.UserJoined(ctx, name))
	}
	require.NoError(t, store.UserChatMessage(ctx, "bob", "one"))
	require.NoError(t, store.UserChatMessage(ctx, "bob", "two"))
	require.NoError(t, store.UserChatMessage(ctx, "alice", "hi"))

	top, err := store.GetTopChatters(ctx, 10)
	require.NoError(t, err)
	require.Len(t, top, 2, "users with zero lines excluded")
	assert.Equal(t, "bob", top[0].Username)

	total, err := store.GetTotalUsersSeen(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
}
