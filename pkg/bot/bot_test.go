package bot

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grobertson/rosey/pkg/bus"
	"github.com/grobertson/rosey/pkg/connection"
	"github.com/grobertson/rosey/pkg/events"
)

// fakeAdapter is an in-memory platform connection for tests
type fakeAdapter struct {
	mu        sync.Mutex
	handlers  map[string][]connection.Handler
	connected bool
	sent      []string
	sendErr   error
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{handlers: make(map[string][]connection.Handler), connected: true}
}

func (f *fakeAdapter) Connect(ctx context.Context) error { f.setConnected(true); return nil }
func (f *fakeAdapter) Disconnect() error                 { f.setConnected(false); return nil }

func (f *fakeAdapter) setConnected(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = v
}

func (f *fakeAdapter) SendMessage(ctx context.Context, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, content)
	return nil
}

func (f *fakeAdapter) SendPM(ctx context.Context, user, content string) error {
	return f.SendMessage(ctx, content)
}

func (f *fakeAdapter) OnEvent(name string, h connection.Handler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[name] = append(f.handlers[name], h)
}

func (f *fakeAdapter) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeAdapter) emit(ev events.Event) {
	f.mu.Lock()
	handlers := append([]connection.Handler{}, f.handlers[ev.Name]...)
	f.mu.Unlock()
	for _, h := range handlers {
		h(ev)
	}
}

// collector records bus publishes by subject
type collector struct {
	mu       sync.Mutex
	received map[string][]map[string]any
}

func collect(t *testing.T, conn *bus.MemoryConn, subjects ...string) *collector {
	t.Helper()
	c := &collector{received: make(map[string][]map[string]any)}
	for _, subject := range subjects {
		subj := subject
		_, err := conn.Subscribe(subj, func(m *bus.Msg) {
			var payload map[string]any
			require.NoError(t, json.Unmarshal(m.Data, &payload))
			c.mu.Lock()
			c.received[subj] = append(c.received[subj], payload)
			c.mu.Unlock()
		})
		require.NoError(t, err)
	}
	return c
}

func (c *collector) get(subject string) []map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]map[string]any{}, c.received[subject]...)
}

func TestUserJoinPublishesStateWrites(t *testing.T) {
	conn := bus.NewMemory()
	defer conn.Close()
	adapter := newFakeAdapter()
	New(adapter, conn, Config{Name: "rosey", Channel: "test"})

	c := collect(t, conn, bus.SubjectUserJoined, bus.SubjectHighWater)

	adapter.emit(events.Event{Name: events.EventUserJoin, Data: map[string]any{
		"user":      "alice",
		"user_data": map[string]any{"username": "alice", "rank": float64(1)},
	}})

	require.Eventually(t, func() bool {
		return len(c.get(bus.SubjectUserJoined)) == 1 && len(c.get(bus.SubjectHighWater)) == 1
	}, time.Second, 10*time.Millisecond)

	assert.Equal(t, "alice", c.get(bus.SubjectUserJoined)[0]["username"])
	assert.Equal(t, float64(1), c.get(bus.SubjectHighWater)[0]["chat_count"])
}

func TestMessagePublishesChatLog(t *testing.T) {
	conn := bus.NewMemory()
	defer conn.Close()
	adapter := newFakeAdapter()
	New(adapter, conn, Config{Name: "rosey", Channel: "test"})

	c := collect(t, conn, bus.SubjectMessageLog)

	adapter.emit(events.Event{Name: events.EventMessage, Data: map[string]any{
		"user":    "alice",
		"content": "hello",
	}})

	require.Eventually(t, func() bool {
		return len(c.get(bus.SubjectMessageLog)) == 1
	}, time.Second, 10*time.Millisecond)

	payload := c.get(bus.SubjectMessageLog)[0]
	assert.Equal(t, "alice", payload["username"])
	assert.Equal(t, "hello", payload["message"])
}

func TestUserListMarksReady(t *testing.T) {
	conn := bus.NewMemory()
	defer conn.Close()
	adapter := newFakeAdapter()
	b := New(adapter, conn, Config{Name: "rosey", Channel: "test"})

	assert.False(t, b.ready(), "not ready before the roster arrives")

	adapter.emit(events.Event{Name: events.EventUserList, Data: map[string]any{
		"users": []map[string]any{
			{"username": "alice", "rank": float64(1)},
			{"username": "bob", "rank": float64(2)},
		},
		"count": 2,
	}})

	assert.True(t, b.ready())
	chat, _ := b.counts()
	assert.Equal(t, int64(2), chat)
}

func TestOutboundProcessorSendsAndReports(t *testing.T) {
	conn := bus.NewMemory()
	defer conn.Close()

	// Stand-in database service for the outbound queue
	queue := []map[string]any{
		{"id": float64(7), "timestamp": float64(1700000000), "message": "queued hello", "retry_count": float64(0)},
	}
	var mu sync.Mutex
	_, err := conn.Subscribe(bus.SubjectOutboundGet, func(m *bus.Msg) {
		mu.Lock()
		defer mu.Unlock()
		body, _ := json.Marshal(map[string]any{"success": true, "messages": queue})
		require.NoError(t, m.Respond(body))
		queue = nil // deliver once
	})
	require.NoError(t, err)

	adapter := newFakeAdapter()
	b := New(adapter, conn, Config{
		Name: "rosey", Channel: "test",
		OutboundInterval: 20 * time.Millisecond,
	})
	// Roster loaded → sends are allowed
	adapter.emit(events.Event{Name: events.EventUserList, Data: map[string]any{"users": []map[string]any{}}})

	c := collect(t, conn, bus.SubjectMarkSent)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.outboundLoop(ctx)

	require.Eventually(t, func() bool {
		return len(c.get(bus.SubjectMarkSent)) == 1
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, float64(7), c.get(bus.SubjectMarkSent)[0]["message_id"])
	adapter.mu.Lock()
	defer adapter.mu.Unlock()
	assert.Equal(t, []string{"queued hello"}, adapter.sent)
}

func TestOutboundProcessorClassifiesFailures(t *testing.T) {
	conn := bus.NewMemory()
	defer conn.Close()

	queue := []map[string]any{
		{"id": float64(9), "timestamp": float64(1700000000), "message": "nope", "retry_count": float64(1)},
	}
	var mu sync.Mutex
	_, err := conn.Subscribe(bus.SubjectOutboundGet, func(m *bus.Msg) {
		mu.Lock()
		defer mu.Unlock()
		body, _ := json.Marshal(map[string]any{"success": true, "messages": queue})
		require.NoError(t, m.Respond(body))
		queue = nil
	})
	require.NoError(t, err)

	adapter := newFakeAdapter()
	adapter.sendErr = &connection.SendError{Reason: "channel muted", Permanent: true}

	b := New(adapter, conn, Config{
		Name: "rosey", Channel: "test",
		OutboundInterval: 20 * time.Millisecond,
	})
	adapter.emit(events.Event{Name: events.EventUserList, Data: map[string]any{"users": []map[string]any{}}})

	c := collect(t, conn, bus.SubjectMarkFailed)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.outboundLoop(ctx)

	require.Eventually(t, func() bool {
		return len(c.get(bus.SubjectMarkFailed)) == 1
	}, 2*time.Second, 10*time.Millisecond)

	payload := c.get(bus.SubjectMarkFailed)[0]
	assert.Equal(t, float64(9), payload["message_id"])
	assert.Equal(t, true, payload["permanent"])
	assert.Contains(t, payload["error"], "muted")
}

func TestDisconnectedClearsReady(t *testing.T) {
	conn := bus.NewMemory()
	defer conn.Close()
	adapter := newFakeAdapter()
	b := New(adapter, conn, Config{Name: "rosey", Channel: "test"})

	adapter.emit(events.Event{Name: events.EventUserList, Data: map[string]any{"users": []map[string]any{}}})
	require.True(t, b.ready())

	adapter.emit(events.Event{Name: events.EventDisconnected, Data: map[string]any{}})
	assert.False(t, b.ready())
}
