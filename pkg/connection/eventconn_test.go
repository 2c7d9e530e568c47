package connection

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grobertson/rosey/pkg/events"
)

func TestEventConnNormalizesAndDispatches(t *testing.T) {
	transport := &LoopbackTransport{}
	conn := NewEventConn(transport)

	var mu sync.Mutex
	var got []events.Event
	conn.OnEvent(events.EventMessage, func(ev events.Event) {
		mu.Lock()
		got = append(got, ev)
		mu.Unlock()
	})

	require.NoError(t, conn.Connect(context.Background()))
	require.True(t, conn.Connected())

	transport.Inject(RawEvent{Name: "chatMsg", Data: map[string]any{
		"username": "alice",
		"msg":      "hi",
		"time":     float64(1700000000000),
	}})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "alice", got[0].Data["user"])
	assert.Equal(t, int64(1700000000), got[0].Data["timestamp"])
}

func TestEventConnLifecycleEvents(t *testing.T) {
	transport := &LoopbackTransport{}
	conn := NewEventConn(transport)

	var mu sync.Mutex
	var names []string
	conn.OnEvent("*", func(ev events.Event) {
		mu.Lock()
		names = append(names, ev.Name)
		mu.Unlock()
	})

	require.NoError(t, conn.Connect(context.Background()))
	require.NoError(t, conn.Disconnect())
	assert.False(t, conn.Connected())

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, names, events.EventConnected)
	assert.Contains(t, names, events.EventDisconnected)
}

func TestEventConnSendRequiresConnection(t *testing.T) {
	conn := NewEventConn(&LoopbackTransport{})

	err := conn.SendMessage(context.Background(), "hello")
	assert.ErrorIs(t, err, ErrNotConnected)

	require.NoError(t, conn.Connect(context.Background()))
	assert.NoError(t, conn.SendMessage(context.Background(), "hello"))
	assert.NoError(t, conn.SendPM(context.Background(), "alice", "psst"))
	require.NoError(t, conn.Disconnect())
}

func TestUnknownTransportScheme(t *testing.T) {
	_, err := NewTransport("discord", "example.com", "bot", "chan")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "loopback", "error names the registered schemes")
}
