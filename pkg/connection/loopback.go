package connection

import (
	"context"
	"sync"

	"github.com/grobertson/rosey/pkg/log"
)

// LoopbackTransport is a stand-in platform for local development and
// deployment smoke tests: it connects instantly, emits no platform
// events and logs outbound sends instead of transmitting them.
type LoopbackTransport struct {
	mu     sync.Mutex
	events chan RawEvent
}

func init() {
	RegisterTransport("loopback", func(domain, user, channel string) (Transport, error) {
		return &LoopbackTransport{}, nil
	})
}

// Connect opens the (empty) event stream
func (t *LoopbackTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.events == nil {
		t.events = make(chan RawEvent)
	}
	return nil
}

// Close closes the event stream
func (t *LoopbackTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.events != nil {
		close(t.events)
		t.events = nil
	}
	return nil
}

// Emit logs the event instead of sending it anywhere
func (t *LoopbackTransport) Emit(ctx context.Context, event string, payload map[string]any) error {
	log.WithComponent("loopback").Info().
		Str("event", event).
		Interface("payload", payload).
		Msg("Discarding outbound event")
	return nil
}

// Events returns the event stream
func (t *LoopbackTransport) Events() <-chan RawEvent {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.events
}

// Inject feeds a raw event into the stream. Tests and local harnesses
// use this to simulate platform traffic.
func (t *LoopbackTransport) Inject(ev RawEvent) {
	t.mu.Lock()
	ch := t.events
	t.mu.Unlock()
	if ch != nil {
		ch <- ev
	}
}
