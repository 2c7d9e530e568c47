package connection

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/grobertson/rosey/pkg/events"
	"github.com/grobertson/rosey/pkg/log"
)

// RawEvent is one event as received from the platform wire protocol
type RawEvent struct {
	Name string
	Data map[string]any
}

// Transport is the opaque wire-protocol contract. A concrete
// transport handles the platform's socket protocol, authentication
// and channel join; the adapter layer above it only sees raw events.
type Transport interface {
	Connect(ctx context.Context) error
	Close() error
	Emit(ctx context.Context, event string, payload map[string]any) error
	Events() <-chan RawEvent
}

// TransportFactory builds a Transport for a platform domain
type TransportFactory func(domain, user, channel string) (Transport, error)

var (
	transportsMu sync.RWMutex
	transports   = make(map[string]TransportFactory)
)

// RegisterTransport registers a platform transport by scheme (e.g.
// "cytube"). Platform packages register themselves at init time.
func RegisterTransport(scheme string, factory TransportFactory) {
	transportsMu.Lock()
	defer transportsMu.Unlock()
	transports[scheme] = factory
}

// NewTransport builds a registered transport, or errors with the list
// of known schemes.
func NewTransport(scheme, domain, user, channel string) (Transport, error) {
	transportsMu.RLock()
	factory, ok := transports[scheme]
	known := make([]string, 0, len(transports))
	for name := range transports {
		known = append(known, name)
	}
	transportsMu.RUnlock()

	if !ok {
		sort.Strings(known)
		return nil, fmt.Errorf("unknown platform %q (registered: %v)", scheme, known)
	}
	return factory(domain, user, channel)
}

// EventConn adapts a Transport into the Adapter contract: it pumps
// raw platform events through the normalizer and dispatches them to
// registered handlers. Handlers for one event run in registration
// order on the pump goroutine, matching the bus's per-subscription
// serialization.
type EventConn struct {
	transport  Transport
	normalizer *events.Normalizer

	mu        sync.RWMutex
	handlers  map[string][]Handler
	connected bool
	pumpDone  chan struct{}
}

// NewEventConn creates an adapter over a platform transport
func NewEventConn(transport Transport) *EventConn {
	return &EventConn{
		transport:  transport,
		normalizer: events.NewNormalizer(),
		handlers:   make(map[string][]Handler),
	}
}

// Connect establishes the transport and starts the event pump
func (c *EventConn) Connect(ctx context.Context) error {
	if err := c.transport.Connect(ctx); err != nil {
		return err
	}

	c.mu.Lock()
	c.connected = true
	c.pumpDone = make(chan struct{})
	c.mu.Unlock()

	go c.pump()
	c.dispatch(events.Event{Name: events.EventConnected, Data: map[string]any{}})
	return nil
}

// Disconnect closes the transport. Best effort.
func (c *EventConn) Disconnect() error {
	c.mu.Lock()
	wasConnected := c.connected
	c.connected = false
	done := c.pumpDone
	c.mu.Unlock()

	err := c.transport.Close()
	if done != nil {
		<-done
	}
	if wasConnected {
		c.dispatch(events.Event{Name: events.EventDisconnected, Data: map[string]any{}})
	}
	return err
}

// SendMessage sends a chat message to the channel
func (c *EventConn) SendMessage(ctx context.Context, content string) error {
	if !c.Connected() {
		return ErrNotConnected
	}
	return c.transport.Emit(ctx, "chatMsg", map[string]any{"msg": content})
}

// SendPM sends a private message to a user
func (c *EventConn) SendPM(ctx context.Context, user, content string) error {
	if !c.Connected() {
		return ErrNotConnected
	}
	return c.transport.Emit(ctx, "pm", map[string]any{"to": user, "msg": content})
}

// OnEvent registers a handler for a normalized event name; "*"
// receives everything.
func (c *EventConn) OnEvent(name string, h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[name] = append(c.handlers[name], h)
}

// Connected reports whether the transport is up
func (c *EventConn) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// pump drains the transport's event channel until it closes,
// normalizing and dispatching each event.
func (c *EventConn) pump() {
	defer close(c.pumpDone)
	logger := log.WithComponent("connection")

	for raw := range c.transport.Events() {
		normalized := c.normalizer.Normalize(raw.Name, raw.Data)
		logger.Debug().Str("event", normalized.Name).Msg("Event received")
		c.dispatch(normalized)
	}

	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
}

func (c *EventConn) dispatch(ev events.Event) {
	c.mu.RLock()
	handlers := append([]Handler{}, c.handlers[ev.Name]...)
	handlers = append(handlers, c.handlers["*"]...)
	c.mu.RUnlock()

	for _, h := range handlers {
		h(ev)
	}
}
