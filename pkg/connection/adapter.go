package connection

import (
	"context"
	"errors"

	"github.com/grobertson/rosey/pkg/events"
)

// ErrNotConnected is returned by send operations on a closed adapter
var ErrNotConnected = errors.New("connection: not connected")

// Handler receives a normalized event
type Handler func(ev events.Event)

// Adapter is the platform-agnostic connection contract. A concrete
// implementation wraps one chat platform's wire protocol and feeds
// normalized events to its registered handlers; the bot never sees
// platform-specific payloads outside platform_data.
type Adapter interface {
	// Connect establishes the platform connection, authenticates and
	// joins the configured channel.
	Connect(ctx context.Context) error

	// Disconnect closes the connection. Best effort; never panics.
	Disconnect() error

	// SendMessage sends a message to the channel
	SendMessage(ctx context.Context, content string) error

	// SendPM sends a private message to a user
	SendPM(ctx context.Context, user, content string) error

	// OnEvent registers a handler for a normalized event name.
	// Register for "*" to receive every event.
	OnEvent(name string, h Handler)

	// Connected reports whether the connection is up
	Connected() bool
}

// SendError classifies a transmission failure. Permanent errors
// (permission denied, muted, flood control) must not be retried.
type SendError struct {
	Reason    string
	Permanent bool
}

func (e *SendError) Error() string {
	return "connection: send failed: " + e.Reason
}

// IsPermanent reports whether err is a permanent send failure
func IsPermanent(err error) bool {
	var se *SendError
	return errors.As(err, &se) && se.Permanent
}
