package bus

import (
	"errors"
	"time"
)

// ErrTimeout is returned by Request when no reply arrives in time
var ErrTimeout = errors.New("bus: request timed out")

// ErrNoResponders is returned by Request when nothing is subscribed
// to the subject
var ErrNoResponders = errors.New("bus: no responders for subject")

// Msg is a single message delivered to a subscriber or returned
// from a request
type Msg struct {
	Subject string
	Reply   string
	Data    []byte

	respond func(data []byte) error
}

// Respond publishes data to the message's reply subject. It is only
// valid for messages that carry one (request/reply deliveries).
func (m *Msg) Respond(data []byte) error {
	if m.respond == nil {
		return errors.New("bus: message has no reply subject")
	}
	return m.respond(data)
}

// Handler is invoked for each message delivered on a subscription
type Handler func(msg *Msg)

// Subscription is an active subject subscription
type Subscription interface {
	Unsubscribe() error
}

// Conn is the messaging contract the bot and the database service
// are written against. Subjects are dotted hierarchical names and
// patterns may contain single-token wildcards ("rosey.db.row.*.insert").
type Conn interface {
	// Publish sends data fire-and-forget
	Publish(subject string, data []byte) error

	// Subscribe registers a handler for a subject pattern. Deliveries
	// for one subscription are serialized; distinct subscriptions run
	// concurrently.
	Subscribe(pattern string, h Handler) (Subscription, error)

	// Request publishes data with a private reply inbox and waits for
	// the first response, or ErrTimeout.
	Request(subject string, data []byte, timeout time.Duration) (*Msg, error)

	// Close drains and closes the connection
	Close()
}
