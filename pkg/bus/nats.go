package bus

import (
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/grobertson/rosey/pkg/log"
)

// Config holds NATS connection settings
type Config struct {
	URL            string
	Name           string
	MaxReconnects  int
	ReconnectWait  time.Duration
	ConnectTimeout time.Duration
}

// NATSConn implements Conn on top of a nats.go connection
type NATSConn struct {
	nc *nats.Conn
}

// Connect establishes a NATS connection with transparent reconnect.
// Reconnection is handled by the underlying client; in-flight requests
// fail with a timeout while the connection is down.
func Connect(cfg Config) (*NATSConn, error) {
	logger := log.WithComponent("bus")

	if cfg.URL == "" {
		cfg.URL = nats.DefaultURL
	}
	if cfg.MaxReconnects == 0 {
		cfg.MaxReconnects = -1 // retry forever
	}
	if cfg.ReconnectWait == 0 {
		cfg.ReconnectWait = 2 * time.Second
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}

	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.ConnectTimeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			logger.Info().Msg("NATS connection closed")
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS at %s: %w", cfg.URL, err)
	}

	logger.Info().Str("url", nc.ConnectedUrl()).Msg("Connected to NATS")
	return &NATSConn{nc: nc}, nil
}

// Publish sends data fire-and-forget
func (c *NATSConn) Publish(subject string, data []byte) error {
	return c.nc.Publish(subject, data)
}

// Subscribe registers a handler for a subject pattern
func (c *NATSConn) Subscribe(pattern string, h Handler) (Subscription, error) {
	sub, err := c.nc.Subscribe(pattern, func(m *nats.Msg) {
		h(&Msg{
			Subject: m.Subject,
			Reply:   m.Reply,
			Data:    m.Data,
			respond: func(data []byte) error {
				return m.Respond(data)
			},
		})
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", pattern, err)
	}
	return sub, nil
}

// Request publishes data and waits for the first reply
func (c *NATSConn) Request(subject string, data []byte, timeout time.Duration) (*Msg, error) {
	m, err := c.nc.Request(subject, data, timeout)
	if err != nil {
		if errors.Is(err, nats.ErrTimeout) {
			return nil, ErrTimeout
		}
		if errors.Is(err, nats.ErrNoResponders) {
			return nil, ErrNoResponders
		}
		return nil, err
	}
	return &Msg{Subject: m.Subject, Data: m.Data}, nil
}

// Close drains pending messages and closes the connection
func (c *NATSConn) Close() {
	if err := c.nc.Drain(); err != nil {
		c.nc.Close()
	}
}
