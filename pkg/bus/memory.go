package bus

import (
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// MemoryConn is an in-process Conn used by tests and single-process
// deployments. Semantics mirror the NATS client: per-subscription
// deliveries are serialized, distinct subscriptions run concurrently,
// request/reply uses a private inbox subject.
type MemoryConn struct {
	mu       sync.RWMutex
	subs     map[*memorySub]struct{}
	closed   bool
	inboxSeq atomic.Int64
	wg       sync.WaitGroup
}

type memorySub struct {
	conn    *MemoryConn
	tokens  []string
	ch      chan *Msg
	done    chan struct{}
	once    sync.Once
}

// NewMemory creates an in-process bus
func NewMemory() *MemoryConn {
	return &MemoryConn{subs: make(map[*memorySub]struct{})}
}

// Publish delivers data to every matching subscription
func (c *MemoryConn) Publish(subject string, data []byte) error {
	return c.deliver(&Msg{Subject: subject, Data: data})
}

func (c *MemoryConn) deliver(msg *Msg) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrTimeout
	}
	tokens := strings.Split(msg.Subject, ".")
	for sub := range c.subs {
		if !matchTokens(sub.tokens, tokens) {
			continue
		}
		select {
		case sub.ch <- msg:
		case <-sub.done:
		}
	}
	return nil
}

// Subscribe registers a handler for a subject pattern
func (c *MemoryConn) Subscribe(pattern string, h Handler) (Subscription, error) {
	sub := &memorySub{
		conn:   c,
		tokens: strings.Split(pattern, "."),
		ch:     make(chan *Msg, 256),
		done:   make(chan struct{}),
	}

	c.mu.Lock()
	c.subs[sub] = struct{}{}
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			select {
			case msg := <-sub.ch:
				h(msg)
			case <-sub.done:
				return
			}
		}
	}()

	return sub, nil
}

// Request publishes with a private inbox and waits for the first reply
func (c *MemoryConn) Request(subject string, data []byte, timeout time.Duration) (*Msg, error) {
	if !c.hasSubscriber(subject) {
		return nil, ErrNoResponders
	}

	inbox := "_INBOX." + strconv.FormatInt(c.inboxSeq.Add(1), 10)
	replyCh := make(chan *Msg, 1)

	sub, err := c.Subscribe(inbox, func(m *Msg) {
		select {
		case replyCh <- m:
		default:
		}
	})
	if err != nil {
		return nil, err
	}
	defer sub.Unsubscribe()

	msg := &Msg{
		Subject: subject,
		Reply:   inbox,
		Data:    data,
		respond: func(data []byte) error {
			return c.Publish(inbox, data)
		},
	}
	if err := c.deliver(msg); err != nil {
		return nil, err
	}

	select {
	case reply := <-replyCh:
		return &Msg{Subject: inbox, Data: reply.Data}, nil
	case <-time.After(timeout):
		return nil, ErrTimeout
	}
}

// Close tears down all subscriptions
func (c *MemoryConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	subs := make([]*memorySub, 0, len(c.subs))
	for sub := range c.subs {
		subs = append(subs, sub)
	}
	c.mu.Unlock()

	for _, sub := range subs {
		sub.Unsubscribe()
	}
	c.wg.Wait()
}

func (c *MemoryConn) hasSubscriber(subject string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	tokens := strings.Split(subject, ".")
	for sub := range c.subs {
		if matchTokens(sub.tokens, tokens) {
			return true
		}
	}
	return false
}

func (s *memorySub) Unsubscribe() error {
	s.once.Do(func() {
		s.conn.mu.Lock()
		delete(s.conn.subs, s)
		s.conn.mu.Unlock()
		close(s.done)
	})
	return nil
}

// matchTokens implements NATS-style subject matching: "*" matches one
// token, a trailing ">" matches the remainder.
func matchTokens(pattern, subject []string) bool {
	for i, p := range pattern {
		if p == ">" && i == len(pattern)-1 {
			return len(subject) >= i
		}
		if i >= len(subject) {
			return false
		}
		if p != "*" && p != subject[i] {
			return false
		}
	}
	return len(pattern) == len(subject)
}
