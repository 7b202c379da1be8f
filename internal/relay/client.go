package relay

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ChannelState is the connection lifecycle of a consumer channel.
type ChannelState int32

const (
	StateConnecting ChannelState = iota
	StateOpen
	StateClosed
	StateReconnecting
)

func (s ChannelState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	case StateReconnecting:
		return "reconnecting"
	}
	return "unknown"
}

// Client is a reconnecting envelope consumer. On unexpected close it redials
// with Backoff and re-issues every recorded subscription; no channel state is
// preserved across reconnects.
type Client struct {
	url     string
	header  map[string][]string
	handler func(Envelope)

	mu      sync.Mutex
	state   ChannelState
	conn    *websocket.Conn
	subs    []Envelope // subscribe envelopes replayed after reconnect
	closed  bool
	closeCh chan struct{}
}

func NewClient(url string, header map[string][]string, handler func(Envelope)) *Client {
	return &Client{
		url:     url,
		header:  header,
		handler: handler,
		state:   StateClosed,
		closeCh: make(chan struct{}),
	}
}

func (c *Client) State() ChannelState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) setState(s ChannelState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Subscribe records a subscription envelope and sends it if the channel is
// open. Recorded subscriptions are replayed after every reconnect.
func (c *Client) Subscribe(subject string, data any) error {
	env, err := NewEnvelope(subject, data)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.subs = append(c.subs, env)
	conn := c.conn
	c.mu.Unlock()

	if conn != nil {
		return conn.WriteJSON(env)
	}
	return nil
}

func (c *Client) Send(env Envelope) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrAgentUnavailable
	}
	return conn.WriteJSON(env)
}

// Run dials and pumps the channel until ctx is cancelled or Close is called,
// reconnecting with bounded exponential backoff in between.
func (c *Client) Run(ctx context.Context) {
	attempt := 0
	for {
		select {
		case <-ctx.Done():
			c.setState(StateClosed)
			return
		case <-c.closeCh:
			c.setState(StateClosed)
			return
		default:
		}

		if attempt == 0 {
			c.setState(StateConnecting)
		} else {
			c.setState(StateReconnecting)
			delay := Backoff(attempt)
			slog.Info("Reconnecting channel", "url", c.url, "attempt", attempt, "delay", delay)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				c.setState(StateClosed)
				return
			case <-c.closeCh:
				c.setState(StateClosed)
				return
			}
		}

		conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, c.header)
		if err != nil {
			slog.Warn("Channel dial failed", "url", c.url, "error", err)
			attempt++
			continue
		}

		c.mu.Lock()
		c.conn = conn
		resubs := make([]Envelope, len(c.subs))
		copy(resubs, c.subs)
		c.mu.Unlock()
		c.setState(StateOpen)
		attempt = 0

		// Subscriptions do not survive a dropped channel; re-issue them all.
		for _, env := range resubs {
			if err := conn.WriteJSON(env); err != nil {
				slog.Warn("Failed to re-issue subscription", "subject", env.Subject, "error", err)
			}
		}

		c.pump(conn)

		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		_ = conn.Close()
		attempt = 1
	}
}

func (c *Client) pump(conn *websocket.Conn) {
	for {
		var env Envelope
		if err := conn.ReadJSON(&env); err != nil {
			slog.Debug("Channel read closed", "url", c.url, "error", err)
			return
		}
		if c.handler != nil {
			c.handler(env)
		}
	}
}

func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	conn := c.conn
	c.mu.Unlock()

	close(c.closeCh)
	if conn != nil {
		_ = conn.Close()
	}
}
