// Package realtime maintains the station's persistent channel to the message
// relay: handshake, signed channel authorization, subscription, event
// dispatch, and reconnection. The relay speaks the Pusher wire protocol.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
)

// Config is the relay connection configuration. It is immutable per
// connection attempt; UpdateConfig swaps the snapshot used by the next dial.
type Config struct {
	Host   string
	Port   int
	Key    string
	Secret string
	AppID  string
	UseTLS bool
}

// State tracks the connection lifecycle. The client is the single writer.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateAwaitingSocketID
	StateSubscribing
	StateSubscribed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateAwaitingSocketID:
		return "awaiting_socket_id"
	case StateSubscribing:
		return "subscribing"
	case StateSubscribed:
		return "subscribed"
	}
	return "unknown"
}

// Subscription records the per-connection channel authorization. A fresh
// value is built for every connection; socket ids never outlive their
// transport.
type Subscription struct {
	Channel  string
	SocketID string
	Auth     string
}

// Event is an application message dispatched from the relay.
type Event struct {
	Channel string          `json:"channel"`
	Name    string          `json:"event"`
	Data    json.RawMessage `json:"data"`
}

// conn is the subset of *websocket.Conn the client uses. Tests substitute a
// scripted implementation.
type conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

type dialFunc func(ctx context.Context, url string) (conn, error)

const (
	defaultAckTimeout   = 10 * time.Second
	defaultPingInterval = 30 * time.Second
	initialRetryDelay   = 500 * time.Millisecond
	maxRetryDelay       = 30 * time.Second
	eventBuffer         = 64
)

// Client owns one relay connection and its subscription state. Run drives the
// connect/subscribe/dispatch loop until the context is cancelled, rebuilding
// the connection with exponential backoff after any transport failure.
type Client struct {
	logger  *slog.Logger
	channel string

	cfg   atomic.Value // Config
	state atomic.Int32

	subMu sync.Mutex
	sub   Subscription

	events chan Event
	dial   dialFunc

	ackTimeout   time.Duration
	pingInterval time.Duration
	initialDelay time.Duration
}

// NewClient builds a client for one named channel.
func NewClient(cfg Config, channel string, logger *slog.Logger) *Client {
	c := &Client{
		logger:       logger,
		channel:      channel,
		events:       make(chan Event, eventBuffer),
		dial:         gorillaDial,
		ackTimeout:   defaultAckTimeout,
		pingInterval: defaultPingInterval,
		initialDelay: initialRetryDelay,
	}
	c.cfg.Store(cfg)
	return c
}

func gorillaDial(ctx context.Context, url string) (conn, error) {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return ws, nil
}

// Events exposes dispatched application events. The channel is bounded; when
// the consumer falls behind, the newest events are dropped with a warning.
func (c *Client) Events() <-chan Event {
	return c.events
}

// State returns the current connection state.
func (c *Client) State() State {
	return State(c.state.Load())
}

// Subscription returns a copy of the active subscription, if any.
func (c *Client) Subscription() Subscription {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	return c.sub
}

// UpdateConfig swaps the configuration snapshot. The running connection is
// not torn down; the new values apply on the next connection attempt.
func (c *Client) UpdateConfig(cfg Config) {
	c.cfg.Store(cfg)
}

func (c *Client) config() Config {
	return c.cfg.Load().(Config)
}

func (c *Client) setState(s State) {
	c.state.Store(int32(s))
}

func (c *Client) setSubscription(sub Subscription) {
	c.subMu.Lock()
	c.sub = sub
	c.subMu.Unlock()
}

// Run connects and reconnects until ctx is cancelled. Reconnection uses
// exponential backoff capped at maxRetryDelay with no attempt limit; the
// backoff resets once a subscription is acknowledged.
func (c *Client) Run(ctx context.Context) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.initialDelay
	policy.MaxInterval = maxRetryDelay
	policy.MaxElapsedTime = 0

	for {
		err := c.runOnce(ctx, policy.Reset)

		c.setState(StateDisconnected)
		c.setSubscription(Subscription{})

		if ctx.Err() != nil {
			return
		}

		delay := policy.NextBackOff()
		c.logger.Warn("relay connection lost", "error", err, "retry_in", delay)

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// runOnce drives a single connection from dial to failure. onSubscribed fires
// when the relay acknowledges the subscription.
func (c *Client) runOnce(ctx context.Context, onSubscribed func()) error {
	cfg := c.config()

	c.setState(StateConnecting)
	ws, err := c.dial(ctx, ConnectURL(cfg))
	if err != nil {
		return fmt.Errorf("dial relay: %w", err)
	}
	defer ws.Close()

	c.setState(StateAwaitingSocketID)

	inbound := make(chan Envelope, 8)
	readErr := make(chan error, 1)
	sessionDone := make(chan struct{})
	defer close(sessionDone)
	go readLoop(ws, inbound, readErr, sessionDone, c.logger)

	var writeMu sync.Mutex
	write := func(env Envelope) error {
		data, err := json.Marshal(env)
		if err != nil {
			return fmt.Errorf("encode %s: %w", env.Event, err)
		}
		writeMu.Lock()
		defer writeMu.Unlock()
		return ws.WriteMessage(websocket.TextMessage, data)
	}

	pings := time.NewTicker(c.pingInterval)
	defer pings.Stop()

	// Covers both the handshake and the subscription acknowledgment.
	ack := time.NewTimer(c.ackTimeout)
	defer ack.Stop()

	// A silent peer is indistinguishable from a dead one; any inbound
	// traffic, pongs included, feeds the watchdog.
	idleLimit := 3 * c.pingInterval
	watchdog := time.NewTimer(idleLimit)
	defer watchdog.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-readErr:
			return fmt.Errorf("read relay message: %w", err)

		case <-ack.C:
			if c.State() != StateSubscribed {
				return fmt.Errorf("no subscription ack within %s", c.ackTimeout)
			}

		case <-pings.C:
			if err := write(pingEnvelope()); err != nil {
				return fmt.Errorf("send ping: %w", err)
			}

		case <-watchdog.C:
			return fmt.Errorf("no relay traffic within %s", idleLimit)

		case env := <-inbound:
			if !watchdog.Stop() {
				select {
				case <-watchdog.C:
				default:
				}
			}
			watchdog.Reset(idleLimit)

			if err := c.handleMessage(env, cfg, write, onSubscribed); err != nil {
				return err
			}
		}
	}
}

// handleMessage advances the protocol state machine for one inbound envelope.
func (c *Client) handleMessage(env Envelope, cfg Config, write func(Envelope) error, onSubscribed func()) error {
	switch env.Event {
	case EventConnectionEstablished:
		var hs handshakeData
		if err := decodeNested(env.Data, &hs); err != nil || hs.SocketID == "" {
			return fmt.Errorf("malformed handshake: %v", err)
		}

		sub := Subscription{
			Channel:  c.channel,
			SocketID: hs.SocketID,
			Auth:     ChannelAuth(cfg.Key, cfg.Secret, hs.SocketID, c.channel),
		}
		c.setSubscription(sub)

		out, err := subscribeEnvelope(sub.Channel, sub.Auth)
		if err != nil {
			return err
		}
		if err := write(out); err != nil {
			return fmt.Errorf("send subscribe: %w", err)
		}
		c.setState(StateSubscribing)
		c.logger.Debug("subscribing", "channel", c.channel, "socket_id", hs.SocketID)

	case EventSubscriptionSucceeded:
		c.setState(StateSubscribed)
		c.logger.Info("channel subscribed", "channel", c.channel)
		onSubscribed()

	case EventPing:
		if err := write(pongEnvelope()); err != nil {
			return fmt.Errorf("send pong: %w", err)
		}

	case EventPong:
		// Heartbeat answered; nothing to do.

	case EventError:
		return fmt.Errorf("relay error: %s", string(env.Data))

	default:
		c.dispatch(env)
	}
	return nil
}

// dispatch forwards an application event to the bounded channel. Events with
// a client-origin prefix are forwarded but kept out of the log.
func (c *Client) dispatch(env Envelope) {
	if !strings.HasPrefix(env.Event, clientEventPrefix) {
		c.logger.Debug("relay event", "event", env.Event, "channel", env.Channel)
	}

	select {
	case c.events <- Event{Channel: env.Channel, Name: env.Event, Data: env.Data}:
	default:
		c.logger.Warn("event buffer full, dropping", "event", env.Event)
	}
}

// readLoop feeds decoded envelopes to the session loop until the transport
// fails. Undecodable frames are skipped.
func readLoop(ws conn, inbound chan<- Envelope, readErr chan<- error, done <-chan struct{}, logger *slog.Logger) {
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			select {
			case readErr <- err:
			case <-done:
			}
			return
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			logger.Warn("undecodable relay frame", "error", err)
			continue
		}

		select {
		case inbound <- env:
		case <-done:
			return
		}
	}
}
