package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/fernledge/homestream/internal/domain"
	"github.com/fernledge/homestream/internal/observability"
	"github.com/gorilla/websocket"
)

// State is the stream client's connection state, exposed for health reporting.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateAuthenticating
	StateSubscribed
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateSubscribed:
		return "subscribed"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "disconnected"
	}
}

var (
	// ErrAuthRejected marks a credential rejection on one connection attempt.
	ErrAuthRejected = errors.New("hub rejected authentication")
	// ErrAuthFailureLimit is returned by Run when authentication has been
	// rejected too many times in a row. It is terminal: retrying with the
	// same credentials will not succeed.
	ErrAuthFailureLimit = errors.New("authentication failure limit reached")
)

// Config holds the stream client settings.
type Config struct {
	URL             string
	Token           string
	PingInterval    time.Duration
	PongTimeout     time.Duration
	MaxAuthFailures int
	BufferSize      int

	// Reconnect backoff bounds. Zero values fall back to 1s and 60s.
	ReconnectInitial time.Duration
	ReconnectMax     time.Duration
}

// Client owns the single long-lived WebSocket connection to the hub. It
// authenticates, subscribes to state_changed events, and delivers RawEvents
// on a bounded channel. Lost connections are re-established with exponential
// backoff, re-issuing the subscription each time.
type Client struct {
	cfg     Config
	logger  *slog.Logger
	metrics *observability.Metrics
	dialer  *websocket.Dialer

	events chan domain.RawEvent

	state          atomic.Int32
	everSubscribed atomic.Bool
	msgID          atomic.Int64
	lastPong       atomic.Int64 // unix nanos
	connectedAt    atomic.Int64 // unix nanos of the last successful subscribe

	// authFailures is only touched by the Run goroutine.
	authFailures int
}

// New creates a stream client. Call Run to start it.
func New(cfg Config, logger *slog.Logger, metrics *observability.Metrics) *Client {
	return &Client{
		cfg:     cfg,
		logger:  logger.With("component", "hub"),
		metrics: metrics,
		dialer:  &websocket.Dialer{HandshakeTimeout: 15 * time.Second},
		events:  make(chan domain.RawEvent, cfg.BufferSize),
	}
}

// Events returns the channel of raw events. It is closed when Run returns.
func (c *Client) Events() <-chan domain.RawEvent { return c.events }

// State reports the current connection state.
func (c *Client) State() State { return State(c.state.Load()) }

// EverSubscribed reports whether the client has completed at least one
// successful subscription since startup. Used for readiness.
func (c *Client) EverSubscribed() bool { return c.everSubscribed.Load() }

// ConnectedAt reports when the current subscription was established, zero
// before the first one.
func (c *Client) ConnectedAt() time.Time {
	ns := c.connectedAt.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// Run connects, subscribes, and pumps events until the context is cancelled.
// Transport failures are recovered with exponential backoff and jitter.
// The only non-nil return is the terminal authentication failure limit.
func (c *Client) Run(ctx context.Context) error {
	defer close(c.events)
	defer c.setState(StateDisconnected)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.cfg.ReconnectInitial
	if bo.InitialInterval <= 0 {
		bo.InitialInterval = time.Second
	}
	bo.Multiplier = 2
	bo.MaxInterval = c.cfg.ReconnectMax
	if bo.MaxInterval <= 0 {
		bo.MaxInterval = time.Minute
	}
	bo.MaxElapsedTime = 0 // retry until cancelled
	bo.Reset()

	for {
		if ctx.Err() != nil {
			return nil
		}

		conn, err := c.connect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, ErrAuthRejected) {
				c.authFailures++
				c.metrics.HubAuthFailures.Inc()
				c.logger.Error("authentication rejected",
					"error", err, "failures", c.authFailures, "limit", c.cfg.MaxAuthFailures)
				if c.authFailures >= c.cfg.MaxAuthFailures {
					return fmt.Errorf("after %d attempts: %w", c.authFailures, ErrAuthFailureLimit)
				}
			} else {
				c.logger.Warn("hub connection failed", "error", err)
			}
			if !c.waitBackoff(ctx, bo) {
				return nil
			}
			continue
		}

		c.authFailures = 0
		bo.Reset()
		c.setState(StateSubscribed)
		c.everSubscribed.Store(true)
		c.connectedAt.Store(time.Now().UnixNano())
		c.metrics.HubConnected.Set(1)
		c.logger.Info("subscribed to hub events", "url", c.cfg.URL)

		err = c.consume(ctx, conn)
		conn.Close()
		c.metrics.HubConnected.Set(0)

		if ctx.Err() != nil {
			c.logger.Info("hub client stopping", "reason", ctx.Err())
			return nil
		}

		c.logger.Warn("hub connection lost", "error", err)
		c.metrics.HubReconnects.Inc()
		if !c.waitBackoff(ctx, bo) {
			return nil
		}
	}
}

func (c *Client) setState(s State) { c.state.Store(int32(s)) }

// waitBackoff sleeps for the next backoff interval, abandoning the wait on
// context cancellation.
func (c *Client) waitBackoff(ctx context.Context, bo backoff.BackOff) bool {
	c.setState(StateReconnecting)
	d := bo.NextBackOff()
	c.logger.Info("reconnecting", "delay", d)

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// connect dials the hub and runs the auth + subscribe handshake. The caller
// owns the returned connection.
func (c *Client) connect(ctx context.Context) (*websocket.Conn, error) {
	c.setState(StateConnecting)
	conn, _, err := c.dialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial hub: %w", err)
	}

	c.setState(StateAuthenticating)
	if err := c.handshake(conn); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

// handshake authenticates and subscribes. A rejection at either step is
// terminal for this connection attempt; the subscription is never skipped.
func (c *Client) handshake(conn *websocket.Conn) error {
	deadline := time.Now().Add(c.dialer.HandshakeTimeout)
	if err := conn.SetReadDeadline(deadline); err != nil {
		return fmt.Errorf("set handshake deadline: %w", err)
	}
	defer conn.SetReadDeadline(time.Time{}) //nolint:errcheck // reset to no deadline

	var hello message
	if err := conn.ReadJSON(&hello); err != nil {
		return fmt.Errorf("read hello: %w", err)
	}
	if hello.Type != msgTypeAuthRequired {
		return fmt.Errorf("unexpected hello message %q", hello.Type)
	}

	if err := conn.WriteJSON(message{Type: msgTypeAuth, AccessToken: c.cfg.Token}); err != nil {
		return fmt.Errorf("send auth: %w", err)
	}

	var authReply message
	if err := conn.ReadJSON(&authReply); err != nil {
		return fmt.Errorf("read auth reply: %w", err)
	}
	switch authReply.Type {
	case msgTypeAuthOK:
	case msgTypeAuthInvalid:
		return fmt.Errorf("%w: %s", ErrAuthRejected, authReply.Message)
	default:
		return fmt.Errorf("unexpected auth reply %q", authReply.Type)
	}

	subID := int(c.msgID.Add(1))
	sub := message{ID: subID, Type: msgTypeSubscribe, EventType: eventTypeStateChanged}
	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("send subscribe: %w", err)
	}

	// Wait for the matching subscription ack, skipping any unrelated frames.
	for {
		var reply message
		if err := conn.ReadJSON(&reply); err != nil {
			return fmt.Errorf("read subscribe ack: %w", err)
		}
		if reply.Type != msgTypeResult || reply.ID != subID {
			continue
		}
		if reply.Success == nil || !*reply.Success {
			return fmt.Errorf("subscription rejected: %s", reply.Message)
		}
		return nil
	}
}

// consume reads frames until the connection drops or the context is
// cancelled. The keepalive goroutine pings on its own schedule and closes
// the connection when pongs stop arriving, which unblocks the read here.
func (c *Client) consume(ctx context.Context, conn *websocket.Conn) error {
	c.lastPong.Store(time.Now().UnixNano())

	stop := make(chan struct{})
	defer close(stop)
	go c.keepalive(ctx, conn, stop)

	for {
		var msg message
		if err := conn.ReadJSON(&msg); err != nil {
			return err
		}

		switch msg.Type {
		case msgTypePong:
			c.lastPong.Store(time.Now().UnixNano())
		case msgTypeEvent:
			var raw domain.RawEvent
			if err := json.Unmarshal(msg.Event, &raw); err != nil {
				c.metrics.MalformedEnvelopes.Inc()
				c.logger.Warn("malformed event envelope", "error", err)
				continue
			}
			c.metrics.EventsReceived.Inc()
			c.deliver(raw)
		case msgTypeResult:
			// Late acks from a previous subscription; nothing to do.
		}
	}
}

// keepalive pings the hub independently of event delivery and closes the
// connection when no pong arrives within the timeout, forcing a reconnect.
// On shutdown it sends a clean close frame instead of abandoning the socket.
func (c *Client) keepalive(ctx context.Context, conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutting down")
			if err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second)); err != nil {
				c.logger.Debug("close frame failed", "error", err)
			}
			conn.Close()
			return
		case <-stop:
			return
		case <-ticker.C:
			last := time.Unix(0, c.lastPong.Load())
			if time.Since(last) > c.cfg.PingInterval+c.cfg.PongTimeout {
				c.logger.Warn("keepalive timeout, closing connection",
					"last_pong", last, "timeout", c.cfg.PongTimeout)
				conn.Close()
				return
			}
			ping := message{ID: int(c.msgID.Add(1)), Type: msgTypePing}
			if err := conn.WriteJSON(ping); err != nil {
				conn.Close()
				return
			}
		}
	}
}

// deliver pushes an event onto the bounded buffer. When the buffer is full
// the oldest buffered event is discarded so the read loop never blocks on a
// stuck downstream stage.
func (c *Client) deliver(raw domain.RawEvent) {
	select {
	case c.events <- raw:
		return
	default:
	}

	select {
	case <-c.events:
		c.metrics.EventsDropped.Inc()
		c.logger.Warn("receive buffer full, dropped oldest event")
	default:
	}

	select {
	case c.events <- raw:
	default:
		c.metrics.EventsDropped.Inc()
	}
}
