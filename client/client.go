// Package client owns the persistent websocket connection to the chat
// backend: connect/send/close, keepalive, reconnection with backoff, and
// dispatch of decoded events to per-feature listeners.
package client

import (
	"context"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"klique/models"
	"klique/protocol"
)

// State is the connection lifecycle state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateOpen
	StateClosed
	StateError
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Close codes the backend uses for token problems.
const (
	closeCodeTokenExpired   = 4401
	closeCodeTokenForbidden = 4403
)

// ErrNotConnected is returned by Send and SendBinary when the connection
// is not open. Callers can queue through SendQueued instead.
var ErrNotConnected = errors.New("websocket not connected")

// ErrClosed is returned when the client was shut down with Close.
var ErrClosed = errors.New("client closed")

// TokenSource supplies the identity token for the connect handshake and
// refreshes it when the server closes with an expired-token code.
type TokenSource interface {
	Token() (string, error)
	Refresh() (string, error)
}

// Options configures a Client.
type Options struct {
	URL      string
	Identity models.Identity

	// Tokens, when set, overrides Identity.Token and enables automatic
	// refresh on a 4401 close.
	Tokens TokenSource

	PingInterval         time.Duration
	PongTimeout          time.Duration
	ReconnectInitialWait time.Duration
	MaxReconnectAttempts uint64

	Dialer *websocket.Dialer

	// OnOpen runs after every successful (re)connect, once the queued
	// outbound frames have been flushed. reconnect is false on the first
	// connection of this client's lifetime.
	OnOpen func(reconnect bool)

	// OnState observes lifecycle transitions. Invoked on its own
	// goroutine; use Client.State for synchronous reads.
	OnState func(State)

	// OnUnhandled receives routed events that found no registered
	// listener, so a notification sink can still surface them.
	OnUnhandled func(listenerID string, ev protocol.Event)
}

func (o *Options) withDefaults() {
	if o.PingInterval <= 0 {
		o.PingInterval = 5 * time.Second
	}
	if o.PongTimeout <= 0 {
		o.PongTimeout = 7 * time.Second
	}
	if o.ReconnectInitialWait <= 0 {
		o.ReconnectInitialWait = 3 * time.Second
	}
	if o.MaxReconnectAttempts == 0 {
		o.MaxReconnectAttempts = 10
	}
	if o.Dialer == nil {
		// The default dialer performs standard TLS certificate and
		// hostname verification.
		o.Dialer = websocket.DefaultDialer
	}
}

type frame struct {
	kind int
	data []byte
}

// wsConn bundles one physical connection with its write queue and
// teardown signal, so a send racing a close fails gracefully instead of
// writing to a dead socket.
type wsConn struct {
	ws   *websocket.Conn
	out  chan frame
	done chan struct{}
	once sync.Once
}

func (wc *wsConn) close() {
	wc.once.Do(func() {
		close(wc.done)
		_ = wc.ws.Close()
	})
}

// Client multiplexes the logical chat channels over one websocket. At
// most one live connection exists per client; Connect on an open client
// is a no-op.
type Client struct {
	opts     Options
	registry *Registry

	mu           sync.Mutex
	conn         *wsConn
	state        State
	closed       bool
	everOpen     bool
	reconnecting bool
	pending      []frame

	lastPong atomic.Int64 // unix nanos
}

const writeTimeout = 10 * time.Second

// New builds a client around the listener registry. The connection is not
// opened until Connect.
func New(opts Options, registry *Registry) *Client {
	opts.withDefaults()
	return &Client{opts: opts, registry: registry, state: StateDisconnected}
}

// Registry exposes the listener registry for feature handlers.
func (c *Client) Registry() *Registry { return c.registry }

// State returns the current lifecycle state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) setStateLocked(s State) {
	if c.state == s {
		return
	}
	c.state = s
	if cb := c.opts.OnState; cb != nil {
		go cb(s)
	}
}

func (c *Client) dialURL() (string, error) {
	u, err := url.Parse(c.opts.URL)
	if err != nil {
		return "", errors.Wrap(err, "parse websocket url")
	}
	token := c.opts.Identity.Token
	if c.opts.Tokens != nil {
		t, err := c.opts.Tokens.Token()
		if err != nil {
			return "", errors.Wrap(err, "fetch token")
		}
		token = t
	}
	q := u.Query()
	q.Set("customer_id", strconv.FormatInt(c.opts.Identity.UserID, 10))
	q.Set("full_name", c.opts.Identity.DisplayName)
	q.Set("token", token)
	q.Set("conn_ref", uuid.NewString())
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Connect establishes the connection. It is a no-op when already open or
// connecting. A failed dial leaves the client in the Error state and
// starts the background reconnection schedule.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.state == StateOpen || c.state == StateConnecting {
		c.mu.Unlock()
		return nil
	}
	c.setStateLocked(StateConnecting)
	c.mu.Unlock()

	target, err := c.dialURL()
	if err != nil {
		c.mu.Lock()
		c.setStateLocked(StateError)
		c.mu.Unlock()
		return err
	}

	ws, resp, err := c.opts.Dialer.DialContext(ctx, target, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		c.mu.Lock()
		c.setStateLocked(StateError)
		c.mu.Unlock()
		log.Warn().Err(err).Str("url", c.opts.URL).Msg("websocket dial failed")
		c.scheduleReconnect()
		return errors.Wrap(err, "dial websocket")
	}
	c.install(ws)
	return nil
}

func (c *Client) install(ws *websocket.Conn) {
	conn := &wsConn{
		ws:   ws,
		out:  make(chan frame, 64),
		done: make(chan struct{}),
	}
	c.lastPong.Store(time.Now().UnixNano())
	ws.SetPongHandler(func(string) error {
		c.lastPong.Store(time.Now().UnixNano())
		return nil
	})

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.close()
		return
	}
	reconnect := c.everOpen
	c.everOpen = true
	c.conn = conn
	pending := c.pending
	c.pending = nil
	c.setStateLocked(StateOpen)
	c.mu.Unlock()

	go c.writeLoop(conn)
	go c.readLoop(conn)
	go c.pingLoop(conn)

	// Flush frames queued while disconnected, in original order.
	for _, f := range pending {
		select {
		case conn.out <- f:
		case <-conn.done:
			return
		}
	}
	log.Info().Bool("reconnect", reconnect).Msg("websocket connected")
	if c.opts.OnOpen != nil {
		c.opts.OnOpen(reconnect)
	}
}

// Send serializes and transmits one event. It returns ErrNotConnected
// when the connection is not open; nothing is queued.
func (c *Client) Send(ev protocol.Event) error {
	data, err := protocol.Encode(ev)
	if err != nil {
		return err
	}
	return c.sendFrame(frame{websocket.TextMessage, data}, false)
}

// SendQueued behaves like Send but buffers the event while the connection
// is down and flushes it after the next successful (re)connect.
func (c *Client) SendQueued(ev protocol.Event) error {
	data, err := protocol.Encode(ev)
	if err != nil {
		return err
	}
	return c.sendFrame(frame{websocket.TextMessage, data}, true)
}

// SendBinary transmits one pre-framed binary attachment.
func (c *Client) SendBinary(data []byte) error {
	return c.sendFrame(frame{websocket.BinaryMessage, data}, false)
}

func (c *Client) sendFrame(f frame, queue bool) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	conn := c.conn
	if conn == nil || c.state != StateOpen {
		if queue {
			c.pending = append(c.pending, f)
			c.mu.Unlock()
			return nil
		}
		c.mu.Unlock()
		return ErrNotConnected
	}
	c.mu.Unlock()

	select {
	case conn.out <- f:
		return nil
	case <-conn.done:
		if queue {
			c.mu.Lock()
			c.pending = append(c.pending, f)
			c.mu.Unlock()
			return nil
		}
		return ErrNotConnected
	}
}

// Close terminates the connection and stops reconnection. Idempotent.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	conn := c.conn
	c.conn = nil
	c.setStateLocked(StateClosed)
	c.mu.Unlock()

	if conn != nil {
		deadline := time.Now().Add(time.Second)
		_ = conn.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client closed"), deadline)
		conn.close()
	}
}

func (c *Client) writeLoop(conn *wsConn) {
	for {
		select {
		case f := <-conn.out:
			_ = conn.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.ws.WriteMessage(f.kind, f.data); err != nil {
				log.Warn().Err(err).Msg("websocket write failed")
				c.teardown(conn, true)
				return
			}
		case <-conn.done:
			return
		}
	}
}

func (c *Client) pingLoop(conn *wsConn) {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-conn.done:
			return
		case <-ticker.C:
			deadline := time.Now().Add(writeTimeout)
			if err := conn.ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				log.Warn().Err(err).Msg("ping write failed")
				c.teardown(conn, true)
				return
			}
			last := time.Unix(0, c.lastPong.Load())
			if time.Since(last) > c.opts.PongTimeout {
				log.Warn().Dur("since_pong", time.Since(last)).Msg("pong timeout, reconnecting")
				c.teardown(conn, true)
				return
			}
		}
	}
}

func (c *Client) readLoop(conn *wsConn) {
	for {
		msgType, data, err := conn.ws.ReadMessage()
		if err != nil {
			c.handleReadError(conn, err)
			return
		}
		switch msgType {
		case websocket.TextMessage:
			c.handleText(data)
		case websocket.BinaryMessage:
			c.handleBinary(data)
		}
	}
}

func (c *Client) handleReadError(conn *wsConn, err error) {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		switch ce.Code {
		case closeCodeTokenExpired:
			log.Info().Str("reason", ce.Text).Msg("token expired, refreshing")
			c.teardown(conn, false)
			if c.opts.Tokens != nil {
				go c.refreshAndReconnect()
				return
			}
			c.scheduleReconnect()
			return
		case closeCodeTokenForbidden:
			log.Warn().Str("reason", ce.Text).Msg("token rejected, giving up")
			c.mu.Lock()
			c.closed = true
			c.mu.Unlock()
			c.teardown(conn, false)
			return
		}
	}
	log.Warn().Err(err).Msg("websocket read failed")
	c.teardown(conn, true)
}

func (c *Client) refreshAndReconnect() {
	if _, err := c.opts.Tokens.Refresh(); err != nil {
		log.Error().Err(err).Msg("token refresh failed")
		c.mu.Lock()
		c.closed = true
		c.setStateLocked(StateClosed)
		c.mu.Unlock()
		return
	}
	if err := c.Connect(context.Background()); err != nil {
		log.Warn().Err(err).Msg("reconnect after token refresh failed")
	}
}

// teardown retires one physical connection. When reconnect is set and the
// client was not closed by the user, the backoff schedule takes over.
func (c *Client) teardown(conn *wsConn, reconnect bool) {
	conn.close()
	c.mu.Lock()
	if c.conn != conn {
		// A newer connection is already installed.
		c.mu.Unlock()
		return
	}
	c.conn = nil
	if c.closed {
		c.setStateLocked(StateClosed)
		c.mu.Unlock()
		return
	}
	if reconnect {
		c.setStateLocked(StateError)
		c.mu.Unlock()
		c.scheduleReconnect()
		return
	}
	c.setStateLocked(StateClosed)
	c.mu.Unlock()
}

// scheduleReconnect runs the bounded exponential backoff dial loop on its
// own goroutine. Only one schedule is active at a time.
func (c *Client) scheduleReconnect() {
	c.mu.Lock()
	if c.closed || c.reconnecting {
		c.mu.Unlock()
		return
	}
	c.reconnecting = true
	c.mu.Unlock()

	go func() {
		defer func() {
			c.mu.Lock()
			c.reconnecting = false
			c.mu.Unlock()
		}()

		expo := backoff.NewExponentialBackOff()
		expo.InitialInterval = c.opts.ReconnectInitialWait
		expo.MaxElapsedTime = 0
		policy := backoff.WithMaxRetries(expo, c.opts.MaxReconnectAttempts)

		attempt := 0
		for {
			wait := policy.NextBackOff()
			if wait == backoff.Stop {
				log.Error().Int("attempts", attempt).Msg("reconnect attempts exhausted")
				return
			}
			timer := time.NewTimer(wait)
			<-timer.C

			c.mu.Lock()
			if c.closed || c.state == StateOpen {
				c.mu.Unlock()
				return
			}
			c.mu.Unlock()

			attempt++
			log.Info().Int("attempt", attempt).Msg("reconnecting")
			if err := c.connectOnce(); err == nil {
				return
			}
		}
	}()
}

// connectOnce is the dial path used by the reconnect loop; unlike Connect
// it never schedules another reconnect on failure.
func (c *Client) connectOnce() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.state == StateOpen {
		c.mu.Unlock()
		return nil
	}
	c.setStateLocked(StateConnecting)
	c.mu.Unlock()

	target, err := c.dialURL()
	if err != nil {
		c.mu.Lock()
		c.setStateLocked(StateError)
		c.mu.Unlock()
		return err
	}
	ws, resp, err := c.opts.Dialer.DialContext(context.Background(), target, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		c.mu.Lock()
		c.setStateLocked(StateError)
		c.mu.Unlock()
		return errors.Wrap(err, "dial websocket")
	}
	c.install(ws)
	return nil
}

func (c *Client) handleText(data []byte) {
	ev, err := protocol.Decode(data)
	if err != nil {
		if errors.Is(err, protocol.ErrUnknownType) {
			log.Debug().Err(err).Msg("dropping frame with unknown type")
		} else {
			log.Warn().Err(err).Msg("dropping undecodable frame")
		}
		return
	}
	c.dispatch(ev)
}

func (c *Client) handleBinary(data []byte) {
	meta, payload, err := protocol.DecodeBinary(data)
	if err != nil {
		log.Warn().Err(err).Msg("dropping undecodable binary frame")
		return
	}
	c.dispatch(&protocol.BinaryItem{Meta: meta, Payload: payload})
}

func (c *Client) dispatch(ev protocol.Event) {
	id, ok := routeEvent(ev)
	if !ok {
		log.Debug().Str("event", ev.EventType()).Msg("no route for event")
		return
	}
	if !c.registry.Dispatch(id, ev) && c.opts.OnUnhandled != nil {
		c.opts.OnUnhandled(id, ev)
	}
}
