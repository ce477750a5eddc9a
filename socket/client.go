// Package socket maintains the single WebSocket connection of a user and
// turns its lifecycle into callbacks.
//
// The client never reconnects on its own and never queues frames while
// disconnected. Reconnection belongs to the layer above.
package socket

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"konnekt-chat/domain"
	chaterrors "konnekt-chat/errors"
	"konnekt-chat/observability"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	closeGrace = time.Second
)

// Handlers are invoked from the client's I/O goroutines. They must not block
// for long; hand the value off and return.
type Handlers struct {
	OnOpen        func()
	OnMessage     func(raw string)
	OnClose       func(code int, reason string, remote bool)
	OnError       func(err error)
	OnStateChange func(state domain.ConnectionState)
}

type Options struct {
	// ReadTimeout bounds silence on the connection. Pings keep it alive.
	ReadTimeout time.Duration
	// PingPeriod defaults to 9/10 of ReadTimeout.
	PingPeriod time.Duration
}

type Client struct {
	log         *slog.Logger
	dialer      *websocket.Dialer
	uri         string
	header      http.Header
	handlers    Handlers
	readTimeout time.Duration
	pingPeriod  time.Duration

	mu      sync.Mutex
	conn    *websocket.Conn
	state   domain.ConnectionState
	closing bool

	writeMu sync.Mutex
}

// EndpointFor derives the per-user socket endpoint scheme://host:port/ws/{userID}
// from the configured base URI. A missing port is filled with the scheme default.
func EndpointFor(baseURI string, userID string) (string, error) {
	if userID == "" {
		return "", fmt.Errorf("%w: empty user id", chaterrors.ErrInvalidEndpoint)
	}
	u, err := url.Parse(baseURI)
	if err != nil {
		return "", fmt.Errorf("%w: %v", chaterrors.ErrInvalidEndpoint, err)
	}
	port := u.Port()
	switch u.Scheme {
	case "ws":
		if port == "" {
			port = "80"
		}
	case "wss":
		if port == "" {
			port = "443"
		}
	default:
		return "", fmt.Errorf("%w: unsupported scheme %q", chaterrors.ErrInvalidEndpoint, u.Scheme)
	}
	if u.Hostname() == "" {
		return "", fmt.Errorf("%w: missing host", chaterrors.ErrInvalidEndpoint)
	}
	return fmt.Sprintf("%s://%s/ws/%s", u.Scheme, net.JoinHostPort(u.Hostname(), port), url.PathEscape(userID)), nil
}

// ValidateEndpoint checks that uri has the scheme://host:port/ws/{userId} shape.
func ValidateEndpoint(uri string) error {
	u, err := url.Parse(uri)
	if err != nil {
		return fmt.Errorf("%w: %v", chaterrors.ErrInvalidEndpoint, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("%w: unsupported scheme %q", chaterrors.ErrInvalidEndpoint, u.Scheme)
	}
	if u.Hostname() == "" || u.Port() == "" {
		return fmt.Errorf("%w: host and port are required", chaterrors.ErrInvalidEndpoint)
	}
	userID, ok := strings.CutPrefix(u.EscapedPath(), "/ws/")
	if !ok || userID == "" || strings.Contains(userID, "/") {
		return fmt.Errorf("%w: path must be /ws/{userId}, got %q", chaterrors.ErrInvalidEndpoint, u.Path)
	}
	return nil
}

func NewClient(log *slog.Logger, dialer *websocket.Dialer, uri string,
	header http.Header, handlers Handlers, opts Options) (*Client, error) {
	if err := ValidateEndpoint(uri); err != nil {
		return nil, err
	}
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = 60 * time.Second
	}
	if opts.PingPeriod <= 0 || opts.PingPeriod >= opts.ReadTimeout {
		opts.PingPeriod = (opts.ReadTimeout * 9) / 10
	}
	return &Client{
		log:         log.With("component", "socket", "uri", uri),
		dialer:      dialer,
		uri:         uri,
		header:      header,
		handlers:    withDefaults(handlers),
		readTimeout: opts.ReadTimeout,
		pingPeriod:  opts.PingPeriod,
		state:       domain.Disconnected,
	}, nil
}

func withDefaults(h Handlers) Handlers {
	if h.OnOpen == nil {
		h.OnOpen = func() {}
	}
	if h.OnMessage == nil {
		h.OnMessage = func(string) {}
	}
	if h.OnClose == nil {
		h.OnClose = func(int, string, bool) {}
	}
	if h.OnError == nil {
		h.OnError = func(error) {}
	}
	if h.OnStateChange == nil {
		h.OnStateChange = func(domain.ConnectionState) {}
	}
	return h
}

// Connect opens the connection in the background. Failures are reported
// through OnError.
func (c *Client) Connect(ctx context.Context) {
	go func() {
		_ = c.Dial(ctx)
	}()
}

// Dial opens the connection and returns once the handshake completed or
// failed. It is a no-op while connecting or connected.
func (c *Client) Dial(ctx context.Context) error {
	c.mu.Lock()
	if c.state == domain.Connecting || c.state == domain.Connected {
		c.mu.Unlock()
		return nil
	}
	c.closing = false
	c.state = domain.Connecting
	c.mu.Unlock()
	c.handlers.OnStateChange(domain.Connecting)

	c.log.Debug("Dialing chat socket")
	conn, resp, err := c.dialer.DialContext(ctx, c.uri, c.header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		connErr := &chaterrors.ConnectionError{Op: "dial", Err: err}
		c.log.Error("WebSocket dial failed", "error", err)
		c.transition(domain.Errored)
		c.handlers.OnError(connErr)
		return connErr
	}

	c.mu.Lock()
	if c.closing {
		// Close was called while the handshake was in flight
		c.mu.Unlock()
		_ = conn.Close()
		return chaterrors.ErrNotConnected
	}
	c.conn = conn
	c.state = domain.Connected
	c.mu.Unlock()

	_ = conn.SetReadDeadline(time.Now().Add(c.readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(c.readTimeout))
	})

	observability.SocketConnectionsActive.Inc()
	c.log.Info("WebSocket connected")
	c.handlers.OnStateChange(domain.Connected)
	c.handlers.OnOpen()

	done := make(chan struct{})
	go c.pingLoop(conn, done)
	go c.readLoop(conn, done)
	return nil
}

// Send writes one text frame. While not connected the frame is dropped and
// ErrNotConnected returned.
func (c *Client) Send(text string) error {
	c.mu.Lock()
	conn := c.conn
	open := c.state == domain.Connected
	c.mu.Unlock()

	if !open || conn == nil {
		c.log.Warn("Dropping outbound frame, socket not open")
		observability.SendsTotal.WithLabelValues(observability.SendDropped).Inc()
		return chaterrors.ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, []byte(text)); err != nil {
		c.log.Error("WebSocket write failed", "error", err)
		observability.SendsTotal.WithLabelValues(observability.SendFailed).Inc()
		return &chaterrors.ConnectionError{Op: "write", Err: err}
	}
	observability.SendsTotal.WithLabelValues(observability.SendOK).Inc()
	return nil
}

func (c *Client) IsOpen() bool {
	return c.State().IsOpen()
}

func (c *Client) State() domain.ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Close performs a client-initiated close. The state becomes Closed right
// away; OnClose fires with remote=false once the read loop exits.
func (c *Client) Close() error {
	c.mu.Lock()
	c.closing = true
	conn := c.conn
	changed := c.state != domain.Closed
	c.state = domain.Closed
	c.mu.Unlock()

	if changed {
		c.handlers.OnStateChange(domain.Closed)
	}
	if conn == nil {
		return nil
	}
	c.log.Info("Closing WebSocket")
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(closeGrace))
	return conn.Close()
}

func (c *Client) readLoop(conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			c.onReadError(conn, err)
			return
		}
		if messageType != websocket.TextMessage {
			c.log.Debug("Ignoring non text frame", "type", messageType)
			continue
		}
		observability.FramesReceivedTotal.Inc()
		c.dispatch(string(data))
	}
}

func (c *Client) onReadError(conn *websocket.Conn, err error) {
	c.mu.Lock()
	closing := c.closing
	if c.conn == conn {
		c.conn = nil
	}
	c.mu.Unlock()
	_ = conn.Close()
	observability.SocketConnectionsActive.Dec()

	code, reason := websocket.CloseAbnormalClosure, err.Error()
	var closeErr *websocket.CloseError
	isCloseFrame := errors.As(err, &closeErr)
	if isCloseFrame {
		code, reason = closeErr.Code, closeErr.Text
	}

	if closing {
		c.log.Info("WebSocket closed", "code", code)
		c.handlers.OnClose(code, reason, false)
		return
	}

	if !isCloseFrame {
		c.log.Error("WebSocket read failed", "error", err)
		c.handlers.OnError(&chaterrors.ConnectionError{Op: "read", Err: err})
	}
	c.log.Warn("WebSocket closed by remote", "code", code, "reason", reason)
	c.transition(domain.Disconnected)
	c.handlers.OnClose(code, reason, true)
}

func (c *Client) pingLoop(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(c.pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.log.Debug("Ping failed", "error", err)
				return
			}
		}
	}
}

// dispatch shields the read loop from handler panics: a frame that blows
// up its handler is dropped, the connection survives.
func (c *Client) dispatch(raw string) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("Message handler panicked, frame dropped", "panic", r)
		}
	}()
	c.handlers.OnMessage(raw)
}

func (c *Client) transition(state domain.ConnectionState) {
	c.mu.Lock()
	if c.state == state || c.state == domain.Closed {
		c.mu.Unlock()
		return
	}
	c.state = state
	c.mu.Unlock()
	c.handlers.OnStateChange(state)
}
