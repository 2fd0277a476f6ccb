package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tingxueren/clash-master/pkg/version"
)

// Defaults for Config.
const (
	// DefaultMaxMessageSize bounds a single inbound frame.
	DefaultMaxMessageSize = 1 << 20

	// DefaultWriteTimeout bounds a single outbound write.
	DefaultWriteTimeout = 10 * time.Second

	// DefaultHandshakeTimeout bounds the upgrade when the dial context has
	// no deadline.
	DefaultHandshakeTimeout = 10 * time.Second

	closeGracePeriod = time.Second
)

// Config configures a WebSocket dialer.
type Config struct {
	// URL is the ws:// or wss:// push endpoint.
	URL string

	// Header is sent with the upgrade request.
	Header http.Header

	// TLS is used for wss:// endpoints. Nil uses the system defaults.
	TLS *tls.Config

	// MaxMessageSize bounds inbound messages (default 1 MiB).
	MaxMessageSize int64

	// WriteTimeout bounds each Send (default 10s).
	WriteTimeout time.Duration

	// HandshakeTimeout bounds the upgrade (default 10s).
	HandshakeTimeout time.Duration
}

// WebSocketDialer dials push connections with gorilla/websocket.
type WebSocketDialer struct {
	config Config
	dialer *websocket.Dialer
}

// NewWebSocketDialer creates a dialer for config.URL.
func NewWebSocketDialer(config Config) (*WebSocketDialer, error) {
	if config.URL == "" {
		return nil, fmt.Errorf("push URL is required")
	}
	if config.MaxMessageSize <= 0 {
		config.MaxMessageSize = DefaultMaxMessageSize
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = DefaultWriteTimeout
	}
	if config.HandshakeTimeout <= 0 {
		config.HandshakeTimeout = DefaultHandshakeTimeout
	}

	return &WebSocketDialer{
		config: config,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: config.HandshakeTimeout,
			TLSClientConfig:  config.TLS,
			Subprotocols:     []string{version.Current.Subprotocol()},
		},
	}, nil
}

// URL returns the endpoint this dialer connects to.
func (d *WebSocketDialer) URL() string {
	return d.config.URL
}

// Dial performs the WebSocket upgrade.
func (d *WebSocketDialer) Dial(ctx context.Context) (Conn, error) {
	ws, resp, err := d.dialer.DialContext(ctx, d.config.URL, d.config.Header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", d.config.URL, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", d.config.URL, err)
	}

	if err := version.AcceptSubprotocol(ws.Subprotocol()); err != nil {
		ws.Close()
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedProtocol, err)
	}

	ws.SetReadLimit(d.config.MaxMessageSize)
	return newWSConn(ws, d.config.WriteTimeout), nil
}

// wsConn adapts a *websocket.Conn to Conn.
type wsConn struct {
	ws           *websocket.Conn
	writeTimeout time.Duration

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

func newWSConn(ws *websocket.Conn, writeTimeout time.Duration) *wsConn {
	return &wsConn{ws: ws, writeTimeout: writeTimeout}
}

// Send writes one binary message.
func (c *wsConn) Send(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.BinaryMessage, data)
}

// Receive returns the next data message.
func (c *wsConn) Receive() ([]byte, error) {
	for {
		mt, data, err := c.ws.ReadMessage()
		if err != nil {
			return nil, err
		}
		if mt == websocket.BinaryMessage || mt == websocket.TextMessage {
			return data, nil
		}
	}
}

// Close sends a normal close frame, then closes the socket.
func (c *wsConn) Close() error {
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGracePeriod))
		c.writeMu.Unlock()
		c.closeErr = c.ws.Close()
	})
	return c.closeErr
}

// RemoteAddr returns the peer address.
func (c *wsConn) RemoteAddr() string {
	return c.ws.RemoteAddr().String()
}

// Compile-time interface satisfaction checks.
var (
	_ Dialer = (*WebSocketDialer)(nil)
	_ Conn   = (*wsConn)(nil)
)
