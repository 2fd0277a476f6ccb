package transport

import (
	"context"
	"errors"
)

// Transport errors.
var (
	ErrClosed              = errors.New("transport closed")
	ErrUnsupportedProtocol = errors.New("server selected unsupported subprotocol")
)

// Dialer opens push connections.
type Dialer interface {
	// Dial opens one connection. The context bounds the handshake only.
	Dial(ctx context.Context) (Conn, error)
}

// Conn is one open push connection.
//
// Send may be called from one goroutine while Receive runs on another.
// Close unblocks a pending Receive.
type Conn interface {
	// Send writes one binary message.
	Send(data []byte) error

	// Receive blocks for the next message. It returns an error once the
	// connection has ended; use CloseInfo to classify it.
	Receive() ([]byte, error)

	// Close sends a normal close and releases the socket. Idempotent.
	Close() error

	// RemoteAddr returns the peer address for logging.
	RemoteAddr() string
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(ctx context.Context) (Conn, error)

// Dial calls f(ctx).
func (f DialerFunc) Dial(ctx context.Context) (Conn, error) {
	return f(ctx)
}
