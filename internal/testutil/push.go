package testutil

import (
	"context"
	"sync"

	"github.com/tingxueren/clash-master/pkg/stats"
	"github.com/tingxueren/clash-master/pkg/transport"
	"github.com/tingxueren/clash-master/pkg/wire"
)

// DialFunc scripts the outcome of one dial.
type DialFunc func(ctx context.Context) (transport.Conn, error)

// Dialer is a scripted transport.Dialer. Each Dial consumes the next queued
// outcome; with the queue empty it succeeds with a fresh Conn.
type Dialer struct {
	mu       sync.Mutex
	queue    []DialFunc
	conns    []*Conn
	attempts int
	dialed   chan struct{}
}

// NewDialer creates a Dialer.
func NewDialer() *Dialer {
	return &Dialer{dialed: make(chan struct{}, 64)}
}

// FailNext makes the next dial fail with err.
func (d *Dialer) FailNext(err error) {
	d.Queue(func(context.Context) (transport.Conn, error) {
		return nil, err
	})
}

// BlockNext makes the next dial wait until release is called or the dial
// context ends. release(nil) completes the dial with a new Conn.
func (d *Dialer) BlockNext() (release func(err error)) {
	ch := make(chan error, 1)
	d.Queue(func(ctx context.Context) (transport.Conn, error) {
		select {
		case err := <-ch:
			if err != nil {
				return nil, err
			}
			return d.newConn(), nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})
	return func(err error) { ch <- err }
}

// Queue appends a scripted outcome.
func (d *Dialer) Queue(fn DialFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.queue = append(d.queue, fn)
}

// Dial implements transport.Dialer.
func (d *Dialer) Dial(ctx context.Context) (transport.Conn, error) {
	d.mu.Lock()
	d.attempts++
	var fn DialFunc
	if len(d.queue) > 0 {
		fn = d.queue[0]
		d.queue = d.queue[1:]
	}
	d.mu.Unlock()

	select {
	case d.dialed <- struct{}{}:
	default:
	}

	if fn != nil {
		return fn(ctx)
	}
	return d.newConn(), nil
}

func (d *Dialer) newConn() *Conn {
	c := NewConn()
	d.mu.Lock()
	d.conns = append(d.conns, c)
	d.mu.Unlock()
	return c
}

// Attempts returns the number of Dial calls.
func (d *Dialer) Attempts() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.attempts
}

// Conns returns every connection handed out, oldest first.
func (d *Dialer) Conns() []*Conn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*Conn(nil), d.conns...)
}

// Last returns the newest connection, or nil.
func (d *Dialer) Last() *Conn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

// Conn is an in-memory transport.Conn standing in for the collector side.
type Conn struct {
	inbox     chan []byte
	closed    chan struct{}
	closeOnce sync.Once

	mu       sync.Mutex
	sent     [][]byte
	cause    error
	closedBy string
}

// NewConn creates an open Conn.
func NewConn() *Conn {
	return &Conn{
		inbox:  make(chan []byte, 64),
		closed: make(chan struct{}),
	}
}

// Send records an outbound message.
func (c *Conn) Send(data []byte) error {
	select {
	case <-c.closed:
		return transport.ErrClosed
	default:
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, append([]byte(nil), data...))
	return nil
}

// Receive returns the next delivered message, or the close cause.
func (c *Conn) Receive() ([]byte, error) {
	select {
	case data := <-c.inbox:
		return data, nil
	case <-c.closed:
		c.mu.Lock()
		defer c.mu.Unlock()
		return nil, c.cause
	}
}

// Close closes the connection from the client side.
func (c *Conn) Close() error {
	c.end(transport.ErrClosed, "client")
	return nil
}

// RemoteAddr implements transport.Conn.
func (c *Conn) RemoteAddr() string {
	return "collector.test:443"
}

// Drop ends the connection from the collector side with err.
func (c *Conn) Drop(err error) {
	c.end(err, "collector")
}

func (c *Conn) end(err error, by string) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.cause = err
		c.closedBy = by
		c.mu.Unlock()
		close(c.closed)
	})
}

// Closed reports whether the connection ended, and which side ended it.
func (c *Conn) Closed() (bool, string) {
	select {
	case <-c.closed:
		c.mu.Lock()
		defer c.mu.Unlock()
		return true, c.closedBy
	default:
		return false, ""
	}
}

// Deliver sends a frame from the collector.
func (c *Conn) Deliver(f wire.Frame) {
	data, err := wire.Encode(f)
	if err != nil {
		panic(err)
	}
	c.DeliverRaw(data)
}

// Publish delivers snap as a stats frame answering the newest subscribe the
// client sent, the way the collector echoes the subscription revision.
func (c *Conn) Publish(snap stats.Snapshot) {
	if subs := c.Subscribes(); len(subs) > 0 {
		snap.Revision = subs[len(subs)-1].Revision
	}
	c.Deliver(&wire.Stats{Snapshot: snap})
}

// DeliverRaw sends raw bytes from the collector.
func (c *Conn) DeliverRaw(data []byte) {
	c.inbox <- data
}

// Sent decodes every frame the client sent.
func (c *Conn) Sent() []wire.Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	frames := make([]wire.Frame, 0, len(c.sent))
	for _, data := range c.sent {
		f, err := wire.Decode(data)
		if err != nil {
			panic(err)
		}
		frames = append(frames, f)
	}
	return frames
}

// Subscribes returns the subscribe frames the client sent, oldest first.
func (c *Conn) Subscribes() []*wire.Subscribe {
	var out []*wire.Subscribe
	for _, f := range c.Sent() {
		if s, ok := f.(*wire.Subscribe); ok {
			out = append(out, s)
		}
	}
	return out
}

// Pings returns the ping frames the client sent, oldest first.
func (c *Conn) Pings() []*wire.Ping {
	var out []*wire.Ping
	for _, f := range c.Sent() {
		if p, ok := f.(*wire.Ping); ok {
			out = append(out, p)
		}
	}
	return out
}

var (
	_ transport.Dialer = (*Dialer)(nil)
	_ transport.Conn   = (*Conn)(nil)
)
