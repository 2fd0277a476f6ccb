package connection

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock"

	"github.com/tingxueren/clash-master/pkg/loop"
	synclog "github.com/tingxueren/clash-master/pkg/log"
	"github.com/tingxueren/clash-master/pkg/metrics"
	"github.com/tingxueren/clash-master/pkg/transport"
	"github.com/tingxueren/clash-master/pkg/wire"
)

// Manager defaults.
const (
	DefaultDialTimeout = 10 * time.Second
	DefaultSendQueue   = 32
)

// ErrDialTimeout is the failure recorded when a dial exceeds DialTimeout.
var ErrDialTimeout = errors.New("dial timeout")

// Events are the callbacks a Manager delivers on the sync loop. Any field
// may be nil.
type Events struct {
	// StateChanged reports every state transition.
	StateChanged func(from, to State)

	// Connected reports an open connection for generation gen.
	Connected func(gen uint64)

	// Disconnected reports the end of generation gen's connection. err is
	// nil for a clean close or Disable.
	Disconnected func(gen uint64, err error)

	// Stats delivers an inbound stats frame.
	Stats func(gen uint64, frame *wire.Stats)

	// Latency reports an acknowledged health probe.
	Latency func(d time.Duration)
}

// Config configures a Manager.
type Config struct {
	// Dialer opens push connections. Required.
	Dialer transport.Dialer

	// Executor runs every callback. Required; all Manager methods must be
	// called from the same executor.
	Executor loop.Executor

	// Clock drives backoff, probe and dial timers (default wall clock).
	Clock clock.Clock

	Backoff       BackoffConfig
	ProbeInterval time.Duration
	DialTimeout   time.Duration

	// SendQueue is the per-connection outbound frame buffer.
	SendQueue int

	Logger      *slog.Logger
	EventLogger synclog.Logger
	Metrics     *metrics.Collector
}

// Status is a point-in-time view of the manager.
type Status struct {
	State        State
	Enabled      bool
	Generation   uint64
	ConnectionID string
	Attempts     int
	Latency      time.Duration
	Probe        ProbeStats
	LastError    error
}

// link is one open connection and its writer.
type link struct {
	conn transport.Conn
	out  chan []byte
	done chan struct{}
}

// Manager owns the push connection lifecycle: connect, probe, disconnect,
// reconnect with backoff.
//
// Every goroutine and timer the manager starts captures the generation it
// was created for and posts its result back to the executor. Before acting,
// the handler checks that the manager is still enabled and on that
// generation; otherwise the result is dropped. A late close from an old
// connection therefore never touches state owned by a newer one.
//
// Manager is not safe for concurrent use; it is confined to the executor.
type Manager struct {
	config  Config
	clock   clock.Clock
	logger  *slog.Logger
	events  Slot[Events]
	backoff *Backoff

	state   State
	enabled bool
	gen     uint64
	connID  string
	lastErr error
	latency time.Duration

	link       *link
	probe      *probe
	lastProbe  ProbeStats
	dialCancel context.CancelFunc
	dialTimer  clock.Timer
	reconnect  clock.Timer
}

// NewManager creates a disabled manager.
func NewManager(config Config) *Manager {
	if config.Clock == nil {
		config.Clock = clock.WallClock
	}
	if config.ProbeInterval <= 0 {
		config.ProbeInterval = DefaultProbeInterval
	}
	if config.DialTimeout <= 0 {
		config.DialTimeout = DefaultDialTimeout
	}
	if config.SendQueue <= 0 {
		config.SendQueue = DefaultSendQueue
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	config.EventLogger = synclog.OrNoop(config.EventLogger)

	return &Manager{
		config:  config,
		clock:   config.Clock,
		logger:  logger,
		backoff: NewBackoffWithConfig(config.Backoff),
	}
}

// SetEvents replaces the callbacks. Safe to call from any goroutine.
func (m *Manager) SetEvents(ev Events) {
	m.events.Store(ev)
}

// State returns the current state.
func (m *Manager) State() State {
	return m.state
}

// Enabled reports whether the manager is trying to stay connected.
func (m *Manager) Enabled() bool {
	return m.enabled
}

// Generation returns the current generation. It increments on every
// connect attempt.
func (m *Manager) Generation() uint64 {
	return m.gen
}

// Latency returns the last measured probe round trip time.
func (m *Manager) Latency() time.Duration {
	return m.latency
}

// ProbeStats returns probe statistics for the current connection, or the
// last connection if none is open.
func (m *Manager) ProbeStats() ProbeStats {
	if m.probe != nil {
		return m.probe.stats
	}
	return m.lastProbe
}

// Status returns a snapshot of the manager.
func (m *Manager) Status() Status {
	return Status{
		State:        m.state,
		Enabled:      m.enabled,
		Generation:   m.gen,
		ConnectionID: m.connID,
		Attempts:     m.backoff.Attempts(),
		Latency:      m.latency,
		Probe:        m.ProbeStats(),
		LastError:    m.lastErr,
	}
}

// Enable begins connection attempts. Idempotent.
func (m *Manager) Enable() {
	if m.enabled {
		return
	}
	m.enabled = true
	m.logger.Info("push connection enabled")
	m.connect()
}

// Disable tears down any connection or pending attempt, cancels every
// timer and stays disconnected until re-enabled. Idempotent.
func (m *Manager) Disable() {
	if !m.enabled {
		return
	}
	m.enabled = false
	wasConnected := m.state == StateConnected

	m.teardown()
	m.backoff.Reset()
	m.setState(StateDisconnected, "disabled")
	m.logger.Info("push connection disabled", "generation", m.gen)

	if wasConnected {
		if fn := m.events.Load().Disconnected; fn != nil {
			fn(m.gen, nil)
		}
	}
}

// Send queues a frame on the open connection.
func (m *Manager) Send(f wire.Frame) error {
	if m.state != StateConnected || m.link == nil {
		return ErrNotConnected
	}
	data, err := wire.Encode(f)
	if err != nil {
		return err
	}

	select {
	case m.link.out <- data:
	default:
		return ErrSendQueueFull
	}

	m.config.Metrics.Frame("out", f.Type().String())
	m.emit(synclog.Event{
		Direction: synclog.DirectionOut,
		Layer:     synclog.LayerWire,
		Category:  synclog.CategoryFrame,
		Frame:     synclog.NewFrameEvent(f.Type(), data),
	})
	return nil
}

func (m *Manager) current(gen uint64) bool {
	return m.enabled && gen == m.gen
}

func (m *Manager) connect() {
	m.gen++
	gen := m.gen
	m.connID = uuid.NewString()
	m.config.Metrics.Generation(gen)
	m.setState(StateConnecting, "dial")

	ctx, cancel := context.WithCancel(context.Background())
	var timedOut atomic.Bool
	m.dialCancel = cancel
	m.dialTimer = m.clock.AfterFunc(m.config.DialTimeout, func() {
		timedOut.Store(true)
		cancel()
	})

	dialer := m.config.Dialer
	exec := m.config.Executor
	go func() {
		conn, err := dialer.Dial(ctx)
		if err != nil && timedOut.Load() {
			err = fmt.Errorf("%w after %s: %v", ErrDialTimeout, m.config.DialTimeout, err)
		}
		posted := exec.Post(func() {
			m.handleDial(gen, conn, err)
		})
		if !posted && conn != nil {
			conn.Close()
		}
	}()
}

func (m *Manager) handleDial(gen uint64, conn transport.Conn, err error) {
	if !m.current(gen) || m.state != StateConnecting {
		if conn != nil {
			conn.Close()
		}
		m.logger.Debug("discarding stale dial result", "generation", gen, "current", m.gen)
		return
	}
	m.stopDial()

	if err != nil {
		m.fail(err, false)
		return
	}

	l := &link{
		conn: conn,
		out:  make(chan []byte, m.config.SendQueue),
		done: make(chan struct{}),
	}
	m.link = l
	m.lastErr = nil
	m.backoff.Reset()
	m.setState(StateConnected, conn.RemoteAddr())
	m.logger.Info("push connected", "generation", gen, "remote", conn.RemoteAddr())

	go m.writeLoop(gen, l)
	go m.readLoop(gen, l)

	if fn := m.events.Load().Connected; fn != nil {
		fn(gen)
	}

	// The Connected callback may have disabled the manager.
	if m.link != l {
		return
	}
	m.probe = &probe{
		interval: m.config.ProbeInterval,
		clock:    m.clock,
		post:     m.config.Executor.Post,
		send: func(p *wire.Ping) error {
			return m.Send(p)
		},
		report: m.probeResult,
	}
	m.probe.start()
}

func (m *Manager) readLoop(gen uint64, l *link) {
	exec := m.config.Executor
	for {
		data, err := l.conn.Receive()
		if err != nil {
			exec.Post(func() {
				m.handleClosed(gen, l, err)
			})
			return
		}
		if !exec.Post(func() { m.handleData(gen, l, data) }) {
			return
		}
	}
}

func (m *Manager) writeLoop(gen uint64, l *link) {
	for {
		select {
		case <-l.done:
			return
		case data := <-l.out:
			if err := l.conn.Send(data); err != nil {
				m.config.Executor.Post(func() {
					m.handleClosed(gen, l, err)
				})
				return
			}
		}
	}
}

func (m *Manager) handleData(gen uint64, l *link, data []byte) {
	if !m.current(gen) || m.link != l {
		return
	}

	f, err := wire.Decode(data)
	if err != nil {
		m.protocolFailure(err, data)
		return
	}
	m.config.Metrics.Frame("in", f.Type().String())
	m.emit(synclog.Event{
		Direction: synclog.DirectionIn,
		Layer:     synclog.LayerWire,
		Category:  synclog.CategoryFrame,
		Frame:     synclog.NewFrameEvent(f.Type(), data),
	})

	switch f := f.(type) {
	case *wire.Pong:
		if m.probe != nil {
			m.probe.handlePong(f)
		}
	case *wire.Stats:
		if fn := m.events.Load().Stats; fn != nil {
			fn(gen, f)
		}
	case *wire.Subscribe, *wire.Ping:
		m.protocolFailure(fmt.Errorf("%w: %s", ErrUnexpectedPeer, f.Type()), data)
	}
}

func (m *Manager) handleClosed(gen uint64, l *link, err error) {
	if !m.current(gen) || m.link != l {
		m.logger.Debug("ignoring close from superseded connection", "generation", gen, "current", m.gen)
		return
	}

	info := transport.Classify(err)
	code := info.Code
	m.emit(synclog.Event{
		Layer:    synclog.LayerTransport,
		Category: synclog.CategoryError,
		Error: &synclog.ErrorEventData{
			Layer:   synclog.LayerTransport,
			Message: info.Reason,
			Code:    &code,
			Context: "receive",
		},
	})
	if info.Clean {
		m.fail(nil, true)
		return
	}
	m.fail(err, false)
}

// fail ends the current attempt or connection and schedules a reconnect.
func (m *Manager) fail(cause error, clean bool) {
	gen := m.gen
	wasConnected := m.state == StateConnected
	m.teardown()
	m.lastErr = cause

	if clean {
		m.setState(StateDisconnected, "closed")
		m.logger.Info("push connection closed", "generation", gen)
	} else {
		m.setState(StateErrored, cause.Error())
		m.logger.Warn("push connection failed", "generation", gen, "error", cause)
	}

	if wasConnected {
		if fn := m.events.Load().Disconnected; fn != nil {
			fn(gen, cause)
		}
	}

	// The Disconnected callback may have disabled the manager.
	if m.current(gen) {
		m.scheduleReconnect(gen)
	}
}

func (m *Manager) scheduleReconnect(gen uint64) {
	delay := m.backoff.Next()
	m.config.Metrics.Reconnect()
	m.logger.Debug("reconnect scheduled", "generation", gen, "delay", delay, "attempt", m.backoff.Attempts())

	exec := m.config.Executor
	m.reconnect = m.clock.AfterFunc(delay, func() {
		exec.Post(func() {
			if !m.current(gen) || m.reconnect == nil {
				return
			}
			m.reconnect = nil
			m.connect()
		})
	})
}

func (m *Manager) stopDial() {
	if m.dialTimer != nil {
		m.dialTimer.Stop()
		m.dialTimer = nil
	}
	if m.dialCancel != nil {
		m.dialCancel()
		m.dialCancel = nil
	}
}

// teardown stops every timer and goroutine of the current generation.
func (m *Manager) teardown() {
	m.stopDial()
	if m.reconnect != nil {
		m.reconnect.Stop()
		m.reconnect = nil
	}
	if m.probe != nil {
		m.probe.stop()
		m.lastProbe = m.probe.stats
		m.probe = nil
	}
	if m.link != nil {
		l := m.link
		m.link = nil
		close(l.done)
		go l.conn.Close()
	}
}

func (m *Manager) probeResult(seq uint32, latency time.Duration, missed int) {
	ev := synclog.Event{
		Layer:    synclog.LayerWire,
		Category: synclog.CategoryProbe,
		Probe:    &synclog.ProbeEvent{Seq: seq, Latency: latency, Missed: missed},
	}
	m.emit(ev)

	if missed > 0 {
		m.config.Metrics.ProbeMissed()
		if missed >= 2 {
			m.logger.Warn("health probes unanswered", "generation", m.gen, "missed", missed)
		}
		return
	}

	m.latency = latency
	m.config.Metrics.ProbeLatency(latency)
	if fn := m.events.Load().Latency; fn != nil {
		fn(latency)
	}
}

func (m *Manager) protocolFailure(err error, data []byte) {
	// Frames that decoded but travel the wrong way are a peer fault, not a
	// wire fault.
	reason, stage := "direction", "dispatch"
	if wire.IsProtocolError(err) {
		stage = "decode"
		switch {
		case errors.Is(err, wire.ErrUnknownFrame):
			reason = "unknown"
		case errors.Is(err, wire.ErrIncompatibleVersion):
			reason = "version"
		default:
			reason = "malformed"
		}
	}
	m.config.Metrics.ProtocolFailure(reason)
	m.logger.Warn("discarding push frame", "generation", m.gen, "reason", reason, "error", err, "size", len(data))
	m.emit(synclog.Event{
		Direction: synclog.DirectionIn,
		Layer:     synclog.LayerWire,
		Category:  synclog.CategoryError,
		Error: &synclog.ErrorEventData{
			Layer:   synclog.LayerWire,
			Message: err.Error(),
			Context: stage,
		},
	})
}

func (m *Manager) setState(to State, reason string) {
	from := m.state
	if from == to {
		return
	}
	m.state = to
	m.config.Metrics.ConnectionState(to.String())
	m.emit(synclog.Event{
		Layer:    synclog.LayerTransport,
		Category: synclog.CategoryState,
		StateChange: &synclog.StateChangeEvent{
			Entity:   synclog.StateEntityConnection,
			OldState: from.String(),
			NewState: to.String(),
			Reason:   reason,
		},
	})
	if fn := m.events.Load().StateChanged; fn != nil {
		fn(from, to)
	}
}

func (m *Manager) emit(e synclog.Event) {
	e.Timestamp = m.clock.Now()
	e.ConnectionID = m.connID
	e.Generation = m.gen
	m.config.EventLogger.Log(e)
}
