package subscription

import (
	"io"
	"log/slog"

	"github.com/juju/clock"

	synclog "github.com/tingxueren/clash-master/pkg/log"
	"github.com/tingxueren/clash-master/pkg/wire"
)

// Sender writes frames on the open push connection.
type Sender interface {
	Send(f wire.Frame) error
}

// Config configures a Protocol.
type Config struct {
	Sender      Sender
	Clock       clock.Clock
	Logger      *slog.Logger
	EventLogger synclog.Logger
}

// Protocol keeps the collector's subscription equal to the latest applied
// one. It is confined to the sync loop.
type Protocol struct {
	sender      Sender
	clock       clock.Clock
	logger      *slog.Logger
	eventLogger synclog.Logger

	current  *Subscription
	revision uint64

	connected bool
	gen       uint64
	sentRev   uint64
	sentGen   uint64
	sends     int
}

// NewProtocol creates a Protocol with no subscription.
func NewProtocol(cfg Config) *Protocol {
	if cfg.Clock == nil {
		cfg.Clock = clock.WallClock
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Protocol{
		sender:      cfg.Sender,
		clock:       cfg.Clock,
		logger:      cfg.Logger,
		eventLogger: synclog.OrNoop(cfg.EventLogger),
	}
}

// Apply replaces the subscription. While connected it is sent immediately;
// otherwise it is kept and sent on the next connect. Applying a
// subscription equal to the current one does nothing.
func (p *Protocol) Apply(sub Subscription) {
	if p.current != nil && Equal(*p.current, sub) {
		return
	}
	p.current = &sub
	p.revision++
	p.logState("applied")

	if p.connected {
		p.send()
	}
}

// Clear drops the subscription. Nothing is sent; the collector keeps the
// last one until the connection closes.
func (p *Protocol) Clear() {
	if p.current == nil {
		return
	}
	p.current = nil
	p.revision++
	p.logState("cleared")
}

// HandleConnected replays the current subscription on connection gen.
func (p *Protocol) HandleConnected(gen uint64) {
	p.connected = true
	p.gen = gen
	if p.current != nil {
		p.send()
	}
}

// HandleDisconnected marks the connection closed.
func (p *Protocol) HandleDisconnected() {
	p.connected = false
}

// Current returns the subscription, if any.
func (p *Protocol) Current() (Subscription, bool) {
	if p.current == nil {
		return Subscription{}, false
	}
	return *p.current, true
}

// Revision increments on every change to the subscription.
func (p *Protocol) Revision() uint64 {
	return p.revision
}

// Sent reports whether the current subscription has been sent on the open
// connection.
func (p *Protocol) Sent() bool {
	return p.connected && p.current != nil && p.sentRev == p.revision && p.sentGen == p.gen
}

// Sends returns the number of subscribe frames sent.
func (p *Protocol) Sends() int {
	return p.sends
}

func (p *Protocol) send() {
	f := p.current.Frame(p.clock.Now())
	f.Revision = p.revision
	if err := p.sender.Send(f); err != nil {
		// Left unsent; the next connect replays it.
		p.logger.Warn("subscribe not sent", "generation", p.gen, "revision", p.revision, "error", err)
		return
	}
	p.sentRev = p.revision
	p.sentGen = p.gen
	p.sends++
	p.logger.Debug("subscribe sent", "generation", p.gen, "revision", p.revision, "backend", f.Backend)
}

func (p *Protocol) logState(state string) {
	ev := synclog.Event{
		Timestamp:  p.clock.Now(),
		Generation: p.gen,
		Layer:      synclog.LayerSync,
		Category:   synclog.CategoryState,
		StateChange: &synclog.StateChangeEvent{
			Entity:   synclog.StateEntitySubscription,
			NewState: state,
		},
	}
	if p.current != nil {
		ev.Backend = p.current.Backend
		ev.StateChange.Reason = p.current.Window.String()
	}
	p.eventLogger.Log(ev)
}
