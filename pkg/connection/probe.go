package connection

import (
	"time"

	"github.com/juju/clock"

	"github.com/tingxueren/clash-master/pkg/wire"
)

// DefaultProbeInterval is the default interval between health probes.
const DefaultProbeInterval = 10 * time.Second

// ProbeStats contains health probe statistics for the current connection.
type ProbeStats struct {
	Seq         uint32
	LastPing    time.Time
	LastPong    time.Time
	Latency     time.Duration
	Missed      int // consecutive
	TotalMissed int
}

// probe sends a ping every interval while a connection is open and matches
// pongs to measure latency. It is advisory: missed probes are counted and
// reported, never acted upon. The transport's own close or error is the
// only reconnect trigger.
//
// A probe belongs to one connection generation and is loop-confined. Its
// timer callback only posts a tick, which is a no-op once stopped.
type probe struct {
	interval time.Duration
	clock    clock.Clock
	post     func(func()) bool
	send     func(*wire.Ping) error
	report   func(seq uint32, latency time.Duration, missed int)

	running    bool
	pending    bool
	pendingSeq uint32
	timer      clock.Timer
	stats      ProbeStats
}

func (p *probe) start() {
	p.running = true
	p.ping()
	p.arm()
}

func (p *probe) stop() {
	p.running = false
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
}

func (p *probe) arm() {
	p.timer = p.clock.AfterFunc(p.interval, func() {
		p.post(p.tick)
	})
}

func (p *probe) tick() {
	if !p.running {
		return
	}
	if p.pending {
		p.pending = false
		p.stats.Missed++
		p.stats.TotalMissed++
		p.report(p.pendingSeq, 0, p.stats.Missed)
	}
	p.ping()
	p.arm()
}

func (p *probe) ping() {
	p.stats.Seq++
	now := p.clock.Now()
	p.stats.LastPing = now

	if err := p.send(&wire.Ping{Seq: p.stats.Seq, SentAt: now.UnixNano()}); err != nil {
		// Not sent, so nothing can be missed; the transport reports the
		// underlying failure on its own.
		p.pending = false
		return
	}
	p.pending = true
	p.pendingSeq = p.stats.Seq
}

// handlePong matches an acknowledgement. Pongs for older sequence numbers
// are late answers to probes already counted as missed and are ignored.
func (p *probe) handlePong(pong *wire.Pong) {
	if !p.running {
		return
	}
	now := p.clock.Now()
	p.stats.LastPong = now

	if !p.pending || pong.Seq != p.pendingSeq {
		return
	}
	p.pending = false
	p.stats.Missed = 0
	p.stats.Latency = now.Sub(p.stats.LastPing)
	p.report(pong.Seq, p.stats.Latency, 0)
}
