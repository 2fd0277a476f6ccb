package fusion

import (
	"errors"
	"io"
	"log/slog"
	"sort"
	"time"

	"github.com/juju/clock"

	"github.com/tingxueren/clash-master/pkg/cache"
	"github.com/tingxueren/clash-master/pkg/connection"
	synclog "github.com/tingxueren/clash-master/pkg/log"
	"github.com/tingxueren/clash-master/pkg/metrics"
	"github.com/tingxueren/clash-master/pkg/poll"
	"github.com/tingxueren/clash-master/pkg/stats"
	"github.com/tingxueren/clash-master/pkg/subscription"
	"github.com/tingxueren/clash-master/pkg/view"
	"github.com/tingxueren/clash-master/pkg/wire"
)

// Arbiter errors.
var (
	// ErrNoDataPath marks a view that neither channel can serve.
	ErrNoDataPath = errors.New("no data path for view")

	// ErrUnmounted is returned by a handle after Unmount.
	ErrUnmounted = errors.New("view unmounted")
)

// Link is the connection state the Arbiter reads. *connection.Manager
// implements it.
type Link interface {
	State() connection.State
	Generation() uint64
}

// Publisher keeps the collector subscribed. *subscription.Protocol
// implements it.
type Publisher interface {
	Apply(sub subscription.Subscription)
	Clear()
	HandleConnected(gen uint64)
	HandleDisconnected()
	Current() (subscription.Subscription, bool)
	Revision() uint64
	Sent() bool
}

// Puller runs the pull schedules. *poll.Scheduler implements it.
type Puller interface {
	Schedule(desc view.Descriptor, policy poll.Policy) view.Key
	Unschedule(key view.Key) bool
	Kick(key view.Key) bool
	KickPrefix(prefix string) int
}

// Config configures an Arbiter.
type Config struct {
	Link      Link
	Publisher Publisher
	Puller    Puller
	Cache     *cache.Cache

	// Policy is the pull cadence for every mounted view.
	Policy poll.Policy

	// PullFallback enables pull schedules. With it off, views the push
	// feed cannot serve report ErrNoDataPath and a push failure surfaces
	// as the view error.
	PullFallback bool

	// OnIdle reports when the last view is unmounted (true) and when the
	// first view is mounted again (false).
	OnIdle func(idle bool)

	Clock       clock.Clock
	Logger      *slog.Logger
	EventLogger synclog.Logger
	Metrics     *metrics.Collector
}

// Arbiter owns the mounted views and routes both channels into the cache.
//
// Arbiter is confined to the sync loop.
type Arbiter struct {
	config Config
	clock  clock.Clock
	logger *slog.Logger
	events synclog.Logger
	cache  *cache.Cache

	handles map[uint64]*Handle
	byKey   map[string][]*Handle
	nextID  uint64
	order   uint64

	// The latest push delivery, identified by connection generation and
	// subscription revision.
	deliveredGen uint64
	deliveredRev uint64
	deliveredAt  time.Time
	delivered    bool

	lastErr error
	unwatch func()
	idle    bool
	stopped bool
}

// NewArbiter creates an Arbiter and installs it as the cache's authority.
func NewArbiter(config Config) *Arbiter {
	if config.Clock == nil {
		config.Clock = clock.WallClock
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	a := &Arbiter{
		config:  config,
		clock:   config.Clock,
		logger:  logger,
		events:  synclog.OrNoop(config.EventLogger),
		cache:   config.Cache,
		handles: make(map[uint64]*Handle),
		byKey:   make(map[string][]*Handle),
		idle:    true,
	}
	a.cache.SetAuthority(a)
	a.unwatch = a.cache.Watch("", a.cacheChanged)
	return a
}

// Stop detaches the Arbiter from the cache and unschedules every view.
func (a *Arbiter) Stop() {
	if a.stopped {
		return
	}
	a.stopped = true
	a.unwatch()
	for _, h := range a.sortedHandles() {
		a.unmount(h)
	}
}

// Mount registers interest in desc. fn, if not nil, is called on the loop
// with every state change. The first pull is issued immediately.
func (a *Arbiter) Mount(desc view.Descriptor, fn func(ViewState)) (*Handle, error) {
	if err := desc.Validate(); err != nil {
		return nil, err
	}
	a.nextID++
	a.order++
	h := &Handle{
		arbiter: a,
		id:      a.nextID,
		order:   a.order,
		desc:    desc,
		fn:      fn,
	}
	a.handles[h.id] = h
	a.attach(h)
	a.logView(h, "mounted")
	a.config.Metrics.MountedViews(len(a.handles))

	if a.idle {
		a.idle = false
		if a.config.OnIdle != nil {
			a.config.OnIdle(false)
		}
	}
	a.resubscribe()
	return h, nil
}

// attach indexes h by key, loads the cached state and starts its pulls.
func (a *Arbiter) attach(h *Handle) {
	ks := h.desc.Key().String()
	a.byKey[ks] = append(a.byKey[ks], h)

	e, ok := a.cache.Get(h.desc.Key())
	h.state = stateFrom(h.desc.Key(), e, ok)

	if a.config.PullFallback {
		h.pollKey = a.config.Puller.Schedule(h.desc, a.config.Policy)
		h.polling = true
	} else if !h.desc.PushCovered() {
		h.state.Err = ErrNoDataPath
		h.state.Loading = false
	} else if a.lastErr != nil {
		h.state.Err = a.lastErr
	}
	h.notify()
}

// detach undoes attach.
func (a *Arbiter) detach(h *Handle) {
	ks := h.desc.Key().String()
	list := a.byKey[ks]
	for i, o := range list {
		if o == h {
			list = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(a.byKey, ks)
	} else {
		a.byKey[ks] = list
	}
	if h.polling {
		a.config.Puller.Unschedule(h.pollKey)
		h.polling = false
	}
}

func (a *Arbiter) unmount(h *Handle) {
	if h.closed {
		return
	}
	h.closed = true
	a.detach(h)
	delete(a.handles, h.id)
	a.logView(h, "unmounted")
	a.config.Metrics.MountedViews(len(a.handles))
	a.resubscribe()

	if len(a.handles) == 0 && !a.idle {
		a.idle = true
		if a.config.OnIdle != nil {
			a.config.OnIdle(true)
		}
	}
}

// Idle reports whether no view is mounted.
func (a *Arbiter) Idle() bool {
	return a.idle
}

// Views returns the mounted descriptors, oldest change first.
func (a *Arbiter) Views() []view.Descriptor {
	hs := a.sortedHandles()
	out := make([]view.Descriptor, len(hs))
	for i, h := range hs {
		out[i] = h.desc
	}
	return out
}

func (a *Arbiter) sortedHandles() []*Handle {
	hs := make([]*Handle, 0, len(a.handles))
	for _, h := range a.handles {
		hs = append(hs, h)
	}
	sort.Slice(hs, func(i, j int) bool { return hs[i].order < hs[j].order })
	return hs
}

// resubscribe derives the subscription from the mounted views.
func (a *Arbiter) resubscribe() {
	sub, ok := subscription.FromViews(a.Views())
	if !ok {
		a.config.Publisher.Clear()
		return
	}
	a.config.Publisher.Apply(sub)
}

// ForceRefresh drops cached entries under prefix and pulls the matching
// views again. It returns the number of dropped entries.
func (a *Arbiter) ForceRefresh(prefix string) int {
	n := a.cache.Invalidate(prefix)
	if a.config.PullFallback {
		a.config.Puller.KickPrefix(prefix)
	}
	a.logger.Debug("refresh forced", "prefix", prefix, "entries", n)
	return n
}

// pushReady reports whether the open connection has delivered a frame for
// the current subscription within the cache's freshness bound. Once that
// lapses the scheduler's next tick sees the fast cadence and the cache
// accepts pulls again.
func (a *Arbiter) pushReady() bool {
	link, pub := a.config.Link, a.config.Publisher
	return link.State() == connection.StateConnected &&
		pub.Sent() &&
		a.delivered &&
		a.deliveredGen == link.Generation() &&
		a.deliveredRev == pub.Revision() &&
		a.clock.Now().Sub(a.deliveredAt) < a.cache.Freshness()
}

// IsPushAuthoritative reports whether push currently owns desc.
func (a *Arbiter) IsPushAuthoritative(desc view.Descriptor) bool {
	if !desc.PushCovered() || !a.pushReady() {
		return false
	}
	sub, ok := a.config.Publisher.Current()
	return ok && sub.Wants(desc)
}

// PushAuthoritative implements cache.Authority.
func (a *Arbiter) PushAuthoritative(key view.Key) bool {
	if !a.pushReady() {
		return false
	}
	sub, ok := a.config.Publisher.Current()
	if !ok {
		return false
	}
	canonical := sub.Source().WithKind(key.Kind)
	if canonical.Key() == key {
		return canonical.PushCovered() && sub.Wants(canonical)
	}
	for _, h := range a.byKey[key.String()] {
		if h.desc.PushCovered() && sub.Wants(h.desc) {
			return true
		}
	}
	return false
}

// HandleConnected is called when connection gen opens.
func (a *Arbiter) HandleConnected(gen uint64) {
	a.delivered = false
	a.config.Publisher.HandleConnected(gen)
}

// HandleDisconnected is called when connection gen closes. err is nil for
// a clean close. Push stops being authoritative for every view, so every
// pull schedule is kicked back to its fast cadence.
func (a *Arbiter) HandleDisconnected(gen uint64, err error) {
	a.delivered = false
	a.config.Publisher.HandleDisconnected()

	if a.config.PullFallback {
		n := a.config.Puller.KickPrefix("")
		a.logger.Debug("push lost, pulls resumed", "generation", gen, "views", n)
		return
	}
	if err == nil {
		return
	}
	a.lastErr = err
	for _, h := range a.sortedHandles() {
		if h.desc.PushCovered() {
			h.setErr(err)
		}
	}
}

// HandleStats routes one stats frame from connection gen into the cache.
func (a *Arbiter) HandleStats(gen uint64, f *wire.Stats) {
	if gen != a.config.Link.Generation() {
		return
	}
	sub, ok := a.config.Publisher.Current()
	if !ok {
		return
	}
	snap := &f.Snapshot
	rev := a.config.Publisher.Revision()
	if snap.Revision != rev {
		// Sent by the collector before it saw the current subscribe.
		a.logger.Debug("dropping stats for superseded subscription", "revision", snap.Revision, "current", rev)
		return
	}
	if snap.Backend != sub.Backend {
		a.logger.Debug("dropping stats for another backend", "backend", snap.Backend, "subscribed", sub.Backend)
		return
	}

	a.delivered = true
	a.deliveredGen = gen
	a.deliveredRev = rev
	a.deliveredAt = a.clock.Now()
	a.lastErr = nil

	written := 0
	for _, kind := range snap.Kinds() {
		payload, _ := snap.Section(kind)
		written += a.fanOut(sub, kind, payload, gen)
	}
	a.logger.Debug("stats delivered", "generation", gen, "backend", snap.Backend, "writes", written)
}

// fanOut writes one section under its canonical key and under every
// mounted view it covers. It returns the number of accepted writes.
func (a *Arbiter) fanOut(sub subscription.Subscription, kind view.Kind, payload any, gen uint64) int {
	source := sub.Source()
	written := 0
	put := func(key view.Key, v any) {
		if a.cache.Put(key, v, cache.ProvenancePush, gen) {
			written++
		}
	}

	if kind.SummaryBearing() {
		canonical := source.WithKind(kind)
		put(canonical.Key(), payload)
		for ks, hs := range a.byKey {
			d := hs[0].desc
			if ks == canonical.Key().String() || d.Kind != kind || !d.SameSource(source) || !d.PushCovered() {
				continue
			}
			put(d.Key(), stats.Limit(payload, d.Page.Limit))
		}
		return written
	}

	// Domain and IP pages only answer the exact page subscribed.
	var page *view.Page
	switch kind {
	case view.KindDomains:
		page = sub.Domains
	case view.KindIPs:
		page = sub.IPs
	}
	if page == nil {
		return 0
	}
	for _, hs := range a.byKey {
		d := hs[0].desc
		if d.Kind == kind && d.SameSource(source) && d.Scope.IsZero() && d.Page == *page {
			put(d.Key(), payload)
		}
	}
	return written
}

// PullResult implements poll.Sink.
func (a *Arbiter) PullResult(r poll.Result) {
	hs := a.byKey[r.Key.String()]
	if r.Err != nil {
		// Push still serves the view, so the pull path is not the only one.
		pushed := a.IsPushAuthoritative(r.Desc)
		a.logger.Debug("pull failed", "key", r.Key, "error", r.Err, "pushAuthoritative", pushed)
		if pushed {
			return
		}
		for _, h := range hs {
			h.setErr(r.Err)
		}
		return
	}

	if a.cache.Put(r.Key, r.Value, cache.ProvenancePull, a.config.Link.Generation()) {
		return
	}
	// Rejected in favour of a fresh push value; the path still works.
	for _, h := range hs {
		h.setErr(nil)
	}
}

// cacheChanged runs on every accepted cache write or invalidation.
func (a *Arbiter) cacheChanged(e cache.Entry, present bool) {
	for _, h := range a.byKey[e.Key.String()] {
		if present {
			h.state = stateFrom(e.Key, e, true)
		} else {
			h.state = ViewState{Key: e.Key, Loading: true}
		}
		h.notify()
	}
}

func (a *Arbiter) logView(h *Handle, state string) {
	a.events.Log(synclog.Event{
		Timestamp: a.clock.Now(),
		Backend:   h.desc.Backend,
		Layer:     synclog.LayerSync,
		Category:  synclog.CategoryState,
		StateChange: &synclog.StateChangeEvent{
			Entity:   synclog.StateEntityView,
			NewState: state,
			Reason:   h.desc.Key().String(),
		},
	})
}
