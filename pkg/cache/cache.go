// Package cache holds the last known good payload per view key, written by
// both the push and the pull channel.
//
// Writes follow one overwrite rule instead of a lock shared between
// writers: a pull result never replaces a push entry from the same or a
// newer generation while that entry is fresh and push is authoritative for
// its key. Every other write wins. Because the rule depends only on
// provenance, generation and freshness, any interleaving of writes
// converges to the same visible state.
//
// Reads never block: the entry map is copy-on-write, so a reader racing an
// invalidation sees either the whole old map or the whole new one.
package cache

import (
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/juju/clock"

	synclog "github.com/tingxueren/clash-master/pkg/log"
	"github.com/tingxueren/clash-master/pkg/metrics"
	"github.com/tingxueren/clash-master/pkg/view"
)

// DefaultFreshness bounds how long a push entry keeps pull writes out.
const DefaultFreshness = 30 * time.Second

// Provenance records which channel last wrote an entry.
type Provenance uint8

const (
	// ProvenanceNone marks an absent entry.
	ProvenanceNone Provenance = iota
	// ProvenancePull marks a pull result.
	ProvenancePull
	// ProvenancePush marks a push delivery.
	ProvenancePush
)

// String returns "pull", "push" or "none".
func (p Provenance) String() string {
	switch p {
	case ProvenancePull:
		return "pull"
	case ProvenancePush:
		return "push"
	default:
		return "none"
	}
}

// Entry is one cached payload.
type Entry struct {
	Key        view.Key
	Value      any
	Provenance Provenance
	Generation uint64
	UpdatedAt  time.Time
}

// Authority decides whether push is currently authoritative for a key.
type Authority interface {
	PushAuthoritative(key view.Key) bool
}

// AuthorityFunc adapts a function to Authority.
type AuthorityFunc func(key view.Key) bool

// PushAuthoritative calls f(key).
func (f AuthorityFunc) PushAuthoritative(key view.Key) bool {
	return f(key)
}

// Config configures a Cache.
type Config struct {
	Clock     clock.Clock
	Freshness time.Duration

	// Authority gates pull writes over push entries. Nil treats push as
	// never authoritative, so pull always overwrites.
	Authority Authority

	Logger      *slog.Logger
	EventLogger synclog.Logger
	Metrics     *metrics.Collector
}

type watcher struct {
	prefix string
	fn     func(e Entry, present bool)
}

// Cache is the keyed store of last known good results.
type Cache struct {
	clock       clock.Clock
	freshness   time.Duration
	authority   Authority
	logger      *slog.Logger
	eventLogger synclog.Logger
	metrics     *metrics.Collector

	entries atomic.Pointer[map[string]Entry]

	// mu serializes writers and guards watchers. Readers never take it.
	mu       sync.Mutex
	watchers map[uint64]watcher
	nextID   uint64
}

// Freshness returns how long a push entry keeps pull writes out.
func (c *Cache) Freshness() time.Duration {
	return c.freshness
}

// New creates an empty cache.
func New(cfg Config) *Cache {
	if cfg.Clock == nil {
		cfg.Clock = clock.WallClock
	}
	if cfg.Freshness <= 0 {
		cfg.Freshness = DefaultFreshness
	}
	if cfg.Authority == nil {
		cfg.Authority = AuthorityFunc(func(view.Key) bool { return false })
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	c := &Cache{
		clock:       cfg.Clock,
		freshness:   cfg.Freshness,
		authority:   cfg.Authority,
		logger:      cfg.Logger,
		eventLogger: synclog.OrNoop(cfg.EventLogger),
		metrics:     cfg.Metrics,
		watchers:    make(map[uint64]watcher),
	}
	empty := make(map[string]Entry)
	c.entries.Store(&empty)
	return c
}

// SetAuthority replaces the authority. Used when the authority is built
// after the cache.
func (c *Cache) SetAuthority(a Authority) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if a == nil {
		a = AuthorityFunc(func(view.Key) bool { return false })
	}
	c.authority = a
}

// Get returns the entry for key.
func (c *Cache) Get(key view.Key) (Entry, bool) {
	e, ok := (*c.entries.Load())[key.String()]
	return e, ok
}

// Len returns the number of entries.
func (c *Cache) Len() int {
	return len(*c.entries.Load())
}

// Entries returns every entry ordered by key.
func (c *Cache) Entries() []Entry {
	m := *c.entries.Load()
	out := make([]Entry, 0, len(m))
	for _, e := range m {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Key.String() < out[j].Key.String()
	})
	return out
}

// Put writes value under key unless the overwrite rule rejects it. It
// reports whether the write was applied.
func (c *Cache) Put(key view.Key, value any, prov Provenance, gen uint64) bool {
	c.mu.Lock()
	now := c.clock.Now()
	ks := key.String()
	old := *c.entries.Load()

	existing, ok := old[ks]
	accepted := !ok || c.allowed(existing, prov, gen, now)
	var notify []watcher
	if accepted {
		next := make(map[string]Entry, len(old)+1)
		for k, e := range old {
			next[k] = e
		}
		e := Entry{Key: key, Value: value, Provenance: prov, Generation: gen, UpdatedAt: now}
		next[ks] = e
		c.entries.Store(&next)
		notify = c.matching(ks)
	}
	c.mu.Unlock()

	c.metrics.CacheWrite(prov.String(), accepted)
	c.eventLogger.Log(synclog.Event{
		Timestamp:  now,
		Generation: gen,
		Backend:    key.Backend,
		Layer:      synclog.LayerSync,
		Category:   synclog.CategoryCache,
		Cache:      &synclog.CacheEvent{Key: ks, Provenance: prov.String(), Accepted: accepted},
	})
	if !accepted {
		c.logger.Debug("cache write rejected", "key", ks, "provenance", prov, "generation", gen,
			"existing", existing.Provenance, "existing_generation", existing.Generation)
		return false
	}

	e, _ := c.Get(key)
	for _, w := range notify {
		w.fn(e, true)
	}
	return true
}

// allowed applies the overwrite rule to a write over an existing entry.
func (c *Cache) allowed(existing Entry, prov Provenance, gen uint64, now time.Time) bool {
	if existing.Provenance != ProvenancePush {
		return true
	}
	switch prov {
	case ProvenancePush:
		return gen >= existing.Generation
	case ProvenancePull:
		fresh := now.Sub(existing.UpdatedAt) < c.freshness
		blocked := existing.Generation >= gen && fresh && c.authority.PushAuthoritative(existing.Key)
		return !blocked
	default:
		return true
	}
}

// Invalidate drops every entry whose key starts with prefix and returns the
// number dropped. An empty prefix drops everything.
func (c *Cache) Invalidate(prefix string) int {
	c.mu.Lock()
	old := *c.entries.Load()
	next := make(map[string]Entry, len(old))
	var dropped []Entry
	for k, e := range old {
		if strings.HasPrefix(k, prefix) {
			dropped = append(dropped, e)
			continue
		}
		next[k] = e
	}
	if len(dropped) > 0 {
		c.entries.Store(&next)
	}
	type drop struct {
		e  Entry
		ws []watcher
	}
	drops := make([]drop, 0, len(dropped))
	for _, e := range dropped {
		drops = append(drops, drop{e: e, ws: c.matching(e.Key.String())})
	}
	c.mu.Unlock()

	if len(dropped) > 0 {
		c.logger.Debug("cache invalidated", "prefix", prefix, "entries", len(dropped))
	}
	for _, d := range drops {
		for _, w := range d.ws {
			w.fn(Entry{Key: d.e.Key}, false)
		}
	}
	return len(dropped)
}

// Restore loads entries into empty keys only. Restored entries keep their
// timestamps and provenance but are demoted to generation 0, so any live
// write supersedes them.
func (c *Cache) Restore(entries []Entry) int {
	c.mu.Lock()
	old := *c.entries.Load()
	next := make(map[string]Entry, len(old)+len(entries))
	for k, e := range old {
		next[k] = e
	}
	n := 0
	for _, e := range entries {
		ks := e.Key.String()
		if _, ok := next[ks]; ok {
			continue
		}
		e.Generation = 0
		next[ks] = e
		n++
	}
	c.entries.Store(&next)
	c.mu.Unlock()
	return n
}

// Watch calls fn after every accepted write or invalidation of a key that
// starts with prefix. fn runs on the writer's goroutine and must not call
// back into Put or Invalidate. The returned function cancels the watch.
func (c *Cache) Watch(prefix string, fn func(e Entry, present bool)) (cancel func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	id := c.nextID
	c.watchers[id] = watcher{prefix: prefix, fn: fn}
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.watchers, id)
	}
}

// matching returns watchers for key. Caller holds c.mu.
func (c *Cache) matching(key string) []watcher {
	var out []watcher
	for _, w := range c.watchers {
		if strings.HasPrefix(key, w.prefix) {
			out = append(out, w)
		}
	}
	return out
}
