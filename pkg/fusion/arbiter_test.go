package fusion

import (
	"errors"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tingxueren/clash-master/internal/testutil"
	"github.com/tingxueren/clash-master/pkg/cache"
	"github.com/tingxueren/clash-master/pkg/connection"
	"github.com/tingxueren/clash-master/pkg/loop"
	"github.com/tingxueren/clash-master/pkg/poll"
	"github.com/tingxueren/clash-master/pkg/stats"
	"github.com/tingxueren/clash-master/pkg/subscription"
	"github.com/tingxueren/clash-master/pkg/view"
	"github.com/tingxueren/clash-master/pkg/wire"
)

var (
	t0     = time.Unix(1700000000, 0)
	window = view.Fixed(t0.Add(-time.Hour), t0)

	pulledSummary = stats.Summary{TotalUpload: 1}
	pushedSummary = stats.Summary{TotalUpload: 100}
	pulledRows    = []stats.CountryStat{{Country: "DE"}}
	pushedRows    = []stats.CountryStat{{Country: "JP"}, {Country: "US"}, {Country: "FR"}}
)

func desc(kind view.Kind, backend int64) view.Descriptor {
	return view.Descriptor{Kind: kind, Backend: backend, Window: window}
}

// stack wires the real components on one loop with a fake collector.
type stack struct {
	t        *testing.T
	loop     *loop.Loop
	clk      *testclock.Clock
	dialer   *testutil.Dialer
	fetcher  *testutil.Fetcher
	cache    *cache.Cache
	manager  *connection.Manager
	protocol *subscription.Protocol
	sched    *poll.Scheduler
	arbiter  *Arbiter

	// Recorded on the loop.
	idle []bool
}

func newStack(t *testing.T, pullFallback bool) *stack {
	s := &stack{
		t:       t,
		loop:    testutil.StartLoop(t),
		clk:     testclock.NewClock(t0),
		dialer:  testutil.NewDialer(),
		fetcher: testutil.NewFetcher(),
	}
	s.fetcher.Respond(view.KindSummary, pulledSummary)
	s.fetcher.Respond(view.KindCountries, pulledRows)
	s.fetcher.Respond(view.KindDomains, stats.DomainPage{Total: 3})

	s.cache = cache.New(cache.Config{Clock: s.clk})
	s.manager = connection.NewManager(connection.Config{
		Dialer:   s.dialer,
		Executor: s.loop,
		Clock:    s.clk,
	})
	s.protocol = subscription.NewProtocol(subscription.Config{Sender: s.manager, Clock: s.clk})
	s.sched = poll.NewScheduler(poll.Config{Fetcher: s.fetcher, Executor: s.loop, Clock: s.clk})
	s.arbiter = NewArbiter(Config{
		Link:         s.manager,
		Publisher:    s.protocol,
		Puller:       s.sched,
		Cache:        s.cache,
		Policy:       poll.DefaultPolicy(),
		PullFallback: pullFallback,
		OnIdle:       func(idle bool) { s.idle = append(s.idle, idle) },
		Clock:        s.clk,
	})
	s.sched.SetSink(s.arbiter)
	s.sched.SetAuthority(s.arbiter.IsPushAuthoritative)
	s.manager.SetEvents(connection.Events{
		Connected:    s.arbiter.HandleConnected,
		Disconnected: s.arbiter.HandleDisconnected,
		Stats:        s.arbiter.HandleStats,
	})
	return s
}

func (s *stack) do(fn func()) {
	s.t.Helper()
	testutil.Do(s.t, s.loop, fn)
}

func (s *stack) eventually(cond func() bool, msgAndArgs ...any) {
	s.t.Helper()
	testutil.Eventually(s.t, s.loop, cond, msgAndArgs...)
}

func (s *stack) mount(d view.Descriptor) *Handle {
	s.t.Helper()
	var h *Handle
	s.do(func() {
		var err error
		h, err = s.arbiter.Mount(d, nil)
		require.NoError(s.t, err)
	})
	return h
}

func (s *stack) provenance(d view.Descriptor) cache.Provenance {
	e, _ := s.cache.Get(d.Key())
	return e.Provenance
}

// connect enables the manager and waits for the first subscribe frame.
func (s *stack) connect() *testutil.Conn {
	s.t.Helper()
	s.do(s.manager.Enable)
	s.eventually(func() bool { return s.manager.State() == connection.StateConnected })
	conn := s.dialer.Last()
	require.Eventually(s.t, func() bool { return len(conn.Subscribes()) > 0 },
		testutil.Timeout, 5*time.Millisecond)
	return conn
}

func (s *stack) waitPulls(kind view.Kind, n int) {
	s.t.Helper()
	require.Eventually(s.t, func() bool { return s.fetcher.CallsFor(kind) >= n },
		testutil.Timeout, 5*time.Millisecond, "want %d %s pulls", n, kind)
	s.eventually(func() bool {
		for _, k := range s.sched.Scheduled() {
			if j, _ := s.sched.Job(k); j.InFlight {
				return false
			}
		}
		return true
	})
}

func pushSnapshot(backend int64) stats.Snapshot {
	return stats.Snapshot{
		Backend:   backend,
		Summary:   pushedSummary,
		Countries: pushedRows,
	}
}

func TestEndToEndPushThenPull(t *testing.T) {
	s := newStack(t, true)
	summaryView := desc(view.KindSummary, 1)
	countriesView := desc(view.KindCountries, 1)
	s.mount(summaryView)
	s.mount(countriesView)

	s.eventually(func() bool {
		return s.provenance(summaryView) == cache.ProvenancePull &&
			s.provenance(countriesView) == cache.ProvenancePull
	}, "initial pulls")

	conn := s.connect()
	sub := conn.Subscribes()[0]
	assert.Equal(t, int64(1), sub.Backend)
	assert.Equal(t, window.Start.UnixMilli(), sub.Start)
	assert.Equal(t, window.End.UnixMilli(), sub.End)
	assert.True(t, sub.Countries)

	conn.Publish(pushSnapshot(1))
	s.eventually(func() bool {
		return s.provenance(summaryView) == cache.ProvenancePush &&
			s.provenance(countriesView) == cache.ProvenancePush
	}, "push fan-out")

	s.do(func() {
		assert.True(t, s.arbiter.IsPushAuthoritative(summaryView))
		assert.True(t, s.arbiter.IsPushAuthoritative(countriesView))
		e, _ := s.cache.Get(countriesView.Key())
		assert.Equal(t, pushedRows, e.Value)
	})

	// A pull while push is authoritative does not overwrite.
	s.do(func() { s.sched.Kick(summaryView.Key()) })
	s.waitPulls(view.KindSummary, 2)
	s.do(func() {
		e, _ := s.cache.Get(summaryView.Key())
		assert.Equal(t, cache.ProvenancePush, e.Provenance)
		assert.Equal(t, pushedSummary, e.Value)
	})

	// Closing the connection hands both keys back to pull.
	conn.Drop(errors.New("connection reset"))
	s.eventually(func() bool {
		return s.provenance(summaryView) == cache.ProvenancePull &&
			s.provenance(countriesView) == cache.ProvenancePull
	}, "pull resumes after close")

	s.do(func() {
		assert.False(t, s.arbiter.IsPushAuthoritative(summaryView))
		e, _ := s.cache.Get(summaryView.Key())
		assert.Equal(t, pulledSummary, e.Value)
	})
}

func TestAuthorityNeedsDeliveryForCurrentSubscription(t *testing.T) {
	s := newStack(t, true)
	summaryView := desc(view.KindSummary, 1)
	h := s.mount(summaryView)
	conn := s.connect()

	s.do(func() { assert.False(t, s.arbiter.IsPushAuthoritative(summaryView), "no delivery yet") })

	conn.Publish(pushSnapshot(1))
	s.eventually(func() bool { return s.arbiter.IsPushAuthoritative(summaryView) })

	// New parameters mean a new subscription; authority waits for its
	// first delivery.
	moved := summaryView
	moved.Window = view.Fixed(t0, t0.Add(time.Hour))
	s.do(func() {
		require.NoError(t, h.SetParameters(moved))
		assert.False(t, s.arbiter.IsPushAuthoritative(moved))
	})
	require.Eventually(t, func() bool { return len(conn.Subscribes()) == 2 },
		testutil.Timeout, 5*time.Millisecond)

	conn.Publish(pushSnapshot(1))
	s.eventually(func() bool { return s.arbiter.IsPushAuthoritative(moved) })
}

func TestStatsForSupersededSubscriptionDropped(t *testing.T) {
	s := newStack(t, false)
	first := desc(view.KindSummary, 1)
	h := s.mount(first)
	conn := s.connect()

	conn.Publish(pushSnapshot(1))
	s.eventually(func() bool { return s.arbiter.IsPushAuthoritative(first) })

	moved := first
	moved.Window = view.Fixed(t0, t0.Add(time.Hour))
	s.do(func() { require.NoError(t, h.SetParameters(moved)) })
	require.Eventually(t, func() bool { return len(conn.Subscribes()) == 2 },
		testutil.Timeout, 5*time.Millisecond)

	// Computed for the first window and sent before the collector read the
	// second subscribe.
	stale := stats.Snapshot{
		Backend:  1,
		Summary:  stats.Summary{TotalUpload: 777},
		Revision: conn.Subscribes()[0].Revision,
	}
	conn.Deliver(&wire.Stats{Snapshot: stale})

	testutil.Never(t, s.loop, 50*time.Millisecond, func() bool {
		_, ok := s.cache.Get(moved.Key())
		return ok || s.arbiter.IsPushAuthoritative(moved)
	})

	conn.Publish(pushSnapshot(1))
	s.eventually(func() bool { return s.arbiter.IsPushAuthoritative(moved) })
	s.do(func() {
		e, ok := s.cache.Get(moved.Key())
		require.True(t, ok)
		assert.Equal(t, pushedSummary, e.Value)
	})
}

func TestPushAuthorityLapsesWhenFeedGoesQuiet(t *testing.T) {
	s := newStack(t, true)
	summaryView := desc(view.KindSummary, 1)
	s.mount(summaryView)
	s.waitPulls(view.KindSummary, 1)
	conn := s.connect()

	conn.Publish(pushSnapshot(1))
	s.eventually(func() bool {
		return s.arbiter.IsPushAuthoritative(summaryView) &&
			s.provenance(summaryView) == cache.ProvenancePush
	})

	// The connection stays up but nothing arrives.
	s.clk.Advance(cache.DefaultFreshness + time.Second)
	s.do(func() {
		assert.Equal(t, connection.StateConnected, s.manager.State())
		assert.False(t, s.arbiter.IsPushAuthoritative(summaryView))
	})

	// The next tick is due at the fast cadence and its pull replaces the
	// stale push value.
	s.eventually(func() bool { return s.provenance(summaryView) == cache.ProvenancePull },
		"pull takes over")
	s.do(func() {
		e, _ := s.cache.Get(summaryView.Key())
		assert.Equal(t, pulledSummary, e.Value)
	})

	conn.Publish(pushSnapshot(1))
	s.eventually(func() bool { return s.arbiter.IsPushAuthoritative(summaryView) }, "fresh delivery")
}

func TestPullFailureHiddenWhilePushServes(t *testing.T) {
	s := newStack(t, true)
	summaryView := desc(view.KindSummary, 1)
	h := s.mount(summaryView)
	s.waitPulls(view.KindSummary, 1)
	conn := s.connect()

	conn.Publish(pushSnapshot(1))
	s.eventually(func() bool { return h.State().Provenance == cache.ProvenancePush })

	s.fetcher.Fail(view.KindSummary, errors.New("collector unavailable"))
	s.do(func() { s.sched.Kick(summaryView.Key()) })
	s.waitPulls(view.KindSummary, 2)

	s.do(func() {
		st := h.State()
		assert.NoError(t, st.Err)
		assert.Equal(t, pushedSummary, st.Value)
	})
}

func TestDeepPageIsNeverAuthoritative(t *testing.T) {
	s := newStack(t, true)
	deep := desc(view.KindCountries, 1)
	deep.Page = view.Page{Offset: 50, Limit: 50}
	s.mount(deep)
	s.waitPulls(view.KindCountries, 1)
	conn := s.connect()

	sub := conn.Subscribes()[0]
	assert.False(t, sub.Countries, "deep page is not subscribed")

	conn.Publish(pushSnapshot(1))
	s.eventually(func() bool { return s.provenance(desc(view.KindSummary, 1)) == cache.ProvenancePush })

	s.do(func() {
		assert.False(t, s.arbiter.IsPushAuthoritative(deep))
		assert.Equal(t, cache.ProvenancePull, s.provenance(deep))
	})
}

func TestFanOutTrimsToViewLimit(t *testing.T) {
	s := newStack(t, true)
	top := desc(view.KindCountries, 1)
	top.Page = view.Page{Limit: 2}
	s.mount(top)
	conn := s.connect()

	conn.Publish(pushSnapshot(1))
	s.eventually(func() bool { return s.provenance(top) == cache.ProvenancePush })
	s.do(func() {
		e, _ := s.cache.Get(top.Key())
		assert.Equal(t, pushedRows[:2], e.Value)

		canonical, ok := s.cache.Get(desc(view.KindCountries, 1).Key())
		require.True(t, ok)
		assert.Equal(t, pushedRows, canonical.Value)
	})
}

func TestStatsForOtherBackendDropped(t *testing.T) {
	s := newStack(t, false)
	summaryView := desc(view.KindSummary, 1)
	s.mount(summaryView)
	conn := s.connect()

	conn.Publish(pushSnapshot(2))
	conn.Publish(pushSnapshot(1))
	s.eventually(func() bool { return s.provenance(summaryView) == cache.ProvenancePush })
	s.do(func() {
		_, ok := s.cache.Get(desc(view.KindSummary, 2).Key())
		assert.False(t, ok)
	})
}

func TestPullFailureKeepsValue(t *testing.T) {
	s := newStack(t, true)
	summaryView := desc(view.KindSummary, 1)

	var updates []ViewState
	var h *Handle
	s.do(func() {
		var err error
		h, err = s.arbiter.Mount(summaryView, func(st ViewState) { updates = append(updates, st) })
		require.NoError(t, err)
	})
	s.eventually(func() bool { return h.State().HasValue() })

	boom := errors.New("collector unavailable")
	s.fetcher.Fail(view.KindSummary, boom)
	s.do(func() { s.sched.Kick(summaryView.Key()) })
	s.eventually(func() bool { return h.State().Err != nil })

	s.do(func() {
		st := h.State()
		assert.ErrorIs(t, st.Err, boom)
		assert.Equal(t, pulledSummary, st.Value)
		assert.False(t, st.Loading)
		require.NotEmpty(t, updates)
		assert.True(t, updates[0].Loading)
	})

	// The next good pull clears the flag.
	s.fetcher.Respond(view.KindSummary, pulledSummary)
	s.do(func() { s.sched.Kick(summaryView.Key()) })
	s.eventually(func() bool { return h.State().Err == nil })
}

func TestUnmountReleasesView(t *testing.T) {
	s := newStack(t, true)
	summaryView := desc(view.KindSummary, 1)
	h := s.mount(summaryView)
	s.eventually(func() bool { return h.State().HasValue() })

	s.do(func() {
		_, ok := s.protocol.Current()
		assert.True(t, ok)

		h.Unmount()
		h.Unmount()

		assert.True(t, h.Closed())
		assert.Empty(t, s.sched.Scheduled())
		_, ok = s.protocol.Current()
		assert.False(t, ok)
		assert.True(t, s.arbiter.Idle())
		assert.Equal(t, []bool{false, true}, s.idle)
		assert.ErrorIs(t, h.SetParameters(summaryView), ErrUnmounted)
	})
}

func TestSharedKeyKeepsScheduleUntilLastUnmount(t *testing.T) {
	s := newStack(t, true)
	summaryView := desc(view.KindSummary, 1)
	a := s.mount(summaryView)
	b := s.mount(summaryView)

	s.do(func() {
		a.Unmount()
		assert.Len(t, s.sched.Scheduled(), 1)
		b.Unmount()
		assert.Empty(t, s.sched.Scheduled())
	})
}

func TestSubscriptionFollowsLatestView(t *testing.T) {
	s := newStack(t, true)
	s.mount(desc(view.KindSummary, 1))
	conn := s.connect()
	assert.Equal(t, int64(1), conn.Subscribes()[0].Backend)

	s.mount(desc(view.KindCountries, 2))
	require.Eventually(t, func() bool { return len(conn.Subscribes()) == 2 },
		testutil.Timeout, 5*time.Millisecond)
	latest := conn.Subscribes()[1]
	assert.Equal(t, int64(2), latest.Backend)
	assert.True(t, latest.Countries)
}

func TestWithoutPullFallback(t *testing.T) {
	s := newStack(t, false)
	domains := s.mount(desc(view.KindDomains, 1))
	summary := s.mount(desc(view.KindSummary, 1))

	s.do(func() {
		assert.ErrorIs(t, domains.State().Err, ErrNoDataPath)
		assert.True(t, summary.State().Loading)
		assert.Empty(t, s.sched.Scheduled())
	})

	conn := s.connect()
	conn.Publish(pushSnapshot(1))
	s.eventually(func() bool { return summary.State().HasValue() })

	reset := errors.New("connection reset")
	conn.Drop(reset)
	s.eventually(func() bool { return summary.State().Err != nil })
	s.do(func() {
		assert.Equal(t, pushedSummary, summary.State().Value)
		assert.Equal(t, 0, s.fetcher.CallsFor(view.KindSummary))
	})
}

func TestForceRefresh(t *testing.T) {
	s := newStack(t, true)
	summaryView := desc(view.KindSummary, 1)
	countriesView := desc(view.KindCountries, 1)
	h := s.mount(summaryView)
	s.mount(countriesView)
	s.waitPulls(view.KindSummary, 1)
	s.waitPulls(view.KindCountries, 1)

	var n int
	s.do(func() { n = s.arbiter.ForceRefresh("summary:") })
	assert.Equal(t, 1, n)

	s.waitPulls(view.KindSummary, 2)
	s.eventually(func() bool { return h.State().HasValue() })
	assert.Equal(t, 1, s.fetcher.CallsFor(view.KindCountries))
}

func TestMountRejectsInvalidDescriptor(t *testing.T) {
	s := newStack(t, true)
	s.do(func() {
		_, err := s.arbiter.Mount(view.Descriptor{Kind: view.KindSummary}, nil)
		assert.Error(t, err)
		assert.True(t, s.arbiter.Idle())
	})
}

func TestStop(t *testing.T) {
	s := newStack(t, true)
	h := s.mount(desc(view.KindSummary, 1))
	s.do(func() {
		s.arbiter.Stop()
		s.arbiter.Stop()
		assert.True(t, h.Closed())
		assert.Empty(t, s.sched.Scheduled())
	})
}
