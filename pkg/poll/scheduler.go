package poll

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/juju/clock"

	"github.com/tingxueren/clash-master/pkg/loop"
	synclog "github.com/tingxueren/clash-master/pkg/log"
	"github.com/tingxueren/clash-master/pkg/metrics"
	"github.com/tingxueren/clash-master/pkg/query"
	"github.com/tingxueren/clash-master/pkg/view"
)

// Result is the outcome of one pull, delivered on the executor.
type Result struct {
	Desc     view.Descriptor
	Key      view.Key
	Value    any
	Err      error
	IssuedAt time.Time
	Duration time.Duration
}

// Sink receives pull results.
type Sink interface {
	PullResult(r Result)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(r Result)

// PullResult calls f(r).
func (f SinkFunc) PullResult(r Result) { f(r) }

// Config configures a Scheduler.
type Config struct {
	// Fetcher performs the pulls. Required.
	Fetcher query.Fetcher

	// Executor runs every callback. Required; all Scheduler methods must
	// be called from the same executor.
	Executor loop.Executor

	Clock       clock.Clock
	Granularity time.Duration

	// PushAuthoritative picks the cadence for a view. Nil means never.
	PushAuthoritative func(view.Descriptor) bool

	// Sink receives results. Nil drops them.
	Sink Sink

	Logger      *slog.Logger
	EventLogger synclog.Logger
	Metrics     *metrics.Collector
}

// Job is a snapshot of one scheduled view.
type Job struct {
	Key       view.Key
	Desc      view.Descriptor
	Policy    Policy
	Refs      int
	LastStart time.Time
	InFlight  bool

	// Parked is set after a failure that retrying will not fix; the job
	// then pulls at the slow cadence until a pull succeeds.
	Parked bool
}

type job struct {
	key    string
	desc   view.Descriptor
	policy Policy
	refs   int

	lastStart time.Time
	inflight  bool
	cancel    context.CancelFunc
	forced    bool
	parked    bool

	// seq identifies the current pull; a completion with another seq is
	// stale.
	seq uint64
}

// Scheduler runs recurring pulls on one shared timer.
//
// Scheduler is not safe for concurrent use; it is confined to the executor.
type Scheduler struct {
	config Config
	clock  clock.Clock
	logger *slog.Logger
	events synclog.Logger

	jobs     map[string]*job
	timer    clock.Timer
	timerGen uint64
	seq      uint64
	ticks    uint64
}

// NewScheduler creates a scheduler with no jobs.
func NewScheduler(config Config) *Scheduler {
	if config.Clock == nil {
		config.Clock = clock.WallClock
	}
	if config.Granularity <= 0 {
		config.Granularity = DefaultGranularity
	}
	if config.PushAuthoritative == nil {
		config.PushAuthoritative = func(view.Descriptor) bool { return false }
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Scheduler{
		config: config,
		clock:  config.Clock,
		logger: logger,
		events: synclog.OrNoop(config.EventLogger),
		jobs:   make(map[string]*job),
	}
}

// SetSink replaces the result sink.
func (s *Scheduler) SetSink(sink Sink) {
	s.config.Sink = sink
}

// SetAuthority replaces the authority used to pick the cadence.
func (s *Scheduler) SetAuthority(fn func(view.Descriptor) bool) {
	if fn == nil {
		fn = func(view.Descriptor) bool { return false }
	}
	s.config.PushAuthoritative = fn
}

// Schedule registers a recurring pull for desc and issues the first pull
// right away. Scheduling a key that already has a job adds a reference to
// the existing job; the first policy wins.
func (s *Scheduler) Schedule(desc view.Descriptor, policy Policy) view.Key {
	key := desc.Key()
	ks := key.String()

	if j, ok := s.jobs[ks]; ok {
		j.refs++
		return key
	}

	j := &job{
		key:    ks,
		desc:   desc,
		policy: policy.withDefaults(),
		refs:   1,
	}
	s.jobs[ks] = j
	s.logger.Debug("poll scheduled", "key", ks, "interval", j.policy.Interval)

	s.start(j, s.clock.Now())
	s.arm()
	return key
}

// Unschedule drops one reference to key's job and removes the job when the
// last reference goes. Unknown keys are ignored. It reports whether a job
// was removed.
func (s *Scheduler) Unschedule(key view.Key) bool {
	ks := key.String()
	j, ok := s.jobs[ks]
	if !ok {
		return false
	}
	j.refs--
	if j.refs > 0 {
		return false
	}

	delete(s.jobs, ks)
	if j.cancel != nil {
		j.cancel()
		j.cancel = nil
	}
	s.logger.Debug("poll unscheduled", "key", ks)

	if len(s.jobs) == 0 {
		s.disarm()
	}
	return true
}

// Kick makes key's job pull now, or right after its in-flight pull.
func (s *Scheduler) Kick(key view.Key) bool {
	j, ok := s.jobs[key.String()]
	if !ok {
		return false
	}
	s.kick(j, s.clock.Now())
	return true
}

// KickPrefix kicks every job whose key starts with prefix and returns how
// many were kicked.
func (s *Scheduler) KickPrefix(prefix string) int {
	now := s.clock.Now()
	n := 0
	for _, ks := range s.sortedKeys() {
		if strings.HasPrefix(ks, prefix) {
			s.kick(s.jobs[ks], now)
			n++
		}
	}
	return n
}

func (s *Scheduler) kick(j *job, now time.Time) {
	if j.inflight {
		j.forced = true
		return
	}
	s.start(j, now)
}

// Scheduled returns the keys with a job, sorted.
func (s *Scheduler) Scheduled() []view.Key {
	out := make([]view.Key, 0, len(s.jobs))
	for _, ks := range s.sortedKeys() {
		out = append(out, s.jobs[ks].desc.Key())
	}
	return out
}

// Job returns a snapshot of key's job.
func (s *Scheduler) Job(key view.Key) (Job, bool) {
	j, ok := s.jobs[key.String()]
	if !ok {
		return Job{}, false
	}
	return Job{
		Key:       key,
		Desc:      j.desc,
		Policy:    j.policy,
		Refs:      j.refs,
		LastStart: j.lastStart,
		InFlight:  j.inflight,
		Parked:    j.parked,
	}, true
}

// Len returns the number of jobs.
func (s *Scheduler) Len() int {
	return len(s.jobs)
}

// Ticks returns how many times the shared timer has fired.
func (s *Scheduler) Ticks() uint64 {
	return s.ticks
}

// Armed reports whether the shared timer is running.
func (s *Scheduler) Armed() bool {
	return s.timer != nil
}

// Stop removes every job and stops the timer.
func (s *Scheduler) Stop() {
	for ks, j := range s.jobs {
		if j.cancel != nil {
			j.cancel()
		}
		delete(s.jobs, ks)
	}
	s.disarm()
}

func (s *Scheduler) sortedKeys() []string {
	keys := make([]string, 0, len(s.jobs))
	for ks := range s.jobs {
		keys = append(keys, ks)
	}
	sort.Strings(keys)
	return keys
}

// arm starts the shared timer if it is not running.
func (s *Scheduler) arm() {
	if s.timer != nil || len(s.jobs) == 0 {
		return
	}
	gen := s.timerGen
	s.timer = s.clock.AfterFunc(s.config.Granularity, func() {
		s.config.Executor.Post(func() { s.tick(gen) })
	})
}

func (s *Scheduler) disarm() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.timerGen++
}

// tick starts every due job and re-arms the timer.
func (s *Scheduler) tick(gen uint64) {
	if gen != s.timerGen {
		return
	}
	s.timer = nil
	s.ticks++

	now := s.clock.Now()
	for _, ks := range s.sortedKeys() {
		j := s.jobs[ks]
		if j.inflight {
			continue
		}
		interval := j.policy.interval(j.parked || s.config.PushAuthoritative(j.desc))
		if j.forced || !now.Before(j.lastStart.Add(interval)) {
			s.start(j, now)
		}
	}
	s.arm()
}

// start issues one pull for j.
func (s *Scheduler) start(j *job, now time.Time) {
	s.seq++
	seq := s.seq
	j.seq = seq
	j.inflight = true
	j.forced = false
	j.lastStart = now

	ctx, cancel := context.WithCancel(context.Background())
	j.cancel = cancel

	req := query.NewRequest(j.desc, now)
	fetcher := s.config.Fetcher
	exec := s.config.Executor
	go func() {
		v, err := fetcher.Fetch(ctx, req)
		exec.Post(func() { s.complete(j, seq, now, v, err) })
	}()
}

// complete handles a finished pull on the executor.
func (s *Scheduler) complete(j *job, seq uint64, issued time.Time, v any, err error) {
	d := s.clock.Now().Sub(issued)
	if cur, ok := s.jobs[j.key]; !ok || cur != j || j.seq != seq {
		s.logPull(j, d, "discarded")
		return
	}

	j.inflight = false
	if j.cancel != nil {
		j.cancel()
		j.cancel = nil
	}

	outcome := "ok"
	j.parked = false
	if err != nil {
		outcome = "error"
		j.parked = !query.IsRetryable(err)
		s.logger.Debug("pull failed", "key", j.key, "error", err, "parked", j.parked)
	}
	s.logPull(j, d, outcome)
	s.config.Metrics.Pull(j.desc.Kind.String(), outcome, d)

	if s.config.Sink != nil {
		s.config.Sink.PullResult(Result{
			Desc:     j.desc,
			Key:      j.desc.Key(),
			Value:    v,
			Err:      err,
			IssuedAt: issued,
			Duration: d,
		})
	}

	// The sink may have unscheduled the job.
	if cur, ok := s.jobs[j.key]; ok && cur == j && j.forced {
		s.start(j, s.clock.Now())
	}
}

func (s *Scheduler) logPull(j *job, d time.Duration, outcome string) {
	s.events.Log(synclog.Event{
		Timestamp: s.clock.Now(),
		Backend:   j.desc.Backend,
		Layer:     synclog.LayerSync,
		Category:  synclog.CategoryPull,
		Pull:      &synclog.PullEvent{Key: j.key, Duration: d, Outcome: outcome},
	})
}
