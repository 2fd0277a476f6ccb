package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/juju/clock"

	"github.com/tingxueren/clash-master/pkg/cache"
	"github.com/tingxueren/clash-master/pkg/connection"
	"github.com/tingxueren/clash-master/pkg/fusion"
	"github.com/tingxueren/clash-master/pkg/loop"
	"github.com/tingxueren/clash-master/pkg/poll"
	"github.com/tingxueren/clash-master/pkg/query"
	"github.com/tingxueren/clash-master/pkg/subscription"
	"github.com/tingxueren/clash-master/pkg/view"
)

// stopTimeout bounds the loop work done by Stop and View.Close.
const stopTimeout = 5 * time.Second

// SyncService keeps mounted views current from the push feed and the pull
// API.
type SyncService struct {
	config Config
	clock  clock.Clock
	logger *slog.Logger

	loop     *loop.Loop
	cache    *cache.Cache
	manager  *connection.Manager
	protocol *subscription.Protocol
	sched    *poll.Scheduler
	arbiter  *fusion.Arbiter

	mu       sync.RWMutex
	state    ServiceState
	cancel   context.CancelFunc
	saveDone chan struct{}

	// Loop-confined.
	views map[uint64]*View
}

// NewSyncService wires the sync components. Nothing runs until Start.
func NewSyncService(config Config) (*SyncService, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if config.Clock == nil {
		config.Clock = clock.WallClock
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if config.Fetcher == nil {
		config.Fetcher = query.FetcherFunc(func(context.Context, query.Request) (any, error) {
			return nil, fusion.ErrNoDataPath
		})
	}

	s := &SyncService{
		config: config,
		clock:  config.Clock,
		logger: config.Logger,
		loop:   loop.New(config.Logger.With("component", "loop")),
		views:  make(map[uint64]*View),
	}

	s.cache = cache.New(cache.Config{
		Clock:       config.Clock,
		Freshness:   config.Freshness,
		Logger:      config.Logger.With("component", "cache"),
		EventLogger: config.EventLogger,
		Metrics:     config.Metrics,
	})
	s.manager = connection.NewManager(connection.Config{
		Dialer:        config.Dialer,
		Executor:      s.loop,
		Clock:         config.Clock,
		Backoff:       config.Backoff,
		ProbeInterval: config.ProbeInterval,
		DialTimeout:   config.DialTimeout,
		Logger:        config.Logger.With("component", "connection"),
		EventLogger:   config.EventLogger,
		Metrics:       config.Metrics,
	})
	s.protocol = subscription.NewProtocol(subscription.Config{
		Sender:      s.manager,
		Clock:       config.Clock,
		Logger:      config.Logger.With("component", "subscription"),
		EventLogger: config.EventLogger,
	})
	s.sched = poll.NewScheduler(poll.Config{
		Fetcher:     config.Fetcher,
		Executor:    s.loop,
		Clock:       config.Clock,
		Granularity: config.Granularity,
		Logger:      config.Logger.With("component", "poll"),
		EventLogger: config.EventLogger,
		Metrics:     config.Metrics,
	})
	s.arbiter = fusion.NewArbiter(fusion.Config{
		Link:         s.manager,
		Publisher:    s.protocol,
		Puller:       s.sched,
		Cache:        s.cache,
		Policy:       config.Policy,
		PullFallback: config.PullFallback,
		OnIdle:       s.handleIdle,
		Clock:        config.Clock,
		Logger:       config.Logger.With("component", "fusion"),
		EventLogger:  config.EventLogger,
		Metrics:      config.Metrics,
	})
	s.sched.SetSink(s.arbiter)
	s.sched.SetAuthority(s.arbiter.IsPushAuthoritative)
	s.manager.SetEvents(connection.Events{
		Connected:    s.arbiter.HandleConnected,
		Disconnected: s.arbiter.HandleDisconnected,
		Stats:        s.arbiter.HandleStats,
	})
	return s, nil
}

// Start restores the persisted cache, starts the loop and, unless
// DisableWhenIdle is set, enables the push connection.
func (s *SyncService) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.state = StateStarting
	s.mu.Unlock()

	if s.config.Store != nil {
		s.restore()
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	go func() {
		if err := s.loop.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Warn("sync loop stopped", "error", err)
		}
	}()

	if !s.config.DisableWhenIdle {
		if err := s.loop.Do(ctx, s.manager.Enable); err != nil {
			cancel()
			<-s.loop.Stopped()
			s.setState(StateStopped)
			return err
		}
	}

	if s.config.Store != nil && s.config.SaveInterval > 0 {
		s.saveDone = make(chan struct{})
		go s.saveLoop(runCtx)
	}

	s.setState(StateRunning)
	s.logger.Info("sync service started",
		"disableWhenIdle", s.config.DisableWhenIdle,
		"pullFallback", s.config.PullFallback)
	return nil
}

// Stop closes every view, takes the connection down, saves the cache and
// stops the loop.
func (s *SyncService) Stop() error {
	s.mu.Lock()
	if s.state != StateRunning {
		s.mu.Unlock()
		return ErrNotStarted
	}
	s.state = StateStopping
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	err := s.loop.Do(ctx, func() {
		for _, v := range s.views {
			v.close()
		}
		s.arbiter.Stop()
		s.sched.Stop()
		s.manager.Disable()
	})
	if err != nil {
		s.logger.Warn("sync loop did not drain", "error", err)
	}

	s.cancel()
	<-s.loop.Stopped()
	if s.saveDone != nil {
		<-s.saveDone
	}
	if s.config.Store != nil {
		s.save()
	}

	s.setState(StateStopped)
	s.logger.Info("sync service stopped")
	return nil
}

// State returns the service state.
func (s *SyncService) State() ServiceState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *SyncService) setState(state ServiceState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

func (s *SyncService) running() bool {
	return s.State() == StateRunning
}

// SubscribeToView mounts desc. The returned view's Updates channel already
// holds the initial state.
func (s *SyncService) SubscribeToView(ctx context.Context, desc view.Descriptor) (*View, error) {
	if !s.running() {
		return nil, ErrNotStarted
	}
	if err := desc.Validate(); err != nil {
		return nil, err
	}

	v := newView(s, desc)
	var mountErr error
	err := s.loop.Do(ctx, func() {
		h, err := s.arbiter.Mount(desc, v.publish)
		if err != nil {
			mountErr = err
			return
		}
		v.handle = h
		v.id = h.ID()
		s.views[h.ID()] = v
	})
	if err != nil {
		// The mount may still run after ctx ended.
		s.loop.Post(v.close)
		return nil, err
	}
	if mountErr != nil {
		return nil, mountErr
	}
	return v, nil
}

// Views returns the open views in mount order.
func (s *SyncService) Views(ctx context.Context) ([]*View, error) {
	if !s.running() {
		return nil, ErrNotStarted
	}
	var out []*View
	err := s.loop.Do(ctx, func() {
		out = make([]*View, 0, len(s.views))
		for _, v := range s.views {
			out = append(out, v)
		}
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out, nil
}

// ForceRefresh drops cached entries whose key starts with prefix and pulls
// the affected views again. An empty prefix refreshes everything.
func (s *SyncService) ForceRefresh(ctx context.Context, prefix string) (int, error) {
	if !s.running() {
		return 0, ErrNotStarted
	}
	var n int
	err := s.loop.Do(ctx, func() { n = s.arbiter.ForceRefresh(prefix) })
	return n, err
}

// Status reports the service and connection state.
func (s *SyncService) Status(ctx context.Context) (Status, error) {
	st := Status{State: s.State(), CacheEntries: s.cache.Len()}
	if st.State != StateRunning {
		return st, nil
	}
	err := s.loop.Do(ctx, func() {
		st.Connection = s.manager.Status()
		st.Views = len(s.views)
		st.Scheduled = s.sched.Len()
		_, st.Subscribed = s.protocol.Current()
		st.Revision = s.protocol.Revision()
	})
	return st, err
}

// Cache returns the query cache. Reads are safe from any goroutine.
func (s *SyncService) Cache() *cache.Cache {
	return s.cache
}

// handleIdle runs on the loop when the arbiter becomes idle or busy.
func (s *SyncService) handleIdle(idle bool) {
	if !s.config.DisableWhenIdle {
		return
	}
	if idle {
		s.logger.Debug("no mounted views, disabling push connection")
		s.manager.Disable()
		return
	}
	s.logger.Debug("view mounted, enabling push connection")
	s.manager.Enable()
}

func (s *SyncService) restore() {
	entries, skipped, err := s.config.Store.Load()
	if err != nil {
		s.logger.Warn("failed to load cache snapshot", "error", err)
		return
	}
	n := s.cache.Restore(entries)
	s.logger.Info("cache restored", "entries", n, "skipped", skipped)
}

func (s *SyncService) save() {
	entries := s.cache.Entries()
	if err := s.config.Store.Save(entries); err != nil {
		s.logger.Warn("failed to save cache snapshot", "error", err)
		return
	}
	s.logger.Debug("cache saved", "entries", len(entries))
}

func (s *SyncService) saveLoop(ctx context.Context) {
	defer close(s.saveDone)
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.clock.After(s.config.SaveInterval):
			s.save()
		}
	}
}
