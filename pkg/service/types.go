package service

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/juju/clock"

	"github.com/tingxueren/clash-master/pkg/cache"
	"github.com/tingxueren/clash-master/pkg/connection"
	synclog "github.com/tingxueren/clash-master/pkg/log"
	"github.com/tingxueren/clash-master/pkg/metrics"
	"github.com/tingxueren/clash-master/pkg/persistence"
	"github.com/tingxueren/clash-master/pkg/poll"
	"github.com/tingxueren/clash-master/pkg/query"
	"github.com/tingxueren/clash-master/pkg/transport"
)

// Service errors.
var (
	ErrNotStarted     = errors.New("service not started")
	ErrAlreadyStarted = errors.New("service already started")
	ErrInvalidConfig  = errors.New("invalid configuration")
	ErrViewClosed     = errors.New("view closed")
)

// ServiceState represents the service state.
type ServiceState uint8

const (
	// StateIdle - service created but not started.
	StateIdle ServiceState = iota

	// StateStarting - service is starting up.
	StateStarting

	// StateRunning - service is running normally.
	StateRunning

	// StateStopping - service is shutting down.
	StateStopping

	// StateStopped - service has stopped. A stopped service cannot be
	// restarted.
	StateStopped
)

// String returns the state name.
func (s ServiceState) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateStarting:
		return "STARTING"
	case StateRunning:
		return "RUNNING"
	case StateStopping:
		return "STOPPING"
	case StateStopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}

// Config configures a SyncService.
type Config struct {
	// Dialer opens the push connection. Required.
	Dialer transport.Dialer

	// Fetcher performs pulls. Required when PullFallback is set.
	Fetcher query.Fetcher

	Clock clock.Clock

	Backoff       connection.BackoffConfig
	ProbeInterval time.Duration
	DialTimeout   time.Duration

	Policy      poll.Policy
	Granularity time.Duration
	Freshness   time.Duration

	// PullFallback schedules pulls for every view.
	PullFallback bool

	// DisableWhenIdle keeps the push connection down while no view is
	// mounted.
	DisableWhenIdle bool

	// Store, if set, restores the cache at Start and saves it every
	// SaveInterval and at Stop.
	Store        *persistence.Store
	SaveInterval time.Duration

	Logger      *slog.Logger
	EventLogger synclog.Logger
	Metrics     *metrics.Collector
}

// DefaultConfig returns a configuration with default tuning and no
// transport.
func DefaultConfig() Config {
	return Config{
		Backoff:       connection.DefaultBackoffConfig(),
		ProbeInterval: connection.DefaultProbeInterval,
		DialTimeout:   connection.DefaultDialTimeout,
		Policy:        poll.DefaultPolicy(),
		Granularity:   poll.DefaultGranularity,
		Freshness:     cache.DefaultFreshness,
		PullFallback:  true,
		SaveInterval:  time.Minute,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Dialer == nil {
		return fmt.Errorf("%w: dialer is required", ErrInvalidConfig)
	}
	if c.PullFallback && c.Fetcher == nil {
		return fmt.Errorf("%w: fetcher is required for pull fallback", ErrInvalidConfig)
	}
	if c.Store != nil && c.SaveInterval < 0 {
		return fmt.Errorf("%w: negative save interval", ErrInvalidConfig)
	}
	return nil
}

// Status is a point-in-time view of the service.
type Status struct {
	State        ServiceState
	Connection   connection.Status
	Views        int
	Scheduled    int
	CacheEntries int
	Subscribed   bool
	Revision     uint64
}
